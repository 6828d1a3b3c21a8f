package netsuite

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/feedsync/feedsync/internal/data"
	"github.com/feedsync/feedsync/internal/domain/model"
	"github.com/feedsync/feedsync/internal/service"
)

// Job names registered by this integration.
const (
	JobTransactions     = "netsuite_transactions"
	JobTransactionLines = "netsuite_transaction_lines"
)

// Customer entities excluded from the wholesale feeds: the D2C storefront
// and the retail channel, which are reported elsewhere.
var excludedCustomerIDs = []int64{493, 2501}

// Feeds builds the job definitions backed by the SuiteQL API. The local
// database handle is only used for coverage queries over already-synced rows.
type Feeds struct {
	client *Client
	db     *sql.DB
}

// NewFeeds wires a SuiteQL client and the reporting database into feed builders.
func NewFeeds(client *Client, db *sql.DB) *Feeds {
	return &Feeds{client: client, db: db}
}

// wholesaleCustomerFilter restricts feeds to business customers, excluding
// the channels tracked outside the wholesale tables.
func wholesaleCustomerFilter() string {
	ids := make([]string, len(excludedCustomerIDs))
	for i, id := range excludedCustomerIDs {
		ids[i] = strconv.FormatInt(id, 10)
	}
	return "SELECT c.id FROM customer c WHERE c.isperson = 'F' AND c.id NOT IN (" +
		strings.Join(ids, ", ") + ")"
}

// Transactions returns the wholesale transaction header feed. Pagination is
// keyset on the transaction id; OFFSET misbehaves in SuiteQL once joins are
// involved, and a moving source makes offsets skip or repeat rows anyway.
func (f *Feeds) Transactions(spec model.JobSpec) service.JobDefinition {
	return service.JobDefinition{
		Name:      JobTransactions,
		Fetch:     f.fetchTransactions,
		Transform: transformTransaction,
		Upsert: data.UpsertSpec{
			Table: "ns_transactions",
			Columns: []string{
				"ns_transaction_id", "tran_id", "transaction_type", "tran_date",
				"foreign_total", "status", "ns_customer_id",
			},
			ConflictCols: []string{"ns_transaction_id"},
		},
		PageSize:  spec.PageSize,
		Preflight: f.client.Ping,
	}
}

// TransactionLines returns the wholesale line item feed. Child rows can land
// before their parent when the two feeds interleave, so the committer's
// foreign-key salvage handles the stragglers and the coverage check flags
// runs where too many parents are still childless.
func (f *Feeds) TransactionLines(spec model.JobSpec) service.JobDefinition {
	return service.JobDefinition{
		Name:      JobTransactionLines,
		Fetch:     f.fetchTransactionLines,
		Transform: transformTransactionLine,
		Upsert: data.UpsertSpec{
			Table: "ns_line_items",
			Columns: []string{
				"ns_transaction_id", "ns_line_id", "ns_item_id", "sku",
				"quantity", "rate", "net_amount", "foreign_amount", "item_type",
			},
			ConflictCols: []string{"ns_transaction_id", "ns_line_id"},
		},
		PageSize:          spec.PageSize,
		Preflight:         f.client.Ping,
		Coverage:          f.lineItemCoverage,
		CoverageThreshold: spec.CoverageThreshold,
	}
}

func (f *Feeds) fetchTransactions(ctx context.Context, cursor int64, pageSize int) ([]service.SourceRecord, error) {
	query := fmt.Sprintf(`
SELECT
    t.id as transaction_id,
    t.tranid,
    t.type as transaction_type,
    t.trandate,
    t.foreigntotal as transaction_total,
    t.status,
    t.entity as customer_id
FROM transaction t
WHERE t.entity IN (%s)
AND t.type IN ('CashSale', 'CustInvc')
AND t.id > %d
ORDER BY t.id
FETCH NEXT %d ROWS ONLY`, wholesaleCustomerFilter(), cursor, pageSize)

	items, err := f.client.SuiteQL(ctx, query)
	if err != nil {
		return nil, err
	}
	return keyedRecords(items, "transaction_id")
}

func (f *Feeds) fetchTransactionLines(ctx context.Context, cursor int64, pageSize int) ([]service.SourceRecord, error) {
	query := fmt.Sprintf(`
SELECT
    t.id as transaction_id,
    tl.id as line_id,
    tl.item as item_id,
    BUILTIN.DF(tl.item) as sku,
    tl.quantity,
    tl.rate,
    tl.netamount,
    tl.foreignamount,
    tl.itemtype
FROM transactionline tl
JOIN transaction t ON tl.transaction = t.id
WHERE t.entity IN (%s)
AND t.type IN ('CashSale', 'CustInvc')
AND tl.mainline = 'F'
AND tl.item IS NOT NULL
AND tl.id > %d
ORDER BY tl.id
FETCH NEXT %d ROWS ONLY`, wholesaleCustomerFilter(), cursor, pageSize)

	items, err := f.client.SuiteQL(ctx, query)
	if err != nil {
		return nil, err
	}
	return keyedRecords(items, "line_id")
}

// keyedRecords extracts the pagination key from each item. An item missing
// its key is malformed source data and fails the run.
func keyedRecords(items []map[string]any, keyField string) ([]service.SourceRecord, error) {
	records := make([]service.SourceRecord, 0, len(items))
	for _, item := range items {
		key, ok := asInt64(item[keyField])
		if !ok {
			return nil, fmt.Errorf("item missing %s: %v", keyField, item[keyField])
		}
		records = append(records, service.SourceRecord{Key: key, Raw: item})
	}
	return records, nil
}

func transformTransaction(raw any) (data.Row, error) {
	item, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected record type %T", raw)
	}
	id, ok := asInt64(item["transaction_id"])
	if !ok {
		return nil, fmt.Errorf("invalid transaction_id: %v", item["transaction_id"])
	}
	customerID, _ := asInt64(item["customer_id"])

	return data.Row{
		"ns_transaction_id": id,
		"tran_id":           asString(item["tranid"]),
		"transaction_type":  asString(item["transaction_type"]),
		"tran_date":         nullableString(item["trandate"]),
		"foreign_total":     nullableFloat(item["transaction_total"]),
		"status":            nullableString(item["status"]),
		"ns_customer_id":    customerID,
	}, nil
}

func transformTransactionLine(raw any) (data.Row, error) {
	item, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected record type %T", raw)
	}
	lineID, ok := asInt64(item["line_id"])
	if !ok {
		return nil, fmt.Errorf("invalid line_id: %v", item["line_id"])
	}
	tranID, ok := asInt64(item["transaction_id"])
	if !ok {
		return nil, fmt.Errorf("invalid transaction_id: %v", item["transaction_id"])
	}

	sku := asString(item["sku"])
	if sku == "" {
		sku = "UNKNOWN"
	}
	quantity, _ := asInt64(item["quantity"])
	itemID, _ := asInt64(item["item_id"])

	return data.Row{
		"ns_line_id":        lineID,
		"ns_transaction_id": tranID,
		"ns_item_id":        itemID,
		"sku":               sku,
		"quantity":          quantity,
		"rate":              nullableFloat(item["rate"]),
		"net_amount":        nullableFloat(item["netamount"]),
		"foreign_amount":    nullableFloat(item["foreignamount"]),
		"item_type":         nullableString(item["itemtype"]),
	}, nil
}

// lineItemCoverage reports the fraction of synced transactions that have at
// least one line item. An empty transaction table counts as full coverage.
func (f *Feeds) lineItemCoverage(ctx context.Context) (float64, error) {
	const query = `
SELECT CASE WHEN COUNT(*) = 0 THEN 1.0
       ELSE COUNT(*) FILTER (
           WHERE EXISTS (
               SELECT 1 FROM ns_line_items li
               WHERE li.ns_transaction_id = t.ns_transaction_id
           )
       )::float / COUNT(*)
       END
FROM ns_transactions t`

	var coverage float64
	if err := f.db.QueryRowContext(ctx, query).Scan(&coverage); err != nil {
		return 0, fmt.Errorf("line item coverage query: %w", err)
	}
	return coverage, nil
}

// SuiteQL returns numbers as JSON strings; tolerate both forms.
func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func nullableString(v any) any {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return nil
}

func nullableFloat(v any) any {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return nil
		}
		return parsed
	default:
		return nil
	}
}
