package data

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func widgetSpec() UpsertSpec {
	return UpsertSpec{
		Table:        "widgets",
		Columns:      []string{"id", "name", "qty"},
		ConflictCols: []string{"id"},
	}
}

func TestUpsertSpec_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*UpsertSpec)
		wantErr string
	}{
		{name: "valid", mutate: func(*UpsertSpec) {}},
		{
			name:    "missing table",
			mutate:  func(s *UpsertSpec) { s.Table = "  " },
			wantErr: "table is required",
		},
		{
			name:    "missing columns",
			mutate:  func(s *UpsertSpec) { s.Columns = nil },
			wantErr: "columns are required",
		},
		{
			name:    "missing conflict columns",
			mutate:  func(s *UpsertSpec) { s.ConflictCols = nil },
			wantErr: "conflict columns are required",
		},
		{
			name:    "conflict column not in columns",
			mutate:  func(s *UpsertSpec) { s.ConflictCols = []string{"missing"} },
			wantErr: "not in column list",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := widgetSpec()
			tt.mutate(&spec)
			err := spec.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDedupeRows_LastWriteWinsByDefault(t *testing.T) {
	spec := widgetSpec()
	rows := []Row{
		{"id": int64(1), "name": "first", "qty": int64(1)},
		{"id": int64(2), "name": "other", "qty": int64(5)},
		{"id": int64(1), "name": "second", "qty": int64(2)},
	}

	out := dedupeRows(spec, rows)

	require.Len(t, out, 2)
	// First-appearance order is preserved; the later duplicate replaces in place.
	assert.Equal(t, "second", out[0]["name"])
	assert.Equal(t, int64(2), out[0]["qty"])
	assert.Equal(t, "other", out[1]["name"])
}

func TestDedupeRows_MergeRuleApplies(t *testing.T) {
	spec := widgetSpec()
	spec.Merge = SumColumns("qty")
	rows := []Row{
		{"id": int64(1), "name": "a", "qty": int64(3)},
		{"id": int64(1), "name": "b", "qty": int64(4)},
		{"id": int64(1), "name": "c", "qty": int64(5)},
	}

	out := dedupeRows(spec, rows)

	require.Len(t, out, 1)
	assert.Equal(t, int64(12), out[0]["qty"])
	// Non-summed columns take the incoming value.
	assert.Equal(t, "c", out[0]["name"])
}

func TestSumColumns_MixedNumericTypes(t *testing.T) {
	merge := SumColumns("spend")

	out := merge(
		Row{"spend": 1.5, "campaign": "x"},
		Row{"spend": 2.25, "campaign": "y"},
	)
	assert.InDelta(t, 3.75, out["spend"].(float64), 0.001)

	out = merge(Row{"spend": int64(2)}, Row{"spend": int64(3)})
	assert.Equal(t, int64(5), out["spend"])

	// A missing side passes the present value through.
	out = merge(Row{}, Row{"spend": 7.0})
	assert.InDelta(t, 7.0, out["spend"].(float64), 0.001)
}

func TestConflictKey_MultiColumn(t *testing.T) {
	cols := []string{"campaign_id", "spend_date"}
	a := conflictKey(cols, Row{"campaign_id": int64(7), "spend_date": "2024-01-01"})
	b := conflictKey(cols, Row{"campaign_id": int64(7), "spend_date": "2024-01-02"})
	c := conflictKey(cols, Row{"campaign_id": int64(7), "spend_date": "2024-01-01"})

	assert.NotEqual(t, a, b)
	assert.Equal(t, a, c)
}

func TestBuildUpsert_Statement(t *testing.T) {
	spec := widgetSpec()
	chunk := []Row{
		{"id": int64(1), "name": "a", "qty": int64(2)},
		{"id": int64(2), "name": "b", "qty": int64(3)},
	}

	query, args := buildUpsert(spec, chunk)

	assert.Contains(t, query, `INSERT INTO "widgets" ("id", "name", "qty") VALUES `)
	assert.Contains(t, query, "($1, $2, $3), ($4, $5, $6)")
	assert.Contains(t, query, `ON CONFLICT ("id")`)
	assert.Contains(t, query, `DO UPDATE SET "name" = EXCLUDED."name", "qty" = EXCLUDED."qty"`)
	assert.Equal(t, []any{int64(1), "a", int64(2), int64(2), "b", int64(3)}, args)
}

func TestBuildUpsert_AllColumnsAreKeys(t *testing.T) {
	spec := UpsertSpec{
		Table:        "pairs",
		Columns:      []string{"a", "b"},
		ConflictCols: []string{"a", "b"},
	}
	query, _ := buildUpsert(spec, []Row{{"a": 1, "b": 2}})
	assert.Contains(t, query, "DO NOTHING")
}

func TestBatchWriter_Apply_EmptyAndInvalid(t *testing.T) {
	w := NewBatchWriter(nil, 0, nil)
	assert.Equal(t, defaultBatchSize, w.BatchSize)

	result, err := w.Apply(context.Background(), widgetSpec(), nil)
	require.NoError(t, err)
	assert.Zero(t, result.Committed)
	assert.Zero(t, result.Batches)

	_, err = w.Apply(context.Background(), UpsertSpec{}, []Row{{"id": 1}})
	require.Error(t, err)
}

func TestBatchWriter_Apply_Integration(t *testing.T) {
	db := setupRepoDB(t)
	w := NewBatchWriter(db, 2, nil)
	ctx := context.Background()

	spec := UpsertSpec{
		Table:        "ns_transactions",
		Columns:      []string{"ns_transaction_id", "tran_id", "tran_date", "foreign_total"},
		ConflictCols: []string{"ns_transaction_id"},
	}

	rows := make([]Row, 0, 5)
	for i := 1; i <= 5; i++ {
		rows = append(rows, Row{
			"ns_transaction_id": int64(i),
			"tran_id":           fmt.Sprintf("SO-%d", i),
			"tran_date":         "2024-01-02",
			"foreign_total":     float64(i) * 10,
		})
	}

	t.Run("chunked upsert", func(t *testing.T) {
		result, err := w.Apply(ctx, spec, rows)
		require.NoError(t, err)
		assert.Equal(t, 5, result.Committed)
		assert.Equal(t, 3, result.Batches) // chunk size 2 over 5 rows
		assert.Zero(t, result.Dropped)

		var count int
		require.NoError(t, db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM ns_transactions").Scan(&count))
		assert.Equal(t, 5, count)
	})

	t.Run("reapply is idempotent", func(t *testing.T) {
		result, err := w.Apply(ctx, spec, rows)
		require.NoError(t, err)
		assert.Equal(t, 5, result.Committed)

		var count int
		require.NoError(t, db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM ns_transactions").Scan(&count))
		assert.Equal(t, 5, count)
	})

	t.Run("conflict updates non-key columns", func(t *testing.T) {
		updated := []Row{{
			"ns_transaction_id": int64(1),
			"tran_id":           "SO-1-amended",
			"tran_date":         "2024-01-03",
			"foreign_total":     99.5,
		}}
		_, err := w.Apply(ctx, spec, updated)
		require.NoError(t, err)

		var tranID string
		require.NoError(t, db.QueryRowContext(ctx,
			"SELECT tran_id FROM ns_transactions WHERE ns_transaction_id = 1").Scan(&tranID))
		assert.Equal(t, "SO-1-amended", tranID)
	})
}

func TestBatchWriter_Apply_SalvagesForeignKeyViolations(t *testing.T) {
	db := setupRepoDB(t)
	w := NewBatchWriter(db, 10, nil)
	ctx := context.Background()

	// Only parent 1 exists; line items for parent 999 must be dropped, not fatal.
	parent := UpsertSpec{
		Table:        "ns_transactions",
		Columns:      []string{"ns_transaction_id", "tran_id", "tran_date", "foreign_total"},
		ConflictCols: []string{"ns_transaction_id"},
	}
	_, err := w.Apply(ctx, parent, []Row{{
		"ns_transaction_id": int64(1), "tran_id": "SO-1",
		"tran_date": "2024-01-02", "foreign_total": 10.0,
	}})
	require.NoError(t, err)

	lines := UpsertSpec{
		Table:        "ns_line_items",
		Columns:      []string{"ns_transaction_id", "ns_line_id", "sku", "quantity"},
		ConflictCols: []string{"ns_transaction_id", "ns_line_id"},
	}
	result, err := w.Apply(ctx, lines, []Row{
		{"ns_transaction_id": int64(1), "ns_line_id": int64(10), "sku": "SKU-A", "quantity": int64(2)},
		{"ns_transaction_id": int64(999), "ns_line_id": int64(11), "sku": "SKU-B", "quantity": int64(1)},
		{"ns_transaction_id": int64(1), "ns_line_id": int64(12), "sku": "SKU-C", "quantity": int64(3)},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Committed)
	assert.Equal(t, 1, result.Dropped)

	var count int
	require.NoError(t, db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM ns_line_items").Scan(&count))
	assert.Equal(t, 2, count)
}
