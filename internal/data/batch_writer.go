package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/feedsync/feedsync/internal/data/pgxutil"
)

// Row is one transformed record keyed by column name, ready for upsert.
type Row map[string]any

// MergeFunc resolves two rows that share a conflict key within a single batch.
// It returns the row to keep. Without a merge rule the later row wins.
type MergeFunc func(existing, incoming Row) Row

// SumColumns returns a merge rule that sums the named numeric columns and takes
// the incoming value for everything else. Used for quantity-bearing feeds where
// duplicate natural keys carry legitimate partial quantities.
func SumColumns(cols ...string) MergeFunc {
	summed := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		summed[c] = struct{}{}
	}
	return func(existing, incoming Row) Row {
		out := make(Row, len(incoming))
		for k, v := range incoming {
			out[k] = v
		}
		for c := range summed {
			out[c] = addNumeric(existing[c], incoming[c])
		}
		return out
	}
}

func addNumeric(a, b any) any {
	af, aok := toFloat64(a)
	bf, bok := toFloat64(b)
	switch {
	case aok && bok:
		if ai, iok := a.(int64); iok {
			if bi, iok2 := b.(int64); iok2 {
				return ai + bi
			}
		}
		return af + bf
	case aok:
		return a
	default:
		return b
	}
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}

// UpsertSpec describes the destination table and conflict resolution for a feed.
type UpsertSpec struct {
	Table        string
	Columns      []string
	ConflictCols []string
	Merge        MergeFunc
}

// Validate checks the spec is internally consistent.
func (s *UpsertSpec) Validate() error {
	if strings.TrimSpace(s.Table) == "" {
		return errors.New("upsert table is required")
	}
	if len(s.Columns) == 0 {
		return errors.New("upsert columns are required")
	}
	if len(s.ConflictCols) == 0 {
		return errors.New("upsert conflict columns are required")
	}
	cols := make(map[string]struct{}, len(s.Columns))
	for _, c := range s.Columns {
		cols[c] = struct{}{}
	}
	for _, c := range s.ConflictCols {
		if _, ok := cols[c]; !ok {
			return fmt.Errorf("conflict column %s is not in column list", c)
		}
	}
	return nil
}

// CommitResult reports what Apply did with a record set.
type CommitResult struct {
	// Committed is the number of rows upserted into the table.
	Committed int
	// Dropped counts rows skipped because their referenced parent does not
	// exist yet. They succeed on a later run once the parent feed catches up.
	Dropped int
	// Deduped counts rows merged away by the in-batch conflict-key dedup.
	Deduped int
	// Batches is the number of chunked statements issued.
	Batches int
}

// BatchWriter applies transformed rows to storage in bounded chunks using
// insert-or-update-on-conflict statements.
//
// A chunk that fails with a referential-integrity violation is not discarded:
// it is replayed row-by-row, committing every row whose parent exists and
// counting (not erroring) the ones that don't. Smaller chunk sizes trade
// throughput for a smaller retry blast-radius.
type BatchWriter struct {
	DB        *sql.DB
	BatchSize int
	Logger    *slog.Logger
}

const defaultBatchSize = 500

// NewBatchWriter constructs a BatchWriter with the given chunk size.
func NewBatchWriter(db *sql.DB, batchSize int, logger *slog.Logger) *BatchWriter {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchWriter{DB: db, BatchSize: batchSize, Logger: logger}
}

// Apply deduplicates rows by conflict key, splits them into bounded chunks and
// upserts each chunk. Re-applying the same rows is idempotent beyond timestamp
// updates, which is what makes cursor re-processing after a crash safe.
func (w *BatchWriter) Apply(ctx context.Context, spec UpsertSpec, rows []Row) (CommitResult, error) {
	var result CommitResult
	if err := spec.Validate(); err != nil {
		return result, err
	}
	if len(rows) == 0 {
		return result, nil
	}

	deduped := dedupeRows(spec, rows)
	result.Deduped = len(rows) - len(deduped)

	for start := 0; start < len(deduped); start += w.BatchSize {
		end := min(start+w.BatchSize, len(deduped))
		chunk := deduped[start:end]
		result.Batches++

		committed, dropped, err := w.applyChunk(ctx, spec, chunk)
		if err != nil {
			return result, err
		}
		result.Committed += committed
		result.Dropped += dropped
	}
	return result, nil
}

// applyChunk upserts one chunk, falling back to row-by-row salvage when the
// chunk statement hits a foreign-key violation.
func (w *BatchWriter) applyChunk(ctx context.Context, spec UpsertSpec, chunk []Row) (int, int, error) {
	query, args := buildUpsert(spec, chunk)

	execErr := pgxutil.WithPgxConn(ctx, w.DB, func(conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, query, args...)
		return err
	})
	if execErr == nil {
		return len(chunk), 0, nil
	}

	if !isForeignKeyViolation(execErr) {
		return 0, 0, fmt.Errorf("upsert chunk into %s: %w", spec.Table, execErr)
	}

	w.Logger.WarnContext(ctx, "chunk hit referential violation, salvaging row-by-row",
		"table", spec.Table,
		"chunk_size", len(chunk),
	)
	return w.salvageChunk(ctx, spec, chunk)
}

// salvageChunk replays a failed chunk one row at a time. Rows whose referenced
// parent is missing are counted and skipped; any other failure aborts.
func (w *BatchWriter) salvageChunk(ctx context.Context, spec UpsertSpec, chunk []Row) (int, int, error) {
	var committed, dropped int
	for _, row := range chunk {
		query, args := buildUpsert(spec, []Row{row})
		err := pgxutil.WithPgxConn(ctx, w.DB, func(conn *pgx.Conn) error {
			_, execErr := conn.Exec(ctx, query, args...)
			return execErr
		})
		switch {
		case err == nil:
			committed++
		case isForeignKeyViolation(err):
			dropped++
		default:
			return committed, dropped, fmt.Errorf("salvage row into %s: %w", spec.Table, err)
		}
	}
	if dropped > 0 {
		w.Logger.InfoContext(ctx, "salvage complete",
			"table", spec.Table,
			"committed", committed,
			"dropped", dropped,
		)
	}
	return committed, dropped, nil
}

// dedupeRows collapses rows sharing a conflict key, applying the merge rule.
// Order of first appearance is preserved so chunk boundaries stay stable.
func dedupeRows(spec UpsertSpec, rows []Row) []Row {
	index := make(map[string]int, len(rows))
	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		key := conflictKey(spec.ConflictCols, row)
		if pos, seen := index[key]; seen {
			if spec.Merge != nil {
				out[pos] = spec.Merge(out[pos], row)
			} else {
				out[pos] = row
			}
			continue
		}
		index[key] = len(out)
		out = append(out, row)
	}
	return out
}

func conflictKey(cols []string, row Row) string {
	var b strings.Builder
	for i, c := range cols {
		if i > 0 {
			b.WriteByte(0)
		}
		fmt.Fprintf(&b, "%v", row[c])
	}
	return b.String()
}

// buildUpsert renders a multi-row INSERT ... ON CONFLICT statement. Column
// identifiers come from code, not user input, but are still sanitized.
func buildUpsert(spec UpsertSpec, chunk []Row) (string, []any) {
	cols := make([]string, len(spec.Columns))
	for i, c := range spec.Columns {
		cols[i] = pgx.Identifier{c}.Sanitize()
	}
	conflict := make([]string, len(spec.ConflictCols))
	for i, c := range spec.ConflictCols {
		conflict[i] = pgx.Identifier{c}.Sanitize()
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgx.Identifier{spec.Table}.Sanitize())
	b.WriteString(" (")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(chunk)*len(spec.Columns))
	for i, row := range chunk {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j, c := range spec.Columns {
			if j > 0 {
				b.WriteString(", ")
			}
			args = append(args, row[c])
			fmt.Fprintf(&b, "$%d", len(args))
		}
		b.WriteByte(')')
	}

	b.WriteString(" ON CONFLICT (")
	b.WriteString(strings.Join(conflict, ", "))
	b.WriteByte(')')

	updates := updateColumns(spec)
	if len(updates) == 0 {
		b.WriteString(" DO NOTHING")
		return b.String(), args
	}

	b.WriteString(" DO UPDATE SET ")
	for i, c := range updates {
		if i > 0 {
			b.WriteString(", ")
		}
		ident := pgx.Identifier{c}.Sanitize()
		b.WriteString(ident)
		b.WriteString(" = EXCLUDED.")
		b.WriteString(ident)
	}
	return b.String(), args
}

// updateColumns returns the non-conflict columns rewritten on key match.
func updateColumns(spec UpsertSpec) []string {
	conflict := make(map[string]struct{}, len(spec.ConflictCols))
	for _, c := range spec.ConflictCols {
		conflict[c] = struct{}{}
	}
	var out []string
	for _, c := range spec.Columns {
		if _, isKey := conflict[c]; !isKey {
			out = append(out, c)
		}
	}
	return out
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation
}
