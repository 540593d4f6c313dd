package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finbase/b3ingest/internal/csv"
)

// DefaultBatchSize is the chunk size for bulk inserts when the caller passes
// a non-positive value.
const DefaultBatchSize = 500

// PostgresContentStore is the pgx-backed content store.
type PostgresContentStore struct {
	pool *pgxpool.Pool
}

// NewPostgresContentStore creates a content store on an existing pool.
func NewPostgresContentStore(pool *pgxpool.Pool) *PostgresContentStore {
	return &PostgresContentStore{pool: pool}
}

// EnsureSchema creates the file_contents table if it does not exist.
func (s *PostgresContentStore) EnsureSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS file_contents (
		id BIGSERIAL PRIMARY KEY,
		"RptDt" TEXT,
		"TckrSymb" TEXT,
		"MktNm" TEXT,
		"SctyCtgyNm" TEXT,
		"ISIN" TEXT,
		"CrpnNm" TEXT
	);`

	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create file_contents table: %w", err)
	}

	// Covering the two search filters avoids full scans on repeated lookups.
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_file_contents_tckrsymb ON file_contents ("TckrSymb")`,
		`CREATE INDEX IF NOT EXISTS idx_file_contents_rptdt ON file_contents ("RptDt")`,
	}
	for _, q := range indexes {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}

	return nil
}

// InsertAll persists records in fixed-size chunks inside one transaction.
// Either every record is committed or none is: a failed chunk rolls the whole
// transaction back. Returns the number of rows written.
func (s *PostgresContentStore) InsertAll(ctx context.Context, records []csv.Record, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // No-op once committed

	total := 0
	for start := 0; start < len(records); start += batchSize {
		end := start + batchSize
		if end > len(records) {
			end = len(records)
		}

		query, args := buildInsert(records[start:end])
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return 0, fmt.Errorf("bulk insert rows %d-%d: %w", start+1, end, err)
		}
		total += end - start
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return total, nil
}

// buildInsert renders one chunk as a single multi-row INSERT statement.
func buildInsert(chunk []csv.Record) (string, []any) {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO file_contents (`)
	for i, col := range contentColumns {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(quoteIdentifier(col))
	}
	sb.WriteString(`) VALUES `)

	args := make([]any, 0, len(chunk)*len(contentColumns))
	for i, rec := range chunk {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteByte('(')
		for j, col := range contentColumns {
			if j > 0 {
				sb.WriteByte(',')
			}
			fmt.Fprintf(&sb, "$%d", len(args)+1)
			args = append(args, projectField(rec, col))
		}
		sb.WriteByte(')')
	}

	return sb.String(), args
}

// projectField looks a column up in the record. Absent keys become NULL;
// present-but-empty values stay empty strings. The distinction is kept so a
// short row and a missing column stay tellable apart.
func projectField(rec csv.Record, col string) any {
	v, ok := rec.Get(col)
	if !ok {
		return nil
	}
	return v
}

// Search returns one page of rows matching the equality filters.
func (s *PostgresContentStore) Search(ctx context.Context, f ContentFilter, page, perPage int) (*Page, error) {
	if page < 1 {
		page = 1
	}

	var conditions []string
	var args []any
	if f.TckrSymb != nil {
		args = append(args, *f.TckrSymb)
		conditions = append(conditions, fmt.Sprintf(`"TckrSymb" = $%d`, len(args)))
	}
	if f.RptDt != nil {
		args = append(args, *f.RptDt)
		conditions = append(conditions, fmt.Sprintf(`"RptDt" = $%d`, len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64
	countQuery := "SELECT COUNT(*) FROM file_contents" + where
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count rows: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT "RptDt","TckrSymb","MktNm","SctyCtgyNm","ISIN","CrpnNm" FROM file_contents%s ORDER BY id LIMIT $%d OFFSET $%d`,
		where, len(args)+1, len(args)+2,
	)
	args = append(args, perPage, (page-1)*perPage)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rows: %w", err)
	}
	defer rows.Close()

	items := make([]FileContent, 0, perPage)
	for rows.Next() {
		var fc FileContent
		if err := rows.Scan(&fc.RptDt, &fc.TckrSymb, &fc.MktNm, &fc.SctyCtgyNm, &fc.ISIN, &fc.CrpnNm); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		items = append(items, fc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return &Page{
		Items:       items,
		Total:       total,
		CurrentPage: page,
		PerPage:     perPage,
	}, nil
}

// quoteIdentifier quotes a SQL identifier.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
