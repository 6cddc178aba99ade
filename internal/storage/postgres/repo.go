// Package postgres implements storage.Repository on Postgres via pgx, for
// deployments that mirror the warehouse into a shared database instead of a
// local file.
//
// Semantics match the SQLite backend: dimension ensure and fact dedupe use
// ON CONFLICT ... DO NOTHING against the UNIQUE constraints created by
// EnsureSchema, and SaveFacts is one transaction.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ga4etl/internal/ga4"
	"ga4etl/internal/storage"
)

// Repo implements storage.Repository for Postgres.
type Repo struct {
	pool *pgxpool.Pool
}

func init() {
	storage.Register("postgres", New)
}

// New connects to the Postgres database at cfg.DSN.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

func (r *Repo) Close() { r.pool.Close() }

var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS dates (
  date_id BIGSERIAL PRIMARY KEY,
  date TEXT NOT NULL,
  UNIQUE (date)
);`,
	`CREATE TABLE IF NOT EXISTS user_interaction (
  user_id BIGSERIAL PRIMARY KEY,
  date_id BIGINT NOT NULL REFERENCES dates (date_id),
  users BIGINT,
  sessions BIGINT,
  engagement_rate DOUBLE PRECISION,
  conversions BIGINT,
  average_session_duration DOUBLE PRECISION,
  UNIQUE (date_id)
);`,
	`CREATE TABLE IF NOT EXISTS content_metrics (
  content_id BIGSERIAL PRIMARY KEY,
  date_id BIGINT NOT NULL REFERENCES dates (date_id),
  page_title TEXT,
  page_views BIGINT,
  sessions BIGINT,
  engagement_rate DOUBLE PRECISION,
  session_duration DOUBLE PRECISION,
  UNIQUE (date_id, page_title)
);`,
	`CREATE TABLE IF NOT EXISTS site_data (
  site_id BIGSERIAL PRIMARY KEY,
  date_id BIGINT NOT NULL REFERENCES dates (date_id),
  search_term TEXT,
  clicks BIGINT,
  impressions BIGINT,
  UNIQUE (date_id, search_term)
);`,
}

// EnsureSchema creates the dimension and fact tables if absent.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	for _, ddl := range schemaDDL {
		if _, err := r.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// LastDate returns MAX(date) from the dimension, or "" when empty.
func (r *Repo) LastDate(ctx context.Context) (string, error) {
	var last *string
	if err := r.pool.QueryRow(ctx, `SELECT MAX(date) FROM dates`).Scan(&last); err != nil {
		return "", fmt.Errorf("select max date: %w", err)
	}
	if last == nil {
		return "", nil
	}
	return *last, nil
}

// ResolveDate returns the surrogate id for date, creating the dimension row if
// needed.
func (r *Repo) ResolveDate(ctx context.Context, date string) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	id, err := resolveDateTx(ctx, tx, date)
	if err != nil {
		return 0, err
	}
	return id, tx.Commit(ctx)
}

func resolveDateTx(ctx context.Context, tx pgx.Tx, date string) (int64, error) {
	if _, err := tx.Exec(ctx, `INSERT INTO dates (date) VALUES ($1) ON CONFLICT (date) DO NOTHING`, date); err != nil {
		return 0, fmt.Errorf("ensure date %s: %w", date, err)
	}
	var id int64
	if err := tx.QueryRow(ctx, `SELECT date_id FROM dates WHERE date = $1`, date).Scan(&id); err != nil {
		return 0, fmt.Errorf("select date_id for %s: %w", date, err)
	}
	return id, nil
}

// SaveFacts persists one normalized window in a single transaction.
func (r *Repo) SaveFacts(ctx context.Context, recs ga4.Records) (storage.SaveStats, error) {
	var stats storage.SaveStats
	if recs.Empty() {
		return stats, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return stats, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	dates := recs.Dates()
	dateIDs := make(map[string]int64, len(dates))
	for _, d := range dates {
		id, err := resolveDateTx(ctx, tx, d)
		if err != nil {
			return stats, err
		}
		dateIDs[d] = id
	}
	stats.Dates = len(dateIDs)

	if len(recs.Engagement) > 0 {
		rows := make([][]any, 0, len(recs.Engagement))
		for _, rec := range recs.Engagement {
			rows = append(rows, []any{
				dateIDs[rec.Date], rec.Users, rec.Sessions, rec.EngagementRate,
				rec.Conversions, rec.AvgSessionDuration,
			})
		}
		n, err := insertDoNothing(ctx, tx, storage.TableEngagement,
			[]string{"date_id", "users", "sessions", "engagement_rate", "conversions", "average_session_duration"},
			rows)
		if err != nil {
			return stats, fmt.Errorf("insert %s: %w", storage.TableEngagement, err)
		}
		stats.Engagement = storage.TableStats{Offered: int64(len(rows)), Inserted: n}
	}

	if len(recs.Content) > 0 {
		rows := make([][]any, 0, len(recs.Content))
		for _, rec := range recs.Content {
			rows = append(rows, []any{
				dateIDs[rec.Date], rec.PageTitle, rec.PageViews, rec.Sessions,
				rec.EngagementRate, rec.SessionDuration,
			})
		}
		n, err := insertDoNothing(ctx, tx, storage.TableContent,
			[]string{"date_id", "page_title", "page_views", "sessions", "engagement_rate", "session_duration"},
			rows)
		if err != nil {
			return stats, fmt.Errorf("insert %s: %w", storage.TableContent, err)
		}
		stats.Content = storage.TableStats{Offered: int64(len(rows)), Inserted: n}
	}

	if len(recs.SiteSearch) > 0 {
		rows := make([][]any, 0, len(recs.SiteSearch))
		for _, rec := range recs.SiteSearch {
			rows = append(rows, []any{
				dateIDs[rec.Date], rec.SearchTerm, rec.Clicks, rec.Impressions,
			})
		}
		n, err := insertDoNothing(ctx, tx, storage.TableSiteSearch,
			[]string{"date_id", "search_term", "clicks", "impressions"},
			rows)
		if err != nil {
			return stats, fmt.Errorf("insert %s: %w", storage.TableSiteSearch, err)
		}
		stats.SiteSearch = storage.TableStats{Offered: int64(len(rows)), Inserted: n}
	}

	if err := tx.Commit(ctx); err != nil {
		return stats, fmt.Errorf("commit save: %w", err)
	}
	return stats, nil
}

// insertChunkRows bounds the rows per INSERT statement. The Postgres extended
// protocol caps bind parameters at 65535 per statement, so wide windows must
// be split.
const insertChunkRows = 500

// insertDoNothing performs a chunked multi-row INSERT ... ON CONFLICT DO
// NOTHING and returns the number of rows actually inserted. All chunks run on
// the caller's transaction.
func insertDoNothing(ctx context.Context, tx pgx.Tx, table string, columns []string, rows [][]any) (int64, error) {
	var total int64
	for start := 0; start < len(rows); start += insertChunkRows {
		end := start + insertChunkRows
		if end > len(rows) {
			end = len(rows)
		}
		n, err := execInsertDoNothing(ctx, tx, table, columns, rows[start:end])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func execInsertDoNothing(ctx context.Context, tx pgx.Tx, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	args := make([]any, 0, len(rows)*len(columns))
	for _, row := range rows {
		args = append(args, row...)
	}

	tag, err := tx.Exec(ctx, buildInsertSQL(table, columns, len(rows)), args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// buildInsertSQL renders the multi-row insert statement with numbered
// placeholders. Kept pure so the SQL contract is unit-testable without a
// server.
func buildInsertSQL(table string, columns []string, rowCount int) string {
	colList := make([]string, 0, len(columns))
	for _, c := range columns {
		colList = append(colList, pgIdent(c))
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(strings.Join(colList, ", "))
	b.WriteString(") VALUES ")

	arg := 1
	for i := 0; i < rowCount; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", arg)
			arg++
		}
		b.WriteString(")")
	}
	b.WriteString(" ON CONFLICT DO NOTHING")

	return b.String()
}

func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
