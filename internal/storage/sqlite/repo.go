// Package sqlite implements storage.Repository on a local SQLite file via the
// pure-Go modernc.org/sqlite driver.
//
// Notes:
//   - The pool is capped at one connection. The pipeline is single-writer, and
//     a single connection keeps per-connection state (PRAGMA foreign_keys,
//     ":memory:" databases in tests) attached to every statement.
//   - Dedupe relies on "INSERT OR IGNORE" against the UNIQUE constraints
//     created by EnsureSchema.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"ga4etl/internal/ga4"
	"ga4etl/internal/storage"
)

// Repo implements storage.Repository for SQLite.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

// New opens (or creates) the SQLite database at cfg.DSN.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS dates (
  date_id INTEGER PRIMARY KEY AUTOINCREMENT,
  date TEXT NOT NULL,
  UNIQUE (date)
);`,
	`CREATE TABLE IF NOT EXISTS user_interaction (
  user_id INTEGER PRIMARY KEY AUTOINCREMENT,
  date_id INTEGER NOT NULL REFERENCES dates (date_id),
  users INTEGER,
  sessions INTEGER,
  engagement_rate REAL,
  conversions INTEGER,
  average_session_duration REAL,
  UNIQUE (date_id)
);`,
	`CREATE TABLE IF NOT EXISTS content_metrics (
  content_id INTEGER PRIMARY KEY AUTOINCREMENT,
  date_id INTEGER NOT NULL REFERENCES dates (date_id),
  page_title TEXT,
  page_views INTEGER,
  sessions INTEGER,
  engagement_rate REAL,
  session_duration REAL,
  UNIQUE (date_id, page_title)
);`,
	`CREATE TABLE IF NOT EXISTS site_data (
  site_id INTEGER PRIMARY KEY AUTOINCREMENT,
  date_id INTEGER NOT NULL REFERENCES dates (date_id),
  search_term TEXT,
  clicks INTEGER,
  impressions INTEGER,
  UNIQUE (date_id, search_term)
);`,
}

// EnsureSchema creates the dimension and fact tables if absent.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	for _, ddl := range schemaDDL {
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// LastDate returns MAX(date) from the dimension, or "" when empty.
func (r *Repo) LastDate(ctx context.Context) (string, error) {
	var last sql.NullString
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(date) FROM dates`).Scan(&last); err != nil {
		return "", fmt.Errorf("select max date: %w", err)
	}
	if !last.Valid {
		return "", nil
	}
	return last.String, nil
}

// ResolveDate returns the surrogate id for date, creating the dimension row if
// needed. "INSERT OR IGNORE" makes the ensure atomic against the UNIQUE(date)
// constraint.
func (r *Repo) ResolveDate(ctx context.Context, date string) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	id, err := resolveDateTx(ctx, tx, date)
	if err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

func resolveDateTx(ctx context.Context, tx *sql.Tx, date string) (int64, error) {
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO dates (date) VALUES (?)`, date); err != nil {
		return 0, fmt.Errorf("ensure date %s: %w", date, err)
	}
	var id int64
	if err := tx.QueryRowContext(ctx, `SELECT date_id FROM dates WHERE date = ?`, date).Scan(&id); err != nil {
		return 0, fmt.Errorf("select date_id for %s: %w", date, err)
	}
	return id, nil
}

// SaveFacts persists one normalized window in a single transaction: dimension
// ensure for every distinct date, then fact inserts referencing the resolved
// surrogate ids. Any failure rolls back everything, dimension rows included.
func (r *Repo) SaveFacts(ctx context.Context, recs ga4.Records) (storage.SaveStats, error) {
	var stats storage.SaveStats
	if recs.Empty() {
		return stats, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, err
	}
	defer func() { _ = tx.Rollback() }()

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
		n, err := insertIgnore(ctx, tx, storage.TableEngagement,
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
		n, err := insertIgnore(ctx, tx, storage.TableContent,
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
		n, err := insertIgnore(ctx, tx, storage.TableSiteSearch,
			[]string{"date_id", "search_term", "clicks", "impressions"},
			rows)
		if err != nil {
			return stats, fmt.Errorf("insert %s: %w", storage.TableSiteSearch, err)
		}
		stats.SiteSearch = storage.TableStats{Offered: int64(len(rows)), Inserted: n}
	}

	if err := tx.Commit(); err != nil {
		return stats, fmt.Errorf("commit save: %w", err)
	}
	return stats, nil
}

// insertChunkRows bounds the rows per INSERT statement. SQLite caps bound
// variables at 32766 per statement, so an unchunked insert overflows on wide
// fetch windows (a 30-day initial content window can exceed 5,000 rows).
const insertChunkRows = 500

// insertIgnore performs a chunked multi-row "INSERT OR IGNORE" and returns the
// number of rows actually inserted. Rows hitting a UNIQUE constraint are
// skipped. All chunks run on the caller's transaction, so atomicity is
// unchanged.
func insertIgnore(ctx context.Context, tx *sql.Tx, table string, columns []string, rows [][]any) (int64, error) {
	var total int64
	for start := 0; start < len(rows); start += insertChunkRows {
		end := start + insertChunkRows
		if end > len(rows) {
			end = len(rows)
		}
		n, err := execInsertIgnore(ctx, tx, table, columns, rows[start:end])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func execInsertIgnore(ctx context.Context, tx *sql.Tx, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	colList := make([]string, 0, len(columns))
	for _, c := range columns {
		colList = append(colList, sqlIdent(c))
	}
	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(columns)), ",") + ")"

	var b strings.Builder
	b.WriteString("INSERT OR IGNORE INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(strings.Join(colList, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		args = append(args, row...)
	}

	res, err := tx.ExecContext(ctx, b.String(), args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
