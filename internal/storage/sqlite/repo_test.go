package sqlite

import (
	"context"
	"fmt"
	"testing"

	"ga4etl/internal/ga4"
	"ga4etl/internal/storage"
)

func newTestRepo(t *testing.T) *Repo {
	t.Helper()

	repo, err := New(context.Background(), storage.Config{Kind: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("New err=%v", err)
	}
	t.Cleanup(repo.Close)

	r := repo.(*Repo)
	if err := r.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema err=%v", err)
	}
	return r
}

func sampleRecords() ga4.Records {
	return ga4.Records{
		Engagement: []ga4.EngagementRecord{
			{Date: "2024-01-01", Users: 100, Sessions: 120, EngagementRate: 0.55, Conversions: 5, AvgSessionDuration: 42.3},
		},
		Content: []ga4.ContentRecord{
			{Date: "2024-01-01", PageTitle: "Home", PageViews: 300, Sessions: 120, EngagementRate: 0.55, SessionDuration: 33.1},
		},
		SiteSearch: []ga4.SiteSearchRecord{
			{Date: "2024-01-01", SearchTerm: "shoes", Clicks: 10, Impressions: 200},
		},
	}
}

func TestEnsureSchema_Idempotent(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	if err := r.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("second EnsureSchema err=%v", err)
	}
}

func TestResolveDate_StableSurrogate(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	ctx := context.Background()

	id1, err := r.ResolveDate(ctx, "2024-01-01")
	if err != nil {
		t.Fatalf("ResolveDate err=%v", err)
	}
	id2, err := r.ResolveDate(ctx, "2024-01-01")
	if err != nil {
		t.Fatalf("second ResolveDate err=%v", err)
	}
	if id1 != id2 {
		t.Fatalf("surrogate id changed: %d then %d", id1, id2)
	}

	other, err := r.ResolveDate(ctx, "2024-01-02")
	if err != nil {
		t.Fatalf("ResolveDate err=%v", err)
	}
	if other == id1 {
		t.Fatalf("distinct dates share surrogate id %d", id1)
	}

	var n int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM dates`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("dimension rows=%d want 2", n)
	}
}

func TestLastDate(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	ctx := context.Background()

	got, err := r.LastDate(ctx)
	if err != nil {
		t.Fatalf("LastDate err=%v", err)
	}
	if got != "" {
		t.Fatalf("LastDate on empty dimension=%q want empty", got)
	}

	for _, d := range []string{"2024-01-03", "2024-01-01", "2024-01-02"} {
		if _, err := r.ResolveDate(ctx, d); err != nil {
			t.Fatal(err)
		}
	}
	got, err = r.LastDate(ctx)
	if err != nil {
		t.Fatalf("LastDate err=%v", err)
	}
	if got != "2024-01-03" {
		t.Fatalf("LastDate=%q want 2024-01-03", got)
	}
}

func TestSaveFacts_ReferentialIntegrity(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	ctx := context.Background()

	stats, err := r.SaveFacts(ctx, sampleRecords())
	if err != nil {
		t.Fatalf("SaveFacts err=%v", err)
	}
	if stats.Dates != 1 {
		t.Errorf("stats.Dates=%d want 1", stats.Dates)
	}
	if stats.Engagement.Inserted != 1 || stats.Content.Inserted != 1 || stats.SiteSearch.Inserted != 1 {
		t.Errorf("inserted counts=%+v want 1 each", stats)
	}

	// Every fact row must reference an existing dimension row.
	for _, table := range []string{storage.TableEngagement, storage.TableContent, storage.TableSiteSearch} {
		var orphans int
		q := `SELECT COUNT(*) FROM ` + table + ` f LEFT JOIN dates d ON f.date_id = d.date_id WHERE d.date_id IS NULL`
		if err := r.db.QueryRow(q).Scan(&orphans); err != nil {
			t.Fatal(err)
		}
		if orphans != 0 {
			t.Errorf("%s: %d orphan rows", table, orphans)
		}
	}

	var date string
	if err := r.db.QueryRow(`SELECT date FROM dates`).Scan(&date); err != nil {
		t.Fatal(err)
	}
	if date != "2024-01-01" {
		t.Fatalf("dimension date=%q want 2024-01-01", date)
	}
}

func TestSaveFacts_DedupeOnResave(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	ctx := context.Background()

	if _, err := r.SaveFacts(ctx, sampleRecords()); err != nil {
		t.Fatalf("first SaveFacts err=%v", err)
	}

	// Re-saving the same window must not duplicate dimension or fact rows.
	stats, err := r.SaveFacts(ctx, sampleRecords())
	if err != nil {
		t.Fatalf("second SaveFacts err=%v", err)
	}
	if stats.Engagement.Inserted != 0 || stats.Content.Inserted != 0 || stats.SiteSearch.Inserted != 0 {
		t.Errorf("resave inserted=%+v want 0 each", stats)
	}
	if stats.Engagement.Skipped() != 1 {
		t.Errorf("engagement skipped=%d want 1", stats.Engagement.Skipped())
	}

	for _, table := range []string{"dates", storage.TableEngagement, storage.TableContent, storage.TableSiteSearch} {
		var n int
		if err := r.db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
			t.Fatal(err)
		}
		if n != 1 {
			t.Errorf("%s rows=%d want 1", table, n)
		}
	}
}

func TestSaveFacts_MultipleRowsPerDate(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	ctx := context.Background()

	recs := ga4.Records{
		Content: []ga4.ContentRecord{
			{Date: "2024-01-01", PageTitle: "Home", PageViews: 300},
			{Date: "2024-01-01", PageTitle: "About", PageViews: 40},
			{Date: "2024-01-01", PageTitle: "", PageViews: 3},
		},
	}
	stats, err := r.SaveFacts(ctx, recs)
	if err != nil {
		t.Fatalf("SaveFacts err=%v", err)
	}
	if stats.Content.Inserted != 3 {
		t.Fatalf("content inserted=%d want 3", stats.Content.Inserted)
	}
	if stats.Dates != 1 {
		t.Fatalf("stats.Dates=%d want 1", stats.Dates)
	}
}

func TestSaveFacts_WideContentWindow(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	ctx := context.Background()

	// 6,000 content rows at 6 columns each would bind 36,000 variables in one
	// statement, past SQLite's 32,766 cap. The chunked insert must commit the
	// whole batch in one call.
	const n = 6000
	recs := ga4.Records{Content: make([]ga4.ContentRecord, 0, n)}
	for i := 0; i < n; i++ {
		recs.Content = append(recs.Content, ga4.ContentRecord{
			Date:      "2024-01-01",
			PageTitle: fmt.Sprintf("page-%04d", i),
			PageViews: int64(i + 1),
		})
	}

	stats, err := r.SaveFacts(ctx, recs)
	if err != nil {
		t.Fatalf("SaveFacts err=%v", err)
	}
	if stats.Content.Offered != n || stats.Content.Inserted != n {
		t.Fatalf("content stats=%+v want offered=%d inserted=%d", stats.Content, n, n)
	}

	var count int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM content_metrics`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != n {
		t.Fatalf("content rows=%d want %d", count, n)
	}

	// Re-offering the batch dedupes every row, across all chunks.
	stats, err = r.SaveFacts(ctx, recs)
	if err != nil {
		t.Fatalf("resave err=%v", err)
	}
	if stats.Content.Inserted != 0 || stats.Content.Skipped() != n {
		t.Fatalf("resave stats=%+v want inserted=0 skipped=%d", stats.Content, n)
	}
}

func TestSaveFacts_EmptyIsNoop(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	stats, err := r.SaveFacts(context.Background(), ga4.Records{})
	if err != nil {
		t.Fatalf("SaveFacts err=%v", err)
	}
	if stats.Dates != 0 {
		t.Fatalf("stats=%+v want zero", stats)
	}
}

func TestSaveFacts_Atomicity(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	ctx := context.Background()

	// Force a mid-save failure: engagement inserts first, then site_data fails
	// because the table is gone. Nothing from the call may survive.
	if _, err := r.db.Exec(`DROP TABLE site_data`); err != nil {
		t.Fatal(err)
	}

	if _, err := r.SaveFacts(ctx, sampleRecords()); err == nil {
		t.Fatal("SaveFacts expected error with site_data missing")
	}

	for _, table := range []string{"dates", storage.TableEngagement, storage.TableContent} {
		var n int
		if err := r.db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
			t.Fatal(err)
		}
		if n != 0 {
			t.Errorf("%s rows=%d want 0 after rollback", table, n)
		}
	}
}
