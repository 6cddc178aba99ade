package export

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"ga4etl/internal/ga4"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return rows
}

func TestWriteSnapshots(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	recs := ga4.Records{
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

	if err := WriteSnapshots(dir, recs); err != nil {
		t.Fatalf("WriteSnapshots err=%v", err)
	}

	got := readCSV(t, filepath.Join(dir, EngagementFile))
	want := [][]string{
		{"date", "users", "sessions", "engagement_rate", "conversions", "average_session_duration"},
		{"2024-01-01", "100", "120", "0.55", "5", "42.3"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("engagement snapshot=%v want %v", got, want)
	}

	got = readCSV(t, filepath.Join(dir, ContentFile))
	want = [][]string{
		{"date", "page_title", "page_views", "sessions", "engagement_rate", "session_duration"},
		{"2024-01-01", "Home", "300", "120", "0.55", "33.1"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("content snapshot=%v want %v", got, want)
	}

	got = readCSV(t, filepath.Join(dir, SiteSearchFile))
	want = [][]string{
		{"date", "search_term", "clicks", "impressions"},
		{"2024-01-01", "shoes", "10", "200"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("site search snapshot=%v want %v", got, want)
	}
}

func TestWriteSnapshots_EmptyStillWritesHeaders(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := WriteSnapshots(dir, ga4.Records{}); err != nil {
		t.Fatalf("WriteSnapshots err=%v", err)
	}

	for _, name := range []string{EngagementFile, ContentFile, SiteSearchFile} {
		rows := readCSV(t, filepath.Join(dir, name))
		if len(rows) != 1 {
			t.Errorf("%s rows=%d want header only", name, len(rows))
		}
	}
}

func TestWriteSnapshots_CreatesDir(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "exports", "nested")
	if err := WriteSnapshots(dir, ga4.Records{}); err != nil {
		t.Fatalf("WriteSnapshots err=%v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, EngagementFile)); err != nil {
		t.Fatalf("snapshot missing: %v", err)
	}
}
