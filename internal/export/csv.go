// Package export writes flat per-category CSV snapshots of a saved window.
package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"ga4etl/internal/ga4"
)

// Snapshot file names, one per category.
const (
	EngagementFile = "users_metrics.csv"
	ContentFile    = "content_metrics.csv"
	SiteSearchFile = "site_metrics.csv"
)

// WriteSnapshots writes the three CSV artifacts into dir, headers included,
// records exactly as inserted. Existing snapshots are overwritten. The caller
// runs this after a successful commit; a snapshot failure must not unwind the
// transaction, so errors here are reported, never fatal upstream.
func WriteSnapshots(dir string, recs ga4.Records) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}

	if err := writeCSV(filepath.Join(dir, EngagementFile), engagementRows(recs.Engagement)); err != nil {
		return err
	}
	if err := writeCSV(filepath.Join(dir, ContentFile), contentRows(recs.Content)); err != nil {
		return err
	}
	return writeCSV(filepath.Join(dir, SiteSearchFile), siteSearchRows(recs.SiteSearch))
}

func engagementRows(recs []ga4.EngagementRecord) [][]string {
	rows := make([][]string, 0, len(recs)+1)
	rows = append(rows, []string{"date", "users", "sessions", "engagement_rate", "conversions", "average_session_duration"})
	for _, r := range recs {
		rows = append(rows, []string{
			r.Date,
			strconv.FormatInt(r.Users, 10),
			strconv.FormatInt(r.Sessions, 10),
			formatFloat(r.EngagementRate),
			strconv.FormatInt(r.Conversions, 10),
			formatFloat(r.AvgSessionDuration),
		})
	}
	return rows
}

func contentRows(recs []ga4.ContentRecord) [][]string {
	rows := make([][]string, 0, len(recs)+1)
	rows = append(rows, []string{"date", "page_title", "page_views", "sessions", "engagement_rate", "session_duration"})
	for _, r := range recs {
		rows = append(rows, []string{
			r.Date,
			r.PageTitle,
			strconv.FormatInt(r.PageViews, 10),
			strconv.FormatInt(r.Sessions, 10),
			formatFloat(r.EngagementRate),
			formatFloat(r.SessionDuration),
		})
	}
	return rows
}

func siteSearchRows(recs []ga4.SiteSearchRecord) [][]string {
	rows := make([][]string, 0, len(recs)+1)
	rows = append(rows, []string{"date", "search_term", "clicks", "impressions"})
	for _, r := range recs {
		rows = append(rows, []string{
			r.Date,
			r.SearchTerm,
			strconv.FormatInt(r.Clicks, 10),
			strconv.FormatInt(r.Impressions, 10),
		})
	}
	return rows
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func writeCSV(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}
