// Package ga4 talks to the GA4 Data API and reshapes its report rows into the
// typed records the storage layer persists.
package ga4

import "context"

// Report categories. These are fixed: each one maps to a dedicated report
// query and a dedicated fact table downstream.
const (
	CategoryEngagement = "engagement"
	CategoryContent    = "content"
	CategorySiteSearch = "site_search"
)

// Row is one raw report row: ordered dimension values followed by ordered
// metric values, all strings as the API returns them. The first dimension is
// always the compact 8-digit date.
type Row struct {
	Dimensions []string
	Metrics    []string
}

// Query describes one report request over an inclusive date range.
type Query struct {
	Category   string
	StartDate  string // YYYY-MM-DD
	EndDate    string // YYYY-MM-DD
	Dimensions []string
	Metrics    []string
}

// ReportClient runs one report query. Implemented by the real Data API client
// and by test fakes.
type ReportClient interface {
	RunReport(ctx context.Context, q Query) ([]Row, error)
}

// engagementQuery, contentQuery and siteSearchQuery mirror the three report
// shapes this pipeline has always pulled. Changing a dimension or metric here
// changes the fact table contract, so treat these as part of the schema.
func engagementQuery(start, end string) Query {
	return Query{
		Category:   CategoryEngagement,
		StartDate:  start,
		EndDate:    end,
		Dimensions: []string{"date"},
		Metrics:    []string{"activeUsers", "sessions", "engagementRate", "conversions", "averageSessionDuration"},
	}
}

func contentQuery(start, end string) Query {
	return Query{
		Category:   CategoryContent,
		StartDate:  start,
		EndDate:    end,
		Dimensions: []string{"date", "pageTitle"},
		Metrics:    []string{"screenPageViews", "sessions", "engagementRate", "userEngagementDuration"},
	}
}

func siteSearchQuery(start, end string) Query {
	return Query{
		Category:   CategorySiteSearch,
		StartDate:  start,
		EndDate:    end,
		Dimensions: []string{"date", "searchTerm"},
		Metrics:    []string{"eventCount", "screenPageViews"},
	}
}

// RawReports holds the unprocessed rows of one fetch, per category.
type RawReports struct {
	Engagement []Row
	Content    []Row
	SiteSearch []Row
}

// Empty reports whether the fetch returned no rows in any category.
func (r RawReports) Empty() bool {
	return len(r.Engagement) == 0 && len(r.Content) == 0 && len(r.SiteSearch) == 0
}

// EngagementRecord is one per-date engagement aggregate.
type EngagementRecord struct {
	Date               string
	Users              int64
	Sessions           int64
	EngagementRate     float64
	Conversions        int64
	AvgSessionDuration float64
}

// ContentRecord is one per-(date, page title) content aggregate. PageTitle is
// carried verbatim, including empty values for untitled pages.
type ContentRecord struct {
	Date            string
	PageTitle       string
	PageViews       int64
	Sessions        int64
	EngagementRate  float64
	SessionDuration float64
}

// SiteSearchRecord is one per-(date, search term) aggregate. Clicks proxies
// event count; Impressions proxies page views.
type SiteSearchRecord struct {
	Date        string
	SearchTerm  string
	Clicks      int64
	Impressions int64
}

// Records is one fetch window, normalized.
type Records struct {
	Engagement []EngagementRecord
	Content    []ContentRecord
	SiteSearch []SiteSearchRecord
}

// Empty reports whether all categories normalized to zero records.
func (r Records) Empty() bool {
	return len(r.Engagement) == 0 && len(r.Content) == 0 && len(r.SiteSearch) == 0
}

// Dates returns the distinct calendar dates across all categories, unordered.
func (r Records) Dates() []string {
	seen := map[string]struct{}{}
	for _, rec := range r.Engagement {
		seen[rec.Date] = struct{}{}
	}
	for _, rec := range r.Content {
		seen[rec.Date] = struct{}{}
	}
	for _, rec := range r.SiteSearch {
		seen[rec.Date] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	return out
}
