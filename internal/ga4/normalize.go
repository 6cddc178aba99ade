package ga4

import (
	"fmt"
	"strconv"
)

// Normalize reshapes the raw rows of one fetch into typed records. Any
// malformed date or metric value is a fatal error carrying the category and
// row index; rows are never silently dropped.
func Normalize(raw RawReports) (Records, error) {
	var out Records
	var err error

	if out.Engagement, err = normalizeEngagement(raw.Engagement); err != nil {
		return Records{}, err
	}
	if out.Content, err = normalizeContent(raw.Content); err != nil {
		return Records{}, err
	}
	if out.SiteSearch, err = normalizeSiteSearch(raw.SiteSearch); err != nil {
		return Records{}, err
	}
	return out, nil
}

func normalizeEngagement(rows []Row) ([]EngagementRecord, error) {
	out := make([]EngagementRecord, 0, len(rows))
	for i, row := range rows {
		r, err := rowReader(CategoryEngagement, i, row, 1, 5)
		if err != nil {
			return nil, err
		}
		rec := EngagementRecord{
			Date:               r.date(),
			Users:              r.intMetric(0, "users"),
			Sessions:           r.intMetric(1, "sessions"),
			EngagementRate:     r.floatMetric(2, "engagement_rate"),
			Conversions:        r.intMetric(3, "conversions"),
			AvgSessionDuration: r.floatMetric(4, "average_session_duration"),
		}
		if r.err != nil {
			return nil, r.err
		}
		out = append(out, rec)
	}
	return out, nil
}

func normalizeContent(rows []Row) ([]ContentRecord, error) {
	out := make([]ContentRecord, 0, len(rows))
	for i, row := range rows {
		r, err := rowReader(CategoryContent, i, row, 2, 4)
		if err != nil {
			return nil, err
		}
		rec := ContentRecord{
			Date:            r.date(),
			PageTitle:       row.Dimensions[1], // verbatim, may be empty for untitled pages
			PageViews:       r.intMetric(0, "page_views"),
			Sessions:        r.intMetric(1, "sessions"),
			EngagementRate:  r.floatMetric(2, "engagement_rate"),
			SessionDuration: r.floatMetric(3, "session_duration"),
		}
		if r.err != nil {
			return nil, r.err
		}
		out = append(out, rec)
	}
	return out, nil
}

func normalizeSiteSearch(rows []Row) ([]SiteSearchRecord, error) {
	out := make([]SiteSearchRecord, 0, len(rows))
	for i, row := range rows {
		r, err := rowReader(CategorySiteSearch, i, row, 2, 2)
		if err != nil {
			return nil, err
		}
		rec := SiteSearchRecord{
			Date:        r.date(),
			SearchTerm:  row.Dimensions[1],
			Clicks:      r.intMetric(0, "clicks"),
			Impressions: r.intMetric(1, "impressions"),
		}
		if r.err != nil {
			return nil, r.err
		}
		out = append(out, rec)
	}
	return out, nil
}

// FormatCompactDate converts the API's compact 8-digit date ("20240315") into
// the canonical hyphenated form ("2024-03-15"). The conversion is purely
// positional: no timezone shift, no zero-stripping.
func FormatCompactDate(s string) (string, error) {
	if len(s) != 8 {
		return "", fmt.Errorf("compact date %q: want 8 digits", s)
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return "", fmt.Errorf("compact date %q: non-digit character", s)
		}
	}
	return s[:4] + "-" + s[4:6] + "-" + s[6:8], nil
}

// reader accumulates positional coercion errors for one row so each normalize
// function stays a flat field list.
type reader struct {
	category string
	index    int
	row      Row
	isoDate  string
	err      error
}

func rowReader(category string, index int, row Row, wantDims, wantMetrics int) (*reader, error) {
	if len(row.Dimensions) < wantDims {
		return nil, fmt.Errorf("%s row %d: %d dimension values, want %d", category, index, len(row.Dimensions), wantDims)
	}
	if len(row.Metrics) < wantMetrics {
		return nil, fmt.Errorf("%s row %d: %d metric values, want %d", category, index, len(row.Metrics), wantMetrics)
	}
	iso, err := FormatCompactDate(row.Dimensions[0])
	if err != nil {
		return nil, fmt.Errorf("%s row %d: %w", category, index, err)
	}
	return &reader{category: category, index: index, row: row, isoDate: iso}, nil
}

func (r *reader) date() string { return r.isoDate }

func (r *reader) intMetric(i int, field string) int64 {
	if r.err != nil {
		return 0
	}
	v, err := strconv.ParseInt(r.row.Metrics[i], 10, 64)
	if err != nil {
		// GA4 occasionally reports count metrics with a fractional part.
		f, ferr := strconv.ParseFloat(r.row.Metrics[i], 64)
		if ferr != nil {
			r.err = fmt.Errorf("%s row %d: parse %s=%q: %w", r.category, r.index, field, r.row.Metrics[i], err)
			return 0
		}
		return int64(f)
	}
	return v
}

func (r *reader) floatMetric(i int, field string) float64 {
	if r.err != nil {
		return 0
	}
	v, err := strconv.ParseFloat(r.row.Metrics[i], 64)
	if err != nil {
		r.err = fmt.Errorf("%s row %d: parse %s=%q: %w", r.category, r.index, field, r.row.Metrics[i], err)
		return 0
	}
	return v
}
