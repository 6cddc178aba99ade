// Package watermark computes the incremental fetch window from the stored
// date dimension.
package watermark

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ga4etl/internal/storage"
)

// ISODate is the canonical stored date layout.
const ISODate = "2006-01-02"

// storedDateLayouts are the encodings the dimension may contain. The compact
// form is a permanent compatibility shim for rows written before the
// hyphenated form became canonical, not a migration to retire.
var storedDateLayouts = []string{
	ISODate,
	"20060102",
}

// ParseStoredDate parses a dimension date value in either supported encoding.
func ParseStoredDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date string")
	}
	for _, layout := range storedDateLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported date format: %q", s)
}

// Last returns the most recently ingested date, or nil when unknown.
//
// Both an empty dimension and a lookup/parse failure yield nil: the
// orchestrator treats "unknown last date" as "fetch the default initial
// window". The two cases are distinguishable only in the log.
func Last(ctx context.Context, repo storage.Repository, log zerolog.Logger) *time.Time {
	raw, err := repo.LastDate(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("watermark lookup failed, assuming no prior ingestion")
		return nil
	}
	if raw == "" {
		return nil
	}

	ts, err := ParseStoredDate(raw)
	if err != nil {
		log.Warn().Err(err).Str("stored", raw).Msg("watermark parse failed, assuming no prior ingestion")
		return nil
	}
	return &ts
}

// Window is an inclusive fetch date range.
type Window struct {
	Start time.Time
	End   time.Time
}

// Compute derives the next fetch window. With a known last ingested date the
// window starts the day after it; otherwise it starts lookbackDays before
// today. The window always ends today (inclusive).
func Compute(last *time.Time, now time.Time, lookbackDays int) Window {
	end := now.UTC().Truncate(24 * time.Hour)

	var start time.Time
	if last != nil {
		start = last.UTC().Truncate(24 * time.Hour).AddDate(0, 0, 1)
	} else {
		start = end.AddDate(0, 0, -lookbackDays)
	}

	return Window{Start: start, End: end}
}

// Empty reports whether there is nothing to fetch (the job already covered
// today). This is an expected steady state, not an error.
func (w Window) Empty() bool {
	return w.Start.After(w.End)
}

// StartISO returns the window start as YYYY-MM-DD.
func (w Window) StartISO() string { return w.Start.Format(ISODate) }

// EndISO returns the window end as YYYY-MM-DD.
func (w Window) EndISO() string { return w.End.Format(ISODate) }
