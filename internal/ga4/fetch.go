package ga4

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"ga4etl/internal/metrics"
)

// Default retry schedule: 3 attempts total, exponential backoff starting at
// 2s, doubling, capped at 10s between attempts.
const (
	defaultMaxAttempts = 3
	defaultBaseBackoff = 2 * time.Second
	defaultMaxBackoff  = 10 * time.Second
)

// Fetcher pulls all three report categories for one inclusive date window.
//
// Retry granularity is the whole fetch: a failure in any category query
// discards the attempt's partial results and retries all three queries, so the
// writer only ever sees a complete window.
type Fetcher struct {
	client ReportClient
	log    zerolog.Logger

	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration

	// sleep is a seam so tests do not wait out the backoff schedule.
	sleep func(ctx context.Context, d time.Duration) bool
}

// NewFetcher wraps a ReportClient with the default retry schedule.
func NewFetcher(client ReportClient, log zerolog.Logger) *Fetcher {
	return &Fetcher{
		client:      client,
		log:         log,
		maxAttempts: defaultMaxAttempts,
		baseBackoff: defaultBaseBackoff,
		maxBackoff:  defaultMaxBackoff,
		sleep:       sleepContext,
	}
}

// Fetch runs the three category queries over [start, end] (inclusive,
// YYYY-MM-DD). After exhausting retries it returns the last error wrapped with
// the attempt count.
func (f *Fetcher) Fetch(ctx context.Context, start, end string) (RawReports, error) {
	var lastErr error

	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		raw, err := f.fetchOnce(ctx, start, end)
		if err == nil {
			metrics.RecordFetchAttempt("ok")
			return raw, nil
		}
		lastErr = err
		metrics.RecordFetchAttempt("error")

		if attempt == f.maxAttempts {
			break
		}

		wait := nextRetryDelay(attempt, f.baseBackoff, f.maxBackoff)
		f.log.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("report fetch failed, retrying")

		if !f.sleep(ctx, wait) {
			return RawReports{}, ctx.Err()
		}
	}

	return RawReports{}, fmt.Errorf("fetch failed after %d attempts: %w", f.maxAttempts, lastErr)
}

func (f *Fetcher) fetchOnce(ctx context.Context, start, end string) (RawReports, error) {
	engagement, err := f.client.RunReport(ctx, engagementQuery(start, end))
	if err != nil {
		return RawReports{}, err
	}
	content, err := f.client.RunReport(ctx, contentQuery(start, end))
	if err != nil {
		return RawReports{}, err
	}
	siteSearch, err := f.client.RunReport(ctx, siteSearchQuery(start, end))
	if err != nil {
		return RawReports{}, err
	}
	return RawReports{
		Engagement: engagement,
		Content:    content,
		SiteSearch: siteSearch,
	}, nil
}

// nextRetryDelay computes base * 2^(attempt-1), clamped to max.
func nextRetryDelay(attempt int, base, max time.Duration) time.Duration {
	d := base << uint(attempt-1)
	if d > max {
		d = max
	}
	return d
}

// sleepContext sleeps for d or until ctx is done. Returns false on
// cancellation.
func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
