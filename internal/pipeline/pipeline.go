// Package pipeline sequences one end-to-end ingestion run: schema ensure,
// window computation, fetch, normalize, transactional save, CSV export.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"ga4etl/internal/config"
	"ga4etl/internal/export"
	"ga4etl/internal/ga4"
	"ga4etl/internal/metrics"
	"ga4etl/internal/storage"
	"ga4etl/internal/watermark"
)

// Step names, logged on every transition and used as metric tags.
const (
	StepSchema    = "schema"
	StepWindow    = "window"
	StepFetch     = "fetch"
	StepNormalize = "normalize"
	StepSave      = "save"
	StepExport    = "export"
)

// Fetcher pulls raw reports for one inclusive date window.
type Fetcher interface {
	Fetch(ctx context.Context, start, end string) (ga4.RawReports, error)
}

// Pipeline runs one ingestion cycle to completion. It is not safe for
// concurrent runs against the same storage; the system assumes a single
// writer process.
type Pipeline struct {
	repo    storage.Repository
	fetcher Fetcher
	cfg     config.Config
	log     zerolog.Logger

	// now is a seam for window computation in tests.
	now func() time.Time
}

// New assembles a pipeline from its collaborators.
func New(repo storage.Repository, fetcher Fetcher, cfg config.Config, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		repo:    repo,
		fetcher: fetcher,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}
}

// Run executes the pipeline. A nil return means the run fully committed its
// window, or legitimately had nothing to do (window already covered, or the
// source returned no rows). Any error means nothing new was committed beyond
// already-completed steps; the caller terminates with a non-zero status.
func (p *Pipeline) Run(ctx context.Context) error {
	p.log.Info().Msg("starting ingestion run")

	if err := p.step(StepSchema, func() error {
		return p.repo.EnsureSchema(ctx)
	}); err != nil {
		return err
	}

	var window watermark.Window
	if err := p.step(StepWindow, func() error {
		last := watermark.Last(ctx, p.repo, p.log)
		window = watermark.Compute(last, p.now(), p.cfg.LookbackDays)
		return nil
	}); err != nil {
		return err
	}

	if window.Empty() {
		p.log.Info().
			Str("start", window.StartISO()).
			Str("end", window.EndISO()).
			Msg("no new data to fetch")
		return nil
	}
	p.log.Info().
		Str("start", window.StartISO()).
		Str("end", window.EndISO()).
		Msg("fetch window computed")

	var raw ga4.RawReports
	if err := p.step(StepFetch, func() error {
		var err error
		raw, err = p.fetcher.Fetch(ctx, window.StartISO(), window.EndISO())
		return err
	}); err != nil {
		return err
	}

	var recs ga4.Records
	if err := p.step(StepNormalize, func() error {
		var err error
		recs, err = ga4.Normalize(raw)
		return err
	}); err != nil {
		return err
	}

	if recs.Empty() {
		p.log.Info().Msg("source returned no rows for window")
		return nil
	}

	var stats storage.SaveStats
	if err := p.step(StepSave, func() error {
		var err error
		stats, err = p.repo.SaveFacts(ctx, recs)
		return err
	}); err != nil {
		return err
	}
	p.logSave(stats)

	// The window is committed; a failed snapshot is an operational nuisance,
	// not a data loss.
	if err := p.step(StepExport, func() error {
		return export.WriteSnapshots(p.cfg.ExportDir, recs)
	}); err != nil {
		p.log.Error().Err(err).Msg("snapshot export failed after commit")
	}

	p.log.Info().Msg("ingestion run completed")
	return nil
}

// step runs one pipeline stage, logging the transition and recording its
// outcome and duration.
func (p *Pipeline) step(name string, fn func() error) error {
	start := time.Now()
	err := fn()

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RecordStep(name, status, time.Since(start).Seconds())

	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	p.log.Debug().Str("step", name).Msg("step completed")
	return nil
}

func (p *Pipeline) logSave(stats storage.SaveStats) {
	tables := []struct {
		name  string
		stats storage.TableStats
	}{
		{storage.TableEngagement, stats.Engagement},
		{storage.TableContent, stats.Content},
		{storage.TableSiteSearch, stats.SiteSearch},
	}

	ev := p.log.Info().Int("dates", stats.Dates)
	for _, t := range tables {
		metrics.RecordRows(t.name, t.stats.Inserted, t.stats.Skipped())
		ev = ev.Int64(t.name, t.stats.Inserted)
		if skipped := t.stats.Skipped(); skipped > 0 {
			p.log.Warn().
				Str("table", t.name).
				Int64("skipped", skipped).
				Msg("duplicate rows skipped by dedupe constraint")
		}
	}
	ev.Msg("window committed")
}
