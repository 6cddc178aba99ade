// ga4etl is a run-to-completion batch job: it incrementally pulls GA4 report
// metrics, normalizes them, and commits them into the relational warehouse.
// Exit code 0 means the run committed its window or had nothing to do; exit
// code 1 means a fatal failure.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"ga4etl/internal/config"
	"ga4etl/internal/ga4"
	"ga4etl/internal/logging"
	"ga4etl/internal/metrics"
	"ga4etl/internal/metrics/datadog"
	"ga4etl/internal/pipeline"
	"ga4etl/internal/storage"

	// register storage backends with the factory.
	_ "ga4etl/internal/storage/postgres"
	_ "ga4etl/internal/storage/sqlite"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		envFile           string
		metricsBackendFlg string
		validate          bool
	)

	flag.StringVar(&envFile, "env", ".env", "dotenv file seeding the environment")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "", "metrics backend to use (datadog, none); overrides env METRICS_BACKEND")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	flag.Parse()

	cfg, err := config.Load(envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	if metricsBackendFlg != "" {
		cfg.MetricsBackend = metricsBackendFlg
	}

	issues := cfg.Validate()
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Field, iss.Message)
	}
	if config.HasErrors(issues) {
		fmt.Fprintln(os.Stderr, "configuration is invalid")
		return 1
	}
	if validate {
		fmt.Fprintln(os.Stderr, "configuration is valid")
		return 0
	}

	log, closeLog, err := logging.New(cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		return 1
	}
	defer func() { _ = closeLog() }()

	ctx := context.Background()

	switch cfg.MetricsBackend {
	case "datadog":
		b, err := datadog.NewBackend(ctx, datadog.Options{
			JobName: "ga4etl",
			Tags:    datadog.ParseTagsCSV(cfg.MetricsTags),
		})
		if err != nil {
			log.Warn().Err(err).Msg("metrics: datadog init failed, using nop")
		} else {
			metrics.SetBackend(b)
			defer func() {
				if err := b.Close(); err != nil {
					log.Warn().Err(err).Msg("metrics: datadog close/flush error")
				}
			}()
		}
	case "", "none":
		// metrics disabled; nop backend remains
	default:
		log.Warn().Str("backend", cfg.MetricsBackend).Msg("metrics: unknown backend, metrics disabled")
	}
	// Runs before the backend's Close defer: push whatever the run buffered,
	// then Close only stops the flush loop.
	defer func() {
		if err := metrics.Flush(); err != nil {
			log.Warn().Err(err).Msg("metrics: flush error")
		}
	}()

	repo, err := storage.New(ctx, storage.Config{Kind: cfg.StorageKind, DSN: cfg.StorageDSN})
	if err != nil {
		log.Error().Err(err).Str("kind", cfg.StorageKind).Msg("storage init failed")
		return 1
	}
	defer repo.Close()

	client, err := ga4.NewClient(ctx, cfg.PropertyID, cfg.CredentialsPath)
	if err != nil {
		log.Error().Err(err).Msg("report client init failed")
		return 1
	}
	defer func() { _ = client.Close() }()

	start := time.Now()
	p := pipeline.New(repo, ga4.NewFetcher(client, log), cfg, log)
	if err := p.Run(ctx); err != nil {
		log.Error().Err(err).Msg("pipeline failed")
		return 1
	}

	log.Info().Dur("elapsed", time.Since(start).Truncate(time.Millisecond)).Msg("done")
	return 0
}
