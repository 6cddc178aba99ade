// Package config resolves the pipeline configuration once at startup.
//
// All settings come from the process environment, optionally seeded from a
// dotenv file. The resulting Config is an immutable value passed explicitly to
// every component constructor; nothing in the pipeline reads the environment
// after Load returns.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Severity levels for validation issues.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Issue is a single configuration validation finding.
type Issue struct {
	Severity string
	Field    string
	Message  string
}

// Config is the full runtime configuration for one pipeline run.
type Config struct {
	// PropertyID is the numeric GA4 property identifier (no "properties/" prefix).
	PropertyID string

	// CredentialsPath points at the service-account JSON used to authenticate
	// against the GA4 Data API.
	CredentialsPath string

	// StorageKind selects the storage backend ("sqlite" or "postgres").
	StorageKind string

	// StorageDSN is passed through to the backend factory. For sqlite this is
	// the database file path.
	StorageDSN string

	// ExportDir is where per-category CSV snapshots are written after a save.
	ExportDir string

	// LogFile receives the structured log stream in addition to the console.
	LogFile string

	// LookbackDays is the initial fetch window size when no watermark exists.
	LookbackDays int

	// MetricsBackend selects the metrics backend ("datadog" or "none").
	MetricsBackend string

	// MetricsTags are extra backend tags, comma separated (e.g. "env:prod").
	MetricsTags string
}

// Load reads configuration from the environment, seeded from envFile when the
// file exists. A missing dotenv file is not an error; explicitly exported
// environment variables always win over file values.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	cfg := Config{
		PropertyID:      strings.TrimSpace(os.Getenv("GA4_PROPERTY_ID")),
		CredentialsPath: strings.TrimSpace(os.Getenv("GA4_CREDENTIALS_PATH")),
		StorageKind:     envOr("GA4_DB_KIND", "sqlite"),
		StorageDSN:      envOr("GA4_DB_DSN", "ga4_data.db"),
		ExportDir:       envOr("GA4_EXPORT_DIR", "."),
		LogFile:         envOr("GA4_LOG_FILE", "ga4_data_pipeline.log"),
		LookbackDays:    30,
		MetricsBackend:  envOr("METRICS_BACKEND", "none"),
		MetricsTags:     strings.TrimSpace(os.Getenv("METRICS_TAGS")),
	}

	if v := strings.TrimSpace(os.Getenv("GA4_LOOKBACK_DAYS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse GA4_LOOKBACK_DAYS=%q: %w", v, err)
		}
		cfg.LookbackDays = n
	}

	return cfg, nil
}

// Validate checks the configuration and returns all findings. The caller
// decides whether warnings are acceptable; any error-severity issue means the
// config cannot drive a run.
func (c Config) Validate() []Issue {
	var issues []Issue

	if c.PropertyID == "" {
		issues = append(issues, Issue{SeverityError, "GA4_PROPERTY_ID", "property id is required"})
	}
	if c.CredentialsPath == "" {
		issues = append(issues, Issue{SeverityError, "GA4_CREDENTIALS_PATH", "credentials path is required"})
	} else if _, err := os.Stat(c.CredentialsPath); err != nil {
		issues = append(issues, Issue{SeverityWarning, "GA4_CREDENTIALS_PATH", fmt.Sprintf("credentials file not readable: %v", err)})
	}

	switch c.StorageKind {
	case "sqlite", "postgres":
	case "":
		issues = append(issues, Issue{SeverityError, "GA4_DB_KIND", "storage kind is required"})
	default:
		issues = append(issues, Issue{SeverityError, "GA4_DB_KIND", fmt.Sprintf("unsupported storage kind %q", c.StorageKind)})
	}
	if c.StorageDSN == "" {
		issues = append(issues, Issue{SeverityError, "GA4_DB_DSN", "storage DSN is required"})
	}

	if c.LookbackDays <= 0 {
		issues = append(issues, Issue{SeverityError, "GA4_LOOKBACK_DAYS", "lookback must be a positive number of days"})
	}

	switch c.MetricsBackend {
	case "", "none", "datadog":
	default:
		issues = append(issues, Issue{SeverityWarning, "METRICS_BACKEND", fmt.Sprintf("unknown metrics backend %q; metrics will be disabled", c.MetricsBackend)})
	}

	return issues
}

// HasErrors reports whether any issue is error severity.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
