package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{
		"GA4_PROPERTY_ID", "GA4_CREDENTIALS_PATH", "GA4_DB_KIND", "GA4_DB_DSN",
		"GA4_EXPORT_DIR", "GA4_LOG_FILE", "GA4_LOOKBACK_DAYS", "METRICS_BACKEND", "METRICS_TAGS",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}

	if cfg.StorageKind != "sqlite" {
		t.Errorf("StorageKind=%q want sqlite", cfg.StorageKind)
	}
	if cfg.StorageDSN != "ga4_data.db" {
		t.Errorf("StorageDSN=%q want ga4_data.db", cfg.StorageDSN)
	}
	if cfg.LookbackDays != 30 {
		t.Errorf("LookbackDays=%d want 30", cfg.LookbackDays)
	}
	if cfg.MetricsBackend != "none" {
		t.Errorf("MetricsBackend=%q want none", cfg.MetricsBackend)
	}
}

func TestLoad_EnvFileSeedsValues(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	content := "GA4_PROPERTY_ID=123456\nGA4_LOOKBACK_DAYS=7\n"
	if err := os.WriteFile(envFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GA4_PROPERTY_ID", "")
	os.Unsetenv("GA4_PROPERTY_ID")
	t.Setenv("GA4_LOOKBACK_DAYS", "")
	os.Unsetenv("GA4_LOOKBACK_DAYS")

	cfg, err := Load(envFile)
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if cfg.PropertyID != "123456" {
		t.Errorf("PropertyID=%q want 123456", cfg.PropertyID)
	}
	if cfg.LookbackDays != 7 {
		t.Errorf("LookbackDays=%d want 7", cfg.LookbackDays)
	}
}

func TestLoad_BadLookback(t *testing.T) {
	t.Setenv("GA4_LOOKBACK_DAYS", "not-a-number")
	if _, err := Load(""); err == nil {
		t.Fatal("Load() expected error for malformed lookback")
	}
}

func TestValidate_TableDriven(t *testing.T) {
	t.Parallel()

	valid := Config{
		PropertyID:      "123",
		CredentialsPath: "creds.json",
		StorageKind:     "sqlite",
		StorageDSN:      "db.sqlite",
		LookbackDays:    30,
		MetricsBackend:  "none",
	}

	tests := []struct {
		name       string
		mutate     func(*Config)
		wantErrors bool
	}{
		{"valid_modulo_creds_stat", func(*Config) {}, false},
		{"missing_property", func(c *Config) { c.PropertyID = "" }, true},
		{"missing_credentials", func(c *Config) { c.CredentialsPath = "" }, true},
		{"bad_storage_kind", func(c *Config) { c.StorageKind = "oracle" }, true},
		{"empty_dsn", func(c *Config) { c.StorageDSN = "" }, true},
		{"zero_lookback", func(c *Config) { c.LookbackDays = 0 }, true},
		{"unknown_metrics_backend_is_warning", func(c *Config) { c.MetricsBackend = "graphite" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid
			tt.mutate(&cfg)
			issues := cfg.Validate()
			if got := HasErrors(issues); got != tt.wantErrors {
				t.Fatalf("HasErrors=%v want %v (issues=%+v)", got, tt.wantErrors, issues)
			}
		})
	}
}
