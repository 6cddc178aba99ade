// Package storage defines the backend-agnostic repository contract for the
// analytics warehouse: one dates dimension plus three fact tables
// (user_interaction, content_metrics, site_data).
//
// Backends register themselves by kind from an init function; New selects the
// registered factory. The pipeline depends only on Repository.
package storage

import (
	"context"
	"fmt"
	"sync"

	"ga4etl/internal/ga4"
)

// Table names. They are part of the stored schema; renaming one orphans
// existing data.
const (
	TableDates      = "dates"
	TableEngagement = "user_interaction"
	TableContent    = "content_metrics"
	TableSiteSearch = "site_data"
)

// Config selects and configures a backend.
type Config struct {
	Kind string // "sqlite" | "postgres"
	DSN  string
}

// TableStats reports how many fact rows a save offered to one table and how
// many were actually inserted. The difference is rows skipped by the dedupe
// constraint.
type TableStats struct {
	Offered  int64
	Inserted int64
}

// Skipped returns the number of offered rows dropped as duplicates.
func (s TableStats) Skipped() int64 { return s.Offered - s.Inserted }

// SaveStats summarizes one SaveFacts call.
type SaveStats struct {
	Dates      int
	Engagement TableStats
	Content    TableStats
	SiteSearch TableStats
}

// Repository is the storage contract for one warehouse.
//
// Implementations assume a single writer process per run; no cross-process
// locking is provided beyond the atomicity of SaveFacts.
type Repository interface {
	// Close releases backend resources. Call once at shutdown.
	Close()

	// EnsureSchema creates the dimension and fact tables if absent. Idempotent;
	// safe to run at every startup.
	EnsureSchema(ctx context.Context) error

	// LastDate returns the maximum stored calendar value from the dimension,
	// exactly as stored (callers handle legacy encodings), or "" when the
	// dimension is empty.
	LastDate(ctx context.Context) (string, error)

	// ResolveDate returns the surrogate id for a calendar date, creating the
	// dimension row if needed. The ensure is atomic (insert ignoring conflict,
	// then select), so it is also correct under concurrent writers.
	ResolveDate(ctx context.Context, date string) (int64, error)

	// SaveFacts persists one normalized fetch window in a single transaction:
	// dimension rows for every distinct date, then all fact rows referencing
	// their surrogate ids. On any failure the whole transaction rolls back,
	// including dimension rows created by this call. Duplicate fact rows
	// (by each table's logical key) are skipped, not duplicated.
	SaveFacts(ctx context.Context, recs ga4.Records) (SaveStats, error)
}

type factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind. Called from backend init
// functions; registering the same kind twice panics to fail fast on ambiguous
// wiring.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// New constructs a Repository for the configured backend kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("storage: unsupported kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}
