// Package metrics is a minimal backend-agnostic metrics facade.
//
// The pipeline records counters and duration samples through package-level
// functions; a Backend turns those into an external system (Datadog today).
// The default backend is a nop, so instrumented code costs nothing when
// metrics are disabled.
package metrics

import "sync"

// Labels are metric tag key/values.
type Labels map[string]string

// Backend receives recorded metrics.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

// Metric names emitted by the pipeline.
const (
	StepsTotal          = "ga4etl_steps_total"
	RowsTotal           = "ga4etl_rows_total"
	DuplicatesTotal     = "ga4etl_duplicates_total"
	FetchAttemptsTotal  = "ga4etl_fetch_attempts_total"
	StepDurationSeconds = "ga4etl_step_duration_seconds"
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs the active backend. Call once at startup, before the
// pipeline runs.
func SetBackend(b Backend) {
	if b == nil {
		b = nopBackend{}
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// IncCounter adds delta to a counter.
func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

// ObserveHistogram records one sample.
func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush pushes buffered metrics to the backend.
func Flush() error {
	return current().Flush()
}

// RecordStep records a completed pipeline step with its outcome and duration.
func RecordStep(step, status string, seconds float64) {
	l := Labels{"step": step, "status": status}
	IncCounter(StepsTotal, 1, l)
	ObserveHistogram(StepDurationSeconds, seconds, l)
}

// RecordRows records fact rows inserted and duplicates skipped for a table.
func RecordRows(table string, inserted, skipped int64) {
	if inserted > 0 {
		IncCounter(RowsTotal, float64(inserted), Labels{"table": table})
	}
	if skipped > 0 {
		IncCounter(DuplicatesTotal, float64(skipped), Labels{"table": table})
	}
}

// RecordFetchAttempt records one report fetch attempt by outcome.
func RecordFetchAttempt(status string) {
	IncCounter(FetchAttemptsTotal, 1, Labels{"status": status})
}
