// Package metrics is a tiny backend-agnostic metrics facade.
//
// Library code (the fetcher, the report runner) records through the helpers
// below; binaries choose a concrete Backend with SetBackend. Until one is set
// every call is a no-op.
package metrics

import (
	"sync"
	"time"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric samples.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

// Metric names.
const (
	FetchPagesTotal          = "fetch_pages_total"
	FetchRowsTotal           = "fetch_rows_total"
	FetchRetriesTotal        = "fetch_retries_total"
	FetchDegradedTotal       = "fetch_degraded_total"
	FetchSkippedWindowsTotal = "fetch_skipped_windows_total"
	FetchPageDurationSeconds = "fetch_page_duration_seconds"
	ReportStepTotal          = "report_step_total"
	ReportStepDuration       = "report_step_duration_seconds"
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b as the process-wide backend. A nil b restores the
// no-op backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush flushes the current backend.
func Flush() error { return current().Flush() }

// RecordPage records one page request outcome ("ok", "error").
func RecordPage(table, status string, rows int, d time.Duration) {
	b := current()
	l := Labels{"table": table, "status": status}
	b.IncCounter(FetchPagesTotal, 1, l)
	b.ObserveHistogram(FetchPageDurationSeconds, d.Seconds(), l)
	if rows > 0 {
		b.IncCounter(FetchRowsTotal, float64(rows), Labels{"table": table})
	}
}

// RecordRetry counts one retry of a page window.
func RecordRetry(table, kind string) {
	current().IncCounter(FetchRetriesTotal, 1, Labels{"table": table, "kind": kind})
}

// RecordDegrade counts one page-size reduction.
func RecordDegrade(table string) {
	current().IncCounter(FetchDegradedTotal, 1, Labels{"table": table})
}

// RecordSkip counts one window abandoned at the minimum page size.
func RecordSkip(table string) {
	current().IncCounter(FetchSkippedWindowsTotal, 1, Labels{"table": table})
}

// RecordStep records one report step ("fetch", "aggregate", "export") outcome.
func RecordStep(step, status string, d time.Duration) {
	b := current()
	l := Labels{"step": step, "status": status}
	b.IncCounter(ReportStepTotal, 1, l)
	b.ObserveHistogram(ReportStepDuration, d.Seconds(), l)
}
