// Package cli holds the start-up plumbing shared by the bizdash binaries:
// metrics backend selection and the process logger.
package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"bizdash/internal/logging"
	"bizdash/internal/metrics"
	"bizdash/internal/metrics/datadog"
)

// DefaultMetricsBackend is used when neither the flag nor METRICS_BACKEND
// names one.
const DefaultMetricsBackend = "none"

// metricsBackend is the part of a concrete backend the binaries own.
type metricsBackend interface {
	Close() error
}

// Seams for tests.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		b, err := datadog.NewBackend(ctx, opts)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	setMetricsBackend = func(b any) {
		if mb, ok := b.(metrics.Backend); ok {
			metrics.SetBackend(mb)
		}
	}
	logPrintf = log.Printf
)

// MetricsBackendName picks the backend: flag, then METRICS_BACKEND, then
// DefaultMetricsBackend.
func MetricsBackendName(flagValue string, getenv func(string) string) string {
	if v := strings.TrimSpace(flagValue); v != "" {
		return v
	}
	if getenv != nil {
		if v := strings.TrimSpace(getenv("METRICS_BACKEND")); v != "" {
			return v
		}
	}
	return DefaultMetricsBackend
}

// InitMetrics installs the named metrics backend. The returned cleanup is
// never nil and must be called once on shutdown; it flushes and closes the
// backend.
//
// Backends: "", "none", "noop" (metrics disabled) and "datadog" / "dd". The
// Datadog backend tags every metric with job:<jobName> plus METRICS_TAGS.
func InitMetrics(ctx context.Context, jobName, backendName string) (func(), error) {
	nop := func() {}

	switch strings.ToLower(strings.TrimSpace(backendName)) {
	case "", "none", "noop":
		return nop, nil

	case "datadog", "dd":
		if jobName == "" {
			jobName = "bizdash"
		}
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName:    jobName,
			Tags:       datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS")),
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			return nop, datadog.WrapInitErr(err)
		}
		setMetricsBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				logPrintf("metrics: datadog close error: %v", err)
			}
		}, nil

	default:
		return nop, fmt.Errorf("unknown metrics backend %q (want none|datadog)", backendName)
	}
}

// SeqURL picks the Seq endpoint: flag, then SEQ_URL. Empty disables Seq.
func SeqURL(flagValue string, getenv func(string) string) string {
	if v := strings.TrimSpace(flagValue); v != "" {
		return v
	}
	if getenv == nil {
		return ""
	}
	return strings.TrimSpace(getenv("SEQ_URL"))
}

// Logger builds the process logger writing to w (and to Seq when seqURL is
// set) and the Printf adapter handed to library packages. Library lines are
// logged at debug level, so they only show with verbose.
func Logger(w io.Writer, verbose bool, seqURL string) (*slog.Logger, *log.Logger, func()) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	l, cleanup := logging.Setup(logging.Options{Writer: w, Level: level, SeqURL: seqURL})
	return l, logging.Printf(l, slog.LevelDebug), cleanup
}
