// Package datadog implements a Datadog backend for the internal/metrics package.
//
// Samples are buffered in memory and submitted on a ticker (default once per
// minute) and once more on Close, so long report runs produce a time series
// and short ones still deliver their tail.
//
// Concurrency model:
//   - fetch goroutines call IncCounter/ObserveHistogram at any time
//   - Flush snapshots and resets buffers under a mutex, then submits out-of-lock
//   - the flush loop calls Flush periodically; Close stops the loop
package datadog

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"bizdash/internal/metrics"
)

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric.
	// If empty, defaults to "bizdash".
	JobName string

	// Tags are extra Datadog tags (e.g. []string{"env:prod", "team:sales"}).
	Tags []string

	// FlushEvery controls how often buffered metrics are submitted.
	// If <= 0, defaults to 60 seconds.
	FlushEvery time.Duration

	// Unexported test seams: production never sets them.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the part of *datadogV2.MetricsApi the backend needs.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api metricsSubmitter
	ctx context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}
	closeOnce  sync.Once

	baseTags []string

	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu  sync.Mutex
	buf buffers
}

// buffers holds one collection window. Counter keys are pairKey(table, x).
type buffers struct {
	pages    map[string]float64   // table, status
	rows     map[string]float64   // table
	retries  map[string]float64   // table, kind
	degraded map[string]float64   // table
	skipped  map[string]float64   // table
	pageDur  map[string][]float64 // table, status
	steps    map[string]float64   // step, status
	stepDur  map[string][]float64 // step, status
}

func newBuffers() buffers {
	return buffers{
		pages:    make(map[string]float64),
		rows:     make(map[string]float64),
		retries:  make(map[string]float64),
		degraded: make(map[string]float64),
		skipped:  make(map[string]float64),
		pageDur:  make(map[string][]float64),
		steps:    make(map[string]float64),
		stepDur:  make(map[string][]float64),
	}
}

func (s buffers) isEmpty() bool {
	return len(s.pages) == 0 &&
		len(s.rows) == 0 &&
		len(s.retries) == 0 &&
		len(s.degraded) == 0 &&
		len(s.skipped) == 0 &&
		len(s.pageDur) == 0 &&
		len(s.steps) == 0 &&
		len(s.stepDur) == 0
}

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

// NewBackend constructs a Datadog backend using the official client and starts
// its flush loop.
//
// Edge cases:
//   - If opts.FlushEvery <= 0, defaults to 60s.
//   - If opts.JobName is empty, defaults to "bizdash".
//   - Environment tag selection uses ENV then DD_ENV, otherwise env:unknown.
//
// Errors:
//   - Client construction is not expected to fail; network errors surface
//     from Flush.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	job := opts.JobName
	if job == "" {
		job = "bizdash"
	}

	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, resolveEnvTag(), "job:"+job)
	baseTags = append(baseTags, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}

	submitter := opts.submitter
	if submitter == nil {
		submitter = datadogV2.NewMetricsApi(dd.NewAPIClient(dd.NewConfiguration()))
	}

	b := &Backend{
		api:        submitter,
		ctx:        dd.NewDefaultContext(parent),
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		baseTags:   baseTags,
		now:        nowFn,
		newTicker:  newTicker,
		buf:        newBuffers(),
	}

	go b.loop()
	return b, nil
}

func (b *Backend) loop() {
	defer close(b.doneCh)

	t := b.newTicker(b.flushEvery)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the flush loop and performs one final Flush. Calling Close
// more than once only flushes again.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() {
		close(b.stopCh)
		<-b.doneCh
	})
	return b.Flush()
}

// IncCounter implements metrics.Backend. Unknown names and non-positive
// deltas are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	table := orUnknown(labels["table"])

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case metrics.FetchPagesTotal:
		b.buf.pages[pairKey(table, orUnknown(labels["status"]))] += delta
	case metrics.FetchRowsTotal:
		b.buf.rows[table] += delta
	case metrics.FetchRetriesTotal:
		b.buf.retries[pairKey(table, orUnknown(labels["kind"]))] += delta
	case metrics.FetchDegradedTotal:
		b.buf.degraded[table] += delta
	case metrics.FetchSkippedWindowsTotal:
		b.buf.skipped[table] += delta
	case metrics.ReportStepTotal:
		b.buf.steps[pairKey(orUnknown(labels["step"]), orUnknown(labels["status"]))] += delta
	}
}

// ObserveHistogram implements metrics.Backend. Negative values are ignored.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case metrics.FetchPageDurationSeconds:
		k := pairKey(orUnknown(labels["table"]), orUnknown(labels["status"]))
		b.buf.pageDur[k] = append(b.buf.pageDur[k], value)
	case metrics.ReportStepDuration:
		k := pairKey(orUnknown(labels["step"]), orUnknown(labels["status"]))
		b.buf.stepDur[k] = append(b.buf.stepDur[k], value)
	}
}

func (b *Backend) snapshotAndReset() buffers {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.buf
	b.buf = newBuffers()
	return s
}

// Flush submits buffered metrics and resets local buffers, even when
// submission fails.
//
// Errors:
//   - Returns any error from Datadog submission.
//   - Returns nil if there is nothing to submit.
func (b *Backend) Flush() error {
	snap := b.snapshotAndReset()
	if snap.isEmpty() {
		return nil
	}

	payload := datadogV2.MetricPayload{Series: b.buildSeries(snap, b.now().Unix())}
	_, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	return err
}

// buildSeries is pure: it maps a snapshot onto Datadog series at nowUnix.
func (b *Backend) buildSeries(s buffers, nowUnix int64) []datadogV2.MetricSeries {
	series := make([]datadogV2.MetricSeries, 0, 64)

	for k, v := range s.pages {
		table, status := splitPairKey(k)
		series = append(series, countSeries("fetch.pages.total", v, withTags(b.baseTags, "table:"+table, "status:"+status), nowUnix))
	}
	for table, v := range s.rows {
		series = append(series, countSeries("fetch.rows.total", v, withTags(b.baseTags, "table:"+table), nowUnix))
	}
	for k, v := range s.retries {
		table, kind := splitPairKey(k)
		series = append(series, countSeries("fetch.retries.total", v, withTags(b.baseTags, "table:"+table, "kind:"+kind), nowUnix))
	}
	for table, v := range s.degraded {
		series = append(series, countSeries("fetch.degraded.total", v, withTags(b.baseTags, "table:"+table), nowUnix))
	}
	for table, v := range s.skipped {
		series = append(series, countSeries("fetch.skipped_windows.total", v, withTags(b.baseTags, "table:"+table), nowUnix))
	}
	for k, samples := range s.pageDur {
		table, status := splitPairKey(k)
		addPercentiles(&series, "fetch.page.duration_seconds", samples, withTags(b.baseTags, "table:"+table, "status:"+status), nowUnix)
	}
	for k, v := range s.steps {
		step, status := splitPairKey(k)
		series = append(series, countSeries("report.step.total", v, withTags(b.baseTags, "step:"+step, "status:"+status), nowUnix))
	}
	for k, samples := range s.stepDur {
		step, status := splitPairKey(k)
		addPercentiles(&series, "report.step.duration_seconds", samples, withTags(b.baseTags, "step:"+step, "status:"+status), nowUnix)
	}
	return series
}

// addPercentiles appends p50/p90/p95/p99/max/samples gauges for samples.
// It sorts a copy; samples is not mutated.
func addPercentiles(series *[]datadogV2.MetricSeries, prefix string, samples []float64, tags []string, nowUnix int64) {
	if len(samples) == 0 {
		return
	}
	cp := append([]float64(nil), samples...)
	sort.Float64s(cp)

	*series = append(*series,
		gaugeSeries(prefix+".p50", percentileNearestRank(cp, 0.50), tags, nowUnix),
		gaugeSeries(prefix+".p90", percentileNearestRank(cp, 0.90), tags, nowUnix),
		gaugeSeries(prefix+".p95", percentileNearestRank(cp, 0.95), tags, nowUnix),
		gaugeSeries(prefix+".p99", percentileNearestRank(cp, 0.99), tags, nowUnix),
		gaugeSeries(prefix+".max", cp[len(cp)-1], tags, nowUnix),
		gaugeSeries(prefix+".samples", float64(len(cp)), tags, nowUnix),
	)
}

func countSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_COUNT.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func gaugeSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_GAUGE.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func pairKey(a, b string) string {
	return a + "\x00" + b
}

func splitPairKey(k string) (a, b string) {
	parts := strings.SplitN(k, "\x00", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return k, "unknown"
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	out = append(out, extras...)
	return out
}

func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

var _ metrics.Backend = (*Backend)(nil)

// ParseTagsCSV parses comma-separated tags like "env:prod,team:sales".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// WrapInitErr prefixes backend construction failures.
func WrapInitErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("datadog metrics init: %w", err)
}
