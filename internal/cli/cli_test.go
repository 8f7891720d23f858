package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"bizdash/internal/metrics/datadog"
)

// fakeMetricsBackend is a deterministic backend used by InitMetrics tests.
type fakeMetricsBackend struct {
	closeErr error
	closed   atomic.Int64
}

func (b *fakeMetricsBackend) Close() error {
	b.closed.Add(1)
	return b.closeErr
}

// swapSeams replaces the package seams for one test. Tests using it must not
// run in parallel.
func swapSeams(t *testing.T, b metricsBackend, newErr error) (*atomic.Int64, *bytes.Buffer, *datadog.Options) {
	t.Helper()

	oldNew, oldSet, oldLog := newDatadogBackend, setMetricsBackend, logPrintf
	t.Cleanup(func() {
		newDatadogBackend, setMetricsBackend, logPrintf = oldNew, oldSet, oldLog
	})

	var (
		setCalls atomic.Int64
		logged   bytes.Buffer
		gotOpts  datadog.Options
	)
	newDatadogBackend = func(_ context.Context, opts datadog.Options) (metricsBackend, error) {
		gotOpts = opts
		if newErr != nil {
			return nil, newErr
		}
		return b, nil
	}
	setMetricsBackend = func(any) { setCalls.Add(1) }
	logPrintf = func(format string, v ...any) { fmt.Fprintf(&logged, format, v...) }
	return &setCalls, &logged, &gotOpts
}

func TestInitMetrics_None_DoesNotMutateGlobalState(t *testing.T) {
	setCalls, _, _ := swapSeams(t, nil, nil)

	for _, name := range []string{"", "none", "NOOP"} {
		cleanup, err := InitMetrics(context.Background(), "job", name)
		if err != nil {
			t.Fatalf("InitMetrics(%q) err=%v, want nil", name, err)
		}
		if cleanup == nil {
			t.Fatalf("cleanup=nil, want non-nil")
		}
		cleanup()
	}
	if setCalls.Load() != 0 {
		t.Fatalf("setMetricsBackend called %d times for disabled metrics", setCalls.Load())
	}
}

func TestInitMetrics_Datadog_WiresBackendAndCloses(t *testing.T) {
	t.Setenv("METRICS_TAGS", "team:sales, region:apac")

	b := &fakeMetricsBackend{}
	setCalls, logged, gotOpts := swapSeams(t, b, nil)

	cleanup, err := InitMetrics(context.Background(), "weekly", "datadog")
	if err != nil {
		t.Fatalf("InitMetrics err=%v, want nil", err)
	}
	if gotOpts.JobName != "weekly" {
		t.Fatalf("JobName=%q, want weekly", gotOpts.JobName)
	}
	if got := strings.Join(gotOpts.Tags, ","); got != "team:sales,region:apac" {
		t.Fatalf("Tags=%q", got)
	}
	if setCalls.Load() != 1 {
		t.Fatalf("setMetricsBackend calls=%d, want 1", setCalls.Load())
	}

	cleanup()
	if b.closed.Load() != 1 {
		t.Fatalf("backend closed=%d, want 1", b.closed.Load())
	}
	if logged.Len() != 0 {
		t.Fatalf("unexpected log output: %q", logged.String())
	}
}

func TestInitMetrics_Datadog_CloseErrorIsLogged(t *testing.T) {
	b := &fakeMetricsBackend{closeErr: errors.New("flush failed")}
	_, logged, gotOpts := swapSeams(t, b, nil)

	cleanup, err := InitMetrics(context.Background(), "", "dd")
	if err != nil {
		t.Fatalf("InitMetrics err=%v, want nil", err)
	}
	if gotOpts.JobName != "bizdash" {
		t.Fatalf("JobName=%q, want default", gotOpts.JobName)
	}
	cleanup()

	if !strings.Contains(logged.String(), "metrics: datadog close error: flush failed") {
		t.Fatalf("log=%q, want close error", logged.String())
	}
}

func TestInitMetrics_Datadog_InitError(t *testing.T) {
	setCalls, _, _ := swapSeams(t, nil, errors.New("no api key"))

	cleanup, err := InitMetrics(context.Background(), "job", "datadog")
	if err == nil || !strings.Contains(err.Error(), "datadog metrics init: no api key") {
		t.Fatalf("err=%v, want wrapped init error", err)
	}
	cleanup()
	if setCalls.Load() != 0 {
		t.Fatalf("backend installed after init error")
	}
}

func TestInitMetrics_UnknownBackendErrors(t *testing.T) {
	t.Parallel()

	cleanup, err := InitMetrics(context.Background(), "job", "nope")
	if err == nil {
		t.Fatalf("InitMetrics err=nil, want error")
	}
	cleanup()
	if !strings.Contains(err.Error(), "unknown metrics backend") || !strings.Contains(err.Error(), "none|datadog") {
		t.Fatalf("err=%q", err)
	}
}

func TestMetricsBackendName(t *testing.T) {
	t.Parallel()

	env := func(v string) func(string) string {
		return func(k string) string {
			if k == "METRICS_BACKEND" {
				return v
			}
			return ""
		}
	}
	tests := []struct {
		name   string
		flag   string
		getenv func(string) string
		want   string
	}{
		{name: "flag_wins", flag: "datadog", getenv: env("none"), want: "datadog"},
		{name: "env", getenv: env(" dd "), want: "dd"},
		{name: "default", getenv: env(""), want: DefaultMetricsBackend},
		{name: "nil_getenv", want: DefaultMetricsBackend},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := MetricsBackendName(tc.flag, tc.getenv); got != tc.want {
				t.Fatalf("MetricsBackendName=%q, want %q", got, tc.want)
			}
		})
	}
}

func TestSeqURL(t *testing.T) {
	t.Parallel()

	getenv := func(string) string { return "http://seq:5341" }
	if got := SeqURL("http://flag:5341", getenv); got != "http://flag:5341" {
		t.Fatalf("SeqURL=%q, want flag value", got)
	}
	if got := SeqURL("", getenv); got != "http://seq:5341" {
		t.Fatalf("SeqURL=%q, want env value", got)
	}
	if got := SeqURL("", nil); got != "" {
		t.Fatalf("SeqURL=%q, want empty", got)
	}
}

func TestLogger_VerboseShowsLibraryLines(t *testing.T) {
	t.Parallel()

	for _, verbose := range []bool{false, true} {
		var buf bytes.Buffer
		_, lib, cleanup := Logger(&buf, verbose, "")
		lib.Printf("stage=page table=%s status=ok", "sof")
		cleanup()

		if got := strings.Contains(buf.String(), "stage=page table=sof status=ok"); got != verbose {
			t.Fatalf("verbose=%t: library line logged=%t\n%s", verbose, got, buf.String())
		}
	}
}
