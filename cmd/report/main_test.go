package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"bizdash/internal/config"
	"bizdash/internal/report"
	"bizdash/internal/source"
)

// fakeRunner returns a canned report and error.
type fakeRunner struct {
	rep   *report.Report
	err   error
	calls atomic.Int64
}

func (r *fakeRunner) Run(_ context.Context, _ config.Job) (*report.Report, error) {
	r.calls.Add(1)
	return r.rep, r.err
}

func validJob() config.Job {
	return config.Job{
		Job:      "weekly",
		Source:   source.Config{Kind: "csv", DSN: "/data"},
		Datasets: []config.Dataset{{Name: "sof", Table: "sof", Pivot: []string{"Country A"}}},
	}
}

func TestRunMain_UsageErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		args          []string
		wantStderrSub string
	}{
		{name: "missing_config_flag", args: nil, wantStderrSub: "usage: report -config"},
		{name: "empty_config_value", args: []string{"-config", "  "}, wantStderrSub: "usage: report -config"},
		{name: "unknown_flag", args: []string{"-nope"}, wantStderrSub: "flag provided but not defined"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var stdout, stderr bytes.Buffer
			code := runMain(context.Background(), tc.args, &stdout, &stderr, appDeps{
				loadJob: func(string) (config.Job, error) {
					t.Fatalf("loadJob must not be called on usage errors")
					return config.Job{}, nil
				},
				newRunner: func(report.Logger) runner {
					t.Fatalf("newRunner must not be called on usage errors")
					return nil
				},
				initMetrics: func(context.Context, string, string) (func(), error) {
					t.Fatalf("initMetrics must not be called on usage errors")
					return func() {}, nil
				},
			})
			if code != 2 {
				t.Fatalf("exit code=%d, want 2; stderr=%q", code, stderr.String())
			}
			if !strings.Contains(stderr.String(), tc.wantStderrSub) {
				t.Fatalf("stderr=%q, want contains %q", stderr.String(), tc.wantStderrSub)
			}
			if stdout.Len() != 0 {
				t.Fatalf("stdout=%q, want empty", stdout.String())
			}
		})
	}
}

func TestRunMain_Flow(t *testing.T) {
	t.Parallel()

	okReport := &report.Report{Job: "weekly", Datasets: []report.DatasetReport{{Name: "sof", Table: "sof", Rows: 3}}}
	failedReport := &report.Report{Job: "weekly", Datasets: []report.DatasetReport{{Name: "sof", Error: "timeout", Partial: true}}}

	tests := []struct {
		name             string
		args             []string
		job              config.Job
		loadErr          error
		initErr          error
		rep              *report.Report
		runErr           error
		wantCode         int
		wantStderrSub    string
		wantStdoutSub    string
		wantRunnerCalls  int64
		wantCleanupCalls int64
	}{
		{
			name:          "load_error",
			loadErr:       errors.New("no such file"),
			wantCode:      1,
			wantStderrSub: "load config: no such file",
		},
		{
			name:          "invalid_job",
			job:           config.Job{Job: "weekly"},
			wantCode:      1,
			wantStderrSub: "error: source.kind: must be set",
		},
		{
			name:          "validate_only",
			args:          []string{"-validate"},
			job:           validJob(),
			wantCode:      0,
			wantStdoutSub: "configuration is valid: job.json",
		},
		{
			name:          "init_metrics_error",
			job:           validJob(),
			initErr:       errors.New("metrics unavailable"),
			wantCode:      1,
			wantStderrSub: "init metrics: metrics unavailable",
		},
		{
			name:             "run_error_without_report",
			job:              validJob(),
			runErr:           errors.New("open csv source: missing dir"),
			wantCode:         1,
			wantStderrSub:    "run: open csv source: missing dir",
			wantRunnerCalls:  1,
			wantCleanupCalls: 1,
		},
		{
			name:             "dataset_failure_still_prints_report",
			job:              validJob(),
			rep:              failedReport,
			runErr:           errors.New("dataset sof: timeout"),
			wantCode:         1,
			wantStderrSub:    "run: dataset sof: timeout",
			wantStdoutSub:    `"partial": true`,
			wantRunnerCalls:  1,
			wantCleanupCalls: 1,
		},
		{
			name:             "success",
			job:              validJob(),
			rep:              okReport,
			wantCode:         0,
			wantStdoutSub:    `"job": "weekly"`,
			wantRunnerCalls:  1,
			wantCleanupCalls: 1,
		},
		{
			name:             "compact",
			args:             []string{"-compact"},
			job:              validJob(),
			rep:              okReport,
			wantCode:         0,
			wantStdoutSub:    `{"job":"weekly"`,
			wantRunnerCalls:  1,
			wantCleanupCalls: 1,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var stdout, stderr bytes.Buffer
			fr := &fakeRunner{rep: tc.rep, err: tc.runErr}
			var cleanupCalls atomic.Int64

			deps := appDeps{
				loadJob: func(path string) (config.Job, error) {
					if path != "job.json" {
						t.Fatalf("loadJob path=%q, want job.json", path)
					}
					return tc.job, tc.loadErr
				},
				newRunner: func(report.Logger) runner { return fr },
				initMetrics: func(_ context.Context, jobName, backendName string) (func(), error) {
					if jobName != "weekly" {
						t.Fatalf("jobName=%q, want weekly", jobName)
					}
					if backendName != "none" {
						t.Fatalf("backendName=%q, want none", backendName)
					}
					if tc.initErr != nil {
						return func() {}, tc.initErr
					}
					return func() { cleanupCalls.Add(1) }, nil
				},
				getenv: func(string) string { return "" },
			}

			args := append([]string{"-config", "job.json"}, tc.args...)
			code := runMain(context.Background(), args, &stdout, &stderr, deps)

			if code != tc.wantCode {
				t.Fatalf("exit code=%d, want %d; stderr=%q", code, tc.wantCode, stderr.String())
			}
			if tc.wantStderrSub != "" && !strings.Contains(stderr.String(), tc.wantStderrSub) {
				t.Fatalf("stderr=%q, want contains %q", stderr.String(), tc.wantStderrSub)
			}
			if tc.wantStdoutSub != "" && !strings.Contains(stdout.String(), tc.wantStdoutSub) {
				t.Fatalf("stdout=%q, want contains %q", stdout.String(), tc.wantStdoutSub)
			}
			if tc.wantStdoutSub == "" && stdout.Len() != 0 {
				t.Fatalf("stdout=%q, want empty", stdout.String())
			}
			if got := fr.calls.Load(); got != tc.wantRunnerCalls {
				t.Fatalf("runner calls=%d, want %d", got, tc.wantRunnerCalls)
			}
			if got := cleanupCalls.Load(); got != tc.wantCleanupCalls {
				t.Fatalf("cleanup calls=%d, want %d", got, tc.wantCleanupCalls)
			}
		})
	}
}

// TestHelperProcess is a subprocess entrypoint: the parent re-runs the test
// binary with GO_WANT_HELPER_PROCESS=1 and the command arguments after "--".
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	i := 0
	for ; i < len(args); i++ {
		if args[i] == "--" {
			break
		}
	}
	if i < len(args) {
		os.Args = append([]string{args[0]}, args[i+1:]...)
	} else {
		os.Args = []string{args[0]}
	}
	main()
	os.Exit(0)
}

func runCmd(t *testing.T, args ...string) (stdout, stderr string, exitCode int) {
	t.Helper()

	cmd := exec.Command(os.Args[0], append([]string{"-test.run=TestHelperProcess", "--"}, args...)...)
	cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "METRICS_BACKEND=none", "SEQ_URL=")

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err := cmd.Run()
	if err == nil {
		return outBuf.String(), errBuf.String(), 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return outBuf.String(), errBuf.String(), ee.ExitCode()
	}
	t.Fatalf("unexpected run error: %T: %v", err, err)
	return "", "", 1
}

func TestMain_CSVJob_PrintsReport(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	csv := strings.Join([]string{
		"Country A,Country B,City A,City B,Order Status,Total Amount",
		"KR,SG,Seoul,Singapore,open,100",
		"KR,US,Busan,Austin,closed,250.5",
		"JP,SG,Osaka,Singapore,open,",
		"",
	}, "\n")
	if err := os.WriteFile(filepath.Join(dir, "sof.csv"), []byte(csv), 0o600); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	job := `
job: weekly
source:
  kind: csv
  dsn: ` + dir + `
datasets:
  - name: sof
    table: sof
    pivot: ["Country A", "Order Status"]
    dashboard: {}
`
	cfgPath := filepath.Join(dir, "job.yaml")
	if err := os.WriteFile(cfgPath, []byte(job), 0o600); err != nil {
		t.Fatalf("write job: %v", err)
	}

	stdout, stderr, code := runCmd(t, "-config", cfgPath)
	if code != 0 {
		t.Fatalf("exit code=%d\nstderr:\n%s\nstdout:\n%s", code, stderr, stdout)
	}

	var rep report.Report
	if err := json.Unmarshal([]byte(stdout), &rep); err != nil {
		t.Fatalf("stdout is not a report: %v\n%s", err, stdout)
	}
	d, ok := rep.Dataset("sof")
	if !ok || d.Rows != 3 || d.Error != "" {
		t.Fatalf("dataset=%+v", d)
	}
	if len(d.Pivot) != 2 || d.Pivot[0].Key != "KR" || d.Pivot[0].Count != 2 {
		t.Fatalf("pivot=%+v", d.Pivot)
	}
	if d.Dashboard == nil || d.Dashboard.Amount.Total != 350.5 {
		t.Fatalf("dashboard=%+v", d.Dashboard)
	}
}

func TestMain_InvalidJob_Exits1(t *testing.T) {
	t.Parallel()

	cfgPath := filepath.Join(t.TempDir(), "job.json")
	if err := os.WriteFile(cfgPath, []byte(`{"job":"x","datasets":[]}`), 0o600); err != nil {
		t.Fatalf("write job: %v", err)
	}
	stdout, stderr, code := runCmd(t, "-config", cfgPath)
	if code != 1 {
		t.Fatalf("exit code=%d, want 1\nstderr:\n%s", code, stderr)
	}
	if !strings.Contains(stderr, "datasets: must not be empty") || stdout != "" {
		t.Fatalf("stdout=%q stderr=%q", stdout, stderr)
	}
}
