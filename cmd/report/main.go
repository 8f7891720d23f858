// Command report runs a report job: it fetches every configured dataset in
// full and prints the pivot trees, regional dashboards and rankings as JSON.
//
//	report -config job.json [-validate] [-metrics-backend none|datadog] [-seq-url URL] [-v]
//
// Exit codes: 0 on success, 1 when the job is invalid or any dataset failed
// (the JSON report is still printed), 2 on usage errors.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bizdash/internal/cli"
	"bizdash/internal/config"
	"bizdash/internal/report"

	_ "bizdash/internal/source/all"
)

// runner is the part of *report.Runner the command uses.
type runner interface {
	Run(ctx context.Context, job config.Job) (*report.Report, error)
}

// appDeps are the side-effecting seams of runMain.
type appDeps struct {
	loadJob     func(path string) (config.Job, error)
	newRunner   func(logger report.Logger) runner
	initMetrics func(ctx context.Context, jobName, backendName string) (func(), error)
	getenv      func(string) string
}

func defaultDeps() appDeps {
	return appDeps{
		loadJob: config.Load,
		newRunner: func(logger report.Logger) runner {
			r := report.NewDefaultRunner()
			r.NewLogger = func(io.Writer) report.Logger { return logger }
			return r
		},
		initMetrics: cli.InitMetrics,
		getenv:      os.Getenv,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		cfgPath        = fs.String("config", "", "job config path (.json, .yaml or .yml)")
		validate       = fs.Bool("validate", false, "validate the job and exit")
		metricsBackend = fs.String("metrics-backend", "", "metrics backend: none|datadog (env METRICS_BACKEND)")
		seqURL         = fs.String("seq-url", "", "Seq server URL for structured logs (env SEQ_URL)")
		compact        = fs.Bool("compact", false, "print the report without indentation")
		verbose        = fs.Bool("v", false, "enable verbose logs")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(*cfgPath) == "" {
		fmt.Fprintln(stderr, "usage: report -config path/to/job.json [-validate] [-metrics-backend none|datadog] [-seq-url URL] [-v]")
		return 2
	}

	job, err := deps.loadJob(*cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}

	issues := config.Validate(job)
	for _, iss := range issues {
		fmt.Fprintln(stderr, iss.String())
	}
	if config.HasErrors(issues) {
		fmt.Fprintf(stderr, "configuration is invalid: %s\n", *cfgPath)
		return 1
	}
	if *validate {
		fmt.Fprintf(stdout, "configuration is valid: %s\n", *cfgPath)
		return 0
	}

	logger, lib, closeLog := cli.Logger(stderr, *verbose, cli.SeqURL(*seqURL, deps.getenv))
	defer closeLog()

	backend := cli.MetricsBackendName(*metricsBackend, deps.getenv)
	cleanup, err := deps.initMetrics(ctx, job.Job, backend)
	if err != nil {
		fmt.Fprintf(stderr, "init metrics: %v\n", err)
		return 1
	}
	defer cleanup()
	logger.Debug("metrics", "backend", backend, "job", job.Job)

	start := time.Now()
	rep, runErr := deps.newRunner(lib).Run(ctx, job)
	if rep == nil {
		if runErr == nil {
			runErr = errors.New("runner returned no report")
		}
		fmt.Fprintf(stderr, "run: %v\n", runErr)
		return 1
	}

	enc := json.NewEncoder(stdout)
	if !*compact {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(rep); err != nil {
		fmt.Fprintf(stderr, "write report: %v\n", err)
		return 1
	}

	logger.Info("report done",
		"job", job.Job,
		"datasets", len(rep.Datasets),
		"failed", len(rep.Failed()),
		"duration", time.Since(start).Truncate(time.Millisecond))
	if runErr != nil {
		fmt.Fprintf(stderr, "run: %v\n", runErr)
		return 1
	}
	return 0
}
