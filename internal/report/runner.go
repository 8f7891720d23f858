package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"bizdash/internal/aggregate"
	"bizdash/internal/column"
	"bizdash/internal/config"
	"bizdash/internal/fetch"
	"bizdash/internal/metrics"
	"bizdash/internal/pivot"
	"bizdash/internal/source"
	"bizdash/pkg/records"
)

// Logger is the minimal logging interface used by the runner.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Runner runs report jobs.
type Runner struct {
	// NewReader opens the job backend.
	NewReader func(ctx context.Context, cfg source.Config) (source.Reader, error)

	// NewLogger builds the run logger.
	NewLogger func(w io.Writer) Logger
	LogWriter io.Writer

	// ExpandEnv expands environment references in the DSN.
	ExpandEnv func(string) string

	// Sleep and Now are passed to fetchers and used for timing. Nil means
	// real time.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

// NewDefaultRunner returns a Runner opening backends through source.Open and
// logging to stderr.
func NewDefaultRunner() *Runner {
	return &Runner{
		NewReader: source.Open,
		NewLogger: func(w io.Writer) Logger { return log.New(w, "", log.LstdFlags) },
		LogWriter: os.Stderr,
		ExpandEnv: os.ExpandEnv,
	}
}

// ValidationError reports a job rejected by config.Validate.
type ValidationError struct {
	Issues []config.Issue
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Issues))
	for _, i := range e.Issues {
		if i.Severity == config.SeverityError {
			msgs = append(msgs, i.Path+": "+i.Message)
		}
	}
	return "report: invalid job: " + strings.Join(msgs, "; ")
}

// Run fetches every dataset of job, at most Runtime.Parallelism at a time,
// and aggregates each one.
//
// Errors:
//   - *ValidationError when the job is invalid; nothing is fetched.
//   - The NewReader error (wrapped) when the backend cannot be opened.
//   - Otherwise the joined dataset errors, each wrapped with the dataset
//     name. The Report is still returned and carries partial results.
//
// With Runtime.FailFast the first dataset error cancels the others.
func (r *Runner) Run(ctx context.Context, job config.Job) (*Report, error) {
	if issues := config.Validate(job); config.HasErrors(issues) {
		return nil, &ValidationError{Issues: issues}
	}

	logger := r.logger()
	now := r.now()
	started := now()

	cfg := job.Source
	cfg.DSN = r.expand(cfg.DSN)
	reader, err := r.NewReader(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("report: open %s source: %w", cfg.Kind, err)
	}
	defer func() {
		if cerr := reader.Close(); cerr != nil {
			logger.Printf("stage=close kind=%s err=%q", cfg.Kind, cerr)
		}
	}()

	par := job.Runtime.Parallelism
	if par <= 0 {
		par = config.DefaultParallelism
	}
	logger.Printf("stage=job_start job=%s kind=%s datasets=%d parallelism=%d", job.Job, cfg.Kind, len(job.Datasets), par)

	agg := aggregate.Aggregator{Lookup: column.NewResolver(job.Schema)}
	builder := pivot.Builder{Lookup: agg.Lookup}

	rep := &Report{Job: job.Job, Started: started, Datasets: make([]DatasetReport, len(job.Datasets))}
	errs := make([]error, len(job.Datasets))

	g := &errgroup.Group{}
	gctx := ctx
	if job.Runtime.FailFast {
		g, gctx = errgroup.WithContext(ctx)
	}
	g.SetLimit(par)

	for i, d := range job.Datasets {
		g.Go(func() error {
			dr, err := r.runDataset(gctx, logger, reader, job.Runtime, d, agg, builder)
			rep.Datasets[i] = dr
			if err != nil {
				errs[i] = fmt.Errorf("dataset %s: %w", d.Name, err)
				if job.Runtime.FailFast {
					return errs[i]
				}
			}
			return nil
		})
	}
	_ = g.Wait() // errors are collected per dataset

	rep.Duration = now().Sub(started)
	err = errors.Join(errs...)
	status := "ok"
	if err != nil {
		status = "error"
	}
	logger.Printf("stage=job_done job=%s status=%s failed=%d duration=%s",
		job.Job, status, len(rep.Failed()), rep.Duration.Truncate(time.Millisecond))
	return rep, err
}

func (r *Runner) runDataset(
	ctx context.Context,
	logger Logger,
	reader source.Reader,
	rt config.Runtime,
	d config.Dataset,
	agg aggregate.Aggregator,
	builder pivot.Builder,
) (DatasetReport, error) {
	dr := DatasetReport{Name: d.Name, Table: d.Table}

	f := fetch.New(reader, fetchOptions(rt, d))
	f.Logger = logger
	f.Sleep = r.Sleep

	start := time.Now()
	res, fetchErr := f.Fetch(ctx, fetch.Target{Table: d.Table, Columns: d.Columns})
	metrics.RecordStep("fetch", stepStatus(fetchErr), time.Since(start))

	dr.RunID = res.RunID
	dr.Rows = len(res.Rows)
	dr.Pages = res.Pages
	dr.Attempts = res.Attempts
	dr.Degraded = res.Degraded
	dr.FinalPageSize = res.FinalPageSize
	dr.Skipped = res.Skipped
	dr.Total = res.Total
	if fetchErr != nil {
		dr.Error = fetchErr.Error()
		dr.Partial = len(res.Rows) > 0
		if !dr.Partial {
			return dr, fetchErr
		}
	} else {
		dr.Fingerprint = records.Fingerprint(res.Rows)
	}

	start = time.Now()
	recs := agg.Apply(d.Filter, res.Rows)
	dr.Filtered = len(recs)
	dr.records = recs

	var aggErr error
	if len(d.Pivot) > 0 {
		dr.Pivot, aggErr = builder.Build(recs, d.Pivot)
	}
	if d.Dashboard != nil {
		dd := agg.Dashboard(recs, aggregate.DashboardOptions{
			Pairs:         d.Dashboard.Pairs,
			AmountColumns: d.Dashboard.AmountColumns,
			StatusColumns: d.Dashboard.StatusColumns,
			TopN:          d.Dashboard.TopN,
		})
		dr.Dashboard = &dd
	}
	for _, rk := range d.Rankings {
		entries := aggregate.TopNTagged(agg.ValueCounts(recs, rk.Column), rk.Type, rk.Limit)
		dr.Rankings = append(dr.Rankings, Ranking{Column: rk.Column, Entries: entries})
	}
	metrics.RecordStep("aggregate", stepStatus(aggErr), time.Since(start))

	err := errors.Join(fetchErr, aggErr)
	if aggErr != nil {
		dr.Error = err.Error()
	}
	logger.Printf("stage=dataset_done dataset=%s table=%s rows=%d filtered=%d partial=%t status=%s",
		d.Name, d.Table, dr.Rows, dr.Filtered, dr.Partial, stepStatus(err))
	return dr, err
}

func stepStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (r *Runner) logger() Logger {
	w := r.LogWriter
	if w == nil {
		w = io.Discard
	}
	if r.NewLogger == nil {
		return log.New(w, "", 0)
	}
	return r.NewLogger(w)
}

func (r *Runner) expand(s string) string {
	if r.ExpandEnv == nil {
		return s
	}
	return r.ExpandEnv(s)
}

func (r *Runner) now() func() time.Time {
	if r.Now == nil {
		return time.Now
	}
	return r.Now
}
