// Package fetch retrieves whole tables through a source.Reader by repeated
// bounded page requests.
//
// A fetch is a small state machine:
//
//	RequestingPage -> PageSucceeded | PageFailed
//	PageSucceeded  -> RequestingPage | Completed
//	PageFailed     -> Retrying | Degrading | RequestingPage (lenient skip) | Aborted
//	Retrying       -> RequestingPage | Aborted (context done during backoff)
//	Degrading      -> RequestingPage
//
// Schema errors abort at once. Timeouts and transient errors are retried with
// linear backoff; when a window exhausts its attempts the fetch degrades to a
// smaller page size and a lenient loop that skips failing windows instead of
// retrying them. Rows fetched before an abort are returned with the error.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"bizdash/internal/metrics"
	"bizdash/internal/source"
	"bizdash/pkg/records"
)

// Logger is the minimal logging interface used by the fetcher.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// State is one state of the page loop.
type State int

const (
	RequestingPage State = iota
	PageSucceeded
	PageFailed
	Retrying
	Degrading
	Completed
	Aborted
)

func (s State) String() string {
	switch s {
	case RequestingPage:
		return "requesting_page"
	case PageSucceeded:
		return "page_succeeded"
	case PageFailed:
		return "page_failed"
	case Retrying:
		return "retrying"
	case Degrading:
		return "degrading"
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Target names what to fetch.
type Target struct {
	Table   string
	Columns []string // empty or ["*"] means all columns
}

// Window is a page window abandoned by the lenient loop.
type Window struct {
	From int    `json:"from"`
	To   int    `json:"to"` // inclusive
	Err  string `json:"error"`
}

// Result is the outcome of one fetch, complete or partial.
type Result struct {
	RunID string
	Table string
	Rows  []records.Record

	Pages    int // successful page responses
	Attempts int // page requests issued, retries included

	Degraded      bool
	FinalPageSize int
	Skipped       []Window

	// Total is the backend row count reported with the first page, if any.
	Total *int64
}

// Fetcher drives page requests against one Reader.
//
// A Fetcher holds no per-fetch state and may run fetches of different tables
// concurrently; each Fetch owns its own accumulator and cursor.
type Fetcher struct {
	Reader  source.Reader
	Options Options
	Logger  Logger

	// Sleep waits between retry attempts. When nil, a context-aware timer is
	// used. Tests replace it to observe backoff without waiting.
	Sleep func(ctx context.Context, d time.Duration) error

	// NewRunID is a seam for deterministic run ids. When nil, uuid.NewString.
	NewRunID func() string
}

// New returns a Fetcher reading through r.
func New(r source.Reader, opts Options) *Fetcher {
	return &Fetcher{Reader: r, Options: opts}
}

// Fetch retrieves every row of t.Table.
//
// Errors:
//   - *SchemaError when the backend reports a missing table or column.
//   - *ExhaustedRetriesError when a window fails at the minimum page size or
//     the lenient loop skips MaxSkippedWindows windows in a row.
//   - A wrapped ctx.Err() when ctx is done.
//
// The returned Result is never nil; on error it carries the rows fetched so
// far.
func (f *Fetcher) Fetch(ctx context.Context, t Target) (*Result, error) {
	if f.Reader == nil {
		return &Result{Table: t.Table}, errors.New("fetch: Reader is required")
	}
	if t.Table == "" {
		return &Result{}, errors.New("fetch: table is required")
	}

	opts := f.Options.normalized()
	r := &run{
		f:    f,
		opts: opts,
		t:    t,
		logf: f.logger(),
		size: opts.PageSize,
		res: &Result{
			RunID: f.runID(),
			Table: t.Table,
		},
	}

	start := time.Now()
	r.logf("stage=fetch_start run=%s table=%s page_size=%d", r.res.RunID, t.Table, r.size)

	state := RequestingPage
	for state != Completed && state != Aborted {
		state = r.step(ctx, state)
	}
	r.res.FinalPageSize = r.size

	if state == Aborted {
		r.logf("stage=fetch_done run=%s table=%s status=aborted rows=%d pages=%d attempts=%d skipped=%d duration=%s err=%q",
			r.res.RunID, t.Table, len(r.res.Rows), r.res.Pages, r.res.Attempts, len(r.res.Skipped), durMS(start), r.err)
		return r.res, r.err
	}
	r.logf("stage=fetch_done run=%s table=%s status=ok rows=%d pages=%d attempts=%d skipped=%d degraded=%t duration=%s",
		r.res.RunID, t.Table, len(r.res.Rows), r.res.Pages, r.res.Attempts, len(r.res.Skipped), r.res.Degraded, durMS(start))
	return r.res, nil
}

// run is the mutable state of one Fetch.
type run struct {
	f    *Fetcher
	opts Options
	t    Target
	logf func(format string, v ...any)

	from    int
	size    int
	attempt int // attempts on the current window
	lenient bool
	skips   int // consecutive skipped windows

	countFailed bool // a request carrying the count failed

	page    source.Page
	lastErr error
	err     error // terminal error

	res *Result
}

func (r *run) step(ctx context.Context, s State) State {
	switch s {
	case RequestingPage:
		return r.request(ctx)
	case PageSucceeded:
		return r.succeeded()
	case PageFailed:
		return r.failed()
	case Retrying:
		return r.retry(ctx)
	case Degrading:
		return r.degrade()
	default:
		r.err = fmt.Errorf("fetch %s: unexpected state %s", r.t.Table, s)
		return Aborted
	}
}

func (r *run) to() int { return r.from + r.size - 1 }

// wantCount reports whether the next request should ask for the row count.
// The count is optional: it rides only on the first attempt of the first
// window, so a backend whose count times out still serves plain pages.
func (r *run) wantCount() bool {
	return r.res.Pages == 0 && r.res.Total == nil && !r.lenient && !r.countFailed
}

func (r *run) request(ctx context.Context) State {
	if err := ctx.Err(); err != nil {
		return r.cancelled(err)
	}

	r.attempt++
	r.res.Attempts++

	req := source.Request{
		Table:      r.t.Table,
		Columns:    r.t.Columns,
		From:       r.from,
		To:         r.to(),
		OrderBy:    r.opts.OrderBy,
		CountTotal: r.wantCount(),
	}

	start := time.Now()
	page, err := r.f.Reader.Read(ctx, req)
	d := time.Since(start)

	if err != nil {
		metrics.RecordPage(r.t.Table, "error", 0, d)
		r.logf("stage=page run=%s table=%s from=%d to=%d attempt=%d lenient=%t status=error kind=%s duration=%s err=%q",
			r.res.RunID, r.t.Table, req.From, req.To, r.attempt, r.lenient, source.KindOf(err), d.Truncate(time.Millisecond), err)
		r.lastErr = err
		if req.CountTotal {
			r.countFailed = true
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return r.cancelled(ctxErr)
		}
		return PageFailed
	}

	if page.CountErr != nil {
		r.logf("stage=count run=%s table=%s status=error kind=%s err=%q",
			r.res.RunID, r.t.Table, source.KindOf(page.CountErr), page.CountErr)
	}
	metrics.RecordPage(r.t.Table, "ok", len(page.Rows), d)
	r.logf("stage=page run=%s table=%s from=%d to=%d attempt=%d lenient=%t status=ok rows=%d duration=%s",
		r.res.RunID, r.t.Table, req.From, req.To, r.attempt, r.lenient, len(page.Rows), d.Truncate(time.Millisecond))
	r.page = page
	return PageSucceeded
}

func (r *run) succeeded() State {
	page := r.page
	r.page = source.Page{}

	r.res.Pages++
	r.res.Rows = append(r.res.Rows, page.Rows...)
	if r.res.Total == nil && page.Total != nil {
		n := *page.Total
		r.res.Total = &n
	}
	r.attempt = 0
	r.skips = 0
	r.lastErr = nil

	if len(page.Rows) < r.size {
		return Completed
	}
	r.from += r.size
	return RequestingPage
}

func (r *run) failed() State {
	if source.KindOf(r.lastErr) == source.KindSchema {
		r.err = &SchemaError{Table: r.t.Table, Err: r.lastErr}
		return Aborted
	}

	if r.lenient {
		return r.skip()
	}
	if r.attempt < r.opts.MaxAttempts {
		return Retrying
	}
	if r.size > r.opts.MinPageSize {
		return Degrading
	}
	r.err = r.exhausted()
	return Aborted
}

// skip abandons the current window in the lenient loop.
func (r *run) skip() State {
	w := Window{From: r.from, To: r.to(), Err: r.lastErr.Error()}
	r.res.Skipped = append(r.res.Skipped, w)
	r.skips++
	metrics.RecordSkip(r.t.Table)
	r.logf("stage=skip run=%s table=%s from=%d to=%d consecutive=%d", r.res.RunID, r.t.Table, w.From, w.To, r.skips)

	if r.skips >= r.opts.MaxSkippedWindows {
		r.err = r.exhausted()
		return Aborted
	}
	r.from += r.size
	r.attempt = 0
	return RequestingPage
}

func (r *run) retry(ctx context.Context) State {
	delay := r.opts.BackoffStep * time.Duration(r.attempt)
	metrics.RecordRetry(r.t.Table, source.KindOf(r.lastErr).String())
	r.logf("stage=retry run=%s table=%s from=%d next_attempt=%d/%d backoff=%s",
		r.res.RunID, r.t.Table, r.from, r.attempt+1, r.opts.MaxAttempts, delay)

	if err := r.sleep(ctx, delay); err != nil {
		return r.cancelled(err)
	}
	return RequestingPage
}

func (r *run) degrade() State {
	prev := r.size
	r.size = r.opts.degradedSize(prev)
	r.lenient = true
	r.attempt = 0
	r.res.Degraded = true
	metrics.RecordDegrade(r.t.Table)
	r.logf("stage=degrade run=%s table=%s from=%d page_size=%d->%d", r.res.RunID, r.t.Table, r.from, prev, r.size)
	return RequestingPage
}

func (r *run) cancelled(err error) State {
	r.err = fmt.Errorf("fetch %s: %w", r.t.Table, err)
	return Aborted
}

func (r *run) exhausted() error {
	return &ExhaustedRetriesError{
		Table:    r.t.Table,
		From:     r.from,
		To:       r.to(),
		PageSize: r.size,
		Attempts: r.res.Attempts,
		Err:      r.lastErr,
	}
}

func (r *run) sleep(ctx context.Context, d time.Duration) error {
	if r.f.Sleep != nil {
		return r.f.Sleep(ctx, d)
	}
	return sleepCtx(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (f *Fetcher) logger() func(format string, v ...any) {
	if f.Logger == nil {
		l := log.New(discardWriter{}, "", 0)
		return l.Printf
	}
	return f.Logger.Printf
}

func (f *Fetcher) runID() string {
	if f.NewRunID != nil {
		return f.NewRunID()
	}
	return uuid.NewString()
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }

type discardWriter struct{}

func (discardWriter) Write(p []byte) (n int, err error) { return len(p), nil }
