// Package probe diagnoses table access through a source.Reader.
//
// The probe package is responsible for:
//   - Listing readable tables, from the backend catalog when the reader can
//     enumerate tables, otherwise by probing well-known table names.
//   - Checking access to one table: existence, exact row count and a small
//     sample, flagging row-level security policies that hide every row.
//   - Running the individual access checks as named tests.
//
// All probes are best-effort: backend failures are reported in the results,
// never returned as errors, except for context cancellation.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"bizdash/internal/source"
	"bizdash/pkg/records"
)

// DefaultCandidates are the table names probed when the backend cannot list
// its tables.
var DefaultCandidates = []string{"sof", "SOF", "rfq", "RFQ", "kotra", "KOTRA"}

// Sample sizes of CheckAccess.
const (
	SampleRows = 5
	KeepSample = 2
)

// Logger is the minimal logging interface used by the probes.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Prober runs probes against one Reader.
type Prober struct {
	Reader source.Reader
	Logger Logger

	// Candidates overrides DefaultCandidates.
	Candidates []string
}

// New returns a Prober for r.
func New(r source.Reader, logger Logger) *Prober {
	return &Prober{Reader: r, Logger: logger}
}

// Tables is the result of ListTables.
type Tables struct {
	Names []string `json:"names"`

	// Source is "catalog" when names come from the backend, "candidates" when
	// they were found by probing.
	Source string `json:"source"`

	// CatalogError is set when the catalog lookup failed and probing was used.
	CatalogError string `json:"catalog_error,omitempty"`
}

// ListTables returns the readable tables.
//
// When the reader implements source.TableLister its result is used as is.
// Otherwise, or when listing fails, each candidate name is probed with a
// one-row read and kept when the read succeeds.
//
// Errors:
//   - Only ctx.Err() (wrapped). Probe failures are not errors.
func (p *Prober) ListTables(ctx context.Context) (Tables, error) {
	logf := p.logger()

	if l, ok := p.Reader.(source.TableLister); ok {
		names, err := l.ListTables(ctx)
		if err == nil {
			logf("stage=list_tables source=catalog tables=%d", len(names))
			return Tables{Names: names, Source: "catalog"}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Tables{}, fmt.Errorf("probe: list tables: %w", ctxErr)
		}
		logf("stage=list_tables source=catalog status=error err=%q", err)
		out, perr := p.probeCandidates(ctx)
		out.CatalogError = err.Error()
		return out, perr
	}
	return p.probeCandidates(ctx)
}

func (p *Prober) probeCandidates(ctx context.Context) (Tables, error) {
	logf := p.logger()
	cands := p.Candidates
	if len(cands) == 0 {
		cands = DefaultCandidates
	}

	out := Tables{Names: []string{}, Source: "candidates"}
	for _, name := range cands {
		if _, err := p.read(ctx, name, 1, false); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return out, fmt.Errorf("probe: list tables: %w", ctxErr)
			}
			logf("stage=probe_table table=%s exists=false kind=%s err=%q", name, source.KindOf(err), err)
			continue
		}
		logf("stage=probe_table table=%s exists=true", name)
		out.Names = append(out.Names, name)
	}
	return out, nil
}

// AccessReport describes what the current credentials can read of a table.
type AccessReport struct {
	Table       string `json:"table"`
	TableExists bool   `json:"table_exists"`

	// TotalCount is the exact row count, nil when the backend cannot count.
	TotalCount *int64 `json:"total_count,omitempty"`
	SampleRows int    `json:"sample_rows"`

	// HasRowPolicyIssue is set when the table reports rows but a plain read
	// returns none, the signature of a row-level security policy.
	HasRowPolicyIssue bool `json:"has_row_policy_issue"`

	Sample []records.Record `json:"sample,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// CheckAccess probes table in three steps: a one-row existence read, an
// exact count, and a SampleRows-row sample of which KeepSample rows are kept.
//
// Errors:
//   - Only ctx.Err() (wrapped). A failed step is recorded in the report.
func (p *Prober) CheckAccess(ctx context.Context, table string) (AccessReport, error) {
	logf := p.logger()
	rep := AccessReport{Table: table}

	if _, err := p.read(ctx, table, 1, false); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return rep, fmt.Errorf("probe: check access %s: %w", table, ctxErr)
		}
		rep.Error = err.Error()
		logf("stage=check_access table=%s exists=false err=%q", table, err)
		return rep, nil
	}
	rep.TableExists = true

	counted, err := p.read(ctx, table, 1, true)
	switch {
	case err != nil:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return rep, fmt.Errorf("probe: check access %s: %w", table, ctxErr)
		}
		rep.Error = fmt.Sprintf("count: %v", err)
	case counted.CountErr != nil:
		rep.Error = fmt.Sprintf("count: %v", counted.CountErr)
	case counted.Total != nil:
		n := *counted.Total
		rep.TotalCount = &n
	}

	sample, err := p.read(ctx, table, SampleRows, false)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return rep, fmt.Errorf("probe: check access %s: %w", table, ctxErr)
		}
		if rep.Error != "" {
			rep.Error += "; "
		}
		rep.Error += fmt.Sprintf("sample: %v", err)
	}
	rep.SampleRows = len(sample.Rows)
	rep.Sample = sample.Rows[:min(KeepSample, len(sample.Rows))]
	rep.HasRowPolicyIssue = rep.TotalCount != nil && *rep.TotalCount > 0 && rep.SampleRows == 0

	total := int64(-1)
	if rep.TotalCount != nil {
		total = *rep.TotalCount
	}
	if rep.HasRowPolicyIssue {
		logf("stage=check_access table=%s status=warn total=%d sample=%d msg=%q",
			table, total, rep.SampleRows, "rows exist but none are readable; check row-level security policies")
	} else {
		logf("stage=check_access table=%s status=ok total=%d sample=%d", table, total, rep.SampleRows)
	}
	return rep, nil
}

// TestResult is the outcome of one named access test.
type TestResult struct {
	Name     string        `json:"name"`
	Success  bool          `json:"success"`
	Rows     int           `json:"rows"`
	Count    *int64        `json:"count,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// TestAccess runs the select and count tests against table and returns one
// result per test, in that order.
//
// Errors:
//   - Only ctx.Err() (wrapped).
func (p *Prober) TestAccess(ctx context.Context, table string) ([]TestResult, error) {
	tests := []struct {
		name  string
		limit int
		count bool
	}{
		{name: "select", limit: 1},
		{name: "count", limit: 1, count: true},
	}

	logf := p.logger()
	out := make([]TestResult, 0, len(tests))
	for _, tc := range tests {
		start := time.Now()
		page, err := p.read(ctx, table, tc.limit, tc.count)
		if err == nil && page.CountErr != nil {
			err = page.CountErr
		}
		res := TestResult{Name: tc.name, Duration: time.Since(start)}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return out, fmt.Errorf("probe: test access %s: %w", table, ctxErr)
			}
			res.Error = err.Error()
		} else {
			res.Success = true
			res.Rows = len(page.Rows)
			if tc.count {
				res.Count = page.Total
			}
		}
		logf("stage=test_access table=%s test=%s success=%t rows=%d duration=%s",
			table, tc.name, res.Success, res.Rows, res.Duration.Truncate(time.Millisecond))
		out = append(out, res)
	}
	return out, nil
}

func (p *Prober) read(ctx context.Context, table string, limit int, count bool) (source.Page, error) {
	if p.Reader == nil {
		return source.Page{}, errors.New("probe: Reader is required")
	}
	return p.Reader.Read(ctx, source.Request{
		Table:      table,
		From:       0,
		To:         limit - 1,
		CountTotal: count,
	})
}

func (p *Prober) logger() func(format string, v ...any) {
	if p.Logger == nil {
		return log.New(discardWriter{}, "", 0).Printf
	}
	return p.Logger.Printf
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (n int, err error) { return len(p), nil }
