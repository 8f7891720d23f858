package config

import (
	"fmt"

	"bizdash/internal/pivot"
)

// Severity of a validation Issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path is a dotted path into the job, e.g.
// "datasets[1].table".
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string { return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message) }

// Validate checks j and returns every issue found, errors and warnings mixed
// in document order. A job is runnable when no issue has SeverityError.
func Validate(j Job) []Issue {
	var out []Issue
	add := func(sev Severity, path, format string, a ...any) {
		out = append(out, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, a...)})
	}

	if j.Source.Kind == "" {
		add(SeverityError, "source.kind", "must be set")
	}
	if j.Source.DSN == "" {
		add(SeverityError, "source.dsn", "must be set")
	}

	if len(j.Datasets) == 0 {
		add(SeverityError, "datasets", "must not be empty")
	}
	seen := make(map[string]int, len(j.Datasets))
	for i, d := range j.Datasets {
		p := fmt.Sprintf("datasets[%d]", i)
		if d.Name == "" {
			add(SeverityError, p+".name", "must be set")
		} else if first, dup := seen[d.Name]; dup {
			add(SeverityError, p+".name", "duplicate of datasets[%d]", first)
		} else {
			seen[d.Name] = i
		}
		if d.Table == "" {
			add(SeverityError, p+".table", "must be set")
		}
		if len(d.Pivot) > pivot.MaxDepth {
			add(SeverityError, p+".pivot", "%d selectors exceed the maximum depth %d", len(d.Pivot), pivot.MaxDepth)
		}
		for k, sel := range d.Pivot {
			if sel == "" {
				add(SeverityError, fmt.Sprintf("%s.pivot[%d]", p, k), "must not be empty")
			}
		}
		if d.Filter.Column != "" && len(d.Filter.Values) == 0 {
			add(SeverityWarning, p+".filter.values", "empty; the filter keeps every record")
		}
		if d.Filter.Column == "" && len(d.Filter.Values) > 0 {
			add(SeverityError, p+".filter.column", "must be set when values are given")
		}
		for k, r := range d.Rankings {
			rp := fmt.Sprintf("%s.rankings[%d]", p, k)
			if r.Column == "" {
				add(SeverityError, rp+".column", "must be set")
			}
			if r.Limit < 0 {
				add(SeverityError, rp+".limit", "must be >= 0")
			}
		}
		if d.Dashboard == nil && len(d.Pivot) == 0 && len(d.Rankings) == 0 {
			add(SeverityWarning, p, "no pivot, dashboard or rankings; only the fetch summary is reported")
		}
	}

	rt := j.Runtime
	for _, f := range []struct {
		path string
		v    int
	}{
		{"runtime.parallelism", rt.Parallelism},
		{"runtime.page_size", rt.PageSize},
		{"runtime.min_page_size", rt.MinPageSize},
		{"runtime.max_attempts", rt.MaxAttempts},
		{"runtime.backoff_ms", rt.BackoffMS},
		{"runtime.max_skipped_windows", rt.MaxSkippedWindows},
	} {
		if f.v < 0 {
			add(SeverityError, f.path, "must be >= 0")
		}
	}
	if rt.PageSize > 0 && rt.MinPageSize > rt.PageSize {
		add(SeverityWarning, "runtime.min_page_size", "greater than page_size; clamped to %d", rt.PageSize)
	}
	return out
}

// HasErrors reports whether issues contains an error.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}
