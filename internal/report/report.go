// Package report runs configured report jobs: it fetches every dataset of a
// job in full and computes the pivot trees, regional dashboards and rankings
// asked for.
package report

import (
	"time"

	"bizdash/internal/aggregate"
	"bizdash/internal/config"
	"bizdash/internal/fetch"
	"bizdash/internal/pivot"
	"bizdash/pkg/records"
)

// Report is the result of one job run.
type Report struct {
	Job      string          `json:"job"`
	Started  time.Time       `json:"started"`
	Duration time.Duration   `json:"duration_ns"`
	Datasets []DatasetReport `json:"datasets"`
}

// Failed returns the datasets whose fetch or aggregation failed.
func (r *Report) Failed() []DatasetReport {
	var out []DatasetReport
	for _, d := range r.Datasets {
		if d.Error != "" {
			out = append(out, d)
		}
	}
	return out
}

// Dataset returns the report of the named dataset.
func (r *Report) Dataset(name string) (DatasetReport, bool) {
	for _, d := range r.Datasets {
		if d.Name == name {
			return d, true
		}
	}
	return DatasetReport{}, false
}

// DatasetReport is the outcome of one dataset. A failed fetch still reports
// the rows it retrieved and the aggregations over them.
type DatasetReport struct {
	Name  string `json:"name"`
	Table string `json:"table"`
	RunID string `json:"run_id"`

	Rows     int `json:"rows"`
	Filtered int `json:"filtered"` // rows kept by the filter
	Pages    int `json:"pages"`
	Attempts int `json:"attempts"`

	Degraded      bool           `json:"degraded"`
	FinalPageSize int            `json:"final_page_size"`
	Skipped       []fetch.Window `json:"skipped,omitempty"`
	Total         *int64         `json:"total,omitempty"`

	// Fingerprint identifies the fetched row set regardless of row order;
	// equal fingerprints across runs mean the table did not change. Empty for
	// partial fetches.
	Fingerprint string `json:"fingerprint,omitempty"`

	Pivot     []pivot.Node             `json:"pivot,omitempty"`
	Dashboard *aggregate.DashboardData `json:"dashboard,omitempty"`
	Rankings  []Ranking                `json:"rankings,omitempty"`

	// Error is the fetch or aggregation error, empty on success.
	Error   string `json:"error,omitempty"`
	Partial bool   `json:"partial"`

	records []records.Record
}

// Records returns the filtered records the aggregations were computed from.
func (d DatasetReport) Records() []records.Record { return d.records }

// Ranking is the top values of one column.
type Ranking struct {
	Column  string             `json:"column"`
	Entries []aggregate.Ranked `json:"entries"`
}

// fetchOptions maps a dataset and the job runtime onto the fetch ladder.
// Conservative datasets keep the smaller of the conservative and configured
// page sizes.
func fetchOptions(rt config.Runtime, d config.Dataset) fetch.Options {
	o := fetch.DefaultOptions()
	if d.Conservative {
		o = fetch.ConservativeOptions()
	}
	if rt.PageSize > 0 {
		if d.Conservative {
			o.PageSize = min(o.PageSize, rt.PageSize)
		} else {
			o.PageSize = rt.PageSize
		}
	}
	if rt.MinPageSize > 0 {
		o.MinPageSize = rt.MinPageSize
	}
	if rt.MaxAttempts > 0 {
		o.MaxAttempts = rt.MaxAttempts
	}
	if rt.BackoffMS > 0 {
		o.BackoffStep = time.Duration(rt.BackoffMS) * time.Millisecond
	}
	if rt.MaxSkippedWindows > 0 {
		o.MaxSkippedWindows = rt.MaxSkippedWindows
	}
	o.OrderBy = d.OrderBy
	return o
}
