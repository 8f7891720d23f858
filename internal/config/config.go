// Package config defines the report job configuration consumed by cmd/report.
//
// Jobs are JSON documents; files ending in .yaml or .yml are decoded as YAML
// with the same field names.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"bizdash/internal/aggregate"
	"bizdash/internal/column"
	"bizdash/internal/source"
)

// Job is one report run: a backend, the datasets to fetch from it and what to
// compute over each dataset.
type Job struct {
	Job    string        `json:"job" yaml:"job"`
	Source source.Config `json:"source" yaml:"source"`

	// Schema maps logical column names to explicit candidate keys for every
	// dataset of the job.
	Schema column.SchemaMap `json:"schema,omitempty" yaml:"schema,omitempty"`

	Datasets []Dataset `json:"datasets" yaml:"datasets"`
	Runtime  Runtime   `json:"runtime" yaml:"runtime"`
}

// Dataset is one table fetched in full and aggregated.
type Dataset struct {
	Name  string `json:"name" yaml:"name"`
	Table string `json:"table" yaml:"table"`

	// Columns projects the fetch; empty or ["*"] selects every column.
	Columns []string `json:"columns,omitempty" yaml:"columns,omitempty"`

	// Conservative starts from the small page size used for wide tables.
	Conservative bool   `json:"conservative,omitempty" yaml:"conservative,omitempty"`
	OrderBy      string `json:"order_by,omitempty" yaml:"order_by,omitempty"`

	Filter    aggregate.Filter `json:"filter,omitempty" yaml:"filter,omitempty"`
	Pivot     []string         `json:"pivot,omitempty" yaml:"pivot,omitempty"`
	Dashboard *Dashboard       `json:"dashboard,omitempty" yaml:"dashboard,omitempty"`
	Rankings  []Ranking        `json:"rankings,omitempty" yaml:"rankings,omitempty"`
}

// Dashboard enables the regional KPI block of a dataset. Empty fields take
// the aggregate package defaults.
type Dashboard struct {
	Pairs         aggregate.RegionalPairs `json:"pairs" yaml:"pairs"`
	AmountColumns []string                `json:"amount_columns,omitempty" yaml:"amount_columns,omitempty"`
	StatusColumns []string                `json:"status_columns,omitempty" yaml:"status_columns,omitempty"`
	TopN          int                     `json:"top_n,omitempty" yaml:"top_n,omitempty"`
}

// Ranking asks for the top values of one column.
type Ranking struct {
	Column string `json:"column" yaml:"column"`
	Limit  int    `json:"limit,omitempty" yaml:"limit,omitempty"`
	Type   string `json:"type,omitempty" yaml:"type,omitempty"`
}

// Runtime tunes fetching. Zero values take the fetch package defaults.
type Runtime struct {
	// Parallelism bounds how many datasets are fetched at once (default 4).
	Parallelism int `json:"parallelism,omitempty" yaml:"parallelism,omitempty"`

	PageSize          int `json:"page_size,omitempty" yaml:"page_size,omitempty"`
	MinPageSize       int `json:"min_page_size,omitempty" yaml:"min_page_size,omitempty"`
	MaxAttempts       int `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
	BackoffMS         int `json:"backoff_ms,omitempty" yaml:"backoff_ms,omitempty"`
	MaxSkippedWindows int `json:"max_skipped_windows,omitempty" yaml:"max_skipped_windows,omitempty"`

	// FailFast cancels the remaining datasets on the first fetch error.
	FailFast bool `json:"fail_fast,omitempty" yaml:"fail_fast,omitempty"`
}

// DefaultParallelism is used when Runtime.Parallelism is zero.
const DefaultParallelism = 4

// Load reads a job file. The format is chosen by extension: .yaml and .yml
// are YAML, anything else is JSON.
func Load(path string) (Job, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Job{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return DecodeYAML(b)
	default:
		return DecodeJSON(b)
	}
}

// DecodeJSON decodes a JSON job.
func DecodeJSON(b []byte) (Job, error) {
	var j Job
	if err := json.NewDecoder(bytes.NewReader(b)).Decode(&j); err != nil {
		return Job{}, fmt.Errorf("config: decode json: %w", err)
	}
	return j, nil
}

// DecodeYAML decodes a YAML job. Unknown fields are rejected.
func DecodeYAML(b []byte) (Job, error) {
	var j Job
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&j); err != nil {
		return Job{}, fmt.Errorf("config: decode yaml: %w", err)
	}
	return j, nil
}
