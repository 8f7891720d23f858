package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"bizdash/internal/aggregate"
	"bizdash/internal/column"
	"bizdash/internal/source"
)

const sampleJSON = `{
  "job": "weekly_sof",
  "source": {"kind": "postgres", "dsn": "${REPORT_DSN}"},
  "schema": {"Country A": ["origin_country"]},
  "datasets": [
    {
      "name": "sof",
      "table": "sof_middlemile",
      "conservative": true,
      "filter": {"column": "Order Status", "values": ["Confirmed"]},
      "pivot": ["Country A", "City A"],
      "dashboard": {"pairs": {"countries": {"origin": "Country A", "dest": "Country B"}}},
      "rankings": [{"column": "Country B", "limit": 5, "type": "dest"}]
    }
  ],
  "runtime": {"parallelism": 2, "backoff_ms": 250}
}`

const sampleYAML = `
job: weekly_sof
source:
  kind: postgres
  dsn: ${REPORT_DSN}
schema:
  Country A: [origin_country]
datasets:
  - name: sof
    table: sof_middlemile
    conservative: true
    filter:
      column: Order Status
      values: [Confirmed]
    pivot: [Country A, City A]
    dashboard:
      pairs:
        countries: {origin: Country A, dest: Country B}
    rankings:
      - {column: Country B, limit: 5, type: dest}
runtime:
  parallelism: 2
  backoff_ms: 250
`

func wantSample() Job {
	return Job{
		Job:    "weekly_sof",
		Source: source.Config{Kind: "postgres", DSN: "${REPORT_DSN}"},
		Schema: column.SchemaMap{"Country A": {"origin_country"}},
		Datasets: []Dataset{{
			Name:         "sof",
			Table:        "sof_middlemile",
			Conservative: true,
			Filter:       aggregate.Filter{Column: "Order Status", Values: []string{"Confirmed"}},
			Pivot:        []string{"Country A", "City A"},
			Dashboard: &Dashboard{Pairs: aggregate.RegionalPairs{
				Countries: aggregate.Pair{Origin: "Country A", Dest: "Country B"},
			}},
			Rankings: []Ranking{{Column: "Country B", Limit: 5, Type: "dest"}},
		}},
		Runtime: Runtime{Parallelism: 2, BackoffMS: 250},
	}
}

func TestLoad_JSONAndYAMLAgree(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for name, body := range map[string]string{
		"job.json": sampleJSON,
		"job.yaml": sampleYAML,
		"job.YML":  sampleYAML,
	} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		got, err := Load(path)
		if err != nil {
			t.Fatalf("Load(%s): %v", name, err)
		}
		if diff := cmp.Diff(wantSample(), got); diff != "" {
			t.Fatalf("Load(%s) mismatch (-want +got):\n%s", name, diff)
		}
		if issues := Validate(got); HasErrors(issues) {
			t.Fatalf("Validate(%s)=%v, want no errors", name, issues)
		}
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if _, err := Load(filepath.Join(dir, "missing.json")); err == nil {
		t.Fatalf("Load(missing) err=nil, want error")
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`{"datasets": [`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(bad); err == nil || !strings.Contains(err.Error(), "decode json") {
		t.Fatalf("Load(bad json) err=%v", err)
	}

	unknown := filepath.Join(dir, "unknown.yaml")
	if err := os.WriteFile(unknown, []byte("job: x\nsurprise: 1\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(unknown); err == nil || !strings.Contains(err.Error(), "decode yaml") {
		t.Fatalf("Load(unknown yaml field) err=%v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := wantSample()

	tests := []struct {
		name   string
		mutate func(j *Job)
		want   []Issue
	}{
		{
			name:   "valid",
			mutate: func(*Job) {},
		},
		{
			name:   "missing_source",
			mutate: func(j *Job) { j.Source = source.Config{} },
			want: []Issue{
				{Severity: SeverityError, Path: "source.kind", Message: "must be set"},
				{Severity: SeverityError, Path: "source.dsn", Message: "must be set"},
			},
		},
		{
			name:   "no_datasets",
			mutate: func(j *Job) { j.Datasets = nil },
			want:   []Issue{{Severity: SeverityError, Path: "datasets", Message: "must not be empty"}},
		},
		{
			name: "duplicate_and_missing_fields",
			mutate: func(j *Job) {
				j.Datasets = append(j.Datasets, Dataset{Name: "sof", Pivot: []string{"a"}}, Dataset{Table: "t", Pivot: []string{"a"}})
			},
			want: []Issue{
				{Severity: SeverityError, Path: "datasets[1].name", Message: "duplicate of datasets[0]"},
				{Severity: SeverityError, Path: "datasets[1].table", Message: "must be set"},
				{Severity: SeverityError, Path: "datasets[2].name", Message: "must be set"},
			},
		},
		{
			name: "pivot_too_deep",
			mutate: func(j *Job) {
				j.Datasets[0].Pivot = strings.Split("a,b,c,d,e,f,g,h,i,j,k", ",")
			},
			want: []Issue{{Severity: SeverityError, Path: "datasets[0].pivot", Message: "11 selectors exceed the maximum depth 10"}},
		},
		{
			name: "filter_and_ranking",
			mutate: func(j *Job) {
				j.Datasets[0].Filter = aggregate.Filter{Values: []string{"x"}}
				j.Datasets[0].Rankings = []Ranking{{Limit: -1}}
			},
			want: []Issue{
				{Severity: SeverityError, Path: "datasets[0].filter.column", Message: "must be set when values are given"},
				{Severity: SeverityError, Path: "datasets[0].rankings[0].column", Message: "must be set"},
				{Severity: SeverityError, Path: "datasets[0].rankings[0].limit", Message: "must be >= 0"},
			},
		},
		{
			name: "warnings",
			mutate: func(j *Job) {
				j.Datasets[0].Filter = aggregate.Filter{Column: "Status"}
				j.Datasets[0].Pivot = nil
				j.Datasets[0].Dashboard = nil
				j.Datasets[0].Rankings = nil
				j.Runtime = Runtime{PageSize: 100, MinPageSize: 500}
			},
			want: []Issue{
				{Severity: SeverityWarning, Path: "datasets[0].filter.values", Message: "empty; the filter keeps every record"},
				{Severity: SeverityWarning, Path: "datasets[0]", Message: "no pivot, dashboard or rankings; only the fetch summary is reported"},
				{Severity: SeverityWarning, Path: "runtime.min_page_size", Message: "greater than page_size; clamped to 100"},
			},
		},
		{
			name:   "negative_runtime",
			mutate: func(j *Job) { j.Runtime = Runtime{Parallelism: -1, BackoffMS: -5} },
			want: []Issue{
				{Severity: SeverityError, Path: "runtime.parallelism", Message: "must be >= 0"},
				{Severity: SeverityError, Path: "runtime.backoff_ms", Message: "must be >= 0"},
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			j := valid
			j.Datasets = append([]Dataset(nil), valid.Datasets...)
			tc.mutate(&j)

			got := Validate(j)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("Validate mismatch (-want +got):\n%s", diff)
			}
			wantErr := false
			for _, i := range tc.want {
				wantErr = wantErr || i.Severity == SeverityError
			}
			if HasErrors(got) != wantErr {
				t.Fatalf("HasErrors=%v, want %v", HasErrors(got), wantErr)
			}
		})
	}
}

func TestIssue_String(t *testing.T) {
	t.Parallel()

	i := Issue{Severity: SeverityError, Path: "source.kind", Message: "must be set"}
	if got, want := i.String(), "error: source.kind: must be set"; got != want {
		t.Fatalf("String=%q, want %q", got, want)
	}
}
