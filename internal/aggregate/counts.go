package aggregate

import (
	"encoding/json"
	"math"
	"slices"
	"strconv"
	"strings"

	"bizdash/internal/column"
	"bizdash/pkg/records"
)

// ValueCounts runs Aggregator.ValueCounts with column.Default.
func ValueCounts(recs []records.Record, col string) *Frequency {
	return Aggregator{}.ValueCounts(recs, col)
}

// ValueCounts counts the formatted values of col across recs. Missing
// columns and nil values are counted under column.Placeholder.
func (a Aggregator) ValueCounts(recs []records.Record, col string) *Frequency {
	f := NewFrequency()
	for _, rec := range recs {
		f.Add(a.key(rec, col))
	}
	return f
}

// Filter keeps records whose Column value equals one of Values. Values are
// compared as grouping keys, so column.Placeholder selects missing or nil
// values. A Filter with no Column or no Values keeps everything.
type Filter struct {
	Column string   `json:"column" yaml:"column"`
	Values []string `json:"values" yaml:"values"`
}

// IsZero reports whether f keeps every record.
func (f Filter) IsZero() bool { return f.Column == "" || len(f.Values) == 0 }

// Apply runs Aggregator.Apply with column.Default.
func (f Filter) Apply(recs []records.Record) []records.Record {
	return Aggregator{}.Apply(f, recs)
}

// Apply returns the records of recs matched by f, in order. The input is
// returned as is when f keeps everything.
func (a Aggregator) Apply(f Filter, recs []records.Record) []records.Record {
	if f.IsZero() {
		return recs
	}
	out := make([]records.Record, 0, len(recs))
	for _, rec := range recs {
		if slices.Contains(f.Values, a.key(rec, f.Column)) {
			out = append(out, rec)
		}
	}
	return out
}

// NumericSummary aggregates the positive amounts of a record set.
type NumericSummary struct {
	Column   string  `json:"column,omitempty"` // first candidate that resolved on any record
	Total    float64 `json:"total"`
	Positive int     `json:"positive"`
	Average  float64 `json:"average"`
}

// SumNumeric runs Aggregator.SumNumeric with column.Default.
func SumNumeric(recs []records.Record, candidates ...string) NumericSummary {
	return Aggregator{}.SumNumeric(recs, candidates...)
}

// SumNumeric sums an amount per record, taken from the first candidate column
// holding a non-blank, non-zero value.
//
// Edge cases:
//   - Values that do not parse as numbers count as 0.
//   - Only amounts > 0 contribute to Total, Positive and Average.
//   - Average is 0 when no record has a positive amount.
func (a Aggregator) SumNumeric(recs []records.Record, candidates ...string) NumericSummary {
	var s NumericSummary
	for _, rec := range recs {
		v, col := a.firstSet(rec, candidates)
		if s.Column == "" {
			s.Column = col
		}
		n := toFloat(v)
		if !(n > 0) || math.IsInf(n, 0) {
			continue
		}
		s.Total += n
		s.Positive++
	}
	if s.Positive > 0 {
		s.Average = s.Total / float64(s.Positive)
	}
	return s
}

// firstSet returns the first candidate value that is neither blank nor zero.
func (a Aggregator) firstSet(rec records.Record, candidates []string) (any, string) {
	for _, c := range candidates {
		k, ok := a.lookup().Resolve(rec, c)
		if !ok {
			continue
		}
		v, _ := rec.Get(k)
		if records.IsBlank(v) || isZeroNumber(v) {
			continue
		}
		return v, c
	}
	return nil, ""
}

// firstKey returns the grouping key of the first candidate holding a
// non-blank value, or column.Placeholder.
func (a Aggregator) firstKey(rec records.Record, candidates []string) string {
	for _, c := range candidates {
		k, ok := a.lookup().Resolve(rec, c)
		if !ok {
			continue
		}
		if v, _ := rec.Get(k); !records.IsBlank(v) {
			return records.FormatValue(v)
		}
	}
	return column.Placeholder
}

func isZeroNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return toFloat(v) == 0
	}
	return false
}

// toFloat coerces v to a number. Strings may carry surrounding spaces and
// thousands separators; anything else that is not numeric is 0.
func toFloat(v any) float64 {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int8:
		return float64(t)
	case int16:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint:
		return float64(t)
	case uint8:
		return float64(t)
	case uint16:
		return float64(t)
	case uint32:
		return float64(t)
	case uint64:
		return float64(t)
	case float32:
		return float64(t)
	case float64:
		return t
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0
		}
		return f
	case string:
		return parseAmount(t)
	case []byte:
		return parseAmount(string(t))
	}
	return 0
}

func parseAmount(s string) float64 {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
