package aggregate

import (
	"slices"

	"bizdash/internal/column"
	"bizdash/pkg/records"
)

// Dimension holds the values of one side of a regional pair.
type Dimension struct {
	Column string     `json:"column"`
	Raw    []string   `json:"-"`
	Unique []string   `json:"unique"`
	Counts *Frequency `json:"counts"`
}

// RawCount returns the number of non-empty values seen.
func (d Dimension) RawCount() int { return len(d.Raw) }

// RegionalStats compares an origin and a destination column.
type RegionalStats struct {
	Origin    Dimension `json:"origin"`
	Dest      Dimension `json:"dest"`
	AllUnique []string  `json:"all_unique"`
}

// RawTotal is the number of values across both sides.
func (s RegionalStats) RawTotal() int { return len(s.Origin.Raw) + len(s.Dest.Raw) }

// UniqueTotal is the number of distinct values across both sides.
func (s RegionalStats) UniqueTotal() int { return len(s.AllUnique) }

// CompressionRatio is the share of values that repeat across the pair:
// (raw - unique) / raw, or 0 when there are no values at all.
func (s RegionalStats) CompressionRatio() float64 {
	raw := s.RawTotal()
	if raw == 0 {
		return 0
	}
	return float64(raw-s.UniqueTotal()) / float64(raw)
}

// Aggregator resolves columns through Lookup. The zero value uses
// column.Default.
type Aggregator struct {
	Lookup column.Lookup
}

// Regional runs Aggregator.Regional with column.Default.
func Regional(recs []records.Record, originCol, destCol string) RegionalStats {
	return Aggregator{}.Regional(recs, originCol, destCol)
}

// Regional collects the origin and destination values of recs.
//
// Edge cases:
//   - Missing columns, nil values and empty strings are dropped, unlike
//     pivot grouping which counts them under column.Placeholder.
//   - Values are compared by their formatted string, so 1 and "1" are equal.
func (a Aggregator) Regional(recs []records.Record, originCol, destCol string) RegionalStats {
	s := RegionalStats{
		Origin: a.dimension(recs, originCol),
		Dest:   a.dimension(recs, destCol),
	}
	s.AllUnique = distinct(s.Origin.Raw, s.Dest.Raw)
	return s
}

func (a Aggregator) dimension(recs []records.Record, col string) Dimension {
	d := Dimension{Column: col, Counts: NewFrequency()}
	for _, rec := range recs {
		v, ok := a.value(rec, col)
		if !ok {
			continue
		}
		d.Raw = append(d.Raw, v)
		d.Counts.Add(v)
	}
	d.Unique = slices.Clone(d.Counts.Keys())
	return d
}

// value returns the formatted value of col in rec, ok=false when the column
// is missing, nil or an empty string.
func (a Aggregator) value(rec records.Record, col string) (string, bool) {
	k, ok := a.lookup().Resolve(rec, col)
	if !ok {
		return "", false
	}
	v, _ := rec.Get(k)
	if records.IsBlank(v) {
		return "", false
	}
	return records.FormatValue(v), true
}

// key returns the grouping key of col in rec with column.Placeholder for a
// missing column or nil value.
func (a Aggregator) key(rec records.Record, col string) string {
	k, ok := a.lookup().Resolve(rec, col)
	if !ok {
		return column.Placeholder
	}
	v, _ := rec.Get(k)
	if v == nil {
		return column.Placeholder
	}
	return records.FormatValue(v)
}

func (a Aggregator) lookup() column.Lookup {
	if a.Lookup == nil {
		return column.Default
	}
	return a.Lookup
}

func distinct(lists ...[]string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, l := range lists {
		for _, v := range l {
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}
