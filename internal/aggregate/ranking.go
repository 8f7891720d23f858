package aggregate

import (
	"slices"
	"strconv"
)

// DefaultTopN is the ranking size used when a non-positive limit is given.
const DefaultTopN = 10

// Ranked is one chart entry.
type Ranked struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
	Type  string `json:"type,omitempty"`
}

// TopN returns the limit most frequent entries of freq, by count descending.
// Ties keep the frequency's first-seen order. A non-positive limit means
// DefaultTopN.
func TopN(freq *Frequency, limit int) []Ranked {
	if limit <= 0 {
		limit = DefaultTopN
	}
	out := freq.Entries()
	slices.SortStableFunc(out, func(a, b Ranked) int {
		return b.Value - a.Value
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// TopNTagged is TopN with every entry labeled with a series type.
func TopNTagged(freq *Frequency, typ string, limit int) []Ranked {
	out := TopN(freq, limit)
	for i := range out {
		out[i].Type = typ
	}
	return out
}

func itoa(n int) string { return strconv.Itoa(n) }
