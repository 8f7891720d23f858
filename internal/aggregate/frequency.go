// Package aggregate computes chart inputs from materialized record sets:
// frequency tables, paired regional statistics, rankings and simple numeric
// summaries.
//
// Aggregations are pure and never fail on data: missing or malformed values
// become a placeholder or zero.
package aggregate

import (
	"bytes"
	"encoding/json"
)

// Frequency counts occurrences per key and remembers first-seen key order,
// which is the tie-break order of rankings.
//
// The zero value is ready to use.
type Frequency struct {
	keys   []string
	counts map[string]int
}

// NewFrequency returns an empty Frequency.
func NewFrequency() *Frequency {
	return &Frequency{counts: make(map[string]int)}
}

// FrequencyOf builds a Frequency from (key, count) pairs in the given order.
// Repeated keys accumulate.
func FrequencyOf(pairs ...Ranked) *Frequency {
	f := NewFrequency()
	for _, p := range pairs {
		f.AddN(p.Name, p.Value)
	}
	return f
}

// Add counts one occurrence of key.
func (f *Frequency) Add(key string) { f.AddN(key, 1) }

// AddN counts n occurrences of key. Non-positive n only registers the key.
func (f *Frequency) AddN(key string, n int) {
	if f.counts == nil {
		f.counts = make(map[string]int)
	}
	if _, ok := f.counts[key]; !ok {
		f.keys = append(f.keys, key)
	}
	f.counts[key] += max(n, 0)
}

// Count returns the count of key (0 if absent).
func (f *Frequency) Count(key string) int {
	if f == nil {
		return 0
	}
	return f.counts[key]
}

// Keys returns the keys in first-seen order. The slice must not be modified.
func (f *Frequency) Keys() []string {
	if f == nil {
		return nil
	}
	return f.keys
}

// Len returns the number of distinct keys.
func (f *Frequency) Len() int {
	if f == nil {
		return 0
	}
	return len(f.keys)
}

// Total returns the sum of all counts.
func (f *Frequency) Total() int {
	if f == nil {
		return 0
	}
	n := 0
	for _, c := range f.counts {
		n += c
	}
	return n
}

// Entries returns (key, count) pairs in first-seen order.
func (f *Frequency) Entries() []Ranked {
	if f == nil {
		return nil
	}
	out := make([]Ranked, len(f.keys))
	for i, k := range f.keys {
		out[i] = Ranked{Name: k, Value: f.counts[k]}
	}
	return out
}

// MarshalJSON writes the frequency as a JSON object in first-seen order.
func (f *Frequency) MarshalJSON() ([]byte, error) {
	if f == nil {
		return []byte("{}"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range f.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.WriteString(itoa(f.counts[k]))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
