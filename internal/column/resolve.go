// Package column resolves logical column names against the actual keys of
// loosely-typed records.
//
// Matching ignores case and whitespace only: "Country A" matches "countrya"
// and "COUNTRY A", but not "country_a" (underscores are not whitespace).
// Callers that need more than that supply a SchemaMap at configuration time
// instead of guessing alternative spellings at call sites.
package column

import (
	"sync"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"bizdash/pkg/records"
)

// Placeholder stands in for a missing column or a nil value wherever the
// value must still be counted.
const Placeholder = "(empty)"

// Lookup is the resolution contract consumed by the aggregators.
type Lookup interface {
	// Resolve returns the actual key in rec that logical refers to.
	Resolve(rec records.Record, logical string) (string, bool)
}

// SchemaMap maps a logical column name to explicit candidate keys, tried in
// order before normalized matching.
type SchemaMap map[string][]string

// Resolver implements Lookup. It is safe for concurrent use.
type Resolver struct {
	schema map[string][]string // normalized logical name -> candidates
	cache  sync.Map            // raw string -> normalized string
}

// NewResolver returns a resolver. schema may be nil.
func NewResolver(schema SchemaMap) *Resolver {
	r := &Resolver{}
	if len(schema) > 0 {
		r.schema = make(map[string][]string, len(schema))
		for logical, cands := range schema {
			n := Normalize(logical)
			r.schema[n] = append(r.schema[n], cands...)
		}
	}
	return r
}

// Default is the schema-less resolver used by the package-level helpers.
var Default = NewResolver(nil)

// Resolve returns the first key of rec (in record order) matching logical.
//
// With a SchemaMap entry for logical, candidates present verbatim in rec win
// first, then the normalized scan for logical, then a normalized scan for
// each candidate. If several keys normalize identically the first one wins.
func (r *Resolver) Resolve(rec records.Record, logical string) (string, bool) {
	want := r.normalize(logical)

	cands := r.schema[want]
	for _, c := range cands {
		if _, ok := rec.Get(c); ok {
			return c, true
		}
	}

	if k, ok := r.scan(rec, want); ok {
		return k, true
	}
	for _, c := range cands {
		if k, ok := r.scan(rec, r.normalize(c)); ok {
			return k, true
		}
	}
	return "", false
}

func (r *Resolver) scan(rec records.Record, want string) (string, bool) {
	for _, k := range rec.Keys() {
		if r.normalize(k) == want {
			return k, true
		}
	}
	return "", false
}

// Value returns the value of the logical column in rec.
// ok is false when the column cannot be resolved.
func (r *Resolver) Value(rec records.Record, logical string) (v any, ok bool) {
	k, ok := r.Resolve(rec, logical)
	if !ok {
		return nil, false
	}
	v, _ = rec.Get(k)
	return v, true
}

// KeyOf returns the grouping key for logical in rec: the formatted value, or
// Placeholder when the column is missing or nil.
func (r *Resolver) KeyOf(rec records.Record, logical string) string {
	v, ok := r.Value(rec, logical)
	if !ok || v == nil {
		return Placeholder
	}
	return records.FormatValue(v)
}

// UniqueValues returns the distinct grouping keys of logical across recs in
// order of first appearance. Missing and nil values are kept as Placeholder.
func (r *Resolver) UniqueValues(recs []records.Record, logical string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, rec := range recs {
		k := r.KeyOf(rec, logical)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

func (r *Resolver) normalize(s string) string {
	if v, ok := r.cache.Load(s); ok {
		return v.(string)
	}
	n := Normalize(s)
	r.cache.Store(s, n)
	return n
}

// Resolve resolves logical in rec with the Default resolver.
func Resolve(rec records.Record, logical string) (string, bool) {
	return Default.Resolve(rec, logical)
}

// UniqueValues runs Resolver.UniqueValues with the Default resolver.
func UniqueValues(recs []records.Record, logical string) []string {
	return Default.UniqueValues(recs, logical)
}

// casers are not safe for concurrent use; pool them.
var lowerPool = sync.Pool{
	New: func() any { return cases.Lower(language.Und) },
}

// Normalize strips every whitespace rune (including U+FEFF) and lower-cases
// the rest.
func Normalize(s string) string {
	buf := make([]rune, 0, len(s))
	for _, r := range s {
		if isSpace(r) {
			continue
		}
		buf = append(buf, r)
	}

	c := lowerPool.Get().(cases.Caser)
	out := c.String(string(buf))
	lowerPool.Put(c)
	return out
}

// isSpace is unicode.IsSpace plus U+FEFF, minus U+0085 (NEL). Header cells
// keep NEL as part of the name.
func isSpace(r rune) bool {
	switch r {
	case '\uFEFF':
		return true
	case '\u0085':
		return false
	}
	return unicode.IsSpace(r)
}
