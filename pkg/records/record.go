// Package records defines the row type shared by readers, the fetcher and
// the aggregators.
//
// A Record is an ordered mapping from column name to scalar value. Order is
// the order in which columns were set (for database readers: the SELECT list
// order) and is preserved through JSON encoding, so "first key" questions
// (CSV headers, column resolution) have a deterministic answer.
package records

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Record is a single row. The zero value is an empty record ready to use.
//
// Records are cheap to copy but copies share storage; use Clone when a
// caller needs to mutate an independent row.
type Record struct {
	keys []string
	vals map[string]any
}

// Make returns an empty record with room for n columns.
func Make(n int) Record {
	return Record{keys: make([]string, 0, n), vals: make(map[string]any, n)}
}

// Of builds a record from alternating key/value arguments.
// It panics if kv has odd length or a key is not a string.
func Of(kv ...any) Record {
	if len(kv)%2 != 0 {
		panic("records: Of called with odd number of arguments")
	}
	r := Make(len(kv) / 2)
	for i := 0; i < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			panic(fmt.Sprintf("records: Of key at position %d is %T, want string", i, kv[i]))
		}
		r.Set(k, kv[i+1])
	}
	return r
}

// Set stores v under k. A new key is appended to the key order; an existing
// key keeps its position.
func (r *Record) Set(k string, v any) {
	if r.vals == nil {
		r.vals = make(map[string]any)
	}
	if _, ok := r.vals[k]; !ok {
		r.keys = append(r.keys, k)
	}
	r.vals[k] = v
}

// Get returns the value stored under the exact key k.
func (r Record) Get(k string) (any, bool) {
	v, ok := r.vals[k]
	return v, ok
}

// Keys returns the column names in order. The slice must not be modified.
func (r Record) Keys() []string { return r.keys }

// Len reports the number of columns.
func (r Record) Len() int { return len(r.keys) }

// Clone returns a deep copy of the key order and a shallow copy of values.
func (r Record) Clone() Record {
	out := Make(len(r.keys))
	for _, k := range r.keys {
		out.Set(k, r.vals[k])
	}
	return out
}

// Map returns the record as a plain map. Order is lost.
func (r Record) Map() map[string]any {
	m := make(map[string]any, len(r.keys))
	for _, k := range r.keys {
		m[k] = r.vals[k]
	}
	return m
}

// MarshalJSON encodes the record as a JSON object with keys in record order.
func (r Record) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			b.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		b.Write(kb)
		b.WriteByte(':')
		vb, err := json.Marshal(r.vals[k])
		if err != nil {
			return nil, fmt.Errorf("records: marshal %q: %w", k, err)
		}
		b.Write(vb)
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object keeping document key order.
//
// Integral numbers become int64, other numbers float64. Nested objects and
// arrays are decoded with encoding/json defaults.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("records: expected JSON object, got %v", tok)
	}

	*r = Make(8)
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := kt.(string)
		if !ok {
			return fmt.Errorf("records: expected object key, got %v", kt)
		}
		var raw any
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("records: decode %q: %w", key, err)
		}
		r.Set(key, fromJSONNumber(raw))
	}
	_, err = dec.Token()
	return err
}

func fromJSONNumber(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := strconv.ParseInt(string(n), 10, 64); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return string(n)
}
