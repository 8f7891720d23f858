// Package pivot groups records into a multi-level count tree, one level per
// column selector.
package pivot

import (
	"errors"
	"fmt"

	"bizdash/internal/column"
	"bizdash/pkg/records"
)

// MaxDepth is the largest number of selectors Build accepts.
const MaxDepth = 10

// ErrTooDeep is returned when more than MaxDepth selectors are given.
var ErrTooDeep = errors.New("pivot: too many selectors")

// Node is one group of a pivot tree.
//
// Children is empty (never nil) on the last level.
type Node struct {
	Key      string `json:"key"`
	Column   string `json:"col"`
	Level    int    `json:"level"`
	Count    int    `json:"count"`
	Children []Node `json:"children"`
}

// Builder builds pivot trees resolving selectors through Lookup. The zero
// value uses column.Default.
type Builder struct {
	Lookup column.Lookup
}

// Build runs Builder.Build with column.Default.
func Build(recs []records.Record, selectors []string) ([]Node, error) {
	return Builder{}.Build(recs, selectors)
}

// work is a pending grouping: recs partitioned by selectors[level] into the
// slot *out.
type work struct {
	recs  []records.Record
	level int
	out   *[]Node
}

// Build groups recs by selectors[0], then each group by selectors[1], and so
// on. Groups appear in first-occurrence order.
//
// Edge cases:
//   - No selectors returns an empty tree.
//   - A missing column or nil value groups under column.Placeholder.
//   - Every record is counted once per level, so sibling counts sum to the
//     parent count.
//
// Errors:
//   - ErrTooDeep when len(selectors) > MaxDepth.
func (b Builder) Build(recs []records.Record, selectors []string) ([]Node, error) {
	if len(selectors) > MaxDepth {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooDeep, len(selectors), MaxDepth)
	}
	roots := []Node{}
	if len(selectors) == 0 {
		return roots, nil
	}

	stack := []work{{recs: recs, level: 0, out: &roots}}
	for len(stack) > 0 {
		w := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		col := selectors[w.level]
		keys, groups := b.partition(w.recs, col)

		nodes := make([]Node, len(keys))
		for i, k := range keys {
			nodes[i] = Node{
				Key:      k,
				Column:   col,
				Level:    w.level,
				Count:    len(groups[k]),
				Children: []Node{},
			}
		}
		*w.out = nodes

		if w.level+1 >= len(selectors) {
			continue
		}
		// nodes never grows past this point, so slot pointers stay valid.
		for i := len(nodes) - 1; i >= 0; i-- {
			stack = append(stack, work{recs: groups[keys[i]], level: w.level + 1, out: &nodes[i].Children})
		}
	}
	return roots, nil
}

func (b Builder) partition(recs []records.Record, col string) ([]string, map[string][]records.Record) {
	var keys []string
	groups := make(map[string][]records.Record)
	for _, rec := range recs {
		k := b.key(rec, col)
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], rec)
	}
	return keys, groups
}

func (b Builder) key(rec records.Record, col string) string {
	l := b.Lookup
	if l == nil {
		l = column.Default
	}
	k, ok := l.Resolve(rec, col)
	if !ok {
		return column.Placeholder
	}
	v, _ := rec.Get(k)
	if v == nil {
		return column.Placeholder
	}
	return records.FormatValue(v)
}
