package pivot

import "bizdash/pkg/records"

// Row is one node of a flattened tree.
type Row struct {
	Path  []string `json:"path"` // keys from the root down to this node
	Level int      `json:"level"`
	Count int      `json:"count"`
}

// Flatten lists every node of the tree in pre-order.
func Flatten(nodes []Node) []Row {
	type item struct {
		n      *Node
		parent []string
	}

	var rows []Row
	stack := make([]item, 0, len(nodes))
	for i := len(nodes) - 1; i >= 0; i-- {
		stack = append(stack, item{n: &nodes[i]})
	}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		path := make([]string, len(it.parent)+1)
		copy(path, it.parent)
		path[len(it.parent)] = it.n.Key
		rows = append(rows, Row{Path: path, Level: it.n.Level, Count: it.n.Count})

		for i := len(it.n.Children) - 1; i >= 0; i-- {
			stack = append(stack, item{n: &it.n.Children[i], parent: path})
		}
	}
	return rows
}

// Totals returns the sum of the top-level counts, which equals the number of
// records the tree was built from.
func Totals(nodes []Node) int {
	n := 0
	for _, node := range nodes {
		n += node.Count
	}
	return n
}

// Records converts flattened rows to records for export, one column per
// level named by the selectors, plus "Count".
func Records(rows []Row, selectors []string) []records.Record {
	out := make([]records.Record, 0, len(rows))
	for _, r := range rows {
		rec := records.Make(len(selectors) + 1)
		for i, sel := range selectors {
			var v any
			if i < len(r.Path) {
				v = r.Path[i]
			}
			rec.Set(sel, v)
		}
		rec.Set("Count", r.Count)
		out = append(out, rec)
	}
	return out
}
