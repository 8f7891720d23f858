package source

import (
	"fmt"
	"slices"
	"strings"

	"bizdash/pkg/records"
)

// Table is a fully parsed in-memory table: the header names its columns in
// order and Rows holds every record.
type Table struct {
	Header []string
	Rows   []records.Record
}

// Serve answers req from t, for backends that parse a whole table up front.
//
// Requested columns are checked against the header, so a missing column is a
// schema error even when the window is empty or past the end of the table.
// Returned records are copies.
func (t Table) Serve(req Request) (Page, error) {
	var cols []string
	if !req.SelectsAll() {
		cols = make([]string, len(req.Columns))
		for i, c := range req.Columns {
			cols[i] = strings.TrimSpace(c)
			if !slices.Contains(t.Header, cols[i]) {
				return Page{}, NewError(KindSchema, req.Table, "", fmt.Errorf("column %q does not exist", cols[i]))
			}
		}
	}

	var page Page
	if req.CountTotal {
		n := int64(len(t.Rows))
		page.Total = &n
	}
	if req.From >= len(t.Rows) {
		return page, nil
	}
	rows := t.Rows[req.From:min(req.To+1, len(t.Rows))]

	page.Rows = make([]records.Record, len(rows))
	for i, rec := range rows {
		if cols == nil {
			page.Rows[i] = rec.Clone()
			continue
		}
		out := records.Make(len(cols))
		for _, c := range cols {
			v, _ := rec.Get(c)
			out.Set(c, v)
		}
		page.Rows[i] = out
	}
	return page, nil
}
