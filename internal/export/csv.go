// Package export writes record sets as spreadsheet-friendly CSV.
package export

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"bizdash/pkg/records"
)

// ErrNoRows is returned when there is nothing to export.
var ErrNoRows = errors.New("export: no rows")

// WriteCSV writes recs to w as CSV.
//
// The header is the key order of the first record; later records are
// projected onto it. Every field is quoted with embedded quotes doubled, nil
// and missing values are written as "", and rows are separated by "\n" with
// no trailing newline. The output starts with a UTF-8 byte order mark so
// spreadsheet tools detect the encoding.
//
// Errors:
//   - ErrNoRows when recs is empty.
//   - Write errors from w.
func WriteCSV(w io.Writer, recs []records.Record) error {
	if len(recs) == 0 {
		return ErrNoRows
	}

	enc := transform.NewWriter(w, unicode.UTF8BOM.NewEncoder())
	bw := bufio.NewWriter(enc)

	header := recs[0].Keys()
	writeRow(bw, len(header), func(i int) string { return header[i] })
	for _, rec := range recs {
		bw.WriteByte('\n')
		writeRow(bw, len(header), func(i int) string {
			v, _ := rec.Get(header[i])
			return records.FormatValue(v) // nil formats as ""
		})
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("export: write csv: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("export: write csv: %w", err)
	}
	return nil
}

func writeRow(bw *bufio.Writer, n int, field func(i int) string) {
	for i := range n {
		if i > 0 {
			bw.WriteByte(',')
		}
		bw.WriteByte('"')
		bw.WriteString(strings.ReplaceAll(field(i), `"`, `""`))
		bw.WriteByte('"')
	}
}

// FileName returns the download name of a table export taken at now, e.g.
// "sof_export_2024-05-01T09-30-00.csv". The timestamp is in UTC.
func FileName(table string, now time.Time) string {
	return fmt.Sprintf("%s_export_%s.csv", table, now.UTC().Format("2006-01-02T15-04-05"))
}
