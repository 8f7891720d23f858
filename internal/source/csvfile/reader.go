// Package csvfile implements source.Reader over a directory of CSV exports.
//
// The DSN is a directory; table T is read from <dir>/T.csv. The first record
// is the header. Typical inputs are files previously written by the export
// package, so a leading UTF-8 BOM is stripped from the first header cell.
package csvfile

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"bizdash/internal/source"
	"bizdash/pkg/records"
)

func init() {
	source.Register("csv", NewReader)
}

// Options tune CSV parsing.
type Options struct {
	Comma      rune // default ','
	TrimSpace  bool // trim surrounding whitespace from cells
	LazyQuotes bool
}

// Reader implements source.Reader and source.TableLister.
type Reader struct {
	dir string
	opt Options

	mu     sync.Mutex
	tables map[string]source.Table
}

// NewReader creates a Reader rooted at cfg.DSN, which must be a directory.
func NewReader(_ context.Context, cfg source.Config) (source.Reader, error) {
	st, err := os.Stat(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("csvfile: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("csvfile: %s is not a directory", cfg.DSN)
	}
	return New(cfg.DSN, Options{TrimSpace: true}), nil
}

// New creates a Reader rooted at dir.
func New(dir string, opt Options) *Reader {
	if opt.Comma == 0 {
		opt.Comma = ','
	}
	return &Reader{dir: dir, opt: opt, tables: map[string]source.Table{}}
}

// Close drops cached tables.
func (r *Reader) Close() error {
	r.mu.Lock()
	r.tables = map[string]source.Table{}
	r.mu.Unlock()
	return nil
}

// Read implements source.Reader.
func (r *Reader) Read(ctx context.Context, req source.Request) (source.Page, error) {
	if req.Limit() <= 0 {
		return source.Page{}, fmt.Errorf("csvfile: invalid window [%d, %d]", req.From, req.To)
	}
	if err := ctx.Err(); err != nil {
		return source.Page{}, err
	}

	t, err := r.load(req.Table)
	if err != nil {
		return source.Page{}, err
	}
	return t.Serve(req)
}

// ListTables returns the base names of the *.csv files in the directory.
func (r *Reader) ListTables(_ context.Context) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(r.dir, "*.csv"))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.TrimSuffix(filepath.Base(m), ".csv"))
	}
	sort.Strings(out)
	return out, nil
}

func (r *Reader) load(table string) (source.Table, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.tables[table]; ok {
		return t, nil
	}
	if table == "" || strings.ContainsAny(table, `/\`) {
		return source.Table{}, source.NewError(source.KindSchema, table, "", fmt.Errorf("invalid table name %q", table))
	}

	f, err := os.Open(filepath.Join(r.dir, table+".csv"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return source.Table{}, source.NewError(source.KindSchema, table, "", fmt.Errorf("table does not exist: %w", err))
		}
		return source.Table{}, source.NewError(source.KindTransient, table, "", err)
	}
	defer f.Close()

	header, rows, err := parse(f, r.opt)
	if err != nil {
		return source.Table{}, source.NewError(source.KindSchema, table, "", err)
	}
	t := source.Table{Header: header, Rows: rows}
	r.tables[table] = t
	return t, nil
}

// ParseRows reads a headed CSV stream into ordered records.
//
// Edge cases:
//   - A leading BOM on the first header cell is removed.
//   - Empty cells become nil; short rows are padded with nil.
//   - A file with only a header yields zero rows and no error.
//
// Errors:
//   - Returns an error if the header cannot be read or a record is malformed.
func ParseRows(src io.Reader, opt Options) ([]records.Record, error) {
	_, rows, err := parse(src, opt)
	return rows, err
}

func parse(src io.Reader, opt Options) ([]string, []records.Record, error) {
	cr := csv.NewReader(src)
	cr.Comma = opt.Comma
	if cr.Comma == 0 {
		cr.Comma = ','
	}
	cr.LazyQuotes = opt.LazyQuotes
	cr.FieldsPerRecord = -1

	hdr, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	header := make([]string, len(hdr))
	for i, h := range hdr {
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		if opt.TrimSpace {
			h = strings.TrimSpace(h)
		}
		header[i] = h
	}

	var out []records.Record
	line := 1
	for {
		rec, err := cr.Read()
		line++
		if err == io.EOF {
			return header, out, nil
		}
		if err != nil {
			return nil, nil, fmt.Errorf("csv read line %d: %w", line, err)
		}

		row := records.Make(len(header))
		for i, h := range header {
			if i >= len(rec) {
				row.Set(h, nil)
				continue
			}
			v := rec[i]
			if opt.TrimSpace {
				v = strings.TrimSpace(v)
			}
			if v == "" {
				row.Set(h, nil)
			} else {
				row.Set(h, v)
			}
		}
		out = append(out, row)
	}
}
