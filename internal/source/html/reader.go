// Package html implements source.Reader over HTML tables, either a local file
// or a page fetched over HTTP.
//
// The DSN is the document location (http(s) URL or file path). A Request's
// Table is a CSS selector matching one <table> element; its header cells
// (th, or the first row's td when no th exists) name the columns, and every
// following row becomes a record. A selector matching nothing is a schema
// error.
package html

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"bizdash/internal/source"
	"bizdash/pkg/records"
)

func init() {
	source.Register("html", NewReader)
}

// DefaultTimeout bounds one document load.
const DefaultTimeout = 30 * time.Second

// Reader implements source.Reader and source.TableLister over one document.
type Reader struct {
	location string
	loader   *Loader

	mu     sync.Mutex
	doc    *goquery.Document
	tables map[string]source.Table
}

// NewReader creates a Reader for cfg.DSN. The document is loaded lazily on
// the first Read so that transient load failures go through fetch retries.
func NewReader(_ context.Context, cfg source.Config) (source.Reader, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("html: empty dsn")
	}
	return New(cfg.DSN, NewLoader(nil, DefaultTimeout)), nil
}

// New creates a Reader using loader.
func New(location string, loader *Loader) *Reader {
	return &Reader{
		location: location,
		loader:   loader,
		tables:   map[string]source.Table{},
	}
}

// Close drops the cached document.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doc = nil
	r.tables = map[string]source.Table{}
	return nil
}

// Read implements source.Reader. Rows are the parsed table rows sliced to the
// requested window; column projection happens on the parsed records.
func (r *Reader) Read(ctx context.Context, req source.Request) (source.Page, error) {
	if req.Limit() <= 0 {
		return source.Page{}, fmt.Errorf("html: invalid window [%d, %d]", req.From, req.To)
	}

	t, err := r.table(ctx, req.Table)
	if err != nil {
		return source.Page{}, err
	}
	return t.Serve(req)
}

// ListTables returns a selector for every <table> in the document: its id
// when present, else its position.
func (r *Reader) ListTables(ctx context.Context) ([]string, error) {
	doc, err := r.document(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	doc.Find("table").Each(func(i int, s *goquery.Selection) {
		if id, ok := s.Attr("id"); ok && strings.TrimSpace(id) != "" {
			out = append(out, "#"+strings.TrimSpace(id))
			return
		}
		out = append(out, fmt.Sprintf("table:nth-of-type(%d)", i+1))
	})
	return out, nil
}

func (r *Reader) table(ctx context.Context, selector string) (source.Table, error) {
	doc, err := r.document(ctx)
	if err != nil {
		return source.Table{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tables[selector]; ok {
		return t, nil
	}

	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return source.Table{}, source.NewError(source.KindSchema, selector, "",
			fmt.Errorf("no table matches selector %q", selector))
	}
	header, rows := parseTable(sel)
	t := source.Table{Header: header, Rows: rows}
	r.tables[selector] = t
	return t, nil
}

func (r *Reader) document(ctx context.Context) (*goquery.Document, error) {
	r.mu.Lock()
	if r.doc != nil {
		doc := r.doc
		r.mu.Unlock()
		return doc, nil
	}
	r.mu.Unlock()

	body, err := r.loader.Load(ctx, r.location)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, source.NewError(source.KindSchema, r.location, "", fmt.Errorf("parse html: %w", err))
	}

	r.mu.Lock()
	r.doc = doc
	r.mu.Unlock()
	return doc, nil
}

// ParseTable converts a <table> selection into ordered records.
//
// Header resolution:
//   - th cells of the first row that has any are the column names.
//   - Otherwise the first row's td cells are.
//
// Edge cases:
//   - Empty header cells are named col_<n> (1-based).
//   - Missing trailing cells yield nil values; surplus cells are dropped.
//   - Empty cell text is kept as "" (distinct from missing).
func ParseTable(table *goquery.Selection) []records.Record {
	_, rows := parseTable(table)
	return rows
}

func parseTable(table *goquery.Selection) ([]string, []records.Record) {
	trs := table.Find("tr")

	headerAt := -1
	var header []string
	trs.EachWithBreak(func(i int, tr *goquery.Selection) bool {
		ths := tr.Find("th")
		if ths.Length() == 0 {
			return true
		}
		header = cellTexts(ths)
		headerAt = i
		return false
	})
	if headerAt < 0 && trs.Length() > 0 {
		header = cellTexts(trs.First().Find("td"))
		headerAt = 0
	}
	for i, h := range header {
		if h == "" {
			header[i] = fmt.Sprintf("col_%d", i+1)
		}
	}

	var out []records.Record
	trs.Each(func(i int, tr *goquery.Selection) {
		if i <= headerAt {
			return
		}
		cells := cellTexts(tr.Find("td"))
		if len(cells) == 0 {
			return
		}
		rec := records.Make(len(header))
		for j, h := range header {
			if j < len(cells) {
				rec.Set(h, cells[j])
			} else {
				rec.Set(h, nil)
			}
		}
		out = append(out, rec)
	})
	return header, out
}

func cellTexts(sel *goquery.Selection) []string {
	out := make([]string, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		out = append(out, strings.TrimSpace(s.Text()))
	})
	return out
}

// Loader fetches or reads HTML with a consistent timeout policy.
type Loader struct {
	client  *http.Client
	timeout time.Duration
}

// NewLoader creates a Loader. If client is nil, http.DefaultClient is used.
func NewLoader(client *http.Client, timeout time.Duration) *Loader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Loader{client: client, timeout: timeout}
}

// Load returns the document at location: fetched when it is an http(s) URL,
// read from disk otherwise.
//
// Errors are classified:
//   - missing file or HTTP 404 is a schema error;
//   - HTTP 408/504 and deadline expiry are timeouts;
//   - everything else (429, 5xx, connection failures) is transient.
func (l *Loader) Load(ctx context.Context, location string) (string, error) {
	if !strings.HasPrefix(location, "http://") && !strings.HasPrefix(location, "https://") {
		b, err := os.ReadFile(strings.TrimPrefix(location, "file://"))
		if err != nil {
			if os.IsNotExist(err) {
				return "", source.NewError(source.KindSchema, location, "", err)
			}
			return "", source.NewError(source.KindTransient, location, "", err)
		}
		return string(b), nil
	}

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", "bizdash/1.0")

	resp, err := l.client.Do(req)
	if err != nil {
		if source.IsTimeout(err) {
			return "", source.NewError(source.KindTimeout, location, "", err)
		}
		return "", source.NewError(source.KindTransient, location, "", fmt.Errorf("http get: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("http status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		code := fmt.Sprint(resp.StatusCode)
		switch resp.StatusCode {
		case http.StatusNotFound, http.StatusGone:
			return "", source.NewError(source.KindSchema, location, code, err)
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return "", source.NewError(source.KindTimeout, location, code, err)
		}
		return "", source.NewError(source.KindTransient, location, code, err)
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", source.NewError(source.KindTransient, location, "", fmt.Errorf("read body: %w", err))
	}
	return string(b), nil
}
