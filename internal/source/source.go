package source

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"bizdash/pkg/records"
)

// Config is the minimal configuration needed to open a Reader.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
type Config struct {
	Kind string `json:"kind" yaml:"kind"`
	DSN  string `json:"dsn" yaml:"dsn"`
}

// AllColumns selects every column of a table.
const AllColumns = "*"

// Request addresses one page window of a table.
//
// From and To are zero-based and inclusive, mirroring range(from, to) of the
// hosted REST backends: the window [From, To] holds at most To-From+1 rows.
type Request struct {
	Table   string
	Columns []string // empty or ["*"] means all columns

	From int
	To   int

	// OrderBy optionally names a column giving the backend a stable row
	// order across page requests. Empty means backend natural order.
	OrderBy string

	// CountTotal asks the backend for the total row count of the table.
	// Backends that cannot count cheaply may ignore it.
	CountTotal bool
}

// Limit returns the window size.
func (r Request) Limit() int { return r.To - r.From + 1 }

// SelectsAll reports whether the request selects every column.
func (r Request) SelectsAll() bool {
	if len(r.Columns) == 0 {
		return true
	}
	for _, c := range r.Columns {
		if strings.TrimSpace(c) == AllColumns {
			return true
		}
	}
	return false
}

// Page is the backend response for one Request.
type Page struct {
	Rows []records.Record

	// Total is the exact table row count when requested and supported.
	Total *int64

	// CountErr is set when the rows were read but the requested count failed.
	// Rows stay valid; Total is nil.
	CountErr error
}

// Reader is the consumed table read capability.
//
// Implementations must return a *Error (see Classify helpers) for failures
// so the fetcher can decide between abort, retry and degrade. Errors of any
// other type are treated as transient.
type Reader interface {
	Read(ctx context.Context, req Request) (Page, error)

	// Close releases backend resources (connection pools, file handles).
	Close() error
}

// TableLister is implemented by readers that can enumerate tables.
type TableLister interface {
	ListTables(ctx context.Context) ([]string, error)
}

type factory func(ctx context.Context, cfg Config) (Reader, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//   - The `kind` string becomes the lookup key used by Open.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("source: Register called with empty kind")
	}
	if f == nil {
		panic("source: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("source: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// Open constructs a Reader using the registered backend factory.
//
// Errors:
//   - Returns ErrUnknownKind (wrapped) if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func Open(ctx context.Context, cfg Config) (Reader, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("source: missing kind: %w", ErrUnknownKind)
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("source: kind=%s: %w", cfg.Kind, ErrUnknownKind)
	}
	return f(ctx, cfg)
}

// Kinds returns the registered backend kinds.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	return out
}
