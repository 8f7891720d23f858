// Package sqlite implements source.Reader for SQLite files using the pure-Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"modernc.org/sqlite"

	"bizdash/internal/source"
	"bizdash/internal/source/sqlsource"
)

func init() {
	source.Register("sqlite", NewReader)
}

// NewReader opens cfg.DSN with the "sqlite" driver and validates it with a ping.
func NewReader(ctx context.Context, cfg source.Config) (source.Reader, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sqlsource.New(db, Dialect{}), nil
}

// Dialect is the SQLite flavor of sqlsource.Dialect.
type Dialect struct{}

// QuoteIdent uses SQLite "quoted identifiers".
func (Dialect) QuoteIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func (Dialect) PageClause(limit, offset int, _ bool) (string, []any) {
	return "LIMIT ? OFFSET ?", []any{limit, offset}
}

func (Dialect) ListTablesSQL() string {
	return `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`
}

// SQLite result codes that mean "try again".
const (
	codeBusy   = 5
	codeLocked = 6
)

// Classify maps modernc errors: "no such table/column" is a schema error,
// SQLITE_BUSY/SQLITE_LOCKED are transient, deadlines are timeouts.
func (Dialect) Classify(table string, err error) error {
	if err == nil {
		return nil
	}
	if source.IsTimeout(err) {
		return source.NewError(source.KindTimeout, table, "", err)
	}

	code := ""
	var se *sqlite.Error
	if errors.As(err, &se) {
		c := se.Code() & 0xff // primary result code
		code = strconv.Itoa(se.Code())
		if c == codeBusy || c == codeLocked {
			return source.NewError(source.KindTransient, table, code, err)
		}
	}
	return source.NewError(source.ClassifyMessage(err.Error()), table, code, err)
}
