// Package mssql implements source.Reader for Microsoft SQL Server.
//
// Paging uses OFFSET ... FETCH NEXT, which SQL Server only accepts after an
// ORDER BY; without a configured order column the reader emits
// ORDER BY (SELECT NULL), i.e. backend natural order.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"

	"bizdash/internal/source"
	"bizdash/internal/source/sqlsource"
)

func init() {
	source.Register("mssql", NewReader)
}

// NewReader opens cfg.DSN with the "sqlserver" driver and validates
// connectivity via PingContext.
func NewReader(ctx context.Context, cfg source.Config) (source.Reader, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}

	// One page in flight per fetch; a handful of concurrent fetches at most.
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(8)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sqlsource.New(db, Dialect{}), nil
}

// Dialect is the SQL Server flavor of sqlsource.Dialect.
type Dialect struct{}

// QuoteIdent uses bracket quoting.
func (Dialect) QuoteIdent(id string) string {
	return "[" + strings.ReplaceAll(id, "]", "]]") + "]"
}

func (Dialect) PageClause(limit, offset int, hasOrder bool) (string, []any) {
	clause := "OFFSET @p1 ROWS FETCH NEXT @p2 ROWS ONLY"
	if !hasOrder {
		clause = "ORDER BY (SELECT NULL) " + clause
	}
	return clause, []any{offset, limit}
}

func (Dialect) ListTablesSQL() string {
	return `SELECT TABLE_SCHEMA + '.' + TABLE_NAME FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_TYPE = 'BASE TABLE' ORDER BY 1`
}

// Server error numbers.
const (
	errInvalidColumn = 207
	errInvalidObject = 208
	errLockTimeout   = 1222
	errDeadlock      = 1205
)

func (Dialect) Classify(table string, err error) error {
	if err == nil {
		return nil
	}

	var me mssql.Error
	if errors.As(err, &me) {
		code := strconv.Itoa(int(me.Number))
		switch me.Number {
		case errInvalidColumn, errInvalidObject:
			return source.NewError(source.KindSchema, table, code, err)
		case errLockTimeout:
			return source.NewError(source.KindTimeout, table, code, err)
		case errDeadlock:
			return source.NewError(source.KindTransient, table, code, err)
		}
		return source.NewError(source.ClassifyMessage(me.Message), table, code, err)
	}
	if source.IsTimeout(err) {
		return source.NewError(source.KindTimeout, table, "", err)
	}
	return source.NewError(source.ClassifyMessage(err.Error()), table, "", err)
}
