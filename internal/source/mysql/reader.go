// Package mysql implements source.Reader for MySQL/MariaDB.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"

	"bizdash/internal/source"
	"bizdash/internal/source/sqlsource"
)

func init() {
	source.Register("mysql", NewReader)
}

// NewReader opens cfg.DSN (go-sql-driver DSN form) and validates it with a ping.
func NewReader(ctx context.Context, cfg source.Config) (source.Reader, error) {
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sqlsource.New(db, Dialect{}), nil
}

// Dialect is the MySQL flavor of sqlsource.Dialect.
type Dialect struct{}

func (Dialect) QuoteIdent(id string) string {
	return "`" + strings.ReplaceAll(id, "`", "``") + "`"
}

func (Dialect) PageClause(limit, offset int, _ bool) (string, []any) {
	return "LIMIT ? OFFSET ?", []any{limit, offset}
}

func (Dialect) ListTablesSQL() string {
	return `SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE' ORDER BY table_name`
}

// Server error numbers.
const (
	erBadDB           = 1049
	erBadField        = 1054
	erNoSuchTable     = 1146
	erLockWaitTimeout = 1205
	erLockDeadlock    = 1213
	erQueryTimeout    = 3024
)

func (Dialect) Classify(table string, err error) error {
	if err == nil {
		return nil
	}

	var me *mysql.MySQLError
	if errors.As(err, &me) {
		code := strconv.Itoa(int(me.Number))
		switch me.Number {
		case erBadDB, erBadField, erNoSuchTable:
			return source.NewError(source.KindSchema, table, code, err)
		case erLockWaitTimeout, erQueryTimeout:
			return source.NewError(source.KindTimeout, table, code, err)
		case erLockDeadlock:
			return source.NewError(source.KindTransient, table, code, err)
		}
		return source.NewError(source.ClassifyMessage(me.Message), table, code, err)
	}
	if source.IsTimeout(err) {
		return source.NewError(source.KindTimeout, table, "", err)
	}
	return source.NewError(source.ClassifyMessage(err.Error()), table, "", err)
}
