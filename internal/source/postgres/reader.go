// Package postgres implements source.Reader for Postgres (including hosted
// Postgres behind REST gateways, read directly through its connection string).
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"bizdash/internal/source"
	"bizdash/pkg/records"
)

func init() {
	source.Register("postgres", NewReader)
}

// querier is the subset of *pgxpool.Pool used by Reader.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Reader implements source.Reader and source.TableLister for Postgres.
type Reader struct {
	q     querier
	close func()
}

// NewReader creates a pooled Postgres reader for cfg.DSN.
func NewReader(ctx context.Context, cfg source.Config) (source.Reader, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	return &Reader{q: pool, close: pool.Close}, nil
}

// Close closes the connection pool.
func (r *Reader) Close() error {
	if r.close != nil {
		r.close()
	}
	return nil
}

// Read implements source.Reader.
func (r *Reader) Read(ctx context.Context, req source.Request) (source.Page, error) {
	if req.Limit() <= 0 {
		return source.Page{}, fmt.Errorf("postgres: invalid window [%d, %d]", req.From, req.To)
	}

	sql, args := buildSelectSQL(req)
	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return source.Page{}, classify(req.Table, err)
	}
	recs, err := scanRecords(rows)
	if err != nil {
		return source.Page{}, classify(req.Table, err)
	}

	page := source.Page{Rows: recs}
	if req.CountTotal {
		var n int64
		err := r.q.QueryRow(ctx, "SELECT count(*) FROM "+pgTable(req.Table)).Scan(&n)
		switch {
		case err == nil:
			page.Total = &n
		case ctx.Err() != nil:
			return source.Page{}, classify(req.Table, err)
		default:
			page.CountErr = classify(req.Table, err)
		}
	}
	return page, nil
}

// ListTables returns the base tables of the public schema.
func (r *Reader) ListTables(ctx context.Context) ([]string, error) {
	rows, err := r.q.Query(ctx, `SELECT table_name FROM information_schema.tables WHERE table_schema = 'public' AND table_type = 'BASE TABLE' ORDER BY table_name`)
	if err != nil {
		return nil, classify("information_schema.tables", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, classify("information_schema.tables", err)
	}
	return names, nil
}

// buildSelectSQL constructs the page query and its args.
//
// It is pure and deterministic, so quoting and placeholder numbering can be
// unit tested without a database.
func buildSelectSQL(req source.Request) (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT ")
	if req.SelectsAll() {
		b.WriteString("*")
	} else {
		for i, c := range req.Columns {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(pgIdent(strings.TrimSpace(c)))
		}
	}
	b.WriteString(" FROM ")
	b.WriteString(pgTable(req.Table))
	if req.OrderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(pgIdent(req.OrderBy))
	}
	b.WriteString(" LIMIT $1 OFFSET $2")
	return b.String(), []any{req.Limit(), req.From}
}

func pgIdent(id string) string {
	return pgx.Identifier{id}.Sanitize()
}

func pgTable(table string) string {
	return pgx.Identifier(strings.Split(table, ".")).Sanitize()
}

// scanRecords copies rows into ordered records using the result field order.
func scanRecords(rows pgx.Rows) ([]records.Record, error) {
	defer rows.Close()

	fds := rows.FieldDescriptions()
	var out []records.Record
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		rec := records.Make(len(fds))
		for i, fd := range fds {
			rec.Set(fd.Name, normalizeValue(vals[i]))
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// normalizeValue maps pgx decoded values onto record scalars.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case [16]byte:
		return uuid.UUID(t).String()
	case pgtype.Numeric:
		if !t.Valid {
			return nil
		}
		f, err := t.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case []byte:
		return string(t)
	case int32:
		return int64(t)
	case int16:
		return int64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}

// SQLSTATE codes used for classification.
const (
	stateUndefinedTable  = "42P01"
	stateUndefinedColumn = "42703"
	stateInvalidSchema   = "3F000"
	stateQueryCanceled   = "57014" // statement_timeout
	stateLockTimeout     = "55P03"
)

// classify maps pgx errors onto source kinds.
func classify(table string, err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case stateUndefinedTable, stateUndefinedColumn, stateInvalidSchema:
			return source.NewError(source.KindSchema, table, pgErr.Code, err)
		case stateQueryCanceled, stateLockTimeout:
			return source.NewError(source.KindTimeout, table, pgErr.Code, err)
		}
		return source.NewError(source.KindTransient, table, pgErr.Code, err)
	}
	if pgconn.Timeout(err) || source.IsTimeout(err) {
		return source.NewError(source.KindTimeout, table, "", err)
	}
	return source.NewError(source.ClassifyMessage(err.Error()), table, "", err)
}
