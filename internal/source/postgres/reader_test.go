package postgres

import (
	"errors"
	"math/big"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"bizdash/internal/source"
)

func TestBuildSelectSQL(t *testing.T) {
	t.Parallel()

	sql, args := buildSelectSQL(source.Request{
		Table:   "public.SOF",
		Columns: []string{"지역", `we"ird`},
		From:    5000,
		To:      9999,
		OrderBy: "id",
	})
	want := `SELECT "지역", "we""ird" FROM "public"."SOF" ORDER BY "id" LIMIT $1 OFFSET $2`
	if sql != want {
		t.Fatalf("sql:\n got %s\nwant %s", sql, want)
	}
	if args[0] != 5000 || args[1] != 5000 {
		t.Fatalf("args=%v", args)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want source.Kind
	}{
		{"undefined_table", &pgconn.PgError{Code: "42P01"}, source.KindSchema},
		{"undefined_column", &pgconn.PgError{Code: "42703"}, source.KindSchema},
		{"statement_timeout", &pgconn.PgError{Code: "57014"}, source.KindTimeout},
		{"too_many_connections", &pgconn.PgError{Code: "53300"}, source.KindTransient},
		{"plain_message", errors.New(`relation "sof" does not exist`), source.KindSchema},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := source.KindOf(classify("sof", tc.err)); got != tc.want {
				t.Fatalf("kind=%v want %v", got, tc.want)
			}
		})
	}
	if classify("sof", nil) != nil {
		t.Fatalf("nil error must classify to nil")
	}
}

func TestNormalizeValue(t *testing.T) {
	t.Parallel()

	id := uuid.MustParse("6f1c7a52-8f63-4c3e-9d55-1c2b3a4d5e6f")
	if got := normalizeValue([16]byte(id)); got != id.String() {
		t.Fatalf("uuid=%#v", got)
	}
	n := pgtype.Numeric{Int: big.NewInt(125), Exp: -1, Valid: true}
	if got := normalizeValue(n); got != 12.5 {
		t.Fatalf("numeric=%#v", got)
	}
	if got := normalizeValue(pgtype.Numeric{}); got != nil {
		t.Fatalf("null numeric=%#v", got)
	}
	if got := normalizeValue(int32(7)); got != int64(7) {
		t.Fatalf("int32=%#v", got)
	}
}
