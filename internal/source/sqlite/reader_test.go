package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"bizdash/internal/source"
)

// seed creates a file database with a sof table of n rows and returns its DSN.
func seed(t *testing.T, n int) string {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "report.db")
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE sof (id INTEGER PRIMARY KEY, region TEXT, amount REAL, note TEXT)`)
	require.NoError(t, err)
	for i := 1; i <= n; i++ {
		region := "East"
		if i%2 == 0 {
			region = "West"
		}
		_, err = db.Exec(`INSERT INTO sof (id, region, amount, note) VALUES (?, ?, ?, NULL)`, i, region, float64(i)*1.5)
		require.NoError(t, err)
	}
	return dsn
}

func TestReader_PagesAndCounts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r, err := source.Open(ctx, source.Config{Kind: "sqlite", DSN: seed(t, 7)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	var seen []int64
	for from := 0; ; from += 3 {
		p, err := r.Read(ctx, source.Request{Table: "sof", From: from, To: from + 2, OrderBy: "id", CountTotal: from == 0})
		require.NoError(t, err)
		if from == 0 {
			require.NotNil(t, p.Total)
			require.EqualValues(t, 7, *p.Total)
		}
		for _, rec := range p.Rows {
			id, ok := rec.Get("id")
			require.True(t, ok)
			seen = append(seen, id.(int64))
		}
		if len(p.Rows) < 3 {
			break
		}
	}
	require.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7}, seen)
}

func TestReader_ProjectionKeepsOrderAndNulls(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r, err := NewReader(ctx, source.Config{Kind: "sqlite", DSN: seed(t, 2)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	p, err := r.Read(ctx, source.Request{Table: "sof", Columns: []string{"note", "region"}, From: 0, To: 0, OrderBy: "id"})
	require.NoError(t, err)
	require.Len(t, p.Rows, 1)
	require.Equal(t, []string{"note", "region"}, p.Rows[0].Keys())

	note, ok := p.Rows[0].Get("note")
	require.True(t, ok)
	require.Nil(t, note)
	region, _ := p.Rows[0].Get("region")
	require.Equal(t, "East", region)
}

func TestReader_SchemaErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r, err := NewReader(ctx, source.Config{Kind: "sqlite", DSN: seed(t, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	_, err = r.Read(ctx, source.Request{Table: "missing", From: 0, To: 9})
	require.Error(t, err)
	require.Equal(t, source.KindSchema, source.KindOf(err), "err=%v", err)

	_, err = r.Read(ctx, source.Request{Table: "sof", Columns: []string{"nope"}, From: 0, To: 9})
	require.Error(t, err)
	require.Equal(t, source.KindSchema, source.KindOf(err), "err=%v", err)
}

func TestReader_ListTables(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r, err := NewReader(ctx, source.Config{Kind: "sqlite", DSN: seed(t, 0)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	lister, ok := r.(source.TableLister)
	require.True(t, ok, "sqlite reader should list tables")
	names, err := lister.ListTables(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"sof"}, names)
}

func TestDialect_Classify(t *testing.T) {
	t.Parallel()

	d := Dialect{}
	require.Nil(t, d.Classify("sof", nil))
	require.Equal(t, source.KindTimeout, source.KindOf(d.Classify("sof", context.DeadlineExceeded)))
	require.Equal(t, source.KindSchema, source.KindOf(d.Classify("sof", fmt.Errorf("no such table: sof"))))
	require.Equal(t, source.KindTransient, source.KindOf(d.Classify("sof", fmt.Errorf("disk I/O error"))))
}
