// Command fetch retrieves every row of one table through the resilient
// paginated fetcher and exports it as a UTF-8 (BOM) CSV file.
//
//	fetch -kind postgres -dsn "$DSN" -table sof [-columns a,b] [-conservative] [-out file.csv|-]
//
// The DSN falls back to the DSN and DSN_* environment variables. When -out is
// empty the file is named <table>_export_<timestamp>.csv in the working
// directory; "-" writes to stdout. A fetch that fails after retrieving rows
// still exports them and exits 1.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bizdash/internal/aggregate"
	"bizdash/internal/cli"
	"bizdash/internal/export"
	"bizdash/internal/fetch"
	"bizdash/internal/source"
	"bizdash/pkg/records"

	_ "bizdash/internal/source/all"
)

// appDeps are the side-effecting seams of runMain.
type appDeps struct {
	openReader  func(ctx context.Context, cfg source.Config) (source.Reader, error)
	createFile  func(path string) (io.WriteCloser, error)
	initMetrics func(ctx context.Context, jobName, backendName string) (func(), error)
	getenv      func(string) string
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

func defaultDeps() appDeps {
	return appDeps{
		openReader:  source.Open,
		createFile:  func(path string) (io.WriteCloser, error) { return os.Create(path) },
		initMetrics: cli.InitMetrics,
		getenv:      os.Getenv,
		now:         time.Now,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		kind           = fs.String("kind", "", "source kind: "+strings.Join(source.Kinds(), "|"))
		dsn            = fs.String("dsn", "", "source DSN (env DSN or DSN_*)")
		table          = fs.String("table", "", "table to fetch")
		columns        = fs.String("columns", "", "comma-separated columns (default all)")
		orderBy        = fs.String("order-by", "", "column pinning a stable row order across pages")
		conservative   = fs.Bool("conservative", false, "start with 1000-row pages")
		pageSize       = fs.Int("page-size", 0, "initial page size (default 5000, or 1000 with -conservative)")
		filterColumn   = fs.String("filter-column", "", "keep only rows whose column matches -filter-values")
		filterValues   = fs.String("filter-values", "", "comma-separated values for -filter-column")
		out            = fs.String("out", "", `output CSV path, "-" for stdout (default <table>_export_<time>.csv)`)
		metricsBackend = fs.String("metrics-backend", "", "metrics backend: none|datadog (env METRICS_BACKEND)")
		seqURL         = fs.String("seq-url", "", "Seq server URL for structured logs (env SEQ_URL)")
		verbose        = fs.Bool("v", false, "enable verbose logs")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(*kind) == "" || strings.TrimSpace(*table) == "" {
		fmt.Fprintln(stderr, "usage: fetch -kind K -dsn DSN -table T [-columns a,b] [-conservative] [-out file.csv|-]")
		return 2
	}

	resolved, err := cli.ResolveDSN(*kind, *dsn, deps.getenv)
	if err != nil {
		fmt.Fprintf(stderr, "dsn: %v\n", err)
		return 2
	}

	logger, lib, closeLog := cli.Logger(stderr, *verbose, cli.SeqURL(*seqURL, deps.getenv))
	defer closeLog()

	cleanup, err := deps.initMetrics(ctx, "fetch_"+*table, cli.MetricsBackendName(*metricsBackend, deps.getenv))
	if err != nil {
		fmt.Fprintf(stderr, "init metrics: %v\n", err)
		return 1
	}
	defer cleanup()

	reader, err := deps.openReader(ctx, source.Config{Kind: *kind, DSN: expand(resolved, deps.getenv)})
	if err != nil {
		fmt.Fprintf(stderr, "open %s source: %v\n", *kind, err)
		return 1
	}
	defer func() {
		if err := reader.Close(); err != nil {
			logger.Warn("close source", "kind", *kind, "err", err)
		}
	}()

	opts := fetch.DefaultOptions()
	if *conservative {
		opts = fetch.ConservativeOptions()
	}
	if *pageSize > 0 {
		opts.PageSize = *pageSize
	}
	opts.OrderBy = *orderBy

	f := fetch.New(reader, opts)
	f.Logger = lib
	f.Sleep = deps.sleep

	res, fetchErr := f.Fetch(ctx, fetch.Target{Table: *table, Columns: splitList(*columns)})
	if fetchErr != nil && len(res.Rows) == 0 {
		fmt.Fprintf(stderr, "fetch: %v\n", fetchErr)
		return 1
	}

	filter := aggregate.Filter{Column: *filterColumn, Values: splitList(*filterValues)}
	rows := filter.Apply(res.Rows)

	path := *out
	if path == "" {
		path = export.FileName(*table, deps.now())
	}
	if err := writeExport(path, rows, stdout, deps.createFile); err != nil {
		fmt.Fprintf(stderr, "export: %v\n", err)
		return 1
	}

	logger.Info("export done",
		"table", *table,
		"rows", len(rows),
		"fetched", len(res.Rows),
		"pages", res.Pages,
		"degraded", res.Degraded,
		"skipped_windows", len(res.Skipped),
		"out", path)
	if fetchErr != nil {
		fmt.Fprintf(stderr, "fetch: partial export of %d rows: %v\n", len(res.Rows), fetchErr)
		return 1
	}
	return 0
}

// writeExport writes rows as CSV to path, or to stdout when path is "-".
// The file is not created when there are no rows.
func writeExport(path string, rows []records.Record, stdout io.Writer, create func(string) (io.WriteCloser, error)) error {
	if len(rows) == 0 {
		return export.ErrNoRows
	}
	if path == "-" {
		return export.WriteCSV(stdout, rows)
	}
	f, err := create(path)
	if err != nil {
		return err
	}
	if err := export.WriteCSV(f, rows); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

// splitList splits a comma-separated flag value, dropping empty items.
func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// expand resolves $VAR references in s through getenv.
func expand(s string, getenv func(string) string) string {
	if getenv == nil {
		return s
	}
	return os.Expand(s, getenv)
}
