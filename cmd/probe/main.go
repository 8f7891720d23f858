// Command probe inspects what the current credentials can read from a
// source.
//
//	probe -kind K -dsn DSN                  list readable tables
//	probe -kind K -dsn DSN -table T [-tests] access report for one table
//
// Output is JSON on stdout. Without a catalog (csv and html sources answer
// from their directory or page), tables are found by probing a candidate list
// that -candidates replaces. The DSN falls back to the DSN and DSN_*
// environment variables.
//
// Exit codes: 0 on success, 1 when the source cannot be opened or the probed
// table does not exist, 2 on usage errors.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"bizdash/internal/cli"
	"bizdash/internal/probe"
	"bizdash/internal/source"

	_ "bizdash/internal/source/all"
)

// appDeps are the side-effecting seams of runMain.
type appDeps struct {
	openReader func(ctx context.Context, cfg source.Config) (source.Reader, error)
	getenv     func(string) string
}

func defaultDeps() appDeps {
	return appDeps{openReader: source.Open, getenv: os.Getenv}
}

// tableOutput is the JSON printed for -table.
type tableOutput struct {
	Access probe.AccessReport `json:"access"`
	Tests  []probe.TestResult `json:"tests,omitempty"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fs := flag.NewFlagSet("probe", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		kind       = fs.String("kind", "", "source kind: "+strings.Join(source.Kinds(), "|"))
		dsn        = fs.String("dsn", "", "source DSN (env DSN or DSN_*)")
		table      = fs.String("table", "", "table to check; lists tables when empty")
		tests      = fs.Bool("tests", false, "with -table, also run the select and count access tests")
		candidates = fs.String("candidates", "", "comma-separated table names probed when the source has no catalog")
		seqURL     = fs.String("seq-url", "", "Seq server URL for structured logs (env SEQ_URL)")
		verbose    = fs.Bool("v", false, "enable verbose logs")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(*kind) == "" {
		fmt.Fprintln(stderr, "usage: probe -kind K -dsn DSN [-table T [-tests]] [-candidates a,b]")
		return 2
	}
	if *tests && *table == "" {
		fmt.Fprintln(stderr, "probe: -tests requires -table")
		return 2
	}

	resolved, err := cli.ResolveDSN(*kind, *dsn, deps.getenv)
	if err != nil {
		fmt.Fprintf(stderr, "dsn: %v\n", err)
		return 2
	}

	_, lib, closeLog := cli.Logger(stderr, *verbose, cli.SeqURL(*seqURL, deps.getenv))
	defer closeLog()

	reader, err := deps.openReader(ctx, source.Config{Kind: *kind, DSN: resolved})
	if err != nil {
		fmt.Fprintf(stderr, "open %s source: %v\n", *kind, err)
		return 1
	}
	defer reader.Close()

	p := probe.New(reader, lib)
	if c := splitList(*candidates); len(c) > 0 {
		p.Candidates = c
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")

	if *table == "" {
		tables, err := p.ListTables(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "probe: %v\n", err)
			return 1
		}
		if err := enc.Encode(tables); err != nil {
			fmt.Fprintf(stderr, "write output: %v\n", err)
			return 1
		}
		return 0
	}

	var out tableOutput
	out.Access, err = p.CheckAccess(ctx, *table)
	if err != nil {
		fmt.Fprintf(stderr, "probe: %v\n", err)
		return 1
	}
	if *tests {
		out.Tests, err = p.TestAccess(ctx, *table)
		if err != nil {
			fmt.Fprintf(stderr, "probe: %v\n", err)
			return 1
		}
	}
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(stderr, "write output: %v\n", err)
		return 1
	}
	if !out.Access.TableExists {
		fmt.Fprintf(stderr, "probe: table %q is not readable: %s\n", *table, out.Access.Error)
		return 1
	}
	return 0
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
