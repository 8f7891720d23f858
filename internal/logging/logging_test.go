package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestSetup_ConsoleOnly(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l, cleanup := Setup(Options{Writer: &buf, Level: slog.LevelInfo})
	defer cleanup()

	l.Debug("hidden")
	l.Info("fetch_done", "table", "sof", "rows", 12)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line logged at info level:\n%s", out)
	}
	if !strings.Contains(out, "msg=fetch_done table=sof rows=12") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestPrintf_AdaptsToLibraryLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l, cleanup := Setup(Options{Writer: &buf})
	defer cleanup()

	// The library Logger interface.
	var lib interface{ Printf(string, ...any) } = Printf(l, slog.LevelInfo)
	lib.Printf("stage=page table=%s from=%d to=%d status=ok", "rfq", 0, 4999)

	out := buf.String()
	if !strings.Contains(out, "level=INFO") || !strings.Contains(out, "stage=page table=rfq from=0 to=4999 status=ok") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{in: "", want: slog.LevelInfo},
		{in: "debug", want: slog.LevelDebug},
		{in: "WARN", want: slog.LevelWarn},
		{in: "info+2", want: slog.LevelInfo + 2},
		{in: "loud", want: slog.LevelInfo, wantErr: true},
	}
	for _, tc := range tests {
		got, err := ParseLevel(tc.in)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Fatalf("ParseLevel(%q)=(%v,%v), want (%v, err=%v)", tc.in, got, err, tc.want, tc.wantErr)
		}
	}
}

type recordingHandler struct {
	level slog.Level
	msgs  []string
	err   error
}

func (h *recordingHandler) Enabled(_ context.Context, l slog.Level) bool { return l >= h.level }
func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.msgs = append(h.msgs, r.Message)
	return h.err
}
func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func TestMultiHandler(t *testing.T) {
	t.Parallel()

	quiet := &recordingHandler{level: slog.LevelError}
	loud := &recordingHandler{level: slog.LevelDebug, err: errors.New("sink down")}
	m := &multiHandler{handlers: []slog.Handler{quiet, loud}}

	if !m.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatalf("Enabled(debug)=false, want true when any handler accepts it")
	}

	l := slog.New(m)
	l.Info("one")
	l.Error("two")

	if got := strings.Join(quiet.msgs, ","); got != "two" {
		t.Fatalf("quiet handler got %q, want two", got)
	}
	if got := strings.Join(loud.msgs, ","); got != "one,two" {
		t.Fatalf("loud handler got %q, want one,two", got)
	}

	err := m.Handle(context.Background(), slog.NewRecord(time.Time{}, slog.LevelError, "three", 0))
	if err == nil || !strings.Contains(err.Error(), "sink down") {
		t.Fatalf("Handle err=%v, want sink error", err)
	}
	if _, ok := m.WithAttrs(nil).(*multiHandler); !ok {
		t.Fatalf("WithAttrs did not return a multiHandler")
	}
	if _, ok := m.WithGroup("g").(*multiHandler); !ok {
		t.Fatalf("WithGroup did not return a multiHandler")
	}
}
