package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestClassifyMessage(t *testing.T) {
	t.Parallel()

	cases := []struct {
		msg  string
		want Kind
	}{
		{`relation "public.sof" does not exist`, KindSchema},
		{"no such table: sof", KindSchema},
		{"Invalid object name 'dbo.sof'.", KindSchema},
		{"Unknown column 'x' in 'field list'", KindSchema},
		{"canceling statement due to statement timeout", KindTimeout},
		{"i/o timed out", KindTimeout},
		{"too many requests", KindTransient},
		{"", KindTransient},
	}
	for _, tc := range cases {
		if got := ClassifyMessage(tc.msg); got != tc.want {
			t.Fatalf("ClassifyMessage(%q)=%v want %v", tc.msg, got, tc.want)
		}
	}
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	schema := NewError(KindSchema, "sof", "42P01", errors.New("missing"))
	if KindOf(fmt.Errorf("wrap: %w", schema)) != KindSchema {
		t.Fatalf("wrapped schema error lost its kind")
	}
	if KindOf(context.DeadlineExceeded) != KindTimeout {
		t.Fatalf("deadline should be a timeout")
	}
	if KindOf(errors.New("connection reset by peer")) != KindTransient {
		t.Fatalf("untyped errors are transient")
	}
}

func TestError_Format(t *testing.T) {
	t.Parallel()

	if NewError(KindSchema, "sof", "", nil) != nil {
		t.Fatalf("NewError(nil) must be nil")
	}

	base := errors.New("boom")
	err := NewError(KindTimeout, "sof", "57014", base)
	msg := err.Error()
	for _, want := range []string{"read sof", "timeout", "code=57014", "boom"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message %q missing %q", msg, want)
		}
	}
	if !errors.Is(err, base) {
		t.Fatalf("Unwrap must expose the cause")
	}
}

func TestRequest_LimitAndSelectsAll(t *testing.T) {
	t.Parallel()

	r := Request{From: 5000, To: 9999}
	if r.Limit() != 5000 {
		t.Fatalf("Limit=%d", r.Limit())
	}
	if !r.SelectsAll() {
		t.Fatalf("no columns selects all")
	}
	r.Columns = []string{"region", " * "}
	if !r.SelectsAll() {
		t.Fatalf("* selects all")
	}
	r.Columns = []string{"region"}
	if r.SelectsAll() {
		t.Fatalf("explicit list must not select all")
	}
}
