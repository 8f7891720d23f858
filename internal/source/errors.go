// Package source defines the table read capability consumed by the fetcher
// and a registry of backends implementing it.
package source

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrUnknownKind is returned by Open for an empty or unregistered kind.
var ErrUnknownKind = errors.New("unknown source kind")

// Kind classifies a read failure.
type Kind int

const (
	// KindTransient covers rate limiting, connection resets and anything
	// unrecognized. Retryable.
	KindTransient Kind = iota
	// KindTimeout is a statement or network timeout. Retryable.
	KindTimeout
	// KindSchema means the table or a requested column does not exist.
	// Never retried.
	KindSchema
)

func (k Kind) String() string {
	switch k {
	case KindSchema:
		return "schema"
	case KindTimeout:
		return "timeout"
	default:
		return "transient"
	}
}

// Error is the typed error returned by readers.
type Error struct {
	Kind  Kind
	Table string
	Code  string // backend code (SQLSTATE, error number) when known
	Err   error
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("read %s", e.Table))
	parts = append(parts, e.Kind.String())
	if e.Code != "" {
		parts = append(parts, "code="+e.Code)
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, " - ")
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a kind. A nil err yields nil.
func NewError(kind Kind, table, code string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Table: table, Code: code, Err: err}
}

// KindOf returns the classification of err. Untyped errors are transient,
// except timeouts recognized by IsTimeout.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	if IsTimeout(err) {
		return KindTimeout
	}
	return KindTransient
}

// IsTimeout reports whether err is a deadline or network timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}

// ClassifyMessage is the fallback used by backends without structured codes:
// "relation/table ... does not exist", "no such table" and similar messages
// are schema errors, messages mentioning a timeout are timeouts.
func ClassifyMessage(msg string) Kind {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "does not exist"),
		strings.Contains(m, "no such table"),
		strings.Contains(m, "no such column"),
		strings.Contains(m, "invalid object name"),
		strings.Contains(m, "unknown column"):
		return KindSchema
	case strings.Contains(m, "timeout"), strings.Contains(m, "timed out"):
		return KindTimeout
	}
	return KindTransient
}
