package fetch

import "fmt"

// SchemaError reports a table or column set that does not exist. It is never
// retried.
type SchemaError struct {
	Table string
	Err   error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("table %q does not exist or a requested column is missing; check the table name and column list: %v", e.Table, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// ExhaustedRetriesError reports a window that kept failing at the minimum
// page size, or a lenient loop that skipped too many windows in a row.
type ExhaustedRetriesError struct {
	Table    string
	From     int
	To       int // inclusive
	PageSize int
	Attempts int
	Err      error // last read error
}

func (e *ExhaustedRetriesError) Error() string {
	return fmt.Sprintf("fetch %s: retries exhausted at rows [%d, %d] page_size=%d attempts=%d: %v",
		e.Table, e.From, e.To, e.PageSize, e.Attempts, e.Err)
}

func (e *ExhaustedRetriesError) Unwrap() error { return e.Err }
