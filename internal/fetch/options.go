package fetch

import "time"

// Options are the named parameters of the retry/degrade ladder.
type Options struct {
	// PageSize is the initial window size.
	PageSize int

	// MinPageSize is the floor for degradation. A page that exhausts its
	// retries at this size aborts the fetch.
	MinPageSize int

	// MaxAttempts is the total number of attempts per window in the strict
	// loop (first try included).
	MaxAttempts int

	// BackoffStep is the linear backoff unit: the delay before attempt n+1
	// is BackoffStep * n. Zero disables sleeping.
	BackoffStep time.Duration

	// DegradeDivisor divides the page size when retries are exhausted.
	DegradeDivisor int

	// MaxSkippedWindows bounds consecutive skipped windows in the lenient
	// loop; reaching it aborts with ExhaustedRetriesError.
	MaxSkippedWindows int

	// OrderBy optionally pins a stable row order across windows.
	OrderBy string
}

// Defaults for the general-purpose path.
const (
	DefaultPageSize          = 5000
	ConservativePageSize     = 1000
	DefaultMinPageSize       = 100
	DefaultMaxAttempts       = 3
	DefaultBackoffStep       = time.Second
	DefaultDegradeDivisor    = 10
	DefaultMaxSkippedWindows = 50
)

// DefaultOptions returns the general-purpose ladder (5000-row pages).
func DefaultOptions() Options {
	return Options{
		PageSize:          DefaultPageSize,
		MinPageSize:       DefaultMinPageSize,
		MaxAttempts:       DefaultMaxAttempts,
		BackoffStep:       DefaultBackoffStep,
		DegradeDivisor:    DefaultDegradeDivisor,
		MaxSkippedWindows: DefaultMaxSkippedWindows,
	}
}

// ConservativeOptions returns the ladder for tables known to be
// failure-prone (1000-row pages).
func ConservativeOptions() Options {
	o := DefaultOptions()
	o.PageSize = ConservativePageSize
	return o
}

// normalized fills unset or invalid fields with defaults.
//
// Edge cases:
//   - MinPageSize above PageSize is clamped to PageSize (degradation is
//     then impossible and exhausted retries abort).
//   - DegradeDivisor below 2 would not shrink the window; it falls back
//     to the default.
//   - Negative BackoffStep is treated as zero.
func (o Options) normalized() Options {
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	if o.MinPageSize <= 0 {
		o.MinPageSize = DefaultMinPageSize
	}
	if o.MinPageSize > o.PageSize {
		o.MinPageSize = o.PageSize
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.BackoffStep < 0 {
		o.BackoffStep = 0
	}
	if o.DegradeDivisor < 2 {
		o.DegradeDivisor = DefaultDegradeDivisor
	}
	if o.MaxSkippedWindows <= 0 {
		o.MaxSkippedWindows = DefaultMaxSkippedWindows
	}
	return o
}

// degradedSize is the page size used by the lenient loop.
func (o Options) degradedSize(current int) int {
	return max(o.MinPageSize, current/o.DegradeDivisor)
}
