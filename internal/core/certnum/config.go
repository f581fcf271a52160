package certnum

import "time"

// DefaultSequenceKey names the single global certificate counter.
const DefaultSequenceKey = "certificate"

// Options configures an allocator.
type Options struct {
	// SequenceKey selects the counter row. All schools share one counter.
	SequenceKey string

	// MaxAttempts bounds how often a contended transaction is re-run
	// before ErrAllocationFailed is reported (default 5).
	MaxAttempts int

	// Backoff is the pause before the second attempt; it doubles on every
	// further attempt (default 20ms).
	Backoff time.Duration

	// IsRetryable classifies storage errors as contention.
	// Nil means no error is retried.
	IsRetryable func(error) bool
}

// DefaultOptions returns standard options.
func DefaultOptions() Options {
	return Options{
		SequenceKey: DefaultSequenceKey,
		MaxAttempts: 5,
		Backoff:     20 * time.Millisecond,
	}
}

// WithDefaults fills zero fields from DefaultOptions.
func (o Options) WithDefaults() Options {
	def := DefaultOptions()
	if o.SequenceKey == "" {
		o.SequenceKey = def.SequenceKey
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = def.MaxAttempts
	}
	if o.Backoff <= 0 {
		o.Backoff = def.Backoff
	}
	return o
}
