package retry

import (
	"context"
	"time"
)

// Config controls retry behaviour for transient failures.
type Config struct {
	// Attempts is the total number of tries, including the first.
	Attempts int
	// BaseDelay is the delay before the first retry; it doubles each attempt.
	BaseDelay time.Duration
	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration
}

// DefaultConfig returns the default retry configuration: 3 attempts with
// exponential backoff starting at 250ms.
func DefaultConfig() Config {
	return Config{
		Attempts:  3,
		BaseDelay: 250 * time.Millisecond,
		MaxDelay:  5 * time.Second,
	}
}

// Do runs fn, retrying on failure while retryable reports the error as
// transient. Business-class errors (retryable returns false) are returned
// immediately so callers can fall through to their fallback path.
func Do(ctx context.Context, cfg Config, fn func() error, retryable func(error) bool) error {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}

	delay := cfg.BaseDelay
	var err error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt == cfg.Attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return err
}
