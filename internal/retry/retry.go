// Package retry re-runs transient failures with exponential backoff.
//
// Its main consumer is the document-store mirror: a sealed transaction is
// already durable on the chain, so a flaky mirror write gets a few bounded
// attempts and is then logged and dropped rather than failing the caller.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// PermanentError marks an error that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Do returns it without further attempts.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// Do calls fn up to maxAttempts times, doubling the delay between attempts
// and jittering it by up to 25% either way. It returns early on success,
// on a permanent error, or when ctx is done during a backoff sleep. The
// last attempt's error is returned when all attempts fail.
func Do(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	delay := baseDelay
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}
		if attempt == maxAttempts {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered(delay)):
		}
		delay *= 2
	}
}

// jittered spreads d by +-25% so concurrent retriers do not sleep in
// lockstep against the same struggling backend.
func jittered(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	quarter := int64(d / 4)
	return d - time.Duration(quarter) + time.Duration(rand.Int64N(2*quarter+1))
}
