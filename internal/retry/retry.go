// Package retry provides a shared retry utility with exponential backoff and jitter,
// plus a fixed-interval poller for watching slow external state (e.g. transaction
// confirmation).
package retry

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"time"
)

// cryptoInt64n returns a random int64 in [0, n) using crypto/rand.
func cryptoInt64n(n int64) int64 {
	if n <= 0 {
		return 0
	}
	var b [8]byte
	_, _ = rand.Read(b[:])
	v := binary.LittleEndian.Uint64(b[:]) >> 1 // ensure fits in int64
	return int64(v % uint64(n))                //nolint:gosec // n>0, v%n < n, safe
}

// PermanentError wraps an error that should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Do and Poll will not retry it.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// Do calls fn up to maxAttempts times with exponential backoff and jitter.
// It stops early if:
//   - fn returns nil (success)
//   - fn returns a *PermanentError (not retryable)
//   - ctx is cancelled
//
// baseDelay is doubled on each retry with +-25% jitter.
func Do(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var err error
	delay := baseDelay

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Don't retry permanent errors.
		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}

		// Don't sleep after the last attempt.
		if attempt == maxAttempts-1 {
			break
		}

		// Exponential backoff with +-25% jitter.
		jitter := delay / 4
		sleep := delay - jitter + time.Duration(cryptoInt64n(int64(2*jitter+1)))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}

		delay *= 2
	}

	return err
}

// ErrAttemptsExhausted is returned by Poll when the attempt budget runs out
// before fn reports completion.
var ErrAttemptsExhausted = errors.New("retry: attempts exhausted")

// Policy describes a fixed-interval polling schedule. Unlike Do, the delay
// between attempts does not grow: polling an external system for a state
// change wants a steady cadence and a hard attempt ceiling.
type Policy struct {
	Interval    time.Duration
	MaxAttempts int
}

// Poll calls fn on a fixed interval until it reports done, the attempt budget
// is exhausted, or ctx is cancelled. The first attempt runs immediately.
//
// An error from fn consumes an attempt like any other poll; polling continues
// unless the error is a *PermanentError, which stops immediately. When the
// budget runs out, the returned error wraps ErrAttemptsExhausted together
// with the last error fn produced, if any.
func Poll(ctx context.Context, p Policy, fn func() (done bool, err error)) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		done, err := fn()
		if done {
			return err
		}
		if err != nil {
			var pe *PermanentError
			if errors.As(err, &pe) {
				return pe.Err
			}
			lastErr = err
		}

		if attempt == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Interval):
		}
	}

	return errors.Join(ErrAttemptsExhausted, lastErr)
}
