// Package retry wraps remote calls with a transient-failure retry policy.
//
// Every attempt runs under its own per-attempt timeout, independent of the
// caller's context. A failed attempt is retried only when the policy's
// Transient classifier accepts it, with a fixed delay between attempts, until
// either the call succeeds or the total retry budget is exhausted.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Default policy bounds.
const (
	DefaultAttemptTimeout = 30 * time.Second
	DefaultTotalTimeout   = 10 * time.Minute
	DefaultDelay          = 2 * time.Second
)

// Event describes one retry decision, passed to the policy's Observer.
type Event struct {
	Op       string
	Attempt  int
	Err      error
	TimedOut bool // the attempt hit its per-attempt timeout
}

// Policy bounds and classifies retries of remote calls.
//
// The zero value is not usable; construct with NewPolicy and adjust fields
// before first use. A Policy is immutable after construction and safe for
// concurrent use; tests can run with different policies side by side.
type Policy struct {
	// AttemptTimeout bounds a single attempt. An attempt that neither
	// completes nor sees the caller's cancellation within this window is
	// abandoned and retried.
	AttemptTimeout time.Duration

	// TotalTimeout bounds the elapsed time across all attempts. Exceeding
	// it surfaces an ExhaustedError.
	TotalTimeout time.Duration

	// Delay is the fixed wait between attempts.
	Delay time.Duration

	// Transient reports whether an error is worth retrying. Nil means
	// nothing is transient.
	Transient func(error) bool

	// Observer, if set, is invoked on every retried or timed-out attempt.
	// It is a telemetry hook only and must not block.
	Observer func(Event)
}

// NewPolicy returns a Policy with the default bounds and the given
// transient-error classifier.
func NewPolicy(transient func(error) bool) Policy {
	return Policy{
		AttemptTimeout: DefaultAttemptTimeout,
		TotalTimeout:   DefaultTotalTimeout,
		Delay:          DefaultDelay,
		Transient:      transient,
	}
}

// ExhaustedError reports that the total retry budget ran out. It satisfies
// errors.Is(err, context.DeadlineExceeded) so callers can treat it as a
// cancellation-class failure, and unwraps to the last attempt's error.
type ExhaustedError struct {
	Op       string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: %s: budget exhausted after %d attempts: %v", e.Op, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Is reports context.DeadlineExceeded so the exhausted budget surfaces as a
// cancellation-class failure.
func (e *ExhaustedError) Is(target error) bool { return target == context.DeadlineExceeded }

// Do runs fn under the policy until it succeeds, fails permanently, the
// caller's ctx is cancelled, or the retry budget is exhausted.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := Val(ctx, p, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// OrFalse runs fn exactly once and collapses any failure to false. It is
// meant for existence probes where a false negative is an acceptable, cheap
// fallback; it never retries.
func (p Policy) OrFalse(ctx context.Context, op string, fn func(ctx context.Context) (bool, error)) bool {
	attemptCtx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
	defer cancel()
	ok, err := fn(attemptCtx)
	if err != nil {
		p.observe(Event{Op: op, Attempt: 1, Err: err, TimedOut: attemptCtx.Err() != nil && ctx.Err() == nil})
		return false
	}
	return ok
}

// Val runs fn under policy p and returns its result. It is a free function
// because methods cannot introduce type parameters.
func Val[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	deadline := time.Now().Add(p.TotalTimeout)
	var lastErr error

	for attempt := 1; ; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
		v, err := fn(attemptCtx)
		timedOut := attemptCtx.Err() != nil && ctx.Err() == nil
		cancel()
		if err == nil {
			return v, nil
		}
		lastErr = err

		// Caller cancellation aborts immediately and is never retried.
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		// An abandoned attempt (per-attempt timeout) is retried like a
		// transient failure. Permanent errors are never retried.
		retryable := timedOut || (p.Transient != nil && p.Transient(err))
		if !retryable || IsPermanent(err) {
			return zero, err
		}

		p.observe(Event{Op: op, Attempt: attempt, Err: err, TimedOut: timedOut})

		if time.Now().Add(p.Delay).After(deadline) {
			return zero, &ExhaustedError{Op: op, Attempts: attempt, Last: lastErr}
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(p.Delay):
		}
	}
}

func (p Policy) observe(ev Event) {
	if p.Observer != nil {
		p.Observer(ev)
	}
}

// Permanent wraps an error so that no classifier treats it as transient.
// Errors carrying data-corruption evidence use it to fail hard.
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable regardless of classification.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe permanentError
	return errors.As(err, &pe)
}
