// Package retry runs remote operations with bounded attempts, backoff, a
// per-attempt timeout and a hook between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy configures Do.
type Policy struct {
	// Name identifies the operation in errors.
	Name string
	// Attempts is the total number of tries, including the first.
	Attempts int
	// Delay is the wait before the second attempt.
	Delay time.Duration
	// Multiplier grows Delay after each failure. Values <= 1 keep it fixed.
	Multiplier float64
	// MaxDelay caps the grown delay. Zero means no cap.
	MaxDelay time.Duration
	// Timeout bounds each attempt. Zero means no per-attempt limit.
	Timeout time.Duration
	// OnFailure runs after a failed attempt that will be retried. It may
	// block, for example while reconnecting.
	OnFailure func(ctx context.Context, attempt int, err error)
}

// ExhaustedError is returned when every attempt failed.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: giving up after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// ErrTimeout marks an attempt that exceeded Policy.Timeout.
var ErrTimeout = errors.New("attempt timed out")

// Permanent wraps err so that Do stops retrying and returns it unchanged.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

func (p Policy) backOff() backoff.BackOff {
	if p.Multiplier <= 1 {
		return backoff.NewConstantBackOff(p.Delay)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Delay
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	if p.MaxDelay > 0 {
		b.MaxInterval = p.MaxDelay
	}
	b.Reset()
	return b
}

// Do calls op until it succeeds, returns a Permanent error, ctx ends or the
// attempts run out. op receives a context that is cancelled when its
// attempt times out and must release any resources it holds when it is.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	attempts := max(p.Attempts, 1)
	b := backoff.WithContext(backoff.WithMaxRetries(p.backOff(), uint64(attempts-1)), ctx)

	attempt := 0
	permanent := false
	operation := func() error {
		attempt++
		err := runAttempt(ctx, p.Timeout, op)
		var pe *backoff.PermanentError
		if errors.As(err, &pe) {
			permanent = true
		}
		return err
	}
	notify := func(err error, _ time.Duration) {
		if p.OnFailure != nil {
			p.OnFailure(ctx, attempt, err)
		}
	}

	err := backoff.RetryNotify(operation, b, notify)
	if err == nil || permanent || ctx.Err() != nil {
		return err
	}
	return &ExhaustedError{Op: p.Name, Attempts: attempt, Err: err}
}

func runAttempt(ctx context.Context, timeout time.Duration, op func(context.Context) error) error {
	if timeout <= 0 {
		return op(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- op(actx) }()
	select {
	case err := <-done:
		return err
	case <-actx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
}
