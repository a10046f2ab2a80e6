// Package contention retries storage transactions that lost a race with a
// concurrent writer.
//
// A Controller runs an attempt function in a bounded loop. Only attempts
// reporting Conflict are retried, each after an exponential backoff of
// BaseDelay * 2^(attempt-1). Unavailable and Committed are final results,
// Fatal errors propagate immediately.
package contention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/ticket-inventory/internal/storage"
	"github.com/rs/zerolog"
)

// Outcome tags the result of one attempt.
type Outcome int

const (
	Committed Outcome = iota
	Unavailable
	Conflict
	Fatal
)

func (o Outcome) String() string {
	switch o {
	case Committed:
		return "committed"
	case Unavailable:
		return "unavailable"
	case Conflict:
		return "conflict"
	case Fatal:
		return "fatal"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// ErrAttemptsExhausted is returned when every attempt ended in a conflict.
// The returned error also wraps the last conflict.
var ErrAttemptsExhausted = errors.New("write conflict persisted after all attempts")

const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 50 * time.Millisecond

	// MaxBackoff caps a single wait however many attempts are configured.
	MaxBackoff = 30 * time.Second
)

type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultPolicy returns 5 attempts with a 50ms base delay.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, BaseDelay: DefaultBaseDelay}
}

// Backoff returns the wait before the attempt following attempt n (1-based),
// never more than MaxBackoff.
func (p Policy) Backoff(n int) time.Duration {
	d := min(p.BaseDelay, MaxBackoff)
	for i := 1; i < n; i++ {
		if d >= MaxBackoff/2 {
			return MaxBackoff
		}
		d *= 2
	}
	return d
}

// Observer receives one call per attempt and per backoff.
type Observer interface {
	ObserveAttempt(op string, attempt int, outcome Outcome)
	ObserveBackoff(op string, delay time.Duration)
}

// WaitFunc blocks the calling goroutine for d or until ctx is done.
type WaitFunc func(ctx context.Context, d time.Duration) error

// AttemptFunc runs one full attempt. err must be nil for Committed and
// Unavailable and non-nil otherwise.
type AttemptFunc func(ctx context.Context, attempt int) (Outcome, error)

type Controller struct {
	policy   Policy
	log      zerolog.Logger
	observer Observer
	wait     WaitFunc
}

type Option func(*Controller)

// WithObserver reports attempts and backoffs to o.
func WithObserver(o Observer) Option {
	return func(c *Controller) {
		c.observer = o
	}
}

// WithWait replaces the timer-based wait.
func WithWait(w WaitFunc) Option {
	return func(c *Controller) {
		c.wait = w
	}
}

func New(policy Policy, log zerolog.Logger, opts ...Option) *Controller {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = DefaultMaxAttempts
	}
	if policy.BaseDelay < 0 {
		policy.BaseDelay = DefaultBaseDelay
	}

	c := &Controller{
		policy:   policy,
		log:      log,
		observer: nopObserver{},
		wait:     sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) Policy() Policy {
	return c.policy
}

// Do runs fn until it returns something other than Conflict or the attempt
// budget is spent. Each retry starts a fresh attempt from scratch.
func (c *Controller) Do(ctx context.Context, op string, fn AttemptFunc) (Outcome, error) {
	var lastErr error

	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		outcome, err := fn(ctx, attempt)
		c.observer.ObserveAttempt(op, attempt, outcome)

		if outcome != Conflict {
			if outcome == Fatal && err == nil {
				err = fmt.Errorf("%s: attempt %d failed without an error", op, attempt)
			}
			return outcome, err
		}
		lastErr = err

		if attempt == c.policy.MaxAttempts {
			break
		}

		delay := c.policy.Backoff(attempt)
		c.log.Debug().Err(err).
			Str("op", op).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("write conflict, retrying")
		c.observer.ObserveBackoff(op, delay)

		if err := c.wait(ctx, delay); err != nil {
			return Fatal, fmt.Errorf("%s: waiting to retry: %w", op, err)
		}
	}

	c.log.Warn().Err(lastErr).
		Str("op", op).
		Int("attempts", c.policy.MaxAttempts).
		Msg("giving up after repeated write conflicts")

	return Conflict, fmt.Errorf("%s: %w: %w", op, ErrAttemptsExhausted, lastErr)
}

// Classify maps an attempt error to Conflict or Fatal. A nil error is
// Committed.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return Committed
	case storage.IsWriteConflict(err):
		return Conflict
	default:
		return Fatal
	}
}

// sleep parks only the calling goroutine.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type nopObserver struct{}

func (nopObserver) ObserveAttempt(string, int, Outcome)   {}
func (nopObserver) ObserveBackoff(string, time.Duration) {}
