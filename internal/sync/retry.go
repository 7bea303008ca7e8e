package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"
)

const (
	// DefaultBaseDelay is the delay before the first retry.
	DefaultBaseDelay = 2 * time.Second

	// DefaultMaxAttempts is the total number of calls made for one reconciliation.
	DefaultMaxAttempts = 4

	// DefaultMaxDelay caps the computed backoff.
	DefaultMaxDelay = 5 * time.Minute
)

// RetryPolicy bounds retries of transient failures.
type RetryPolicy struct {
	// BaseDelay is the delay before the first retry. Each further retry doubles it.
	BaseDelay time.Duration

	// MaxAttempts is the total number of calls, including the first.
	MaxAttempts int

	// MaxDelay caps the computed backoff. Zero means no cap.
	MaxDelay time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:   DefaultBaseDelay,
		MaxAttempts: DefaultMaxAttempts,
		MaxDelay:    DefaultMaxDelay,
	}
}

// validate checks the policy bounds.
func (p RetryPolicy) validate() error {
	var errs []error
	if p.MaxAttempts < 1 {
		errs = append(errs, errors.New("max attempts must be at least 1"))
	}
	if p.BaseDelay < 0 {
		errs = append(errs, errors.New("base delay cannot be negative"))
	}
	if p.MaxDelay < 0 {
		errs = append(errs, errors.New("max delay cannot be negative"))
	}
	return errors.Join(errs...)
}

// Delay returns the wait after the failed attempt with the given zero-based index.
// A Retry-After hint from the directory wins when it is longer than the backoff.
func (p RetryPolicy) Delay(attempt int, e *Error) time.Duration {
	d := p.BaseDelay
	for range attempt {
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			break
		}
		if d > math.MaxInt64/2 {
			break
		}
		d *= 2
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if e != nil && e.RetryAfter > d {
		d = e.RetryAfter
	}
	return d
}

// Retrier runs reconciler actions with bounded exponential backoff on transient failures.
type Retrier struct {
	// logger receives retry decisions.
	logger *slog.Logger

	// policy bounds the attempts and their backoff.
	policy RetryPolicy

	// reconciler runs each attempt.
	reconciler *Reconciler

	// sleep waits d or until ctx is done.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetrier creates a Retrier for r.
func NewRetrier(r *Reconciler, policy RetryPolicy) (*Retrier, error) {
	if r == nil {
		return nil, errors.New("reconciler is required")
	}
	if err := policy.validate(); err != nil {
		return nil, fmt.Errorf("invalid retry policy: %w", err)
	}
	return &Retrier{
		logger:     r.logger,
		policy:     policy,
		reconciler: r,
		sleep:      sleepContext,
	}, nil
}

// Reconciler returns the wrapped reconciler.
func (rt *Retrier) Reconciler() *Reconciler {
	return rt.reconciler
}

// SyncWithRetry runs Sync, retrying transient failures.
func (rt *Retrier) SyncWithRetry(ctx context.Context, t *Target, force bool) Result {
	return rt.Do(ctx, t, ActionSync, force)
}

// Do runs action on t, retrying transient failures until the policy is exhausted.
// Intermediate failures leave the target pending; the last one is recorded as failed.
// If ctx ends during a wait, the failure observed so far is recorded as final.
func (rt *Retrier) Do(ctx context.Context, t *Target, action Action, force bool) Result {
	for attempt := 0; ; attempt++ {
		final := attempt >= rt.policy.MaxAttempts-1
		res := rt.reconciler.run(ctx, t, action, force, final)
		if res.Success || res.Error == nil || !res.Error.Transient() || final {
			return res
		}

		delay := rt.policy.Delay(attempt, res.Error)
		rt.logger.WarnContext(ctx, "transient failure, retrying",
			"target_id", t.ID,
			"action", action,
			"attempt", attempt+1,
			"max_attempts", rt.policy.MaxAttempts,
			"delay", delay,
			"error", res.Error.Message)

		if err := rt.sleep(ctx, delay); err != nil {
			if !res.recorded {
				return res
			}
			return rt.reconciler.recordFailure(ctx, t, res, res.Error, true)
		}
	}
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
