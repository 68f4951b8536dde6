package certsd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the SleepFunc backed by a timer.
func Sleep(ctx context.Context, d time.Duration) error {
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

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Retrier invokes an operation until it succeeds or MaxTries is reached, waiting Delay
// between tries. Errors wrapped with Permanent stop the loop immediately.
type Retrier struct {
	Delay    time.Duration
	MaxTries int
	Sleep    SleepFunc
	Logger   *slog.Logger
}

// Do runs op. The attempt passed to op starts at 1.
func (r *Retrier) Do(ctx context.Context, name string, op func(ctx context.Context, attempt int) error) error {
	maxTries := r.MaxTries
	if maxTries < 1 {
		maxTries = 1
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var b backoff.BackOff = backoff.WithMaxRetries(backoff.NewConstantBackOff(r.Delay), uint64(maxTries-1))
	b.Reset()

	for attempt := 1; ; attempt++ {
		err := op(ctx, attempt)
		if err == nil {
			return nil
		}

		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return permanent.Err
		}

		next := b.NextBackOff()
		if next == backoff.Stop {
			return fmt.Errorf("%s: %w after %d attempts: %w", name, ErrRetriesExhausted, attempt, err)
		}

		logger.Warn("operation failed, retrying", "operation", name, "attempt", attempt, "max_attempts", maxTries, "wait", next, "error", err)
		if err := sleep(ctx, next); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
}
