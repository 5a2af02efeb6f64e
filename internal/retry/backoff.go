// Copyright (c) The claimr-go Authors.
// Licensed under the MIT License.
package retry

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/claimr-tools/claimr-go/errors"
	"github.com/claimr-tools/claimr-go/internal/log"
	"github.com/claimr-tools/claimr-go/internal/wallclock"
)

const (
	// Adding 6 to the attempt count starts the delay at 2^7 = 128ms.
	minExponent = 6

	// Clamp the exponent to avoid overflow.
	maxExponent = 32

	// DefaultMaxInterval caps the delay between attempts.
	DefaultMaxInterval = 30 * time.Second
)

type (
	// Task represents a function to retry.
	Task struct {
		Name string                      // Task name
		Exec func(context.Context) error // Target function
		Cond func(error) bool            // Retry condition based on the error
	}

	// Backoff retries a task with exponential backoff and optional jitter.
	Backoff struct {
		// MaxAttempts limits the number of executions; zero retries
		// indefinitely.
		MaxAttempts int

		// MaxInterval caps the delay; DefaultMaxInterval is used if zero.
		MaxInterval time.Duration

		// Timeout bounds all attempts together; zero means no bound beyond
		// the context.
		Timeout time.Duration

		// Jitter spreads each delay between 95% and 105% of its base.
		Jitter bool

		Logger *slog.Logger
	}
)

// Start executes the task until it succeeds, returns an error its condition
// rejects, or runs out of attempts.
func (b *Backoff) Start(ctx context.Context, task Task) error {
	logger := log.Wrap(b.Logger)

	if b.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = wallclock.Instance.WithTimeoutCause(ctx, b.Timeout,
			&errors.Error{
				Message: task.Name + " timed out",
				Kind:    errors.Timeout,
			},
		)
		defer cancel()
	}

	for try := 0; ; try++ {
		logger.Debug(ctx, "executing task",
			slog.String("task", task.Name),
			slog.Int("attempt", try+1),
		)
		err := task.Exec(ctx)
		if err == nil {
			return nil
		}

		interval := b.interval(ctx, try, task.Cond == nil || task.Cond(err))
		if interval == 0 {
			logger.Debug(ctx, "giving up on task",
				slog.String("task", task.Name),
				slog.Int("attempts", try+1),
			)
			logger.Warn(ctx, err)
			return err
		}

		select {
		case <-wallclock.Instance.After(interval):
		case <-ctx.Done():
			return err
		}
	}
}

// Zero means stop.
func (b *Backoff) interval(ctx context.Context, try int, cond bool) time.Duration {
	if !cond || ctx.Err() != nil ||
		(b.MaxAttempts > 0 && try >= b.MaxAttempts-1) {
		return 0
	}

	maxInterval := b.MaxInterval
	if maxInterval <= 0 {
		maxInterval = DefaultMaxInterval
	}

	exp := min(try+minExponent, maxExponent)
	ms := math.Min(math.Pow(2, float64(exp)), float64(maxInterval.Milliseconds()))
	if b.Jitter {
		// #nosec G404
		ms = ms * float64(95+rand.IntN(11)) / 100
	}
	return time.Duration(ms) * time.Millisecond
}
