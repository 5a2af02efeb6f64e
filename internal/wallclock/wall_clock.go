// Copyright (c) The claimr-go Authors.
// Licensed under the MIT License.
package wallclock

import (
	"context"
	"time"
)

type (
	// WallClock abstracts the subset of packages context and time used by the
	// client, so tests can control apparent time.
	WallClock interface {
		Now() time.Time
		WithTimeoutCause(
			parent context.Context,
			timeout time.Duration,
			cause error,
		) (context.Context, context.CancelFunc)
		After(d time.Duration) <-chan time.Time
	}

	wallClock struct{}
)

func (wallClock) Now() time.Time {
	return time.Now()
}

func (wallClock) WithTimeoutCause(
	parent context.Context,
	timeout time.Duration,
	cause error,
) (context.Context, context.CancelFunc) {
	return context.WithTimeoutCause(parent, timeout, cause)
}

func (wallClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// Instance is the WallClock used throughout the module. Test code may replace
// it to interpose on time.
var Instance WallClock = wallClock{}
