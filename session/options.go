// Copyright (c) The claimr-go Authors.
// Licensed under the MIT License.
package session

import (
	"log/slog"
	"time"

	"github.com/claimr-tools/claimr-go/claimr"
	"github.com/claimr-tools/claimr-go/internal/options"
)

type (
	// Option represents a single session option.
	Option interface{ session(*Options) }

	// Options are the resolved session options.
	Options struct {
		Claim             *claimr.Claim
		MinEpochs         int
		MaxEpochs         int
		DefaultRadius     float64
		LogRequestDetails bool
		VerifyTimeout     time.Duration
		Recorder          Recorder
		Logger            *slog.Logger
	}

	// WithMinEpochs sets the number of epochs required before submitting.
	WithMinEpochs int

	// WithMaxEpochs sets the number of epochs retained as evidence. Zero
	// selects DefaultMaxEpochs; values below the minimum are raised to it.
	WithMaxEpochs int

	// WithDefaultRadius sets the radius in meters of the point claim built
	// from the current location when no explicit claim is given.
	WithDefaultRadius float64

	// WithLogRequestDetails asks the verifier to log submitted requests.
	WithLogRequestDetails bool

	// WithVerifyTimeout bounds each verification call.
	WithVerifyTimeout time.Duration

	// These options are not used directly; see the constructors below.
	withClaim    struct{ claimr.Claim }
	withRecorder struct{ Recorder }
	withLogger   struct{ *slog.Logger }
)

// Defaults applied when the corresponding option is unset.
const (
	DefaultMinEpochs = 4
	DefaultMaxEpochs = 10
	DefaultRadius    = 100
)

// Apply resolves the provided list of options.
func (o *Options) Apply(opts []Option, rest ...Option) {
	for opt := range options.Apply[Option](opts, rest...) {
		opt.session(o)
	}
}

func (o *Options) session(opt *Options) {
	if o != nil {
		*opt = *o
	}
}

func (o WithMinEpochs) session(opt *Options) {
	opt.MinEpochs = int(o)
}

func (o WithMaxEpochs) session(opt *Options) {
	opt.MaxEpochs = int(o)
}

func (o WithDefaultRadius) session(opt *Options) {
	opt.DefaultRadius = float64(o)
}

func (o WithLogRequestDetails) session(opt *Options) {
	opt.LogRequestDetails = bool(o)
}

func (o WithVerifyTimeout) session(opt *Options) {
	opt.VerifyTimeout = time.Duration(o)
}

// WithClaim sets an explicit claim to submit instead of a point around the
// current location.
func WithClaim(claim claimr.Claim) Option {
	return withClaim{claim}
}

func (o withClaim) session(opt *Options) {
	claim := o.Claim
	opt.Claim = &claim
}

// WithRecorder records every resolved verification attempt.
func WithRecorder(recorder Recorder) Option {
	return withRecorder{recorder}
}

func (o withRecorder) session(opt *Options) {
	opt.Recorder = o.Recorder
}

// WithLogger enables logging with the provided slog logger.
func WithLogger(logger *slog.Logger) Option {
	return withLogger{logger}
}

func (o withLogger) session(opt *Options) {
	opt.Logger = o.Logger
}
