// Copyright (c) The claimr-go Authors.
// Licensed under the MIT License.
package replay

import (
	"log/slog"
	"time"

	"github.com/claimr-tools/claimr-go/internal/options"
)

type (
	// Option represents a single replay option.
	Option interface{ replay(*Options) }

	// Options are the resolved replay options.
	Options struct {
		Interval  time.Duration
		IdleFlush time.Duration
		Follow    bool
		Header    string
		Logger    *slog.Logger
	}

	// WithInterval paces the replay by waiting between epochs.
	WithInterval time.Duration

	// WithIdleFlush sets how long a followed file must stay unchanged before
	// the pending epoch is delivered; DefaultIdleFlush is used if unset.
	WithIdleFlush time.Duration

	// WithFollow keeps streaming as the file grows, like tail -f.
	WithFollow bool

	// WithHeader overrides the header read from the file.
	WithHeader string

	// This option is not used directly; see WithLogger below.
	withLogger struct{ *slog.Logger }
)

// Apply resolves the provided list of options.
func (o *Options) Apply(opts []Option, rest ...Option) {
	for opt := range options.Apply[Option](opts, rest...) {
		opt.replay(o)
	}
}

func (o *Options) replay(opt *Options) {
	if o != nil {
		*opt = *o
	}
}

func (o WithInterval) replay(opt *Options) {
	opt.Interval = time.Duration(o)
}

func (o WithIdleFlush) replay(opt *Options) {
	opt.IdleFlush = time.Duration(o)
}

func (o WithFollow) replay(opt *Options) {
	opt.Follow = bool(o)
}

func (o WithHeader) replay(opt *Options) {
	opt.Header = string(o)
}

// WithLogger enables logging with the provided slog logger.
func WithLogger(logger *slog.Logger) Option {
	return withLogger{logger}
}

func (o withLogger) replay(opt *Options) {
	opt.Logger = o.Logger
}
