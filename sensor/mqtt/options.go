// Copyright (c) The claimr-go Authors.
// Licensed under the MIT License.
package mqtt

import (
	"log/slog"

	"github.com/claimr-tools/claimr-go/internal/options"
)

type (
	// BridgeOption represents a single bridge option.
	BridgeOption interface{ bridge(*BridgeOptions) }

	// BridgeOptions are the resolved bridge options.
	BridgeOptions struct {
		ClientID    string
		TopicPrefix string
		Header      string
		KeepAlive   uint16
		Attempts    int
		Logger      *slog.Logger
	}

	// WithClientID sets the MQTT client ID. A random ID is used by default.
	WithClientID string

	// WithTopicPrefix sets the prefix of the device topics.
	WithTopicPrefix string

	// WithHeader sets the protocol header reported by the bridge.
	WithHeader string

	// WithKeepAlive sets the MQTT keep-alive in seconds.
	WithKeepAlive uint16

	// WithConnectAttempts sets how many times Dial tries to reach the
	// broker. Zero tries indefinitely until the context ends.
	WithConnectAttempts int

	// This option is not used directly; see WithLogger below.
	withLogger struct{ *slog.Logger }
)

// Apply resolves the provided list of options.
func (o *BridgeOptions) Apply(opts []BridgeOption, rest ...BridgeOption) {
	for opt := range options.Apply[BridgeOption](opts, rest...) {
		opt.bridge(o)
	}
}

func (o *BridgeOptions) bridge(opt *BridgeOptions) {
	if o != nil {
		*opt = *o
	}
}

func (o WithClientID) bridge(opt *BridgeOptions) {
	opt.ClientID = string(o)
}

func (o WithConnectAttempts) bridge(opt *BridgeOptions) {
	opt.Attempts = int(o)
}

func (o WithTopicPrefix) bridge(opt *BridgeOptions) {
	opt.TopicPrefix = string(o)
}

func (o WithHeader) bridge(opt *BridgeOptions) {
	opt.Header = string(o)
}

func (o WithKeepAlive) bridge(opt *BridgeOptions) {
	opt.KeepAlive = uint16(o)
}

// WithLogger enables logging with the provided slog logger.
func WithLogger(logger *slog.Logger) BridgeOption {
	return withLogger{logger}
}

func (o withLogger) bridge(opt *BridgeOptions) {
	opt.Logger = o.Logger
}
