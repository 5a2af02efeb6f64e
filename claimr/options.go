// Copyright (c) The claimr-go Authors.
// Licensed under the MIT License.
package claimr

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/claimr-tools/claimr-go/internal/options"
)

type (
	// ClientOption represents a single client option.
	ClientOption interface{ client(*ClientOptions) }

	// ClientOptions are the resolved client options.
	ClientOptions struct {
		Endpoint   string
		HTTPClient *http.Client
		Timeout    time.Duration
		Logger     *slog.Logger
	}

	// VerifyOption represents a single per-request option.
	VerifyOption interface{ verify(*VerifyOptions) }

	// VerifyOptions are the resolved per-request options.
	VerifyOptions struct {
		LogRequestDetails bool
		RequestID         string
	}

	// WithEndpoint sets the GraphQL endpoint; DefaultEndpoint is used if
	// unset.
	WithEndpoint string

	// WithTimeout bounds every verification request. Zero means no timeout
	// beyond the caller's context.
	WithTimeout time.Duration

	// WithLogRequestDetails asks the verifier to log the request, and logs it
	// locally at debug level.
	WithLogRequestDetails bool

	// WithRequestID sets the request ID sent as X-Request-ID. A UUIDv7 is
	// generated if unset.
	WithRequestID string

	// These options are not used directly; see the constructors below.
	withHTTPClient struct{ *http.Client }
	withLogger     struct{ *slog.Logger }
)

// Apply resolves the provided list of options.
func (o *ClientOptions) Apply(opts []ClientOption, rest ...ClientOption) {
	for opt := range options.Apply[ClientOption](opts, rest...) {
		opt.client(o)
	}
}

func (o *ClientOptions) client(opt *ClientOptions) {
	if o != nil {
		*opt = *o
	}
}

// Apply resolves the provided list of options.
func (o *VerifyOptions) Apply(opts []VerifyOption, rest ...VerifyOption) {
	for opt := range options.Apply[VerifyOption](opts, rest...) {
		opt.verify(o)
	}
}

func (o *VerifyOptions) verify(opt *VerifyOptions) {
	if o != nil {
		*opt = *o
	}
}

func (o WithEndpoint) client(opt *ClientOptions) {
	opt.Endpoint = string(o)
}

func (o WithTimeout) client(opt *ClientOptions) {
	opt.Timeout = time.Duration(o)
}

func (o WithLogRequestDetails) verify(opt *VerifyOptions) {
	opt.LogRequestDetails = bool(o)
}

func (o WithRequestID) verify(opt *VerifyOptions) {
	opt.RequestID = string(o)
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(client *http.Client) ClientOption {
	return withHTTPClient{client}
}

func (o withHTTPClient) client(opt *ClientOptions) {
	opt.HTTPClient = o.Client
}

// WithLogger enables logging with the provided slog logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return withLogger{logger}
}

func (o withLogger) client(opt *ClientOptions) {
	opt.Logger = o.Logger
}
