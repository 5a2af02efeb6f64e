// Copyright (c) The claimr-go Authors.
// Licensed under the MIT License.

// Package claimr is a client for the claimr location verification API.
package claimr

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/claimr-tools/claimr-go/errors"
	"github.com/claimr-tools/claimr-go/internal/log"
	"github.com/claimr-tools/claimr-go/internal/wallclock"
	"github.com/google/uuid"
	"github.com/machinebox/graphql"
)

type (
	// Client issues location verification requests against a GraphQL
	// verifier. It holds no per-request state and is safe for concurrent use.
	Client struct {
		gql      *graphql.Client
		apiKey   string
		endpoint string
		timeout  time.Duration
		logger   log.Logger
	}

	verifyRequest struct {
		RequestID         string
		Endpoint          string
		Claim             Claim
		Context           ProofContext
		LogRequestDetails bool
	}
)

// Known verifier endpoints.
const (
	DefaultEndpoint  = "https://api.claimr.tools/graphql"
	UnveilerEndpoint = "https://api.unveiler.io/graphql"
)

// New creates a client authenticating with the given API key.
func New(apiKey string, opt ...ClientOption) (*Client, error) {
	var opts ClientOptions
	opts.Apply(opt)

	if apiKey == "" {
		return nil, &errors.Error{
			Message:      "API key must not be empty",
			Kind:         errors.ConfigurationInvalid,
			PropertyName: "apiKey",
		}
	}

	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if u, err := url.Parse(endpoint); err != nil ||
		(u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &errors.Error{
			Message:       "invalid verifier endpoint",
			Kind:          errors.ConfigurationInvalid,
			NestedError:   err,
			PropertyName:  "endpoint",
			PropertyValue: endpoint,
		}
	}

	if opts.Timeout < 0 {
		return nil, &errors.Error{
			Message:       "timeout must not be negative",
			Kind:          errors.ConfigurationInvalid,
			PropertyName:  "timeout",
			PropertyValue: opts.Timeout,
		}
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	c := &Client{
		gql:      graphql.NewClient(endpoint, graphql.WithHTTPClient(httpClient)),
		apiKey:   apiKey,
		endpoint: endpoint,
		timeout:  opts.Timeout,
		logger:   log.Wrap(opts.Logger),
	}
	c.gql.Log = func(s string) {
		c.logger.Debug(context.Background(), "graphql", slog.String("detail", s))
	}
	return c, nil
}

// Endpoint returns the verifier endpoint in use.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// VerifyLocation submits the claim and its proof to the verifier. Verdicts of
// any status are returned as such; an error is only returned when no verdict
// could be obtained.
func (c *Client) VerifyLocation(
	ctx context.Context,
	claim Claim,
	proof ProofContext,
	opt ...VerifyOption,
) (*Verdict, error) {
	var opts VerifyOptions
	opts.Apply(opt)

	if err := claim.Validate(); err != nil {
		return nil, err
	}

	if opts.RequestID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, &errors.Error{
				Message:     "could not generate request ID",
				Kind:        errors.InternalLogicError,
				NestedError: err,
			}
		}
		opts.RequestID = id.String()
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = wallclock.Instance.WithTimeoutCause(ctx, c.timeout,
			&errors.Error{
				Message: "verification timed out",
				Kind:    errors.Timeout,
			})
		defer cancel()
	}

	if opts.LogRequestDetails {
		c.logger.Struct(ctx, "verifyLocation request", &verifyRequest{
			RequestID:         opts.RequestID,
			Endpoint:          c.endpoint,
			Claim:             claim,
			Context:           proof,
			LogRequestDetails: opts.LogRequestDetails,
		})
	}

	req := graphql.NewRequest(verifyLocationQuery)
	req.Var("claim", claim)
	req.Var("context", proof)
	if opts.LogRequestDetails {
		req.Var("logRequestDetails", true)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-Request-ID", opts.RequestID)

	var res struct {
		VerifyLocation json.RawMessage `json:"verifyLocation"`
	}
	if err := c.gql.Run(ctx, req, &res); err != nil {
		if ctx.Err() != nil {
			return nil, errors.Context(ctx, "verification")
		}
		return nil, &errors.Error{
			Message:     "verification request failed: " + err.Error(),
			Kind:        errors.TransportError,
			NestedError: err,
		}
	}

	verdict, err := decodeVerdict(res.VerifyLocation)
	if err != nil {
		return nil, err
	}

	c.logger.Info(ctx, "location verified",
		slog.String("request_id", opts.RequestID),
		slog.String("status", string(verdict.Status)),
	)
	return verdict, nil
}

func decodeVerdict(raw json.RawMessage) (*Verdict, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, &errors.Error{
			Message: "verifier returned no result",
			Kind:    errors.PayloadInvalid,
		}
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &errors.Error{
			Message:     "verifier returned malformed JSON",
			Kind:        errors.PayloadInvalid,
			NestedError: err,
		}
	}
	if err := verdictSchema.Validate(doc); err != nil {
		return nil, &errors.Error{
			Message:     "verifier returned an unexpected result: " + err.Error(),
			Kind:        errors.PayloadInvalid,
			NestedError: err,
		}
	}

	var verdict Verdict
	if err := json.Unmarshal(raw, &verdict); err != nil {
		return nil, &errors.Error{
			Message:     "could not decode verdict",
			Kind:        errors.PayloadInvalid,
			NestedError: err,
		}
	}
	return &verdict, nil
}
