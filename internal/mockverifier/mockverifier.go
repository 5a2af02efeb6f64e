// Copyright (c) The claimr-go Authors.
// Licensed under the MIT License.

// Package mockverifier implements an in-process stand-in for the claimr
// GraphQL verifier, for local development and tests.
package mockverifier

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/claimr-tools/claimr-go/claimr"
	"github.com/claimr-tools/claimr-go/errors"
	"github.com/claimr-tools/claimr-go/internal/log"
	"github.com/claimr-tools/claimr-go/internal/options"
	"github.com/claimr-tools/claimr-go/internal/wallclock"
	"github.com/gorilla/mux"
)

type (
	// Verifier serves the verifyLocation query.
	Verifier struct {
		router *mux.Router
		apiKey string
		policy Policy
		delay  time.Duration
		logger log.Logger

		requests []Request
		mu       sync.Mutex
	}

	// Request is a decoded verifyLocation request.
	Request struct {
		RequestID         string
		Claim             claimr.Claim
		Context           claimr.ProofContext
		LogRequestDetails bool
	}

	// Policy decides the verdict for a request.
	Policy func(Request) claimr.Verdict

	// Option represents a single verifier option.
	Option interface{ verifier(*Options) }

	// Options are the resolved verifier options.
	Options struct {
		Policy Policy
		Delay  time.Duration
		Logger *slog.Logger
	}

	// WithDelay holds every response for the given duration.
	WithDelay time.Duration

	// These options are not used directly; see the constructors below.
	withPolicy struct{ Policy }
	withLogger struct{ *slog.Logger }

	graphqlRequest struct {
		Query     string `json:"query"`
		Variables struct {
			Claim             claimr.Claim        `json:"claim"`
			Context           claimr.ProofContext `json:"context"`
			LogRequestDetails bool                `json:"logRequestDetails"`
		} `json:"variables"`
	}

	graphqlError struct {
		Message string `json:"message"`
	}
)

// DefaultMinRawLines is the number of raw measurement lines the default
// policy requires to grant a claim.
const DefaultMinRawLines = 4

// New creates a verifier accepting the given API key.
func New(apiKey string, opt ...Option) *Verifier {
	var opts Options
	opts.Apply(opt)

	v := &Verifier{
		apiKey: apiKey,
		policy: opts.Policy,
		delay:  opts.Delay,
		logger: log.Wrap(opts.Logger),
	}
	if v.policy == nil {
		v.policy = MinRawLines(DefaultMinRawLines)
	}

	v.router = mux.NewRouter()
	v.router.HandleFunc("/graphql", v.graphql).Methods(http.MethodPost)
	v.router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodGet)
	return v
}

// ServeHTTP implements http.Handler.
func (v *Verifier) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	v.router.ServeHTTP(w, r)
}

// Requests returns the requests received so far.
func (v *Verifier) Requests() []Request {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Request(nil), v.requests...)
}

func (v *Verifier) graphql(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Header.Get("Authorization") != "Bearer "+v.apiKey {
		writeErrors(w, http.StatusUnauthorized, "invalid API key")
		return
	}

	var body graphqlRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErrors(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if !strings.Contains(body.Query, "verifyLocation") {
		writeErrors(w, http.StatusBadRequest, "unsupported query")
		return
	}

	req := Request{
		RequestID:         r.Header.Get("X-Request-ID"),
		Claim:             body.Variables.Claim,
		Context:           body.Variables.Context,
		LogRequestDetails: body.Variables.LogRequestDetails,
	}
	v.mu.Lock()
	v.requests = append(v.requests, req)
	v.mu.Unlock()

	if req.LogRequestDetails {
		v.logger.Info(ctx, "verifyLocation",
			slog.String("request_id", req.RequestID),
			slog.Int("gnss_log_len", len(req.Context.GNSSLog)),
		)
	}

	if v.delay > 0 {
		select {
		case <-wallclock.Instance.After(v.delay):
		case <-ctx.Done():
			return
		}
	}

	verdict := v.policy(req)

	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(map[string]any{
		"data": map[string]any{"verifyLocation": verdict},
	})
	if err != nil {
		v.logger.Err(ctx, errors.Normalize(err, "writing response"))
	}
}

func writeErrors(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"errors": []graphqlError{{Message: msg}},
	})
}

// MinRawLines grants a claim when the proof carries at least n raw
// measurement lines, revokes it when it carries fewer, and errors when it
// carries none.
func MinRawLines(n int) Policy {
	return func(req Request) claimr.Verdict {
		var raw int
		for _, line := range strings.Split(req.Context.GNSSLog, "\n") {
			if strings.HasPrefix(line, "Raw,") {
				raw++
			}
		}

		switch {
		case raw == 0:
			return claimr.Verdict{
				Status:  claimr.StatusError,
				Message: "GNSS log contains no raw measurements",
			}
		case raw < n:
			return claimr.Verdict{
				Status:  claimr.StatusRevoked,
				Message: "insufficient proof",
			}
		default:
			return Grant(req)
		}
	}
}

// Grant returns a granted verdict echoing the requested claim.
func Grant(req Request) claimr.Verdict {
	token := claimr.Token{
		Sub:   req.RequestID,
		IAT:   wallclock.Instance.Now().Unix(),
		Claim: req.Claim,
		Proof: claimr.ProofGNSS,
	}
	return claimr.Verdict{
		Status: claimr.StatusGranted,
		TokenResponse: &claimr.TokenResponse{
			Token: token,
			JWT:   unsignedJWT(token),
		},
	}
}

// An unsecured JWT; the mock has no key to sign with.
func unsignedJWT(token claimr.Token) string {
	enc := base64.RawURLEncoding
	payload, _ := json.Marshal(token)
	return enc.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`)) + "." +
		enc.EncodeToString(payload) + "."
}

// Apply resolves the provided list of options.
func (o *Options) Apply(opts []Option, rest ...Option) {
	for opt := range options.Apply[Option](opts, rest...) {
		opt.verifier(o)
	}
}

func (o *Options) verifier(opt *Options) {
	if o != nil {
		*opt = *o
	}
}

func (o WithDelay) verifier(opt *Options) {
	opt.Delay = time.Duration(o)
}

// WithPolicy sets the policy deciding verdicts.
func WithPolicy(policy Policy) Option {
	return withPolicy{policy}
}

func (o withPolicy) verifier(opt *Options) {
	opt.Policy = o.Policy
}

// WithLogger enables logging with the provided slog logger.
func WithLogger(logger *slog.Logger) Option {
	return withLogger{logger}
}

func (o withLogger) verifier(opt *Options) {
	opt.Logger = o.Logger
}

var _ http.Handler = (*Verifier)(nil)
