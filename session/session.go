// Copyright (c) The claimr-go Authors.
// Licensed under the MIT License.

// Package session drives a location verification: it collects raw GNSS
// evidence from a sensor, submits it with a claim, and tracks the verdict.
package session

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/claimr-tools/claimr-go/claimr"
	"github.com/claimr-tools/claimr-go/errors"
	"github.com/claimr-tools/claimr-go/evidence"
	"github.com/claimr-tools/claimr-go/internal/log"
	"github.com/claimr-tools/claimr-go/internal/wallclock"
	"github.com/claimr-tools/claimr-go/sensor"
	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

type (
	// Verifier verifies a claim against its proof. It is satisfied by
	// *claimr.Client.
	Verifier interface {
		VerifyLocation(
			ctx context.Context,
			claim claimr.Claim,
			proof claimr.ProofContext,
			opt ...claimr.VerifyOption,
		) (*claimr.Verdict, error)
	}

	// Recorder stores resolved verification attempts.
	Recorder interface {
		RecordAttempt(ctx context.Context, attempt *Attempt) error
	}

	// Output is the externally visible projection of a session.
	Output struct {
		State State

		// Claim and JWT are only set after a granted verdict.
		Claim *claimr.Claim
		JWT   string

		// Message carries the verifier's message or the error that failed
		// the last attempt or registration.
		Message string

		// Submit is nil unless the session can submit.
		Submit func() error

		// Progress is only set while listening.
		Progress *evidence.Progress
	}

	// Attempt describes one verification call.
	Attempt struct {
		ID          string
		Started     time.Time
		Finished    time.Time
		Claim       claimr.Claim
		Epochs      int
		ProofDigest []byte
		State       State
		Status      claimr.Status
		Message     string
		JWT         string
	}

	// Session is a single verification workflow over a sensor bridge. All
	// events are serialized; Output snapshots are delivered to watchers with
	// latest-wins semantics.
	Session struct {
		verifier Verifier
		bridge   sensor.Bridge
		buffer   *evidence.Buffer

		claim             *claimr.Claim
		radius            float64
		logRequestDetails bool
		verifyTimeout     time.Duration
		recorder          Recorder
		logger            log.Logger

		// Serializes activation and deactivation; never held by event
		// handlers, so bridges may wait on their callbacks.
		lifecycle sync.Mutex

		mu         sync.Mutex
		active     bool
		generation uint64
		removers   []func()
		state      State
		listening  bool
		location   *sensor.Location
		granted    *claimr.Claim
		jwt        string
		message    string
		watchers   map[uint64]chan Output
		nextWatch  uint64
		inflight   sync.WaitGroup
	}
)

// New creates a session which submits evidence from the bridge to the
// verifier. The session is inactive until Activate is called.
func New(verifier Verifier, bridge sensor.Bridge, opt ...Option) (*Session, error) {
	var opts Options
	opts.Apply(opt)

	if verifier == nil {
		return nil, &errors.Error{
			Message:      "verifier must not be nil",
			Kind:         errors.ArgumentInvalid,
			PropertyName: "verifier",
		}
	}
	if bridge == nil {
		return nil, &errors.Error{
			Message:      "sensor bridge must not be nil",
			Kind:         errors.ArgumentInvalid,
			PropertyName: "bridge",
		}
	}

	if opts.MinEpochs == 0 {
		opts.MinEpochs = DefaultMinEpochs
	}
	if opts.MaxEpochs == 0 {
		opts.MaxEpochs = DefaultMaxEpochs
	}
	if opts.MaxEpochs < 0 {
		return nil, &errors.Error{
			Message:       "maximum epochs must not be negative",
			Kind:          errors.ArgumentInvalid,
			PropertyName:  "MaxEpochs",
			PropertyValue: opts.MaxEpochs,
		}
	}
	if opts.DefaultRadius == 0 {
		opts.DefaultRadius = DefaultRadius
	}
	if !(opts.DefaultRadius > 0) {
		return nil, &errors.Error{
			Message:       "default radius must be positive",
			Kind:          errors.ArgumentInvalid,
			PropertyName:  "DefaultRadius",
			PropertyValue: opts.DefaultRadius,
		}
	}
	if opts.VerifyTimeout < 0 {
		return nil, &errors.Error{
			Message:       "verify timeout must not be negative",
			Kind:          errors.ArgumentInvalid,
			PropertyName:  "VerifyTimeout",
			PropertyValue: opts.VerifyTimeout,
		}
	}
	if opts.Claim != nil {
		if err := opts.Claim.Validate(); err != nil {
			return nil, err
		}
	}

	buffer, err := evidence.New(opts.MinEpochs, opts.MaxEpochs, bridge.Header())
	if err != nil {
		return nil, err
	}

	return &Session{
		verifier:          verifier,
		bridge:            bridge,
		buffer:            buffer,
		claim:             opts.Claim,
		radius:            opts.DefaultRadius,
		logRequestDetails: opts.LogRequestDetails,
		verifyTimeout:     opts.VerifyTimeout,
		recorder:          opts.Recorder,
		logger:            log.Wrap(opts.Logger),
		state:             RegisteringListener,
		watchers:          map[uint64]chan Output{},
	}, nil
}

// Activate attaches the session to its sensor bridge. Activating an active
// session is a no-op.
func (s *Session) Activate(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return nil
	}
	s.active = true
	s.generation++
	gen := s.generation
	if s.state != Submitting {
		s.state = RegisteringListener
		s.granted = nil
		s.jwt = ""
		s.message = ""
	}
	s.removers = []func(){
		s.bridge.AddListener(sensor.RawMeasurementLines, s.onMeasurements),
		s.bridge.AddListener(sensor.LocationChange, s.onLocation),
	}
	s.mu.Unlock()

	err := s.bridge.RegisterMeasurementsCallback(ctx,
		func(err error) { s.onError(gen, err) },
		func() { s.onListening(gen) },
	)
	if err != nil {
		s.mu.Lock()
		removers := s.release()
		s.message = err.Error()
		s.notify()
		s.mu.Unlock()

		for _, remove := range removers {
			remove()
		}
		s.logger.Err(ctx, err)
		return err
	}

	s.logger.Debug(ctx, "session activated")
	return nil
}

// Deactivate detaches the session from its sensor bridge and discards the
// collected evidence. A verification already in flight still resolves.
// Deactivating an inactive session is a no-op.
func (s *Session) Deactivate(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return nil
	}
	removers := s.release()
	s.buffer.Reset()
	s.location = nil
	s.listening = false
	if s.state != Submitting {
		s.state = RegisteringListener
		s.granted = nil
		s.jwt = ""
		s.message = ""
	}
	s.notify()
	s.mu.Unlock()

	for _, remove := range removers {
		remove()
	}
	if err := s.bridge.UnregisterMeasurementsCallback(ctx); err != nil {
		s.logger.Err(ctx, err)
		return err
	}

	s.logger.Debug(ctx, "session deactivated")
	return nil
}

// Submit starts a verification of the current claim with the collected
// evidence. It fails with a StateInvalid error if the session is inactive,
// cannot submit in its current state, or has neither an explicit claim nor a
// known location.
func (s *Session) Submit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return &errors.Error{
			Message: "cannot submit on an inactive session",
			Kind:    errors.StateInvalid,
		}
	}
	if !s.state.CanSubmit() {
		return &errors.Error{
			Message:       "cannot submit in state " + s.state.String(),
			Kind:          errors.StateInvalid,
			PropertyName:  "state",
			PropertyValue: s.state.String(),
		}
	}

	claim, err := s.resolveClaim()
	if err != nil {
		return err
	}

	s.fire(evSubmit)
	s.granted = nil
	s.jwt = ""
	s.message = ""

	proof := s.buffer.Serialize()
	digest := blake3.Sum256([]byte(proof))
	attempt := &Attempt{
		ID:          newAttemptID(),
		Started:     wallclock.Instance.Now(),
		Claim:       claim,
		Epochs:      s.buffer.Len(),
		ProofDigest: digest[:],
	}

	s.inflight.Add(1)
	go s.verify(attempt, proof)

	s.notify()
	return nil
}

// Output returns a snapshot of the session.
func (s *Session) Output() Output {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.output()
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Watch returns a channel receiving an Output on every change, starting with
// the current one, and a function to stop watching. Only the latest Output is
// retained for a slow receiver.
func (s *Session) Watch() (<-chan Output, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextWatch
	s.nextWatch++
	ch := make(chan Output, 1)
	ch <- s.output()
	s.watchers[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.watchers, id)
	}
}

// Wait blocks until no verification is in flight.
func (s *Session) Wait() {
	s.inflight.Wait()
}

func (s *Session) onListening(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active || gen != s.generation {
		return
	}
	s.listening = true
	s.advance()
	s.notify()
}

func (s *Session) onError(gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active || gen != s.generation {
		return
	}
	s.logger.Err(context.Background(), err)
	s.message = err.Error()
	s.notify()
}

func (s *Session) onMeasurements(e sensor.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return
	}
	if err := s.buffer.Push(e.Message); err != nil {
		s.warnEvent(e, err)
		return
	}
	s.advance()
	s.notify()
}

func (s *Session) onLocation(e sensor.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return
	}
	loc, err := sensor.ParseLocation(e.Message)
	if err != nil {
		s.warnEvent(e, err)
		return
	}
	s.location = &loc
	s.notify()
}

func (s *Session) warnEvent(e sensor.Event, err error) {
	var cerr *errors.Error
	if stderrors.As(err, &cerr) && cerr.EventName == "" {
		cerr.EventName = string(e.Name)
	}
	s.logger.Warn(context.Background(), err)
}

func (s *Session) verify(attempt *Attempt, proof string) {
	defer s.inflight.Done()

	ctx := context.Background()
	if s.verifyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = wallclock.Instance.WithTimeoutCause(ctx, s.verifyTimeout,
			&errors.Error{
				Message: "verification timed out",
				Kind:    errors.Timeout,
			})
		defer cancel()
	}

	s.logger.Info(ctx, "submitting verification",
		slog.String("attempt_id", attempt.ID),
		slog.Int("epochs", attempt.Epochs),
	)

	verdict, err := s.verifier.VerifyLocation(ctx, attempt.Claim,
		claimr.ProofContext{GNSSLog: proof},
		claimr.WithRequestID(attempt.ID),
		claimr.WithLogRequestDetails(s.logRequestDetails),
	)

	s.mu.Lock()
	s.resolve(attempt, verdict, err)
	s.notify()
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn(ctx, err)
	}

	if s.recorder != nil {
		if rerr := s.recorder.RecordAttempt(context.Background(), attempt); rerr != nil {
			s.logger.Err(ctx, errors.Normalize(rerr, "recording attempt"))
		}
	}
}

func (s *Session) resolve(attempt *Attempt, verdict *claimr.Verdict, err error) {
	attempt.Finished = wallclock.Instance.Now()

	switch {
	case err != nil:
		s.fire(evFailed)
		s.message = err.Error()
		attempt.Status = claimr.StatusError

	case verdict == nil:
		s.fire(evFailed)
		s.message = "verifier returned no verdict"
		attempt.Status = claimr.StatusError

	case verdict.Status == claimr.StatusGranted:
		s.fire(evGranted)
		s.message = verdict.Message
		if tr := verdict.TokenResponse; tr != nil {
			claim := tr.Token.Claim
			s.granted = &claim
			s.jwt = tr.JWT
		}
		attempt.Status = verdict.Status

	case verdict.Status == claimr.StatusRevoked:
		s.fire(evRevoked)
		s.message = verdict.Message
		attempt.Status = verdict.Status

	default:
		s.fire(evFailed)
		s.message = verdict.Message
		attempt.Status = claimr.StatusError
	}

	attempt.State = s.state
	attempt.Message = s.message
	attempt.JWT = s.jwt
}

// Apply derived transitions until the state settles.
func (s *Session) advance() {
	for {
		switch {
		case s.state == RegisteringListener && s.listening:
			s.fire(evListening)
		case s.state == Listening && s.buffer.Len() > 0 && s.buffer.IsReady():
			s.fire(evReady)
		default:
			return
		}
	}
}

func (s *Session) fire(ev event) {
	next := transitions[s.state][ev]
	if next == noState {
		s.logger.Err(context.Background(), &errors.Error{
			Message:       "event " + ev.String() + " not accepted",
			Kind:          errors.InternalLogicError,
			PropertyName:  "state",
			PropertyValue: s.state.String(),
		})
		return
	}
	s.logger.Debug(context.Background(), "session transition",
		slog.String("from", s.state.String()),
		slog.String("event", ev.String()),
		slog.String("to", next.String()),
	)
	s.state = next
}

// Claim to submit: the explicit claim if there is one, else a point around the
// last known location.
func (s *Session) resolveClaim() (claimr.Claim, error) {
	if s.claim != nil {
		return *s.claim, nil
	}
	if s.location != nil {
		return claimr.PointAt(claimr.Location{
			Latitude:  s.location.Latitude,
			Longitude: s.location.Longitude,
		}, s.radius), nil
	}
	return claimr.Claim{}, &errors.Error{
		Message: "no claim given and no location known",
		Kind:    errors.StateInvalid,
	}
}

func (s *Session) output() Output {
	out := Output{
		State:   s.state,
		JWT:     s.jwt,
		Message: s.message,
	}
	if s.granted != nil {
		claim := s.granted.Clone()
		out.Claim = &claim
	}
	if s.active && s.state.CanSubmit() && (s.claim != nil || s.location != nil) {
		out.Submit = s.Submit
	}
	if s.state == Listening {
		p := s.buffer.Progress()
		out.Progress = &p
	}
	return out
}

// Deliver the current output to every watcher, replacing any undelivered one.
func (s *Session) notify() {
	if len(s.watchers) == 0 {
		return
	}
	out := s.output()
	for _, ch := range s.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- out
	}
}

// Detach from the bridge; returns the listener removers to call once the lock
// is released.
func (s *Session) release() []func() {
	s.active = false
	removers := s.removers
	s.removers = nil
	return removers
}

func newAttemptID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}
