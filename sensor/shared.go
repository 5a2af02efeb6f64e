// Copyright (c) The claimr-go Authors.
// Licensed under the MIT License.
package sensor

import (
	"context"
	"sync"
)

type (
	// Shared lets several sessions use one bridge. The underlying bridge is
	// registered by the first registration and unregistered by the last
	// matching unregistration; late registrations are told the sensor is
	// listening as soon as it is.
	Shared struct {
		Bridge

		refs      int
		listening bool
		waiting   []func()
		onError   []func(error)
		mu        sync.Mutex
	}
)

// NewShared wraps a bridge for shared use.
func NewShared(b Bridge) *Shared {
	return &Shared{Bridge: b}
}

// RegisterMeasurementsCallback registers the underlying bridge if this is the
// first registration.
func (s *Shared) RegisterMeasurementsCallback(
	ctx context.Context,
	onError func(error),
	onListeningStarted func(),
) error {
	s.mu.Lock()
	s.refs++
	s.onError = append(s.onError, onError)

	if s.refs > 1 {
		if s.listening {
			go onListeningStarted()
		} else {
			s.waiting = append(s.waiting, onListeningStarted)
		}
		s.mu.Unlock()
		return nil
	}

	s.waiting = append(s.waiting, onListeningStarted)
	s.mu.Unlock()

	if err := s.Bridge.RegisterMeasurementsCallback(
		ctx,
		s.fail,
		s.started,
	); err != nil {
		s.mu.Lock()
		if s.refs--; s.refs == 0 {
			s.reset()
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

// UnregisterMeasurementsCallback unregisters the underlying bridge if this is
// the last registration. Extra calls are no-ops.
func (s *Shared) UnregisterMeasurementsCallback(ctx context.Context) error {
	s.mu.Lock()
	if s.refs == 0 {
		s.mu.Unlock()
		return nil
	}
	s.refs--
	if s.refs > 0 {
		s.mu.Unlock()
		return nil
	}
	s.reset()
	s.mu.Unlock()

	return s.Bridge.UnregisterMeasurementsCallback(ctx)
}

// Registrations returns the number of active registrations.
func (s *Shared) Registrations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs
}

func (s *Shared) started() {
	s.mu.Lock()
	s.listening = true
	waiting := s.waiting
	s.waiting = nil
	s.mu.Unlock()

	for _, fn := range waiting {
		fn()
	}
}

func (s *Shared) fail(err error) {
	s.mu.Lock()
	handlers := append([]func(error){}, s.onError...)
	s.mu.Unlock()

	for _, fn := range handlers {
		if fn != nil {
			fn(err)
		}
	}
}

func (s *Shared) reset() {
	s.refs = 0
	s.listening = false
	s.waiting = nil
	s.onError = nil
}
