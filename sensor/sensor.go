// Copyright (c) The claimr-go Authors.
// Licensed under the MIT License.
package sensor

import (
	"context"
	"slices"
	"sync"
)

type (
	// Bridge represents a native positioning sensor which streams raw GNSS
	// measurements and location changes. Implementations own the connection
	// to the hardware (or its stand-in); consumers only register, listen and
	// unregister.
	Bridge interface {
		// RegisterMeasurementsCallback starts the measurement stream. Once the
		// sensor is listening, onListeningStarted is called asynchronously,
		// exactly once per registration. Failures after this call returns are
		// reported through onError.
		RegisterMeasurementsCallback(
			ctx context.Context,
			onError func(error),
			onListeningStarted func(),
		) error

		// UnregisterMeasurementsCallback stops the measurement stream. It must
		// be safe to call when not registered.
		UnregisterMeasurementsCallback(ctx context.Context) error

		// AddListener registers a handler for the named event. It returns a
		// function which removes the handler.
		AddListener(name EventName, handler EventHandler) func()

		// Header returns the protocol header that prefixes serialized raw
		// measurements from this sensor.
		Header() string
	}

	// EventName identifies a sensor event stream.
	EventName string

	// Event is a single named sensor event. Message is a string for well-formed
	// events; bridges deliver whatever they received so that consumers can
	// reject malformed payloads.
	Event struct {
		Name    EventName
		Message any
	}

	// EventHandler is a callback for sensor events. It is treated as blocking
	// and must be thread-safe.
	EventHandler func(Event)

	// Emitter is a concurrency-safe registry of event handlers, shared by the
	// bridge implementations.
	Emitter struct {
		handlers map[EventName]map[uint64]EventHandler
		next     uint64
		mu       sync.RWMutex
	}
)

// The events delivered by a bridge.
const (
	// RawMeasurementLines carries one or more newline-joined raw measurement
	// records; each event forms one epoch.
	RawMeasurementLines EventName = "rawMeasurementLines"

	// LocationChange carries the current position as "lat,lon".
	LocationChange EventName = "locationChange"
)

// AddListener registers a handler for the named event and returns a function
// which removes it. The removal function is idempotent.
func (e *Emitter) AddListener(name EventName, handler EventHandler) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.handlers == nil {
		e.handlers = map[EventName]map[uint64]EventHandler{}
	}
	if e.handlers[name] == nil {
		e.handlers[name] = map[uint64]EventHandler{}
	}

	id := e.next
	e.next++
	e.handlers[name][id] = handler

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.handlers[name], id)
	}
}

// Emit delivers the event to every handler registered for its name. Handlers
// are called outside of the lock, in registration order.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	ids := make([]uint64, 0, len(e.handlers[ev.Name]))
	for id := range e.handlers[ev.Name] {
		ids = append(ids, id)
	}
	handlers := make([]EventHandler, 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		handlers = append(handlers, e.handlers[ev.Name][id])
	}
	e.mu.RUnlock()

	for _, handle := range handlers {
		handle(ev)
	}
}

// Listeners returns the number of handlers registered for the named event.
func (e *Emitter) Listeners(name EventName) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers[name])
}
