// Copyright (c) The claimr-go Authors.
// Licensed under the MIT License.

// Package sensortest provides an in-memory sensor bridge whose lifecycle and
// events are driven by the test.
package sensortest

import (
	"context"
	"sync"

	"github.com/claimr-tools/claimr-go/sensor"
)

// Bridge is a manually driven sensor.Bridge.
type Bridge struct {
	sensor.Emitter

	// RegisterErr, if set, is returned by the next registration.
	RegisterErr error

	// AutoStart fires the listening callback as soon as a registration
	// succeeds.
	AutoStart bool

	header       string
	registered   int
	unregistered int
	active       bool
	onError      func(error)
	onListening  func()
	mu           sync.Mutex
}

// NewBridge creates a bridge with the given protocol header.
func NewBridge(header string) *Bridge {
	return &Bridge{header: header}
}

// RegisterMeasurementsCallback implements sensor.Bridge.
func (b *Bridge) RegisterMeasurementsCallback(
	_ context.Context,
	onError func(error),
	onListeningStarted func(),
) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.RegisterErr; err != nil {
		b.RegisterErr = nil
		return err
	}

	b.registered++
	b.active = true
	b.onError = onError
	b.onListening = onListeningStarted
	if b.AutoStart {
		b.onListening = nil
		go onListeningStarted()
	}
	return nil
}

// UnregisterMeasurementsCallback implements sensor.Bridge.
func (b *Bridge) UnregisterMeasurementsCallback(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.active {
		b.unregistered++
	}
	b.active = false
	b.onError = nil
	b.onListening = nil
	return nil
}

// Header implements sensor.Bridge.
func (b *Bridge) Header() string {
	return b.header
}

// Start synchronously fires the pending listening callback, if any.
func (b *Bridge) Start() {
	b.mu.Lock()
	fn := b.onListening
	b.onListening = nil
	b.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Fail reports an error through the registered error callback, if any.
func (b *Bridge) Fail(err error) {
	b.mu.Lock()
	fn := b.onError
	b.mu.Unlock()

	if fn != nil {
		fn(err)
	}
}

// Measurements emits a raw measurement event.
func (b *Bridge) Measurements(msg any) {
	b.Emit(sensor.Event{Name: sensor.RawMeasurementLines, Message: msg})
}

// Location emits a location change event.
func (b *Bridge) Location(msg any) {
	b.Emit(sensor.Event{Name: sensor.LocationChange, Message: msg})
}

// Active returns whether the bridge is currently registered.
func (b *Bridge) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// Registrations returns how many times the bridge was registered and
// unregistered.
func (b *Bridge) Registrations() (registered, unregistered int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.registered, b.unregistered
}
