// Copyright (c) The claimr-go Authors.
// Licensed under the MIT License.
package session

import (
	"fmt"

	"github.com/claimr-tools/claimr-go/errors"
)

type (
	// State is the state of a verification session.
	State int

	event int
)

// Session states.
const (
	// RegisteringListener waits for the sensor to start listening.
	RegisteringListener State = iota

	// Listening collects epochs until enough have been received.
	Listening

	// Ready has enough evidence to submit.
	Ready

	// Submitting has one verification call in flight.
	Submitting

	// Success holds a granted verdict.
	Success

	// Revoked holds a revoked verdict.
	Revoked

	// Failed holds an error verdict or transport failure.
	Failed

	numStates
)

const (
	evListening event = iota
	evReady
	evSubmit
	evGranted
	evRevoked
	evFailed

	numEvents
)

const noState State = -1

var stateNames = [numStates]string{
	RegisteringListener: "registeringListener",
	Listening:           "listening",
	Ready:               "ready",
	Submitting:          "submitting",
	Success:             "success",
	Revoked:             "revoked",
	Failed:              "failed",
}

var eventNames = [numEvents]string{
	evListening: "LISTENING",
	evReady:     "READY",
	evSubmit:    "SUBMIT",
	evGranted:   "GRANTED",
	evRevoked:   "REVOKED",
	evFailed:    "FAILED",
}

// Indexed by current state and event; noState marks an event the state does
// not accept.
var transitions [numStates][numEvents]State

func init() {
	for s := range transitions {
		for e := range transitions[s] {
			transitions[s][e] = noState
		}
	}

	transitions[RegisteringListener][evListening] = Listening
	transitions[Listening][evReady] = Ready
	transitions[Ready][evSubmit] = Submitting
	transitions[Submitting][evGranted] = Success
	transitions[Submitting][evRevoked] = Revoked
	transitions[Submitting][evFailed] = Failed
	transitions[Success][evSubmit] = Submitting
	transitions[Revoked][evSubmit] = Submitting
	transitions[Failed][evSubmit] = Submitting

	if err := validateTransitions(); err != nil {
		panic(err)
	}
}

// Every state must be reachable from the initial state and leave through at
// least one event, so that no session can get stuck.
func validateTransitions() error {
	reached := [numStates]bool{RegisteringListener: true}
	queue := []State{RegisteringListener}
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]

		var out int
		for e, next := range transitions[s] {
			if next == noState {
				continue
			}
			if next < 0 || next >= numStates {
				return &errors.Error{
					Message: fmt.Sprintf(
						"transition %s on %s targets unknown state %d",
						s, event(e), next,
					),
					Kind: errors.InternalLogicError,
				}
			}
			out++
			if !reached[next] {
				reached[next] = true
				queue = append(queue, next)
			}
		}
		if out == 0 {
			return &errors.Error{
				Message: fmt.Sprintf("state %s has no transitions", s),
				Kind:    errors.InternalLogicError,
			}
		}
	}

	for s, ok := range reached {
		if !ok {
			return &errors.Error{
				Message: fmt.Sprintf("state %s is unreachable", State(s)),
				Kind:    errors.InternalLogicError,
			}
		}
	}
	return nil
}

// String returns the state's name.
func (s State) String() string {
	if s < 0 || s >= numStates {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	if s < 0 || s >= numStates {
		return nil, &errors.Error{
			Message:       "unknown state",
			Kind:          errors.ArgumentInvalid,
			PropertyName:  "state",
			PropertyValue: int(s),
		}
	}
	return []byte(stateNames[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return &errors.Error{
		Message:       "unknown state",
		Kind:          errors.ArgumentInvalid,
		PropertyName:  "state",
		PropertyValue: string(text),
	}
}

// CanSubmit reports whether the state accepts a submission.
func (s State) CanSubmit() bool {
	return s >= 0 && s < numStates && transitions[s][evSubmit] != noState
}

func (e event) String() string {
	if e < 0 || e >= numEvents {
		return fmt.Sprintf("event(%d)", int(e))
	}
	return eventNames[e]
}
