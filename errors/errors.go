// Copyright (c) The claimr-go Authors.
// Licensed under the MIT License.
package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
)

type (
	// Error represents a structured client error.
	Error struct {
		Message string
		Kind    Kind

		NestedError error

		PropertyName  string
		PropertyValue any

		// EventName is set for protocol violations raised while handling a
		// sensor event.
		EventName string
	}

	// Kind defines the type of error being thrown.
	Kind int
)

// The following are the defined error kinds.
const (
	UnknownError Kind = iota
	ConfigurationInvalid
	ArgumentInvalid
	PayloadInvalid
	StateInvalid
	Timeout
	Cancellation
	TransportError
	InternalLogicError
)

var kindNames = [...]string{
	UnknownError:         "unknown error",
	ConfigurationInvalid: "configuration invalid",
	ArgumentInvalid:      "argument invalid",
	PayloadInvalid:       "payload invalid",
	StateInvalid:         "state invalid",
	Timeout:              "timeout",
	Cancellation:         "cancellation",
	TransportError:       "transport error",
	InternalLogicError:   "internal logic error",
}

// String returns the human-readable name of the error kind.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// Error returns the error as a string.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the nested error, if any.
func (e *Error) Unwrap() error {
	return e.NestedError
}

// Attrs returns the additional slog attributes for the error.
func (e *Error) Attrs() []slog.Attr {
	a := make([]slog.Attr, 0, 4)

	a = append(a, slog.String("kind", e.Kind.String()))

	if e.NestedError != nil {
		a = append(a, slog.Any("nested_error", e.NestedError))
	}

	switch e.Kind {
	case ConfigurationInvalid, ArgumentInvalid:
		a = append(a,
			slog.String("property_name", e.PropertyName),
			slog.Any("property_value", e.PropertyValue),
		)
	case PayloadInvalid:
		if e.EventName != "" {
			a = append(a, slog.String("event_name", e.EventName))
		}
		if e.PropertyValue != nil {
			a = append(a, slog.String(
				"payload_type",
				fmt.Sprintf("%T", e.PropertyValue),
			))
		}
	case StateInvalid, InternalLogicError:
		if e.PropertyName != "" {
			a = append(a, slog.String("property_name", e.PropertyName))
		}
		if e.PropertyValue != nil {
			a = append(a, slog.Any("property_value", e.PropertyValue))
		}
	}

	return a
}

// IsKind reports whether err is (or wraps) an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// Normalize well-known errors into client errors.
func Normalize(err error, msg string) error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	switch {
	case err == nil:
		return nil

	case os.IsTimeout(err), errors.Is(err, context.DeadlineExceeded):
		return &Error{
			Message:     fmt.Sprintf("%s timed out", msg),
			Kind:        Timeout,
			NestedError: err,
		}

	case errors.Is(err, context.Canceled):
		return &Error{
			Message:     fmt.Sprintf("%s cancelled", msg),
			Kind:        Cancellation,
			NestedError: err,
		}

	default:
		return &Error{
			Message:     fmt.Sprintf("%s error: %s", msg, err.Error()),
			Kind:        UnknownError,
			NestedError: err,
		}
	}
}

// Context extracts the timeout or cancellation error from a context.
func Context(ctx context.Context, msg string) error {
	// A cause is either an error we've provided (already a client error) or
	// one the user provided from a parent context; both are respected as-is.
	if err := context.Cause(ctx); err != nil && err != ctx.Err() {
		return err
	}
	return Normalize(ctx.Err(), msg)
}
