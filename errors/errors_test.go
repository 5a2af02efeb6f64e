// Copyright (c) The claimr-go Authors.
// Licensed under the MIT License.
package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKindString(t *testing.T) {
	require.Equal(t, "payload invalid", PayloadInvalid.String())
	require.Equal(t, "kind(99)", Kind(99).String())
}

func TestIsKind(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &Error{Message: "bad", Kind: StateInvalid})
	require.True(t, IsKind(err, StateInvalid))
	require.False(t, IsKind(err, Timeout))
	require.False(t, IsKind(errors.New("plain"), UnknownError))
}

func TestNormalize(t *testing.T) {
	require.NoError(t, Normalize(nil, "op"))

	e := &Error{Message: "bad", Kind: ArgumentInvalid}
	require.Same(t, e, Normalize(fmt.Errorf("x: %w", e), "op"))

	err := Normalize(context.DeadlineExceeded, "verification")
	require.True(t, IsKind(err, Timeout))
	require.Equal(t, "verification timed out", err.Error())

	err = Normalize(context.Canceled, "verification")
	require.True(t, IsKind(err, Cancellation))

	err = Normalize(errors.New("boom"), "op")
	require.True(t, IsKind(err, UnknownError))
	require.Equal(t, "op error: boom", err.Error())
}

func TestContext(t *testing.T) {
	cause := &Error{Message: "verification timed out", Kind: Timeout}
	ctx, cancel := context.WithTimeoutCause(context.Background(), time.Nanosecond, cause)
	defer cancel()
	<-ctx.Done()
	require.Same(t, cause, Context(ctx, "op"))

	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	require.True(t, IsKind(Context(ctx, "op"), Cancellation))
}

func TestAttrs(t *testing.T) {
	attrs := (&Error{
		Message:       "bad",
		Kind:          PayloadInvalid,
		EventName:     "locationChange",
		PropertyValue: 12,
	}).Attrs()

	got := map[string]string{}
	for _, a := range attrs {
		got[a.Key] = a.Value.String()
	}
	require.Equal(t, map[string]string{
		"kind":         "payload invalid",
		"event_name":   "locationChange",
		"payload_type": "int",
	}, got)

	attrs = (&Error{
		Message:      "bad",
		Kind:         ConfigurationInvalid,
		PropertyName: "endpoint",
		NestedError:  errors.New("inner"),
	}).Attrs()
	got = map[string]string{}
	for _, a := range attrs {
		got[a.Key] = a.Value.String()
	}
	require.Equal(t, "endpoint", got["property_name"])
	require.Equal(t, "inner", got["nested_error"])
}
