// Copyright (c) The claimr-go Authors.
// Licensed under the MIT License.
package sensor_test

import (
	"context"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/claimr-tools/claimr-go/errors"
	"github.com/claimr-tools/claimr-go/sensor"
	"github.com/claimr-tools/claimr-go/sensor/sensortest"
	"github.com/stretchr/testify/require"
)

func TestParseLocation(t *testing.T) {
	tests := []struct {
		msg      any
		expected sensor.Location
		valid    bool
	}{
		{"52.0116,4.3571", sensor.Location{Latitude: 52.0116, Longitude: 4.3571}, true},
		{"-33.8688, 151.2093", sensor.Location{Latitude: -33.8688, Longitude: 151.2093}, true},
		{"0,0", sensor.Location{}, true},
		{"90,-180", sensor.Location{Latitude: 90, Longitude: -180}, true},
		{"52.0116", sensor.Location{}, false},
		{"abc,4.3", sensor.Location{}, false},
		{"1,2,3", sensor.Location{}, false},
		{"NaN,4", sensor.Location{}, false},
		{"1,Inf", sensor.Location{}, false},
		{"91,0", sensor.Location{}, false},
		{"0,180.5", sensor.Location{}, false},
		{"", sensor.Location{}, false},
		{12.5, sensor.Location{}, false},
		{nil, sensor.Location{}, false},
	}

	for _, test := range tests {
		loc, err := sensor.ParseLocation(test.msg)
		if !test.valid {
			require.True(
				t,
				errors.IsKind(err, errors.PayloadInvalid),
				"message: %#v",
				test.msg,
			)
			continue
		}
		require.NoError(t, err, "message: %#v", test.msg)
		require.Equal(t, test.expected, loc)
	}
}

func TestLocationString(t *testing.T) {
	loc := sensor.Location{Latitude: 52.0116, Longitude: -4.5}
	require.Equal(t, "52.0116,-4.5", loc.String())

	parsed, err := sensor.ParseLocation(loc.String())
	require.NoError(t, err)
	require.Equal(t, loc, parsed)
	require.False(t, math.IsNaN(parsed.Latitude))
}

func TestEmitter(t *testing.T) {
	var e sensor.Emitter
	var got []string

	removeA := e.AddListener(sensor.RawMeasurementLines, func(ev sensor.Event) {
		got = append(got, "a:"+ev.Message.(string))
	})
	e.AddListener(sensor.RawMeasurementLines, func(ev sensor.Event) {
		got = append(got, "b:"+ev.Message.(string))
	})
	e.AddListener(sensor.LocationChange, func(sensor.Event) {
		t.Fatal("location handler called for measurements")
	})

	e.Emit(sensor.Event{Name: sensor.RawMeasurementLines, Message: "1"})
	removeA()
	removeA()
	e.Emit(sensor.Event{Name: sensor.RawMeasurementLines, Message: "2"})

	require.Equal(t, []string{"a:1", "b:1", "b:2"}, got)
	require.Equal(t, 1, e.Listeners(sensor.RawMeasurementLines))
}

func TestShared(t *testing.T) {
	ctx := context.Background()
	bridge := sensortest.NewBridge("# header\n")
	shared := sensor.NewShared(bridge)

	var started atomic.Int32
	onStarted := func() { started.Add(1) }

	require.NoError(t, shared.RegisterMeasurementsCallback(ctx, nil, onStarted))
	require.NoError(t, shared.RegisterMeasurementsCallback(ctx, nil, onStarted))

	reg, _ := bridge.Registrations()
	require.Equal(t, 1, reg)
	require.Equal(t, 2, shared.Registrations())

	bridge.Start()
	require.Equal(t, int32(2), started.Load())

	// A late registration learns that the sensor is already listening.
	require.NoError(t, shared.RegisterMeasurementsCallback(ctx, nil, onStarted))
	require.Eventually(t, func() bool {
		return started.Load() == 3
	}, time.Second, time.Millisecond)

	for range 3 {
		require.NoError(t, shared.UnregisterMeasurementsCallback(ctx))
	}
	require.NoError(t, shared.UnregisterMeasurementsCallback(ctx))

	reg, unreg := bridge.Registrations()
	require.Equal(t, 1, reg)
	require.Equal(t, 1, unreg)
	require.Equal(t, "# header\n", shared.Header())
}

func TestSharedRegisterError(t *testing.T) {
	ctx := context.Background()
	bridge := sensortest.NewBridge("")
	bridge.RegisterErr = &errors.Error{
		Message: "unsupported platform",
		Kind:    errors.StateInvalid,
	}
	shared := sensor.NewShared(bridge)

	err := shared.RegisterMeasurementsCallback(ctx, nil, func() {})
	require.True(t, errors.IsKind(err, errors.StateInvalid))
	require.Zero(t, shared.Registrations())

	require.NoError(t, shared.RegisterMeasurementsCallback(ctx, nil, func() {}))
	require.Equal(t, 1, shared.Registrations())
}
