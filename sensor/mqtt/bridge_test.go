// Copyright (c) The claimr-go Authors.
// Licensed under the MIT License.
package mqtt_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/claimr-tools/claimr-go/errors"
	"github.com/claimr-tools/claimr-go/sensor"
	"github.com/claimr-tools/claimr-go/sensor/mqtt"
	"github.com/eclipse/paho.golang/paho"
	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/require"
)

type device struct {
	client   *paho.Client
	commands chan string
	prefix   string
}

// Spin up an in-process MQTT broker and connect a device-side client to it.
func setupBroker(ctx context.Context, t *testing.T, port int) (string, *device) {
	cfg := listeners.Config{
		Type:    "tcp",
		Address: fmt.Sprintf(":%d", port),
	}
	broker := mochi.New(nil)

	err := broker.AddHook(&auth.AllowHook{}, nil)
	require.NoError(t, err)

	err = broker.AddListener(listeners.NewTCP(cfg))
	require.NoError(t, err)

	err = broker.Serve()
	require.NoError(t, err)
	t.Cleanup(func() { broker.Close() })

	address := fmt.Sprintf("localhost:%d", port)

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	require.NoError(t, err)

	dev := &device{
		commands: make(chan string, 8),
		prefix:   "test/pixel/",
	}
	dev.client = paho.NewClient(paho.ClientConfig{
		ClientID: "pixel",
		Conn:     conn,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			func(pr paho.PublishReceived) (bool, error) {
				var msg mqtt.ControlMessage
				if json.Unmarshal(pr.Packet.Payload, &msg) == nil {
					dev.commands <- msg.Command
				}
				return true, nil
			},
		},
	})

	_, err = dev.client.Connect(ctx, &paho.Connect{
		ClientID:   "pixel",
		KeepAlive:  10,
		CleanStart: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { dev.client.Disconnect(&paho.Disconnect{}) })

	_, err = dev.client.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{Topic: dev.prefix + "control", QoS: 1},
		},
	})
	require.NoError(t, err)

	return address, dev
}

func (d *device) publish(
	ctx context.Context,
	t *testing.T,
	event sensor.EventName,
	payload []byte,
) {
	_, err := d.client.Publish(ctx, &paho.Publish{
		Topic:   d.prefix + string(event),
		QoS:     1,
		Payload: payload,
	})
	require.NoError(t, err)
}

func (d *device) awaitCommand(t *testing.T) string {
	select {
	case cmd := <-d.commands:
		return cmd
	case <-time.After(5 * time.Second):
		require.FailNow(t, "no control command received")
		return ""
	}
}

func await[T any](t *testing.T, ch <-chan T) T {
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		require.FailNow(t, "timed out")
		var zero T
		return zero
	}
}

func TestBridgeStream(t *testing.T) {
	ctx := context.Background()
	address, dev := setupBroker(ctx, t, 1889)

	b, err := mqtt.Dial(ctx, address, "pixel",
		mqtt.WithTopicPrefix("test"),
		mqtt.WithHeader("# Header\n"),
	)
	require.NoError(t, err)
	defer b.Close()
	require.Equal(t, "# Header\n", b.Header())

	events := make(chan sensor.Event, 8)
	remove := b.AddListener(sensor.RawMeasurementLines, func(e sensor.Event) {
		events <- e
	})
	defer remove()
	b.AddListener(sensor.LocationChange, func(e sensor.Event) {
		events <- e
	})

	listening := make(chan struct{}, 1)
	err = b.RegisterMeasurementsCallback(ctx,
		func(error) {},
		func() { listening <- struct{}{} },
	)
	require.NoError(t, err)
	await(t, listening)
	require.Equal(t, mqtt.CommandRegister, dev.awaitCommand(t))

	// A second registration does not re-subscribe or re-signal the device.
	err = b.RegisterMeasurementsCallback(ctx, func(error) {}, func() {
		listening <- struct{}{}
	})
	require.NoError(t, err)

	dev.publish(ctx, t, sensor.RawMeasurementLines,
		[]byte(`{"message":"Raw,1,2\nRaw,1,3"}`))
	e := await(t, events)
	require.Equal(t, sensor.RawMeasurementLines, e.Name)
	require.Equal(t, "Raw,1,2\nRaw,1,3", e.Message)

	dev.publish(ctx, t, sensor.LocationChange,
		[]byte(`{"message":"52.0116,4.3571"}`))
	e = await(t, events)
	require.Equal(t, sensor.LocationChange, e.Name)
	require.Equal(t, "52.0116,4.3571", e.Message)

	dev.publish(ctx, t, sensor.LocationChange, []byte(`not json`))
	e = await(t, events)
	require.Equal(t, []byte(`not json`), e.Message)

	require.NoError(t, b.UnregisterMeasurementsCallback(ctx))
	require.Equal(t, mqtt.CommandUnregister, dev.awaitCommand(t))
	require.NoError(t, b.UnregisterMeasurementsCallback(ctx))

	dev.publish(ctx, t, sensor.RawMeasurementLines,
		[]byte(`{"message":"Raw,1,4"}`))
	select {
	case e := <-events:
		require.FailNow(t, "unexpected event", "%v", e)
	case <-time.After(100 * time.Millisecond):
	}

	require.Empty(t, listening)
}

func TestBridgeInvalidDevice(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	_, err := mqtt.New(context.Background(), client, "a/b")
	require.True(t, errors.IsKind(err, errors.ArgumentInvalid))
}

func TestBridgeDialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := mqtt.Dial(ctx, "localhost:1", "pixel")
	require.True(t, errors.IsKind(err, errors.TransportError))
}

func TestBridgeDialAttempts(t *testing.T) {
	start := time.Now()
	_, err := mqtt.Dial(context.Background(), "localhost:1", "pixel",
		mqtt.WithConnectAttempts(2),
	)
	require.True(t, errors.IsKind(err, errors.TransportError))
	require.Less(t, time.Since(start), 5*time.Second)
}
