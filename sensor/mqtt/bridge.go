// Copyright (c) The claimr-go Authors.
// Licensed under the MIT License.
package mqtt

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/claimr-tools/claimr-go/errors"
	"github.com/claimr-tools/claimr-go/internal/log"
	"github.com/claimr-tools/claimr-go/internal/retry"
	"github.com/claimr-tools/claimr-go/sensor"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"
)

type (
	// Bridge receives sensor events published over MQTT by a device-side
	// logger. Events are published to "{prefix}/{device}/{event}" with a JSON
	// payload of the form {"message": ...}; registration is signalled to the
	// device on "{prefix}/{device}/control".
	Bridge struct {
		sensor.Emitter

		client *paho.Client
		topics topics
		header string
		logger log.Logger

		active  bool
		onError func(error)
		mu      sync.Mutex
	}

	topics struct {
		control string
		events  map[string]sensor.EventName
	}

	// ControlMessage is published to the device when the bridge registers or
	// unregisters.
	ControlMessage struct {
		Command string `json:"command"`
	}

	// EventMessage is the payload of a published sensor event.
	EventMessage struct {
		Message any `json:"message"`
	}
)

// Control commands sent to the device.
const (
	CommandRegister   = "register"
	CommandUnregister = "unregister"
)

const (
	// DefaultTopicPrefix is the topic prefix used when none is configured.
	DefaultTopicPrefix = "claimr/gnss"

	// DefaultConnectAttempts is the number of times Dial tries the broker.
	DefaultConnectAttempts = 5
)

// Dial connects to the MQTT broker at the given TCP address and returns a
// bridge for the given device. Transport failures are retried with
// exponential backoff; see WithConnectAttempts.
func Dial(
	ctx context.Context,
	address string,
	deviceID string,
	opt ...BridgeOption,
) (*Bridge, error) {
	var opts BridgeOptions
	opts.Apply(opt)
	if opts.Attempts == 0 {
		opts.Attempts = DefaultConnectAttempts
	}

	var b *Bridge
	backoff := &retry.Backoff{
		MaxAttempts: opts.Attempts,
		Jitter:      true,
		Logger:      opts.Logger,
	}
	err := backoff.Start(ctx, retry.Task{
		Name: "connect",
		Exec: func(ctx context.Context) error {
			var d net.Dialer
			conn, err := d.DialContext(ctx, "tcp", address)
			if err != nil {
				return transportError("could not connect to MQTT broker", err)
			}
			b, err = New(ctx, conn, deviceID, &opts)
			if err != nil {
				conn.Close()
			}
			return err
		},
		Cond: func(err error) bool {
			return errors.IsKind(err, errors.TransportError)
		},
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// New performs the MQTT handshake over an established connection and returns
// a bridge for the given device.
func New(
	ctx context.Context,
	conn net.Conn,
	deviceID string,
	opt ...BridgeOption,
) (*Bridge, error) {
	var opts BridgeOptions
	opts.Apply(opt)

	if deviceID == "" || strings.ContainsAny(deviceID, "/+#") {
		return nil, &errors.Error{
			Message:       "invalid device ID",
			Kind:          errors.ArgumentInvalid,
			PropertyName:  "deviceID",
			PropertyValue: deviceID,
		}
	}

	prefix := opts.TopicPrefix
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	base := prefix + "/" + deviceID + "/"

	clientID := opts.ClientID
	if clientID == "" {
		clientID = "claimr-" + uuid.NewString()
	}

	b := &Bridge{
		topics: topics{
			control: base + "control",
			events: map[string]sensor.EventName{
				base + string(sensor.RawMeasurementLines): sensor.RawMeasurementLines,
				base + string(sensor.LocationChange):      sensor.LocationChange,
			},
		},
		header: opts.Header,
		logger: log.Wrap(opts.Logger),
	}

	b.client = paho.NewClient(paho.ClientConfig{
		ClientID: clientID,
		Conn:     conn,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			b.onPublish,
		},
		OnClientError: b.fail,
		OnServerDisconnect: func(d *paho.Disconnect) {
			b.fail(&errors.Error{
				Message:       "MQTT broker disconnected",
				Kind:          errors.TransportError,
				PropertyName:  "reasonCode",
				PropertyValue: d.ReasonCode,
			})
		},
	})

	keepAlive := opts.KeepAlive
	if keepAlive == 0 {
		keepAlive = 30
	}
	if _, err := b.client.Connect(ctx, &paho.Connect{
		ClientID:   clientID,
		KeepAlive:  keepAlive,
		CleanStart: true,
	}); err != nil {
		return nil, transportError("MQTT connect failed", err)
	}

	b.logger.Info(ctx, "connected sensor bridge",
		slog.String("client_id", clientID),
		slog.String("device_topic", base),
	)
	return b, nil
}

// RegisterMeasurementsCallback subscribes to the device's event topics and
// asks the device to start streaming. Registering an active bridge is a no-op.
func (b *Bridge) RegisterMeasurementsCallback(
	ctx context.Context,
	onError func(error),
	onListeningStarted func(),
) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.active {
		return nil
	}

	subs := make([]paho.SubscribeOptions, 0, len(b.topics.events))
	for topic := range b.topics.events {
		subs = append(subs, paho.SubscribeOptions{Topic: topic, QoS: 1})
	}
	if _, err := b.client.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: subs,
	}); err != nil {
		return transportError("subscribing to sensor events failed", err)
	}

	if err := b.control(ctx, CommandRegister); err != nil {
		b.unsubscribe(ctx)
		return err
	}

	b.active = true
	b.onError = onError
	if onListeningStarted != nil {
		go onListeningStarted()
	}
	return nil
}

// UnregisterMeasurementsCallback asks the device to stop streaming and
// unsubscribes from its event topics. It is a no-op if not registered.
func (b *Bridge) UnregisterMeasurementsCallback(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.active {
		return nil
	}
	b.active = false
	b.onError = nil

	return stderrors.Join(
		b.control(ctx, CommandUnregister),
		b.unsubscribe(ctx),
	)
}

// Header returns the configured protocol header.
func (b *Bridge) Header() string {
	return b.header
}

// Close disconnects from the broker.
func (b *Bridge) Close() error {
	return b.client.Disconnect(&paho.Disconnect{ReasonCode: 0})
}

func (b *Bridge) control(ctx context.Context, command string) error {
	payload, err := json.Marshal(ControlMessage{Command: command})
	if err != nil {
		return err
	}
	if _, err := b.client.Publish(ctx, &paho.Publish{
		Topic:   b.topics.control,
		QoS:     1,
		Payload: payload,
	}); err != nil {
		return transportError("publishing "+command+" failed", err)
	}
	return nil
}

func (b *Bridge) unsubscribe(ctx context.Context) error {
	topics := make([]string, 0, len(b.topics.events))
	for topic := range b.topics.events {
		topics = append(topics, topic)
	}
	if _, err := b.client.Unsubscribe(ctx, &paho.Unsubscribe{
		Topics: topics,
	}); err != nil {
		return transportError("unsubscribing from sensor events failed", err)
	}
	return nil
}

func (b *Bridge) onPublish(pr paho.PublishReceived) (bool, error) {
	name, ok := b.topics.events[pr.Packet.Topic]
	if !ok {
		return false, nil
	}

	b.mu.Lock()
	active := b.active
	b.mu.Unlock()
	if !active {
		return true, nil
	}

	// Deliver malformed payloads as-is; rejecting them is the consumer's
	// protocol check.
	var msg EventMessage
	if err := json.Unmarshal(pr.Packet.Payload, &msg); err != nil {
		b.Emit(sensor.Event{Name: name, Message: pr.Packet.Payload})
		return true, nil
	}
	b.Emit(sensor.Event{Name: name, Message: msg.Message})
	return true, nil
}

func (b *Bridge) fail(err error) {
	b.mu.Lock()
	onError := b.onError
	b.mu.Unlock()

	b.logger.Err(context.Background(), err)
	if onError != nil {
		onError(err)
	}
}

func transportError(msg string, err error) error {
	return &errors.Error{
		Message:     msg + ": " + err.Error(),
		Kind:        errors.TransportError,
		NestedError: err,
	}
}
