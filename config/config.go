// Copyright (c) The claimr-go Authors.
// Licensed under the MIT License.

// Package config loads the claimr CLI configuration from TOML, YAML or JSON
// files with environment overrides.
package config

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/claimr-tools/claimr-go/claimr"
	"github.com/claimr-tools/claimr-go/errors"
	"github.com/claimr-tools/claimr-go/iso"
	"github.com/claimr-tools/claimr-go/sensor/mqtt"
	"github.com/claimr-tools/claimr-go/session"
)

type (
	// Config is the complete CLI configuration.
	Config struct {
		Verifier Verifier `toml:"verifier" yaml:"verifier" json:"verifier"`
		Session  Session  `toml:"session" yaml:"session" json:"session"`
		Sensor   Sensor   `toml:"sensor" yaml:"sensor" json:"sensor"`
		History  History  `toml:"history" yaml:"history" json:"history"`
		Logging  Logging  `toml:"logging" yaml:"logging" json:"logging"`
	}

	// Verifier configures the verification client.
	Verifier struct {
		Endpoint string       `toml:"endpoint" yaml:"endpoint" json:"endpoint"`
		APIKey   string       `toml:"api_key" yaml:"api_key" json:"api_key"`
		Timeout  iso.Duration `toml:"timeout" yaml:"timeout" json:"timeout"`
	}

	// Session configures evidence collection and submission.
	Session struct {
		MinEpochs         int     `toml:"min_epochs" yaml:"min_epochs" json:"min_epochs"`
		MaxEpochs         int     `toml:"max_epochs" yaml:"max_epochs" json:"max_epochs"`
		DefaultRadius     float64 `toml:"default_radius" yaml:"default_radius" json:"default_radius"`
		LogRequestDetails bool    `toml:"log_request_details" yaml:"log_request_details" json:"log_request_details"`
		AutoSubmit        bool    `toml:"auto_submit" yaml:"auto_submit" json:"auto_submit"`
	}

	// Sensor selects and configures the sensor bridge.
	Sensor struct {
		Source string `toml:"source" yaml:"source" json:"source"`
		MQTT   MQTT   `toml:"mqtt" yaml:"mqtt" json:"mqtt"`
		Replay Replay `toml:"replay" yaml:"replay" json:"replay"`
	}

	// MQTT configures the MQTT sensor bridge.
	MQTT struct {
		Broker      string `toml:"broker" yaml:"broker" json:"broker"`
		DeviceID    string `toml:"device_id" yaml:"device_id" json:"device_id"`
		TopicPrefix string `toml:"topic_prefix" yaml:"topic_prefix" json:"topic_prefix"`
		ClientID    string `toml:"client_id" yaml:"client_id" json:"client_id"`
	}

	// Replay configures the log file replay bridge.
	Replay struct {
		Path     string       `toml:"path" yaml:"path" json:"path"`
		Follow   bool         `toml:"follow" yaml:"follow" json:"follow"`
		Interval iso.Duration `toml:"interval" yaml:"interval" json:"interval"`
	}

	// History configures the attempt history. It is disabled when Path is
	// empty.
	History struct {
		Path string `toml:"path" yaml:"path" json:"path"`
		Key  string `toml:"key" yaml:"key" json:"key"`
	}

	// Logging configures the CLI log handler.
	Logging struct {
		Level  string `toml:"level" yaml:"level" json:"level"`
		Format string `toml:"format" yaml:"format" json:"format"`
	}
)

// Sensor sources.
const (
	SourceMQTT   = "mqtt"
	SourceReplay = "replay"
)

// Log formats.
const (
	FormatTint = "tint"
	FormatJSON = "json"
	FormatText = "text"
)

// Default returns the configuration used for anything a file leaves unset.
func Default() *Config {
	return &Config{
		Verifier: Verifier{
			Endpoint: claimr.DefaultEndpoint,
			Timeout:  iso.Duration(30 * time.Second),
		},
		Session: Session{
			MinEpochs:     session.DefaultMinEpochs,
			MaxEpochs:     session.DefaultMaxEpochs,
			DefaultRadius: session.DefaultRadius,
		},
		Sensor: Sensor{
			Source: SourceMQTT,
			MQTT: MQTT{
				Broker:      "localhost:1883",
				DeviceID:    "gnsslogger",
				TopicPrefix: mqtt.DefaultTopicPrefix,
			},
		},
		Logging: Logging{
			Level:  "info",
			Format: FormatTint,
		},
	}
}

// ApplyEnvOverrides overrides configuration values from CLAIMR_* environment
// variables.
func (c *Config) ApplyEnvOverrides() error {
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v, ok := os.LookupEnv(name)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return &errors.Error{
				Message:       fmt.Sprintf("%s is not an integer", name),
				Kind:          errors.ConfigurationInvalid,
				NestedError:   err,
				PropertyName:  name,
				PropertyValue: v,
			}
		}
		*dst = n
		return nil
	}

	str("CLAIMR_API_KEY", &c.Verifier.APIKey)
	str("CLAIMR_ENDPOINT", &c.Verifier.Endpoint)
	str("CLAIMR_SENSOR_SOURCE", &c.Sensor.Source)
	str("CLAIMR_MQTT_BROKER", &c.Sensor.MQTT.Broker)
	str("CLAIMR_MQTT_DEVICE", &c.Sensor.MQTT.DeviceID)
	str("CLAIMR_REPLAY_PATH", &c.Sensor.Replay.Path)
	str("CLAIMR_HISTORY_PATH", &c.History.Path)
	str("CLAIMR_HISTORY_KEY", &c.History.Key)
	str("CLAIMR_LOG_LEVEL", &c.Logging.Level)

	if err := num("CLAIMR_MIN_EPOCHS", &c.Session.MinEpochs); err != nil {
		return err
	}
	return num("CLAIMR_MAX_EPOCHS", &c.Session.MaxEpochs)
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch {
	case c.Verifier.Endpoint == "":
		return invalid("verifier.endpoint", c.Verifier.Endpoint,
			"verifier endpoint must be set")
	case c.Verifier.Timeout < 0:
		return invalid("verifier.timeout", c.Verifier.Timeout,
			"verifier timeout must not be negative")
	case c.Session.MinEpochs < 1:
		return invalid("session.min_epochs", c.Session.MinEpochs,
			"minimum epochs must be positive")
	case c.Session.MaxEpochs < 0:
		return invalid("session.max_epochs", c.Session.MaxEpochs,
			"maximum epochs must not be negative")
	case !(c.Session.DefaultRadius > 0):
		return invalid("session.default_radius", c.Session.DefaultRadius,
			"default radius must be positive")
	}

	switch c.Sensor.Source {
	case SourceMQTT:
		if c.Sensor.MQTT.Broker == "" {
			return invalid("sensor.mqtt.broker", "",
				"MQTT broker must be set")
		}
		if c.Sensor.MQTT.DeviceID == "" {
			return invalid("sensor.mqtt.device_id", "",
				"MQTT device ID must be set")
		}
	case SourceReplay:
		if c.Sensor.Replay.Path == "" {
			return invalid("sensor.replay.path", "",
				"replay path must be set")
		}
		if c.Sensor.Replay.Interval < 0 {
			return invalid("sensor.replay.interval", c.Sensor.Replay.Interval,
				"replay interval must not be negative")
		}
	default:
		return invalid("sensor.source", c.Sensor.Source,
			"unknown sensor source")
	}

	if c.History.Path != "" {
		if _, err := c.History.MasterKey(); err != nil {
			return err
		}
	}

	if _, err := c.Logging.SlogLevel(); err != nil {
		return err
	}
	switch c.Logging.Format {
	case FormatTint, FormatJSON, FormatText:
	default:
		return invalid("logging.format", c.Logging.Format,
			"unknown log format")
	}
	return nil
}

// MasterKey decodes the hex-encoded history key.
func (h *History) MasterKey() ([]byte, error) {
	key, err := hex.DecodeString(h.Key)
	if err != nil || len(key) < 16 {
		return nil, &errors.Error{
			Message:      "history key must be at least 16 hex-encoded bytes",
			Kind:         errors.ConfigurationInvalid,
			NestedError:  err,
			PropertyName: "history.key",
		}
	}
	return key, nil
}

// SlogLevel parses the configured log level.
func (l *Logging) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, &errors.Error{
			Message:       "unknown log level",
			Kind:          errors.ConfigurationInvalid,
			NestedError:   err,
			PropertyName:  "logging.level",
			PropertyValue: l.Level,
		}
	}
	return level, nil
}

func invalid(name string, value any, msg string) error {
	return &errors.Error{
		Message:       msg,
		Kind:          errors.ConfigurationInvalid,
		PropertyName:  name,
		PropertyValue: value,
	}
}
