// Copyright (c) The claimr-go Authors.
// Licensed under the MIT License.
package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/claimr-tools/claimr-go/claimr"
	"github.com/claimr-tools/claimr-go/config"
	"github.com/claimr-tools/claimr-go/errors"
	"github.com/claimr-tools/claimr-go/iso"
	"github.com/stretchr/testify/require"
)

const tomlConfig = `
[verifier]
endpoint = "http://localhost:8080/graphql"
api_key = "secret"
timeout = "PT10S"

[session]
min_epochs = 5
max_epochs = 20
auto_submit = true

[sensor]
source = "replay"

[sensor.replay]
path = "gnss_log.txt"
follow = true
interval = "PT2S"

[logging]
level = "debug"
format = "json"
`

const yamlConfig = `
verifier:
  api_key: secret
  timeout: PT1M
session:
  default_radius: 250
sensor:
  mqtt:
    broker: broker:1883
    device_id: pixel
history:
  path: /tmp/claimr.db
  key: 000102030405060708090a0b0c0d0e0f
`

const jsonConfig = `{
  "verifier": {"endpoint": "https://api.unveiler.io/graphql"},
  "session": {"log_request_details": true},
  "logging": {"format": "text", "level": "warn"}
}`

func write(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadTOML(t *testing.T) {
	cfg, err := config.Load(write(t, "claimr.toml", tomlConfig))
	require.NoError(t, err)

	require.Equal(t, "http://localhost:8080/graphql", cfg.Verifier.Endpoint)
	require.Equal(t, "secret", cfg.Verifier.APIKey)
	require.Equal(t, iso.Duration(10*time.Second), cfg.Verifier.Timeout)
	require.Equal(t, 5, cfg.Session.MinEpochs)
	require.Equal(t, 20, cfg.Session.MaxEpochs)
	require.Equal(t, 100.0, cfg.Session.DefaultRadius)
	require.True(t, cfg.Session.AutoSubmit)
	require.Equal(t, config.SourceReplay, cfg.Sensor.Source)
	require.True(t, cfg.Sensor.Replay.Follow)
	require.Equal(t, iso.Duration(2*time.Second), cfg.Sensor.Replay.Interval)

	level, err := cfg.Logging.SlogLevel()
	require.NoError(t, err)
	require.Equal(t, slog.LevelDebug, level)
}

func TestLoadYAML(t *testing.T) {
	cfg, err := config.Load(write(t, "claimr.yaml", yamlConfig))
	require.NoError(t, err)

	require.Equal(t, claimr.DefaultEndpoint, cfg.Verifier.Endpoint)
	require.Equal(t, iso.Duration(time.Minute), cfg.Verifier.Timeout)
	require.Equal(t, 250.0, cfg.Session.DefaultRadius)
	require.Equal(t, "broker:1883", cfg.Sensor.MQTT.Broker)
	require.Equal(t, "pixel", cfg.Sensor.MQTT.DeviceID)

	key, err := cfg.History.MasterKey()
	require.NoError(t, err)
	require.Len(t, key, 16)
}

func TestLoadJSON(t *testing.T) {
	cfg, err := config.Load(write(t, "claimr.json", jsonConfig))
	require.NoError(t, err)
	require.Equal(t, claimr.UnveilerEndpoint, cfg.Verifier.Endpoint)
	require.True(t, cfg.Session.LogRequestDetails)
	require.Equal(t, config.FormatText, cfg.Logging.Format)
}

func TestLoadDetect(t *testing.T) {
	for name, content := range map[string]string{
		"toml": tomlConfig,
		"yaml": yamlConfig,
		"json": jsonConfig,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := config.Load(write(t, "claimr.conf", content))
			require.NoError(t, err)
		})
	}
}

func TestLoadMissing(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	require.Equal(t, config.Default(), cfg)

	cfg, err = config.Load("")
	require.NoError(t, err)
	require.Equal(t, config.Default(), cfg)
}

func TestLoadUnknownKey(t *testing.T) {
	for _, name := range []string{"c.toml", "c.yaml", "c.json"} {
		content := map[string]string{
			"c.toml": "[session]\nmin_epoch = 3\n",
			"c.yaml": "session:\n  min_epoch: 3\n",
			"c.json": `{"session": {"min_epoch": 3}}`,
		}[name]
		_, err := config.Load(write(t, name, content))
		require.True(t, errors.IsKind(err, errors.ConfigurationInvalid), name)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CLAIMR_API_KEY", "from-env")
	t.Setenv("CLAIMR_MIN_EPOCHS", "7")
	t.Setenv("CLAIMR_SENSOR_SOURCE", "replay")
	t.Setenv("CLAIMR_REPLAY_PATH", "/data/gnss.txt")
	t.Setenv("CLAIMR_LOG_LEVEL", "error")

	cfg, err := config.Load(write(t, "claimr.toml", tomlConfig))
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Verifier.APIKey)
	require.Equal(t, 7, cfg.Session.MinEpochs)
	require.Equal(t, "/data/gnss.txt", cfg.Sensor.Replay.Path)
	require.Equal(t, "error", cfg.Logging.Level)

	t.Setenv("CLAIMR_MAX_EPOCHS", "ten")
	_, err = config.Load("")
	require.True(t, errors.IsKind(err, errors.ConfigurationInvalid))
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*config.Config){
		"endpoint":  func(c *config.Config) { c.Verifier.Endpoint = "" },
		"timeout":   func(c *config.Config) { c.Verifier.Timeout = -1 },
		"min":       func(c *config.Config) { c.Session.MinEpochs = 0 },
		"max":       func(c *config.Config) { c.Session.MaxEpochs = -1 },
		"radius":    func(c *config.Config) { c.Session.DefaultRadius = 0 },
		"source":    func(c *config.Config) { c.Sensor.Source = "bluetooth" },
		"broker":    func(c *config.Config) { c.Sensor.MQTT.Broker = "" },
		"device":    func(c *config.Config) { c.Sensor.MQTT.DeviceID = "" },
		"replay":    func(c *config.Config) { c.Sensor.Source = config.SourceReplay },
		"key":       func(c *config.Config) { c.History.Path = "h.db" },
		"level":     func(c *config.Config) { c.Logging.Level = "loud" },
		"format":    func(c *config.Config) { c.Logging.Format = "xml" },
		"short key": func(c *config.Config) { c.History = config.History{Path: "h.db", Key: "00ff"} },
	}

	require.NoError(t, config.Default().Validate())
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := config.Default()
			mutate(cfg)
			require.True(t, errors.IsKind(cfg.Validate(), errors.ConfigurationInvalid))
		})
	}
}

func TestWatch(t *testing.T) {
	path := write(t, "claimr.toml", "[session]\nmin_epochs = 4\n")

	changes := make(chan *config.Config, 64)
	failures := make(chan error, 64)
	stop, err := config.Watch(path,
		func(c *config.Config) { changes <- c },
		func(err error) { failures <- err },
	)
	require.NoError(t, err)
	defer stop()

	require.NoError(t, os.WriteFile(path, []byte("[session]\nmin_epochs = 6\n"), 0o600))
	select {
	case cfg := <-changes:
		require.Equal(t, 6, cfg.Session.MinEpochs)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "configuration was not reloaded")
	}

	require.NoError(t, os.WriteFile(path, []byte("[session]\nmin_epochs = -2\n"), 0o600))
	select {
	case err := <-failures:
		require.True(t, errors.IsKind(err, errors.ConfigurationInvalid))
	case <-time.After(5 * time.Second):
		require.FailNow(t, "invalid configuration was not reported")
	}

	stop()
	stop()
}
