// Copyright (c) The claimr-go Authors.
// Licensed under the MIT License.
package log

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/claimr-tools/claimr-go/errors"
	"github.com/stretchr/testify/require"
)

func capture(level slog.Level) (Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	h := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: level})
	return Wrap(slog.New(h)), &buf
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	return rec
}

func TestNilLogger(t *testing.T) {
	var l Logger
	require.False(t, l.Enabled(context.Background(), slog.LevelError))
	l.Info(context.Background(), "ignored")
	l.Err(context.Background(), &errors.Error{Message: "ignored"})
	l.Struct(context.Background(), "ignored", struct{ A int }{1})
}

func TestErr(t *testing.T) {
	l, buf := capture(slog.LevelInfo)
	l.Err(context.Background(), &errors.Error{
		Message:      "endpoint missing",
		Kind:         errors.ConfigurationInvalid,
		PropertyName: "endpoint",
	})

	rec := decode(t, buf)
	require.Equal(t, "ERROR", rec["level"])
	require.Equal(t, "endpoint missing", rec["msg"])
	require.Equal(t, "configuration invalid", rec["kind"])
	require.Equal(t, "endpoint", rec["property_name"])
}

func TestStruct(t *testing.T) {
	type inner struct{ RadiusMeters float64 }
	type request struct {
		RequestID string
		GNSSLog   string
		Payload   []byte
		Point     *inner
		Empty     string
		hidden    string
	}

	l, buf := capture(slog.LevelDebug)
	l.Struct(context.Background(), "request", &request{
		RequestID: "req-1",
		GNSSLog:   strings.Repeat("x", 300),
		Payload:   []byte("abc"),
		Point:     &inner{RadiusMeters: 100},
		hidden:    "secret",
	})

	rec := decode(t, buf)
	require.Equal(t, "req-1", rec["request_id"])
	require.Equal(t, 300.0, rec["gnss_log_len"])
	require.Equal(t, 3.0, rec["payload_len"])
	require.Equal(t, map[string]any{"radius_meters": 100.0}, rec["point"])
	require.NotContains(t, rec, "empty")
	require.NotContains(t, rec, "hidden")
}

func TestStructDisabled(t *testing.T) {
	l, buf := capture(slog.LevelInfo)
	l.Struct(context.Background(), "request", struct{ A int }{1})
	require.Zero(t, buf.Len())
}
