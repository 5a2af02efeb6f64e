// Copyright (c) The claimr-go Authors.
// Licensed under the MIT License.
package iso

import (
	"time"

	"github.com/relvacode/iso8601"
	"github.com/sosodev/duration"
)

// Wrappers for the native Go time types that will serialize to ISO 8601, so
// they can be used directly in TOML, YAML and JSON documents.
type (
	// DateTime is a date and time in ISO 8601 format, per RFC 3339.
	DateTime time.Time

	// Duration is a duration in ISO 8601 format (e.g. "PT30S").
	Duration time.Duration
)

// String returns the date-time as an ISO 8601 string.
func (dt DateTime) String() string {
	return time.Time(dt).Format(time.RFC3339)
}

// MarshalText marshals the date-time to an ISO 8601 string.
func (dt DateTime) MarshalText() ([]byte, error) {
	return []byte(dt.String()), nil
}

// UnmarshalText unmarshals the date-time from an ISO 8601 string.
func (dt *DateTime) UnmarshalText(b []byte) error {
	parsed, err := iso8601.Parse(b)
	if err != nil {
		return err
	}
	*dt = DateTime(parsed)
	return nil
}

// String returns the duration as an ISO 8601 string.
func (d Duration) String() string {
	return duration.Format(time.Duration(d))
}

// MarshalText marshals the duration to an ISO 8601 string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText unmarshals the duration from an ISO 8601 string. Go duration
// strings such as "1m30s" are accepted too, since configuration files are
// written by hand.
func (d *Duration) UnmarshalText(b []byte) error {
	parsed, err := duration.Parse(string(b))
	if err != nil {
		std, stdErr := time.ParseDuration(string(b))
		if stdErr != nil {
			return err
		}
		*d = Duration(std)
		return nil
	}
	*d = Duration(parsed.ToTimeDuration())
	return nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Time returns the date-time as a time.Time.
func (dt DateTime) Time() time.Time {
	return time.Time(dt)
}
