// Copyright (c) The claimr-go Authors.
// Licensed under the MIT License.
package sensor

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/claimr-tools/claimr-go/errors"
)

// Location is a latitude/longitude pair in decimal degrees.
type Location struct {
	Latitude  float64
	Longitude float64
}

// ParseLocation parses a location change message of the form "lat,lon".
// Non-string messages, malformed numbers, non-finite values and coordinates
// out of range are rejected as protocol violations.
func ParseLocation(msg any) (Location, error) {
	str, ok := msg.(string)
	if !ok {
		return Location{}, locationError(
			fmt.Sprintf("expected string location, found %T", msg),
			msg,
		)
	}

	lat, lon, ok := strings.Cut(str, ",")
	if !ok {
		return Location{}, locationError("location is not a lat,lon pair", str)
	}

	var loc Location
	var err error
	if loc.Latitude, err = parseCoordinate(lat, 90); err != nil {
		return Location{}, locationError("invalid latitude: "+err.Error(), str)
	}
	if loc.Longitude, err = parseCoordinate(lon, 180); err != nil {
		return Location{}, locationError("invalid longitude: "+err.Error(), str)
	}
	return loc, nil
}

// String formats the location the way bridges deliver it.
func (l Location) String() string {
	return strconv.FormatFloat(l.Latitude, 'f', -1, 64) + "," +
		strconv.FormatFloat(l.Longitude, 'f', -1, 64)
}

func parseCoordinate(s string, limit float64) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) > limit {
		return 0, fmt.Errorf("%v out of range", v)
	}
	return v, nil
}

func locationError(msg string, value any) error {
	return &errors.Error{
		Message:       msg,
		Kind:          errors.PayloadInvalid,
		EventName:     string(LocationChange),
		PropertyValue: value,
	}
}
