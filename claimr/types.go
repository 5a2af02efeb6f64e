// Copyright (c) The claimr-go Authors.
// Licensed under the MIT License.
package claimr

import (
	"fmt"
	"math"
	"slices"

	"github.com/claimr-tools/claimr-go/errors"
)

type (
	// Location is a geographical location in decimal degrees.
	Location struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	}

	// PointClaim requires the user to be within Radius meters of Location.
	PointClaim struct {
		Location Location `json:"location"`
		Radius   float64  `json:"radius"`
	}

	// AreaClaim requires the user to be inside the area bounded by Locations.
	AreaClaim struct {
		Locations []Location `json:"locations"`
	}

	// Claim is the set of requirements imposed on the user's location. A
	// token is only granted when every present requirement is met.
	Claim struct {
		Point *PointClaim `json:"point,omitempty"`
		Area  *AreaClaim  `json:"area,omitempty"`
	}

	// ProofContext is the evidence submitted alongside a claim: an entire
	// GNSSLogger log, header included, as one string.
	ProofContext struct {
		GNSSLog string `json:"gnssLog"`
	}

	// Status is the verifier's judgement of a request.
	Status string

	// Verdict is the verifier's response to a verification request.
	Verdict struct {
		Status        Status         `json:"status"`
		Message       string         `json:"message,omitempty"`
		TokenResponse *TokenResponse `json:"tokenResponse,omitempty"`
	}

	// TokenResponse exposes a granted claim both decoded and as a signed JWT.
	TokenResponse struct {
		Token Token  `json:"token"`
		JWT   string `json:"jwt"`
	}

	// Token holds the claims granted on a request.
	Token struct {
		Sub   string `json:"sub,omitempty"`
		IAT   int64  `json:"iat,omitempty"`
		Claim Claim  `json:"claim"`
		Proof string `json:"proof,omitempty"`
	}
)

// Verdict statuses.
const (
	// StatusGranted means the claims were verified and granted.
	StatusGranted Status = "GRANTED"

	// StatusRevoked means the request was processed but deemed insufficient
	// proof to grant the claim.
	StatusRevoked Status = "REVOKED"

	// StatusError means the request could not be handled.
	StatusError Status = "ERROR"
)

// ProofGNSS is the only proof type currently issued.
const ProofGNSS = "GNSS"

// PointAt returns a point claim around the given location.
func PointAt(loc Location, radius float64) Claim {
	return Claim{Point: &PointClaim{Location: loc, Radius: radius}}
}

// Validate checks that the claim is well-formed before it is sent.
func (c *Claim) Validate() error {
	if c.Point == nil && c.Area == nil {
		return claimError("claim requires a point or an area", "claim", nil)
	}

	if p := c.Point; p != nil {
		if !(p.Radius > 0) || math.IsInf(p.Radius, 0) {
			return claimError("point radius must be positive", "radius", p.Radius)
		}
		if err := p.Location.validate("point.location"); err != nil {
			return err
		}
	}

	if a := c.Area; a != nil {
		if len(a.Locations) == 0 {
			return claimError("area requires at least one location",
				"area.locations", nil)
		}
		for i, loc := range a.Locations {
			if err := loc.validate(
				fmt.Sprintf("area.locations[%d]", i),
			); err != nil {
				return err
			}
		}
	}
	return nil
}

// Clone returns a deep copy of the claim.
func (c *Claim) Clone() Claim {
	var res Claim
	if c.Point != nil {
		point := *c.Point
		res.Point = &point
	}
	if c.Area != nil {
		res.Area = &AreaClaim{Locations: slices.Clone(c.Area.Locations)}
	}
	return res
}

// Center returns the location a claim is anchored on: the point's center, or
// the first vertex of the area.
func (c *Claim) Center() (Location, bool) {
	switch {
	case c.Point != nil:
		return c.Point.Location, true
	case c.Area != nil && len(c.Area.Locations) > 0:
		return c.Area.Locations[0], true
	default:
		return Location{}, false
	}
}

func (l Location) validate(name string) error {
	if !inRange(l.Latitude, 90) {
		return claimError("latitude out of range", name+".latitude", l.Latitude)
	}
	if !inRange(l.Longitude, 180) {
		return claimError("longitude out of range", name+".longitude",
			l.Longitude)
	}
	return nil
}

func inRange(v, limit float64) bool {
	return !math.IsNaN(v) && v >= -limit && v <= limit
}

func claimError(msg, name string, value any) error {
	return &errors.Error{
		Message:       msg,
		Kind:          errors.ArgumentInvalid,
		PropertyName:  name,
		PropertyValue: value,
	}
}
