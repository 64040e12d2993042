package core

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidReference is returned when a projection reference point is
// not a finite coordinate with a latitude inside [-90°, 90°].
var ErrInvalidReference = errors.New("invalid projection reference")

// velocityStep is the time span (seconds) used to difference positions
// when moving velocities into the projection plane.
const velocityStep = 1.0

// GnomonicProjection maps coordinates near a fixed reference point onto
// the plane tangent to the reference sphere at that point. Great circles
// map to straight lines, so straight flight stays straight in the plane.
//
// Plane coordinates are metres at the tangent point with x pointing east
// and y north. Z carries the altitude through untouched.
type GnomonicProjection struct {
	ref              GeographicCoordinate
	sinLat0, cosLat0 float64
	radius           float64
}

// NewGnomonicProjection builds a projection tangent at ref.
func NewGnomonicProjection(ref GeographicCoordinate) (*GnomonicProjection, error) {
	if math.IsNaN(ref.Latitude) || math.IsNaN(ref.Longitude) ||
		math.IsInf(ref.Latitude, 0) || math.IsInf(ref.Longitude, 0) ||
		math.Abs(ref.Latitude) > math.Pi/2 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidReference, ref)
	}
	s, c := math.Sincos(ref.Latitude)
	return &GnomonicProjection{
		ref:     ref,
		sinLat0: s,
		cosLat0: c,
		radius:  Earth.Radius,
	}, nil
}

// Reference returns the tangent point.
func (p *GnomonicProjection) Reference() GeographicCoordinate { return p.ref }

// Contains reports whether g lies in the hemisphere centred on the
// reference point, i.e. whether it can be projected at all.
func (p *GnomonicProjection) Contains(g GeographicCoordinate) bool {
	return p.cosC(g) > 0
}

func (p *GnomonicProjection) cosC(g GeographicCoordinate) float64 {
	sinLat, cosLat := math.Sincos(g.Latitude)
	return p.sinLat0*sinLat + p.cosLat0*cosLat*math.Cos(g.Longitude-p.ref.Longitude)
}

// Project maps g into the plane. Points outside the projectable
// hemisphere yield NaN components; use Contains to check first.
func (p *GnomonicProjection) Project(g GeographicCoordinate) Vec3 {
	cosC := p.cosC(g)
	if cosC <= 0 {
		return Vec3{X: math.NaN(), Y: math.NaN(), Z: g.Altitude}
	}
	sinLat, cosLat := math.Sincos(g.Latitude)
	sinDLon, cosDLon := math.Sincos(g.Longitude - p.ref.Longitude)
	return Vec3{
		X: p.radius * cosLat * sinDLon / cosC,
		Y: p.radius * (p.cosLat0*sinLat - p.sinLat0*cosLat*cosDLon) / cosC,
		Z: g.Altitude,
	}
}

// Unproject maps a plane point back onto the sphere. Z is used as the
// altitude.
func (p *GnomonicProjection) Unproject(v Vec3) GeographicCoordinate {
	rho := math.Hypot(v.X, v.Y)
	if rho == 0 {
		return GeographicCoordinate{Altitude: v.Z, Latitude: p.ref.Latitude, Longitude: p.ref.Longitude}
	}
	c := math.Atan(rho / p.radius)
	sinC, cosC := math.Sincos(c)
	lat := math.Asin(clamp(cosC*p.sinLat0+v.Y*sinC*p.cosLat0/rho, -1, 1))
	lon := p.ref.Longitude + math.Atan2(v.X*sinC, rho*p.cosLat0*cosC-v.Y*p.sinLat0*sinC)
	return GeographicCoordinate{Altitude: v.Z, Latitude: lat, Longitude: normalizeLongitude(lon)}
}

// ProjectVelocity expresses vel, observed at position at, as a plane
// velocity in metres per second. The z component is the radial rate.
func (p *GnomonicProjection) ProjectVelocity(vel SphericalVelocity, at GeographicCoordinate) Vec3 {
	half := velocityStep / 2
	before := p.Project(vel.Advance(at, -half))
	after := p.Project(vel.Advance(at, half))
	d := after.Sub(before).Scale(1 / velocityStep)
	d.Z = vel.DR
	return d
}

func normalizeLongitude(lon float64) float64 {
	for lon > math.Pi {
		lon -= 2 * math.Pi
	}
	for lon < -math.Pi {
		lon += 2 * math.Pi
	}
	return lon
}
