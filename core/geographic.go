package core

import (
	"fmt"
	"math"

	"github.com/skypies/geo"
)

// Spheroid is the reference body a GeographicCoordinate is measured
// against. Only a sphere is modelled; the ECEF helpers in ecef.go use
// the WGS semi-major axis instead.
type Spheroid struct {
	Name   string
	Radius float64 // metres
}

// Earth is the mean sea level reference sphere.
var Earth = Spheroid{Name: "earth-msl", Radius: EarthRadiusM}

// GeographicCoordinate is a position given as altitude above the Earth
// reference sphere (metres) plus latitude and longitude in radians.
type GeographicCoordinate struct {
	Altitude  float64
	Latitude  float64
	Longitude float64
}

// FromDegrees builds a coordinate from an altitude in metres and a
// latitude/longitude pair in degrees.
func FromDegrees(altitude, latDeg, lonDeg float64) GeographicCoordinate {
	return GeographicCoordinate{
		Altitude:  altitude,
		Latitude:  latDeg * math.Pi / 180,
		Longitude: lonDeg * math.Pi / 180,
	}
}

// FromCartesian converts an Earth-centred position back into a
// geographic coordinate on the reference sphere.
func FromCartesian(v Vec3) GeographicCoordinate {
	r := v.Norm()
	if r == 0 {
		return GeographicCoordinate{Altitude: -Earth.Radius}
	}
	return GeographicCoordinate{
		Altitude:  r - Earth.Radius,
		Latitude:  math.Asin(clamp(v.Z/r, -1, 1)),
		Longitude: math.Atan2(v.Y, v.X),
	}
}

func (g GeographicCoordinate) LatitudeDegrees() float64  { return g.Latitude * 180 / math.Pi }
func (g GeographicCoordinate) LongitudeDegrees() float64 { return g.Longitude * 180 / math.Pi }

// Radius is the distance from the centre of the reference sphere.
func (g GeographicCoordinate) Radius() float64 {
	return Earth.Radius + g.Altitude
}

// WithAltitude returns a copy of g at the given altitude.
func (g GeographicCoordinate) WithAltitude(altitude float64) GeographicCoordinate {
	g.Altitude = altitude
	return g
}

// Cartesian returns the Earth-centred position of g on the reference
// sphere, in metres.
func (g GeographicCoordinate) Cartesian() Vec3 {
	r := g.Radius()
	sinLat, cosLat := math.Sincos(g.Latitude)
	sinLon, cosLon := math.Sincos(g.Longitude)
	return Vec3{
		X: r * cosLat * cosLon,
		Y: r * cosLat * sinLon,
		Z: r * sinLat,
	}
}

// CartesianDistance is the straight-line distance between two
// coordinates, altitude included.
func (g GeographicCoordinate) CartesianDistance(other GeographicCoordinate) float64 {
	return g.Cartesian().DistanceTo(other.Cartesian())
}

// ArcDistance returns the great-circle distance in metres between g and
// other, measured at mean sea level.
func (g GeographicCoordinate) ArcDistance(other GeographicCoordinate) float64 {
	return g.latlong().DistKM(other.latlong()) * 1000
}

// BearingTo returns the initial great-circle bearing from g towards
// other in degrees clockwise from true north, in [0, 360).
func (g GeographicCoordinate) BearingTo(other GeographicCoordinate) float64 {
	b := math.Mod(g.latlong().BearingTowards(other.latlong()), 360)
	if b < 0 {
		b += 360
	}
	return b
}

// Lerp interpolates between g and other in cartesian space. t=0 returns
// g and t=1 returns other.
func (g GeographicCoordinate) Lerp(other GeographicCoordinate, t float64) GeographicCoordinate {
	return FromCartesian(g.Cartesian().Lerp(other.Cartesian(), t))
}

func (g GeographicCoordinate) String() string {
	return fmt.Sprintf("[%.1fm, %.6f°, %.6f°]", g.Altitude, g.LatitudeDegrees(), g.LongitudeDegrees())
}

func (g GeographicCoordinate) latlong() geo.Latlong {
	return geo.Latlong{Lat: g.LatitudeDegrees(), Long: g.LongitudeDegrees()}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
