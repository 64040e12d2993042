package core

import (
	satellite "github.com/joshuaferrara/go-satellite"
)

// j2000 is the Julian date used to pin the sidereal angle when moving
// through go-satellite's ECI frame. Any fixed epoch works since the
// rotation is undone immediately.
const j2000 = 2451545.0

const kmToM = 1000.0

// ECEF returns the Earth-centred, Earth-fixed position of g in metres.
// go-satellite models a sphere of the WGS84 semi-major axis (6378.137 km),
// which is close enough for distance checks but differs from
// Cartesian, which uses the mean sea level sphere.
func (g GeographicCoordinate) ECEF() Vec3 {
	gmst := satellite.ThetaG_JD(j2000)
	eci := satellite.LLAToECI(satellite.LatLong{Latitude: g.Latitude, Longitude: g.Longitude}, g.Altitude/kmToM, j2000)
	ecef := satellite.ECIToECEF(eci, gmst)
	return Vec3{X: ecef.X * kmToM, Y: ecef.Y * kmToM, Z: ecef.Z * kmToM}
}

// ECEFDistance is the straight-line ECEF distance between g and other
// in metres.
func (g GeographicCoordinate) ECEFDistance(other GeographicCoordinate) float64 {
	return g.ECEF().DistanceTo(other.ECEF())
}
