package core

import "math"

// SphericalVelocity is a rate of change of a GeographicCoordinate: the
// radial rate in metres per second plus latitude and longitude rates in
// radians per second.
type SphericalVelocity struct {
	DR   float64
	DLat float64
	DLon float64
}

// IsNaN reports whether any component is NaN.
func (v SphericalVelocity) IsNaN() bool {
	return math.IsNaN(v.DR) || math.IsNaN(v.DLat) || math.IsNaN(v.DLon)
}

// ENU returns the velocity at position at as a local east/north/up
// vector in metres per second.
func (v SphericalVelocity) ENU(at GeographicCoordinate) Vec3 {
	r := at.Radius()
	return Vec3{
		X: r * math.Cos(at.Latitude) * v.DLon,
		Y: r * v.DLat,
		Z: v.DR,
	}
}

// Speed is the magnitude of the velocity at position at (m/s).
func (v SphericalVelocity) Speed(at GeographicCoordinate) float64 {
	return v.ENU(at).Norm()
}

// Advance moves at along v for dt seconds, integrating the angular
// rates directly.
func (v SphericalVelocity) Advance(at GeographicCoordinate, dt float64) GeographicCoordinate {
	return GeographicCoordinate{
		Altitude:  at.Altitude + v.DR*dt,
		Latitude:  at.Latitude + v.DLat*dt,
		Longitude: at.Longitude + v.DLon*dt,
	}
}

// VelocityFromENU is the inverse of SphericalVelocity.ENU.
func VelocityFromENU(at GeographicCoordinate, enu Vec3) SphericalVelocity {
	r := at.Radius()
	if r == 0 {
		return SphericalVelocity{}
	}
	v := SphericalVelocity{DR: enu.Z, DLat: enu.Y / r}
	if c := math.Cos(at.Latitude); c != 0 {
		v.DLon = enu.X / (r * c)
	}
	return v
}
