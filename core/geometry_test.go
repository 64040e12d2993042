package core

import (
	"math"
	"testing"
)

func TestVec3_CrossFollowsRightHandRule(t *testing.T) {
	x := Vec3{X: 1}
	y := Vec3{Y: 1}
	if got := x.Cross(y); got != (Vec3{Z: 1}) {
		t.Fatalf("x × y = %+v, want +z", got)
	}
	if got := y.Cross(x); got != (Vec3{Z: -1}) {
		t.Fatalf("y × x = %+v, want -z", got)
	}
}

func TestVec3_RotateZCounterClockwise(t *testing.T) {
	got := Vec3{X: 1, Z: 7}.RotateZ(math.Pi / 2)
	if math.Abs(got.X) > 1e-12 || math.Abs(got.Y-1) > 1e-12 || got.Z != 7 {
		t.Fatalf("rotate +90° = %+v, want (0,1,7)", got)
	}
}

func TestVec3_NormalizeZero(t *testing.T) {
	if got := (Vec3{}).Normalize(); got != (Vec3{}) {
		t.Fatalf("normalize zero = %+v", got)
	}
	if n := (Vec3{X: 3, Y: 4}).Normalize().Norm(); math.Abs(n-1) > 1e-12 {
		t.Fatalf("unit norm = %v", n)
	}
}

func TestGeographic_CartesianRoundTrip(t *testing.T) {
	g := FromDegrees(10500, 51.47, -0.45)
	back := FromCartesian(g.Cartesian())
	if math.Abs(back.Altitude-g.Altitude) > 1e-6 ||
		math.Abs(back.Latitude-g.Latitude) > 1e-12 ||
		math.Abs(back.Longitude-g.Longitude) > 1e-12 {
		t.Fatalf("round trip %s -> %s", g, back)
	}
}

func TestGeographic_ArcDistanceOneDegree(t *testing.T) {
	a := FromDegrees(0, 0, 0)
	b := FromDegrees(0, 1, 0)
	d := a.ArcDistance(b)
	if math.Abs(d-111195) > 500 {
		t.Fatalf("one degree of latitude = %.0fm, want ~111195m", d)
	}
}

func TestGeographic_BearingTo(t *testing.T) {
	origin := FromDegrees(0, 0, 0)
	cases := []struct {
		name string
		to   GeographicCoordinate
		want float64
	}{
		{"north", FromDegrees(0, 1, 0), 0},
		{"east", FromDegrees(0, 0, 1), 90},
		{"south", FromDegrees(0, -1, 0), 180},
		{"west", FromDegrees(0, 0, -1), 270},
	}
	for _, tc := range cases {
		got := origin.BearingTo(tc.to)
		diff := math.Abs(got - tc.want)
		if diff > 180 {
			diff = 360 - diff
		}
		if diff > 0.01 {
			t.Errorf("%s: bearing = %.3f, want %.0f", tc.name, got, tc.want)
		}
	}
}

func TestVelocity_ENURoundTrip(t *testing.T) {
	at := FromDegrees(9000, 45, 10)
	enu := Vec3{X: 120, Y: -80, Z: 3}
	v := VelocityFromENU(at, enu)
	back := v.ENU(at)
	if back.DistanceTo(enu) > 1e-9 {
		t.Fatalf("ENU round trip %+v -> %+v", enu, back)
	}
	if s := v.Speed(at); math.Abs(s-enu.Norm()) > 1e-9 {
		t.Fatalf("speed = %v, want %v", s, enu.Norm())
	}
}
