package predict

import (
	"math"
	"testing"
	"time"

	"github.com/signalsfoundry/corridor-predictor/core"
	"github.com/signalsfoundry/corridor-predictor/model"
)

var (
	testRef = core.FromDegrees(0, 48.35, 11.78)
	testT0  = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
)

func testProjection(t *testing.T) *core.GnomonicProjection {
	t.Helper()
	p, err := core.NewGnomonicProjection(testRef)
	if err != nil {
		t.Fatalf("projection: %v", err)
	}
	return p
}

// planeState builds a state at plane position p moving with plane
// velocity v (m/s).
func planeState(proj *core.GnomonicProjection, sec float64, p, v core.Vec3, alt float64) model.AircraftState {
	a := proj.Unproject(p.Sub(v.Scale(0.5)))
	b := proj.Unproject(p.Add(v.Scale(0.5)))
	return model.AircraftState{
		AircraftID: "TEST1",
		Time:       testT0.Add(time.Duration(sec * float64(time.Second))),
		Position:   proj.Unproject(p).WithAltitude(alt),
		Velocity: core.SphericalVelocity{
			DR:   v.Z,
			DLat: b.Latitude - a.Latitude,
			DLon: b.Longitude - a.Longitude,
		},
	}
}

// arcTrack samples a counter-clockwise (left) or clockwise (right) turn
// of the given radius about centre, every stepSec seconds at speed m/s.
func arcTrack(proj *core.GnomonicProjection, centre core.Vec3, radius, speed, theta0, stepSec float64, n int, left bool, alt float64) model.Track {
	w := speed / radius
	sign := 1.0
	if !left {
		sign = -1
	}
	var tr model.Track
	for i := 0; i < n; i++ {
		theta := theta0 + sign*w*stepSec*float64(i)
		s, c := math.Sincos(theta)
		p := core.Vec3{X: centre.X + radius*c, Y: centre.Y + radius*s}
		v := core.Vec3{X: -s, Y: c}.Scale(sign * speed)
		tr = append(tr, planeState(proj, stepSec*float64(i), p, v, alt))
	}
	return tr
}

func flat(proj *core.GnomonicProjection, g core.GeographicCoordinate) core.Vec3 {
	return proj.Project(g).Flat()
}

type countingRecorder struct {
	n map[string]int
}

func (r *countingRecorder) ObserveImplausibleSample(kind string) {
	if r.n == nil {
		r.n = make(map[string]int)
	}
	r.n[kind]++
}
