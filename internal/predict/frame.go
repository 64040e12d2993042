package predict

import (
	"fmt"
	"math"
	"sync"

	"github.com/signalsfoundry/corridor-predictor/core"
)

// planeFrame lazily builds the gnomonic projection shared by every
// worker. The projection is read-only once built.
type planeFrame struct {
	ref  core.GeographicCoordinate
	once sync.Once
	proj *core.GnomonicProjection
	err  error
}

func newPlaneFrame(ref core.GeographicCoordinate) *planeFrame {
	return &planeFrame{ref: ref}
}

func (f *planeFrame) projection() (*core.GnomonicProjection, error) {
	f.once.Do(func() {
		f.proj, f.err = core.NewGnomonicProjection(f.ref)
	})
	return f.proj, f.err
}

// flatten projects g and drops the altitude.
func flatten(p *core.GnomonicProjection, g core.GeographicCoordinate) (core.Vec3, error) {
	if !p.Contains(g) {
		return core.Vec3{}, fmt.Errorf("%w: %s", ErrOutsideProjection, g)
	}
	return p.Project(g).Flat(), nil
}

// sanitizeVelocity zeroes NaN velocities. It reports whether it did.
func sanitizeVelocity(v core.SphericalVelocity) (core.SphericalVelocity, bool) {
	if v.IsNaN() {
		return core.SphericalVelocity{}, true
	}
	return v, false
}

// continuous reports whether the path through points never doubles
// back: for every consecutive triple p1, p2, p3 the chord p1→p3 must be
// at least as long as p1→p2. Fewer than three points are never
// continuous.
func continuous(points []core.GeographicCoordinate) bool {
	if len(points) < 3 {
		return false
	}
	for i := 2; i < len(points); i++ {
		p1, p2, p3 := points[i-2], points[i-1], points[i]
		if p1.CartesianDistance(p3) < p1.CartesianDistance(p2) {
			return false
		}
	}
	return true
}

// offsetFactor scales the centre corridor circle. It blends from 6.2
// right after a classification change down to 1.2 once the transition
// completes.
func offsetFactor(transition float64) float64 {
	return 1.2 + (1-transition)*5
}

// averageSpeed is the mean speed (m/s) implied by moving from origin to
// sample in seconds, measured as an ECEF chord.
func averageSpeed(origin, sample core.GeographicCoordinate, seconds float64) float64 {
	if seconds <= 0 {
		return math.Inf(1)
	}
	return origin.ECEFDistance(sample) / seconds
}
