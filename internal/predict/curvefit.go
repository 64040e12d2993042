package predict

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/signalsfoundry/corridor-predictor/core"
	"github.com/signalsfoundry/corridor-predictor/internal/logging"
	"github.com/signalsfoundry/corridor-predictor/model"
)

// CurveFit classifies the aircraft as turning or straight by fitting a
// circle to its recent track and produces a corridor:
//
//   - Left: constant-velocity extrapolation.
//   - Centre: an arc on a wider circle tangent at the current position,
//     whose radius relaxes towards the fitted one as the classification
//     settles.
//   - Right: the fitted circle.
//
// Turns are never extrapolated past half a circle; beyond that the
// samples continue straight along the last heading. Straight flight
// shares one linear path for all three bounds.
type CurveFit struct {
	cfg    Config
	frame  *planeFrame
	linear *Linear
	opts   options
}

func newCurveFit(cfg Config, o options) *CurveFit {
	frame := newPlaneFrame(cfg.Reference)
	return &CurveFit{
		cfg:    cfg,
		frame:  frame,
		linear: newLinear(cfg, frame, o),
		opts:   o,
	}
}

func (*CurveFit) Kind() Kind          { return KindCurveFit }
func (*CurveFit) MinTrackLength() int { return 3 }
func (*CurveFit) NewState() *State    { return NewState() }

func (c *CurveFit) MakePrediction(ctx context.Context, track model.Track, state *State) (model.Prediction, error) {
	latest, err := latestOrErr(c.Kind(), track, c.MinTrackLength())
	if err != nil {
		return model.Prediction{}, err
	}
	log := logging.FromContext(ctx, c.opts.log)

	proj, err := c.frame.projection()
	if err != nil {
		return model.Prediction{}, err
	}
	if state == nil {
		state = c.NewState()
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	transition := state.transitionLocked(latest.Time, c.cfg.TransitionTime)

	vel, zeroed := sanitizeVelocity(latest.Velocity)
	if zeroed {
		log.Warn(ctx, "invalid velocity, using zero", logging.String("aircraft_id", latest.AircraftID))
	}
	pos, err := flatten(proj, latest.Position)
	if err != nil {
		return model.Prediction{}, err
	}
	v := proj.ProjectVelocity(vel, latest.Position).Flat()

	circle, turning, err := c.fitTurn(proj, track)
	if err != nil {
		return model.Prediction{}, err
	}

	left, err := c.linear.extrapolate(ctx, log, c.Kind(), proj, latest, vel)
	if err != nil {
		return model.Prediction{}, err
	}

	pred := model.Prediction{
		AircraftID:  latest.AircraftID,
		GeneratedAt: latest.Time,
		Origin:      latest,
		Left:        left,
	}
	if turning {
		a := arc{
			centre:     circle.Center(),
			radius:     circle.Radius,
			pos:        pos,
			vel:        v,
			offset:     offsetFactor(transition),
			step:       c.cfg.Step,
			count:      c.cfg.Predictions,
			projection: proj,
		}
		pred.Motion = a.direction()
		state.setLocked(pred.Motion, latest.Time)
		pred.Centre, pred.Right = a.samples(func(g core.GeographicCoordinate, dt time.Duration) model.AircraftState {
			g = g.WithAltitude(latest.Position.Altitude)
			checkPlausible(ctx, log, c.opts.recorder, c.Kind(), c.cfg.MaxPhysicalSpeed, latest, g, dt)
			return predictedState(latest, vel, g, dt)
		})
	} else {
		state.setLocked(model.MotionStraight, latest.Time)
		pred.Motion = model.MotionStraight
		pred.Centre = left
		pred.Right = left
	}

	if !pred.Consistent() {
		err := fmt.Errorf("%w: left=%d centre=%d right=%d",
			ErrCorridorMismatch, len(pred.Left), len(pred.Centre), len(pred.Right))
		log.Error(ctx, "corridor tracks do not match", logging.String("aircraft_id", latest.AircraftID), logging.Err(err))
		return pred, err
	}
	return pred, nil
}

// fitTurn fits a circle to the recent track and reports whether it
// describes a turn. Three states use the exact circle through them;
// longer tracks refine a seed over the moving window that precedes the
// latest state.
func (c *CurveFit) fitTurn(proj *core.GnomonicProjection, track model.Track) (core.Circle, bool, error) {
	n := len(track)
	var circle core.Circle

	if n == 3 {
		pts, err := flattenAll(proj, model.Track{track[2], track[1], track[0]})
		if err != nil {
			return core.Circle{}, false, err
		}
		circle, _ = core.CircleFromThreePoints(pts[0], pts[1], pts[2])
	} else {
		from := max(n-1-c.cfg.MovingWindow, 0)
		pts, err := flattenAll(proj, track[from:n-1])
		if err != nil {
			return core.Circle{}, false, err
		}
		seed, _ := core.CircleFromThreePoints(pts[len(pts)-1], pts[(len(pts)-1)/2], pts[0])
		circle = core.LeastSquaresCircle(pts, seed)
	}

	if !circle.Valid() || circle.Radius >= c.cfg.MaxTurnRadius {
		return circle, false, nil
	}
	return circle, continuous(track.Tail(3).Positions()), nil
}

func flattenAll(proj *core.GnomonicProjection, track model.Track) ([]core.Vec3, error) {
	pts := make([]core.Vec3, len(track))
	for i, s := range track {
		p, err := flatten(proj, s.Position)
		if err != nil {
			return nil, err
		}
		pts[i] = p
	}
	return pts, nil
}

// arc generates the turning corridor bounds in the plane.
type arc struct {
	centre core.Vec3
	radius float64
	pos    core.Vec3
	vel    core.Vec3
	offset float64

	step       time.Duration
	count      int
	projection *core.GnomonicProjection
}

// direction classifies the turn by the sign of (r × v).z, where r runs
// from the circle centre to the aircraft.
func (a arc) direction() model.MotionState {
	if a.pos.Sub(a.centre).Cross(a.vel).Z > 0 {
		return model.MotionLeftTurn
	}
	return model.MotionRightTurn
}

func (a arc) samples(emit func(core.GeographicCoordinate, time.Duration) model.AircraftState) (centre, right model.Track) {
	sign := -1.0
	if a.direction() == model.MotionLeftTurn {
		sign = 1.0
	}
	up := core.Vec3{Z: sign}
	speed := a.vel.Norm()

	rVec := a.pos.Sub(a.centre)
	w := speed / a.radius

	// The centre bound follows a wider circle sharing the tangent at pos.
	offRVec := rVec.Scale(a.offset)
	offCentre := a.pos.Sub(offRVec)
	wOff := speed / (a.radius * a.offset)

	prev, prevOff := a.pos, a.pos
	dir := a.vel.Normalize()
	dirOff := dir
	straight := false

	centre = make(model.Track, 0, a.count)
	right = make(model.Track, 0, a.count)
	for i := 1; i <= a.count; i++ {
		dt := time.Duration(i) * a.step
		secs := dt.Seconds()
		if w*secs > math.Pi {
			straight = true
		}

		var p, q core.Vec3
		if !straight {
			rot := rVec.RotateZ(sign * w * secs)
			p = a.centre.Add(rot)
			dir = up.Cross(rot).Normalize()

			rotOff := offRVec.RotateZ(sign * wOff * secs)
			q = offCentre.Add(rotOff)
			dirOff = up.Cross(rotOff).Normalize()
		} else {
			hop := a.step.Seconds() * speed
			p = prev.Add(dir.Scale(hop))
			q = prevOff.Add(dirOff.Scale(hop))
		}
		prev, prevOff = p, q

		right = append(right, emit(a.projection.Unproject(p), dt))
		centre = append(centre, emit(a.projection.Unproject(q), dt))
	}
	return centre, right
}
