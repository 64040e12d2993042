package predict

import (
	"context"
	"time"

	"github.com/signalsfoundry/corridor-predictor/core"
	"github.com/signalsfoundry/corridor-predictor/internal/logging"
	"github.com/signalsfoundry/corridor-predictor/model"
)

// Linear extrapolates the latest state at constant velocity in the
// prediction plane, ignoring any turn.
type Linear struct {
	cfg   Config
	frame *planeFrame
	opts  options
}

func newLinear(cfg Config, frame *planeFrame, o options) *Linear {
	return &Linear{cfg: cfg, frame: frame, opts: o}
}

func (*Linear) Kind() Kind          { return KindLinear }
func (*Linear) MinTrackLength() int { return 1 }
func (*Linear) NewState() *State    { return NewState() }

func (l *Linear) MakePrediction(ctx context.Context, track model.Track, _ *State) (model.Prediction, error) {
	latest, err := latestOrErr(l.Kind(), track, l.MinTrackLength())
	if err != nil {
		return model.Prediction{}, err
	}
	log := logging.FromContext(ctx, l.opts.log)

	proj, err := l.frame.projection()
	if err != nil {
		return model.Prediction{}, err
	}
	vel, zeroed := sanitizeVelocity(latest.Velocity)
	if zeroed {
		log.Warn(ctx, "invalid velocity, using zero", logging.String("aircraft_id", latest.AircraftID))
	}
	path, err := l.extrapolate(ctx, log, l.Kind(), proj, latest, vel)
	if err != nil {
		return model.Prediction{}, err
	}
	return model.Prediction{
		AircraftID:  latest.AircraftID,
		GeneratedAt: latest.Time,
		Origin:      latest,
		Left:        path,
		Centre:      path,
		Right:       path,
		Motion:      model.MotionStraight,
	}, nil
}

// extrapolate is shared with CurveFit, which uses it for the left
// corridor bound and for straight flight.
func (l *Linear) extrapolate(ctx context.Context, log logging.Logger, kind Kind, proj *core.GnomonicProjection, latest model.AircraftState, vel core.SphericalVelocity) (model.Track, error) {
	pos, err := flatten(proj, latest.Position)
	if err != nil {
		return nil, err
	}
	v := proj.ProjectVelocity(vel, latest.Position).Flat()

	out := make(model.Track, 0, l.cfg.Predictions)
	for i := 1; i <= l.cfg.Predictions; i++ {
		dt := time.Duration(i) * l.cfg.Step
		p := pos.Add(v.Scale(dt.Seconds()))
		g := proj.Unproject(p).WithAltitude(latest.Position.Altitude)
		checkPlausible(ctx, log, l.opts.recorder, kind, l.cfg.MaxPhysicalSpeed, latest, g, dt)
		out = append(out, predictedState(latest, vel, g, dt))
	}
	return out, nil
}

func predictedState(from model.AircraftState, vel core.SphericalVelocity, at core.GeographicCoordinate, dt time.Duration) model.AircraftState {
	return model.AircraftState{
		AircraftID: from.AircraftID,
		Time:       from.Time.Add(dt),
		Position:   at,
		Velocity:   vel,
	}
}

func checkPlausible(ctx context.Context, log logging.Logger, rec Recorder, kind Kind, limit float64,
	origin model.AircraftState, sample core.GeographicCoordinate, dt time.Duration) {
	speed := averageSpeed(origin.Position, sample, dt.Seconds())
	if speed <= limit {
		return
	}
	log.Warn(ctx, "unlikely average speed for prediction",
		logging.String("aircraft_id", origin.AircraftID),
		logging.Float64("speed_mps", speed),
		logging.Duration("offset", dt))
	if rec != nil {
		rec.ObserveImplausibleSample(kind.String())
	}
}
