package predict

import (
	"context"

	"github.com/signalsfoundry/corridor-predictor/model"
)

// Passthrough returns the input track as all three corridor bounds. It
// exists to exercise the engine plumbing.
type Passthrough struct{}

func (*Passthrough) Kind() Kind          { return KindPassthrough }
func (*Passthrough) MinTrackLength() int { return 1 }
func (*Passthrough) NewState() *State    { return NewState() }

func (p *Passthrough) MakePrediction(_ context.Context, track model.Track, state *State) (model.Prediction, error) {
	latest, err := latestOrErr(p.Kind(), track, p.MinTrackLength())
	if err != nil {
		return model.Prediction{}, err
	}
	motion := model.MotionUnknown
	if state != nil {
		motion, _ = state.Snapshot()
	}
	return model.Prediction{
		AircraftID:  latest.AircraftID,
		GeneratedAt: latest.Time,
		Origin:      latest,
		Left:        track,
		Centre:      track,
		Right:       track,
		Motion:      motion,
	}, nil
}
