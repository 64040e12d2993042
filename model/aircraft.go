package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/signalsfoundry/corridor-predictor/core"
)

// ErrTrackOrder is returned when a state would make a track go back in
// time.
var ErrTrackOrder = errors.New("track timestamps must be non-decreasing")

// AircraftState is one timestamped position and velocity sample for an
// aircraft. It is a value type; treat it as immutable once built.
type AircraftState struct {
	AircraftID string
	Time       time.Time

	Position core.GeographicCoordinate
	Velocity core.SphericalVelocity

	// Aux is an auxiliary scalar carried with the sample (e.g. a
	// transponder field). Predicted states carry zero.
	Aux float64
}

// Track is the time ordered history of one aircraft.
type Track []AircraftState

// Latest returns the most recent state, if any.
func (t Track) Latest() (AircraftState, bool) {
	if len(t) == 0 {
		return AircraftState{}, false
	}
	return t[len(t)-1], true
}

// Tail returns the last n states. The result shares storage with t.
func (t Track) Tail(n int) Track {
	if n <= 0 {
		return Track{}
	}
	if n >= len(t) {
		return t
	}
	return t[len(t)-n:]
}

// Positions returns the positions of the track in order.
func (t Track) Positions() []core.GeographicCoordinate {
	out := make([]core.GeographicCoordinate, len(t))
	for i, s := range t {
		out[i] = s.Position
	}
	return out
}

// Validate checks that timestamps never decrease.
func (t Track) Validate() error {
	for i := 1; i < len(t); i++ {
		if t[i].Time.Before(t[i-1].Time) {
			return fmt.Errorf("%w: index %d (%s) before index %d (%s)",
				ErrTrackOrder, i, t[i].Time.Format(time.RFC3339Nano), i-1, t[i-1].Time.Format(time.RFC3339Nano))
		}
	}
	return nil
}
