package predict

import (
	"sync"
	"time"

	"github.com/signalsfoundry/corridor-predictor/model"
)

// State is the per-aircraft continuity state threaded through successive
// predictions: the last motion classification and when it last changed.
// Algorithms hold its lock for the whole read-modify-write of one call.
type State struct {
	mu        sync.Mutex
	motion    model.MotionState
	changedAt time.Time
}

// NewState returns an unclassified state.
func NewState() *State { return &State{} }

// Snapshot returns the current classification and the time it was set.
// The time is zero when the state has never been classified.
func (s *State) Snapshot() (model.MotionState, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.motion, s.changedAt
}

// transitionLocked returns how far, in [0, 1], the aircraft is through
// the transition following the last classification change.
func (s *State) transitionLocked(now time.Time, transition time.Duration) float64 {
	if s.changedAt.IsZero() {
		return 0
	}
	if transition <= 0 {
		return 1
	}
	f := float64(now.Sub(s.changedAt)) / float64(transition)
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

// setLocked records motion at time at. The change time only moves when
// the classification actually changes.
func (s *State) setLocked(motion model.MotionState, at time.Time) {
	if s.motion == motion && !s.changedAt.IsZero() {
		return
	}
	s.motion = motion
	s.changedAt = at
}
