package model

import (
	"fmt"
	"strings"
	"time"
)

// MotionState is the discrete motion classification of an aircraft.
type MotionState int

const (
	MotionUnknown MotionState = iota // never classified
	MotionStraight
	MotionLeftTurn
	MotionRightTurn
)

func (m MotionState) String() string {
	switch m {
	case MotionStraight:
		return "STRAIGHT"
	case MotionLeftTurn:
		return "LEFT_TURN"
	case MotionRightTurn:
		return "RIGHT_TURN"
	default:
		return "UNKNOWN"
	}
}

// ParseMotionState is the inverse of MotionState.String.
func ParseMotionState(s string) (MotionState, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "STRAIGHT":
		return MotionStraight, nil
	case "LEFT_TURN":
		return MotionLeftTurn, nil
	case "RIGHT_TURN":
		return MotionRightTurn, nil
	case "UNKNOWN", "":
		return MotionUnknown, nil
	}
	return MotionUnknown, fmt.Errorf("unknown motion state %q", s)
}

// Prediction is a forecast corridor for one aircraft: three candidate
// future tracks bounding where it may go next.
type Prediction struct {
	AircraftID  string
	GeneratedAt time.Time

	// Origin is the state the forecast was computed from.
	Origin AircraftState

	Left   Track
	Centre Track
	Right  Track

	Motion MotionState
}

// Consistent reports whether the three corridor tracks have equal length.
func (p Prediction) Consistent() bool {
	return len(p.Left) == len(p.Centre) && len(p.Centre) == len(p.Right)
}

// Len is the number of samples per corridor track.
func (p Prediction) Len() int { return len(p.Centre) }
