package predict

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientData is returned when a track is shorter than the
	// selected algorithm requires.
	ErrInsufficientData = errors.New("insufficient track data")

	// ErrCorridorMismatch signals that the left, centre and right tracks
	// of a prediction came out with different lengths. The prediction is
	// still returned alongside the error.
	ErrCorridorMismatch = errors.New("corridor track lengths differ")

	// ErrOutsideProjection is returned when the latest position cannot be
	// mapped into the prediction plane.
	ErrOutsideProjection = errors.New("position outside projection hemisphere")

	// ErrUnknownKind is returned for unrecognised algorithm kinds.
	ErrUnknownKind = errors.New("unknown algorithm kind")
)

// InsufficientDataError carries the required and actual track lengths.
// It matches ErrInsufficientData with errors.Is.
type InsufficientDataError struct {
	Kind     Kind
	Required int
	Actual   int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%s: %s needs %d states, got %d", ErrInsufficientData, e.Kind, e.Required, e.Actual)
}

func (e *InsufficientDataError) Unwrap() error { return ErrInsufficientData }

func requireLength(kind Kind, required, actual int) error {
	if actual < required {
		return &InsufficientDataError{Kind: kind, Required: required, Actual: actual}
	}
	return nil
}
