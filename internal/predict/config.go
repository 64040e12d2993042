package predict

import (
	"fmt"
	"math"
	"time"

	"github.com/signalsfoundry/corridor-predictor/core"
)

// Config tunes the prediction algorithms.
type Config struct {
	// Reference is the tangent point of the prediction plane. It should be
	// near the traffic being predicted.
	Reference core.GeographicCoordinate

	// MovingWindow is the number of past states used in the circle fit.
	MovingWindow int
	// Predictions is the number of samples per corridor track.
	Predictions int
	// Step is the time between samples.
	Step time.Duration
	// TransitionTime is how long after a classification change the
	// centre corridor takes to narrow fully.
	TransitionTime time.Duration
	// MaxPhysicalSpeed is the average ground speed (m/s) above which a
	// predicted sample is reported as implausible.
	MaxPhysicalSpeed float64
	// MaxTurnRadius rejects fitted circles at or above this radius
	// (plane metres) as straight flight.
	MaxTurnRadius float64
}

// DefaultConfig returns the standard tuning with the reference at the
// origin.
func DefaultConfig() Config {
	return Config{
		MovingWindow:     10,
		Predictions:      24,
		Step:             5 * time.Second,
		TransitionTime:   60 * time.Second,
		MaxPhysicalSpeed: 400,
		MaxTurnRadius:    100000,
	}
}

// ApplyDefaults fills unset fields. Reference is left alone.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.MovingWindow <= 0 {
		c.MovingWindow = d.MovingWindow
	}
	if c.Predictions <= 0 {
		c.Predictions = d.Predictions
	}
	if c.Step <= 0 {
		c.Step = d.Step
	}
	if c.TransitionTime <= 0 {
		c.TransitionTime = d.TransitionTime
	}
	if c.MaxPhysicalSpeed <= 0 {
		c.MaxPhysicalSpeed = d.MaxPhysicalSpeed
	}
	if c.MaxTurnRadius <= 0 {
		c.MaxTurnRadius = d.MaxTurnRadius
	}
}

// Validate checks the configuration after defaults are applied.
func (c Config) Validate() error {
	if c.MovingWindow < 3 {
		return fmt.Errorf("predict: moving window must be at least 3, got %d", c.MovingWindow)
	}
	if _, err := core.NewGnomonicProjection(c.Reference); err != nil {
		return fmt.Errorf("predict: %w", err)
	}
	if math.IsNaN(c.MaxPhysicalSpeed) || math.IsNaN(c.MaxTurnRadius) {
		return fmt.Errorf("predict: thresholds must be numbers")
	}
	return nil
}
