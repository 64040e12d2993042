package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/signalsfoundry/corridor-predictor/internal/predict"
)

// Ordering selects how work for one aircraft is sequenced.
type Ordering int

const (
	// OrderPerAircraft keeps at most one item per aircraft queued or in
	// flight. Later updates wait in a per-aircraft FIFO, so predictions
	// for an aircraft complete in update order.
	OrderPerAircraft Ordering = iota
	// OrderUnordered enqueues every update directly. Items for the same
	// aircraft may run concurrently and complete out of order.
	OrderUnordered
)

func (o Ordering) String() string {
	if o == OrderUnordered {
		return "unordered"
	}
	return "per-aircraft"
}

// ParseOrdering maps a configuration string to an Ordering.
func ParseOrdering(s string) (Ordering, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "per-aircraft", "peraircraft", "ordered":
		return OrderPerAircraft, nil
	case "unordered":
		return OrderUnordered, nil
	}
	return 0, fmt.Errorf("unknown ordering %q", s)
}

// Config tunes the coordinator and its worker pool.
type Config struct {
	Workers   int
	Algorithm predict.Kind
	Ordering  Ordering

	// PollInterval is the supervisor loop period.
	PollInterval time.Duration

	// HandoffBuffer and HandoffTimeout bound how long a worker waits to
	// pass a finished prediction to the forwarder before dropping it.
	HandoffBuffer  int
	HandoffTimeout time.Duration

	// TrackWindow is how many of the latest states go into a snapshot.
	// Zero or negative snapshots the whole track.
	TrackWindow int
}

// DefaultConfig returns the standard engine settings.
func DefaultConfig() Config {
	return Config{
		Workers:        2,
		Algorithm:      predict.KindCurveFit,
		Ordering:       OrderPerAircraft,
		PollInterval:   100 * time.Millisecond,
		HandoffBuffer:  256,
		HandoffTimeout: 50 * time.Millisecond,
		TrackWindow:    32,
	}
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.HandoffBuffer <= 0 {
		c.HandoffBuffer = d.HandoffBuffer
	}
	if c.HandoffTimeout <= 0 {
		c.HandoffTimeout = d.HandoffTimeout
	}
}
