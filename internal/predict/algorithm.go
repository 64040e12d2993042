// Package predict holds the prediction algorithm family: a passthrough
// baseline, constant-velocity extrapolation and the curve-fit corridor
// predictor. All variants share the Algorithm contract so the engine can
// dispatch on a Kind tag.
package predict

import (
	"context"
	"fmt"
	"strings"

	"github.com/signalsfoundry/corridor-predictor/internal/logging"
	"github.com/signalsfoundry/corridor-predictor/model"
)

// Kind tags an algorithm variant.
type Kind int

const (
	KindPassthrough Kind = iota
	KindLinear
	KindCurveFit
)

func (k Kind) String() string {
	switch k {
	case KindPassthrough:
		return "passthrough"
	case KindLinear:
		return "linear"
	case KindCurveFit:
		return "curvefit"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind maps a configuration string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "passthrough":
		return KindPassthrough, nil
	case "linear":
		return KindLinear, nil
	case "curvefit", "curve-fit", "lm", "leastsquares", "least-squares":
		return KindCurveFit, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Algorithm turns a track history into a Prediction.
//
// MakePrediction must be safe for concurrent use across aircraft. The
// per-aircraft State it receives is the only mutable input; callers pass
// the same State for every call concerning one aircraft.
type Algorithm interface {
	Kind() Kind
	// MinTrackLength is the shortest track MakePrediction accepts.
	MinTrackLength() int
	// NewState allocates the per-aircraft continuity state. It is called
	// once per aircraft.
	NewState() *State
	MakePrediction(ctx context.Context, track model.Track, state *State) (model.Prediction, error)
}

// Recorder receives algorithm diagnostics. Implementations must be safe
// for concurrent use.
type Recorder interface {
	ObserveImplausibleSample(kind string)
}

type options struct {
	log      logging.Logger
	recorder Recorder
}

// Option customises an algorithm built by New.
type Option func(*options)

// WithLogger sets the fallback logger. A logger carried on the call
// context takes precedence.
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithRecorder attaches a diagnostics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *options) { o.recorder = r }
}

func buildOptions(opts []Option) options {
	o := options{log: logging.Noop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logging.Noop()
	}
	return o
}

// New builds the algorithm for kind. cfg is defaulted and validated.
func New(kind Kind, cfg Config, opts ...Option) (Algorithm, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	switch kind {
	case KindPassthrough:
		return &Passthrough{}, nil
	case KindLinear:
		return newLinear(cfg, newPlaneFrame(cfg.Reference), o), nil
	case KindCurveFit:
		return newCurveFit(cfg, o), nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownKind, int(kind))
}

func latestOrErr(kind Kind, track model.Track, min int) (model.AircraftState, error) {
	if err := requireLength(kind, min, len(track)); err != nil {
		return model.AircraftState{}, err
	}
	latest, _ := track.Latest()
	return latest, nil
}
