package traffic

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/signalsfoundry/corridor-predictor/internal/logging"
	"github.com/signalsfoundry/corridor-predictor/model"
	"github.com/signalsfoundry/corridor-predictor/timectrl"
)

// StateSink accepts batches of aircraft states, typically the knowledge
// base.
type StateSink interface {
	ApplyBatch(states []model.AircraftState) error
}

// Generator plays a Scenario into a StateSink, one batch per clock tick.
type Generator struct {
	scenario *Scenario
	sink     StateSink
	clock    *timectrl.TimeController
	log      logging.Logger

	published atomic.Int64
	rejected  atomic.Int64
}

// NewGenerator builds a generator. The scenario's Interval becomes the
// tick of a controller in the given mode; speedup only applies to
// timectrl.Accelerated.
func NewGenerator(sc *Scenario, sink StateSink, mode timectrl.Mode, speedup float64, log logging.Logger) *Generator {
	if log == nil {
		log = logging.Noop()
	}
	tc := timectrl.NewTimeController(sc.Start, sc.Interval, mode)
	tc.Speedup = speedup
	g := &Generator{scenario: sc, sink: sink, clock: tc, log: log}
	tc.AddListener(g.onTick)
	return g
}

// Clock exposes the playback clock so other components can share it.
func (g *Generator) Clock() *timectrl.TimeController { return g.clock }

// Published is the number of states accepted by the sink.
func (g *Generator) Published() int64 { return g.published.Load() }

// Rejected is the number of states the sink refused.
func (g *Generator) Rejected() int64 { return g.rejected.Load() }

// Run plays the scenario until it ends or ctx is cancelled. The initial
// states at the scenario start are published before the first tick.
func (g *Generator) Run(ctx context.Context) error {
	var duration time.Duration
	if end, ok := g.scenario.End(); ok {
		duration = end.Sub(g.scenario.Start)
	}
	g.log.Info(ctx, "traffic playback starting",
		logging.String("scenario", g.scenario.Name),
		logging.Int("flights", len(g.scenario.Flights)),
		logging.Duration("duration", duration),
		logging.Duration("interval", g.scenario.Interval))

	g.onTick(g.scenario.Start)
	<-g.clock.Start(ctx, duration)

	g.log.Info(ctx, "traffic playback finished",
		logging.Any("published", g.Published()),
		logging.Any("rejected", g.Rejected()))
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (g *Generator) onTick(now time.Time) {
	states := g.scenario.StatesAt(now)
	if len(states) == 0 {
		return
	}
	err := g.sink.ApplyBatch(states)
	if err == nil {
		g.published.Add(int64(len(states)))
		return
	}
	// ApplyBatch keeps the states it can; count only what it refused.
	var refused int
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		refused = len(joined.Unwrap())
	} else {
		refused = 1
	}
	g.rejected.Add(int64(refused))
	g.published.Add(int64(len(states) - refused))
	g.log.Warn(context.Background(), "sink rejected states",
		logging.Time("tick", now),
		logging.Int("rejected", refused),
		logging.Err(err))
}
