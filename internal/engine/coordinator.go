// Package engine runs prediction work concurrently: a coordinator turns
// track change notifications into work items, a fixed worker pool runs
// the configured algorithm on them and completed predictions are handed
// to a downstream sink through a bounded buffer.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/brunoga/deep"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/corridor-predictor/internal/logging"
	"github.com/signalsfoundry/corridor-predictor/internal/predict"
	"github.com/signalsfoundry/corridor-predictor/model"
	"github.com/signalsfoundry/corridor-predictor/timectrl"
)

const tracerName = "github.com/signalsfoundry/corridor-predictor/internal/engine"

// TrackStore supplies track snapshots.
type TrackStore interface {
	Track(aircraftID string) (model.Track, bool)
}

// PredictionSink receives completed predictions. SendPrediction is
// called from a single forwarder goroutine.
type PredictionSink interface {
	SendPrediction(p model.Prediction)
}

// SinkFunc adapts a function to PredictionSink.
type SinkFunc func(model.Prediction)

func (f SinkFunc) SendPrediction(p model.Prediction) { f(p) }

// MetricsRecorder receives engine measurements. All methods must be safe
// for concurrent use.
type MetricsRecorder interface {
	IncEnqueued()
	SetQueueDepth(n int)
	SetQueueHeadAge(d time.Duration)
	SetTrackedAircraft(n int)
	ObservePrediction(kind, motion string, d time.Duration)
	IncFailure(kind, reason string)
	IncHandoffDrop()
}

type noopMetrics struct{}

func (noopMetrics) IncEnqueued()                                    {}
func (noopMetrics) SetQueueDepth(int)                               {}
func (noopMetrics) SetQueueHeadAge(time.Duration)                   {}
func (noopMetrics) SetTrackedAircraft(int)                          {}
func (noopMetrics) ObservePrediction(string, string, time.Duration) {}
func (noopMetrics) IncFailure(string, string)                       {}
func (noopMetrics) IncHandoffDrop()                                 {}

// Registry maps algorithm kinds to implementations.
type Registry map[predict.Kind]predict.Algorithm

// NewRegistry indexes algs by their Kind.
func NewRegistry(algs ...predict.Algorithm) Registry {
	r := make(Registry, len(algs))
	for _, a := range algs {
		r[a.Kind()] = a
	}
	return r
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the coordinator logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(c *Coordinator) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithClock sets the clock used to timestamp work items.
func WithClock(clock timectrl.SimClock) Option {
	return func(c *Coordinator) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithTracerProvider sets where prediction spans go. The global provider
// is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Coordinator) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}

// Stats is a point-in-time view of the coordinator.
type Stats struct {
	Running    bool
	Queued     int
	Backlogged int
	InFlight   int

	// Pending counts accepted items that have not completed yet.
	Pending  int
	Aircraft int
}

// Coordinator converts track change notifications into work items, owns
// the worker pool and per-aircraft continuity state, and forwards
// completed predictions downstream.
type Coordinator struct {
	cfg        Config
	store      TrackStore
	sink       PredictionSink
	algorithms Registry
	states     *StateStore
	queue      *WorkQueue

	log     logging.Logger
	metrics MetricsRecorder
	clock   timectrl.SimClock
	tracer  trace.Tracer

	mu       sync.Mutex
	started  bool
	running  bool
	inFlight int
	pending  int
	active   map[string]bool
	backlog  map[string][]*WorkItem

	handoff   chan model.Prediction
	group     *errgroup.Group
	stopSuper chan struct{}
	superDone chan struct{}
	fwdDone   chan struct{}
}

// NewCoordinator builds a coordinator. The configured algorithm kind must
// be present in algs.
func NewCoordinator(cfg Config, store TrackStore, sink PredictionSink, algs Registry, opts ...Option) (*Coordinator, error) {
	cfg.ApplyDefaults()
	if store == nil {
		return nil, errors.New("engine: nil track store")
	}
	if sink == nil {
		return nil, errors.New("engine: nil prediction sink")
	}
	if _, ok := algs[cfg.Algorithm]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAlgorithm, cfg.Algorithm)
	}

	c := &Coordinator{
		cfg:        cfg,
		store:      store,
		sink:       sink,
		algorithms: algs,
		states:     NewStateStore(),
		queue:      NewWorkQueue(),
		log:        logging.Noop(),
		metrics:    noopMetrics{},
		clock:      timectrl.SystemClock{},
		tracer:     otel.Tracer(tracerName),
		active:     make(map[string]bool),
		backlog:    make(map[string][]*WorkItem),
		handoff:    make(chan model.Prediction, cfg.HandoffBuffer),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Queue exposes the shared work queue.
func (c *Coordinator) Queue() *WorkQueue { return c.queue }

// States exposes the per-aircraft state store.
func (c *Coordinator) States() *StateStore { return c.states }

// Start launches the worker pool, the supervisor loop and the forwarder.
// Cancelling ctx stops the workers; Stop is still required to release
// the remaining goroutines.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.running = true
	c.mu.Unlock()

	c.stopSuper = make(chan struct{})
	c.superDone = make(chan struct{})
	c.fwdDone = make(chan struct{})

	go c.forward()
	go c.supervise()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < c.cfg.Workers; i++ {
		id := i
		g.Go(func() error { return c.runWorker(gctx, id) })
	}
	c.group = g

	c.log.Info(ctx, "prediction engine started",
		logging.Int("workers", c.cfg.Workers),
		logging.String("algorithm", c.cfg.Algorithm.String()),
		logging.String("ordering", c.cfg.Ordering.String()))
	return nil
}

// Stop clears the running flag and closes the queue in one step, waits
// for every worker to finish its in-flight item and then stops the
// supervisor and the forwarder. Predictions already handed off are
// still delivered. Queued items are abandoned.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	// No item is taken once this lock is released.
	c.queue.Close()
	c.mu.Unlock()

	err := c.group.Wait()

	close(c.stopSuper)
	<-c.superDone

	close(c.handoff)
	<-c.fwdDone

	c.log.Info(context.Background(), "prediction engine stopped", logging.Int("abandoned", c.queue.Len()))
	return err
}

func (c *Coordinator) isRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Stats returns a snapshot of queue and state sizes.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	backlogged := 0
	for _, items := range c.backlog {
		backlogged += len(items)
	}
	st := Stats{Running: c.running, Backlogged: backlogged, InFlight: c.inFlight, Pending: c.pending}
	c.mu.Unlock()

	st.Queued = c.queue.Len()
	st.Aircraft = c.states.Len()
	return st
}

// Drain blocks until every accepted work item has completed and its
// prediction has been handed off, or ctx ends.
func (c *Coordinator) Drain(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		c.mu.Lock()
		idle := c.pending == 0
		c.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// OnTracksUpdated enqueues one work item per changed aircraft. It is the
// change-notification callback for the track store and never blocks on
// the workers.
func (c *Coordinator) OnTracksUpdated(ids []string) {
	alg := c.algorithms[c.cfg.Algorithm]
	for _, id := range ids {
		track, ok := c.store.Track(id)
		if !ok {
			c.log.Debug(context.Background(), "change for unknown aircraft", logging.String("aircraft_id", id))
			continue
		}
		if c.cfg.TrackWindow > 0 {
			track = track.Tail(c.cfg.TrackWindow)
		}
		snapshot := deep.MustCopy(track)
		state := c.states.Get(id, alg.NewState)
		c.enqueue(newWorkItem(id, snapshot, c.cfg.Algorithm, state, c.clock.Now()))
	}
}

// Listen feeds change batches from ch into OnTracksUpdated until ch is
// closed or ctx ends.
func (c *Coordinator) Listen(ctx context.Context, ch <-chan []string) {
	for {
		select {
		case <-ctx.Done():
			return
		case ids, ok := <-ch:
			if !ok {
				return
			}
			c.OnTracksUpdated(ids)
		}
	}
}

func (c *Coordinator) enqueue(item *WorkItem) {
	if c.cfg.Ordering == OrderPerAircraft {
		c.mu.Lock()
		if c.active[item.AircraftID] {
			c.backlog[item.AircraftID] = append(c.backlog[item.AircraftID], item)
			c.pending++
			c.mu.Unlock()
			c.metrics.IncEnqueued()
			return
		}
		c.active[item.AircraftID] = true
		c.mu.Unlock()
	}
	c.mu.Lock()
	c.pending++
	c.mu.Unlock()
	if err := c.queue.Add(item); err != nil {
		c.mu.Lock()
		c.pending--
		if c.cfg.Ordering == OrderPerAircraft {
			delete(c.active, item.AircraftID)
		}
		c.mu.Unlock()
		c.log.Debug(context.Background(), "dropping work item", logging.String("aircraft_id", item.AircraftID), logging.Err(err))
		return
	}
	c.metrics.IncEnqueued()
}

// release frees the aircraft's ordering slot, moving its next backlog
// item onto the queue.
func (c *Coordinator) release(aircraftID string) {
	if c.cfg.Ordering != OrderPerAircraft {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	pending := c.backlog[aircraftID]
	if len(pending) == 0 {
		delete(c.active, aircraftID)
		delete(c.backlog, aircraftID)
		return
	}
	next := pending[0]
	pending[0] = nil
	if len(pending) == 1 {
		delete(c.backlog, aircraftID)
	} else {
		c.backlog[aircraftID] = pending[1:]
	}
	if err := c.queue.Add(next); err != nil {
		delete(c.active, aircraftID)
		c.pending -= 1 + len(c.backlog[aircraftID])
		delete(c.backlog, aircraftID)
	}
}

// completeWorkItem is called by a worker when an item is done.
func (c *Coordinator) completeWorkItem(ctx context.Context, item *WorkItem, elapsed time.Duration) {
	c.mu.Lock()
	c.inFlight--
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.pending--
		c.mu.Unlock()
	}()
	// The aircraft's next item is released only once this prediction has
	// been handed off or dropped.
	defer c.release(item.AircraftID)

	kind := item.Kind.String()
	log := c.log.With(logging.String("aircraft_id", item.AircraftID), logging.String("work_item", item.ID))
	switch {
	case item.Err == nil:
		c.metrics.ObservePrediction(kind, item.Prediction.Motion.String(), elapsed)
		c.handoffPrediction(ctx, item.Prediction)
	case errors.Is(item.Err, predict.ErrCorridorMismatch):
		log.Error(ctx, "prediction violated corridor invariant", logging.Err(item.Err))
		c.metrics.IncFailure(kind, "corridor_mismatch")
		c.metrics.ObservePrediction(kind, item.Prediction.Motion.String(), elapsed)
		c.handoffPrediction(ctx, item.Prediction)
	case errors.Is(item.Err, predict.ErrInsufficientData):
		log.Debug(ctx, "track too short for prediction", logging.Err(item.Err))
		c.metrics.IncFailure(kind, "insufficient_data")
	case errors.Is(item.Err, ErrUnknownAlgorithm):
		log.Error(ctx, "work item has no algorithm", logging.Err(item.Err))
		c.metrics.IncFailure(kind, "unknown_algorithm")
	default:
		log.Warn(ctx, "prediction failed", logging.Err(item.Err))
		c.metrics.IncFailure(kind, "error")
	}
}

func (c *Coordinator) handoffPrediction(ctx context.Context, p model.Prediction) {
	select {
	case c.handoff <- p:
		return
	default:
	}
	timer := time.NewTimer(c.cfg.HandoffTimeout)
	defer timer.Stop()
	select {
	case c.handoff <- p:
	case <-timer.C:
		c.log.Warn(ctx, "prediction handoff full, dropping prediction",
			logging.String("aircraft_id", p.AircraftID),
			logging.Duration("timeout", c.cfg.HandoffTimeout))
		c.metrics.IncHandoffDrop()
	}
}

func (c *Coordinator) forward() {
	defer close(c.fwdDone)
	for p := range c.handoff {
		c.sink.SendPrediction(p)
	}
}

// supervise samples the queue every PollInterval. It does not reorder
// anything.
func (c *Coordinator) supervise() {
	defer close(c.superDone)
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopSuper:
			return
		case <-ticker.C:
			var age time.Duration
			if head := c.queue.Peek(); head != nil {
				age = c.clock.Now().Sub(head.EnqueuedAt)
			}
			c.metrics.SetQueueHeadAge(age)
			c.metrics.SetQueueDepth(c.queue.Len())
			c.metrics.SetTrackedAircraft(c.states.Len())
		}
	}
}
