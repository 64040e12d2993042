package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/signalsfoundry/corridor-predictor/core"
	"github.com/signalsfoundry/corridor-predictor/internal/predict"
	"github.com/signalsfoundry/corridor-predictor/kb"
	"github.com/signalsfoundry/corridor-predictor/model"
)

var t0 = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

// stubAlgorithm echoes the latest state of the track back as a one-point
// corridor. If gate is set, each call blocks until it receives. err is
// returned alongside the prediction.
type stubAlgorithm struct {
	kind  predict.Kind
	gate  chan struct{}
	calls chan model.Track
	err   error

	mu      sync.Mutex
	states  int
	active  map[string]int
	overlap bool
}

func newStub() *stubAlgorithm {
	return &stubAlgorithm{kind: predict.KindPassthrough, calls: make(chan model.Track, 1024), active: map[string]int{}}
}

func (s *stubAlgorithm) Kind() predict.Kind  { return s.kind }
func (s *stubAlgorithm) MinTrackLength() int { return 1 }

func (s *stubAlgorithm) NewState() *predict.State {
	s.mu.Lock()
	s.states++
	s.mu.Unlock()
	return predict.NewState()
}

func (s *stubAlgorithm) MakePrediction(ctx context.Context, track model.Track, _ *predict.State) (model.Prediction, error) {
	latest, ok := track.Latest()
	if !ok {
		return model.Prediction{}, &predict.InsufficientDataError{Kind: s.kind, Required: 1}
	}
	s.mu.Lock()
	s.active[latest.AircraftID]++
	if s.active[latest.AircraftID] > 1 {
		s.overlap = true
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.active[latest.AircraftID]--
		s.mu.Unlock()
	}()

	s.calls <- track
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
		}
	}
	path := []model.AircraftState{latest}
	return model.Prediction{
		AircraftID:  latest.AircraftID,
		GeneratedAt: latest.Time,
		Origin:      latest,
		Left:        path,
		Centre:      path,
		Right:       path,
		Motion:      model.MotionStraight,
	}, s.err
}

type collectSink struct {
	mu    sync.Mutex
	preds []model.Prediction
	block chan struct{}
}

func (c *collectSink) SendPrediction(p model.Prediction) {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	c.preds = append(c.preds, p)
	c.mu.Unlock()
}

func (c *collectSink) snapshot() []model.Prediction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Prediction(nil), c.preds...)
}

type countingMetrics struct {
	noopMetrics
	mu       sync.Mutex
	enqueued int
	drops    int
	failures map[string]int
}

func (m *countingMetrics) IncEnqueued() {
	m.mu.Lock()
	m.enqueued++
	m.mu.Unlock()
}

func (m *countingMetrics) IncHandoffDrop() {
	m.mu.Lock()
	m.drops++
	m.mu.Unlock()
}

func (m *countingMetrics) IncFailure(kind, reason string) {
	m.mu.Lock()
	if m.failures == nil {
		m.failures = map[string]int{}
	}
	m.failures[reason]++
	m.mu.Unlock()
}

func (m *countingMetrics) get() (enqueued, drops int, failures map[string]int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := map[string]int{}
	for k, v := range m.failures {
		f[k] = v
	}
	return m.enqueued, m.drops, f
}

// slowMetrics stalls in ObservePrediction, between a prediction
// finishing and its handoff.
type slowMetrics struct {
	noopMetrics
	n atomic.Int64
}

func (m *slowMetrics) ObservePrediction(string, string, time.Duration) {
	time.Sleep(time.Duration(m.n.Add(1)%4) * 100 * time.Microsecond)
}

func state(id string, sec int) model.AircraftState {
	return model.AircraftState{
		AircraftID: id,
		Time:       t0.Add(time.Duration(sec) * time.Second),
		Position:   core.FromDegrees(10000, 48+float64(sec)*0.001, 11),
		Velocity:   core.SphericalVelocity{DLat: 1e-5},
	}
}

func newTestCoordinator(t *testing.T, cfg Config, alg *stubAlgorithm, sink PredictionSink, opts ...Option) (*Coordinator, *kb.KnowledgeBase) {
	t.Helper()
	store := kb.NewKnowledgeBase()
	cfg.Algorithm = alg.Kind()
	c, err := NewCoordinator(cfg, store, sink, NewRegistry(alg), opts...)
	require.NoError(t, err)
	return c, store
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestNewCoordinatorRejectsMissingAlgorithm(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Algorithm = predict.KindCurveFit
	_, err := NewCoordinator(cfg, kb.NewKnowledgeBase(), SinkFunc(func(model.Prediction) {}), NewRegistry(newStub()))
	require.ErrorIs(t, err, ErrUnknownAlgorithm)
}

func TestCoordinatorDeliversPredictions(t *testing.T) {
	alg := newStub()
	sink := &collectSink{}
	metrics := &countingMetrics{}
	c, store := newTestCoordinator(t, DefaultConfig(), alg, sink, WithMetrics(metrics))
	unsubscribe := store.Subscribe(c.OnTracksUpdated)
	defer unsubscribe()

	require.NoError(t, c.Start(context.Background()))
	require.ErrorIs(t, c.Start(context.Background()), ErrAlreadyStarted)

	require.NoError(t, store.AddState(state("A", 0)))
	require.NoError(t, store.AddState(state("B", 0)))
	waitFor(t, "two predictions", func() bool { return len(sink.snapshot()) == 2 })
	require.NoError(t, c.Stop())

	ids := map[string]bool{}
	for _, p := range sink.snapshot() {
		ids[p.AircraftID] = true
		assert.True(t, p.Consistent())
	}
	assert.Equal(t, map[string]bool{"A": true, "B": true}, ids)
	enq, _, _ := metrics.get()
	assert.Equal(t, 2, enq)
	assert.False(t, c.Stats().Running)
}

func TestCoordinatorAllocatesStateOncePerAircraft(t *testing.T) {
	alg := newStub()
	sink := &collectSink{}
	c, store := newTestCoordinator(t, DefaultConfig(), alg, sink)
	store.Subscribe(c.OnTracksUpdated)
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.AddState(state("A", i)))
	}
	waitFor(t, "five predictions", func() bool { return len(sink.snapshot()) == 5 })

	first, ok := c.States().Lookup("A")
	require.True(t, ok)
	require.NoError(t, store.AddState(state("A", 5)))
	waitFor(t, "sixth prediction", func() bool { return len(sink.snapshot()) == 6 })
	again, _ := c.States().Lookup("A")

	assert.Same(t, first, again)
	alg.mu.Lock()
	defer alg.mu.Unlock()
	assert.Equal(t, 1, alg.states)
}

func TestCoordinatorPerAircraftOrdering(t *testing.T) {
	alg := newStub()
	sink := &collectSink{}
	cfg := DefaultConfig()
	cfg.Workers = 4
	c, store := newTestCoordinator(t, cfg, alg, sink)
	store.Subscribe(c.OnTracksUpdated)
	require.NoError(t, c.Start(context.Background()))

	const n = 40
	for i := 0; i < n; i++ {
		require.NoError(t, store.AddState(state("A", i)))
	}
	waitFor(t, "all predictions", func() bool { return len(sink.snapshot()) == n })
	require.NoError(t, c.Stop())

	preds := sink.snapshot()
	for i := 1; i < len(preds); i++ {
		assert.True(t, preds[i].GeneratedAt.After(preds[i-1].GeneratedAt), "prediction %d out of order", i)
	}
	alg.mu.Lock()
	defer alg.mu.Unlock()
	assert.False(t, alg.overlap, "two predictions for one aircraft ran concurrently")
}

func TestCoordinatorSnapshotIsolation(t *testing.T) {
	alg := newStub()
	alg.gate = make(chan struct{})
	sink := &collectSink{}
	c, store := newTestCoordinator(t, DefaultConfig(), alg, sink)
	store.Subscribe(c.OnTracksUpdated)
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	require.NoError(t, store.AddState(state("A", 0)))
	var seen model.Track
	select {
	case seen = <-alg.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("prediction never started")
	}
	// The store keeps growing while the worker holds its snapshot.
	require.NoError(t, store.AddState(state("A", 1)))
	require.NoError(t, store.AddState(state("A", 2)))

	require.Len(t, seen, 1)
	assert.True(t, seen[0].Time.Equal(t0))
	close(alg.gate)
	waitFor(t, "three predictions", func() bool { return len(sink.snapshot()) == 3 })
}

func TestCoordinatorTrackWindow(t *testing.T) {
	alg := newStub()
	sink := &collectSink{}
	cfg := DefaultConfig()
	cfg.TrackWindow = 3
	c, store := newTestCoordinator(t, cfg, alg, sink)

	for i := 0; i < 10; i++ {
		require.NoError(t, store.AddState(state("A", i)))
	}
	c.OnTracksUpdated([]string{"A", "missing"})
	require.Equal(t, 1, c.Queue().Len())
	item := c.Queue().Peek()
	require.Len(t, item.Track, 3)
	assert.True(t, item.Track[2].Time.Equal(t0.Add(9*time.Second)))
	assert.Equal(t, StatusQueued, item.Status)
	assert.NotEmpty(t, item.ID)
}

func TestCoordinatorHandoffDropsWhenFull(t *testing.T) {
	alg := newStub()
	sink := &collectSink{block: make(chan struct{})}
	metrics := &countingMetrics{}
	cfg := DefaultConfig()
	cfg.HandoffBuffer = 1
	cfg.HandoffTimeout = 50 * time.Millisecond
	cfg.Ordering = OrderUnordered
	c, store := newTestCoordinator(t, cfg, alg, sink, WithMetrics(metrics))
	store.Subscribe(c.OnTracksUpdated)
	require.NoError(t, c.Start(context.Background()))

	// One prediction blocks in the sink, one fills the buffer, the rest
	// are dropped.
	for i := 0; i < 6; i++ {
		require.NoError(t, store.AddState(state("A", i)))
	}
	waitFor(t, "drops", func() bool {
		_, drops, _ := metrics.get()
		return drops == 4
	})
	close(sink.block)
	require.NoError(t, c.Stop())
	assert.Len(t, sink.snapshot(), 2)
}

func TestCoordinatorCountsInsufficientData(t *testing.T) {
	cfg := predict.DefaultConfig()
	cfg.Reference = core.FromDegrees(0, 48, 11)
	alg, err := predict.New(predict.KindCurveFit, cfg)
	require.NoError(t, err)

	metrics := &countingMetrics{}
	sink := &collectSink{}
	ecfg := DefaultConfig()
	ecfg.Algorithm = predict.KindCurveFit
	store := kb.NewKnowledgeBase()
	c, err := NewCoordinator(ecfg, store, sink, NewRegistry(alg), WithMetrics(metrics))
	require.NoError(t, err)
	store.Subscribe(c.OnTracksUpdated)
	require.NoError(t, c.Start(context.Background()))

	require.NoError(t, store.AddState(state("A", 0)))
	waitFor(t, "failure", func() bool {
		_, _, f := metrics.get()
		return f["insufficient_data"] == 1
	})
	require.NoError(t, c.Stop())
	assert.Empty(t, sink.snapshot())
}

func TestCoordinatorStopWaitsForInFlight(t *testing.T) {
	alg := newStub()
	alg.gate = make(chan struct{})
	sink := &collectSink{}
	c, store := newTestCoordinator(t, DefaultConfig(), alg, sink)
	store.Subscribe(c.OnTracksUpdated)
	require.NoError(t, c.Start(context.Background()))

	require.NoError(t, store.AddState(state("A", 0)))
	<-alg.calls

	stopped := make(chan error)
	go func() { stopped <- c.Stop() }()
	select {
	case <-stopped:
		t.Fatal("Stop returned while a prediction was in flight")
	case <-time.After(30 * time.Millisecond):
	}
	close(alg.gate)
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	// The in-flight prediction completed and was delivered.
	assert.Len(t, sink.snapshot(), 1)

	// Later updates are ignored.
	require.NoError(t, store.AddState(state("A", 1)))
	assert.Len(t, sink.snapshot(), 1)
	assert.NoError(t, c.Stop())
}

func TestCoordinatorListen(t *testing.T) {
	alg := newStub()
	sink := &collectSink{}
	c, store := newTestCoordinator(t, DefaultConfig(), alg, sink)
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	require.NoError(t, store.AddState(state("A", 0)))
	ch := make(chan []string, 1)
	done := make(chan struct{})
	go func() {
		c.Listen(context.Background(), ch)
		close(done)
	}()
	ch <- []string{"A"}
	close(ch)
	<-done
	waitFor(t, "prediction", func() bool { return len(sink.snapshot()) == 1 })
}

func TestCoordinatorStartCancelledContext(t *testing.T) {
	alg := newStub()
	c, _ := newTestCoordinator(t, DefaultConfig(), alg, &collectSink{})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Start(ctx))
	cancel()
	err := c.Stop()
	assert.False(t, errors.Is(err, context.Canceled), "workers should exit cleanly: %v", err)
}

func TestCoordinatorDrain(t *testing.T) {
	alg := newStub()
	sink := &collectSink{}
	cfg := DefaultConfig()
	cfg.Workers = 3
	c, store := newTestCoordinator(t, cfg, alg, sink)
	unsubscribe := store.Subscribe(c.OnTracksUpdated)
	defer unsubscribe()
	require.NoError(t, c.Start(context.Background()))

	for sec := 0; sec < 10; sec++ {
		require.NoError(t, store.AddState(state("A", sec)))
		if sec%2 == 0 {
			require.NoError(t, store.AddState(state("B", sec)))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, c.Drain(ctx))
	st := c.Stats()
	assert.Zero(t, st.Pending)
	assert.Zero(t, st.Queued)
	assert.Zero(t, st.Backlogged)

	require.NoError(t, c.Stop())
	assert.Len(t, sink.snapshot(), 15)
}

func TestCoordinatorDrainHonoursContext(t *testing.T) {
	alg := newStub()
	alg.gate = make(chan struct{})
	c, store := newTestCoordinator(t, DefaultConfig(), alg, &collectSink{})
	unsubscribe := store.Subscribe(c.OnTracksUpdated)
	defer unsubscribe()
	require.NoError(t, c.Start(context.Background()))

	require.NoError(t, store.AddState(state("A", 0)))
	<-alg.calls

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Drain(ctx), context.DeadlineExceeded)

	close(alg.gate)
	require.NoError(t, c.Stop())
}

func TestCoordinatorRecordsPredictionSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	alg := newStub()
	sink := &collectSink{}
	c, store := newTestCoordinator(t, DefaultConfig(), alg, sink, WithTracerProvider(tp))
	store.Subscribe(c.OnTracksUpdated)
	require.NoError(t, c.Start(context.Background()))

	require.NoError(t, store.AddState(state("A", 0)))
	waitFor(t, "prediction", func() bool { return len(sink.snapshot()) == 1 })
	require.NoError(t, c.Stop())

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "predict/"+predict.KindPassthrough.String(), span.Name())

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range span.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, "A", attrs["aircraft_id"].AsString())
	assert.Equal(t, int64(1), attrs["track_len"].AsInt64())
	assert.Equal(t, model.MotionStraight.String(), attrs["motion"].AsString())
	assert.NotEqual(t, codes.Error, span.Status().Code)
}

func TestCoordinatorPerAircraftOrderingWithSlowRecorder(t *testing.T) {
	alg := newStub()
	sink := &collectSink{}
	cfg := DefaultConfig()
	cfg.Workers = 8
	c, store := newTestCoordinator(t, cfg, alg, sink, WithMetrics(&slowMetrics{}))
	store.Subscribe(c.OnTracksUpdated)
	require.NoError(t, c.Start(context.Background()))

	const n = 100
	for i := 0; i < n; i++ {
		require.NoError(t, store.AddState(state("A", i)))
		require.NoError(t, store.AddState(state("B", i)))
	}
	require.NoError(t, c.Drain(context.Background()))
	require.NoError(t, c.Stop())

	preds := sink.snapshot()
	require.Len(t, preds, 2*n)
	last := map[string]time.Time{}
	for i, p := range preds {
		if prev, ok := last[p.AircraftID]; ok {
			assert.True(t, p.GeneratedAt.After(prev), "prediction %d for %s delivered out of order", i, p.AircraftID)
		}
		last[p.AircraftID] = p.GeneratedAt
	}
}

func TestCoordinatorStopAbandonsQueuedItems(t *testing.T) {
	alg := newStub()
	alg.gate = make(chan struct{})
	sink := &collectSink{}
	cfg := DefaultConfig()
	cfg.Workers = 1
	c, store := newTestCoordinator(t, cfg, alg, sink)
	store.Subscribe(c.OnTracksUpdated)
	require.NoError(t, c.Start(context.Background()))

	require.NoError(t, store.AddState(state("A", 0)))
	require.NoError(t, store.AddState(state("B", 0)))
	require.NoError(t, store.AddState(state("C", 0)))
	<-alg.calls
	require.Equal(t, 2, c.Queue().Len())

	stopped := make(chan error)
	go func() { stopped <- c.Stop() }()
	waitFor(t, "stop signal", func() bool { return !c.Stats().Running })
	close(alg.gate)

	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	preds := sink.snapshot()
	require.Len(t, preds, 1)
	assert.Equal(t, "A", preds[0].AircraftID)
	assert.Equal(t, 2, c.Queue().Len())
	assert.Len(t, alg.calls, 0)
}

func TestCoordinatorDeliversMismatchedCorridor(t *testing.T) {
	alg := newStub()
	alg.err = fmt.Errorf("%w: left=1 centre=1 right=2", predict.ErrCorridorMismatch)
	sink := &collectSink{}
	metrics := &countingMetrics{}
	c, store := newTestCoordinator(t, DefaultConfig(), alg, sink, WithMetrics(metrics))
	store.Subscribe(c.OnTracksUpdated)
	require.NoError(t, c.Start(context.Background()))

	require.NoError(t, store.AddState(state("A", 0)))
	waitFor(t, "prediction", func() bool { return len(sink.snapshot()) == 1 })
	require.NoError(t, c.Stop())

	assert.Equal(t, "A", sink.snapshot()[0].AircraftID)
	_, _, failures := metrics.get()
	assert.Equal(t, map[string]int{"corridor_mismatch": 1}, failures)
}
