// Package feed publishes completed predictions to downstream consumers:
// an in-process Broadcaster that fans out to subscribers and a gRPC
// service exposing it over the network.
package feed

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/signalsfoundry/corridor-predictor/internal/logging"
	"github.com/signalsfoundry/corridor-predictor/model"
)

const (
	defaultCacheSize  = 4096
	defaultBufferSize = 64
)

// MetricsRecorder receives feed measurements.
type MetricsRecorder interface {
	SetSubscribers(n int)
	IncPublished()
	IncDropped()
}

type noopMetrics struct{}

func (noopMetrics) SetSubscribers(int) {}
func (noopMetrics) IncPublished()      {}
func (noopMetrics) IncDropped()        {}

// Option customises a Broadcaster.
type Option func(*Broadcaster)

// WithCacheSize bounds the number of aircraft whose latest prediction is
// kept for replay.
func WithCacheSize(n int) Option {
	return func(b *Broadcaster) { b.cacheSize = n }
}

// WithBufferSize sets the per-subscriber channel capacity.
func WithBufferSize(n int) Option {
	return func(b *Broadcaster) { b.bufferSize = n }
}

func WithLogger(l logging.Logger) Option {
	return func(b *Broadcaster) {
		if l != nil {
			b.log = l
		}
	}
}

func WithMetrics(m MetricsRecorder) Option {
	return func(b *Broadcaster) {
		if m != nil {
			b.metrics = m
		}
	}
}

// Broadcaster fans predictions out to subscribers without ever blocking
// the publisher. A subscriber whose buffer is full misses the
// prediction. The latest prediction per aircraft is cached so new
// subscribers can be brought up to date.
type Broadcaster struct {
	cacheSize  int
	bufferSize int
	log        logging.Logger
	metrics    MetricsRecorder

	latest *lru.Cache[string, model.Prediction]

	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool
}

// NewBroadcaster returns an open broadcaster.
func NewBroadcaster(opts ...Option) (*Broadcaster, error) {
	b := &Broadcaster{
		cacheSize:  defaultCacheSize,
		bufferSize: defaultBufferSize,
		log:        logging.Noop(),
		metrics:    noopMetrics{},
		subs:       make(map[string]*Subscription),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.bufferSize < 1 {
		b.bufferSize = 1
	}
	cache, err := lru.New[string, model.Prediction](b.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("feed cache: %w", err)
	}
	b.latest = cache
	return b, nil
}

// Subscription is one consumer of the feed. C is closed when the
// subscription or the broadcaster is closed.
type Subscription struct {
	ID string
	C  <-chan model.Prediction

	ch      chan model.Prediction
	filter  map[string]struct{}
	b       *Broadcaster
	dropped atomic.Uint64
}

// Dropped is the number of predictions this subscriber missed because
// its buffer was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() { s.b.remove(s.ID) }

func (s *Subscription) wants(aircraftID string) bool {
	if len(s.filter) == 0 {
		return true
	}
	_, ok := s.filter[aircraftID]
	return ok
}

// offer delivers p without blocking. Callers hold the broadcaster lock.
func (s *Subscription) offer(p model.Prediction) bool {
	select {
	case s.ch <- p:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Subscribe registers a consumer for the given aircraft, or for all
// aircraft when ids is empty. With replay the cached latest prediction of
// each matching aircraft is queued first, as far as the buffer allows.
func (b *Broadcaster) Subscribe(ids []string, replay bool) (*Subscription, error) {
	ch := make(chan model.Prediction, b.bufferSize)
	sub := &Subscription{ID: uuid.NewString(), C: ch, ch: ch, b: b}
	if len(ids) > 0 {
		sub.filter = make(map[string]struct{}, len(ids))
		for _, id := range ids {
			sub.filter[id] = struct{}{}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrFeedClosed
	}
	if replay {
		for _, p := range b.latest.Values() {
			if sub.wants(p.AircraftID) && !sub.offer(p) {
				break
			}
		}
	}
	b.subs[sub.ID] = sub
	b.metrics.SetSubscribers(len(b.subs))
	b.log.Debug(context.Background(), "feed subscriber added",
		logging.String("subscriber", sub.ID),
		logging.Int("aircraft_filter", len(ids)),
		logging.Any("replay", replay))
	return sub, nil
}

func (b *Broadcaster) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(sub.ch)
	b.metrics.SetSubscribers(len(b.subs))
	if n := sub.Dropped(); n > 0 {
		b.log.Info(context.Background(), "feed subscriber removed after drops",
			logging.String("subscriber", id), logging.Any("dropped", n))
	}
}

// SendPrediction caches p and offers it to every matching subscriber.
// Predictions published after Close are discarded.
func (b *Broadcaster) SendPrediction(p model.Prediction) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	b.latest.Add(p.AircraftID, p)
	b.metrics.IncPublished()
	for _, sub := range b.subs {
		if !sub.wants(p.AircraftID) {
			continue
		}
		if !sub.offer(p) {
			b.metrics.IncDropped()
		}
	}
}

// Latest returns the most recent prediction published for an aircraft.
func (b *Broadcaster) Latest(aircraftID string) (model.Prediction, error) {
	p, ok := b.latest.Get(aircraftID)
	if !ok {
		return model.Prediction{}, fmt.Errorf("%w: no prediction for %q", ErrNotFound, aircraftID)
	}
	return p, nil
}

// Aircraft lists the aircraft with a cached prediction, sorted.
func (b *Broadcaster) Aircraft() []string {
	ids := b.latest.Keys()
	sort.Strings(ids)
	return ids
}

// Subscribers is the current subscriber count.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close ends every subscription and rejects new ones.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
	b.metrics.SetSubscribers(0)
}
