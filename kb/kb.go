package kb

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/brunoga/deep"

	"github.com/signalsfoundry/corridor-predictor/model"
)

// ErrUnknownAircraft is returned for lookups of aircraft the store has
// never seen.
var ErrUnknownAircraft = errors.New("unknown aircraft")

// ErrTrackOrder is returned when a state is older than the latest state
// already stored for its aircraft.
var ErrTrackOrder = model.ErrTrackOrder

// Option configures a KnowledgeBase.
type Option func(*KnowledgeBase)

// WithMaxHistory bounds the number of states retained per aircraft.
// Older states are dropped from the head of the track. Zero or negative
// keeps everything.
func WithMaxHistory(n int) Option {
	return func(kb *KnowledgeBase) { kb.maxHistory = n }
}

// KnowledgeBase is an in-memory, thread-safe store of aircraft tracks.
// Subscribers receive the IDs of aircraft whose track changed.
type KnowledgeBase struct {
	mu sync.RWMutex

	tracks     map[string]model.Track
	maxHistory int

	subs   map[int]func([]string)
	nextID int
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase(opts ...Option) *KnowledgeBase {
	kb := &KnowledgeBase{
		tracks: make(map[string]model.Track),
		subs:   make(map[int]func([]string)),
	}
	for _, opt := range opts {
		opt(kb)
	}
	return kb
}

// AddState appends s to its aircraft's track and notifies subscribers.
func (kb *KnowledgeBase) AddState(s model.AircraftState) error {
	kb.mu.Lock()
	if err := kb.appendLocked(s); err != nil {
		kb.mu.Unlock()
		return err
	}
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	notify(subs, []string{s.AircraftID})
	return nil
}

// ApplyBatch appends every state in states and sends one notification
// covering all aircraft that changed. States that fail validation are
// skipped; their errors are joined into the returned error.
func (kb *KnowledgeBase) ApplyBatch(states []model.AircraftState) error {
	var errs []error
	changed := make(map[string]struct{})

	kb.mu.Lock()
	for _, s := range states {
		if err := kb.appendLocked(s); err != nil {
			errs = append(errs, err)
			continue
		}
		changed[s.AircraftID] = struct{}{}
	}
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	if len(changed) > 0 {
		ids := make([]string, 0, len(changed))
		for id := range changed {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		notify(subs, ids)
	}
	return errors.Join(errs...)
}

func (kb *KnowledgeBase) appendLocked(s model.AircraftState) error {
	if s.AircraftID == "" {
		return errors.New("state has no aircraft id")
	}
	tr := kb.tracks[s.AircraftID]
	if latest, ok := tr.Latest(); ok && s.Time.Before(latest.Time) {
		return fmt.Errorf("%w: aircraft %q state at %s is older than %s",
			ErrTrackOrder, s.AircraftID, s.Time, latest.Time)
	}
	tr = append(tr, s)
	if kb.maxHistory > 0 && len(tr) > kb.maxHistory {
		// Copy down so the dropped head can be collected.
		tr = append(model.Track(nil), tr[len(tr)-kb.maxHistory:]...)
	}
	kb.tracks[s.AircraftID] = tr
	return nil
}

// Track returns an isolated copy of the aircraft's track.
func (kb *KnowledgeBase) Track(id string) (model.Track, bool) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	tr, ok := kb.tracks[id]
	if !ok {
		return nil, false
	}
	return deep.MustCopy(tr), true
}

// Latest returns the most recent state of an aircraft.
func (kb *KnowledgeBase) Latest(id string) (model.AircraftState, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	s, ok := kb.tracks[id].Latest()
	if !ok {
		return model.AircraftState{}, fmt.Errorf("%w: %q", ErrUnknownAircraft, id)
	}
	return s, nil
}

// Aircraft lists the IDs of all known aircraft in sorted order.
func (kb *KnowledgeBase) Aircraft() []string {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	ids := make([]string, 0, len(kb.tracks))
	for id := range kb.tracks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Remove drops an aircraft and its history.
func (kb *KnowledgeBase) Remove(id string) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	if _, ok := kb.tracks[id]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAircraft, id)
	}
	delete(kb.tracks, id)
	return nil
}

// Subscribe registers a callback for track changes. It returns an
// unsubscribe function. Callbacks run on the writer's goroutine, outside
// the store lock, and must not block for long.
func (kb *KnowledgeBase) Subscribe(fn func(ids []string)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	id := kb.nextID
	kb.nextID++
	kb.subs[id] = fn

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		delete(kb.subs, id)
	}
}

func (kb *KnowledgeBase) subscribersLocked() []func([]string) {
	keys := make([]int, 0, len(kb.subs))
	for k := range kb.subs {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	subs := make([]func([]string), 0, len(keys))
	for _, k := range keys {
		subs = append(subs, kb.subs[k])
	}
	return subs
}

// notify runs outside the lock to avoid deadlocks with subscribers that
// read back from the store.
func notify(subs []func([]string), ids []string) {
	for _, sub := range subs {
		sub(append([]string(nil), ids...))
	}
}
