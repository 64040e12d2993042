package engine

import (
	"sync"

	"github.com/signalsfoundry/corridor-predictor/internal/predict"
)

// StateStore keeps the continuity state of every aircraft the
// coordinator has seen. A state is allocated once and handed to every
// later work item for that aircraft.
type StateStore struct {
	mu     sync.Mutex
	states map[string]*predict.State
}

// NewStateStore returns an empty store.
func NewStateStore() *StateStore {
	return &StateStore{states: make(map[string]*predict.State)}
}

// Get returns the state for id, allocating it with alloc on first sight.
func (s *StateStore) Get(id string, alloc func() *predict.State) *predict.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[id]
	if !ok {
		st = alloc()
		s.states[id] = st
	}
	return st
}

// Lookup returns the state for id without allocating.
func (s *StateStore) Lookup(id string) (*predict.State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[id]
	return st, ok
}

// Forget drops the state of an aircraft that left the picture.
func (s *StateStore) Forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, id)
}

// Len is the number of tracked aircraft.
func (s *StateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}
