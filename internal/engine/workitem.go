package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/signalsfoundry/corridor-predictor/internal/predict"
	"github.com/signalsfoundry/corridor-predictor/model"
)

// Status is the lifecycle stage of a work item.
type Status int

const (
	StatusQueued Status = iota
	StatusStarted
	StatusCompleted
)

func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusStarted:
		return "started"
	case StatusCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// WorkItem is one prediction request: an isolated track snapshot for an
// aircraft plus the handle to that aircraft's continuity state. A worker
// owns the item from Take until it reports completion.
type WorkItem struct {
	ID         string
	AircraftID string
	Track      model.Track
	Kind       predict.Kind
	State      *predict.State

	Status      Status
	WorkerID    int
	EnqueuedAt  time.Time
	StartedAt   time.Time
	CompletedAt time.Time

	Prediction model.Prediction
	Err        error
}

func newWorkItem(aircraftID string, snapshot model.Track, kind predict.Kind, state *predict.State, now time.Time) *WorkItem {
	return &WorkItem{
		ID:         uuid.NewString(),
		AircraftID: aircraftID,
		Track:      snapshot,
		Kind:       kind,
		State:      state,
		Status:     StatusQueued,
		EnqueuedAt: now,
	}
}

func (w *WorkItem) start(worker int, at time.Time) {
	w.Status = StatusStarted
	w.WorkerID = worker
	w.StartedAt = at
}

func (w *WorkItem) complete(pred model.Prediction, err error, at time.Time) {
	w.Status = StatusCompleted
	w.CompletedAt = at
	w.Prediction = pred
	w.Err = err
}
