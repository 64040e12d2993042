package engine

import "errors"

var (
	// ErrQueueClosed is returned by WorkQueue operations after Close. For
	// workers it is the normal shutdown path.
	ErrQueueClosed = errors.New("work queue closed")

	// ErrUnknownAlgorithm is returned when no algorithm is registered for
	// a work item's kind.
	ErrUnknownAlgorithm = errors.New("no algorithm registered for kind")

	// ErrAlreadyStarted is returned by Start on a running or stopped
	// coordinator.
	ErrAlreadyStarted = errors.New("coordinator already started")
)
