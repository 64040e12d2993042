package timectrl

import (
	"context"
	"sync"
	"time"
)

// SimClock is an interface for accessing playback time. The prediction
// engine and traffic generator depend on it rather than on a concrete
// controller so tests can drive time explicitly.
type SimClock interface {
	// Now returns the current time.
	Now() time.Time
	// After returns a channel that receives the current time once d has
	// elapsed on this clock.
	After(d time.Duration) <-chan time.Time
}

// SystemClock is a SimClock backed by the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time                         { return time.Now() }
func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Mode describes how the TimeController advances time.
type Mode int

const (
	// RealTime advances according to wall-clock time.
	RealTime Mode = iota
	// Accelerated advances Speedup times faster than the wall clock, or
	// as fast as the loop can run when Speedup is not positive.
	Accelerated
)

type waiter struct {
	at time.Time
	ch chan time.Time
}

// TimeController drives playback time and notifies registered listeners
// on every tick. It implements SimClock.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode
	Speedup   float64

	// currentTime tracks the current time. It is updated as the
	// controller advances.
	currentTime time.Time

	listeners []func(time.Time)
	waiters   []waiter
}

// NewTimeController constructs a controller.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	return &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		currentTime: start,
	}
}

// Now returns the current time. Implements SimClock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// After returns a channel that receives the current time once the
// controller has advanced by at least d. Implements SimClock.
func (tc *TimeController) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	tc.mu.Lock()
	defer tc.mu.Unlock()
	at := tc.currentTime.Add(d)
	if d <= 0 {
		ch <- tc.currentTime
		return ch
	}
	tc.waiters = append(tc.waiters, waiter{at: at, ch: ch})
	return ch
}

// SetTime moves the controller to t, firing any due After channels. It
// does not notify listeners.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	tc.currentTime = t
	tc.fireLocked(t)
	tc.mu.Unlock()
}

// AddListener registers a callback invoked on every tick.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

func (tc *TimeController) fireLocked(now time.Time) {
	pending := tc.waiters[:0]
	for _, w := range tc.waiters {
		if !now.Before(w.at) {
			w.ch <- now
			continue
		}
		pending = append(pending, w)
	}
	tc.waiters = pending
}

func (tc *TimeController) interval() time.Duration {
	if tc.Mode == Accelerated {
		if tc.Speedup <= 0 {
			return 0
		}
		return time.Duration(float64(tc.Tick) / tc.Speedup)
	}
	return tc.Tick
}

// Start runs the controller for the specified duration of controller
// time in a separate goroutine; zero runs until ctx is cancelled. It
// returns a channel that is closed when the controller finishes.
func (tc *TimeController) Start(ctx context.Context, duration time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		tc.mu.Lock()
		simTime := tc.StartTime
		tc.currentTime = simTime
		tc.mu.Unlock()

		elapsed := time.Duration(0)

		var tick <-chan time.Time
		if iv := tc.interval(); iv > 0 {
			ticker := time.NewTicker(iv)
			defer ticker.Stop()
			tick = ticker.C
		}

		for {
			if duration > 0 && elapsed >= duration {
				return
			}

			if tick != nil {
				select {
				case <-ctx.Done():
					return
				case <-tick:
				}
			} else if ctx.Err() != nil {
				return
			}
			simTime = simTime.Add(tc.Tick)
			elapsed += tc.Tick

			tc.mu.Lock()
			tc.currentTime = simTime
			tc.fireLocked(simTime)
			listeners := append([]func(time.Time){}, tc.listeners...)
			tc.mu.Unlock()

			for _, fn := range listeners {
				fn(simTime)
			}
		}
	}()
	return done
}
