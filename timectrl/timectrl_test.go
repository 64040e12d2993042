package timectrl

import (
	"context"
	"sync"
	"testing"
	"time"
)

var _ SimClock = (*TimeController)(nil)
var _ SimClock = SystemClock{}

func TestTimeControllerSetTime(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, time.Second, RealTime)

	newNow := start.Add(42 * time.Second)
	tc.SetTime(newNow)

	if got := tc.Now(); !got.Equal(newNow) {
		t.Fatalf("Now() = %v, want %v", got, newNow)
	}
}

func TestTimeControllerStartUpdatesNow(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, 5*time.Millisecond, RealTime)

	done := tc.Start(context.Background(), 15*time.Millisecond)
	<-done

	expected := start.Add(15 * time.Millisecond)
	if got := tc.Now(); !got.Equal(expected) {
		t.Fatalf("Now() = %v, want %v", got, expected)
	}
}

func TestTimeControllerAcceleratedListeners(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, time.Second, Accelerated)

	var mu sync.Mutex
	var ticks []time.Time
	tc.AddListener(func(now time.Time) {
		mu.Lock()
		ticks = append(ticks, now)
		mu.Unlock()
	})

	<-tc.Start(context.Background(), 10*time.Second)

	mu.Lock()
	defer mu.Unlock()
	if len(ticks) != 10 {
		t.Fatalf("got %d ticks, want 10", len(ticks))
	}
	if !ticks[9].Equal(start.Add(10 * time.Second)) {
		t.Fatalf("last tick %v, want start+10s", ticks[9])
	}
}

func TestTimeControllerStopsOnCancel(t *testing.T) {
	tc := NewTimeController(time.Now(), time.Millisecond, RealTime)
	ctx, cancel := context.WithCancel(context.Background())
	done := tc.Start(ctx, 0)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("controller did not stop after cancel")
	}
}

func TestTimeControllerAfterFiresOnAdvance(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, time.Second, RealTime)

	ch := tc.After(30 * time.Second)
	tc.SetTime(start.Add(10 * time.Second))
	select {
	case <-ch:
		t.Fatalf("After fired early")
	default:
	}

	tc.SetTime(start.Add(30 * time.Second))
	select {
	case got := <-ch:
		if !got.Equal(start.Add(30 * time.Second)) {
			t.Fatalf("After delivered %v", got)
		}
	default:
		t.Fatalf("After did not fire once time was reached")
	}
}
