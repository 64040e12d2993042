package traffic

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/corridor-predictor/core"
	"github.com/signalsfoundry/corridor-predictor/kb"
	"github.com/signalsfoundry/corridor-predictor/timectrl"
)

var (
	ref = core.FromDegrees(0, 48.35, 11.78)
	t0  = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
)

func projection(t *testing.T) *core.GnomonicProjection {
	t.Helper()
	p, err := core.NewGnomonicProjection(ref)
	require.NoError(t, err)
	return p
}

func TestStraightFlightDistanceAndSpeed(t *testing.T) {
	proj := projection(t)
	f := NewFlight("S1", proj, ref.WithAltitude(10000), t0, 90, 200, 5, nil)

	start, ok := f.StateAt(t0)
	require.True(t, ok)
	later, ok := f.StateAt(t0.Add(60 * time.Second))
	require.True(t, ok)

	assert.InDelta(t, 12000, start.Position.ArcDistance(later.Position), 30)
	assert.InDelta(t, 90, start.Position.BearingTo(later.Position), 0.5)
	assert.InDelta(t, 10300, later.Position.Altitude, 1e-6)
	assert.InDelta(t, 200, later.Velocity.ENU(later.Position).Flat().Norm(), 1)
	assert.InDelta(t, 5, later.Velocity.DR, 1e-12)

	_, ok = f.StateAt(t0.Add(-time.Second))
	assert.False(t, ok, "not airborne before start")
	_, ends := f.Ends()
	assert.False(t, ends)
}

func TestFullTurnReturnsToStart(t *testing.T) {
	proj := projection(t)
	f := NewFlight("T1", proj, ref.WithAltitude(3000), t0, 0, 100, 0, []Leg{
		{Duration: 30 * time.Second},
		{Duration: 120 * time.Second, TurnRate: 3},
		{Duration: 30 * time.Second},
	})

	entry, _ := f.StateAt(t0.Add(30 * time.Second))
	exit, _ := f.StateAt(t0.Add(150 * time.Second))
	assert.Less(t, entry.Position.ArcDistance(exit.Position), 1.0)

	// A right turn from north passes east of the entry point.
	half, _ := f.StateAt(t0.Add(90 * time.Second))
	radius := 100 / (3 * math.Pi / 180)
	assert.InDelta(t, 2*radius, entry.Position.ArcDistance(half.Position), 10)
	assert.InDelta(t, 90, entry.Position.BearingTo(half.Position), 1)

	end, ok := f.Ends()
	require.True(t, ok)
	assert.True(t, end.Equal(t0.Add(180*time.Second)))
	_, ok = f.StateAt(end.Add(time.Second))
	assert.False(t, ok, "flight gone after its last leg")
}

const scenarioJSON = `{
  "name": "test",
  "reference": {"lat_deg": 48.35, "lon_deg": 11.78},
  "start": "2024-06-01T10:00:00Z",
  "duration": "30s",
  "interval": "2s",
  "aircraft": [
    {"id": "B", "position": {"lat_deg": 48.4, "lon_deg": 11.8, "alt_m": 5000},
     "heading_deg": 270, "speed_mps": 150, "start_after": "10s"},
    {"id": "A", "position": {"lat_deg": 48.3, "lon_deg": 11.7, "alt_m": 4000},
     "heading_deg": 0, "speed_mps": 120, "legs": [{"duration": "20s", "turn_rate_deg_s": -2}]}
  ]
}`

func TestLoadScenario(t *testing.T) {
	sc, err := LoadScenario(strings.NewReader(scenarioJSON), time.Now())
	require.NoError(t, err)

	assert.Equal(t, "test", sc.Name)
	assert.True(t, sc.Start.Equal(t0))
	assert.Equal(t, 30*time.Second, sc.Duration)
	assert.Equal(t, 2*time.Second, sc.Interval)
	require.Len(t, sc.Flights, 2)
	assert.Equal(t, "A", sc.Flights[0].ID)

	assert.Len(t, sc.StatesAt(t0), 1)
	assert.Len(t, sc.StatesAt(t0.Add(10*time.Second)), 2)
	assert.Len(t, sc.StatesAt(t0.Add(25*time.Second)), 1)

	end, ok := sc.End()
	require.True(t, ok)
	assert.True(t, end.Equal(t0.Add(30*time.Second)))
}

func TestLoadScenarioErrors(t *testing.T) {
	cases := map[string]string{
		"bad json":      `{`,
		"unknown field": `{"aircraft": [], "bogus": 1}`,
		"empty id":      `{"aircraft": [{"speed_mps": 1}]}`,
		"duplicate id":  `{"aircraft": [{"id": "A", "speed_mps": 1}, {"id": "A", "speed_mps": 1}]}`,
		"no speed":      `{"aircraft": [{"id": "A"}]}`,
		"bad leg":       `{"aircraft": [{"id": "A", "speed_mps": 1, "legs": [{"duration": "-1s"}]}]}`,
		"bad duration":  `{"duration": "soon"}`,
		"bad reference": `{"reference": {"lat_deg": 120}}`,
		"other side":    `{"aircraft": [{"id": "A", "speed_mps": 1, "position": {"lon_deg": 180}}]}`,
		"zero interval": `{"interval": "0s"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadScenario(strings.NewReader(body), t0)
			assert.Error(t, err)
		})
	}
}

func TestDefaultScenarioIsPlayable(t *testing.T) {
	sc := DefaultScenario(t0)
	assert.Len(t, sc.StatesAt(sc.Start), 3, "late arrival not yet airborne")
	assert.Len(t, sc.StatesAt(sc.Start.Add(5*time.Minute)), 4)
}

func TestGeneratorPlaysIntoKnowledgeBase(t *testing.T) {
	sc, err := LoadScenario(strings.NewReader(scenarioJSON), time.Now())
	require.NoError(t, err)

	store := kb.NewKnowledgeBase()
	var batches int
	store.Subscribe(func(ids []string) { batches++ })

	g := NewGenerator(sc, store, timectrl.Accelerated, 0, nil)
	require.NoError(t, g.Run(context.Background()))

	// 16 samples at 0..30s every 2s; A flies 0..20s, B from 10s.
	trackA, ok := store.Track("A")
	require.True(t, ok)
	trackB, ok := store.Track("B")
	require.True(t, ok)
	assert.Len(t, trackA, 11)
	assert.Len(t, trackB, 11)
	assert.Equal(t, int64(22), g.Published())
	assert.Zero(t, g.Rejected())
	assert.Equal(t, 16, batches)
	assert.True(t, g.Clock().Now().Equal(t0.Add(30*time.Second)))
	require.NoError(t, trackA.Validate())
}
