package traffic

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/signalsfoundry/corridor-predictor/core"
	"github.com/signalsfoundry/corridor-predictor/model"
)

// Scenario is a loaded set of flights sharing one projection reference.
type Scenario struct {
	Name      string
	Reference core.GeographicCoordinate
	Start     time.Time
	Duration  time.Duration
	Interval  time.Duration
	Flights   []*Flight
}

// internal JSON shapes, unexported so the file format can evolve.
type scenarioJSON struct {
	Name      string         `json:"name"`
	Reference positionJSON   `json:"reference"`
	Start     string         `json:"start"`    // RFC 3339; empty means now
	Duration  string         `json:"duration"` // Go duration
	Interval  string         `json:"interval"` // sample spacing, default 1s
	Aircraft  []aircraftJSON `json:"aircraft"`
}

type positionJSON struct {
	LatDeg float64 `json:"lat_deg"`
	LonDeg float64 `json:"lon_deg"`
	AltM   float64 `json:"alt_m"`
}

type aircraftJSON struct {
	ID         string       `json:"id"`
	Position   positionJSON `json:"position"`
	HeadingDeg float64      `json:"heading_deg"`
	SpeedMPS   float64      `json:"speed_mps"`
	ClimbMPS   float64      `json:"climb_mps"`
	StartAfter string       `json:"start_after"`
	Legs       []legJSON    `json:"legs"`
}

type legJSON struct {
	Duration string  `json:"duration"`
	TurnRate float64 `json:"turn_rate_deg_s"`
}

// LoadScenarioFile reads a JSON scenario from path.
func LoadScenarioFile(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("LoadScenarioFile: %w", err)
	}
	defer f.Close()
	return LoadScenario(f, time.Now())
}

// LoadScenario decodes a JSON scenario from r. now anchors scenarios that
// do not name a start time.
func LoadScenario(r io.Reader, now time.Time) (*Scenario, error) {
	var payload scenarioJSON
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("LoadScenario: decode failed: %w", err)
	}

	sc := &Scenario{
		Name:      payload.Name,
		Reference: core.FromDegrees(payload.Reference.AltM, payload.Reference.LatDeg, payload.Reference.LonDeg),
		Start:     now.UTC().Truncate(time.Second),
		Interval:  time.Second,
	}
	if payload.Start != "" {
		start, err := time.Parse(time.RFC3339, payload.Start)
		if err != nil {
			return nil, fmt.Errorf("LoadScenario: start: %w", err)
		}
		sc.Start = start
	}
	var err error
	if sc.Duration, err = parseDuration("duration", payload.Duration, 0); err != nil {
		return nil, err
	}
	if sc.Interval, err = parseDuration("interval", payload.Interval, time.Second); err != nil {
		return nil, err
	}
	if sc.Interval <= 0 {
		return nil, fmt.Errorf("LoadScenario: interval must be positive")
	}

	proj, err := core.NewGnomonicProjection(sc.Reference)
	if err != nil {
		return nil, fmt.Errorf("LoadScenario: %w", err)
	}

	seen := make(map[string]bool, len(payload.Aircraft))
	for _, ac := range payload.Aircraft {
		if ac.ID == "" {
			return nil, fmt.Errorf("LoadScenario: aircraft with empty id")
		}
		if seen[ac.ID] {
			return nil, fmt.Errorf("LoadScenario: duplicate aircraft id %q", ac.ID)
		}
		seen[ac.ID] = true

		if ac.SpeedMPS <= 0 {
			return nil, fmt.Errorf("LoadScenario: aircraft %q: speed_mps must be positive", ac.ID)
		}
		origin := core.FromDegrees(ac.Position.AltM, ac.Position.LatDeg, ac.Position.LonDeg)
		if !proj.Contains(origin) {
			return nil, fmt.Errorf("LoadScenario: aircraft %q is outside the reference hemisphere", ac.ID)
		}
		after, err := parseDuration("start_after", ac.StartAfter, 0)
		if err != nil {
			return nil, fmt.Errorf("LoadScenario: aircraft %q: %w", ac.ID, err)
		}
		legs := make([]Leg, 0, len(ac.Legs))
		for i, l := range ac.Legs {
			d, err := parseDuration("leg duration", l.Duration, 0)
			if err != nil || d <= 0 {
				return nil, fmt.Errorf("LoadScenario: aircraft %q leg %d: invalid duration %q", ac.ID, i, l.Duration)
			}
			legs = append(legs, Leg{Duration: d, TurnRate: l.TurnRate})
		}
		sc.Flights = append(sc.Flights, NewFlight(ac.ID, proj, origin, sc.Start.Add(after), ac.HeadingDeg, ac.SpeedMPS, ac.ClimbMPS, legs))
	}
	sort.Slice(sc.Flights, func(i, j int) bool { return sc.Flights[i].ID < sc.Flights[j].ID })
	return sc, nil
}

func parseDuration(field, s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}

// StatesAt samples every airborne flight at t.
func (sc *Scenario) StatesAt(t time.Time) []model.AircraftState {
	out := make([]model.AircraftState, 0, len(sc.Flights))
	for _, f := range sc.Flights {
		if s, ok := f.StateAt(t); ok {
			out = append(out, s)
		}
	}
	return out
}

// End is the last sample time: Start+Duration, or the end of the longest
// flight when Duration is zero. Scenarios with an endless flight and no
// Duration report false.
func (sc *Scenario) End() (time.Time, bool) {
	if sc.Duration > 0 {
		return sc.Start.Add(sc.Duration), true
	}
	var end time.Time
	for _, f := range sc.Flights {
		e, ok := f.Ends()
		if !ok {
			return time.Time{}, false
		}
		if e.After(end) {
			end = e
		}
	}
	return end, !end.IsZero()
}

// DefaultScenario is a small terminal-area picture around Munich used
// when no scenario file is configured: one straight overflight, a left
// and a right turner, and a late arrival that joins mid-run.
func DefaultScenario(now time.Time) *Scenario {
	ref := core.FromDegrees(0, 48.3538, 11.7861)
	proj, err := core.NewGnomonicProjection(ref)
	if err != nil {
		panic(err)
	}
	start := now.UTC().Truncate(time.Second)
	return &Scenario{
		Name:      "munich-terminal",
		Reference: ref,
		Start:     start,
		Duration:  15 * time.Minute,
		Interval:  time.Second,
		Flights: []*Flight{
			NewFlight("AFR1745", proj, core.FromDegrees(11000, 48.10, 11.20), start, 60, 230, 0, nil),
			NewFlight("BAW947", proj, core.FromDegrees(5000, 48.60, 11.60), start, 180, 150, -5, []Leg{
				{Duration: 2 * time.Minute},
				{Duration: 60 * time.Second, TurnRate: -1.5},
				{Duration: 3 * time.Minute},
				{Duration: 60 * time.Second, TurnRate: -1.5},
				{Duration: 8 * time.Minute},
			}),
			NewFlight("DLH2AB", proj, core.FromDegrees(4000, 48.20, 12.00), start, 270, 140, 0, []Leg{
				{Duration: 90 * time.Second},
				{Duration: 2 * time.Minute, TurnRate: 1.5},
				{Duration: 10 * time.Minute},
			}),
			NewFlight("EZY67QA", proj, core.FromDegrees(6000, 48.45, 11.30), start.Add(3*time.Minute), 110, 170, -4, []Leg{
				{Duration: 4 * time.Minute, TurnRate: 0.5},
				{Duration: 6 * time.Minute},
			}),
		},
	}
}
