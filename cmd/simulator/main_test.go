package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/corridor-predictor/core"
	"github.com/signalsfoundry/corridor-predictor/internal/logging"
	"github.com/signalsfoundry/corridor-predictor/internal/predict"
	"github.com/signalsfoundry/corridor-predictor/internal/traffic"
	"github.com/signalsfoundry/corridor-predictor/model"
)

const testScenario = `{
  "name": "holding",
  "reference": {"lat_deg": 48.35, "lon_deg": 11.78},
  "start": "2024-06-01T10:00:00Z",
  "duration": "60s",
  "interval": "2s",
  "aircraft": [
    {"id": "STR1", "position": {"lat_deg": 48.30, "lon_deg": 11.70, "alt_m": 9000},
     "heading_deg": 45, "speed_mps": 200},
    {"id": "TRN1", "position": {"lat_deg": 48.40, "lon_deg": 11.85, "alt_m": 6000},
     "heading_deg": 180, "speed_mps": 120, "legs": [{"duration": "60s", "turn_rate_deg_s": 3}]}
  ]
}`

func loadTestScenario(t *testing.T) *traffic.Scenario {
	t.Helper()
	sc, err := traffic.LoadScenario(strings.NewReader(testScenario), time.Now())
	require.NoError(t, err)
	return sc
}

// TestSimulateCurveFit runs the whole pipeline offline: 31 ticks for each
// of two aircraft, with the first two updates per aircraft too short to fit.
func TestSimulateCurveFit(t *testing.T) {
	var out bytes.Buffer
	sum, err := simulate(context.Background(), options{
		Scenario:  loadTestScenario(t),
		Algorithm: predict.KindCurveFit,
		Workers:   3,
	}, &out, logging.Noop())
	require.NoError(t, err)

	assert.Equal(t, int64(62), sum.Published)
	assert.Equal(t, []string{"STR1", "TRN1"}, sum.Aircraft)
	assert.Equal(t, 4, sum.Failed)
	assert.Equal(t, 58, sum.Predictions)
	assert.Positive(t, sum.ByMotion[model.MotionStraight])
	assert.Positive(t, sum.ByMotion[model.MotionRightTurn])
	assert.Zero(t, sum.ByMotion[model.MotionLeftTurn])

	lines := strings.Count(out.String(), "\n")
	assert.Equal(t, 58, lines)
	assert.Contains(t, out.String(), "TRN1")
	assert.Contains(t, out.String(), "RIGHT_TURN")
}

func TestSimulateQuietPassthrough(t *testing.T) {
	var out bytes.Buffer
	sum, err := simulate(context.Background(), options{
		Scenario:  loadTestScenario(t),
		Algorithm: predict.KindPassthrough,
		Workers:   1,
		Quiet:     true,
	}, &out, logging.Noop())
	require.NoError(t, err)

	assert.Equal(t, 62, sum.Predictions)
	assert.Zero(t, sum.Failed)
	assert.Empty(t, out.String())

	printSummary(&out, sum)
	assert.Contains(t, out.String(), "62 predictions")
}

func TestSimulateRequiresScenario(t *testing.T) {
	_, err := simulate(context.Background(), options{Algorithm: predict.KindLinear}, &bytes.Buffer{}, logging.Noop())
	assert.Error(t, err)
}

func TestPrintPredictionHeadingAndSkew(t *testing.T) {
	at := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	origin := model.AircraftState{AircraftID: "N1", Time: at, Position: core.FromDegrees(3000, 48.0, 11.0)}
	sample := func(lat, lon float64) model.Track {
		return model.Track{{AircraftID: "N1", Time: at.Add(2 * time.Minute), Position: core.FromDegrees(3000, lat, lon)}}
	}
	p := model.Prediction{
		AircraftID:  "N1",
		GeneratedAt: at,
		Origin:      origin,
		Left:        sample(48.1, 10.99),
		Centre:      sample(48.1, 11.0),
		Right:       sample(48.1, 11.01),
		Motion:      model.MotionStraight,
	}

	var out bytes.Buffer
	printPrediction(&out, p)
	line := out.String()
	assert.Contains(t, line, "hdg 000")
	assert.Contains(t, line, "in 2m0s")
	assert.Contains(t, line, "skew 0 m")
	assert.NotContains(t, line, "corridor 0 m")

	out.Reset()
	printPrediction(&out, model.Prediction{AircraftID: "N1"})
	assert.Empty(t, out.String())
}
