// Command simulator plays a traffic scenario through the prediction
// engine offline and prints every corridor to stdout.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/corridor-predictor/internal/engine"
	"github.com/signalsfoundry/corridor-predictor/internal/logging"
	"github.com/signalsfoundry/corridor-predictor/internal/observability"
	"github.com/signalsfoundry/corridor-predictor/internal/predict"
	"github.com/signalsfoundry/corridor-predictor/internal/traffic"
	"github.com/signalsfoundry/corridor-predictor/kb"
	"github.com/signalsfoundry/corridor-predictor/model"
	"github.com/signalsfoundry/corridor-predictor/timectrl"
)

type options struct {
	Scenario  *traffic.Scenario
	Algorithm predict.Kind
	Workers   int

	// Speedup of the playback clock; zero or less runs as fast as possible.
	Speedup float64
	// Quiet suppresses the per-prediction lines.
	Quiet bool
}

type summary struct {
	Published   int64
	Predictions int
	Failed      int
	Implausible int
	ByMotion    map[model.MotionState]int
	Aircraft    []string
}

func main() {
	scenarioPath := flag.String("scenario", "", "JSON traffic scenario (built-in scenario when empty)")
	algorithm := flag.String("algorithm", "curvefit", "prediction algorithm: passthrough, linear or curvefit")
	workers := flag.Int("workers", 2, "engine worker count")
	speedup := flag.Float64("speedup", 0, "playback speedup; 0 runs as fast as possible")
	quiet := flag.Bool("quiet", false, "only print the summary")
	flag.Parse()

	log := logging.NewFromEnv()

	kind, err := predict.ParseKind(*algorithm)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	sc := traffic.DefaultScenario(time.Now().UTC())
	if *scenarioPath != "" {
		sc, err = traffic.LoadScenarioFile(*scenarioPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Printf("Starting simulation: scenario=%s flights=%d algorithm=%s workers=%d\n",
		sc.Name, len(sc.Flights), kind, *workers)
	sum, err := simulate(ctx, options{
		Scenario:  sc,
		Algorithm: kind,
		Workers:   *workers,
		Speedup:   *speedup,
		Quiet:     *quiet,
	}, os.Stdout, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "simulation failed: %v\n", err)
		os.Exit(1)
	}
	printSummary(os.Stdout, sum)
}

// simulate plays opts.Scenario into a fresh knowledge base, predicts a
// corridor for every update and returns once all queued work is done.
func simulate(ctx context.Context, opts options, out io.Writer, log logging.Logger) (summary, error) {
	if opts.Scenario == nil {
		return summary{}, errors.New("no scenario")
	}

	reg := prometheus.NewRegistry()
	metrics, err := observability.NewEngineCollector(reg)
	if err != nil {
		return summary{}, err
	}

	pcfg := predict.DefaultConfig()
	pcfg.Reference = opts.Scenario.Reference
	alg, err := predict.New(opts.Algorithm, pcfg, predict.WithLogger(log), predict.WithRecorder(metrics))
	if err != nil {
		return summary{}, err
	}

	store := kb.NewKnowledgeBase()
	gen := traffic.NewGenerator(opts.Scenario, store, timectrl.Accelerated, opts.Speedup, log)

	var (
		mu  sync.Mutex
		sum = summary{ByMotion: make(map[model.MotionState]int)}
	)
	sink := engine.SinkFunc(func(p model.Prediction) {
		mu.Lock()
		defer mu.Unlock()
		sum.Predictions++
		sum.ByMotion[p.Motion]++
		if !opts.Quiet {
			printPrediction(out, p)
		}
	})

	ecfg := engine.DefaultConfig()
	ecfg.Algorithm = opts.Algorithm
	ecfg.Workers = opts.Workers
	// Offline runs keep every prediction.
	ecfg.HandoffTimeout = time.Minute
	coord, err := engine.NewCoordinator(ecfg, store, sink, engine.NewRegistry(alg),
		engine.WithLogger(log),
		engine.WithClock(gen.Clock()),
		engine.WithMetrics(metrics),
	)
	if err != nil {
		return summary{}, err
	}
	unsubscribe := store.Subscribe(coord.OnTracksUpdated)
	defer unsubscribe()

	if err := coord.Start(ctx); err != nil {
		return summary{}, err
	}
	runErr := gen.Run(ctx)
	if err := coord.Drain(ctx); err != nil && runErr == nil && !errors.Is(err, context.Canceled) {
		runErr = err
	}
	if err := coord.Stop(); err != nil && runErr == nil {
		runErr = err
	}

	failed, err := counterTotal(reg, "predictor_prediction_failures_total")
	if err != nil && runErr == nil {
		runErr = err
	}
	implausible, err := counterTotal(reg, "predictor_implausible_samples_total")
	if err != nil && runErr == nil {
		runErr = err
	}

	mu.Lock()
	defer mu.Unlock()
	sum.Published = gen.Published()
	sum.Failed = int(failed)
	sum.Implausible = int(implausible)
	sum.Aircraft = store.Aircraft()
	sort.Strings(sum.Aircraft)
	return sum, runErr
}

// counterTotal sums every series of the named counter family.
func counterTotal(g prometheus.Gatherer, name string) (float64, error) {
	families, err := g.Gather()
	if err != nil {
		return 0, err
	}
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total, nil
}

func printPrediction(w io.Writer, p model.Prediction) {
	n := p.Len()
	if n == 0 {
		return
	}
	end := p.Centre[n-1].Position
	left, right := p.Left[n-1].Position, p.Right[n-1].Position
	// skew is how far the centre track ends from the corridor midline.
	skew := left.Lerp(right, 0.5).ArcDistance(end)
	fmt.Fprintf(w, "[%s] %-8s %-10s from (%.4f, %.4f, %.0f m) to (%.4f, %.4f) hdg %03.0f in %s, corridor %.0f m skew %.0f m\n",
		p.GeneratedAt.Format(time.RFC3339),
		p.AircraftID,
		p.Motion,
		p.Origin.Position.LatitudeDegrees(), p.Origin.Position.LongitudeDegrees(), p.Origin.Position.Altitude,
		end.LatitudeDegrees(), end.LongitudeDegrees(),
		p.Origin.Position.BearingTo(end),
		p.Centre[n-1].Time.Sub(p.Origin.Time),
		left.ArcDistance(right),
		skew,
	)
}

func printSummary(w io.Writer, s summary) {
	fmt.Fprintf(w, "Simulation complete: %d states, %d aircraft, %d predictions, %d failed, %d implausible samples\n",
		s.Published, len(s.Aircraft), s.Predictions, s.Failed, s.Implausible)
	for _, m := range []model.MotionState{model.MotionStraight, model.MotionLeftTurn, model.MotionRightTurn, model.MotionUnknown} {
		if n := s.ByMotion[m]; n > 0 {
			fmt.Fprintf(w, "  %-10s %d\n", m, n)
		}
	}
}
