// Command predictor runs the corridor prediction service: synthetic
// traffic is played into the knowledge base, the engine predicts a
// corridor for every update and predictions are published on a gRPC feed.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"github.com/signalsfoundry/corridor-predictor/internal/config"
	"github.com/signalsfoundry/corridor-predictor/internal/engine"
	"github.com/signalsfoundry/corridor-predictor/internal/feed"
	"github.com/signalsfoundry/corridor-predictor/internal/logging"
	"github.com/signalsfoundry/corridor-predictor/internal/observability"
	"github.com/signalsfoundry/corridor-predictor/internal/predict"
	"github.com/signalsfoundry/corridor-predictor/internal/traffic"
	"github.com/signalsfoundry/corridor-predictor/kb"
)

func main() {
	envFile := flag.String("env", ".env", "Optional dotenv file with PREDICTOR_* settings")
	grpcAddr := flag.String("grpc-addr", "", "TCP address of the prediction feed (overrides PREDICTOR_GRPC_ADDR)")
	metricsAddr := flag.String("metrics-addr", "", "HTTP address for Prometheus /metrics (overrides PREDICTOR_METRICS_ADDR)")
	scenarioPath := flag.String("scenario", "", "JSON traffic scenario (overrides PREDICTOR_SCENARIO)")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx := context.Background()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Error(ctx, "invalid configuration", logging.Err(err))
		os.Exit(1)
	}
	if *grpcAddr != "" {
		cfg.GRPCAddress = *grpcAddr
	}
	if *metricsAddr != "" {
		cfg.MetricsAddress = *metricsAddr
	}
	if *scenarioPath != "" {
		cfg.ScenarioPath = *scenarioPath
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddress)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.GRPCAddress), logging.Err(err))
		os.Exit(1)
	}

	stopCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(stopCtx, cfg, log, lis); err != nil {
		log.Error(ctx, "predictor exited", logging.Err(err))
		os.Exit(1)
	}
}

// run wires the service together and blocks until ctx is cancelled.
func run(ctx context.Context, cfg config.Config, log logging.Logger, lis net.Listener) error {
	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	engineMetrics, err := observability.NewEngineCollector(nil)
	if err != nil {
		return fmt.Errorf("engine metrics: %w", err)
	}
	feedMetrics, err := observability.NewFeedCollector(nil)
	if err != nil {
		return fmt.Errorf("feed metrics: %w", err)
	}
	scenario, err := loadScenario(cfg)
	if err != nil {
		return err
	}
	if !cfg.HasReference {
		cfg.Predict.Reference = scenario.Reference
	}

	registry, err := buildAlgorithms(cfg.Predict, log, engineMetrics)
	if err != nil {
		return err
	}

	store := kb.NewKnowledgeBase(kb.WithMaxHistory(cfg.MaxHistory))
	broadcaster, err := feed.NewBroadcaster(
		feed.WithCacheSize(cfg.Feed.CacheSize),
		feed.WithBufferSize(cfg.Feed.BufferSize),
		feed.WithLogger(log),
		feed.WithMetrics(feedMetrics),
	)
	if err != nil {
		return err
	}

	gen := traffic.NewGenerator(scenario, store, cfg.PlaybackMode, cfg.PlaybackSpeedup, log)
	coord, err := engine.NewCoordinator(cfg.Engine, store, broadcaster, registry,
		engine.WithLogger(log),
		engine.WithMetrics(engineMetrics),
		engine.WithClock(gen.Clock()),
	)
	if err != nil {
		return err
	}
	unsubscribe := store.Subscribe(coord.OnTracksUpdated)
	if err := coord.Start(ctx); err != nil {
		return err
	}

	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			feed.RequestIDUnaryServerInterceptor(log),
			feedMetrics.UnaryServerInterceptor(),
		),
		grpc.ChainStreamInterceptor(
			feed.RequestIDStreamServerInterceptor(log),
			feed.TracingStreamServerInterceptor(),
			feedMetrics.StreamServerInterceptor(),
		),
	)
	feed.RegisterFeedServer(server, feed.NewServer(broadcaster, log))

	metricsSrv := serveMetrics(cfg.MetricsAddress, feedMetrics, log)

	serveErr := make(chan error, 1)
	log.Info(ctx, "starting prediction feed", logging.String("addr", lis.Addr().String()))
	go func() { serveErr <- server.Serve(lis) }()

	jobs := startStatsReport(cfg.StatsSchedule, coord, broadcaster, gen, log)

	playCtx, stopPlayback := context.WithCancel(ctx)
	defer stopPlayback()
	playDone := make(chan error, 1)
	go func() { playDone <- gen.Run(playCtx) }()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		runErr = fmt.Errorf("gRPC server exited: %w", err)
	}

	log.Info(context.Background(), "shutting down predictor")
	stopPlayback()
	unsubscribe()
	if err := coord.Stop(); err != nil {
		log.Warn(context.Background(), "engine stop", logging.Err(err))
	}
	// Closing the feed ends open streams so GracefulStop can return.
	broadcaster.Close()
	server.GracefulStop()
	if jobs != nil {
		<-jobs.Stop().Done()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	select {
	case err := <-playDone:
		runErr = errors.Join(runErr, err)
	case <-shutdownCtx.Done():
		runErr = errors.Join(runErr, errors.New("traffic playback did not stop"))
	}
	return runErr
}

func loadScenario(cfg config.Config) (*traffic.Scenario, error) {
	if cfg.ScenarioPath == "" {
		return traffic.DefaultScenario(time.Now()), nil
	}
	sc, err := traffic.LoadScenarioFile(cfg.ScenarioPath)
	if err != nil {
		return nil, fmt.Errorf("scenario: %w", err)
	}
	return sc, nil
}

// buildAlgorithms registers every algorithm kind so the configured one is
// always available.
func buildAlgorithms(cfg predict.Config, log logging.Logger, rec predict.Recorder) (engine.Registry, error) {
	var algs []predict.Algorithm
	for _, kind := range []predict.Kind{predict.KindPassthrough, predict.KindLinear, predict.KindCurveFit} {
		alg, err := predict.New(kind, cfg, predict.WithLogger(log), predict.WithRecorder(rec))
		if err != nil {
			return nil, fmt.Errorf("algorithm %s: %w", kind, err)
		}
		algs = append(algs, alg)
	}
	return engine.NewRegistry(algs...), nil
}

func startStatsReport(schedule string, coord *engine.Coordinator, b *feed.Broadcaster, gen *traffic.Generator, log logging.Logger) *cron.Cron {
	if schedule == "" {
		return nil
	}
	jobs := cron.New()
	_, err := jobs.AddFunc(schedule, func() {
		st := coord.Stats()
		log.Info(context.Background(), "engine stats",
			logging.Time("sim_time", gen.Clock().Now()),
			logging.Int("queued", st.Queued),
			logging.Int("backlogged", st.Backlogged),
			logging.Int("in_flight", st.InFlight),
			logging.Int("pending", st.Pending),
			logging.Int("aircraft", st.Aircraft),
			logging.Int("feed_subscribers", b.Subscribers()),
			logging.Any("states_published", gen.Published()))
	})
	if err != nil {
		log.Warn(context.Background(), "stats report disabled", logging.String("schedule", schedule), logging.Err(err))
		return nil
	}
	jobs.Start()
	return jobs
}

func serveMetrics(addr string, collector *observability.FeedCollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
