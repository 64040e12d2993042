// Package config assembles the service configuration from an optional
// .env file and PREDICTOR_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/signalsfoundry/corridor-predictor/core"
	"github.com/signalsfoundry/corridor-predictor/internal/engine"
	"github.com/signalsfoundry/corridor-predictor/internal/observability"
	"github.com/signalsfoundry/corridor-predictor/internal/predict"
	"github.com/signalsfoundry/corridor-predictor/timectrl"
)

const envPrefix = "PREDICTOR_"

// Config is the full service configuration.
type Config struct {
	GRPCAddress    string
	MetricsAddress string

	// ScenarioPath names a JSON traffic scenario; empty plays the built-in
	// one.
	ScenarioPath    string
	PlaybackMode    timectrl.Mode
	PlaybackSpeedup float64

	// HasReference is set when PREDICTOR_REFERENCE was given. Otherwise
	// the scenario's reference is used for the prediction plane.
	HasReference bool

	Engine  engine.Config
	Predict predict.Config
	Feed    FeedConfig
	Tracing observability.TracingConfig

	// MaxHistory bounds the states kept per aircraft in the knowledge base.
	MaxHistory int
	// StatsSchedule is a cron expression for the periodic engine stats report.
	// Empty disables it.
	StatsSchedule string
}

// FeedConfig tunes the prediction broadcaster.
type FeedConfig struct {
	CacheSize  int
	BufferSize int
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		GRPCAddress:     ":50061",
		MetricsAddress:  ":9091",
		PlaybackMode:    timectrl.RealTime,
		PlaybackSpeedup: 1,
		Engine:          engine.DefaultConfig(),
		Predict:         predict.DefaultConfig(),
		Feed:            FeedConfig{CacheSize: 4096, BufferSize: 64},
		Tracing:         observability.DefaultTracingConfig(),
		MaxHistory:      600,
		StatsSchedule:   "@every 30s",
	}
}

// Load reads the given .env files, skipping any that do not exist, then
// builds the configuration from the process environment. With no files
// it looks for ./.env.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, path := range envFiles {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return Config{}, fmt.Errorf("config: load %s: %w", path, err)
		}
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a configuration from lookup, starting from Default. All
// malformed values are reported together.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	p := parser{lookup: lookup}

	p.str("GRPC_ADDR", &cfg.GRPCAddress)
	p.str("METRICS_ADDR", &cfg.MetricsAddress)
	p.str("SCENARIO", &cfg.ScenarioPath)
	p.str("STATS_SCHEDULE", &cfg.StatsSchedule)
	p.integer("MAX_HISTORY", &cfg.MaxHistory)

	if v, ok := p.get("PLAYBACK_MODE"); ok {
		switch strings.ToLower(v) {
		case "realtime", "real-time":
			cfg.PlaybackMode = timectrl.RealTime
		case "accelerated":
			cfg.PlaybackMode = timectrl.Accelerated
		default:
			p.fail("PLAYBACK_MODE", fmt.Errorf("unknown mode %q", v))
		}
	}
	p.float("PLAYBACK_SPEEDUP", &cfg.PlaybackSpeedup)

	// engine
	p.integer("WORKERS", &cfg.Engine.Workers)
	if v, ok := p.get("ALGORITHM"); ok {
		kind, err := predict.ParseKind(v)
		p.fail("ALGORITHM", err)
		cfg.Engine.Algorithm = kind
	}
	if v, ok := p.get("ORDERING"); ok {
		ord, err := engine.ParseOrdering(v)
		p.fail("ORDERING", err)
		cfg.Engine.Ordering = ord
	}
	p.duration("POLL_INTERVAL", &cfg.Engine.PollInterval)
	p.integer("HANDOFF_BUFFER", &cfg.Engine.HandoffBuffer)
	p.duration("HANDOFF_TIMEOUT", &cfg.Engine.HandoffTimeout)
	p.integer("TRACK_WINDOW", &cfg.Engine.TrackWindow)

	// algorithms
	if v, ok := p.get("REFERENCE"); ok {
		ref, err := ParseReference(v)
		p.fail("REFERENCE", err)
		cfg.Predict.Reference = ref
		cfg.HasReference = err == nil
	}
	p.integer("MOVING_WINDOW", &cfg.Predict.MovingWindow)
	p.integer("PREDICTIONS", &cfg.Predict.Predictions)
	p.duration("STEP", &cfg.Predict.Step)
	p.duration("TRANSITION_TIME", &cfg.Predict.TransitionTime)
	p.float("MAX_SPEED", &cfg.Predict.MaxPhysicalSpeed)
	p.float("MAX_TURN_RADIUS", &cfg.Predict.MaxTurnRadius)

	// feed
	p.integer("FEED_CACHE", &cfg.Feed.CacheSize)
	p.integer("FEED_BUFFER", &cfg.Feed.BufferSize)

	tracing, err := observability.TracingConfigFromEnv(lookup)
	p.errs = append(p.errs, err)
	cfg.Tracing = tracing

	if err := errors.Join(p.errs...); err != nil {
		return Config{}, err
	}
	cfg.Engine.ApplyDefaults()
	cfg.Predict.ApplyDefaults()
	return cfg, nil
}

// ParseReference parses "lat,lon" or "lat,lon,alt" in degrees and metres.
func ParseReference(s string) (core.GeographicCoordinate, error) {
	parts := strings.Split(s, ",")
	if len(parts) < 2 || len(parts) > 3 {
		return core.GeographicCoordinate{}, fmt.Errorf("want lat,lon[,alt], got %q", s)
	}
	vals := make([]float64, 3)
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return core.GeographicCoordinate{}, fmt.Errorf("reference component %d: %w", i, err)
		}
		vals[i] = v
	}
	if vals[0] < -90 || vals[0] > 90 || vals[1] < -180 || vals[1] > 180 {
		return core.GeographicCoordinate{}, fmt.Errorf("reference %q out of range", s)
	}
	return core.FromDegrees(vals[2], vals[0], vals[1]), nil
}

type parser struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (p *parser) get(key string) (string, bool) {
	v, ok := p.lookup(envPrefix + key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (p *parser) fail(key string, err error) {
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
	}
}

func (p *parser) str(key string, dst *string) {
	if v, ok := p.get(key); ok {
		*dst = v
	}
}

func (p *parser) integer(key string, dst *int) {
	if v, ok := p.get(key); ok {
		n, err := strconv.Atoi(v)
		p.fail(key, err)
		if err == nil {
			*dst = n
		}
	}
}

func (p *parser) float(key string, dst *float64) {
	if v, ok := p.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		p.fail(key, err)
		if err == nil {
			*dst = f
		}
	}
}

func (p *parser) duration(key string, dst *time.Duration) {
	if v, ok := p.get(key); ok {
		d, err := time.ParseDuration(v)
		p.fail(key, err)
		if err == nil {
			*dst = d
		}
	}
}
