package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineCollector exposes prediction engine metrics. It satisfies the
// engine's metrics recorder and the algorithms' diagnostics recorder.
type EngineCollector struct {
	gatherer prometheus.Gatherer

	WorkEnqueued       prometheus.Counter
	QueueDepth         prometheus.Gauge
	QueueHeadAge       prometheus.Gauge
	TrackedAircraft    prometheus.Gauge
	PredictionDuration *prometheus.HistogramVec
	Failures           *prometheus.CounterVec
	HandoffDrops       prometheus.Counter
	ImplausibleSamples *prometheus.CounterVec
}

// NewEngineCollector registers engine metrics against reg, defaulting to
// the global registry when nil.
func NewEngineCollector(reg prometheus.Registerer) (*EngineCollector, error) {
	reg, gatherer := registryPair(reg)

	enqueued, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "predictor_work_items_enqueued_total",
		Help: "Work items created from track updates.",
	}), "predictor_work_items_enqueued_total")
	if err != nil {
		return nil, err
	}

	depth, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "predictor_queue_depth",
		Help: "Work items waiting for a worker.",
	}), "predictor_queue_depth")
	if err != nil {
		return nil, err
	}

	headAge, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "predictor_queue_head_age_seconds",
		Help: "Time the oldest queued work item has been waiting.",
	}), "predictor_queue_head_age_seconds")
	if err != nil {
		return nil, err
	}

	tracked, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "predictor_tracked_aircraft",
		Help: "Aircraft with per-aircraft prediction state.",
	}), "predictor_tracked_aircraft")
	if err != nil {
		return nil, err
	}

	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "predictor_prediction_duration_seconds",
		Help:    "Time spent computing one prediction, labeled by algorithm and motion state.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
	}, []string{"algorithm", "motion"})
	durations, err = register(reg, durations, "predictor_prediction_duration_seconds")
	if err != nil {
		return nil, err
	}

	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "predictor_prediction_failures_total",
		Help: "Predictions that failed or were flagged, labeled by algorithm and reason.",
	}, []string{"algorithm", "reason"})
	failures, err = register(reg, failures, "predictor_prediction_failures_total")
	if err != nil {
		return nil, err
	}

	drops, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "predictor_handoff_drops_total",
		Help: "Completed predictions dropped because the downstream buffer stayed full.",
	}), "predictor_handoff_drops_total")
	if err != nil {
		return nil, err
	}

	implausible := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "predictor_implausible_samples_total",
		Help: "Predicted samples implying a speed above the physical limit.",
	}, []string{"algorithm"})
	implausible, err = register(reg, implausible, "predictor_implausible_samples_total")
	if err != nil {
		return nil, err
	}

	return &EngineCollector{
		gatherer:           gatherer,
		WorkEnqueued:       enqueued,
		QueueDepth:         depth,
		QueueHeadAge:       headAge,
		TrackedAircraft:    tracked,
		PredictionDuration: durations,
		Failures:           failures,
		HandoffDrops:       drops,
		ImplausibleSamples: implausible,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *EngineCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

func (c *EngineCollector) IncEnqueued() {
	if c == nil || c.WorkEnqueued == nil {
		return
	}
	c.WorkEnqueued.Inc()
}

func (c *EngineCollector) SetQueueDepth(n int) {
	if c == nil || c.QueueDepth == nil {
		return
	}
	c.QueueDepth.Set(float64(n))
}

func (c *EngineCollector) SetQueueHeadAge(d time.Duration) {
	if c == nil || c.QueueHeadAge == nil {
		return
	}
	if d < 0 {
		d = 0
	}
	c.QueueHeadAge.Set(d.Seconds())
}

func (c *EngineCollector) SetTrackedAircraft(n int) {
	if c == nil || c.TrackedAircraft == nil {
		return
	}
	c.TrackedAircraft.Set(float64(n))
}

// ObservePrediction records one completed prediction.
func (c *EngineCollector) ObservePrediction(kind, motion string, d time.Duration) {
	if c == nil || c.PredictionDuration == nil {
		return
	}
	c.PredictionDuration.WithLabelValues(kind, motion).Observe(d.Seconds())
}

func (c *EngineCollector) IncFailure(kind, reason string) {
	if c == nil || c.Failures == nil {
		return
	}
	c.Failures.WithLabelValues(kind, reason).Inc()
}

func (c *EngineCollector) IncHandoffDrop() {
	if c == nil || c.HandoffDrops == nil {
		return
	}
	c.HandoffDrops.Inc()
}

// ObserveImplausibleSample counts a predicted sample that failed the
// physical speed check.
func (c *EngineCollector) ObserveImplausibleSample(kind string) {
	if c == nil || c.ImplausibleSamples == nil {
		return
	}
	c.ImplausibleSamples.WithLabelValues(kind).Inc()
}
