package observability

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// FeedCollector bundles Prometheus metrics for the prediction feed and
// provides helpers to wire them into gRPC servers and HTTP handlers.
type FeedCollector struct {
	gatherer prometheus.Gatherer

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec

	Subscribers          prometheus.Gauge
	PredictionsPublished prometheus.Counter
	PredictionsDropped   prometheus.Counter
}

// NewFeedCollector registers feed metrics against the provided registerer,
// defaulting to the global Prometheus registry when nil.
func NewFeedCollector(reg prometheus.Registerer) (*FeedCollector, error) {
	reg, gatherer := registryPair(reg)

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "predictor_feed_requests_total",
		Help: "Total number of handled feed RPCs, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"})
	requests, err := register(reg, requests, "predictor_feed_requests_total")
	if err != nil {
		return nil, err
	}

	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "predictor_feed_request_duration_seconds",
		Help:    "Feed RPC duration in seconds. For streams this is the subscription lifetime.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5, 30, 300, 3600},
	}, []string{"service", "method"})
	durations, err = register(reg, durations, "predictor_feed_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	subscribers, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "predictor_feed_subscribers",
		Help: "Current number of prediction feed subscribers.",
	}), "predictor_feed_subscribers")
	if err != nil {
		return nil, err
	}
	published, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "predictor_feed_predictions_published_total",
		Help: "Predictions published to the feed.",
	}), "predictor_feed_predictions_published_total")
	if err != nil {
		return nil, err
	}
	dropped, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "predictor_feed_predictions_dropped_total",
		Help: "Predictions not delivered to a subscriber whose buffer was full.",
	}), "predictor_feed_predictions_dropped_total")
	if err != nil {
		return nil, err
	}

	return &FeedCollector{
		gatherer:             gatherer,
		RPCRequests:          requests,
		RPCDurations:         durations,
		Subscribers:          subscribers,
		PredictionsPublished: published,
		PredictionsDropped:   dropped,
	}, nil
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *FeedCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		c.observeRPC(fullMethod, err, start)
		return resp, err
	}
}

// StreamServerInterceptor records request counts and durations for
// streaming RPCs once the stream ends.
func (c *FeedCollector) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		c.observeRPC(fullMethod, err, start)
		return err
	}
}

func (c *FeedCollector) observeRPC(fullMethod string, err error, start time.Time) {
	if c == nil {
		return
	}
	service, method := SplitMethod(fullMethod)
	code := status.Code(err).String()

	if c.RPCRequests != nil {
		c.RPCRequests.WithLabelValues(service, method, code).Inc()
	}
	if c.RPCDurations != nil {
		c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *FeedCollector) Handler() http.Handler {
	return Handler(c.gatherer)
}

// Handler serves the given gatherer, or the default one when nil.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (c *FeedCollector) SetSubscribers(n int) {
	if c == nil || c.Subscribers == nil {
		return
	}
	c.Subscribers.Set(float64(n))
}

func (c *FeedCollector) IncPublished() {
	if c == nil || c.PredictionsPublished == nil {
		return
	}
	c.PredictionsPublished.Inc()
}

func (c *FeedCollector) IncDropped() {
	if c == nil || c.PredictionsDropped == nil {
		return
	}
	c.PredictionsDropped.Inc()
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}
