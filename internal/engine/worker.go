package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/corridor-predictor/internal/logging"
)

// runWorker takes items until the coordinator stops or ctx ends. Each
// item taken is always run to completion.
func (c *Coordinator) runWorker(ctx context.Context, id int) error {
	log := c.log.With(logging.Int("worker", id))
	for {
		if !c.isRunning() {
			return nil
		}
		item, err := c.queue.Take(ctx)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				log.Debug(ctx, "worker exiting", logging.String("reason", err.Error()))
				return nil
			}
			return err
		}
		c.mu.Lock()
		c.inFlight++
		c.mu.Unlock()
		c.process(ctx, log, id, item)
	}
}

func (c *Coordinator) process(ctx context.Context, log logging.Logger, worker int, item *WorkItem) {
	item.start(worker, c.clock.Now())

	ctx, span := c.tracer.Start(ctx, "predict/"+item.Kind.String(), trace.WithAttributes(
		attribute.String("aircraft_id", item.AircraftID),
		attribute.String("work_item", item.ID),
		attribute.Int("worker", worker),
		attribute.Int("track_len", len(item.Track)),
	))
	ctx = logging.ContextWithLogger(ctx, log.With(logging.String("aircraft_id", item.AircraftID)))

	began := time.Now()
	alg, ok := c.algorithms[item.Kind]
	if !ok {
		item.complete(item.Prediction, fmt.Errorf("%w: %s", ErrUnknownAlgorithm, item.Kind), c.clock.Now())
	} else {
		pred, err := alg.MakePrediction(ctx, item.Track, item.State)
		item.complete(pred, err, c.clock.Now())
	}
	elapsed := time.Since(began)

	if item.Err != nil {
		span.RecordError(item.Err)
		span.SetStatus(codes.Error, item.Err.Error())
	} else {
		span.SetAttributes(attribute.String("motion", item.Prediction.Motion.String()))
	}
	span.End()

	c.completeWorkItem(ctx, item, elapsed)
}
