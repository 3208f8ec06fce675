// Copyright (c) the taskfarm-go authors. All rights reserved.
// Licensed under the MIT License.

package otfarm

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"

	taskfarm "github.com/tetutaro/taskfarm-go"
)

// MeteredHandler wraps a handler so that every Handle call records count,
// duration, and error metrics under the given metric name.
func MeteredHandler[Q, R any](
	metricName string,
	handler taskfarm.Handler[Q, R],
) taskfarm.Handler[Q, R] {
	return &meteredHandler[Q, R]{
		inner: handler,
		name:  metricName,
	}
}

type meteredHandler[Q, R any] struct {
	inner taskfarm.Handler[Q, R]
	name  string
}

func (h *meteredHandler[Q, R]) Handle(ctx context.Context, req Q) (R, error) {
	startTime := time.Now()
	meter := otel.GetMeterProvider().Meter(tracerName)

	taskCounter, _ := meter.Int64Counter(h.name + ".count")
	taskDuration, _ := meter.Float64Histogram(h.name + ".duration")

	taskCounter.Add(ctx, 1)
	resp, err := h.inner.Handle(ctx, req)
	taskDuration.Record(ctx, time.Since(startTime).Seconds())

	if err != nil {
		errorCounter, _ := meter.Int64Counter(h.name + ".errors")
		errorCounter.Add(ctx, 1)
	}
	return resp, err
}

func (h *meteredHandler[Q, R]) Close() error {
	return h.inner.Close()
}

// MeteredFactory wraps a handler factory so that every worker's handler is
// wrapped with [MeteredHandler].
func MeteredFactory[Q, R any](
	metricName string,
	newHandler taskfarm.NewHandlerFunc[Q, R],
) taskfarm.NewHandlerFunc[Q, R] {
	return func(ctx context.Context, env *taskfarm.WorkerEnv) (taskfarm.Handler[Q, R], error) {
		handler, err := newHandler(ctx, env)
		if err != nil {
			return nil, err
		}
		return MeteredHandler(metricName, handler), nil
	}
}
