// Copyright (c) the taskfarm-go authors. All rights reserved.
// Licensed under the MIT License.

// Package otfarm integrates taskfarm worker pools with OpenTelemetry and
// zap. It wraps [taskfarm.Handler] values with tracing, metrics, and logging
// without requiring any change to the handler itself, and provides a
// zap-backed [taskfarm.Sink] for relayed worker diagnostics.
package otfarm

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	taskfarm "github.com/tetutaro/taskfarm-go"
)

const tracerName = "otfarm"

// TracedHandler wraps a handler so that every Handle call runs inside a span
// with the given operation name. The span records the handler error, if any,
// before it ends.
func TracedHandler[Q, R any](
	operationName string,
	handler taskfarm.Handler[Q, R],
) taskfarm.Handler[Q, R] {
	return &tracedHandler[Q, R]{
		inner: handler,
		op:    operationName,
	}
}

type tracedHandler[Q, R any] struct {
	inner taskfarm.Handler[Q, R]
	op    string
}

func (h *tracedHandler[Q, R]) Handle(ctx context.Context, req Q) (R, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, h.op)
	defer span.End()

	resp, err := h.inner.Handle(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return resp, err
}

func (h *tracedHandler[Q, R]) Close() error {
	return h.inner.Close()
}

// TracedFactory wraps a handler factory so that the one-time worker setup
// runs inside its own span (useful when setup is the expensive part, e.g.
// model loading) and the resulting handler is wrapped with [TracedHandler].
func TracedFactory[Q, R any](
	operationName string,
	newHandler taskfarm.NewHandlerFunc[Q, R],
) taskfarm.NewHandlerFunc[Q, R] {
	return func(ctx context.Context, env *taskfarm.WorkerEnv) (taskfarm.Handler[Q, R], error) {
		tracer := otel.Tracer(tracerName)
		ctx, span := tracer.Start(ctx, operationName+".setup",
			trace.WithAttributes(
				attribute.Int("taskfarm.worker", env.Index),
				attribute.String("taskfarm.run_id", env.RunID),
			))
		defer span.End()

		handler, err := newHandler(ctx, env)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		return TracedHandler(operationName, handler), nil
	}
}
