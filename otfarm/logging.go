// Copyright (c) the taskfarm-go authors. All rights reserved.
// Licensed under the MIT License.

package otfarm

import (
	"context"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	taskfarm "github.com/tetutaro/taskfarm-go"
)

// NewZapSink returns a [taskfarm.Sink] that renders relayed worker
// diagnostics through logger, preserving each record's level and attaching
// the worker index, run ID, and original emission time as fields.
func NewZapSink(logger *zap.Logger) taskfarm.Sink {
	if logger == nil {
		panic("logger must be non-nil")
	}
	return &zapSink{logger: logger}
}

type zapSink struct {
	logger *zap.Logger
}

func (s *zapSink) Emit(rec taskfarm.Record) {
	if ce := s.logger.Check(zapLevel(rec.Level), rec.Message); ce != nil {
		ce.Write(
			zap.Int("worker", rec.Worker),
			zap.String("run", rec.RunID),
			zap.Time("emitted", rec.Time),
		)
	}
}

func zapLevel(level taskfarm.Level) zapcore.Level {
	switch level {
	case taskfarm.LevelDebug:
		return zapcore.DebugLevel
	case taskfarm.LevelInfo:
		return zapcore.InfoLevel
	case taskfarm.LevelWarn:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}

// LoggedHandler wraps a handler so that every Handle call logs its start,
// duration, and outcome through the global zap logger.
func LoggedHandler[Q, R any](
	operationName string,
	handler taskfarm.Handler[Q, R],
) taskfarm.Handler[Q, R] {
	return &loggedHandler[Q, R]{
		inner: handler,
		op:    operationName,
	}
}

type loggedHandler[Q, R any] struct {
	inner taskfarm.Handler[Q, R]
	op    string
}

func (h *loggedHandler[Q, R]) Handle(ctx context.Context, req Q) (R, error) {
	logger := zap.L()

	logger.Debug("Starting task",
		zap.String("operation", h.op),
		zap.String("component", tracerName))

	startTime := time.Now()
	resp, err := h.inner.Handle(ctx, req)
	duration := time.Since(startTime)

	if err != nil {
		logger.Error("Task failed",
			zap.String("operation", h.op),
			zap.String("component", tracerName),
			zap.Duration("duration", duration),
			zap.Error(err))
	} else {
		logger.Debug("Task completed",
			zap.String("operation", h.op),
			zap.String("component", tracerName),
			zap.Duration("duration", duration))
	}
	return resp, err
}

func (h *loggedHandler[Q, R]) Close() error {
	return h.inner.Close()
}
