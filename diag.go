// Copyright (c) the taskfarm-go authors. All rights reserved.
// Licensed under the MIT License.

package taskfarm

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Level is the severity of a diagnostic [Record].
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// A Record is a structured log entry produced inside a worker and relayed to
// the coordinator, where it is handed to the pool's [Sink] in arrival order.
type Record struct {
	// Time is the moment the record was emitted inside the worker, which may
	// predate its arrival at the sink.
	Time time.Time

	Level Level

	// Worker is the zero-based index of the emitting worker.
	Worker int

	// RunID identifies the [Pool.Run] invocation the record belongs to.
	RunID string

	Message string
}

// A Sink receives relayed diagnostic records. The coordinator's drain loop is
// the only caller, so implementations need not be safe for concurrent use.
type Sink interface {
	Emit(rec Record)
}

// SinkFunc adapts a plain function to the [Sink] interface.
type SinkFunc func(rec Record)

func (f SinkFunc) Emit(rec Record) {
	f(rec)
}

type nopSink struct{}

func (nopSink) Emit(Record) {}

// NewSlogSink returns a [Sink] that renders each record through logger,
// preserving the record's level and attaching the worker index, run ID, and
// original emission time as attributes. This forwards worker diagnostics
// through the same logger the coordinator uses for its own messages.
func NewSlogSink(logger *slog.Logger) Sink {
	if logger == nil {
		panic("logger must be non-nil")
	}
	return &slogSink{logger: logger}
}

type slogSink struct {
	logger *slog.Logger
}

func (s *slogSink) Emit(rec Record) {
	s.logger.LogAttrs(context.Background(), rec.Level.slogLevel(), rec.Message,
		slog.Int("worker", rec.Worker),
		slog.String("run", rec.RunID),
		slog.Time("emitted", rec.Time),
	)
}

// Diagnostics is a worker-side emitter. Each worker receives its own
// instance via [WorkerEnv]; records written here travel over the pool's
// diagnostic channel and come out of the coordinator's [Sink]. Emission
// order is preserved per worker; records from different workers interleave.
type Diagnostics struct {
	worker int
	runID  string
	ch     chan<- Record
	ctx    context.Context
}

func newDiagnostics(ctx context.Context, worker int, runID string, ch chan<- Record) *Diagnostics {
	return &Diagnostics{
		worker: worker,
		runID:  runID,
		ch:     ch,
		ctx:    ctx,
	}
}

// Debugf emits a debug-level record.
func (d *Diagnostics) Debugf(format string, args ...any) {
	d.emit(LevelDebug, format, args...)
}

// Infof emits an info-level record.
func (d *Diagnostics) Infof(format string, args ...any) {
	d.emit(LevelInfo, format, args...)
}

// Warnf emits a warn-level record.
func (d *Diagnostics) Warnf(format string, args ...any) {
	d.emit(LevelWarn, format, args...)
}

// Errorf emits an error-level record.
func (d *Diagnostics) Errorf(format string, args ...any) {
	d.emit(LevelError, format, args...)
}

func (d *Diagnostics) emit(level Level, format string, args ...any) {
	rec := Record{
		Time:    time.Now(),
		Level:   level,
		Worker:  d.worker,
		RunID:   d.runID,
		Message: fmt.Sprintf(format, args...),
	}
	// The run context unblocks emitters during teardown after a crash, when
	// the drain loop may already have stopped consuming.
	select {
	case d.ch <- rec:
	case <-d.ctx.Done():
	}
}
