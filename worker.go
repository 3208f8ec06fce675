// Copyright (c) the taskfarm-go authors. All rights reserved.
// Licensed under the MIT License.

package taskfarm

import (
	"context"
	"fmt"
)

// A Handler computes responses for a single worker. One Handler instance is
// built per worker at startup (see [NewHandlerFunc]) and applied serially to
// every request that worker pulls from the work queue, so Handle never runs
// concurrently with itself on the same instance.
//
// A non-nil error from Handle marks a task-level failure: the pool converts
// it into a failure response via [RecoverFunc] and carries on. A panic in
// Handle is a worker crash and aborts the whole run. Close is called once
// when the worker exits its loop, whether via the shutdown sentinel or a
// canceled context, and should release whatever the setup acquired.
type Handler[Q, R any] interface {
	Handle(ctx context.Context, req Q) (R, error)
	Close() error
}

// HandlerFunc adapts a plain compute function to the [Handler] interface
// with a no-op Close.
type HandlerFunc[Q, R any] func(ctx context.Context, req Q) (R, error)

func (f HandlerFunc[Q, R]) Handle(ctx context.Context, req Q) (R, error) {
	return f(ctx, req)
}

func (f HandlerFunc[Q, R]) Close() error {
	return nil
}

// A NewHandlerFunc performs a worker's one-time expensive setup (the stand-in
// for loading a model or acquiring a heavyweight resource) and returns the
// [Handler] the worker will use for the rest of its life. It runs inside the
// worker's goroutine before the first request is pulled. A non-nil error is
// a pool-level failure and aborts the run.
type NewHandlerFunc[Q, R any] = func(ctx context.Context, env *WorkerEnv) (Handler[Q, R], error)

// A RecoverFunc converts a task-level failure into the response delivered in
// its place, keeping per-task failures inside the data plane. It must not
// block and must not panic.
type RecoverFunc[Q, R any] = func(req Q, err error) R

// WorkerEnv describes one worker to its [NewHandlerFunc].
type WorkerEnv struct {
	// Index is the worker's zero-based position in the pool.
	Index int

	// RunID identifies the current [Pool.Run] invocation.
	RunID string

	// Props is the opaque configuration value passed via [WithProps],
	// shared by all workers.
	Props any

	// Diag emits diagnostic records that are relayed to the pool's [Sink].
	// The handler may retain it for the duration of the run.
	Diag *Diagnostics
}

// workItem is what actually travels over the work queue: either a request or
// the shutdown sentinel.
type workItem[Q any] struct {
	req  Q
	stop bool
}

// worker is the long-lived loop executed once per pool slot. It returns nil
// after consuming its shutdown sentinel, the context error if the run was
// torn down underneath it, or a *CrashError if the handler panicked.
func (r *run[Q, R]) worker(ctx context.Context, index int) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &CrashError{Worker: index, Value: v}
		}
	}()

	diag := newDiagnostics(ctx, index, r.id, r.diags)
	h, err := r.pool.newHandler(ctx, &WorkerEnv{
		Index: index,
		RunID: r.id,
		Props: r.pool.props,
		Diag:  diag,
	})
	if err != nil {
		return fmt.Errorf("worker %d setup: %w", index, err)
	}
	defer func() {
		if cerr := h.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("worker %d close: %w", index, cerr)
		}
	}()

	for {
		item, gerr := r.queue.Get(ctx)
		if gerr != nil {
			return gerr
		}
		if item.stop {
			// Acknowledge the sentinel so the coordinator's drain detection
			// can observe that it was actually consumed, then exit cleanly.
			r.queue.Done()
			return nil
		}
		resp := handle(ctx, h, r.pool.recoverFunc, item.req)
		select {
		case r.results <- resp:
		case <-ctx.Done():
			r.queue.Done()
			return ctx.Err()
		}
		r.queue.Done()
	}
}

func handle[Q, R any](ctx context.Context, h Handler[Q, R], recoverFunc RecoverFunc[Q, R], req Q) R {
	resp, err := h.Handle(ctx, req)
	if err != nil {
		return recoverFunc(req, err)
	}
	return resp
}
