// Copyright (c) the taskfarm-go authors. All rights reserved.
// Licensed under the MIT License.

package taskfarm

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tetutaro/taskfarm-go/internal/joinq"
)

const defaultDiagnosticBuffer = 64

// A Pool is the coordinator of a fixed-size set of long-lived workers. It
// owns the work queue, the result channel, and the diagnostic channel for
// each run, and it serializes every call it makes to the [Progress]
// indicator and to the [Sink].
//
// A Pool is reusable: sequential calls to [Pool.Run] each get fresh channels
// and a fresh run ID. Concurrent calls are serialized.
type Pool[Q, R any] struct {
	workers     int
	newHandler  NewHandlerFunc[Q, R]
	recoverFunc RecoverFunc[Q, R]

	progress      Progress
	sink          Sink
	props         any
	queueCapacity int
	diagBuffer    int

	mu sync.Mutex // serializes Run
}

type config struct {
	progress      Progress
	sink          Sink
	props         any
	queueCapacity int
	diagBuffer    int
}

// An Option adjusts pool construction. See [WithProgress], [WithSink],
// [WithProps], [WithQueueCapacity], and [WithDiagnosticBuffer].
type Option func(*config)

// WithProgress installs the progress indicator advanced by the result-drain
// loop. The default discards all updates.
func WithProgress(p Progress) Option {
	return func(c *config) {
		c.progress = p
	}
}

// WithSink installs the destination for relayed worker diagnostics. The
// default discards all records.
func WithSink(s Sink) Option {
	return func(c *config) {
		c.sink = s
	}
}

// WithProps supplies the opaque configuration value handed to every worker's
// [NewHandlerFunc] at startup, the stand-in for heavy-resource bootstrap
// parameters.
func WithProps(props any) Option {
	return func(c *config) {
		c.props = props
	}
}

// WithQueueCapacity bounds the work queue. Submission blocks while the queue
// is full, applying back-pressure to the coordinator. A capacity of zero or
// less means unbounded, the default.
func WithQueueCapacity(n int) Option {
	return func(c *config) {
		c.queueCapacity = n
	}
}

// WithDiagnosticBuffer sets the diagnostic channel's buffer size. The
// channel is drained continuously, so the buffer only smooths bursts; it
// never substitutes for the drain loop.
func WithDiagnosticBuffer(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.diagBuffer = n
		}
	}
}

// NewPool creates a coordinator for workers parallel execution slots.
// newHandler runs once inside each worker to perform its one-time setup;
// recoverFunc converts task-level failures into failure responses.
//
// Returns [ErrInvalidWorkerCount] if workers is less than one. Panics if
// newHandler or recoverFunc is nil, as these are programmer errors rather
// than runtime conditions.
func NewPool[Q, R any](
	workers int,
	newHandler NewHandlerFunc[Q, R],
	recoverFunc RecoverFunc[Q, R],
	opts ...Option,
) (*Pool[Q, R], error) {
	if newHandler == nil {
		panic("handler factory must be non-nil")
	}
	if recoverFunc == nil {
		panic("recover function must be non-nil")
	}
	if workers < 1 {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidWorkerCount, workers)
	}
	cfg := config{
		progress:   NopProgress{},
		sink:       nopSink{},
		diagBuffer: defaultDiagnosticBuffer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.progress == nil {
		cfg.progress = NopProgress{}
	}
	if cfg.sink == nil {
		cfg.sink = nopSink{}
	}
	return &Pool[Q, R]{
		workers:       workers,
		newHandler:    newHandler,
		recoverFunc:   recoverFunc,
		progress:      cfg.progress,
		sink:          cfg.sink,
		props:         cfg.props,
		queueCapacity: cfg.queueCapacity,
		diagBuffer:    cfg.diagBuffer,
	}, nil
}

// Workers reports the pool's fixed worker count.
func (p *Pool[Q, R]) Workers() int {
	return p.workers
}

// run holds the per-invocation state: the three channel endpoints and the
// run identity stamped on every diagnostic record.
type run[Q, R any] struct {
	pool    *Pool[Q, R]
	id      string
	queue   *joinq.JoinableQueue[workItem[Q]]
	results chan R
	diags   chan Record
}

// Run distributes reqs across the pool's workers and returns one response
// per request, in completion order. Callers that need submission order must
// correlate responses to requests themselves (the reference records carry
// [TaskRequest.RequestValue] for exactly that purpose).
//
// Run starts all workers and both drain loops before submitting any work,
// then submits every request followed by one shutdown sentinel per worker,
// waits until every queue item (sentinels included) has been consumed and
// acknowledged, and finally joins the workers and the drain loops. Per-task
// failures surface only as data in the returned slice; Run returns a non-nil
// error only for pool-infrastructure failures: a worker crash
// ([*CrashError]), a failed handler setup, or a canceled context.
func (p *Pool[Q, R]) Run(ctx context.Context, reqs []Q) ([]R, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(reqs)
	r := &run[Q, R]{
		pool:    p,
		id:      uuid.NewString(),
		queue:   joinq.New[workItem[Q]](p.queueCapacity),
		results: make(chan R, p.workers),
		diags:   make(chan Record, p.diagBuffer),
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range p.workers {
		g.Go(func() error {
			return r.worker(gctx, i)
		})
	}

	// Diagnostic drain. It must run concurrently with the result drain and
	// keep consuming until every worker has exited, otherwise a worker could
	// deadlock between pushing a result and emitting a record. It stops only
	// when the channel is closed below.
	diagDone := make(chan struct{})
	go func() {
		defer close(diagDone)
		for rec := range r.diags {
			p.sink.Emit(rec)
		}
	}()

	// Result drain. The submitted count is fixed before this loop starts,
	// so it terminates after exactly n receives unless the run is torn down
	// early by a worker failure or cancellation.
	p.progress.Init(n)
	collected := make(chan []R, 1)
	go func() {
		out := make([]R, 0, n)
		for len(out) < n {
			select {
			case resp := <-r.results:
				out = append(out, resp)
				p.progress.Tick(1)
			case <-gctx.Done():
				// gctx is canceled on a successful join as well, and only
				// after every worker has exited, so the final responses can
				// already be sitting in the buffered channel when Done
				// fires. Sweep them before handing the slice back.
				for len(out) < n {
					select {
					case resp := <-r.results:
						out = append(out, resp)
						p.progress.Tick(1)
					default:
						collected <- out
						return
					}
				}
				collected <- out
				return
			}
		}
		collected <- out
	}()

	// Submit every request, then one sentinel per worker, then wait for the
	// consumption acknowledgment of every enqueued item. Join returning nil
	// is the drain-detection barrier: each worker has pulled and finished
	// all of its work and consumed its sentinel.
	var runErr error
	for _, req := range reqs {
		if err := r.queue.Put(gctx, workItem[Q]{req: req}); err != nil {
			runErr = err
			break
		}
	}
	if runErr == nil {
		for range p.workers {
			if err := r.queue.Put(gctx, workItem[Q]{stop: true}); err != nil {
				runErr = err
				break
			}
		}
	}
	if runErr == nil {
		runErr = r.queue.Join(gctx)
	}

	// Join the workers with failure visibility: the first worker error (a
	// crash, a setup failure, or the cancellation it induced) wins and has
	// already canceled gctx, unblocking the queue operations above and the
	// result drain.
	if err := g.Wait(); err != nil {
		runErr = err
	}

	// All workers have exited, so no producer can touch the diagnostic
	// channel anymore; close it and wait for the drain to forward the rest.
	close(r.diags)
	<-diagDone

	out := <-collected
	p.progress.Close()

	if runErr != nil {
		return nil, runErr
	}
	return out, nil
}
