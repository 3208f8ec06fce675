// Copyright (c) the taskfarm-go authors. All rights reserved.
// Licensed under the MIT License.

package taskfarm_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	taskfarm "github.com/tetutaro/taskfarm-go"
)

// doubling is the reference compute strategy used throughout the tests:
// response_value = request_value * 2, always successful.
func doubling(ctx context.Context, env *taskfarm.WorkerEnv) (taskfarm.Handler[taskfarm.TaskRequest, taskfarm.TaskResponse], error) {
	return taskfarm.HandlerFunc[taskfarm.TaskRequest, taskfarm.TaskResponse](
		func(ctx context.Context, req taskfarm.TaskRequest) (taskfarm.TaskResponse, error) {
			return taskfarm.TaskResponse{
				RequestValue:  req.RequestValue,
				ResponseValue: req.RequestValue * 2,
				IsSuccess:     true,
			}, nil
		},
	), nil
}

func failureResponse(req taskfarm.TaskRequest, err error) taskfarm.TaskResponse {
	return taskfarm.TaskResponse{RequestValue: req.RequestValue, IsSuccess: false}
}

func makeRequests(t *testing.T, n int) []taskfarm.TaskRequest {
	t.Helper()
	reqs := make([]taskfarm.TaskRequest, 0, n)
	for i := range n {
		req, err := taskfarm.NewTaskRequest(i, 0)
		require.NoError(t, err)
		reqs = append(reqs, req)
	}
	return reqs
}

func TestRunComputesAllResponses(t *testing.T) {
	chk := require.New(t)
	ctx := context.Background()

	pool, err := taskfarm.NewPool(3, doubling, failureResponse)
	chk.NoError(err)

	resps, err := pool.Run(ctx, makeRequests(t, 10))
	chk.NoError(err)
	chk.Len(resps, 10)

	seen := make(map[int]taskfarm.TaskResponse, len(resps))
	for _, resp := range resps {
		_, dup := seen[resp.RequestValue]
		chk.False(dup, "request %d answered more than once", resp.RequestValue)
		seen[resp.RequestValue] = resp
	}
	for i := range 10 {
		resp, ok := seen[i]
		chk.True(ok, "request %d has no response", i)
		chk.True(resp.IsSuccess)
		chk.Equal(i*2, resp.ResponseValue)
	}
}

func TestRunEmptyBatch(t *testing.T) {
	chk := require.New(t)
	pool, err := taskfarm.NewPool(2, doubling, failureResponse)
	chk.NoError(err)

	resps, err := pool.Run(context.Background(), nil)
	chk.NoError(err)
	chk.Empty(resps)
}

func TestRunResponseMultisetIsPoolSizeInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 40).Draw(t, "n")

		reqs := make([]taskfarm.TaskRequest, 0, n)
		for i := range n {
			req, err := taskfarm.NewTaskRequest(i, 0)
			if err != nil {
				t.Fatal(err)
			}
			reqs = append(reqs, req)
		}

		multiset := func(workers int) map[int]int {
			pool, err := taskfarm.NewPool(workers, doubling, failureResponse)
			if err != nil {
				t.Fatal(err)
			}
			resps, err := pool.Run(context.Background(), reqs)
			if err != nil {
				t.Fatal(err)
			}
			m := make(map[int]int, len(resps))
			for _, resp := range resps {
				m[resp.ResponseValue]++
			}
			return m
		}

		reference := multiset(1)
		for _, workers := range []int{2, 8} {
			got := multiset(workers)
			if len(got) != len(reference) {
				t.Fatalf("pool size %d: %d distinct values, want %d", workers, len(got), len(reference))
			}
			for v, count := range reference {
				if got[v] != count {
					t.Fatalf("pool size %d: value %d seen %d times, want %d", workers, v, got[v], count)
				}
			}
		}
	})
}

// recordingProgress captures the Init/Tick/Close call pattern.
type recordingProgress struct {
	total  int
	inited int
	ticks  int
	closed int
}

func (p *recordingProgress) Init(total int) {
	p.total = total
	p.inited++
}

func (p *recordingProgress) Tick(n int) {
	p.ticks += n
}

func (p *recordingProgress) Close() {
	p.closed++
}

func TestProgressTicksOncePerResponse(t *testing.T) {
	chk := require.New(t)

	for _, workers := range []int{1, 2, 8} {
		progress := &recordingProgress{}
		pool, err := taskfarm.NewPool(workers, doubling, failureResponse,
			taskfarm.WithProgress(progress))
		chk.NoError(err)

		_, err = pool.Run(context.Background(), makeRequests(t, 17))
		chk.NoError(err)

		chk.Equal(1, progress.inited)
		chk.Equal(17, progress.total)
		chk.Equal(17, progress.ticks)
		chk.Equal(1, progress.closed)
	}
}

// slowProgress stalls in Tick so that the workers finish and join while the
// result drain is still busy rendering.
type slowProgress struct {
	recordingProgress
}

func (p *slowProgress) Tick(n int) {
	time.Sleep(20 * time.Millisecond)
	p.recordingProgress.Tick(n)
}

func TestRunDeliversEveryResponseDespiteSlowProgress(t *testing.T) {
	chk := require.New(t)

	// A Tick that outlives the workers opens a window in which the final
	// responses sit in the buffered result channel while the run is already
	// joined; none of them, and none of their ticks, may be dropped.
	progress := &slowProgress{}
	pool, err := taskfarm.NewPool(3, doubling, failureResponse,
		taskfarm.WithProgress(progress))
	chk.NoError(err)

	const n = 10
	resps, err := pool.Run(context.Background(), makeRequests(t, n))
	chk.NoError(err)
	chk.Len(resps, n)
	chk.Equal(n, progress.ticks)
	chk.Equal(1, progress.closed)
}

func TestRunBoundedQueueBackPressure(t *testing.T) {
	chk := require.New(t)

	// Handlers slower than the submission loop keep the capacity-one queue
	// full for most of the run, so nearly every Put has to wait for a Get.
	newHandler := func(ctx context.Context, env *taskfarm.WorkerEnv) (taskfarm.Handler[taskfarm.TaskRequest, taskfarm.TaskResponse], error) {
		return taskfarm.HandlerFunc[taskfarm.TaskRequest, taskfarm.TaskResponse](
			func(ctx context.Context, req taskfarm.TaskRequest) (taskfarm.TaskResponse, error) {
				time.Sleep(5 * time.Millisecond)
				return taskfarm.TaskResponse{
					RequestValue:  req.RequestValue,
					ResponseValue: req.RequestValue * 2,
					IsSuccess:     true,
				}, nil
			},
		), nil
	}

	pool, err := taskfarm.NewPool(2, newHandler, failureResponse,
		taskfarm.WithQueueCapacity(1))
	chk.NoError(err)

	const n = 12
	resps, err := pool.Run(context.Background(), makeRequests(t, n))
	chk.NoError(err)
	chk.Len(resps, n)

	seen := make(map[int]bool, n)
	for _, resp := range resps {
		chk.False(seen[resp.RequestValue], "request %d answered more than once", resp.RequestValue)
		seen[resp.RequestValue] = true
		chk.Equal(resp.RequestValue*2, resp.ResponseValue)
	}
	chk.Len(seen, n)
}

func TestDiagnosticRelayPreservesWorkerOrder(t *testing.T) {
	chk := require.New(t)

	// Each worker stamps its records with a private sequence number; the
	// sink must observe every worker's records in emission order even
	// though records from different workers interleave.
	newHandler := func(ctx context.Context, env *taskfarm.WorkerEnv) (taskfarm.Handler[taskfarm.TaskRequest, taskfarm.TaskResponse], error) {
		seq := 0
		return taskfarm.HandlerFunc[taskfarm.TaskRequest, taskfarm.TaskResponse](
			func(ctx context.Context, req taskfarm.TaskRequest) (taskfarm.TaskResponse, error) {
				env.Diag.Debugf("seq %d", seq)
				seq++
				env.Diag.Debugf("seq %d", seq)
				seq++
				return taskfarm.TaskResponse{RequestValue: req.RequestValue, IsSuccess: true}, nil
			},
		), nil
	}

	var records []taskfarm.Record
	sink := taskfarm.SinkFunc(func(rec taskfarm.Record) {
		records = append(records, rec)
	})

	pool, err := taskfarm.NewPool(3, newHandler, failureResponse, taskfarm.WithSink(sink))
	chk.NoError(err)

	const n = 24
	_, err = pool.Run(context.Background(), makeRequests(t, n))
	chk.NoError(err)
	chk.Len(records, 2*n)

	perWorker := make(map[int][]string)
	for _, rec := range records {
		chk.NotEmpty(rec.RunID)
		chk.False(rec.Time.IsZero())
		perWorker[rec.Worker] = append(perWorker[rec.Worker], rec.Message)
	}
	for worker, messages := range perWorker {
		for i, msg := range messages {
			chk.Equalf(fmt.Sprintf("seq %d", i), msg, "worker %d record %d out of order", worker, i)
		}
	}
}

func TestTaskFailureIsDataNotError(t *testing.T) {
	chk := require.New(t)

	// DummyValue 99 poisons the compute function, standing in for a task
	// that fails during heavy computation.
	const poison = 99
	newHandler := func(ctx context.Context, env *taskfarm.WorkerEnv) (taskfarm.Handler[taskfarm.TaskRequest, taskfarm.TaskResponse], error) {
		return taskfarm.HandlerFunc[taskfarm.TaskRequest, taskfarm.TaskResponse](
			func(ctx context.Context, req taskfarm.TaskRequest) (taskfarm.TaskResponse, error) {
				if req.DummyValue == poison {
					return taskfarm.TaskResponse{}, errors.New("compute blew up")
				}
				return taskfarm.TaskResponse{
					RequestValue:  req.RequestValue,
					ResponseValue: req.RequestValue * 2,
					IsSuccess:     true,
				}, nil
			},
		), nil
	}

	reqs := makeRequests(t, 10)
	bad, err := taskfarm.NewTaskRequest(4, poison)
	chk.NoError(err)
	reqs[4] = bad

	pool, err := taskfarm.NewPool(3, newHandler, failureResponse)
	chk.NoError(err)

	resps, err := pool.Run(context.Background(), reqs)
	chk.NoError(err)
	chk.Len(resps, 10)

	for _, resp := range resps {
		if resp.RequestValue == 4 {
			chk.False(resp.IsSuccess)
		} else {
			chk.True(resp.IsSuccess)
		}
	}
}

func TestWorkerCrashFailsRun(t *testing.T) {
	chk := require.New(t)

	newHandler := func(ctx context.Context, env *taskfarm.WorkerEnv) (taskfarm.Handler[taskfarm.TaskRequest, taskfarm.TaskResponse], error) {
		return taskfarm.HandlerFunc[taskfarm.TaskRequest, taskfarm.TaskResponse](
			func(ctx context.Context, req taskfarm.TaskRequest) (taskfarm.TaskResponse, error) {
				if req.RequestValue == 3 {
					panic("handler fault")
				}
				return taskfarm.TaskResponse{RequestValue: req.RequestValue, IsSuccess: true}, nil
			},
		), nil
	}

	pool, err := taskfarm.NewPool(2, newHandler, failureResponse)
	chk.NoError(err)

	resps, err := pool.Run(context.Background(), makeRequests(t, 8))
	chk.Error(err)
	chk.Nil(resps)

	var crash *taskfarm.CrashError
	chk.ErrorAs(err, &crash)
	chk.Equal("handler fault", crash.Value)
}

func TestHandlerSetupFailureFailsRun(t *testing.T) {
	chk := require.New(t)

	setupErr := errors.New("model not found")
	newHandler := func(ctx context.Context, env *taskfarm.WorkerEnv) (taskfarm.Handler[taskfarm.TaskRequest, taskfarm.TaskResponse], error) {
		return nil, setupErr
	}

	pool, err := taskfarm.NewPool(2, newHandler, failureResponse)
	chk.NoError(err)

	_, err = pool.Run(context.Background(), makeRequests(t, 4))
	chk.ErrorIs(err, setupErr)
}

func TestRunCanceledContext(t *testing.T) {
	chk := require.New(t)

	pool, err := taskfarm.NewPool(2, doubling, failureResponse)
	chk.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = pool.Run(ctx, makeRequests(t, 4))
	chk.ErrorIs(err, context.Canceled)
}

// closeCounter counts Close calls to verify that every worker releases its
// handler exactly once on shutdown.
type closeCounter struct {
	closes *atomic.Int64
}

func (h *closeCounter) Handle(ctx context.Context, req taskfarm.TaskRequest) (taskfarm.TaskResponse, error) {
	return taskfarm.TaskResponse{RequestValue: req.RequestValue, IsSuccess: true}, nil
}

func (h *closeCounter) Close() error {
	h.closes.Add(1)
	return nil
}

func TestShutdownClosesEveryHandler(t *testing.T) {
	chk := require.New(t)

	var closes atomic.Int64
	newHandler := func(ctx context.Context, env *taskfarm.WorkerEnv) (taskfarm.Handler[taskfarm.TaskRequest, taskfarm.TaskResponse], error) {
		return &closeCounter{closes: &closes}, nil
	}

	const workers = 5
	pool, err := taskfarm.NewPool(workers, newHandler, failureResponse)
	chk.NoError(err)

	_, err = pool.Run(context.Background(), makeRequests(t, 20))
	chk.NoError(err)
	chk.Equal(int64(workers), closes.Load())
}

func TestPoolIsReusable(t *testing.T) {
	chk := require.New(t)

	pool, err := taskfarm.NewPool(2, doubling, failureResponse)
	chk.NoError(err)

	for range 3 {
		resps, err := pool.Run(context.Background(), makeRequests(t, 6))
		chk.NoError(err)
		chk.Len(resps, 6)
	}
}

func TestNewPoolInvalidWorkerCount(t *testing.T) {
	chk := require.New(t)

	for _, workers := range []int{0, -1, -100} {
		_, err := taskfarm.NewPool(workers, doubling, failureResponse)
		chk.ErrorIs(err, taskfarm.ErrInvalidWorkerCount)
	}
}

func TestNewPoolNilFuncPanics(t *testing.T) {
	chk := require.New(t)

	chk.PanicsWithValue("handler factory must be non-nil", func() {
		_, _ = taskfarm.NewPool[taskfarm.TaskRequest, taskfarm.TaskResponse](1, nil, failureResponse)
	})
	chk.PanicsWithValue("recover function must be non-nil", func() {
		_, _ = taskfarm.NewPool(1, doubling, nil)
	})
}

func TestWorkersAccessor(t *testing.T) {
	chk := require.New(t)
	pool, err := taskfarm.NewPool(7, doubling, failureResponse)
	chk.NoError(err)
	chk.Equal(7, pool.Workers())
}
