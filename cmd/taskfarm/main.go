// Copyright (c) the taskfarm-go authors. All rights reserved.
// Licensed under the MIT License.

// Command taskfarm runs a demonstration batch through a worker pool: it
// submits a dozen integer tasks, computes the square of each input with a
// randomized per-task delay standing in for real work, renders a progress
// bar while results arrive, and relays worker diagnostics through the main
// logger.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"runtime"
	"sort"
	"time"

	"github.com/schollz/progressbar/v3"

	taskfarm "github.com/tetutaro/taskfarm-go"
)

const taskCount = 12

func main() {
	nchild := flag.Int("n", -1, "number of workers (default: number of CPUs - 1)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	if err := run(context.Background(), logger, workerCount(*nchild, runtime.NumCPU())); err != nil {
		logger.Error("pool failed", "error", err)
		os.Exit(1)
	}
}

// workerCount resolves the -n flag against the machine's CPU count: a value
// outside [1, cpus-1] falls back to cpus-1, with a floor of one worker on
// single-CPU machines.
func workerCount(n, cpus int) int {
	def := cpus - 1
	if def < 1 {
		def = 1
	}
	if n < 1 || n > def {
		return def
	}
	return n
}

func run(ctx context.Context, logger *slog.Logger, workers int) error {
	reqs := make([]taskfarm.TaskRequest, 0, taskCount)
	for i := range taskCount {
		req, err := taskfarm.NewTaskRequest(i+1, i+2)
		if err != nil {
			logger.Warn("skipping malformed request", "error", err)
			continue
		}
		reqs = append(reqs, req)
	}

	pool, err := taskfarm.NewPool(
		workers,
		newSquareHandler,
		failureResponse,
		taskfarm.WithProgress(&barProgress{}),
		taskfarm.WithSink(taskfarm.NewSlogSink(logger)),
	)
	if err != nil {
		return err
	}

	logger.Info("dispatching tasks to workers", "tasks", len(reqs), "workers", workers)
	start := time.Now()
	resps, err := pool.Run(ctx, reqs)
	if err != nil {
		return err
	}
	logger.Info("workers have finished", "duration", time.Since(start).Round(time.Millisecond))

	sort.Slice(resps, func(i, j int) bool {
		return resps[i].RequestValue < resps[j].RequestValue
	})
	for _, resp := range resps {
		if !resp.IsSuccess {
			logger.Error("task failed", "request", resp.RequestValue)
			continue
		}
		if want := resp.RequestValue * resp.RequestValue; resp.ResponseValue != want {
			return fmt.Errorf("request %d: expected %d, got %d",
				resp.RequestValue, want, resp.ResponseValue)
		}
	}
	return nil
}

// squareHandler squares each request value after a randomized delay that
// simulates per-task computational cost.
type squareHandler struct {
	diag *taskfarm.Diagnostics
}

func newSquareHandler(ctx context.Context, env *taskfarm.WorkerEnv) (taskfarm.Handler[taskfarm.TaskRequest, taskfarm.TaskResponse], error) {
	// Stand-in for one-time expensive setup such as model loading.
	env.Diag.Infof("worker %d ready", env.Index)
	return &squareHandler{diag: env.Diag}, nil
}

func (h *squareHandler) Handle(ctx context.Context, req taskfarm.TaskRequest) (taskfarm.TaskResponse, error) {
	delay := time.Duration(100+rand.IntN(200)) * time.Millisecond
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return taskfarm.TaskResponse{}, ctx.Err()
	}
	res := req.RequestValue * req.RequestValue
	h.diag.Debugf("req(%d) -> res(%d)", req.RequestValue, res)
	return taskfarm.TaskResponse{
		RequestValue:  req.RequestValue,
		ResponseValue: res,
		IsSuccess:     true,
	}, nil
}

func (h *squareHandler) Close() error {
	h.diag.Infof("worker shutting down")
	return nil
}

func failureResponse(req taskfarm.TaskRequest, err error) taskfarm.TaskResponse {
	return taskfarm.TaskResponse{RequestValue: req.RequestValue, IsSuccess: false}
}

// barProgress adapts the schollz progress bar to the pool's Progress
// interface.
type barProgress struct {
	bar *progressbar.ProgressBar
}

func (p *barProgress) Init(total int) {
	p.bar = progressbar.Default(int64(total))
}

func (p *barProgress) Tick(n int) {
	_ = p.bar.Add(n)
}

func (p *barProgress) Close() {
	_ = p.bar.Close()
}
