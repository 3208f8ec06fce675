// Copyright (c) the taskfarm-go authors. All rights reserved.
// Licensed under the MIT License.

// Package taskfarm distributes a batch of independent, computationally
// expensive tasks across a fixed-size pool of long-lived workers. It is
// intended for workloads where per-worker setup (loading a model, opening a
// connection, warming a cache) is expensive and should be amortized over many
// tasks rather than paid once per task.
//
// A [Pool] owns three channels: a work queue from the coordinator to the
// workers, a result channel from the workers back to the coordinator, and a
// diagnostic channel over which workers relay structured log records so that
// they can be rendered through the same path as coordinator-side logging.
// [Pool.Run] submits every request, drains results while advancing a
// [Progress] indicator, drains diagnostics concurrently into a [Sink], and
// then shuts the pool down by sending one sentinel per worker and waiting
// until each sentinel has been consumed.
//
// The computation itself is injected: each worker builds a [Handler] once at
// startup via a [NewHandlerFunc] and then applies it to every request it
// pulls from the queue. A handler error is converted into a failure response
// by the pool's [RecoverFunc] and delivered as ordinary data; only
// infrastructure faults (a panicking handler, a failed setup, a canceled
// context) abort the run.
package taskfarm
