// Copyright (c) the taskfarm-go authors. All rights reserved.
// Licensed under the MIT License.

package taskfarm

import (
	"fmt"
)

type constError string

func (e constError) Error() string {
	return string(e)
}

// ErrInvalidWorkerCount is returned by [NewPool] when the requested worker
// count is less than one.
const ErrInvalidWorkerCount = constError("worker count must be at least 1")

// A ValidationError reports a malformed task-request field. It is raised at
// construction time and never reaches a worker or a channel.
type ValidationError struct {
	Field string
	Value int
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: negative value %d", e.Field, e.Value)
}

// A CrashError reports a worker that terminated without completing the
// shutdown protocol: its handler (or handler setup) panicked. A crash is
// fatal to the current [Pool.Run]; per-task failures are instead reported as
// data via [RecoverFunc].
type CrashError struct {
	Worker int
	Value  any // the recovered panic value
}

func (e *CrashError) Error() string {
	return fmt.Sprintf("worker %d crashed: %v", e.Worker, e.Value)
}

// Unwrap exposes the panic value when it was itself an error.
func (e *CrashError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
