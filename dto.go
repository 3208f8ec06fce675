// Copyright (c) the taskfarm-go authors. All rights reserved.
// Licensed under the MIT License.

package taskfarm

// A TaskRequest is the reference unit of work exchanged over a pool's work
// queue. It is an immutable value record: create one with [NewTaskRequest]
// and do not modify it afterwards. The pool core is generic over the
// request/response pair; TaskRequest and [TaskResponse] are the
// instantiation used by the bundled command and the test suite.
type TaskRequest struct {
	// RequestValue is the task input and doubles as the correlation key
	// between a request and its response.
	RequestValue int

	// DummyValue simulates a variable per-task payload. It has no effect on
	// the computed result.
	DummyValue int
}

// NewTaskRequest builds a validated TaskRequest. It returns a
// [*ValidationError] if either field is negative.
func NewTaskRequest(requestValue, dummyValue int) (TaskRequest, error) {
	if requestValue < 0 {
		return TaskRequest{}, &ValidationError{Field: "RequestValue", Value: requestValue}
	}
	if dummyValue < 0 {
		return TaskRequest{}, &ValidationError{Field: "DummyValue", Value: dummyValue}
	}
	return TaskRequest{RequestValue: requestValue, DummyValue: dummyValue}, nil
}

// A TaskResponse is the reference result record delivered over a pool's
// result channel. IsSuccess reports whether the worker computed a result or
// caught a task-level failure; a false value is ordinary data, not a
// transport error, and never aborts the batch.
type TaskResponse struct {
	// RequestValue echoes the originating request for correlation.
	RequestValue int

	ResponseValue int
	IsSuccess     bool
}
