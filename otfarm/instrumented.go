// Copyright (c) the taskfarm-go authors. All rights reserved.
// Licensed under the MIT License.

package otfarm

import (
	"context"

	taskfarm "github.com/tetutaro/taskfarm-go"
)

// InstrumentedFactory combines tracing, metrics, and logging into a single
// wrapper around a handler factory, applied inside-out so that the span
// encloses the metric recording, which encloses the log lines.
func InstrumentedFactory[Q, R any](
	operationName string,
	newHandler taskfarm.NewHandlerFunc[Q, R],
) taskfarm.NewHandlerFunc[Q, R] {
	return TracedFactory(operationName, func(ctx context.Context, env *taskfarm.WorkerEnv) (taskfarm.Handler[Q, R], error) {
		handler, err := newHandler(ctx, env)
		if err != nil {
			return nil, err
		}
		return MeteredHandler(operationName, LoggedHandler(operationName, handler)), nil
	})
}
