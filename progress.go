// Copyright (c) the taskfarm-go authors. All rights reserved.
// Licensed under the MIT License.

package taskfarm

// Progress is the interface consumed by an external progress-rendering
// widget. [Pool.Run] calls Init with the submitted task count before any
// result arrives, Tick(1) for every collected response, and Close exactly
// once before returning. The calls are fully ordered: Init happens before
// the first Tick, Ticks are serial, and Close happens after the last Tick,
// so implementations need not be safe for concurrent use.
type Progress interface {
	Init(total int)
	Tick(n int)
	Close()
}

// NopProgress is the default [Progress] implementation. It discards all
// updates.
type NopProgress struct{}

func (NopProgress) Init(int) {}
func (NopProgress) Tick(int) {}
func (NopProgress) Close()   {}
