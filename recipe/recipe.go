// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package recipe implements the Recipe Assembler (spec §4.7): it
// carries the generated kernel/host source (already prefixed with its
// includes by package codegen) into the Recipe unchanged, and builds the
// init/dispose call lists alongside the exec calls it is given.
package recipe

import (
	"github.com/shapeforge/shapeforge/apicall"
	"github.com/shapeforge/shapeforge/callseq"
	"github.com/shapeforge/shapeforge/plan"
	"github.com/shapeforge/shapeforge/sched"
)

// Recipe is the compiler's final output (spec §6): generated source
// plus the three API-call lists a runtime harness replays.
type Recipe struct {
	KernelCode string
	HostCode   string

	InitCalls    []apicall.Call
	DisposeCalls []apicall.Call
	ExecCalls    []apicall.Call
}

// Assembler builds a Recipe from the planner, scheduler, and sequencer
// outputs. Its two flag fields let a caller override the documented
// stream/event creation defaults (non-blocking streams, timing-
// disabled blocking-sync events) without changing call sites.
type Assembler struct {
	StreamFlags apicall.StreamFlags
	EventFlags  apicall.EventFlags
	Warmup      bool
}

// NewAssembler returns an Assembler with the spec-mandated defaults and
// warmup enabled.
func NewAssembler() *Assembler {
	return &Assembler{
		StreamFlags: apicall.DefaultStreamFlags(),
		EventFlags:  apicall.DefaultEventFlags(),
		Warmup:      true,
	}
}

// Assemble builds the Recipe. kernelCode/hostCode come from package
// codegen; execCalls from callseq.Sequencer.Sequence; seq is reused
// (unscheduled) to translate the planner's warmup units directly.
func (a *Assembler) Assemble(
	planResult *plan.Result,
	schedResult *sched.Result,
	seq *callseq.Sequencer,
	execCalls []apicall.Call,
	kernelCode, hostCode string,
) *Recipe {
	eventCount := schedResult.EventObjectCount
	warmupEvent := -1
	doWarmup := a.Warmup && len(planResult.Warmup) > 0
	if doWarmup {
		warmupEvent = eventCount
		eventCount++
	}

	// init-calls = memory allocations || stream creations || event
	// creations (|| warmup calls when warmup is enabled), per spec §4.7.
	var init []apicall.Call
	for _, alloc := range planResult.Allocs {
		init = append(init, apicall.MemAlloc{AllocID: alloc.ID, ByteSize: alloc.ByteSize})
	}
	for i := range schedResult.Streams {
		init = append(init, apicall.StreamCreate{ID: i, Flags: a.StreamFlags})
	}
	for i := 0; i < eventCount; i++ {
		init = append(init, apicall.EventCreate{ID: i, Flags: a.EventFlags})
	}
	if doWarmup {
		init = append(init, seq.TranslateUnits(planResult.Warmup, 0)...)
		init = append(init,
			apicall.EventRecord{ID: warmupEvent, Stream: 0},
			apicall.EventSynchronize{ID: warmupEvent},
		)
	}

	// dispose-calls = event destroys || stream destroys || memory
	// frees, in reverse order of allocation (spec §4.7).
	var dispose []apicall.Call
	for i := eventCount - 1; i >= 0; i-- {
		dispose = append(dispose, apicall.EventDestroy{ID: i})
	}
	for i := len(schedResult.Streams) - 1; i >= 0; i-- {
		dispose = append(dispose, apicall.StreamDestroy{ID: i})
	}
	for i := len(planResult.Allocs) - 1; i >= 0; i-- {
		dispose = append(dispose, apicall.MemFree{AllocID: planResult.Allocs[i].ID})
	}

	return &Recipe{
		KernelCode:   kernelCode,
		HostCode:     hostCode,
		InitCalls:    init,
		DisposeCalls: dispose,
		ExecCalls:    execCalls,
	}
}
