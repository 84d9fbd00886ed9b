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

// Package callseq implements the Call Sequencer (spec §4.6): it drains
// the Stream Scheduler's per-stream command lists into one linear list
// of device API calls, resolving cross-stream synchronization via a
// greedy readiness/tie-break loop, and assigns C-linkage symbols to
// templated kernel/host functions along the way via TemplateCache.
package callseq

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/shapeforge/shapeforge/apicall"
	"github.com/shapeforge/shapeforge/base/iter"
	"github.com/shapeforge/shapeforge/base/stringseq"
	"github.com/shapeforge/shapeforge/compileerr"
	"github.com/shapeforge/shapeforge/dtype"
	"github.com/shapeforge/shapeforge/plan"
	"github.com/shapeforge/shapeforge/sched"
)

// Sequencer drains scheduler output into a linear exec-calls list.
type Sequencer struct {
	cache *TemplateCache
}

// NewSequencer returns a sequencer that assigns template symbols into
// cache (typically a freshly created, per-recipe TemplateCache).
func NewSequencer(cache *TemplateCache) *Sequencer {
	return &Sequencer{cache: cache}
}

type activeEvent struct {
	correlationID int
	remaining     int
}

// Sequence runs the core loop of spec §4.6 over streams, returning the
// device API calls in the order they must execute.
func (sq *Sequencer) Sequence(streams [][]sched.StreamCommand) ([]apicall.Call, error) {
	pos := make([]int, len(streams))
	recency := make([]int, len(streams))
	for i := range recency {
		recency[i] = -1
	}
	active := map[int]*activeEvent{}

	waiterCounts := map[int]int{}
	remaining := 0
	for _, s := range streams {
		remaining += len(s)
		for _, c := range s {
			if c.Kind == sched.WaitOnEvent {
				waiterCounts[c.Event.CorrelationID]++
			}
		}
	}

	var calls []apicall.Call
	tick := 0
	for remaining > 0 {
		i, ok := sq.pickReady(streams, pos, recency, active)
		if !ok {
			return nil, deadlockError(streams, pos)
		}
		cmd := streams[i][pos[i]]
		switch cmd.Kind {
		case sched.Perform:
			calls = append(calls, sq.translate(cmd.Unit, i)...)
		case sched.EmitEvent:
			active[cmd.Event.EventObjectID] = &activeEvent{
				correlationID: cmd.Event.CorrelationID,
				remaining:     waiterCounts[cmd.Event.CorrelationID],
			}
			calls = append(calls, apicall.EventRecord{ID: cmd.Event.EventObjectID, Stream: i})
		case sched.WaitOnEvent:
			calls = append(calls, apicall.StreamWaitEvent{Stream: i, EventObject: cmd.Event.EventObjectID})
			ae := active[cmd.Event.EventObjectID]
			ae.remaining--
			if ae.remaining <= 0 {
				delete(active, cmd.Event.EventObjectID)
			}
		case sched.EmitRerunEvent:
			calls = append(calls, apicall.EventRecord{ID: cmd.Event.EventObjectID, Stream: i})
		case sched.WaitOnRerunEvent:
			calls = append(calls, apicall.StreamWaitEvent{Stream: i, EventObject: cmd.Event.EventObjectID})
		}
		pos[i]++
		recency[i] = tick
		tick++
		remaining--
	}
	return calls, nil
}

// pickReady finds the readiest stream per spec §4.6 steps 3-4: among
// streams whose head command is ready, prefer least-recently-used
// (lowest recency, ties broken by stream index), then bias by ±1000 so
// an imminent EmitEvent is deprioritized and an imminent WaitOnEvent is
// prioritized.
func (sq *Sequencer) pickReady(streams [][]sched.StreamCommand, pos, recency []int, active map[int]*activeEvent) (int, bool) {
	best := -1
	bestScore := 0
	for i, s := range streams {
		if pos[i] >= len(s) {
			continue
		}
		cmd := s[pos[i]]
		if !sq.isReady(cmd, active) {
			continue
		}
		score := recency[i]
		switch cmd.Kind {
		case sched.EmitEvent:
			score += 1000
		case sched.WaitOnEvent:
			score -= 1000
		}
		if best == -1 || score < bestScore {
			best, bestScore = i, score
		}
	}
	return best, best != -1
}

func (sq *Sequencer) isReady(cmd sched.StreamCommand, active map[int]*activeEvent) bool {
	switch cmd.Kind {
	case sched.Perform, sched.EmitRerunEvent, sched.WaitOnRerunEvent:
		return true
	case sched.WaitOnEvent:
		ae, ok := active[cmd.Event.EventObjectID]
		return ok && ae.correlationID == cmd.Event.CorrelationID
	case sched.EmitEvent:
		_, occupied := active[cmd.Event.EventObjectID]
		return !occupied
	default:
		return false
	}
}

func deadlockError(streams [][]sched.StreamCommand, pos []int) error {
	var b strings.Builder
	for i, s := range streams {
		if pos[i] >= len(s) {
			continue
		}
		fmt.Fprintf(&b, "stream %d stuck at %s; ", i, s[pos[i]].Kind)
	}
	return compileerr.New(compileerr.SchedulerDeadlock, "callseq.Sequence", "%s", b.String())
}

// TranslateUnits lowers units directly into device API calls on the
// given stream, bypassing stream scheduling and event synchronization.
// Used for warmup units (spec §4.4 step 3's host-to-device mirroring),
// which run once during init, strictly before any scheduled exec call,
// so they need no cross-stream synchronization of their own.
func (sq *Sequencer) TranslateUnits(units []*plan.ExecUnit, stream int) []apicall.Call {
	var calls []apicall.Call
	for _, u := range units {
		calls = append(calls, sq.translate(u, stream)...)
	}
	return calls
}

// translate lowers one execution unit's primitive ops into device API
// calls on the given stream index.
func (sq *Sequencer) translate(u *plan.ExecUnit, stream int) []apicall.Call {
	var calls []apicall.Call
	for _, op := range u.Ops {
		calls = append(calls, sq.translateOp(op, stream)...)
	}
	return calls
}

func (sq *Sequencer) translateOp(op plan.PrimitiveOp, stream int) []apicall.Call {
	switch o := op.(type) {
	case plan.LaunchKernel:
		key := TemplateKey{
			FunctionName: o.Functor, Domain: "kernel",
			TemplateArgs: o.Result.DType.String(),
			ReturnType:   "void",
			ArgTypes:     argTypes(o.Args, o.Result),
		}
		sym := sq.cache.Symbol(key)
		return []apicall.Call{apicall.LaunchCPPKernel{
			TemplateInst: sym,
			WorkDim:      workDim(o.Result),
			Stream:       stream,
			Args:         manikinArgs(o.Args, o.Result),
		}}
	case plan.CallCFunc:
		key := TemplateKey{
			FunctionName: o.Name, Domain: "host",
			TemplateArgs: o.Result.DType.String(),
			ReturnType:   "void",
			ArgTypes:     argTypes(o.Args, o.Result),
		}
		sym := sq.cache.Symbol(key)
		return []apicall.Call{apicall.CallCFunc{
			Name: sym, DelegateType: o.DelegateType, Stream: stream,
			Args: manikinArgs(o.Args, o.Result),
		}}
	case plan.MemcpyDtoD:
		return []apicall.Call{apicall.MemcpyAsync{
			Dst: manikinPtr(o.Dst), Src: manikinPtr(o.Src),
			ByteSize: byteSize(o.Dst), Stream: stream,
		}}
	case plan.MemcpyHtoD:
		return []apicall.Call{apicall.MemcpyHtoDAsync{
			Dst: manikinPtr(o.Dst), HostSrc: manikinPtr(o.Src),
			ByteSize: byteSize(o.Dst), Stream: stream,
		}}
	case plan.MemcpyDtoH:
		return []apicall.Call{apicall.MemcpyDtoHAsync{
			HostDst: manikinPtr(o.Dst), Src: manikinPtr(o.Src),
			ByteSize: byteSize(o.Dst), Stream: stream,
		}}
	case plan.Memset:
		return []apicall.Call{apicall.MemsetD32Async{
			Dst: manikinPtr(o.Dst), Value: bitPattern(o.Value, o.Dst.DType),
			NumWords: numElements(o.Dst.Dims), Stream: stream,
		}}
	case plan.BlasGemm:
		return []apicall.Call{apicall.BlasGemm{
			OpA: o.OpA, OpB: o.OpB, Alpha: o.Alpha, Beta: o.Beta,
			A: manikinPtr(o.A), B: manikinPtr(o.B), C: manikinPtr(o.C),
			M: o.M, N: o.N, K: o.K, Stream: stream,
		}}
	case plan.Trace:
		return []apicall.Call{apicall.Trace{NodeText: o.NodeText, Result: manikinPtr(o.Result)}}
	default:
		return nil
	}
}

// bitPattern returns the 32-bit word MemsetD32Async should fill with,
// reinterpreting value's bits rather than truncating it numerically:
// 1.0 as a float32 is the bit pattern 0x3F800000, not the integer 1.
// Zero fills (by far the common case, from Zeros) are correct
// regardless of dtype, since the all-zero bit pattern is width-
// independent; non-zero fills of a type wider than 32 bits are outside
// what the closed apicall set's single memset verb can express exactly.
func bitPattern(value float64, dt dtype.TypeName) uint32 {
	switch dt {
	case dtype.Float32:
		return math.Float32bits(float32(value))
	case dtype.Int32:
		return uint32(int32(value))
	default:
		return uint32(int64(value))
	}
}

func workDim(m *plan.Manikin) [3]int64 {
	return [3]int64{numElements(m.Dims), 1, 1}
}

func numElements(dims []int64) int64 {
	n := int64(1)
	for _, d := range dims {
		n *= d
	}
	return n
}

func byteSize(m *plan.Manikin) int64 {
	return numElements(m.Dims) * int64(m.DType.ByteSize())
}

func argTypes(args []*plan.Manikin, result *plan.Manikin) string {
	names := make([]string, 0, len(args)+1)
	for m := range iter.All(args, []*plan.Manikin{result}) {
		names = append(names, m.DType.String())
	}
	return stringseq.Join(slices.Values(names), ",")
}

func manikinPtr(m *plan.Manikin) apicall.Ptr {
	if m.Storage.Kind == plan.StorageVariable {
		return apicall.Ptr{VarName: m.Storage.Var.Name, IsVariable: true, OffsetElem: m.Offset}
	}
	return apicall.Ptr{AllocID: m.Storage.AllocID, OffsetElem: m.Offset}
}

func manikinArg(m *plan.Manikin) apicall.Arg {
	return apicall.Arg{Ptr: manikinPtr(m), IsPtr: true}
}

func manikinArgs(args []*plan.Manikin, result *plan.Manikin) []apicall.Arg {
	var out []apicall.Arg
	for m := range iter.All(args, []*plan.Manikin{result}) {
		out = append(out, manikinArg(m))
	}
	return out
}
