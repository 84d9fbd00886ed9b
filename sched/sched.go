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

// Package sched implements the Stream Scheduler (spec §4.5): it assigns
// every execution unit to a stream and decides where cross-stream
// dependencies need an event wait, without yet deciding the final
// interleaved call order — that is package callseq's job.
package sched

import (
	"sort"

	"github.com/shapeforge/shapeforge/plan"
)

// CommandKind discriminates a StreamCommand.
type CommandKind int

const (
	Perform CommandKind = iota
	EmitEvent
	WaitOnEvent
	EmitRerunEvent
	WaitOnRerunEvent
)

func (k CommandKind) String() string {
	switch k {
	case Perform:
		return "Perform"
	case EmitEvent:
		return "EmitEvent"
	case WaitOnEvent:
		return "WaitOnEvent"
	case EmitRerunEvent:
		return "EmitRerunEvent"
	case WaitOnRerunEvent:
		return "WaitOnRerunEvent"
	default:
		return "Unknown"
	}
}

// Event identifies one producer-to-consumer synchronization point.
// CorrelationID is the producer unit's id; one correlation id can have
// several waiters (spec §4.5).
type Event struct {
	EventObjectID  int
	CorrelationID  int
	EmittingUnitID int
}

// StreamCommand is one entry in a per-stream command list.
type StreamCommand struct {
	Kind  CommandKind
	Unit  *plan.ExecUnit // set when Kind == Perform
	Event Event          // set for every other Kind
}

// Result is the scheduler's full output.
type Result struct {
	// Streams[i] is the ordered command list for stream i.
	Streams [][]StreamCommand
	// EventObjectCount is the total number of distinct event-object slots
	// ever allocated (the pool's high-water mark, not the live count).
	EventObjectCount int
}

// Schedule assigns every unit in units to a stream and returns the
// per-stream command lists. units must already be in a valid topological
// order (plan.Planner emits unit ids in post-order DAG-walk order, which
// satisfies this).
func Schedule(units []*plan.ExecUnit) *Result {
	s := &scheduler{
		unitByID:   map[int]*plan.ExecUnit{},
		streamOf:   map[int]int{},
		freeEvents: nil,
	}
	for _, u := range units {
		s.unitByID[u.ID] = u
	}
	s.assignStreams(units)
	s.countWaiters(units)
	s.emit(units)
	return &Result{Streams: s.streams, EventObjectCount: s.nextEvent}
}

type scheduler struct {
	unitByID map[int]*plan.ExecUnit
	streamOf map[int]int
	streams  [][]StreamCommand

	// crossWaiters[producerID] lists the consumer unit ids that depend on
	// producerID from a different stream (ordinary, pooled events).
	crossWaiters map[int][]int
	// rerunWaiters[producerID] lists consumer unit ids depending on
	// producerID via RerunAfter, regardless of stream (rerun events are
	// always explicit, never folded into same-stream ordering, since the
	// point of a rerun edge is to synchronize across loop iterations).
	rerunWaiters map[int][]int

	freeEvents []int
	nextEvent  int

	rerunEventFor map[int]int
}

// assignStreams greedily keeps each unit on the same stream as its most
// recently scheduled dependency (spec §4.5 policy), allocating a fresh
// stream for units with no dependency.
func (s *scheduler) assignStreams(units []*plan.ExecUnit) {
	order := map[int]int{} // unit id -> position in the processed sequence
	nextStream := 0
	for i, u := range units {
		order[u.ID] = i
		if len(u.DependsOn) == 0 {
			s.streamOf[u.ID] = nextStream
			nextStream++
			continue
		}
		best := u.DependsOn[0]
		for _, d := range u.DependsOn[1:] {
			if order[d] > order[best] {
				best = d
			}
		}
		s.streamOf[u.ID] = s.streamOf[best]
	}
	s.streams = make([][]StreamCommand, nextStream)
}

// countWaiters classifies every dependency edge as same-stream (implied
// by program order, no event needed) or cross-stream (needs an event),
// separately from rerun edges which always need an explicit rerun event.
func (s *scheduler) countWaiters(units []*plan.ExecUnit) {
	s.crossWaiters = map[int][]int{}
	s.rerunWaiters = map[int][]int{}
	for _, u := range units {
		for _, d := range u.DependsOn {
			if s.streamOf[d] != s.streamOf[u.ID] {
				s.crossWaiters[d] = append(s.crossWaiters[d], u.ID)
			}
		}
		for _, d := range u.RerunAfter {
			s.rerunWaiters[d] = append(s.rerunWaiters[d], u.ID)
		}
	}
}

func (s *scheduler) allocEvent() int {
	if n := len(s.freeEvents); n > 0 {
		id := s.freeEvents[n-1]
		s.freeEvents = s.freeEvents[:n-1]
		return id
	}
	id := s.nextEvent
	s.nextEvent++
	return id
}

func (s *scheduler) freeEvent(id int) {
	s.freeEvents = append(s.freeEvents, id)
}

func (s *scheduler) append(stream int, cmd StreamCommand) {
	s.streams[stream] = append(s.streams[stream], cmd)
}

// emit walks units in order, appending Perform to each one's stream and
// interleaving Emit/Wait commands for every dependency that crosses a
// stream boundary.
func (s *scheduler) emit(units []*plan.ExecUnit) {
	s.rerunEventFor = map[int]int{}

	// waiterRemaining tracks, per producer id, how many cross-stream
	// waiters (of the total computed by countWaiters) have not yet
	// consumed its event; the slot returns to the pool once this hits 0.
	waiterRemaining := map[int]int{}
	for id, waiters := range s.crossWaiters {
		waiterRemaining[id] = len(waiters)
	}
	eventForProducer := map[int]int{}

	for _, u := range units {
		stream := s.streamOf[u.ID]

		deps := append([]int{}, u.DependsOn...)
		sort.Ints(deps)
		for _, d := range deps {
			if s.streamOf[d] == stream {
				continue
			}
			evID, ok := eventForProducer[d]
			if !ok {
				continue // defensive: producer's EmitEvent not yet issued
			}
			s.append(stream, StreamCommand{Kind: WaitOnEvent, Event: Event{
				EventObjectID: evID, CorrelationID: d, EmittingUnitID: d,
			}})
			waiterRemaining[d]--
			if waiterRemaining[d] == 0 {
				s.freeEvent(evID)
			}
		}

		reruns := append([]int{}, u.RerunAfter...)
		sort.Ints(reruns)
		for _, d := range reruns {
			evID, ok := s.rerunEventFor[d]
			if !ok {
				continue
			}
			s.append(stream, StreamCommand{Kind: WaitOnRerunEvent, Event: Event{
				EventObjectID: evID, CorrelationID: d, EmittingUnitID: d,
			}})
		}

		s.append(stream, StreamCommand{Kind: Perform, Unit: u})

		if waiters := s.crossWaiters[u.ID]; len(waiters) > 0 {
			evID := s.allocEvent()
			eventForProducer[u.ID] = evID
			s.append(stream, StreamCommand{Kind: EmitEvent, Event: Event{
				EventObjectID: evID, CorrelationID: u.ID, EmittingUnitID: u.ID,
			}})
		}
		if waiters := s.rerunWaiters[u.ID]; len(waiters) > 0 {
			evID := s.allocEvent()
			s.rerunEventFor[u.ID] = evID
			s.append(stream, StreamCommand{Kind: EmitRerunEvent, Event: Event{
				EventObjectID: evID, CorrelationID: u.ID, EmittingUnitID: u.ID,
			}})
		}
	}
}
