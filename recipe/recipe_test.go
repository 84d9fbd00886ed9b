package recipe_test

import (
	"testing"

	"github.com/shapeforge/shapeforge/apicall"
	"github.com/shapeforge/shapeforge/callseq"
	"github.com/shapeforge/shapeforge/plan"
	"github.com/shapeforge/shapeforge/recipe"
	"github.com/shapeforge/shapeforge/sched"
)

func TestAssembleIncludesWarmupAndReverseDispose(t *testing.T) {
	planResult := &plan.Result{
		Allocs: []*plan.MemAlloc{{ID: 0, ByteSize: 16}, {ID: 1, ByteSize: 32}},
		Warmup: []*plan.ExecUnit{{ID: 0, Ops: []plan.PrimitiveOp{plan.Memset{Value: 0, Dst: &plan.Manikin{Dims: []int64{4}}}}}},
	}
	schedResult := &sched.Result{Streams: [][]sched.StreamCommand{{}, {}}, EventObjectCount: 2}
	seq := callseq.NewSequencer(callseq.NewTemplateCache())
	a := recipe.NewAssembler()

	r := a.Assemble(planResult, schedResult, seq, nil, "// kernel", "// host")

	if r.KernelCode != "// kernel" || r.HostCode != "// host" {
		t.Fatalf("source code not carried through unchanged")
	}

	// init: 2 MemAlloc, 2 StreamCreate, 3 EventCreate (2 scheduled + 1
	// warmup), 1 warmup Memset, EventRecord, EventSynchronize.
	var allocs, streamCreates, eventCreates, records, syncs int
	for _, c := range r.InitCalls {
		switch c.(type) {
		case apicall.MemAlloc:
			allocs++
		case apicall.StreamCreate:
			streamCreates++
		case apicall.EventCreate:
			eventCreates++
		case apicall.EventRecord:
			records++
		case apicall.EventSynchronize:
			syncs++
		}
	}
	if allocs != 2 {
		t.Errorf("MemAlloc count = %d, want 2", allocs)
	}
	if streamCreates != 2 {
		t.Errorf("StreamCreate count = %d, want 2", streamCreates)
	}
	if eventCreates != 3 {
		t.Errorf("EventCreate count = %d, want 3 (2 scheduled + 1 warmup)", eventCreates)
	}
	if records != 1 || syncs != 1 {
		t.Errorf("expected exactly one warmup EventRecord and EventSynchronize, got %d/%d", records, syncs)
	}
	// The warmup EventRecord/EventSynchronize must target the event id
	// allocated after the scheduler's own events (id 2, since
	// EventObjectCount was 2).
	lastTwo := r.InitCalls[len(r.InitCalls)-2:]
	if er, ok := lastTwo[0].(apicall.EventRecord); !ok || er.ID != 2 {
		t.Errorf("warmup EventRecord = %+v, want ID 2", lastTwo[0])
	}
	if es, ok := lastTwo[1].(apicall.EventSynchronize); !ok || es.ID != 2 {
		t.Errorf("warmup EventSynchronize = %+v, want ID 2", lastTwo[1])
	}

	// dispose: 3 EventDestroy (ids 2,1,0) then 2 StreamDestroy (ids 1,0)
	// then 2 MemFree (ids 1,0), each block in descending id order.
	wantKinds := []string{"EventDestroy", "EventDestroy", "EventDestroy", "StreamDestroy", "StreamDestroy", "MemFree", "MemFree"}
	if len(r.DisposeCalls) != len(wantKinds) {
		t.Fatalf("got %d dispose calls, want %d", len(r.DisposeCalls), len(wantKinds))
	}
	for i, c := range r.DisposeCalls {
		if c.Verb() != wantKinds[i] {
			t.Errorf("DisposeCalls[%d].Verb() = %q, want %q", i, c.Verb(), wantKinds[i])
		}
	}
	if ed, ok := r.DisposeCalls[0].(apicall.EventDestroy); !ok || ed.ID != 2 {
		t.Errorf("first EventDestroy = %+v, want ID 2 (reverse order)", r.DisposeCalls[0])
	}
}

func TestAssembleSkipsWarmupWhenDisabled(t *testing.T) {
	planResult := &plan.Result{
		Warmup: []*plan.ExecUnit{{ID: 0, Ops: []plan.PrimitiveOp{plan.Memset{Value: 0, Dst: &plan.Manikin{Dims: []int64{4}}}}}},
	}
	schedResult := &sched.Result{Streams: nil, EventObjectCount: 0}
	seq := callseq.NewSequencer(callseq.NewTemplateCache())
	a := &recipe.Assembler{StreamFlags: apicall.DefaultStreamFlags(), EventFlags: apicall.DefaultEventFlags(), Warmup: false}

	r := a.Assemble(planResult, schedResult, seq, nil, "", "")
	for _, c := range r.InitCalls {
		if c.Verb() == "EventRecord" || c.Verb() == "EventSynchronize" {
			t.Errorf("warmup disabled should emit no EventRecord/EventSynchronize, found %s", c.Verb())
		}
	}
}

func TestAssembleSkipsWarmupWhenNoWarmupUnits(t *testing.T) {
	planResult := &plan.Result{}
	schedResult := &sched.Result{EventObjectCount: 0}
	seq := callseq.NewSequencer(callseq.NewTemplateCache())
	a := recipe.NewAssembler()

	r := a.Assemble(planResult, schedResult, seq, nil, "", "")
	if len(r.InitCalls) != 0 {
		t.Errorf("no allocs/streams/events/warmup should yield zero init calls, got %d", len(r.InitCalls))
	}
	if len(r.DisposeCalls) != 0 {
		t.Errorf("no allocs/streams/events should yield zero dispose calls, got %d", len(r.DisposeCalls))
	}
}
