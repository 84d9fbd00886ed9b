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

// Package rangespec implements per-axis range specifications used by
// Subtensor and SetSubtensor.
//
// A Simple spec is a per-axis list restricted to the symbolic-start/
// symbolic-end and dynamic-start/symbolic-size forms; this is what the
// backend's Subtensor primitive actually consumes. A Full spec additionally
// allows symbolic-element, dynamic-element, new-axis, and all-fill axes,
// and is compiled down to (Simple, []Step) describing how to reshape the
// sliced result into the shape the caller asked for.
package rangespec

import (
	"fmt"

	"github.com/shapeforge/shapeforge/compileerr"
	"github.com/shapeforge/shapeforge/symsize"
)

// DynIndex is a runtime, integer-valued index expression embedded in a
// range spec (e.g. a dynamic-start or dynamic-element axis). It is kept
// abstract here to avoid a dependency cycle with package expr, whose
// Expr nodes are the concrete values that satisfy it.
//
// Substitution into a DynIndex is performed uniformly with every other
// substitution in the graph: callers pass a SubstFunc (see Full.Subst /
// Simple.Subst) that knows how to recurse into the concrete Expr type.
// This resolves the open question noted in the reference design about
// whether substitution should reach into dynamic range indices: it does,
// via the same mechanism used for everything else.
type DynIndex interface {
	fmt.Stringer
}

// SubstFunc substitutes symbol sizes into a DynIndex, returning the
// rewritten DynIndex.
type SubstFunc func(symsize.Env, DynIndex) DynIndex

// Kind identifies which per-axis range form an Axis holds.
type Kind int

// The six per-axis range forms (spec §3).
const (
	// SymStartSymEnd: symbolic-start, symbolic-end. A Simple-spec form.
	SymStartSymEnd Kind = iota
	// DynStartSymSize: dynamic (runtime) start, symbolic size. A Simple-spec form.
	DynStartSymSize
	// SymElem: a single symbolic element, dropping the axis. Full-spec only.
	SymElem
	// DynElem: a single dynamic element, dropping the axis. Full-spec only.
	DynElem
	// NewAxis: insert a new broadcastable axis of size 1. Full-spec only.
	NewAxis
	// AllFill: a wildcard expanding to all remaining (as yet unconsumed)
	// source axes, taken in full. Full-spec only.
	AllFill
)

// Axis is one entry of a range specification.
type Axis struct {
	Kind Kind

	// SymStart, SymEnd hold the bounds for SymStartSymEnd.
	SymStart, SymEnd symsize.SizeExpr
	// DynStart holds the runtime start for DynStartSymSize and DynElem.
	DynStart DynIndex
	// DynSize holds the symbolic slice width for DynStartSymSize.
	DynSize symsize.SizeExpr
	// SymIndex holds the symbolic element index for SymElem.
	SymIndex symsize.SizeExpr
}

// SymRange returns a SymStartSymEnd axis over [start, end).
func SymRange(start, end symsize.SizeExpr) Axis {
	return Axis{Kind: SymStartSymEnd, SymStart: start, SymEnd: end}
}

// DynRange returns a DynStartSymSize axis starting at the runtime index
// start, with symbolic width size.
func DynRange(start DynIndex, size symsize.SizeExpr) Axis {
	return Axis{Kind: DynStartSymSize, DynStart: start, DynSize: size}
}

// SymElemAt returns a SymElem axis picking the symbolic index idx.
func SymElemAt(idx symsize.SizeExpr) Axis {
	return Axis{Kind: SymElem, SymIndex: idx}
}

// DynElemAt returns a DynElem axis picking the runtime index idx.
func DynElemAt(idx DynIndex) Axis {
	return Axis{Kind: DynElem, DynStart: idx}
}

// NewAxisSpec returns a NewAxis axis.
func NewAxisSpec() Axis { return Axis{Kind: NewAxis} }

// AllFillSpec returns an AllFill axis.
func AllFillSpec() Axis { return Axis{Kind: AllFill} }

// Width returns the symbolic width this axis contributes to the sliced
// (pre-reshape) result. Only valid for Simple-compatible kinds.
func (a Axis) Width() symsize.SizeExpr {
	switch a.Kind {
	case SymStartSymEnd:
		return a.SymEnd.Add(a.SymStart.Mul(symsize.Const(-1)))
	case DynStartSymSize:
		return a.DynSize
	case SymElem, DynElem:
		return symsize.Const(1)
	default:
		return symsize.Const(0)
	}
}

// String representation of one axis entry.
func (a Axis) String() string {
	switch a.Kind {
	case SymStartSymEnd:
		return fmt.Sprintf("%s..%s", a.SymStart, a.SymEnd)
	case DynStartSymSize:
		return fmt.Sprintf("%s..+%s", a.DynStart, a.DynSize)
	case SymElem:
		return fmt.Sprintf("@%s", a.SymIndex)
	case DynElem:
		return fmt.Sprintf("@%s", a.DynStart)
	case NewAxis:
		return "NewAxis"
	case AllFill:
		return "Fill"
	default:
		return "?"
	}
}

// Simple is a per-axis range specification restricted to the two forms
// the backend's Subtensor primitive accepts directly: one entry per axis
// of the tensor being sliced.
type Simple []Axis

// Full is a per-axis range specification that may additionally contain
// SymElem, DynElem, NewAxis, and AllFill entries.
type Full []Axis

// Step describes, in the original Full-spec order, whether an entry
// consumed-and-kept a source axis (Consume), consumed-and-dropped it
// (Drop, for element picks), or inserted a new axis without consuming one
// (Insert, for NewAxis).
type Step int

// The three kinds of lowering step.
const (
	StepConsume Step = iota
	StepDrop
	StepInsert
)

// Lower compiles a Full spec against the shape of the tensor being
// sliced (one size expression per source axis) into a Simple spec plus
// the ordered list of Steps describing how to reshape the sliced result
// into the caller's requested shape: for each Step in order, Consume
// keeps the next simple axis's width in the output shape, Drop omits it
// (an element pick), and Insert places a new broadcastable size-1 axis
// without consuming a simple entry.
func (f Full) Lower(srcShape []symsize.SizeExpr) (Simple, []Step, error) {
	var simple Simple
	var steps []Step
	srcIdx := 0
	for _, entry := range f {
		switch entry.Kind {
		case NewAxis:
			steps = append(steps, StepInsert)
		case AllFill:
			for srcIdx < len(srcShape) {
				simple = append(simple, SymRange(symsize.Const(0), srcShape[srcIdx]))
				steps = append(steps, StepConsume)
				srcIdx++
			}
		case SymElem:
			if srcIdx >= len(srcShape) {
				return nil, nil, compileerr.New(compileerr.RankMismatch, "", "too many axes in range spec for source rank %d", len(srcShape))
			}
			simple = append(simple, SymRange(entry.SymIndex, entry.SymIndex.Add(symsize.Const(1))))
			steps = append(steps, StepDrop)
			srcIdx++
		case DynElem:
			if srcIdx >= len(srcShape) {
				return nil, nil, compileerr.New(compileerr.RankMismatch, "", "too many axes in range spec for source rank %d", len(srcShape))
			}
			simple = append(simple, DynRange(entry.DynStart, symsize.Const(1)))
			steps = append(steps, StepDrop)
			srcIdx++
		case SymStartSymEnd, DynStartSymSize:
			if srcIdx >= len(srcShape) {
				return nil, nil, compileerr.New(compileerr.RankMismatch, "", "too many axes in range spec for source rank %d", len(srcShape))
			}
			simple = append(simple, entry)
			steps = append(steps, StepConsume)
			srcIdx++
		default:
			return nil, nil, compileerr.New(compileerr.UnsupportedOp, "", "unknown range axis kind %d", entry.Kind)
		}
	}
	if srcIdx != len(srcShape) {
		return nil, nil, compileerr.New(compileerr.RankMismatch, "", "range spec consumes %d axes but source has rank %d", srcIdx, len(srcShape))
	}
	return simple, steps, nil
}

// Subst rewrites every symbolic and dynamic bound embedded in the spec,
// substituting env into symbolic bounds directly and delegating to substFn
// for any embedded DynIndex.
func (s Simple) Subst(env symsize.Env, substFn SubstFunc) Simple {
	out := make(Simple, len(s))
	for i, a := range s {
		out[i] = a.subst(env, substFn)
	}
	return out
}

// Subst rewrites every symbolic and dynamic bound embedded in the spec,
// the Full-spec equivalent of Simple.Subst.
func (f Full) Subst(env symsize.Env, substFn SubstFunc) Full {
	out := make(Full, len(f))
	for i, a := range f {
		out[i] = a.subst(env, substFn)
	}
	return out
}

func (a Axis) subst(env symsize.Env, substFn SubstFunc) Axis {
	out := a
	switch a.Kind {
	case SymStartSymEnd:
		out.SymStart = a.SymStart.Subst(env)
		out.SymEnd = a.SymEnd.Subst(env)
	case DynStartSymSize:
		out.DynSize = a.DynSize.Subst(env)
		if substFn != nil && a.DynStart != nil {
			out.DynStart = substFn(env, a.DynStart)
		}
	case SymElem:
		out.SymIndex = a.SymIndex.Subst(env)
	case DynElem:
		if substFn != nil && a.DynStart != nil {
			out.DynStart = substFn(env, a.DynStart)
		}
	}
	return out
}
