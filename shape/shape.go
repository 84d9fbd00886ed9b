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

// Package shape implements Shape: an ordered sequence of symbolic size
// expressions, plus the broadcasting rules used throughout the expression
// graph and planner.
package shape

import (
	"strings"

	"github.com/shapeforge/shapeforge/compileerr"
	"github.com/shapeforge/shapeforge/symsize"
)

// Shape is an ordered sequence of size expressions. Its length is the
// rank of the shape.
type Shape struct {
	dims []symsize.SizeExpr
}

// New returns a Shape from the given axis sizes, outermost axis first.
func New(dims ...symsize.SizeExpr) Shape {
	cp := append([]symsize.SizeExpr{}, dims...)
	return Shape{dims: cp}
}

// Scalar returns the rank-0 shape.
func Scalar() Shape { return Shape{} }

// Rank returns the number of axes.
func (s Shape) Rank() int { return len(s.dims) }

// Dim returns the size expression of axis i.
func (s Shape) Dim(i int) symsize.SizeExpr { return s.dims[i] }

// Dims returns a defensive copy of the axis sizes.
func (s Shape) Dims() []symsize.SizeExpr {
	return append([]symsize.SizeExpr{}, s.dims...)
}

// Swap returns a shape with axes i and j exchanged.
func (s Shape) Swap(i, j int) (Shape, error) {
	if i < 0 || i >= s.Rank() || j < 0 || j >= s.Rank() {
		return Shape{}, compileerr.New(compileerr.RankMismatch, s.String(),
			"SwapDim(%d,%d) out of range for rank %d", i, j, s.Rank())
	}
	out := s.Dims()
	out[i], out[j] = out[j], out[i]
	return New(out...), nil
}

// PadLeft prepends n broadcast-tagged axes.
func (s Shape) PadLeft(n int) Shape {
	if n <= 0 {
		return s
	}
	pad := make([]symsize.SizeExpr, n)
	for i := range pad {
		pad[i] = symsize.Broadcast()
	}
	return New(append(pad, s.dims...)...)
}

// PadRight appends n broadcast-tagged axes.
func (s Shape) PadRight(n int) Shape {
	if n <= 0 {
		return s
	}
	pad := make([]symsize.SizeExpr, n)
	for i := range pad {
		pad[i] = symsize.Broadcast()
	}
	return New(append(s.Dims(), pad...)...)
}

// EnableBroadcast returns a shape where axis is tagged Broadcast.
func (s Shape) EnableBroadcast(axis int) (Shape, error) {
	if axis < 0 || axis >= s.Rank() {
		return Shape{}, compileerr.New(compileerr.RankMismatch, s.String(),
			"EnableBroadcast(%d) out of range for rank %d", axis, s.Rank())
	}
	out := s.Dims()
	out[axis] = symsize.Broadcast()
	return New(out...), nil
}

// DisableBroadcast returns a shape where axis keeps its numeric value (1)
// but is no longer tagged Broadcast.
func (s Shape) DisableBroadcast(axis int) (Shape, error) {
	if axis < 0 || axis >= s.Rank() {
		return Shape{}, compileerr.New(compileerr.RankMismatch, s.String(),
			"DisableBroadcast(%d) out of range for rank %d", axis, s.Rank())
	}
	out := s.Dims()
	out[axis] = symsize.Const(1)
	return New(out...), nil
}

// InsertBroadcastAxis returns a shape with a new broadcast-tagged axis of
// size 1 inserted at pos.
func (s Shape) InsertBroadcastAxis(pos int) (Shape, error) {
	if pos < 0 || pos > s.Rank() {
		return Shape{}, compileerr.New(compileerr.RankMismatch, s.String(),
			"InsertBroadcastAxis(%d) out of range for rank %d", pos, s.Rank())
	}
	out := make([]symsize.SizeExpr, 0, s.Rank()+1)
	out = append(out, s.dims[:pos]...)
	out = append(out, symsize.Broadcast())
	out = append(out, s.dims[pos:]...)
	return New(out...), nil
}

// NumElements returns the total element count as a size expression:
// the product of every axis size.
func (s Shape) NumElements() symsize.SizeExpr {
	total := symsize.Const(1)
	for _, d := range s.dims {
		total = total.Mul(d)
	}
	return total
}

// EqualUnder returns true if s and o have the same rank and every axis
// compares equal under env (ignoring the Broadcast tag).
func (s Shape) EqualUnder(env symsize.Env, o Shape) bool {
	if s.Rank() != o.Rank() {
		return false
	}
	for i := range s.dims {
		if !s.dims[i].EqualUnder(env, o.dims[i]) {
			return false
		}
	}
	return true
}

// CanEvalAll returns true iff every axis size can be numerically
// evaluated with no remaining free symbols.
func (s Shape) CanEvalAll() bool {
	for _, d := range s.dims {
		if !d.CanEval() {
			return false
		}
	}
	return true
}

// Subst substitutes every symbol bound in env into every axis.
func (s Shape) Subst(env symsize.Env) Shape {
	out := make([]symsize.SizeExpr, s.Rank())
	for i, d := range s.dims {
		out[i] = d.Subst(env)
	}
	return New(out...)
}

func padToRank(a Shape, rank int) Shape {
	if a.Rank() >= rank {
		return a
	}
	return a.PadLeft(rank - a.Rank())
}

// BroadcastTogether aligns two shapes to a common shape using the
// lenient broadcasting rule: shorter shapes are left-padded with
// Broadcast axes, and at each axis, if either side is numerically 1
// (whether or not it is Broadcast-tagged) it is replaced by the other
// side; otherwise the axes must be structurally equal.
func BroadcastTogether(env symsize.Env, a, b Shape) (Shape, error) {
	return broadcastTogether(env, a, b, false)
}

// BroadcastTogetherStrict aligns two shapes like BroadcastTogether, but
// refuses to broadcast an axis that is not explicitly tagged Broadcast:
// only Broadcast-tagged axes may be replaced by the other operand's axis.
func BroadcastTogetherStrict(env symsize.Env, a, b Shape) (Shape, error) {
	return broadcastTogether(env, a, b, true)
}

func broadcastTogether(env symsize.Env, a, b Shape, strict bool) (Shape, error) {
	rank := a.Rank()
	if b.Rank() > rank {
		rank = b.Rank()
	}
	pa := padToRank(a, rank)
	pb := padToRank(b, rank)
	out := make([]symsize.SizeExpr, rank)
	for i := 0; i < rank; i++ {
		da, db := pa.dims[i], pb.dims[i]
		switch {
		case da.IsBroadcast():
			out[i] = db
		case db.IsBroadcast():
			out[i] = da
		case da.EqualUnder(env, db):
			out[i] = da
		case !strict && isOne(env, da):
			out[i] = db
		case !strict && isOne(env, db):
			out[i] = da
		default:
			return Shape{}, compileerr.New(compileerr.ShapeMismatch, a.String()+" vs "+b.String(),
				"axis %d: %s is not broadcast-compatible with %s", i, da, db)
		}
	}
	return New(out...), nil
}

func isOne(env symsize.Env, s symsize.SizeExpr) bool {
	return s.EqualUnder(env, symsize.Const(1))
}

// String representation, e.g. "[N, 3, M]".
func (s Shape) String() string {
	parts := make([]string, s.Rank())
	for i, d := range s.dims {
		parts[i] = d.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
