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

// Package expr implements the expression graph: a tagged-variant,
// immutable DAG whose leaves are variables, scalar constants,
// identity/zero tensors, and size values, and whose interior nodes are
// unary, binary, and n-ary tensor operations with symbolic shapes.
//
// Following the sum-type design used throughout the graph, each
// structural category (leaf, unary, binary, n-ary) is one Go struct
// tagged by an exprkind.Kind, rather than one Go type per operator:
// shape inference and checking dispatch on the tag inside a small number
// of exhaustive switch statements.
package expr

import (
	"fmt"

	"github.com/shapeforge/shapeforge/dtype"
	"github.com/shapeforge/shapeforge/expr/exprkind"
	"github.com/shapeforge/shapeforge/rangespec"
	"github.com/shapeforge/shapeforge/shape"
	"github.com/shapeforge/shapeforge/symsize"
	"github.com/shapeforge/shapeforge/varspec"
)

// Expr is a node in the expression graph. Every expression carries a
// valid shape and exactly one element type, both derivable from its
// subtree; Shape (also spelled ShapeOf below) and DType are the single
// sources of truth.
type Expr interface {
	// Kind returns the tag identifying which operator this node is.
	Kind() exprkind.Kind
	// Shape returns the node's shape, total on any valid expression.
	Shape() shape.Shape
	// DType returns the node's element type.
	DType() dtype.TypeName
	// Children returns the immediate operands of this node, in
	// declaration order; leaves return nil.
	Children() []Expr
	// String returns a debug representation.
	String() string
}

// ShapeOf returns e.Shape(); provided for callers that prefer the
// free-function spelling used in spec.md.
func ShapeOf(e Expr) shape.Shape { return e.Shape() }

// LeafExpr is a leaf node: Identity, Zeros, ScalarConst, SizeValue, or Var.
type LeafExpr struct {
	op        exprkind.Kind
	sh        shape.Shape
	dt        dtype.TypeName
	scalarVal float64
	sizeVal   symsize.SizeExpr
	varSpec   varspec.VarSpec
}

var _ Expr = (*LeafExpr)(nil)

// Kind of the leaf.
func (l *LeafExpr) Kind() exprkind.Kind { return l.op }

// Shape of the leaf.
func (l *LeafExpr) Shape() shape.Shape { return l.sh }

// DType of the leaf.
func (l *LeafExpr) DType() dtype.TypeName { return l.dt }

// Children of a leaf: always nil.
func (l *LeafExpr) Children() []Expr { return nil }

// ScalarValue returns the constant value for a ScalarConst leaf.
func (l *LeafExpr) ScalarValue() float64 { return l.scalarVal }

// VarSpec returns the variable identity for a Var leaf.
func (l *LeafExpr) VarSpec() varspec.VarSpec { return l.varSpec }

// SizeValue returns the symbolic size expression materialized by a
// SizeValue leaf.
func (l *LeafExpr) SizeValue() symsize.SizeExpr { return l.sizeVal }

// String representation of the leaf.
func (l *LeafExpr) String() string {
	switch l.op {
	case exprkind.Identity:
		return fmt.Sprintf("Identity(%s)", l.sh.Dim(0))
	case exprkind.Zeros:
		return fmt.Sprintf("Zeros%s:%s", l.sh, l.dt)
	case exprkind.ScalarConst:
		return fmt.Sprintf("Const(%v):%s", l.scalarVal, l.dt)
	case exprkind.SizeValue:
		return fmt.Sprintf("SizeValue(%s):%s", l.sizeVal, l.dt)
	case exprkind.Var:
		return fmt.Sprintf("Var(%s)", l.varSpec)
	default:
		return "leaf?"
	}
}

// UnaryExpr is a node with a single operand.
type UnaryExpr struct {
	op   exprkind.Kind
	x    Expr
	sh   shape.Shape
	dt   dtype.TypeName
	axis int

	targetShape shape.Shape
	swapI, swapJ int
	simpleSpec  rangespec.Simple
	storeVar    varspec.VarSpec
	text        string
}

var _ Expr = (*UnaryExpr)(nil)

// Kind of the node.
func (u *UnaryExpr) Kind() exprkind.Kind { return u.op }

// Shape of the node's result.
func (u *UnaryExpr) Shape() shape.Shape { return u.sh }

// DType of the node's result.
func (u *UnaryExpr) DType() dtype.TypeName { return u.dt }

// Children returns the single operand.
func (u *UnaryExpr) Children() []Expr { return []Expr{u.x} }

// X returns the operand.
func (u *UnaryExpr) X() Expr { return u.x }

// Axis returns the reduction axis for SumAxis.
func (u *UnaryExpr) Axis() int { return u.axis }

// TargetShape returns the destination shape for Reshape/DoBroadcast.
func (u *UnaryExpr) TargetShape() shape.Shape { return u.targetShape }

// SwapAxes returns the two axes exchanged by SwapDim.
func (u *UnaryExpr) SwapAxes() (int, int) { return u.swapI, u.swapJ }

// RangeSpec returns the simple range spec for Subtensor.
func (u *UnaryExpr) RangeSpec() rangespec.Simple { return u.simpleSpec }

// StoreVar returns the destination variable for StoreToVar.
func (u *UnaryExpr) StoreVar() varspec.VarSpec { return u.storeVar }

// Text returns the annotation text for Annotated.
func (u *UnaryExpr) Text() string { return u.text }

// String representation of the node.
func (u *UnaryExpr) String() string {
	switch u.op {
	case exprkind.SumAxis:
		return fmt.Sprintf("SumAxis(%d, %s)", u.axis, u.x)
	case exprkind.Reshape:
		return fmt.Sprintf("Reshape(%s, %s)", u.targetShape, u.x)
	case exprkind.DoBroadcast:
		return fmt.Sprintf("DoBroadcast(%s, %s)", u.targetShape, u.x)
	case exprkind.SwapDim:
		return fmt.Sprintf("SwapDim(%d,%d, %s)", u.swapI, u.swapJ, u.x)
	case exprkind.Subtensor:
		return fmt.Sprintf("Subtensor(%v, %s)", u.simpleSpec, u.x)
	case exprkind.StoreToVar:
		return fmt.Sprintf("StoreToVar(%s, %s)", u.storeVar, u.x)
	case exprkind.Annotated:
		return fmt.Sprintf("Annotated(%q, %s)", u.text, u.x)
	default:
		return fmt.Sprintf("%s(%s)", u.op, u.x)
	}
}

// BinaryExpr is a node with two operands.
type BinaryExpr struct {
	op         exprkind.Kind
	x, y       Expr
	sh         shape.Shape
	dt         dtype.TypeName
	simpleSpec rangespec.Simple
}

var _ Expr = (*BinaryExpr)(nil)

// Kind of the node.
func (b *BinaryExpr) Kind() exprkind.Kind { return b.op }

// Shape of the node's result.
func (b *BinaryExpr) Shape() shape.Shape { return b.sh }

// DType of the node's result.
func (b *BinaryExpr) DType() dtype.TypeName { return b.dt }

// Children returns the two operands, x then y.
func (b *BinaryExpr) Children() []Expr { return []Expr{b.x, b.y} }

// X returns the first operand.
func (b *BinaryExpr) X() Expr { return b.x }

// Y returns the second operand.
func (b *BinaryExpr) Y() Expr { return b.y }

// RangeSpec returns the simple range spec for SetSubtensor.
func (b *BinaryExpr) RangeSpec() rangespec.Simple { return b.simpleSpec }

// String representation of the node.
func (b *BinaryExpr) String() string {
	if b.op == exprkind.SetSubtensor {
		return fmt.Sprintf("SetSubtensor(%v, %s, %s)", b.simpleSpec, b.x, b.y)
	}
	return fmt.Sprintf("%s(%s, %s)", b.op, b.x, b.y)
}

// ExtensionOp is the user-supplied hook for n-ary operators not built
// into the core operator set. Implementations declare their arity and
// their shape-inference rule; the planner asks them to lower themselves
// into primitive ops (see package plan).
type ExtensionOp interface {
	// Name identifies the extension op in generated source and errors.
	Name() string
	// Arity returns the number of operands this op expects.
	Arity() int
	// InferShape computes the result shape/dtype given the (already
	// shape-checked) operand expressions.
	InferShape(args []Expr) (shape.Shape, dtype.TypeName, error)
}

// NaryExpr is a node with a variable number of operands: Discard or
// ExtensionOp.
type NaryExpr struct {
	op  exprkind.Kind
	xs  []Expr
	sh  shape.Shape
	dt  dtype.TypeName
	ext ExtensionOp
}

var _ Expr = (*NaryExpr)(nil)

// Kind of the node.
func (n *NaryExpr) Kind() exprkind.Kind { return n.op }

// Shape of the node's result.
func (n *NaryExpr) Shape() shape.Shape { return n.sh }

// DType of the node's result.
func (n *NaryExpr) DType() dtype.TypeName { return n.dt }

// Children returns every operand.
func (n *NaryExpr) Children() []Expr { return append([]Expr{}, n.xs...) }

// Ext returns the extension op implementation for ExtensionOp nodes.
func (n *NaryExpr) Ext() ExtensionOp { return n.ext }

// String representation of the node.
func (n *NaryExpr) String() string {
	name := n.op.String()
	if n.op == exprkind.ExtensionOp && n.ext != nil {
		name = n.ext.Name()
	}
	parts := make([]string, len(n.xs))
	for i, x := range n.xs {
		parts[i] = x.String()
	}
	return fmt.Sprintf("%s(%v)", name, parts)
}
