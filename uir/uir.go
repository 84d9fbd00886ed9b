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

// Package uir implements Unified Lowering (spec's "unified expression"): a
// type-erased, one-to-one mirror of package expr's tagged-variant DAG.
// Where expr keeps its four node shapes (Leaf/Unary/Binary/Nary) so that
// each op's constructor can run shape inference against typed accessors,
// uir collapses them into a single flat Node carrying every op's payload
// as plain runtime fields: this is the boundary described in spec §4.3
// where "the backend sees only (opcode, args, typename, shape)". Nothing
// downstream of Translate needs to know which of expr's four Go types
// produced a given node.
package uir

import (
	"fmt"

	"github.com/shapeforge/shapeforge/dtype"
	"github.com/shapeforge/shapeforge/expr"
	"github.com/shapeforge/shapeforge/expr/exprkind"
	"github.com/shapeforge/shapeforge/rangespec"
	"github.com/shapeforge/shapeforge/shape"
	"github.com/shapeforge/shapeforge/symsize"
	"github.com/shapeforge/shapeforge/varspec"
)

// Node is one operation in the unified lowering graph.
type Node struct {
	Op    exprkind.Kind
	Args  []*Node
	Shape shape.Shape
	DType dtype.TypeName

	// Per-op payload; only the fields relevant to Op are populated. This
	// mirrors expr's per-kind fields exactly (see expr.LeafExpr/UnaryExpr/
	// BinaryExpr/NaryExpr), just gathered onto one struct now that no Go
	// type parameter needs to be erased separately per node shape.
	ScalarVal   float64
	SizeVal     symsize.SizeExpr
	VarSpec     varspec.VarSpec
	Axis        int
	TargetShape shape.Shape
	SwapI, SwapJ int
	RangeSpec   rangespec.Simple
	StoreVar    varspec.VarSpec
	Text        string
	Ext         expr.ExtensionOp
}

// String returns a debug representation matching expr's own node text so
// that a checked expression and its unified-lowering translation read the
// same way in diagnostics.
func (n *Node) String() string {
	switch n.Op {
	case exprkind.Identity:
		return fmt.Sprintf("Identity(%s)", n.Shape.Dim(0))
	case exprkind.Zeros:
		return fmt.Sprintf("Zeros%s:%s", n.Shape, n.DType)
	case exprkind.ScalarConst:
		return fmt.Sprintf("Const(%v):%s", n.ScalarVal, n.DType)
	case exprkind.SizeValue:
		return fmt.Sprintf("SizeValue(%s):%s", n.SizeVal, n.DType)
	case exprkind.Var:
		return fmt.Sprintf("Var(%s)", n.VarSpec)
	case exprkind.SumAxis:
		return fmt.Sprintf("SumAxis(%d, %s)", n.Axis, n.Args[0])
	case exprkind.Reshape:
		return fmt.Sprintf("Reshape(%s, %s)", n.TargetShape, n.Args[0])
	case exprkind.DoBroadcast:
		return fmt.Sprintf("DoBroadcast(%s, %s)", n.TargetShape, n.Args[0])
	case exprkind.SwapDim:
		return fmt.Sprintf("SwapDim(%d,%d, %s)", n.SwapI, n.SwapJ, n.Args[0])
	case exprkind.Subtensor:
		return fmt.Sprintf("Subtensor(%v, %s)", n.RangeSpec, n.Args[0])
	case exprkind.StoreToVar:
		return fmt.Sprintf("StoreToVar(%s, %s)", n.StoreVar, n.Args[0])
	case exprkind.Annotated:
		return fmt.Sprintf("Annotated(%q, %s)", n.Text, n.Args[0])
	case exprkind.SetSubtensor:
		return fmt.Sprintf("SetSubtensor(%v, %s, %s)", n.RangeSpec, n.Args[0], n.Args[1])
	case exprkind.ExtensionOp:
		if n.Ext != nil {
			return fmt.Sprintf("%s(%v)", n.Ext.Name(), n.Args)
		}
		return fmt.Sprintf("ExtensionOp(%v)", n.Args)
	case exprkind.Discard:
		return fmt.Sprintf("%s(%v)", n.Op, n.Args)
	default:
		if len(n.Args) == 1 {
			return fmt.Sprintf("%s(%s)", n.Op, n.Args[0])
		}
		if len(n.Args) == 2 {
			return fmt.Sprintf("%s(%s, %s)", n.Op, n.Args[0], n.Args[1])
		}
		return fmt.Sprintf("%s(%v)", n.Op, n.Args)
	}
}

// Translate lowers a checked expr.Expr DAG into a Node graph, preserving
// structural sharing: a subtree visited more than once translates to the
// same *Node rather than being duplicated, matching expr's own "sharing is
// structural" invariant.
func Translate(root expr.Expr) *Node {
	memo := map[expr.Expr]*Node{}
	return translate(root, memo)
}

func translate(e expr.Expr, memo map[expr.Expr]*Node) *Node {
	if e == nil {
		return nil
	}
	if n, ok := memo[e]; ok {
		return n
	}
	children := e.Children()
	args := make([]*Node, len(children))
	for i, c := range children {
		args[i] = translate(c, memo)
	}
	n := &Node{Op: e.Kind(), Args: args, Shape: e.Shape(), DType: e.DType()}
	switch x := e.(type) {
	case *expr.LeafExpr:
		n.ScalarVal = x.ScalarValue()
		n.SizeVal = x.SizeValue()
		n.VarSpec = x.VarSpec()
	case *expr.UnaryExpr:
		n.Axis = x.Axis()
		n.TargetShape = x.TargetShape()
		n.SwapI, n.SwapJ = x.SwapAxes()
		n.RangeSpec = x.RangeSpec()
		n.StoreVar = x.StoreVar()
		n.Text = x.Text()
	case *expr.BinaryExpr:
		n.RangeSpec = x.RangeSpec()
	case *expr.NaryExpr:
		n.Ext = x.Ext()
	}
	memo[e] = n
	return n
}
