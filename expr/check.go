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

package expr

import (
	gosync "github.com/shapeforge/shapeforge/base/sync"
	"github.com/shapeforge/shapeforge/compileerr"
	"github.com/shapeforge/shapeforge/expr/exprkind"
)

// Checker memoizes which expression nodes have already been verified, so
// that Check is idempotent and cheap on repeat calls over a DAG that
// shares subtrees. A Checker is scoped to one compile session rather than
// held as process-wide state: the caller constructs one per compile.Compile
// call, so its cache is freed when the session ends instead of growing for
// the life of the process.
type Checker struct {
	memo gosync.Map[Expr, bool]
}

// NewChecker returns an empty, session-scoped checker.
func NewChecker() *Checker { return &Checker{} }

// Check walks e's DAG once, re-deriving each node's shape and dtype from
// its (already verified) children via the same rule the corresponding New*
// constructor applies, and comparing the result against what is stored on
// the node. This catches a DAG rebuilt by SubstSymSizes without going back
// through the exported constructors. Already-verified nodes are skipped.
// Every mismatch found in a single call is collected and returned together,
// rather than stopping at the first one.
func (c *Checker) Check(e Expr) error {
	var app compileerr.Appender
	c.check(e, &app)
	return app.ToError()
}

func (c *Checker) check(e Expr, app *compileerr.Appender) {
	if e == nil {
		return
	}
	if c.memo.Load(e) {
		return
	}
	before := app.Len()
	for _, child := range e.Children() {
		c.check(child, app)
	}
	if app.Len() > before {
		// An operand already failed; re-deriving this node's shape would
		// only produce a cascade of spurious secondary errors.
		return
	}
	rebuilt, err := rebuild(e)
	if err != nil {
		app.Append(err)
		return
	}
	if !rebuilt.Shape().EqualUnder(emptyEnv, e.Shape()) {
		app.Appendf(compileerr.ShapeMismatch, e.String(),
			"stored shape %s does not match recomputed shape %s", e.Shape(), rebuilt.Shape())
		return
	}
	if rebuilt.DType() != e.DType() {
		app.Appendf(compileerr.ShapeMismatch, e.String(),
			"stored dtype %s does not match recomputed dtype %s", e.DType(), rebuilt.DType())
		return
	}
	c.memo.Store(e, true)
}

// rebuild re-derives a node's shape and dtype from its children, one
// level deep, by calling the same constructor the node's Kind was
// originally built with. Reusing the constructors keeps this the single
// source of truth for every op's shape-inference rule instead of a
// second, divergable copy of it.
func rebuild(e Expr) (Expr, error) {
	switch n := e.(type) {
	case *LeafExpr:
		// Leaf shapes are axiomatic: there are no children to re-derive
		// them from, so the stored value is trusted as-is.
		return n, nil
	case *UnaryExpr:
		return rebuildUnary(n)
	case *BinaryExpr:
		return rebuildBinary(n)
	case *NaryExpr:
		return rebuildNary(n)
	default:
		return nil, compileerr.New(compileerr.UnsupportedOp, e.String(), "check: unrecognized expression type %T", e)
	}
}

func rebuildUnary(u *UnaryExpr) (Expr, error) { return rebuildUnaryWithX(u, u.X()) }

// rebuildUnaryWithX re-derives a unary node's result from an explicit
// replacement operand, so the same dispatch serves both Checker.Check
// (operand unchanged) and Subst (operand possibly rewritten).
func rebuildUnaryWithX(u *UnaryExpr, x Expr) (Expr, error) {
	switch u.Kind() {
	case exprkind.Sum:
		return NewSum(x)
	case exprkind.SumAxis:
		return NewSumAxis(x, u.Axis())
	case exprkind.Reshape:
		return NewReshape(u.TargetShape(), x)
	case exprkind.DoBroadcast:
		return NewDoBroadcast(u.TargetShape(), x)
	case exprkind.SwapDim:
		i, j := u.SwapAxes()
		return NewSwapDim(x, i, j)
	case exprkind.Subtensor:
		return NewSubtensor(x, u.RangeSpec())
	case exprkind.StoreToVar:
		return NewStoreToVar(u.StoreVar(), x)
	case exprkind.Annotated:
		return NewAnnotated(u.Text(), x)
	default:
		if u.Kind().IsElementwiseUnary() {
			return newElementwiseUnary(u.Kind(), x)
		}
		return nil, compileerr.New(compileerr.UnsupportedOp, u.String(), "check: unrecognized unary op %s", u.Kind())
	}
}

func rebuildBinary(b *BinaryExpr) (Expr, error) { return rebuildBinaryWithXY(b, b.X(), b.Y()) }

// rebuildBinaryWithXY is the explicit-operand counterpart of rebuildBinary.
func rebuildBinaryWithXY(b *BinaryExpr, x, y Expr) (Expr, error) {
	switch b.Kind() {
	case exprkind.Dot:
		return NewDot(x, y)
	case exprkind.TensorProduct:
		return NewTensorProduct(x, y)
	case exprkind.SetSubtensor:
		return NewSetSubtensor(x, b.RangeSpec(), y)
	default:
		if b.Kind().IsElementwiseBinary() {
			return newElementwiseBinary(b.Kind(), x, y)
		}
		return nil, compileerr.New(compileerr.UnsupportedOp, b.String(), "check: unrecognized binary op %s", b.Kind())
	}
}

func rebuildNary(n *NaryExpr) (Expr, error) { return rebuildNaryWithXs(n, n.Children()) }

// rebuildNaryWithXs is the explicit-operand counterpart of rebuildNary.
func rebuildNaryWithXs(n *NaryExpr, xs []Expr) (Expr, error) {
	switch n.Kind() {
	case exprkind.Discard:
		return NewDiscard(xs...)
	case exprkind.ExtensionOp:
		return NewExtensionOp(n.Ext(), xs...)
	default:
		return nil, compileerr.New(compileerr.UnsupportedOp, n.String(), "check: unrecognized n-ary op %s", n.Kind())
	}
}
