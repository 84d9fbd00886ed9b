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
	"sort"

	"golang.org/x/exp/maps"

	"github.com/shapeforge/shapeforge/compileerr"
	"github.com/shapeforge/shapeforge/expr/exprkind"
	"github.com/shapeforge/shapeforge/rangespec"
	"github.com/shapeforge/shapeforge/symsize"
	"github.com/shapeforge/shapeforge/varspec"
)

// Equal reports whether a and b are structurally identical: same op,
// same leaf payload (scalar value, variable), same per-kind parameters
// (axis, target shape, swap indices, range spec, ...), and structurally
// equal children. It does not evaluate symbol sizes; two shapes that are
// only equal under a particular binding are not Equal unless that
// binding has already been substituted into both sides.
func Equal(a, b Expr) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind() != b.Kind() || a.DType() != b.DType() {
		return false
	}
	if !a.Shape().EqualUnder(emptyEnv, b.Shape()) {
		return false
	}
	ac, bc := a.Children(), b.Children()
	if len(ac) != len(bc) {
		return false
	}
	for i := range ac {
		if !Equal(ac[i], bc[i]) {
			return false
		}
	}
	switch an := a.(type) {
	case *LeafExpr:
		bn := b.(*LeafExpr)
		switch an.op {
		case exprkind.ScalarConst:
			return an.scalarVal == bn.scalarVal
		case exprkind.SizeValue:
			return an.sizeVal.EqualUnder(emptyEnv, bn.sizeVal)
		case exprkind.Var:
			return an.varSpec.Equal(bn.varSpec)
		default:
			return true
		}
	case *UnaryExpr:
		bn := b.(*UnaryExpr)
		switch an.op {
		case exprkind.SumAxis:
			return an.axis == bn.axis
		case exprkind.Reshape, exprkind.DoBroadcast:
			return an.targetShape.EqualUnder(emptyEnv, bn.targetShape)
		case exprkind.SwapDim:
			return an.swapI == bn.swapI && an.swapJ == bn.swapJ
		case exprkind.Subtensor:
			return simpleEqual(an.simpleSpec, bn.simpleSpec)
		case exprkind.StoreToVar:
			return an.storeVar.Equal(bn.storeVar)
		case exprkind.Annotated:
			return an.text == bn.text
		default:
			return true
		}
	case *BinaryExpr:
		bn := b.(*BinaryExpr)
		if an.op == exprkind.SetSubtensor {
			return simpleEqual(an.simpleSpec, bn.simpleSpec)
		}
		return true
	case *NaryExpr:
		bn := b.(*NaryExpr)
		if an.op == exprkind.ExtensionOp {
			return an.ext != nil && bn.ext != nil && an.ext.Name() == bn.ext.Name()
		}
		return true
	default:
		return false
	}
}

func simpleEqual(a, b rangespec.Simple) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].String() != b[i].String() {
			return false
		}
	}
	return true
}

// Subst returns root with every subtree structurally Equal to old replaced
// by replacement, rebuilding every ancestor of a replaced node by
// re-running its original constructor over its (possibly rewritten)
// children. Subtrees untouched by the replacement are returned unchanged
// (by pointer), so Subst is cheap on a DAG where only a small part
// changes.
func Subst(root, old, replacement Expr) (Expr, error) {
	if Equal(root, old) {
		return replacement, nil
	}
	children := root.Children()
	if len(children) == 0 {
		return root, nil
	}
	newChildren := make([]Expr, len(children))
	changed := false
	for i, c := range children {
		nc, err := Subst(c, old, replacement)
		if err != nil {
			return nil, err
		}
		newChildren[i] = nc
		if nc != c {
			changed = true
		}
	}
	if !changed {
		return root, nil
	}
	return withChildren(root, newChildren)
}

// withChildren re-derives a node from an explicit replacement child list,
// dispatching to the same per-kind rules as Checker.Check's rebuild path.
func withChildren(e Expr, children []Expr) (Expr, error) {
	switch n := e.(type) {
	case *LeafExpr:
		return n, nil
	case *UnaryExpr:
		return rebuildUnaryWithX(n, children[0])
	case *BinaryExpr:
		return rebuildBinaryWithXY(n, children[0], children[1])
	case *NaryExpr:
		return rebuildNaryWithXs(n, children)
	default:
		return nil, compileerr.New(compileerr.UnsupportedOp, e.String(), "subst: unrecognized expression type %T", e)
	}
}

// SubstSymSizes rebuilds root with env bound into every embedded shape,
// size, and range-spec field, recomputing each node's derived shape along
// the way. Nodes whose shape does not change (no symbol in env appears
// under them) are returned unchanged by pointer.
func SubstSymSizes(root Expr, env symsize.Env) (Expr, error) {
	children := root.Children()
	newChildren := make([]Expr, len(children))
	changed := false
	for i, c := range children {
		nc, err := SubstSymSizes(c, env)
		if err != nil {
			return nil, err
		}
		newChildren[i] = nc
		if nc != c {
			changed = true
		}
	}

	switch n := root.(type) {
	case *LeafExpr:
		sh := n.sh.Subst(env)
		sz := n.sizeVal
		if n.op == exprkind.SizeValue {
			sz = n.sizeVal.Subst(env)
		}
		if sh.EqualUnder(emptyEnv, n.sh) && sz.EqualUnder(emptyEnv, n.sizeVal) {
			return n, nil
		}
		out := *n
		out.sh = sh
		out.sizeVal = sz
		return &out, nil
	case *UnaryExpr:
		target := n.targetShape.Subst(env)
		spec := n.simpleSpec.Subst(env, substDynIndex)
		if !changed && target.EqualUnder(emptyEnv, n.targetShape) && simpleEqual(spec, n.simpleSpec) {
			return n, nil
		}
		x := newChildren[0]
		switch n.op {
		case exprkind.Reshape:
			return NewReshape(target, x)
		case exprkind.DoBroadcast:
			return NewDoBroadcast(target, x)
		case exprkind.Subtensor:
			return NewSubtensor(x, spec)
		default:
			return rebuildUnaryWithX(n, x)
		}
	case *BinaryExpr:
		spec := n.simpleSpec.Subst(env, substDynIndex)
		if !changed && simpleEqual(spec, n.simpleSpec) {
			return n, nil
		}
		if n.op == exprkind.SetSubtensor {
			return NewSetSubtensor(newChildren[0], spec, newChildren[1])
		}
		return rebuildBinaryWithXY(n, newChildren[0], newChildren[1])
	case *NaryExpr:
		if !changed {
			return n, nil
		}
		return rebuildNaryWithXs(n, newChildren)
	default:
		return nil, compileerr.New(compileerr.UnsupportedOp, root.String(), "SubstSymSizes: unrecognized expression type %T", root)
	}
}

// substDynIndex is the rangespec.SubstFunc wired from package expr: a
// dynamic range bound is itself an Expr (e.g. the result of a prior
// computation used as a runtime start index), so substitution recurses
// through SubstSymSizes. A DynIndex that is not an Expr is returned
// unchanged; nothing else currently implements the interface.
func substDynIndex(env symsize.Env, di rangespec.DynIndex) rangespec.DynIndex {
	e, ok := di.(Expr)
	if !ok {
		return di
	}
	sub, err := SubstSymSizes(e, env)
	if err != nil {
		return di
	}
	return sub
}

// CanEvalAllSymSizes reports whether every symbolic size embedded in
// root's shapes is a closed-form constant, i.e. whether root is ready for
// the phases after substitution that require concrete sizes (planning,
// scheduling, code generation).
func CanEvalAllSymSizes(root Expr) bool {
	if !root.Shape().CanEvalAll() {
		return false
	}
	for _, c := range root.Children() {
		if !CanEvalAllSymSizes(c) {
			return false
		}
	}
	return true
}

// ExtractVars returns every distinct variable referenced anywhere in
// root's DAG, in a deterministic order (by name), for callers that need
// to enumerate a compiled program's inputs/outputs.
func ExtractVars(root Expr) []varspec.VarSpec {
	seen := map[string]varspec.VarSpec{}
	var walk func(Expr)
	walk = func(e Expr) {
		if e == nil {
			return
		}
		if l, ok := e.(*LeafExpr); ok && l.op == exprkind.Var {
			seen[l.varSpec.Key()] = l.varSpec
		}
		if u, ok := e.(*UnaryExpr); ok && u.op == exprkind.StoreToVar {
			seen[u.storeVar.Key()] = u.storeVar
		}
		for _, c := range e.Children() {
			walk(c)
		}
	}
	walk(root)
	keys := maps.Keys(seen)
	sort.Strings(keys)
	out := make([]varspec.VarSpec, len(keys))
	for i, k := range keys {
		out[i] = seen[k]
	}
	return out
}
