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
	"github.com/shapeforge/shapeforge/compileerr"
	"github.com/shapeforge/shapeforge/dtype"
	"github.com/shapeforge/shapeforge/expr/exprkind"
	"github.com/shapeforge/shapeforge/rangespec"
	"github.com/shapeforge/shapeforge/shape"
	"github.com/shapeforge/shapeforge/symsize"
	"github.com/shapeforge/shapeforge/varspec"
)

// emptyEnv is used for structural (non-numeric) shape equality checks at
// construction time: the graph is built and checked symbolically, before
// any symbol size has necessarily been bound.
var emptyEnv = symsize.Env{}

// NewIdentity returns the n x n identity matrix leaf.
func NewIdentity(n symsize.SizeExpr, dt dtype.TypeName) (Expr, error) {
	return &LeafExpr{op: exprkind.Identity, sh: shape.New(n, n), dt: dt}, nil
}

// NewZeros returns a leaf of zeros with the given shape.
func NewZeros(sh shape.Shape, dt dtype.TypeName) (Expr, error) {
	return &LeafExpr{op: exprkind.Zeros, sh: sh, dt: dt}, nil
}

// NewScalarConst returns a scalar constant leaf.
func NewScalarConst(value float64, dt dtype.TypeName) (Expr, error) {
	return &LeafExpr{op: exprkind.ScalarConst, sh: shape.Scalar(), dt: dt, scalarVal: value}, nil
}

// NewSizeValue returns a scalar leaf holding the numeric value of a size
// expression, so that a symbolic dimension can flow into ordinary tensor
// arithmetic.
func NewSizeValue(sz symsize.SizeExpr, dt dtype.TypeName) (Expr, error) {
	return &LeafExpr{op: exprkind.SizeValue, sh: shape.Scalar(), dt: dt, sizeVal: sz}, nil
}

// NewVar returns a variable reference leaf.
func NewVar(vs varspec.VarSpec) (Expr, error) {
	return &LeafExpr{op: exprkind.Var, sh: vs.Shape, dt: vs.DType, varSpec: vs}, nil
}

// unaryTranscendentals lists every elementwise transcendental unary op.
var unaryTranscendentals = map[exprkind.Kind]bool{
	exprkind.Neg: true, exprkind.Abs: true, exprkind.Sign: true, exprkind.Log: true,
	exprkind.Log10: true, exprkind.Exp: true, exprkind.Sin: true, exprkind.Cos: true,
	exprkind.Tan: true, exprkind.Asin: true, exprkind.Acos: true, exprkind.Atan: true,
	exprkind.Sinh: true, exprkind.Cosh: true, exprkind.Tanh: true, exprkind.Sqrt: true,
	exprkind.Ceil: true, exprkind.Floor: true, exprkind.Round: true, exprkind.Truncate: true,
}

func newElementwiseUnary(op exprkind.Kind, x Expr) (Expr, error) {
	if !unaryTranscendentals[op] {
		return nil, compileerr.New(compileerr.UnsupportedOp, op.String(), "not an elementwise unary op")
	}
	return &UnaryExpr{op: op, x: x, sh: x.Shape(), dt: x.DType()}, nil
}

// NewNeg, NewAbs, ... construct each elementwise transcendental unary op.
func NewNeg(x Expr) (Expr, error)      { return newElementwiseUnary(exprkind.Neg, x) }
func NewAbs(x Expr) (Expr, error)      { return newElementwiseUnary(exprkind.Abs, x) }
func NewSign(x Expr) (Expr, error)     { return newElementwiseUnary(exprkind.Sign, x) }
func NewLog(x Expr) (Expr, error)      { return newElementwiseUnary(exprkind.Log, x) }
func NewLog10(x Expr) (Expr, error)    { return newElementwiseUnary(exprkind.Log10, x) }
func NewExp(x Expr) (Expr, error)      { return newElementwiseUnary(exprkind.Exp, x) }
func NewSin(x Expr) (Expr, error)      { return newElementwiseUnary(exprkind.Sin, x) }
func NewCos(x Expr) (Expr, error)      { return newElementwiseUnary(exprkind.Cos, x) }
func NewTan(x Expr) (Expr, error)      { return newElementwiseUnary(exprkind.Tan, x) }
func NewAsin(x Expr) (Expr, error)     { return newElementwiseUnary(exprkind.Asin, x) }
func NewAcos(x Expr) (Expr, error)     { return newElementwiseUnary(exprkind.Acos, x) }
func NewAtan(x Expr) (Expr, error)     { return newElementwiseUnary(exprkind.Atan, x) }
func NewSinh(x Expr) (Expr, error)     { return newElementwiseUnary(exprkind.Sinh, x) }
func NewCosh(x Expr) (Expr, error)     { return newElementwiseUnary(exprkind.Cosh, x) }
func NewTanh(x Expr) (Expr, error)     { return newElementwiseUnary(exprkind.Tanh, x) }
func NewSqrt(x Expr) (Expr, error)     { return newElementwiseUnary(exprkind.Sqrt, x) }
func NewCeil(x Expr) (Expr, error)     { return newElementwiseUnary(exprkind.Ceil, x) }
func NewFloor(x Expr) (Expr, error)    { return newElementwiseUnary(exprkind.Floor, x) }
func NewRound(x Expr) (Expr, error)    { return newElementwiseUnary(exprkind.Round, x) }
func NewTruncate(x Expr) (Expr, error) { return newElementwiseUnary(exprkind.Truncate, x) }

// NewSum reduces every axis, returning a scalar.
func NewSum(x Expr) (Expr, error) {
	return &UnaryExpr{op: exprkind.Sum, x: x, sh: shape.Scalar(), dt: x.DType()}, nil
}

// NewSumAxis reduces a single axis, dropping it from the result shape.
func NewSumAxis(x Expr, axis int) (Expr, error) {
	sh := x.Shape()
	if axis < 0 || axis >= sh.Rank() {
		return nil, compileerr.New(compileerr.RankMismatch, x.String(), "SumAxis(%d) out of range for rank %d", axis, sh.Rank())
	}
	dims := sh.Dims()
	out := append(append([]symsize.SizeExpr{}, dims[:axis]...), dims[axis+1:]...)
	return &UnaryExpr{op: exprkind.SumAxis, x: x, axis: axis, sh: shape.New(out...), dt: x.DType()}, nil
}

// NewReshape returns x reshaped to target, requiring equal element counts.
func NewReshape(target shape.Shape, x Expr) (Expr, error) {
	if !x.Shape().NumElements().EqualUnder(emptyEnv, target.NumElements()) {
		return nil, compileerr.New(compileerr.RankMismatch, x.String(),
			"Reshape(%s) of %s: element counts %s vs %s do not match symbolically",
			target, x.Shape(), x.Shape().NumElements(), target.NumElements())
	}
	return &UnaryExpr{op: exprkind.Reshape, x: x, targetShape: target, sh: target, dt: x.DType()}, nil
}

// NewDoBroadcast returns x broadcast to target shape.
func NewDoBroadcast(target shape.Shape, x Expr) (Expr, error) {
	got, err := shape.BroadcastTogether(emptyEnv, x.Shape(), target)
	if err != nil {
		return nil, compileerr.Wrap(compileerr.ShapeMismatch, x.String(), err)
	}
	if !got.EqualUnder(emptyEnv, target) {
		return nil, compileerr.New(compileerr.ShapeMismatch, x.String(),
			"DoBroadcast(%s) of %s: broadcast result %s does not equal target", target, x.Shape(), got)
	}
	return &UnaryExpr{op: exprkind.DoBroadcast, x: x, targetShape: target, sh: target, dt: x.DType()}, nil
}

// NewSwapDim exchanges axes i and j.
func NewSwapDim(x Expr, i, j int) (Expr, error) {
	sh, err := x.Shape().Swap(i, j)
	if err != nil {
		return nil, err
	}
	return &UnaryExpr{op: exprkind.SwapDim, x: x, swapI: i, swapJ: j, sh: sh, dt: x.DType()}, nil
}

// NewSubtensor applies a Simple range spec directly (one entry per axis
// of x). Prefer Slice for the full heterogeneous indexing surface.
func NewSubtensor(x Expr, spec rangespec.Simple) (Expr, error) {
	srcDims := x.Shape().Dims()
	if len(spec) != len(srcDims) {
		return nil, compileerr.New(compileerr.RankMismatch, x.String(),
			"Subtensor spec has %d axes but operand has rank %d", len(spec), len(srcDims))
	}
	dims := make([]symsize.SizeExpr, len(spec))
	for i, ax := range spec {
		dims[i] = ax.Width()
	}
	return &UnaryExpr{op: exprkind.Subtensor, x: x, simpleSpec: spec, sh: shape.New(dims...), dt: x.DType()}, nil
}

// Slice compiles a Full (heterogeneous) range spec into (Subtensor,
// Reshape), inserting new broadcastable axes for NewAxis entries and
// dropping axes picked by SymElem/DynElem entries.
func Slice(x Expr, spec rangespec.Full) (Expr, error) {
	srcDims := x.Shape().Dims()
	simple, steps, err := spec.Lower(srcDims)
	if err != nil {
		return nil, err
	}
	sliced, err := NewSubtensor(x, simple)
	if err != nil {
		return nil, err
	}
	needsReshape := false
	for _, st := range steps {
		if st != rangespec.StepConsume {
			needsReshape = true
			break
		}
	}
	if !needsReshape {
		return sliced, nil
	}
	slicedDims := sliced.Shape().Dims()
	var final []symsize.SizeExpr
	i := 0
	for _, st := range steps {
		switch st {
		case rangespec.StepConsume:
			final = append(final, slicedDims[i])
			i++
		case rangespec.StepDrop:
			i++
		case rangespec.StepInsert:
			final = append(final, symsize.Broadcast())
		}
	}
	return NewReshape(shape.New(final...), sliced)
}

// NewStoreToVar stores x into vs; its own shape is the empty sentinel
// shape, marking it as a side-effecting expression.
func NewStoreToVar(vs varspec.VarSpec, x Expr) (Expr, error) {
	if !x.Shape().EqualUnder(emptyEnv, vs.Shape) {
		return nil, compileerr.New(compileerr.ShapeMismatch, x.String(),
			"StoreToVar(%s): operand shape %s does not equal variable shape %s", vs.Name, x.Shape(), vs.Shape)
	}
	if x.DType() != vs.DType {
		return nil, compileerr.New(compileerr.ShapeMismatch, x.String(),
			"StoreToVar(%s): operand dtype %s does not equal variable dtype %s", vs.Name, x.DType(), vs.DType)
	}
	return &UnaryExpr{op: exprkind.StoreToVar, x: x, storeVar: vs, sh: shape.Scalar(), dt: vs.DType}, nil
}

// NewAnnotated wraps x with a human-readable annotation, passed through
// to generated source as a comment; it does not change shape or dtype.
func NewAnnotated(text string, x Expr) (Expr, error) {
	return &UnaryExpr{op: exprkind.Annotated, x: x, text: text, sh: x.Shape(), dt: x.DType()}, nil
}

func padRankTo(x Expr, rank int) (Expr, error) {
	if x.Shape().Rank() >= rank {
		return x, nil
	}
	return NewReshape(x.Shape().PadLeft(rank-x.Shape().Rank()), x)
}

// padAndBroadcast implements the auto-broadcasting rule shared by every
// elementwise binary constructor: pad both operands to the same rank
// (via an auto-inserted Reshape), then broadcast both to a common shape
// (via an auto-inserted DoBroadcast), so that by the time the binary op
// itself is constructed its two operands already have identical shapes.
func padAndBroadcast(x, y Expr) (Expr, Expr, shape.Shape, error) {
	rank := x.Shape().Rank()
	if y.Shape().Rank() > rank {
		rank = y.Shape().Rank()
	}
	px, err := padRankTo(x, rank)
	if err != nil {
		return nil, nil, shape.Shape{}, err
	}
	py, err := padRankTo(y, rank)
	if err != nil {
		return nil, nil, shape.Shape{}, err
	}
	target, err := shape.BroadcastTogether(emptyEnv, px.Shape(), py.Shape())
	if err != nil {
		return nil, nil, shape.Shape{}, err
	}
	if !px.Shape().EqualUnder(emptyEnv, target) {
		px, err = NewDoBroadcast(target, px)
		if err != nil {
			return nil, nil, shape.Shape{}, err
		}
	}
	if !py.Shape().EqualUnder(emptyEnv, target) {
		py, err = NewDoBroadcast(target, py)
		if err != nil {
			return nil, nil, shape.Shape{}, err
		}
	}
	return px, py, target, nil
}

func newElementwiseBinary(op exprkind.Kind, x, y Expr) (Expr, error) {
	if x.DType() != y.DType() {
		return nil, compileerr.New(compileerr.ShapeMismatch, op.String(), "dtype mismatch: %s vs %s", x.DType(), y.DType())
	}
	px, py, target, err := padAndBroadcast(x, y)
	if err != nil {
		return nil, compileerr.Wrap(compileerr.ShapeMismatch, op.String(), err)
	}
	return &BinaryExpr{op: op, x: px, y: py, sh: target, dt: x.DType()}, nil
}

// NewAdd, NewSubtract, NewMultiply, NewDivide, NewModulo, NewPower
// construct the elementwise binary ops, auto-broadcasting their operands
// to a common shape.
func NewAdd(x, y Expr) (Expr, error)      { return newElementwiseBinary(exprkind.Add, x, y) }
func NewSubtract(x, y Expr) (Expr, error) { return newElementwiseBinary(exprkind.Subtract, x, y) }
func NewMultiply(x, y Expr) (Expr, error) { return newElementwiseBinary(exprkind.Multiply, x, y) }
func NewDivide(x, y Expr) (Expr, error)   { return newElementwiseBinary(exprkind.Divide, x, y) }
func NewModulo(x, y Expr) (Expr, error)   { return newElementwiseBinary(exprkind.Modulo, x, y) }
func NewPower(x, y Expr) (Expr, error)    { return newElementwiseBinary(exprkind.Power, x, y) }

// NewDot returns the matrix/vector dot product of x and y. Only ranks
// (1,1), (2,1), and (2,2) are supported, with matching inner dimension.
func NewDot(x, y Expr) (Expr, error) {
	if x.DType() != y.DType() {
		return nil, compileerr.New(compileerr.ShapeMismatch, "Dot", "dtype mismatch: %s vs %s", x.DType(), y.DType())
	}
	xr, yr := x.Shape().Rank(), y.Shape().Rank()
	var resultDims []symsize.SizeExpr
	var innerX, innerY symsize.SizeExpr
	switch {
	case xr == 1 && yr == 1:
		innerX, innerY = x.Shape().Dim(0), y.Shape().Dim(0)
	case xr == 2 && yr == 1:
		innerX, innerY = x.Shape().Dim(1), y.Shape().Dim(0)
		resultDims = []symsize.SizeExpr{x.Shape().Dim(0)}
	case xr == 2 && yr == 2:
		innerX, innerY = x.Shape().Dim(1), y.Shape().Dim(0)
		resultDims = []symsize.SizeExpr{x.Shape().Dim(0), y.Shape().Dim(1)}
	default:
		return nil, compileerr.New(compileerr.RankMismatch, "Dot", "unsupported rank combination (%d,%d): Dot requires (1,1), (2,1), or (2,2)", xr, yr)
	}
	if !innerX.EqualUnder(emptyEnv, innerY) {
		return nil, compileerr.New(compileerr.ShapeMismatch, "Dot", "inner dimensions do not match: %s vs %s", innerX, innerY)
	}
	return &BinaryExpr{op: exprkind.Dot, x: x, y: y, sh: shape.New(resultDims...), dt: x.DType()}, nil
}

// NewTensorProduct returns the outer product of x and y: a tensor whose
// shape is the concatenation of x's and y's shapes.
func NewTensorProduct(x, y Expr) (Expr, error) {
	if x.DType() != y.DType() {
		return nil, compileerr.New(compileerr.ShapeMismatch, "TensorProduct", "dtype mismatch: %s vs %s", x.DType(), y.DType())
	}
	dims := append(x.Shape().Dims(), y.Shape().Dims()...)
	return &BinaryExpr{op: exprkind.TensorProduct, x: x, y: y, sh: shape.New(dims...), dt: x.DType()}, nil
}

// NewSetSubtensor returns base with the region described by spec
// overwritten by updates.
func NewSetSubtensor(base Expr, spec rangespec.Simple, updates Expr) (Expr, error) {
	baseDims := base.Shape().Dims()
	if len(spec) != len(baseDims) {
		return nil, compileerr.New(compileerr.RankMismatch, "SetSubtensor", "spec has %d axes but base has rank %d", len(spec), len(baseDims))
	}
	wantDims := make([]symsize.SizeExpr, len(spec))
	for i, ax := range spec {
		wantDims[i] = ax.Width()
	}
	want := shape.New(wantDims...)
	if !updates.Shape().EqualUnder(emptyEnv, want) {
		return nil, compileerr.New(compileerr.ShapeMismatch, "SetSubtensor", "updates shape %s does not match region shape %s", updates.Shape(), want)
	}
	if base.DType() != updates.DType() {
		return nil, compileerr.New(compileerr.ShapeMismatch, "SetSubtensor", "dtype mismatch: %s vs %s", base.DType(), updates.DType())
	}
	return &BinaryExpr{op: exprkind.SetSubtensor, x: base, y: updates, simpleSpec: spec, sh: base.Shape(), dt: base.DType()}, nil
}

// NewDiscard returns a value-less n-ary node whose only purpose is to
// sequence its operands' side effects (e.g. several StoreToVar calls)
// without producing a result.
func NewDiscard(xs ...Expr) (Expr, error) {
	return &NaryExpr{op: exprkind.Discard, xs: xs, sh: shape.Scalar(), dt: dtype.TypeName{}}, nil
}

// NewExtensionOp constructs a user-supplied n-ary operator, checking its
// declared arity against the argument count.
func NewExtensionOp(ext ExtensionOp, args ...Expr) (Expr, error) {
	if ext.Arity() != len(args) {
		return nil, compileerr.New(compileerr.UnsupportedOp, ext.Name(),
			"extension op %q declares arity %d but got %d arguments", ext.Name(), ext.Arity(), len(args))
	}
	sh, dt, err := ext.InferShape(args)
	if err != nil {
		return nil, compileerr.Wrap(compileerr.ShapeMismatch, ext.Name(), err)
	}
	return &NaryExpr{op: exprkind.ExtensionOp, xs: args, sh: sh, dt: dt, ext: ext}, nil
}
