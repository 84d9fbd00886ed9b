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

// Package exprkind defines the tag enumeration for the expression graph's
// tagged-variant nodes (leaves, unary, binary, and n-ary operators).
package exprkind

// Kind tags which operator an expression node represents.
type Kind uint

// Leaf kinds.
const (
	Identity Kind = iota
	Zeros
	ScalarConst
	SizeValue
	Var
)

// Unary kinds: elementwise transcendentals plus the structural unary ops.
const (
	Neg Kind = iota + 100
	Abs
	Sign
	Log
	Log10
	Exp
	Sin
	Cos
	Tan
	Asin
	Acos
	Atan
	Sinh
	Cosh
	Tanh
	Sqrt
	Ceil
	Floor
	Round
	Truncate

	Sum
	SumAxis
	Reshape
	DoBroadcast
	SwapDim
	Subtensor
	StoreToVar
	Annotated
)

// Binary kinds.
const (
	Add Kind = iota + 200
	Subtract
	Multiply
	Divide
	Modulo
	Power
	Dot
	TensorProduct
	SetSubtensor
)

// Nary kinds.
const (
	Discard Kind = iota + 300
	ExtensionOp
)

var names = map[Kind]string{
	Identity: "Identity", Zeros: "Zeros", ScalarConst: "ScalarConst", SizeValue: "SizeValue", Var: "Var",

	Neg: "Neg", Abs: "Abs", Sign: "Sign", Log: "Log", Log10: "Log10", Exp: "Exp",
	Sin: "Sin", Cos: "Cos", Tan: "Tan", Asin: "Asin", Acos: "Acos", Atan: "Atan",
	Sinh: "Sinh", Cosh: "Cosh", Tanh: "Tanh", Sqrt: "Sqrt", Ceil: "Ceil", Floor: "Floor",
	Round: "Round", Truncate: "Truncate",
	Sum: "Sum", SumAxis: "SumAxis", Reshape: "Reshape", DoBroadcast: "DoBroadcast",
	SwapDim: "SwapDim", Subtensor: "Subtensor", StoreToVar: "StoreToVar", Annotated: "Annotated",

	Add: "Add", Subtract: "Subtract", Multiply: "Multiply", Divide: "Divide", Modulo: "Modulo",
	Power: "Power", Dot: "Dot", TensorProduct: "TensorProduct", SetSubtensor: "SetSubtensor",

	Discard: "Discard", ExtensionOp: "ExtensionOp",
}

// String representation of the kind.
func (k Kind) String() string {
	if n, ok := names[k]; ok {
		return n
	}
	return "Unknown"
}

// IsElementwiseUnary returns true for the unary transcendental functors,
// i.e. ops that always preserve their operand's shape and support
// in-place execution.
func (k Kind) IsElementwiseUnary() bool {
	return k >= Neg && k <= Truncate
}

// IsElementwiseBinary returns true for binary ops applied elementwise
// after auto-broadcast (as opposed to Dot/TensorProduct/SetSubtensor).
func (k Kind) IsElementwiseBinary() bool {
	switch k {
	case Add, Subtract, Multiply, Divide, Modulo, Power:
		return true
	default:
		return false
	}
}

// IsView returns true for unary ops that never emit a primitive op: only
// the result manikin's shape/strides/offset change.
func (k Kind) IsView() bool {
	switch k {
	case Reshape, DoBroadcast, SwapDim, Subtensor:
		return true
	default:
		return false
	}
}
