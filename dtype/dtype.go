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

// Package dtype identifies the element type carried by an expression.
package dtype

import "fmt"

// TypeName is an opaque identifier for an element type.
//
// Every expression in the graph carries exactly one TypeName; the planner
// and code generator use it to size allocations and to select the
// templated kernel/host function to instantiate.
type TypeName struct {
	name string
	size int
}

// String representation of the type name.
func (t TypeName) String() string { return t.name }

// ByteSize returns the size, in bytes, of one element of this type.
func (t TypeName) ByteSize() int { return t.size }

// IsValid returns false for the zero value of TypeName.
func (t TypeName) IsValid() bool { return t.size > 0 }

var (
	// Bool is a one-byte boolean element type.
	Bool = TypeName{name: "bool", size: 1}
	// Int32 is a 32-bit signed integer element type.
	Int32 = TypeName{name: "int32", size: 4}
	// Int64 is a 64-bit signed integer element type.
	Int64 = TypeName{name: "int64", size: 8}
	// Float32 is a single-precision floating point element type.
	Float32 = TypeName{name: "float32", size: 4}
	// Float64 is a double-precision floating point element type.
	Float64 = TypeName{name: "float64", size: 8}
)

// Named returns a custom type name of the given byte size.
//
// Used sparingly: prefer one of the predeclared names above so that
// generated kernels can rely on a small, closed set of C++ template
// instantiations.
func Named(name string, byteSize int) (TypeName, error) {
	if byteSize <= 0 {
		return TypeName{}, fmt.Errorf("dtype: invalid byte size %d for %q", byteSize, name)
	}
	return TypeName{name: name, size: byteSize}, nil
}
