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

// Package varspec defines variable identity and the compile-time
// placement map (CompileEnv) that tells the planner whether a variable's
// storage lives on the host or the device.
package varspec

import (
	"fmt"

	"github.com/shapeforge/shapeforge/compileerr"
	"github.com/shapeforge/shapeforge/dtype"
	"github.com/shapeforge/shapeforge/shape"
)

// VarSpec identifies a variable. Its identity is the triple
// (Name, Shape, DType); two VarSpecs naming the same triple are the same
// variable.
type VarSpec struct {
	Name  string
	Shape shape.Shape
	DType dtype.TypeName
}

// Key returns a value suitable for use as a map key, since Shape embeds a
// slice and VarSpec itself is therefore not comparable with ==.
func (v VarSpec) Key() string {
	return fmt.Sprintf("%s|%s|%s", v.Name, v.Shape, v.DType)
}

// Equal returns true if v and o have the same identity.
func (v VarSpec) Equal(o VarSpec) bool { return v.Key() == o.Key() }

// String representation of the variable, e.g. "x: [N, M] float32".
func (v VarSpec) String() string {
	return fmt.Sprintf("%s: %s %s", v.Name, v.Shape, v.DType)
}

// Placement is where a variable's storage lives.
type Placement int

// The two placements a variable can have.
const (
	Host Placement = iota
	Device
)

// String representation of the placement.
func (p Placement) String() string {
	if p == Device {
		return "Device"
	}
	return "Host"
}

// CompileEnv carries the variable placement map consumed by the
// execution-unit planner.
type CompileEnv struct {
	placement map[string]Placement
	specs     map[string]VarSpec
}

// NewCompileEnv returns an empty compile environment.
func NewCompileEnv() *CompileEnv {
	return &CompileEnv{placement: map[string]Placement{}, specs: map[string]VarSpec{}}
}

// Place records where v's storage lives.
func (e *CompileEnv) Place(v VarSpec, p Placement) {
	e.placement[v.Key()] = p
	e.specs[v.Key()] = v
}

// Lookup returns the placement recorded for v, or a PlacementMissing
// error if v has no entry.
func (e *CompileEnv) Lookup(v VarSpec) (Placement, error) {
	p, ok := e.placement[v.Key()]
	if !ok {
		return 0, compileerr.New(compileerr.PlacementMissing, v.String(),
			"variable %q has no entry in the placement map", v.Name)
	}
	return p, nil
}
