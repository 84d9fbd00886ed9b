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

// Package plan implements the Execution-Unit Planner (spec §4.4): it
// walks a unified-lowering graph and produces a topologically ordered list
// of execution units, a memory allocation list, and the manikin (logical
// tensor) assigned to every node's result.
package plan

import (
	"fmt"
	"sort"

	"github.com/shapeforge/shapeforge/apicall"
	"github.com/shapeforge/shapeforge/compileerr"
	"github.com/shapeforge/shapeforge/dtype"
	"github.com/shapeforge/shapeforge/expr/exprkind"
	"github.com/shapeforge/shapeforge/rangespec"
	"github.com/shapeforge/shapeforge/uir"
	"github.com/shapeforge/shapeforge/varspec"
)

// StorageKind distinguishes a manikin backed by a planner-owned
// allocation from one backed by a caller-owned variable.
type StorageKind int

const (
	StorageInternal StorageKind = iota
	StorageVariable
)

// StorageRef identifies where a Manikin's bytes actually live.
type StorageRef struct {
	Kind    StorageKind
	AllocID int
	Var     varspec.VarSpec
}

// Manikin is a logical tensor: shape, strides, offset (all in elements),
// dtype, and a storage binding. Manikins carry no bytes of their own.
type Manikin struct {
	Dims    []int64
	Strides []int64
	Offset  int64
	DType   dtype.TypeName
	Storage StorageRef

	// producerUnit is the id of the last execution unit that wrote this
	// manikin's storage, or -1 if nothing in this compile has (e.g. an
	// as-yet-unread input variable). Consumers depend on it.
	producerUnit int
}

func rowMajorStrides(dims []int64) []int64 {
	strides := make([]int64, len(dims))
	acc := int64(1)
	for i := len(dims) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= dims[i]
	}
	return strides
}

func numElements(dims []int64) int64 {
	n := int64(1)
	for _, d := range dims {
		n *= d
	}
	return n
}

// MemAlloc is one planner-owned memory allocation, unique within a recipe.
type MemAlloc struct {
	ID       int
	ByteSize int64
	DType    dtype.TypeName
}

// PrimitiveOp is a single device-level action emitted by an execution
// unit (spec §3 "Execution unit").
type PrimitiveOp interface{ isPrimitiveOp() }

// LaunchKernel runs an elementwise (or otherwise data-parallel) functor
// over a templated kernel instantiation.
type LaunchKernel struct {
	Functor string
	Args    []*Manikin
	Result  *Manikin
}

func (LaunchKernel) isPrimitiveOp() {}

// CallCFunc invokes a host-side template function, e.g. a reduction.
type CallCFunc struct {
	Name         string
	DelegateType string
	Args         []*Manikin
	Result       *Manikin
}

func (CallCFunc) isPrimitiveOp() {}

// MemcpyDtoD copies device storage to device storage.
type MemcpyDtoD struct{ Src, Dst *Manikin }

func (MemcpyDtoD) isPrimitiveOp() {}

// MemcpyHtoD copies host storage to device storage.
type MemcpyHtoD struct{ Src, Dst *Manikin }

func (MemcpyHtoD) isPrimitiveOp() {}

// MemcpyDtoH copies device storage to host storage.
type MemcpyDtoH struct{ Src, Dst *Manikin }

func (MemcpyDtoH) isPrimitiveOp() {}

// Memset fills a manikin's storage with a constant bit pattern; used for
// Zeros, and (with the bit pattern of the constant) for ScalarConst and
// SizeValue leaves.
type Memset struct {
	Value  float64
	Dst    *Manikin
}

func (Memset) isPrimitiveOp() {}

// BlasGemm computes C := alpha*op(A)*op(B) + beta*C. Dot at every
// supported rank (1,1)/(2,1)/(2,2) lowers to this, with N=1 modeling the
// gemv case; there is no separate BLAS verb for vector forms in the
// closed apicall set.
type BlasGemm struct {
	OpA, OpB    apicall.TransposeOp
	Alpha, Beta float64
	A, B, C     *Manikin
	M, N, K     int64
}

func (BlasGemm) isPrimitiveOp() {}

// Trace records a unified-lowering node's result manikin for the
// interpreter/debugger boundary.
type Trace struct {
	NodeText string
	Result   *Manikin
}

func (Trace) isPrimitiveOp() {}

// ExecUnit is the planner's atomic scheduling item.
type ExecUnit struct {
	ID         int
	Ops        []PrimitiveOp
	DependsOn  []int
	RerunAfter []int
}

// Result is the planner's full output.
type Result struct {
	Units    []*ExecUnit
	Warmup   []*ExecUnit
	Allocs   []*MemAlloc
	Manikins map[*uir.Node]*Manikin
	Warnings []string
}

// Planner walks a unified-lowering graph and builds a Result.
type Planner struct {
	env         *varspec.CompileEnv
	units       []*ExecUnit
	warmup      []*ExecUnit
	allocs      []*MemAlloc
	manikins    map[*uir.Node]*Manikin
	usage       map[*uir.Node]int
	deviceCache map[string]*Manikin
	warnings    []string
	nextUnit    int
	nextAlloc   int
}

// Plan runs the planner over root and returns its full output.
func Plan(root *uir.Node, env *varspec.CompileEnv) (*Result, error) {
	p := &Planner{
		env:         env,
		manikins:    map[*uir.Node]*Manikin{},
		usage:       map[*uir.Node]int{},
		deviceCache: map[string]*Manikin{},
	}
	p.countUsage(root, map[*uir.Node]bool{})

	var app compileerr.Appender
	_, err := p.visit(root, &app)
	if !app.Empty() {
		return nil, app.ToError()
	}
	if err != nil {
		return nil, err
	}
	return &Result{
		Units:    p.units,
		Warmup:   p.warmup,
		Allocs:   p.allocs,
		Manikins: p.manikins,
		Warnings: p.warnings,
	}, nil
}

// countUsage records, for every node reachable from root, how many
// distinct parent edges reference it — the "used nowhere else downstream"
// test the in-place analysis needs (spec §4.4 step 1). A node visited via
// more than one distinct parent (or more than once from the same parent)
// is never a safe in-place site.
func (p *Planner) countUsage(n *uir.Node, visiting map[*uir.Node]bool) {
	if n == nil {
		return
	}
	p.usage[n]++
	if visiting[n] {
		return
	}
	visiting[n] = true
	for _, c := range n.Args {
		p.countUsage(c, visiting)
	}
}

func (p *Planner) allocInternal(dims []int64, dt dtype.TypeName) *Manikin {
	id := p.nextAlloc
	p.nextAlloc++
	p.allocs = append(p.allocs, &MemAlloc{ID: id, ByteSize: numElements(dims) * int64(dt.ByteSize()), DType: dt})
	return &Manikin{
		Dims: dims, Strides: rowMajorStrides(dims), DType: dt,
		Storage:      StorageRef{Kind: StorageInternal, AllocID: id},
		producerUnit: -1,
	}
}

func (p *Planner) newUnit(ops ...PrimitiveOp) *ExecUnit {
	u := &ExecUnit{ID: p.nextUnit, Ops: ops}
	p.nextUnit++
	p.units = append(p.units, u)
	return u
}

func resolveDims(n *uir.Node) ([]int64, error) {
	dims := n.Shape.Dims()
	out := make([]int64, len(dims))
	for i, d := range dims {
		v, err := d.Eval()
		if err != nil {
			return nil, compileerr.Wrap(compileerr.UnresolvedSymbol, n.String(), err)
		}
		out[i] = v
	}
	return out, nil
}

// visit lowers n and everything below it, returning n's result manikin.
// Nodes already visited (shared subtrees) are returned from the memo
// without emitting duplicate units.
func (p *Planner) visit(n *uir.Node, app *compileerr.Appender) (*Manikin, error) {
	if m, ok := p.manikins[n]; ok {
		return m, nil
	}
	args := make([]*Manikin, len(n.Args))
	for i, c := range n.Args {
		m, err := p.visit(c, app)
		if err != nil {
			app.Append(err)
			continue
		}
		args[i] = m
	}
	if !app.Empty() {
		return nil, nil
	}

	dims, err := resolveDims(n)
	if err != nil {
		return nil, err
	}

	if needsDeviceOperands(n.Op) {
		for i, a := range args {
			mirrored, err := p.ensureDevice(a)
			if err != nil {
				return nil, err
			}
			args[i] = mirrored
		}
	}

	m, err := p.lower(n, args, dims)
	if err != nil {
		return nil, err
	}
	p.manikins[n] = m
	return m, nil
}

// needsDeviceOperands reports whether op's primitive-op lowering requires
// its operands to already be device-resident. View ops (Reshape,
// DoBroadcast, SwapDim, Subtensor), StoreToVar (which branches on the
// destination's own placement), Annotated, Var, and Discard pass their
// operand's existing storage through unchanged instead.
func needsDeviceOperands(op exprkind.Kind) bool {
	switch op {
	case exprkind.Var, exprkind.Reshape, exprkind.DoBroadcast, exprkind.SwapDim,
		exprkind.Subtensor, exprkind.StoreToVar, exprkind.Annotated, exprkind.Discard,
		exprkind.Identity, exprkind.Zeros, exprkind.ScalarConst, exprkind.SizeValue:
		return false
	default:
		return true
	}
}

func (p *Planner) lower(n *uir.Node, args []*Manikin, dims []int64) (*Manikin, error) {
	switch n.Op {
	case exprkind.Identity:
		m := p.allocInternal(dims, n.DType)
		u := p.newUnit(LaunchKernel{Functor: "identity", Result: m})
		m.producerUnit = u.ID
		return m, nil
	case exprkind.Zeros:
		m := p.allocInternal(dims, n.DType)
		u := p.newUnit(Memset{Value: 0, Dst: m})
		m.producerUnit = u.ID
		return m, nil
	case exprkind.ScalarConst:
		m := p.allocInternal(dims, n.DType)
		u := p.newUnit(Memset{Value: n.ScalarVal, Dst: m})
		m.producerUnit = u.ID
		return m, nil
	case exprkind.SizeValue:
		v, err := n.SizeVal.Eval()
		if err != nil {
			return nil, compileerr.Wrap(compileerr.UnresolvedSymbol, n.String(), err)
		}
		m := p.allocInternal(dims, n.DType)
		u := p.newUnit(Memset{Value: float64(v), Dst: m})
		m.producerUnit = u.ID
		return m, nil
	case exprkind.Var:
		return p.varManikin(n)
	case exprkind.Sum:
		return p.reduce(n, args[0], "sum_all", dims)
	case exprkind.SumAxis:
		return p.reduce(n, args[0], fmt.Sprintf("sum_axis_%d", n.Axis), dims)
	case exprkind.Reshape:
		return p.view(args[0], dims, rowMajorStrides(dims), args[0].Offset), nil
	case exprkind.DoBroadcast:
		return p.view(args[0], dims, broadcastStrides(args[0], dims), args[0].Offset), nil
	case exprkind.SwapDim:
		return p.swapDim(args[0], n.SwapI, n.SwapJ), nil
	case exprkind.Subtensor:
		return p.subtensor(args[0], n)
	case exprkind.StoreToVar:
		return p.storeToVar(n, args[0])
	case exprkind.Annotated:
		return args[0], nil
	case exprkind.Dot:
		return p.dot(args[0], args[1], n.DType, dims)
	case exprkind.TensorProduct:
		return p.tensorProduct(n, args[0], args[1], dims)
	case exprkind.SetSubtensor:
		return p.setSubtensor(n, args[0], args[1])
	case exprkind.Discard:
		return nil, nil
	case exprkind.ExtensionOp:
		return p.extensionOp(n, args, dims)
	default:
		if n.Op.IsElementwiseUnary() {
			return p.elementwiseUnary(n, args[0], dims)
		}
		if n.Op.IsElementwiseBinary() {
			return p.elementwiseBinary(n, args[0], args[1], dims)
		}
		return nil, compileerr.New(compileerr.UnsupportedOp, n.String(), "planner: unrecognized op %s", n.Op)
	}
}

func (p *Planner) varManikin(n *uir.Node) (*Manikin, error) {
	// Confirms the variable has a placement entry (PlacementMissing is
	// raised here, at first reference, rather than deferred to whichever
	// consumer first needs the value on a specific device).
	if _, err := p.env.Lookup(n.VarSpec); err != nil {
		return nil, err
	}
	dims, err := resolveDims(n)
	if err != nil {
		return nil, err
	}
	return &Manikin{
		Dims: dims, Strides: rowMajorStrides(dims), DType: n.DType,
		Storage:      StorageRef{Kind: StorageVariable, Var: n.VarSpec},
		producerUnit: -1,
	}, nil
}

// ensureDevice returns a manikin guaranteed to be device-resident,
// inserting a warmup MemcpyHtoD the first time a host variable is needed
// on device (spec §4.4 step 3, "Var for host variables consumed on
// device -> MemcpyHtoD as part of init/warmup").
func (p *Planner) ensureDevice(m *Manikin) (*Manikin, error) {
	if m.Storage.Kind == StorageInternal {
		return m, nil
	}
	placement, err := p.env.Lookup(m.Storage.Var)
	if err != nil {
		return nil, err
	}
	if placement == varspec.Device {
		return m, nil
	}
	key := m.Storage.Var.Key()
	if cached, ok := p.deviceCache[key]; ok {
		return cached, nil
	}
	mirror := p.allocInternal(m.Dims, m.DType)
	u := &ExecUnit{ID: p.nextUnit, Ops: []PrimitiveOp{MemcpyHtoD{Src: m, Dst: mirror}}}
	p.nextUnit++
	p.warmup = append(p.warmup, u)
	mirror.producerUnit = u.ID
	p.deviceCache[key] = mirror
	return mirror, nil
}

func (p *Planner) view(src *Manikin, dims, strides []int64, offset int64) *Manikin {
	return &Manikin{
		Dims: dims, Strides: strides, Offset: offset, DType: src.DType,
		Storage: src.Storage, producerUnit: src.producerUnit,
	}
}

// broadcastStrides derives a DoBroadcast view's strides from src rather
// than re-deriving contiguous strides over the expanded dims: an axis
// whose source width differs from the broadcast target (always a
// size-1 source axis, since the operands were already rank-padded)
// gets stride 0, every other axis keeps src's own stride. src's
// allocation only ever holds its own (unexpanded) element count, so
// reusing rowMajorStrides(dims) here would walk past it.
func broadcastStrides(src *Manikin, dims []int64) []int64 {
	strides := make([]int64, len(dims))
	for i, d := range dims {
		if src.Dims[i] != d {
			strides[i] = 0
		} else {
			strides[i] = src.Strides[i]
		}
	}
	return strides
}

func (p *Planner) swapDim(src *Manikin, i, j int) *Manikin {
	dims := append([]int64{}, src.Dims...)
	strides := append([]int64{}, src.Strides...)
	dims[i], dims[j] = dims[j], dims[i]
	strides[i], strides[j] = strides[j], strides[i]
	return p.view(src, dims, strides, src.Offset)
}

// subtensor resolves a Subtensor view's dims and offset. Symbolic starts
// (SymStartSymEnd) resolve to a plan-time constant offset, matching every
// other manikin field. Dynamic starts (DynStartSymSize) name a runtime
// int expression the shape algebra deliberately keeps opaque (spec §3
// "dynamic-start ... runtime int expression"): the planner cannot fold
// that into Manikin.Offset, so that axis contributes nothing to the
// offset and a warning is recorded. No later stage adds the dynamic
// start back: the generated calls carry only the manikin's plan-time
// offset.
func (p *Planner) subtensor(src *Manikin, n *uir.Node) (*Manikin, error) {
	if len(n.RangeSpec) != len(src.Dims) {
		return nil, compileerr.New(compileerr.RankMismatch, n.String(),
			"subtensor spec has %d axes but manikin has rank %d", len(n.RangeSpec), len(src.Dims))
	}
	dims := make([]int64, len(src.Dims))
	offset := src.Offset
	for i, ax := range n.RangeSpec {
		w, err := ax.Width().Eval()
		if err != nil {
			return nil, compileerr.Wrap(compileerr.UnresolvedSymbol, n.String(), err)
		}
		dims[i] = w
		switch ax.Kind {
		case rangespec.SymStartSymEnd:
			start, err := ax.SymStart.Eval()
			if err != nil {
				return nil, compileerr.Wrap(compileerr.UnresolvedSymbol, n.String(), err)
			}
			offset += start * src.Strides[i]
		case rangespec.DynStartSymSize:
			p.warnings = append(p.warnings, fmt.Sprintf(
				"%s: axis %d has a dynamic start; its start is not included in the plan-time address offset", n.String(), i))
		}
	}
	return p.view(src, dims, src.Strides, offset), nil
}

func (p *Planner) elementwiseUnary(n *uir.Node, x *Manikin, dims []int64) (*Manikin, error) {
	var dst *Manikin
	if p.usage[n.Args[0]] == 1 && x.Storage.Kind == StorageInternal {
		dst = x
	} else {
		dst = p.allocInternal(dims, n.DType)
	}
	u := p.newUnit(LaunchKernel{Functor: n.Op.String(), Args: []*Manikin{x}, Result: dst})
	dst.producerUnit = u.ID
	if dst != x {
		u.DependsOn = appendDep(u.DependsOn, x.producerUnit)
	}
	return dst, nil
}

func (p *Planner) elementwiseBinary(n *uir.Node, x, y *Manikin, dims []int64) (*Manikin, error) {
	var dst *Manikin
	switch {
	case p.usage[n.Args[0]] == 1 && x.Storage.Kind == StorageInternal:
		dst = x
	case p.usage[n.Args[1]] == 1 && y.Storage.Kind == StorageInternal:
		dst = y
	default:
		dst = p.allocInternal(dims, n.DType)
	}
	u := p.newUnit(LaunchKernel{Functor: n.Op.String(), Args: []*Manikin{x, y}, Result: dst})
	dst.producerUnit = u.ID
	if dst != x {
		u.DependsOn = appendDep(u.DependsOn, x.producerUnit)
	}
	if dst != y {
		u.DependsOn = appendDep(u.DependsOn, y.producerUnit)
	}
	return dst, nil
}

func (p *Planner) reduce(n *uir.Node, x *Manikin, name string, dims []int64) (*Manikin, error) {
	dst := p.allocInternal(dims, n.DType)
	u := p.newUnit(CallCFunc{Name: name, DelegateType: "reduction", Args: []*Manikin{x}, Result: dst})
	dst.producerUnit = u.ID
	u.DependsOn = appendDep(u.DependsOn, x.producerUnit)
	return dst, nil
}

func (p *Planner) dot(x, y *Manikin, dt dtype.TypeName, dims []int64) (*Manikin, error) {
	dst := p.allocInternal(dims, dt)
	var m, k, nn int64
	switch {
	case len(x.Dims) == 2 && len(y.Dims) == 2:
		m, k, nn = x.Dims[0], x.Dims[1], y.Dims[1]
	case len(x.Dims) == 2 && len(y.Dims) == 1:
		m, k, nn = x.Dims[0], x.Dims[1], 1
	default:
		m, k, nn = 1, x.Dims[0], 1
	}
	u := p.newUnit(BlasGemm{
		OpA: apicall.NonTranspose, OpB: apicall.NonTranspose, Alpha: 1, Beta: 0,
		A: x, B: y, C: dst, M: m, N: nn, K: k,
	})
	dst.producerUnit = u.ID
	u.DependsOn = appendDep(appendDep(u.DependsOn, x.producerUnit), y.producerUnit)
	return dst, nil
}

func (p *Planner) tensorProduct(n *uir.Node, x, y *Manikin, dims []int64) (*Manikin, error) {
	dst := p.allocInternal(dims, n.DType)
	u := p.newUnit(LaunchKernel{Functor: "outer", Args: []*Manikin{x, y}, Result: dst})
	dst.producerUnit = u.ID
	u.DependsOn = appendDep(appendDep(u.DependsOn, x.producerUnit), y.producerUnit)
	return dst, nil
}

func (p *Planner) setSubtensor(n *uir.Node, base, updates *Manikin) (*Manikin, error) {
	var dst *Manikin
	var copyUnit *ExecUnit
	if p.usage[n.Args[0]] == 1 && base.Storage.Kind == StorageInternal {
		dst = base
	} else {
		dst = p.allocInternal(base.Dims, base.DType)
		copyUnit = p.newUnit(MemcpyDtoD{Src: base, Dst: dst})
		copyUnit.DependsOn = appendDep(copyUnit.DependsOn, base.producerUnit)
	}
	region := p.view(dst, updates.Dims, dst.Strides, dst.Offset)
	u := p.newUnit(MemcpyDtoD{Src: updates, Dst: region})
	if copyUnit != nil {
		u.DependsOn = appendDep(u.DependsOn, copyUnit.ID)
	}
	u.DependsOn = appendDep(u.DependsOn, updates.producerUnit)
	dst.producerUnit = u.ID
	return dst, nil
}

func (p *Planner) storeToVar(n *uir.Node, x *Manikin) (*Manikin, error) {
	placement, err := p.env.Lookup(n.StoreVar)
	if err != nil {
		return nil, err
	}
	dims, err := resolveDims(n.Args[0])
	if err != nil {
		return nil, err
	}
	dst := &Manikin{
		Dims: dims, Strides: rowMajorStrides(dims), DType: n.StoreVar.DType,
		Storage: StorageRef{Kind: StorageVariable, Var: n.StoreVar},
	}
	var op PrimitiveOp
	if placement == varspec.Device {
		op = MemcpyDtoD{Src: x, Dst: dst}
	} else {
		op = MemcpyDtoH{Src: x, Dst: dst}
	}
	u := p.newUnit(op)
	u.DependsOn = appendDep(u.DependsOn, x.producerUnit)
	dst.producerUnit = u.ID
	return dst, nil
}

// extensionLowerer is the optional lowering hook an expr.ExtensionOp may
// implement (spec §9: extension ops are "a trait/interface with arity,
// shapeOf, and lower methods"); ExtensionOp itself only declares arity and
// shape inference (package expr has no reason to depend on package plan's
// PrimitiveOp types), so lowering is a separate, optional capability
// checked here via a type assertion.
type extensionLowerer interface {
	LowerPrimitive(args []*Manikin, result *Manikin) PrimitiveOp
}

func (p *Planner) extensionOp(n *uir.Node, args []*Manikin, dims []int64) (*Manikin, error) {
	dst := p.allocInternal(dims, n.DType)
	var op PrimitiveOp
	if lowerer, ok := n.Ext.(extensionLowerer); ok {
		op = lowerer.LowerPrimitive(args, dst)
	} else {
		op = CallCFunc{Name: n.Ext.Name(), DelegateType: "extension", Args: args, Result: dst}
	}
	u := p.newUnit(op)
	for _, a := range args {
		u.DependsOn = appendDep(u.DependsOn, a.producerUnit)
	}
	dst.producerUnit = u.ID
	return dst, nil
}

func appendDep(deps []int, unitID int) []int {
	if unitID < 0 {
		return deps
	}
	for _, d := range deps {
		if d == unitID {
			return deps
		}
	}
	deps = append(deps, unitID)
	sort.Ints(deps)
	return deps
}
