package uir_test

import (
	"testing"

	"github.com/shapeforge/shapeforge/dtype"
	"github.com/shapeforge/shapeforge/expr"
	"github.com/shapeforge/shapeforge/shape"
	"github.com/shapeforge/shapeforge/symsize"
	"github.com/shapeforge/shapeforge/uir"
	"github.com/shapeforge/shapeforge/varspec"
)

func mustVar(t *testing.T, name string, sh shape.Shape, dt dtype.TypeName) expr.Expr {
	t.Helper()
	v, err := expr.NewVar(varspec.VarSpec{Name: name, Shape: sh, DType: dt})
	if err != nil {
		t.Fatalf("NewVar(%s): %v", name, err)
	}
	return v
}

func TestTranslatePreservesShapeDTypeAndStructure(t *testing.T) {
	x := mustVar(t, "x", shape.New(symsize.Const(3), symsize.Const(4)), dtype.Float32)
	y := mustVar(t, "y", shape.New(symsize.Const(4)), dtype.Float32)
	sum, err := expr.NewAdd(x, y)
	if err != nil {
		t.Fatalf("NewAdd: %v", err)
	}
	node := uir.Translate(sum)
	if got, want := node.Shape.String(), sum.Shape().String(); got != want {
		t.Errorf("node.Shape = %q, want %q", got, want)
	}
	if node.DType != dtype.Float32 {
		t.Errorf("node.DType = %v, want Float32", node.DType)
	}
	if len(node.Args) != 2 {
		t.Fatalf("node.Args has %d entries, want 2", len(node.Args))
	}
}

func TestTranslatePreservesDAGSharing(t *testing.T) {
	x := mustVar(t, "x", shape.New(symsize.Const(3)), dtype.Float32)
	sum, err := expr.NewAdd(x, x)
	if err != nil {
		t.Fatalf("NewAdd: %v", err)
	}
	node := uir.Translate(sum)
	if node.Args[0] != node.Args[1] {
		t.Error("translating a DAG where both operands are the same expr.Expr should produce the same *Node pointer for both")
	}
}

func TestTranslateLeafPayload(t *testing.T) {
	c, err := expr.NewScalarConst(2.5, dtype.Float32)
	if err != nil {
		t.Fatalf("NewScalarConst: %v", err)
	}
	node := uir.Translate(c)
	if node.ScalarVal != 2.5 {
		t.Errorf("node.ScalarVal = %v, want 2.5", node.ScalarVal)
	}
}

func TestTranslateVarPayload(t *testing.T) {
	v := mustVar(t, "x", shape.New(symsize.Const(3)), dtype.Int32)
	node := uir.Translate(v)
	if node.VarSpec.Name != "x" {
		t.Errorf("node.VarSpec.Name = %q, want %q", node.VarSpec.Name, "x")
	}
}

func TestStringMatchesExprString(t *testing.T) {
	x := mustVar(t, "x", shape.New(symsize.Const(2), symsize.Const(3)), dtype.Float32)
	swapped, err := expr.NewSwapDim(x, 0, 1)
	if err != nil {
		t.Fatalf("NewSwapDim: %v", err)
	}
	node := uir.Translate(swapped)
	if got, want := node.String(), swapped.String(); got != want {
		t.Errorf("node.String() = %q, want %q (should match expr.Expr.String())", got, want)
	}
}

func TestTranslateNilIsNil(t *testing.T) {
	if uir.Translate(nil) != nil {
		t.Error("Translate(nil) should return nil")
	}
}
