package expr_test

import (
	"testing"

	"github.com/shapeforge/shapeforge/dtype"
	"github.com/shapeforge/shapeforge/expr"
	"github.com/shapeforge/shapeforge/rangespec"
	"github.com/shapeforge/shapeforge/shape"
	"github.com/shapeforge/shapeforge/symsize"
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

func TestNewAddBroadcastsOperands(t *testing.T) {
	x := mustVar(t, "x", shape.New(symsize.Const(3), symsize.Const(4)), dtype.Float32)
	y := mustVar(t, "y", shape.New(symsize.Const(4)), dtype.Float32)
	sum, err := expr.NewAdd(x, y)
	if err != nil {
		t.Fatalf("NewAdd: %v", err)
	}
	if got, want := sum.Shape().String(), "[3, 4]"; got != want {
		t.Errorf("Shape() = %q, want %q", got, want)
	}
	if got, want := sum.DType(), dtype.Float32; got != want {
		t.Errorf("DType() = %v, want %v", got, want)
	}
}

func TestNewAddDTypeMismatch(t *testing.T) {
	x := mustVar(t, "x", shape.New(symsize.Const(3)), dtype.Float32)
	y := mustVar(t, "y", shape.New(symsize.Const(3)), dtype.Int32)
	if _, err := expr.NewAdd(x, y); err == nil {
		t.Fatal("expected a ShapeMismatch error for mismatched dtypes")
	}
}

func TestNewDotRankCombinations(t *testing.T) {
	cases := []struct {
		name       string
		xShape     shape.Shape
		yShape     shape.Shape
		wantShape  string
	}{
		{"vector dot vector", shape.New(symsize.Const(4)), shape.New(symsize.Const(4)), "[]"},
		{"matrix dot vector", shape.New(symsize.Const(3), symsize.Const(4)), shape.New(symsize.Const(4)), "[3]"},
		{"matrix dot matrix", shape.New(symsize.Const(3), symsize.Const(4)), shape.New(symsize.Const(4), symsize.Const(5)), "[3, 5]"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			x := mustVar(t, "x", tc.xShape, dtype.Float32)
			y := mustVar(t, "y", tc.yShape, dtype.Float32)
			d, err := expr.NewDot(x, y)
			if err != nil {
				t.Fatalf("NewDot: %v", err)
			}
			if got := d.Shape().String(); got != tc.wantShape {
				t.Errorf("Shape() = %q, want %q", got, tc.wantShape)
			}
		})
	}
}

func TestNewDotUnsupportedRank(t *testing.T) {
	x := mustVar(t, "x", shape.New(symsize.Const(2), symsize.Const(2), symsize.Const(2)), dtype.Float32)
	y := mustVar(t, "y", shape.New(symsize.Const(2)), dtype.Float32)
	if _, err := expr.NewDot(x, y); err == nil {
		t.Fatal("expected a RankMismatch error for a rank-3 Dot operand")
	}
}

func TestNewDotInnerDimMismatch(t *testing.T) {
	x := mustVar(t, "x", shape.New(symsize.Const(3), symsize.Const(4)), dtype.Float32)
	y := mustVar(t, "y", shape.New(symsize.Const(5)), dtype.Float32)
	if _, err := expr.NewDot(x, y); err == nil {
		t.Fatal("expected a ShapeMismatch error for mismatched inner dimensions")
	}
}

func TestNewReshapeRequiresEqualElementCount(t *testing.T) {
	x := mustVar(t, "x", shape.New(symsize.Const(2), symsize.Const(3)), dtype.Float32)
	if _, err := expr.NewReshape(shape.New(symsize.Const(6)), x); err != nil {
		t.Fatalf("NewReshape to matching element count: %v", err)
	}
	if _, err := expr.NewReshape(shape.New(symsize.Const(7)), x); err == nil {
		t.Fatal("expected a RankMismatch error for an element-count-changing reshape")
	}
}

func TestNewSumAxisOutOfRange(t *testing.T) {
	x := mustVar(t, "x", shape.New(symsize.Const(2), symsize.Const(3)), dtype.Float32)
	if _, err := expr.NewSumAxis(x, 5); err == nil {
		t.Fatal("expected a RankMismatch error for an out-of-range axis")
	}
	reduced, err := expr.NewSumAxis(x, 0)
	if err != nil {
		t.Fatalf("NewSumAxis: %v", err)
	}
	if got, want := reduced.Shape().String(), "[3]"; got != want {
		t.Errorf("Shape() after SumAxis(0) = %q, want %q", got, want)
	}
}

func TestSliceWithNewAxisAndElementPick(t *testing.T) {
	x := mustVar(t, "x", shape.New(symsize.Const(4), symsize.Const(5), symsize.Const(6)), dtype.Float32)
	sliced, err := expr.Slice(x, rangespec.Full{
		rangespec.NewAxisSpec(),
		rangespec.SymElemAt(symsize.Const(1)),
		rangespec.AllFillSpec(),
	})
	if err != nil {
		t.Fatalf("Slice: %v", err)
	}
	if got, want := sliced.Shape().String(), "[Broadcast, 5, 6]"; got != want {
		t.Errorf("Slice shape = %q, want %q", got, want)
	}
}

func TestNewStoreToVarShapeMismatch(t *testing.T) {
	x := mustVar(t, "x", shape.New(symsize.Const(3)), dtype.Float32)
	dst := varspec.VarSpec{Name: "dst", Shape: shape.New(symsize.Const(4)), DType: dtype.Float32}
	if _, err := expr.NewStoreToVar(dst, x); err == nil {
		t.Fatal("expected a ShapeMismatch error storing a rank/size mismatched value")
	}
}

func TestExtractVarsDeterministicOrder(t *testing.T) {
	x := mustVar(t, "x", shape.New(symsize.Const(2)), dtype.Float32)
	y := mustVar(t, "y", shape.New(symsize.Const(2)), dtype.Float32)
	sum, err := expr.NewAdd(y, x)
	if err != nil {
		t.Fatalf("NewAdd: %v", err)
	}
	vars := expr.ExtractVars(sum)
	if len(vars) != 2 {
		t.Fatalf("ExtractVars returned %d vars, want 2", len(vars))
	}
	if vars[0].Name != "x" || vars[1].Name != "y" {
		t.Errorf("ExtractVars order = [%s, %s], want [x, y]", vars[0].Name, vars[1].Name)
	}
}

func TestExtractVarsIncludesStoreToVarDestination(t *testing.T) {
	x := mustVar(t, "x", shape.New(symsize.Const(2)), dtype.Float32)
	dst := varspec.VarSpec{Name: "out", Shape: shape.New(symsize.Const(2)), DType: dtype.Float32}
	stored, err := expr.NewStoreToVar(dst, x)
	if err != nil {
		t.Fatalf("NewStoreToVar: %v", err)
	}
	vars := expr.ExtractVars(stored)
	if len(vars) != 2 {
		t.Fatalf("ExtractVars returned %d vars, want 2 (x and out)", len(vars))
	}
	if vars[0].Name != "out" || vars[1].Name != "x" {
		t.Errorf("ExtractVars order = [%s, %s], want [out, x]", vars[0].Name, vars[1].Name)
	}
}

func TestEqualStructural(t *testing.T) {
	x1 := mustVar(t, "x", shape.New(symsize.Const(3)), dtype.Float32)
	x2 := mustVar(t, "x", shape.New(symsize.Const(3)), dtype.Float32)
	if !expr.Equal(x1, x2) {
		t.Error("two Var leaves with the same VarSpec should be Equal")
	}
	y := mustVar(t, "y", shape.New(symsize.Const(3)), dtype.Float32)
	if expr.Equal(x1, y) {
		t.Error("Var leaves with different names should not be Equal")
	}
}

func TestSubstReplacesSubtree(t *testing.T) {
	x := mustVar(t, "x", shape.New(symsize.Const(3)), dtype.Float32)
	y := mustVar(t, "y", shape.New(symsize.Const(3)), dtype.Float32)
	sum, err := expr.NewAdd(x, y)
	if err != nil {
		t.Fatalf("NewAdd: %v", err)
	}
	z := mustVar(t, "z", shape.New(symsize.Const(3)), dtype.Float32)
	out, err := expr.Subst(sum, x, z)
	if err != nil {
		t.Fatalf("Subst: %v", err)
	}
	if !expr.Equal(out.Children()[0], z) {
		t.Error("Subst should replace x with z in the first operand position")
	}
}

func TestSubstSymSizesReplacesFreeSymbols(t *testing.T) {
	n := symsize.Sym("N")
	x := mustVar(t, "x", shape.New(n), dtype.Float32)
	bound, err := expr.SubstSymSizes(x, symsize.Env{"N": 8})
	if err != nil {
		t.Fatalf("SubstSymSizes: %v", err)
	}
	if !bound.Shape().CanEvalAll() {
		t.Fatal("shape should be fully evaluable after binding N")
	}
	if got, want := bound.Shape().String(), "[8]"; got != want {
		t.Errorf("Shape() = %q, want %q", got, want)
	}
}

func TestCanEvalAllSymSizes(t *testing.T) {
	n := symsize.Sym("N")
	x := mustVar(t, "x", shape.New(n), dtype.Float32)
	if expr.CanEvalAllSymSizes(x) {
		t.Fatal("a shape with a free symbol should not be fully evaluable")
	}
	bound, err := expr.SubstSymSizes(x, symsize.Env{"N": 3})
	if err != nil {
		t.Fatalf("SubstSymSizes: %v", err)
	}
	if !expr.CanEvalAllSymSizes(bound) {
		t.Fatal("a fully bound shape should be evaluable")
	}
}

func TestCheckerAcceptsWellFormedGraph(t *testing.T) {
	x := mustVar(t, "x", shape.New(symsize.Const(3), symsize.Const(4)), dtype.Float32)
	y := mustVar(t, "y", shape.New(symsize.Const(4)), dtype.Float32)
	sum, err := expr.NewAdd(x, y)
	if err != nil {
		t.Fatalf("NewAdd: %v", err)
	}
	if err := expr.NewChecker().Check(sum); err != nil {
		t.Errorf("Check on a well-formed graph: %v", err)
	}
}

func TestCheckerIsIdempotentAcrossSharedSubtrees(t *testing.T) {
	x := mustVar(t, "x", shape.New(symsize.Const(3)), dtype.Float32)
	sum, err := expr.NewAdd(x, x)
	if err != nil {
		t.Fatalf("NewAdd: %v", err)
	}
	c := expr.NewChecker()
	if err := c.Check(sum); err != nil {
		t.Fatalf("first Check: %v", err)
	}
	if err := c.Check(sum); err != nil {
		t.Fatalf("second Check on the same memoized DAG: %v", err)
	}
}
