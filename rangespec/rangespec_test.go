package rangespec_test

import (
	"testing"

	"github.com/shapeforge/shapeforge/rangespec"
	"github.com/shapeforge/shapeforge/symsize"
)

type stubIndex string

func (s stubIndex) String() string { return string(s) }

func TestFullLowerConsumeDropInsertFill(t *testing.T) {
	src := []symsize.SizeExpr{symsize.Const(4), symsize.Const(5), symsize.Const(6)}
	full := rangespec.Full{
		rangespec.NewAxisSpec(),
		rangespec.SymElemAt(symsize.Const(1)),
		rangespec.AllFillSpec(),
	}
	simple, steps, err := full.Lower(src)
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	wantSteps := []rangespec.Step{rangespec.StepInsert, rangespec.StepDrop, rangespec.StepConsume, rangespec.StepConsume}
	if len(steps) != len(wantSteps) {
		t.Fatalf("steps = %v, want %v", steps, wantSteps)
	}
	for i, s := range steps {
		if s != wantSteps[i] {
			t.Errorf("steps[%d] = %v, want %v", i, s, wantSteps[i])
		}
	}
	if len(simple) != 3 {
		t.Fatalf("simple has %d axes, want 3 (one SymElem drop + two AllFill consumes)", len(simple))
	}
}

func TestFullLowerRankMismatch(t *testing.T) {
	src := []symsize.SizeExpr{symsize.Const(4)}
	full := rangespec.Full{
		rangespec.SymElemAt(symsize.Const(0)),
		rangespec.SymElemAt(symsize.Const(0)),
	}
	if _, _, err := full.Lower(src); err == nil {
		t.Fatal("expected a RankMismatch error consuming more axes than the source has")
	}
}

func TestFullLowerUnderConsumes(t *testing.T) {
	src := []symsize.SizeExpr{symsize.Const(4), symsize.Const(5)}
	full := rangespec.Full{rangespec.SymElemAt(symsize.Const(0))}
	if _, _, err := full.Lower(src); err == nil {
		t.Fatal("expected a RankMismatch error when the spec under-consumes the source rank")
	}
}

func TestAxisWidth(t *testing.T) {
	cases := []struct {
		name string
		axis rangespec.Axis
		want symsize.SizeExpr
	}{
		{"sym range width", rangespec.SymRange(symsize.Const(2), symsize.Const(5)), symsize.Const(3)},
		{"dyn range width", rangespec.DynRange(stubIndex("i"), symsize.Const(7)), symsize.Const(7)},
		{"sym elem width", rangespec.SymElemAt(symsize.Const(0)), symsize.Const(1)},
		{"new axis width", rangespec.NewAxisSpec(), symsize.Const(0)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.axis.Width(); !got.EqualUnder(nil, tc.want) {
				t.Errorf("Width() = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestSimpleSubst(t *testing.T) {
	n := symsize.Sym("N")
	simple := rangespec.Simple{rangespec.SymRange(symsize.Const(0), n)}
	out := simple.Subst(symsize.Env{"N": 8}, nil)
	if !out[0].SymEnd.EqualUnder(nil, symsize.Const(8)) {
		t.Errorf("SymEnd after Subst = %s, want 8", out[0].SymEnd)
	}
}

func TestFullSubstDelegatesDynIndex(t *testing.T) {
	full := rangespec.Full{rangespec.DynElemAt(stubIndex("raw"))}
	substFn := func(env symsize.Env, idx rangespec.DynIndex) rangespec.DynIndex {
		return stubIndex("subst(" + idx.String() + ")")
	}
	out := full.Subst(nil, substFn)
	if got, want := out[0].DynStart.String(), "subst(raw)"; got != want {
		t.Errorf("DynStart after Subst = %q, want %q", got, want)
	}
}

func TestAxisString(t *testing.T) {
	a := rangespec.SymRange(symsize.Const(0), symsize.Const(3))
	if got, want := a.String(), "0..3"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
