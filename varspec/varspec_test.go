package varspec_test

import (
	"testing"

	"github.com/shapeforge/shapeforge/dtype"
	"github.com/shapeforge/shapeforge/shape"
	"github.com/shapeforge/shapeforge/symsize"
	"github.com/shapeforge/shapeforge/varspec"
)

func TestEqualIdentity(t *testing.T) {
	s := shape.New(symsize.Sym("N"))
	a := varspec.VarSpec{Name: "x", Shape: s, DType: dtype.Float32}
	b := varspec.VarSpec{Name: "x", Shape: s, DType: dtype.Float32}
	if !a.Equal(b) {
		t.Error("VarSpecs with the same name/shape/dtype should be Equal")
	}
	c := varspec.VarSpec{Name: "x", Shape: s, DType: dtype.Int32}
	if a.Equal(c) {
		t.Error("VarSpecs with a different dtype should not be Equal")
	}
}

func TestString(t *testing.T) {
	v := varspec.VarSpec{Name: "x", Shape: shape.New(symsize.Const(3)), DType: dtype.Float32}
	if got, want := v.String(), "x: [3] float32"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestPlacementString(t *testing.T) {
	if got, want := varspec.Host.String(), "Host"; got != want {
		t.Errorf("Host.String() = %q, want %q", got, want)
	}
	if got, want := varspec.Device.String(), "Device"; got != want {
		t.Errorf("Device.String() = %q, want %q", got, want)
	}
}

func TestCompileEnvPlaceAndLookup(t *testing.T) {
	env := varspec.NewCompileEnv()
	v := varspec.VarSpec{Name: "x", Shape: shape.New(symsize.Const(4)), DType: dtype.Float32}
	env.Place(v, varspec.Device)
	p, err := env.Lookup(v)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if p != varspec.Device {
		t.Errorf("Lookup() = %v, want Device", p)
	}
}

func TestCompileEnvLookupMissing(t *testing.T) {
	env := varspec.NewCompileEnv()
	v := varspec.VarSpec{Name: "unplaced", Shape: shape.Scalar(), DType: dtype.Int32}
	if _, err := env.Lookup(v); err == nil {
		t.Fatal("expected a PlacementMissing error for an unplaced variable")
	}
}
