package compileerr_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/shapeforge/shapeforge/compileerr"
)

func TestNewFormatsKindAndContext(t *testing.T) {
	err := compileerr.New(compileerr.ShapeMismatch, "Add(x, y)", "axis %d mismatch", 2)
	if got, want := err.Kind, compileerr.ShapeMismatch; got != want {
		t.Errorf("Kind = %v, want %v", got, want)
	}
	msg := err.Error()
	if !strings.Contains(msg, "ShapeMismatch") || !strings.Contains(msg, "Add(x, y)") || !strings.Contains(msg, "axis 2 mismatch") {
		t.Errorf("Error() = %q, missing expected components", msg)
	}
}

func TestNewWithoutContext(t *testing.T) {
	err := compileerr.New(compileerr.RankMismatch, "", "bad rank")
	if strings.Contains(err.Error(), " in ") {
		t.Errorf("Error() = %q, should omit context clause when Context is empty", err.Error())
	}
}

func TestWrapPreservesCauseAndNilIsNil(t *testing.T) {
	cause := errors.New("underlying failure")
	wrapped := compileerr.Wrap(compileerr.PlacementMissing, "node#3", cause)
	if !errors.Is(wrapped, cause) {
		t.Error("errors.Is should see through Wrap to the original cause")
	}
	if compileerr.Wrap(compileerr.PlacementMissing, "x", nil) != nil {
		t.Error("Wrap(nil) should return a nil *Error")
	}
}

func TestKindString(t *testing.T) {
	cases := []struct {
		kind compileerr.Kind
		want string
	}{
		{compileerr.ShapeMismatch, "ShapeMismatch"},
		{compileerr.RankMismatch, "RankMismatch"},
		{compileerr.UnresolvedSymbol, "UnresolvedSymbol"},
		{compileerr.PlacementMissing, "PlacementMissing"},
		{compileerr.InPlaceConflict, "InPlaceConflict"},
		{compileerr.SchedulerDeadlock, "SchedulerDeadlock"},
		{compileerr.UnsupportedOp, "UnsupportedOp"},
	}
	for _, tc := range cases {
		if got := tc.kind.String(); got != tc.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tc.kind, got, tc.want)
		}
	}
}

func TestAppender(t *testing.T) {
	var a compileerr.Appender
	if !a.Empty() {
		t.Fatal("a fresh Appender should be Empty")
	}
	a.Append(nil)
	if !a.Empty() {
		t.Fatal("appending nil should be a no-op")
	}
	a.Appendf(compileerr.UnresolvedSymbol, "N", "symbol %s unresolved", "N")
	a.Appendf(compileerr.UnresolvedSymbol, "M", "symbol %s unresolved", "M")
	if got, want := a.Len(), 2; got != want {
		t.Fatalf("Len() = %d, want %d", got, want)
	}
	combined := a.ToError()
	if combined == nil {
		t.Fatal("ToError() should be non-nil once entries were appended")
	}
	if !strings.Contains(combined.Error(), "N") || !strings.Contains(combined.Error(), "M") {
		t.Errorf("combined error = %q, should mention both unresolved symbols", combined.Error())
	}
}

func TestAppenderToErrorNilWhenEmpty(t *testing.T) {
	var a compileerr.Appender
	if a.ToError() != nil {
		t.Error("ToError() should be nil for an empty Appender")
	}
}
