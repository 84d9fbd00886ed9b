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

// Package compileerr defines the compiler's fatal error taxonomy.
//
// Every error raised by shapeforge is fatal at compile time and is raised
// at its point of detection, carrying a snapshot of the offending
// node/unit/stream. Nothing in the pipeline retries after an error.
// Errors are annotated with github.com/pkg/errors so that a full cause
// chain and stack survive up to the top-level compile.Compile call, and
// phases that can legitimately discover more than one independent fault
// (the planner enumerating every unresolved symbol, for example) collect
// them with an Appender backed by go.uber.org/multierr instead of
// returning only the first.
package compileerr

import (
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Kind identifies which member of the fatal error taxonomy an Error is.
type Kind int

// The closed set of fatal compile-time error kinds (spec §7).
const (
	// ShapeMismatch: two operands disagree on a dimension that is not
	// broadcastable.
	ShapeMismatch Kind = iota
	// RankMismatch: structural arity is wrong (Dot on rank-3 operands,
	// SwapDim out of range, Reshape with unequal element count, ...).
	RankMismatch
	// UnresolvedSymbol: CanEvalAllSymSizes is false at a phase that
	// requires concrete sizes.
	UnresolvedSymbol
	// PlacementMissing: a variable has no entry in the placement map.
	PlacementMissing
	// InPlaceConflict: the planner proves no safe in-place site exists but
	// a required op demands one. Indicates an internal bug.
	InPlaceConflict
	// SchedulerDeadlock: the call sequencer finds no ready stream while
	// some stream is non-empty. Indicates a scheduler invariant violation.
	SchedulerDeadlock
	// UnsupportedOp: an extension op's arity does not match its argument
	// count.
	UnsupportedOp
)

// String representation of the error kind.
func (k Kind) String() string {
	switch k {
	case ShapeMismatch:
		return "ShapeMismatch"
	case RankMismatch:
		return "RankMismatch"
	case UnresolvedSymbol:
		return "UnresolvedSymbol"
	case PlacementMissing:
		return "PlacementMissing"
	case InPlaceConflict:
		return "InPlaceConflict"
	case SchedulerDeadlock:
		return "SchedulerDeadlock"
	case UnsupportedOp:
		return "UnsupportedOp"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is a fatal compiler error tagged with its taxonomy Kind and a
// human-readable snapshot of what was being processed when it was
// detected (the offending node, execution unit, or stream state).
type Error struct {
	Kind    Kind
	Context string
	cause   error
}

// Error returns the formatted message, including the taxonomy kind and
// the context snapshot.
func (e *Error) Error() string {
	if e.Context == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.cause)
	}
	return fmt.Sprintf("%s in %s: %v", e.Kind, e.Context, e.cause)
}

// Unwrap returns the underlying cause, so errors.Is/As see through it.
func (e *Error) Unwrap() error { return e.cause }

// Format forwards to the underlying pkg/errors-wrapped cause so that %+v
// prints a stack trace.
func (e *Error) Format(s fmt.State, verb rune) {
	if formatter, ok := e.cause.(fmt.Formatter); ok {
		formatter.Format(s, verb)
		return
	}
	fmt.Fprintf(s, "%v", e.Error())
}

// New builds a taxonomy error whose cause is a freshly formatted message.
func New(kind Kind, context, format string, args ...any) *Error {
	return &Error{Kind: kind, Context: context, cause: errors.Errorf(format, args...)}
}

// Wrap attaches a taxonomy Kind and context to an existing error, in the
// same style as errors.Wrap.
func Wrap(kind Kind, context string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Context: context, cause: errors.WithStack(err)}
}

// Appender accumulates independent fatal diagnostics from a single
// compiler phase so that, e.g., every unresolved symbol in a shape is
// reported at once rather than only the first one found.
type Appender struct {
	errs []error
}

// Append records err if it is non-nil; a nil err is a no-op.
func (a *Appender) Append(err error) {
	if err != nil {
		a.errs = append(a.errs, err)
	}
}

// Appendf records a new taxonomy error built from a format string.
func (a *Appender) Appendf(kind Kind, context, format string, args ...any) {
	a.Append(New(kind, context, format, args...))
}

// Empty returns true if nothing has been appended.
func (a *Appender) Empty() bool { return len(a.errs) == 0 }

// Len returns the number of accumulated errors.
func (a *Appender) Len() int { return len(a.errs) }

// ToError combines every accumulated error into one multi-error, or
// returns nil if nothing was appended.
func (a *Appender) ToError() error {
	if a.Empty() {
		return nil
	}
	return multierr.Combine(a.errs...)
}
