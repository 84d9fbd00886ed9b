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

// Package compile orchestrates the full pipeline (spec §5): check the
// input DAG, bind symbolic sizes, lower to the unified representation,
// plan execution units, schedule streams, sequence calls, and assemble
// the resulting Recipe.
package compile

import (
	"github.com/shapeforge/shapeforge/callseq"
	"github.com/shapeforge/shapeforge/codegen"
	"github.com/shapeforge/shapeforge/compileerr"
	"github.com/shapeforge/shapeforge/expr"
	"github.com/shapeforge/shapeforge/plan"
	"github.com/shapeforge/shapeforge/recipe"
	"github.com/shapeforge/shapeforge/sched"
	"github.com/shapeforge/shapeforge/symsize"
	"github.com/shapeforge/shapeforge/uir"
	"github.com/shapeforge/shapeforge/varspec"
)

// Result carries non-fatal diagnostics produced alongside a successful
// Recipe (currently only the planner's warnings, e.g. a dynamic-start
// subtensor axis whose start is left out of the plan-time offset).
type Result struct {
	Warnings []string
}

// Compile runs every phase of the pipeline over root, returning the
// assembled Recipe. env supplies each variable's host/device placement;
// symEnv binds the symbolic sizes that must be closed-form before
// planning can proceed.
func Compile(root expr.Expr, env *varspec.CompileEnv, symEnv symsize.Env) (*recipe.Recipe, *Result, error) {
	checker := expr.NewChecker()
	if err := checker.Check(root); err != nil {
		return nil, nil, err
	}

	bound, err := expr.SubstSymSizes(root, symEnv)
	if err != nil {
		return nil, nil, err
	}
	if !expr.CanEvalAllSymSizes(bound) {
		return nil, nil, compileerr.New(compileerr.UnresolvedSymbol, bound.String(),
			"compile: one or more symbolic sizes remain unbound after substitution")
	}

	// SubstSymSizes rebuilds every node whose shape changed by
	// re-running its constructor (same machinery Checker itself uses),
	// but re-verify the whole bound DAG with a fresh session-scoped
	// Checker before planning trusts it.
	if err := expr.NewChecker().Check(bound); err != nil {
		return nil, nil, err
	}

	uirRoot := uir.Translate(bound)
	planResult, err := plan.Plan(uirRoot, env)
	if err != nil {
		return nil, nil, err
	}

	schedResult := sched.Schedule(planResult.Units)

	cache := callseq.NewTemplateCache()
	seq := callseq.NewSequencer(cache)
	execCalls, err := seq.Sequence(schedResult.Streams)
	if err != nil {
		return nil, nil, err
	}

	kernelCode, hostCode, err := codegen.Generate(cache)
	if err != nil {
		return nil, nil, err
	}

	asm := recipe.NewAssembler()
	rec := asm.Assemble(planResult, schedResult, seq, execCalls, kernelCode, hostCode)

	return rec, &Result{Warnings: planResult.Warnings}, nil
}
