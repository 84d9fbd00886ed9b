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

// Package symsize implements the size algebra: a free commutative
// semiring over symbolic size variables and natural-number literals, with
// a distinguished Broadcast value.
//
// A SizeExpr is a symbolic polynomial: a sum of monomials, each a
// coefficient times a product of symbol powers. Two SizeExprs compare
// equal under an environment by substituting bound symbols, normalizing,
// and comparing the resulting polynomials structurally.
package symsize

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/exp/maps"

	"github.com/shapeforge/shapeforge/compileerr"
)

// Env is a partial map from size-symbol name to its bound natural-number
// value.
type Env map[string]int64

// monomial is coeff * product(var^exponent).
type monomial struct {
	coeff int64
	vars  map[string]int // symbol name -> exponent, always > 0
}

// SizeExpr is an element of the size algebra: a normalized sum of
// monomials, optionally tagged Broadcast.
//
// The Broadcast tag is semantically 1 (an untagged SizeExpr equal to 1
// compares equal to a Broadcast SizeExpr numerically) but flagged so that
// shape.BroadcastTogether can distinguish "this axis is 1 because the
// caller wants broadcasting" from "this axis is 1 because that's its
// fixed size".
type SizeExpr struct {
	terms     []monomial
	broadcast bool
}

// Const returns the literal size n.
func Const(n int64) SizeExpr {
	if n == 0 {
		return SizeExpr{}
	}
	return SizeExpr{terms: []monomial{{coeff: n}}}
}

// Sym returns the symbolic size variable named name.
func Sym(name string) SizeExpr {
	return SizeExpr{terms: []monomial{{coeff: 1, vars: map[string]int{name: 1}}}}
}

// Broadcast returns the distinguished broadcast-tagged size, numerically
// equal to 1.
func Broadcast() SizeExpr {
	s := Const(1)
	s.broadcast = true
	return s
}

// IsBroadcast returns true if this SizeExpr carries the Broadcast tag.
func (s SizeExpr) IsBroadcast() bool { return s.broadcast }

func monoKey(vars map[string]int) string {
	if len(vars) == 0 {
		return ""
	}
	names := maps.Keys(vars)
	sort.Strings(names)
	var b strings.Builder
	for _, n := range names {
		fmt.Fprintf(&b, "%s^%d;", n, vars[n])
	}
	return b.String()
}

func normalize(terms []monomial) []monomial {
	byKey := map[string]*monomial{}
	var order []string
	for _, t := range terms {
		if t.coeff == 0 {
			continue
		}
		k := monoKey(t.vars)
		if existing, ok := byKey[k]; ok {
			existing.coeff += t.coeff
			continue
		}
		cp := monomial{coeff: t.coeff, vars: t.vars}
		byKey[k] = &cp
		order = append(order, k)
	}
	sort.Strings(order)
	var out []monomial
	for _, k := range order {
		if byKey[k].coeff == 0 {
			continue
		}
		out = append(out, *byKey[k])
	}
	return out
}

// Add returns s + o.
func (s SizeExpr) Add(o SizeExpr) SizeExpr {
	terms := append(append([]monomial{}, s.terms...), o.terms...)
	return SizeExpr{terms: normalize(terms)}
}

// Mul returns s * o.
func (s SizeExpr) Mul(o SizeExpr) SizeExpr {
	var terms []monomial
	for _, a := range s.terms {
		for _, b := range o.terms {
			vars := map[string]int{}
			for k, v := range a.vars {
				vars[k] += v
			}
			for k, v := range b.vars {
				vars[k] += v
			}
			terms = append(terms, monomial{coeff: a.coeff * b.coeff, vars: vars})
		}
	}
	return SizeExpr{terms: normalize(terms)}
}

// Symbols returns the sorted set of free symbol names appearing in s.
func (s SizeExpr) Symbols() []string {
	set := map[string]bool{}
	for _, t := range s.terms {
		for name := range t.vars {
			set[name] = true
		}
	}
	names := maps.Keys(set)
	sort.Strings(names)
	return names
}

// CanEval returns true iff every symbol appearing in s has a numeric
// binding, i.e. s currently has no free symbols.
func (s SizeExpr) CanEval() bool { return len(s.Symbols()) == 0 }

// Eval returns the numeric value of s, or a compileerr.UnresolvedSymbol
// error naming the offending symbols if CanEval is false.
func (s SizeExpr) Eval() (int64, error) {
	if !s.CanEval() {
		return 0, compileerr.New(compileerr.UnresolvedSymbol, s.String(),
			"unresolved symbols: %s", strings.Join(s.Symbols(), ", "))
	}
	var total int64
	for _, t := range s.terms {
		total += t.coeff
	}
	return total, nil
}

// Subst substitutes every symbol bound in env, returning a new,
// normalized SizeExpr. Symbols not present in env remain free. The
// Broadcast tag, if any, is preserved.
func (s SizeExpr) Subst(env Env) SizeExpr {
	var terms []monomial
	for _, t := range s.terms {
		coeff := t.coeff
		remaining := map[string]int{}
		for name, exp := range t.vars {
			if v, ok := env[name]; ok {
				for i := 0; i < exp; i++ {
					coeff *= v
				}
				continue
			}
			remaining[name] = exp
		}
		terms = append(terms, monomial{coeff: coeff, vars: remaining})
	}
	out := SizeExpr{terms: normalize(terms), broadcast: s.broadcast}
	return out
}

// EqualUnder returns true if s and o denote the same size once every
// symbol bound in env is substituted in both.
func (s SizeExpr) EqualUnder(env Env, o SizeExpr) bool {
	a := s.Subst(env)
	b := o.Subst(env)
	if len(a.terms) != len(b.terms) {
		return false
	}
	for i := range a.terms {
		if a.terms[i].coeff != b.terms[i].coeff {
			return false
		}
		if monoKey(a.terms[i].vars) != monoKey(b.terms[i].vars) {
			return false
		}
	}
	return true
}

// String representation of the size expression, e.g. "2*N + 1".
func (s SizeExpr) String() string {
	if s.broadcast {
		return "Broadcast"
	}
	if len(s.terms) == 0 {
		return "0"
	}
	parts := make([]string, len(s.terms))
	for i, t := range s.terms {
		parts[i] = monoString(t)
	}
	return strings.Join(parts, " + ")
}

func monoString(t monomial) string {
	if len(t.vars) == 0 {
		return fmt.Sprintf("%d", t.coeff)
	}
	names := maps.Keys(t.vars)
	sort.Strings(names)
	var factors []string
	for _, n := range names {
		if t.vars[n] == 1 {
			factors = append(factors, n)
		} else {
			factors = append(factors, fmt.Sprintf("%s^%d", n, t.vars[n]))
		}
	}
	if t.coeff == 1 {
		return strings.Join(factors, "*")
	}
	return fmt.Sprintf("%d*%s", t.coeff, strings.Join(factors, "*"))
}
