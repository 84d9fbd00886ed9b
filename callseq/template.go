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

package callseq

import (
	"strings"

	"github.com/shapeforge/shapeforge/base/ordered"
	"github.com/shapeforge/shapeforge/base/uname"
)

// TemplateKey is the tuple that identifies one distinct template
// instantiation (spec §4.6): "For each distinct (function-name, domain,
// template-args, return-type, arg-types) tuple assign a unique
// C-linkage symbol name_n".
type TemplateKey struct {
	FunctionName string
	Domain       string // "kernel" or "host"
	TemplateArgs string
	ReturnType   string
	ArgTypes     string
}

func (k TemplateKey) String() string {
	return strings.Join([]string{k.FunctionName, k.Domain, k.TemplateArgs, k.ReturnType, k.ArgTypes}, "|")
}

// TemplateEntry is one row of the cache: the key that produced it, and
// the symbol assigned to it.
type TemplateEntry struct {
	Key    TemplateKey
	Symbol string
}

// TemplateCache assigns a unique C-linkage symbol to each distinct
// (function, domain, template args, return type, arg types) tuple, and
// remembers first-seen order so the recipe assembler can emit one C++
// wrapper per entry in a deterministic order (spec §4.6, "the template
// instantiation cache"; scoped to a single recipe build, not global,
// per spec §5).
type TemplateCache struct {
	entries *ordered.Map[string, TemplateEntry]
	names   *uname.Unique
}

// NewTemplateCache returns an empty, recipe-scoped cache.
func NewTemplateCache() *TemplateCache {
	return &TemplateCache{entries: ordered.NewMap[string, TemplateEntry](), names: uname.New()}
}

// Symbol returns the C-linkage symbol for key, assigning a fresh one
// (via base/uname's name_n scheme, rooted at the function name) the
// first time key is seen.
func (c *TemplateCache) Symbol(key TemplateKey) string {
	k := key.String()
	if e, ok := c.entries.Load(k); ok {
		return e.Symbol
	}
	sym := c.names.Name(key.FunctionName)
	c.entries.Store(k, TemplateEntry{Key: key, Symbol: sym})
	return sym
}

// Entries iterates every distinct instantiation in first-seen order.
func (c *TemplateCache) Entries() func(func(TemplateEntry) bool) {
	return c.entries.Values()
}
