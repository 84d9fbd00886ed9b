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

// Package codegen assembles kernel and host source text from a
// recipe's template-instantiation cache (spec §6 "Source-text
// conventions"): one wrapper per distinct instantiation, prefixed by
// the includes each domain requires.
package codegen

import (
	"fmt"
	"slices"
	"strings"
	"text/template"

	basefmt "github.com/shapeforge/shapeforge/base/fmt"
	"github.com/shapeforge/shapeforge/base/stringseq"
	"github.com/shapeforge/shapeforge/base/tmpl"
	"github.com/shapeforge/shapeforge/callseq"
)

const kernelPrefix = "#include \"Utils.cuh\"\n" +
	"#include \"NDSupport.cuh\"\n" +
	"#include \"Subtensor.cuh\"\n" +
	"#include \"Ops.cuh\"\n"

const hostPrefix = "#include \"Utils.cuh\"\n" +
	"#include \"NDSupport.cuh\"\n" +
	"#include \"Subtensor.cuh\"\n" +
	"#include \"Ops.cuh\"\n" +
	"#include \"ThrustInterface.cuh\"\n" +
	"#include \"Reduce.cuh\"\n" +
	"#include <stdio.h>\n"

// kernelWrapperTmpl emits a C-linkage __global__ wrapper: it traces its
// own name, then forwards its arguments into the templated function
// (spec §6: "Each generated wrapper has C linkage, __global__ (kernel
// domain) ... calls a trace macro with its own name, invokes the
// templated function with forwarded arguments, and returns its result").
var kernelWrapperTmpl = template.Must(template.New("kernelWrapper").Parse(
	`extern "C" __global__ void {{.Symbol}}({{.ArgList}}) {
	TRACE_CALL("{{.Symbol}}");
	{{.Key.FunctionName}}<{{.Key.TemplateArgs}}>({{.CallArgs}});
}
`))

// hostWrapperTmpl is the host-domain counterpart: dllexport instead of
// __global__, otherwise identical in shape.
var hostWrapperTmpl = template.Must(template.New("hostWrapper").Parse(
	`extern "C" DLLEXPORT void {{.Symbol}}({{.ArgList}}) {
	TRACE_CALL("{{.Symbol}}");
	{{.Key.FunctionName}}<{{.Key.TemplateArgs}}>({{.CallArgs}});
}
`))

type wrapperView struct {
	callseq.TemplateEntry
	ArgList  string
	CallArgs string
}

func buildView(e callseq.TemplateEntry) wrapperView {
	var types []string
	if e.Key.ArgTypes != "" {
		types = strings.Split(e.Key.ArgTypes, ",")
	}
	params := make([]string, len(types))
	names := make([]string, len(types))
	for i, t := range types {
		name := fmt.Sprintf("a%d", i)
		params[i] = fmt.Sprintf("%s* %s", t, name)
		names[i] = name
	}
	return wrapperView{
		TemplateEntry: e,
		ArgList:       stringseq.Join(slices.Values(params), ", "),
		CallArgs:      stringseq.Join(slices.Values(names), ", "),
	}
}

// Generate renders the kernel and host source for every instantiation
// recorded in cache, in the order they were first assigned a symbol.
func Generate(cache *callseq.TemplateCache) (kernelCode, hostCode string, err error) {
	var kernelViews, hostViews []wrapperView
	for e := range cache.Entries() {
		v := buildView(e)
		switch e.Key.Domain {
		case "kernel":
			kernelViews = append(kernelViews, v)
		case "host":
			hostViews = append(hostViews, v)
		}
	}

	kernelBody, err := tmpl.IterateTmpl(kernelViews, kernelWrapperTmpl)
	if err != nil {
		return "", "", err
	}
	hostBody, err := tmpl.IterateTmpl(hostViews, hostWrapperTmpl)
	if err != nil {
		return "", "", err
	}
	return kernelPrefix + "\n" + kernelBody, hostPrefix + "\n" + hostBody, nil
}

// DebugDump returns src with a per-line number prefix, for diagnostics
// that need to point at a specific generated line (e.g. a device
// compiler error referencing a line number in the assembled source).
func DebugDump(src string) string {
	return basefmt.Number(src)
}
