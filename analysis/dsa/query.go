// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dsa

import (
	"fmt"

	"golang.org/x/tools/go/ssa"
)

// FindFunction returns the function of the program with the given name,
// preferring functions of main packages, or nil.
func FindFunction(prog *ssa.Program, name string) *ssa.Function {
	var found *ssa.Function
	for _, f := range ModuleFunctions(prog) {
		if f.Name() == name {
			if f.Pkg != nil && f.Pkg.Pkg.Name() == "main" {
				return f
			}
			if found == nil {
				found = f
			}
		}
	}
	return found
}

// ValueHandle resolves a source-level name of fn against the result graph.
// Parameters and free variables resolve to their scalar cell. A local
// variable (an Alloc) resolves to what the variable holds: the cell its
// storage node points at, or the storage node itself when the variable does
// not hold a pointer. Any other name is looked up among the function's
// instruction values.
func (r *Result) ValueHandle(fn *ssa.Function, name string) (*Handle, error) {
	g := r.Graph
	for _, p := range fn.Params {
		if p.Name() == name {
			if h, ok := g.LookupValue(p); ok {
				return h, nil
			}
			return nil, fmt.Errorf("parameter %s of %s has no node", name, fn)
		}
	}
	for _, fv := range fn.FreeVars {
		if fv.Name() == name {
			if h, ok := g.LookupValue(fv); ok {
				return h, nil
			}
			return nil, fmt.Errorf("free variable %s of %s has no node", name, fn)
		}
	}
	for _, blk := range fn.Blocks {
		for _, instr := range blk.Instrs {
			v, ok := instr.(ssa.Value)
			if !ok {
				continue
			}
			alloc, isAlloc := v.(*ssa.Alloc)
			switch {
			case isAlloc && alloc.Comment == name:
				h, bound := g.LookupValue(v)
				if !bound {
					return nil, fmt.Errorf("variable %s of %s has no node", name, fn)
				}
				if link := h.Node().Link(h.Offset()); link != nil {
					return link, nil
				}
				return h, nil
			case v.Name() == name:
				if h, bound := g.LookupValue(v); bound {
					return h, nil
				}
				return nil, fmt.Errorf("value %s of %s has no node", name, fn)
			}
		}
	}
	return nil, fmt.Errorf("no value named %s in %s", name, fn)
}
