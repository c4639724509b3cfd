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

// A CallSite records one call of the analyzed program together with the
// handles that tie it into its graph: where the callee function pointer
// lives, where the return value goes, and where each pointer-like argument
// comes from. Direct calls additionally record the concrete callee.
type CallSite struct {
	// Caller is the function containing the call.
	Caller *ssa.Function

	// Instruction is the SSA call, go or defer instruction.
	Instruction ssa.CallInstruction

	// Callee is the concrete called function for direct calls, nil for
	// indirect ones.
	Callee *ssa.Function

	// CalleeHandle locates the function pointer for indirect calls. It is
	// nil when Callee is set.
	CalleeHandle *Handle

	// ReturnHandle locates the call's result, nil when the result is not
	// pointer-like or the instruction is a go or defer.
	ReturnHandle *Handle

	// VarargHandle locates the cell that collects arguments beyond the
	// formal parameter list.
	VarargHandle *Handle

	// Args holds the handles of the pointer-like actual arguments, in
	// positional order.
	Args []*Handle
}

// IsDirect reports whether the site calls a statically known function.
func (cs *CallSite) IsDirect() bool { return cs.Callee != nil }

func (cs *CallSite) String() string {
	target := "<indirect>"
	if cs.Callee != nil {
		target = cs.Callee.String()
	}
	return fmt.Sprintf("call %s in %s (%d ptr args)", target, cs.Caller, len(cs.Args))
}

// handles returns every non-nil handle attached to the site.
func (cs *CallSite) handles() []*Handle {
	hs := make([]*Handle, 0, len(cs.Args)+3)
	for _, h := range []*Handle{cs.CalleeHandle, cs.ReturnHandle, cs.VarargHandle} {
		if h != nil {
			hs = append(hs, h)
		}
	}
	for _, h := range cs.Args {
		if h != nil {
			hs = append(hs, h)
		}
	}
	return hs
}
