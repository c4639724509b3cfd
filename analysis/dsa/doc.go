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

/*
Package dsa implements a context-insensitive, unification-based data
structure analysis for whole Go programs in SSA form.

The analysis maps every SSA value that may (transitively) hold a pointer to a
node in a points-to graph. Two values map to the same node exactly when the
analysis concludes they may refer to overlapping memory. Nodes are merged
with a union-find discipline: merging is non-directional, total, and collapses
a node's internal structure when aliasing between distinct offsets of the same
node is discovered.

[Analyze] runs the whole-program pass. It splices the per-function graphs
produced by a [GraphSource] (the default is [NewBuilder]) into a single result
graph, then iterates call-site resolution to a fixpoint, merging the formal
parameters and return value of every candidate callee with the actual
arguments and return of each call site. Indirect calls are resolved against
the globals recorded on the callee node, which yields a conservative call
graph with a complete/incomplete verdict per site.

The result is shared: [Result.FunctionGraph] returns the same graph for every
function of the program.
*/
package dsa
