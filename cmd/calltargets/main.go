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

// calltargets: a tool resolving the targets of every call site of a program
// with a unification-based points-to analysis.
// -analyze prints the per-site listing of candidate callees.
// -check-same-node asserts that two named values share a points-to node.
// -dot writes a Graphviz dump of the whole-program graph to the given path.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/awslabs/go-dsa/analysis"
	"github.com/awslabs/go-dsa/analysis/calltargets"
	"github.com/awslabs/go-dsa/analysis/config"
	"github.com/awslabs/go-dsa/analysis/dsa"
	"github.com/awslabs/go-dsa/internal/formatutil"
	"github.com/awslabs/go-dsa/internal/graphutil"
	"golang.org/x/tools/go/ssa"
)

var (
	configPath  = flag.String("config", "", "config file path for the analysis")
	analyzeFlag = flag.Bool("analyze", false, "print the call-target listing for every indirect call")
	checkFlag   = flag.String("check-same-node", "", "comma-separated pair A:x,B:y of values that must share a node")
	dotPath     = flag.String("dot", "", "write a graphviz dump of the result graph to this file")
	cyclesFlag  = flag.Bool("cycles", false, "print the elementary cycles of the computed call graph")
	statsFlag   = flag.Bool("stats", false, "print statistics about the SSA program")
	buildmode   = ssa.BuilderMode(0)
)

func init() {
	flag.Var(&buildmode, "build", ssa.BuilderModeDoc)
}

const usage = ` Resolve the call targets of your packages.
Usage:
    calltargets [options] <package path(s)>
Examples:
% calltargets -analyze -config config.yaml package...
`

func main() {
	flag.Parse()

	if flag.NArg() == 0 {
		_, _ = fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
		os.Exit(2)
	}

	cfg := config.NewDefault()
	if *configPath != "" {
		config.SetGlobalConfig(*configPath)
		var err error
		cfg, err = config.LoadGlobal()
		if err != nil {
			fmt.Fprintf(os.Stderr, "could not load config %s: %v\n", *configPath, err)
			os.Exit(1)
		}
	}
	logger := config.NewLogGroup(cfg)

	logger.Infof(formatutil.Faint("Reading sources") + "\n")
	lp, err := analysis.LoadProgram(nil, "", buildmode, flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not load program: %v\n", err)
		os.Exit(1)
	}
	program := lp.Program

	if *statsFlag {
		stats := analysis.SSAStatistics(dsa.ModuleFunctions(program))
		logger.Infof("%d functions (%d with bodies), %d blocks, %d instructions\n",
			stats.NumberOfFunctions, stats.NumberOfNonemptyFunctions,
			stats.NumberOfBlocks, stats.NumberOfInstructions)
	}

	mode := dsa.Mode{
		UseAuxCalls:          cfg.UseAuxCalls,
		StripAllocaOnClone:   cfg.StripAllocaOnClone,
		ComputeExternalFlags: cfg.ComputeExternalFlags,
	}

	start := time.Now()
	result, err := dsa.Analyze(program, dsa.NewBuilder(program, logger), mode, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "analysis failed: %v\n", err)
		os.Exit(1)
	}
	finder := calltargets.Run(program, result, logger)
	logger.Infof("Analysis took %3.4f s\n", time.Since(start).Seconds())

	if *analyzeFlag {
		finder.Print(os.Stdout)
	}
	logger.Infof("%s: %d direct, %d indirect, %d complete indirect, %d complete empty\n",
		formatutil.Bold("call sites"),
		finder.Stats.Direct, finder.Stats.Indirect,
		finder.Stats.CompleteIndirect, finder.Stats.CompleteEmpty)

	if *checkFlag != "" {
		if err := checkSameNode(program, result, *checkFlag); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", formatutil.Red("check failed:"), err)
			os.Exit(1)
		}
		logger.Infof("%s %s\n", formatutil.Green("check passed:"), *checkFlag)
	}

	if *cyclesFlag {
		printCycles(result, logger)
	}

	if *dotPath != "" {
		if err := os.WriteFile(*dotPath, []byte(result.Graph.Graphviz()), 0600); err != nil {
			fmt.Fprintf(os.Stderr, "could not write graph: %v\n", err)
			os.Exit(1)
		}
	}
	if cfg.ReportGraphs && cfg.ReportsDir != "" {
		f, err := os.CreateTemp(cfg.ReportsDir, "graph-*.dot")
		if err == nil {
			_, _ = f.WriteString(result.Graph.Graphviz())
			_ = f.Close()
			logger.Infof("Wrote graph to %s\n", f.Name())
		}
	}
	if cfg.ReportCallTargets && cfg.ReportsDir != "" {
		f, err := os.CreateTemp(cfg.ReportsDir, "calltargets-*.out")
		if err == nil {
			finder.Print(f)
			_ = f.Close()
			logger.Infof("Wrote call targets to %s\n", f.Name())
		}
	}
}

// checkSameNode parses a directive "A:x,B:y" and verifies that the values it
// names canonicalize into the same node.
func checkSameNode(program *ssa.Program, result *dsa.Result, directive string) error {
	parts := strings.Split(directive, ",")
	if len(parts) != 2 {
		return fmt.Errorf("expected A:x,B:y but got %q", directive)
	}
	handles := make([]*dsa.Handle, 2)
	for i, part := range parts {
		fname, vname, found := strings.Cut(strings.TrimSpace(part), ":")
		if !found {
			return fmt.Errorf("malformed value reference %q", part)
		}
		fn := dsa.FindFunction(program, fname)
		if fn == nil {
			return fmt.Errorf("no function named %s", fname)
		}
		h, err := result.ValueHandle(fn, vname)
		if err != nil {
			return err
		}
		handles[i] = h
	}
	if !dsa.SameNode(handles[0], handles[1]) {
		return fmt.Errorf("%s and %s are in distinct nodes", parts[0], parts[1])
	}
	return nil
}

// printCycles lists the elementary cycles of the refined call graph; these
// are the recursive clusters call-target resolution had to saturate.
func printCycles(result *dsa.Result, logger *config.LogGroup) {
	cg := result.CallGraph
	it := graphutil.NewCallgraphIterator(cg.Functions(), func(f *ssa.Function) []*ssa.Function {
		var succs []*ssa.Function
		for _, site := range cg.Sites() {
			if site.Parent() == f {
				succs = append(succs, cg.Callees(site)...)
			}
		}
		return succs
	})
	cycles := graphutil.FindAllElementaryCycles(it)
	logger.Infof("%d elementary cycles in the call graph\n", len(cycles))
	for _, cycle := range cycles {
		names := make([]string, 0, len(cycle))
		for _, id := range cycle {
			names = append(names, it.IDMap[id].String())
		}
		logger.Infof("  %s\n", strings.Join(names, " -> "))
	}
}
