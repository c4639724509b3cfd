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

// Package analysistest loads the small programs under testdata and resolves
// the expectation comments they carry against analysis results.
package analysistest

import (
	"fmt"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/awslabs/go-dsa/analysis"
	"github.com/awslabs/go-dsa/analysis/config"
	"github.com/awslabs/go-dsa/analysis/dsa"
	"github.com/awslabs/go-dsa/internal/funcutil"
	"golang.org/x/tools/go/ssa"
)

// LoadTest loads the program in the directory dir, looking for a main.go and
// an optional config.yaml. If additional files are specified as extraFiles,
// the program will be loaded using those files too.
func LoadTest(t *testing.T, dir string, extraFiles []string) (*ssa.Program, *config.Config) {
	files := []string{filepath.Join(dir, "main.go")}
	for _, extraFile := range extraFiles {
		files = append(files, filepath.Join(dir, extraFile))
	}

	// NaiveForm keeps source-level variables as allocation instructions so
	// expectation comments can name them.
	lp, err := analysis.LoadProgram(nil, "", ssa.NaiveForm, files)
	if err != nil {
		t.Fatalf("error loading packages: %v", err)
	}

	cfg := config.NewDefault()
	configFile := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configFile); err == nil {
		config.SetGlobalConfig(configFile)
		cfg, err = config.LoadGlobal()
		if err != nil {
			t.Fatalf("error loading config %s: %v", configFile, err)
		}
	}
	return lp.Program, cfg
}

// SameNodeRegex matches expectation comments of the form
// "//dsa:same-node main:val foo:fval". Each operand is a function name and a
// source variable (or parameter) name of that function.
var SameNodeRegex = regexp.MustCompile(`//\s*dsa:same-node\s+(\S+:\S+)\s+(\S+:\S+)`)

// Expectation is one same-node assertion read from a test program.
type Expectation struct {
	A, B ValueRef
	Pos  string
}

// ValueRef names a value as function:variable.
type ValueRef struct {
	Func string
	Var  string
}

func (r ValueRef) String() string { return r.Func + ":" + r.Var }

func parseRef(s string) (ValueRef, error) {
	fn, v, found := strings.Cut(s, ":")
	if !found || fn == "" || v == "" {
		return ValueRef{}, fmt.Errorf("malformed value reference %q", s)
	}
	return ValueRef{Func: fn, Var: v}, nil
}

// SameNodeExpectations scans the Go files of dir for same-node expectation
// comments.
func SameNodeExpectations(t *testing.T, dir string) []Expectation {
	fset := token.NewFileSet()
	pkgs, err := parser.ParseDir(fset, dir, nil, parser.ParseComments)
	if err != nil {
		t.Fatalf("failed to parse %s: %v", dir, err)
	}
	merged := map[string]bool{}
	var expectations []Expectation
	for _, pkg := range pkgs {
		for _, file := range pkg.Files {
			for _, cg := range file.Comments {
				for _, c := range cg.List {
					m := SameNodeRegex.FindStringSubmatch(c.Text)
					if len(m) != 3 {
						continue
					}
					a, errA := parseRef(m[1])
					b, errB := parseRef(m[2])
					if errA != nil || errB != nil {
						t.Fatalf("bad expectation at %s: %s", fset.Position(c.Pos()), c.Text)
					}
					key := a.String() + " " + b.String()
					funcutil.Merge(merged, map[string]bool{key: true},
						func(x, y bool) bool { return x || y })
					expectations = append(expectations, Expectation{
						A: a, B: b, Pos: fset.Position(c.Pos()).String(),
					})
				}
			}
		}
	}
	if len(merged) != len(expectations) {
		t.Logf("note: %d duplicate same-node expectations", len(expectations)-len(merged))
	}
	return expectations
}

// CheckSameNode verifies one same-node expectation against the result.
func CheckSameNode(t *testing.T, prog *ssa.Program, res *dsa.Result, exp Expectation) {
	fnA := dsa.FindFunction(prog, exp.A.Func)
	fnB := dsa.FindFunction(prog, exp.B.Func)
	if fnA == nil || fnB == nil {
		t.Errorf("%s: unknown function in %v %v", exp.Pos, exp.A, exp.B)
		return
	}
	ha, errA := res.ValueHandle(fnA, exp.A.Var)
	if errA != nil {
		t.Errorf("%s: %v", exp.Pos, errA)
		return
	}
	hb, errB := res.ValueHandle(fnB, exp.B.Var)
	if errB != nil {
		t.Errorf("%s: %v", exp.Pos, errB)
		return
	}
	if !dsa.SameNode(ha, hb) {
		t.Errorf("%s: %v and %v are in distinct nodes (%v vs %v)",
			exp.Pos, exp.A, exp.B, ha, hb)
	}
}
