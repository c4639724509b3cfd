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

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	name := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(name, []byte(contents), 0600); err != nil {
		t.Fatalf("could not write config: %v", err)
	}
	return name
}

func TestLoadDefaults(t *testing.T) {
	name := writeConfig(t, "")
	cfg, err := Load(name)
	if err != nil {
		t.Fatalf("loading an empty config must succeed: %v", err)
	}
	if cfg.LogLevel != int(InfoLevel) {
		t.Errorf("default log level must be info, got %d", cfg.LogLevel)
	}
	if cfg.UseAuxCalls {
		t.Errorf("aux-call tracking must be off by default")
	}
	if !cfg.MatchPkgFilter("anything/at/all") {
		t.Errorf("empty package filter must match everything")
	}
}

func TestLoadOptions(t *testing.T) {
	name := writeConfig(t, `
log-level: 4
use-aux-calls: true
strip-alloca-on-clone: true
pkg-filter: "^command-line-arguments$"
`)
	cfg, err := Load(name)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !cfg.Verbose() {
		t.Errorf("log-level 4 must be verbose")
	}
	if !cfg.UseAuxCalls || !cfg.StripAllocaOnClone {
		t.Errorf("driver flags not parsed")
	}
	if !cfg.MatchPkgFilter("command-line-arguments") {
		t.Errorf("package filter regex not compiled")
	}
	if cfg.MatchPkgFilter("github.com/other") {
		t.Errorf("package filter must reject non-matching packages")
	}
}

func TestSetGlobalConfig(t *testing.T) {
	name := writeConfig(t, "log-level: 2\n")
	SetGlobalConfig(name)
	cfg, err := LoadGlobal()
	if err != nil {
		t.Fatalf("global load failed: %v", err)
	}
	if cfg.LogLevel != 2 {
		t.Errorf("expected warn level, got %d", cfg.LogLevel)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Errorf("loading a missing file must fail")
	}
}
