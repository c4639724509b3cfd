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
	"fmt"
	"os"
	"path"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// The global config file
	configFile string
)

// SetGlobalConfig sets the global config filename
func SetGlobalConfig(filename string) {
	configFile = filename
}

// LoadGlobal loads the config file that has been set by SetGlobalConfig
func LoadGlobal() (*Config, error) {
	return Load(configFile)
}

// Config groups the options of the analyses. If some field is not defined in
// the config file, it keeps the value set by [NewDefault]. Private fields are
// not populated from a yaml file, but computed after initialization.
type Config struct {
	Options `yaml:",inline"`

	sourceFile string

	// if the PkgFilter is specified
	pkgFilterRegex *regexp.Regexp
}

// Options holds the tunable settings of the analyses.
type Options struct {
	// ReportsDir is the directory where reports (graph dumps, call-target
	// listings) are stored. If empty and some Report* option is set, a
	// temporary directory is created next to the config file.
	ReportsDir string `yaml:"reports-dir"`

	// PkgFilter restricts which packages are considered interesting when
	// reporting; it does not change what is analyzed.
	PkgFilter string `yaml:"pkg-filter"`

	// UseAuxCalls selects the driver variant that tracks still-unresolved
	// call sites on an auxiliary list.
	UseAuxCalls bool `yaml:"use-aux-calls"`

	// StripAllocaOnClone drops the stack-allocation bit when callee graphs
	// are cloned during call resolution.
	StripAllocaOnClone bool `yaml:"strip-alloca-on-clone"`

	// ComputeExternalFlags propagates the external bit after call
	// resolution.
	ComputeExternalFlags bool `yaml:"compute-external-flags"`

	// ReportCallTargets writes the per-site call-target listing to a file
	// calltargets-*.out in ReportsDir.
	ReportCallTargets bool `yaml:"report-call-targets"`

	// ReportGraphs writes a Graphviz dump of the result graph to a file
	// graph-*.dot in ReportsDir.
	ReportGraphs bool `yaml:"report-graphs"`

	// LogLevel controls the verbosity of the tool.
	LogLevel int `yaml:"log-level"`

	// SilenceWarn suppresses warnings.
	SilenceWarn bool `yaml:"silence-warn"`
}

// NewDefault returns the default config: info log level, external flag
// propagation on, every other option off or empty.
func NewDefault() *Config {
	return &Config{
		sourceFile: "",
		Options: Options{
			ReportsDir:           "",
			PkgFilter:            "",
			UseAuxCalls:          false,
			StripAllocaOnClone:   false,
			ComputeExternalFlags: true,
			ReportCallTargets:    false,
			ReportGraphs:         false,
			LogLevel:             int(InfoLevel),
			SilenceWarn:          false,
		},
	}
}

// Load reads a configuration from a file
func Load(filename string) (*Config, error) {
	cfg := NewDefault()
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("could not read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("could not unmarshal config file: %w", err)
	}

	cfg.sourceFile = filename

	if cfg.ReportCallTargets || cfg.ReportGraphs {
		if err := setReportsDir(cfg, filename); err != nil {
			return nil, err
		}
	}

	// If logLevel has not been specified (i.e. it is 0) set the default to Info
	if cfg.LogLevel == 0 {
		cfg.LogLevel = int(InfoLevel)
	}

	if cfg.PkgFilter != "" {
		r, err := regexp.Compile(cfg.PkgFilter)
		if err == nil {
			cfg.pkgFilterRegex = r
		}
	}

	return cfg, nil
}

func setReportsDir(c *Config, filename string) error {
	if c.ReportsDir == "" {
		tmpdir, err := os.MkdirTemp(path.Dir(filename), "*-report")
		if err != nil {
			return fmt.Errorf("could not create temp dir for reports")
		}
		c.ReportsDir = tmpdir
		return nil
	}
	err := os.Mkdir(c.ReportsDir, 0750)
	if err != nil && !os.IsExist(err) {
		return fmt.Errorf("could not create directory %s", c.ReportsDir)
	}
	return nil
}

// RelPath returns filename path relative to the config source file
func (c Config) RelPath(filename string) string {
	return path.Join(path.Dir(c.sourceFile), filename)
}

// MatchPkgFilter returns true if the package name pkgname matches the package
// filter set in the config file. If no package filter has been set in the
// config file, the regex will match anything and return true. This function
// safely considers the case where a filter has been specified by the user,
// but it could not be compiled to a regex. The safe case is to check whether
// the package filter string is a prefix of the pkgname.
func (c Config) MatchPkgFilter(pkgname string) bool {
	if c.pkgFilterRegex != nil {
		return c.pkgFilterRegex.MatchString(pkgname)
	} else if c.PkgFilter != "" {
		return strings.HasPrefix(pkgname, c.PkgFilter)
	} else {
		return true
	}
}

// Verbose returns true is the configuration verbosity setting is larger than
// Info (i.e. Debug or Trace)
func (c Config) Verbose() bool {
	return c.LogLevel >= int(DebugLevel)
}
