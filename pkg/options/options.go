// Package options holds the parsed run configuration shared by every
// diagnostic module: global argument overrides, per-module overrides, and the
// user's domain/class selection. Options round-trip through a YAML file so a
// run can be repeated with the same configuration.
package options

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Options stores argument:value pairs at the global and per-module level plus
// the domain and class selection for the run. All values are strings because
// they end up in a child process environment.
type Options struct {
	// GlobalArgs contains argument:value pairs applied to every module.
	GlobalArgs map[string]string `yaml:"global"`

	// PerModuleArgs contains argument:value pairs scoped to a single
	// module. Per-module values win over global values on conflict.
	PerModuleArgs map[string]map[string]string `yaml:"modules"`

	// DomainsToRun restricts the run to modules in these domains.
	DomainsToRun []string `yaml:"domains,omitempty"`

	// ClassesToRun restricts the run to modules in these classes.
	ClassesToRun []string `yaml:"classes,omitempty"`
}

// AllDomains and AllClasses are the default selections when the user names
// none.
var (
	AllDomains = []string{"net", "os", "performance", "application"}
	AllClasses = []string{"collect", "gather", "diagnose"}
)

// New returns an Options with initialized maps and the full domain and class
// selection.
func New() *Options {
	return &Options{
		GlobalArgs:    make(map[string]string),
		PerModuleArgs: make(map[string]map[string]string),
		DomainsToRun:  append([]string(nil), AllDomains...),
		ClassesToRun:  append([]string(nil), AllClasses...),
	}
}

// ModuleArgs returns the per-module overrides for name, or nil.
func (o *Options) ModuleArgs(name string) map[string]string {
	if o == nil {
		return nil
	}
	return o.PerModuleArgs[name]
}

// SetModuleArg records a per-module override, creating the module's map on
// first use.
func (o *Options) SetModuleArg(module, key, value string) {
	if o.PerModuleArgs == nil {
		o.PerModuleArgs = make(map[string]map[string]string)
	}
	if o.PerModuleArgs[module] == nil {
		o.PerModuleArgs[module] = make(map[string]string)
	}
	o.PerModuleArgs[module][key] = value
}

// IsExcluded reports whether the module was explicitly excluded by name
// (recorded as a global arg with the value "False").
func (o *Options) IsExcluded(name string) bool {
	return o.GlobalArgs[name] == "False"
}

// OnlyModules returns the explicit module selection from the "onlymodules"
// global arg. A nil return means every module is in scope.
func (o *Options) OnlyModules() []string {
	raw, ok := o.GlobalArgs["onlymodules"]
	if !ok || raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

// Load reads a YAML configuration file into a new Options. Values from the
// file land in the same maps command-line parsing fills, so file and flags
// compose.
func Load(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read options file: %w", err)
	}

	opts := New()
	if err := yaml.Unmarshal(data, opts); err != nil {
		return nil, fmt.Errorf("failed to parse options file %s: %w", path, err)
	}
	if opts.GlobalArgs == nil {
		opts.GlobalArgs = make(map[string]string)
	}
	if opts.PerModuleArgs == nil {
		opts.PerModuleArgs = make(map[string]map[string]string)
	}
	if len(opts.DomainsToRun) == 0 {
		opts.DomainsToRun = append([]string(nil), AllDomains...)
	}
	if len(opts.ClassesToRun) == 0 {
		opts.ClassesToRun = append([]string(nil), AllClasses...)
	}
	return opts, nil
}

// Save writes the Options to a YAML configuration file.
func (o *Options) Save(path string) error {
	data, err := yaml.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to marshal options: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write options file: %w", err)
	}
	return nil
}
