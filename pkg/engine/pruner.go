package engine

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/hostprobe/hostprobe/pkg/constraint"
	"github.com/hostprobe/hostprobe/pkg/hostfacts"
	"github.com/hostprobe/hostprobe/pkg/module"
	"github.com/hostprobe/hostprobe/pkg/options"
	"github.com/hostprobe/hostprobe/pkg/registry"
)

// reconcileSkippedAxes are constraint axes whose satisfaction is judged by
// the host-fact checks, not by argument reconciliation.
var reconcileSkippedAxes = []string{"software", "distro", "sudo", "requires_ec2"}

// Pruner decides which modules run. Applicability is settled in two phases
// so every skip has one auditable cause: ReconcileArguments first marks
// modules whose required arguments are unsatisfied, then ApplyHostFacts
// checks user selection and host facts and removes every inapplicable module
// from the registry.
type Pruner struct {
	logger zerolog.Logger
	facts  *hostfacts.Facts

	// lookPath resolves an executable on PATH, "" when absent. Injectable
	// for tests.
	lookPath func(string) string

	// Pruned collects the removed modules in removal order.
	Pruned []*module.Module

	// Histogram counts removals for the four tracked skip reasons only.
	// Scope-based skips are recorded on the module but never counted.
	Histogram map[module.SkipReason]int
}

// NewPruner creates a pruner judging against the given host facts.
func NewPruner(facts *hostfacts.Facts, lookPath func(string) string, logger zerolog.Logger) *Pruner {
	return &Pruner{
		logger:    logger.With().Str("component", "pruner").Logger(),
		facts:     facts,
		lookPath:  lookPath,
		Histogram: make(map[module.SkipReason]int),
	}
}

// ReconcileArguments marks modules whose required arguments cannot be
// satisfied. A constraint value is satisfied when the combined constraint
// carries the axis:value pair, or the module's per-module options name the
// value, or the global options name it. The optional and parallelexclusive
// axes never require arguments, and the axes judged by host facts are
// excluded here. Modules excluded by name are marked in this phase too.
func (p *Pruner) ReconcileArguments(reg *registry.Registry, opts *options.Options, combined constraint.Constraint) {
	for _, mod := range reg.Modules() {
		p.reconcileModule(mod, opts, combined)
	}
}

func (p *Pruner) reconcileModule(mod *module.Module, opts *options.Options, combined constraint.Constraint) bool {
	// Keep earlier decisions and their reason.
	if !mod.Applicable {
		return false
	}

	if opts.IsExcluded(mod.Name) {
		mod.Applicable = false
		mod.WhySkipping = fmt.Sprintf("explicitly excluded with '--no=%s'.", mod.Name)
		return false
	}

	satisfied := true
	perModule := opts.ModuleArgs(mod.Name)
	for _, axis := range mod.Constraint.WithoutKeys(reconcileSkippedAxes).Keys() {
		if axis == "optional" || axis == "parallelexclusive" {
			continue
		}
		for _, value := range mod.Constraint.Get(axis) {
			if combined.Contains(map[string]any{axis: value}) {
				continue
			}
			if v, ok := perModule[value]; ok && v != "" {
				continue
			}
			if v, ok := opts.GlobalArgs[value]; ok && v != "" {
				continue
			}
			mod.WhySkipping = fmt.Sprintf("Missing required argument '%s'.", value)
			satisfied = false
		}
	}

	if !satisfied {
		mod.Applicable = false
	}
	return satisfied
}

// ApplyHostFacts judges every module against the user's selection and the
// host facts, then removes each inapplicable module from the registry.
// Within user-selected scope the checks apply in fixed order: the
// reconciliation verdict, instance requirement, distro, performance impact,
// sudo, and finally required software. The software check runs only when
// nothing earlier fired. Out-of-scope modules are classified by which
// selection dimension excluded them.
func (p *Pruner) ApplyHostFacts(reg *registry.Registry, opts *options.Options) error {
	only := opts.OnlyModules()

	var pruneList []*module.Module
	for _, mod := range reg.Modules() {
		prune := false

		if p.inScope(mod, opts, only) {
			switch {
			case !mod.Applicable:
				// Reason recorded during argument reconciliation.
				prune = true
			case mod.Constraint.First("requires_ec2") == "True" && !p.facts.Instance:
				mod.WhySkipping = "Module requires system be an EC2 instance."
				prune = true
			case !containsValue(mod.Constraint.Get("distro"), p.facts.Distro):
				mod.WhySkipping = "Not applicable to this distro."
				prune = true
			case mod.Constraint.First("perfimpact") == "True" && !p.facts.PerfImpactOK:
				mod.WhySkipping = "Requires performance impact okay, but not given."
				prune = true
			case mod.Constraint.First("sudo") == "True" && !p.facts.Root:
				mod.WhySkipping = "Requires sudo access, but not executing as root."
				prune = true
			}

			if !prune {
				for _, software := range mod.Constraint.Get("software") {
					if p.lookPath(software) == "" {
						mod.WhySkipping = fmt.Sprintf("Requires missing/non-executable software '%s'.", software)
						prune = true
						break
					}
				}
			}
		} else {
			prune = true
			switch {
			case only != nil && !containsValue(only, mod.Name):
				mod.WhySkipping = "Not specified to run."
			case !intersectsList(mod.Constraint.Get("domain"), opts.DomainsToRun):
				mod.WhySkipping = "Not in specified domain to run."
			default:
				mod.WhySkipping = "Not in specified class to run."
			}
		}

		if prune {
			mod.Applicable = false
			p.logger.Info().
				Str("module", fmt.Sprintf("%s/%s", mod.Placement, mod.Name)).
				Str("reason", mod.WhySkipping).
				Msg("Skipping module")
			pruneList = append(pruneList, mod)
		} else {
			p.logger.Info().
				Str("module", fmt.Sprintf("%s/%s", mod.Placement, mod.Name)).
				Msg("Passed applicability checks")
		}
	}

	for _, mod := range pruneList {
		if err := p.prune(reg, mod); err != nil {
			return err
		}
	}
	return nil
}

// prune removes one module from the registry and counts the removal when its
// reason is one of the four tracked skip reasons.
func (p *Pruner) prune(reg *registry.Registry, mod *module.Module) error {
	switch {
	case strings.HasPrefix(mod.WhySkipping, "Requires performance impact okay, but not given."):
		p.Histogram[module.SkipPerformanceImpact]++
	case strings.HasPrefix(mod.WhySkipping, "Requires sudo access, but not executing as root."):
		p.Histogram[module.SkipRequiresSudo]++
	case strings.HasPrefix(mod.WhySkipping, "Requires missing/non-executable software"):
		p.Histogram[module.SkipMissingSoftware]++
	case strings.HasPrefix(mod.WhySkipping, "Missing required argument"):
		p.Histogram[module.SkipMissingArgument]++
	}

	p.Pruned = append(p.Pruned, mod)
	return reg.Remove(mod)
}

func (p *Pruner) inScope(mod *module.Module, opts *options.Options, only []string) bool {
	if only != nil && !containsValue(only, mod.Name) {
		return false
	}
	return intersectsList(mod.Constraint.Get("domain"), opts.DomainsToRun) &&
		intersectsList(mod.Constraint.Get("class"), opts.ClassesToRun)
}

func containsValue(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}

func intersectsList(a, b []string) bool {
	for _, value := range a {
		if containsValue(b, value) {
			return true
		}
	}
	return false
}
