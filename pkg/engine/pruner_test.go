package engine

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/hostprobe/hostprobe/pkg/constraint"
	"github.com/hostprobe/hostprobe/pkg/hostfacts"
	"github.com/hostprobe/hostprobe/pkg/module"
	"github.com/hostprobe/hostprobe/pkg/options"
	"github.com/hostprobe/hostprobe/pkg/registry"
)

func prunerModule(t *testing.T, name string, overrides map[string]any) *module.Module {
	t.Helper()
	meta := map[string]any{
		"domain":            "net",
		"class":             "diagnose",
		"distro":            "ubuntu rhel",
		"required":          []string{},
		"optional":          []string{},
		"software":          []string{},
		"sudo":              "False",
		"perfimpact":        "False",
		"parallelexclusive": []string{},
		"requires_ec2":      "False",
	}
	for key, value := range overrides {
		meta[key] = value
	}
	cons, err := constraint.New(meta)
	if err != nil {
		t.Fatalf("constraint.New() error = %v", err)
	}
	return &module.Module{
		Name:       name,
		Placement:  module.PlacementRun,
		Language:   module.LanguageBash,
		Constraint: cons,
		Applicable: true,
	}
}

func prunerFixture(t *testing.T, mods ...*module.Module) *registry.Registry {
	t.Helper()
	reg := registry.New(zerolog.Nop())
	for _, mod := range mods {
		if err := reg.Append(mod); err != nil {
			t.Fatalf("Append(%s) error = %v", mod.Name, err)
		}
	}
	return reg
}

func allFound(string) string { return "/usr/bin/tool" }

func defaultFacts() *hostfacts.Facts {
	return &hostfacts.Facts{
		Distro:       "ubuntu",
		Root:         true,
		Instance:     true,
		PerfImpactOK: true,
	}
}

func runPrune(t *testing.T, reg *registry.Registry, opts *options.Options, facts *hostfacts.Facts, lookPath func(string) string) *Pruner {
	t.Helper()
	combined, err := reg.CombinedConstraint()
	if err != nil {
		t.Fatalf("CombinedConstraint() error = %v", err)
	}
	p := NewPruner(facts, lookPath, zerolog.Nop())
	p.ReconcileArguments(reg, opts, combined)
	if err := p.ApplyHostFacts(reg, opts); err != nil {
		t.Fatalf("ApplyHostFacts() error = %v", err)
	}
	return p
}

func TestPruneSudoOnNonRootHost(t *testing.T) {
	sudo := prunerModule(t, "needs-root", map[string]any{"sudo": "True"})
	plain := prunerModule(t, "plain", nil)
	reg := prunerFixture(t, sudo, plain)

	facts := defaultFacts()
	facts.Root = false

	p := runPrune(t, reg, options.New(), facts, allFound)

	if _, ok := reg.ByName("needs-root"); ok {
		t.Error("sudo module still present post-pruning")
	}
	if sudo.WhySkipping != "Requires sudo access, but not executing as root." {
		t.Errorf("reason = %q", sudo.WhySkipping)
	}
	if p.Histogram[module.SkipRequiresSudo] != 1 {
		t.Errorf("REQUIRES_SUDO count = %d, want 1", p.Histogram[module.SkipRequiresSudo])
	}
	if _, ok := reg.ByName("plain"); !ok {
		t.Error("unaffected module was pruned")
	}
}

func TestPruneDecisionOrder(t *testing.T) {
	cases := []struct {
		name      string
		overrides map[string]any
		facts     func(*hostfacts.Facts)
		reason    string
	}{
		{
			name:      "requires instance",
			overrides: map[string]any{"requires_ec2": "True", "distro": "suse"},
			facts:     func(f *hostfacts.Facts) { f.Instance = false },
			reason:    "Module requires system be an EC2 instance.",
		},
		{
			name:      "wrong distro checked before perfimpact",
			overrides: map[string]any{"distro": "suse", "perfimpact": "True"},
			facts:     func(f *hostfacts.Facts) { f.PerfImpactOK = false },
			reason:    "Not applicable to this distro.",
		},
		{
			name:      "perfimpact checked before sudo",
			overrides: map[string]any{"perfimpact": "True", "sudo": "True"},
			facts: func(f *hostfacts.Facts) {
				f.PerfImpactOK = false
				f.Root = false
			},
			reason: "Requires performance impact okay, but not given.",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mod := prunerModule(t, "mod", tc.overrides)
			reg := prunerFixture(t, mod)
			facts := defaultFacts()
			tc.facts(facts)

			runPrune(t, reg, options.New(), facts, allFound)

			if mod.WhySkipping != tc.reason {
				t.Errorf("reason = %q, want %q", mod.WhySkipping, tc.reason)
			}
		})
	}
}

func TestPruneMissingSoftware(t *testing.T) {
	mod := prunerModule(t, "needs-tool", map[string]any{"software": "mtr"})
	reg := prunerFixture(t, mod)

	p := runPrune(t, reg, options.New(), defaultFacts(), func(string) string { return "" })

	if mod.WhySkipping != "Requires missing/non-executable software 'mtr'." {
		t.Errorf("reason = %q", mod.WhySkipping)
	}
	if p.Histogram[module.SkipMissingSoftware] != 1 {
		t.Errorf("MISSING_SOFTWARE count = %d, want 1", p.Histogram[module.SkipMissingSoftware])
	}
}

func TestPruneSoftwareNotCheckedWhenAlreadyPruned(t *testing.T) {
	mod := prunerModule(t, "mod", map[string]any{"sudo": "True", "software": "mtr"})
	reg := prunerFixture(t, mod)
	facts := defaultFacts()
	facts.Root = false

	p := runPrune(t, reg, options.New(), facts, func(string) string { return "" })

	if mod.WhySkipping != "Requires sudo access, but not executing as root." {
		t.Errorf("reason = %q, want the sudo reason to win", mod.WhySkipping)
	}
	if p.Histogram[module.SkipMissingSoftware] != 0 {
		t.Error("software counter incremented for an already-pruned module")
	}
}

func TestPruneMissingArgument(t *testing.T) {
	mod := prunerModule(t, "needs-arg", map[string]any{"required": "period"})
	reg := prunerFixture(t, mod)

	p := runPrune(t, reg, options.New(), defaultFacts(), allFound)

	if mod.WhySkipping != "Missing required argument 'period'." {
		t.Errorf("reason = %q", mod.WhySkipping)
	}
	if p.Histogram[module.SkipMissingArgument] != 1 {
		t.Errorf("MISSING_ARGUMENT count = %d, want 1", p.Histogram[module.SkipMissingArgument])
	}
	if _, ok := reg.ByName("needs-arg"); ok {
		t.Error("module still present post-pruning")
	}
}

func TestPruneArgumentSatisfiedGlobally(t *testing.T) {
	mod := prunerModule(t, "needs-arg", map[string]any{"required": "period"})
	reg := prunerFixture(t, mod)

	opts := options.New()
	opts.GlobalArgs["period"] = "5"

	runPrune(t, reg, opts, defaultFacts(), allFound)

	if _, ok := reg.ByName("needs-arg"); !ok {
		t.Errorf("module pruned despite a satisfied argument: %q", mod.WhySkipping)
	}
}

func TestPruneArgumentSatisfiedPerModule(t *testing.T) {
	mod := prunerModule(t, "needs-arg", map[string]any{"required": "period"})
	reg := prunerFixture(t, mod)

	opts := options.New()
	opts.SetModuleArg("needs-arg", "period", "5")

	runPrune(t, reg, opts, defaultFacts(), allFound)

	if _, ok := reg.ByName("needs-arg"); !ok {
		t.Errorf("module pruned despite a satisfied argument: %q", mod.WhySkipping)
	}
}

func TestPruneExplicitExclusion(t *testing.T) {
	mod := prunerModule(t, "unwanted", nil)
	reg := prunerFixture(t, mod)

	opts := options.New()
	opts.GlobalArgs["unwanted"] = "False"

	p := runPrune(t, reg, opts, defaultFacts(), allFound)

	if mod.WhySkipping != "explicitly excluded with '--no=unwanted'." {
		t.Errorf("reason = %q", mod.WhySkipping)
	}
	if len(p.Histogram) != 0 {
		t.Errorf("histogram = %v, want exclusions untracked", p.Histogram)
	}
}

func TestPruneScopeReasons(t *testing.T) {
	t.Run("not specified", func(t *testing.T) {
		mod := prunerModule(t, "other", nil)
		reg := prunerFixture(t, mod)
		opts := options.New()
		opts.GlobalArgs["onlymodules"] = "wanted"

		p := runPrune(t, reg, opts, defaultFacts(), allFound)

		if mod.WhySkipping != "Not specified to run." {
			t.Errorf("reason = %q", mod.WhySkipping)
		}
		if len(p.Histogram) != 0 {
			t.Errorf("histogram = %v, want scope skips untracked", p.Histogram)
		}
	})

	t.Run("wrong domain", func(t *testing.T) {
		mod := prunerModule(t, "netmod", nil)
		reg := prunerFixture(t, mod)
		opts := options.New()
		opts.DomainsToRun = []string{"os"}

		runPrune(t, reg, opts, defaultFacts(), allFound)

		if mod.WhySkipping != "Not in specified domain to run." {
			t.Errorf("reason = %q", mod.WhySkipping)
		}
	})

	t.Run("wrong class", func(t *testing.T) {
		mod := prunerModule(t, "diagmod", nil)
		reg := prunerFixture(t, mod)
		opts := options.New()
		opts.ClassesToRun = []string{"collect"}

		runPrune(t, reg, opts, defaultFacts(), allFound)

		if mod.WhySkipping != "Not in specified class to run." {
			t.Errorf("reason = %q", mod.WhySkipping)
		}
	})
}

func TestPruneHostFactChecksSkippedOutOfScope(t *testing.T) {
	// Out-of-scope modules get a scope reason even when host-fact checks
	// would also fail.
	mod := prunerModule(t, "sudomod", map[string]any{"sudo": "True"})
	reg := prunerFixture(t, mod)
	opts := options.New()
	opts.GlobalArgs["onlymodules"] = "somethingelse"
	facts := defaultFacts()
	facts.Root = false

	p := runPrune(t, reg, opts, facts, allFound)

	if mod.WhySkipping != "Not specified to run." {
		t.Errorf("reason = %q", mod.WhySkipping)
	}
	if p.Histogram[module.SkipRequiresSudo] != 0 {
		t.Error("sudo counter incremented for an out-of-scope module")
	}
}
