package registry

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/rs/zerolog"

	"github.com/hostprobe/hostprobe/pkg/constraint"
	"github.com/hostprobe/hostprobe/pkg/module"
)

func testModule(t *testing.T, name string, overrides map[string]any) *module.Module {
	t.Helper()
	meta := map[string]any{
		"domain":            "net",
		"class":             "diagnose",
		"distro":            "ubuntu",
		"required":          []string{},
		"optional":          []string{},
		"software":          "ip",
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
		Package:    []string{"iproute2"},
		Constraint: cons,
		Applicable: true,
	}
}

func TestAppendMapsAllIndices(t *testing.T) {
	r := New(zerolog.Nop())
	mod := testModule(t, "netcheck", nil)

	if err := r.Append(mod); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	if got, ok := r.ByName("netcheck"); !ok || got != mod {
		t.Error("name index missing the module")
	}
	if got := r.ByClass("diagnose"); len(got) != 1 || got[0] != mod {
		t.Error("class index missing the module")
	}
	if got := r.ByDomain("net"); len(got) != 1 || got[0] != mod {
		t.Error("domain index missing the module")
	}
	if got := r.ByLanguage(module.LanguageBash); len(got) != 1 || got[0] != mod {
		t.Error("language index missing the module")
	}
	if got := r.BySoftware("ip"); len(got) != 1 || got[0] != mod {
		t.Error("software index missing the module")
	}
	if got := r.ByPackage("iproute2"); len(got) != 1 || got[0] != mod {
		t.Error("package index missing the module")
	}
}

func TestDuplicateNameLeavesStateUnchanged(t *testing.T) {
	r := New(zerolog.Nop())
	first := testModule(t, "netcheck", nil)
	if err := r.Append(first); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	dupe := testModule(t, "netcheck", map[string]any{"domain": "os", "class": "collect", "software": "dmesg"})
	err := r.Insert(0, dupe)
	var derr *DuplicateNameError
	if !errors.As(err, &derr) {
		t.Fatalf("Insert() error = %v, want *DuplicateNameError", err)
	}

	if r.Len() != 1 {
		t.Errorf("len = %d, want 1", r.Len())
	}
	if got := r.ByClass("collect"); len(got) != 0 {
		t.Errorf("collect bucket = %v, want no partial mutation", got)
	}
	if got := r.BySoftware("dmesg"); len(got) != 0 {
		t.Errorf("software bucket = %v, want no partial mutation", got)
	}
}

func TestRemoveUnmapsAndDeletesEmptyBuckets(t *testing.T) {
	r := New(zerolog.Nop())
	mod := testModule(t, "netcheck", nil)
	if err := r.Append(mod); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	if err := r.Remove(mod); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	if r.Len() != 0 {
		t.Errorf("len = %d, want 0", r.Len())
	}
	if _, ok := r.ByName("netcheck"); ok {
		t.Error("name index still references a removed module")
	}
	if _, exists := r.softwareMap["ip"]; exists {
		t.Error("empty software bucket was not deleted")
	}
	if _, exists := r.languageMap["bash"]; exists {
		t.Error("empty language bucket was not deleted")
	}
}

func TestRemoveAbsentModule(t *testing.T) {
	r := New(zerolog.Nop())

	err := r.Remove(testModule(t, "ghost", nil))
	var nerr *NotPresentError
	if !errors.As(err, &nerr) {
		t.Fatalf("Remove() error = %v, want *NotPresentError", err)
	}
}

func TestExtendAndPopFailFast(t *testing.T) {
	r := New(zerolog.Nop())

	if err := r.Extend([]*module.Module{testModule(t, "a", nil)}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Extend() error = %v, want ErrUnsupported", err)
	}
	if _, err := r.Pop(0); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Pop() error = %v, want ErrUnsupported", err)
	}
}

func TestInsertKeepsOrder(t *testing.T) {
	r := New(zerolog.Nop())
	a := testModule(t, "a", nil)
	c := testModule(t, "c", nil)
	b := testModule(t, "b", nil)

	for _, mod := range []*module.Module{a, c} {
		if err := r.Append(mod); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	if err := r.Insert(1, b); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	var names []string
	for _, mod := range r.Modules() {
		names = append(names, mod.Name)
	}
	if !reflect.DeepEqual(names, []string{"a", "b", "c"}) {
		t.Errorf("order = %v, want [a b c]", names)
	}
}

func TestPrepopulatedBucketsAppearInClassesAndDomains(t *testing.T) {
	r := New(zerolog.Nop())

	if got := r.Classes(); !reflect.DeepEqual(got, []string{"collect", "diagnose", "gather"}) {
		t.Errorf("classes = %v", got)
	}
	if got := r.Domains(); !reflect.DeepEqual(got, []string{"application", "net", "os", "performance"}) {
		t.Errorf("domains = %v", got)
	}
}

func TestSortByClassIsStable(t *testing.T) {
	r := New(zerolog.Nop())
	mods := []*module.Module{
		testModule(t, "g1", map[string]any{"class": "gather"}),
		testModule(t, "d1", map[string]any{"class": "diagnose"}),
		testModule(t, "c1", map[string]any{"class": "collect"}),
		testModule(t, "d2", map[string]any{"class": "diagnose"}),
	}
	for _, mod := range mods {
		if err := r.Append(mod); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	r.SortByClass()

	var names []string
	for _, mod := range r.Modules() {
		names = append(names, mod.Name)
	}
	if !reflect.DeepEqual(names, []string{"c1", "d1", "d2", "g1"}) {
		t.Errorf("order = %v, want class-grouped with original relative order kept", names)
	}
}

func TestCombinedConstraintUnionsAxes(t *testing.T) {
	r := New(zerolog.Nop())
	if err := r.Append(testModule(t, "a", map[string]any{"domain": "net", "software": "ip"})); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := r.Append(testModule(t, "b", map[string]any{"domain": "os", "software": "dmesg", "required": "period"})); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	combined, err := r.CombinedConstraint()
	if err != nil {
		t.Fatalf("CombinedConstraint() error = %v", err)
	}

	if got := combined.Get("domain"); !reflect.DeepEqual(got, []string{"net", "os"}) {
		t.Errorf("domain = %v, want the union", got)
	}
	if got := combined.Get("software"); !reflect.DeepEqual(got, []string{"ip", "dmesg"}) {
		t.Errorf("software = %v, want the union", got)
	}
	if _, ok := combined["required"]; ok {
		t.Error("required axis must not fold into the combined constraint")
	}
}

func TestLoadSkipsInvalidAndHiddenFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile := func(name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile(%s) error = %v", name, err)
		}
	}

	writeFile("beta.yaml", "name: beta\nversion: \"1.0\"\n") // missing attributes
	writeFile("alpha.yaml", metadataNamed("alpha"))
	writeFile(".hidden.yaml", metadataNamed("hidden"))
	writeFile("notes.txt", "not a module")
	writeFile("zeta.yaml", metadataNamed("zeta"))

	r, err := Load(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	var names []string
	for _, mod := range r.Modules() {
		names = append(names, mod.Name)
	}
	if !reflect.DeepEqual(names, []string{"alpha", "zeta"}) {
		t.Errorf("loaded = %v, want [alpha zeta] in lexical order", names)
	}
}

func metadataNamed(name string) string {
	out := ""
	for _, line := range []string{
		"name: " + name,
		"version: \"1.0\"",
		"title: Loadable fixture",
		"helptext: Fixture module.",
		"placement: run",
		"package: []",
		"language: bash",
		"content: \"true\"",
		"constraint:",
		"  domain: net",
		"  class: diagnose",
		"  distro: ubuntu",
		"  required: []",
		"  optional: []",
		"  software: []",
		"  sudo: \"False\"",
		"  perfimpact: \"False\"",
		"  parallelexclusive: []",
		"  requires_ec2: \"False\"",
	} {
		out += line + "\n"
	}
	return out
}
