// Package registry maintains the ordered collection of modules loaded from a
// directory, with six derived indices (class, domain, language, software,
// package, name) kept consistent under insert and remove.
package registry

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/hostprobe/hostprobe/pkg/constraint"
	"github.com/hostprobe/hostprobe/pkg/module"
)

// CombinedAxes are the constraint axes folded into the registry-wide
// combined constraint used during argument reconciliation.
var CombinedAxes = []string{"domain", "class", "distro", "software", "perfimpact"}

// Registry is an ordered list of modules plus six index maps giving O(1)
// lookups. Every mutation goes through Append, Insert, or Remove so that a
// module appears in exactly the index buckets matching its constraint and
// package values, and no bucket references a non-member.
type Registry struct {
	// Directory is the absolute path the registry was loaded from, empty
	// for a registry built programmatically.
	Directory string

	// Name is the base name of the source directory.
	Name string

	logger  zerolog.Logger
	modules []*module.Module

	classMap    map[string][]*module.Module
	domainMap   map[string][]*module.Module
	nameMap     map[string]*module.Module
	languageMap map[string][]*module.Module
	softwareMap map[string][]*module.Module
	packageMap  map[string][]*module.Module
}

// New creates an empty registry. The well-known class and domain buckets are
// prepopulated so lookups against them succeed before any module is added.
func New(logger zerolog.Logger) *Registry {
	return &Registry{
		logger: logger.With().Str("component", "registry").Logger(),
		classMap: map[string][]*module.Module{
			"collect":  {},
			"gather":   {},
			"diagnose": {},
		},
		domainMap: map[string][]*module.Module{
			"net":         {},
			"os":          {},
			"performance": {},
			"application": {},
		},
		nameMap:     make(map[string]*module.Module),
		languageMap: make(map[string][]*module.Module),
		softwareMap: make(map[string][]*module.Module),
		packageMap:  make(map[string][]*module.Module),
	}
}

// Load builds a registry from every *.yaml file in directory, visited in
// lexical order. Hidden files and non-yaml files are skipped silently; a file
// failing metadata validation is logged and skipped without aborting the
// load. A duplicate module name aborts, since it means the directory itself
// is inconsistent.
func Load(directory string, logger zerolog.Logger) (*Registry, error) {
	abs, err := filepath.Abs(directory)
	if err != nil {
		return nil, err
	}

	r := New(logger)
	r.Directory = abs
	r.Name = filepath.Base(abs)

	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".yaml") {
			r.logger.Debug().Str("file", name).Msg("Skipping hidden or non-yaml file")
			continue
		}

		path := filepath.Join(abs, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}

		mod, err := module.Parse(data, path)
		if err != nil {
			// A malformed document never aborts the load.
			r.logger.Warn().Err(err).Str("file", name).Msg("Skipping module with invalid metadata")
			continue
		}

		if err := r.Append(mod); err != nil {
			return nil, err
		}
	}

	r.logger.Info().
		Str("directory", abs).
		Int("modules", len(r.modules)).
		Msg("Module registry loaded")

	return r, nil
}

// Append adds a module to the end of the list and maps it into the indices.
// A duplicate name fails before any state changes.
func (r *Registry) Append(mod *module.Module) error {
	return r.Insert(len(r.modules), mod)
}

// Insert adds a module at the given position, clamped to the list bounds, and
// maps it into the indices. A duplicate name fails before any state changes.
func (r *Registry) Insert(index int, mod *module.Module) error {
	if _, exists := r.nameMap[mod.Name]; exists {
		return &DuplicateNameError{Name: mod.Name}
	}

	if index < 0 {
		index = 0
	}
	if index > len(r.modules) {
		index = len(r.modules)
	}

	r.modules = append(r.modules, nil)
	copy(r.modules[index+1:], r.modules[index:])
	r.modules[index] = mod
	r.mapModule(mod)
	return nil
}

// Remove takes a module out of the list and the indices, keyed by name.
// Buckets left empty by the removal are deleted.
func (r *Registry) Remove(mod *module.Module) error {
	member, exists := r.nameMap[mod.Name]
	if !exists {
		return &NotPresentError{Name: mod.Name}
	}

	for i, m := range r.modules {
		if m == member {
			r.modules = append(r.modules[:i], r.modules[i+1:]...)
			break
		}
	}
	r.unmapModule(member)
	return nil
}

// Extend is unsupported: bulk insertion would bypass the duplicate check and
// index maintenance performed per module.
func (r *Registry) Extend(mods []*module.Module) error {
	return ErrUnsupported
}

// Pop is unsupported: positional removal would bypass index maintenance.
func (r *Registry) Pop(index int) (*module.Module, error) {
	return nil, ErrUnsupported
}

// Len returns the number of member modules.
func (r *Registry) Len() int {
	return len(r.modules)
}

// Modules returns the members in list order. The slice is a copy; the modules
// themselves are shared.
func (r *Registry) Modules() []*module.Module {
	out := make([]*module.Module, len(r.modules))
	copy(out, r.modules)
	return out
}

// ByName returns the member with the given name.
func (r *Registry) ByName(name string) (*module.Module, bool) {
	mod, ok := r.nameMap[name]
	return mod, ok
}

// ByClass returns the members tagged with the given class.
func (r *Registry) ByClass(class string) []*module.Module {
	return copyBucket(r.classMap[class])
}

// ByDomain returns the members tagged with the given domain.
func (r *Registry) ByDomain(domain string) []*module.Module {
	return copyBucket(r.domainMap[domain])
}

// ByLanguage returns the members implemented in the given language.
func (r *Registry) ByLanguage(language module.Language) []*module.Module {
	return copyBucket(r.languageMap[string(language)])
}

// BySoftware returns the members requiring the given executable.
func (r *Registry) BySoftware(software string) []*module.Module {
	return copyBucket(r.softwareMap[software])
}

// ByPackage returns the members associated with the given software package.
func (r *Registry) ByPackage(pkg string) []*module.Module {
	return copyBucket(r.packageMap[pkg])
}

// Classes returns the sorted class bucket names, including prepopulated
// buckets that are still empty.
func (r *Registry) Classes() []string {
	return sortedKeys(r.classMap)
}

// Domains returns the sorted domain bucket names, including prepopulated
// buckets that are still empty.
func (r *Registry) Domains() []string {
	return sortedKeys(r.domainMap)
}

// SortByClass stably reorders the list by each module's first class tag, so
// same-class modules are adjacent when the scheduler scans them.
func (r *Registry) SortByClass() {
	sort.SliceStable(r.modules, func(i, j int) bool {
		return r.modules[i].Constraint.First("class") < r.modules[j].Constraint.First("class")
	})
}

// CombinedConstraint folds every member's domain, class, distro, software,
// and perfimpact values into one union constraint.
func (r *Registry) CombinedConstraint() (constraint.Constraint, error) {
	combined := constraint.Constraint{}
	for _, mod := range r.modules {
		if err := combined.Update(mod.Constraint.WithKeys(CombinedAxes)); err != nil {
			return nil, err
		}
	}
	return combined, nil
}

func (r *Registry) mapModule(mod *module.Module) {
	for _, class := range mod.Constraint.Get("class") {
		r.classMap[class] = append(r.classMap[class], mod)
	}
	for _, domain := range mod.Constraint.Get("domain") {
		r.domainMap[domain] = append(r.domainMap[domain], mod)
	}
	for _, software := range mod.Constraint.Get("software") {
		r.softwareMap[software] = append(r.softwareMap[software], mod)
	}
	for _, pkg := range mod.Package {
		r.packageMap[pkg] = append(r.packageMap[pkg], mod)
	}
	r.languageMap[string(mod.Language)] = append(r.languageMap[string(mod.Language)], mod)
	r.nameMap[mod.Name] = mod
}

func (r *Registry) unmapModule(mod *module.Module) {
	for _, class := range mod.Constraint.Get("class") {
		removeFromBucket(r.classMap, class, mod)
	}
	for _, domain := range mod.Constraint.Get("domain") {
		removeFromBucket(r.domainMap, domain, mod)
	}
	for _, software := range mod.Constraint.Get("software") {
		removeFromBucket(r.softwareMap, software, mod)
	}
	for _, pkg := range mod.Package {
		removeFromBucket(r.packageMap, pkg, mod)
	}
	removeFromBucket(r.languageMap, string(mod.Language), mod)
	delete(r.nameMap, mod.Name)
}

// removeFromBucket drops mod from the named bucket and deletes the bucket
// once empty.
func removeFromBucket(index map[string][]*module.Module, key string, mod *module.Module) {
	bucket := index[key]
	for i, m := range bucket {
		if m == mod {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(index, key)
		return
	}
	index[key] = bucket
}

func copyBucket(bucket []*module.Module) []*module.Module {
	out := make([]*module.Module, len(bucket))
	copy(out, bucket)
	return out
}

func sortedKeys(index map[string][]*module.Module) []string {
	keys := make([]string, 0, len(index))
	for key := range index {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
