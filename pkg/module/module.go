// Package module implements the unit of diagnosis: a metadata-described
// script or binary, the restricted environment it runs in, and the parser
// that turns its stdout into a structured verdict.
package module

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/hostprobe/hostprobe/pkg/constraint"
)

// Placement is the lifecycle stage a module runs in.
type Placement string

const (
	PlacementPrediagnostic  Placement = "prediagnostic"
	PlacementRun            Placement = "run"
	PlacementPostdiagnostic Placement = "postdiagnostic"
)

// placementDirs maps a placement to the directory holding its prebuilt
// binaries under the tool's call path.
var placementDirs = map[Placement]string{
	PlacementRun:            "mod.d",
	PlacementPrediagnostic:  "pre.d",
	PlacementPostdiagnostic: "post.d",
}

// Language identifies how a module's content is executed.
type Language string

const (
	LanguageBash   Language = "bash"
	LanguagePython Language = "python"
	LanguageBinary Language = "binary"
)

// Verdict is the four-valued run outcome of a module. The zero value means
// the module has not produced a verdict yet.
type Verdict string

const (
	VerdictUnknown Verdict = "UNKNOWN"
	VerdictSuccess Verdict = "SUCCESS"
	VerdictWarn    Verdict = "WARN"
	VerdictFailure Verdict = "FAILURE"
)

// SkipReason enumerates the histogram-tracked causes for excluding a module
// from execution. Only a subset of skip causes is tracked; reasons such as
// "not selected" are recorded on the module but never counted.
type SkipReason string

const (
	SkipNotAnEC2Instance    SkipReason = "NOT_AN_EC2_INSTANCE"
	SkipNotApplicableDistro SkipReason = "NOT_APPLICABLE_TO_DISTRO"
	SkipPerformanceImpact   SkipReason = "PERFORMANCE_IMPACT"
	SkipRequiresSudo        SkipReason = "REQUIRES_SUDO"
	SkipNotSelected         SkipReason = "NOT_SELECTED"
	SkipMissingSoftware     SkipReason = "MISSING_SOFTWARE"
	SkipMissingArgument     SkipReason = "MISSING_ARGUMENT"
)

// RequiredConstraints lists the ten constraint axes every module metadata
// document must carry.
var RequiredConstraints = []string{
	"domain", "sudo", "required", "perfimpact", "software",
	"optional", "class", "parallelexclusive", "distro", "requires_ec2",
}

// Document is the YAML shape of a module metadata file. Package, content,
// and the constraint mapping are loosely typed because authors write both
// scalars and lists; normalization happens during Parse.
type Document struct {
	Name        string         `yaml:"name" validate:"required"`
	Version     string         `yaml:"version" validate:"required"`
	Title       string         `yaml:"title" validate:"required"`
	Helptext    string         `yaml:"helptext" validate:"required"`
	Placement   string         `yaml:"placement" validate:"required"`
	Package     any            `yaml:"package" validate:"required"`
	Language    string         `yaml:"language" validate:"required"`
	Content     string         `yaml:"content" validate:"required"`
	Constraint  map[string]any `yaml:"constraint" validate:"required"`
	Remediation any            `yaml:"remediation"`
}

// Module is one diagnostic unit: identity, lifecycle stage, execution
// language, its own constraint set, the pruning decision, and the outcome of
// its run. A Module is created once at load time; its applicability fields
// are mutated by the pruning pipeline and its verdict fields by the single
// worker executing it.
type Module struct {
	Name        string
	Version     string
	Title       string
	Helptext    string
	Placement   Placement
	Package     []string
	Language    Language
	Content     string
	Path        string
	Constraint  constraint.Constraint
	Remediation bool

	// Applicable starts true; pruning flips it and records WhySkipping.
	Applicable  bool
	WhySkipping string

	// ProcessOutput is the combined stdout+stderr captured from the run.
	ProcessOutput string
	Verdict       Verdict
	Summary       string
	Details       []string
}

var validate = validator.New()

// Parse decodes and validates a module metadata document. path is recorded
// on the Module and used in errors when the document has no usable name.
func Parse(data []byte, path string) (*Module, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ParseError{Name: path, Reason: fmt.Sprintf("failed to parse metadata: %v", err)}
	}
	return fromDocument(&doc, path)
}

// fromDocument builds a Module from a decoded document, enforcing the
// required attributes, the placement and language enumerations, and the ten
// required constraint axes.
func fromDocument(doc *Document, path string) (*Module, error) {
	name := strings.TrimSpace(doc.Name)
	if name == "" {
		name = path
	}

	if err := validate.Struct(doc); err != nil {
		var verrs validator.ValidationErrors
		reason := err.Error()
		if ok := asValidationErrors(err, &verrs); ok && len(verrs) > 0 {
			reason = fmt.Sprintf("missing required attribute %q in the metadata document", strings.ToLower(verrs[0].Field()))
		}
		return nil, &ParseError{Name: name, Reason: reason}
	}

	placement := Placement(strings.TrimSpace(doc.Placement))
	if _, ok := placementDirs[placement]; !ok {
		return nil, &UnknownPlacementError{Name: name, Placement: string(placement)}
	}

	language := Language(strings.TrimSpace(doc.Language))
	switch language {
	case LanguageBash, LanguagePython, LanguageBinary:
	default:
		return nil, &UnsupportedLanguageError{Name: name, Language: string(language)}
	}

	cons, err := constraint.New(doc.Constraint)
	if err != nil {
		return nil, &ParseError{Name: name, Reason: fmt.Sprintf("malformed constraint mapping: %v", err)}
	}
	for _, required := range RequiredConstraints {
		if _, ok := cons[required]; !ok {
			return nil, &ConstraintKeyError{Name: name, Key: required}
		}
	}

	mod := &Module{
		Name:        name,
		Version:     strings.TrimSpace(doc.Version),
		Title:       strings.TrimSpace(doc.Title),
		Placement:   placement,
		Package:     constraint.ToStringList(doc.Package),
		Language:    language,
		Content:     strings.TrimRight(doc.Content, " \t\r\n"),
		Path:        path,
		Constraint:  cons,
		Remediation: isTruthy(doc.Remediation),
		Applicable:  true,
	}

	// The rendered help always states the sudo requirement and whether
	// the module can remediate, not just describe.
	mod.Helptext = strings.Join([]string{
		strings.TrimSpace(doc.Helptext),
		fmt.Sprintf("Requires sudo: %s", cons.First("sudo")),
		fmt.Sprintf("Supports remediation: %t", mod.Remediation),
	}, "\n")

	return mod, nil
}

// isTruthy mirrors the metadata convention that remediation support may be
// written as a YAML bool or the strings "True"/"true".
func isTruthy(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return v == "True" || v == "true"
	default:
		return false
	}
}

// asValidationErrors adapts errors.As for the validator error slice type.
func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return false
	}
	*target = verrs
	return true
}

// ListHeader is the column header matching String's fixed-width layout.
const ListHeader = "S P R Module Name         Class     Domain       Description"

// String renders the module as a fixed-width listing row: sudo,
// performance-impact, and remediation markers, then name, classes, domains,
// and title.
func (m *Module) String() string {
	marker := func(on bool) string {
		if on {
			return "*"
		}
		return ""
	}
	return fmt.Sprintf("%-2.1s%-2.1s%-2.1s%-20.18s%-10.8s%-13.11s%-.69s",
		marker(m.Constraint.First("sudo") == "True"),
		marker(m.Constraint.First("perfimpact") == "True"),
		marker(m.Remediation),
		m.Name,
		strings.Join(m.Constraint.Get("class"), ","),
		strings.Join(m.Constraint.Get("domain"), ","),
		m.Title)
}

// Help returns the module's full help message.
func (m *Module) Help() string {
	return fmt.Sprintf("%s:\n%s", m.Name, m.Helptext)
}

// PlacementDir returns the binary directory for the module's placement.
func (m *Module) PlacementDir() string {
	return placementDirs[m.Placement]
}
