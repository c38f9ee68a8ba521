package module

import "fmt"

// ParseError reports a metadata document that is missing a required attribute
// value or failed to parse. Loading skips the offending file and continues.
type ParseError struct {
	// Name identifies the module, falling back to the file path when the
	// document never yielded a name.
	Name string

	// Reason describes what was wrong with the document.
	Reason string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("module %q: %s", e.Name, e.Reason)
}

// ConstraintKeyError reports a metadata document missing one of the required
// constraint axes.
type ConstraintKeyError struct {
	Name string
	Key  string
}

// Error implements the error interface.
func (e *ConstraintKeyError) Error() string {
	return fmt.Sprintf("module %q missing constraint key: %s", e.Name, e.Key)
}

// UnknownPlacementError reports an unsupported placement value.
type UnknownPlacementError struct {
	Name      string
	Placement string
}

// Error implements the error interface.
func (e *UnknownPlacementError) Error() string {
	return fmt.Sprintf("unknown placement %q defined for module %q", e.Placement, e.Name)
}

// UnsupportedLanguageError reports an unsupported language value.
type UnsupportedLanguageError struct {
	Name     string
	Language string
}

// Error implements the error interface.
func (e *UnsupportedLanguageError) Error() string {
	return fmt.Sprintf("module %q uses an unsupported language: %s", e.Name, e.Language)
}

// RunFailureError reports a module whose process did not exit normally. The
// captured combined output travels with the error; workers catch it, log it,
// and move on without surfacing the output through any other path.
type RunFailureError struct {
	Name      string
	Placement Placement
	ExitCode  int
	Output    string
}

// Error implements the error interface.
func (e *RunFailureError) Error() string {
	return fmt.Sprintf("module execution failed: %s/%s, returned %d", e.Placement, e.Name, e.ExitCode)
}
