package engine

import "fmt"

// PrediagnosticFailureError reports a prediagnostic module that did not come
// back SUCCESS. The prediagnostic stage is a hard gate: this error aborts the
// run before any scheduling happens.
type PrediagnosticFailureError struct {
	Name    string
	Summary string
}

// Error implements the error interface.
func (e *PrediagnosticFailureError) Error() string {
	return fmt.Sprintf("failed prediagnostic check: %s: %s", e.Name, e.Summary)
}
