package registry

import (
	"errors"
	"fmt"
)

// ErrUnsupported reports a bulk list operation that would bypass index
// maintenance. Callers mutate through Append, Insert, and Remove only.
var ErrUnsupported = errors.New("registry: operation bypasses index maintenance")

// DuplicateNameError reports an attempt to add a module whose name is already
// used by a member.
type DuplicateNameError struct {
	Name string
}

// Error implements the error interface.
func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("registry already contains a module named %q", e.Name)
}

// NotPresentError reports an attempt to remove a module that is not a member.
type NotPresentError struct {
	Name string
}

// Error implements the error interface.
func (e *NotPresentError) Error() string {
	return fmt.Sprintf("registry does not contain a module named %q", e.Name)
}
