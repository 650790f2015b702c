package model

import (
	"errors"
	"fmt"
)

// ErrInvalid is matched by every ValidationError via errors.Is.
var ErrInvalid = errors.New("invalid scenario")

// ValidationError reports a record that violates a structural invariant of
// the scenario model. Section names the top-level section (parameters,
// nodes, connections, registers) and Path locates the offending record
// inside it, e.g. "nodes[2].devices[0].name".
type ValidationError struct {
	Section string
	Path    string
	Reason  string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Path != "":
		return fmt.Sprintf("%s: %s: %s", ErrInvalid, e.Path, e.Reason)
	case e.Section != "":
		return fmt.Sprintf("%s: %s: %s", ErrInvalid, e.Section, e.Reason)
	default:
		return fmt.Sprintf("%s: %s", ErrInvalid, e.Reason)
	}
}

// Is lets callers test for ErrInvalid without a type assertion.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

func invalid(section, path, format string, args ...any) *ValidationError {
	return &ValidationError{
		Section: section,
		Path:    path,
		Reason:  fmt.Sprintf(format, args...),
	}
}
