package xmlexport

import (
	"errors"
	"fmt"
)

// ErrSerialization is matched by every SerializationError via errors.Is.
var ErrSerialization = errors.New("cannot serialize scenario")

// SerializationError reports a scenario value the projection refuses to
// encode. Path locates the record, e.g. "nodes[1].routing[0]".
type SerializationError struct {
	Path   string
	Reason string
}

func (e *SerializationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", ErrSerialization, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrSerialization, e.Path, e.Reason)
}

func (e *SerializationError) Is(target error) bool {
	return target == ErrSerialization
}
