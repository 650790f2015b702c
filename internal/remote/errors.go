package remote

import (
	"errors"
	"fmt"
)

// ErrRemote matches every failure talking to the simulator: transport
// errors as well as non-2xx responses.
var ErrRemote = errors.New("remote simulator error")

// RemoteError is a non-2xx response from the simulator.
type RemoteError struct {
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote simulator returned %d: %s", e.StatusCode, e.Message)
}

// Is reports ErrRemote as a match.
func (e *RemoteError) Is(target error) bool {
	return target == ErrRemote
}
