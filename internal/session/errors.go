package session

import (
	"errors"
	"fmt"
)

// ErrInvalidState is matched by every error returned for an operation that
// arrives in a phase that does not permit it.
var ErrInvalidState = errors.New("invalid session state")

// ErrTransport is matched by every error returned when a submission fails
// on its way to or back from the endpoint.
var ErrTransport = errors.New("submission transport failed")

// StateError reports which operation was rejected and in which phase.
type StateError struct {
	Op    string
	Phase Phase
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: not allowed while %s", e.Op, e.Phase)
}

func (e *StateError) Unwrap() error {
	return ErrInvalidState
}

// TransportError is returned by submitters. StatusCode is 0 when the request
// never produced a response.
type TransportError struct {
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("submit to %s: HTTP %d: %v", e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("submit to %s: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}
