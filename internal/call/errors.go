package call

import (
	"errors"
	"fmt"
)

// ErrCallActive is returned by StartCall while a call is connecting or
// connected.
var ErrCallActive = errors.New("call: a call is already active")

// PermissionError reports that the microphone could not be opened, either
// because access was denied or no device exists.
type PermissionError struct {
	Err error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("call: microphone unavailable: %v", e.Err)
}

func (e *PermissionError) Unwrap() error { return e.Err }

// ConnectionError reports that the live session could not be established.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("call: connect: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
