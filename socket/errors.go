package socket

import (
	"errors"
	"fmt"

	"github.com/opd-ai/ztsock/engine"
)

// ErrSocketCreate is matched by every CreateError.
var ErrSocketCreate = errors.New("socket creation failed")

// CreateError reports that the engine refused to allocate a handle.
type CreateError struct {
	Family int
	Type   int
	Err    engine.Errno
}

func (e *CreateError) Error() string {
	return fmt.Sprintf("socket family=%d type=%d: %v", e.Family, e.Type, e.Err)
}

func (e *CreateError) Unwrap() error {
	return e.Err
}

func (e *CreateError) Is(target error) bool {
	return target == ErrSocketCreate
}

// IoError carries the engine error code of a failed socket call.
type IoError struct {
	Op     string
	Handle int
	Err    engine.Errno
}

func (e *IoError) Error() string {
	return fmt.Sprintf("%s fd=%d: %v", e.Op, e.Handle, e.Err)
}

func (e *IoError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the call ran into its configured timeout or
// would have blocked.
func (e *IoError) Timeout() bool {
	return e.Err.Timeout()
}

// Temporary reports whether retrying the call may succeed.
func (e *IoError) Temporary() bool {
	return e.Err.Temporary()
}

func ioError(op string, fd int, rc int) *IoError {
	return &IoError{Op: op, Handle: fd, Err: engine.Errno(-rc)}
}
