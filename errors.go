package ztsock

import (
	"errors"
	"fmt"

	"github.com/opd-ai/ztsock/engine"
)

var (
	// ErrLifecycle is matched by every LifecycleError.
	ErrLifecycle = errors.New("node lifecycle error")

	// ErrNotStarted indicates the node has not been started yet
	ErrNotStarted = errors.New("node not started")

	// ErrNodeStopped indicates the node was stopped and cannot be used again
	ErrNodeStopped = errors.New("node stopped")

	// ErrInvalidState indicates the call is not allowed in the node's state
	ErrInvalidState = errors.New("invalid node state")

	// ErrNetworkNotReady indicates no usable network transport yet
	ErrNetworkNotReady = errors.New("network transport not ready")

	// ErrNetworkNotFound indicates the network does not exist or refused us
	ErrNetworkNotFound = errors.New("network not found")

	// ErrNotJoined indicates the network was never joined
	ErrNotJoined = errors.New("network not joined")

	// ErrNoAddressAssigned indicates the network has not assigned an address
	ErrNoAddressAssigned = errors.New("no address assigned")
)

// LifecycleError reports a failed node operation. Code carries the engine
// status code when the engine rejected the call.
type LifecycleError struct {
	Op        string
	NetworkID uint64
	Code      int
	Err       error
}

func (e *LifecycleError) Error() string {
	msg := e.Op
	if e.NetworkID != 0 {
		msg = fmt.Sprintf("%s %016x", msg, e.NetworkID)
	}
	if e.Err != nil {
		return fmt.Sprintf("ztsock %s: %v", msg, e.Err)
	}
	return fmt.Sprintf("ztsock %s: %s (%d)", msg, engine.StatusText(e.Code), e.Code)
}

func (e *LifecycleError) Unwrap() error {
	return e.Err
}

func (e *LifecycleError) Is(target error) bool {
	return target == ErrLifecycle
}

func newLifecycleError(op string, netID uint64, err error) *LifecycleError {
	return &LifecycleError{Op: op, NetworkID: netID, Err: err}
}

func statusError(op string, netID uint64, code int) *LifecycleError {
	return &LifecycleError{Op: op, NetworkID: netID, Code: code}
}
