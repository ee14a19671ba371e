package net

import (
	"errors"
	"fmt"

	"github.com/opd-ai/ztsock/sockaddr"
)

var (
	// ErrBind is matched by every BindError
	ErrBind = errors.New("bind failed")

	// ErrUnresolvedAddress is matched by every UnresolvedAddressError
	ErrUnresolvedAddress = errors.New("could not resolve to any addresses")

	// ErrUnsupportedNetwork indicates a network name other than tcp or udp
	ErrUnsupportedNetwork = errors.New("unsupported network")
)

// BindError reports a failed listen or bind. Step names the engine call
// that failed.
type BindError struct {
	Addr sockaddr.Address
	Step string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("ztnet %s %s: %v", e.Step, e.Addr, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

func (e *BindError) Is(target error) bool {
	return target == ErrBind
}

// UnresolvedAddressError reports an address that resolved to nothing.
// Err holds the lookup failure, if there was one.
type UnresolvedAddressError struct {
	Address string
	Err     error
}

func (e *UnresolvedAddressError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ztnet resolve %s: %v: %v", e.Address, ErrUnresolvedAddress, e.Err)
	}
	return fmt.Sprintf("ztnet resolve %s: %v", e.Address, ErrUnresolvedAddress)
}

func (e *UnresolvedAddressError) Unwrap() error {
	return e.Err
}

func (e *UnresolvedAddressError) Is(target error) bool {
	return target == ErrUnresolvedAddress
}

// OpError represents an error with additional context
type OpError struct {
	Op   string // operation that caused the error
	Addr string // address if relevant
	Err  error  // underlying error
}

func (e *OpError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("ztnet %s %s: %v", e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("ztnet %s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func newOpError(op, addr string, err error) *OpError {
	return &OpError{
		Op:   op,
		Addr: addr,
		Err:  err,
	}
}
