// Package limits provides the size limits of the virtual network stack.
// This ensures consistent validation across the engine and socket layers.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxDatagramSize is the largest UDP payload over IPv4 (65535 - 20 - 8)
	MaxDatagramSize = 65507

	// LinkMTU is the virtual link MTU used to segment stream data
	LinkMTU = 2800

	// DefaultReceiveBuffer is the default SO_RCVBUF of a socket
	DefaultReceiveBuffer = 256 * 1024

	// MinReceiveBuffer and MaxReceiveBuffer bound SO_RCVBUF
	MinReceiveBuffer = 2048
	MaxReceiveBuffer = 8 * 1024 * 1024

	// ListenBacklog is the backlog used by stream listeners
	ListenBacklog = 128

	// MaxBacklog caps any requested backlog
	MaxBacklog = 1024

	// EphemeralPortFirst and EphemeralPortLast bound automatically
	// assigned ports (IANA dynamic range)
	EphemeralPortFirst = 49152
	EphemeralPortLast  = 65535

	// MaxConfigFile bounds configuration files read from disk
	MaxConfigFile = 1024 * 1024
)

// ErrMessageTooLarge indicates a buffer exceeds its maximum size
var ErrMessageTooLarge = errors.New("message too large")

// ValidateDatagram validates a datagram payload against MaxDatagramSize.
// Empty datagrams are valid.
func ValidateDatagram(payload []byte) error {
	if len(payload) > MaxDatagramSize {
		return fmt.Errorf("%w: datagram size %d exceeds limit %d", ErrMessageTooLarge, len(payload), MaxDatagramSize)
	}
	return nil
}

// ValidateConfigFile validates configuration file contents.
func ValidateConfigFile(data []byte) error {
	if len(data) > MaxConfigFile {
		return fmt.Errorf("%w: config size %d exceeds limit %d", ErrMessageTooLarge, len(data), MaxConfigFile)
	}
	return nil
}

// ClampReceiveBuffer bounds a requested SO_RCVBUF value.
func ClampReceiveBuffer(n int) int {
	switch {
	case n < MinReceiveBuffer:
		return MinReceiveBuffer
	case n > MaxReceiveBuffer:
		return MaxReceiveBuffer
	default:
		return n
	}
}

// ClampBacklog bounds a listen backlog. Non-positive values select
// ListenBacklog.
func ClampBacklog(n int) int {
	switch {
	case n <= 0:
		return ListenBacklog
	case n > MaxBacklog:
		return MaxBacklog
	default:
		return n
	}
}
