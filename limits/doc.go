// Package limits provides centralized size constants and validation functions
// for the virtual network stack.
//
// # Size Hierarchy
//
//   - LinkMTU (2800 bytes): payload of a single frame on a virtual link. Stream
//     data is segmented at this size before encryption.
//
//   - MaxDatagramSize (65507 bytes): the largest datagram a socket accepts.
//     Datagrams travel as a single frame and are never fragmented.
//
//   - DefaultReceiveBuffer (256 KiB): per-socket receive buffer. Stream
//     writers block when the peer's buffer is full; datagrams arriving at a
//     full buffer are dropped.
//
// # Validation Functions
//
//	if err := limits.ValidateDatagram(payload); err != nil {
//	    // errors.Is(err, limits.ErrMessageTooLarge)
//	}
//
// ClampReceiveBuffer and ClampBacklog normalize option values the same way
// the engine does.
package limits
