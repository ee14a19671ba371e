// Package engine defines the narrow, C-style call surface of the overlay
// engine that backs every ztsock node and socket.
//
// The engine owns the virtual network stack. Callers never see its internals;
// they talk to it through [Engine], whose methods mirror the libzt socket API:
// integer handles, raw address buffers, option payloads as byte slices and
// negative return codes.
//
// # Return Conventions
//
// Node calls (InitSetPort, NodeStart, NetJoin, ...) return one of the status
// codes [ErrOK], [ErrSocket], [ErrService], [ErrArg], [ErrNoResult] or
// [ErrGeneral].
//
// Socket calls return a non-negative handle or byte count on success and the
// negated [Errno] on failure:
//
//	fd := eng.Socket(engine.AF_INET, engine.SOCK_STREAM, 0)
//	if fd < 0 {
//	    return engine.Errno(-fd)
//	}
//
// [Check] performs that conversion for callers that prefer Go errors.
//
// # Addresses
//
// Connect and Bind take a textual host plus a port. Accept, RecvFrom,
// GetSockName and GetPeerName write lwIP-layout socket address storage into
// a caller supplied buffer and report the written length through an int
// pointer. The sockaddr package converts between that layout and typed
// addresses.
//
// # Events
//
// An [EventHandler] installed with InitSetEventHandler receives node and
// network lifecycle events ([EventNodeOnline], [EventNetworkReadyIP4], ...).
// Handlers run on an engine owned goroutine and must not block for long.
package engine
