package engine

// Engine is the call surface of a single overlay node and its socket layer.
// Implementations must be safe for concurrent use. Blocking socket calls
// block only the calling goroutine.
type Engine interface {
	// InitSetPort sets the physical port the node will use. Zero selects a
	// random port. Must be called before NodeStart.
	InitSetPort(port uint16) int

	// InitFromStorage points the node at a directory holding its identity
	// and network memberships. The directory is created if missing.
	InitFromStorage(path string) int

	// InitSetEventHandler installs the callback receiving lifecycle events.
	InitSetEventHandler(h EventHandler) int

	// NodeStart starts the node. Going online happens asynchronously.
	NodeStart() int

	// NodeStop stops the node and releases every socket it owns.
	NodeStop() int

	// NodeFree releases all engine resources. The engine may be
	// initialized again afterwards.
	NodeFree() int

	// NodeIsOnline reports whether the node can reach the overlay.
	NodeIsOnline() bool

	// NodeID returns the 40-bit node address, or zero before start.
	NodeID() uint64

	// NetJoin requests membership in a virtual network.
	NetJoin(netID uint64) int

	// NetLeave leaves a virtual network.
	NetLeave(netID uint64) int

	// NetTransportIsReady reports whether sockets can use the network.
	NetTransportIsReady(netID uint64) bool

	// AddrGet writes the NUL terminated textual address assigned to this
	// node on netID for the given family into dst.
	AddrGet(netID uint64, family int, dst []byte) int

	// Delay sleeps for intervalMs milliseconds.
	Delay(intervalMs int)

	// StatsGet copies the protocol counters into s.
	StatsGet(s *Stats) int

	// Socket creates a socket and returns its handle.
	Socket(family, typ, protocol int) int

	// Connect connects fd to host:port. timeoutMs bounds the attempt for
	// stream sockets; zero means the engine default.
	Connect(fd int, host string, port uint16, timeoutMs int) int

	// Bind binds fd to host:port. Port zero selects an ephemeral port.
	Bind(fd int, host string, port uint16) int

	// Listen marks a bound stream socket as passive.
	Listen(fd, backlog int) int

	// Accept returns a handle for the next pending connection and writes
	// the peer address into addr.
	Accept(fd int, addr []byte, addrlen *int) int

	// Recv reads from fd. Flags accept MSG_PEEK and MSG_DONTWAIT.
	Recv(fd int, b []byte, flags int) int

	// RecvFrom reads one datagram and writes its source address into addr.
	RecvFrom(fd int, b []byte, flags int, addr []byte, addrlen *int) int

	// Send writes to a connected socket.
	Send(fd int, b []byte, flags int) int

	// SendTo sends one datagram to the raw address addr.
	SendTo(fd int, b []byte, flags int, addr []byte) int

	// SendMsg gathers bufs into one send. An empty addr sends to the
	// connected peer. Datagram sockets send the gathered bytes as a single
	// datagram.
	SendMsg(fd int, bufs [][]byte, flags int, addr []byte) int

	// RecvMsg scatters one receive across bufs in order and writes the
	// source address into addr.
	RecvMsg(fd int, bufs [][]byte, flags int, addr []byte, addrlen *int) int

	// SetSockOpt sets an option from a payload of the option's exact size.
	SetSockOpt(fd, level, name int, val []byte) int

	// GetSockOpt reads an option into val and stores the written size in
	// vallen.
	GetSockOpt(fd, level, name int, val []byte, vallen *int) int

	// Shutdown disables further reads, writes or both.
	Shutdown(fd, how int) int

	// Close releases fd. Handles are never reused.
	Close(fd int) int

	// GetPeerName writes the connected peer's address into addr.
	GetPeerName(fd int, addr []byte, addrlen *int) int

	// GetSockName writes the local address of fd into addr.
	GetSockName(fd int, addr []byte, addrlen *int) int

	// SetBlocking switches fd between blocking and non-blocking mode.
	SetBlocking(fd int, blocking bool) int

	// GetLastSocketError returns and clears the pending error of fd.
	GetLastSocketError(fd int) int
}

// Node status codes returned by node calls.
const (
	ErrOK       = 0
	ErrSocket   = -1
	ErrService  = -2
	ErrArg      = -3
	ErrNoResult = -4
	ErrGeneral  = -5
)

// StatusText returns a short description of a node status code.
func StatusText(code int) string {
	switch code {
	case ErrOK:
		return "ok"
	case ErrSocket:
		return "socket error"
	case ErrService:
		return "service unavailable or in wrong state"
	case ErrArg:
		return "invalid argument"
	case ErrNoResult:
		return "no result"
	case ErrGeneral:
		return "general error"
	default:
		return "unknown status"
	}
}

// Check converts a socket call return value into a Go error.
func Check(rc int) (int, error) {
	if rc < 0 {
		return 0, Errno(-rc)
	}
	return rc, nil
}
