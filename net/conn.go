package net

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/ztsock"
	"github.com/opd-ai/ztsock/engine"
	"github.com/opd-ai/ztsock/sockaddr"
	"github.com/opd-ai/ztsock/socket"
	"github.com/opd-ai/ztsock/sockopt"
)

// endpoint holds what stream and datagram sockets share: the owned
// handle, deadline bookkeeping and registration with the node.
type endpoint struct {
	node    *ztsock.Node
	sock    *socket.Socket
	network string

	deadlineMu    sync.Mutex
	readDeadline  time.Time
	writeDeadline time.Time

	closeOnce sync.Once
	closeErr  error
}

// register wraps sock and hands it to the node so Stop can close it. The
// socket is closed if the node no longer accepts sockets.
func register(node *ztsock.Node, sock *socket.Socket, network string) (*endpoint, error) {
	e := &endpoint{node: node, sock: sock, network: network}
	if err := node.Track(e); err != nil {
		sock.Close()
		return nil, err
	}
	node.Logger().WithFields(logrus.Fields{
		"function": "register",
		"network":  network,
		"handle":   sock.Handle(),
	}).Debug("Socket opened")
	return e, nil
}

// fail turns a socket error into what the caller sees. Once the node has
// stopped every failure is reported as ztsock.ErrNodeStopped.
func (e *endpoint) fail(op string, err error) error {
	if err == nil {
		return nil
	}
	if uerr := e.node.Usable(op); uerr != nil {
		return uerr
	}
	return err
}

// arm converts a deadline into the remaining time on the matching
// timeout option. A passed deadline fails without calling the engine.
func (e *endpoint) arm(op string, name int) error {
	e.deadlineMu.Lock()
	deadline := e.readDeadline
	if name == engine.SO_SNDTIMEO {
		deadline = e.writeDeadline
	}
	e.deadlineMu.Unlock()

	if deadline.IsZero() {
		return nil
	}
	rem := deadline.Sub(defaultTimeProvider.Now())
	if rem <= 0 {
		return &socket.IoError{Op: op, Handle: e.sock.Handle(), Err: engine.EAGAIN}
	}
	return sockopt.SetTimeout(e.sock, name, rem)
}

func (e *endpoint) setDeadline(name int, t time.Time) error {
	e.deadlineMu.Lock()
	if name == engine.SO_RCVTIMEO {
		e.readDeadline = t
	} else {
		e.writeDeadline = t
	}
	e.deadlineMu.Unlock()

	if t.IsZero() {
		return e.fail("set deadline", sockopt.SetTimeout(e.sock, name, sockopt.NoTimeout))
	}
	// Applied now so a call already blocked on the socket sees it.
	rem := t.Sub(defaultTimeProvider.Now())
	if rem < time.Microsecond {
		rem = time.Microsecond
	}
	return e.fail("set deadline", sockopt.SetTimeout(e.sock, name, rem))
}

// Handle returns the engine handle, or -1 once closed.
func (e *endpoint) Handle() int {
	return e.sock.Handle()
}

// Close releases the socket. Only the first call has an effect.
func (e *endpoint) Close() error {
	e.closeOnce.Do(func() {
		fd := e.sock.Handle()
		e.node.Untrack(e)
		e.closeErr = e.sock.Close()
		e.node.Logger().WithFields(logrus.Fields{
			"function": "Close",
			"network":  e.network,
			"handle":   fd,
		}).Debug("Socket closed")
	})
	return e.closeErr
}

// LocalAddress returns the bound address.
func (e *endpoint) LocalAddress() (sockaddr.Address, error) {
	a, err := e.sock.LocalAddr()
	return a, e.fail("local address", err)
}

// PeerAddress returns the connected peer's address.
func (e *endpoint) PeerAddress() (sockaddr.Address, error) {
	a, err := e.sock.PeerAddr()
	return a, e.fail("peer address", err)
}

// LocalAddr implements net.Conn. It returns nil once the socket is closed.
func (e *endpoint) LocalAddr() net.Addr {
	a, err := e.sock.LocalAddr()
	if err != nil {
		return nil
	}
	return newAddr(e.network, a)
}

// RemoteAddr implements net.Conn. It returns nil when not connected.
func (e *endpoint) RemoteAddr() net.Addr {
	a, err := e.sock.PeerAddr()
	if err != nil {
		return nil
	}
	return newAddr(e.network, a)
}

// SetDeadline implements net.Conn.
func (e *endpoint) SetDeadline(t time.Time) error {
	if err := e.SetReadDeadline(t); err != nil {
		return err
	}
	return e.SetWriteDeadline(t)
}

// SetReadDeadline implements net.Conn. A zero t clears the deadline and
// any read timeout.
func (e *endpoint) SetReadDeadline(t time.Time) error {
	return e.setDeadline(engine.SO_RCVTIMEO, t)
}

// SetWriteDeadline implements net.Conn. A zero t clears the deadline and
// any write timeout.
func (e *endpoint) SetWriteDeadline(t time.Time) error {
	return e.setDeadline(engine.SO_SNDTIMEO, t)
}

// SetReadTimeout sets SO_RCVTIMEO. sockopt.NoTimeout clears it.
func (e *endpoint) SetReadTimeout(d time.Duration) error {
	return e.fail("set read timeout", e.sock.SetReadTimeout(d))
}

// ReadTimeout returns SO_RCVTIMEO; zero means none.
func (e *endpoint) ReadTimeout() (time.Duration, error) {
	d, err := e.sock.ReadTimeout()
	return d, e.fail("read timeout", err)
}

// SetWriteTimeout sets SO_SNDTIMEO. sockopt.NoTimeout clears it.
func (e *endpoint) SetWriteTimeout(d time.Duration) error {
	return e.fail("set write timeout", e.sock.SetWriteTimeout(d))
}

// WriteTimeout returns SO_SNDTIMEO; zero means none.
func (e *endpoint) WriteTimeout() (time.Duration, error) {
	d, err := e.sock.WriteTimeout()
	return d, e.fail("write timeout", err)
}

// SetTTL sets the IP time to live.
func (e *endpoint) SetTTL(ttl int) error {
	return e.fail("set ttl", e.sock.SetTTL(ttl))
}

// TTL returns the IP time to live.
func (e *endpoint) TTL() (int, error) {
	ttl, err := e.sock.TTL()
	return ttl, e.fail("ttl", err)
}

// SetNonBlocking switches the socket's blocking mode. Calls on a
// non-blocking socket that cannot complete fail with a temporary error.
func (e *endpoint) SetNonBlocking(nonblocking bool) error {
	return e.fail("set nonblocking", e.sock.SetNonBlocking(nonblocking))
}

// TakeError returns and clears the pending socket error.
func (e *endpoint) TakeError() (error, error) {
	soErr, err := e.sock.TakeError()
	return soErr, e.fail("take error", err)
}

// StreamSocket is a connected stream. It implements net.Conn.
//
// Reads and writes may run concurrently with each other, but concurrent
// reads (or concurrent writes) need external synchronization.
type StreamSocket struct {
	*endpoint

	// relayMu serializes Relay steps on this socket.
	relayMu sync.Mutex
}

func newStreamSocket(node *ztsock.Node, sock *socket.Socket) (*StreamSocket, error) {
	e, err := register(node, sock, "tcp")
	if err != nil {
		return nil, err
	}
	return &StreamSocket{endpoint: e}, nil
}

// Read implements io.Reader. It returns io.EOF once the peer shut down
// its write side and all data was read.
func (s *StreamSocket) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	if err := s.arm("read", engine.SO_RCVTIMEO); err != nil {
		return 0, s.fail("read", err)
	}
	n, err := s.sock.Read(b)
	if err != nil {
		return 0, s.fail("read", err)
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Peek reads without consuming.
func (s *StreamSocket) Peek(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	if err := s.arm("peek", engine.SO_RCVTIMEO); err != nil {
		return 0, s.fail("peek", err)
	}
	n, err := s.sock.Peek(b)
	if err != nil {
		return 0, s.fail("peek", err)
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Write implements io.Writer. The engine may accept less than offered, so
// Write keeps sending until b is consumed or a call fails. Nothing is
// buffered on this side.
func (s *StreamSocket) Write(b []byte) (int, error) {
	total := 0
	for total < len(b) {
		if err := s.arm("write", engine.SO_SNDTIMEO); err != nil {
			return total, s.fail("write", err)
		}
		n, err := s.sock.Write(b[total:])
		if err != nil {
			return total, s.fail("write", err)
		}
		total += n
	}
	return total, nil
}

// WriteBuffers writes every buffer in order, gathering as many as the
// engine accepts into each send. bufs is consumed as it is written.
func (s *StreamSocket) WriteBuffers(bufs net.Buffers) (int64, error) {
	var total int64
	for {
		for len(bufs) > 0 && len(bufs[0]) == 0 {
			bufs = bufs[1:]
		}
		if len(bufs) == 0 {
			return total, nil
		}
		if err := s.arm("writev", engine.SO_SNDTIMEO); err != nil {
			return total, s.fail("writev", err)
		}
		n, err := s.sock.SendMsg(bufs, 0)
		if err != nil {
			return total, s.fail("writev", err)
		}
		total += int64(n)
		bufs = consume(bufs, n)
	}
}

// consume drops the first n bytes from bufs.
func consume(bufs net.Buffers, n int) net.Buffers {
	for n > 0 && len(bufs) > 0 {
		if n < len(bufs[0]) {
			bufs[0] = bufs[0][n:]
			return bufs
		}
		n -= len(bufs[0])
		bufs = bufs[1:]
	}
	return bufs
}

// Shutdown disables one or both directions. A repeated shutdown reports
// the engine's error.
func (s *StreamSocket) Shutdown(how socket.Shutdown) error {
	return s.fail("shutdown", s.sock.Shutdown(how))
}

// CloseRead shuts down the reading side.
func (s *StreamSocket) CloseRead() error {
	return s.Shutdown(socket.ShutRead)
}

// CloseWrite shuts down the writing side. The peer reads io.EOF.
func (s *StreamSocket) CloseWrite() error {
	return s.Shutdown(socket.ShutWrite)
}

// SetNoDelay toggles Nagle's algorithm.
func (s *StreamSocket) SetNoDelay(on bool) error {
	return s.fail("set nodelay", s.sock.SetNoDelay(on))
}

// NoDelay reports whether Nagle's algorithm is disabled.
func (s *StreamSocket) NoDelay() (bool, error) {
	on, err := s.sock.NoDelay()
	return on, s.fail("nodelay", err)
}

// SetKeepAlive toggles SO_KEEPALIVE.
func (s *StreamSocket) SetKeepAlive(on bool) error {
	return s.fail("set keepalive", sockopt.SetBool(s.sock, engine.SOL_SOCKET, engine.SO_KEEPALIVE, on))
}

// SetLinger sets SO_LINGER. A negative sec turns lingering off.
func (s *StreamSocket) SetLinger(sec int) error {
	l := sockopt.Linger{}
	if sec >= 0 {
		l = sockopt.Linger{OnOff: 1, Linger: int32(sec)}
	}
	return s.fail("set linger", sockopt.Set(s.sock, engine.SOL_SOCKET, engine.SO_LINGER, l))
}

var _ net.Conn = (*StreamSocket)(nil)
