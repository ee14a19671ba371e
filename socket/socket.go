// Package socket wraps a single engine socket handle.
//
// A Socket owns its handle exclusively and releases it at most once. Every
// engine return code is checked: handles and counts come back as values,
// negative codes as *IoError. Calls interrupted with EINTR are reported to
// the caller and never retried here.
package socket

import (
	"sync/atomic"
	"time"

	"github.com/opd-ai/ztsock/engine"
	"github.com/opd-ai/ztsock/sockaddr"
	"github.com/opd-ai/ztsock/sockopt"
)

// Shutdown selects the direction(s) closed by Socket.Shutdown.
type Shutdown int

const (
	ShutRead  Shutdown = engine.SHUT_RD
	ShutWrite Shutdown = engine.SHUT_WR
	ShutBoth  Shutdown = engine.SHUT_RDWR
)

func (h Shutdown) String() string {
	switch h {
	case ShutRead:
		return "read"
	case ShutWrite:
		return "write"
	case ShutBoth:
		return "both"
	default:
		return "invalid"
	}
}

// Socket owns one engine handle.
type Socket struct {
	eng    engine.Engine
	fd     atomic.Int64
	family int
	typ    int
}

// New creates a socket of the given family and type.
func New(eng engine.Engine, family, typ int) (*Socket, error) {
	fd := eng.Socket(family, typ, 0)
	if fd < 0 {
		return nil, &CreateError{Family: family, Type: typ, Err: engine.Errno(-fd)}
	}
	return FromHandle(eng, fd, family, typ), nil
}

// ForAddress creates a socket whose family matches addr.
func ForAddress(eng engine.Engine, addr sockaddr.Address, typ int) (*Socket, error) {
	family := addr.Family()
	if family == engine.AF_UNSPEC {
		return nil, &CreateError{Family: family, Type: typ, Err: engine.EAFNOSUPPORT}
	}
	return New(eng, family, typ)
}

// FromHandle takes ownership of an existing handle.
func FromHandle(eng engine.Engine, fd, family, typ int) *Socket {
	s := &Socket{eng: eng, family: family, typ: typ}
	s.fd.Store(int64(fd))
	return s
}

// Engine returns the engine the handle belongs to.
func (s *Socket) Engine() engine.Engine { return s.eng }

// Handle returns the native handle, or -1 once released.
func (s *Socket) Handle() int { return int(s.fd.Load()) }

// Family returns AF_INET or AF_INET6.
func (s *Socket) Family() int { return s.family }

// Type returns SOCK_STREAM or SOCK_DGRAM.
func (s *Socket) Type() int { return s.typ }

// Into moves the handle into a new Socket. The receiver no longer owns it
// and closing it becomes a no-op.
func (s *Socket) Into() *Socket {
	fd := s.fd.Swap(-1)
	n := &Socket{eng: s.eng, family: s.family, typ: s.typ}
	n.fd.Store(fd)
	return n
}

// Close releases the handle. Only the first call reaches the engine.
func (s *Socket) Close() error {
	fd := int(s.fd.Swap(-1))
	if fd < 0 {
		return nil
	}
	if rc := s.eng.Close(fd); rc < 0 {
		return ioError("close", fd, rc)
	}
	return nil
}

func (s *Socket) handle(op string) (int, error) {
	fd := s.Handle()
	if fd < 0 {
		return -1, &IoError{Op: op, Handle: fd, Err: engine.EBADF}
	}
	return fd, nil
}

// ConnectRaw connects using the engine's textual host form. A zero timeout
// uses the engine default.
func (s *Socket) ConnectRaw(host string, port uint16, timeout time.Duration) error {
	fd, err := s.handle("connect")
	if err != nil {
		return err
	}
	ms := 0
	if timeout > 0 {
		ms = int((timeout + time.Millisecond - 1) / time.Millisecond)
	}
	if rc := s.eng.Connect(fd, host, port, ms); rc < 0 {
		return ioError("connect", fd, rc)
	}
	return nil
}

// Connect connects to addr.
func (s *Socket) Connect(addr sockaddr.Address, timeout time.Duration) error {
	return s.ConnectRaw(addr.Host(), addr.Port, timeout)
}

// BindRaw binds using the engine's textual host form.
func (s *Socket) BindRaw(host string, port uint16) error {
	fd, err := s.handle("bind")
	if err != nil {
		return err
	}
	if rc := s.eng.Bind(fd, host, port); rc < 0 {
		return ioError("bind", fd, rc)
	}
	return nil
}

// Bind binds to addr.
func (s *Socket) Bind(addr sockaddr.Address) error {
	return s.BindRaw(addr.Host(), addr.Port)
}

// Listen marks the socket passive.
func (s *Socket) Listen(backlog int) error {
	fd, err := s.handle("listen")
	if err != nil {
		return err
	}
	if rc := s.eng.Listen(fd, backlog); rc < 0 {
		return ioError("listen", fd, rc)
	}
	return nil
}

// Accept returns the next connection and its peer address.
func (s *Socket) Accept() (*Socket, sockaddr.Address, error) {
	fd, err := s.handle("accept")
	if err != nil {
		return nil, sockaddr.Address{}, err
	}
	var raw sockaddr.RawStorage
	raw.Reset()
	nfd := s.eng.Accept(fd, raw.Data[:], &raw.Len)
	if nfd < 0 {
		return nil, sockaddr.Address{}, ioError("accept", fd, nfd)
	}
	child := FromHandle(s.eng, nfd, s.family, s.typ)
	peer, err := sockaddr.Decode(&raw)
	if err != nil {
		child.Close()
		return nil, sockaddr.Address{}, err
	}
	return child, peer, nil
}

// Recv reads into b with the given MSG_* flags.
func (s *Socket) Recv(b []byte, flags int) (int, error) {
	fd, err := s.handle("recv")
	if err != nil {
		return 0, err
	}
	n := s.eng.Recv(fd, b, flags)
	if n < 0 {
		return 0, ioError("recv", fd, n)
	}
	return n, nil
}

// Read reads into b. Zero bytes with a nil error means end of stream.
func (s *Socket) Read(b []byte) (int, error) {
	return s.Recv(b, 0)
}

// Peek reads without consuming.
func (s *Socket) Peek(b []byte) (int, error) {
	return s.Recv(b, engine.MSG_PEEK)
}

// Send writes b with the given MSG_* flags and returns the count the engine
// accepted, which may be short.
func (s *Socket) Send(b []byte, flags int) (int, error) {
	fd, err := s.handle("send")
	if err != nil {
		return 0, err
	}
	n := s.eng.Send(fd, b, flags)
	if n < 0 {
		return 0, ioError("send", fd, n)
	}
	return n, nil
}

// Write is Send without flags.
func (s *Socket) Write(b []byte) (int, error) {
	return s.Send(b, 0)
}

// RecvFrom reads one datagram and its source address.
func (s *Socket) RecvFrom(b []byte, flags int) (int, sockaddr.Address, error) {
	fd, err := s.handle("recvfrom")
	if err != nil {
		return 0, sockaddr.Address{}, err
	}
	var raw sockaddr.RawStorage
	raw.Reset()
	n := s.eng.RecvFrom(fd, b, flags, raw.Data[:], &raw.Len)
	if n < 0 {
		return 0, sockaddr.Address{}, ioError("recvfrom", fd, n)
	}
	from, err := sockaddr.Decode(&raw)
	if err != nil {
		return 0, sockaddr.Address{}, err
	}
	return n, from, nil
}

// PeekFrom is RecvFrom without consuming the datagram.
func (s *Socket) PeekFrom(b []byte) (int, sockaddr.Address, error) {
	return s.RecvFrom(b, engine.MSG_PEEK)
}

// SendTo sends b as one datagram to addr.
func (s *Socket) SendTo(b []byte, addr sockaddr.Address) (int, error) {
	fd, err := s.handle("sendto")
	if err != nil {
		return 0, err
	}
	raw, err := sockaddr.Encode(sockaddr.ForFamily(addr, s.family))
	if err != nil {
		return 0, err
	}
	n := s.eng.SendTo(fd, b, 0, raw.Bytes())
	if n < 0 {
		return 0, ioError("sendto", fd, n)
	}
	return n, nil
}

// SendMsg gathers bufs into one send to the connected peer. Like Send it
// may accept less than offered on a stream.
func (s *Socket) SendMsg(bufs [][]byte, flags int) (int, error) {
	fd, err := s.handle("sendmsg")
	if err != nil {
		return 0, err
	}
	n := s.eng.SendMsg(fd, bufs, flags, nil)
	if n < 0 {
		return 0, ioError("sendmsg", fd, n)
	}
	return n, nil
}

// SendMsgTo gathers bufs into one datagram for addr.
func (s *Socket) SendMsgTo(bufs [][]byte, addr sockaddr.Address) (int, error) {
	fd, err := s.handle("sendmsg")
	if err != nil {
		return 0, err
	}
	raw, err := sockaddr.Encode(sockaddr.ForFamily(addr, s.family))
	if err != nil {
		return 0, err
	}
	n := s.eng.SendMsg(fd, bufs, 0, raw.Bytes())
	if n < 0 {
		return 0, ioError("sendmsg", fd, n)
	}
	return n, nil
}

// RecvMsg scatters one receive across bufs and returns the total read and
// the source address.
func (s *Socket) RecvMsg(bufs [][]byte, flags int) (int, sockaddr.Address, error) {
	fd, err := s.handle("recvmsg")
	if err != nil {
		return 0, sockaddr.Address{}, err
	}
	var raw sockaddr.RawStorage
	raw.Reset()
	n := s.eng.RecvMsg(fd, bufs, flags, raw.Data[:], &raw.Len)
	if n < 0 {
		return 0, sockaddr.Address{}, ioError("recvmsg", fd, n)
	}
	from, err := sockaddr.Decode(&raw)
	if err != nil {
		return 0, sockaddr.Address{}, err
	}
	return n, from, nil
}

// Shutdown disables one or both directions. A repeated shutdown reports
// whatever the engine returns for it.
func (s *Socket) Shutdown(how Shutdown) error {
	fd, err := s.handle("shutdown")
	if err != nil {
		return err
	}
	if rc := s.eng.Shutdown(fd, int(how)); rc < 0 {
		return ioError("shutdown", fd, rc)
	}
	return nil
}

// SetNonBlocking switches the handle's blocking mode. Non-blocking calls
// that cannot complete fail with EAGAIN.
func (s *Socket) SetNonBlocking(nonblocking bool) error {
	fd, err := s.handle("setblocking")
	if err != nil {
		return err
	}
	if rc := s.eng.SetBlocking(fd, !nonblocking); rc < 0 {
		return ioError("setblocking", fd, rc)
	}
	return nil
}

// TakeError returns and clears the pending socket error. The second result
// reports a failure to query it.
func (s *Socket) TakeError() (error, error) {
	fd, err := s.handle("take_error")
	if err != nil {
		return nil, err
	}
	rc := s.eng.GetLastSocketError(fd)
	switch {
	case rc < 0:
		return nil, ioError("take_error", fd, rc)
	case rc == 0:
		return nil, nil
	default:
		return engine.Errno(rc), nil
	}
}

// LocalAddr returns the bound address.
func (s *Socket) LocalAddr() (sockaddr.Address, error) {
	return s.name("getsockname", s.eng.GetSockName)
}

// PeerAddr returns the connected peer's address.
func (s *Socket) PeerAddr() (sockaddr.Address, error) {
	return s.name("getpeername", s.eng.GetPeerName)
}

func (s *Socket) name(op string, call func(int, []byte, *int) int) (sockaddr.Address, error) {
	fd, err := s.handle(op)
	if err != nil {
		return sockaddr.Address{}, err
	}
	var raw sockaddr.RawStorage
	raw.Reset()
	if rc := call(fd, raw.Data[:], &raw.Len); rc < 0 {
		return sockaddr.Address{}, ioError(op, fd, rc)
	}
	return sockaddr.Decode(&raw)
}

// SetNoDelay toggles TCP_NODELAY.
func (s *Socket) SetNoDelay(on bool) error {
	return sockopt.SetBool(s, engine.IPPROTO_TCP, engine.TCP_NODELAY, on)
}

// NoDelay reads TCP_NODELAY.
func (s *Socket) NoDelay() (bool, error) {
	return sockopt.Bool(s, engine.IPPROTO_TCP, engine.TCP_NODELAY)
}

// SetTTL sets IP_TTL.
func (s *Socket) SetTTL(ttl int) error {
	return sockopt.SetInt(s, engine.IPPROTO_IP, engine.IP_TTL, ttl)
}

// TTL reads IP_TTL.
func (s *Socket) TTL() (int, error) {
	return sockopt.Int(s, engine.IPPROTO_IP, engine.IP_TTL)
}

// SetReadTimeout sets SO_RCVTIMEO. sockopt.NoTimeout clears it and zero is
// rejected.
func (s *Socket) SetReadTimeout(d time.Duration) error {
	return sockopt.SetTimeout(s, engine.SO_RCVTIMEO, d)
}

// ReadTimeout reads SO_RCVTIMEO; zero means none.
func (s *Socket) ReadTimeout() (time.Duration, error) {
	return sockopt.Timeout(s, engine.SO_RCVTIMEO)
}

// SetWriteTimeout sets SO_SNDTIMEO. sockopt.NoTimeout clears it and zero is
// rejected.
func (s *Socket) SetWriteTimeout(d time.Duration) error {
	return sockopt.SetTimeout(s, engine.SO_SNDTIMEO, d)
}

// WriteTimeout reads SO_SNDTIMEO; zero means none.
func (s *Socket) WriteTimeout() (time.Duration, error) {
	return sockopt.Timeout(s, engine.SO_SNDTIMEO)
}
