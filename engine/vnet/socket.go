package vnet

import (
	"net/netip"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/ztsock/engine"
	"github.com/opd-ai/ztsock/limits"
	"github.com/opd-ai/ztsock/sockaddr"
)

const defaultTTL = 64

type datagram struct {
	from netip.AddrPort
	data []byte
}

// vsocket is the state behind one handle. All fields are guarded by the
// fabric mutex. Addresses are kept unmapped; IPv4-mapped forms only appear
// when an address is reported to an AF_INET6 socket.
type vsocket struct {
	e      *Engine
	fd     int
	family int
	typ    int
	cond   *sync.Cond

	closed    bool
	bound     bool
	listening bool
	connected bool
	local     netip.AddrPort
	remote    netip.AddrPort
	hasRemote bool
	bindKey   string

	nonblocking bool
	rcvTimeo    time.Duration
	sndTimeo    time.Duration
	rcvSetAt    time.Time
	sndSetAt    time.Time
	reuseAddr   bool
	keepAlive   bool
	broadcast   bool
	noDelay     bool
	v6only      bool
	ttl         int
	lingerOn    int32
	lingerSec   int32
	rcvBuf      int
	pendingErr  engine.Errno

	// stream
	peer     *vsocket
	rbuf     []byte
	rdShut   bool
	wrShut   bool
	eof      bool
	reset    bool
	peerGone bool

	// listener
	backlog int
	pending []*vsocket

	// datagram
	dq      []datagram
	dqBytes int
}

func fail(errno engine.Errno) int {
	return -int(errno)
}

func (f *Fabric) newSocket(e *Engine, family, typ int) *vsocket {
	return &vsocket{
		e:      e,
		fd:     -1,
		family: family,
		typ:    typ,
		cond:   sync.NewCond(&f.mu),
		ttl:    defaultTTL,
		rcvBuf: limits.DefaultReceiveBuffer,
	}
}

// lookup returns the socket behind fd. Callers hold f.mu.
func (e *Engine) lookup(fd int) (*vsocket, int) {
	s, ok := e.sockets[fd]
	if !ok {
		return nil, fail(engine.EBADF)
	}
	return s, 0
}

// register assigns the next handle to s. Callers hold f.mu.
func (e *Engine) register(s *vsocket) int {
	e.nextFD++
	s.fd = e.nextFD
	e.sockets[s.fd] = s
	return s.fd
}

// Socket creates a socket. The node must be started.
func (e *Engine) Socket(family, typ, protocol int) int {
	if !e.running.Load() {
		return fail(engine.ENETDOWN)
	}
	if family != engine.AF_INET && family != engine.AF_INET6 {
		return fail(engine.EAFNOSUPPORT)
	}
	switch typ {
	case engine.SOCK_STREAM:
		if protocol != 0 && protocol != engine.IPPROTO_TCP {
			return fail(engine.EPROTONOSUPPORT)
		}
	case engine.SOCK_DGRAM:
		if protocol != 0 && protocol != engine.IPPROTO_UDP {
			return fail(engine.EPROTONOSUPPORT)
		}
	default:
		return fail(engine.EINVAL)
	}

	f := e.fabric
	f.mu.Lock()
	defer f.mu.Unlock()
	return e.register(f.newSocket(e, family, typ))
}

// Close releases fd.
func (e *Engine) Close(fd int) int {
	f := e.fabric
	f.mu.Lock()
	defer f.mu.Unlock()

	s, rc := e.lookup(fd)
	if rc < 0 {
		return rc
	}
	delete(e.sockets, fd)
	f.closeLocked(s)
	return 0
}

// closeLocked tears s down and wakes everything waiting on it. Callers hold
// f.mu.
func (f *Fabric) closeLocked(s *vsocket) {
	if s.closed {
		return
	}
	s.closed = true
	if s.bindKey != "" {
		s.e.bindings.Delete(s.bindKey)
		s.bindKey = ""
	}
	if p := s.peer; p != nil {
		p.eof = true
		p.peerGone = true
		p.cond.Broadcast()
	}
	for _, child := range s.pending {
		child.closed = true
		if c := child.peer; c != nil {
			c.reset = true
			c.pendingErr = engine.ECONNRESET
			c.cond.Broadcast()
		}
	}
	s.pending = nil
	s.rbuf = nil
	s.dq = nil
	s.dqBytes = 0
	s.cond.Broadcast()
}

// parseHost converts the textual host of a Bind or Connect call into an
// unmapped address usable by a socket of the given family.
func parseHost(s *vsocket, host string) (netip.Addr, int) {
	if host == "" {
		return unspecified(s.family), 0
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, fail(engine.EINVAL)
	}
	ip = ip.WithZone("")
	switch s.family {
	case engine.AF_INET:
		if !ip.Is4() {
			return netip.Addr{}, fail(engine.EAFNOSUPPORT)
		}
	case engine.AF_INET6:
		if ip.Is4() {
			return netip.Addr{}, fail(engine.EAFNOSUPPORT)
		}
		if ip.Is4In6() {
			if s.v6only {
				return netip.Addr{}, fail(engine.ENETUNREACH)
			}
			ip = ip.Unmap()
		}
	}
	return ip, 0
}

func unspecified(family int) netip.Addr {
	if family == engine.AF_INET6 {
		return netip.IPv6Unspecified()
	}
	return netip.IPv4Unspecified()
}

func loopback(v4 bool) netip.Addr {
	if v4 {
		return netip.AddrFrom4([4]byte{127, 0, 0, 1})
	}
	return netip.IPv6Loopback()
}

// route resolves the node owning dst and the source address e uses to reach
// it. Callers hold f.mu.
func (f *Fabric) route(e *Engine, dst netip.Addr) (*Engine, netip.Addr, int) {
	if dst.IsLoopback() {
		return e, dst, 0
	}
	if dst.IsUnspecified() {
		return e, loopback(dst.Is4()), 0
	}
	m, ok := f.addrs[dst]
	if !ok {
		return nil, netip.Addr{}, fail(engine.EHOSTUNREACH)
	}
	if m.e == e {
		return e, dst, 0
	}
	n := f.networks[m.netID]
	self, ok := n.members[e]
	if !ok {
		return nil, netip.Addr{}, fail(engine.ENETUNREACH)
	}
	if !m.e.online.Load() {
		return nil, netip.Addr{}, fail(engine.EHOSTUNREACH)
	}
	return m.e, self.addr(dst.Is4()), 0
}

// Bind binds fd to host:port.
func (e *Engine) Bind(fd int, host string, port uint16) int {
	f := e.fabric
	f.mu.Lock()
	defer f.mu.Unlock()

	s, rc := e.lookup(fd)
	if rc < 0 {
		return rc
	}
	if s.bound {
		return fail(engine.EINVAL)
	}
	ip, rc := parseHost(s, host)
	if rc < 0 {
		return rc
	}
	if !ip.IsUnspecified() && !ip.IsLoopback() {
		if m, ok := f.addrs[ip]; !ok || m.e != e {
			return fail(engine.EADDRNOTAVAIL)
		}
	}
	if rc := e.bindLocked(s, ip, port); rc < 0 {
		e.log.WithFields(logrus.Fields{
			"function": "Bind",
			"handle":   fd,
			"addr":     netip.AddrPortFrom(ip, port).String(),
			"error":    engine.Errno(-rc).Error(),
		}).Debug("Bind refused")
		return rc
	}
	return 0
}

// Listen marks fd passive, binding it to an ephemeral port if needed.
func (e *Engine) Listen(fd, backlog int) int {
	f := e.fabric
	f.mu.Lock()
	defer f.mu.Unlock()

	s, rc := e.lookup(fd)
	if rc < 0 {
		return rc
	}
	if s.typ != engine.SOCK_STREAM {
		return fail(engine.EOPNOTSUPP)
	}
	if s.connected {
		return fail(engine.EINVAL)
	}
	if !s.bound {
		if rc := e.bindLocked(s, unspecified(s.family), 0); rc < 0 {
			return rc
		}
	}
	s.listening = true
	s.backlog = limits.ClampBacklog(backlog)
	return 0
}

// Connect connects fd. Stream connections complete immediately against the
// listener's backlog, so timeoutMs never elapses; datagram sockets only
// record the default destination.
func (e *Engine) Connect(fd int, host string, port uint16, timeoutMs int) int {
	f := e.fabric
	f.mu.Lock()
	defer f.mu.Unlock()

	s, rc := e.lookup(fd)
	if rc < 0 {
		return rc
	}
	ip, rc := parseHost(s, host)
	if rc < 0 {
		return rc
	}
	if s.typ == engine.SOCK_DGRAM {
		return f.connectDatagram(s, netip.AddrPortFrom(ip, port))
	}
	return f.connectStream(s, netip.AddrPortFrom(ip, port))
}

// GetSockName writes the local address of fd. Unbound sockets report the
// unspecified address with port zero.
func (e *Engine) GetSockName(fd int, addr []byte, addrlen *int) int {
	f := e.fabric
	f.mu.Lock()
	defer f.mu.Unlock()

	s, rc := e.lookup(fd)
	if rc < 0 {
		return rc
	}
	local := s.local
	if !s.bound {
		local = netip.AddrPortFrom(unspecified(s.family), 0)
	}
	return writeAddr(local, s.family, addr, addrlen)
}

// GetPeerName writes the connected peer's address.
func (e *Engine) GetPeerName(fd int, addr []byte, addrlen *int) int {
	f := e.fabric
	f.mu.Lock()
	defer f.mu.Unlock()

	s, rc := e.lookup(fd)
	if rc < 0 {
		return rc
	}
	if !s.hasRemote {
		return fail(engine.ENOTCONN)
	}
	return writeAddr(s.remote, s.family, addr, addrlen)
}

// SetBlocking switches fd between blocking and non-blocking mode.
func (e *Engine) SetBlocking(fd int, blocking bool) int {
	f := e.fabric
	f.mu.Lock()
	defer f.mu.Unlock()

	s, rc := e.lookup(fd)
	if rc < 0 {
		return rc
	}
	s.nonblocking = !blocking
	return 0
}

// GetLastSocketError returns and clears the pending error of fd.
func (e *Engine) GetLastSocketError(fd int) int {
	f := e.fabric
	f.mu.Lock()
	defer f.mu.Unlock()

	s, rc := e.lookup(fd)
	if rc < 0 {
		return rc
	}
	errno := s.pendingErr
	s.pendingErr = 0
	return int(errno)
}

// Shutdown disables reads, writes or both on a connected socket. Shutting
// down a direction that is already closed reports ENOTCONN.
func (e *Engine) Shutdown(fd, how int) int {
	f := e.fabric
	f.mu.Lock()
	defer f.mu.Unlock()

	s, rc := e.lookup(fd)
	if rc < 0 {
		return rc
	}
	if how != engine.SHUT_RD && how != engine.SHUT_WR && how != engine.SHUT_RDWR {
		return fail(engine.EINVAL)
	}
	if !s.connected && !(s.typ == engine.SOCK_DGRAM && s.hasRemote) {
		return fail(engine.ENOTCONN)
	}
	rd := how == engine.SHUT_RD || how == engine.SHUT_RDWR
	wr := how == engine.SHUT_WR || how == engine.SHUT_RDWR
	if (!rd || s.rdShut) && (!wr || s.wrShut) {
		return fail(engine.ENOTCONN)
	}
	if rd {
		s.rdShut = true
		s.rbuf = nil
		s.dq = nil
		s.dqBytes = 0
	}
	if wr {
		s.wrShut = true
		if p := s.peer; p != nil {
			p.eof = true
			p.cond.Broadcast()
		}
	}
	s.cond.Broadcast()
	return 0
}

// writeAddr encodes ap for a socket of the given family into addr. A nil
// addr or addrlen skips the write.
func writeAddr(ap netip.AddrPort, family int, addr []byte, addrlen *int) int {
	if addr == nil || addrlen == nil {
		return 0
	}
	raw, err := sockaddr.Encode(sockaddr.ForFamily(sockaddr.FromAddrPort(ap), family))
	if err != nil {
		return fail(engine.EAFNOSUPPORT)
	}
	n := copy(addr[:min(len(addr), max(*addrlen, 0))], raw.Bytes())
	if n < raw.Len {
		return fail(engine.EINVAL)
	}
	*addrlen = raw.Len
	return 0
}

// blocked reports whether a call must fail with EAGAIN instead of waiting.
func (s *vsocket) blocked(flags int) bool {
	return s.nonblocking || flags&engine.MSG_DONTWAIT != 0
}
