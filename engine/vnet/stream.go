package vnet

import (
	"net/netip"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/ztsock/engine"
)

// connectStream pairs s with a new socket queued on the listener for dst.
// Callers hold f.mu.
func (f *Fabric) connectStream(s *vsocket, dst netip.AddrPort) int {
	e := s.e
	switch {
	case s.connected:
		return fail(engine.EISCONN)
	case s.listening:
		return fail(engine.EINVAL)
	case dst.Port() == 0:
		return fail(engine.ECONNREFUSED)
	}
	target, src, rc := f.route(e, dst.Addr())
	if rc < 0 {
		return rc
	}
	if dst.Addr().IsUnspecified() {
		dst = netip.AddrPortFrom(src, dst.Port())
	}
	if !s.bound {
		if rc := e.bindLocked(s, src, 0); rc < 0 {
			return rc
		}
	}

	l := target.match(engine.SOCK_STREAM, dst, func(v *vsocket) bool { return v.listening })
	if l == nil || len(l.pending) >= l.backlog {
		target.stats.tcpDrop.Add(1)
		return fail(engine.ECONNREFUSED)
	}
	if target != e {
		if _, err := f.linkFor(e, target); err != nil {
			e.log.WithFields(logrus.Fields{
				"function": "connectStream",
				"addr":     dst.String(),
				"error":    err.Error(),
			}).Warn("Link setup failed")
			return fail(engine.EHOSTUNREACH)
		}
	}

	from := s.local
	if from.Addr().IsUnspecified() {
		from = netip.AddrPortFrom(src, from.Port())
	}

	child := f.newSocket(target, l.family, engine.SOCK_STREAM)
	child.bound = true
	child.connected = true
	child.local = dst
	child.remote = from
	child.hasRemote = true
	child.rcvBuf = l.rcvBuf
	child.noDelay = l.noDelay
	child.keepAlive = l.keepAlive
	child.ttl = l.ttl
	child.peer = s

	s.connected = true
	s.remote = dst
	s.hasRemote = true
	s.peer = child

	l.pending = append(l.pending, child)
	l.cond.Broadcast()
	return 0
}

// Accept returns a handle for the next queued connection.
func (e *Engine) Accept(fd int, addr []byte, addrlen *int) int {
	f := e.fabric
	f.mu.Lock()
	defer f.mu.Unlock()

	s, rc := e.lookup(fd)
	if rc < 0 {
		return rc
	}
	if !s.listening {
		return fail(engine.EINVAL)
	}
	start := time.Now()
	for {
		if s.closed {
			return fail(engine.EBADF)
		}
		if len(s.pending) > 0 {
			child := s.pending[0]
			s.pending = s.pending[1:]
			nfd := e.register(child)
			if rc := writeAddr(child.remote, child.family, addr, addrlen); rc < 0 {
				return rc
			}
			return nfd
		}
		if s.nonblocking {
			return fail(engine.EAGAIN)
		}
		if !f.wait(s.cond, s.recvDeadline(start)) {
			return fail(engine.EAGAIN)
		}
	}
}

// recvStream reads buffered stream data. Callers hold f.mu.
func (f *Fabric) recvStream(s *vsocket, b []byte, flags int) int {
	if !s.connected {
		return fail(engine.ENOTCONN)
	}
	if len(b) == 0 {
		return 0
	}
	start := time.Now()
	for {
		switch {
		case s.closed:
			return fail(engine.EBADF)
		case len(s.rbuf) > 0:
			n := copy(b, s.rbuf)
			if flags&engine.MSG_PEEK == 0 {
				s.rbuf = s.rbuf[n:]
				if len(s.rbuf) == 0 {
					s.rbuf = nil
				}
				s.cond.Broadcast()
			}
			return n
		case s.reset:
			return fail(engine.ECONNRESET)
		case s.rdShut || s.eof:
			return 0
		case s.blocked(flags):
			return fail(engine.EAGAIN)
		}
		if !f.wait(s.cond, s.recvDeadline(start)) {
			return fail(engine.EAGAIN)
		}
	}
}

// sendStream moves as much of b as the peer's receive buffer holds,
// blocking while it is full. Callers hold f.mu.
func (f *Fabric) sendStream(s *vsocket, b []byte, flags int) int {
	if !s.connected {
		return fail(engine.ENOTCONN)
	}
	start := time.Now()
	for {
		p := s.peer
		switch {
		case s.closed:
			return fail(engine.EBADF)
		case s.wrShut:
			return fail(engine.EPIPE)
		case s.reset:
			return fail(engine.ECONNRESET)
		case p == nil || s.peerGone:
			return fail(engine.EPIPE)
		case len(b) == 0:
			return 0
		case p.rdShut:
			s.e.stats.tcpDrop.Add(1)
			return len(b)
		}

		if space := p.rcvBuf - len(p.rbuf); space > 0 {
			n := min(space, len(b))
			out, frames, err := f.carry(s.e, p.e, b[:n])
			if err != nil {
				s.e.stats.tcpDrop.Add(1)
				return fail(engine.EHOSTUNREACH)
			}
			p.rbuf = append(p.rbuf, out...)
			s.e.stats.tcpTx.Add(uint64(frames))
			p.e.stats.tcpRx.Add(uint64(frames))
			p.cond.Broadcast()
			return n
		}
		if s.blocked(flags) {
			return fail(engine.EAGAIN)
		}
		if !f.wait(p.cond, s.sendDeadline(start)) {
			return fail(engine.EAGAIN)
		}
	}
}
