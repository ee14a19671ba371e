package vnet

import (
	"net/netip"
	"slices"
	"time"

	"github.com/opd-ai/ztsock/engine"
	"github.com/opd-ai/ztsock/limits"
	"github.com/opd-ai/ztsock/sockaddr"
)

// connectDatagram sets the default destination of s. Callers hold f.mu.
func (f *Fabric) connectDatagram(s *vsocket, dst netip.AddrPort) int {
	if dst.Port() == 0 {
		return fail(engine.EINVAL)
	}
	_, src, rc := f.route(s.e, dst.Addr())
	if rc < 0 {
		return rc
	}
	if dst.Addr().IsUnspecified() {
		dst = netip.AddrPortFrom(src, dst.Port())
	}
	if !s.bound {
		if rc := s.e.bindLocked(s, src, 0); rc < 0 {
			return rc
		}
	}
	s.remote = dst
	s.hasRemote = true
	return 0
}

// Recv reads from fd. Datagram sockets return one datagram per call.
func (e *Engine) Recv(fd int, b []byte, flags int) int {
	return e.RecvFrom(fd, b, flags, nil, nil)
}

// RecvFrom reads from fd and writes the source address into addr.
func (e *Engine) RecvFrom(fd int, b []byte, flags int, addr []byte, addrlen *int) int {
	f := e.fabric
	f.mu.Lock()
	defer f.mu.Unlock()

	s, rc := e.lookup(fd)
	if rc < 0 {
		return rc
	}
	if s.typ == engine.SOCK_STREAM {
		n := f.recvStream(s, b, flags)
		if n >= 0 {
			if rc := writeAddr(s.remote, s.family, addr, addrlen); rc < 0 {
				return rc
			}
		}
		return n
	}
	return f.recvDatagram(s, b, flags, addr, addrlen)
}

// recvDatagram pops one datagram. A datagram larger than b is truncated and
// the rest discarded. Callers hold f.mu.
func (f *Fabric) recvDatagram(s *vsocket, b []byte, flags int, addr []byte, addrlen *int) int {
	start := time.Now()
	for {
		switch {
		case s.closed:
			return fail(engine.EBADF)
		case len(s.dq) > 0:
			d := s.dq[0]
			if flags&engine.MSG_PEEK == 0 {
				s.dq = s.dq[1:]
				s.dqBytes -= len(d.data)
			}
			if rc := writeAddr(d.from, s.family, addr, addrlen); rc < 0 {
				return rc
			}
			return copy(b, d.data)
		case s.rdShut:
			if rc := writeAddr(netip.AddrPortFrom(unspecified(s.family), 0), s.family, addr, addrlen); rc < 0 {
				return rc
			}
			return 0
		case s.blocked(flags):
			return fail(engine.EAGAIN)
		}
		if !f.wait(s.cond, s.recvDeadline(start)) {
			return fail(engine.EAGAIN)
		}
	}
}

// Send writes to a connected socket.
func (e *Engine) Send(fd int, b []byte, flags int) int {
	return e.SendTo(fd, b, flags, nil)
}

// SendTo sends b to addr, or to the connected peer when addr is empty.
// Datagrams without a receiver are dropped silently.
func (e *Engine) SendTo(fd int, b []byte, flags int, addr []byte) int {
	f := e.fabric
	f.mu.Lock()
	defer f.mu.Unlock()

	s, rc := e.lookup(fd)
	if rc < 0 {
		return rc
	}
	if s.typ == engine.SOCK_STREAM {
		return f.sendStream(s, b, flags)
	}

	dst := s.remote
	if len(addr) == 0 {
		if !s.hasRemote {
			return fail(engine.EDESTADDRREQ)
		}
	} else {
		var rc int
		if dst, rc = decodeDestination(s, addr); rc < 0 {
			return rc
		}
	}
	if err := limits.ValidateDatagram(b); err != nil {
		return fail(engine.EMSGSIZE)
	}
	switch {
	case s.wrShut:
		return fail(engine.EPIPE)
	case dst.Port() == 0:
		return fail(engine.EINVAL)
	}

	if f.isBroadcast(dst.Addr()) {
		return f.sendBroadcast(s, b, dst)
	}
	target, src, rc := f.route(e, dst.Addr())
	if rc < 0 {
		return rc
	}
	if dst.Addr().IsUnspecified() {
		dst = netip.AddrPortFrom(src, dst.Port())
	}
	if !s.bound {
		if rc := e.bindLocked(s, unspecified(s.family), 0); rc < 0 {
			return rc
		}
	}
	if local := s.local.Addr(); !local.IsUnspecified() && local.Is4() == src.Is4() {
		src = local
	}
	from := netip.AddrPortFrom(src, s.local.Port())

	e.stats.udpTx.Add(1)
	f.deliver(e, target.match(engine.SOCK_DGRAM, dst, nil), from, b)
	return len(b)
}

func decodeDestination(s *vsocket, addr []byte) (netip.AddrPort, int) {
	a, err := sockaddr.DecodeBytes(addr)
	if err != nil {
		return netip.AddrPort{}, fail(engine.EAFNOSUPPORT)
	}
	ip := a.IP
	switch s.family {
	case engine.AF_INET:
		if !ip.Is4() {
			return netip.AddrPort{}, fail(engine.EAFNOSUPPORT)
		}
	case engine.AF_INET6:
		if ip.Is4() {
			return netip.AddrPort{}, fail(engine.EAFNOSUPPORT)
		}
		if ip.Is4In6() {
			if s.v6only {
				return netip.AddrPort{}, fail(engine.ENETUNREACH)
			}
			ip = ip.Unmap()
		}
	}
	return netip.AddrPortFrom(ip, a.Port), 0
}

// sendBroadcast delivers b to every socket listening on dst's port in each
// network dst addresses. Callers hold f.mu.
func (f *Fabric) sendBroadcast(s *vsocket, b []byte, dst netip.AddrPort) int {
	e := s.e
	if !s.broadcast {
		return fail(engine.EACCES)
	}
	if !s.bound {
		if rc := e.bindLocked(s, unspecified(s.family), 0); rc < 0 {
			return rc
		}
	}
	e.stats.udpTx.Add(1)
	for m, src := range f.broadcastTargets(e, dst.Addr()) {
		from := netip.AddrPortFrom(src, s.local.Port())
		for _, r := range m.e.matchAll(engine.SOCK_DGRAM, netip.AddrPortFrom(m.ip4, dst.Port())) {
			f.deliver(e, r, from, b)
		}
	}
	return len(b)
}

// deliver queues one datagram on r, dropping it when r is missing, filters
// the source or has no room. Callers hold f.mu.
func (f *Fabric) deliver(src *Engine, r *vsocket, from netip.AddrPort, b []byte) {
	if r == nil {
		src.stats.udpDrop.Add(1)
		return
	}
	if (r.hasRemote && r.remote != from) || r.rdShut || r.dqBytes+len(b) > r.rcvBuf {
		r.e.stats.udpDrop.Add(1)
		return
	}
	data, err := f.transfer(src, r.e, b)
	if err != nil {
		r.e.stats.udpDrop.Add(1)
		return
	}
	if src == r.e {
		data = slices.Clone(data)
	}
	r.dq = append(r.dq, datagram{from: from, data: data})
	r.dqBytes += len(data)
	r.e.stats.udpRx.Add(1)
	r.cond.Broadcast()
}
