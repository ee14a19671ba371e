package vnet

import (
	"fmt"
	"net/netip"

	"github.com/opd-ai/ztsock/engine"
	"github.com/opd-ai/ztsock/limits"
)

// The binding table is a radix tree keyed "proto/port/addr/fd", so every
// socket on one port shares the prefix "proto/port/".

func protoName(typ int) string {
	if typ == engine.SOCK_STREAM {
		return "tcp"
	}
	return "udp"
}

func portPrefix(typ int, port uint16) string {
	return fmt.Sprintf("%s/%05d/", protoName(typ), port)
}

func bindingKey(s *vsocket) string {
	return fmt.Sprintf("%s%s/%d", portPrefix(s.typ, s.local.Port()), s.local.Addr(), s.fd)
}

// covers reports whether a socket bound to local accepts traffic for dst.
func covers(local netip.Addr, v6only bool, dst netip.Addr) bool {
	if local == dst {
		return true
	}
	if !local.IsUnspecified() {
		return false
	}
	if local.Is4() {
		return dst.Is4()
	}
	return dst.Is6() || !v6only
}

// conflicts reports whether binding s to ip would clash with other.
func conflicts(s *vsocket, ip netip.Addr, other *vsocket) bool {
	if s.reuseAddr && other.reuseAddr {
		return false
	}
	oip := other.local.Addr()
	return covers(ip, s.v6only, oip) || covers(oip, other.v6only, ip)
}

// portInUse reports whether any socket of typ holds port. When s is not nil
// only sockets conflicting with s bound to ip count.
func (e *Engine) portInUse(typ int, port uint16, s *vsocket, ip netip.Addr) bool {
	used := false
	e.bindings.WalkPrefix(portPrefix(typ, port), func(_ string, v interface{}) bool {
		other := v.(*vsocket)
		if s == nil || conflicts(s, ip, other) {
			used = true
			return true
		}
		return false
	})
	return used
}

// ephemeralPort returns the next port no socket of typ uses, or zero when
// the range is exhausted. Callers hold f.mu.
func (e *Engine) ephemeralPort(typ int) uint16 {
	span := limits.EphemeralPortLast - limits.EphemeralPortFirst + 1
	for i := 0; i < span; i++ {
		port := e.nextPort
		e.nextPort++
		if e.nextPort > limits.EphemeralPortLast {
			e.nextPort = limits.EphemeralPortFirst
		}
		if !e.portInUse(typ, uint16(port), nil, netip.Addr{}) {
			return uint16(port)
		}
	}
	return 0
}

// bindLocked records s as bound to ip:port, choosing an ephemeral port for
// port zero. Callers hold f.mu.
func (e *Engine) bindLocked(s *vsocket, ip netip.Addr, port uint16) int {
	if port == 0 {
		port = e.ephemeralPort(s.typ)
		if port == 0 {
			return fail(engine.EADDRINUSE)
		}
	} else if e.portInUse(s.typ, port, s, ip) {
		return fail(engine.EADDRINUSE)
	}
	s.local = netip.AddrPortFrom(ip, port)
	s.bound = true
	s.bindKey = bindingKey(s)
	e.bindings.Insert(s.bindKey, s)
	return 0
}

// match finds the socket of typ that receives traffic for dst. A socket
// bound to dst exactly wins over a wildcard. accept filters candidates.
// Callers hold f.mu.
func (e *Engine) match(typ int, dst netip.AddrPort, accept func(*vsocket) bool) *vsocket {
	var exact, wild *vsocket
	e.bindings.WalkPrefix(portPrefix(typ, dst.Port()), func(_ string, v interface{}) bool {
		s := v.(*vsocket)
		if accept != nil && !accept(s) {
			return false
		}
		local := s.local.Addr()
		switch {
		case local == dst.Addr():
			exact = s
			return true
		case wild == nil && covers(local, s.v6only, dst.Addr()):
			wild = s
		}
		return false
	})
	if exact != nil {
		return exact
	}
	return wild
}

// matchAll returns every socket of typ receiving traffic for dst. Callers
// hold f.mu.
func (e *Engine) matchAll(typ int, dst netip.AddrPort) []*vsocket {
	var out []*vsocket
	e.bindings.WalkPrefix(portPrefix(typ, dst.Port()), func(_ string, v interface{}) bool {
		s := v.(*vsocket)
		if covers(s.local.Addr(), s.v6only, dst.Addr()) {
			out = append(out, s)
		}
		return false
	})
	return out
}
