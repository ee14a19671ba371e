package vnet

import (
	"encoding/binary"
	"time"

	"github.com/opd-ai/ztsock/engine"
	"github.com/opd-ai/ztsock/limits"
)

const (
	sizeofInt     = 4
	sizeofLinger  = 8
	sizeofTimeval = 16
)

func readInt(val []byte) (int32, int) {
	if len(val) != sizeofInt {
		return 0, fail(engine.EINVAL)
	}
	return int32(binary.NativeEndian.Uint32(val)), 0
}

func readTimeval(val []byte) (time.Duration, int) {
	if len(val) != sizeofTimeval {
		return 0, fail(engine.EINVAL)
	}
	sec := int64(binary.NativeEndian.Uint64(val[0:8]))
	usec := int64(binary.NativeEndian.Uint64(val[8:16]))
	if sec < 0 || usec < 0 || usec >= 1e6 {
		return 0, fail(engine.EINVAL)
	}
	return time.Duration(sec)*time.Second + time.Duration(usec)*time.Microsecond, 0
}

// SetSockOpt sets an option. Integer options take exactly four bytes,
// SO_LINGER eight and the timeouts sixteen.
func (e *Engine) SetSockOpt(fd, level, name int, val []byte) int {
	f := e.fabric
	f.mu.Lock()
	defer f.mu.Unlock()

	s, rc := e.lookup(fd)
	if rc < 0 {
		return rc
	}

	switch level {
	case engine.SOL_SOCKET:
		switch name {
		case engine.SO_REUSEADDR, engine.SO_KEEPALIVE, engine.SO_BROADCAST:
			v, rc := readInt(val)
			if rc < 0 {
				return rc
			}
			on := v != 0
			switch name {
			case engine.SO_REUSEADDR:
				s.reuseAddr = on
			case engine.SO_KEEPALIVE:
				s.keepAlive = on
			default:
				s.broadcast = on
			}
			return 0
		case engine.SO_LINGER:
			if len(val) != sizeofLinger {
				return fail(engine.EINVAL)
			}
			s.lingerOn = int32(binary.NativeEndian.Uint32(val[0:4]))
			s.lingerSec = int32(binary.NativeEndian.Uint32(val[4:8]))
			return 0
		case engine.SO_RCVBUF:
			v, rc := readInt(val)
			if rc < 0 {
				return rc
			}
			s.rcvBuf = limits.ClampReceiveBuffer(int(v))
			s.cond.Broadcast()
			return 0
		case engine.SO_RCVTIMEO, engine.SO_SNDTIMEO:
			d, rc := readTimeval(val)
			if rc < 0 {
				return rc
			}
			if name == engine.SO_RCVTIMEO {
				s.rcvTimeo, s.rcvSetAt = d, time.Now()
			} else {
				s.sndTimeo, s.sndSetAt = d, time.Now()
			}
			// Blocked calls pick up the new timeout.
			s.cond.Broadcast()
			if s.peer != nil {
				s.peer.cond.Broadcast()
			}
			return 0
		}
	case engine.IPPROTO_IP:
		if name == engine.IP_TTL {
			v, rc := readInt(val)
			if rc < 0 {
				return rc
			}
			if v < 1 || v > 255 {
				return fail(engine.EINVAL)
			}
			s.ttl = int(v)
			return 0
		}
	case engine.IPPROTO_TCP:
		if name == engine.TCP_NODELAY && s.typ == engine.SOCK_STREAM {
			v, rc := readInt(val)
			if rc < 0 {
				return rc
			}
			s.noDelay = v != 0
			return 0
		}
	case engine.IPPROTO_IPV6:
		if name == engine.IPV6_V6ONLY && s.family == engine.AF_INET6 {
			v, rc := readInt(val)
			if rc < 0 {
				return rc
			}
			if s.bound {
				return fail(engine.EINVAL)
			}
			s.v6only = v != 0
			return 0
		}
	}
	return fail(engine.ENOPROTOOPT)
}

// GetSockOpt reads an option into val. *vallen must cover the option size
// and is set to the number of bytes written. Reading SO_ERROR clears it.
func (e *Engine) GetSockOpt(fd, level, name int, val []byte, vallen *int) int {
	f := e.fabric
	f.mu.Lock()
	defer f.mu.Unlock()

	s, rc := e.lookup(fd)
	if rc < 0 {
		return rc
	}

	var out []byte
	putInt := func(v int32) {
		out = binary.NativeEndian.AppendUint32(nil, uint32(v))
	}
	putBool := func(on bool) {
		if on {
			putInt(1)
		} else {
			putInt(0)
		}
	}
	putTimeval := func(d time.Duration) {
		out = binary.NativeEndian.AppendUint64(nil, uint64(d/time.Second))
		out = binary.NativeEndian.AppendUint64(out, uint64((d%time.Second)/time.Microsecond))
	}

	switch level {
	case engine.SOL_SOCKET:
		switch name {
		case engine.SO_REUSEADDR:
			putBool(s.reuseAddr)
		case engine.SO_KEEPALIVE:
			putBool(s.keepAlive)
		case engine.SO_BROADCAST:
			putBool(s.broadcast)
		case engine.SO_LINGER:
			out = binary.NativeEndian.AppendUint32(nil, uint32(s.lingerOn))
			out = binary.NativeEndian.AppendUint32(out, uint32(s.lingerSec))
		case engine.SO_RCVBUF:
			putInt(int32(s.rcvBuf))
		case engine.SO_RCVTIMEO:
			putTimeval(s.rcvTimeo)
		case engine.SO_SNDTIMEO:
			putTimeval(s.sndTimeo)
		case engine.SO_ERROR:
			putInt(int32(s.pendingErr))
			s.pendingErr = 0
		case engine.SO_TYPE:
			putInt(int32(s.typ))
		}
	case engine.IPPROTO_IP:
		if name == engine.IP_TTL {
			putInt(int32(s.ttl))
		}
	case engine.IPPROTO_TCP:
		if name == engine.TCP_NODELAY && s.typ == engine.SOCK_STREAM {
			putBool(s.noDelay)
		}
	case engine.IPPROTO_IPV6:
		if name == engine.IPV6_V6ONLY && s.family == engine.AF_INET6 {
			putBool(s.v6only)
		}
	}

	if out == nil {
		return fail(engine.ENOPROTOOPT)
	}
	if vallen == nil || *vallen < len(out) || len(val) < len(out) {
		return fail(engine.EINVAL)
	}
	*vallen = copy(val, out)
	return 0
}
