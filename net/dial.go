package net

import (
	"context"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/ztsock"
	"github.com/opd-ai/ztsock/engine"
	"github.com/opd-ai/ztsock/sockaddr"
	"github.com/opd-ai/ztsock/socket"
)

// Connect opens a stream connection to addr.
func Connect(node *ztsock.Node, addr sockaddr.Address) (*StreamSocket, error) {
	return ConnectTimeout(node, addr, 0)
}

// ConnectTimeout opens a stream connection to addr. A zero timeout uses
// the engine default.
func ConnectTimeout(node *ztsock.Node, addr sockaddr.Address, timeout time.Duration) (*StreamSocket, error) {
	if err := node.RequireTransport("connect"); err != nil {
		return nil, err
	}
	sock, err := socket.ForAddress(node.Engine(), addr, engine.SOCK_STREAM)
	if err != nil {
		return nil, newOpError("connect", addr.String(), err)
	}
	if err := sock.Connect(addr, timeout); err != nil {
		sock.Close()
		if uerr := node.Usable("connect"); uerr != nil {
			return nil, uerr
		}
		return nil, newOpError("connect", addr.String(), err)
	}

	s, err := newStreamSocket(node, sock)
	if err != nil {
		return nil, err
	}
	node.Logger().WithFields(logrus.Fields{
		"function": "Connect",
		"addr":     addr.String(),
		"handle":   sock.Handle(),
	}).Debug("Connected")
	return s, nil
}

// Dial resolves address and connects to the candidates in order. The
// first connection that succeeds is returned; if all fail, the last error.
func Dial(ctx context.Context, node *ztsock.Node, address string) (*StreamSocket, error) {
	return (&Dialer{Node: node}).dialStream(ctx, address)
}

// Dialer connects to addresses on a node's networks. Its DialContext
// method fits net/http.Transport and similar hooks.
type Dialer struct {
	Node *ztsock.Node
	// Timeout bounds each connection attempt. Zero means the engine
	// default, shortened by any context deadline.
	Timeout time.Duration
	// Resolver defaults to NewResolver(Node, nil).
	Resolver *Resolver
}

// DialContext connects to address on network "tcp", "tcp4", "tcp6", "udp",
// "udp4" or "udp6". Datagram sockets are connected to the first candidate.
func (d *Dialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	switch network {
	case "tcp", "tcp4", "tcp6":
		s, err := d.dialStream(ctx, address)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "udp", "udp4", "udp6":
		s, err := d.dialDatagram(ctx, address)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, newOpError("dial", address, ErrUnsupportedNetwork)
	}
}

func (d *Dialer) resolver() *Resolver {
	if d.Resolver != nil {
		return d.Resolver
	}
	return NewResolver(d.Node, nil)
}

func (d *Dialer) timeout(ctx context.Context) time.Duration {
	t := d.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		rem := time.Until(deadline)
		if rem <= 0 {
			rem = time.Millisecond
		}
		if t == 0 || rem < t {
			t = rem
		}
	}
	return t
}

func (d *Dialer) dialStream(ctx context.Context, address string) (*StreamSocket, error) {
	addrs, err := d.resolver().Resolve(ctx, address)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, a := range addrs {
		if err := ctx.Err(); err != nil {
			return nil, newOpError("dial", address, err)
		}
		s, err := ConnectTimeout(d.Node, a, d.timeout(ctx))
		if err == nil {
			return s, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (d *Dialer) dialDatagram(ctx context.Context, address string) (*DatagramSocket, error) {
	addrs, err := d.resolver().Resolve(ctx, address)
	if err != nil {
		return nil, err
	}
	if err := d.Node.RequireTransport("dial"); err != nil {
		return nil, err
	}

	var lastErr error
	for _, a := range addrs {
		sock, err := socket.ForAddress(d.Node.Engine(), a, engine.SOCK_DGRAM)
		if err != nil {
			lastErr = newOpError("dial", a.String(), err)
			continue
		}
		// Connecting an unbound socket binds it to the route's source.
		if err := sock.Connect(a, 0); err != nil {
			sock.Close()
			lastErr = newOpError("dial", a.String(), err)
			continue
		}
		e, err := register(d.Node, sock, "udp")
		if err != nil {
			return nil, err
		}
		return &DatagramSocket{endpoint: e}, nil
	}
	return nil, lastErr
}
