package net

import (
	"context"
	"errors"
	"iter"
	"net"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/ztsock"
	"github.com/opd-ai/ztsock/engine"
	"github.com/opd-ai/ztsock/limits"
	"github.com/opd-ai/ztsock/sockaddr"
	"github.com/opd-ai/ztsock/socket"
	"github.com/opd-ai/ztsock/sockopt"
)

// StreamListener accepts stream connections. It implements net.Listener.
type StreamListener struct {
	*endpoint
	addr   sockaddr.Address
	closed atomic.Bool
}

// ListenConfig holds options applied to a listening socket before it is
// bound.
type ListenConfig struct {
	// Backlog defaults to limits.ListenBacklog.
	Backlog int
	// ReuseAddr sets SO_REUSEADDR.
	ReuseAddr bool
	// OnlyV6 sets IPV6_V6ONLY on IPv6 listeners.
	OnlyV6 bool
}

// Listen binds a stream listener to addr with the default configuration.
// Port zero picks an ephemeral port. On failure nothing stays allocated.
func Listen(node *ztsock.Node, addr sockaddr.Address) (*StreamListener, error) {
	return ListenConfig{}.Listen(node, addr)
}

// Listen binds a stream listener to addr.
func (lc ListenConfig) Listen(node *ztsock.Node, addr sockaddr.Address) (*StreamListener, error) {
	if err := node.RequireTransport("listen"); err != nil {
		return nil, err
	}

	sock, err := socket.ForAddress(node.Engine(), addr, engine.SOCK_STREAM)
	if err != nil {
		return nil, &BindError{Addr: addr, Step: "socket", Err: err}
	}
	if err := lc.apply(sock); err != nil {
		sock.Close()
		return nil, &BindError{Addr: addr, Step: "setsockopt", Err: err}
	}
	if err := sock.Bind(addr); err != nil {
		sock.Close()
		return nil, &BindError{Addr: addr, Step: "bind", Err: err}
	}
	backlog := lc.Backlog
	if backlog <= 0 {
		backlog = limits.ListenBacklog
	}
	if err := sock.Listen(backlog); err != nil {
		sock.Close()
		return nil, &BindError{Addr: addr, Step: "listen", Err: err}
	}

	e, err := register(node, sock, "tcp")
	if err != nil {
		return nil, err
	}
	l := &StreamListener{endpoint: e}
	if l.addr, err = sock.LocalAddr(); err != nil {
		l.addr = addr
	}
	node.Logger().WithFields(logrus.Fields{
		"function": "Listen",
		"addr":     l.addr.String(),
		"handle":   sock.Handle(),
	}).Info("Listening")
	return l, nil
}

func (lc ListenConfig) apply(sock *socket.Socket) error {
	if lc.ReuseAddr {
		if err := sockopt.SetBool(sock, engine.SOL_SOCKET, engine.SO_REUSEADDR, true); err != nil {
			return err
		}
	}
	if lc.OnlyV6 && sock.Family() == engine.AF_INET6 {
		if err := sockopt.SetBool(sock, engine.IPPROTO_IPV6, engine.IPV6_V6ONLY, true); err != nil {
			return err
		}
	}
	return nil
}

// ListenStream resolves address and listens on the first candidate that
// binds. If every candidate fails the last error is returned.
func ListenStream(ctx context.Context, node *ztsock.Node, address string) (*StreamListener, error) {
	addrs, err := NewResolver(node, nil).Resolve(ctx, address)
	if err != nil {
		return nil, err
	}
	var lastErr error
	for _, a := range addrs {
		l, err := Listen(node, a)
		if err == nil {
			return l, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// AcceptStream waits for the next connection and returns it with the
// peer's address.
func (l *StreamListener) AcceptStream() (*StreamSocket, sockaddr.Address, error) {
	if err := l.arm("accept", engine.SO_RCVTIMEO); err != nil {
		return nil, sockaddr.Address{}, l.fail("accept", err)
	}
	child, peer, err := l.sock.Accept()
	if err != nil {
		return nil, sockaddr.Address{}, l.fail("accept", err)
	}
	s, err := newStreamSocket(l.node, child)
	if err != nil {
		return nil, sockaddr.Address{}, err
	}
	return s, peer, nil
}

// Accept implements net.Listener.
func (l *StreamListener) Accept() (net.Conn, error) {
	s, _, err := l.AcceptStream()
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Incoming returns an endless sequence of accepted connections. A failed
// accept yields its error and the sequence carries on with the next
// connection. The sequence ends when the listener is closed or the caller
// stops ranging.
func (l *StreamListener) Incoming() iter.Seq2[*StreamSocket, error] {
	return func(yield func(*StreamSocket, error) bool) {
		for !l.closed.Load() {
			s, _, err := l.AcceptStream()
			if err != nil {
				if l.closed.Load() || errors.Is(err, net.ErrClosed) || errors.Is(err, ztsock.ErrNodeStopped) {
					return
				}
				l.node.Logger().WithFields(logrus.Fields{
					"function": "Incoming",
					"addr":     l.addr.String(),
					"error":    err.Error(),
				}).Debug("Accept failed, continuing")
				if !yield(nil, err) {
					return
				}
				continue
			}
			if !yield(s, nil) {
				return
			}
		}
	}
}

// Addr implements net.Listener.
func (l *StreamListener) Addr() net.Addr {
	return newAddr("tcp", l.addr)
}

// SetOnlyV6 sets IPV6_V6ONLY. The engine refuses the change on a bound
// socket; use ListenConfig.OnlyV6 instead.
func (l *StreamListener) SetOnlyV6(on bool) error {
	return l.fail("set only v6", sockopt.SetBool(l.sock, engine.IPPROTO_IPV6, engine.IPV6_V6ONLY, on))
}

// OnlyV6 reports IPV6_V6ONLY.
func (l *StreamListener) OnlyV6() (bool, error) {
	on, err := sockopt.Bool(l.sock, engine.IPPROTO_IPV6, engine.IPV6_V6ONLY)
	return on, l.fail("only v6", err)
}

// Close implements net.Listener. Pending connections are reset and a
// blocked Accept returns.
func (l *StreamListener) Close() error {
	l.closed.Store(true)
	return l.endpoint.Close()
}

var _ net.Listener = (*StreamListener)(nil)
