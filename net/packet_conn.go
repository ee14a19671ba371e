package net

import (
	"context"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/ztsock"
	"github.com/opd-ai/ztsock/engine"
	"github.com/opd-ai/ztsock/sockaddr"
	"github.com/opd-ai/ztsock/socket"
	"github.com/opd-ai/ztsock/sockopt"
)

// DatagramSocket sends and receives datagrams. It implements
// net.PacketConn, and net.Conn once connected. Datagram boundaries are
// kept exactly; a datagram longer than the read buffer is truncated.
type DatagramSocket struct {
	*endpoint
}

// ListenDatagram binds a datagram socket to addr. Port zero picks an
// ephemeral port.
func ListenDatagram(node *ztsock.Node, addr sockaddr.Address) (*DatagramSocket, error) {
	if err := node.RequireTransport("listen"); err != nil {
		return nil, err
	}
	sock, err := socket.ForAddress(node.Engine(), addr, engine.SOCK_DGRAM)
	if err != nil {
		return nil, &BindError{Addr: addr, Step: "socket", Err: err}
	}
	if err := sock.Bind(addr); err != nil {
		sock.Close()
		return nil, &BindError{Addr: addr, Step: "bind", Err: err}
	}

	e, err := register(node, sock, "udp")
	if err != nil {
		return nil, err
	}
	node.Logger().WithFields(logrus.Fields{
		"function": "ListenDatagram",
		"addr":     addr.String(),
		"handle":   sock.Handle(),
	}).Debug("Datagram socket bound")
	return &DatagramSocket{endpoint: e}, nil
}

// ListenPacket resolves address and binds to the first candidate that
// works. If every candidate fails the last error is returned.
func ListenPacket(ctx context.Context, node *ztsock.Node, address string) (*DatagramSocket, error) {
	addrs, err := NewResolver(node, nil).Resolve(ctx, address)
	if err != nil {
		return nil, err
	}
	var lastErr error
	for _, a := range addrs {
		s, err := ListenDatagram(node, a)
		if err == nil {
			return s, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// Connect sets the default peer. Afterwards Send and Recv work and only
// datagrams from addr are received.
func (s *DatagramSocket) Connect(addr sockaddr.Address) error {
	return s.fail("connect", s.sock.Connect(addr, 0))
}

// Send sends b to the connected peer.
func (s *DatagramSocket) Send(b []byte) (int, error) {
	if err := s.arm("send", engine.SO_SNDTIMEO); err != nil {
		return 0, s.fail("send", err)
	}
	n, err := s.sock.Send(b, 0)
	return n, s.fail("send", err)
}

// Recv reads one datagram from the connected peer.
func (s *DatagramSocket) Recv(b []byte) (int, error) {
	return s.recv("recv", b, 0)
}

// Peek reads one datagram from the connected peer without consuming it.
func (s *DatagramSocket) Peek(b []byte) (int, error) {
	return s.recv("peek", b, engine.MSG_PEEK)
}

func (s *DatagramSocket) recv(op string, b []byte, flags int) (int, error) {
	if err := s.arm(op, engine.SO_RCVTIMEO); err != nil {
		return 0, s.fail(op, err)
	}
	n, err := s.sock.Recv(b, flags)
	return n, s.fail(op, err)
}

// SendTo sends b as one datagram to addr.
func (s *DatagramSocket) SendTo(b []byte, addr sockaddr.Address) (int, error) {
	if err := s.arm("sendto", engine.SO_SNDTIMEO); err != nil {
		return 0, s.fail("sendto", err)
	}
	n, err := s.sock.SendTo(b, addr)
	return n, s.fail("sendto", err)
}

// RecvFrom reads one datagram and its source.
func (s *DatagramSocket) RecvFrom(b []byte) (int, sockaddr.Address, error) {
	return s.recvFrom("recvfrom", b, 0)
}

// PeekFrom reads one datagram and its source without consuming it.
func (s *DatagramSocket) PeekFrom(b []byte) (int, sockaddr.Address, error) {
	return s.recvFrom("peekfrom", b, engine.MSG_PEEK)
}

func (s *DatagramSocket) recvFrom(op string, b []byte, flags int) (int, sockaddr.Address, error) {
	if err := s.arm(op, engine.SO_RCVTIMEO); err != nil {
		return 0, sockaddr.Address{}, s.fail(op, err)
	}
	n, from, err := s.sock.RecvFrom(b, flags)
	if err != nil {
		return 0, sockaddr.Address{}, s.fail(op, err)
	}
	return n, from, nil
}

// SendBuffers gathers bufs into one datagram for addr.
func (s *DatagramSocket) SendBuffers(bufs net.Buffers, addr sockaddr.Address) (int, error) {
	if err := s.arm("sendmsg", engine.SO_SNDTIMEO); err != nil {
		return 0, s.fail("sendmsg", err)
	}
	n, err := s.sock.SendMsgTo(bufs, addr)
	return n, s.fail("sendmsg", err)
}

// RecvBuffers reads one datagram, filling bufs in order, and returns its
// source. Bytes beyond the combined size of bufs are discarded.
func (s *DatagramSocket) RecvBuffers(bufs net.Buffers) (int, sockaddr.Address, error) {
	if err := s.arm("recvmsg", engine.SO_RCVTIMEO); err != nil {
		return 0, sockaddr.Address{}, s.fail("recvmsg", err)
	}
	n, from, err := s.sock.RecvMsg(bufs, 0)
	if err != nil {
		return 0, sockaddr.Address{}, s.fail("recvmsg", err)
	}
	return n, from, nil
}

// Read implements net.Conn for a connected socket.
func (s *DatagramSocket) Read(b []byte) (int, error) {
	return s.Recv(b)
}

// Write implements net.Conn for a connected socket.
func (s *DatagramSocket) Write(b []byte) (int, error) {
	return s.Send(b)
}

// ReadFrom implements net.PacketConn.
func (s *DatagramSocket) ReadFrom(b []byte) (int, net.Addr, error) {
	n, from, err := s.RecvFrom(b)
	if err != nil {
		return 0, nil, err
	}
	return n, newAddr("udp", from), nil
}

// WriteTo implements net.PacketConn.
func (s *DatagramSocket) WriteTo(b []byte, addr net.Addr) (int, error) {
	to, err := toSockaddr(addr)
	if err != nil {
		return 0, newOpError("write", fmt.Sprint(addr), err)
	}
	return s.SendTo(b, to)
}

// SetBroadcast toggles SO_BROADCAST. Sending to a subnet broadcast
// address is refused while it is off.
func (s *DatagramSocket) SetBroadcast(on bool) error {
	return s.fail("set broadcast", sockopt.SetBool(s.sock, engine.SOL_SOCKET, engine.SO_BROADCAST, on))
}

// Broadcast reports SO_BROADCAST.
func (s *DatagramSocket) Broadcast() (bool, error) {
	on, err := sockopt.Bool(s.sock, engine.SOL_SOCKET, engine.SO_BROADCAST)
	return on, s.fail("broadcast", err)
}

var (
	_ net.PacketConn = (*DatagramSocket)(nil)
	_ net.Conn       = (*DatagramSocket)(nil)
)
