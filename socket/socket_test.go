package socket

import (
	"errors"
	"net"
	"net/netip"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/ztsock/engine"
	"github.com/opd-ai/ztsock/engine/vnet"
	"github.com/opd-ai/ztsock/sockaddr"
)

func startEngine(t *testing.T) engine.Engine {
	t.Helper()
	e := vnet.NewFabric().NewEngine()
	require.Equal(t, engine.ErrOK, e.NodeStart())
	t.Cleanup(func() { e.NodeFree() })
	return e
}

func loopback(port uint16) sockaddr.Address {
	return sockaddr.New(netip.MustParseAddr("127.0.0.1"), port)
}

func listen(t *testing.T, eng engine.Engine) (*Socket, sockaddr.Address) {
	t.Helper()
	l, err := New(eng, engine.AF_INET, engine.SOCK_STREAM)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	require.NoError(t, l.Bind(loopback(0)))
	require.NoError(t, l.Listen(16))
	addr, err := l.LocalAddr()
	require.NoError(t, err)
	return l, addr
}

func TestNewRejectsBadFamily(t *testing.T) {
	eng := startEngine(t)

	_, err := New(eng, 42, engine.SOCK_STREAM)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSocketCreate))
	assert.True(t, errors.Is(err, engine.EAFNOSUPPORT))

	_, err = ForAddress(eng, sockaddr.Address{}, engine.SOCK_DGRAM)
	assert.True(t, errors.Is(err, ErrSocketCreate))
}

func TestCloseIsIdempotent(t *testing.T) {
	eng := startEngine(t)
	s, err := New(eng, engine.AF_INET, engine.SOCK_DGRAM)
	require.NoError(t, err)
	require.Positive(t, s.Handle())

	require.NoError(t, s.Close())
	assert.Equal(t, -1, s.Handle())
	assert.NoError(t, s.Close())

	_, err = s.Write([]byte("x"))
	var ioErr *IoError
	require.True(t, errors.As(err, &ioErr))
	assert.Equal(t, engine.EBADF, ioErr.Err)
	assert.True(t, errors.Is(err, net.ErrClosed))
}

func TestInto(t *testing.T) {
	eng := startEngine(t)
	s, err := New(eng, engine.AF_INET, engine.SOCK_DGRAM)
	require.NoError(t, err)
	fd := s.Handle()

	moved := s.Into()
	assert.Equal(t, -1, s.Handle())
	assert.Equal(t, fd, moved.Handle())
	assert.NoError(t, s.Close())
	assert.NoError(t, moved.Close())
}

func TestStreamRoundTrip(t *testing.T) {
	eng := startEngine(t)
	l, addr := listen(t, eng)

	c, err := ForAddress(eng, addr, engine.SOCK_STREAM)
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Connect(addr, time.Second))

	srv, peer, err := l.Accept()
	require.NoError(t, err)
	defer srv.Close()

	local, err := c.LocalAddr()
	require.NoError(t, err)
	assert.Equal(t, local, peer)

	remote, err := c.PeerAddr()
	require.NoError(t, err)
	assert.Equal(t, addr, remote)

	n, err := c.Write([]byte("ping"))
	require.NoError(t, err)
	require.Equal(t, 4, n)

	buf := make([]byte, 8)
	n, err = srv.Peek(buf)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	n, err = srv.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))

	require.NoError(t, c.Shutdown(ShutWrite))
	n, err = srv.Read(buf)
	require.NoError(t, err)
	assert.Zero(t, n)

	err = c.Shutdown(ShutWrite)
	assert.True(t, errors.Is(err, engine.ENOTCONN))
}

func TestReadTimeout(t *testing.T) {
	eng := startEngine(t)
	l, addr := listen(t, eng)

	c, err := ForAddress(eng, addr, engine.SOCK_STREAM)
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Connect(addr, 0))
	srv, _, err := l.Accept()
	require.NoError(t, err)
	defer srv.Close()

	require.NoError(t, srv.SetReadTimeout(20*time.Millisecond))
	d, err := srv.ReadTimeout()
	require.NoError(t, err)
	assert.Equal(t, 20*time.Millisecond, d)

	_, err = srv.Read(make([]byte, 4))
	var ioErr *IoError
	require.True(t, errors.As(err, &ioErr))
	assert.True(t, ioErr.Timeout())
	assert.True(t, errors.Is(err, os.ErrDeadlineExceeded))

	require.NoError(t, srv.SetNonBlocking(true))
	require.NoError(t, srv.SetReadTimeout(-1))
	_, err = srv.Read(make([]byte, 4))
	assert.True(t, errors.Is(err, engine.EAGAIN))

	assert.Error(t, srv.SetWriteTimeout(0))
}

func TestDatagram(t *testing.T) {
	eng := startEngine(t)
	a, err := New(eng, engine.AF_INET, engine.SOCK_DGRAM)
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.Bind(loopback(0)))
	aAddr, err := a.LocalAddr()
	require.NoError(t, err)

	b, err := New(eng, engine.AF_INET6, engine.SOCK_DGRAM)
	require.NoError(t, err)
	defer b.Close()

	n, err := b.SendTo([]byte("hello"), aAddr)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	buf := make([]byte, 16)
	n, from, err := a.PeekFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	n, from2, err := a.RecvFrom(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
	assert.Equal(t, from, from2)
	assert.True(t, from.IP.Is4())

	bAddr, err := b.LocalAddr()
	require.NoError(t, err)
	assert.Equal(t, bAddr.Port, from.Port)
}

func TestSocketOptionHelpers(t *testing.T) {
	eng := startEngine(t)
	s, err := New(eng, engine.AF_INET, engine.SOCK_STREAM)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SetNoDelay(true))
	on, err := s.NoDelay()
	require.NoError(t, err)
	assert.True(t, on)

	require.NoError(t, s.SetTTL(32))
	ttl, err := s.TTL()
	require.NoError(t, err)
	assert.Equal(t, 32, ttl)

	soErr, err := s.TakeError()
	require.NoError(t, err)
	assert.NoError(t, soErr)
}

func TestShutdownString(t *testing.T) {
	assert.Equal(t, "read", ShutRead.String())
	assert.Equal(t, "write", ShutWrite.String())
	assert.Equal(t, "both", ShutBoth.String())
	assert.Equal(t, "invalid", Shutdown(9).String())
}

func TestScatterGather(t *testing.T) {
	eng := startEngine(t)
	l, addr := listen(t, eng)

	c, err := ForAddress(eng, addr, engine.SOCK_STREAM)
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Connect(addr, 0))
	srv, _, err := l.Accept()
	require.NoError(t, err)
	defer srv.Close()

	n, err := c.SendMsg([][]byte{[]byte("scatter"), []byte("/"), []byte("gather")}, 0)
	require.NoError(t, err)
	assert.Equal(t, 14, n)

	head, tail := make([]byte, 8), make([]byte, 8)
	n, from, err := srv.RecvMsg([][]byte{head, tail}, 0)
	require.NoError(t, err)
	assert.Equal(t, 14, n)
	assert.Equal(t, "scatter/", string(head))
	assert.Equal(t, "gather", string(tail[:n-len(head)]))

	local, err := c.LocalAddr()
	require.NoError(t, err)
	assert.Equal(t, local, from)

	d, err := New(eng, engine.AF_INET, engine.SOCK_DGRAM)
	require.NoError(t, err)
	defer d.Close()
	_, err = d.SendMsgTo([][]byte{make([]byte, 40000), make([]byte, 40000)}, addr)
	assert.True(t, errors.Is(err, engine.EMSGSIZE))
}
