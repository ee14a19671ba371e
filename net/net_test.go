package net

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/ztsock"
	"github.com/opd-ai/ztsock/engine"
	"github.com/opd-ai/ztsock/engine/vnet"
	"github.com/opd-ai/ztsock/sockaddr"
)

const testNet uint64 = 0x8056c2e21c000001

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newTestFabric(t *testing.T) *vnet.Fabric {
	t.Helper()
	f := vnet.NewFabric(
		vnet.WithOnlineDelay(time.Millisecond),
		vnet.WithJoinDelay(time.Millisecond),
		vnet.WithLogger(quietLogger()),
	)
	require.NoError(t, f.CreateNetwork(testNet))
	return f
}

func nodeOptions() *ztsock.Options {
	opts := ztsock.NewOptions()
	opts.PollInterval = time.Millisecond
	opts.MaxPollInterval = 10 * time.Millisecond
	opts.Logger = quietLogger()
	return opts
}

// startNode returns a node on f that is ready on testNet.
func startNode(t *testing.T, f *vnet.Fabric, opts *ztsock.Options) *ztsock.Node {
	t.Helper()
	if opts == nil {
		opts = nodeOptions()
	}
	opts.Networks = []uint64{testNet}
	n, err := ztsock.New(f.NewEngine(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { n.Stop() })
	require.NoError(t, n.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, n.WaitTransportReady(ctx, testNet))
	return n
}

func loopback(port uint16) sockaddr.Address {
	return sockaddr.New(netip.MustParseAddr("127.0.0.1"), port)
}

func listen(t *testing.T, n *ztsock.Node, addr sockaddr.Address) (*StreamListener, sockaddr.Address) {
	t.Helper()
	l, err := Listen(n, addr)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	local, err := l.LocalAddress()
	require.NoError(t, err)
	require.NotZero(t, local.Port)
	return l, local
}

// pair returns both ends of a loopback stream connection.
func pair(t *testing.T, n *ztsock.Node) (client, server *StreamSocket) {
	t.Helper()
	l, addr := listen(t, n, loopback(0))
	client, err := Connect(n, addr)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	server, _, err = l.AcceptStream()
	require.NoError(t, err)
	t.Cleanup(func() { server.Close() })
	return client, server
}

func TestSocketsRequireReadyNetwork(t *testing.T) {
	f := newTestFabric(t)
	n, err := ztsock.New(f.NewEngine(), nodeOptions())
	require.NoError(t, err)
	defer n.Stop()

	_, err = Listen(n, loopback(0))
	assert.ErrorIs(t, err, ztsock.ErrNotStarted)

	require.NoError(t, n.Start())
	_, err = Listen(n, loopback(0))
	assert.ErrorIs(t, err, ztsock.ErrNetworkNotReady)
	_, err = Connect(n, loopback(80))
	assert.ErrorIs(t, err, ztsock.ErrNetworkNotReady)
	_, err = ListenDatagram(n, loopback(0))
	assert.ErrorIs(t, err, ztsock.ErrNetworkNotReady)

	var lerr *ztsock.LifecycleError
	assert.True(t, errors.As(err, &lerr))
}

func TestLoopbackTransfer(t *testing.T) {
	n := startNode(t, newTestFabric(t), nil)

	for _, size := range []int{0, 1, 4096, 1 << 20} {
		t.Run("", func(t *testing.T) {
			client, server := pair(t, n)
			payload := bytes.Repeat([]byte{0xa5, 0x5a, 0x01}, size/3+1)[:size]

			var g errgroup.Group
			g.Go(func() error {
				if _, err := client.Write(payload); err != nil {
					return err
				}
				return client.CloseWrite()
			})

			got, err := io.ReadAll(server)
			require.NoError(t, err)
			require.NoError(t, g.Wait())
			assert.Equal(t, len(payload), len(got))
			assert.True(t, bytes.Equal(payload, got))
		})
	}
}

func TestWriteBuffers(t *testing.T) {
	n := startNode(t, newTestFabric(t), nil)
	client, server := pair(t, n)

	payload := bytes.Repeat([]byte("0123456789"), 1000)
	bufs := net.Buffers{payload[:10], nil, payload[10:5000], payload[5000:]}

	var g errgroup.Group
	g.Go(func() error {
		k, err := client.WriteBuffers(bufs)
		if err != nil {
			return err
		}
		if k != int64(len(payload)) {
			return fmt.Errorf("wrote %d of %d bytes", k, len(payload))
		}
		return client.CloseWrite()
	})
	got, err := io.ReadAll(server)
	require.NoError(t, err)
	require.NoError(t, g.Wait())
	assert.Equal(t, payload, got)

	k, err := client.WriteBuffers(net.Buffers{nil, {}})
	require.NoError(t, err)
	assert.Zero(t, k)
}

func TestEmptyReadWrite(t *testing.T) {
	n := startNode(t, newTestFabric(t), nil)
	client, _ := pair(t, n)

	k, err := client.Write(nil)
	assert.NoError(t, err)
	assert.Zero(t, k)
	k, err = client.Read(nil)
	assert.NoError(t, err)
	assert.Zero(t, k)
}

func TestDoubleBind(t *testing.T) {
	n := startNode(t, newTestFabric(t), nil)
	_, addr := listen(t, n, loopback(0))

	_, err := Listen(n, addr)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBind)
	assert.ErrorIs(t, err, engine.EADDRINUSE)

	var berr *BindError
	require.True(t, errors.As(err, &berr))
	assert.Equal(t, "bind", berr.Step)
	assert.Equal(t, addr, berr.Addr)

	l, err := ListenConfig{ReuseAddr: true}.Listen(n, loopback(0))
	require.NoError(t, err)
	l.Close()
}

func TestAcceptReportsPeerAcrossNodes(t *testing.T) {
	f := newTestFabric(t)
	a := startNode(t, f, nil)
	b := startNode(t, f, nil)

	aAddr, err := a.AssignedAddress(testNet, engine.AF_INET)
	require.NoError(t, err)
	bAddr, err := b.AssignedAddress(testNet, engine.AF_INET)
	require.NoError(t, err)

	l, _ := listen(t, a, sockaddr.New(netip.IPv4Unspecified(), 7000))
	c, err := Connect(b, sockaddr.New(aAddr, 7000))
	require.NoError(t, err)
	defer c.Close()

	s, peer, err := l.AcceptStream()
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, bAddr, peer.IP)
	assert.NotZero(t, peer.Port)

	local, err := c.LocalAddress()
	require.NoError(t, err)
	assert.Equal(t, local, peer)
	assert.Equal(t, "tcp", s.RemoteAddr().Network())
	assert.Equal(t, peer.String(), s.RemoteAddr().String())
	assert.Equal(t, "10.0.1.1:7000", c.RemoteAddr().String())

	_, err = c.Write([]byte("across"))
	require.NoError(t, err)
	buf := make([]byte, 16)
	k, err := s.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "across", string(buf[:k]))
}

func TestShutdownWriteGivesEOF(t *testing.T) {
	n := startNode(t, newTestFabric(t), nil)
	client, server := pair(t, n)

	require.NoError(t, client.CloseWrite())
	_, err := server.Read(make([]byte, 8))
	assert.ErrorIs(t, err, io.EOF)
	_, err = server.Peek(make([]byte, 8))
	assert.ErrorIs(t, err, io.EOF)

	err = client.CloseWrite()
	assert.ErrorIs(t, err, engine.ENOTCONN)

	// The other direction still works.
	_, err = server.Write([]byte("still"))
	require.NoError(t, err)
	buf := make([]byte, 8)
	k, err := client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "still", string(buf[:k]))
}

func TestStreamOptions(t *testing.T) {
	n := startNode(t, newTestFabric(t), nil)
	client, _ := pair(t, n)

	require.NoError(t, client.SetNoDelay(true))
	on, err := client.NoDelay()
	require.NoError(t, err)
	assert.True(t, on)

	require.NoError(t, client.SetTTL(9))
	ttl, err := client.TTL()
	require.NoError(t, err)
	assert.Equal(t, 9, ttl)

	require.NoError(t, client.SetKeepAlive(true))
	require.NoError(t, client.SetLinger(3))
	require.NoError(t, client.SetLinger(-1))

	soErr, err := client.TakeError()
	require.NoError(t, err)
	assert.NoError(t, soErr)

	require.NoError(t, client.SetNonBlocking(true))
	_, err = client.Read(make([]byte, 4))
	assert.ErrorIs(t, err, engine.EAGAIN)
}

func TestDeadlines(t *testing.T) {
	n := startNode(t, newTestFabric(t), nil)
	client, server := pair(t, n)

	require.NoError(t, server.SetReadDeadline(time.Now().Add(20*time.Millisecond)))
	start := time.Now()
	_, err := server.Read(make([]byte, 4))
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)

	// A deadline in the past fails without blocking.
	require.NoError(t, server.SetReadDeadline(time.Now().Add(-time.Second)))
	_, err = server.Read(make([]byte, 4))
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)

	require.NoError(t, server.SetReadDeadline(time.Time{}))
	d, err := server.ReadTimeout()
	require.NoError(t, err)
	assert.Zero(t, d)

	_, err = client.Write([]byte("ok"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	k, err := server.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(buf[:k]))
}

func TestDeadlineInterruptsBlockedCalls(t *testing.T) {
	n := startNode(t, newTestFabric(t), nil)
	_, server := pair(t, n)

	done := make(chan error, 1)
	go func() {
		_, err := server.Read(make([]byte, 4))
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, server.SetReadDeadline(time.Now().Add(-time.Second)))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("blocked read ignored the new deadline")
	}

	pc, err := ListenDatagram(n, loopback(0))
	require.NoError(t, err)
	defer pc.Close()

	go func() {
		_, _, err := pc.ReadFrom(make([]byte, 16))
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	start := time.Now()
	require.NoError(t, pc.SetDeadline(start.Add(30*time.Millisecond)))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("blocked datagram read ignored the new deadline")
	}
}

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

func TestDeadlinesUseTimeProvider(t *testing.T) {
	n := startNode(t, newTestFabric(t), nil)
	_, server := pair(t, n)

	deadline := time.Now().Add(time.Hour)
	require.NoError(t, server.SetReadDeadline(deadline))

	SetDefaultTimeProvider(fakeClock{now: deadline.Add(time.Second)})
	t.Cleanup(func() { SetDefaultTimeProvider(nil) })

	_, err := server.Read(make([]byte, 4))
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
}

func TestIncoming(t *testing.T) {
	n := startNode(t, newTestFabric(t), nil)
	l, addr := listen(t, n, loopback(0))

	for i := 0; i < 2; i++ {
		c, err := Connect(n, addr)
		require.NoError(t, err)
		defer c.Close()
	}

	accepted := 0
	for s, err := range l.Incoming() {
		require.NoError(t, err)
		s.Close()
		accepted++
		if accepted == 2 {
			break
		}
	}
	assert.Equal(t, 2, accepted)

	done := make(chan int)
	go func() {
		count := 0
		for range l.Incoming() {
			count++
		}
		done <- count
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, l.Close())

	select {
	case count := <-done:
		assert.Zero(t, count)
	case <-time.After(2 * time.Second):
		t.Fatal("Incoming did not end after Close")
	}
}

func TestIncomingContinuesAfterFailedAccept(t *testing.T) {
	n := startNode(t, newTestFabric(t), nil)
	l, addr := listen(t, n, loopback(0))
	require.NoError(t, l.SetReadTimeout(10*time.Millisecond))

	go func() {
		time.Sleep(50 * time.Millisecond)
		if c, err := Connect(n, addr); err == nil {
			c.Close()
		}
	}()

	failures := 0
	for s, err := range l.Incoming() {
		if err != nil {
			assert.ErrorIs(t, err, engine.EAGAIN)
			failures++
			continue
		}
		s.Close()
		break
	}
	assert.Positive(t, failures)
}

func TestStopClosesSockets(t *testing.T) {
	n := startNode(t, newTestFabric(t), nil)
	l, addr := listen(t, n, loopback(0))
	client, err := Connect(n, addr)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range l.Incoming() {
		}
	}()

	require.NoError(t, n.Stop())
	assert.Equal(t, -1, client.Handle())

	_, err = client.Write([]byte("x"))
	assert.ErrorIs(t, err, ztsock.ErrNodeStopped)
	_, err = Connect(n, addr)
	assert.ErrorIs(t, err, ztsock.ErrNodeStopped)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Incoming did not end after Stop")
	}
	assert.NoError(t, client.Close())
}
