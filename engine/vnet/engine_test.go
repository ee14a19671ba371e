package vnet

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/ztsock/engine"
)

const testNet uint64 = 0x8056c2e21c000001

func newTestFabric(t *testing.T) *Fabric {
	t.Helper()
	f := NewFabric(WithOnlineDelay(time.Millisecond), WithJoinDelay(time.Millisecond))
	require.NoError(t, f.CreateNetwork(testNet))
	return f
}

// startNode starts a node on f and waits until it is ready on testNet.
func startNode(t *testing.T, f *Fabric) *Engine {
	t.Helper()
	e := f.NewEngine()
	require.Equal(t, engine.ErrOK, e.NodeStart())
	t.Cleanup(func() { e.NodeFree() })
	require.Equal(t, engine.ErrOK, e.NetJoin(testNet))
	require.Eventually(t, func() bool { return e.NetTransportIsReady(testNet) },
		2*time.Second, time.Millisecond)
	return e
}

func addrText(t *testing.T, e *Engine, family int) string {
	t.Helper()
	buf := make([]byte, engine.INET6_ADDRSTRLEN)
	require.Equal(t, engine.ErrOK, e.AddrGet(testNet, family, buf))
	return string(buf[:bytes.IndexByte(buf, 0)])
}

type eventLog struct {
	mu     sync.Mutex
	events []engine.EventMessage
}

func (l *eventLog) handle(msg engine.EventMessage) {
	l.mu.Lock()
	l.events = append(l.events, msg)
	l.mu.Unlock()
}

func (l *eventLog) codes() []engine.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]engine.Event, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Code
	}
	return out
}

func TestNodeLifecycleEvents(t *testing.T) {
	f := newTestFabric(t)
	e := f.NewEngine()
	var log eventLog
	require.Equal(t, engine.ErrOK, e.InitSetEventHandler(log.handle))
	require.Equal(t, engine.ErrOK, e.NodeStart())

	require.Eventually(t, e.NodeIsOnline, time.Second, time.Millisecond)
	require.NotZero(t, e.NodeID())

	require.Equal(t, engine.ErrOK, e.NetJoin(testNet))
	require.Eventually(t, func() bool { return e.NetTransportIsReady(testNet) }, time.Second, time.Millisecond)
	require.Equal(t, engine.ErrOK, e.NodeStop())

	want := []engine.Event{
		engine.EventNodeUp,
		engine.EventNodeOnline,
		engine.EventNetworkReqConfig,
		engine.EventNetworkOK,
		engine.EventAddrAddedIP4,
		engine.EventAddrAddedIP6,
		engine.EventNetworkReadyIP4IP6,
		engine.EventNodeDown,
	}
	require.Eventually(t, func() bool { return len(log.codes()) == len(want) }, time.Second, time.Millisecond)
	assert.Equal(t, want, log.codes())

	log.mu.Lock()
	defer log.mu.Unlock()
	for _, ev := range log.events {
		assert.Equal(t, e.NodeID(), ev.NodeID, "event %v", ev.Code)
	}
	assert.Equal(t, testNet, log.events[4].NetworkID)
	assert.Equal(t, "10.0.1.1", log.events[4].Addr)
}

func TestNodeStateRules(t *testing.T) {
	f := newTestFabric(t)
	e := f.NewEngine()

	assert.Equal(t, engine.ErrService, e.NetJoin(testNet))
	assert.Equal(t, engine.ErrOK, e.InitSetPort(9994))
	require.Equal(t, engine.ErrOK, e.NodeStart())
	assert.Equal(t, engine.ErrService, e.NodeStart())
	assert.Equal(t, engine.ErrService, e.InitSetPort(1))
	assert.Equal(t, engine.ErrService, e.InitFromStorage(t.TempDir()))
	assert.Equal(t, engine.ErrArg, e.NetLeave(testNet))

	require.Equal(t, engine.ErrOK, e.NodeStop())
	assert.Equal(t, engine.ErrService, e.NodeStop())
	assert.False(t, e.NodeIsOnline())
	assert.Equal(t, -int(engine.ENETDOWN), e.Socket(engine.AF_INET, engine.SOCK_STREAM, 0))

	require.Equal(t, engine.ErrOK, e.NodeFree())
	assert.Equal(t, engine.ErrOK, e.InitSetPort(0))
	assert.Equal(t, engine.ErrOK, e.NodeStart())
	assert.Equal(t, engine.ErrOK, e.NodeFree())
}

func TestUnknownNetwork(t *testing.T) {
	f := newTestFabric(t)
	e := f.NewEngine()
	var log eventLog
	require.Equal(t, engine.ErrOK, e.InitSetEventHandler(log.handle))
	require.Equal(t, engine.ErrOK, e.NodeStart())
	t.Cleanup(func() { e.NodeFree() })

	require.Equal(t, engine.ErrOK, e.NetJoin(0xdeadbeef))
	require.Eventually(t, func() bool {
		for _, c := range log.codes() {
			if c == engine.EventNetworkNotFound {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)
	assert.False(t, e.NetTransportIsReady(0xdeadbeef))
	assert.Equal(t, engine.ErrNoResult, e.AddrGet(0xdeadbeef, engine.AF_INET, make([]byte, 64)))
}

func TestAddressAssignment(t *testing.T) {
	f := newTestFabric(t)
	a := startNode(t, f)
	b := startNode(t, f)

	assert.Equal(t, "10.0.1.1", addrText(t, a, engine.AF_INET))
	assert.Equal(t, "10.0.1.2", addrText(t, b, engine.AF_INET))
	assert.Contains(t, addrText(t, a, engine.AF_INET6), "fd80:56c2:e21c:0:199:93")

	assert.Equal(t, engine.ErrArg, a.AddrGet(testNet, engine.AF_INET, make([]byte, 4)))
	assert.Equal(t, engine.ErrArg, a.AddrGet(testNet, 99, make([]byte, 64)))

	require.Equal(t, engine.ErrOK, b.NetLeave(testNet))
	assert.False(t, b.NetTransportIsReady(testNet))
	assert.Equal(t, engine.ErrNoResult, b.AddrGet(testNet, engine.AF_INET, make([]byte, 64)))
}

func TestStoragePersistsIdentityAndNetworks(t *testing.T) {
	dir := t.TempDir()
	f := newTestFabric(t)

	e := f.NewEngine()
	require.Equal(t, engine.ErrOK, e.InitFromStorage(dir))
	require.Equal(t, engine.ErrOK, e.NodeStart())
	require.Equal(t, engine.ErrOK, e.NetJoin(testNet))
	id := e.NodeID()
	require.NotZero(t, id)
	require.FileExists(t, filepath.Join(dir, networksDir, "8056c2e21c000001.conf"))
	require.Equal(t, engine.ErrOK, e.NodeFree())

	require.Equal(t, engine.ErrOK, e.InitFromStorage(dir))
	require.Equal(t, engine.ErrOK, e.NodeStart())
	t.Cleanup(func() { e.NodeFree() })
	assert.Equal(t, id, e.NodeID())
	require.Eventually(t, func() bool { return e.NetTransportIsReady(testNet) }, time.Second, time.Millisecond)

	require.Equal(t, engine.ErrOK, e.NetLeave(testNet))
	_, err := os.Stat(filepath.Join(dir, networksDir, "8056c2e21c000001.conf"))
	assert.True(t, os.IsNotExist(err))
}

func TestInitFromStorageRejectsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	e := newTestFabric(t).NewEngine()
	assert.Equal(t, engine.ErrArg, e.InitFromStorage(path))
}

func TestStatsCountLinkFrames(t *testing.T) {
	f := newTestFabric(t)
	a := startNode(t, f)
	b := startNode(t, f)

	srv := b.Socket(engine.AF_INET, engine.SOCK_DGRAM, 0)
	require.Positive(t, srv)
	require.Zero(t, b.Bind(srv, "", 7000))

	cli := a.Socket(engine.AF_INET, engine.SOCK_DGRAM, 0)
	require.Positive(t, cli)
	dst := rawAddr(t, addrText(t, b, engine.AF_INET), 7000)
	require.Equal(t, 3, a.SendTo(cli, []byte("abc"), 0, dst))

	var sa, sb engine.Stats
	require.Equal(t, engine.ErrOK, a.StatsGet(&sa))
	require.Equal(t, engine.ErrOK, b.StatsGet(&sb))
	assert.Equal(t, uint64(1), sa.UDP.Xmit)
	assert.Equal(t, uint64(1), sa.Link.Xmit)
	assert.Equal(t, uint64(1), sb.UDP.Recv)
	assert.Equal(t, uint64(1), sb.Link.Recv)
	assert.Equal(t, engine.ErrArg, a.StatsGet(nil))
}
