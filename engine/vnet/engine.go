package vnet

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	radix "github.com/armon/go-radix"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/ztsock/crypto"
	"github.com/opd-ai/ztsock/engine"
)

type nodeState int

const (
	nodeFresh nodeState = iota
	nodeRunning
	nodeStopped
)

type membership struct {
	netID    uint64
	ready    bool
	notFound bool
	m        *member
}

type counters struct {
	linkTx, linkRx, linkDrop atomic.Uint64
	tcpTx, tcpRx, tcpDrop    atomic.Uint64
	udpTx, udpRx, udpDrop    atomic.Uint64
}

// Engine is one virtual node. It implements engine.Engine.
type Engine struct {
	fabric *Fabric
	log    *logrus.Entry
	events eventQueue

	online  atomic.Bool
	running atomic.Bool
	stats   counters

	mu          sync.Mutex
	state       nodeState
	gen         int
	port        uint16
	store       *crypto.IdentityStore
	identity    *crypto.Identity
	memberships map[uint64]*membership
	timers      []*time.Timer

	// guarded by fabric.mu
	linkKeys *crypto.KeyPair
	linkID   uint64
	sockets  map[int]*vsocket
	bindings *radix.Tree
	nextFD   int
	nextPort int
}

var _ engine.Engine = (*Engine)(nil)

// InitSetPort records the physical port. The fabric does not use real
// ports, but the value is validated and kept for inspection.
func (e *Engine) InitSetPort(port uint16) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != nodeFresh {
		return engine.ErrService
	}
	e.port = port
	return engine.ErrOK
}

// Port returns the port set with InitSetPort.
func (e *Engine) Port() uint16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.port
}

// InitFromStorage loads or creates the node identity in path.
func (e *Engine) InitFromStorage(path string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != nodeFresh {
		return engine.ErrService
	}
	store, err := crypto.NewIdentityStore(path)
	if err != nil {
		e.log.WithFields(logrus.Fields{
			"function": "InitFromStorage",
			"path":     path,
			"error":    err.Error(),
		}).Warn("Storage path unusable")
		return engine.ErrArg
	}
	id, err := store.LoadOrCreate()
	if err != nil {
		e.log.WithFields(logrus.Fields{
			"function": "InitFromStorage",
			"path":     path,
			"error":    err.Error(),
		}).Warn("Failed to load identity")
		return engine.ErrGeneral
	}
	e.store = store
	e.identity = id
	return engine.ErrOK
}

// InitSetEventHandler installs the event callback.
func (e *Engine) InitSetEventHandler(h engine.EventHandler) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != nodeFresh {
		return engine.ErrService
	}
	e.events.setHandler(h)
	return engine.ErrOK
}

// NodeStart starts the node. NODE_ONLINE follows after the fabric's
// online delay, then previously persisted networks are rejoined.
func (e *Engine) NodeStart() int {
	e.mu.Lock()
	if e.state != nodeFresh {
		e.mu.Unlock()
		return engine.ErrService
	}
	if e.identity == nil {
		id, err := crypto.NewIdentity()
		if err != nil {
			e.mu.Unlock()
			return engine.ErrGeneral
		}
		e.identity = id
	}
	e.state = nodeRunning
	e.running.Store(true)

	for _, netID := range e.loadNetworks() {
		e.memberships[netID] = &membership{netID: netID}
	}
	gen := e.gen
	e.scheduleLocked(e.fabric.onlineDelay, func() { e.goOnline(gen) })
	nodeID := e.identity.NodeID
	e.emitLocked(engine.EventMessage{Code: engine.EventNodeUp})
	e.mu.Unlock()

	e.log.WithFields(logrus.Fields{
		"function": "NodeStart",
		"node_id":  fmt.Sprintf("%010x", nodeID),
	}).Info("Node started")
	return engine.ErrOK
}

func (e *Engine) goOnline(gen int) {
	e.mu.Lock()
	if e.gen != gen || e.state != nodeRunning {
		e.mu.Unlock()
		return
	}
	e.fabric.attach(e, e.identity)
	e.online.Store(true)
	e.emitLocked(engine.EventMessage{Code: engine.EventNodeOnline})
	for netID := range e.memberships {
		e.scheduleJoinLocked(netID)
	}
	nodeID := e.identity.NodeID
	e.mu.Unlock()

	e.log.WithFields(logrus.Fields{
		"function": "goOnline",
		"node_id":  fmt.Sprintf("%010x", nodeID),
	}).Debug("Node online")
}

// NodeStop closes every socket, leaves all networks and takes the node
// offline.
func (e *Engine) NodeStop() int {
	e.mu.Lock()
	if e.state != nodeRunning {
		e.mu.Unlock()
		return engine.ErrService
	}
	e.state = nodeStopped
	e.gen++
	e.running.Store(false)
	e.online.Store(false)
	for _, t := range e.timers {
		t.Stop()
	}
	e.timers = nil
	clear(e.memberships)
	nodeID := e.identity.NodeID

	f := e.fabric
	f.mu.Lock()
	f.detachLocked(e)
	for fd, s := range e.sockets {
		f.closeLocked(s)
		delete(e.sockets, fd)
	}
	e.bindings = radix.New()
	f.mu.Unlock()
	e.emitLocked(engine.EventMessage{Code: engine.EventNodeDown})
	e.mu.Unlock()

	e.log.WithFields(logrus.Fields{
		"function": "NodeStop",
		"node_id":  fmt.Sprintf("%010x", nodeID),
	}).Info("Node stopped")
	return engine.ErrOK
}

// NodeFree returns the engine to its initial state. The identity is
// forgotten; a later InitFromStorage reloads it.
func (e *Engine) NodeFree() int {
	e.mu.Lock()
	running := e.state == nodeRunning
	e.mu.Unlock()
	if running {
		e.NodeStop()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = nodeFresh
	e.gen++
	e.store = nil
	e.identity = nil
	e.events.setHandler(nil)
	return engine.ErrOK
}

// NodeIsOnline reports whether the node reached the fabric.
func (e *Engine) NodeIsOnline() bool {
	return e.online.Load()
}

// NodeID returns the node address, or zero before the identity exists.
func (e *Engine) NodeID() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.identity == nil {
		return 0
	}
	return e.identity.NodeID
}

// NetJoin requests membership. Joining a network twice is not an error.
func (e *Engine) NetJoin(netID uint64) int {
	e.mu.Lock()
	if e.state != nodeRunning {
		e.mu.Unlock()
		return engine.ErrService
	}
	if _, ok := e.memberships[netID]; ok {
		e.mu.Unlock()
		return engine.ErrOK
	}
	e.memberships[netID] = &membership{netID: netID}
	e.saveNetwork(netID)
	e.emitLocked(engine.EventMessage{Code: engine.EventNetworkReqConfig, NetworkID: netID})
	if e.online.Load() {
		e.scheduleJoinLocked(netID)
	}
	e.mu.Unlock()

	e.log.WithFields(logrus.Fields{
		"function": "NetJoin",
		"net_id":   fmt.Sprintf("%016x", netID),
	}).Info("Joining network")
	return engine.ErrOK
}

func (e *Engine) scheduleJoinLocked(netID uint64) {
	gen := e.gen
	e.scheduleLocked(e.fabric.joinDelay, func() { e.completeJoin(gen, netID) })
}

func (e *Engine) completeJoin(gen int, netID uint64) {
	e.mu.Lock()
	ms, ok := e.memberships[netID]
	if e.gen != gen || e.state != nodeRunning || !ok || ms.ready {
		e.mu.Unlock()
		return
	}
	m, err := e.fabric.assign(e, e.identity.NodeID, netID)
	if err != nil {
		ms.notFound = true
		e.emitLocked(engine.EventMessage{Code: engine.EventNetworkNotFound, NetworkID: netID})
		e.mu.Unlock()

		e.log.WithFields(logrus.Fields{
			"function": "completeJoin",
			"net_id":   fmt.Sprintf("%016x", netID),
			"error":    err.Error(),
		}).Warn("Network join failed")
		return
	}
	ms.ready = true
	ms.notFound = false
	ms.m = m
	e.emitLocked(engine.EventMessage{Code: engine.EventNetworkOK, NetworkID: netID})
	e.emitLocked(engine.EventMessage{Code: engine.EventAddrAddedIP4, NetworkID: netID, Addr: m.ip4.String()})
	e.emitLocked(engine.EventMessage{Code: engine.EventAddrAddedIP6, NetworkID: netID, Addr: m.ip6.String()})
	e.emitLocked(engine.EventMessage{Code: engine.EventNetworkReadyIP4IP6, NetworkID: netID})
	e.mu.Unlock()

	e.log.WithFields(logrus.Fields{
		"function": "completeJoin",
		"net_id":   fmt.Sprintf("%016x", netID),
		"ip4":      m.ip4.String(),
		"ip6":      m.ip6.String(),
	}).Info("Network ready")
}

// NetLeave leaves a network and forgets the persisted membership.
func (e *Engine) NetLeave(netID uint64) int {
	e.mu.Lock()
	if e.state != nodeRunning {
		e.mu.Unlock()
		return engine.ErrService
	}
	if _, ok := e.memberships[netID]; !ok {
		e.mu.Unlock()
		return engine.ErrArg
	}
	delete(e.memberships, netID)
	e.removeNetwork(netID)
	e.fabric.release(e, netID)
	e.emitLocked(engine.EventMessage{Code: engine.EventNetworkDown, NetworkID: netID})
	e.mu.Unlock()

	e.log.WithFields(logrus.Fields{
		"function": "NetLeave",
		"net_id":   fmt.Sprintf("%016x", netID),
	}).Info("Left network")
	return engine.ErrOK
}

// NetTransportIsReady reports whether netID is configured and the node
// is online.
func (e *Engine) NetTransportIsReady(netID uint64) bool {
	if !e.online.Load() {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	ms, ok := e.memberships[netID]
	return ok && ms.ready
}

// AddrGet writes the node's address on netID as NUL terminated text.
func (e *Engine) AddrGet(netID uint64, family int, dst []byte) int {
	if family != engine.AF_INET && family != engine.AF_INET6 {
		return engine.ErrArg
	}
	e.mu.Lock()
	ms, ok := e.memberships[netID]
	if !ok || !ms.ready {
		e.mu.Unlock()
		return engine.ErrNoResult
	}
	text := ms.m.addr(family == engine.AF_INET).String()
	e.mu.Unlock()

	if len(dst) < len(text)+1 {
		return engine.ErrArg
	}
	n := copy(dst, text)
	dst[n] = 0
	return engine.ErrOK
}

// StatsGet copies the protocol counters.
func (e *Engine) StatsGet(s *engine.Stats) int {
	if s == nil {
		return engine.ErrArg
	}
	*s = engine.Stats{
		Link: engine.ProtoStats{Xmit: e.stats.linkTx.Load(), Recv: e.stats.linkRx.Load(), Drop: e.stats.linkDrop.Load()},
		TCP:  engine.ProtoStats{Xmit: e.stats.tcpTx.Load(), Recv: e.stats.tcpRx.Load(), Drop: e.stats.tcpDrop.Load()},
		UDP:  engine.ProtoStats{Xmit: e.stats.udpTx.Load(), Recv: e.stats.udpRx.Load(), Drop: e.stats.udpDrop.Load()},
	}
	return engine.ErrOK
}

// Delay sleeps for intervalMs milliseconds.
func (e *Engine) Delay(intervalMs int) {
	if intervalMs > 0 {
		time.Sleep(time.Duration(intervalMs) * time.Millisecond)
	}
}

func (e *Engine) scheduleLocked(d time.Duration, fn func()) {
	e.timers = append(e.timers, time.AfterFunc(d, fn))
}

// emitLocked queues msg for the event handler. Queuing under e.mu keeps
// events in the order the state changes happened. Callers hold e.mu.
func (e *Engine) emitLocked(msg engine.EventMessage) {
	if e.identity != nil {
		msg.NodeID = e.identity.NodeID
	}
	e.events.push(msg)
}

// eventQueue delivers events in order on a goroutine that only runs while
// events are pending. Each event keeps the handler installed when it was
// queued.
type eventQueue struct {
	mu       sync.Mutex
	handler  engine.EventHandler
	pending  []queuedEvent
	draining bool
}

type queuedEvent struct {
	h   engine.EventHandler
	msg engine.EventMessage
}

func (q *eventQueue) setHandler(h engine.EventHandler) {
	q.mu.Lock()
	q.handler = h
	q.mu.Unlock()
}

func (q *eventQueue) push(msg engine.EventMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.handler == nil {
		return
	}
	q.pending = append(q.pending, queuedEvent{h: q.handler, msg: msg})
	if !q.draining {
		q.draining = true
		go q.drain()
	}
}

func (q *eventQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.pending = nil
			q.draining = false
			q.mu.Unlock()
			return
		}
		ev := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		ev.h(ev.msg)
	}
}
