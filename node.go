package ztsock

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/netip"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/opd-ai/ztsock/engine"
)

// State is the lifecycle state of a Node.
type State int32

const (
	StateUninitialized State = iota
	StateConfigured
	StateStarted
	StateOnline
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConfigured:
		return "configured"
	case StateStarted:
		return "started"
	case StateOnline:
		return "online"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// NetworkState is the membership state of one network.
type NetworkState int

const (
	NetworkRequesting NetworkState = iota
	NetworkJoined
	NetworkReady
	NetworkNotFound
	NetworkAccessDenied
	NetworkLeft
)

func (s NetworkState) String() string {
	switch s {
	case NetworkRequesting:
		return "requesting"
	case NetworkJoined:
		return "joined"
	case NetworkReady:
		return "ready"
	case NetworkNotFound:
		return "not found"
	case NetworkAccessDenied:
		return "access denied"
	case NetworkLeft:
		return "left"
	default:
		return fmt.Sprintf("NetworkState(%d)", int(s))
	}
}

// Node is the context every socket is created against. It drives one
// engine through its lifecycle and tracks the sockets created on it so
// Stop can release them.
type Node struct {
	eng    engine.Engine
	opts   Options
	log    *logrus.Entry
	router *eventRouter
	state  atomic.Int32

	mu       sync.Mutex
	networks map[uint64]NetworkState
	closers  map[io.Closer]struct{}
	hosts    map[string][]netip.Addr
}

// New configures eng with opts and returns a node in StateConfigured.
// A nil opts uses NewOptions. The engine refuses to be configured while
// another node is running on it.
func New(eng engine.Engine, opts *Options) (*Node, error) {
	if opts == nil {
		opts = NewOptions()
	}
	n := &Node{
		eng:      eng,
		opts:     *opts,
		log:      opts.Logger,
		router:   newEventRouter(opts.EventHandler),
		networks: make(map[uint64]NetworkState),
		closers:  make(map[io.Closer]struct{}),
		hosts:    make(map[string][]netip.Addr),
	}
	if n.log == nil {
		n.log = logrus.NewEntry(logrus.StandardLogger())
	}
	n.log = n.log.WithField("component", "node")
	if n.opts.PollInterval <= 0 {
		n.opts.PollInterval = DefaultPollInterval
	}
	if n.opts.MaxPollInterval < n.opts.PollInterval {
		n.opts.MaxPollInterval = n.opts.PollInterval
	}

	for name, addrs := range opts.Hosts {
		for _, s := range addrs {
			a, err := netip.ParseAddr(s)
			if err != nil {
				return nil, newLifecycleError("init", 0, fmt.Errorf("host %q: %w", name, err))
			}
			key := strings.ToLower(name)
			n.hosts[key] = append(n.hosts[key], a)
		}
	}

	if opts.StoragePath != "" {
		if rc := eng.InitFromStorage(opts.StoragePath); rc != engine.ErrOK {
			return nil, statusError("init storage", 0, rc)
		}
	}
	if rc := eng.InitSetPort(opts.Port); rc != engine.ErrOK {
		return nil, statusError("init port", 0, rc)
	}
	if rc := eng.InitSetEventHandler(n.handleEvent); rc != engine.ErrOK {
		return nil, statusError("init events", 0, rc)
	}

	n.state.Store(int32(StateConfigured))
	n.log.WithFields(logrus.Fields{
		"function": "New",
		"port":     opts.Port,
		"storage":  opts.StoragePath,
	}).Info("Node configured")
	return n, nil
}

// Start starts the engine and joins the networks named in Options.
// Going online happens in the background; see WaitOnline.
func (n *Node) Start() error {
	if !n.state.CompareAndSwap(int32(StateConfigured), int32(StateStarted)) {
		return n.stateError("start")
	}
	if rc := n.eng.NodeStart(); rc != engine.ErrOK {
		n.state.Store(int32(StateConfigured))
		return statusError("start", 0, rc)
	}
	n.log.WithFields(logrus.Fields{
		"function": "Start",
		"node_id":  fmt.Sprintf("%010x", n.eng.NodeID()),
	}).Info("Node started")

	var err error
	for _, id := range n.opts.Networks {
		err = multierr.Append(err, n.Join(id))
	}
	return err
}

// State returns the current lifecycle state.
func (n *Node) State() State {
	return State(n.state.Load())
}

// Engine returns the engine driven by the node.
func (n *Node) Engine() engine.Engine {
	return n.eng
}

// Logger returns the node's log entry.
func (n *Node) Logger() *logrus.Entry {
	return n.log
}

// ID returns the 40-bit node address, or zero before Start.
func (n *Node) ID() uint64 {
	return n.eng.NodeID()
}

// IsOnline polls whether the node reaches the overlay.
func (n *Node) IsOnline() bool {
	return n.eng.NodeIsOnline()
}

// IsTransportReady polls whether sockets can use netID.
func (n *Node) IsTransportReady(netID uint64) bool {
	return n.eng.NetTransportIsReady(netID)
}

// Stats returns a snapshot of the engine's protocol counters.
func (n *Node) Stats() (engine.Stats, error) {
	var s engine.Stats
	if rc := n.eng.StatsGet(&s); rc != engine.ErrOK {
		return s, statusError("stats", 0, rc)
	}
	return s, nil
}

// Delay sleeps on the engine's clock for d, rounded down to milliseconds.
func (n *Node) Delay(d time.Duration) {
	n.eng.Delay(int(d / time.Millisecond))
}

// Join requests membership in netID. Joining a network twice is a no-op.
func (n *Node) Join(netID uint64) error {
	if err := n.Usable("join"); err != nil {
		return err
	}

	n.mu.Lock()
	prev, known := n.networks[netID]
	if !known || prev == NetworkLeft || prev == NetworkNotFound || prev == NetworkAccessDenied {
		n.networks[netID] = NetworkRequesting
	}
	n.mu.Unlock()

	if rc := n.eng.NetJoin(netID); rc != engine.ErrOK {
		n.mu.Lock()
		if known {
			n.networks[netID] = prev
		} else {
			delete(n.networks, netID)
		}
		n.mu.Unlock()
		return statusError("join", netID, rc)
	}
	n.log.WithFields(logrus.Fields{
		"function": "Join",
		"net_id":   fmt.Sprintf("%016x", netID),
	}).Info("Joining network")
	return nil
}

// Leave leaves netID.
func (n *Node) Leave(netID uint64) error {
	if err := n.Usable("leave"); err != nil {
		return err
	}

	n.mu.Lock()
	st, ok := n.networks[netID]
	n.mu.Unlock()
	if !ok || st == NetworkLeft {
		return newLifecycleError("leave", netID, ErrNotJoined)
	}

	if rc := n.eng.NetLeave(netID); rc != engine.ErrOK {
		return statusError("leave", netID, rc)
	}

	n.mu.Lock()
	n.networks[netID] = NetworkLeft
	n.mu.Unlock()
	n.log.WithFields(logrus.Fields{
		"function": "Leave",
		"net_id":   fmt.Sprintf("%016x", netID),
	}).Info("Left network")
	return nil
}

// Networks returns the ids of the networks the node is a member of, in
// ascending order.
func (n *Node) Networks() []uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	ids := make([]uint64, 0, len(n.networks))
	for id, st := range n.networks {
		if st != NetworkLeft {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// NetworkState returns the membership state of netID as last reported by
// the engine.
func (n *Node) NetworkState(netID uint64) (NetworkState, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	st, ok := n.networks[netID]
	return st, ok
}

// AssignedAddress returns the address of the given family (AF_INET or
// AF_INET6) the network assigned to this node.
func (n *Node) AssignedAddress(netID uint64, family int) (netip.Addr, error) {
	if err := n.Usable("address"); err != nil {
		return netip.Addr{}, err
	}

	buf := make([]byte, engine.INET6_ADDRSTRLEN)
	switch rc := n.eng.AddrGet(netID, family, buf); rc {
	case engine.ErrOK:
	case engine.ErrNoResult:
		return netip.Addr{}, newLifecycleError("address", netID, ErrNoAddressAssigned)
	default:
		return netip.Addr{}, statusError("address", netID, rc)
	}

	if i := bytes.IndexByte(buf, 0); i >= 0 {
		buf = buf[:i]
	}
	addr, err := netip.ParseAddr(string(buf))
	if err != nil {
		return netip.Addr{}, newLifecycleError("address", netID, err)
	}
	return addr, nil
}

// WaitOnline blocks until the node is online or ctx is done.
func (n *Node) WaitOnline(ctx context.Context) error {
	err := n.wait(ctx, "wait online", 0, func() (bool, error) {
		if err := n.Usable("wait online"); err != nil {
			return false, err
		}
		return n.eng.NodeIsOnline(), nil
	})
	if err == nil {
		n.state.CompareAndSwap(int32(StateStarted), int32(StateOnline))
	}
	return err
}

// WaitTransportReady blocks until sockets can use netID or ctx is done.
// It fails early when the network turns out not to exist.
func (n *Node) WaitTransportReady(ctx context.Context, netID uint64) error {
	return n.wait(ctx, "wait ready", netID, func() (bool, error) {
		if err := n.Usable("wait ready"); err != nil {
			return false, err
		}
		if n.eng.NetTransportIsReady(netID) {
			return true, nil
		}
		st, ok := n.NetworkState(netID)
		switch {
		case !ok || st == NetworkLeft:
			return false, newLifecycleError("wait ready", netID, ErrNotJoined)
		case st == NetworkNotFound || st == NetworkAccessDenied:
			return false, newLifecycleError("wait ready", netID, ErrNetworkNotFound)
		}
		return false, nil
	})
}

// wait polls cond until it reports done. Engine events cut the sleep
// between polls short.
func (n *Node) wait(ctx context.Context, op string, netID uint64, cond func() (bool, error)) error {
	events, cancel := n.router.subscribe()
	defer cancel()

	b := &backoff.Backoff{
		Min:    n.opts.PollInterval,
		Max:    n.opts.MaxPollInterval,
		Factor: 2,
		Jitter: true,
	}
	for {
		done, err := cond()
		if err != nil || done {
			return err
		}

		timer := time.NewTimer(b.Duration())
		select {
		case <-ctx.Done():
			timer.Stop()
			return newLifecycleError(op, netID, ctx.Err())
		case <-events:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Usable reports an error when the node cannot serve socket operations
// because it was never started or has been stopped.
func (n *Node) Usable(op string) error {
	switch n.State() {
	case StateStopped:
		return newLifecycleError(op, 0, ErrNodeStopped)
	case StateUninitialized, StateConfigured:
		return newLifecycleError(op, 0, ErrNotStarted)
	}
	return nil
}

// RequireReady fails unless sockets can use netID.
func (n *Node) RequireReady(op string, netID uint64) error {
	if err := n.Usable(op); err != nil {
		return err
	}
	if !n.eng.NetTransportIsReady(netID) {
		return newLifecycleError(op, netID, ErrNetworkNotReady)
	}
	return nil
}

// RequireTransport fails unless at least one joined network is ready.
// Socket constructors call it before creating a handle.
func (n *Node) RequireTransport(op string) error {
	if err := n.Usable(op); err != nil {
		return err
	}
	for _, id := range n.Networks() {
		if n.eng.NetTransportIsReady(id) {
			return nil
		}
	}
	return newLifecycleError(op, 0, ErrNetworkNotReady)
}

// Track registers c to be closed by Stop.
func (n *Node) Track(c io.Closer) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.State() == StateStopped {
		return newLifecycleError("track", 0, ErrNodeStopped)
	}
	n.closers[c] = struct{}{}
	return nil
}

// Untrack removes c from the set closed by Stop.
func (n *Node) Untrack(c io.Closer) {
	n.mu.Lock()
	delete(n.closers, c)
	n.mu.Unlock()
}

// LookupHost returns the addresses configured for name in Options.Hosts.
func (n *Node) LookupHost(name string) ([]netip.Addr, bool) {
	addrs, ok := n.hosts[strings.ToLower(name)]
	return slices.Clone(addrs), ok
}

// Stop closes every tracked socket, stops the engine and releases it.
// The node cannot be restarted; Stop on a stopped node is a no-op.
func (n *Node) Stop() error {
	n.mu.Lock()
	prev := State(n.state.Swap(int32(StateStopped)))
	if prev == StateStopped {
		n.mu.Unlock()
		return nil
	}
	closers := make([]io.Closer, 0, len(n.closers))
	for c := range n.closers {
		closers = append(closers, c)
	}
	clear(n.closers)
	clear(n.networks)
	n.mu.Unlock()

	var err error
	for _, c := range closers {
		err = multierr.Append(err, c.Close())
	}
	if prev >= StateStarted {
		if rc := n.eng.NodeStop(); rc != engine.ErrOK {
			err = multierr.Append(err, statusError("stop", 0, rc))
		}
	}
	n.eng.NodeFree()

	n.log.WithFields(logrus.Fields{
		"function": "Stop",
		"sockets":  len(closers),
	}).Info("Node stopped")
	return err
}

func (n *Node) stateError(op string) error {
	if err := n.Usable(op); err != nil {
		return err
	}
	return newLifecycleError(op, 0, ErrInvalidState)
}

// handleEvent runs on the engine's event goroutine.
func (n *Node) handleEvent(msg engine.EventMessage) {
	switch msg.Code {
	case engine.EventNodeOnline:
		n.state.CompareAndSwap(int32(StateStarted), int32(StateOnline))
	case engine.EventNodeOffline:
		n.state.CompareAndSwap(int32(StateOnline), int32(StateStarted))
	}

	if msg.Code.IsNetworkEvent() {
		n.updateNetwork(msg)
	}

	n.log.WithFields(logrus.Fields{
		"function": "handleEvent",
		"event":    msg.Code.String(),
		"net_id":   fmt.Sprintf("%016x", msg.NetworkID),
		"addr":     msg.Addr,
	}).Debug("Engine event")

	n.router.dispatch(msg)
}

func (n *Node) updateNetwork(msg engine.EventMessage) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.State() == StateStopped {
		return
	}
	cur, known := n.networks[msg.NetworkID]
	if known && cur == NetworkLeft && msg.Code != engine.EventNetworkReqConfig {
		return
	}

	switch msg.Code {
	case engine.EventNetworkReqConfig:
		if !known || cur != NetworkReady {
			n.networks[msg.NetworkID] = NetworkRequesting
		}
	case engine.EventNetworkOK:
		if cur != NetworkReady {
			n.networks[msg.NetworkID] = NetworkJoined
		}
	case engine.EventNetworkReadyIP4, engine.EventNetworkReadyIP6, engine.EventNetworkReadyIP4IP6:
		n.networks[msg.NetworkID] = NetworkReady
	case engine.EventNetworkNotFound:
		n.networks[msg.NetworkID] = NetworkNotFound
	case engine.EventNetworkAccessDenied:
		n.networks[msg.NetworkID] = NetworkAccessDenied
	case engine.EventNetworkDown:
		if known {
			n.networks[msg.NetworkID] = NetworkLeft
		}
	}
}
