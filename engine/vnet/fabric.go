package vnet

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	radix "github.com/armon/go-radix"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/ztsock/crypto"
	"github.com/opd-ai/ztsock/limits"
	"github.com/opd-ai/ztsock/noise"
	"github.com/opd-ai/ztsock/sockaddr"
)

const (
	// DefaultOnlineDelay is the time between NodeStart and NODE_ONLINE.
	DefaultOnlineDelay = 20 * time.Millisecond
	// DefaultJoinDelay is the time a network takes to configure a member.
	DefaultJoinDelay = 20 * time.Millisecond

	maxHosts = 254
)

var (
	errNetworkNotFound = errors.New("network not found")
	errNetworkFull     = errors.New("network has no free addresses")
	errNoLink          = errors.New("no link between nodes")
)

// FabricOption configures a Fabric.
type FabricOption func(*Fabric)

// WithOnlineDelay sets how long nodes take to come online.
func WithOnlineDelay(d time.Duration) FabricOption {
	return func(f *Fabric) { f.onlineDelay = d }
}

// WithJoinDelay sets how long network configuration takes.
func WithJoinDelay(d time.Duration) FabricOption {
	return func(f *Fabric) { f.joinDelay = d }
}

// WithLogger sets the logger used by the fabric and its engines.
func WithLogger(l *logrus.Entry) FabricOption {
	return func(f *Fabric) { f.log = l }
}

// Fabric connects the engines of one process. The fabric mutex guards all
// socket state of every engine so that operations spanning two nodes never
// need more than one lock.
type Fabric struct {
	onlineDelay time.Duration
	joinDelay   time.Duration
	log         *logrus.Entry

	mu       sync.Mutex
	networks map[uint64]*network
	addrs    map[netip.Addr]*member
	links    map[linkKey]*link
}

type network struct {
	id       uint64
	prefix4  netip.Prefix
	nextHost int
	members  map[*Engine]*member
}

type member struct {
	e     *Engine
	netID uint64
	ip4   netip.Addr
	ip6   netip.Addr
}

func (m *member) addr(v4 bool) netip.Addr {
	if v4 {
		return m.ip4
	}
	return m.ip6
}

// NewFabric creates an empty fabric.
func NewFabric(opts ...FabricOption) *Fabric {
	f := &Fabric{
		onlineDelay: DefaultOnlineDelay,
		joinDelay:   DefaultJoinDelay,
		log:         logrus.NewEntry(logrus.StandardLogger()),
		networks:    make(map[uint64]*network),
		addrs:       make(map[netip.Addr]*member),
		links:       make(map[linkKey]*link),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.log = f.log.WithField("component", "vnet")
	return f
}

// CreateNetwork makes a network available for nodes to join.
func (f *Fabric) CreateNetwork(netID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.networks[netID]; ok {
		return fmt.Errorf("network %016x already exists", netID)
	}
	base := netip.AddrFrom4([4]byte{10, byte(netID >> 8), byte(netID), 0})
	f.networks[netID] = &network{
		id:       netID,
		prefix4:  netip.PrefixFrom(base, 24),
		nextHost: 1,
		members:  make(map[*Engine]*member),
	}
	f.log.WithFields(logrus.Fields{
		"function": "CreateNetwork",
		"net_id":   fmt.Sprintf("%016x", netID),
		"subnet":   base.String() + "/24",
	}).Debug("Network created")
	return nil
}

// Subnet returns the IPv4 subnet of a network.
func (f *Fabric) Subnet(netID uint64) (netip.Prefix, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.networks[netID]
	if !ok {
		return netip.Prefix{}, false
	}
	return n.prefix4, true
}

// NewEngine creates a node attached to this fabric.
func (f *Fabric) NewEngine() *Engine {
	return &Engine{
		fabric:      f,
		log:         f.log,
		memberships: make(map[uint64]*membership),
		sockets:     make(map[int]*vsocket),
		bindings:    radix.New(),
		nextPort:    limits.EphemeralPortFirst,
	}
}

// assign makes e a member of netID and returns its addresses.
func (f *Fabric) assign(e *Engine, nodeID, netID uint64) (*member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, ok := f.networks[netID]
	if !ok {
		return nil, errNetworkNotFound
	}
	if m, ok := n.members[e]; ok {
		return m, nil
	}
	if n.nextHost > maxHosts {
		return nil, errNetworkFull
	}
	b := n.prefix4.Addr().As4()
	b[3] = byte(n.nextHost)
	n.nextHost++

	m := &member{
		e:     e,
		netID: netID,
		ip4:   netip.AddrFrom4(b),
		ip6:   sockaddr.RFC4193(netID, nodeID),
	}
	n.members[e] = m
	f.addrs[m.ip4] = m
	f.addrs[m.ip6] = m
	return m, nil
}

// release removes e from netID.
func (f *Fabric) release(e *Engine, netID uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releaseLocked(e, netID)
}

func (f *Fabric) releaseLocked(e *Engine, netID uint64) {
	n, ok := f.networks[netID]
	if !ok {
		return
	}
	if m, ok := n.members[e]; ok {
		delete(f.addrs, m.ip4)
		delete(f.addrs, m.ip6)
		delete(n.members, e)
	}
}

// attach registers e's identity for link establishment.
func (f *Fabric) attach(e *Engine, id *crypto.Identity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e.linkKeys = id.Keys
	e.linkID = id.NodeID
}

// detach drops e's memberships and links. Callers hold f.mu.
func (f *Fabric) detachLocked(e *Engine) {
	for id := range f.networks {
		f.releaseLocked(e, id)
	}
	for k, l := range f.links {
		if l.initiator == e || l.responder == e {
			delete(f.links, k)
		}
	}
	e.linkKeys = nil
}

// broadcastTargets maps every member reached by a broadcast from e to dst
// onto the source address e uses on that member's network. Callers hold
// f.mu.
func (f *Fabric) broadcastTargets(e *Engine, dst netip.Addr) map[*member]netip.Addr {
	limited := dst == netip.AddrFrom4([4]byte{255, 255, 255, 255})
	targets := make(map[*member]netip.Addr)
	for _, n := range f.networks {
		self, joined := n.members[e]
		if !joined {
			continue
		}
		if !limited && dst != lastAddr(n.prefix4) {
			continue
		}
		for _, m := range n.members {
			targets[m] = self.ip4
		}
	}
	return targets
}

func lastAddr(p netip.Prefix) netip.Addr {
	b := p.Masked().Addr().As4()
	host := uint32(1)<<(32-p.Bits()) - 1
	b[0] |= byte(host >> 24)
	b[1] |= byte(host >> 16)
	b[2] |= byte(host >> 8)
	b[3] |= byte(host)
	return netip.AddrFrom4(b)
}

// isBroadcast reports whether dst is a limited or subnet broadcast address
// of any network. Callers hold f.mu.
func (f *Fabric) isBroadcast(dst netip.Addr) bool {
	if !dst.Is4() {
		return false
	}
	if dst == netip.AddrFrom4([4]byte{255, 255, 255, 255}) {
		return true
	}
	for _, n := range f.networks {
		if dst == lastAddr(n.prefix4) {
			return true
		}
	}
	return false
}

type linkKey struct {
	lo, hi uint64
}

type link struct {
	initiator *Engine
	responder *Engine
	ini       *noise.Session
	res       *noise.Session
}

// linkFor returns the encrypted link between a and b, running the
// handshake on first use. Callers hold f.mu.
func (f *Fabric) linkFor(a, b *Engine) (*link, error) {
	key := linkKey{lo: a.linkID, hi: b.linkID}
	if key.lo > key.hi {
		key.lo, key.hi = key.hi, key.lo
	}
	if l, ok := f.links[key]; ok {
		return l, nil
	}
	if a.linkKeys == nil || b.linkKeys == nil {
		return nil, errNoLink
	}
	ini, res, err := noise.Establish(a.linkKeys, b.linkKeys)
	if err != nil {
		return nil, fmt.Errorf("link handshake: %w", err)
	}
	l := &link{initiator: a, responder: b, ini: ini, res: res}
	f.links[key] = l
	f.log.WithFields(logrus.Fields{
		"function": "linkFor",
		"from":     fmt.Sprintf("%010x", a.linkID),
		"to":       fmt.Sprintf("%010x", b.linkID),
	}).Debug("Link established")
	return l, nil
}

// transfer carries one frame from src to dst. Frames within a node are
// not encrypted. Callers hold f.mu.
func (f *Fabric) transfer(src, dst *Engine, payload []byte) ([]byte, error) {
	if src == dst {
		return payload, nil
	}
	l, err := f.linkFor(src, dst)
	if err != nil {
		return nil, err
	}
	seal, open := l.ini, l.res
	if src != l.initiator {
		seal, open = l.res, l.ini
	}
	frame, err := seal.Seal(payload)
	if err != nil {
		src.stats.linkDrop.Add(1)
		return nil, err
	}
	src.stats.linkTx.Add(1)
	out, err := open.Open(frame)
	if err != nil {
		dst.stats.linkDrop.Add(1)
		return nil, err
	}
	dst.stats.linkRx.Add(1)
	return out, nil
}

// carry transfers a stream payload in LinkMTU sized frames and returns the
// number of frames used. Callers hold f.mu.
func (f *Fabric) carry(src, dst *Engine, payload []byte) ([]byte, int, error) {
	if src == dst {
		return payload, (len(payload) + limits.LinkMTU - 1) / limits.LinkMTU, nil
	}
	out := make([]byte, 0, len(payload))
	frames := 0
	for off := 0; off < len(payload); off += limits.LinkMTU {
		end := min(off+limits.LinkMTU, len(payload))
		chunk, err := f.transfer(src, dst, payload[off:end])
		if err != nil {
			return nil, frames, err
		}
		out = append(out, chunk...)
		frames++
	}
	return out, frames, nil
}

// wait blocks on c until it is signalled or the deadline passes. It
// returns false only when the deadline had already passed. Callers hold
// f.mu.
func (f *Fabric) wait(c *sync.Cond, deadline time.Time) bool {
	if deadline.IsZero() {
		c.Wait()
		return true
	}
	d := time.Until(deadline)
	if d <= 0 {
		return false
	}
	t := time.AfterFunc(d, func() {
		f.mu.Lock()
		c.Broadcast()
		f.mu.Unlock()
	})
	c.Wait()
	t.Stop()
	return true
}

// timeoutDeadline returns when a call that started at start times out
// under timeout d. A timeout set while the call was already waiting counts
// from the moment it was set.
func timeoutDeadline(start, setAt time.Time, d time.Duration) time.Time {
	if d <= 0 {
		return time.Time{}
	}
	if setAt.After(start) {
		start = setAt
	}
	return start.Add(d)
}

func (s *vsocket) recvDeadline(start time.Time) time.Time {
	return timeoutDeadline(start, s.rcvSetAt, s.rcvTimeo)
}

func (s *vsocket) sendDeadline(start time.Time) time.Time {
	return timeoutDeadline(start, s.sndSetAt, s.sndTimeo)
}
