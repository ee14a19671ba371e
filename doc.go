// Package ztsock runs sockets over virtual networks of an encrypted
// peer-to-peer overlay.
//
// A [Node] drives one overlay engine through its lifecycle: it is
// configured, started, goes online, joins one or more virtual networks and
// receives an address on each. Once a network is ready, the net subpackage
// creates stream and datagram sockets against the node, exposed as the
// standard net.Conn, net.Listener and net.PacketConn interfaces.
//
// # Getting Started
//
//	fabric := vnet.NewFabric()
//	fabric.CreateNetwork(0x8056c2e21c000001)
//
//	opts := ztsock.NewOptions()
//	opts.StoragePath = "/var/lib/ztsock"
//	opts.Networks = []uint64{0x8056c2e21c000001}
//
//	node, err := ztsock.New(fabric.NewEngine(), opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Stop()
//
//	if err := node.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//	if err := node.WaitTransportReady(ctx, 0x8056c2e21c000001); err != nil {
//	    log.Fatal(err)
//	}
//
//	ln, err := net.ListenStream(ctx, node, "0.0.0.0:8080")
//
// # Lifecycle
//
// The node moves through [StateConfigured], [StateStarted],
// [StateOnline] and finally [StateStopped]. [Node.IsOnline] and
// [Node.IsTransportReady] poll the engine without blocking;
// [Node.WaitOnline] and [Node.WaitTransportReady] block until the
// condition holds, the context ends, or the network turns out not to
// exist. Engine events wake the waiters early and are forwarded to
// [Options.EventHandler].
//
// Sockets created before any network is ready fail with a
// [LifecycleError] wrapping [ErrNetworkNotReady]. [Node.Stop] closes every
// socket still open on the node and releases the engine; operations on a
// stopped node fail with [ErrNodeStopped].
//
// # Configuration
//
// [NewOptions] returns defaults, [LoadOptions] reads a YAML file and
// [ApplyEnvironment] applies ZTS_PORT, ZTS_STORAGE_PATH and
// ZTS_POLL_INTERVAL overrides.
//
// # Metrics
//
// [NewStatsCollector] exposes the engine's frame counters as a
// prometheus.Collector.
//
// # Thread Safety
//
// Node methods are safe for concurrent use. Event handlers run on a
// dedicated goroutine, one event at a time, in emission order.
package ztsock
