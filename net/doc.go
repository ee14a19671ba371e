// Package net provides Go standard library networking interfaces over the
// virtual networks of a ztsock node.
//
// Every constructor takes the *ztsock.Node the socket belongs to. Sockets
// can only be created once one of the node's networks is ready; before
// that they fail with a ztsock.LifecycleError wrapping
// ztsock.ErrNetworkNotReady.
//
// The package provides:
//   - Addr: net.Addr for virtual network addresses
//   - StreamSocket: net.Conn for stream connections
//   - StreamListener: net.Listener accepting stream connections
//   - DatagramSocket: net.PacketConn for datagrams
//   - Dialer: DialContext compatible with net/http and friends
//   - Resolver: host names to virtual addresses
//   - Relay: bidirectional forwarding between two streams
//
// Example usage:
//
//	ln, err := ztnet.ListenStream(ctx, node, "0.0.0.0:8080")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ln.Close()
//
//	for conn, err := range ln.Incoming() {
//	    if err != nil {
//	        continue
//	    }
//	    go io.Copy(conn, conn)
//	}
//
// Deadlines are implemented with the SO_RCVTIMEO and SO_SNDTIMEO options:
// before each blocking call the time left until the deadline becomes the
// socket's timeout. A call that runs out of time fails with an error
// matching os.ErrDeadlineExceeded.
package net
