// Package vnet is an in-process implementation of engine.Engine.
//
// A Fabric stands in for the overlay: it knows which virtual networks exist,
// assigns addresses to members and carries frames between nodes. Each node
// is an *Engine created with Fabric.NewEngine. Traffic between two different
// nodes goes through a Noise IK link keyed by the nodes' identities; traffic
// inside one node is delivered directly.
//
//	fabric := vnet.NewFabric()
//	fabric.CreateNetwork(0x8056c2e21c000001)
//	eng := fabric.NewEngine()
//
// Addressing follows ZeroTier conventions. Every network gets a 10.x.y.0/24
// IPv4 subnet derived from its id, with hosts numbered from .1 in join
// order, and every member gets its RFC 4193 IPv6 address.
//
// The socket layer implements the parts of BSD semantics the runtime relies
// on: bind conflicts, ephemeral ports, listen backlogs, stream flow control
// bounded by SO_RCVBUF, half-close, datagram boundaries and truncation,
// SO_BROADCAST, connected datagram filtering, SO_RCVTIMEO and SO_SNDTIMEO,
// and non-blocking mode. Handles are never reused.
package vnet
