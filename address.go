package ztsock

import (
	"net/netip"

	"github.com/opd-ai/ztsock/sockaddr"
)

// ComputeRFC4193 returns the RFC 4193 address nodeID receives on netID.
func ComputeRFC4193(netID, nodeID uint64) netip.Addr {
	return sockaddr.RFC4193(netID, nodeID)
}

// Compute6Plane returns the 6PLANE address nodeID receives on netID.
func Compute6Plane(netID, nodeID uint64) netip.Addr {
	return sockaddr.SixPlane(netID, nodeID)
}

// RFC4193Address returns this node's RFC 4193 address on netID. It is
// invalid before Start.
func (n *Node) RFC4193Address(netID uint64) netip.Addr {
	id := n.ID()
	if id == 0 {
		return netip.Addr{}
	}
	return ComputeRFC4193(netID, id)
}
