package sockaddr

import (
	"encoding/binary"
	"net/netip"
)

// RFC4193 returns the deterministic IPv6 address a node receives on a
// network with RFC 4193 addressing enabled:
//
//	fd | network id (8) | 99 93 | node id (5)
func RFC4193(netID, nodeID uint64) netip.Addr {
	var b [16]byte
	b[0] = 0xfd
	binary.BigEndian.PutUint64(b[1:9], netID)
	b[9] = 0x99
	b[10] = 0x93
	putNodeID(b[11:16], nodeID)
	return netip.AddrFrom16(b)
}

// SixPlane returns the node's 6PLANE address. The network id is folded to
// 32 bits and the last byte is 1:
//
//	fc | nwid[0:4] xor nwid[4:8] | node id (5) | 00 00 00 00 00 01
func SixPlane(netID, nodeID uint64) netip.Addr {
	var b [16]byte
	b[0] = 0xfc
	binary.BigEndian.PutUint32(b[1:5], uint32(netID>>32)^uint32(netID))
	putNodeID(b[5:10], nodeID)
	b[15] = 0x01
	return netip.AddrFrom16(b)
}

func putNodeID(dst []byte, nodeID uint64) {
	for i := 0; i < 5; i++ {
		dst[i] = byte(nodeID >> (8 * (4 - i)))
	}
}
