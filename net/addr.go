package net

import (
	"net"

	"github.com/opd-ai/ztsock/sockaddr"
)

// Addr implements net.Addr for an address on a virtual network.
type Addr struct {
	sockaddr.Address
	network string
}

func newAddr(network string, a sockaddr.Address) *Addr {
	return &Addr{Address: a, network: network}
}

// Network returns "tcp" or "udp".
func (a *Addr) Network() string {
	return a.network
}

// String returns host:port.
func (a *Addr) String() string {
	return a.Address.String()
}

// toSockaddr converts any supported net.Addr.
func toSockaddr(a net.Addr) (sockaddr.Address, error) {
	if za, ok := a.(*Addr); ok {
		return za.Address, nil
	}
	return sockaddr.FromNetAddr(a)
}
