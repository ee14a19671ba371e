// Package sockaddr converts between the engine's raw socket address storage
// and typed network addresses.
//
// The engine uses the lwIP structure layout. Both structures start with a
// length byte and a family byte, followed by the port in network byte order:
//
//	sockaddr_in  (16 bytes): len family port[2] addr[4] zero[8]
//	sockaddr_in6 (28 bytes): len family port[2] flowinfo[4] addr[16] scope_id[4]
//
// The flow label is stored in network byte order and the scope id in host
// byte order. Decode and Encode are pure and never reinterpret memory.
package sockaddr

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"github.com/opd-ai/ztsock/engine"
)

const (
	// SizeofInet is the length of an IPv4 socket address structure.
	SizeofInet = 16
	// SizeofInet6 is the length of an IPv6 socket address structure.
	SizeofInet6 = 28
	// SizeofStorage is large enough for any supported address.
	SizeofStorage = SizeofInet6
)

// ErrAddressFamily is matched by every FamilyError.
var ErrAddressFamily = errors.New("unsupported address family")

// ErrZonedAddress rejects an IP that still carries a zone. Raw storage
// only has the numeric ScopeID field.
var ErrZonedAddress = errors.New("sockaddr: zone must be carried in ScopeID")

// FamilyError reports raw storage that does not hold a supported address,
// or an address that cannot be encoded.
type FamilyError struct {
	Family int
	Len    int
}

func (e *FamilyError) Error() string {
	if e.Family == engine.AF_INET || e.Family == engine.AF_INET6 {
		return fmt.Sprintf("sockaddr: truncated address for family %d (%d bytes)", e.Family, e.Len)
	}
	return fmt.Sprintf("sockaddr: unsupported address family %d", e.Family)
}

func (e *FamilyError) Is(target error) bool {
	return target == ErrAddressFamily
}

// Address is an IPv4 or IPv6 socket address. An IPv4-mapped IPv6 address is
// treated as IPv6. FlowInfo and ScopeID are only meaningful for IPv6.
type Address struct {
	IP       netip.Addr
	Port     uint16
	FlowInfo uint32
	ScopeID  uint32
}

// FromAddrPort builds an Address without flow information. A numeric
// zone moves into ScopeID.
func FromAddrPort(ap netip.AddrPort) Address {
	return New(ap.Addr(), ap.Port())
}

// New returns the address ip:port. A numeric zone moves into ScopeID; any
// other zone is kept and refused by Encode.
func New(ip netip.Addr, port uint16) Address {
	a := Address{IP: ip, Port: port}
	if zone := ip.Zone(); zone != "" {
		if id, err := strconv.ParseUint(zone, 10, 32); err == nil {
			a.IP = ip.WithZone("")
			a.ScopeID = uint32(id)
		}
	}
	return a
}

// Parse parses a literal "host:port" address. The host must be an IP
// address; use a resolver for names.
func Parse(s string) (Address, error) {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return Address{}, err
	}
	out := FromAddrPort(ap)
	if zone := out.IP.Zone(); zone != "" {
		return Address{}, fmt.Errorf("sockaddr: non-numeric zone %q", zone)
	}
	return out, nil
}

// FromNetAddr converts *net.TCPAddr, *net.UDPAddr and *net.IPAddr values.
func FromNetAddr(a net.Addr) (Address, error) {
	var (
		ip   net.IP
		port int
		zone string
	)
	switch v := a.(type) {
	case *net.TCPAddr:
		ip, port, zone = v.IP, v.Port, v.Zone
	case *net.UDPAddr:
		ip, port, zone = v.IP, v.Port, v.Zone
	case *net.IPAddr:
		ip, zone = v.IP, v.Zone
	default:
		return Address{}, fmt.Errorf("sockaddr: unsupported address type %T", a)
	}
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return Address{}, &FamilyError{Family: engine.AF_UNSPEC}
	}
	// net.IP keeps IPv4 addresses in their 16 byte mapped form.
	if ip.To4() != nil {
		addr = addr.Unmap()
	}
	out := Address{IP: addr, Port: uint16(port)}
	if zone != "" {
		if id, err := strconv.ParseUint(zone, 10, 32); err == nil {
			out.ScopeID = uint32(id)
		}
	}
	return out, nil
}

// Family returns AF_INET, AF_INET6 or AF_UNSPEC for an invalid address.
func (a Address) Family() int {
	switch {
	case a.IP.Is4():
		return engine.AF_INET
	case a.IP.Is6():
		return engine.AF_INET6
	default:
		return engine.AF_UNSPEC
	}
}

// IsValid reports whether the address has an IP.
func (a Address) IsValid() bool {
	return a.IP.IsValid()
}

// AddrPort drops flow and scope information.
func (a Address) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(a.IP, a.Port)
}

// Host returns the textual host form the engine's connect and bind calls
// expect.
func (a Address) Host() string {
	return a.IP.WithZone("").String()
}

// TCPAddr converts the address for use with the net package.
func (a Address) TCPAddr() *net.TCPAddr {
	return &net.TCPAddr{IP: a.IP.AsSlice(), Port: int(a.Port), Zone: a.zone()}
}

// UDPAddr converts the address for use with the net package.
func (a Address) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: a.IP.AsSlice(), Port: int(a.Port), Zone: a.zone()}
}

func (a Address) zone() string {
	if a.ScopeID == 0 || !a.IP.Is6() {
		return ""
	}
	return strconv.FormatUint(uint64(a.ScopeID), 10)
}

func (a Address) String() string {
	if !a.IP.IsValid() {
		return "invalid"
	}
	return netip.AddrPortFrom(a.IP.WithZone(a.zone()), a.Port).String()
}
