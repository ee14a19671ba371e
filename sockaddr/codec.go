package sockaddr

import (
	"encoding/binary"
	"net/netip"

	"github.com/opd-ai/ztsock/engine"
)

// RawStorage is the engine's socket address storage. Len is the number of
// valid bytes in Data; engine calls that fill the storage update it.
type RawStorage struct {
	Data [SizeofStorage]byte
	Len  int
}

// Reset prepares the storage to be filled by an engine call.
func (r *RawStorage) Reset() {
	*r = RawStorage{Len: SizeofStorage}
}

// Bytes returns the valid portion of the storage.
func (r *RawStorage) Bytes() []byte {
	n := r.Len
	if n < 0 {
		n = 0
	}
	if n > SizeofStorage {
		n = SizeofStorage
	}
	return r.Data[:n]
}

// Family returns the family byte, or AF_UNSPEC for empty storage.
func (r *RawStorage) Family() int {
	if r.Len < 2 {
		return engine.AF_UNSPEC
	}
	return int(r.Data[1])
}

// Decode converts raw storage into an Address.
func Decode(r *RawStorage) (Address, error) {
	return DecodeBytes(r.Bytes())
}

// DecodeBytes converts a raw socket address structure into an Address.
func DecodeBytes(b []byte) (Address, error) {
	if len(b) < 2 {
		return Address{}, &FamilyError{Family: engine.AF_UNSPEC, Len: len(b)}
	}
	family := int(b[1])
	switch family {
	case engine.AF_INET:
		if len(b) < SizeofInet {
			return Address{}, &FamilyError{Family: family, Len: len(b)}
		}
		return Address{
			IP:   netip.AddrFrom4([4]byte(b[4:8])),
			Port: binary.BigEndian.Uint16(b[2:4]),
		}, nil
	case engine.AF_INET6:
		if len(b) < SizeofInet6 {
			return Address{}, &FamilyError{Family: family, Len: len(b)}
		}
		return Address{
			IP:       netip.AddrFrom16([16]byte(b[8:24])),
			Port:     binary.BigEndian.Uint16(b[2:4]),
			FlowInfo: binary.BigEndian.Uint32(b[4:8]),
			ScopeID:  binary.NativeEndian.Uint32(b[24:28]),
		}, nil
	default:
		return Address{}, &FamilyError{Family: family, Len: len(b)}
	}
}

// Encode converts an Address into raw storage. Unused bytes are zero.
func Encode(a Address) (RawStorage, error) {
	var r RawStorage
	n, err := EncodeTo(r.Data[:], a)
	if err != nil {
		return RawStorage{}, err
	}
	r.Len = n
	return r, nil
}

// EncodeTo writes a into b and returns the structure length. b must hold at
// least SizeofInet or SizeofInet6 bytes for the address family.
func EncodeTo(b []byte, a Address) (int, error) {
	if a.IP.Zone() != "" {
		return 0, ErrZonedAddress
	}
	switch {
	case a.IP.Is4():
		if len(b) < SizeofInet {
			return 0, &FamilyError{Family: engine.AF_INET, Len: len(b)}
		}
		clear(b[:SizeofInet])
		b[0] = SizeofInet
		b[1] = engine.AF_INET
		binary.BigEndian.PutUint16(b[2:4], a.Port)
		ip := a.IP.As4()
		copy(b[4:8], ip[:])
		return SizeofInet, nil
	case a.IP.Is6():
		if len(b) < SizeofInet6 {
			return 0, &FamilyError{Family: engine.AF_INET6, Len: len(b)}
		}
		clear(b[:SizeofInet6])
		b[0] = SizeofInet6
		b[1] = engine.AF_INET6
		binary.BigEndian.PutUint16(b[2:4], a.Port)
		binary.BigEndian.PutUint32(b[4:8], a.FlowInfo)
		ip := a.IP.As16()
		copy(b[8:24], ip[:])
		binary.NativeEndian.PutUint32(b[24:28], a.ScopeID)
		return SizeofInet6, nil
	default:
		return 0, &FamilyError{Family: engine.AF_UNSPEC}
	}
}

// ForFamily maps an address into the given socket family. IPv4 addresses
// become IPv4-mapped IPv6 addresses for AF_INET6 sockets and mapped
// addresses are unmapped for AF_INET sockets.
func ForFamily(a Address, family int) Address {
	switch {
	case family == engine.AF_INET6 && a.IP.Is4():
		a.IP = netip.AddrFrom16(a.IP.As16())
	case family == engine.AF_INET && a.IP.Is4In6():
		a.IP = a.IP.Unmap()
	}
	return a
}
