package sockaddr

import (
	"errors"
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/ztsock/engine"
)

func TestCodecRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		addr Address
		size int
	}{
		{"ipv4", New(netip.MustParseAddr("10.147.17.3"), 8080), SizeofInet},
		{"ipv4 any port 0", New(netip.IPv4Unspecified(), 0), SizeofInet},
		{"ipv4 max port", New(netip.MustParseAddr("255.255.255.255"), 65535), SizeofInet},
		{"ipv6", New(netip.MustParseAddr("fd80:56c2:e21c:0:199:9383:4a02:1"), 9993), SizeofInet6},
		{"ipv6 flow and scope", Address{
			IP:       netip.MustParseAddr("fe80::1"),
			Port:     443,
			FlowInfo: 0x000abcde,
			ScopeID:  7,
		}, SizeofInet6},
		{"ipv4 mapped stays ipv6", New(netip.MustParseAddr("::ffff:10.0.0.1"), 1), SizeofInet6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := Encode(tt.addr)
			require.NoError(t, err)
			assert.Equal(t, tt.size, raw.Len)
			assert.Equal(t, byte(tt.size), raw.Data[0])
			assert.Equal(t, tt.addr.Family(), raw.Family())

			got, err := Decode(&raw)
			require.NoError(t, err)
			assert.Equal(t, tt.addr, got)
		})
	}
}

func TestEncodeLayout(t *testing.T) {
	raw, err := Encode(New(netip.MustParseAddr("192.168.1.2"), 0x1234))
	require.NoError(t, err)

	want := []byte{16, engine.AF_INET, 0x12, 0x34, 192, 168, 1, 2, 0, 0, 0, 0, 0, 0, 0, 0}
	assert.Equal(t, want, raw.Bytes())

	raw6, err := Encode(Address{IP: netip.MustParseAddr("::1"), Port: 80, FlowInfo: 0x01020304})
	require.NoError(t, err)
	b := raw6.Bytes()
	assert.Equal(t, []byte{28, engine.AF_INET6, 0, 80, 1, 2, 3, 4}, b[:8])
	assert.Equal(t, byte(1), b[23])
}

func TestDecodeRejectsUnknownFamily(t *testing.T) {
	var raw RawStorage
	raw.Len = SizeofStorage
	raw.Data[1] = 1 // AF_UNIX

	_, err := Decode(&raw)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAddressFamily))

	var fe *FamilyError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, 1, fe.Family)
}

func TestDecodeRejectsTruncated(t *testing.T) {
	raw, err := Encode(New(netip.MustParseAddr("fd00::1"), 1))
	require.NoError(t, err)
	raw.Len = SizeofInet

	_, err = Decode(&raw)
	assert.ErrorIs(t, err, ErrAddressFamily)

	_, err = DecodeBytes(nil)
	assert.ErrorIs(t, err, ErrAddressFamily)
}

func TestEncodeInvalid(t *testing.T) {
	_, err := Encode(Address{})
	assert.ErrorIs(t, err, ErrAddressFamily)

	_, err = EncodeTo(make([]byte, 8), New(netip.MustParseAddr("10.0.0.1"), 1))
	assert.ErrorIs(t, err, ErrAddressFamily)
}

func TestZonedAddresses(t *testing.T) {
	a := New(netip.MustParseAddr("fe80::1%7"), 80)
	assert.Equal(t, "", a.IP.Zone())
	assert.Equal(t, uint32(7), a.ScopeID)

	raw, err := Encode(a)
	require.NoError(t, err)
	got, err := Decode(&raw)
	require.NoError(t, err)
	assert.Equal(t, a, got)

	// A zone left on the IP cannot be represented in raw storage.
	_, err = Encode(Address{IP: netip.MustParseAddr("fe80::1%7"), Port: 80})
	assert.ErrorIs(t, err, ErrZonedAddress)
	_, err = Encode(New(netip.MustParseAddr("fe80::1%eth0"), 80))
	assert.ErrorIs(t, err, ErrZonedAddress)
}

func TestParse(t *testing.T) {
	a, err := Parse("10.1.2.3:99")
	require.NoError(t, err)
	assert.Equal(t, engine.AF_INET, a.Family())
	assert.Equal(t, uint16(99), a.Port)
	assert.Equal(t, "10.1.2.3", a.Host())

	a, err = Parse("[fe80::1%4]:22")
	require.NoError(t, err)
	assert.Equal(t, uint32(4), a.ScopeID)
	assert.Equal(t, "fe80::1", a.Host())
	assert.Equal(t, "[fe80::1%4]:22", a.String())

	_, err = Parse("example.com:80")
	assert.Error(t, err)
}

func TestFromNetAddr(t *testing.T) {
	a, err := FromNetAddr(&net.TCPAddr{IP: net.ParseIP("10.0.0.9"), Port: 7})
	require.NoError(t, err)
	assert.True(t, a.IP.Is4())
	assert.Equal(t, "10.0.0.9:7", a.String())

	a, err = FromNetAddr(&net.UDPAddr{IP: net.ParseIP("fd00::2"), Port: 5, Zone: "3"})
	require.NoError(t, err)
	assert.True(t, a.IP.Is6())
	assert.Equal(t, uint32(3), a.ScopeID)

	back := a.UDPAddr()
	assert.Equal(t, "3", back.Zone)
	assert.Equal(t, 5, back.Port)

	_, err = FromNetAddr(&net.UnixAddr{Name: "/tmp/x", Net: "unix"})
	assert.Error(t, err)
}

func TestForFamily(t *testing.T) {
	v4 := New(netip.MustParseAddr("10.0.0.1"), 1)
	mapped := ForFamily(v4, engine.AF_INET6)
	assert.True(t, mapped.IP.Is4In6())
	assert.Equal(t, v4, ForFamily(mapped, engine.AF_INET))
	assert.Equal(t, v4, ForFamily(v4, engine.AF_INET))
}
