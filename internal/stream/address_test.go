package stream

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeAddress(t *testing.T) {
	encoded, err := ParseAndEncodeAddress("192.168.1.10")
	require.NoError(t, err)
	assert.Equal(t, [4]int8{64, 40, -127, -118}, encoded)

	encoded, err = ParseAndEncodeAddress("0.127.128.255")
	require.NoError(t, err)
	assert.Equal(t, [4]int8{-128, -1, 0, 127}, encoded)

	encoded, err = EncodeAddress(netip.MustParseAddr("::ffff:10.0.0.2"))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", DecodeAddress(encoded[0], encoded[1], encoded[2], encoded[3]).String())

	_, err = ParseAndEncodeAddress("2001:db8::1")
	assert.Error(t, err)
	_, err = ParseAndEncodeAddress("not-an-address")
	assert.Error(t, err)
}

func TestAddressRoundTrip(t *testing.T) {
	for v := 0; v < 256; v++ {
		octet := byte(v)
		addrs := []netip.Addr{
			netip.AddrFrom4([4]byte{octet, 0, 0, 0}),
			netip.AddrFrom4([4]byte{0, octet, 0, 0}),
			netip.AddrFrom4([4]byte{0, 0, octet, 0}),
			netip.AddrFrom4([4]byte{0, 0, 0, octet}),
			netip.AddrFrom4([4]byte{octet, 255 - octet, octet ^ 0x5a, octet / 2}),
		}
		for _, addr := range addrs {
			b, err := EncodeAddress(addr)
			require.NoError(t, err)
			assert.Equal(t, addr, DecodeAddress(b[0], b[1], b[2], b[3]))
		}
	}
}

func TestDecodeAddressCoversAllBytes(t *testing.T) {
	for v := -128; v <= 127; v++ {
		b := int8(v)
		addr := DecodeAddress(b, b, b, b)
		encoded, err := EncodeAddress(addr)
		require.NoError(t, err)
		assert.Equal(t, [4]int8{b, b, b, b}, encoded)
	}
}
