package stream

import (
	"fmt"
	"net/netip"
)

// The host transports each address octet as a signed byte, shifted down by
// addressOffset. The receiving side adds it back.
const addressOffset = 128

// EncodeAddress converts an IPv4 address into the four signed bytes passed
// to StreamStart.
func EncodeAddress(addr netip.Addr) ([4]int8, error) {
	var out [4]int8
	addr = addr.Unmap()
	if !addr.Is4() {
		return out, fmt.Errorf("destination %s is not an IPv4 address", addr)
	}
	for i, octet := range addr.As4() {
		out[i] = int8(int(octet) - addressOffset)
	}
	return out, nil
}

// ParseAndEncodeAddress parses a dotted IPv4 address and encodes it.
func ParseAndEncodeAddress(s string) ([4]int8, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return [4]int8{}, fmt.Errorf("invalid destination address %q: %w", s, err)
	}
	return EncodeAddress(addr)
}

// DecodeAddress reverses EncodeAddress.
func DecodeAddress(b0, b1, b2, b3 int8) netip.Addr {
	return netip.AddrFrom4([4]byte{
		byte(int(b0) + addressOffset),
		byte(int(b1) + addressOffset),
		byte(int(b2) + addressOffset),
		byte(int(b3) + addressOffset),
	})
}
