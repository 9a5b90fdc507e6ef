// Package addr holds the address primitives shared across the router:
// hardware addresses, IPv4 addresses and CIDR networks.
package addr

import (
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// MAC is a 6 byte IEEE 802 hardware address.
type MAC [6]byte

// ParseMAC parses a colon-separated hex MAC address, e.g. "02:11:22:33:44:55".
func ParseMAC(s string) (MAC, error) {
	var m MAC
	if len(s) != 17 {
		return m, fmt.Errorf("addr: %q is not a colon-separated MAC address", s)
	}
	n, err := fmt.Sscanf(s, "%02x:%02x:%02x:%02x:%02x:%02x", &m[0], &m[1], &m[2], &m[3], &m[4], &m[5])
	if err != nil || n != 6 {
		return MAC{}, fmt.Errorf("addr: %q is not a colon-separated MAC address", s)
	}
	return m, nil
}

// Broadcast is the all-ones Ethernet broadcast address.
func Broadcast() MAC { return MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff} }

// IsBroadcast reports whether m is the broadcast address.
func (m MAC) IsBroadcast() bool { return m == Broadcast() }

// IsZero reports whether m is the all-zero address.
func (m MAC) IsZero() bool { return m == MAC{} }

func (m MAC) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", m[0], m[1], m[2], m[3], m[4], m[5])
}

// GatewayMAC deterministically derives the router's own hardware address
// from a stable network identifier, so restarts of the same virtual
// network keep the same gateway MAC (spec §3 lan.gateway MAC). The
// identifier is hashed with BLAKE2b-256 (from golang.org/x/crypto, the
// teacher's own direct dependency) and the first 6 bytes of the digest are
// used, with the locally-administered bit set and the multicast bit
// cleared so the result is always a valid unicast, locally-administered MAC.
func GatewayMAC(networkID string) MAC {
	sum := blake2b.Sum256([]byte("ghostvm-vnet/gateway-mac/" + networkID))
	var m MAC
	copy(m[:], sum[:6])
	m[0] = (m[0] &^ 0x01) | 0x02
	return m
}
