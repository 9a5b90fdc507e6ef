package addr

import (
	"fmt"
	"strconv"
	"strings"
)

// CIDR is an IPv4 network: a base address and prefix length.
type CIDR struct {
	Network IPv4
	Prefix  uint8 // 0..32
}

// ParseCIDR parses a "a.b.c.d/n" string into a CIDR, masking the network
// address to the prefix the way net.ParseCIDR does, or a bare "a.b.c.d"
// string into a /32 CIDR (a literal host, as firewall fields accept per spec §4.6).
func ParseCIDR(s string) (CIDR, error) {
	prefix := 32
	host := s
	if i := strings.IndexByte(s, '/'); i >= 0 {
		host = s[:i]
		n, err := strconv.Atoi(s[i+1:])
		if err != nil || n < 0 || n > 32 {
			return CIDR{}, fmt.Errorf("addr: invalid CIDR prefix in %q", s)
		}
		prefix = n
	}
	ip, err := ParseIPv4(host)
	if err != nil {
		return CIDR{}, fmt.Errorf("addr: invalid CIDR %q: %w", s, err)
	}
	c := CIDR{Network: ip, Prefix: uint8(prefix)}
	c.Network = IPv4FromUint32(ip.Uint32() & c.Mask())
	return c, nil
}

// ParseIPv4 parses a dotted-decimal IPv4 address.
func ParseIPv4(s string) (IPv4, error) {
	var ip IPv4
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return ip, fmt.Errorf("addr: %q is not a dotted-decimal IPv4 address", s)
	}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return IPv4{}, fmt.Errorf("addr: %q is not a dotted-decimal IPv4 address", s)
		}
		ip[i] = byte(n)
	}
	return ip, nil
}

// Mask returns the 32-bit network mask for the CIDR's prefix length.
func (c CIDR) Mask() uint32 {
	if c.Prefix == 0 {
		return 0
	}
	return ^uint32(0) << (32 - c.Prefix)
}

// Contains reports whether ip falls within the network.
func (c CIDR) Contains(ip IPv4) bool {
	mask := c.Mask()
	return ip.Uint32()&mask == c.Network.Uint32()&mask
}

// Broadcast returns the network's broadcast address (all host bits set).
func (c CIDR) Broadcast() IPv4 {
	return IPv4FromUint32(c.Network.Uint32() | ^c.Mask())
}

// FirstHost returns the first usable host address (network + 1), which is
// conventionally the gateway address for this router's /24-style LANs.
func (c CIDR) FirstHost() IPv4 {
	return IPv4FromUint32(c.Network.Uint32() + 1)
}

// LastHost returns the last usable host address (broadcast - 1).
func (c CIDR) LastHost() IPv4 {
	return IPv4FromUint32(c.Broadcast().Uint32() - 1)
}

func (c CIDR) String() string {
	return fmt.Sprintf("%s/%d", c.Network, c.Prefix)
}
