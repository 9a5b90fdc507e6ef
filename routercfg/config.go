// Package routercfg defines the router's immutable configuration (spec §3).
// A Config is built once, validated, and handed to vrouter.New; per spec
// §9 "Config immutability", there is no in-place mutation API — a policy
// change means constructing a new Config and a new router.
package routercfg

import (
	"fmt"
	"time"

	"github.com/groundwater/ghostvm-vnet/addr"
)

// Config is the complete, immutable configuration of one router instance.
type Config struct {
	NetworkID     string // stable id used to derive the gateway MAC deterministically.
	LAN           LAN
	DHCP          DHCP
	DNS           DNS
	Firewall      Firewall
	Aliases       Aliases
	PortForwards  []PortForward
}

// LAN describes the router's own L2/L3 identity on the guest fabric.
type LAN struct {
	GatewayIP addr.IPv4
	Subnet    addr.CIDR
	// GatewayMAC is derived from NetworkID via addr.GatewayMAC if left zero.
	GatewayMAC addr.MAC
}

// DHCP configures the DHCP server component (spec §4.3).
type DHCP struct {
	Enabled      bool
	RangeStart   addr.IPv4
	RangeEnd     addr.IPv4
	LeaseTTL     time.Duration
	StaticLeases []StaticLease
}

// StaticLease reserves an IP for a given MAC regardless of pool state.
type StaticLease struct {
	MAC      addr.MAC
	IP       addr.IPv4
	Hostname string
}

// DNSMode selects how the DNS forwarder resolves queries (spec §4.4).
type DNSMode uint8

const (
	DNSPassthrough DNSMode = iota
	DNSCustom
	DNSBlocked
)

// DNS configures the DNS forwarder component.
type DNS struct {
	Mode    DNSMode
	Servers []addr.IPv4 // used when Mode == DNSCustom
}

// PublicDefaultServers are the resolvers advertised over DHCP and used to
// forward queries when Mode == DNSPassthrough.
func (DNS) PublicDefaultServers() []addr.IPv4 {
	return []addr.IPv4{{8, 8, 8, 8}, {8, 8, 4, 4}}
}

// Policy is a firewall default/rule action (spec §4.6).
type Policy uint8

const (
	PolicyAllow Policy = iota
	PolicyBlock
)

// Direction is a firewall rule's traffic direction.
type Direction uint8

const (
	DirOutbound Direction = iota
	DirInbound
	DirBoth
)

// Layer selects whether a firewall rule matches L2 or L3 fields.
type Layer uint8

const (
	LayerL2 Layer = iota
	LayerL3
)

// IPProtoMatch is the L3 protocol a firewall rule matches against.
type IPProtoMatch uint8

const (
	ProtoAny IPProtoMatch = iota
	ProtoTCP
	ProtoUDP
	ProtoICMP
)

func (p IPProtoMatch) String() string {
	switch p {
	case ProtoTCP:
		return "tcp"
	case ProtoUDP:
		return "udp"
	case ProtoICMP:
		return "icmp"
	default:
		return "any"
	}
}

// Rule is one firewall rule. Exactly one of the L2 or L3 field sets is
// meaningful, selected by Layer.
type Rule struct {
	Enabled   bool
	Direction Direction
	Layer     Layer
	Action    Policy

	// L2 fields.
	SrcMAC         *addr.MAC
	DstMAC         *addr.MAC
	EtherType      *uint16
	BlockBroadcast bool

	// L3 fields. SrcCIDR/DstCIDR/SrcPort/DstPort may each reference an
	// alias name instead of a literal; see Aliases.Resolve*.
	SrcCIDR string
	DstCIDR string
	Proto   IPProtoMatch
	SrcPort string
	DstPort string
}

// Firewall is the ordered rule list plus default policy (spec §4.6).
type Firewall struct {
	Rules   []Rule
	Default Policy
}

// Aliases are named sets of hosts, networks or ports referenced by firewall
// rules (spec §4.6 / GLOSSARY "Alias").
type Aliases struct {
	Hosts    map[string][]string // CIDR or literal IP members
	Networks map[string][]string // CIDR members
	Ports    map[string][]uint16
}

// PortForward is one inbound port-forward rule (spec §4.7).
type PortForward struct {
	Proto        IPProtoMatch // ProtoTCP or ProtoUDP
	ExternalPort uint16
	InternalIP   addr.IPv4
	InternalPort uint16
	Enabled      bool
}

// Validate checks the configuration for the errors spec §7 classifies as
// "Configuration error at start": invalid CIDR, port collisions, and any
// other inconsistency that should abort Start rather than fail at runtime.
func (c Config) Validate() error {
	if !c.LAN.Subnet.Contains(c.LAN.GatewayIP) {
		return fmt.Errorf("routercfg: gateway IP %s not inside subnet %s", c.LAN.GatewayIP, c.LAN.Subnet)
	}
	if c.DHCP.Enabled {
		if !c.LAN.Subnet.Contains(c.DHCP.RangeStart) || !c.LAN.Subnet.Contains(c.DHCP.RangeEnd) {
			return fmt.Errorf("routercfg: DHCP range %s-%s not inside subnet %s", c.DHCP.RangeStart, c.DHCP.RangeEnd, c.LAN.Subnet)
		}
		if c.DHCP.RangeStart.Compare(c.DHCP.RangeEnd) > 0 {
			return fmt.Errorf("routercfg: DHCP range start %s is after end %s", c.DHCP.RangeStart, c.DHCP.RangeEnd)
		}
		if c.DHCP.LeaseTTL <= 0 {
			return fmt.Errorf("routercfg: DHCP lease TTL must be positive")
		}
		seenIP := map[addr.IPv4]addr.MAC{}
		seenMAC := map[addr.MAC]addr.IPv4{}
		for _, s := range c.DHCP.StaticLeases {
			if other, ok := seenIP[s.IP]; ok && other != s.MAC {
				return fmt.Errorf("routercfg: static lease IP %s reserved twice", s.IP)
			}
			if other, ok := seenMAC[s.MAC]; ok && other != s.IP {
				return fmt.Errorf("routercfg: static lease MAC %s reserved twice", s.MAC)
			}
			seenIP[s.IP] = s.MAC
			seenMAC[s.MAC] = s.IP
		}
	}
	if c.DNS.Mode == DNSCustom && len(c.DNS.Servers) == 0 {
		return fmt.Errorf("routercfg: DNS mode custom requires at least one server")
	}
	seenExternal := map[string]bool{}
	for _, pf := range c.PortForwards {
		if !pf.Enabled {
			continue
		}
		if pf.Proto != ProtoTCP && pf.Proto != ProtoUDP {
			return fmt.Errorf("routercfg: port forward on external port %d has unsupported protocol", pf.ExternalPort)
		}
		key := fmt.Sprintf("%d/%d", pf.Proto, pf.ExternalPort)
		if seenExternal[key] {
			return fmt.Errorf("routercfg: duplicate port forward for external port %d", pf.ExternalPort)
		}
		seenExternal[key] = true
	}
	return nil
}

// ResolvedGatewayMAC returns LAN.GatewayMAC if set, else derives one
// deterministically from NetworkID (spec §3 "derived deterministically from
// a stable network-id so restarts keep the same MAC").
func (c Config) ResolvedGatewayMAC() addr.MAC {
	if !c.LAN.GatewayMAC.IsZero() {
		return c.LAN.GatewayMAC
	}
	return addr.GatewayMAC(c.NetworkID)
}
