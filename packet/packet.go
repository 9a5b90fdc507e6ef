// Package packet implements the router's Parser/Builder (spec §4.1): it
// decodes a raw Ethernet frame into a tagged Packet variant without copying
// payload bytes, and builds fully checksummed frames back out.
package packet

import (
	"errors"

	"github.com/groundwater/ghostvm-vnet/wire/arpwire"
	"github.com/groundwater/ghostvm-vnet/wire/ethernet"
	"github.com/groundwater/ghostvm-vnet/wire/icmpv4"
	"github.com/groundwater/ghostvm-vnet/wire/ipv4"
	"github.com/groundwater/ghostvm-vnet/wire/tcp"
	"github.com/groundwater/ghostvm-vnet/wire/udp"
)

// Kind tags which arm of Packet is populated.
type Kind uint8

const (
	KindUnknownEther Kind = iota
	KindUnknownIPv4
	KindARP
	KindICMP
	KindTCP
	KindUDP
)

func (k Kind) String() string {
	switch k {
	case KindARP:
		return "arp"
	case KindICMP:
		return "icmp"
	case KindTCP:
		return "tcp"
	case KindUDP:
		return "udp"
	case KindUnknownIPv4:
		return "unknown-ipv4"
	default:
		return "unknown-ether"
	}
}

// Packet is the tagged variant produced by Parse. Exactly the fields
// relevant to Kind are populated; the rest are zero. Every arm keeps the
// Ethernet frame so dispatchers can inspect/rewrite L2 addressing.
type Packet struct {
	Kind Kind
	Eth  ethernet.Frame

	ARP  arpwire.Frame // KindARP
	IP   ipv4.Frame    // KindICMP, KindTCP, KindUDP, KindUnknownIPv4
	ICMP icmpv4.Frame  // KindICMP
	TCP  tcp.Frame     // KindTCP
	UDP  udp.Frame     // KindUDP
}

var (
	ErrShortFrame = errors.New("packet: frame too short")
)

// Parse decodes frame (a single Ethernet-II datagram as handed over by the
// guest channel) into a Packet. It returns an error only for conditions the
// spec treats as a dropped/malformed frame at the Ethernet layer itself
// (short buffer); anything it cannot further decode becomes KindUnknownEther
// or KindUnknownIPv4 so L2 firewall rules can still inspect it, matching
// spec §4.1: "Unknown EtherTypes or IP protocols surface as unknownEther/
// unknownIPv4, not errors".
func Parse(frame []byte) (Packet, error) {
	eth, err := ethernet.NewFrame(frame)
	if err != nil {
		return Packet{}, ErrShortFrame
	}
	p := Packet{Kind: KindUnknownEther, Eth: eth}

	switch eth.EtherType() {
	case ethernet.TypeARP:
		arp, err := arpwire.NewFrame(eth.Payload())
		if err != nil {
			return p, nil // malformed ARP surfaces as unknown ether, not an error.
		}
		p.Kind = KindARP
		p.ARP = arp
		return p, nil

	case ethernet.TypeIPv4:
		ip, err := ipv4.NewFrame(eth.Payload())
		if err != nil {
			return p, nil
		}
		p.IP = ip
		p.Kind = KindUnknownIPv4

		switch ip.Protocol() {
		case ipv4.ProtoICMP:
			icmp, err := icmpv4.NewFrame(ip.Payload())
			if err != nil {
				return p, nil
			}
			p.Kind = KindICMP
			p.ICMP = icmp

		case ipv4.ProtoTCP:
			t, err := tcp.NewFrame(ip.Payload())
			if err != nil {
				return p, nil
			}
			p.Kind = KindTCP
			p.TCP = t

		case ipv4.ProtoUDP:
			u, err := udp.NewFrame(ip.Payload())
			if err != nil {
				return p, nil
			}
			p.Kind = KindUDP
			p.UDP = u
		}
		return p, nil

	default:
		return p, nil
	}
}
