package packet

import (
	"encoding/binary"

	"github.com/groundwater/ghostvm-vnet/addr"
	"github.com/groundwater/ghostvm-vnet/wire"
	"github.com/groundwater/ghostvm-vnet/wire/ethernet"
	"github.com/groundwater/ghostvm-vnet/wire/icmpv4"
	"github.com/groundwater/ghostvm-vnet/wire/ipv4"
	"github.com/groundwater/ghostvm-vnet/wire/tcp"
	"github.com/groundwater/ghostvm-vnet/wire/udp"
)

// DefaultTTL is the TTL this router stamps on every IPv4 packet it
// synthesizes, per spec §4.1.
const DefaultTTL = 64

// writeEthernet fills the 14 byte Ethernet header into buf and returns the
// ethernet.Frame view over it.
func writeEthernet(buf []byte, dst, src addr.MAC, etherType ethernet.Type) (ethernet.Frame, error) {
	eth, err := ethernet.NewFrame(buf)
	if err != nil {
		return ethernet.Frame{}, err
	}
	*eth.Destination() = dst
	*eth.Source() = src
	eth.SetEtherType(etherType)
	return eth, nil
}

// BuildIPv4Header writes a standard IPv4 header into buf[ethOffset:] (20
// bytes, no options), with default TTL and the Don't-Fragment flag set per
// spec §4.1, and returns the ipv4.Frame view. id is caller-supplied (0 is
// valid and common for synthesized traffic).
func BuildIPv4Header(buf []byte, src, dst addr.IPv4, proto ipv4.Proto, id uint16, totalLength uint16) (ipv4.Frame, error) {
	ip, err := ipv4ViewForBuild(buf)
	if err != nil {
		return ipv4.Frame{}, err
	}
	ip.ClearHeader()
	ip.SetVersionAndIHL(4, 5)
	ip.SetToS(0)
	ip.SetTotalLength(totalLength)
	ip.SetID(id)
	ip.SetFlagsAndFragmentOffset(ipv4.FlagDontFragment)
	ip.SetTTL(DefaultTTL)
	ip.SetProtocol(proto)
	*ip.Source() = [4]byte(src)
	*ip.Destination() = [4]byte(dst)
	ip.SetChecksum(ip.CalculateHeaderChecksum())
	return ip, nil
}

func ipv4ViewForBuild(buf []byte) (ipv4.Frame, error) {
	if len(buf) < ipv4.HeaderLen {
		return ipv4.Frame{}, wire.ErrShortBuffer
	}
	// Build an initial valid-looking view: NewFrame rejects a version other
	// than 4, an IHL below 5 and a total length past the buffer, so set
	// version/IHL and a total length of the full buffer for now;
	// BuildIPv4Header overwrites everything before recomputing checksum.
	buf[0] = 0x45
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(buf)))
	return ipv4.NewFrame(buf)
}

// BuildICMPEchoReply constructs a full Ethernet+IPv4+ICMP echo reply frame
// in buf addressed back to the original requester, copying identifier,
// sequence and data from the request payload (spec §4.5 "ICMP echo to
// gateway"). buf must be at least 14+20+8+len(echoData) bytes.
func BuildICMPEchoReply(buf []byte, dstMAC addr.MAC, srcMAC addr.MAC, srcIP, dstIP addr.IPv4, id, seq uint16, echoData []byte) (int, error) {
	total := ethernet.HeaderLen + ipv4.HeaderLen + icmpv4.EchoHeaderLen + len(echoData)
	if len(buf) < total {
		return 0, wire.ErrShortBuffer
	}
	_, err := writeEthernet(buf, dstMAC, srcMAC, ethernet.TypeIPv4)
	if err != nil {
		return 0, err
	}
	ipBuf := buf[ethernet.HeaderLen:total]
	icmpLen := icmpv4.EchoHeaderLen + len(echoData)
	ip, err := BuildIPv4Header(ipBuf, srcIP, dstIP, ipv4.ProtoICMP, 0, uint16(ipv4.HeaderLen+icmpLen))
	if err != nil {
		return 0, err
	}
	icmp, err := icmpv4.NewFrame(ip.Payload())
	if err != nil {
		return 0, err
	}
	icmp.ClearHeader()
	icmp.SetType(icmpv4.TypeEchoReply)
	icmp.SetCode(0)
	icmp.SetIdentifier(id)
	icmp.SetSequence(seq)
	copy(icmp.Payload(), echoData)
	icmp.SetChecksum(0)
	icmp.SetChecksum(icmp.CalculateChecksum())
	return total, nil
}

// BuildUDP constructs a full Ethernet+IPv4+UDP frame in buf carrying payload,
// with a real computed UDP checksum (spec §4.1: "this router always computes
// a real one"). Returns the number of bytes written.
func BuildUDP(buf []byte, dstMAC, srcMAC addr.MAC, srcIP, dstIP addr.IPv4, srcPort, dstPort uint16, payload []byte) (int, error) {
	total := ethernet.HeaderLen + ipv4.HeaderLen + udp.HeaderLen + len(payload)
	if len(buf) < total {
		return 0, wire.ErrShortBuffer
	}
	if _, err := writeEthernet(buf, dstMAC, srcMAC, ethernet.TypeIPv4); err != nil {
		return 0, err
	}
	ipBuf := buf[ethernet.HeaderLen:total]
	udpLen := udp.HeaderLen + len(payload)
	ip, err := BuildIPv4Header(ipBuf, srcIP, dstIP, ipv4.ProtoUDP, 0, uint16(ipv4.HeaderLen+udpLen))
	if err != nil {
		return 0, err
	}
	u, err := udp.NewFrame(ip.Payload()[:udpLen])
	if err != nil {
		return 0, err
	}
	u.ClearHeader()
	u.SetSourcePort(srcPort)
	u.SetDestinationPort(dstPort)
	u.SetPayloadLength(len(payload))
	copy(u.Payload(), payload)

	var pseudo wire.Checksum791
	ip.WritePseudoHeader(&pseudo, uint16(udpLen))
	u.SetChecksum(udp.CalculateChecksum(pseudo, u))
	return total, nil
}

// BuildTCP constructs a full Ethernet+IPv4+TCP frame in buf. flags/seq/ack/
// window are caller-supplied since the guest-facing TCP state machine
// (package natsvc) owns sequence number bookkeeping; this function only
// assembles and checksums the wire bytes.
func BuildTCP(buf []byte, dstMAC, srcMAC addr.MAC, srcIP, dstIP addr.IPv4, srcPort, dstPort uint16, seq, ack uint32, flags tcp.Flags, window uint16, payload []byte) (int, error) {
	total := ethernet.HeaderLen + ipv4.HeaderLen + tcp.HeaderLen + len(payload)
	if len(buf) < total {
		return 0, wire.ErrShortBuffer
	}
	if _, err := writeEthernet(buf, dstMAC, srcMAC, ethernet.TypeIPv4); err != nil {
		return 0, err
	}
	ipBuf := buf[ethernet.HeaderLen:total]
	segLen := tcp.HeaderLen + len(payload)
	ip, err := BuildIPv4Header(ipBuf, srcIP, dstIP, ipv4.ProtoTCP, 0, uint16(ipv4.HeaderLen+segLen))
	if err != nil {
		return 0, err
	}
	seg := ip.Payload()[:segLen]
	seg[12] = (tcp.HeaderLen / 4) << 4 // NewFrame rejects a data offset below 5
	t, err := tcp.NewFrame(seg)
	if err != nil {
		return 0, err
	}
	t.ClearHeader()
	t.SetSourcePort(srcPort)
	t.SetDestinationPort(dstPort)
	t.SetSeq(seq)
	t.SetAck(ack)
	t.SetDataOffset(tcp.HeaderLen / 4)
	t.SetFlags(flags)
	t.SetWindowSize(window)
	copy(t.Payload(), payload)

	var pseudo wire.Checksum791
	ip.WritePseudoHeader(&pseudo, uint16(segLen))
	t.SetChecksum(tcp.CalculateChecksum(pseudo, t.RawData()))
	return total, nil
}
