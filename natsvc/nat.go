package natsvc

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/groundwater/ghostvm-vnet/addr"
	"github.com/groundwater/ghostvm-vnet/internal/ratelog"
	"github.com/groundwater/ghostvm-vnet/packet"
	"github.com/groundwater/ghostvm-vnet/wire/tcp"
)

// UDPIdleTimeout and TCPFinWaitTimeout implement spec §4.5 "Timeouts".
const (
	UDPIdleTimeout    = 60 * time.Second
	TCPFinWaitTimeout = 30 * time.Second
	SweepInterval     = 30 * time.Second
)

// Dialer opens outbound sockets to the real internet (spec §6 "Upstream
// socket factory").
type Dialer interface {
	DialUDP(ctx context.Context, raddr string) (net.Conn, error)
	DialTCP(ctx context.Context, raddr string) (net.Conn, error)
}

// FrameWriter hands a fully built Ethernet frame back to the guest.
type FrameWriter interface {
	WriteFrame(frame []byte) error
}

// NAT ties the association Table to a Dialer and the guest egress path.
type NAT struct {
	table      *Table
	dialer     Dialer
	egress     FrameWriter
	gatewayMAC addr.MAC
	log        *slog.Logger

	exhaustedOnce *ratelog.Limiter
}

// New builds a NAT engine. gatewayMAC is stamped as the source address of
// every frame synthesized back toward the guest.
func New(dialer Dialer, egress FrameWriter, gatewayMAC addr.MAC, log *slog.Logger) *NAT {
	if log == nil {
		log = slog.Default()
	}
	return &NAT{
		table:         NewTable(),
		dialer:        dialer,
		egress:        egress,
		gatewayMAC:    gatewayMAC,
		log:           log,
		exhaustedOnce: ratelog.Every(time.Minute),
	}
}

// Count returns the active NAT entry count (spec §6 observable state).
func (n *NAT) Count() int { return n.table.Count() }

// Stop cancels every upstream handle and clears the table (spec §5
// "Cancellation").
func (n *NAT) Stop() {
	for _, e := range n.table.Clear() {
		e.Upstream.Close()
	}
}

// Sweep runs the periodic eviction pass (spec §4.5 "A 30s periodic sweeper
// performs eviction").
func (n *NAT) Sweep(now time.Time) {
	for _, e := range n.table.Sweep(now, UDPIdleTimeout, TCPFinWaitTimeout) {
		e.Upstream.Close()
	}
}

func (n *NAT) logExhausted(proto Proto) {
	n.exhaustedOnce.Do(func() {
		n.log.Warn("natsvc: port pool exhausted", slog.String("proto", proto.String()))
	})
}

// HandleOutboundUDP implements spec §4.5's UDP path: allocate-or-reuse a
// mapping, forward payload to the flow's upstream socket, refreshing
// last_activity.
func (n *NAT) HandleOutboundUDP(now time.Time, clientMAC addr.MAC, srcIP addr.IPv4, srcPort uint16, dstIP addr.IPv4, dstPort uint16, payload []byte) {
	key := FlowKey{Proto: ProtoUDP, SrcIP: srcIP, SrcPort: srcPort, DstIP: dstIP, DstPort: dstPort}
	entry, ok := n.table.Lookup(key)
	if !ok {
		conn, err := n.dialer.DialUDP(context.Background(), net.JoinHostPort(dstIP.String(), itoa(dstPort)))
		if err != nil {
			n.log.Debug("natsvc: udp dial failed", slog.String("err", err.Error()))
			return
		}
		entry = &Entry{Key: key, ClientMAC: clientMAC, Upstream: conn, LastActivity: now}
		if err := n.table.Insert(entry); err != nil {
			conn.Close()
			n.logExhausted(ProtoUDP)
			return
		}
		go n.pumpUDPUpstream(entry)
	}
	n.table.Touch(key, now)
	if _, err := entry.Upstream.Write(payload); err != nil {
		n.table.Remove(entry)
		entry.Upstream.Close()
	}
}

// pumpUDPUpstream relays every datagram received on entry's upstream socket
// back to the guest, rewritten as src=dst_ip/dst_port, dst=client_ip/
// original_src_port (spec §4.5).
func (n *NAT) pumpUDPUpstream(entry *Entry) {
	buf := make([]byte, 65535)
	for {
		nb, err := entry.Upstream.Read(buf)
		if err != nil {
			n.table.Remove(entry)
			entry.Upstream.Close()
			return
		}
		outbuf := make([]byte, 14+20+8+nb)
		k := entry.Key
		wn, err := packet.BuildUDP(outbuf, entry.ClientMAC, n.gatewayMAC, k.DstIP, k.SrcIP, k.DstPort, k.SrcPort, buf[:nb])
		if err != nil {
			n.log.Warn("natsvc: failed to build udp reply", slog.String("err", err.Error()))
			continue
		}
		if err := n.egress.WriteFrame(outbuf[:wn]); err != nil {
			n.log.Warn("natsvc: failed to write udp reply frame", slog.String("err", err.Error()))
		}
		n.table.Touch(k, time.Now())
	}
}

// HandleOutboundTCP implements spec §4.5's TCP path, running the guest-
// facing TCP state machine described in tcpflow.go.
func (n *NAT) HandleOutboundTCP(now time.Time, clientMAC addr.MAC, srcIP addr.IPv4, srcPort uint16, dstIP addr.IPv4, dstPort uint16, seg tcp.Frame) {
	key := FlowKey{Proto: ProtoTCP, SrcIP: srcIP, SrcPort: srcPort, DstIP: dstIP, DstPort: dstPort}
	entry, ok := n.table.Lookup(key)
	flags := seg.Flags()

	if !ok {
		if !flags.Has(tcp.FlagSYN) {
			return // no entry and not a SYN: nothing to do with this segment.
		}
		conn, err := n.dialer.DialTCP(context.Background(), net.JoinHostPort(dstIP.String(), itoa(dstPort)))
		if err != nil {
			n.log.Debug("natsvc: tcp dial failed", slog.String("err", err.Error()))
			return
		}
		localISN := randomSeq()
		entry = &Entry{
			Key:          key,
			ClientMAC:    clientMAC,
			Upstream:     conn,
			LastActivity: now,
			TCP:          newTCPFlowState(seg.Seq(), localISN),
		}
		if err := n.table.Insert(entry); err != nil {
			conn.Close()
			n.logExhausted(ProtoTCP)
			return
		}
		n.sendGuestSegment(entry, tcp.FlagSYN|tcp.FlagACK, nil)
		entry.TCP.onSendSYN()
		go n.pumpTCPUpstream(entry)
		return
	}

	n.table.Touch(key, now)
	st := entry.TCP

	if flags.Has(tcp.FlagRST) {
		st.onGuestRST()
		n.table.Remove(entry)
		entry.Upstream.Close()
		return
	}

	if st.state == tcpStateSynSent && flags.Has(tcp.FlagACK) {
		st.onGuestAck()
	}

	payload := seg.Payload()
	if len(payload) > 0 && st.state == tcpStateEstablished {
		if _, err := entry.Upstream.Write(payload); err != nil {
			n.table.Remove(entry)
			entry.Upstream.Close()
			return
		}
		st.onGuestData(len(payload))
		n.sendGuestSegment(entry, tcp.FlagACK, nil)
	}

	if flags.Has(tcp.FlagFIN) {
		st.onGuestFin()
		n.sendGuestSegment(entry, tcp.FlagFIN|tcp.FlagACK, nil)
		if c, ok := entry.Upstream.(interface{ CloseWrite() error }); ok {
			c.CloseWrite()
		}
	}
}

// pumpTCPUpstream streams bytes read from entry's upstream connection to
// the guest as TCP segments carrying real, monotonically increasing
// sequence numbers.
func (n *NAT) pumpTCPUpstream(entry *Entry) {
	buf := make([]byte, 4096)
	for {
		nb, err := entry.Upstream.Read(buf)
		if nb > 0 {
			n.sendGuestSegment(entry, tcp.FlagACK|tcp.FlagPSH, buf[:nb])
			entry.TCP.onSend(nb)
		}
		if err != nil {
			if err != io.EOF {
				n.log.Debug("natsvc: tcp upstream read error", slog.String("err", err.Error()))
			}
			n.table.Remove(entry)
			entry.Upstream.Close()
			return
		}
	}
}

// sendGuestSegment builds and writes a TCP segment back to the guest over
// entry's 5-tuple, reversed.
func (n *NAT) sendGuestSegment(entry *Entry, flags tcp.Flags, payload []byte) {
	k := entry.Key
	st := entry.TCP
	outbuf := make([]byte, 14+20+20+len(payload))
	wn, err := packet.BuildTCP(outbuf, entry.ClientMAC, n.gatewayMAC, k.DstIP, k.SrcIP, k.DstPort, k.SrcPort, st.localSeq, st.remoteNext, flags, 65535, payload)
	if err != nil {
		n.log.Warn("natsvc: failed to build tcp segment", slog.String("err", err.Error()))
		return
	}
	if err := n.egress.WriteFrame(outbuf[:wn]); err != nil {
		n.log.Warn("natsvc: failed to write tcp segment", slog.String("err", err.Error()))
	}
}

func randomSeq() uint32 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint32(b[:])
}

func itoa(port uint16) string {
	return strconv.Itoa(int(port))
}
