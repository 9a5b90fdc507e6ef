package natsvc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/groundwater/ghostvm-vnet/addr"
	"github.com/groundwater/ghostvm-vnet/packet"
	"github.com/groundwater/ghostvm-vnet/wire/tcp"
)

type pipeDialer struct {
	udpConns chan net.Conn
	tcpConns chan net.Conn
}

func newPipeDialer() *pipeDialer {
	return &pipeDialer{udpConns: make(chan net.Conn, 4), tcpConns: make(chan net.Conn, 4)}
}

func (d *pipeDialer) DialUDP(ctx context.Context, raddr string) (net.Conn, error) {
	client, server := net.Pipe()
	d.udpConns <- server
	return client, nil
}

func (d *pipeDialer) DialTCP(ctx context.Context, raddr string) (net.Conn, error) {
	client, server := net.Pipe()
	d.tcpConns <- server
	return client, nil
}

type capturingWriter struct {
	frames chan []byte
}

func (w *capturingWriter) WriteFrame(frame []byte) error {
	cp := make([]byte, len(frame))
	copy(cp, frame)
	w.frames <- cp
	return nil
}

func waitFrame(t *testing.T, ch chan []byte) []byte {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame to guest")
		return nil
	}
}

func waitConn(t *testing.T, ch chan net.Conn) net.Conn {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for upstream dial")
		return nil
	}
}

var gatewayMAC = addr.MAC{0x02, 0xaa, 0xbb, 0xcc, 0xdd, 0xee}

func TestNATUDPRoundTrip(t *testing.T) {
	dialer := newPipeDialer()
	writer := &capturingWriter{frames: make(chan []byte, 4)}
	n := New(dialer, writer, gatewayMAC, nil)

	clientMAC := addr.MAC{0x02, 1, 2, 3, 4, 5}
	clientIP := addr.IPv4{10, 100, 0, 10}
	dstIP := addr.IPv4{93, 184, 216, 34}
	const clientPort = 33333
	const dstPort = 53

	now := time.Unix(1000, 0)
	n.HandleOutboundUDP(now, clientMAC, clientIP, clientPort, dstIP, dstPort, []byte("HELLO"))

	upstream := waitConn(t, dialer.udpConns)
	defer upstream.Close()

	buf := make([]byte, 512)
	upstream.SetReadDeadline(time.Now().Add(time.Second))
	nb, err := upstream.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:nb]) != "HELLO" {
		t.Fatalf("upstream received %q, want HELLO", buf[:nb])
	}

	if _, err := upstream.Write([]byte("WORLD")); err != nil {
		t.Fatal(err)
	}

	frame := waitFrame(t, writer.frames)
	pkt, err := packet.Parse(frame)
	if err != nil {
		t.Fatal(err)
	}
	if pkt.Kind != packet.KindUDP {
		t.Fatalf("kind = %v, want KindUDP", pkt.Kind)
	}
	if pkt.UDP.SourcePort() != dstPort || pkt.UDP.DestinationPort() != clientPort {
		t.Fatalf("reply ports = %d->%d, want %d->%d", pkt.UDP.SourcePort(), pkt.UDP.DestinationPort(), dstPort, clientPort)
	}
	if string(pkt.UDP.Payload()) != "WORLD" {
		t.Fatalf("reply payload = %q, want WORLD", pkt.UDP.Payload())
	}
	if addr.IPv4(*pkt.IP.Source()) != dstIP || addr.IPv4(*pkt.IP.Destination()) != clientIP {
		t.Fatal("reply must be addressed from the upstream's IP back to the client")
	}

	if n.Count() != 1 {
		t.Fatalf("nat entry count = %d, want 1", n.Count())
	}
}

func TestNATPortPoolExhaustionYieldsNoMapping(t *testing.T) {
	dialer := newPipeDialer()
	writer := &capturingWriter{frames: make(chan []byte, 4096)}
	n := New(dialer, writer, gatewayMAC, nil)
	n.table.cursor = PortRangeLo

	span := int(PortRangeHi) - int(PortRangeLo) + 1
	dstIP := addr.IPv4{93, 184, 216, 34}
	now := time.Unix(1000, 0)
	// Fill the pool through the table directly: a flow opened through
	// HandleOutboundUDP writes to its net.Pipe upstream (which blocks until
	// the other end reads) and starts its own pump goroutine.
	for i := 0; i < span; i++ {
		e := &Entry{Key: FlowKey{Proto: ProtoUDP, SrcIP: addr.IPv4{10, 100, 0, 10}, SrcPort: uint16(i), DstIP: dstIP, DstPort: 53}, LastActivity: now}
		if err := n.table.Insert(e); err != nil {
			t.Fatalf("unexpected exhaustion at entry %d: %v", i, err)
		}
	}
	if n.Count() != span {
		t.Fatalf("count = %d, want %d", n.Count(), span)
	}

	// One more distinct flow (source port outside the 0..span-1 range used
	// above): the pool has nothing left to offer.
	n.HandleOutboundUDP(now, addr.MAC{0x02, 1, 2, 3, 4, 5}, addr.IPv4{10, 100, 0, 10}, 60001, dstIP, 53, nil)
	select {
	case <-dialer.udpConns:
	case <-time.After(100 * time.Millisecond):
	}
	if n.Count() != span {
		t.Fatalf("count = %d after exhaustion attempt, want unchanged %d", n.Count(), span)
	}
}

func buildGuestSegment(t *testing.T, srcPort, dstPort uint16, seq, ack uint32, flags tcp.Flags, payload []byte) tcp.Frame {
	t.Helper()
	buf := make([]byte, tcp.HeaderLen+len(payload))
	buf[12] = 5 << 4 // tcp.NewFrame rejects a data offset below 5
	f, err := tcp.NewFrame(buf)
	if err != nil {
		t.Fatal(err)
	}
	f.ClearHeader()
	f.SetSourcePort(srcPort)
	f.SetDestinationPort(dstPort)
	f.SetSeq(seq)
	f.SetAck(ack)
	f.SetDataOffset(5)
	f.SetFlags(flags)
	f.SetWindowSize(65535)
	copy(buf[tcp.HeaderLen:], payload)
	return f
}

func TestNATTCPHandshakeDataAndFinWaitEviction(t *testing.T) {
	dialer := newPipeDialer()
	writer := &capturingWriter{frames: make(chan []byte, 16)}
	n := New(dialer, writer, gatewayMAC, nil)

	clientMAC := addr.MAC{0x02, 1, 2, 3, 4, 5}
	clientIP := addr.IPv4{10, 100, 0, 10}
	dstIP := addr.IPv4{93, 184, 216, 34}
	const clientPort = 44444
	const dstPort = 80

	start := time.Unix(2000, 0)
	guestISN := uint32(1000)
	syn := buildGuestSegment(t, clientPort, dstPort, guestISN, 0, tcp.FlagSYN, nil)
	n.HandleOutboundTCP(start, clientMAC, clientIP, clientPort, dstIP, dstPort, syn)

	upstream := waitConn(t, dialer.tcpConns)
	defer upstream.Close()

	synAckFrame := waitFrame(t, writer.frames)
	pkt, err := packet.Parse(synAckFrame)
	if err != nil {
		t.Fatal(err)
	}
	if pkt.Kind != packet.KindTCP {
		t.Fatalf("kind = %v, want KindTCP", pkt.Kind)
	}
	if !pkt.TCP.Flags().Has(tcp.FlagSYN) || !pkt.TCP.Flags().Has(tcp.FlagACK) {
		t.Fatalf("expected SYN|ACK, got flags %v", pkt.TCP.Flags())
	}
	if pkt.TCP.Ack() != guestISN+1 {
		t.Fatalf("syn-ack ack = %d, want %d", pkt.TCP.Ack(), guestISN+1)
	}
	localISN := pkt.TCP.Seq()

	key := FlowKey{Proto: ProtoTCP, SrcIP: clientIP, SrcPort: clientPort, DstIP: dstIP, DstPort: dstPort}
	entry, ok := n.table.Lookup(key)
	if !ok {
		t.Fatal("expected a tcp entry after SYN")
	}
	if entry.TCP.state != tcpStateSynSent {
		t.Fatalf("state = %v, want syn_sent", entry.TCP.state)
	}

	ack := buildGuestSegment(t, clientPort, dstPort, guestISN+1, localISN+1, tcp.FlagACK, nil)
	n.HandleOutboundTCP(start, clientMAC, clientIP, clientPort, dstIP, dstPort, ack)
	if entry.TCP.state != tcpStateEstablished {
		t.Fatalf("state = %v, want established", entry.TCP.state)
	}

	payload := []byte("GET / HTTP/1.0\r\n\r\n")
	data := buildGuestSegment(t, clientPort, dstPort, guestISN+1, localISN+1, tcp.FlagACK|tcp.FlagPSH, payload)
	n.HandleOutboundTCP(start, clientMAC, clientIP, clientPort, dstIP, dstPort, data)

	upstream.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 512)
	nb, err := upstream.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:nb]) != string(payload) {
		t.Fatalf("upstream received %q, want %q", buf[:nb], payload)
	}

	dataAckFrame := waitFrame(t, writer.frames)
	pkt2, err := packet.Parse(dataAckFrame)
	if err != nil {
		t.Fatal(err)
	}
	if !pkt2.TCP.Flags().Has(tcp.FlagACK) {
		t.Fatal("expected an ack for the guest's data segment")
	}
	if pkt2.TCP.Seq() != localISN+1 {
		t.Fatalf("data-ack seq = %d, want %d (localISN+1, past the SYN-ACK's own sequence slot)", pkt2.TCP.Seq(), localISN+1)
	}

	reply := []byte("HTTP/1.0 200 OK\r\n\r\n")
	if _, err := upstream.Write(reply); err != nil {
		t.Fatal(err)
	}
	upstreamDataFrame := waitFrame(t, writer.frames)
	pktUp, err := packet.Parse(upstreamDataFrame)
	if err != nil {
		t.Fatal(err)
	}
	if pktUp.TCP.Seq() != localISN+1 {
		t.Fatalf("first upstream->guest data seq = %d, want %d (localISN+1, past the SYN-ACK's own sequence slot)", pktUp.TCP.Seq(), localISN+1)
	}
	if string(pktUp.TCP.Payload()) != string(reply) {
		t.Fatalf("upstream->guest payload = %q, want %q", pktUp.TCP.Payload(), reply)
	}

	finTime := start.Add(time.Second)
	fin := buildGuestSegment(t, clientPort, dstPort, guestISN+1+uint32(len(payload)), localISN+1, tcp.FlagFIN|tcp.FlagACK, nil)
	n.HandleOutboundTCP(finTime, clientMAC, clientIP, clientPort, dstIP, dstPort, fin)
	if entry.TCP.state != tcpStateFinWait {
		t.Fatalf("state = %v, want fin_wait", entry.TCP.state)
	}
	finAckFrame := waitFrame(t, writer.frames)
	pkt3, err := packet.Parse(finAckFrame)
	if err != nil {
		t.Fatal(err)
	}
	if !pkt3.TCP.Flags().Has(tcp.FlagFIN) || !pkt3.TCP.Flags().Has(tcp.FlagACK) {
		t.Fatalf("expected FIN|ACK in response to guest FIN, got %v", pkt3.TCP.Flags())
	}

	tooSoon := finTime.Add(TCPFinWaitTimeout - time.Second)
	n.Sweep(tooSoon)
	if n.Count() != 1 {
		t.Fatal("fin_wait entry evicted before its idle timeout elapsed")
	}

	late := finTime.Add(TCPFinWaitTimeout + time.Second)
	n.Sweep(late)
	if n.Count() != 0 {
		t.Fatal("fin_wait entry must be evicted once its idle timeout has elapsed")
	}
}

func TestNATTCPRSTClosesImmediately(t *testing.T) {
	dialer := newPipeDialer()
	writer := &capturingWriter{frames: make(chan []byte, 16)}
	n := New(dialer, writer, gatewayMAC, nil)

	clientMAC := addr.MAC{0x02, 1, 2, 3, 4, 5}
	clientIP := addr.IPv4{10, 100, 0, 10}
	dstIP := addr.IPv4{93, 184, 216, 34}
	const clientPort = 55555
	const dstPort = 443

	start := time.Unix(3000, 0)
	syn := buildGuestSegment(t, clientPort, dstPort, 500, 0, tcp.FlagSYN, nil)
	n.HandleOutboundTCP(start, clientMAC, clientIP, clientPort, dstIP, dstPort, syn)
	waitConn(t, dialer.tcpConns)
	waitFrame(t, writer.frames) // SYN|ACK

	rst := buildGuestSegment(t, clientPort, dstPort, 501, 0, tcp.FlagRST, nil)
	n.HandleOutboundTCP(start, clientMAC, clientIP, clientPort, dstIP, dstPort, rst)
	if n.Count() != 0 {
		t.Fatal("RST must tear the entry down immediately")
	}
}
