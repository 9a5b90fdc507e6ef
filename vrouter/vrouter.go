// Package vrouter implements the orchestrator (spec §4.8): it owns the
// guest-facing ingress loop, dispatches parsed frames to the ARP, DHCP, DNS,
// NAT and firewall components, and synchronizes every write back onto the
// guest channel.
package vrouter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/groundwater/ghostvm-vnet/addr"
	"github.com/groundwater/ghostvm-vnet/arpsvc"
	"github.com/groundwater/ghostvm-vnet/dhcpsvc"
	"github.com/groundwater/ghostvm-vnet/dnsfwd"
	"github.com/groundwater/ghostvm-vnet/firewall"
	"github.com/groundwater/ghostvm-vnet/metrics"
	"github.com/groundwater/ghostvm-vnet/natsvc"
	"github.com/groundwater/ghostvm-vnet/packet"
	"github.com/groundwater/ghostvm-vnet/portfwd"
	"github.com/groundwater/ghostvm-vnet/routercfg"
	"github.com/groundwater/ghostvm-vnet/wire/dhcpv4"
	"github.com/groundwater/ghostvm-vnet/wire/icmpv4"
	"github.com/prometheus/client_golang/prometheus"
)

// GuestChannel is the bidirectional framed datagram endpoint to the guest
// (spec §6 "Guest channel"): each read yields exactly one Ethernet frame,
// each write transmits one.
type GuestChannel interface {
	ReadFrame(buf []byte) (int, error)
	WriteFrame(frame []byte) error
	Close() error
}

// sweepInterval drives both the NAT sweeper and the DHCP purge pass (spec
// §4.5 "A 30s periodic sweeper performs eviction").
const sweepInterval = natsvc.SweepInterval

// Router is the orchestrator described in spec §4.8.
type Router struct {
	cfg     routercfg.Config
	channel GuestChannel
	log     *slog.Logger

	arp  *arpsvc.Responder
	dhcp *dhcpsvc.Server
	dns  *dnsfwd.Forwarder
	nat  *natsvc.NAT
	fw   *firewall.Evaluator
	pf   *portfwd.Manager

	writeMu sync.Mutex

	mu               sync.Mutex
	started          bool
	stopped          bool
	cancel           context.CancelFunc
	wg               sync.WaitGroup
	metricsCollector prometheus.Collector
}

// New builds a Router from configuration. store may be nil to keep DHCP
// leases in memory only. Validate runs before any component is built, per
// spec §7 "Configuration error at start".
func New(cfg routercfg.Config, channel GuestChannel, store dhcpsvc.LeaseStore, log *slog.Logger) (*Router, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("vrouter: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}

	r := &Router{cfg: cfg, channel: channel, log: log}

	r.arp = arpsvc.NewResponder(cfg.LAN.GatewayIP, cfg.ResolvedGatewayMAC(), log)
	r.dhcp = dhcpsvc.New(cfg, r.arp.Table, store, log)
	dial := newDialer()
	r.dns = dnsfwd.New(cfg, dial, r, log)
	r.nat = natsvc.New(dial, r, cfg.ResolvedGatewayMAC(), log)
	fw, err := firewall.New(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("vrouter: %w", err)
	}
	r.fw = fw
	r.pf = portfwd.New(dial, log)

	return r, nil
}

// Start validates no prior Start/Stop has run, then spawns the ingress
// reader and the NAT/DHCP sweeper (spec §4.8).
func (r *Router) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("vrouter: already started")
	}
	if r.stopped {
		return fmt.Errorf("vrouter: router is stopped and cannot be restarted")
	}
	r.started = true

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	r.pf.Start(r.cfg.PortForwards)

	r.metricsCollector = metrics.NewCollector(r, func() int { return len(r.Leases()) })
	if err := prometheus.Register(r.metricsCollector); err != nil {
		r.log.Warn("vrouter: metrics collector registration failed", slog.String("err", err.Error()))
		r.metricsCollector = nil
	}

	r.wg.Add(2)
	go r.ingressLoop(ctx)
	go r.sweepLoop(ctx)
	return nil
}

// Stop is idempotent (spec §5 "Cancellation"): it cancels the ingress
// source and sweeper, closes every NAT upstream handle and port-forward
// listener, and clears the NAT/ARP/DHCP tables.
func (r *Router) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.channel.Close()
	r.wg.Wait()

	r.dns.Stop()
	r.nat.Stop()
	r.pf.Stop()
	r.arp.Table.Clear()
	r.dhcp.Reset()
	if r.metricsCollector != nil {
		prometheus.Unregister(r.metricsCollector)
	}
}

func (r *Router) ingressLoop(ctx context.Context) {
	defer r.wg.Done()
	buf := make([]byte, 65536)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := r.channel.ReadFrame(buf)
		if err != nil {
			if ctx.Err() == nil {
				r.log.Error("vrouter: guest channel read failed, stopping", slog.String("err", err.Error()))
				go r.Stop()
			}
			return
		}
		r.handleGuestFrame(append([]byte(nil), buf[:n]...))
	}
}

func (r *Router) sweepLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.nat.Sweep(now)
			r.dhcp.PurgeExpired(now)
		}
	}
}

// handleGuestFrame parses one guest-originated frame and dispatches it by
// protocol (spec §2 "Control flow (outbound)").
func (r *Router) handleGuestFrame(frame []byte) {
	pkt, err := packet.Parse(frame)
	if err != nil {
		return // malformed at the Ethernet layer: drop silently (spec §7).
	}

	switch pkt.Kind {
	case packet.KindARP:
		if r.arp.Handle(pkt.ARP) {
			requesterMAC := *pkt.Eth.Source()
			*pkt.Eth.Destination() = requesterMAC
			*pkt.Eth.Source() = r.cfg.ResolvedGatewayMAC()
			r.rawWrite(frame)
		}
	case packet.KindICMP:
		r.handleICMP(pkt)
	case packet.KindUDP:
		r.handleUDP(pkt)
	case packet.KindTCP:
		r.handleTCP(pkt)
	default:
		// Unknown ether/IPv4 traffic carries no L3 addressing this router
		// understands; only L2 firewall rules could apply, and none of
		// those rules this design supports require synthesizing a reply.
	}
}

func (r *Router) handleICMP(pkt packet.Packet) {
	if pkt.ICMP.Type() != icmpv4.TypeEchoRequest {
		return
	}
	dstIP := addr.IPv4(*pkt.IP.Destination())
	if dstIP != r.cfg.LAN.GatewayIP {
		return // spec §4.5 "ICMP to non-gateway targets is dropped".
	}
	srcIP := addr.IPv4(*pkt.IP.Source())
	srcMAC := addr.MAC(*pkt.Eth.Source())

	outbuf := make([]byte, 14+20+8+len(pkt.ICMP.Payload()))
	n, err := packet.BuildICMPEchoReply(outbuf, srcMAC, r.cfg.ResolvedGatewayMAC(), r.cfg.LAN.GatewayIP, srcIP, pkt.ICMP.Identifier(), pkt.ICMP.Sequence(), pkt.ICMP.Payload())
	if err != nil {
		r.log.Debug("vrouter: failed to build icmp echo reply", slog.String("err", err.Error()))
		return
	}
	r.rawWrite(outbuf[:n])
}

func (r *Router) handleUDP(pkt packet.Packet) {
	srcIP := addr.IPv4(*pkt.IP.Source())
	dstIP := addr.IPv4(*pkt.IP.Destination())
	srcPort := pkt.UDP.SourcePort()
	dstPort := pkt.UDP.DestinationPort()
	clientMAC := addr.MAC(*pkt.Eth.Source())

	if dstIP == r.cfg.LAN.GatewayIP && dstPort == dhcpv4.ServerPort {
		outbuf := make([]byte, dhcpsvc.OutputBufferSize)
		n, err := r.dhcp.Handle(time.Now(), clientMAC, pkt.UDP.Payload(), outbuf)
		if err == nil && n > 0 {
			r.rawWrite(outbuf[:n])
		}
		return
	}
	if dstIP == r.cfg.LAN.GatewayIP && dstPort == dnsfwd.ServerPort {
		r.dns.Forward(clientMAC, srcIP, srcPort, pkt.UDP.Payload())
		return
	}

	flow := firewall.Flow{Eth: pkt.Eth, Proto: routercfg.ProtoUDP, SrcIP: srcIP, DstIP: dstIP, SrcPort: srcPort, DstPort: dstPort}
	if r.fw.Evaluate(routercfg.DirOutbound, flow) == routercfg.PolicyBlock {
		return
	}
	r.nat.HandleOutboundUDP(time.Now(), clientMAC, srcIP, srcPort, dstIP, dstPort, pkt.UDP.Payload())
}

func (r *Router) handleTCP(pkt packet.Packet) {
	srcIP := addr.IPv4(*pkt.IP.Source())
	dstIP := addr.IPv4(*pkt.IP.Destination())
	srcPort := pkt.TCP.SourcePort()
	dstPort := pkt.TCP.DestinationPort()
	clientMAC := addr.MAC(*pkt.Eth.Source())

	flow := firewall.Flow{Eth: pkt.Eth, Proto: routercfg.ProtoTCP, SrcIP: srcIP, DstIP: dstIP, SrcPort: srcPort, DstPort: dstPort}
	if r.fw.Evaluate(routercfg.DirOutbound, flow) == routercfg.PolicyBlock {
		return
	}
	r.nat.HandleOutboundTCP(time.Now(), clientMAC, srcIP, srcPort, dstIP, dstPort, pkt.TCP)
}

// WriteFrame implements dnsfwd.FrameWriter and natsvc.FrameWriter: frames
// synthesized in response to upstream traffic pass through the inbound
// firewall pass before reaching the guest (spec §2 "Inbound ... builder ->
// firewall -> egress").
func (r *Router) WriteFrame(frame []byte) error {
	if pkt, err := packet.Parse(frame); err == nil {
		if blocked := r.evaluateInbound(pkt); blocked {
			return nil
		}
	}
	return r.rawWrite(frame)
}

func (r *Router) evaluateInbound(pkt packet.Packet) bool {
	flow := firewall.Flow{Eth: pkt.Eth}
	switch pkt.Kind {
	case packet.KindTCP:
		flow.Proto = routercfg.ProtoTCP
		flow.SrcIP, flow.DstIP = addr.IPv4(*pkt.IP.Source()), addr.IPv4(*pkt.IP.Destination())
		flow.SrcPort, flow.DstPort = pkt.TCP.SourcePort(), pkt.TCP.DestinationPort()
	case packet.KindUDP:
		flow.Proto = routercfg.ProtoUDP
		flow.SrcIP, flow.DstIP = addr.IPv4(*pkt.IP.Source()), addr.IPv4(*pkt.IP.Destination())
		flow.SrcPort, flow.DstPort = pkt.UDP.SourcePort(), pkt.UDP.DestinationPort()
	case packet.KindICMP:
		flow.Proto = routercfg.ProtoICMP
		flow.SrcIP, flow.DstIP = addr.IPv4(*pkt.IP.Source()), addr.IPv4(*pkt.IP.Destination())
	default:
		return false
	}
	return r.fw.Evaluate(routercfg.DirInbound, flow) == routercfg.PolicyBlock
}

// rawWrite sends a frame the router itself synthesized (ARP reply, DHCP
// reply, ICMP echo reply) straight to the guest, bypassing the inbound
// firewall pass: these never originated from upstream or a port-forward
// listener (spec §2).
func (r *Router) rawWrite(frame []byte) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return r.channel.WriteFrame(frame)
}

// Leases returns the current DHCP lease snapshot (spec §6 "Observable state").
func (r *Router) Leases() []dhcpsvc.Lease {
	return r.dhcp.Leases(time.Now())
}

// NATEntryCount returns the number of active NAT associations.
func (r *Router) NATEntryCount() int {
	return r.nat.Count()
}

// PortForwardStatuses returns the bind outcome of every configured
// port-forward rule.
func (r *Router) PortForwardStatuses() []portfwd.Status {
	return r.pf.Statuses()
}

// ARPBindings returns the current IP->MAC table.
func (r *Router) ARPBindings() map[addr.IPv4]addr.MAC {
	return r.arp.Table.Snapshot()
}
