// Package dnsfwd implements the DNS forwarder (spec §4.4): it accepts the
// UDP payload of packets sent to the gateway's port 53 and, depending on
// the configured mode, drops them, or forwards them verbatim to an
// upstream resolver and relays the response back to the original client
// socket.
package dnsfwd

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/groundwater/ghostvm-vnet/addr"
	"github.com/groundwater/ghostvm-vnet/packet"
	"github.com/groundwater/ghostvm-vnet/routercfg"
	"github.com/miekg/dns"
)

// ServerPort is the well-known DNS port this forwarder answers on.
const ServerPort = 53

// queryDeadline bounds how long an outstanding query is tracked before
// being dropped as stale (spec §4.4 "A hard deadline (e.g., 5s)").
const queryDeadline = 5 * time.Second

// Dialer opens an outbound UDP socket to an upstream resolver. Production
// code uses net.Dialer; tests substitute a fake.
type Dialer interface {
	DialUDP(ctx context.Context, raddr string) (net.Conn, error)
}

// FrameWriter hands a fully built Ethernet frame back to the guest, e.g.
// the orchestrator's egress path.
type FrameWriter interface {
	WriteFrame(frame []byte) error
}

type queryKey struct {
	clientIP   addr.IPv4
	clientPort uint16
	xid        uint16
}

type pendingQuery struct {
	cancel context.CancelFunc
}

// Forwarder implements the DNS forwarding policy for one router instance.
type Forwarder struct {
	mode       routercfg.DNSMode
	servers    []addr.IPv4
	dialer     Dialer
	egress     FrameWriter
	gatewayIP  addr.IPv4
	gatewayMAC addr.MAC
	log        *slog.Logger

	mu      sync.Mutex
	pending map[queryKey]*pendingQuery
}

// New builds a Forwarder from router configuration.
func New(cfg routercfg.Config, dialer Dialer, egress FrameWriter, log *slog.Logger) *Forwarder {
	if log == nil {
		log = slog.Default()
	}
	f := &Forwarder{
		mode:       cfg.DNS.Mode,
		dialer:     dialer,
		egress:     egress,
		gatewayIP:  cfg.LAN.GatewayIP,
		gatewayMAC: cfg.ResolvedGatewayMAC(),
		log:        log,
		pending:    make(map[queryKey]*pendingQuery),
	}
	switch cfg.DNS.Mode {
	case routercfg.DNSCustom:
		f.servers = cfg.DNS.Servers
	case routercfg.DNSPassthrough:
		f.servers = cfg.DNS.PublicDefaultServers()
	}
	return f
}

// Forward handles one DNS query datagram from the guest. In "blocked" mode
// it drops silently; otherwise it dials the first reachable upstream
// resolver, forwards payload verbatim and relays the eventual response back
// to (clientIP, clientPort) via egress, addressed to clientMAC.
func (f *Forwarder) Forward(clientMAC addr.MAC, clientIP addr.IPv4, clientPort uint16, payload []byte) {
	if f.mode == routercfg.DNSBlocked || len(f.servers) == 0 {
		return
	}

	msg := new(dns.Msg)
	if err := msg.Unpack(payload); err != nil {
		f.log.Debug("dnsfwd: could not parse query for logging", slog.String("err", err.Error()))
	} else if len(msg.Question) > 0 {
		f.log.Debug("dnsfwd: forwarding query", slog.String("name", msg.Question[0].Name), slog.Uint64("xid", uint64(msg.Id)))
	}

	key := queryKey{clientIP: clientIP, clientPort: clientPort, xid: msg.Id}

	var conn net.Conn
	var err error
	ctx, cancel := context.WithTimeout(context.Background(), queryDeadline)
	for _, srv := range f.servers {
		conn, err = f.dialer.DialUDP(ctx, net.JoinHostPort(srv.String(), "53"))
		if err == nil {
			break
		}
	}
	if err != nil {
		cancel()
		f.log.Warn("dnsfwd: no reachable upstream resolver", slog.String("err", err.Error()))
		return
	}

	f.mu.Lock()
	f.pending[key] = &pendingQuery{cancel: cancel}
	f.mu.Unlock()

	if _, err := conn.Write(payload); err != nil {
		f.finish(key)
		conn.Close()
		return
	}
	go f.awaitResponse(ctx, key, conn, clientMAC, clientIP, clientPort)
}

func (f *Forwarder) awaitResponse(ctx context.Context, key queryKey, conn net.Conn, clientMAC addr.MAC, clientIP addr.IPv4, clientPort uint16) {
	defer conn.Close()
	defer f.finish(key)

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		f.log.Debug("dnsfwd: upstream query dropped", slog.String("err", err.Error()))
		return
	}

	outbuf := make([]byte, 14+20+8+n)
	wn, err := packet.BuildUDP(outbuf, clientMAC, f.gatewayMAC, f.gatewayIP, clientIP, ServerPort, clientPort, buf[:n])
	if err != nil {
		f.log.Warn("dnsfwd: failed to build reply frame", slog.String("err", err.Error()))
		return
	}
	if err := f.egress.WriteFrame(outbuf[:wn]); err != nil {
		f.log.Warn("dnsfwd: failed to write reply frame", slog.String("err", err.Error()))
	}
}

func (f *Forwarder) finish(key queryKey) {
	f.mu.Lock()
	if p, ok := f.pending[key]; ok {
		p.cancel()
		delete(f.pending, key)
	}
	f.mu.Unlock()
}

// Stop cancels every in-flight query; their upstream responses, if they
// arrive, are discarded by the now-cancelled context (spec §5
// "Cancellation": "In-flight DNS queries are abandoned").
func (f *Forwarder) Stop() {
	f.mu.Lock()
	for key, p := range f.pending {
		p.cancel()
		delete(f.pending, key)
	}
	f.mu.Unlock()
}
