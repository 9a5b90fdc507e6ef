package dhcpsvc

import (
	"log/slog"
	"time"

	"github.com/groundwater/ghostvm-vnet/addr"
	"github.com/groundwater/ghostvm-vnet/arpsvc"
	"github.com/groundwater/ghostvm-vnet/internal/ratelog"
	"github.com/groundwater/ghostvm-vnet/routercfg"
	"github.com/groundwater/ghostvm-vnet/wire"
	"github.com/groundwater/ghostvm-vnet/wire/dhcpv4"
)

// OutputBufferSize is the minimum outbuf size callers must supply to Handle
// for a reply to fit (Ethernet+IPv4+UDP headers plus the 300 byte BOOTREPLY).
const OutputBufferSize = 14 + 20 + 8 + replyFrameSize

// Server implements the DHCP server described in spec §4.3.
type Server struct {
	pool       *pool
	arp        *arpsvc.Table
	store      LeaseStore
	gatewayIP  addr.IPv4
	gatewayMAC addr.MAC
	subnet     addr.IPv4
	leaseTTL   time.Duration
	dnsServers []addr.IPv4
	log        *slog.Logger

	exhaustedOnce *ratelog.Limiter
}

// LeaseStore optionally persists the active lease set across restarts
// (spec's ambient persistence extension; see dhcpsvc/leasestore).
type LeaseStore interface {
	Load() ([]Lease, error)
	Save(leases []Lease) error
}

// New builds a Server from router configuration. store may be nil for
// in-memory-only operation.
func New(cfg routercfg.Config, arpTable *arpsvc.Table, store LeaseStore, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	statics := make([]Lease, 0, len(cfg.DHCP.StaticLeases))
	for _, s := range cfg.DHCP.StaticLeases {
		statics = append(statics, Lease{IP: s.IP, MAC: s.MAC, Hostname: s.Hostname, Static: true})
	}
	sv := &Server{
		pool:       newPool(cfg.DHCP.RangeStart, cfg.DHCP.RangeEnd, statics),
		arp:        arpTable,
		store:      store,
		gatewayIP:  cfg.LAN.GatewayIP,
		gatewayMAC: cfg.ResolvedGatewayMAC(),
		subnet:     addr.IPv4FromUint32(cfg.LAN.Subnet.Mask()),
		leaseTTL:   cfg.DHCP.LeaseTTL,
		log:        log,

		exhaustedOnce: ratelog.Every(time.Minute),
	}
	switch cfg.DNS.Mode {
	case routercfg.DNSCustom:
		sv.dnsServers = cfg.DNS.Servers
	case routercfg.DNSPassthrough:
		sv.dnsServers = cfg.DNS.PublicDefaultServers()
	case routercfg.DNSBlocked:
		sv.dnsServers = nil
	}
	if store != nil {
		if leases, err := store.Load(); err != nil {
			log.Warn("dhcpsvc: failed to load persisted leases", slog.String("err", err.Error()))
		} else {
			sv.pool.restore(leases)
			for _, l := range leases {
				arpTable.Register(l.IP, l.MAC)
			}
		}
	}
	return sv
}

type requestOptions struct {
	msgType    dhcpv4.MessageType
	hostname   string
	requestIP  addr.IPv4
	haveReqIP  bool
}

func parseOptions(f dhcpv4.Frame) (requestOptions, error) {
	var out requestOptions
	err := f.ForEachOption(func(op dhcpv4.OptNum, data []byte) error {
		switch op {
		case dhcpv4.OptMessageType:
			if len(data) == 1 {
				out.msgType = dhcpv4.MessageType(data[0])
			}
		case dhcpv4.OptHostName:
			out.hostname = string(data)
		case dhcpv4.OptRequestedIPaddress:
			if len(data) == 4 {
				out.requestIP = addr.IPv4(data)
				out.haveReqIP = true
			}
		}
		return nil
	})
	return out, err
}

// Handle processes one DHCP datagram received from clientMAC. It writes any
// reply into outbuf (which must be at least OutputBufferSize long) and
// returns the number of bytes written; n==0 means no reply is sent, matching
// spec §4.3's "pool exhaustion returns no response" and RELEASE handling.
func (sv *Server) Handle(now time.Time, clientMAC addr.MAC, payload []byte, outbuf []byte) (n int, err error) {
	req, err := dhcpv4.NewFrame(payload)
	if err != nil {
		return 0, nil
	}
	var v wire.Validator
	req.ValidateSize(&v)
	if v.HasError() {
		return 0, nil
	}
	opts, err := parseOptions(req)
	if err != nil {
		return 0, nil
	}

	switch opts.msgType {
	case dhcpv4.MsgDiscover:
		return sv.handleDiscover(now, clientMAC, req, opts, outbuf)
	case dhcpv4.MsgRequest:
		return sv.handleRequest(now, clientMAC, req, opts, outbuf)
	case dhcpv4.MsgRelease:
		sv.pool.release(clientMAC)
		sv.persist(now)
		return 0, nil
	default:
		return 0, nil
	}
}

func (sv *Server) handleDiscover(now time.Time, mac addr.MAC, req dhcpv4.Frame, opts requestOptions, outbuf []byte) (int, error) {
	ip, err := sv.pool.allocate(mac, req.XID(), now)
	if err != nil {
		sv.exhaustedOnce.Do(func() {
			sv.log.Warn("dhcpsvc: address pool exhausted", slog.String("mac", mac.String()))
		})
		return 0, nil
	}
	return buildReply(outbuf, req, dhcpv4.MsgOffer, mac, ip, sv.gatewayMAC, sv.gatewayIP, sv.subnet, sv.leaseTTL, sv.dnsServers)
}

func (sv *Server) handleRequest(now time.Time, mac addr.MAC, req dhcpv4.Frame, opts requestOptions, outbuf []byte) (int, error) {
	reqIP := opts.requestIP
	if !opts.haveReqIP {
		reqIP = addr.IPv4(*req.CIAddr())
	}
	if reqIP.IsZero() || !sv.pool.validateRequest(mac, reqIP, now) {
		return buildReply(outbuf, req, dhcpv4.MsgNak, mac, addr.IPv4{}, sv.gatewayMAC, sv.gatewayIP, sv.subnet, sv.leaseTTL, nil)
	}
	lease := sv.pool.commit(mac, reqIP, opts.hostname, sv.leaseTTL, now)
	sv.arp.Register(lease.IP, lease.MAC)
	sv.persist(now)
	return buildReply(outbuf, req, dhcpv4.MsgAck, mac, lease.IP, sv.gatewayMAC, sv.gatewayIP, sv.subnet, sv.leaseTTL, sv.dnsServers)
}

func (sv *Server) persist(now time.Time) {
	if sv.store == nil {
		return
	}
	if err := sv.store.Save(sv.pool.snapshot(now)); err != nil {
		sv.log.Warn("dhcpsvc: failed to persist leases", slog.String("err", err.Error()))
	}
}

// PurgeExpired drops expired active leases and stale offers (spec §4.3
// "Purge"). The orchestrator calls this periodically alongside the NAT
// sweeper.
func (sv *Server) PurgeExpired(now time.Time) {
	if purged := sv.pool.purgeExpired(now); purged > 0 {
		sv.persist(now)
	}
}

// Leases returns a snapshot of every static and active lease, for the
// router's observable-state API (spec §6).
func (sv *Server) Leases(now time.Time) []Lease {
	return sv.pool.snapshot(now)
}

// Reset drops every dynamic lease and pending offer (spec §5 "stop ...
// clears the NAT/ARP/DHCP/port tables"). Static reservations survive, since
// they come from configuration rather than learned state.
func (sv *Server) Reset() {
	sv.pool.clear()
}
