// Package portfwd implements inbound port forwarding (spec §4.7): for each
// enabled rule it opens a host-side listener on external_port and pipes
// accepted connections to (internal_ip, internal_port) on the guest's
// virtual network.
package portfwd

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/groundwater/ghostvm-vnet/routercfg"
)

// Dialer opens the connection to a forward's internal endpoint. The router
// supplies a plain net.Dialer wrapper, so the connection is made through
// the host's own network stack; it is not routed back through the NAT path.
type Dialer interface {
	DialTCP(ctx context.Context, raddr string) (net.Conn, error)
	DialUDP(ctx context.Context, raddr string) (net.Conn, error)
}

// Status is the observable state of one configured forward (spec §6).
type Status struct {
	Rule  routercfg.PortForward
	Bound bool
	Err   error
}

// Manager owns the host-side listeners for every enabled port-forward rule.
type Manager struct {
	dialer Dialer
	log    *slog.Logger

	mu        sync.Mutex
	listeners []io.Closer
	statuses  []Status
}

// New builds a Manager. Call Start to open listeners.
func New(dialer Dialer, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{dialer: dialer, log: log}
}

// Start opens one listener per enabled rule. Unsupported protocols and
// listener bind failures are logged and skipped; they never abort the
// remaining rules (spec §4.7 "Unsupported protocols log and skip; bind
// failures log and leave the listener uncreated").
func (m *Manager) Start(rules []routercfg.PortForward) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		status := Status{Rule: rule}
		switch rule.Proto {
		case routercfg.ProtoTCP:
			ln, err := net.Listen("tcp", hostPort("", rule.ExternalPort))
			if err != nil {
				status.Err = err
				m.log.Warn("portfwd: failed to bind tcp listener", slog.Int("port", int(rule.ExternalPort)), slog.String("err", err.Error()))
			} else {
				status.Bound = true
				m.listeners = append(m.listeners, ln)
				go m.acceptLoop(ln, rule)
			}
		case routercfg.ProtoUDP:
			pc, err := net.ListenPacket("udp", hostPort("", rule.ExternalPort))
			if err != nil {
				status.Err = err
				m.log.Warn("portfwd: failed to bind udp listener", slog.Int("port", int(rule.ExternalPort)), slog.String("err", err.Error()))
			} else {
				status.Bound = true
				m.listeners = append(m.listeners, pc)
				go m.udpLoop(pc, rule)
			}
		default:
			m.log.Warn("portfwd: unsupported protocol, skipping rule", slog.Int("external_port", int(rule.ExternalPort)))
		}
		m.statuses = append(m.statuses, status)
	}
}

// Statuses returns a snapshot of every rule's bind outcome.
func (m *Manager) Statuses() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Status, len(m.statuses))
	copy(out, m.statuses)
	return out
}

// Stop closes every open listener (spec §5 "Cancellation").
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ln := range m.listeners {
		ln.Close()
	}
	m.listeners = nil
}

func (m *Manager) acceptLoop(ln net.Listener, rule routercfg.PortForward) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go m.servePair(conn, rule)
	}
}

// servePair dials the internal endpoint and byte-pipes data in both
// directions until either side closes or errors, logging both halves of
// the cleanup under one correlation id so the pair can be traced across log
// lines (spec §9 "Cleanup cancels both handles together").
func (m *Manager) servePair(client net.Conn, rule routercfg.PortForward) {
	defer client.Close()
	id := uuid.NewString()

	raddr := net.JoinHostPort(rule.InternalIP.String(), itoa(rule.InternalPort))
	upstream, err := m.dialer.DialTCP(context.Background(), raddr)
	if err != nil {
		m.log.Warn("portfwd: failed to dial internal endpoint", slog.String("pair", id), slog.String("err", err.Error()))
		return
	}
	defer upstream.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		io.Copy(upstream, client)
		if cw, ok := upstream.(interface{ CloseWrite() error }); ok {
			cw.CloseWrite()
		}
		m.log.Debug("portfwd: client->internal half closed", slog.String("pair", id))
	}()
	go func() {
		defer wg.Done()
		io.Copy(client, upstream)
		if cw, ok := client.(interface{ CloseWrite() error }); ok {
			cw.CloseWrite()
		}
		m.log.Debug("portfwd: internal->client half closed", slog.String("pair", id))
	}()
	wg.Wait()
	m.log.Debug("portfwd: pair cleaned up", slog.String("pair", id))
}

// udpLoop relays datagrams between the external socket and one internal UDP
// connection per observed external peer.
func (m *Manager) udpLoop(pc net.PacketConn, rule routercfg.PortForward) {
	peers := make(map[string]net.Conn)
	var mu sync.Mutex
	buf := make([]byte, 65535)
	for {
		n, peer, err := pc.ReadFrom(buf)
		if err != nil {
			return
		}
		mu.Lock()
		upstream, ok := peers[peer.String()]
		mu.Unlock()
		if !ok {
			id := uuid.NewString()
			raddr := net.JoinHostPort(rule.InternalIP.String(), itoa(rule.InternalPort))
			upstream, err = m.dialer.DialUDP(context.Background(), raddr)
			if err != nil {
				m.log.Warn("portfwd: failed to dial internal udp endpoint", slog.String("pair", id), slog.String("err", err.Error()))
				continue
			}
			mu.Lock()
			peers[peer.String()] = upstream
			mu.Unlock()
			go m.pumpUDPReplies(pc, peer, upstream, id)
		}
		if _, err := upstream.Write(buf[:n]); err != nil {
			mu.Lock()
			delete(peers, peer.String())
			mu.Unlock()
			upstream.Close()
		}
	}
}

func (m *Manager) pumpUDPReplies(pc net.PacketConn, peer net.Addr, upstream net.Conn, pairID string) {
	buf := make([]byte, 65535)
	for {
		n, err := upstream.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				m.log.Debug("portfwd: internal udp read error", slog.String("pair", pairID), slog.String("err", err.Error()))
			}
			upstream.Close()
			return
		}
		if _, err := pc.WriteTo(buf[:n], peer); err != nil {
			return
		}
	}
}

func hostPort(host string, port uint16) string {
	return net.JoinHostPort(host, itoa(port))
}

func itoa(port uint16) string {
	return strconv.Itoa(int(port))
}
