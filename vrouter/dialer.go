package vrouter

import (
	"context"
	"net"
)

// netDialer wraps net.Dialer to satisfy dnsfwd.Dialer, natsvc.Dialer and
// portfwd.Dialer with a single concrete type. The router constructs exactly
// one of these and hands it to every component that needs to reach the real
// network.
//
// portfwd's internal-endpoint dials also go through this type rather than a
// full reverse path back into the guest's virtual network stack (see
// DESIGN.md "port forwarding internal dial").
type netDialer struct {
	d net.Dialer
}

func newDialer() *netDialer {
	return &netDialer{}
}

func (n *netDialer) DialUDP(ctx context.Context, raddr string) (net.Conn, error) {
	return n.d.DialContext(ctx, "udp", raddr)
}

func (n *netDialer) DialTCP(ctx context.Context, raddr string) (net.Conn, error) {
	return n.d.DialContext(ctx, "tcp", raddr)
}
