// Package dhcpsvc implements the DHCP server (spec §4.3): a minimal RFC 2131
// subset covering DISCOVER/OFFER, REQUEST/ACK-NAK and RELEASE, with static
// reservations taking priority over the dynamic pool.
package dhcpsvc

import (
	"time"

	"github.com/groundwater/ghostvm-vnet/addr"
)

// Lease is one active or pending IP assignment.
type Lease struct {
	IP       addr.IPv4
	MAC      addr.MAC
	Expiry   time.Time
	Hostname string
	Static   bool
}

func (l Lease) expired(now time.Time) bool {
	return !l.Static && !l.Expiry.IsZero() && now.After(l.Expiry)
}

// offer is a pending, not-yet-acknowledged allocation made in response to a
// DISCOVER. It is reclaimed once stale (spec §4.3 "pending offer... older
// than a DHCP transaction") or once the REQUEST/RELEASE resolves it.
type offer struct {
	IP      addr.IPv4
	XID     uint32
	Created time.Time
}

// offerTTL bounds how long a pending offer blocks its IP before an implicit
// reclaim on next allocation attempt.
const offerTTL = 5 * time.Second

func (o offer) stale(now time.Time) bool {
	return now.Sub(o.Created) > offerTTL
}
