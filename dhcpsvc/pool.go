package dhcpsvc

import (
	"sync"
	"time"

	"github.com/groundwater/ghostvm-vnet/addr"
)

// pool is the lease/offer/static-reservation bookkeeping table, guarded by
// its own mutex (spec §5: "ARP table and DHCP lease/offer tables have their
// own mutexes").
type pool struct {
	mu      sync.Mutex
	rangeLo addr.IPv4
	rangeHi addr.IPv4
	static  map[addr.MAC]Lease   // keyed by MAC, IP fixed by config
	staticIP map[addr.IPv4]addr.MAC
	active  map[addr.MAC]Lease   // dynamic leases
	offers  map[addr.MAC]offer
}

func newPool(rangeLo, rangeHi addr.IPv4, statics []Lease) *pool {
	p := &pool{
		rangeLo:  rangeLo,
		rangeHi:  rangeHi,
		static:   make(map[addr.MAC]Lease, len(statics)),
		staticIP: make(map[addr.IPv4]addr.MAC, len(statics)),
		active:   make(map[addr.MAC]Lease),
		offers:   make(map[addr.MAC]offer),
	}
	for _, s := range statics {
		s.Static = true
		p.static[s.MAC] = s
		p.staticIP[s.IP] = s.MAC
	}
	return p
}

// errPoolExhausted signals allocation step 4 found no free address.
type errPoolExhausted struct{}

func (errPoolExhausted) Error() string { return "dhcpsvc: address pool exhausted" }

// allocate implements spec §4.3's allocation order for mac, reusing any
// static/active/offered address before scanning the free range.
func (p *pool) allocate(mac addr.MAC, xid uint32, now time.Time) (ip addr.IPv4, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.static[mac]; ok {
		return s.IP, nil
	}
	if l, ok := p.active[mac]; ok && !l.expired(now) {
		return l.IP, nil
	}
	if o, ok := p.offers[mac]; ok && !o.stale(now) {
		return o.IP, nil
	}

	used := p.usedLocked(now)
	for cur := p.rangeLo; ; cur = cur.Next() {
		if !used[cur] {
			p.offers[mac] = offer{IP: cur, XID: xid, Created: now}
			return cur, nil
		}
		if cur == p.rangeHi {
			break
		}
	}
	return addr.IPv4{}, errPoolExhausted{}
}

// usedLocked returns every IP currently claimed by a static reservation, an
// unexpired active lease, or a non-stale pending offer. Caller holds p.mu.
func (p *pool) usedLocked(now time.Time) map[addr.IPv4]bool {
	used := make(map[addr.IPv4]bool, len(p.static)+len(p.active)+len(p.offers))
	for ip := range p.staticIP {
		used[ip] = true
	}
	for _, l := range p.active {
		if !l.expired(now) {
			used[l.IP] = true
		}
	}
	for _, o := range p.offers {
		if !o.stale(now) {
			used[o.IP] = true
		}
	}
	return used
}

// validateRequest implements the REQUEST-validation rule of spec §4.3: the
// requested ip must match any static reservation for mac, or fall inside the
// range and not be held by a different MAC's unexpired lease.
func (p *pool) validateRequest(mac addr.MAC, ip addr.IPv4, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.static[mac]; ok {
		return s.IP == ip
	}
	if owner, ok := p.staticIP[ip]; ok {
		return owner == mac
	}
	if ip.Compare(p.rangeLo) < 0 || ip.Compare(p.rangeHi) > 0 {
		return false
	}
	for otherMAC, l := range p.active {
		if l.IP == ip && otherMAC != mac && !l.expired(now) {
			return false
		}
	}
	return true
}

// commit promotes a validated REQUEST into an active lease and clears any
// pending offer for mac.
func (p *pool) commit(mac addr.MAC, ip addr.IPv4, hostname string, ttl time.Duration, now time.Time) Lease {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.offers, mac)
	if s, ok := p.static[mac]; ok {
		return s
	}
	l := Lease{IP: ip, MAC: mac, Hostname: hostname, Expiry: now.Add(ttl)}
	p.active[mac] = l
	return l
}

// release removes mac's active lease and any pending offer, per RELEASE.
func (p *pool) release(mac addr.MAC) {
	p.mu.Lock()
	delete(p.active, mac)
	delete(p.offers, mac)
	p.mu.Unlock()
}

// purgeExpired drops active leases past their TTL and stale pending offers,
// implementing spec §4.3's periodic purge pass.
func (p *pool) purgeExpired(now time.Time) (purged int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for mac, l := range p.active {
		if l.expired(now) {
			delete(p.active, mac)
			purged++
		}
	}
	for mac, o := range p.offers {
		if o.stale(now) {
			delete(p.offers, mac)
		}
	}
	return purged
}

// snapshot returns every static and active lease, for the router's
// read-only observable-state API (spec §6).
func (p *pool) snapshot(now time.Time) []Lease {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Lease, 0, len(p.static)+len(p.active))
	for _, s := range p.static {
		out = append(out, s)
	}
	for _, l := range p.active {
		if !l.expired(now) {
			out = append(out, l)
		}
	}
	return out
}

// clear drops every dynamic lease and pending offer, leaving static
// reservations untouched, for use on orchestrator Stop.
func (p *pool) clear() {
	p.mu.Lock()
	clear(p.active)
	clear(p.offers)
	p.mu.Unlock()
}

func (p *pool) restore(leases []Lease) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, l := range leases {
		if l.Static {
			continue
		}
		p.active[l.MAC] = l
	}
}
