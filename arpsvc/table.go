// Package arpsvc implements the ARP responder (spec §4.2): it learns
// sender bindings from every ARP packet it sees, answers requests for the
// gateway's own address, and lets other components (dhcpsvc) register
// bindings directly once they hand out a lease.
package arpsvc

import (
	"sync"

	"github.com/groundwater/ghostvm-vnet/addr"
)

// Table is the IP->MAC binding table, guarded by its own mutex per spec §5
// ("ARP table and DHCP lease/offer tables have their own mutexes").
type Table struct {
	mu   sync.Mutex
	bind map[addr.IPv4]addr.MAC
}

// NewTable returns an empty, ready-to-use Table.
func NewTable() *Table {
	return &Table{bind: make(map[addr.IPv4]addr.MAC)}
}

// Learn records (ip, mac) unless mac is the broadcast or zero address, per
// spec §4.2 "unless sender_mac is broadcast or all-zero".
func (t *Table) Learn(ip addr.IPv4, mac addr.MAC) {
	if mac.IsBroadcast() || mac.IsZero() {
		return
	}
	t.mu.Lock()
	t.bind[ip] = mac
	t.mu.Unlock()
}

// Register force-inserts a binding, used by dhcpsvc right after handing out
// a lease so ARP replies work immediately (spec §4.3 side effect).
func (t *Table) Register(ip addr.IPv4, mac addr.MAC) {
	t.mu.Lock()
	t.bind[ip] = mac
	t.mu.Unlock()
}

// Lookup returns the MAC bound to ip, if any.
func (t *Table) Lookup(ip addr.IPv4) (addr.MAC, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	mac, ok := t.bind[ip]
	return mac, ok
}

// Snapshot returns a copy of the current IP->MAC bindings.
func (t *Table) Snapshot() map[addr.IPv4]addr.MAC {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[addr.IPv4]addr.MAC, len(t.bind))
	for k, v := range t.bind {
		out[k] = v
	}
	return out
}

// Clear removes every binding, used by the orchestrator on Stop.
func (t *Table) Clear() {
	t.mu.Lock()
	clear(t.bind)
	t.mu.Unlock()
}
