// Package natsvc implements the stateful NAT engine (spec §4.5): ephemeral
// port translation for outbound UDP and TCP flows, each flow owning its own
// upstream socket.
package natsvc

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/groundwater/ghostvm-vnet/addr"
)

// Proto distinguishes the two flow kinds this engine translates.
type Proto uint8

const (
	ProtoUDP Proto = iota
	ProtoTCP
)

func (p Proto) String() string {
	if p == ProtoTCP {
		return "tcp"
	}
	return "udp"
}

// PortRangeLo and PortRangeHi bound the ephemeral mapped-port pool (spec
// §4.5 "Port pool: [10000, 60000]").
const (
	PortRangeLo uint16 = 10000
	PortRangeHi uint16 = 60000
)

// FlowKey identifies an outbound flow by its client-side 5-tuple.
type FlowKey struct {
	Proto   Proto
	SrcIP   addr.IPv4
	SrcPort uint16
	DstIP   addr.IPv4
	DstPort uint16
}

// ReverseKey identifies a flow by its NAT-assigned mapped port, used to
// route upstream responses back to the owning entry.
type ReverseKey struct {
	Proto      Proto
	MappedPort uint16
}

// Entry is one active NAT association (spec §3 "NAT entry").
type Entry struct {
	Key          FlowKey
	MappedPort   uint16
	ClientMAC    addr.MAC
	Upstream     net.Conn
	LastActivity time.Time
	TCP          *tcpFlowState // nil for UDP entries
}

var errPortPoolExhausted = errors.New("natsvc: port pool exhausted")

// Table is the forward/reverse NAT association table, guarded by a single
// mutex per spec §5.
type Table struct {
	mu      sync.Mutex
	cursor  uint16
	forward map[FlowKey]*Entry
	reverse map[ReverseKey]*Entry
}

// NewTable returns an empty table with the cursor at the start of the pool.
func NewTable() *Table {
	return &Table{
		cursor:  PortRangeLo,
		forward: make(map[FlowKey]*Entry),
		reverse: make(map[ReverseKey]*Entry),
	}
}

// Lookup returns the existing entry for key, if any.
func (t *Table) Lookup(key FlowKey) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.forward[key]
	return e, ok
}

// LookupReverse returns the entry owning (proto, mappedPort).
func (t *Table) LookupReverse(proto Proto, mappedPort uint16) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.reverse[ReverseKey{Proto: proto, MappedPort: mappedPort}]
	return e, ok
}

// Insert allocates a mapped port round-robin from the rolling cursor
// (spec §4.5), skipping ports already mapped for proto, and registers the
// entry under both the forward and reverse keys. entry.MappedPort is set on
// success.
func (t *Table) Insert(entry *Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	const span = uint32(PortRangeHi) - uint32(PortRangeLo) + 1
	start := t.cursor
	for i := uint32(0); i < span; i++ {
		candidate := t.cursor
		t.cursor++
		if t.cursor > PortRangeHi {
			t.cursor = PortRangeLo
		}
		rk := ReverseKey{Proto: entry.Key.Proto, MappedPort: candidate}
		if _, used := t.reverse[rk]; used {
			continue
		}
		entry.MappedPort = candidate
		t.forward[entry.Key] = entry
		t.reverse[rk] = entry
		return nil
	}
	t.cursor = start
	return errPortPoolExhausted
}

// Touch refreshes an entry's last-activity timestamp.
func (t *Table) Touch(key FlowKey, now time.Time) {
	t.mu.Lock()
	if e, ok := t.forward[key]; ok {
		e.LastActivity = now
	}
	t.mu.Unlock()
}

// Remove deletes entry from both indexes.
func (t *Table) Remove(entry *Entry) {
	t.mu.Lock()
	delete(t.forward, entry.Key)
	delete(t.reverse, ReverseKey{Proto: entry.Key.Proto, MappedPort: entry.MappedPort})
	t.mu.Unlock()
}

// Sweep evicts UDP entries idle past udpIdle and TCP fin_wait entries idle
// past finWaitIdle (spec §4.5 "Timeouts"), returning the evicted entries so
// the caller can close their upstream sockets outside the lock.
func (t *Table) Sweep(now time.Time, udpIdle, finWaitIdle time.Duration) []*Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var evicted []*Entry
	for key, e := range t.forward {
		var expired bool
		switch {
		case key.Proto == ProtoUDP:
			expired = now.Sub(e.LastActivity) > udpIdle
		case e.TCP != nil && e.TCP.state == tcpStateFinWait:
			expired = now.Sub(e.LastActivity) > finWaitIdle
		case e.TCP != nil && e.TCP.state == tcpStateClosed:
			expired = true
		}
		if expired {
			evicted = append(evicted, e)
			delete(t.forward, key)
			delete(t.reverse, ReverseKey{Proto: key.Proto, MappedPort: e.MappedPort})
		}
	}
	return evicted
}

// Count returns the number of active entries (spec §6 observable state).
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.forward)
}

// Clear removes and returns every entry, for use on orchestrator Stop.
func (t *Table) Clear() []*Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Entry, 0, len(t.forward))
	for _, e := range t.forward {
		out = append(out, e)
	}
	t.forward = make(map[FlowKey]*Entry)
	t.reverse = make(map[ReverseKey]*Entry)
	return out
}
