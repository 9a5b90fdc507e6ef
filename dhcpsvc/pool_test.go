package dhcpsvc

import (
	"testing"
	"time"

	"github.com/groundwater/ghostvm-vnet/addr"
)

func ip(a, b, c, d byte) addr.IPv4 { return addr.IPv4{a, b, c, d} }
func mac(n byte) addr.MAC          { return addr.MAC{0x02, 0, 0, 0, 0, n} }

func TestPoolAllocatesLowestFree(t *testing.T) {
	p := newPool(ip(10, 0, 0, 10), ip(10, 0, 0, 12), nil)
	now := time.Unix(1000, 0)

	got, err := p.allocate(mac(1), 0x1, now)
	if err != nil || got != ip(10, 0, 0, 10) {
		t.Fatalf("first allocation = %v, %v; want 10.0.0.10, nil", got, err)
	}
	got2, err := p.allocate(mac(2), 0x2, now)
	if err != nil || got2 != ip(10, 0, 0, 11) {
		t.Fatalf("second allocation = %v, %v; want 10.0.0.11, nil", got2, err)
	}
}

func TestPoolExhaustionNoSecondOffer(t *testing.T) {
	p := newPool(ip(10, 0, 0, 10), ip(10, 0, 0, 10), nil)
	now := time.Unix(1000, 0)

	if _, err := p.allocate(mac(1), 0x1, now); err != nil {
		t.Fatal(err)
	}
	if _, err := p.allocate(mac(2), 0x2, now); err == nil {
		t.Fatal("boundary test: pool of size 1 must refuse a second distinct MAC")
	}
}

func TestPoolReturnsSameOfferOnRetry(t *testing.T) {
	p := newPool(ip(10, 0, 0, 10), ip(10, 0, 0, 20), nil)
	now := time.Unix(1000, 0)

	first, _ := p.allocate(mac(1), 0x1, now)
	second, _ := p.allocate(mac(1), 0x2, now)
	if first != second {
		t.Fatalf("re-DISCOVER before ACK must return the same pending offer, got %v then %v", first, second)
	}
}

func TestPoolStaticLeaseWinsOverPool(t *testing.T) {
	statics := []Lease{{IP: ip(10, 0, 0, 50), MAC: mac(9)}}
	p := newPool(ip(10, 0, 0, 10), ip(10, 0, 0, 254), statics)
	now := time.Unix(1000, 0)

	got, err := p.allocate(mac(9), 0x1, now)
	if err != nil || got != ip(10, 0, 0, 50) {
		t.Fatalf("static reservation should win, got %v, %v", got, err)
	}
	// And that address must never be handed to anyone else.
	used := p.usedLocked(now)
	if !used[ip(10, 0, 0, 50)] {
		t.Fatal("static IP must be marked used")
	}
}

func TestPoolExpiredLeaseIsReclaimed(t *testing.T) {
	p := newPool(ip(10, 0, 0, 10), ip(10, 0, 0, 10), nil)
	now := time.Unix(1000, 0)
	p.commit(mac(1), ip(10, 0, 0, 10), "", time.Second, now)

	later := now.Add(2 * time.Second)
	if n := p.purgeExpired(later); n != 1 {
		t.Fatalf("expected 1 lease purged, got %d", n)
	}
	got, err := p.allocate(mac(2), 0x9, later)
	if err != nil || got != ip(10, 0, 0, 10) {
		t.Fatalf("address should be reclaimed after purge, got %v, %v", got, err)
	}
}

func TestPoolValidateRequestRejectsOtherMACsLease(t *testing.T) {
	p := newPool(ip(10, 0, 0, 10), ip(10, 0, 0, 254), nil)
	now := time.Unix(1000, 0)
	p.commit(mac(1), ip(10, 0, 0, 10), "", time.Hour, now)

	if p.validateRequest(mac(2), ip(10, 0, 0, 10), now) {
		t.Fatal("REQUEST for an address held by a different MAC's unexpired lease must fail validation")
	}
}
