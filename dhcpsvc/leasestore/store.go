// Package leasestore persists the DHCP active-lease table to a bbolt file
// so a restarted router can rehydrate leases instead of re-running DORA for
// every guest (an extension beyond the base spec; see SPEC_FULL.md's domain
// stack section).
package leasestore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/groundwater/ghostvm-vnet/addr"
	"github.com/groundwater/ghostvm-vnet/dhcpsvc"
	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("leases")

// Store is a bbolt-backed dhcpsvc.LeaseStore.
type Store struct {
	db *bolt.DB
}

// record is the JSON-serializable form of a dhcpsvc.Lease.
type record struct {
	IP       string    `json:"ip"`
	MAC      string    `json:"mac"`
	Expiry   time.Time `json:"expiry"`
	Hostname string    `json:"hostname"`
}

// Open opens (creating if absent) a bbolt database at path for lease
// persistence.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o640, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("leasestore: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("leasestore: init bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying bbolt file handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load returns every persisted lease.
func (s *Store) Load() ([]dhcpsvc.Lease, error) {
	var out []dhcpsvc.Lease
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		return b.ForEach(func(k, v []byte) error {
			var r record
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("leasestore: decode %q: %w", k, err)
			}
			ip, err := addr.ParseIPv4(r.IP)
			if err != nil {
				return err
			}
			mac, err := addr.ParseMAC(r.MAC)
			if err != nil {
				return err
			}
			out = append(out, dhcpsvc.Lease{
				IP:       ip,
				MAC:      mac,
				Expiry:   r.Expiry,
				Hostname: r.Hostname,
			})
			return nil
		})
	})
	return out, err
}

// Save overwrites the persisted lease set with leases.
func (s *Store) Save(leases []dhcpsvc.Lease) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		// Clear the bucket by recreating it, then repopulate.
		if err := tx.DeleteBucket(bucketName); err != nil {
			return err
		}
		nb, err := tx.CreateBucket(bucketName)
		if err != nil {
			return err
		}
		for _, l := range leases {
			r := record{IP: l.IP.String(), MAC: l.MAC.String(), Expiry: l.Expiry, Hostname: l.Hostname}
			buf, err := json.Marshal(r)
			if err != nil {
				return err
			}
			if err := nb.Put([]byte(l.MAC.String()), buf); err != nil {
				return err
			}
		}
		return nil
	})
}
