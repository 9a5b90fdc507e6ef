package leasestore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/groundwater/ghostvm-vnet/addr"
	"github.com/groundwater/ghostvm-vnet/dhcpsvc"
	"github.com/stretchr/testify/require"
)

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "leases.db")
	st, err := Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	leases := []dhcpsvc.Lease{
		{
			IP:       addr.IPv4{10, 100, 0, 10},
			MAC:      addr.MAC{0x02, 0x11, 0x22, 0x33, 0x44, 0x55},
			Expiry:   time.Unix(1_700_000_000, 0).UTC(),
			Hostname: "guest-1",
		},
	}
	require.NoError(t, st.Save(leases))

	got, err := st.Load()
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, leases[0].IP, got[0].IP)
	require.Equal(t, leases[0].MAC, got[0].MAC)
	require.True(t, leases[0].Expiry.Equal(got[0].Expiry))
	require.Equal(t, leases[0].Hostname, got[0].Hostname)
}

func TestStoreSaveOverwritesPreviousSet(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "leases.db")
	st, err := Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.Save([]dhcpsvc.Lease{
		{IP: addr.IPv4{10, 0, 0, 1}, MAC: addr.MAC{0x02, 0, 0, 0, 0, 1}},
	}))
	require.NoError(t, st.Save([]dhcpsvc.Lease{
		{IP: addr.IPv4{10, 0, 0, 2}, MAC: addr.MAC{0x02, 0, 0, 0, 0, 2}},
	}))

	got, err := st.Load()
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, addr.IPv4{10, 0, 0, 2}, got[0].IP)
}
