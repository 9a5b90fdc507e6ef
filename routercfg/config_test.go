package routercfg

import (
	"testing"
	"time"

	"github.com/groundwater/ghostvm-vnet/addr"
	"github.com/stretchr/testify/require"
)

func mustCIDR(t *testing.T, s string) addr.CIDR {
	t.Helper()
	c, err := addr.ParseCIDR(s)
	require.NoError(t, err)
	return c
}

func mustIP(t *testing.T, s string) addr.IPv4 {
	t.Helper()
	ip, err := addr.ParseIPv4(s)
	require.NoError(t, err)
	return ip
}

func baseConfig(t *testing.T) Config {
	return Config{
		NetworkID: "test-net",
		LAN: LAN{
			GatewayIP: mustIP(t, "10.100.0.1"),
			Subnet:    mustCIDR(t, "10.100.0.0/24"),
		},
		DHCP: DHCP{
			Enabled:    true,
			RangeStart: mustIP(t, "10.100.0.10"),
			RangeEnd:   mustIP(t, "10.100.0.254"),
			LeaseTTL:   time.Hour,
		},
	}
}

func TestConfigValidate_OK(t *testing.T) {
	require.NoError(t, baseConfig(t).Validate())
}

func TestConfigValidate_GatewayOutsideSubnet(t *testing.T) {
	cfg := baseConfig(t)
	cfg.LAN.GatewayIP = mustIP(t, "192.168.0.1")
	require.Error(t, cfg.Validate())
}

func TestConfigValidate_DHCPRangeOutsideSubnet(t *testing.T) {
	cfg := baseConfig(t)
	cfg.DHCP.RangeEnd = mustIP(t, "192.168.0.254")
	require.Error(t, cfg.Validate())
}

func TestConfigValidate_DHCPRangeReversed(t *testing.T) {
	cfg := baseConfig(t)
	cfg.DHCP.RangeStart, cfg.DHCP.RangeEnd = cfg.DHCP.RangeEnd, cfg.DHCP.RangeStart
	require.Error(t, cfg.Validate())
}

func TestConfigValidate_StaticLeaseConflict(t *testing.T) {
	cfg := baseConfig(t)
	mac1 := addr.MAC{0x02, 0, 0, 0, 0, 1}
	mac2 := addr.MAC{0x02, 0, 0, 0, 0, 2}
	ip := mustIP(t, "10.100.0.50")
	cfg.DHCP.StaticLeases = []StaticLease{
		{MAC: mac1, IP: ip},
		{MAC: mac2, IP: ip},
	}
	require.Error(t, cfg.Validate())
}

func TestConfigValidate_DNSCustomRequiresServers(t *testing.T) {
	cfg := baseConfig(t)
	cfg.DNS.Mode = DNSCustom
	require.Error(t, cfg.Validate())
	cfg.DNS.Servers = []addr.IPv4{mustIP(t, "1.1.1.1")}
	require.NoError(t, cfg.Validate())
}

func TestConfigValidate_PortForwardCollision(t *testing.T) {
	cfg := baseConfig(t)
	cfg.PortForwards = []PortForward{
		{Proto: ProtoTCP, ExternalPort: 8080, InternalIP: mustIP(t, "10.100.0.10"), InternalPort: 80, Enabled: true},
		{Proto: ProtoTCP, ExternalPort: 8080, InternalIP: mustIP(t, "10.100.0.11"), InternalPort: 80, Enabled: true},
	}
	require.Error(t, cfg.Validate())
}

func TestResolvedGatewayMAC(t *testing.T) {
	cfg := baseConfig(t)
	mac := cfg.ResolvedGatewayMAC()
	require.False(t, mac.IsZero())
	// Deterministic across re-derivation with the same NetworkID (spec §3).
	require.Equal(t, mac, cfg.ResolvedGatewayMAC())

	explicit := addr.MAC{0x02, 0xaa, 0xbb, 0xcc, 0xdd, 0xee}
	cfg.LAN.GatewayMAC = explicit
	require.Equal(t, explicit, cfg.ResolvedGatewayMAC())
}
