package firewall

import (
	"testing"

	"github.com/groundwater/ghostvm-vnet/addr"
	"github.com/groundwater/ghostvm-vnet/routercfg"
	"github.com/groundwater/ghostvm-vnet/wire/ethernet"
	"github.com/stretchr/testify/require"
)

func ethFrame(t *testing.T, dst addr.MAC) ethernet.Frame {
	t.Helper()
	buf := make([]byte, ethernet.HeaderLen)
	f, err := ethernet.NewFrame(buf)
	require.NoError(t, err)
	copy(f.Destination()[:], dst[:])
	f.SetEtherType(ethernet.TypeIPv4)
	return f
}

func TestEvaluatorEmptyRulesDefaultBlockDropsEverything(t *testing.T) {
	cfg := routercfg.Config{Firewall: routercfg.Firewall{Default: routercfg.PolicyBlock}}
	ev, err := New(cfg, nil)
	require.NoError(t, err)

	flow := Flow{
		Eth:     ethFrame(t, addr.MAC{0x02, 1, 1, 1, 1, 1}),
		Proto:   routercfg.ProtoTCP,
		SrcIP:   addr.IPv4{10, 100, 0, 10},
		DstIP:   addr.IPv4{8, 8, 8, 8},
		SrcPort: 12345,
		DstPort: 443,
	}
	require.Equal(t, routercfg.PolicyBlock, ev.Evaluate(routercfg.DirOutbound, flow))
	require.Equal(t, routercfg.PolicyBlock, ev.Evaluate(routercfg.DirInbound, flow))
}

func TestEvaluatorBlocksOutboundCIDRButAllowsOthers(t *testing.T) {
	cfg := routercfg.Config{
		Firewall: routercfg.Firewall{
			Default: routercfg.PolicyAllow,
			Rules: []routercfg.Rule{
				{
					Enabled:   true,
					Direction: routercfg.DirOutbound,
					Layer:     routercfg.LayerL3,
					Action:    routercfg.PolicyBlock,
					Proto:     routercfg.ProtoAny,
					DstCIDR:   "10.0.0.0/8",
				},
			},
		},
	}
	ev, err := New(cfg, nil)
	require.NoError(t, err)

	blocked := Flow{Proto: routercfg.ProtoTCP, SrcIP: addr.IPv4{10, 100, 0, 10}, DstIP: addr.IPv4{10, 0, 0, 5}, DstPort: 80}
	require.Equal(t, routercfg.PolicyBlock, ev.Evaluate(routercfg.DirOutbound, blocked))

	allowed := Flow{Proto: routercfg.ProtoTCP, SrcIP: addr.IPv4{10, 100, 0, 10}, DstIP: addr.IPv4{8, 8, 8, 8}, DstPort: 80}
	require.Equal(t, routercfg.PolicyAllow, ev.Evaluate(routercfg.DirOutbound, allowed))

	// Same destination, but on the inbound path, is untouched by an
	// outbound-only rule.
	require.Equal(t, routercfg.PolicyAllow, ev.Evaluate(routercfg.DirInbound, blocked))
}

func TestEvaluatorFirstMatchWins(t *testing.T) {
	cfg := routercfg.Config{
		Firewall: routercfg.Firewall{
			Default: routercfg.PolicyBlock,
			Rules: []routercfg.Rule{
				{Enabled: true, Direction: routercfg.DirBoth, Layer: routercfg.LayerL3, Action: routercfg.PolicyAllow, Proto: routercfg.ProtoAny, DstCIDR: "8.8.8.8/32"},
				{Enabled: true, Direction: routercfg.DirBoth, Layer: routercfg.LayerL3, Action: routercfg.PolicyBlock, Proto: routercfg.ProtoAny},
			},
		},
	}
	ev, err := New(cfg, nil)
	require.NoError(t, err)

	allowed := Flow{Proto: routercfg.ProtoUDP, DstIP: addr.IPv4{8, 8, 8, 8}, DstPort: 53}
	require.Equal(t, routercfg.PolicyAllow, ev.Evaluate(routercfg.DirOutbound, allowed))

	other := Flow{Proto: routercfg.ProtoUDP, DstIP: addr.IPv4{1, 1, 1, 1}, DstPort: 53}
	require.Equal(t, routercfg.PolicyBlock, ev.Evaluate(routercfg.DirOutbound, other))
}

func TestEvaluatorDisabledRuleIsSkipped(t *testing.T) {
	cfg := routercfg.Config{
		Firewall: routercfg.Firewall{
			Default: routercfg.PolicyAllow,
			Rules: []routercfg.Rule{
				{Enabled: false, Direction: routercfg.DirBoth, Layer: routercfg.LayerL3, Action: routercfg.PolicyBlock, Proto: routercfg.ProtoAny},
			},
		},
	}
	ev, err := New(cfg, nil)
	require.NoError(t, err)

	flow := Flow{Proto: routercfg.ProtoTCP, DstIP: addr.IPv4{1, 1, 1, 1}, DstPort: 443}
	require.Equal(t, routercfg.PolicyAllow, ev.Evaluate(routercfg.DirOutbound, flow))
}

func TestEvaluatorBlockBroadcastL2Rule(t *testing.T) {
	cfg := routercfg.Config{
		Firewall: routercfg.Firewall{
			Default: routercfg.PolicyAllow,
			Rules: []routercfg.Rule{
				{Enabled: true, Direction: routercfg.DirBoth, Layer: routercfg.LayerL2, Action: routercfg.PolicyBlock, BlockBroadcast: true},
			},
		},
	}
	ev, err := New(cfg, nil)
	require.NoError(t, err)

	broadcast := Flow{Eth: ethFrame(t, addr.Broadcast())}
	require.Equal(t, routercfg.PolicyBlock, ev.Evaluate(routercfg.DirOutbound, broadcast))

	unicast := Flow{Eth: ethFrame(t, addr.MAC{0x02, 9, 9, 9, 9, 9})}
	require.Equal(t, routercfg.PolicyAllow, ev.Evaluate(routercfg.DirOutbound, unicast))
}

func TestEvaluatorAliasResolutionFailsFast(t *testing.T) {
	cfg := routercfg.Config{
		Firewall: routercfg.Firewall{
			Rules: []routercfg.Rule{
				{Enabled: true, Layer: routercfg.LayerL3, DstCIDR: "not-a-known-alias"},
			},
		},
	}
	_, err := New(cfg, nil)
	require.Error(t, err)
}

func TestEvaluatorPortAliasMembership(t *testing.T) {
	cfg := routercfg.Config{
		Aliases: routercfg.Aliases{
			Ports: map[string][]uint16{"web": {80, 443}},
		},
		Firewall: routercfg.Firewall{
			Default: routercfg.PolicyBlock,
			Rules: []routercfg.Rule{
				{Enabled: true, Direction: routercfg.DirBoth, Layer: routercfg.LayerL3, Action: routercfg.PolicyAllow, Proto: routercfg.ProtoTCP, DstPort: "web"},
			},
		},
	}
	ev, err := New(cfg, nil)
	require.NoError(t, err)

	require.Equal(t, routercfg.PolicyAllow, ev.Evaluate(routercfg.DirOutbound, Flow{Proto: routercfg.ProtoTCP, DstPort: 443}))
	require.Equal(t, routercfg.PolicyBlock, ev.Evaluate(routercfg.DirOutbound, Flow{Proto: routercfg.ProtoTCP, DstPort: 22}))
}
