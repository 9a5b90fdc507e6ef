// Package firewall implements the rule-based firewall (spec §4.6): an
// ordered list of L2/L3 rules evaluated first-match-wins, falling back to a
// default policy, separately for outbound and inbound traffic.
package firewall

import (
	"fmt"
	"log/slog"

	"github.com/groundwater/ghostvm-vnet/addr"
	"github.com/groundwater/ghostvm-vnet/routercfg"
	"github.com/groundwater/ghostvm-vnet/wire/ethernet"
)

type compiledRule struct {
	rule routercfg.Rule

	srcCIDRs []addr.CIDR
	srcAny   bool
	dstCIDRs []addr.CIDR
	dstAny   bool

	srcPorts   []uint16
	srcPortAny bool
	dstPorts   []uint16
	dstPortAny bool
}

// Evaluator holds the compiled, alias-resolved rule list for one router
// instance.
type Evaluator struct {
	rules   []compiledRule
	Default routercfg.Policy
	log     *slog.Logger
}

// New compiles cfg.Firewall against cfg.Aliases. Alias resolution failures
// are configuration errors (spec §7 "Configuration error at start") and
// abort construction rather than surfacing at match time.
func New(cfg routercfg.Config, log *slog.Logger) (*Evaluator, error) {
	if log == nil {
		log = slog.Default()
	}
	e := &Evaluator{Default: cfg.Firewall.Default, log: log}
	for i, r := range cfg.Firewall.Rules {
		cr := compiledRule{rule: r}
		if r.Layer == routercfg.LayerL3 {
			var err error
			cr.srcCIDRs, cr.srcAny, err = cfg.Aliases.ResolveHostsOrNetworks(r.SrcCIDR)
			if err != nil {
				return nil, fmt.Errorf("firewall: rule %d: %w", i, err)
			}
			cr.dstCIDRs, cr.dstAny, err = cfg.Aliases.ResolveHostsOrNetworks(r.DstCIDR)
			if err != nil {
				return nil, fmt.Errorf("firewall: rule %d: %w", i, err)
			}
			cr.srcPorts, cr.srcPortAny, err = cfg.Aliases.ResolvePorts(r.SrcPort)
			if err != nil {
				return nil, fmt.Errorf("firewall: rule %d: %w", i, err)
			}
			cr.dstPorts, cr.dstPortAny, err = cfg.Aliases.ResolvePorts(r.DstPort)
			if err != nil {
				return nil, fmt.Errorf("firewall: rule %d: %w", i, err)
			}
		}
		e.rules = append(e.rules, cr)
	}
	return e, nil
}

// Flow is the L2/L3 context a firewall rule matches against. Ports and
// Proto are left at their zero values for non-TCP/UDP traffic (ARP, ICMP).
type Flow struct {
	Eth ethernet.Frame

	Proto   routercfg.IPProtoMatch
	SrcIP   addr.IPv4
	DstIP   addr.IPv4
	SrcPort uint16
	DstPort uint16
}

// Evaluate walks the compiled rule list in order and returns the action of
// the first matching rule, or the default policy if none match (spec §4.6).
func (e *Evaluator) Evaluate(dir routercfg.Direction, f Flow) routercfg.Policy {
	for i, cr := range e.rules {
		if !cr.rule.Enabled {
			continue
		}
		if cr.rule.Direction != routercfg.DirBoth && cr.rule.Direction != dir {
			continue
		}
		if !cr.matches(f) {
			continue
		}
		if cr.rule.Action == routercfg.PolicyBlock {
			e.log.Debug("firewall: blocked by rule", slog.Int("rule", i))
		}
		return cr.rule.Action
	}
	return e.Default
}

func (cr compiledRule) matches(f Flow) bool {
	r := cr.rule
	switch r.Layer {
	case routercfg.LayerL2:
		if r.BlockBroadcast && !addr.MAC(*f.Eth.Destination()).IsBroadcast() {
			return false
		}
		if r.SrcMAC != nil && addr.MAC(*f.Eth.Source()) != *r.SrcMAC {
			return false
		}
		if r.DstMAC != nil && addr.MAC(*f.Eth.Destination()) != *r.DstMAC {
			return false
		}
		if r.EtherType != nil && uint16(f.Eth.EtherType()) != *r.EtherType {
			return false
		}
		return true

	case routercfg.LayerL3:
		if r.Proto != routercfg.ProtoAny && r.Proto != f.Proto {
			return false
		}
		if !routercfg.MatchesAnyCIDR(f.SrcIP, cr.srcCIDRs, cr.srcAny) {
			return false
		}
		if !routercfg.MatchesAnyCIDR(f.DstIP, cr.dstCIDRs, cr.dstAny) {
			return false
		}
		if !routercfg.MatchesAnyPort(f.SrcPort, cr.srcPorts, cr.srcPortAny) {
			return false
		}
		if !routercfg.MatchesAnyPort(f.DstPort, cr.dstPorts, cr.dstPortAny) {
			return false
		}
		return true

	default:
		return false
	}
}
