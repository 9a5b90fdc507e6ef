package routercfg

import (
	"fmt"

	"github.com/groundwater/ghostvm-vnet/addr"
)

// ResolveHostsOrNetworks resolves a firewall CIDR field (spec §4.6): it may
// be a literal CIDR, a literal IP (treated as /32), a "hosts" alias name
// (any-member-contains match) or a "networks" alias name (any-member-
// contains match). An empty field matches anything.
func (a Aliases) ResolveHostsOrNetworks(field string) (cidrs []addr.CIDR, matchAny bool, err error) {
	if field == "" {
		return nil, true, nil
	}
	if members, ok := a.Hosts[field]; ok {
		return parseCIDRList(members)
	}
	if members, ok := a.Networks[field]; ok {
		return parseCIDRList(members)
	}
	c, err := addr.ParseCIDR(field)
	if err != nil {
		return nil, false, fmt.Errorf("routercfg: %q is neither a known alias nor a valid CIDR/IP: %w", field, err)
	}
	return []addr.CIDR{c}, false, nil
}

func parseCIDRList(members []string) ([]addr.CIDR, bool, error) {
	out := make([]addr.CIDR, 0, len(members))
	for _, m := range members {
		c, err := addr.ParseCIDR(m)
		if err != nil {
			return nil, false, err
		}
		out = append(out, c)
	}
	return out, false, nil
}

// ResolvePorts resolves a firewall port field: a literal port number, a
// "ports" alias name (exact-membership match), or empty (matches anything).
func (a Aliases) ResolvePorts(field string) (ports []uint16, matchAny bool, err error) {
	if field == "" {
		return nil, true, nil
	}
	if members, ok := a.Ports[field]; ok {
		return members, false, nil
	}
	var p uint16
	if _, err := fmt.Sscanf(field, "%d", &p); err != nil || p == 0 {
		return nil, false, fmt.Errorf("routercfg: %q is neither a known port alias nor a valid port number", field)
	}
	return []uint16{p}, false, nil
}

// MatchesAnyCIDR reports whether ip falls inside any of the resolved CIDRs,
// or unconditionally matches if matchAny is set (see ResolveHostsOrNetworks).
func MatchesAnyCIDR(ip addr.IPv4, cidrs []addr.CIDR, matchAny bool) bool {
	if matchAny {
		return true
	}
	for _, c := range cidrs {
		if c.Contains(ip) {
			return true
		}
	}
	return false
}

// MatchesAnyPort reports whether port is exactly one of ports, or
// unconditionally matches if matchAny is set (see ResolvePorts).
func MatchesAnyPort(port uint16, ports []uint16, matchAny bool) bool {
	if matchAny {
		return true
	}
	for _, p := range ports {
		if p == port {
			return true
		}
	}
	return false
}
