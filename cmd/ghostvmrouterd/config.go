package main

import (
	"fmt"
	"os"
	"time"

	"github.com/groundwater/ghostvm-vnet/addr"
	"github.com/groundwater/ghostvm-vnet/routercfg"
	"gopkg.in/yaml.v3"
)

// fileConfig is the on-disk YAML shape this binary accepts. It exists only
// here: routercfg.Config itself never imports a YAML encoder (spec §10.3),
// so this type exists purely to give the CLI a human-editable file format,
// translated into routercfg.Config by toRouterConfig.
type fileConfig struct {
	NetworkID string `yaml:"network_id"`
	LAN       struct {
		GatewayIP string `yaml:"gateway_ip"`
		Subnet    string `yaml:"subnet"`
	} `yaml:"lan"`
	DHCP struct {
		Enabled    bool   `yaml:"enabled"`
		RangeStart string `yaml:"range_start"`
		RangeEnd   string `yaml:"range_end"`
		LeaseTTL   string `yaml:"lease_ttl"`
		Static     []struct {
			MAC      string `yaml:"mac"`
			IP       string `yaml:"ip"`
			Hostname string `yaml:"hostname"`
		} `yaml:"static_leases"`
	} `yaml:"dhcp"`
	DNS struct {
		Mode    string   `yaml:"mode"`
		Servers []string `yaml:"servers"`
	} `yaml:"dns"`
	Firewall struct {
		Default string `yaml:"default"`
		Rules   []struct {
			Enabled        bool     `yaml:"enabled"`
			Direction      string   `yaml:"direction"`
			Layer          string   `yaml:"layer"`
			Action         string   `yaml:"action"`
			SrcMAC         string   `yaml:"src_mac"`
			DstMAC         string   `yaml:"dst_mac"`
			BlockBroadcast bool     `yaml:"block_broadcast"`
			SrcCIDR        string   `yaml:"src_cidr"`
			DstCIDR        string   `yaml:"dst_cidr"`
			Proto          string   `yaml:"proto"`
			SrcPort        string   `yaml:"src_port"`
			DstPort        string   `yaml:"dst_port"`
		} `yaml:"rules"`
	} `yaml:"firewall"`
	Aliases struct {
		Hosts    map[string][]string `yaml:"hosts"`
		Networks map[string][]string `yaml:"networks"`
		Ports    map[string][]int    `yaml:"ports"`
	} `yaml:"aliases"`
	PortForwards []struct {
		Proto        string `yaml:"proto"`
		ExternalPort int    `yaml:"external_port"`
		InternalIP   string `yaml:"internal_ip"`
		InternalPort int    `yaml:"internal_port"`
		Enabled      bool   `yaml:"enabled"`
	} `yaml:"port_forwards"`
}

func loadConfig(path string) (routercfg.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return routercfg.Config{}, fmt.Errorf("ghostvmrouterd: reading config: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return routercfg.Config{}, fmt.Errorf("ghostvmrouterd: parsing config: %w", err)
	}
	return fc.toRouterConfig()
}

func (fc fileConfig) toRouterConfig() (routercfg.Config, error) {
	var cfg routercfg.Config
	var err error

	cfg.NetworkID = fc.NetworkID
	if cfg.LAN.GatewayIP, err = addr.ParseIPv4(fc.LAN.GatewayIP); err != nil {
		return cfg, fmt.Errorf("lan.gateway_ip: %w", err)
	}
	if cfg.LAN.Subnet, err = addr.ParseCIDR(fc.LAN.Subnet); err != nil {
		return cfg, fmt.Errorf("lan.subnet: %w", err)
	}

	cfg.DHCP.Enabled = fc.DHCP.Enabled
	if fc.DHCP.RangeStart != "" {
		if cfg.DHCP.RangeStart, err = addr.ParseIPv4(fc.DHCP.RangeStart); err != nil {
			return cfg, fmt.Errorf("dhcp.range_start: %w", err)
		}
	}
	if fc.DHCP.RangeEnd != "" {
		if cfg.DHCP.RangeEnd, err = addr.ParseIPv4(fc.DHCP.RangeEnd); err != nil {
			return cfg, fmt.Errorf("dhcp.range_end: %w", err)
		}
	}
	if fc.DHCP.LeaseTTL != "" {
		if cfg.DHCP.LeaseTTL, err = time.ParseDuration(fc.DHCP.LeaseTTL); err != nil {
			return cfg, fmt.Errorf("dhcp.lease_ttl: %w", err)
		}
	}
	for _, s := range fc.DHCP.Static {
		mac, err := addr.ParseMAC(s.MAC)
		if err != nil {
			return cfg, fmt.Errorf("dhcp.static_leases: mac: %w", err)
		}
		ip, err := addr.ParseIPv4(s.IP)
		if err != nil {
			return cfg, fmt.Errorf("dhcp.static_leases: ip: %w", err)
		}
		cfg.DHCP.StaticLeases = append(cfg.DHCP.StaticLeases, routercfg.StaticLease{MAC: mac, IP: ip, Hostname: s.Hostname})
	}

	switch fc.DNS.Mode {
	case "", "passthrough":
		cfg.DNS.Mode = routercfg.DNSPassthrough
	case "custom":
		cfg.DNS.Mode = routercfg.DNSCustom
	case "blocked":
		cfg.DNS.Mode = routercfg.DNSBlocked
	default:
		return cfg, fmt.Errorf("dns.mode: unknown mode %q", fc.DNS.Mode)
	}
	for _, s := range fc.DNS.Servers {
		ip, err := addr.ParseIPv4(s)
		if err != nil {
			return cfg, fmt.Errorf("dns.servers: %w", err)
		}
		cfg.DNS.Servers = append(cfg.DNS.Servers, ip)
	}

	cfg.Firewall.Default, err = parsePolicy(fc.Firewall.Default)
	if err != nil {
		return cfg, fmt.Errorf("firewall.default: %w", err)
	}
	for i, rr := range fc.Firewall.Rules {
		rule := routercfg.Rule{
			Enabled:        rr.Enabled,
			BlockBroadcast: rr.BlockBroadcast,
			SrcCIDR:        rr.SrcCIDR,
			DstCIDR:        rr.DstCIDR,
			SrcPort:        rr.SrcPort,
			DstPort:        rr.DstPort,
		}
		if rule.Direction, err = parseDirection(rr.Direction); err != nil {
			return cfg, fmt.Errorf("firewall.rules[%d].direction: %w", i, err)
		}
		if rule.Layer, err = parseLayer(rr.Layer); err != nil {
			return cfg, fmt.Errorf("firewall.rules[%d].layer: %w", i, err)
		}
		if rule.Action, err = parsePolicy(rr.Action); err != nil {
			return cfg, fmt.Errorf("firewall.rules[%d].action: %w", i, err)
		}
		if rule.Proto, err = parseProto(rr.Proto); err != nil {
			return cfg, fmt.Errorf("firewall.rules[%d].proto: %w", i, err)
		}
		if rr.SrcMAC != "" {
			mac, err := addr.ParseMAC(rr.SrcMAC)
			if err != nil {
				return cfg, fmt.Errorf("firewall.rules[%d].src_mac: %w", i, err)
			}
			rule.SrcMAC = &mac
		}
		if rr.DstMAC != "" {
			mac, err := addr.ParseMAC(rr.DstMAC)
			if err != nil {
				return cfg, fmt.Errorf("firewall.rules[%d].dst_mac: %w", i, err)
			}
			rule.DstMAC = &mac
		}
		cfg.Firewall.Rules = append(cfg.Firewall.Rules, rule)
	}

	if len(fc.Aliases.Hosts) > 0 || len(fc.Aliases.Networks) > 0 || len(fc.Aliases.Ports) > 0 {
		cfg.Aliases.Hosts = fc.Aliases.Hosts
		cfg.Aliases.Networks = fc.Aliases.Networks
		cfg.Aliases.Ports = make(map[string][]uint16, len(fc.Aliases.Ports))
		for name, ports := range fc.Aliases.Ports {
			out := make([]uint16, len(ports))
			for i, p := range ports {
				out[i] = uint16(p)
			}
			cfg.Aliases.Ports[name] = out
		}
	}

	for i, pf := range fc.PortForwards {
		proto, err := parseProto(pf.Proto)
		if err != nil {
			return cfg, fmt.Errorf("port_forwards[%d].proto: %w", i, err)
		}
		ip, err := addr.ParseIPv4(pf.InternalIP)
		if err != nil {
			return cfg, fmt.Errorf("port_forwards[%d].internal_ip: %w", i, err)
		}
		cfg.PortForwards = append(cfg.PortForwards, routercfg.PortForward{
			Proto:        proto,
			ExternalPort: uint16(pf.ExternalPort),
			InternalIP:   ip,
			InternalPort: uint16(pf.InternalPort),
			Enabled:      pf.Enabled,
		})
	}

	return cfg, nil
}

func parsePolicy(s string) (routercfg.Policy, error) {
	switch s {
	case "", "block":
		return routercfg.PolicyBlock, nil
	case "allow":
		return routercfg.PolicyAllow, nil
	default:
		return 0, fmt.Errorf("unknown policy %q", s)
	}
}

func parseDirection(s string) (routercfg.Direction, error) {
	switch s {
	case "outbound":
		return routercfg.DirOutbound, nil
	case "inbound":
		return routercfg.DirInbound, nil
	case "both":
		return routercfg.DirBoth, nil
	default:
		return 0, fmt.Errorf("unknown direction %q", s)
	}
}

func parseLayer(s string) (routercfg.Layer, error) {
	switch s {
	case "l2":
		return routercfg.LayerL2, nil
	case "", "l3":
		return routercfg.LayerL3, nil
	default:
		return 0, fmt.Errorf("unknown layer %q", s)
	}
}

func parseProto(s string) (routercfg.IPProtoMatch, error) {
	switch s {
	case "", "any":
		return routercfg.ProtoAny, nil
	case "tcp":
		return routercfg.ProtoTCP, nil
	case "udp":
		return routercfg.ProtoUDP, nil
	case "icmp":
		return routercfg.ProtoICMP, nil
	default:
		return 0, fmt.Errorf("unknown proto %q", s)
	}
}
