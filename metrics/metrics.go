// Package metrics exposes the router's observable state (spec §6) as
// Prometheus gauges: lease count, NAT entry count, and one gauge per
// configured port-forward rule reporting whether its listener is bound.
package metrics

import (
	"strconv"

	"github.com/groundwater/ghostvm-vnet/portfwd"
	"github.com/prometheus/client_golang/prometheus"
)

// Source supplies the NAT/port-forward half of the observable-state
// snapshot; vrouter.Router satisfies this.
type Source interface {
	NATEntryCount() int
	PortForwardStatuses() []portfwd.Status
}

// Collector implements prometheus.Collector by reading Source (and
// leaseCount) on every scrape rather than caching values, so gauges always
// reflect the router's live state.
type Collector struct {
	src        Source
	leaseCount func() int

	leaseDesc *prometheus.Desc
	natDesc   *prometheus.Desc
	pfDesc    *prometheus.Desc
}

// NewCollector builds a Collector. leaseCount is a callback rather than a
// value on Source because dhcpsvc.Server.Leases needs a time.Time that
// should reflect scrape time, not construction time.
func NewCollector(src Source, leaseCount func() int) *Collector {
	return &Collector{
		src:        src,
		leaseCount: leaseCount,
		leaseDesc: prometheus.NewDesc(
			"ghostvmrouter_dhcp_lease_count", "Number of active DHCP leases.", nil, nil),
		natDesc: prometheus.NewDesc(
			"ghostvmrouter_nat_entry_count", "Number of active NAT associations.", nil, nil),
		pfDesc: prometheus.NewDesc(
			"ghostvmrouter_port_forward_bound", "1 if a configured port-forward rule's listener is bound, else 0.",
			[]string{"proto", "external_port"}, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.leaseDesc
	ch <- c.natDesc
	ch <- c.pfDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.leaseCount != nil {
		ch <- prometheus.MustNewConstMetric(c.leaseDesc, prometheus.GaugeValue, float64(c.leaseCount()))
	}
	ch <- prometheus.MustNewConstMetric(c.natDesc, prometheus.GaugeValue, float64(c.src.NATEntryCount()))
	for _, st := range c.src.PortForwardStatuses() {
		bound := 0.0
		if st.Bound {
			bound = 1
		}
		ch <- prometheus.MustNewConstMetric(c.pfDesc, prometheus.GaugeValue, bound,
			st.Rule.Proto.String(), strconv.Itoa(int(st.Rule.ExternalPort)))
	}
}
