package lunasa

import "github.com/prometheus/client_golang/prometheus"

// Collector exposes an Allocator's byte counters as Prometheus gauges. The
// HTTP scrape endpoint that registers this is whookie's job (out of scope,
// spec §1/§6); this type is what a registerer plugs in.
type Collector struct {
	allocator *Allocator

	allocated *prometheus.Desc
	managed   *prometheus.Desc
	used      *prometheus.Desc
	free      *prometheus.Desc
	live      *prometheus.Desc
}

// NewCollector builds a Collector for allocator, labeled by its Name/Kind.
func NewCollector(allocator *Allocator) *Collector {
	labels := prometheus.Labels{"allocator": allocator.Name(), "kind": allocator.Kind().String()}
	mk := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("lunasa_"+name, help, nil, labels)
	}
	return &Collector{
		allocator: allocator,
		allocated: mk("allocated_bytes", "Bytes currently handed out to live allocations"),
		managed:   mk("managed_bytes", "Bytes the allocator has carved out of the OS"),
		used:      mk("used_bytes", "Bytes currently occupied by meta+data payload"),
		free:      mk("free_bytes", "managed_bytes minus allocated_bytes"),
		live:      mk("live_allocations", "Number of live allocations"),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.allocated
	ch <- c.managed
	ch <- c.used
	ch <- c.free
	ch <- c.live
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.allocator.Stats()
	ch <- prometheus.MustNewConstMetric(c.allocated, prometheus.GaugeValue, float64(s.TotalAllocated))
	ch <- prometheus.MustNewConstMetric(c.managed, prometheus.GaugeValue, float64(s.TotalManaged))
	ch <- prometheus.MustNewConstMetric(c.used, prometheus.GaugeValue, float64(s.TotalUsed))
	ch <- prometheus.MustNewConstMetric(c.free, prometheus.GaugeValue, float64(s.TotalFree))
	ch <- prometheus.MustNewConstMetric(c.live, prometheus.GaugeValue, float64(s.LiveCount))
}
