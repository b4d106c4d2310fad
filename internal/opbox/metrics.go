package opbox

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts op lifecycle events for a Runtime. It implements
// prometheus.Collector directly, following the split-from-the-live-struct
// pattern the pack uses elsewhere for hot counters.
type Metrics struct {
	launched  prometheus.Counter
	completed prometheus.Counter
	failed    prometheus.Counter
}

// NewMetrics builds an unregistered Metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{
		launched:  prometheus.NewCounter(prometheus.CounterOpts{Name: "opbox_ops_launched_total", Help: "Op instances created (origin or target)."}),
		completed: prometheus.NewCounter(prometheus.CounterOpts{Name: "opbox_ops_completed_total", Help: "Op instances that finished with done_and_destroy."}),
		failed:    prometheus.NewCounter(prometheus.CounterOpts{Name: "opbox_ops_failed_total", Help: "Op instances that finished with an error."}),
	}
}

func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.launched.Describe(ch)
	m.completed.Describe(ch)
	m.failed.Describe(ch)
}

func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.launched.Collect(ch)
	m.completed.Collect(ch)
	m.failed.Collect(ch)
}
