package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector adapts a Registry to prometheus.Collector, so a Registry can be
// registered with a prometheus.Registerer and scraped over /metrics. This
// is the concrete exporter for the teacher-shaped Counter/Gauge/Timer API
// above.
type Collector struct {
	namespace string
	reg       *Registry
}

// NewCollector returns a prometheus.Collector exposing every metric in reg
// under the given namespace (e.g. "buzz_hbee").
func NewCollector(namespace string, reg *Registry) *Collector {
	return &Collector{namespace: namespace, reg: reg}
}

var _ prometheus.Collector = (*Collector)(nil)

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	// Dynamic metric set: Collect is self-describing, Describe intentionally
	// emits nothing so the registry does not reject collisions at startup.
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.reg.Each(func(name string, metric any) {
		fqName := c.namespace + "_" + sanitize(name)
		switch m := metric.(type) {
		case Counter:
			desc := prometheus.NewDesc(fqName, name, nil, nil)
			ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(m.Snapshot()))
		case Gauge:
			desc := prometheus.NewDesc(fqName, name, nil, nil)
			ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, float64(m.Snapshot()))
		case Timer:
			count, total := m.Snapshot()
			countDesc := prometheus.NewDesc(fqName+"_count", name+" count", nil, nil)
			totalDesc := prometheus.NewDesc(fqName+"_seconds_total", name+" total seconds", nil, nil)
			ch <- prometheus.MustNewConstMetric(countDesc, prometheus.CounterValue, float64(count))
			ch <- prometheus.MustNewConstMetric(totalDesc, prometheus.CounterValue, total.Seconds())
		}
	})
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
}
