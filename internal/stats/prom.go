package stats

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes a Store to a prometheus registry.
type Collector struct {
	store *Store

	reqs  *prometheus.Desc
	bytes *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

func NewCollector(s *Store) *Collector {
	return &Collector{
		store: s,
		reqs: prometheus.NewDesc(
			"blockproxy_requests_total",
			"Requests counted by the proxy.",
			[]string{"op"}, nil,
		),
		bytes: prometheus.NewDesc(
			"blockproxy_request_bytes_total",
			"Bytes carried by requests counted by the proxy.",
			[]string{"op"}, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.reqs
	ch <- c.bytes
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.store.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.reqs, prometheus.CounterValue, float64(snap.ReadCount), Read.String())
	ch <- prometheus.MustNewConstMetric(c.reqs, prometheus.CounterValue, float64(snap.WriteCount), Write.String())
	ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.CounterValue, float64(snap.ReadBytes), Read.String())
	ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.CounterValue, float64(snap.WriteBytes), Write.String())
}
