package ztsock

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

var (
	xmitDesc = prometheus.NewDesc(
		"ztsock_packets_transmitted_total",
		"Frames transmitted by the engine.",
		[]string{"proto"}, nil,
	)
	recvDesc = prometheus.NewDesc(
		"ztsock_packets_received_total",
		"Frames received by the engine.",
		[]string{"proto"}, nil,
	)
	dropDesc = prometheus.NewDesc(
		"ztsock_packets_dropped_total",
		"Frames dropped by the engine.",
		[]string{"proto"}, nil,
	)
)

// StatsCollector exports a node's engine counters to Prometheus. The
// counters are read from the engine on every scrape.
type StatsCollector struct {
	node *Node
}

// NewStatsCollector returns a collector for node.
func NewStatsCollector(node *Node) *StatsCollector {
	return &StatsCollector{node: node}
}

// Describe implements prometheus.Collector.
func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- xmitDesc
	ch <- recvDesc
	ch <- dropDesc
}

// Collect implements prometheus.Collector.
func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	s, err := c.node.Stats()
	if err != nil {
		c.node.log.WithFields(logrus.Fields{
			"function": "Collect",
			"error":    err.Error(),
		}).Warn("Failed to read engine stats")
		return
	}

	for proto, p := range map[string]struct{ xmit, recv, drop uint64 }{
		"link": {s.Link.Xmit, s.Link.Recv, s.Link.Drop},
		"tcp":  {s.TCP.Xmit, s.TCP.Recv, s.TCP.Drop},
		"udp":  {s.UDP.Xmit, s.UDP.Recv, s.UDP.Drop},
	} {
		ch <- prometheus.MustNewConstMetric(xmitDesc, prometheus.CounterValue, float64(p.xmit), proto)
		ch <- prometheus.MustNewConstMetric(recvDesc, prometheus.CounterValue, float64(p.recv), proto)
		ch <- prometheus.MustNewConstMetric(dropDesc, prometheus.CounterValue, float64(p.drop), proto)
	}
}
