package coap

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector is an optional prometheus.Collector decorator for a Core,
// grounded on the custom-collector shape of the pack's TCP-info
// exporters: internal counters/gauges fed by push calls from the
// event loop, exposed read-only through Describe/Collect. It is never
// required to drive the state machine -- a Core with a nil Collector
// behaves identically, just unobserved.
type Collector struct {
	mu sync.Mutex

	sendsTotal       map[string]float64 // by remote
	bytesSentTotal   map[string]float64 // by remote
	retransmitsTotal map[string]float64 // by remote
	resolvedTotal    map[string]float64 // by outcome

	outstanding   map[string]float64 // by remote, latest snapshot
	bytesInWindow map[string]float64 // by remote, latest snapshot

	sendsDesc        *prometheus.Desc
	bytesSentDesc    *prometheus.Desc
	retransmitsDesc  *prometheus.Desc
	resolvedDesc     *prometheus.Desc
	outstandingDesc  *prometheus.Desc
	bytesWindowDesc  *prometheus.Desc
}

// NewCollector builds an unattached Collector; assign it to
// Core.Collector to start receiving observations.
func NewCollector() *Collector {
	return &Collector{
		sendsTotal:       make(map[string]float64),
		bytesSentTotal:   make(map[string]float64),
		retransmitsTotal: make(map[string]float64),
		resolvedTotal:    make(map[string]float64),
		outstanding:      make(map[string]float64),
		bytesInWindow:    make(map[string]float64),
		sendsDesc:        prometheus.NewDesc("coap_sends_total", "Datagrams sent by remote endpoint.", []string{"remote"}, nil),
		bytesSentDesc:    prometheus.NewDesc("coap_bytes_sent_total", "Bytes sent by remote endpoint.", []string{"remote"}, nil),
		retransmitsDesc:  prometheus.NewDesc("coap_retransmits_total", "BEBO retransmissions by remote endpoint.", []string{"remote"}, nil),
		resolvedDesc:     prometheus.NewDesc("coap_resolved_total", "Resolved transmissions by outcome.", []string{"outcome"}, nil),
		outstandingDesc:  prometheus.NewDesc("coap_outstanding_interactions", "Outstanding request interactions by remote endpoint.", []string{"remote"}, nil),
		bytesWindowDesc:  prometheus.NewDesc("coap_probing_window_bytes", "Bytes charged against the PROBING_RATE window by remote endpoint.", []string{"remote"}, nil),
	}
}

func (c *Collector) observeSend(remote Endpoint, nbytes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := remote.String()
	c.sendsTotal[key]++
	c.bytesSentTotal[key] += float64(nbytes)
}

func (c *Collector) observeRetransmit(remote Endpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retransmitsTotal[remote.String()]++
}

func (c *Collector) observeResolved(outcome Resolution) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolvedTotal[outcome.String()]++
}

func (c *Collector) observeGauges(remote Endpoint, outstanding int, bytesInWindow float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := remote.String()
	c.outstanding[key] = float64(outstanding)
	c.bytesInWindow[key] = bytesInWindow
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sendsDesc
	ch <- c.bytesSentDesc
	ch <- c.retransmitsDesc
	ch <- c.resolvedDesc
	ch <- c.outstandingDesc
	ch <- c.bytesWindowDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for remote, v := range c.sendsTotal {
		ch <- prometheus.MustNewConstMetric(c.sendsDesc, prometheus.CounterValue, v, remote)
	}
	for remote, v := range c.bytesSentTotal {
		ch <- prometheus.MustNewConstMetric(c.bytesSentDesc, prometheus.CounterValue, v, remote)
	}
	for remote, v := range c.retransmitsTotal {
		ch <- prometheus.MustNewConstMetric(c.retransmitsDesc, prometheus.CounterValue, v, remote)
	}
	for outcome, v := range c.resolvedTotal {
		ch <- prometheus.MustNewConstMetric(c.resolvedDesc, prometheus.CounterValue, v, outcome)
	}
	for remote, v := range c.outstanding {
		ch <- prometheus.MustNewConstMetric(c.outstandingDesc, prometheus.GaugeValue, v, remote)
	}
	for remote, v := range c.bytesInWindow {
		ch <- prometheus.MustNewConstMetric(c.bytesWindowDesc, prometheus.GaugeValue, v, remote)
	}
}
