package daybreak

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// ManagerCollector exposes per-peer gauges and connection-level
// counters as a prometheus.Collector, grounded on the snapshot-style
// TCPInfoCollector in the example pack's socket-stats exporter: rather
// than push a metric update on every mutation (which would mean every
// packet touching a prometheus label set from the manager's
// single event-loop goroutine), Collect() is handed a point-in-time
// copy taken once per tick. That keeps Prometheus's own scrape
// goroutine from ever touching Connection state directly, preserving
// the single-writer invariant the rest of the manager depends on.
type ManagerCollector struct {
	mu    sync.Mutex
	peers map[string]peerSnapshot

	pingDesc         *prometheus.Desc
	budgetDesc       *prometheus.Desc
	queueDepthDesc   *prometheus.Desc
	bytesSentDesc    *prometheus.Desc
	bytesRecvDesc    *prometheus.Desc
	packetsSentDesc  *prometheus.Desc
	packetsRecvDesc  *prometheus.Desc
	resentDesc       *prometheus.Desc
	droppedRateDesc  *prometheus.Desc
}

type peerSnapshot struct {
	peer       string
	status     string
	stats      Stats
	budgetKiB  float64
	queueDepth int
}

// NewManagerCollector creates an empty collector; Snapshot refreshes it.
// A ConnectionManager calls Snapshot itself on every tick once the
// collector is attached with SetMetricsCollector.
func NewManagerCollector() *ManagerCollector {
	labels := []string{"peer"}
	return &ManagerCollector{
		peers: make(map[string]peerSnapshot),
		pingDesc: prometheus.NewDesc(
			"daybreak_connection_ping_seconds", "Rolling average round-trip ping for a connection.", labels, nil),
		budgetDesc: prometheus.NewDesc(
			"daybreak_connection_send_budget_kib", "Remaining send budget in kibibytes.", labels, nil),
		queueDepthDesc: prometheus.NewDesc(
			"daybreak_connection_coalesce_queue_depth", "Items currently buffered in the coalesce queue.", labels, nil),
		bytesSentDesc: prometheus.NewDesc(
			"daybreak_connection_bytes_sent_total", "Bytes written to the wire for a connection.", labels, nil),
		bytesRecvDesc: prometheus.NewDesc(
			"daybreak_connection_bytes_received_total", "Bytes read from the wire for a connection.", labels, nil),
		packetsSentDesc: prometheus.NewDesc(
			"daybreak_connection_packets_sent_total", "Datagrams written to the wire for a connection.", labels, nil),
		packetsRecvDesc: prometheus.NewDesc(
			"daybreak_connection_packets_received_total", "Datagrams read from the wire for a connection.", labels, nil),
		resentDesc: prometheus.NewDesc(
			"daybreak_connection_resent_packets_total", "Reliable packets and fragments retransmitted.", labels, nil),
		droppedRateDesc: prometheus.NewDesc(
			"daybreak_connection_dropped_datarate_total", "Sends dropped because the send budget was exhausted.", labels, nil),
	}
}

// Snapshot replaces the collector's point-in-time view. It must only be
// called from the manager's event-loop goroutine (e.g. via a tick
// hook), the same discipline every other Connection access follows.
func (c *ManagerCollector) Snapshot(conns []*Connection) {
	next := make(map[string]peerSnapshot, len(conns))
	for _, conn := range conns {
		key := conn.peerKey
		next[key] = peerSnapshot{
			peer:       key,
			status:     conn.Status().String(),
			stats:      conn.GetStats(),
			budgetKiB:  conn.budget.kib,
			queueDepth: len(conn.coalesce.items),
		}
	}
	c.mu.Lock()
	c.peers = next
	c.mu.Unlock()
}

func (c *ManagerCollector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.pingDesc
	descs <- c.budgetDesc
	descs <- c.queueDepthDesc
	descs <- c.bytesSentDesc
	descs <- c.bytesRecvDesc
	descs <- c.packetsSentDesc
	descs <- c.packetsRecvDesc
	descs <- c.resentDesc
	descs <- c.droppedRateDesc
}

func (c *ManagerCollector) Collect(metrics chan<- prometheus.Metric) {
	c.mu.Lock()
	peers := make([]peerSnapshot, 0, len(c.peers))
	for _, p := range c.peers {
		peers = append(peers, p)
	}
	c.mu.Unlock()

	for _, p := range peers {
		metrics <- prometheus.MustNewConstMetric(c.pingDesc, prometheus.GaugeValue, p.stats.AveragePing.Seconds(), p.peer)
		metrics <- prometheus.MustNewConstMetric(c.budgetDesc, prometheus.GaugeValue, p.budgetKiB, p.peer)
		metrics <- prometheus.MustNewConstMetric(c.queueDepthDesc, prometheus.GaugeValue, float64(p.queueDepth), p.peer)
		metrics <- prometheus.MustNewConstMetric(c.bytesSentDesc, prometheus.CounterValue, float64(p.stats.BytesSent), p.peer)
		metrics <- prometheus.MustNewConstMetric(c.bytesRecvDesc, prometheus.CounterValue, float64(p.stats.BytesReceived), p.peer)
		metrics <- prometheus.MustNewConstMetric(c.packetsSentDesc, prometheus.CounterValue, float64(p.stats.PacketsSent), p.peer)
		metrics <- prometheus.MustNewConstMetric(c.packetsRecvDesc, prometheus.CounterValue, float64(p.stats.PacketsReceived), p.peer)
		metrics <- prometheus.MustNewConstMetric(c.resentDesc, prometheus.CounterValue,
			float64(p.stats.ResentPackets+p.stats.ResentFragments), p.peer)
		metrics <- prometheus.MustNewConstMetric(c.droppedRateDesc, prometheus.CounterValue, float64(p.stats.DroppedDatarate), p.peer)
	}
}
