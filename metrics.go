package mmpi

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds.
// Buckets cover from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks performance and operational statistics for an mmpi job.
type Metrics struct {
	// Send/recv counters (both paths)
	SendOps   atomic.Uint64 // Total Send calls
	RecvOps   atomic.Uint64 // Total Recv calls
	SendBytes atomic.Uint64 // Bytes of successful sends, fragmented and rendezvous
	RecvBytes atomic.Uint64 // Bytes of successful receives, fragmented and rendezvous

	// Rendezvous-path counters
	RendezvousOps   atomic.Uint64 // Sends that took the rendezvous path
	RendezvousBytes atomic.Uint64 // Bytes moved via rendezvous region mapping

	// Error counters
	SendErrors  atomic.Uint64
	RecvErrors  atomic.Uint64
	BrokerTrips atomic.Uint64 // Descriptor broker round trips (Lookup/Publish)

	// Barrier statistics
	BarrierOps      atomic.Uint64 // Completed Barrier calls
	BarrierWaitNs   atomic.Uint64 // Cumulative time spent spinning in Barrier
	MaxBarrierDepth atomic.Uint32 // Largest observed lag between first and last arrival (ranks)

	// Slot pool statistics
	SlotPoolExhaustedCount atomic.Uint64 // Times Send had to wait on a free slot

	// Performance tracking
	TotalLatencyNs atomic.Uint64 // Cumulative Send+Recv latency in nanoseconds
	OpCount        atomic.Uint64 // Total timed operations

	// Latency histogram buckets (cumulative counts)
	// Each bucket[i] contains the count of operations with latency <= LatencyBuckets[i]
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	// Job lifecycle
	StartTime atomic.Int64 // Job start timestamp (UnixNano)
	StopTime  atomic.Int64 // Job stop timestamp (UnixNano)
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordSend records a completed Send call.
func (m *Metrics) RecordSend(bytes uint64, latencyNs uint64, rendezvous bool, success bool) {
	m.SendOps.Add(1)
	if success {
		m.SendBytes.Add(bytes)
		if rendezvous {
			m.RendezvousOps.Add(1)
			m.RendezvousBytes.Add(bytes)
		}
	} else {
		m.SendErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordRecv records a completed Recv call.
func (m *Metrics) RecordRecv(bytes uint64, latencyNs uint64, success bool) {
	m.RecvOps.Add(1)
	if success {
		m.RecvBytes.Add(bytes)
	} else {
		m.RecvErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordBrokerTrip records a descriptor broker Lookup/Publish round trip.
func (m *Metrics) RecordBrokerTrip() {
	m.BrokerTrips.Add(1)
}

// RecordSlotPoolExhausted records a Send that had to spin for a free slot.
func (m *Metrics) RecordSlotPoolExhausted() {
	m.SlotPoolExhaustedCount.Add(1)
}

// RecordBarrier records a completed Barrier call and the longest observed
// fan-in lag, in ranks, between the first and last arrival.
func (m *Metrics) RecordBarrier(waitNs uint64, lagRanks uint32) {
	m.BarrierOps.Add(1)
	m.BarrierWaitNs.Add(waitNs)

	for {
		current := m.MaxBarrierDepth.Load()
		if lagRanks <= current {
			break
		}
		if m.MaxBarrierDepth.CompareAndSwap(current, lagRanks) {
			break
		}
	}
}

// recordLatency records operation latency and updates the histogram.
func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)

	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the job as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time snapshot of Metrics.
type MetricsSnapshot struct {
	SendOps   uint64
	RecvOps   uint64
	SendBytes uint64
	RecvBytes uint64

	RendezvousOps   uint64
	RendezvousBytes uint64

	SendErrors  uint64
	RecvErrors  uint64
	BrokerTrips uint64

	BarrierOps      uint64
	AvgBarrierWaitNs uint64
	MaxBarrierDepth uint32

	SlotPoolExhaustedCount uint64

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	TotalOps   uint64
	TotalBytes uint64
	ErrorRate  float64
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		SendOps:                m.SendOps.Load(),
		RecvOps:                m.RecvOps.Load(),
		SendBytes:              m.SendBytes.Load(),
		RecvBytes:              m.RecvBytes.Load(),
		RendezvousOps:          m.RendezvousOps.Load(),
		RendezvousBytes:        m.RendezvousBytes.Load(),
		SendErrors:             m.SendErrors.Load(),
		RecvErrors:             m.RecvErrors.Load(),
		BrokerTrips:            m.BrokerTrips.Load(),
		BarrierOps:             m.BarrierOps.Load(),
		MaxBarrierDepth:        m.MaxBarrierDepth.Load(),
		SlotPoolExhaustedCount: m.SlotPoolExhaustedCount.Load(),
	}

	snap.TotalOps = snap.SendOps + snap.RecvOps
	snap.TotalBytes = snap.SendBytes + snap.RecvBytes

	if snap.BarrierOps > 0 {
		snap.AvgBarrierWaitNs = m.BarrierWaitNs.Load() / snap.BarrierOps
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	totalErrors := snap.SendErrors + snap.RecvErrors
	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(snap.TotalOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile (0.0-1.0)
// using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset resets all metrics counters (useful for testing).
func (m *Metrics) Reset() {
	m.SendOps.Store(0)
	m.RecvOps.Store(0)
	m.SendBytes.Store(0)
	m.RecvBytes.Store(0)
	m.RendezvousOps.Store(0)
	m.RendezvousBytes.Store(0)
	m.SendErrors.Store(0)
	m.RecvErrors.Store(0)
	m.BrokerTrips.Store(0)
	m.BarrierOps.Store(0)
	m.BarrierWaitNs.Store(0)
	m.MaxBarrierDepth.Store(0)
	m.SlotPoolExhaustedCount.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable metrics collection for callers that want to
// hook send/recv/barrier events without depending on the Metrics type.
type Observer interface {
	ObserveSend(bytes uint64, latencyNs uint64, rendezvous bool, success bool)
	ObserveRecv(bytes uint64, latencyNs uint64, success bool)
	ObserveBarrier(waitNs uint64, lagRanks uint32)
	ObserveBrokerTrip()
}

// NoOpObserver is a no-op implementation of Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObserveSend(uint64, uint64, bool, bool) {}
func (NoOpObserver) ObserveRecv(uint64, uint64, bool)       {}
func (NoOpObserver) ObserveBarrier(uint64, uint32)          {}
func (NoOpObserver) ObserveBrokerTrip()                     {}

// MetricsObserver implements Observer using the built-in Metrics type.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveSend(bytes uint64, latencyNs uint64, rendezvous bool, success bool) {
	o.metrics.RecordSend(bytes, latencyNs, rendezvous, success)
}

func (o *MetricsObserver) ObserveRecv(bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordRecv(bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveBarrier(waitNs uint64, lagRanks uint32) {
	o.metrics.RecordBarrier(waitNs, lagRanks)
}

func (o *MetricsObserver) ObserveBrokerTrip() {
	o.metrics.RecordBrokerTrip()
}

// Compile-time interface checks
var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)

// promCollector adapts a Metrics snapshot to prometheus's pull model.
type promCollector struct {
	m *Metrics

	sendBytes  *prometheus.Desc
	recvBytes  *prometheus.Desc
	sendErrors *prometheus.Desc
	recvErrors *prometheus.Desc
	rvOps      *prometheus.Desc
	barrierOps *prometheus.Desc
	brokerOps  *prometheus.Desc
	avgLatency *prometheus.Desc
}

// Registerer exposes this Metrics instance's counters to prometheus by
// registering a Collector that samples Snapshot() on every scrape.
func (m *Metrics) Registerer(reg prometheus.Registerer) error {
	c := &promCollector{
		m:          m,
		sendBytes:  prometheus.NewDesc("mmpi_send_bytes_total", "Total bytes sent", nil, nil),
		recvBytes:  prometheus.NewDesc("mmpi_recv_bytes_total", "Total bytes received", nil, nil),
		sendErrors: prometheus.NewDesc("mmpi_send_errors_total", "Total failed sends", nil, nil),
		recvErrors: prometheus.NewDesc("mmpi_recv_errors_total", "Total failed receives", nil, nil),
		rvOps:      prometheus.NewDesc("mmpi_rendezvous_ops_total", "Total rendezvous-path sends", nil, nil),
		barrierOps: prometheus.NewDesc("mmpi_barrier_ops_total", "Total completed barriers", nil, nil),
		brokerOps:  prometheus.NewDesc("mmpi_broker_trips_total", "Total descriptor broker round trips", nil, nil),
		avgLatency: prometheus.NewDesc("mmpi_avg_latency_ns", "Average send/recv latency in nanoseconds", nil, nil),
	}
	return reg.Register(c)
}

func (c *promCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sendBytes
	ch <- c.recvBytes
	ch <- c.sendErrors
	ch <- c.recvErrors
	ch <- c.rvOps
	ch <- c.barrierOps
	ch <- c.brokerOps
	ch <- c.avgLatency
}

func (c *promCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.m.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.sendBytes, prometheus.CounterValue, float64(snap.SendBytes))
	ch <- prometheus.MustNewConstMetric(c.recvBytes, prometheus.CounterValue, float64(snap.RecvBytes))
	ch <- prometheus.MustNewConstMetric(c.sendErrors, prometheus.CounterValue, float64(snap.SendErrors))
	ch <- prometheus.MustNewConstMetric(c.recvErrors, prometheus.CounterValue, float64(snap.RecvErrors))
	ch <- prometheus.MustNewConstMetric(c.rvOps, prometheus.CounterValue, float64(snap.RendezvousOps))
	ch <- prometheus.MustNewConstMetric(c.barrierOps, prometheus.CounterValue, float64(snap.BarrierOps))
	ch <- prometheus.MustNewConstMetric(c.brokerOps, prometheus.CounterValue, float64(snap.BrokerTrips))
	ch <- prometheus.MustNewConstMetric(c.avgLatency, prometheus.GaugeValue, float64(snap.AvgLatencyNs))
}
