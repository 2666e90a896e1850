// Package metric owns every core Prometheus collector in the pipeline and
// the exposition server. Collectors are the only process-wide mutable state:
// monotonic counters, histograms, and gauges that track current levels
// (queue depth, active connections).
package metric

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics contains all core-owned collectors. Metric names are part of the
// external interface and must not change.
type Metrics struct {
	FramesEncoded *prometheus.CounterVec // {kind}
	FramesDecoded *prometheus.CounterVec // {kind}
	BytesWritten  *prometheus.CounterVec // {shard}
	QueueDepth    *prometheus.GaugeVec   // {shard}
	DropsNewest   *prometheus.CounterVec // {shard,kind}
	DropsOldest   *prometheus.CounterVec // {shard,kind}
	Oversize      prometheus.Counter
	DecodeErrors  prometheus.Counter
	Reconnects    *prometheus.CounterVec // {shard}
	BatchSize     prometheus.Histogram
	WriteLatency  prometheus.Histogram

	// Supporting counters around the core set.
	TranslationErrors *prometheus.CounterVec // {kind}
	SinkDrops         *prometheus.CounterVec // {sink}
	ActiveConnections prometheus.Gauge
}

// NewMetrics creates the full collector set, unregistered.
func NewMetrics() *Metrics {
	return &Metrics{
		FramesEncoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frames_encoded_total",
			Help: "Frames encoded by producers, by record kind",
		}, []string{"kind"}),

		FramesDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frames_decoded_total",
			Help: "Records decoded by the aggregator, by record kind",
		}, []string{"kind"}),

		BytesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bytes_written_total",
			Help: "Bytes written to the UDS, by shard",
		}, []string{"shard"}),

		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Current shard queue depth",
		}, []string{"shard"}),

		DropsNewest: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "drops_newest_total",
			Help: "Records discarded by the DropNewest policy",
		}, []string{"shard", "kind"}),

		DropsOldest: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "drops_oldest_total",
			Help: "Records evicted by the DropOldest policy",
		}, []string{"shard", "kind"}),

		Oversize: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oversize_frames_total",
			Help: "Frames skipped because their declared payload exceeds the frame cap",
		}),

		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "decode_errors_total",
			Help: "Connections terminated by checksum or decode failure",
		}),

		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reconnects_total",
			Help: "Writer reconnection attempts after a fatal socket error",
		}, []string{"shard"}),

		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "batch_size",
			Help:    "Records per writer batch",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128, 256, 512},
		}),

		WriteLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "write_latency_us",
			Help:    "UDS vectored write latency in microseconds",
			Buckets: prometheus.ExponentialBuckets(1, 4, 12),
		}),

		TranslationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "translation_errors_total",
			Help: "Host callbacks dropped because translation failed",
		}, []string{"kind"}),

		SinkDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sink_drops_total",
			Help: "Records dropped at a sink queue, by sink",
		}, []string{"sink"}),

		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aggregator_connections",
			Help: "Currently accepted aggregator connections",
		}),
	}
}

// Registry couples the collector set with its Prometheus registry.
type Registry struct {
	prometheusRegistry *prometheus.Registry
	Metrics            *Metrics
}

// NewRegistry creates a registry with the core metrics and Go runtime
// collectors registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	m := NewMetrics()
	reg.MustRegister(
		m.FramesEncoded,
		m.FramesDecoded,
		m.BytesWritten,
		m.QueueDepth,
		m.DropsNewest,
		m.DropsOldest,
		m.Oversize,
		m.DecodeErrors,
		m.Reconnects,
		m.BatchSize,
		m.WriteLatency,
		m.TranslationErrors,
		m.SinkDrops,
		m.ActiveConnections,
	)
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Registry{prometheusRegistry: reg, Metrics: m}
}

// PrometheusRegistry returns the underlying Prometheus registry.
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// ShardLabel formats a shard index for use as a metric label.
func ShardLabel(shard int) string {
	return strconv.Itoa(shard)
}

// RecordFrameEncoded increments the encode counter for a record kind.
func (m *Metrics) RecordFrameEncoded(kind string) {
	m.FramesEncoded.WithLabelValues(kind).Inc()
}

// RecordFrameDecoded increments the decode counter for a record kind.
func (m *Metrics) RecordFrameDecoded(kind string) {
	m.FramesDecoded.WithLabelValues(kind).Inc()
}

// RecordWrite accounts one vectored write: bytes, batch size, and latency.
func (m *Metrics) RecordWrite(shard int, bytes, batchLen int, elapsed time.Duration) {
	label := ShardLabel(shard)
	m.BytesWritten.WithLabelValues(label).Add(float64(bytes))
	m.BatchSize.Observe(float64(batchLen))
	m.WriteLatency.Observe(float64(elapsed.Microseconds()))
}

// RecordQueueDepth updates the depth gauge for a shard.
func (m *Metrics) RecordQueueDepth(shard, depth int) {
	m.QueueDepth.WithLabelValues(ShardLabel(shard)).Set(float64(depth))
}

// RecordReconnect increments the reconnect counter for a shard.
func (m *Metrics) RecordReconnect(shard int) {
	m.Reconnects.WithLabelValues(ShardLabel(shard)).Inc()
}
