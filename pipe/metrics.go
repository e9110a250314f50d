package pipe

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/echopipe/metric"
)

// pipeMetrics mirrors resource statistics as Prometheus metrics.
type pipeMetrics struct {
	reads        prometheus.Counter
	writes       prometheus.Counter
	bytesRead    prometheus.Counter
	bytesWritten prometheus.Counter
	wouldBlocks  prometheus.Counter
	events       prometheus.Counter

	fill          prometheus.Gauge
	capacity      prometheus.Gauge
	writers       prometheus.Gauge
	subscriptions prometheus.Gauge
}

func newPipeMetrics(registry *metric.Registry, prefix string) (*pipeMetrics, error) {
	labels := prometheus.Labels{"resource": prefix}
	m := &pipeMetrics{
		reads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "echopipe",
			Subsystem:   "pipe",
			Name:        "reads_total",
			ConstLabels: labels,
			Help:        "Total number of completed reads",
		}),
		writes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "echopipe",
			Subsystem:   "pipe",
			Name:        "writes_total",
			ConstLabels: labels,
			Help:        "Total number of completed write chunks",
		}),
		bytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "echopipe",
			Subsystem:   "pipe",
			Name:        "bytes_read_total",
			ConstLabels: labels,
			Help:        "Total bytes drained from the buffer",
		}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "echopipe",
			Subsystem:   "pipe",
			Name:        "bytes_written_total",
			ConstLabels: labels,
			Help:        "Total bytes appended to the buffer",
		}),
		wouldBlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "echopipe",
			Subsystem:   "pipe",
			Name:        "would_block_total",
			ConstLabels: labels,
			Help:        "Total non-blocking operations that could not proceed",
		}),
		events: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "echopipe",
			Subsystem:   "pipe",
			Name:        "events_total",
			ConstLabels: labels,
			Help:        "Total edge-triggered readiness events fanned out",
		}),
		fill: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "echopipe",
			Subsystem:   "pipe",
			Name:        "fill_bytes",
			ConstLabels: labels,
			Help:        "Bytes of valid, unread data in the buffer",
		}),
		capacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "echopipe",
			Subsystem:   "pipe",
			Name:        "capacity_bytes",
			ConstLabels: labels,
			Help:        "Current buffer capacity",
		}),
		writers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "echopipe",
			Subsystem:   "pipe",
			Name:        "writers",
			ConstLabels: labels,
			Help:        "Open write-capable handles",
		}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "echopipe",
			Subsystem:   "pipe",
			Name:        "subscriptions",
			ConstLabels: labels,
			Help:        "Attached edge-triggered subscriptions",
		}),
	}

	for name, c := range map[string]prometheus.Counter{
		"reads":         m.reads,
		"writes":        m.writes,
		"bytes_read":    m.bytesRead,
		"bytes_written": m.bytesWritten,
		"would_blocks":  m.wouldBlocks,
		"events":        m.events,
	} {
		if err := registry.RegisterCounter(prefix, name, c); err != nil {
			return nil, err
		}
	}
	for name, g := range map[string]prometheus.Gauge{
		"fill":          m.fill,
		"capacity":      m.capacity,
		"writers":       m.writers,
		"subscriptions": m.subscriptions,
	} {
		if err := registry.RegisterGauge(prefix, name, g); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *pipeMetrics) recordRead(n, fill int) {
	m.reads.Inc()
	m.bytesRead.Add(float64(n))
	m.fill.Set(float64(fill))
}

func (m *pipeMetrics) recordWrite(n, fill int) {
	m.writes.Inc()
	m.bytesWritten.Add(float64(n))
	m.fill.Set(float64(fill))
}

func (m *pipeMetrics) recordWouldBlock() {
	m.wouldBlocks.Inc()
}

func (m *pipeMetrics) recordEvent() {
	m.events.Inc()
}

func (m *pipeMetrics) setFill(fill int) {
	m.fill.Set(float64(fill))
}

func (m *pipeMetrics) setCapacity(capacity int) {
	m.capacity.Set(float64(capacity))
}

func (m *pipeMetrics) setWriters(writers int) {
	m.writers.Set(float64(writers))
}

func (m *pipeMetrics) setSubscriptions(n int) {
	m.subscriptions.Set(float64(n))
}
