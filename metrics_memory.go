package mqttclient

import (
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryMetrics keeps every metric in process memory. It is meant for tests
// and for exposing a snapshot through a custom endpoint.
type MemoryMetrics struct {
	mu         sync.RWMutex
	counters   map[string]*atomicFloat
	gauges     map[string]*atomicFloat
	histograms map[string]*memoryHistogram
}

// NewMemoryMetrics creates a new in-memory metrics instance.
func NewMemoryMetrics() *MemoryMetrics {
	return &MemoryMetrics{
		counters:   make(map[string]*atomicFloat),
		gauges:     make(map[string]*atomicFloat),
		histograms: make(map[string]*memoryHistogram),
	}
}

// metricKey renders name and labels as "name{k=v,...}" with sorted keys so
// the same label set always maps to the same metric.
func metricKey(name string, labels MetricLabels) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	b.WriteByte('}')
	return b.String()
}

func getOrCreate[T any](mu *sync.RWMutex, m map[string]*T, key string) *T {
	mu.RLock()
	v, ok := m[key]
	mu.RUnlock()
	if ok {
		return v
	}

	mu.Lock()
	defer mu.Unlock()
	if v, ok := m[key]; ok {
		return v
	}
	v = new(T)
	m[key] = v
	return v
}

// Counter returns a counter metric.
func (m *MemoryMetrics) Counter(name string, labels MetricLabels) Counter {
	return (*memoryCounter)(getOrCreate(&m.mu, m.counters, metricKey(name, labels)))
}

// Gauge returns a gauge metric.
func (m *MemoryMetrics) Gauge(name string, labels MetricLabels) Gauge {
	return (*memoryGauge)(getOrCreate(&m.mu, m.gauges, metricKey(name, labels)))
}

// Histogram returns a histogram metric.
func (m *MemoryMetrics) Histogram(name string, labels MetricLabels) Histogram {
	return getOrCreate(&m.mu, m.histograms, metricKey(name, labels))
}

// CounterValue returns the value of a counter, 0 if it was never touched.
func (m *MemoryMetrics) CounterValue(name string, labels MetricLabels) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.counters[metricKey(name, labels)]; ok {
		return c.load()
	}
	return 0
}

// GaugeValue returns the value of a gauge, 0 if it was never touched.
func (m *MemoryMetrics) GaugeValue(name string, labels MetricLabels) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if g, ok := m.gauges[metricKey(name, labels)]; ok {
		return g.load()
	}
	return 0
}

// HistogramCount returns the number of observations of a histogram.
func (m *MemoryMetrics) HistogramCount(name string, labels MetricLabels) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if h, ok := m.histograms[metricKey(name, labels)]; ok {
		return h.Count()
	}
	return 0
}

// Snapshot returns the current counter and gauge values keyed by
// "name{labels}".
func (m *MemoryMetrics) Snapshot() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]float64, len(m.counters)+len(m.gauges))
	for k, v := range m.counters {
		out[k] = v.load()
	}
	for k, v := range m.gauges {
		out[k] = v.load()
	}
	return out
}

// atomicFloat is a float64 updated with compare-and-swap.
type atomicFloat struct {
	bits atomic.Uint64
}

func (f *atomicFloat) load() float64 {
	return math.Float64frombits(f.bits.Load())
}

func (f *atomicFloat) store(v float64) {
	f.bits.Store(math.Float64bits(v))
}

func (f *atomicFloat) add(delta float64) {
	for {
		old := f.bits.Load()
		if f.bits.CompareAndSwap(old, math.Float64bits(math.Float64frombits(old)+delta)) {
			return
		}
	}
}

type memoryCounter atomicFloat

func (c *memoryCounter) Inc()              { (*atomicFloat)(c).add(1) }
func (c *memoryCounter) Add(delta float64) { (*atomicFloat)(c).add(delta) }
func (c *memoryCounter) Value() float64    { return (*atomicFloat)(c).load() }

type memoryGauge atomicFloat

func (g *memoryGauge) Set(value float64) { (*atomicFloat)(g).store(value) }
func (g *memoryGauge) Inc()              { (*atomicFloat)(g).add(1) }
func (g *memoryGauge) Dec()              { (*atomicFloat)(g).add(-1) }
func (g *memoryGauge) Add(delta float64) { (*atomicFloat)(g).add(delta) }
func (g *memoryGauge) Sub(delta float64) { (*atomicFloat)(g).add(-delta) }
func (g *memoryGauge) Value() float64    { return (*atomicFloat)(g).load() }

type memoryHistogram struct {
	count atomic.Uint64
	sum   atomicFloat
}

func (h *memoryHistogram) Observe(value float64) {
	h.count.Add(1)
	h.sum.add(value)
}

func (h *memoryHistogram) ObserveDuration(d time.Duration) {
	h.Observe(d.Seconds())
}

func (h *memoryHistogram) Count() uint64 {
	return h.count.Load()
}

func (h *memoryHistogram) Sum() float64 {
	return h.sum.load()
}
