package transport

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// MetricsRegistry collects tool-call counts, analysis pass latencies, and
// SSE connection gauges as simple in-memory values, exported in Prometheus
// text format from the HTTP transport's /metrics endpoint.
type MetricsRegistry struct {
	counters   map[string]*counter
	histograms map[string]*histogram
	gauges     map[string]*gauge
	mu         sync.RWMutex
}

type counter struct {
	values map[string]uint64 // label combo -> count
	mu     sync.RWMutex
}

type histogram struct {
	counts  map[string][]uint64 // label combo -> bucket counts
	sums    map[string]float64
	totals  map[string]uint64
	buckets []float64 // upper bounds
	mu      sync.RWMutex
}

type gauge struct {
	values map[string]float64
	mu     sync.RWMutex
}

// Analysis passes run a vision model; tool dispatch is local. Two latency
// scales, one bucket list wide enough for both.
var defaultLatencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0,
}

// NewMetricsRegistry creates a registry with the standard server metrics
// pre-registered.
func NewMetricsRegistry() *MetricsRegistry {
	m := &MetricsRegistry{
		counters:   make(map[string]*counter),
		histograms: make(map[string]*histogram),
		gauges:     make(map[string]*gauge),
	}

	m.registerCounter("autogui_tool_calls_total")
	m.registerCounter("autogui_analysis_passes_total")
	m.registerCounter("autogui_sse_events_sent_total")
	m.registerHistogram("autogui_tool_call_duration_seconds", defaultLatencyBuckets)
	m.registerHistogram("autogui_analysis_duration_seconds", defaultLatencyBuckets)
	m.registerGauge("autogui_sse_connections_active")

	return m
}

func (m *MetricsRegistry) registerCounter(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] = &counter{values: make(map[string]uint64)}
}

func (m *MetricsRegistry) registerHistogram(name string, buckets []float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms[name] = &histogram{
		buckets: buckets,
		counts:  make(map[string][]uint64),
		sums:    make(map[string]float64),
		totals:  make(map[string]uint64),
	}
}

func (m *MetricsRegistry) registerGauge(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[name] = &gauge{values: make(map[string]float64)}
}

// IncrementCounter increments a counter by 1 for the given label
// combination. Labels are raw Prometheus label text: key1="v1",key2="v2"
func (m *MetricsRegistry) IncrementCounter(name, labels string) {
	m.mu.RLock()
	c, ok := m.counters[name]
	m.mu.RUnlock()
	if !ok {
		return
	}
	c.mu.Lock()
	c.values[labels]++
	c.mu.Unlock()
}

// ObserveHistogram records a value for the given label combination.
func (m *MetricsRegistry) ObserveHistogram(name, labels string, value float64) {
	m.mu.RLock()
	h, ok := m.histograms[name]
	m.mu.RUnlock()
	if !ok {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.counts[labels]; !exists {
		h.counts[labels] = make([]uint64, len(h.buckets)+1) // +1 for +Inf
	}

	h.sums[labels] += value
	h.totals[labels]++

	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[labels][i]++
		}
	}
	h.counts[labels][len(h.buckets)]++
}

// SetGauge sets a gauge to a specific value.
func (m *MetricsRegistry) SetGauge(name, labels string, value float64) {
	m.mu.RLock()
	g, ok := m.gauges[name]
	m.mu.RUnlock()
	if !ok {
		return
	}
	g.mu.Lock()
	g.values[labels] = value
	g.mu.Unlock()
}

// IncrementGauge adds delta to a gauge.
func (m *MetricsRegistry) IncrementGauge(name, labels string, delta float64) {
	m.mu.RLock()
	g, ok := m.gauges[name]
	m.mu.RUnlock()
	if !ok {
		return
	}
	g.mu.Lock()
	g.values[labels] += delta
	g.mu.Unlock()
}

// RecordToolCall records one tool invocation with its outcome and latency.
func (m *MetricsRegistry) RecordToolCall(tool, status string, duration time.Duration) {
	m.IncrementCounter("autogui_tool_calls_total", fmt.Sprintf(`tool=%q,status=%q`, tool, status))
	m.ObserveHistogram("autogui_tool_call_duration_seconds", fmt.Sprintf(`tool=%q`, tool), duration.Seconds())
}

// RecordAnalysis records one completed analysis pass.
func (m *MetricsRegistry) RecordAnalysis(backend, status string, duration time.Duration) {
	m.IncrementCounter("autogui_analysis_passes_total", fmt.Sprintf(`backend=%q,status=%q`, backend, status))
	m.ObserveHistogram("autogui_analysis_duration_seconds", fmt.Sprintf(`backend=%q`, backend), duration.Seconds())
}

// RecordSSEEvent records one broadcast SSE event.
func (m *MetricsRegistry) RecordSSEEvent() {
	m.IncrementCounter("autogui_sse_events_sent_total", "")
}

// SetSSEConnections sets the active SSE connection gauge.
func (m *MetricsRegistry) SetSSEConnections(count int) {
	m.SetGauge("autogui_sse_connections_active", "", float64(count))
}

// WritePrometheus writes every metric in Prometheus text format, in sorted
// order so output is deterministic.
func (m *MetricsRegistry) WritePrometheus(w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, name := range sortedKeys(m.counters) {
		c := m.counters[name]
		c.mu.RLock()
		err := writeSimpleMetric(w, name, "counter", c.values, func(v uint64) string {
			return fmt.Sprintf("%d", v)
		})
		c.mu.RUnlock()
		if err != nil {
			return err
		}
	}

	for _, name := range sortedKeys(m.gauges) {
		g := m.gauges[name]
		g.mu.RLock()
		err := writeSimpleMetric(w, name, "gauge", g.values, func(v float64) string {
			return fmt.Sprintf("%g", v)
		})
		g.mu.RUnlock()
		if err != nil {
			return err
		}
	}

	for _, name := range sortedKeys(m.histograms) {
		h := m.histograms[name]
		h.mu.RLock()
		err := writeHistogram(w, name, h)
		h.mu.RUnlock()
		if err != nil {
			return err
		}
	}

	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeSimpleMetric[V any](w io.Writer, name, kind string, values map[string]V, format func(V) string) error {
	if _, err := fmt.Fprintf(w, "# TYPE %s %s\n", name, kind); err != nil {
		return err
	}
	for _, l := range sortedKeys(values) {
		v := format(values[l])
		var err error
		if l == "" {
			_, err = fmt.Fprintf(w, "%s %s\n", name, v)
		} else {
			_, err = fmt.Fprintf(w, "%s{%s} %s\n", name, l, v)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func writeHistogram(w io.Writer, name string, h *histogram) error {
	if _, err := fmt.Fprintf(w, "# TYPE %s histogram\n", name); err != nil {
		return err
	}
	for _, l := range sortedKeys(h.counts) {
		counts := h.counts[l]

		labelPrefix := ""
		if l != "" {
			labelPrefix = l + ","
		}

		var cumulative uint64
		for i, bound := range h.buckets {
			cumulative += counts[i]
			if _, err := fmt.Fprintf(w, "%s_bucket{%sle=\"%g\"} %d\n", name, labelPrefix, bound, cumulative); err != nil {
				return err
			}
		}
		cumulative += counts[len(h.buckets)]
		if _, err := fmt.Fprintf(w, "%s_bucket{%sle=\"+Inf\"} %d\n", name, labelPrefix, cumulative); err != nil {
			return err
		}

		sum, total := h.sums[l], h.totals[l]
		var err error
		if l == "" {
			_, err = fmt.Fprintf(w, "%s_sum %g\n%s_count %d\n", name, sum, name, total)
		} else {
			_, err = fmt.Fprintf(w, "%s_sum{%s} %g\n%s_count{%s} %d\n", name, l, sum, name, l, total)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
