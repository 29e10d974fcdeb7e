// Package monitoring collects in-process service metrics and exports them as
// JSON snapshots or Prometheus text.
package monitoring

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

type MetricType string

const (
	MetricTypeCounter MetricType = "counter"
	MetricTypeGauge   MetricType = "gauge"
	MetricTypeSummary MetricType = "summary"
)

const (
	MetricPredictions    = "predictions_total"
	MetricCacheHits      = "prediction_cache_hits_total"
	MetricInvalidInputs  = "invalid_inputs_total"
	MetricPredictErrors  = "prediction_errors_total"
	MetricPredictLatency = "prediction_latency_seconds"
	MetricHeapAlloc      = "memory_heap_alloc_bytes"
	MetricGoroutines     = "system_goroutines"
)

// maxHistory bounds the samples kept per summary metric.
const maxHistory = 1000

type Metric struct {
	Name      string            `json:"name"`
	Type      MetricType        `json:"type"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Help      string            `json:"help,omitempty"`
}

// key identifies a series: metric name plus sorted labels.
func (m *Metric) key() string {
	if len(m.Labels) == 0 {
		return m.Name
	}
	return m.Name + "{" + formatLabels(m.Labels) + "}"
}

// MetricsCollector keeps counters and gauges as current values and summaries
// as a bounded sample history.
type MetricsCollector struct {
	series      map[string]*Metric
	samples     map[string][]float64
	metricsLock sync.RWMutex

	startTime time.Time
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		series:    make(map[string]*Metric),
		samples:   make(map[string][]float64),
		startTime: time.Now(),
	}
}

// RecordMetric adds counter values, replaces gauge values and appends summary
// samples.
func (mc *MetricsCollector) RecordMetric(metric *Metric) {
	mc.metricsLock.Lock()
	defer mc.metricsLock.Unlock()

	metric.Timestamp = time.Now()
	key := metric.key()

	existing, ok := mc.series[key]
	switch {
	case !ok:
		stored := *metric
		mc.series[key] = &stored
	case metric.Type == MetricTypeCounter:
		existing.Value += metric.Value
		existing.Timestamp = metric.Timestamp
	default:
		existing.Value = metric.Value
		existing.Timestamp = metric.Timestamp
	}

	if metric.Type == MetricTypeSummary {
		samples := append(mc.samples[key], metric.Value)
		if len(samples) > maxHistory {
			samples = samples[len(samples)-maxHistory:]
		}
		mc.samples[key] = samples
	}
}

func (mc *MetricsCollector) IncrCounter(name string, value float64, labels map[string]string) {
	mc.RecordMetric(&Metric{Name: name, Type: MetricTypeCounter, Value: value, Labels: labels})
}

func (mc *MetricsCollector) SetGauge(name string, value float64, labels map[string]string) {
	mc.RecordMetric(&Metric{Name: name, Type: MetricTypeGauge, Value: value, Labels: labels})
}

func (mc *MetricsCollector) Observe(name string, value float64, labels map[string]string) {
	mc.RecordMetric(&Metric{Name: name, Type: MetricTypeSummary, Value: value, Labels: labels})
}

// Value returns the current value of one series; labels must match exactly.
func (mc *MetricsCollector) Value(name string, labels map[string]string) (float64, bool) {
	mc.metricsLock.RLock()
	defer mc.metricsLock.RUnlock()

	m, ok := mc.series[(&Metric{Name: name, Labels: labels}).key()]
	if !ok {
		return 0, false
	}
	return m.Value, true
}

// Total sums every series of a metric regardless of labels.
func (mc *MetricsCollector) Total(name string) float64 {
	mc.metricsLock.RLock()
	defer mc.metricsLock.RUnlock()

	total := 0.0
	for _, m := range mc.series {
		if m.Name == name {
			total += m.Value
		}
	}
	return total
}

// Summary describes the retained samples of a summary series.
type Summary struct {
	Count   int     `json:"count"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Average float64 `json:"average"`
	P50     float64 `json:"p50"`
	P95     float64 `json:"p95"`
}

func (mc *MetricsCollector) GetMetricSummary(name string) (Summary, error) {
	mc.metricsLock.RLock()
	samples, ok := mc.samples[name]
	samples = append([]float64(nil), samples...)
	mc.metricsLock.RUnlock()

	if !ok {
		return Summary{}, eris.Errorf("metric %s not found", name)
	}
	return summarize(samples), nil
}

func summarize(samples []float64) Summary {
	if len(samples) == 0 {
		return Summary{}
	}
	sort.Float64s(samples)
	sum := 0.0
	for _, v := range samples {
		sum += v
	}
	return Summary{
		Count:   len(samples),
		Min:     samples[0],
		Max:     samples[len(samples)-1],
		Average: sum / float64(len(samples)),
		P50:     quantile(samples, 0.5),
		P95:     quantile(samples, 0.95),
	}
}

// quantile uses the nearest-rank method on sorted samples.
func quantile(sorted []float64, q float64) float64 {
	idx := int(float64(len(sorted))*q+0.5) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// RecordPrediction counts one served estimate.
func (mc *MetricsCollector) RecordPrediction(tier string, latency time.Duration, cached bool) {
	mc.IncrCounter(MetricPredictions, 1, map[string]string{"tier": tier})
	if cached {
		mc.IncrCounter(MetricCacheHits, 1, nil)
	}
	mc.Observe(MetricPredictLatency, latency.Seconds(), nil)
}

func (mc *MetricsCollector) RecordInvalidInput(field string) {
	mc.IncrCounter(MetricInvalidInputs, 1, map[string]string{"field": field})
}

func (mc *MetricsCollector) RecordPredictError() {
	mc.IncrCounter(MetricPredictErrors, 1, nil)
}

// Snapshot is the JSON view served by the metrics endpoint.
type Snapshot struct {
	Uptime        string             `json:"uptime"`
	Predictions   float64            `json:"predictions"`
	ByTier        map[string]float64 `json:"by_tier"`
	CacheHits     float64            `json:"cache_hits"`
	InvalidInputs map[string]float64 `json:"invalid_inputs"`
	Errors        float64            `json:"errors"`
	Latency       Summary            `json:"latency_seconds"`
	Goroutines    int                `json:"goroutines"`
	HeapAlloc     uint64             `json:"heap_alloc_bytes"`
}

func (mc *MetricsCollector) Snapshot() Snapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	snap := Snapshot{
		Uptime:        mc.GetUptime().Round(time.Second).String(),
		ByTier:        make(map[string]float64),
		InvalidInputs: make(map[string]float64),
		Goroutines:    runtime.NumGoroutine(),
		HeapAlloc:     mem.HeapAlloc,
	}

	mc.metricsLock.RLock()
	for _, m := range mc.series {
		switch m.Name {
		case MetricPredictions:
			snap.Predictions += m.Value
			snap.ByTier[m.Labels["tier"]] += m.Value
		case MetricCacheHits:
			snap.CacheHits += m.Value
		case MetricInvalidInputs:
			snap.InvalidInputs[m.Labels["field"]] += m.Value
		case MetricPredictErrors:
			snap.Errors += m.Value
		}
	}
	latency := append([]float64(nil), mc.samples[MetricPredictLatency]...)
	mc.metricsLock.RUnlock()

	snap.Latency = summarize(latency)
	return snap
}

// StartSystemMetrics samples heap and goroutine gauges until ctx ends.
func (mc *MetricsCollector) StartSystemMetrics(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				var m runtime.MemStats
				runtime.ReadMemStats(&m)
				mc.SetGauge(MetricHeapAlloc, float64(m.HeapAlloc), nil)
				mc.SetGauge(MetricGoroutines, float64(runtime.NumGoroutine()), nil)
			}
		}
	}()
}

// ExportPrometheus renders the current values in the text exposition format.
// Summaries export their sample count and sum.
func (mc *MetricsCollector) ExportPrometheus() string {
	mc.metricsLock.RLock()
	defer mc.metricsLock.RUnlock()

	keys := make([]string, 0, len(mc.series))
	for k := range mc.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	typed := make(map[string]bool)
	for _, k := range keys {
		m := mc.series[k]
		if !typed[m.Name] {
			typed[m.Name] = true
			if m.Help != "" {
				fmt.Fprintf(&b, "# HELP %s %s\n", m.Name, m.Help)
			}
			fmt.Fprintf(&b, "# TYPE %s %s\n", m.Name, m.Type)
		}
		if m.Type == MetricTypeSummary {
			samples := mc.samples[k]
			sum := 0.0
			for _, v := range samples {
				sum += v
			}
			fmt.Fprintf(&b, "%s_count%s %d\n", m.Name, labelBlock(m.Labels), len(samples))
			fmt.Fprintf(&b, "%s_sum%s %g\n", m.Name, labelBlock(m.Labels), sum)
			continue
		}
		fmt.Fprintf(&b, "%s%s %g\n", m.Name, labelBlock(m.Labels), m.Value)
	}
	return b.String()
}

func (mc *MetricsCollector) GetUptime() time.Duration {
	return time.Since(mc.startTime)
}

func labelBlock(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	return "{" + formatLabels(labels) + "}"
}

func formatLabels(labels map[string]string) string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, k := range names {
		parts[i] = fmt.Sprintf("%s=%q", k, labels[k])
	}
	return strings.Join(parts, ",")
}
