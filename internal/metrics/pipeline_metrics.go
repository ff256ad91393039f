package metrics

import (
	"runtime"
	"sync"
	"time"
)

// PipelineMetrics bundles the metrics the pipeline executor reports:
// operation counters, per-kind embedding/retrieval/llm activity, memory
// samples, error breakdowns, concurrency, and backpressure.
type PipelineMetrics struct {
	registry *Registry

	OperationsTotal      *Counter
	OperationsSuccessful *Counter
	OperationsFailed     *Counter
	OperationsActive     *Gauge

	EmbeddingOperations *Counter
	EmbeddingDuration   *Histogram
	EmbeddingTokens     *Counter
	EmbeddingBatches    *Counter
	StreamingOperations *Counter

	RetrievalOperations *Counter
	RetrievalDuration   *Histogram
	RetrievalResults    *Histogram

	LLMOperations *Counter
	LLMDuration   *Histogram
	LLMTokens     *Counter

	HeapUsed    *Gauge
	HeapTotal   *Gauge
	HeapPercent *Gauge

	BackpressureApplied  *Counter
	BackpressureReleased *Counter
	BufferSize           *Histogram

	mu              sync.Mutex
	errorsByType    map[string]int
	errorsByPlugin  map[string]int
	concurrencyMax  int
	concurrencySum  int
	concurrencyObs  int
}

// NewPipelineMetrics registers the pipeline metric set on a fresh registry.
func NewPipelineMetrics() *PipelineMetrics {
	r := NewRegistry()
	mustCounter := func(name, description string) *Counter {
		c, err := r.Counter(name, description, nil)
		if err != nil {
			panic(err)
		}
		return c
	}
	mustGauge := func(name, description string) *Gauge {
		g, err := r.Gauge(name, description, nil)
		if err != nil {
			panic(err)
		}
		return g
	}
	mustHistogram := func(name, description string, buckets []float64) *Histogram {
		h, err := r.Histogram(name, description, nil, buckets)
		if err != nil {
			panic(err)
		}
		return h
	}

	return &PipelineMetrics{
		registry: r,

		OperationsTotal:      mustCounter("pipeline_operations_total", "pipeline operations started"),
		OperationsSuccessful: mustCounter("pipeline_operations_successful", "pipeline operations completed"),
		OperationsFailed:     mustCounter("pipeline_operations_failed", "pipeline operations failed"),
		OperationsActive:     mustGauge("pipeline_operations_active", "pipeline operations in flight"),

		EmbeddingOperations: mustCounter("embedding_operations_total", "embedding calls"),
		EmbeddingDuration:   mustHistogram("embedding_duration_ms", "embedding call duration", nil),
		EmbeddingTokens:     mustCounter("embedding_tokens_total", "tokens sent to the embedder"),
		EmbeddingBatches:    mustCounter("embedding_batches_total", "embedding batches dispatched"),
		StreamingOperations: mustCounter("embedding_streaming_total", "streaming embedding operations"),

		RetrievalOperations: mustCounter("retrieval_operations_total", "retrieval calls"),
		RetrievalDuration:   mustHistogram("retrieval_duration_ms", "retrieval call duration", nil),
		RetrievalResults:    mustHistogram("retrieval_results", "results per retrieval", []float64{0, 1, 5, 10, 25, 50, 100}),

		LLMOperations: mustCounter("llm_operations_total", "generation calls"),
		LLMDuration:   mustHistogram("llm_duration_ms", "generation call duration", nil),
		LLMTokens:     mustCounter("llm_tokens_total", "tokens produced by the llm"),

		HeapUsed:    mustGauge("memory_heap_used_bytes", "heap bytes in use"),
		HeapTotal:   mustGauge("memory_heap_total_bytes", "heap bytes reserved"),
		HeapPercent: mustGauge("memory_heap_percent", "heap utilization percentage"),

		BackpressureApplied:  mustCounter("backpressure_applied_total", "times producers were paused"),
		BackpressureReleased: mustCounter("backpressure_released_total", "times producers were resumed"),
		BufferSize:           mustHistogram("stream_buffer_size", "stream buffer occupancy samples", []float64{1, 10, 50, 100, 500, 1000, 5000}),

		errorsByType:   map[string]int{},
		errorsByPlugin: map[string]int{},
	}
}

// RecordError counts a failure under its error type and offending plugin.
func (m *PipelineMetrics) RecordError(errorType, plugin string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorsByType[errorType]++
	if plugin != "" {
		m.errorsByPlugin[plugin]++
	}
}

// RecordConcurrency samples the number of workers currently running.
func (m *PipelineMetrics) RecordConcurrency(active int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if active > m.concurrencyMax {
		m.concurrencyMax = active
	}
	m.concurrencySum += active
	m.concurrencyObs++
}

// SampleMemory reads the runtime heap counters into the memory gauges.
func (m *PipelineMetrics) SampleMemory() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.HeapUsed.Set(float64(ms.HeapAlloc))
	m.HeapTotal.Set(float64(ms.HeapSys))
	if ms.HeapSys > 0 {
		m.HeapPercent.Set(float64(ms.HeapAlloc) / float64(ms.HeapSys) * 100)
	}
}

// ObserveDuration records a duration in milliseconds on a histogram.
func ObserveDuration(h *Histogram, d time.Duration) {
	h.Observe(float64(d.Milliseconds()))
}

// Snapshot exports every metric plus the error and concurrency breakdowns.
func (m *PipelineMetrics) Snapshot() map[string]any {
	out := m.registry.Export()

	m.mu.Lock()
	byType := make(map[string]int, len(m.errorsByType))
	for k, v := range m.errorsByType {
		byType[k] = v
	}
	byPlugin := make(map[string]int, len(m.errorsByPlugin))
	for k, v := range m.errorsByPlugin {
		byPlugin[k] = v
	}
	concurrency := map[string]any{"max": m.concurrencyMax}
	if m.concurrencyObs > 0 {
		concurrency["mean"] = float64(m.concurrencySum) / float64(m.concurrencyObs)
	}
	m.mu.Unlock()

	out["errors_by_type"] = byType
	out["errors_by_plugin"] = byPlugin
	out["concurrency"] = concurrency
	return out
}

// Reset zeroes all metrics and breakdowns.
func (m *PipelineMetrics) Reset() {
	m.registry.Reset()
	m.mu.Lock()
	m.errorsByType = map[string]int{}
	m.errorsByPlugin = map[string]int{}
	m.concurrencyMax = 0
	m.concurrencySum = 0
	m.concurrencyObs = 0
	m.mu.Unlock()
}
