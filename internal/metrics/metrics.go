// Package metrics implements the in-process metric registry: counters,
// gauges, and histograms with cumulative buckets, nearest-rank percentiles,
// and population statistics.
package metrics

import (
	"math"
	"sort"
	"strconv"
	"sync"

	raggerrors "github.com/ragworks/raggo/pkg/errors"
)

// DefaultBuckets are the histogram bucket upper bounds used when none are
// supplied. Values are in milliseconds for duration histograms, but the
// histogram itself is unit-agnostic.
var DefaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// Counter is a monotonically increasing metric.
type Counter struct {
	mu          sync.Mutex
	name        string
	description string
	labels      map[string]string
	value       float64
}

// NewCounter creates a counter.
func NewCounter(name, description string, labels map[string]string) *Counter {
	return &Counter{name: name, description: description, labels: labels}
}

// Name returns the counter's registered name.
func (c *Counter) Name() string { return c.name }

// Inc adds one.
func (c *Counter) Inc() { c.Add(1) }

// Add increases the counter by n. Negative increments are rejected to keep
// the counter monotonic.
func (c *Counter) Add(n float64) error {
	if n < 0 {
		return raggerrors.NewInvalidInput("counter", "increment must be non-negative")
	}
	c.mu.Lock()
	c.value += n
	c.mu.Unlock()
	return nil
}

// Value returns the current count.
func (c *Counter) Value() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Reset returns the counter to zero.
func (c *Counter) Reset() {
	c.mu.Lock()
	c.value = 0
	c.mu.Unlock()
}

// Gauge is a metric that can move in both directions.
type Gauge struct {
	mu          sync.Mutex
	name        string
	description string
	labels      map[string]string
	value       float64
}

// NewGauge creates a gauge.
func NewGauge(name, description string, labels map[string]string) *Gauge {
	return &Gauge{name: name, description: description, labels: labels}
}

// Name returns the gauge's registered name.
func (g *Gauge) Name() string { return g.name }

// Set replaces the gauge value.
func (g *Gauge) Set(v float64) {
	g.mu.Lock()
	g.value = v
	g.mu.Unlock()
}

// Inc adds n, which may be negative.
func (g *Gauge) Inc(n float64) {
	g.mu.Lock()
	g.value += n
	g.mu.Unlock()
}

// Dec subtracts n.
func (g *Gauge) Dec(n float64) { g.Inc(-n) }

// Value returns the current value.
func (g *Gauge) Value() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

// Reset returns the gauge to zero.
func (g *Gauge) Reset() {
	g.mu.Lock()
	g.value = 0
	g.mu.Unlock()
}

// Histogram records observations into cumulative buckets and retains the
// raw samples for percentile and standard-deviation computation. Bucket
// counts and the sample append move together under one lock.
type Histogram struct {
	mu           sync.Mutex
	name         string
	description  string
	labels       map[string]string
	buckets      []float64
	counts       []uint64 // parallel to buckets, cumulative
	infCount     uint64
	sum          float64
	count        uint64
	min          float64
	max          float64
	observations []float64
}

// NewHistogram creates a histogram. A nil or empty bucket list selects
// DefaultBuckets; bounds are sorted ascending.
func NewHistogram(name, description string, labels map[string]string, buckets []float64) *Histogram {
	if len(buckets) == 0 {
		buckets = DefaultBuckets
	}
	bounds := make([]float64, len(buckets))
	copy(bounds, buckets)
	sort.Float64s(bounds)
	return &Histogram{
		name:        name,
		description: description,
		labels:      labels,
		buckets:     bounds,
		counts:      make([]uint64, len(bounds)),
		min:         math.Inf(1),
		max:         math.Inf(-1),
	}
}

// Name returns the histogram's registered name.
func (h *Histogram) Name() string { return h.name }

// Observe records one sample. Every bucket whose bound is at or above v is
// incremented, along with the implicit +Inf bucket.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, bound := range h.buckets {
		if v <= bound {
			h.counts[i]++
		}
	}
	h.infCount++
	h.sum += v
	h.count++
	if v < h.min {
		h.min = v
	}
	if v > h.max {
		h.max = v
	}
	h.observations = append(h.observations, v)
}

// Count returns the number of observations.
func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Percentiles computes nearest-rank percentiles over the retained samples.
// The result maps each requested percentile to its value; an empty
// histogram yields zeros.
func (h *Histogram) Percentiles(ps []float64) map[float64]float64 {
	h.mu.Lock()
	sorted := make([]float64, len(h.observations))
	copy(sorted, h.observations)
	h.mu.Unlock()
	sort.Float64s(sorted)

	out := make(map[float64]float64, len(ps))
	for _, p := range ps {
		if len(sorted) == 0 {
			out[p] = 0
			continue
		}
		rank := int(math.Ceil(p / 100 * float64(len(sorted))))
		if rank < 1 {
			rank = 1
		}
		if rank > len(sorted) {
			rank = len(sorted)
		}
		out[p] = sorted[rank-1]
	}
	return out
}

// Statistics summarizes the retained samples.
type Statistics struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stdDev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Count  uint64  `json:"count"`
	Sum    float64 `json:"sum"`
}

// Statistics returns mean, population standard deviation, min, max, count,
// and sum. An empty histogram returns the zero value.
func (h *Histogram) Statistics() Statistics {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return Statistics{}
	}

	mean := h.sum / float64(h.count)
	var sq float64
	for _, v := range h.observations {
		d := v - mean
		sq += d * d
	}
	return Statistics{
		Mean:   mean,
		StdDev: math.Sqrt(sq / float64(h.count)),
		Min:    h.min,
		Max:    h.max,
		Count:  h.count,
		Sum:    h.sum,
	}
}

// Export emits the cumulative bucket table keyed by bound (with "+Inf" for
// the overflow bucket) alongside the summary statistics.
func (h *Histogram) Export() map[string]any {
	h.mu.Lock()
	buckets := make(map[string]uint64, len(h.buckets)+1)
	for i, bound := range h.buckets {
		buckets[strconv.FormatFloat(bound, 'f', -1, 64)] = h.counts[i]
	}
	buckets["+Inf"] = h.infCount
	h.mu.Unlock()

	stats := h.Statistics()
	return map[string]any{
		"name":        h.name,
		"description": h.description,
		"labels":      h.labels,
		"buckets":     buckets,
		"mean":        stats.Mean,
		"stdDev":      stats.StdDev,
		"min":         stats.Min,
		"max":         stats.Max,
		"count":       stats.Count,
		"sum":         stats.Sum,
	}
}

// Reset clears all buckets, counters, and retained samples.
func (h *Histogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.counts = make([]uint64, len(h.buckets))
	h.infCount = 0
	h.sum = 0
	h.count = 0
	h.min = math.Inf(1)
	h.max = math.Inf(-1)
	h.observations = nil
}

// Registry holds uniquely named metrics.
type Registry struct {
	mu         sync.Mutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		counters:   map[string]*Counter{},
		gauges:     map[string]*Gauge{},
		histograms: map[string]*Histogram{},
	}
}

// Counter registers a new counter. Names are unique across all metric
// types; registering a duplicate fails.
func (r *Registry) Counter(name, description string, labels map[string]string) (*Counter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.claim(name); err != nil {
		return nil, err
	}
	c := NewCounter(name, description, labels)
	r.counters[name] = c
	return c, nil
}

// Gauge registers a new gauge.
func (r *Registry) Gauge(name, description string, labels map[string]string) (*Gauge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.claim(name); err != nil {
		return nil, err
	}
	g := NewGauge(name, description, labels)
	r.gauges[name] = g
	return g, nil
}

// Histogram registers a new histogram.
func (r *Registry) Histogram(name, description string, labels map[string]string, buckets []float64) (*Histogram, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.claim(name); err != nil {
		return nil, err
	}
	h := NewHistogram(name, description, labels, buckets)
	r.histograms[name] = h
	return h, nil
}

func (r *Registry) claim(name string) error {
	_, inCounters := r.counters[name]
	_, inGauges := r.gauges[name]
	_, inHistograms := r.histograms[name]
	if inCounters || inGauges || inHistograms {
		return raggerrors.NewInvalidInput("metric", "name already registered: "+name)
	}
	return nil
}

// Export snapshots every registered metric keyed by name.
func (r *Registry) Export() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := map[string]any{}
	for name, c := range r.counters {
		out[name] = map[string]any{"type": "counter", "value": c.Value()}
	}
	for name, g := range r.gauges {
		out[name] = map[string]any{"type": "gauge", "value": g.Value()}
	}
	for name, h := range r.histograms {
		exported := h.Export()
		exported["type"] = "histogram"
		out[name] = exported
	}
	return out
}

// Reset zeroes every registered metric without unregistering it.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.counters {
		c.Reset()
	}
	for _, g := range r.gauges {
		g.Reset()
	}
	for _, h := range r.histograms {
		h.Reset()
	}
}
