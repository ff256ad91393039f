// Package tracing implements the span tree: active and completed span
// tables, parent/child links, and trace statistics. Identifiers follow the
// OpenTelemetry widths, 128-bit trace ids and 64-bit span ids, generated
// from a cryptographic random source.
package tracing

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"strings"
	"sync"
	"time"
)

const defaultMaxCompletedSpans = 1000

// pluginCategories are span name prefixes collapsed into the logical
// "plugin" group in statistics.
var pluginCategories = map[string]struct{}{
	"embedder": {}, "llm": {}, "retriever": {}, "loader": {}, "reranker": {},
}

// Options configures a Tracer.
type Options struct {
	// MaxCompletedSpans bounds the FIFO retention of finished spans.
	MaxCompletedSpans int
	// Library stamps every span with the producing instrumentation.
	Library Library
}

// Tracer owns the active and completed span tables. All structural
// mutations take the mutex; snapshot reads copy under it.
type Tracer struct {
	mu        sync.Mutex
	active    map[string]*Span
	completed []*Span
	maxSpans  int
	library   Library
	resource  map[string]any
	clock     func() time.Time
}

// New creates a tracer.
func New(opts Options) *Tracer {
	maxSpans := opts.MaxCompletedSpans
	if maxSpans <= 0 {
		maxSpans = defaultMaxCompletedSpans
	}
	library := opts.Library
	if library.Name == "" {
		library = Library{Name: "raggo", Version: "1.0.0"}
	}
	return &Tracer{
		active:   map[string]*Span{},
		maxSpans: maxSpans,
		library:  library,
		resource: map[string]any{"service.name": library.Name},
		clock:    time.Now,
	}
}

// StartOption customizes a new span.
type StartOption func(*Span)

// WithParent inherits the trace id and sets the parent link from an
// existing span.
func WithParent(parent *Span) StartOption {
	return func(s *Span) {
		if parent == nil {
			return
		}
		s.TraceID = parent.TraceID
		s.ParentSpanID = parent.SpanID
	}
}

// WithTraceID forces the trace id, for spans joining an external trace.
func WithTraceID(traceID string) StartOption {
	return func(s *Span) { s.TraceID = traceID }
}

// WithParentSpanID sets the parent span id without a parent handle.
func WithParentSpanID(spanID string) StartOption {
	return func(s *Span) { s.ParentSpanID = spanID }
}

// WithKind sets the span kind (internal, client, server, ...).
func WithKind(kind string) StartOption {
	return func(s *Span) { s.Kind = kind }
}

// WithAttributes sets initial attributes.
func WithAttributes(attributes map[string]any) StartOption {
	return func(s *Span) {
		if s.Attributes == nil {
			s.Attributes = map[string]any{}
		}
		for k, v := range attributes {
			s.Attributes[k] = v
		}
	}
}

// StartSpan creates a span and inserts it into the active table.
func (t *Tracer) StartSpan(name string, opts ...StartOption) *Span {
	span := &Span{
		Name:      name,
		SpanID:    randomHex(8),
		Kind:      "internal",
		Status:    StatusUnset,
		Library:   t.library,
		Resource:  t.resource,
		StartTime: t.clock(),
		tracer:    t,
	}
	for _, opt := range opts {
		opt(span)
	}
	if span.TraceID == "" {
		span.TraceID = randomHex(16)
	}

	t.mu.Lock()
	t.active[span.SpanID] = span
	t.mu.Unlock()
	return span
}

// StartActiveSpan creates a span, runs fn, and finishes the span. A nil
// error sets status OK; an error records the exception, sets status ERROR,
// and is returned unchanged.
func (t *Tracer) StartActiveSpan(name string, fn func(span *Span) error, opts ...StartOption) error {
	span := t.StartSpan(name, opts...)
	err := fn(span)
	if err != nil {
		span.RecordException(err)
		span.SetStatus(StatusError)
	} else if t.statusOf(span) == StatusUnset {
		span.SetStatus(StatusOK)
	}
	t.EndSpan(span)
	return err
}

func (t *Tracer) statusOf(span *Span) Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return span.Status
}

// EndSpan moves the span from active to completed, setting end time and
// duration. Ending twice is idempotent. An UNSET status becomes OK on end;
// the duration is never below one millisecond.
func (t *Tracer) EndSpan(span *Span) {
	if span == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if span.ended {
		return
	}
	span.ended = true

	span.EndTime = t.clock()
	if span.EndTime.Before(span.StartTime) {
		span.EndTime = span.StartTime
	}
	duration := span.EndTime.Sub(span.StartTime)
	if duration < time.Millisecond {
		duration = time.Millisecond
	}
	span.Duration = duration
	if span.Status == StatusUnset {
		span.Status = StatusOK
	}

	delete(t.active, span.SpanID)
	t.completed = append(t.completed, span)
	if len(t.completed) > t.maxSpans {
		// FIFO eviction at insertion time.
		t.completed = t.completed[len(t.completed)-t.maxSpans:]
	}
}

// SpanFilter narrows completed-span queries.
type SpanFilter struct {
	TraceID string
	// Name matches as a substring.
	Name string
	// NamePattern matches as a regular expression.
	NamePattern string
	Status      Status
	Since       time.Time
	Limit       int
}

// CompletedSpans returns finished spans matching the filter, oldest first.
func (t *Tracer) CompletedSpans(f SpanFilter) ([]*Span, error) {
	var pattern *regexp.Regexp
	if f.NamePattern != "" {
		compiled, err := regexp.Compile(f.NamePattern)
		if err != nil {
			return nil, err
		}
		pattern = compiled
	}

	t.mu.Lock()
	snapshot := make([]*Span, len(t.completed))
	copy(snapshot, t.completed)
	t.mu.Unlock()

	var out []*Span
	for _, span := range snapshot {
		if f.TraceID != "" && span.TraceID != f.TraceID {
			continue
		}
		if f.Name != "" && !strings.Contains(span.Name, f.Name) {
			continue
		}
		if pattern != nil && !pattern.MatchString(span.Name) {
			continue
		}
		if f.Status != "" && span.Status != f.Status {
			continue
		}
		if !f.Since.IsZero() && span.StartTime.Before(f.Since) {
			continue
		}
		out = append(out, span)
	}

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out, nil
}

// ActiveCount returns the number of spans not yet ended.
func (t *Tracer) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

// Stats summarizes tracer state.
type Stats struct {
	TotalSpans      int            `json:"totalSpans"`
	ActiveSpans     int            `json:"activeSpans"`
	CompletedSpans  int            `json:"completedSpans"`
	UniqueTraces    int            `json:"uniqueTraces"`
	StatusCounts    map[Status]int `json:"statusCounts"`
	SpansByType     map[string]int `json:"spansByType"`
	AverageDuration time.Duration  `json:"averageDuration"`
}

// Statistics computes aggregate counts over active and completed spans.
// Span types group by the leading segment of the dotted span name, with the
// five plugin kinds collapsed into "plugin".
func (t *Tracer) Statistics() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := Stats{
		ActiveSpans:    len(t.active),
		CompletedSpans: len(t.completed),
		TotalSpans:     len(t.active) + len(t.completed),
		StatusCounts:   map[Status]int{},
		SpansByType:    map[string]int{},
	}

	traces := map[string]struct{}{}
	var totalDuration time.Duration

	tally := func(span *Span) {
		traces[span.TraceID] = struct{}{}
		stats.StatusCounts[span.Status]++
		stats.SpansByType[spanType(span.Name)]++
	}
	for _, span := range t.active {
		tally(span)
	}
	for _, span := range t.completed {
		tally(span)
		totalDuration += span.Duration
	}

	stats.UniqueTraces = len(traces)
	if len(t.completed) > 0 {
		stats.AverageDuration = totalDuration / time.Duration(len(t.completed))
	}
	return stats
}

func spanType(name string) string {
	segment := name
	if i := strings.Index(name, "."); i >= 0 {
		segment = name[:i]
	}
	if _, ok := pluginCategories[segment]; ok {
		return "plugin"
	}
	return segment
}

func randomHex(bytes int) string {
	buf := make([]byte, bytes)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the platform entropy source is gone;
		// nothing sensible to do but panic like the stdlib does.
		panic(err)
	}
	return hex.EncodeToString(buf)
}
