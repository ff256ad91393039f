package tracing

import (
	"fmt"
	"time"
)

// Status is the outcome of a span.
type Status string

const (
	StatusUnset Status = "UNSET"
	StatusOK    Status = "OK"
	StatusError Status = "ERROR"
)

// SpanEvent is a timestamped annotation attached to a span.
type SpanEvent struct {
	Name       string         `json:"name"`
	Timestamp  time.Time      `json:"timestamp"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Link references another span, within or across traces.
type Link struct {
	TraceID string `json:"traceId"`
	SpanID  string `json:"spanId"`
}

// Library identifies the instrumentation that produced a span.
type Library struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Span is a timed unit of work. Fields are guarded by the owning tracer's
// mutex; callers interact through the tracer and the setter methods below.
type Span struct {
	Name         string         `json:"name"`
	TraceID      string         `json:"traceId"`
	SpanID       string         `json:"spanId"`
	ParentSpanID string         `json:"parentSpanId,omitempty"`
	Kind         string         `json:"kind"`
	StartTime    time.Time      `json:"startTime"`
	EndTime      time.Time      `json:"endTime,omitzero"`
	Duration     time.Duration  `json:"duration,omitempty"`
	Status       Status         `json:"status"`
	Attributes   map[string]any `json:"attributes,omitempty"`
	Events       []SpanEvent    `json:"events,omitempty"`
	Links        []Link         `json:"links,omitempty"`
	Resource     map[string]any `json:"resource,omitempty"`
	Library      Library        `json:"instrumentationLibrary"`

	tracer            *Tracer
	exceptionRecorded bool
	ended             bool
}

// SetAttribute records a key/value attribute on the span.
func (s *Span) SetAttribute(key string, value any) {
	s.tracer.mu.Lock()
	defer s.tracer.mu.Unlock()
	if s.Attributes == nil {
		s.Attributes = map[string]any{}
	}
	s.Attributes[key] = value
}

// SetStatus overrides the span status.
func (s *Span) SetStatus(status Status) {
	s.tracer.mu.Lock()
	defer s.tracer.mu.Unlock()
	s.Status = status
}

// AddEvent appends a timestamped event to the span.
func (s *Span) AddEvent(name string, attributes map[string]any) {
	s.tracer.mu.Lock()
	defer s.tracer.mu.Unlock()
	s.Events = append(s.Events, SpanEvent{
		Name:       name,
		Timestamp:  s.tracer.clock(),
		Attributes: attributes,
	})
}

// AddLink records a reference to another span.
func (s *Span) AddLink(traceID, spanID string) {
	s.tracer.mu.Lock()
	defer s.tracer.mu.Unlock()
	s.Links = append(s.Links, Link{TraceID: traceID, SpanID: spanID})
}

// RecordException attaches an exception event carrying the error type and
// message. At most one exception is recorded per span; later calls are
// dropped.
func (s *Span) RecordException(err error) {
	if err == nil {
		return
	}

	s.tracer.mu.Lock()
	defer s.tracer.mu.Unlock()
	if s.exceptionRecorded {
		return
	}
	s.exceptionRecorded = true

	attributes := map[string]any{
		"exception.type":    fmt.Sprintf("%T", err),
		"exception.message": err.Error(),
	}
	if coded, ok := err.(interface{ Code() string }); ok {
		attributes["exception.code"] = coded.Code()
	}

	s.Events = append(s.Events, SpanEvent{
		Name:       "exception",
		Timestamp:  s.tracer.clock(),
		Attributes: attributes,
	})
}

// End finishes the span through its tracer. Safe to call more than once.
func (s *Span) End() {
	s.tracer.EndSpan(s)
}
