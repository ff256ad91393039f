// Package events provides the correlated structured event log. Events are
// append-only per session and totally ordered by the timestamps assigned at
// enqueue time.
package events

import (
	"encoding/json"
	"os"
	"reflect"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ragworks/raggo/internal/logger"
)

// Severity tags an event.
type Severity string

const (
	SeverityDebug Severity = "debug"
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Event is one structured log entry.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Severity  Severity       `json:"severity"`
	SessionID string         `json:"sessionId"`
	EventType string         `json:"eventType"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Filter narrows event queries. Zero fields match everything; Limit keeps
// the last N events after the other filters apply.
type Filter struct {
	EventType  string
	Severity   Severity
	PluginType string
	Since      time.Time
	Until      time.Time
	Limit      int
}

// Log is the session-scoped event logger. Appends take the mutex; export
// reads a snapshot.
type Log struct {
	mu        sync.Mutex
	sessionID string
	events    []Event
	log       *logger.Logger
	clock     func() time.Time
}

// NewLog creates an event log. The zerolog-backed logger mirrors events to
// the process log; pass nil to keep events in memory only.
func NewLog(log *logger.Logger) *Log {
	return &Log{log: log, clock: time.Now}
}

// StartSession assigns a fresh session id. All subsequent events carry it.
func (l *Log) StartSession() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessionID = uuid.NewString()
	return l.sessionID
}

// SessionID returns the current session id, empty before StartSession.
func (l *Log) SessionID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sessionID
}

// LogPluginStart records a plugin invocation beginning.
func (l *Log) LogPluginStart(pluginType, name string, input any) {
	meta := l.baseMetadata()
	meta["pluginType"] = pluginType
	meta["pluginName"] = name
	meta["input"] = DescribeSize(input)
	l.append(SeverityDebug, "plugin.start", pluginType+"/"+name+" starting", meta)
}

// LogPluginEnd records a successful plugin invocation.
func (l *Log) LogPluginEnd(pluginType, name string, duration time.Duration, result any) {
	meta := l.baseMetadata()
	meta["pluginType"] = pluginType
	meta["pluginName"] = name
	meta["durationMs"] = duration.Milliseconds()
	meta["result"] = DescribeSize(result)
	l.append(SeverityDebug, "plugin.end", pluginType+"/"+name+" completed", meta)
}

// LogPluginError records a failed plugin invocation.
func (l *Log) LogPluginError(pluginType, name string, duration time.Duration, err error) {
	meta := l.baseMetadata()
	meta["pluginType"] = pluginType
	meta["pluginName"] = name
	meta["durationMs"] = duration.Milliseconds()
	if err != nil {
		meta["error"] = err.Error()
	}
	l.append(SeverityError, "plugin.error", pluginType+"/"+name+" failed", meta)
}

// LogStageStart records a pipeline stage beginning.
func (l *Log) LogStageStart(stage string, extra map[string]any) {
	meta := l.baseMetadata()
	meta["stage"] = stage
	for k, v := range extra {
		meta[k] = v
	}
	l.append(SeverityInfo, "stage.start", "stage "+stage+" starting", meta)
}

// LogStageEnd records a pipeline stage completing.
func (l *Log) LogStageEnd(stage string, duration time.Duration, extra map[string]any) {
	meta := l.baseMetadata()
	meta["stage"] = stage
	meta["durationMs"] = duration.Milliseconds()
	for k, v := range extra {
		meta[k] = v
	}
	l.append(SeverityInfo, "stage.end", "stage "+stage+" completed", meta)
}

// LogMemoryWarning records a heap pressure warning.
func (l *Log) LogMemoryWarning(heapUsed, heapTotal uint64) {
	meta := l.baseMetadata()
	meta["heapUsed"] = heapUsed
	meta["heapTotal"] = heapTotal
	if heapTotal > 0 {
		meta["heapPercent"] = float64(heapUsed) / float64(heapTotal) * 100
	}
	l.append(SeverityWarn, "memory.warning", "heap usage above threshold", meta)
}

// LogWarning records a free-form warning event.
func (l *Log) LogWarning(eventType, message string, extra map[string]any) {
	meta := l.baseMetadata()
	for k, v := range extra {
		meta[k] = v
	}
	l.append(SeverityWarn, eventType, message, meta)
}

func (l *Log) baseMetadata() map[string]any {
	return map[string]any{
		"pid":      os.Getpid(),
		"platform": runtime.GOOS,
		"runtime":  runtime.Version(),
	}
}

func (l *Log) append(severity Severity, eventType, message string, meta map[string]any) {
	l.mu.Lock()
	event := Event{
		Timestamp: l.clock(),
		Severity:  severity,
		SessionID: l.sessionID,
		EventType: eventType,
		Message:   message,
		Metadata:  meta,
	}
	l.events = append(l.events, event)
	l.mu.Unlock()

	if l.log != nil {
		derived := l.log.WithFields(map[string]any{"eventType": eventType, "sessionId": event.SessionID})
		switch severity {
		case SeverityDebug:
			derived.Debug(message)
		case SeverityWarn:
			derived.Warn(message)
		case SeverityError:
			derived.Error(nil, message)
		default:
			derived.Info(message)
		}
	}
}

// History returns events matching the filter in chronological order.
func (l *Log) History(f Filter) []Event {
	l.mu.Lock()
	snapshot := make([]Event, len(l.events))
	copy(snapshot, l.events)
	l.mu.Unlock()

	var out []Event
	for _, e := range snapshot {
		if f.EventType != "" && e.EventType != f.EventType {
			continue
		}
		if f.Severity != "" && e.Severity != f.Severity {
			continue
		}
		if f.PluginType != "" {
			pt, _ := e.Metadata["pluginType"].(string)
			if pt != f.PluginType {
				continue
			}
		}
		if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
			continue
		}
		out = append(out, e)
	}

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

// ExportPayload is the serialized form of an event log.
type ExportPayload struct {
	SessionID  string  `json:"sessionId"`
	EventCount int     `json:"eventCount"`
	Events     []Event `json:"events"`
}

// Export serializes the filtered event history as JSON.
func (l *Log) Export(f Filter) ([]byte, error) {
	events := l.History(f)
	if events == nil {
		events = []Event{}
	}
	payload := ExportPayload{
		SessionID:  l.SessionID(),
		EventCount: len(events),
		Events:     events,
	}
	return json.Marshal(payload)
}

// Import re-ingests a previously exported payload, replacing the current
// event list. Event timestamps and content are preserved; the session id of
// this log is kept.
func (l *Log) Import(data []byte) error {
	var payload ExportPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = payload.Events
	return nil
}

// DescribeSize summarizes a value's size without serializing its content:
// ordered sequences report length, text reports length, mappings report key
// count, and null reports a bare object marker.
func DescribeSize(v any) map[string]any {
	if v == nil {
		return map[string]any{"type": "object"}
	}

	switch value := v.(type) {
	case string:
		return map[string]any{"type": "string", "length": len(value)}
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return map[string]any{"type": "array", "length": rv.Len()}
	case reflect.Map:
		return map[string]any{"type": "object", "keys": rv.Len()}
	case reflect.Ptr:
		if rv.IsNil() {
			return map[string]any{"type": "object"}
		}
		return DescribeSize(rv.Elem().Interface())
	default:
		return map[string]any{"type": rv.Kind().String()}
	}
}
