// Package config normalizes runtime configuration. Two input shapes are
// accepted, the legacy flat form and the enhanced form, and both produce
// exactly one canonical Config. File I/O is the caller's concern; this
// package only decodes and normalizes content it is handed.
package config

// Spec is the canonical description of one configured plugin. A bare name
// in the input implies version "latest" and source "registry".
type Spec struct {
	Name     string         `json:"name" yaml:"name" validate:"required"`
	Version  string         `json:"version" yaml:"version" validate:"required,version_expr"`
	Source   string         `json:"source" yaml:"source" validate:"required,oneof=registry local git npm"`
	URL      string         `json:"url,omitempty" yaml:"url,omitempty"`
	Path     string         `json:"path,omitempty" yaml:"path,omitempty"`
	Config   map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	Enabled  bool           `json:"enabled" yaml:"enabled"`
	Fallback string         `json:"fallback,omitempty" yaml:"fallback,omitempty"`
}

// StageRef is one normalized pipeline entry.
type StageRef struct {
	Stage   string         `json:"stage" yaml:"stage" validate:"required"`
	Name    string         `json:"name" yaml:"name"`
	Options map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
}

// Retries configures the retry wrapper around plugin calls.
type Retries struct {
	Attempts   int     `json:"attempts" yaml:"attempts" validate:"gte=0"`
	BaseDelay  int     `json:"baseDelay" yaml:"baseDelay" validate:"gte=0"`
	Multiplier float64 `json:"multiplier" yaml:"multiplier" validate:"gte=0"`
	Jitter     bool    `json:"jitter" yaml:"jitter"`
}

// Pipeline is the canonical pipeline section.
type Pipeline struct {
	Stages     []StageRef `json:"stages" yaml:"stages" validate:"dive"`
	Middleware []string   `json:"middleware,omitempty" yaml:"middleware,omitempty"`
	Retries    Retries    `json:"retries" yaml:"retries"`
	// Timeout bounds one pipeline invocation, in milliseconds. Zero means
	// no pipeline-level timeout.
	Timeout int `json:"timeout" yaml:"timeout" validate:"gte=0"`
}

// Parallel configures batched parallel embedding.
type Parallel struct {
	Enabled        bool `json:"enabled" yaml:"enabled"`
	MaxConcurrency int  `json:"maxConcurrency" yaml:"maxConcurrency" validate:"gte=0"`
	BatchSize      int  `json:"batchSize" yaml:"batchSize" validate:"gte=0"`
}

// Streaming configures the backpressured streaming embedding path.
type Streaming struct {
	Enabled        bool  `json:"enabled" yaml:"enabled"`
	MaxBufferItems int   `json:"maxBufferItems" yaml:"maxBufferItems" validate:"gte=0"`
	MaxBufferBytes int64 `json:"maxBufferBytes" yaml:"maxBufferBytes" validate:"gte=0"`
}

// Caching configures marketplace and pipeline caches.
type Caching struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	TTL     int  `json:"ttl" yaml:"ttl" validate:"gte=0"`
}

// Performance is the canonical performance section.
type Performance struct {
	Parallel  Parallel  `json:"parallel" yaml:"parallel"`
	Streaming Streaming `json:"streaming" yaml:"streaming"`
	Caching   Caching   `json:"caching" yaml:"caching"`
}

// Logging configures the structured logger.
type Logging struct {
	Level      string `json:"level" yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Structured bool   `json:"structured" yaml:"structured"`
}

// Tracing configures the span tracer.
type Tracing struct {
	Enabled    bool    `json:"enabled" yaml:"enabled"`
	SampleRate float64 `json:"sampleRate" yaml:"sampleRate" validate:"gte=0,lte=1"`
}

// Metrics configures the metric registry.
type Metrics struct {
	Enabled  bool `json:"enabled" yaml:"enabled"`
	Interval int  `json:"interval" yaml:"interval" validate:"gte=0"`
}

// Observability is the canonical observability section.
type Observability struct {
	Logging Logging `json:"logging" yaml:"logging"`
	Tracing Tracing `json:"tracing" yaml:"tracing"`
	Metrics Metrics `json:"metrics" yaml:"metrics"`
}

// Config is the canonical configuration every consumer sees.
type Config struct {
	Namespace     string                     `json:"namespace" yaml:"namespace" validate:"required"`
	Plugins       map[string]map[string]Spec `json:"plugins" yaml:"plugins" validate:"dive,dive"`
	Pipeline      Pipeline                   `json:"pipeline" yaml:"pipeline"`
	Performance   Performance                `json:"performance" yaml:"performance"`
	Observability Observability              `json:"observability" yaml:"observability"`
	Metadata      map[string]any             `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	// Extra preserves known top-level fields (cache, limits, storage)
	// verbatim for external collaborators.
	Extra map[string]any `json:"extra,omitempty" yaml:"extra,omitempty"`
}
