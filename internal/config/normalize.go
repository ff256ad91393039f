package config

import (
	"encoding/json"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	raggerrors "github.com/ragworks/raggo/pkg/errors"
)

// canonicalKindOrder is the projection order for legacy kind sub-objects.
var canonicalKindOrder = []string{"loader", "embedder", "retriever", "reranker", "llm"}

// preservedFields are known top-level fields carried verbatim into
// Config.Extra for external collaborators.
var preservedFields = []string{"cache", "limits", "storage"}

const defaultNamespace = "default"

// Decode parses raw configuration content. JSON is tried first, then YAML,
// matching the two on-disk shapes external loaders hand over.
func Decode(data []byte) (map[string]any, error) {
	var viaJSON map[string]any
	jsonErr := json.Unmarshal(data, &viaJSON)
	if jsonErr == nil {
		return viaJSON, nil
	}

	var viaYAML map[string]any
	if yamlErr := yaml.Unmarshal(data, &viaYAML); yamlErr == nil && viaYAML != nil {
		return viaYAML, nil
	}

	return nil, fmt.Errorf("configuration is neither valid JSON nor YAML: %w", jsonErr)
}

// Normalize accepts either shape and produces the canonical Config.
// Normalization is idempotent: feeding a canonical Config back through
// returns an equal value.
func Normalize(raw any) (*Config, error) {
	switch v := raw.(type) {
	case *Config:
		return cloneConfig(v)
	case Config:
		return cloneConfig(&v)
	case map[string]any:
		if v == nil {
			return nil, raggerrors.NewInvalidInput("config", "configuration must be a non-null object")
		}
		return normalizeMap(v)
	default:
		return nil, raggerrors.NewInvalidInput("config", fmt.Sprintf("configuration must be an object, got %T", raw))
	}
}

func normalizeMap(in map[string]any) (*Config, error) {
	cfg := &Config{
		Namespace: stringOr(in["namespace"], defaultNamespace),
		Plugins:   map[string]map[string]Spec{},
		Metadata:  mapOrNil(in["metadata"]),
	}

	if legacyShape(in) {
		for _, kind := range canonicalKindOrder {
			sub, ok := in[kind].(map[string]any)
			if !ok {
				continue
			}
			cfg.Plugins[kind] = normalizeSpecMap(sub)
		}
	} else if plugins, ok := in["plugins"].(map[string]any); ok {
		for kind, sub := range plugins {
			subMap, ok := sub.(map[string]any)
			if !ok {
				continue
			}
			cfg.Plugins[kind] = normalizeSpecMap(subMap)
		}
	}

	cfg.Pipeline = normalizePipeline(in["pipeline"], cfg.Plugins)

	if perf, ok := in["performance"].(map[string]any); ok {
		if err := reshape(perf, &cfg.Performance); err != nil {
			return nil, raggerrors.NewInvalidInput("performance", err.Error())
		}
	}
	if obs, ok := in["observability"].(map[string]any); ok {
		if err := reshape(obs, &cfg.Observability); err != nil {
			return nil, raggerrors.NewInvalidInput("observability", err.Error())
		}
	}

	for _, field := range preservedFields {
		if value, ok := in[field]; ok {
			if cfg.Extra == nil {
				cfg.Extra = map[string]any{}
			}
			cfg.Extra[field] = value
		}
	}

	return cfg, nil
}

// legacyShape detects the flat form: top-level kind keys and no plugins
// section.
func legacyShape(in map[string]any) bool {
	if _, ok := in["plugins"]; ok {
		return false
	}
	for _, kind := range canonicalKindOrder {
		if _, ok := in[kind].(map[string]any); ok {
			return true
		}
	}
	return false
}

func normalizeSpecMap(sub map[string]any) map[string]Spec {
	out := make(map[string]Spec, len(sub))
	for localName, value := range sub {
		spec, ok := normalizeSpec(localName, value)
		if !ok {
			continue
		}
		out[localName] = spec
	}
	return out
}

func normalizeSpec(localName string, value any) (Spec, bool) {
	switch v := value.(type) {
	case string:
		return Spec{
			Name:    v,
			Version: "latest",
			Source:  "registry",
			Enabled: true,
		}, true
	case map[string]any:
		var spec Spec
		if err := reshape(v, &spec); err != nil {
			return Spec{}, false
		}
		if spec.Name == "" {
			spec.Name = localName
		}
		if spec.Version == "" {
			spec.Version = "latest"
		}
		if spec.Source == "" {
			spec.Source = "registry"
		}
		if _, present := v["enabled"]; !present {
			spec.Enabled = true
		}
		return spec, true
	default:
		return Spec{}, false
	}
}

func normalizePipeline(raw any, plugins map[string]map[string]Spec) Pipeline {
	var out Pipeline

	var stages []any
	switch v := raw.(type) {
	case []any:
		// Legacy: an ordered array of kind names.
		stages = v
	case map[string]any:
		if s, ok := v["stages"].([]any); ok {
			stages = s
		}
		if mw, ok := v["middleware"].([]any); ok {
			for _, m := range mw {
				if s, ok := m.(string); ok {
					out.Middleware = append(out.Middleware, s)
				}
			}
		}
		if retries, ok := v["retries"].(map[string]any); ok {
			_ = reshape(retries, &out.Retries)
		}
		out.Timeout = intOr(v["timeout"], 0)
	}

	for _, entry := range stages {
		switch e := entry.(type) {
		case string:
			out.Stages = append(out.Stages, StageRef{
				Stage: e,
				Name:  defaultPluginName(plugins[e]),
			})
		case map[string]any:
			stage, stageOK := e["stage"].(string)
			name, nameOK := e["name"].(string)
			if !stageOK || !nameOK {
				// Entries whose stage or name is not a string are dropped.
				continue
			}
			options := map[string]any{}
			if opts, ok := e["options"].(map[string]any); ok {
				for k, v := range opts {
					options[k] = v
				}
			}
			for k, v := range e {
				if k == "stage" || k == "name" || k == "options" {
					continue
				}
				options[k] = v
			}
			if len(options) == 0 {
				options = nil
			}
			out.Stages = append(out.Stages, StageRef{Stage: stage, Name: name, Options: options})
		}
	}

	return out
}

// defaultPluginName picks the first configured plugin of a kind, in sorted
// order, for legacy pipelines that reference stages by kind alone.
func defaultPluginName(specs map[string]Spec) string {
	if len(specs) == 0 {
		return ""
	}
	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names[0]
}

// reshape maps a generic object onto a typed struct through JSON.
func reshape(in map[string]any, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func cloneConfig(in *Config) (*Config, error) {
	if in == nil {
		return nil, raggerrors.NewInvalidInput("config", "configuration must be a non-null object")
	}
	data, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	var out Config
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func stringOr(v any, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}

func intOr(v any, fallback int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return fallback
	}
}

func mapOrNil(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return nil
}
