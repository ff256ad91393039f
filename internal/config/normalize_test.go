package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	raggerrors "github.com/ragworks/raggo/pkg/errors"
)

func decodeJSON(t *testing.T, raw string) map[string]any {
	t.Helper()
	out, err := Decode([]byte(raw))
	require.NoError(t, err)
	return out
}

func TestNormalizeRejectsNonObjects(t *testing.T) {
	t.Parallel()

	for _, input := range []any{nil, "text", 42, []any{"loader"}} {
		_, err := Normalize(input)
		require.ErrorIs(t, err, &raggerrors.InvalidInputError{}, "input %v must be rejected", input)
	}

	var nilMap map[string]any
	_, err := Normalize(nilMap)
	require.Error(t, err)
}

func TestNormalizeLegacyShape(t *testing.T) {
	t.Parallel()

	raw := decodeJSON(t, `{
		"namespace": "docs",
		"loader": {"pdf": "pdf-loader"},
		"embedder": {"openai": "openai-embedder"},
		"retriever": {"memory": "memory-store"},
		"llm": {"gpt": "gpt4"},
		"pipeline": ["loader", "embedder", "retriever", "llm"]
	}`)

	cfg, err := Normalize(raw)
	require.NoError(t, err)

	require.Equal(t, "docs", cfg.Namespace)

	spec := cfg.Plugins["loader"]["pdf"]
	require.Equal(t, "pdf-loader", spec.Name)
	require.Equal(t, "latest", spec.Version)
	require.Equal(t, "registry", spec.Source)
	require.True(t, spec.Enabled)

	require.Len(t, cfg.Pipeline.Stages, 4)
	require.Equal(t, "loader", cfg.Pipeline.Stages[0].Stage)
	require.Equal(t, "pdf", cfg.Pipeline.Stages[0].Name)
}

func TestNormalizeEnhancedShape(t *testing.T) {
	t.Parallel()

	raw := decodeJSON(t, `{
		"plugins": {
			"embedder": {
				"openai": {"name": "openai-embedder", "version": "^2.0.0", "source": "npm", "fallback": "local"},
				"local": {"name": "local-embedder", "enabled": false}
			}
		},
		"pipeline": {
			"stages": [{"stage": "embedder", "name": "openai", "timeout": 5000}],
			"retries": {"attempts": 2, "baseDelay": 100, "multiplier": 2},
			"timeout": 60000
		},
		"performance": {"parallel": {"enabled": true, "maxConcurrency": 3, "batchSize": 10}},
		"observability": {"logging": {"level": "debug", "structured": true}},
		"metadata": {"name": "docs-pipeline", "version": "1.0.0"}
	}`)

	cfg, err := Normalize(raw)
	require.NoError(t, err)

	require.Equal(t, "default", cfg.Namespace)

	openai := cfg.Plugins["embedder"]["openai"]
	require.Equal(t, "openai-embedder", openai.Name)
	require.Equal(t, "^2.0.0", openai.Version)
	require.Equal(t, "npm", openai.Source)
	require.Equal(t, "local", openai.Fallback)
	require.True(t, openai.Enabled)

	local := cfg.Plugins["embedder"]["local"]
	require.False(t, local.Enabled)
	require.Equal(t, "latest", local.Version)
	require.Equal(t, "registry", local.Source)

	require.Len(t, cfg.Pipeline.Stages, 1)
	stage := cfg.Pipeline.Stages[0]
	require.Equal(t, "embedder", stage.Stage)
	require.Equal(t, "openai", stage.Name)
	require.Equal(t, float64(5000), stage.Options["timeout"])

	require.Equal(t, 2, cfg.Pipeline.Retries.Attempts)
	require.Equal(t, 60000, cfg.Pipeline.Timeout)
	require.True(t, cfg.Performance.Parallel.Enabled)
	require.Equal(t, "debug", cfg.Observability.Logging.Level)
	require.Equal(t, "docs-pipeline", cfg.Metadata["name"])
}

func TestNormalizeDropsMalformedStageEntries(t *testing.T) {
	t.Parallel()

	raw := decodeJSON(t, `{
		"plugins": {"loader": {"pdf": "pdf-loader"}},
		"pipeline": {"stages": [
			{"stage": "loader", "name": "pdf"},
			{"stage": 42, "name": "pdf"},
			{"stage": "loader"},
			"loader"
		]}
	}`)

	cfg, err := Normalize(raw)
	require.NoError(t, err)

	// Object entries missing a string stage or name are dropped; the bare
	// kind string resolves to the only configured plugin.
	require.Len(t, cfg.Pipeline.Stages, 2)
	require.Equal(t, "pdf", cfg.Pipeline.Stages[0].Name)
	require.Equal(t, "pdf", cfg.Pipeline.Stages[1].Name)
}

func TestNormalizePreservesKnownTopLevelFields(t *testing.T) {
	t.Parallel()

	raw := decodeJSON(t, `{
		"plugins": {},
		"cache": {"dir": "/tmp/rag-cache"},
		"limits": {"maxChunks": 10000},
		"storage": {"driver": "fs"}
	}`)

	cfg, err := Normalize(raw)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"dir": "/tmp/rag-cache"}, cfg.Extra["cache"])
	require.Equal(t, map[string]any{"maxChunks": float64(10000)}, cfg.Extra["limits"])
	require.Equal(t, map[string]any{"driver": "fs"}, cfg.Extra["storage"])
}

func TestNormalizeIsIdempotent(t *testing.T) {
	t.Parallel()

	raw := decodeJSON(t, `{
		"namespace": "docs",
		"loader": {"pdf": "pdf-loader"},
		"embedder": {"openai": "openai-embedder"},
		"pipeline": ["loader", "embedder"]
	}`)

	once, err := Normalize(raw)
	require.NoError(t, err)

	twice, err := Normalize(once)
	require.NoError(t, err)
	require.Equal(t, once, twice)

	// Also stable through a JSON round-trip of the canonical form.
	data, err := json.Marshal(once)
	require.NoError(t, err)
	var back Config
	require.NoError(t, json.Unmarshal(data, &back))
	third, err := Normalize(back)
	require.NoError(t, err)
	require.Equal(t, once, third)
}

func TestDecodeAcceptsYAML(t *testing.T) {
	t.Parallel()

	raw, err := Decode([]byte("namespace: docs\nplugins:\n  loader:\n    pdf: pdf-loader\n"))
	require.NoError(t, err)
	require.Equal(t, "docs", raw["namespace"])

	_, err = Decode([]byte("{{not valid at all"))
	require.Error(t, err)
}
