package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ragworks/raggo/internal/config"
	"github.com/ragworks/raggo/internal/events"
	"github.com/ragworks/raggo/internal/model"
	"github.com/ragworks/raggo/internal/plugin"
	"github.com/ragworks/raggo/internal/tracing"
	raggerrors "github.com/ragworks/raggo/pkg/errors"
)

type stubLoader struct {
	docs []model.Document
	err  error
}

func (l *stubLoader) Load(ctx context.Context, path string) ([]model.Document, error) {
	return l.docs, l.err
}

type stubEmbedder struct {
	mu        sync.Mutex
	calls     int
	failCalls int // first N Embed calls fail
	queryVec  model.Vector
	queryErr  error
}

func (e *stubEmbedder) Embed(ctx context.Context, chunks []model.Chunk) ([]model.Vector, error) {
	e.mu.Lock()
	e.calls++
	fail := e.calls <= e.failCalls
	e.mu.Unlock()
	if fail {
		return nil, errors.New("embedder unavailable")
	}
	out := make([]model.Vector, len(chunks))
	for i, c := range chunks {
		out[i] = model.Vector{float32(len(c.Text)), float32(i)}
	}
	return out, nil
}

func (e *stubEmbedder) EmbedQuery(ctx context.Context, text string) (model.Vector, error) {
	if e.queryErr != nil {
		return nil, e.queryErr
	}
	if e.queryVec != nil {
		return e.queryVec, nil
	}
	return model.Vector{float32(len(text))}, nil
}

type shortEmbedder struct{ stubEmbedder }

func (e *shortEmbedder) Embed(ctx context.Context, chunks []model.Chunk) ([]model.Vector, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	return []model.Vector{{1}}, nil
}

type memoryRetriever struct {
	mu      sync.Mutex
	stored  []model.Embedding
	results []model.ScoredChunk
	err     error
}

func (r *memoryRetriever) Store(ctx context.Context, embeddings []model.Embedding) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	r.stored = append(r.stored, embeddings...)
	r.mu.Unlock()
	return nil
}

func (r *memoryRetriever) Retrieve(ctx context.Context, query model.Vector) ([]model.ScoredChunk, error) {
	return r.results, r.err
}

type stubLLM struct {
	answer string
	err    error
}

func (l *stubLLM) Generate(ctx context.Context, prompt string, chunks []model.ScoredChunk) (string, error) {
	return l.answer, l.err
}

type reversingReranker struct{}

func (reversingReranker) Rerank(ctx context.Context, query string, chunks []model.ScoredChunk) ([]model.ScoredChunk, error) {
	out := make([]model.ScoredChunk, len(chunks))
	for i, c := range chunks {
		out[len(chunks)-1-i] = c
	}
	return out, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Namespace: "default",
		Plugins: map[string]map[string]config.Spec{
			"loader":    {"files": {Name: "files", Version: "latest", Source: "registry", Enabled: true}},
			"embedder":  {"stub": {Name: "stub", Version: "latest", Source: "registry", Enabled: true}},
			"retriever": {"memory": {Name: "memory", Version: "latest", Source: "registry", Enabled: true}},
			"llm":       {"stub": {Name: "stub", Version: "latest", Source: "registry", Enabled: true}},
		},
		Pipeline: config.Pipeline{
			Stages: []config.StageRef{
				{Stage: "loader", Name: "files"},
				{Stage: "embedder", Name: "stub"},
				{Stage: "retriever", Name: "memory"},
				{Stage: "llm", Name: "stub"},
			},
			Retries: config.Retries{Attempts: 1, BaseDelay: 1, Multiplier: 2},
		},
	}
}

type fixture struct {
	executor  *Executor
	registry  *plugin.Registry
	cfg       *config.Config
	loader    *stubLoader
	embedder  *stubEmbedder
	retriever *memoryRetriever
	llm       *stubLLM
}

func newExecutorFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		registry: plugin.NewRegistry(nil),
		cfg:      testConfig(),
		loader: &stubLoader{docs: []model.Document{
			{ID: "doc-1", Content: strings.Repeat("alpha beta gamma ", 40)},
		}},
		embedder:  &stubEmbedder{},
		retriever: &memoryRetriever{},
		llm:       &stubLLM{answer: "the answer"},
	}
	require.NoError(t, f.registry.Register(plugin.KindLoader, "files", f.loader))
	require.NoError(t, f.registry.Register(plugin.KindEmbedder, "stub", f.embedder))
	require.NoError(t, f.registry.Register(plugin.KindRetriever, "memory", f.retriever))
	require.NoError(t, f.registry.Register(plugin.KindLLM, "stub", f.llm))

	f.executor = New(f.registry, f.cfg, Options{})
	return f
}

func TestIngestHappyPath(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture(t)
	result, err := f.executor.Ingest(context.Background(), "/docs/report.pdf")
	require.NoError(t, err)
	require.Equal(t, 1, result.Documents)
	require.Greater(t, result.Chunks, 0)
	require.Equal(t, result.Chunks, result.Embeddings)
	require.Len(t, f.retriever.stored, result.Chunks)

	// Embeddings pair chunk and vector.
	for _, emb := range f.retriever.stored {
		require.NotEmpty(t, emb.ID)
		require.NotEmpty(t, emb.Chunk.Text)
		require.Len(t, emb.Vector, 2)
	}

	// Stage events were recorded.
	history := f.executor.Events().History(events.Filter{EventType: "stage.end"})
	require.Len(t, history, 1)
	require.Equal(t, "stage ingest completed", history[0].Message)

	// The root span completed OK with plugin children.
	spans, err := f.executor.Tracer().CompletedSpans(tracing.SpanFilter{Name: "pipeline.ingest"})
	require.NoError(t, err)
	require.Len(t, spans, 1)
	require.Equal(t, tracing.StatusOK, spans[0].Status)

	children, err := f.executor.Tracer().CompletedSpans(tracing.SpanFilter{TraceID: spans[0].TraceID})
	require.NoError(t, err)
	require.Greater(t, len(children), 3)

	require.Equal(t, 1.0, f.executor.Metrics().OperationsSuccessful.Value())
}

func TestIngestValidatesSourcePath(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture(t)
	for _, path := range []string{"", "   "} {
		_, err := f.executor.Ingest(context.Background(), path)
		var invalid *raggerrors.InvalidInputError
		require.ErrorAs(t, err, &invalid)
	}
}

func TestIngestFailsOnEmptyLoad(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture(t)
	f.loader.docs = nil

	_, err := f.executor.Ingest(context.Background(), "/docs/empty")
	var loadFailed *raggerrors.LoadFailedError
	require.ErrorAs(t, err, &loadFailed)
	require.Equal(t, 1.0, f.executor.Metrics().OperationsFailed.Value())
}

func TestIngestWrapsLoaderError(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture(t)
	f.loader.err = errors.New("permission denied")

	_, err := f.executor.Ingest(context.Background(), "/docs/secret")
	var stageErr *raggerrors.StageError
	require.ErrorAs(t, err, &stageErr)
	require.Equal(t, "load", stageErr.Stage)
	require.Equal(t, "files", stageErr.Plugin)

	// The plugin error landed in the event log.
	history := f.executor.Events().History(events.Filter{EventType: "plugin.error"})
	require.NotEmpty(t, history)
}

func TestIngestDetectsEmbeddingMismatch(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture(t)
	require.NoError(t, f.registry.Register(plugin.KindEmbedder, "stub", &shortEmbedder{}))

	_, err := f.executor.Ingest(context.Background(), "/docs/report.pdf")
	var mismatch *raggerrors.EmbeddingMismatchError
	require.ErrorAs(t, err, &mismatch)
}

func TestIngestRetriesTransientEmbedderFailure(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture(t)
	f.embedder.failCalls = 1 // first call fails, retry succeeds

	_, err := f.executor.Ingest(context.Background(), "/docs/report.pdf")
	require.NoError(t, err)
	require.Equal(t, 2, f.embedder.calls)
}

func TestEmbedderFallbackIsUsed(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture(t)
	backup := &stubEmbedder{}
	require.NoError(t, f.registry.Register(plugin.KindEmbedder, "backup", backup))

	spec := f.cfg.Plugins["embedder"]["stub"]
	spec.Fallback = "backup"
	f.cfg.Plugins["embedder"]["stub"] = spec
	f.embedder.failCalls = 1000 // primary never recovers

	_, err := f.executor.Ingest(context.Background(), "/docs/report.pdf")
	require.NoError(t, err)
	require.Greater(t, backup.calls, 0)

	history := f.executor.Events().History(events.Filter{EventType: "plugin.fallback"})
	require.Len(t, history, 1)
}

func TestQueryHappyPath(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture(t)
	f.retriever.results = []model.ScoredChunk{
		{Chunk: model.Chunk{Text: "first"}, Score: 0.9},
		{Chunk: model.Chunk{Text: "second"}, Score: 0.7},
	}

	result, err := f.executor.Query(context.Background(), "what is alpha?")
	require.NoError(t, err)
	require.Equal(t, "the answer", result.Answer)
	require.Len(t, result.Chunks, 2)
	require.Equal(t, "first", result.Chunks[0].Chunk.Text)
}

func TestQueryValidatesPrompt(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture(t)
	_, err := f.executor.Query(context.Background(), "  ")
	var invalid *raggerrors.InvalidInputError
	require.ErrorAs(t, err, &invalid)
}

func TestQueryEmptyRetrievalIsWarningNotFailure(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture(t)
	f.retriever.results = nil

	result, err := f.executor.Query(context.Background(), "anything out there?")
	require.NoError(t, err)
	require.Equal(t, "the answer", result.Answer)
	require.Empty(t, result.Chunks)

	history := f.executor.Events().History(events.Filter{EventType: "retrieval.empty"})
	require.Len(t, history, 1)
}

func TestQueryRerankerReordersContext(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture(t)
	require.NoError(t, f.registry.Register(plugin.KindReranker, "reverse", reversingReranker{}))
	f.cfg.Plugins["reranker"] = map[string]config.Spec{
		"reverse": {Name: "reverse", Version: "latest", Source: "registry", Enabled: true},
	}
	f.retriever.results = []model.ScoredChunk{
		{Chunk: model.Chunk{Text: "first"}, Score: 0.9},
		{Chunk: model.Chunk{Text: "second"}, Score: 0.7},
	}

	result, err := f.executor.Query(context.Background(), "what is alpha?")
	require.NoError(t, err)
	require.Equal(t, "second", result.Chunks[0].Chunk.Text)
	require.Equal(t, "first", result.Chunks[1].Chunk.Text)
}

func TestQueryFailsOnEmptyQueryVector(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture(t)
	f.embedder.queryVec = model.Vector{}
	f.embedder.queryErr = nil

	_, err := f.executor.Query(context.Background(), "prompt")
	var qErr *raggerrors.QueryEmbeddingFailedError
	require.ErrorAs(t, err, &qErr)
}

func TestQueryFailsOnEmptyAnswer(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture(t)
	f.llm.answer = ""

	_, err := f.executor.Query(context.Background(), "prompt")
	var genErr *raggerrors.GenerationFailedError
	require.ErrorAs(t, err, &genErr)
}

func TestCancelledContextStopsPipeline(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.executor.Ingest(ctx, "/docs/report.pdf")
	var cancelled *raggerrors.CancelledError
	require.ErrorAs(t, err, &cancelled)

	_, err = f.executor.Query(ctx, "prompt")
	require.ErrorAs(t, err, &cancelled)
}
