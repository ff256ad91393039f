// Package pipeline implements the RAG execution engine: the ingest and
// query operations, parallel and token-aware embedding batching, and the
// backpressured streaming path. Every plugin call is wrapped with retry,
// events, spans, and metrics.
package pipeline

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ragworks/raggo/internal/config"
	"github.com/ragworks/raggo/internal/events"
	"github.com/ragworks/raggo/internal/logger"
	"github.com/ragworks/raggo/internal/metrics"
	"github.com/ragworks/raggo/internal/model"
	"github.com/ragworks/raggo/internal/plugin"
	"github.com/ragworks/raggo/internal/retry"
	"github.com/ragworks/raggo/internal/tracing"
	raggerrors "github.com/ragworks/raggo/pkg/errors"
)

// memoryWarnThreshold is the heap utilization percentage above which the
// executor emits a memory warning event.
const memoryWarnThreshold = 80.0

// rerankRetries caps reranker retries below the general retry budget; a
// reranker failure is recoverable by skipping it, so it gets fewer tries.
const rerankRetries = 2

// Options carries the executor's collaborators. Nil fields get isolated
// defaults so tests can construct bare executors.
type Options struct {
	Logger  *logger.Logger
	Events  *events.Log
	Tracer  *tracing.Tracer
	Metrics *metrics.PipelineMetrics
}

// Executor runs the ingest and query pipelines against registered plugins.
type Executor struct {
	registry *plugin.Registry
	cfg      *config.Config
	log      *logger.Logger
	events   *events.Log
	tracer   *tracing.Tracer
	metrics  *metrics.PipelineMetrics
	retry    retry.Options
	clock    func() time.Time
}

// New creates an executor over a registry and a normalized config.
func New(registry *plugin.Registry, cfg *config.Config, opts Options) *Executor {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	eventLog := opts.Events
	if eventLog == nil {
		eventLog = events.NewLog(nil)
		eventLog.StartSession()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = tracing.New(tracing.Options{})
	}
	pipelineMetrics := opts.Metrics
	if pipelineMetrics == nil {
		pipelineMetrics = metrics.NewPipelineMetrics()
	}

	retryOpts := retry.Options{
		Retries:    cfg.Pipeline.Retries.Attempts,
		BaseDelay:  time.Duration(cfg.Pipeline.Retries.BaseDelay) * time.Millisecond,
		Multiplier: cfg.Pipeline.Retries.Multiplier,
		Jitter:     cfg.Pipeline.Retries.Jitter,
	}

	return &Executor{
		registry: registry,
		cfg:      cfg,
		log:      log.WithComponent("pipeline"),
		events:   eventLog,
		tracer:   tracer,
		metrics:  pipelineMetrics,
		retry:    retryOpts,
		clock:    time.Now,
	}
}

// Events exposes the executor's event log.
func (e *Executor) Events() *events.Log { return e.events }

// Tracer exposes the executor's tracer.
func (e *Executor) Tracer() *tracing.Tracer { return e.tracer }

// Metrics exposes the executor's metric set.
func (e *Executor) Metrics() *metrics.PipelineMetrics { return e.metrics }

// IngestResult summarizes one ingest invocation.
type IngestResult struct {
	Documents  int           `json:"documents"`
	Chunks     int           `json:"chunks"`
	Embeddings int           `json:"embeddings"`
	Duration   time.Duration `json:"duration"`
}

// Ingest loads, chunks, embeds, and stores a source. Steps run in order:
// load, chunk, embed (serial or parallel per config), store. Each plugin
// call is retried; post-hoc validations are not.
func (e *Executor) Ingest(ctx context.Context, sourcePath string) (*IngestResult, error) {
	if strings.TrimSpace(sourcePath) == "" {
		return nil, raggerrors.NewInvalidInput("sourcePath", "must be a non-empty string")
	}

	ctx, cancel := e.withPipelineTimeout(ctx)
	defer cancel()

	start := e.clock()
	e.metrics.OperationsTotal.Inc()
	e.metrics.OperationsActive.Inc(1)
	defer e.metrics.OperationsActive.Dec(1)

	root := e.tracer.StartSpan("pipeline.ingest", tracing.WithAttributes(map[string]any{"sourcePath": sourcePath}))
	defer root.End()
	e.events.LogStageStart("ingest", map[string]any{"sourcePath": sourcePath})

	result, err := e.ingest(ctx, root, sourcePath)
	elapsed := e.clock().Sub(start)
	if err != nil {
		e.metrics.OperationsFailed.Inc()
		e.metrics.RecordError(errorKind(err), "")
		root.RecordException(err)
		root.SetStatus(tracing.StatusError)
		e.events.LogStageEnd("ingest", elapsed, map[string]any{"error": err.Error()})
		return nil, err
	}

	result.Duration = elapsed
	e.metrics.OperationsSuccessful.Inc()
	root.SetStatus(tracing.StatusOK)
	e.events.LogStageEnd("ingest", elapsed, map[string]any{
		"documents": result.Documents,
		"chunks":    result.Chunks,
	})
	e.checkMemory()
	return result, nil
}

func (e *Executor) ingest(ctx context.Context, root *tracing.Span, sourcePath string) (*IngestResult, error) {
	loaderName, err := e.stagePlugin(plugin.KindLoader)
	if err != nil {
		return nil, err
	}

	var docs []model.Document
	err = e.pluginStep(ctx, root, plugin.KindLoader, loaderName, "load", e.retry, func(ctx context.Context, name string) error {
		loader, err := e.registry.Loader(name)
		if err != nil {
			return err
		}
		loaded, err := loader.Load(ctx, sourcePath)
		if err != nil {
			return err
		}
		docs = loaded
		return nil
	})
	if err != nil {
		return nil, raggerrors.NewStageError("load", loaderName, err)
	}
	if len(docs) == 0 {
		return nil, raggerrors.NewLoadFailed(sourcePath, nil)
	}

	chunks, err := e.chunkDocuments(ctx, root, loaderName, docs)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, raggerrors.NewChunkingFailed(sourcePath)
	}

	vectors, err := e.embedChunks(ctx, root, chunks)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(chunks) {
		return nil, raggerrors.NewEmbeddingMismatch(len(chunks), len(vectors))
	}

	embeddings := make([]model.Embedding, len(chunks))
	for i := range chunks {
		embeddings[i] = model.Embedding{ID: uuid.NewString(), Chunk: chunks[i], Vector: vectors[i]}
	}

	retrieverName, err := e.stagePlugin(plugin.KindRetriever)
	if err != nil {
		return nil, err
	}
	err = e.pluginStep(ctx, root, plugin.KindRetriever, retrieverName, "store", e.retry, func(ctx context.Context, name string) error {
		retriever, err := e.registry.Retriever(name)
		if err != nil {
			return err
		}
		return retriever.Store(ctx, embeddings)
	})
	if err != nil {
		return nil, raggerrors.NewStageError("store", retrieverName, err)
	}

	return &IngestResult{
		Documents:  len(docs),
		Chunks:     len(chunks),
		Embeddings: len(embeddings),
	}, nil
}

// chunkDocuments splits documents in order. A loader exposing Chunk
// overrides the default whitespace-boundary splitter.
func (e *Executor) chunkDocuments(ctx context.Context, root *tracing.Span, loaderName string, docs []model.Document) ([]model.Chunk, error) {
	loaded, err := e.registry.Get(plugin.KindLoader, loaderName)
	if err != nil {
		return nil, err
	}
	chunker, hasChunker := loaded.(plugin.Chunker)

	span := e.tracer.StartSpan("loader.chunk", tracing.WithParent(root))
	defer span.End()

	var chunks []model.Chunk
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, raggerrors.NewCancelled("chunk", err)
		}
		if hasChunker {
			docChunks, err := chunker.Chunk(ctx, doc)
			if err != nil {
				return nil, raggerrors.NewStageError("chunk", loaderName, err)
			}
			chunks = append(chunks, docChunks...)
			continue
		}
		chunks = append(chunks, doc.Chunk(model.ChunkOptions{})...)
	}
	span.SetAttribute("chunks", len(chunks))
	return chunks, nil
}

func (e *Executor) embedChunks(ctx context.Context, root *tracing.Span, chunks []model.Chunk) ([]model.Vector, error) {
	embedderName, err := e.stagePlugin(plugin.KindEmbedder)
	if err != nil {
		return nil, err
	}

	parallel := e.cfg.Performance.Parallel
	if parallel.Enabled && len(chunks) > 1 {
		embedder, err := e.registry.Embedder(embedderName)
		if err != nil {
			return nil, err
		}
		return e.embedParallel(ctx, root, embedder, embedderName, chunks, ParallelOptions{
			BatchSize:      parallel.BatchSize,
			MaxConcurrency: parallel.MaxConcurrency,
		})
	}

	var vectors []model.Vector
	embedStart := e.clock()
	err = e.pluginStep(ctx, root, plugin.KindEmbedder, embedderName, "embed", e.retry, func(ctx context.Context, name string) error {
		embedder, err := e.registry.Embedder(name)
		if err != nil {
			return err
		}
		out, err := embedder.Embed(ctx, chunks)
		if err != nil {
			return err
		}
		vectors = out
		return nil
	})
	if err != nil {
		return nil, raggerrors.NewStageError("embed", embedderName, err)
	}

	e.metrics.EmbeddingOperations.Inc()
	metrics.ObserveDuration(e.metrics.EmbeddingDuration, e.clock().Sub(embedStart))
	return vectors, nil
}

// QueryResult carries the answer and the context it was generated from.
type QueryResult struct {
	Answer   string             `json:"answer"`
	Chunks   []model.ScoredChunk `json:"chunks"`
	Duration time.Duration      `json:"duration"`
}

// Query embeds the prompt, retrieves context, optionally reranks it, and
// generates an answer. Empty retrieval is a warning, not a failure.
func (e *Executor) Query(ctx context.Context, prompt string) (*QueryResult, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, raggerrors.NewInvalidInput("prompt", "must be a non-empty string")
	}

	ctx, cancel := e.withPipelineTimeout(ctx)
	defer cancel()

	start := e.clock()
	e.metrics.OperationsTotal.Inc()
	e.metrics.OperationsActive.Inc(1)
	defer e.metrics.OperationsActive.Dec(1)

	root := e.tracer.StartSpan("pipeline.query")
	defer root.End()
	e.events.LogStageStart("query", map[string]any{"promptLength": len(prompt)})

	result, err := e.query(ctx, root, prompt)
	elapsed := e.clock().Sub(start)
	if err != nil {
		e.metrics.OperationsFailed.Inc()
		e.metrics.RecordError(errorKind(err), "")
		root.RecordException(err)
		root.SetStatus(tracing.StatusError)
		e.events.LogStageEnd("query", elapsed, map[string]any{"error": err.Error()})
		return nil, err
	}

	result.Duration = elapsed
	e.metrics.OperationsSuccessful.Inc()
	root.SetStatus(tracing.StatusOK)
	e.events.LogStageEnd("query", elapsed, map[string]any{"chunks": len(result.Chunks)})
	return result, nil
}

func (e *Executor) query(ctx context.Context, root *tracing.Span, prompt string) (*QueryResult, error) {
	embedderName, err := e.stagePlugin(plugin.KindEmbedder)
	if err != nil {
		return nil, err
	}

	var queryVector model.Vector
	err = e.pluginStep(ctx, root, plugin.KindEmbedder, embedderName, "embedQuery", e.retry, func(ctx context.Context, name string) error {
		embedder, err := e.registry.Embedder(name)
		if err != nil {
			return err
		}
		vec, err := embedder.EmbedQuery(ctx, prompt)
		if err != nil {
			return err
		}
		queryVector = vec
		return nil
	})
	if err != nil {
		return nil, raggerrors.NewQueryEmbeddingFailed(err)
	}
	if len(queryVector) == 0 {
		return nil, raggerrors.NewQueryEmbeddingFailed(nil)
	}

	retrieverName, err := e.stagePlugin(plugin.KindRetriever)
	if err != nil {
		return nil, err
	}
	var retrieved []model.ScoredChunk
	retrieveStart := e.clock()
	err = e.pluginStep(ctx, root, plugin.KindRetriever, retrieverName, "retrieve", e.retry, func(ctx context.Context, name string) error {
		retriever, err := e.registry.Retriever(name)
		if err != nil {
			return err
		}
		out, err := retriever.Retrieve(ctx, queryVector)
		if err != nil {
			return err
		}
		retrieved = out
		return nil
	})
	if err != nil {
		return nil, raggerrors.NewStageError("retrieve", retrieverName, err)
	}
	e.metrics.RetrievalOperations.Inc()
	metrics.ObserveDuration(e.metrics.RetrievalDuration, e.clock().Sub(retrieveStart))
	e.metrics.RetrievalResults.Observe(float64(len(retrieved)))
	if len(retrieved) == 0 {
		e.events.LogWarning("retrieval.empty", "retrieval returned no context", nil)
		e.log.Warn("retrieval returned no context, generating without it")
	}

	if rerankerName, ok := e.optionalStagePlugin(plugin.KindReranker); ok && len(retrieved) > 0 {
		rerankOpts := e.retry
		rerankOpts.Retries = rerankRetries
		err = e.pluginStep(ctx, root, plugin.KindReranker, rerankerName, "rerank", rerankOpts, func(ctx context.Context, name string) error {
			reranker, err := e.registry.Reranker(name)
			if err != nil {
				return err
			}
			out, err := reranker.Rerank(ctx, prompt, retrieved)
			if err != nil {
				return err
			}
			retrieved = out
			return nil
		})
		if err != nil {
			return nil, raggerrors.NewStageError("rerank", rerankerName, err)
		}
	}

	llmName, err := e.stagePlugin(plugin.KindLLM)
	if err != nil {
		return nil, err
	}
	var answer string
	llmStart := e.clock()
	err = e.pluginStep(ctx, root, plugin.KindLLM, llmName, "generate", e.retry, func(ctx context.Context, name string) error {
		llm, err := e.registry.LLM(name)
		if err != nil {
			return err
		}
		out, err := llm.Generate(ctx, prompt, retrieved)
		if err != nil {
			return err
		}
		answer = out
		return nil
	})
	if err != nil {
		return nil, raggerrors.NewGenerationFailed(err)
	}
	e.metrics.LLMOperations.Inc()
	metrics.ObserveDuration(e.metrics.LLMDuration, e.clock().Sub(llmStart))
	if answer == "" {
		return nil, raggerrors.NewGenerationFailed(nil)
	}

	return &QueryResult{Answer: answer, Chunks: retrieved}, nil
}

// pluginStep runs one plugin call wrapped with retry, a child span, and
// start/end/error events. On retry exhaustion, a configured fallback
// plugin of the same kind gets one full attempt cycle.
func (e *Executor) pluginStep(ctx context.Context, parent *tracing.Span, kind plugin.Kind, name, op string, opts retry.Options, fn func(ctx context.Context, name string) error) error {
	run := func(pluginName string) error {
		spanName := string(kind) + "." + op
		span := e.tracer.StartSpan(spanName, tracing.WithParent(parent), tracing.WithAttributes(map[string]any{"plugin": pluginName}))
		e.events.LogPluginStart(string(kind), pluginName, nil)

		start := e.clock()
		err := retry.Do(ctx, spanName, func(ctx context.Context) error {
			return fn(ctx, pluginName)
		}, opts)
		elapsed := e.clock().Sub(start)

		if err != nil {
			e.events.LogPluginError(string(kind), pluginName, elapsed, err)
			e.metrics.RecordError(errorKind(err), pluginName)
			span.RecordException(err)
			span.SetStatus(tracing.StatusError)
			span.End()
			return err
		}
		e.events.LogPluginEnd(string(kind), pluginName, elapsed, nil)
		span.SetStatus(tracing.StatusOK)
		span.End()
		return nil
	}

	err := run(name)
	if err == nil || isCancelled(err) {
		return err
	}

	if fallback, ok := e.fallbackFor(kind, name); ok {
		e.log.WithFields(map[string]any{"plugin": name, "fallback": fallback}).
			Warn("plugin failed, switching to fallback")
		e.events.LogWarning("plugin.fallback", string(kind)+"/"+name+" failed, trying "+fallback, map[string]any{
			"plugin":   name,
			"fallback": fallback,
		})
		return run(fallback)
	}
	return err
}

// stagePlugin resolves the configured plugin name for a kind, preferring
// the pipeline stage entry and falling back to the single configured
// plugin of that kind.
func (e *Executor) stagePlugin(kind plugin.Kind) (string, error) {
	name, ok := e.optionalStagePlugin(kind)
	if !ok {
		return "", raggerrors.NewPluginNotFound(string(kind), "")
	}
	return name, nil
}

func (e *Executor) optionalStagePlugin(kind plugin.Kind) (string, bool) {
	for _, stage := range e.cfg.Pipeline.Stages {
		if stage.Stage == string(kind) && stage.Name != "" {
			return stage.Name, true
		}
	}
	// No stage entry: a lone configured plugin of the kind serves.
	for name, spec := range e.cfg.Plugins[string(kind)] {
		if spec.Enabled {
			return name, true
		}
	}
	return "", false
}

// fallbackFor looks up the configured fallback sibling for a plugin.
func (e *Executor) fallbackFor(kind plugin.Kind, name string) (string, bool) {
	spec, ok := e.cfg.Plugins[string(kind)][name]
	if !ok || spec.Fallback == "" || spec.Fallback == name {
		return "", false
	}
	return spec.Fallback, true
}

func (e *Executor) withPipelineTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.Pipeline.Timeout > 0 {
		return context.WithTimeout(ctx, time.Duration(e.cfg.Pipeline.Timeout)*time.Millisecond)
	}
	return context.WithCancel(ctx)
}

// checkMemory samples the heap and emits a warning event above the
// utilization threshold.
func (e *Executor) checkMemory() {
	e.metrics.SampleMemory()
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	if ms.HeapSys == 0 {
		return
	}
	if float64(ms.HeapAlloc)/float64(ms.HeapSys)*100 >= memoryWarnThreshold {
		e.events.LogMemoryWarning(ms.HeapAlloc, ms.HeapSys)
	}
}

func isCancelled(err error) bool {
	var ce *raggerrors.CancelledError
	return errors.As(err, &ce)
}

// errorKind reports the stable kind label for the metrics breakdown.
func errorKind(err error) string {
	return raggerrors.Kind(err)
}
