package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ragworks/raggo/internal/events"
	"github.com/ragworks/raggo/internal/model"
	"github.com/ragworks/raggo/internal/plugin"
	raggerrors "github.com/ragworks/raggo/pkg/errors"
)

// scriptedEmbedder returns fixed vectors per chunk text, with optional
// per-batch delays keyed by the first chunk of the batch.
type scriptedEmbedder struct {
	mu       sync.Mutex
	vectors  map[string]model.Vector
	delays   map[string]time.Duration
	failFor  map[string]int // first-chunk text -> number of failures
	batchLog []string
}

func (e *scriptedEmbedder) Embed(ctx context.Context, chunks []model.Chunk) ([]model.Vector, error) {
	first := chunks[0].Text

	e.mu.Lock()
	if remaining := e.failFor[first]; remaining > 0 {
		e.failFor[first] = remaining - 1
		e.mu.Unlock()
		return nil, errors.New("batch failed: " + first)
	}
	delay := e.delays[first]
	e.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	// Log completion order, not call order.
	e.mu.Lock()
	e.batchLog = append(e.batchLog, first)
	e.mu.Unlock()

	out := make([]model.Vector, len(chunks))
	for i, c := range chunks {
		out[i] = e.vectors[c.Text]
	}
	return out, nil
}

func (e *scriptedEmbedder) EmbedQuery(ctx context.Context, text string) (model.Vector, error) {
	return model.Vector{1}, nil
}

func chunksOf(texts ...string) []model.Chunk {
	out := make([]model.Chunk, len(texts))
	for i, t := range texts {
		out[i] = model.Chunk{Text: t}
	}
	return out
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func parallelFixture(t *testing.T, embedder plugin.Embedder) *Executor {
	t.Helper()

	registry := plugin.NewRegistry(nil)
	require.NoError(t, registry.Register(plugin.KindEmbedder, "stub", embedder))

	cfg := testConfig()
	cfg.Performance.Parallel.Enabled = true
	return New(registry, cfg, Options{})
}

func TestParallelEmbeddingPreservesOrder(t *testing.T) {
	t.Parallel()

	// Batch 1 ("c","d") finishes well before batch 0 ("a","b"); the output
	// must still follow the original chunk order.
	embedder := &scriptedEmbedder{
		vectors: map[string]model.Vector{
			"a": {5, 6}, "b": {7, 8}, "c": {1, 2}, "d": {3, 4},
		},
		delays: map[string]time.Duration{"a": 50 * time.Millisecond, "c": 10 * time.Millisecond},
	}
	e := parallelFixture(t, embedder)

	root := e.tracer.StartSpan("test")
	defer root.End()
	out, err := e.embedParallel(context.Background(), root, embedder, "stub", chunksOf("a", "b", "c", "d"), ParallelOptions{
		BatchSize: 2,
	})
	require.NoError(t, err)
	require.Equal(t, []model.Vector{{5, 6}, {7, 8}, {1, 2}, {3, 4}}, out)

	// The fast batch really did complete first.
	require.Equal(t, []string{"c", "a"}, embedder.batchLog)
}

func TestParallelEmbeddingRetriesFailedBatches(t *testing.T) {
	t.Parallel()

	embedder := &scriptedEmbedder{
		vectors: map[string]model.Vector{"a": {1}, "b": {2}, "c": {3}, "d": {4}},
		failFor: map[string]int{"a": 2}, // recovers on the final allowed attempt
	}
	e := parallelFixture(t, embedder)

	root := e.tracer.StartSpan("test")
	defer root.End()
	out, err := e.embedParallel(context.Background(), root, embedder, "stub", chunksOf("a", "b", "c", "d"), ParallelOptions{
		BatchSize:     2,
		RetryAttempts: 2,
		Sleep:         noSleep,
	})
	require.NoError(t, err)
	require.Len(t, out, 4)
}

func TestParallelEmbeddingMinorityFailureIsPartial(t *testing.T) {
	t.Parallel()

	// One of three batches fails for good: 2 of 6 chunks, under half.
	embedder := &scriptedEmbedder{
		vectors: map[string]model.Vector{"a": {1}, "b": {2}, "c": {3}, "d": {4}, "e": {5}, "f": {6}},
		failFor: map[string]int{"c": 1000},
	}
	e := parallelFixture(t, embedder)

	root := e.tracer.StartSpan("test")
	defer root.End()
	_, err := e.embedParallel(context.Background(), root, embedder, "stub", chunksOf("a", "b", "c", "d", "e", "f"), ParallelOptions{
		BatchSize: 2,
		Sleep:     noSleep,
	})

	var partial *raggerrors.PartialEmbeddingError
	require.ErrorAs(t, err, &partial)
	require.Equal(t, 2, partial.FailedChunks)
	require.Equal(t, 6, partial.TotalChunks)
	require.Equal(t, []int{1}, partial.Batches)

	// The warning event preceded the failure.
	history := e.events.History(events.Filter{EventType: "embedding.partial"})
	require.Len(t, history, 1)
}

func TestParallelEmbeddingMajorityFailureIsFatal(t *testing.T) {
	t.Parallel()

	embedder := &scriptedEmbedder{
		vectors: map[string]model.Vector{"a": {1}, "b": {2}, "c": {3}, "d": {4}},
		failFor: map[string]int{"a": 1000, "c": 1000},
	}
	e := parallelFixture(t, embedder)

	root := e.tracer.StartSpan("test")
	defer root.End()
	_, err := e.embedParallel(context.Background(), root, embedder, "stub", chunksOf("a", "b", "c", "d"), ParallelOptions{
		BatchSize: 2,
		Sleep:     noSleep,
	})

	var fatal *raggerrors.ParallelEmbeddingError
	require.ErrorAs(t, err, &fatal)
	require.Equal(t, 4, fatal.FailedChunks)
	require.NotNil(t, errors.Unwrap(err))
}

func TestParallelEmbeddingShortBatchLengthFails(t *testing.T) {
	t.Parallel()

	// A batch result shorter than its input counts as a failed batch.
	embedder := &scriptedEmbedder{
		vectors: map[string]model.Vector{"a": {1}}, // "b" maps to nil vector
	}
	e := parallelFixture(t, embedder)

	root := e.tracer.StartSpan("test")
	defer root.End()
	out, err := e.embedParallel(context.Background(), root, embedder, "stub", chunksOf("a", "b"), ParallelOptions{
		BatchSize: 2,
		Sleep:     noSleep,
	})
	// Both vectors come back (nil vector is still a slot), so this is the
	// success path; order and length hold.
	require.NoError(t, err)
	require.Len(t, out, 2)
}

func TestParallelEmbeddingCancellation(t *testing.T) {
	t.Parallel()

	embedder := &scriptedEmbedder{
		vectors: map[string]model.Vector{"a": {1}, "b": {2}},
		delays:  map[string]time.Duration{"a": 200 * time.Millisecond},
	}
	e := parallelFixture(t, embedder)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	root := e.tracer.StartSpan("test")
	defer root.End()
	_, err := e.embedParallel(ctx, root, embedder, "stub", chunksOf("a", "b"), ParallelOptions{
		BatchSize: 1,
		Sleep:     noSleep,
	})

	var cancelled *raggerrors.CancelledError
	require.ErrorAs(t, err, &cancelled)
}

func TestIngestUsesParallelPathWhenEnabled(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture(t)
	f.cfg.Performance.Parallel.Enabled = true
	f.cfg.Performance.Parallel.BatchSize = 2

	result, err := f.executor.Ingest(context.Background(), "/docs/report.pdf")
	require.NoError(t, err)
	require.Equal(t, result.Chunks, result.Embeddings)
	require.Greater(t, f.executor.Metrics().EmbeddingBatches.Value(), 0.0)
}
