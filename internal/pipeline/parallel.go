package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/ragworks/raggo/internal/metrics"
	"github.com/ragworks/raggo/internal/model"
	"github.com/ragworks/raggo/internal/plugin"
	"github.com/ragworks/raggo/internal/retry"
	"github.com/ragworks/raggo/internal/tracing"
	raggerrors "github.com/ragworks/raggo/pkg/errors"
)

const (
	defaultBatchSize      = 10
	defaultMaxConcurrency = 3
	defaultBatchRetries   = 2
	defaultBatchDelay     = time.Second
)

// ParallelOptions tunes the batched parallel embedder. Zero fields take
// the defaults.
type ParallelOptions struct {
	BatchSize      int
	MaxConcurrency int
	RetryAttempts  int
	RetryDelay     time.Duration
	// Sleep is injectable for tests; nil uses a context-aware sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (o ParallelOptions) withDefaults() ParallelOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = defaultMaxConcurrency
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = defaultBatchRetries
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = defaultBatchDelay
	}
	if o.Sleep == nil {
		o.Sleep = retry.SleepContext
	}
	return o
}

type batchResult struct {
	index   int
	vectors []model.Vector
	err     error
}

// embedParallel embeds chunks in contiguous batches with bounded
// concurrency. Results are reassembled in original batch order regardless
// of completion order. Failed batches are retried with linearly scaled
// delays; if failed batches cover at most half the chunks the failure is
// still surfaced as PartialEmbeddingFailure after a warning, because a
// shorter result would break length and order alignment. Beyond half,
// ParallelEmbeddingFailed carries the first error.
func (e *Executor) embedParallel(ctx context.Context, root *tracing.Span, embedder plugin.Embedder, embedderName string, chunks []model.Chunk, opts ParallelOptions) ([]model.Vector, error) {
	opts = opts.withDefaults()

	var batches [][]model.Chunk
	for start := 0; start < len(chunks); start += opts.BatchSize {
		end := start + opts.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batches = append(batches, chunks[start:end])
	}

	span := e.tracer.StartSpan("embedder.embedParallel", tracing.WithParent(root), tracing.WithAttributes(map[string]any{
		"plugin":  embedderName,
		"chunks":  len(chunks),
		"batches": len(batches),
	}))
	defer span.End()
	start := e.clock()

	results := make([]batchResult, len(batches))
	semaphore := make(chan struct{}, opts.MaxConcurrency)
	var wg sync.WaitGroup
	var active int
	var activeMu sync.Mutex

	for i, batch := range batches {
		wg.Add(1)
		go func(index int, batch []model.Chunk) {
			defer wg.Done()

			select {
			case semaphore <- struct{}{}:
			case <-ctx.Done():
				results[index] = batchResult{index: index, err: raggerrors.NewCancelled("embed batch", ctx.Err())}
				return
			}
			defer func() { <-semaphore }()

			activeMu.Lock()
			active++
			e.metrics.RecordConcurrency(active)
			activeMu.Unlock()
			defer func() {
				activeMu.Lock()
				active--
				activeMu.Unlock()
			}()

			results[index] = e.embedBatch(ctx, embedder, index, batch, opts)
		}(i, batch)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, raggerrors.NewCancelled("parallel embedding", err)
	}

	var failedChunks int
	var failedBatches []int
	var firstErr error
	for _, r := range results {
		if r.err != nil {
			failedChunks += len(batches[r.index])
			failedBatches = append(failedBatches, r.index)
			if firstErr == nil {
				firstErr = r.err
			}
			if isCancelled(r.err) {
				return nil, r.err
			}
		}
	}

	e.metrics.EmbeddingBatches.Add(float64(len(batches)))
	e.metrics.EmbeddingOperations.Inc()
	for _, c := range chunks {
		e.metrics.EmbeddingTokens.Add(float64(EstimateTokens(c.Text)))
	}

	if failedChunks > 0 {
		if failedChunks*2 <= len(chunks) {
			// Half or fewer failed: warn, then fail hard so the caller never
			// sees a result misaligned with its input.
			e.events.LogWarning("embedding.partial", "some embedding batches failed", map[string]any{
				"failedChunks":  failedChunks,
				"totalChunks":   len(chunks),
				"failedBatches": failedBatches,
			})
			span.SetStatus(tracing.StatusError)
			return nil, raggerrors.NewPartialEmbedding(failedChunks, len(chunks), failedBatches, firstErr)
		}
		span.SetStatus(tracing.StatusError)
		return nil, raggerrors.NewParallelEmbedding(failedChunks, len(chunks), firstErr)
	}

	out := make([]model.Vector, 0, len(chunks))
	for _, r := range results {
		out = append(out, r.vectors...)
	}
	metrics.ObserveDuration(e.metrics.EmbeddingDuration, e.clock().Sub(start))
	span.SetStatus(tracing.StatusOK)
	return out, nil
}

// embedBatch runs one batch with linear retry delays. A result whose
// length differs from the batch length counts as a failure.
func (e *Executor) embedBatch(ctx context.Context, embedder plugin.Embedder, index int, batch []model.Chunk, opts ParallelOptions) batchResult {
	var lastErr error
	for attempt := 0; attempt <= opts.RetryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return batchResult{index: index, err: raggerrors.NewCancelled("embed batch", err)}
		}
		if attempt > 0 {
			if err := opts.Sleep(ctx, opts.RetryDelay*time.Duration(attempt)); err != nil {
				return batchResult{index: index, err: raggerrors.NewCancelled("embed batch", err)}
			}
		}

		vectors, err := embedder.Embed(ctx, batch)
		if err == nil && len(vectors) != len(batch) {
			err = raggerrors.NewEmbeddingMismatch(len(batch), len(vectors))
		}
		if err == nil {
			return batchResult{index: index, vectors: vectors}
		}
		lastErr = err
		if isCancelled(err) {
			return batchResult{index: index, err: err}
		}
	}
	return batchResult{index: index, err: lastErr}
}
