package pipeline

import (
	"context"
	"math"
	"time"

	"github.com/ragworks/raggo/internal/model"
	"github.com/ragworks/raggo/internal/plugin"
	raggerrors "github.com/ragworks/raggo/pkg/errors"
)

const (
	defaultMaxTokensPerBatch = 8191
	defaultMaxItemsPerBatch  = 2048
	defaultTargetUtilization = 0.85
	// adaptiveWindow is how many recent batch durations feed the adaptive
	// batch-size estimate.
	adaptiveWindow = 10
	// adaptiveTargetDuration is the wall-clock a batch is steered toward.
	adaptiveTargetDuration = 3 * time.Second
)

// EstimateTokens approximates the token count of a text for token-billed
// embedders: roughly one token per four characters, plus overhead.
func EstimateTokens(text string) int {
	return int(math.Ceil(float64(len(text))/4)) + 2
}

// TokenBatchOptions tunes the token-aware batcher.
type TokenBatchOptions struct {
	MaxTokensPerBatch int
	MaxItemsPerBatch  int
	TargetUtilization float64
	// Adaptive rescales the item cap toward a 3s wall-clock per batch
	// using the mean duration of the last ten batches.
	Adaptive bool
	// ProgressEvery emits a progress callback after this many items; zero
	// disables progress reporting.
	ProgressEvery int
	OnProgress    func(done, total int)
}

func (o TokenBatchOptions) withDefaults() TokenBatchOptions {
	if o.MaxTokensPerBatch <= 0 {
		o.MaxTokensPerBatch = defaultMaxTokensPerBatch
	}
	if o.MaxItemsPerBatch <= 0 {
		o.MaxItemsPerBatch = defaultMaxItemsPerBatch
	}
	if o.TargetUtilization <= 0 || o.TargetUtilization > 1 {
		o.TargetUtilization = defaultTargetUtilization
	}
	return o
}

// PackBatches partitions chunks greedily: items accumulate until adding
// the next one would exceed the token budget (scaled by target
// utilization) or the item cap. Order is preserved; an oversized single
// item still forms its own batch.
func PackBatches(chunks []model.Chunk, opts TokenBatchOptions) [][]model.Chunk {
	opts = opts.withDefaults()
	tokenBudget := int(float64(opts.MaxTokensPerBatch) * opts.TargetUtilization)

	var batches [][]model.Chunk
	for len(chunks) > 0 {
		n := packNext(chunks, tokenBudget, opts.MaxItemsPerBatch)
		batches = append(batches, chunks[:n])
		chunks = chunks[n:]
	}
	return batches
}

// packNext returns how many leading chunks fit in one batch. The first
// chunk always fits, even when it alone exceeds the budget.
func packNext(chunks []model.Chunk, tokenBudget, maxItems int) int {
	tokens := 0
	for i, chunk := range chunks {
		t := EstimateTokens(chunk.Text)
		if i > 0 && (tokens+t > tokenBudget || i >= maxItems) {
			return i
		}
		tokens += t
	}
	return len(chunks)
}

// EmbedTokenAware embeds chunks in token-budgeted batches, serially, with
// cancellation checked between batches. In adaptive mode the item cap is
// retuned from recent batch durations. Results preserve chunk order.
func (e *Executor) EmbedTokenAware(ctx context.Context, chunks []model.Chunk, opts TokenBatchOptions) ([]model.Vector, error) {
	opts = opts.withDefaults()

	embedderName, err := e.stagePlugin(plugin.KindEmbedder)
	if err != nil {
		return nil, err
	}
	embedder, err := e.registry.Embedder(embedderName)
	if err != nil {
		return nil, err
	}

	out := make([]model.Vector, 0, len(chunks))
	done := 0
	lastProgress := 0
	itemCeiling := opts.MaxItemsPerBatch
	tokenBudget := int(float64(opts.MaxTokensPerBatch) * opts.TargetUtilization)
	var recentDurations []time.Duration

	remaining := chunks
	for len(remaining) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, raggerrors.NewCancelled("token-aware embedding", err)
		}

		// Pack just the head batch so adaptive resizing takes effect
		// between batches without re-walking the tail.
		n := packNext(remaining, tokenBudget, opts.MaxItemsPerBatch)
		batch := remaining[:n]
		remaining = remaining[n:]

		start := e.clock()
		vectors, err := embedder.Embed(ctx, batch)
		if err != nil {
			return nil, raggerrors.NewStageError("embed", embedderName, err)
		}
		if len(vectors) != len(batch) {
			return nil, raggerrors.NewEmbeddingMismatch(len(batch), len(vectors))
		}
		out = append(out, vectors...)
		done += len(batch)
		e.metrics.EmbeddingBatches.Inc()
		for _, c := range batch {
			e.metrics.EmbeddingTokens.Add(float64(EstimateTokens(c.Text)))
		}

		if opts.Adaptive {
			recentDurations = append(recentDurations, e.clock().Sub(start))
			if len(recentDurations) > adaptiveWindow {
				recentDurations = recentDurations[len(recentDurations)-adaptiveWindow:]
			}
			opts.MaxItemsPerBatch = adaptBatchSize(len(batch), recentDurations, itemCeiling)
		}

		if opts.ProgressEvery > 0 && opts.OnProgress != nil && done-lastProgress >= opts.ProgressEvery {
			opts.OnProgress(done, len(chunks))
			lastProgress = done
		}
	}

	if opts.ProgressEvery > 0 && opts.OnProgress != nil && lastProgress < done {
		opts.OnProgress(done, len(chunks))
	}
	return out, nil
}

// adaptBatchSize rescales the item cap so the mean recent batch duration
// approaches the 3s target, clamped to [1, ceiling].
func adaptBatchSize(lastBatchItems int, recent []time.Duration, ceiling int) int {
	if len(recent) == 0 || lastBatchItems == 0 {
		return ceiling
	}
	var total time.Duration
	for _, d := range recent {
		total += d
	}
	mean := total / time.Duration(len(recent))
	if mean <= 0 {
		return ceiling
	}

	scaled := int(float64(lastBatchItems) * float64(adaptiveTargetDuration) / float64(mean))
	if scaled < 1 {
		scaled = 1
	}
	if scaled > ceiling {
		scaled = ceiling
	}
	return scaled
}
