package pipeline

import (
	"context"
	"sync"

	"github.com/ragworks/raggo/internal/metrics"
	"github.com/ragworks/raggo/internal/model"
	raggerrors "github.com/ragworks/raggo/pkg/errors"
)

const (
	defaultMaxBufferItems = 1000
	defaultMaxBufferBytes = 64 << 20
	// drainWatermark is the fraction of capacity the consumer must drain
	// to before paused producers resume.
	drainWatermark = 0.5
)

// StreamBufferOptions bounds the streaming-embedding buffer. Zero fields
// take the defaults.
type StreamBufferOptions struct {
	MaxItems int
	MaxBytes int64
}

// StreamBuffer is the bounded buffer between an embedding producer and
// its consumer. Producers block when either the item or the estimated
// byte threshold is exceeded, and resume once the consumer drains below
// the hysteresis watermark. Backpressure transitions and occupancy
// samples land in the pipeline metrics.
type StreamBuffer struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond

	items    []model.Embedding
	bytes    int64
	maxItems int
	maxBytes int64

	paused bool
	closed bool

	metrics *metrics.PipelineMetrics
}

// NewStreamBuffer creates a bounded buffer reporting into the given
// metric set; nil metrics are replaced by an isolated set.
func NewStreamBuffer(opts StreamBufferOptions, m *metrics.PipelineMetrics) *StreamBuffer {
	if opts.MaxItems <= 0 {
		opts.MaxItems = defaultMaxBufferItems
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = defaultMaxBufferBytes
	}
	if m == nil {
		m = metrics.NewPipelineMetrics()
	}
	b := &StreamBuffer{
		maxItems: opts.MaxItems,
		maxBytes: opts.MaxBytes,
		metrics:  m,
	}
	b.notFull = sync.NewCond(&b.mu)
	b.notEmpty = sync.NewCond(&b.mu)
	return b
}

// estimateSize approximates an embedding's memory footprint.
func estimateSize(e model.Embedding) int64 {
	return int64(len(e.Chunk.Text)) + int64(len(e.Vector))*4
}

// Push appends an embedding, blocking while the buffer is over threshold.
// Cancellation while blocked returns a Cancelled error.
func (b *StreamBuffer) Push(ctx context.Context, e model.Embedding) error {
	// A cond wait cannot watch a context, so cancellation wakes the wait
	// through a broadcast from this watcher.
	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.notFull.Broadcast()
		b.notEmpty.Broadcast()
		b.mu.Unlock()
	})
	defer stop()

	b.mu.Lock()
	defer b.mu.Unlock()

	for b.overThreshold() && !b.closed && ctx.Err() == nil {
		if !b.paused {
			b.paused = true
			b.metrics.BackpressureApplied.Inc()
		}
		b.notFull.Wait()
	}
	if err := ctx.Err(); err != nil {
		return raggerrors.NewCancelled("stream push", err)
	}
	if b.closed {
		return raggerrors.NewInvalidInput("stream", "buffer is closed")
	}

	b.items = append(b.items, e)
	b.bytes += estimateSize(e)
	b.metrics.BufferSize.Observe(float64(len(b.items)))
	b.notEmpty.Signal()
	return nil
}

// Pop removes the oldest embedding, blocking while the buffer is empty.
// A closed, drained buffer returns false.
func (b *StreamBuffer) Pop(ctx context.Context) (model.Embedding, bool, error) {
	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.notFull.Broadcast()
		b.notEmpty.Broadcast()
		b.mu.Unlock()
	})
	defer stop()

	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.items) == 0 && !b.closed && ctx.Err() == nil {
		b.notEmpty.Wait()
	}
	if err := ctx.Err(); err != nil {
		return model.Embedding{}, false, raggerrors.NewCancelled("stream pop", err)
	}
	if len(b.items) == 0 {
		return model.Embedding{}, false, nil
	}

	item := b.items[0]
	b.items = b.items[1:]
	b.bytes -= estimateSize(item)

	// Hysteresis: paused producers resume only after the buffer drains
	// below the watermark, not immediately below the ceiling.
	if b.paused && b.belowWatermark() {
		b.paused = false
		b.metrics.BackpressureReleased.Inc()
		b.notFull.Broadcast()
	}
	return item, true, nil
}

// Close marks the producer side finished; blocked consumers drain what
// remains and then see the closed signal.
func (b *StreamBuffer) Close() {
	b.mu.Lock()
	b.closed = true
	b.notFull.Broadcast()
	b.notEmpty.Broadcast()
	b.mu.Unlock()
}

// Len returns the current item count.
func (b *StreamBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

func (b *StreamBuffer) overThreshold() bool {
	return len(b.items) >= b.maxItems || b.bytes >= b.maxBytes
}

func (b *StreamBuffer) belowWatermark() bool {
	return float64(len(b.items)) <= float64(b.maxItems)*drainWatermark &&
		float64(b.bytes) <= float64(b.maxBytes)*drainWatermark
}
