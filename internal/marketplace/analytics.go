package marketplace

import (
	"context"
	"net/http"
	"sync"
	"time"
)

const (
	analyticsBufferMax  = 1000
	analyticsBufferKeep = 500
	analyticsFlushEvery = 60 * time.Second
)

// analyticsEvent is one usage event queued for upload.
type analyticsEvent struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// analyticsBuffer batches usage events in memory. The buffer is bounded:
// on overflow the oldest half is dropped. A background flush runs every
// minute except in test mode, where no timer is started.
type analyticsBuffer struct {
	mu     sync.Mutex
	events []analyticsEvent
	client *Client
	stop   chan struct{}
	once   sync.Once
}

func newAnalyticsBuffer(client *Client, testMode bool) *analyticsBuffer {
	b := &analyticsBuffer{client: client, stop: make(chan struct{})}
	if !testMode {
		go b.flushLoop()
	}
	return b
}

func (b *analyticsBuffer) record(eventType string, metadata map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = append(b.events, analyticsEvent{
		Type:      eventType,
		Timestamp: b.client.clock(),
		Metadata:  metadata,
	})
	if len(b.events) > analyticsBufferMax {
		b.events = b.events[len(b.events)-analyticsBufferKeep:]
	}
}

func (b *analyticsBuffer) pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// flush uploads queued events and clears the buffer. Upload failures put
// the events back so the next flush retries them.
func (b *analyticsBuffer) flush(ctx context.Context) {
	b.mu.Lock()
	batch := b.events
	b.events = nil
	b.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	body := map[string]any{"events": batch}
	if _, err := b.client.doRequest(ctx, http.MethodPost, "/analytics", nil, body); err != nil {
		b.client.log.WithFields(map[string]any{"events": len(batch)}).Warn("analytics flush failed, requeueing")
		b.mu.Lock()
		b.events = append(batch, b.events...)
		if len(b.events) > analyticsBufferMax {
			b.events = b.events[len(b.events)-analyticsBufferKeep:]
		}
		b.mu.Unlock()
	}
}

func (b *analyticsBuffer) flushLoop() {
	ticker := time.NewTicker(analyticsFlushEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.flush(context.Background())
		case <-b.stop:
			return
		}
	}
}

// close stops the flush loop and makes a final flush attempt so queued
// events are not silently dropped.
func (b *analyticsBuffer) close() {
	b.once.Do(func() {
		close(b.stop)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		b.flush(ctx)
	})
}
