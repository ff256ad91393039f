// Package ratelimit implements a sliding-window rate limiter with blocking.
// Identifiers are stored hashed so raw ids (emails, API keys) never sit in
// memory.
package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/ragworks/raggo/internal/logger"
)

// Options configures a Limiter. Zero fields take the defaults.
type Options struct {
	MaxAttempts     int
	Window          time.Duration
	BlockDuration   time.Duration
	CleanupInterval time.Duration
}

const (
	defaultMaxAttempts     = 5
	defaultWindow          = 15 * time.Minute
	defaultBlockDuration   = time.Hour
	defaultCleanupInterval = 5 * time.Minute
)

type record struct {
	attempts     []time.Time
	blockedUntil time.Time
}

// Decision is the outcome of an Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter tracks attempts per hashed identifier over a sliding window and
// blocks identifiers that exhaust it.
type Limiter struct {
	mu      sync.Mutex
	records map[string]*record
	opts    Options
	log     *logger.Logger
	clock   func() time.Time
	stop    chan struct{}
	once    sync.Once
}

// New creates a limiter and starts its background cleanup timer. The timer
// goroutine exits on Close and never pins the process.
func New(opts Options, log *logger.Logger) *Limiter {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.Window <= 0 {
		opts.Window = defaultWindow
	}
	if opts.BlockDuration <= 0 {
		opts.BlockDuration = defaultBlockDuration
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = defaultCleanupInterval
	}

	l := &Limiter{
		records: map[string]*record{},
		opts:    opts,
		log:     log,
		clock:   time.Now,
		stop:    make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

func hashID(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])
}

// Allow decides whether the identifier may proceed. Blocked identifiers
// are denied with the time until the block lifts; identifiers at the
// attempt ceiling are blocked; everyone else is counted and admitted.
func (l *Limiter) Allow(id string) Decision {
	key := hashID(id)
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[key]
	if !ok {
		rec = &record{}
		l.records[key] = rec
	}

	if rec.blockedUntil.After(now) {
		return Decision{Allowed: false, RetryAfter: rec.blockedUntil.Sub(now)}
	}

	cutoff := now.Add(-l.opts.Window)
	kept := rec.attempts[:0]
	for _, at := range rec.attempts {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	rec.attempts = kept

	if len(rec.attempts) >= l.opts.MaxAttempts {
		rec.blockedUntil = now.Add(l.opts.BlockDuration)
		if l.log != nil {
			l.log.WithFields(map[string]any{"blockDuration": l.opts.BlockDuration.String()}).
				Warn("identifier blocked after exceeding attempt limit")
		}
		return Decision{Allowed: false, RetryAfter: l.opts.BlockDuration}
	}

	rec.attempts = append(rec.attempts, now)
	return Decision{Allowed: true, Remaining: l.opts.MaxAttempts - len(rec.attempts)}
}

// Reset forgets the identifier entirely, clearing attempts and any block.
func (l *Limiter) Reset(id string) {
	l.mu.Lock()
	delete(l.records, hashID(id))
	l.mu.Unlock()
}

// Cleanup removes records whose block expired and whose window is empty.
func (l *Limiter) Cleanup() {
	now := l.clock()
	cutoff := now.Add(-l.opts.Window)

	l.mu.Lock()
	defer l.mu.Unlock()
	for key, rec := range l.records {
		if rec.blockedUntil.After(now) {
			continue
		}
		empty := true
		for _, at := range rec.attempts {
			if at.After(cutoff) {
				empty = false
				break
			}
		}
		if empty {
			delete(l.records, key)
		}
	}
}

// Close stops the background cleanup timer. Safe to call more than once.
func (l *Limiter) Close() {
	l.once.Do(func() { close(l.stop) })
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(l.opts.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.Cleanup()
		case <-l.stop:
			return
		}
	}
}

// Size returns the number of tracked identifiers.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
