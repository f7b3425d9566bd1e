// Package ratelimit implements token bucket admission control for the
// upstream API clients. The catalog service applies a much stricter limit to
// player endpoints than to the rest of its surface, so two independent
// buckets are maintained and callers select one by endpoint class. Buckets
// refill lazily: tokens are credited from elapsed wall time on each
// acquisition attempt rather than by a background goroutine.
package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Class identifies which bucket admits a request.
type Class int

const (
	// General covers catalog, search and third-party lookup endpoints.
	General Class = iota
	// Player covers the highly rate limited playback/history endpoints.
	Player
)

// Defaults mirror the catalog service's published limits.
const (
	defaultGeneralCapacity = 50
	defaultPlayerCapacity  = 10
	defaultWindow          = 30 * time.Second
	defaultPollInterval    = 100 * time.Millisecond
)

// bucket holds the refillable token balance for one endpoint class. All
// fields are guarded by mu; tokens stays within [0, capacity].
type bucket struct {
	mu       sync.Mutex
	capacity float64
	rate     float64 // tokens per second
	tokens   float64
	last     time.Time
}

func newBucket(capacity float64, window time.Duration) *bucket {
	return &bucket{
		capacity: capacity,
		rate:     capacity / window.Seconds(),
		tokens:   capacity,
		last:     time.Now(),
	}
}

// tryAcquire credits tokens for the time elapsed since the last attempt and
// debits one if the balance allows.
func (b *bucket) tryAcquire(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens = min(b.capacity, b.tokens+elapsed*b.rate)
		b.last = now
	}
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Config overrides the default bucket sizes. Zero fields keep their default.
type Config struct {
	GeneralCapacity int
	GeneralWindow   time.Duration
	PlayerCapacity  int
	PlayerWindow    time.Duration
	// PollInterval is how long an unadmitted caller sleeps before
	// rechecking the bucket.
	PollInterval time.Duration
}

// Limiter admits requests against the general and player buckets. A Limiter
// is safe for concurrent use; concurrent fan-outs serialize on the per-bucket
// mutex so the balance is never over-debited.
type Limiter struct {
	general *bucket
	player  *bucket
	poll    time.Duration
}

// New returns a Limiter with the default bucket sizes (general 50/30s,
// player 10/30s).
func New() *Limiter {
	return NewWithConfig(Config{})
}

// NewWithConfig returns a Limiter using cfg, falling back to defaults for
// zero fields.
func NewWithConfig(cfg Config) *Limiter {
	if cfg.GeneralCapacity <= 0 {
		cfg.GeneralCapacity = defaultGeneralCapacity
	}
	if cfg.PlayerCapacity <= 0 {
		cfg.PlayerCapacity = defaultPlayerCapacity
	}
	if cfg.GeneralWindow <= 0 {
		cfg.GeneralWindow = defaultWindow
	}
	if cfg.PlayerWindow <= 0 {
		cfg.PlayerWindow = defaultWindow
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &Limiter{
		general: newBucket(float64(cfg.GeneralCapacity), cfg.GeneralWindow),
		player:  newBucket(float64(cfg.PlayerCapacity), cfg.PlayerWindow),
		poll:    cfg.PollInterval,
	}
}

// Acquire blocks until one token is debited from the class bucket or ctx is
// done. The wait is a bounded sleep-and-recheck loop so a refill is observed
// within one poll interval.
func (l *Limiter) Acquire(ctx context.Context, class Class) error {
	b := l.general
	if class == Player {
		b = l.player
	}
	for {
		if b.tryAcquire(time.Now()) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.poll):
		}
	}
}

// ClassForPath maps a request path onto the bucket that governs it. Player
// endpoints live under a "/player/" segment on the catalog API.
func ClassForPath(path string) Class {
	if strings.Contains(path, "/player/") {
		return Player
	}
	return General
}
