// Package ratelimit provides token bucket rate limiting on top of
// golang.org/x/time/rate. The daemon uses it to cap on-demand gateway calls
// per gateway and API requests per client.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket rate limiter with an injectable clock.
type Limiter struct {
	lim *rate.Limiter
	now func() time.Time

	mu   sync.Mutex
	used time.Time
}

// New creates a limiter that refills r tokens per second up to capacity.
// The bucket starts full.
func New(r float64, capacity int) *Limiter {
	return newWithClock(r, capacity, time.Now)
}

func newWithClock(r float64, capacity int, now func() time.Time) *Limiter {
	return &Limiter{
		lim:  rate.NewLimiter(rate.Limit(r), capacity),
		now:  now,
		used: now(),
	}
}

// Allow consumes one token if available.
func (l *Limiter) Allow() bool {
	return l.AllowN(1)
}

// AllowN consumes n tokens if all of them are available.
func (l *Limiter) AllowN(n int) bool {
	now := l.now()
	l.mu.Lock()
	l.used = now
	l.mu.Unlock()
	return l.lim.AllowN(now, n)
}

// RetryAfter returns how long until one token is available. Zero means a
// call to Allow would succeed now.
func (l *Limiter) RetryAfter() time.Duration {
	tokens := l.lim.TokensAt(l.now())
	if tokens >= 1 {
		return 0
	}
	limit := float64(l.lim.Limit())
	if limit <= 0 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration((1 - tokens) / limit * float64(time.Second))
}

// Tokens returns the current number of available tokens.
func (l *Limiter) Tokens() float64 {
	return l.lim.TokensAt(l.now())
}

// idleSince reports whether the bucket is full and unused since cutoff.
func (l *Limiter) idleSince(cutoff time.Time) bool {
	l.mu.Lock()
	used := l.used
	l.mu.Unlock()
	return used.Before(cutoff) && l.lim.TokensAt(l.now()) >= float64(l.lim.Burst())
}

// KeyedLimiter keeps an independent bucket per key, such as a gateway id or
// client address. Buckets that sit full for longer than the cleanup period
// are dropped.
type KeyedLimiter struct {
	mu       sync.Mutex
	limiters map[string]*Limiter
	rate     float64
	capacity int
	cleanup  time.Duration
	now      func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewKeyed creates a per-key rate limiter and starts its cleanup loop.
func NewKeyed(perSecond float64, capacity int, cleanup time.Duration) *KeyedLimiter {
	if cleanup <= 0 {
		cleanup = 5 * time.Minute
	}
	kl := &KeyedLimiter{
		limiters: make(map[string]*Limiter),
		rate:     perSecond,
		capacity: capacity,
		cleanup:  cleanup,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
	go kl.cleanupLoop()
	return kl
}

// Close stops the cleanup loop. It is safe to call more than once.
func (kl *KeyedLimiter) Close() {
	kl.stopOnce.Do(func() { close(kl.stopCh) })
}

func (kl *KeyedLimiter) get(key string) *Limiter {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	l, ok := kl.limiters[key]
	if !ok {
		l = newWithClock(kl.rate, kl.capacity, kl.now)
		kl.limiters[key] = l
	}
	return l
}

// Allow checks if a request for the given key is allowed.
func (kl *KeyedLimiter) Allow(key string) bool {
	return kl.get(key).Allow()
}

// Check is Allow that also reports how long a rejected caller should wait.
func (kl *KeyedLimiter) Check(key string) (bool, time.Duration) {
	l := kl.get(key)
	if l.Allow() {
		return true, 0
	}
	return false, l.RetryAfter()
}

// Len returns the number of tracked keys.
func (kl *KeyedLimiter) Len() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.limiters)
}

// Prune drops buckets that have been full and idle for the cleanup period
// and returns how many were removed.
func (kl *KeyedLimiter) Prune() int {
	cutoff := kl.now().Add(-kl.cleanup)

	kl.mu.Lock()
	defer kl.mu.Unlock()
	removed := 0
	for key, l := range kl.limiters {
		if l.idleSince(cutoff) {
			delete(kl.limiters, key)
			removed++
		}
	}
	return removed
}

func (kl *KeyedLimiter) cleanupLoop() {
	ticker := time.NewTicker(kl.cleanup)
	defer ticker.Stop()
	for {
		select {
		case <-kl.stopCh:
			return
		case <-ticker.C:
			kl.Prune()
		}
	}
}
