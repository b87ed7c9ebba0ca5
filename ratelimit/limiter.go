// Package ratelimit provides per-client token buckets for admission
// control of mutating operations.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"imageConverter/metrics"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed           bool
	RetryAfterSeconds float64
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter keys token buckets by client id (the edge passes the remote
// address). Idle buckets are dropped so the map stays bounded.
type Limiter struct {
	mu       sync.Mutex
	clients  map[string]*clientBucket
	refill   rate.Limit
	burst    int
	observer metrics.Observer
}

// NewLimiter builds a limiter refilling at requestsPerMinute with a burst
// capacity of burstSize tokens.
func NewLimiter(requestsPerMinute, burstSize int, observer metrics.Observer) *Limiter {
	if observer == nil {
		observer = metrics.Noop{}
	}
	return &Limiter{
		clients:  make(map[string]*clientBucket),
		refill:   rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:    burstSize,
		observer: observer,
	}
}

// Check atomically refills the client's bucket and deducts cost tokens if
// available. Denied requests get a positive retry-after hint.
func (l *Limiter) Check(clientID string, cost int) Decision {
	if cost <= 0 {
		cost = 1
	}

	l.mu.Lock()
	b, ok := l.clients[clientID]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(l.refill, l.burst)}
		l.clients[clientID] = b
	}
	b.lastSeen = time.Now()
	l.mu.Unlock()

	if b.limiter.AllowN(time.Now(), cost) {
		return Decision{Allowed: true}
	}

	// Reserve to learn the wait, then cancel so the denied request does
	// not consume future tokens.
	res := b.limiter.ReserveN(time.Now(), cost)
	retryAfter := 1.0
	if res.OK() {
		delay := res.DelayFrom(time.Now())
		res.CancelAt(time.Now())
		retryAfter = math.Max(delay.Seconds(), 0.001)
	}

	l.observer.RateLimited()
	return Decision{Allowed: false, RetryAfterSeconds: retryAfter}
}

// Cleanup removes buckets idle longer than maxIdle and returns how many
// were dropped.
func (l *Limiter) Cleanup(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for id, b := range l.clients {
		if b.lastSeen.Before(cutoff) {
			delete(l.clients, id)
			removed++
		}
	}
	return removed
}

// Start periodically drops idle buckets until done is closed.
func (l *Limiter) Start(done <-chan struct{}, interval, maxIdle time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.Cleanup(maxIdle)
			case <-done:
				return
			}
		}
	}()
}
