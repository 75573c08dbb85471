// Package ratelimit bounds how fast control commands may be issued per
// client, so a misbehaving UI surface cannot hammer the coordinator.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter manages per-client token buckets
type Limiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
}

// NewLimiter creates a limiter allowing requestsPerMinute sustained
// requests per client with the given burst
func NewLimiter(requestsPerMinute, burst int) *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:    burst,
	}
}

func (l *Limiter) get(clientID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.limiters[clientID]
	if !exists {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[clientID] = limiter
	}
	return limiter
}

// Allow checks whether a request from clientID may proceed
func (l *Limiter) Allow(clientID string) bool {
	return l.get(clientID).Allow()
}

// Tokens reports the remaining burst capacity for clientID
func (l *Limiter) Tokens(clientID string) float64 {
	return l.get(clientID).Tokens()
}
