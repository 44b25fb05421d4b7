package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/infermesh/infermesh/pkg/api"
	"github.com/infermesh/infermesh/pkg/config"
	"github.com/infermesh/infermesh/pkg/errdefs"
	"github.com/infermesh/infermesh/pkg/metrics"
)

// RateLimiter is a per-client fixed-window counter. The window resets only
// when it has fully elapsed, so within one window denial is monotone: once
// a client is refused it stays refused until the reset.
type RateLimiter struct {
	window time.Duration
	max    int

	mu      sync.Mutex
	clients map[string]*windowState

	now func() time.Time
}

type windowState struct {
	windowStart time.Time
	requests    int
	lastSeen    time.Time
}

// gcInterval is how often idle client windows are swept.
const gcInterval = 60 * time.Second

// NewRateLimiter builds a limiter from config.
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		window:  cfg.Window(),
		max:     cfg.MaxRequests,
		clients: make(map[string]*windowState),
		now:     time.Now,
	}
}

// Allow records one request for the client and reports whether it fits in
// the current window.
func (rl *RateLimiter) Allow(clientID string) bool {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	state, ok := rl.clients[clientID]
	if !ok {
		state = &windowState{windowStart: now}
		rl.clients[clientID] = state
	}

	if now.Sub(state.windowStart) > rl.window {
		state.windowStart = now
		state.requests = 0
	}
	state.lastSeen = now

	if state.requests >= rl.max {
		return false
	}
	state.requests++
	return true
}

// Run sweeps idle clients until the context ends. A client whose last
// request is older than two windows cannot influence any future decision,
// so its state is dropped.
func (rl *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.sweep()
		}
	}
}

func (rl *RateLimiter) sweep() {
	cutoff := rl.now().Add(-2 * rl.window)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for id, state := range rl.clients {
		if state.lastSeen.Before(cutoff) {
			delete(rl.clients, id)
		}
	}
}

// ClientCount returns the number of tracked clients.
func (rl *RateLimiter) ClientCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// RateLimitMiddleware refuses requests over the per-client budget. Clients
// are keyed by IP.
func RateLimitMiddleware(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			metrics.RateLimitedTotal.Inc()
			api.Error(c, fmt.Errorf("%w: too many requests", errdefs.ErrRateLimited))
			return
		}
		c.Next()
	}
}
