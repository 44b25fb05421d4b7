package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/infermesh/infermesh/pkg/config"
)

func testLimiter(windowMs, maxRequests int) (*RateLimiter, *time.Time) {
	rl := NewRateLimiter(config.RateLimitConfig{
		Enabled:     true,
		WindowMs:    windowMs,
		MaxRequests: maxRequests,
	})
	now := time.Now()
	rl.now = func() time.Time { return now }
	return rl, &now
}

func TestRateLimiterAllowsUpToMax(t *testing.T) {
	rl, _ := testLimiter(60000, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("client-1"), "request %d should pass", i)
	}
	assert.False(t, rl.Allow("client-1"))
}

func TestRateLimiterDenialIsMonotoneWithinWindow(t *testing.T) {
	rl, now := testLimiter(60000, 2)

	assert.True(t, rl.Allow("c"))
	assert.True(t, rl.Allow("c"))

	// Once denied, every request until the reset is denied too.
	for i := 0; i < 10; i++ {
		*now = now.Add(time.Second)
		assert.False(t, rl.Allow("c"))
	}
}

func TestRateLimiterWindowReset(t *testing.T) {
	rl, now := testLimiter(1000, 1)

	assert.True(t, rl.Allow("c"))
	assert.False(t, rl.Allow("c"))

	// Exactly at the boundary the window has not elapsed yet.
	*now = now.Add(1000 * time.Millisecond)
	assert.False(t, rl.Allow("c"))

	*now = now.Add(time.Millisecond)
	assert.True(t, rl.Allow("c"))
}

func TestRateLimiterClientsAreIndependent(t *testing.T) {
	rl, _ := testLimiter(60000, 1)

	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))
}

func TestRateLimiterSweepDropsIdleClients(t *testing.T) {
	rl, now := testLimiter(1000, 5)

	assert.True(t, rl.Allow("idle"))
	assert.True(t, rl.Allow("busy"))
	assert.Equal(t, 2, rl.ClientCount())

	// idle goes quiet for more than two windows, busy keeps talking.
	*now = now.Add(2500 * time.Millisecond)
	assert.True(t, rl.Allow("busy"))
	rl.sweep()

	assert.Equal(t, 1, rl.ClientCount())

	// A swept client starts a fresh window.
	assert.True(t, rl.Allow("idle"))
}
