package server

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// fakeClock lets tests move the limiter through time.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClockedLimiter(cfg RateLimitConfig) (*RateLimiter, *fakeClock) {
	rl := NewRateLimiter(cfg)
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.Local)}
	rl.now = clock.now
	return rl, clock
}

func TestNewRateLimiter(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerMinute: 30, Burst: 5, RequestsPerDay: 1000, MaxDataPerDay: 1024 * 1024})

	require.NotNil(t, rl)
	assert.Equal(t, rate.Limit(0.5), rl.limit)
	assert.Equal(t, 5, rl.burst)
	assert.Equal(t, 1000, rl.maxRequestsPerDay)
	assert.Equal(t, int64(1024*1024), rl.maxDataPerDay)
	assert.Equal(t, 30, rl.perMinute())
	assert.NotNil(t, rl.clients)
}

func TestNewRateLimiter_DefaultBurst(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerMinute: 4})
	assert.Equal(t, 4, rl.burst)

	rl = NewRateLimiter(RateLimitConfig{})
	assert.Equal(t, rate.Inf, rl.limit)
	assert.Equal(t, 1, rl.burst)
	assert.Equal(t, 0, rl.perMinute())
}

func TestRateLimiter_CheckRateLimit_NoLimits(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{})

	for i := 0; i < 50; i++ {
		require.NoError(t, rl.CheckRateLimit("user1", 100))
	}

	usage := rl.GetUsage("user1")
	assert.Equal(t, 50, usage.RequestsToday())
	assert.Equal(t, int64(5000), usage.DataToday())
}

func TestRateLimiter_CheckRateLimit_RequestsPerMinute(t *testing.T) {
	rl, _ := newClockedLimiter(RateLimitConfig{RequestsPerMinute: 2})

	require.NoError(t, rl.CheckRateLimit("user1", 0))
	require.NoError(t, rl.CheckRateLimit("user1", 0))

	err := rl.CheckRateLimit("user1", 0)
	require.Error(t, err)

	var rateLimitErr *RateLimitError
	require.True(t, errors.As(err, &rateLimitErr))
	assert.Equal(t, "minute", rateLimitErr.Type)
	assert.Equal(t, 2, rateLimitErr.Limit)
	assert.Positive(t, rateLimitErr.RetryAfter)
	assert.LessOrEqual(t, rateLimitErr.RetryAfter, 30*time.Second)

	// A rejected request is not counted.
	assert.Equal(t, 2, rl.GetUsage("user1").RequestsToday())
}

func TestRateLimiter_CheckRateLimit_Refill(t *testing.T) {
	rl, clock := newClockedLimiter(RateLimitConfig{RequestsPerMinute: 1})

	require.NoError(t, rl.CheckRateLimit("user1", 0))
	require.Error(t, rl.CheckRateLimit("user1", 0))

	clock.advance(61 * time.Second)
	assert.NoError(t, rl.CheckRateLimit("user1", 0))
}

func TestRateLimiter_CheckRateLimit_MaxRequestsPerDay(t *testing.T) {
	rl, _ := newClockedLimiter(RateLimitConfig{RequestsPerDay: 2})

	require.NoError(t, rl.CheckRateLimit("user1", 0))
	require.NoError(t, rl.CheckRateLimit("user1", 0))

	err := rl.CheckRateLimit("user1", 0)
	var quotaErr *QuotaExceededError
	require.True(t, errors.As(err, &quotaErr))
	assert.Equal(t, "requests", quotaErr.Type)
	assert.Equal(t, int64(2), quotaErr.Limit)
	assert.Equal(t, int64(2), quotaErr.Used)
	assert.Equal(t, time.Date(2024, 5, 2, 0, 0, 0, 0, time.Local), quotaErr.Resets)
}

func TestRateLimiter_CheckRateLimit_MaxDataPerDay(t *testing.T) {
	rl, _ := newClockedLimiter(RateLimitConfig{MaxDataPerDay: 1000})

	require.NoError(t, rl.CheckRateLimit("user1", 600))

	err := rl.CheckRateLimit("user1", 500)
	var quotaErr *QuotaExceededError
	require.True(t, errors.As(err, &quotaErr))
	assert.Equal(t, "data", quotaErr.Type)
	assert.Equal(t, int64(600), quotaErr.Used)

	assert.NoError(t, rl.CheckRateLimit("user1", 400))
}

func TestRateLimiter_CheckRateLimit_DayReset(t *testing.T) {
	rl, clock := newClockedLimiter(RateLimitConfig{RequestsPerDay: 1})

	require.NoError(t, rl.CheckRateLimit("user1", 0))
	require.Error(t, rl.CheckRateLimit("user1", 0))

	clock.advance(12 * time.Hour)
	assert.NoError(t, rl.CheckRateLimit("user1", 0))
	assert.Equal(t, 1, rl.GetUsage("user1").RequestsToday())
}

func TestRateLimiter_GetUsage_NonExistentUser(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{})

	usage := rl.GetUsage("nobody")
	assert.Equal(t, 0, usage.RequestsToday())
	assert.Equal(t, int64(0), usage.DataToday())
}

func TestRateLimiter_MultipleUsers(t *testing.T) {
	rl, _ := newClockedLimiter(RateLimitConfig{RequestsPerMinute: 1})

	require.NoError(t, rl.CheckRateLimit("user1", 0))
	require.NoError(t, rl.CheckRateLimit("user2", 0))

	assert.Error(t, rl.CheckRateLimit("user1", 0))
	assert.Error(t, rl.CheckRateLimit("user2", 0))
}

func TestRateLimitError_Error(t *testing.T) {
	err := &RateLimitError{Type: "minute", Limit: 10, RetryAfter: 30 * time.Second}
	assert.Equal(t, "rate limit exceeded for minute (limit: 10, retry after: 30s)", err.Error())
}

func TestQuotaExceededError_Error(t *testing.T) {
	resets := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	err := &QuotaExceededError{Type: "requests", Limit: 100, Used: 100, Resets: resets}
	assert.Equal(t, "quota exceeded for requests (used: 100, limit: 100, resets: 2024-01-02T00:00:00Z)", err.Error())
}
