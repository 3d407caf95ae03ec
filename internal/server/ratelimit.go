package server

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter applies a token bucket per client plus daily request and data quotas.
type RateLimiter struct {
	mu sync.Mutex

	limit rate.Limit
	burst int

	maxRequestsPerDay int
	maxDataPerDay     int64 // in bytes

	clients map[string]*UserUsage
	now     func() time.Time
}

// UserUsage tracks usage for a specific client.
type UserUsage struct {
	limiter *rate.Limiter

	requestsToday int
	dataToday     int64

	lastRequestTime time.Time
	dayStartTime    time.Time
}

// RequestsToday returns the number of admitted requests since midnight.
func (u *UserUsage) RequestsToday() int { return u.requestsToday }

// DataToday returns the number of admitted bytes since midnight.
func (u *UserUsage) DataToday() int64 { return u.dataToday }

// NewRateLimiter creates a rate limiter with the given limits.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = max(1, cfg.RequestsPerMinute)
	}
	return &RateLimiter{
		limit:             limit,
		burst:             burst,
		maxRequestsPerDay: cfg.RequestsPerDay,
		maxDataPerDay:     cfg.MaxDataPerDay,
		clients:           make(map[string]*UserUsage),
		now:               time.Now,
	}
}

// CheckRateLimit checks if a request from the given client is allowed and
// records it when it is.
func (rl *RateLimiter) CheckRateLimit(userID string, dataSize int64) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	usage := rl.getOrCreateUserUsage(userID, now)
	rl.resetDayIfNeeded(usage, now)

	if err := rl.checkDailyQuotas(usage, dataSize, now); err != nil {
		return err
	}

	r := usage.limiter.ReserveN(now, 1)
	if !r.OK() {
		return &RateLimitError{Type: "minute", Limit: rl.perMinute(), RetryAfter: time.Minute}
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return &RateLimitError{Type: "minute", Limit: rl.perMinute(), RetryAfter: delay}
	}

	usage.requestsToday++
	usage.dataToday += dataSize
	usage.lastRequestTime = now
	return nil
}

func (rl *RateLimiter) perMinute() int {
	if rl.limit == rate.Inf {
		return 0
	}
	return int(float64(rl.limit)*60 + 0.5)
}

// resetDayIfNeeded resets the daily counters when the calendar day changes.
func (rl *RateLimiter) resetDayIfNeeded(usage *UserUsage, now time.Time) {
	y1, m1, d1 := now.Date()
	y2, m2, d2 := usage.dayStartTime.Date()
	if y1 != y2 || m1 != m2 || d1 != d2 {
		usage.requestsToday = 0
		usage.dataToday = 0
		usage.dayStartTime = now
	}
}

// checkDailyQuotas checks daily request and data quotas.
func (rl *RateLimiter) checkDailyQuotas(usage *UserUsage, dataSize int64, now time.Time) error {
	resets := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())

	if rl.maxRequestsPerDay > 0 && usage.requestsToday >= rl.maxRequestsPerDay {
		return &QuotaExceededError{
			Type:   "requests",
			Limit:  int64(rl.maxRequestsPerDay),
			Used:   int64(usage.requestsToday),
			Resets: resets,
		}
	}

	if rl.maxDataPerDay > 0 && usage.dataToday+dataSize > rl.maxDataPerDay {
		return &QuotaExceededError{
			Type:   "data",
			Limit:  rl.maxDataPerDay,
			Used:   usage.dataToday,
			Resets: resets,
		}
	}
	return nil
}

// getOrCreateUserUsage gets or creates usage tracking for a client.
func (rl *RateLimiter) getOrCreateUserUsage(userID string, now time.Time) *UserUsage {
	usage, exists := rl.clients[userID]
	if !exists {
		usage = &UserUsage{
			limiter:         rate.NewLimiter(rl.limit, rl.burst),
			lastRequestTime: now,
			dayStartTime:    now,
		}
		rl.clients[userID] = usage
	}
	return usage
}

// GetUsage returns a snapshot of the usage of a client.
func (rl *RateLimiter) GetUsage(userID string) *UserUsage {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if usage, exists := rl.clients[userID]; exists {
		return &UserUsage{
			requestsToday:   usage.requestsToday,
			dataToday:       usage.dataToday,
			lastRequestTime: usage.lastRequestTime,
			dayStartTime:    usage.dayStartTime,
		}
	}
	return &UserUsage{}
}

// RateLimitError represents a rate limit violation.
type RateLimitError struct {
	Type       string        // "minute"
	Limit      int           // requests per minute
	RetryAfter time.Duration // how long to wait before retrying
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (limit: %d, retry after: %v)", e.Type, e.Limit, e.RetryAfter)
}

// QuotaExceededError represents a quota violation.
type QuotaExceededError struct {
	Type   string    // "requests" or "data"
	Limit  int64     // the limit that was exceeded
	Used   int64     // current usage
	Resets time.Time // when the quota resets
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s (used: %d, limit: %d, resets: %s)",
		e.Type, e.Used, e.Limit, e.Resets.Format(time.RFC3339))
}
