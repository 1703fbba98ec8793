package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/AdalynJs/nucypher/config"
	"github.com/AdalynJs/nucypher/logging"
)

type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter manages per-client rate limiting for the node API
type RateLimiter struct {
	limiters map[string]*clientLimiter
	mu       sync.RWMutex
	config   config.RateLimitConfig
	logger   *logging.Logger
	now      func() time.Time
}

// NewRateLimiter creates a new rate limiter middleware
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*clientLimiter),
		config:   cfg,
		logger:   logging.Component("ratelimit"),
		now:      time.Now,
	}
}

// getLimiter returns or creates a rate limiter for a specific client
func (rl *RateLimiter) getLimiter(clientIP string) *rate.Limiter {
	rl.mu.RLock()
	entry, exists := rl.limiters[clientIP]
	rl.mu.RUnlock()

	if exists {
		rl.mu.Lock()
		entry.lastAccess = rl.now()
		rl.mu.Unlock()
		return entry.limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Check again in case another goroutine created it
	if entry, exists := rl.limiters[clientIP]; exists {
		entry.lastAccess = rl.now()
		return entry.limiter
	}

	// Convert requests per minute to requests per second
	ratePerSec := float64(rl.config.RequestsPerMin) / 60.0

	limiter := rate.NewLimiter(rate.Limit(ratePerSec), rl.config.Burst)
	rl.limiters[clientIP] = &clientLimiter{limiter: limiter, lastAccess: rl.now()}

	return limiter
}

// Handler returns a gin middleware rejecting clients over their limit with 429
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.config.Enabled {
			c.Next()
			return
		}

		clientIP := c.ClientIP()
		limiter := rl.getLimiter(clientIP)

		// Try to reserve a token
		reservation := limiter.Reserve()
		if !reservation.OK() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}

		delay := reservation.Delay()
		if delay > 0 {
			rl.logger.Warn("Rate limit exceeded for client %s on %s (retry in %v)",
				clientIP, c.FullPath(), delay.Round(time.Second))

			// Cancel the reservation since we're rejecting the request
			reservation.Cancel()

			c.Header("Retry-After", fmt.Sprintf("%d", int(delay.Round(time.Second).Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": FormatRateLimitError(delay)})
			return
		}

		c.Next()
	}
}

// PrintRateLimitInfo logs the current rate limit configuration
func (rl *RateLimiter) PrintRateLimitInfo(serviceName string) {
	if !rl.config.Enabled {
		rl.logger.Startup("Rate limiting: DISABLED")
		return
	}

	rl.logger.Startup(
		"Rate limiting: ENABLED - %d requests/min (burst: %d) for %s",
		rl.config.RequestsPerMin,
		rl.config.Burst,
		serviceName,
	)
}

// Cleanup removes limiters of clients not seen for maxAge and returns how
// many were dropped
func (rl *RateLimiter) Cleanup(maxAge time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-maxAge)
	removed := 0
	for ip, entry := range rl.limiters {
		if entry.lastAccess.Before(cutoff) {
			delete(rl.limiters, ip)
			removed++
		}
	}
	return removed
}

// GetCurrentLimit returns the current rate limit configuration
func (rl *RateLimiter) GetCurrentLimit() (requestsPerMin int, burst int, enabled bool) {
	return rl.config.RequestsPerMin, rl.config.Burst, rl.config.Enabled
}

// FormatRateLimitError creates a user-friendly error message for rate limit exceeded
func FormatRateLimitError(delay time.Duration) string {
	nextCallTime := time.Now().Add(delay)
	return fmt.Sprintf(
		"Rate limit exceeded. Please try again in %v (at %s)",
		delay.Round(time.Second),
		nextCallTime.Format("15:04:05 MST"),
	)
}
