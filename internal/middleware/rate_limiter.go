package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gemxhub/backend/internal/config"
	"github.com/gemxhub/backend/internal/utils"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// idleLimiterTTL is how long an unused limiter is kept
const idleLimiterTTL = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterSet keeps one token bucket per key
type limiterSet struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	limit    rate.Limit
	burst    int
}

func newLimiterSet(limit rate.Limit, burst int) *limiterSet {
	return &limiterSet{limiters: make(map[string]*limiterEntry), limit: limit, burst: burst}
}

func (s *limiterSet) allow(key string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (s *limiterSet) evictIdle(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, entry := range s.limiters {
		if now.Sub(entry.lastSeen) > idleLimiterTTL {
			delete(s.limiters, key)
		}
	}
}

// RateLimiter implements rate limiting for API endpoints
type RateLimiter struct {
	ip   *limiterSet
	auth *limiterSet

	cleanupTicker *time.Ticker
	done          chan struct{}
	stopOnce      sync.Once
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		ip:            newLimiterSet(rate.Limit(cfg.IPRequestsPerSecond), cfg.IPBurst),
		auth:          newLimiterSet(rate.Limit(cfg.AuthRequestsPerMinute/60), cfg.AuthBurst),
		cleanupTicker: time.NewTicker(time.Minute),
		done:          make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

func (rl *RateLimiter) cleanup() {
	for {
		select {
		case now := <-rl.cleanupTicker.C:
			rl.ip.evictIdle(now)
			rl.auth.evictIdle(now)
		case <-rl.done:
			return
		}
	}
}

// Stop stops the rate limiter cleanup
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		rl.cleanupTicker.Stop()
		close(rl.done)
	})
}

// IPRateLimiterMiddleware limits requests based on IP address
func (rl *RateLimiter) IPRateLimiterMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.ip.allow(c.ClientIP(), time.Now()) {
			tooManyRequests(c, "rate limit exceeded")
			return
		}
		c.Next()
	}
}

// AuthRateLimiterMiddleware also limits attempts per (IP, email) so one
// account cannot be brute forced from a single address
func (rl *RateLimiter) AuthRateLimiterMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		now := time.Now()

		if !rl.ip.allow(ip, now) {
			tooManyRequests(c, "rate limit exceeded")
			return
		}

		if c.Request.Method == http.MethodPost && c.Request.Body != nil {
			body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
			if err == nil {
				c.Request.Body = io.NopCloser(bytes.NewReader(body))

				var requestBody struct {
					Email string `json:"email"`
				}
				if json.Unmarshal(body, &requestBody) == nil && requestBody.Email != "" {
					key := ip + ":" + strings.ToLower(strings.TrimSpace(requestBody.Email))
					if !rl.auth.allow(key, now) {
						tooManyRequests(c, "too many authentication attempts, please try again later")
						return
					}
				}
			}
		}

		c.Next()
	}
}

func tooManyRequests(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, utils.ErrorResponse{Error: msg, Code: "RATE_LIMITED"})
}
