package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"

	"github.com/davidcastilloc/unify-protect-events-extension-sub000/pkg/logging"
)

const defaultLimiterTTL = time.Minute

// RateLimiter hands out one token bucket per client IP. Buckets for IPs that
// go quiet expire after the idle TTL.
type RateLimiter struct {
	limit  rate.Limit
	burst  int
	ttl    time.Duration
	cache  *ttlcache.Cache[string, *rate.Limiter]
	logger logging.Logger
}

// NewRateLimiter creates a per-IP limiter allowing perSecond requests with the
// given burst. Call Start to run expiry and Stop to release it.
func NewRateLimiter(perSecond float64, burst int, logger logging.Logger) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	cache := ttlcache.New[string, *rate.Limiter](
		ttlcache.WithTTL[string, *rate.Limiter](defaultLimiterTTL),
		ttlcache.WithDisableTouchOnHit[string, *rate.Limiter](),
	)
	return &RateLimiter{
		limit:  rate.Limit(perSecond),
		burst:  burst,
		ttl:    defaultLimiterTTL,
		cache:  cache,
		logger: logger,
	}
}

// Start runs the expiry loop until Stop is called
func (rl *RateLimiter) Start() {
	rl.cache.Start()
}

// Stop ends the expiry loop
func (rl *RateLimiter) Stop() {
	rl.cache.Stop()
}

// Limiter returns the bucket for key, creating it on first use
func (rl *RateLimiter) Limiter(key string) *rate.Limiter {
	if item := rl.cache.Get(key); item != nil {
		return item.Value()
	}
	item, _ := rl.cache.GetOrSet(key, rate.NewLimiter(rl.limit, rl.burst), ttlcache.WithTTL[string, *rate.Limiter](rl.ttl))
	return item.Value()
}

// Len reports how many client buckets are live
func (rl *RateLimiter) Len() int {
	return rl.cache.Len()
}

// Middleware rejects requests over the limit with 429 and a Retry-After header
func (rl *RateLimiter) Middleware() HandlerFunc {
	return func(c Context) {
		limiter := rl.Limiter(c.ClientIP())
		res := limiter.Reserve()
		if delay := res.Delay(); delay > 0 {
			// Not proceeding, so hand the token back.
			res.Cancel()

			if rl.logger != nil {
				GetContextLogger(c, rl.logger).Warn("Rate limit exceeded")
			}

			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			c.Header("X-RateLimit-Limit", strconv.FormatFloat(float64(limiter.Limit()), 'f', -1, 64))
			c.Header("X-RateLimit-Burst", strconv.Itoa(limiter.Burst()))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, H{"error": http.StatusText(http.StatusTooManyRequests)})
			return
		}
		c.Next()
	}
}
