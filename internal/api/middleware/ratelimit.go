package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rbailey/tutorialforge/internal/api/response"
	"github.com/rbailey/tutorialforge/internal/cache"
)

const (
	defaultRequestsPerMinute = 60
	limitWindow              = time.Minute
)

// RateLimit provides per-user rate limiting via Redis. Limit covers all
// requests by a user; ForRoute adds an independent, usually stricter budget
// for a single route, counted under its own key.
type RateLimit struct {
	cache          cache.Cache
	requestsPerMin int
}

// NewRateLimit creates a new RateLimit middleware.
func NewRateLimit(c cache.Cache, requestsPerMin int) *RateLimit {
	if requestsPerMin <= 0 {
		requestsPerMin = defaultRequestsPerMinute
	}
	return &RateLimit{cache: c, requestsPerMin: requestsPerMin}
}

// Limit applies the global per-user limit.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return rl.limit("", rl.requestsPerMin, next)
}

// ForRoute returns a middleware enforcing perMin requests per minute for one
// route, independent of the global budget. name becomes part of the Redis key
// so the two counters never collide.
func (rl *RateLimit) ForRoute(name string, perMin int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return rl.limit(name, perMin, next)
	}
}

func (rl *RateLimit) limit(route string, perMin int, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := GetUserID(r)
		if !ok {
			// No user means auth middleware didn't run; pass through
			next.ServeHTTP(w, r)
			return
		}

		subject := userID.String()
		if route != "" {
			subject += ":" + route
		}
		count, err := rl.cache.IncrWithExpiry(r.Context(), cache.RateLimitKey(subject), limitWindow)
		if err != nil {
			// On Redis error, allow the request (fail open)
			next.ServeHTTP(w, r)
			return
		}

		remaining := perMin - int(count)
		if remaining < 0 {
			remaining = 0
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(perMin))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(limitWindow).Unix(), 10))

		if count > int64(perMin) {
			w.Header().Set("Retry-After", "60")
			response.Error(w, http.StatusTooManyRequests,
				"RATE_LIMIT_EXCEEDED", "Too many requests", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}
