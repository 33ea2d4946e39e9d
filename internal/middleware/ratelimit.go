package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter enforces a per-API-key request budget using the same Redis
// client the cache layer's second tier talks to (fixed window, one INCR per
// request).
type RateLimiter struct {
	redis *redis.Client
}

func NewRateLimiter(client *redis.Client) *RateLimiter {
	return &RateLimiter{redis: client}
}

func (rl *RateLimiter) Limit(requestsPerMinute int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			keyID := GetAPIKeyID(r.Context())
			if keyID == "" {
				respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
				return
			}

			key := fmt.Sprintf("ratelimit:%s:%d", keyID, time.Now().Unix()/60)
			ctx := r.Context()

			count, err := rl.redis.Incr(ctx, key).Result()
			if err != nil {
				respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Rate limit check failed"})
				return
			}
			if count == 1 {
				rl.redis.Expire(ctx, key, 60*time.Second)
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(requestsPerMinute))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Unix()+60, 10))

			if count > int64(requestsPerMinute) {
				w.Header().Set("X-RateLimit-Remaining", "0")
				respondJSON(w, http.StatusTooManyRequests, map[string]string{"error": "Rate limit exceeded"})
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(int64(requestsPerMinute)-count, 10))
			next.ServeHTTP(w, r)
		})
	}
}
