package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const limiterTTL = 10 * time.Minute

type cachedLimiter struct {
	limiter   *rate.Limiter
	expiresAt time.Time
}

// RateLimit allows perMinute requests per caller with a burst of the same
// size. Callers are keyed by owner id when present, otherwise by client IP.
// The limiters live in process memory; use RedisRateLimit to share limits
// across replicas.
func RateLimit(perMinute int) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		return passthrough
	}
	var mu sync.Mutex
	limiters := make(map[string]*cachedLimiter)
	every := rate.Every(time.Minute / time.Duration(perMinute))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rateLimitKey(r)
			now := time.Now()

			mu.Lock()
			c, ok := limiters[key]
			if !ok || now.After(c.expiresAt) {
				c = &cachedLimiter{limiter: rate.NewLimiter(every, perMinute)}
				limiters[key] = c
			}
			c.expiresAt = now.Add(limiterTTL)
			if len(limiters) > 4096 {
				for k, v := range limiters {
					if now.After(v.expiresAt) {
						delete(limiters, k)
					}
				}
			}
			mu.Unlock()

			if !c.limiter.AllowN(now, 1) {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WindowCounter is the subset of the redis client the fixed-window limiter
// uses. *redis.Client satisfies it.
type WindowCounter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	TTL(ctx context.Context, key string) *redis.DurationCmd
}

// RedisRateLimit is a fixed-window limiter shared by every replica pointing
// at the same redis. Redis errors fail open.
func RedisRateLimit(rdb WindowCounter, limit int, window time.Duration, logger zerolog.Logger) func(http.Handler) http.Handler {
	if rdb == nil || limit <= 0 {
		return passthrough
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := "pdfforge:rl:" + rateLimitKey(r)

			count, err := rdb.Incr(ctx, key).Result()
			if err != nil {
				logger.Warn().Err(err).Msg("rate limit: redis unavailable")
				next.ServeHTTP(w, r)
				return
			}
			if count == 1 {
				rdb.Expire(ctx, key, window)
			}

			reset := 0
			if ttl, err := rdb.TTL(ctx, key).Result(); err == nil && ttl > 0 {
				reset = int(ttl.Seconds())
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Reset", strconv.Itoa(reset))
			if count > int64(limit) {
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Retry-After", strconv.Itoa(reset))
				writeError(w, http.StatusTooManyRequests, "rate_limited", fmt.Sprintf("limit of %d requests per %s exceeded", limit, window))
				return
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(limit-int(count)))
			next.ServeHTTP(w, r)
		})
	}
}

func passthrough(next http.Handler) http.Handler { return next }

func rateLimitKey(r *http.Request) string {
	if owner := OwnerFromContext(r.Context()); owner != nil {
		return "owner:" + *owner
	}
	return "ip:" + clientIPForRateLimit(r)
}

func clientIPForRateLimit(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		for _, part := range strings.Split(xf, ",") {
			ip := strings.TrimSpace(part)
			if ip == "" {
				continue
			}
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		if net.ParseIP(host) != nil {
			return host
		}
	} else if net.ParseIP(r.RemoteAddr) != nil {
		return r.RemoteAddr
	}

	return r.RemoteAddr
}
