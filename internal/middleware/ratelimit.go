package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/showgate/showgate/internal/config"
)

// tokenBucket is the limiter state machine, executed atomically inside
// Redis so every API instance shares one bucket per key.
var tokenBucket = redis.NewScript(`
	local key = KEYS[1]
	local now_ms = tonumber(ARGV[1])
	local capacity = tonumber(ARGV[2])
	local refill_tokens = tonumber(ARGV[3])
	local interval_ms = tonumber(ARGV[4])
	local ttl_seconds = tonumber(ARGV[5])

	local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
	local tokens = tonumber(state[1])
	local last_refill = tonumber(state[2])

	if tokens == nil or last_refill == nil then
		tokens = capacity
		last_refill = now_ms
	end

	if interval_ms > 0 and refill_tokens > 0 then
		local elapsed = math.max(0, now_ms - last_refill)
		local intervals = math.floor(elapsed / interval_ms)
		if intervals > 0 then
			tokens = math.min(capacity, tokens + (intervals * refill_tokens))
			last_refill = last_refill + (intervals * interval_ms)
		end
	end

	local allowed = 0
	local retry_after_ms = 0
	if tokens > 0 then
		allowed = 1
		tokens = tokens - 1
	else
		local until_next = interval_ms - (now_ms - last_refill)
		if until_next < 0 then until_next = 0 end
		retry_after_ms = until_next
	end

	redis.call('HMSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
	redis.call('EXPIRE', key, ttl_seconds)

	return { allowed, tokens, retry_after_ms }
`)

// NewTokenBucket returns a Redis-backed token-bucket limiter.  With a
// nil Redis client or limiting disabled it degrades to a pass-through:
// the admission queue itself is the real throttle, the limiter only
// keeps impolite pollers from burning CPU.  Redis errors also fail
// open for the same reason.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error { return next(c) }
		}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := rateKey(cfg, c)
			now := time.Now()
			args := []interface{}{
				now.UnixMilli(),
				cfg.Capacity,
				cfg.RefillTokens,
				cfg.RefillInterval.Milliseconds(),
				int64(cfg.TTL / time.Second),
			}

			vals, err := tokenBucket.Run(c.Request().Context(), rdb, []string{key}, args...).Result()
			if err != nil {
				return next(c)
			}

			allowed, remaining, retryMs := parseBucketReply(vals)
			c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
			c.Response().Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
			if allowed {
				return next(c)
			}

			retry := time.Duration(retryMs) * time.Millisecond
			c.Response().Header().Set("Retry-After", strconv.Itoa(int(retry.Round(time.Second)/time.Second)))
			return c.JSON(http.StatusTooManyRequests, echo.Map{
				"error":       "rate limited",
				"retry_after": retry.Seconds(),
			})
		}
	}
}

// rateKey buckets by route plus the authenticated client when one is
// known, falling back to the remote IP for unauthenticated paths such
// as the leave beacon.
func rateKey(cfg config.RateLimitConfig, c echo.Context) string {
	who := clientIdentity(c)
	switch cfg.KeyStrategy {
	case "client_route":
		return fmt.Sprintf("%s:%s:%s", cfg.Prefix, who, c.Path())
	default: // ip_client_route
		return fmt.Sprintf("%s:%s:%s:%s", cfg.Prefix, c.RealIP(), who, c.Path())
	}
}

// clientIdentity renders the client_id claim stored by JWTAuth, or
// "guest" when the route is unauthenticated.
func clientIdentity(c echo.Context) string {
	switch v := c.Get("client_id").(type) {
	case string:
		if v != "" {
			return v
		}
	case float64:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	}
	return "guest"
}

func parseBucketReply(vals interface{}) (allowed bool, remaining, retryMs int64) {
	arr, ok := vals.([]interface{})
	if !ok || len(arr) < 3 {
		return true, 0, 0
	}
	toInt := func(v interface{}) int64 {
		if n, ok := v.(int64); ok {
			return n
		}
		return 0
	}
	return toInt(arr[0]) == 1, toInt(arr[1]), toInt(arr[2])
}
