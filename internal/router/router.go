package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/showgate/showgate/internal/config"
	"github.com/showgate/showgate/internal/handler"
	"github.com/showgate/showgate/internal/middleware"
)

// RegisterRoutes registers routes that do not require authentication.
// The health check serves load balancers; the aggregate queue view and
// the leave beacon are deliberately unauthenticated: the beacon fires
// during page teardown where attaching headers is unreliable, and it
// is idempotent, so the rate limiter is its only guard.
func RegisterRoutes(e *echo.Echo, qh *handler.QueueHandler, limiter echo.MiddlewareFunc) {
	e.GET("/healthz", handler.Health)
	e.GET("/v1/queue/shows/:id", qh.QueueStatus, limiter)
	e.POST("/v1/queue/leave", qh.Leave, limiter)
}

// RegisterBrowse registers the unauthenticated catalog endpoints with
// the Redis response cache in front.  Only slow-changing catalog data
// goes through the cache; anything carrying lease or queue state must
// bypass it.
func RegisterBrowse(e *echo.Echo, sh *handler.SeatHandler, cacheCfg config.CacheConfig, rdb *redis.Client) {
	cached := middleware.ResponseCache(cacheCfg, rdb)
	e.GET("/v1/zones/:id/seats", sh.ZoneSeats, cached)
	e.GET("/v1/shows/:id/zones", sh.ShowZones, cached)
}
