package router

import (
	"github.com/labstack/echo/v4"

	"github.com/showgate/showgate/internal/handler"
	"github.com/showgate/showgate/internal/middleware"
)

// RegisterCheckout registers the authenticated admission-and-lease
// endpoints under /v1.  All routes require a valid session JWT with
// the CUSTOMER role; the Redis token bucket sits in front of the
// polling-heavy queue and captcha routes.
func RegisterCheckout(e *echo.Echo, qh *handler.QueueHandler, ch *handler.CaptchaHandler, sh *handler.SeatHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole("CUSTOMER"),
	)

	// Waiting room.
	g.POST("/queue/shows/:id", qh.Enqueue, limiter)
	g.GET("/queue/tickets/:id", qh.TicketStatus, limiter)

	// Bot-check gate.
	g.POST("/captcha/new", ch.New, limiter)
	g.POST("/captcha/verify", ch.Verify, limiter)

	// Seat lease pool.  Seat status is polled alongside the queue, so
	// it shares the limiter; select/release/confirm are user-paced.
	g.POST("/shows/:id/seats/status", sh.StatusBatch, limiter)
	g.POST("/shows/:id/seats/:seat_id/select", sh.Select)
	g.POST("/shows/:id/seats/:seat_id/release", sh.Release)
	g.POST("/shows/:id/confirm", sh.Confirm)
	g.GET("/reservations/:id", sh.GetReservation)
}
