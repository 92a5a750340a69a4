package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/showgate/showgate/internal/admission"
	"github.com/showgate/showgate/internal/botcheck"
	"github.com/showgate/showgate/internal/model"
)

// CaptchaHandler exposes the bot-check gate.  Both endpoints require a
// session: the challenge is bound to the caller's own ticket, so
// issuing on someone else's ticket is a 403.
type CaptchaHandler struct {
	Gate  *botcheck.Gate
	Queue *admission.Queue
}

// NewCaptchaHandler constructs a CaptchaHandler.
func NewCaptchaHandler(gate *botcheck.Gate, q *admission.Queue) *CaptchaHandler {
	if gate == nil || q == nil {
		panic("nil dependency passed to NewCaptchaHandler")
	}
	return &CaptchaHandler{Gate: gate, Queue: q}
}

// New handles POST /v1/captcha/new.  It issues a fresh challenge for
// the caller's READY ticket, invalidating any prior live one.  The
// image is returned inline; []byte marshals as base64 in JSON.
func (h *CaptchaHandler) New(c echo.Context) error {
	clientID, err := getClientID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		TicketID string `json:"ticket_id"`
	}
	if err := c.Bind(&body); err != nil || body.TicketID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "ticket_id is required"})
	}
	t, err := h.Queue.Ticket(body.TicketID)
	if err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "ticket not found"})
	}
	if t.ClientID != clientID {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	}

	ch, err := h.Gate.Issue(body.TicketID, time.Now().UTC())
	switch {
	case errors.Is(err, botcheck.ErrNotReady):
		return c.JSON(http.StatusConflict, echo.Map{"error": "ticket is not ready"})
	case errors.Is(err, botcheck.ErrTicketGone):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "ticket not found"})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to issue challenge"})
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"token":      ch.Token,
		"image":      ch.ImagePNG,
		"expires_at": ch.ExpiresAt.Format(time.RFC3339),
	})
}

// Verify handles POST /v1/captcha/verify.  The challenge is consumed
// whatever the outcome; MISMATCH and EXPIRED both mean "request a new
// challenge" and differ only for client messaging.  requeue=true tells
// the orchestrator the ready window itself is gone.
func (h *CaptchaHandler) Verify(c echo.Context) error {
	if _, err := getClientID(c); err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		Token  string `json:"token"`
		Answer string `json:"answer"`
	}
	if err := c.Bind(&body); err != nil || body.Token == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "token is required"})
	}
	out := h.Gate.Verify(body.Token, body.Answer, time.Now().UTC())
	return c.JSON(http.StatusOK, echo.Map{
		"result":  out.Result,
		"ok":      out.Result == model.VerifyOK,
		"requeue": out.Requeue,
	})
}
