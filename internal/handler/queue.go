package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/showgate/showgate/internal/admission"
	"github.com/showgate/showgate/internal/lease"
	"github.com/showgate/showgate/internal/model"
)

// QueueHandler exposes the virtual waiting room: enqueue, the ~2s
// status poll, aggregate queue stats and the leave beacon.  All timing
// in responses is server-authoritative; clients render the returned
// ttl_sec but never act on their own countdowns.
type QueueHandler struct {
	Queue  *admission.Queue
	Leases *lease.Manager
}

// NewQueueHandler constructs a QueueHandler.
func NewQueueHandler(q *admission.Queue, leases *lease.Manager) *QueueHandler {
	if q == nil {
		panic("nil admission queue passed to NewQueueHandler")
	}
	return &QueueHandler{Queue: q, Leases: leases}
}

// Enqueue handles POST /v1/queue/shows/:id.  It creates a ticket for
// the authenticated client, failing with 409 when a non-terminal
// ticket already exists and 404 for unknown shows.  The response
// includes the ticket id the client polls with; when a permit was
// immediately free the ticket is already READY.
func (h *QueueHandler) Enqueue(c echo.Context) error {
	clientID, err := getClientID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	showID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid show id"})
	}
	now := time.Now().UTC()
	t, err := h.Queue.Enqueue(clientID, showID, now)
	switch {
	case errors.Is(err, admission.ErrShowNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "show not found"})
	case errors.Is(err, admission.ErrAlreadyQueued):
		return c.JSON(http.StatusConflict, echo.Map{"error": "already queued for this show"})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "enqueue failed"})
	}
	waiting, _, _, _ := h.Queue.QueueStatus(showID, now)
	return c.JSON(http.StatusCreated, echo.Map{
		"queued":    true,
		"ticket_id": t.ID,
		"ready":     t.State == model.TicketReady,
		"waiting":   waiting,
	})
}

// TicketStatus handles GET /v1/queue/tickets/:id, the polling endpoint.
// position is the 0-based rank among WAITING tickets and null once
// READY; ttl_sec is the remaining ready window and null while WAITING.
// A terminal ticket reports its state with a requeue reason so the
// client can explain the redirect back to the waiting room.
func (h *QueueHandler) TicketStatus(c echo.Context) error {
	clientID, err := getClientID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ticketID := c.Param("id")
	t, err := h.Queue.Ticket(ticketID)
	if err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "ticket not found"})
	}
	if t.ClientID != clientID {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	}
	st, err := h.Queue.Status(ticketID, time.Now().UTC())
	if err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "ticket not found"})
	}
	resp := echo.Map{
		"ready":    st.Ready,
		"state":    st.State,
		"position": st.Position,
		"ttl_sec":  st.TTLSec,
	}
	if st.State == model.TicketExpired {
		resp["reason"] = "expired"
	} else if st.State == model.TicketLeft {
		resp["reason"] = "requeue"
	}
	return c.JSON(http.StatusOK, resp)
}

// QueueStatus handles GET /v1/queue/shows/:id, the aggregate view used
// by the waiting-room page: clients WAITING, permits free and clients
// served so far.
func (h *QueueHandler) QueueStatus(c echo.Context) error {
	showID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid show id"})
	}
	waiting, permits, served, err := h.Queue.QueueStatus(showID, time.Now().UTC())
	if err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "show not found"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"waiting":           waiting,
		"available_permits": permits,
		"served":            served,
	})
}

// Leave handles POST /v1/queue/leave.  The route is unauthenticated
// and fully idempotent because the signal usually arrives as a
// fire-and-forget beacon during page teardown; duplicates, retries and
// already-expired tickets all land on 204.  The client's seat holds
// are released along with the permit so the pool recovers immediately
// instead of waiting for the TTL sweep.
func (h *QueueHandler) Leave(c echo.Context) error {
	var body struct {
		TicketID string `json:"ticket_id"`
	}
	if err := c.Bind(&body); err != nil || body.TicketID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "ticket_id is required"})
	}
	now := time.Now().UTC()
	if t, err := h.Queue.Ticket(body.TicketID); err == nil && h.Leases != nil {
		h.Leases.ReleaseAll(t.ClientID, t.ShowID, now)
	}
	_ = h.Queue.Leave(body.TicketID, now)
	return c.NoContent(http.StatusNoContent)
}
