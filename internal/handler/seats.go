package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/showgate/showgate/internal/lease"
	"github.com/showgate/showgate/internal/model"
	"github.com/showgate/showgate/internal/queue"
	"github.com/showgate/showgate/internal/repository"
	queuepublisher "github.com/showgate/showgate/internal/service"
)

// SeatHandler exposes the seat lease pool: catalog browse, the status
// batch projection, select/release, and the atomic confirm step.  All
// lease failures come back as {ok, code} result bodies with HTTP 200 so
// the client state machine can branch on code without parsing errors;
// non-200 is reserved for auth, malformed requests and infrastructure.
type SeatHandler struct {
	Leases     *lease.Manager
	ShowRepo   *repository.ShowRepo
	ResRepo    *repository.ReservationRepo
	UnlockLead time.Duration
}

// NewSeatHandler constructs a SeatHandler with the required stores.
func NewSeatHandler(leases *lease.Manager, showRepo *repository.ShowRepo, resRepo *repository.ReservationRepo, unlockLead time.Duration) *SeatHandler {
	if leases == nil || showRepo == nil || resRepo == nil {
		panic("nil dependency passed to NewSeatHandler")
	}
	return &SeatHandler{Leases: leases, ShowRepo: showRepo, ResRepo: resRepo, UnlockLead: unlockLead}
}

// ZoneSeats handles GET /v1/zones/:id/seats, the catalog projection a
// seat map is rendered from.  Lease status is deliberately absent;
// clients fetch it through the status batch, which is never cached.
func (h *SeatHandler) ZoneSeats(c echo.Context) error {
	zoneID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid zone id"})
	}
	seats, err := h.ShowRepo.ListSeatsByZone(c.Request().Context(), zoneID)
	if err != nil {
		if errors.Is(err, repository.ErrZoneNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "zone not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	items := make([]echo.Map, 0, len(seats))
	for _, s := range seats {
		items = append(items, echo.Map{"seat_id": s.ID, "seat_label": s.Label})
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// ShowZones handles GET /v1/shows/:id/zones.  Each zone reports
// whether its eligibility window has opened, applying the configured
// unlock lead, so the client can grey out RESTRICTED zones up front.
func (h *SeatHandler) ShowZones(c echo.Context) error {
	showID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid show id"})
	}
	ctx := c.Request().Context()
	if _, err := h.ShowRepo.GetByID(ctx, showID); err != nil {
		if errors.Is(err, repository.ErrShowNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "show not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	zones, err := h.ShowRepo.ListZones(ctx, showID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	now := time.Now().UTC()
	items := make([]echo.Map, 0, len(zones))
	for _, z := range zones {
		open := z.OpensAt.IsZero() || !now.Before(z.OpensAt.Add(-h.UnlockLead))
		item := echo.Map{"zone_id": z.ID, "name": z.Name, "open": open}
		if !z.OpensAt.IsZero() {
			item["opens_at"] = z.OpensAt.Format(time.RFC3339)
		}
		items = append(items, item)
	}
	return c.JSON(http.StatusOK, echo.Map{"zones": items})
}

// StatusBatch handles POST /v1/shows/:id/seats/status.  HELD_BY_ME is
// computed relative to the requesting client; seats unknown to the
// show are simply absent from the map.
func (h *SeatHandler) StatusBatch(c echo.Context) error {
	clientID, err := getClientID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	showID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid show id"})
	}
	var body struct {
		SeatIDs []uint64 `json:"seat_ids"`
	}
	if err := c.Bind(&body); err != nil || len(body.SeatIDs) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "seat_ids is required"})
	}
	statuses, err := h.Leases.StatusBatch(clientID, showID, body.SeatIDs, time.Now().UTC())
	if err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "show not found"})
	}
	return c.JSON(http.StatusOK, echo.Map{"status_by_seat_id": statuses})
}

// Select handles POST /v1/shows/:id/seats/:seat_id/select.
func (h *SeatHandler) Select(c echo.Context) error {
	clientID, err := getClientID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	showID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid show id"})
	}
	seatID, ok := pathID(c, "seat_id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid seat id"})
	}
	res := h.Leases.Select(clientID, showID, seatID, time.Now().UTC())
	return c.JSON(http.StatusOK, echo.Map{"ok": res.OK, "code": res.Code})
}

// Release handles POST /v1/shows/:id/seats/:seat_id/release.  Releasing
// a seat the client does not hold is a no-op failure, not an error, so
// the call is safe to retry.
func (h *SeatHandler) Release(c echo.Context) error {
	clientID, err := getClientID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	showID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid show id"})
	}
	seatID, ok := pathID(c, "seat_id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid seat id"})
	}
	res := h.Leases.Release(clientID, showID, seatID, time.Now().UTC())
	return c.JSON(http.StatusOK, echo.Map{"ok": res.OK, "code": res.Code})
}

// Confirm handles POST /v1/shows/:id/confirm.  On success every listed
// seat flips HELD→SOLD atomically, a reservation is persisted and a
// reservation.confirmed event goes to the broker best-effort.  Any
// verification failure returns STALE_HOLD with no state change.
func (h *SeatHandler) Confirm(c echo.Context) error {
	clientID, err := getClientID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	showID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid show id"})
	}
	var body struct {
		SeatIDs []uint64 `json:"seat_ids"`
	}
	if err := c.Bind(&body); err != nil || len(body.SeatIDs) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "seat_ids is required"})
	}
	now := time.Now().UTC()
	resID, res, err := h.Leases.Confirm(c.Request().Context(), clientID, showID, body.SeatIDs, now)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to persist reservation"})
	}
	if !res.OK {
		return c.JSON(http.StatusOK, echo.Map{"ok": false, "code": res.Code})
	}

	// Notify downstream consumers; delivery is best-effort and never
	// blocks the response.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = queuepublisher.PublishReservationConfirmed(ctx, queue.ReservationConfirmedEvent{
			ReservationID: resID,
			ClientID:      clientID,
			ShowID:        showID,
			SeatIDs:       body.SeatIDs,
			ConfirmedAt:   now.Format(time.RFC3339),
		})
	}()

	return c.JSON(http.StatusCreated, echo.Map{
		"ok":             true,
		"code":           model.CodeOK,
		"reservation_id": resID,
	})
}

// GetReservation handles GET /v1/reservations/:id, scoped to the
// owning client.  Another client's reservation reads as 404.
func (h *SeatHandler) GetReservation(c echo.Context) error {
	clientID, err := getClientID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	resID := c.Param("id")
	if resID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation id"})
	}
	res, err := h.ResRepo.GetByIDForClient(c.Request().Context(), resID, clientID)
	if err != nil {
		if errors.Is(err, repository.ErrReservationNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "reservation not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to fetch reservation"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"reservation_id": res.ID,
		"show_id":        res.ShowID,
		"seat_ids":       res.SeatIDs,
		"confirmed_at":   res.ConfirmedAt.Format(time.RFC3339),
	})
}
