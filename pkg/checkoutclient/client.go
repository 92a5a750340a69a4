package checkoutclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a thin HTTP wrapper over the checkout API.  It holds no
// session state; see Session for the state machine.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New builds a Client for the given server base URL and bearer token.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// WithHTTPClient swaps the underlying http.Client, mainly for tests.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

func (c *Client) doJSON(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := ""
		if json.Unmarshal(raw, &apiErr) == nil {
			if apiErr.Error != "" {
				msg = apiErr.Error
			} else {
				msg = apiErr.Message
			}
		}
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Enqueue joins the waiting queue for a show.  Ready reports whether the
// ticket was admitted immediately.
func (c *Client) Enqueue(ctx context.Context, showID uint64) (ticketID string, ready bool, err error) {
	var out enqueueResp
	err = c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/v1/queue/shows/%d", showID), nil, &out)
	if err != nil {
		return "", false, err
	}
	return out.TicketID, out.Ready, nil
}

// TicketStatus polls a queue ticket.
func (c *Client) TicketStatus(ctx context.Context, ticketID string) (TicketStatus, error) {
	var out ticketStatusResp
	err := c.doJSON(ctx, http.MethodGet, "/v1/queue/tickets/"+ticketID, nil, &out)
	if err != nil {
		return TicketStatus{}, err
	}
	st := TicketStatus{Ready: out.Ready, State: out.State, Position: out.Position, Reason: out.Reason}
	if out.TTLSec != nil {
		st.TTL = time.Duration(*out.TTLSec) * time.Second
	}
	return st, nil
}

// QueueDepth returns the number of clients waiting for a show.
func (c *Client) QueueDepth(ctx context.Context, showID uint64) (int, error) {
	var out queueStatusResp
	err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/v1/queue/shows/%d", showID), nil, &out)
	if err != nil {
		return 0, err
	}
	return out.Waiting, nil
}

// Leave notifies the server that the client is abandoning its ticket.
// It is best effort: a short timeout is applied and all errors are
// swallowed, matching the page-close beacon it stands in for.
func (c *Client) Leave(ticketID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	body := map[string]string{"ticket_id": ticketID}
	_ = c.doJSON(ctx, http.MethodPost, "/v1/queue/leave", body, nil)
}

// NewChallenge asks for a fresh captcha bound to the ticket.  Any prior
// unanswered challenge for the ticket is invalidated server side.
func (c *Client) NewChallenge(ctx context.Context, ticketID string) (Challenge, error) {
	var out captchaNewResp
	body := map[string]string{"ticket_id": ticketID}
	err := c.doJSON(ctx, http.MethodPost, "/v1/captcha/new", body, &out)
	if err != nil {
		return Challenge{}, err
	}
	ch := Challenge{Token: out.Token, ImagePNG: out.Image}
	if t, perr := time.Parse(time.RFC3339, out.ExpiresAt); perr == nil {
		ch.Expires = t
	}
	return ch, nil
}

// VerifyChallenge submits an answer.  The token is consumed regardless
// of the outcome.
func (c *Client) VerifyChallenge(ctx context.Context, token, answer string) (VerifyResult, bool, error) {
	var out captchaVerifyResp
	body := map[string]string{"token": token, "answer": answer}
	err := c.doJSON(ctx, http.MethodPost, "/v1/captcha/verify", body, &out)
	if err != nil {
		return "", false, err
	}
	return out.Result, out.Requeue, nil
}

// SelectSeat attempts to hold a seat.
func (c *Client) SelectSeat(ctx context.Context, showID, seatID uint64) (bool, Code, error) {
	var out seatResultResp
	path := fmt.Sprintf("/v1/shows/%d/seats/%d/select", showID, seatID)
	err := c.doJSON(ctx, http.MethodPost, path, nil, &out)
	if err != nil {
		return false, "", err
	}
	return out.OK, out.Code, nil
}

// ReleaseSeat gives back a held seat.
func (c *Client) ReleaseSeat(ctx context.Context, showID, seatID uint64) (bool, Code, error) {
	var out seatResultResp
	path := fmt.Sprintf("/v1/shows/%d/seats/%d/release", showID, seatID)
	err := c.doJSON(ctx, http.MethodPost, path, nil, &out)
	if err != nil {
		return false, "", err
	}
	return out.OK, out.Code, nil
}

// SeatStatuses fetches the caller's projection of the given seats.
func (c *Client) SeatStatuses(ctx context.Context, showID uint64, seatIDs []uint64) (map[uint64]string, error) {
	var out seatStatusResp
	body := map[string][]uint64{"seat_ids": seatIDs}
	err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/v1/shows/%d/seats/status", showID), body, &out)
	if err != nil {
		return nil, err
	}
	return out.StatusBySeatID, nil
}

// Confirm commits the listed held seats into a single reservation.
func (c *Client) Confirm(ctx context.Context, showID uint64, seatIDs []uint64) (reservationID string, code Code, err error) {
	var out seatResultResp
	body := map[string][]uint64{"seat_ids": seatIDs}
	err = c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/v1/shows/%d/confirm", showID), body, &out)
	if err != nil {
		return "", "", err
	}
	if !out.OK {
		return "", out.Code, nil
	}
	return out.ReservationID, CodeOK, nil
}
