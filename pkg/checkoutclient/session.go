package checkoutclient

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultPollInterval is the queue polling cadence.
const DefaultPollInterval = 2 * time.Second

// Session drives one client through a show's checkout flow.  It owns
// the ticket, the current challenge and the set of locally known holds,
// and advances a state machine from IDLE to CONFIRMED.  The server is
// authoritative for every deadline; the session only mirrors what the
// last poll reported.
//
// Session is safe for concurrent use, though the intended shape is one
// goroutine running Run and another reacting to State transitions.
type Session struct {
	api          *Client
	showID       uint64
	pollInterval time.Duration

	mu        sync.Mutex
	state     State
	ticketID  string
	challenge Challenge
	holds     map[uint64]struct{}
	ttl       time.Duration
	position  *int
	reason    string
}

// SessionOption customizes a Session.
type SessionOption func(*Session)

// WithPollInterval overrides the default 2s queue poll cadence.
func WithPollInterval(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// NewSession builds an IDLE session for one show.
func NewSession(api *Client, showID uint64, opts ...SessionOption) *Session {
	s := &Session{
		api:          api,
		showID:       showID,
		pollInterval: DefaultPollInterval,
		state:        StateIdle,
		holds:        make(map[uint64]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// State returns the current machine position.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// TicketID returns the queue ticket id, empty while IDLE.
func (s *Session) TicketID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticketID
}

// Position returns the last reported 0-based queue rank, nil once
// admitted.
func (s *Session) Position() *int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

// TTL returns the remaining ready window as of the last poll.
func (s *Session) TTL() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ttl
}

// RequeueReason reports why the last ticket was invalidated, if it was.
func (s *Session) RequeueReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Holds returns the seat ids the session believes it holds.
func (s *Session) Holds() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint64, 0, len(s.holds))
	for id := range s.holds {
		out = append(out, id)
	}
	return out
}

// Join enqueues for the show.  The session moves to QUEUED, or straight
// to READY when a permit was free.
func (s *Session) Join(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrWrongState
	}
	s.mu.Unlock()

	ticketID, ready, err := s.api.Enqueue(ctx, s.showID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticketID = ticketID
	s.reason = ""
	if ready {
		s.state = StateReady
	} else {
		s.state = StateQueued
	}
	return nil
}

// Poll fetches the ticket status once and reconciles local state with
// it.  It returns ErrRequeued when the server invalidated the ticket.
func (s *Session) Poll(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateIdle || s.state == StateConfirmed {
		s.mu.Unlock()
		return ErrWrongState
	}
	ticketID := s.ticketID
	s.mu.Unlock()

	st, err := s.api.TicketStatus(ctx, ticketID)
	if err != nil {
		var ae *APIError
		if asAPIError(err, &ae) && ae.Status == 404 {
			// Ticket destroyed after its grace period.
			return s.requeue("expired")
		}
		return err
	}
	return s.reconcile(st)
}

// Run polls until the session confirms, is invalidated, or ctx ends.
// Transport errors are swallowed until the next tick, so a blip in
// connectivity does not tear down the session.
func (s *Session) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			err := s.Poll(ctx)
			switch {
			case err == nil:
			case errors.Is(err, ErrRequeued):
				return err
			case errors.Is(err, ErrWrongState):
				if s.State() == StateConfirmed {
					return nil
				}
				return err
			}
		}
	}
}

// reconcile applies a server status to the machine.  The server value
// always wins: a locally optimistic SELECTING drops back to IDLE the
// moment the server reports the ticket gone.
func (s *Session) reconcile(st TicketStatus) error {
	s.mu.Lock()

	s.ttl = st.TTL
	s.position = st.Position

	switch st.State {
	case "EXPIRED", "LEFT":
		reason := st.Reason
		if reason == "" {
			reason = "requeue"
		}
		s.mu.Unlock()
		return s.requeue(reason)
	}

	if st.Ready && s.state == StateQueued {
		s.state = StateReady
	}
	s.mu.Unlock()
	return nil
}

// requeue resets to IDLE, discarding the ticket, challenge and every
// local hold.  The server has already reclaimed them.
func (s *Session) requeue(reason string) error {
	s.mu.Lock()
	s.state = StateIdle
	s.ticketID = ""
	s.challenge = Challenge{}
	s.holds = make(map[uint64]struct{})
	s.ttl = 0
	s.position = nil
	s.reason = reason
	s.mu.Unlock()
	return ErrRequeued
}

// BeginVerification requests a captcha for the READY ticket and moves
// to VERIFYING.  Calling it again replaces the outstanding challenge.
func (s *Session) BeginVerification(ctx context.Context) (Challenge, error) {
	s.mu.Lock()
	if s.state != StateReady && s.state != StateVerifying {
		s.mu.Unlock()
		if s.state == StateQueued {
			return Challenge{}, ErrNotAdmitted
		}
		return Challenge{}, ErrWrongState
	}
	ticketID := s.ticketID
	s.mu.Unlock()

	ch, err := s.api.NewChallenge(ctx, ticketID)
	if err != nil {
		var ae *APIError
		if asAPIError(err, &ae) && ae.Status == 409 {
			return Challenge{}, ErrNotAdmitted
		}
		return Challenge{}, err
	}
	s.mu.Lock()
	s.challenge = ch
	s.state = StateVerifying
	s.mu.Unlock()
	return ch, nil
}

// SubmitAnswer verifies the outstanding challenge.  On OK the session
// moves to VERIFIED.  On MISMATCH it stays VERIFYING and the caller
// must request a fresh challenge; the old token is spent.  A requeue
// signal resets the session and returns ErrRequeued.
func (s *Session) SubmitAnswer(ctx context.Context, answer string) (VerifyResult, error) {
	s.mu.Lock()
	if s.state != StateVerifying || s.challenge.Token == "" {
		s.mu.Unlock()
		return "", ErrWrongState
	}
	token := s.challenge.Token
	s.mu.Unlock()

	result, requeue, err := s.api.VerifyChallenge(ctx, token, answer)
	if err != nil {
		return "", err
	}
	if requeue {
		return result, s.requeue("verification window lost")
	}
	s.mu.Lock()
	s.challenge = Challenge{}
	if result == VerifyOK {
		s.state = StateVerified
	}
	s.mu.Unlock()
	return result, nil
}

// SelectSeat holds a seat.  The first successful hold moves the session
// to SELECTING.  A STALE_HOLD answer clears the local hold set since
// the server has expired the leases.
func (s *Session) SelectSeat(ctx context.Context, seatID uint64) (bool, Code, error) {
	s.mu.Lock()
	if s.state != StateVerified && s.state != StateSelecting {
		s.mu.Unlock()
		return false, "", ErrWrongState
	}
	s.mu.Unlock()

	ok, code, err := s.api.SelectSeat(ctx, s.showID, seatID)
	if err != nil {
		return false, "", err
	}
	s.mu.Lock()
	if ok {
		s.holds[seatID] = struct{}{}
		s.state = StateSelecting
	} else if code == CodeNoSession {
		s.mu.Unlock()
		return false, code, s.requeue("session lapsed")
	}
	s.mu.Unlock()
	return ok, code, nil
}

// ReleaseSeat gives a held seat back.  With no holds left the session
// drops back to VERIFIED.
func (s *Session) ReleaseSeat(ctx context.Context, seatID uint64) (bool, Code, error) {
	s.mu.Lock()
	if s.state != StateSelecting {
		s.mu.Unlock()
		return false, "", ErrWrongState
	}
	s.mu.Unlock()

	ok, code, err := s.api.ReleaseSeat(ctx, s.showID, seatID)
	if err != nil {
		return false, "", err
	}
	s.mu.Lock()
	delete(s.holds, seatID)
	if len(s.holds) == 0 && s.state == StateSelecting {
		s.state = StateVerified
	}
	s.mu.Unlock()
	return ok, code, nil
}

// SeatStatuses fetches the caller's projection of the given seats and
// prunes local holds the server no longer reports as HELD_BY_ME.
func (s *Session) SeatStatuses(ctx context.Context, seatIDs []uint64) (map[uint64]string, error) {
	statuses, err := s.api.SeatStatuses(ctx, s.showID, seatIDs)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	for id := range s.holds {
		if st, seen := statuses[id]; seen && st != "HELD_BY_ME" {
			delete(s.holds, id)
		}
	}
	if len(s.holds) == 0 && s.state == StateSelecting {
		s.state = StateVerified
	}
	s.mu.Unlock()
	return statuses, nil
}

// Confirm commits every locally held seat.  On success the session is
// CONFIRMED and the reservation id is returned.  STALE_HOLD clears the
// local holds since the server already reclaimed the leases.
func (s *Session) Confirm(ctx context.Context) (string, Code, error) {
	s.mu.Lock()
	if s.state != StateSelecting {
		s.mu.Unlock()
		return "", "", ErrWrongState
	}
	seatIDs := make([]uint64, 0, len(s.holds))
	for id := range s.holds {
		seatIDs = append(seatIDs, id)
	}
	s.mu.Unlock()

	resID, code, err := s.api.Confirm(ctx, s.showID, seatIDs)
	if err != nil {
		return "", "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch code {
	case CodeOK:
		s.state = StateConfirmed
		s.holds = make(map[uint64]struct{})
		return resID, code, nil
	case CodeStaleHold:
		s.holds = make(map[uint64]struct{})
		s.state = StateVerified
	}
	return "", code, nil
}

// Leave abandons the session, releasing the permit and any holds server
// side.  Best effort; the session ends IDLE regardless of delivery.
func (s *Session) Leave() {
	s.mu.Lock()
	ticketID := s.ticketID
	s.mu.Unlock()
	if ticketID != "" {
		s.api.Leave(ticketID)
	}
	// requeue only ever returns ErrRequeued.
	_ = s.requeue("left")
}
