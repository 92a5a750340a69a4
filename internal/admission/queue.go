// Package admission implements the virtual waiting room: a per-show FIFO
// queue that admits a bounded number of clients into the checkout phase.
// Admission capacity is expressed as permits; a permit is consumed when a
// ticket is promoted to READY and replenished when the ticket leaves,
// expires or completes checkout.
package admission

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/showgate/showgate/internal/model"
)

// Sentinel errors returned by queue operations.  Handlers translate
// these into HTTP status codes; everything else is an internal error.
var (
	ErrShowNotFound   = errors.New("show not found")
	ErrTicketNotFound = errors.New("ticket not found")
	ErrAlreadyQueued  = errors.New("client already queued for show")
	ErrNotReady       = errors.New("ticket is not in the ready window")
)

// HoldChecker reports whether a client still has live work in the seat
// pool for a show.  The queue consults it before expiring a READY
// ticket: a ticket with active holds or a committed reservation is
// never reaped by the sweep, only by leave or checkout completion.
type HoldChecker interface {
	HasActiveWork(clientID, showID uint64, now time.Time) bool
}

// Config carries the admission policy knobs.
type Config struct {
	Permits     int           // concurrent READY tickets per show
	ReadyWindow time.Duration // how long a READY ticket may checkout
	Grace       time.Duration // how long terminal tickets stay queryable
}

// Status is the polling projection of one ticket.  Position is the
// 0-based rank among WAITING tickets and is nil once READY; TTLSec is
// the remaining ready window and is nil while WAITING.
type Status struct {
	State    model.TicketState
	Ready    bool
	Position *int
	TTLSec   *int64
}

type clientKey struct {
	clientID uint64
	showID   uint64
}

// showQueue is the per-show slice of the waiting room.  The waiting
// slice preserves arrival order; equal enqueue timestamps are therefore
// broken by insertion order with no extra bookkeeping.
type showQueue struct {
	waiting []*model.QueueTicket
	permits int
	served  uint64
}

// Queue is the admission queue for all registered shows.  All state is
// guarded by a single mutex; operations are short and allocation-free
// on the hot polling path.
type Queue struct {
	mu      sync.Mutex
	cfg     Config
	shows   map[uint64]*showQueue
	tickets map[string]*model.QueueTicket
	byOwner map[clientKey]string // (client, show) -> non-terminal ticket id
	retired map[string]time.Time // terminal ticket id -> retirement time
	holds   HoldChecker
	log     *zap.Logger
}

// New constructs an empty queue.  The hold checker may be nil until
// SetHoldChecker is called during wiring; a nil checker makes the sweep
// treat every READY ticket as reclaimable.
func New(cfg Config, log *zap.Logger) *Queue {
	if cfg.Permits < 1 {
		cfg.Permits = 1
	}
	if cfg.ReadyWindow <= 0 {
		cfg.ReadyWindow = 5 * time.Minute
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 10 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Queue{
		cfg:     cfg,
		shows:   make(map[uint64]*showQueue),
		tickets: make(map[string]*model.QueueTicket),
		byOwner: make(map[clientKey]string),
		retired: make(map[string]time.Time),
		log:     log,
	}
}

// SetHoldChecker wires the seat pool in after construction.  The queue
// and the lease manager reference each other, so one side is attached
// late during wiring.
func (q *Queue) SetHoldChecker(h HoldChecker) {
	q.mu.Lock()
	q.holds = h
	q.mu.Unlock()
}

// RegisterShow makes a show known to the queue with a fresh permit
// budget.  Registering an already-known show is a no-op.
func (q *Queue) RegisterShow(showID uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.shows[showID]; !ok {
		q.shows[showID] = &showQueue{permits: q.cfg.Permits}
	}
}

// Enqueue creates a WAITING ticket for (clientID, showID) and appends it
// to the show's FIFO order.  It fails with ErrAlreadyQueued when a
// non-terminal ticket already exists for the pair and with
// ErrShowNotFound for unknown shows.  Promotion runs immediately, so
// the returned ticket may already be READY when a permit is free.
func (q *Queue) Enqueue(clientID, showID uint64, now time.Time) (model.QueueTicket, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	sq, ok := q.shows[showID]
	if !ok {
		return model.QueueTicket{}, ErrShowNotFound
	}
	key := clientKey{clientID, showID}
	if id, ok := q.byOwner[key]; ok {
		if t := q.tickets[id]; t != nil && !t.State.Terminal() {
			return model.QueueTicket{}, ErrAlreadyQueued
		}
	}

	t := &model.QueueTicket{
		ID:         uuid.NewString(),
		ClientID:   clientID,
		ShowID:     showID,
		State:      model.TicketWaiting,
		EnqueuedAt: now,
	}
	q.tickets[t.ID] = t
	q.byOwner[key] = t.ID
	sq.waiting = append(sq.waiting, t)
	q.promoteLocked(sq, now)
	return *t, nil
}

// Status reports the polling view of a ticket.  It first settles any
// lapsed ready window for the ticket's show so a poll never observes a
// READY ticket that the sweep would already have expired.
func (q *Queue) Status(ticketID string, now time.Time) (Status, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tickets[ticketID]
	if !ok {
		return Status{}, ErrTicketNotFound
	}
	q.settleShowLocked(q.shows[t.ShowID], now)

	st := Status{State: t.State}
	switch t.State {
	case model.TicketWaiting:
		pos := q.positionLocked(t)
		st.Position = &pos
	case model.TicketReady:
		st.Ready = true
		ttl := int64(t.ReadyDeadline.Sub(now) / time.Second)
		if ttl < 0 {
			ttl = 0
		}
		st.TTLSec = &ttl
	}
	return st, nil
}

// QueueStatus reports aggregate numbers for a show: clients still
// WAITING, permits currently available and tickets served to date.
func (q *Queue) QueueStatus(showID uint64, now time.Time) (waiting int, permits int, served uint64, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	sq, ok := q.shows[showID]
	if !ok {
		return 0, 0, 0, ErrShowNotFound
	}
	q.settleShowLocked(sq, now)
	return len(sq.waiting), sq.permits, sq.served, nil
}

// Leave marks a ticket LEFT and releases its permit immediately.  It is
// idempotent: leaving an already-terminal or unknown ticket is not an
// error, because the signal may arrive via a best-effort beacon that
// can be duplicated or raced by the sweep.
func (q *Queue) Leave(ticketID string, now time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tickets[ticketID]
	if !ok || t.State.Terminal() {
		return nil
	}
	q.retireLocked(t, model.TicketLeft, now, false)
	return nil
}

// Complete retires a ticket on terminal checkout: the client confirmed
// a reservation, so the permit returns to the pool and the show's
// served counter advances.  Unknown or terminal tickets are a no-op.
func (q *Queue) Complete(ticketID string, now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tickets[ticketID]
	if !ok || t.State.Terminal() {
		return
	}
	q.retireLocked(t, model.TicketLeft, now, true)
}

// Tick promotes WAITING tickets to READY across all shows while permits
// are available.  It is safe to call concurrently with requests and
// with Expire; both only move time forward.
func (q *Queue) Tick(now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, sq := range q.shows {
		q.promoteLocked(sq, now)
	}
}

// Expire transitions READY tickets past their deadline to EXPIRED,
// releasing their permits, provided the client has no active seat holds
// and no reservation for the show.  Expiry is a scheduled state
// transition, not a failure, and is logged at debug level only.
func (q *Queue) Expire(now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, sq := range q.shows {
		q.settleShowLocked(sq, now)
	}
	// Drop terminal tickets once their grace period has run out so the
	// ticket map does not grow without bound across a sale.
	for id, at := range q.retired {
		if now.Sub(at) >= q.cfg.Grace {
			delete(q.tickets, id)
			delete(q.retired, id)
		}
	}
}

// TicketState exposes a ticket's current state to the bot-check gate.
func (q *Queue) TicketState(ticketID string, now time.Time) (model.TicketState, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tickets[ticketID]
	if !ok {
		return "", ErrTicketNotFound
	}
	q.settleShowLocked(q.shows[t.ShowID], now)
	return t.State, nil
}

// Ticket returns a copy of the ticket, for handlers that need owner or
// deadline fields rather than the polling projection.
func (q *Queue) Ticket(ticketID string) (model.QueueTicket, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tickets[ticketID]
	if !ok {
		return model.QueueTicket{}, ErrTicketNotFound
	}
	return *t, nil
}

// MarkVerified records a passed bot-check on a READY ticket.  The mark
// lasts for the remainder of the ready window and is cleared when the
// ticket is re-promoted after a requeue.
func (q *Queue) MarkVerified(ticketID string, now time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tickets[ticketID]
	if !ok {
		return ErrTicketNotFound
	}
	q.settleShowLocked(q.shows[t.ShowID], now)
	if t.State != model.TicketReady || !now.Before(t.ReadyDeadline) {
		return ErrNotReady
	}
	t.Verified = true
	return nil
}

// Eligible reports whether the client holds a READY, bot-verified
// ticket for the show, returning its id.  The lease manager gates every
// seat operation on this check.  The show is settled first and the
// ticket's state is then trusted as-is: a ticket the sweep keeps alive
// past its deadline because the client has live holds must stay
// eligible, or the holds could never be confirmed.
func (q *Queue) Eligible(clientID, showID uint64, now time.Time) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	id, ok := q.byOwner[clientKey{clientID, showID}]
	if !ok {
		return "", false
	}
	t := q.tickets[id]
	if t == nil {
		return "", false
	}
	q.settleShowLocked(q.shows[t.ShowID], now)
	if t.State != model.TicketReady || !t.Verified {
		return "", false
	}
	return id, true
}

// Run drives Tick and Expire on a fixed interval until the context is
// cancelled.  The sweep is the correctness backstop for clients that
// vanish without a leave signal.
func (q *Queue) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	tk := time.NewTicker(interval)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
			now := time.Now().UTC()
			q.Expire(now)
			q.Tick(now)
		}
	}
}

// promoteLocked admits WAITING tickets in FIFO order while permits
// remain.  Each promotion consumes a permit and starts a fresh ready
// window with the verification mark cleared.
func (q *Queue) promoteLocked(sq *showQueue, now time.Time) {
	if sq == nil {
		return
	}
	for sq.permits > 0 && len(sq.waiting) > 0 {
		t := sq.waiting[0]
		sq.waiting = sq.waiting[1:]
		if t.State != model.TicketWaiting {
			continue // retired while waiting; slot not consumed
		}
		sq.permits--
		t.State = model.TicketReady
		t.ReadyDeadline = now.Add(q.cfg.ReadyWindow)
		t.Verified = false
		q.log.Debug("ticket promoted",
			zap.String("ticket_id", t.ID),
			zap.Uint64("show_id", t.ShowID),
			zap.Time("ready_deadline", t.ReadyDeadline))
	}
}

// settleShowLocked expires lapsed READY tickets for one show and then
// refills the freed permits from the WAITING queue.
func (q *Queue) settleShowLocked(sq *showQueue, now time.Time) {
	if sq == nil {
		return
	}
	for _, t := range q.tickets {
		if t.State != model.TicketReady {
			continue
		}
		if q.shows[t.ShowID] != sq {
			continue
		}
		if now.Before(t.ReadyDeadline) {
			continue
		}
		if q.holds != nil && q.holds.HasActiveWork(t.ClientID, t.ShowID, now) {
			continue
		}
		q.retireLocked(t, model.TicketExpired, now, false)
	}
	q.promoteLocked(sq, now)
}

// retireLocked moves a ticket to a terminal state, returning its permit
// when it was READY and removing it from the WAITING order otherwise.
func (q *Queue) retireLocked(t *model.QueueTicket, to model.TicketState, now time.Time, served bool) {
	sq := q.shows[t.ShowID]
	switch t.State {
	case model.TicketWaiting:
		if sq != nil {
			for i, w := range sq.waiting {
				if w.ID == t.ID {
					sq.waiting = append(sq.waiting[:i], sq.waiting[i+1:]...)
					break
				}
			}
		}
	case model.TicketReady:
		if sq != nil {
			sq.permits++
		}
	}
	t.State = to
	t.ReadyDeadline = time.Time{}
	t.Verified = false
	q.retired[t.ID] = now
	delete(q.byOwner, clientKey{t.ClientID, t.ShowID})
	if sq != nil {
		if served {
			sq.served++
		}
		q.promoteLocked(sq, now)
	}
}

// positionLocked computes the 0-based rank of a WAITING ticket.
func (q *Queue) positionLocked(t *model.QueueTicket) int {
	sq := q.shows[t.ShowID]
	if sq == nil {
		return 0
	}
	rank := 0
	for _, w := range sq.waiting {
		if w.ID == t.ID {
			return rank
		}
		if w.State == model.TicketWaiting {
			rank++
		}
	}
	return rank
}
