// Package lease implements the per-seat lease manager: the at-most-one-
// holder seat allocator for a show, with time-boxed holds and an atomic
// confirm step that turns holds into a durable reservation.
package lease

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/showgate/showgate/internal/model"
)

// ErrShowNotLoaded is returned when an operation references a show
// whose seat pool has not been loaded from the catalog.
var ErrShowNotLoaded = errors.New("show not loaded into lease pool")

// Gatekeeper is the slice of the admission queue the manager needs:
// whether a client holds a READY, bot-verified ticket, and retiring
// that ticket when checkout completes.
//
// Lock order: the manager must never call a Gatekeeper method while
// holding a pool mutex, because the queue calls HasActiveWork with its
// own lock held.  Note the transitive cost: Confirm holds the pool
// mutex across ReservationStore.Create so the holds stay frozen during
// the commit, which means a slow store write delays HasActiveWork and,
// through it, the queue's sweep for that show.  Store writes must stay
// a single short transaction.
type Gatekeeper interface {
	Eligible(clientID, showID uint64, now time.Time) (ticketID string, ok bool)
	Complete(ticketID string, now time.Time)
}

// ReservationStore persists confirmed reservations.  The store must be
// atomic: either the whole reservation is written or none of it.
type ReservationStore interface {
	Create(ctx context.Context, res *model.Reservation) error
}

// Config carries the lease policy knobs.
type Config struct {
	HoldTTL    time.Duration // seat hold lifetime, 120s by default
	MaxSeats   int           // per-(client, show) concurrent hold cap
	UnlockLead time.Duration // how far before zone opens_at holds unlock
}

// seatState is the in-memory lease record for one seat.  Zone gating is
// resolved at read time against the zone's opens_at so that the unlock
// needs no sweep of its own.
type seatState struct {
	seat   model.Seat
	status model.SeatStatus
	holder uint64
	since  time.Time
	until  time.Time
}

// pool is all lease state for one show.  Each pool has its own mutex;
// every mutation of a seat happens inside it, which serialises select,
// release, confirm and expiry per (show, seat).
type pool struct {
	mu        sync.Mutex
	seats     map[uint64]*seatState
	zoneOpens map[uint64]time.Time
	holds     map[uint64]int    // client id -> live hold count
	booked    map[uint64]string // client id -> reservation id
}

// Manager owns the lease pools of all loaded shows.
type Manager struct {
	mu    sync.RWMutex
	cfg   Config
	pools map[uint64]*pool
	gate  Gatekeeper
	store ReservationStore
	log   *zap.Logger
}

// New constructs an empty manager.
func New(cfg Config, gate Gatekeeper, store ReservationStore, log *zap.Logger) *Manager {
	if cfg.HoldTTL <= 0 {
		cfg.HoldTTL = 120 * time.Second
	}
	if cfg.MaxSeats <= 0 {
		cfg.MaxSeats = 4
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		cfg:   cfg,
		pools: make(map[uint64]*pool),
		gate:  gate,
		store: store,
		log:   log,
	}
}

// LoadShow installs the seat pool for a show from catalog data.  Every
// seat starts AVAILABLE; the BLOCKED status is derived at access time
// from the seat's zone clock, so a zone opening needs no sweep.
// Reloading a show replaces its pool.
func (m *Manager) LoadShow(showID uint64, seats []model.Seat, zones []model.Zone) {
	p := &pool{
		seats:     make(map[uint64]*seatState, len(seats)),
		zoneOpens: make(map[uint64]time.Time, len(zones)),
		holds:     make(map[uint64]int),
		booked:    make(map[uint64]string),
	}
	for _, z := range zones {
		p.zoneOpens[z.ID] = z.OpensAt
	}
	for _, s := range seats {
		p.seats[s.ID] = &seatState{seat: s, status: model.SeatAvailable}
	}
	m.mu.Lock()
	m.pools[showID] = p
	m.mu.Unlock()
}

// Restore replays a committed reservation into a freshly loaded pool,
// flipping its seats to SOLD and recording the client as booked.  Used
// at startup so in-memory state agrees with the durable store.
func (m *Manager) Restore(res model.Reservation) {
	p := m.pool(res.ShowID)
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range res.SeatIDs {
		if st, ok := p.seats[id]; ok {
			st.status = model.SeatSold
			st.holder = 0
		}
	}
	p.booked[res.ClientID] = res.ID
}

// Select places a time-boxed hold on a seat for the client.  All
// failures are returned as result codes, never errors; the only error
// condition is an unloaded show, treated as INVALID_SEAT upstream.
func (m *Manager) Select(clientID, showID, seatID uint64, now time.Time) model.SelectResult {
	// Eligibility is checked before taking the pool lock; see the
	// Gatekeeper lock-order note.
	if _, ok := m.eligible(clientID, showID, now); !ok {
		return model.ResultFail(model.CodeNoSession)
	}
	p := m.pool(showID)
	if p == nil {
		return model.ResultFail(model.CodeInvalidSeat)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, booked := p.booked[clientID]; booked {
		return model.ResultFail(model.CodeAlreadyBooked)
	}
	st, ok := p.seats[seatID]
	if !ok {
		return model.ResultFail(model.CodeInvalidSeat)
	}
	p.settleSeatLocked(st, now)
	if !m.zoneOpenLocked(p, st.seat.ZoneID, now) {
		// Seats in an unopened zone reject all holds regardless of
		// ticket or lease state.
		return model.ResultFail(model.CodeRestricted)
	}
	if st.status != model.SeatAvailable {
		return model.ResultFail(model.CodeUnavailable)
	}
	if p.holds[clientID] >= m.cfg.MaxSeats {
		return model.ResultFail(model.CodeLimitExceeded)
	}

	st.status = model.SeatHeld
	st.holder = clientID
	st.since = now
	st.until = now.Add(m.cfg.HoldTTL)
	p.holds[clientID]++
	return model.ResultOK()
}

// Release returns a seat to AVAILABLE if and only if it is currently
// HELD by the client.  Anything else is a no-op failure, which makes
// the call idempotent for retries and duplicated beacons.
func (m *Manager) Release(clientID, showID, seatID uint64, now time.Time) model.SelectResult {
	p := m.pool(showID)
	if p == nil {
		return model.ResultFail(model.CodeInvalidSeat)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.seats[seatID]
	if !ok {
		return model.ResultFail(model.CodeInvalidSeat)
	}
	p.settleSeatLocked(st, now)
	if st.status != model.SeatHeld || st.holder != clientID {
		return model.ResultFail(model.CodeUnavailable)
	}
	p.clearHoldLocked(st)
	return model.ResultOK()
}

// ReleaseAll drops every hold the client has on the show.  Used when a
// ticket is abandoned so the seats return to the pool promptly.
func (m *Manager) ReleaseAll(clientID, showID uint64, now time.Time) int {
	p := m.pool(showID)
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	released := 0
	for _, st := range p.seats {
		if st.status == model.SeatHeld && st.holder == clientID {
			p.clearHoldLocked(st)
			released++
		}
	}
	return released
}

// Confirm atomically turns the client's holds on the listed seats into
// a reservation.  Two phases under the pool lock: verify that every
// seat is HELD by the caller (aborting with STALE_HOLD and no side
// effects otherwise), then persist the reservation and flip the seats
// to SOLD.  A store failure leaves every hold intact.  The pool mutex
// stays held across the store write so no hold can lapse or be
// released between verification and commit; see the lock-order note on
// Gatekeeper for what that blocks.
func (m *Manager) Confirm(ctx context.Context, clientID, showID uint64, seatIDs []uint64, now time.Time) (string, model.SelectResult, error) {
	ticketID, ok := m.eligible(clientID, showID, now)
	if !ok {
		return "", model.ResultFail(model.CodeNoSession), nil
	}
	p := m.pool(showID)
	if p == nil || len(seatIDs) == 0 {
		return "", model.ResultFail(model.CodeStaleHold), nil
	}

	p.mu.Lock()
	if _, booked := p.booked[clientID]; booked {
		p.mu.Unlock()
		return "", model.ResultFail(model.CodeAlreadyBooked), nil
	}
	// Phase one: every requested seat must be HELD by the caller and
	// inside its TTL at this instant.
	states := make([]*seatState, 0, len(seatIDs))
	for _, id := range seatIDs {
		st, ok := p.seats[id]
		if !ok {
			p.mu.Unlock()
			return "", model.ResultFail(model.CodeStaleHold), nil
		}
		p.settleSeatLocked(st, now)
		if st.status != model.SeatHeld || st.holder != clientID {
			p.mu.Unlock()
			return "", model.ResultFail(model.CodeStaleHold), nil
		}
		states = append(states, st)
	}

	res := &model.Reservation{
		ID:          uuid.NewString(),
		ClientID:    clientID,
		ShowID:      showID,
		SeatIDs:     append([]uint64(nil), seatIDs...),
		ConfirmedAt: now,
	}
	if err := m.store.Create(ctx, res); err != nil {
		// Holds stay exactly as they were; the client may retry.
		p.mu.Unlock()
		return "", model.ResultFail(model.CodeStaleHold), err
	}

	// Phase two: commit all.  Nothing below can fail.
	for _, st := range states {
		st.status = model.SeatSold
		st.holder = 0
		st.since = time.Time{}
		st.until = time.Time{}
	}
	p.holds[clientID] -= len(states)
	if p.holds[clientID] <= 0 {
		delete(p.holds, clientID)
	}
	p.booked[clientID] = res.ID
	p.mu.Unlock()

	// Checkout is terminal for the admission ticket; retire it after
	// releasing the pool lock.
	m.gate.Complete(ticketID, now)
	m.log.Info("reservation confirmed",
		zap.String("reservation_id", res.ID),
		zap.Uint64("client_id", clientID),
		zap.Uint64("show_id", showID),
		zap.Int("seats", len(seatIDs)))
	return res.ID, model.ResultOK(), nil
}

// StatusBatch projects seat statuses for rendering.  HELD seats owned
// by the requesting client are reported as HELD_BY_ME; lapsed holds
// read as AVAILABLE even before the sweep has reaped them.
func (m *Manager) StatusBatch(clientID, showID uint64, seatIDs []uint64, now time.Time) (map[uint64]model.SeatStatus, error) {
	p := m.pool(showID)
	if p == nil {
		return nil, ErrShowNotLoaded
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[uint64]model.SeatStatus, len(seatIDs))
	for _, id := range seatIDs {
		st, ok := p.seats[id]
		if !ok {
			continue // unknown seats are absent from the projection
		}
		p.settleSeatLocked(st, now)
		status := st.status
		if status == model.SeatAvailable && !m.zoneOpenLocked(p, st.seat.ZoneID, now) {
			status = model.SeatBlocked
		}
		if status == model.SeatHeld && st.holder == clientID {
			status = model.SeatHeldByMe
		}
		out[id] = status
	}
	return out, nil
}

// ExpireHolds reverts every lapsed hold across all pools and returns
// how many were reclaimed.  This sweep is the single source of truth
// for hold TTL; client countdowns are advisory.
func (m *Manager) ExpireHolds(now time.Time) int {
	m.mu.RLock()
	pools := make([]*pool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.mu.RUnlock()

	reclaimed := 0
	for _, p := range pools {
		p.mu.Lock()
		for _, st := range p.seats {
			if st.status == model.SeatHeld && !now.Before(st.until) {
				p.clearHoldLocked(st)
				reclaimed++
			}
		}
		p.mu.Unlock()
	}
	return reclaimed
}

// HasActiveWork reports whether the client has live holds or a
// committed reservation for the show.  Called by the admission queue
// (with its own lock held) before expiring a READY ticket.
func (m *Manager) HasActiveWork(clientID, showID uint64, now time.Time) bool {
	p := m.pool(showID)
	if p == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.booked[clientID]; ok {
		return true
	}
	for _, st := range p.seats {
		if st.status == model.SeatHeld && st.holder == clientID && now.Before(st.until) {
			return true
		}
	}
	return false
}

// Lease returns a copy of one seat's lease record, mainly for tests
// and diagnostics.
func (m *Manager) Lease(showID, seatID uint64) (model.SeatLease, bool) {
	p := m.pool(showID)
	if p == nil {
		return model.SeatLease{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.seats[seatID]
	if !ok {
		return model.SeatLease{}, false
	}
	return model.SeatLease{
		SeatID:      seatID,
		ShowID:      showID,
		Status:      st.status,
		HolderID:    st.holder,
		AcquiredAt:  st.since,
		TTLDeadline: st.until,
	}, true
}

func (m *Manager) pool(showID uint64) *pool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pools[showID]
}

func (m *Manager) eligible(clientID, showID uint64, now time.Time) (string, bool) {
	if m.gate == nil {
		return "", false
	}
	return m.gate.Eligible(clientID, showID, now)
}

// zoneOpenLocked applies the configurable unlock lead to the zone's
// opens_at.  A zero opens_at means the zone was open from setup.
func (m *Manager) zoneOpenLocked(p *pool, zoneID uint64, now time.Time) bool {
	opens, ok := p.zoneOpens[zoneID]
	if !ok || opens.IsZero() {
		return true
	}
	return !now.Before(opens.Add(-m.cfg.UnlockLead))
}

// settleSeatLocked reverts a lapsed hold in place so reads and writes
// observe expiry without waiting for the sweep.
func (p *pool) settleSeatLocked(st *seatState, now time.Time) {
	if st.status == model.SeatHeld && !now.Before(st.until) {
		p.clearHoldLocked(st)
	}
}

func (p *pool) clearHoldLocked(st *seatState) {
	if c := p.holds[st.holder]; c <= 1 {
		delete(p.holds, st.holder)
	} else {
		p.holds[st.holder] = c - 1
	}
	st.status = model.SeatAvailable
	st.holder = 0
	st.since = time.Time{}
	st.until = time.Time{}
}
