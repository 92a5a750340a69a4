package lease

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/showgate/showgate/internal/admission"
	"github.com/showgate/showgate/internal/model"
)

// stubGate scripts admission eligibility per (client, show).
type stubGate struct {
	mu        sync.Mutex
	eligible  map[[2]uint64]string
	completed []string
}

func (s *stubGate) Eligible(clientID, showID uint64, _ time.Time) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.eligible[[2]uint64{clientID, showID}]
	return id, ok
}

func (s *stubGate) Complete(ticketID string, _ time.Time) {
	s.mu.Lock()
	s.completed = append(s.completed, ticketID)
	s.mu.Unlock()
}

// memStore records reservations in memory and can be told to fail.
type memStore struct {
	mu      sync.Mutex
	fail    bool
	created []model.Reservation
}

func (s *memStore) Create(_ context.Context, res *model.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("store unavailable")
	}
	s.created = append(s.created, *res)
	return nil
}

// newTestManager loads show 1 with six seats in an open zone and one
// seat in a zone that opens an hour after the base time.
func newTestManager(cfg Config) (*Manager, *stubGate, *memStore, time.Time) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	gate := &stubGate{eligible: map[[2]uint64]string{
		{10, 1}: "tck-10",
		{11, 1}: "tck-11",
	}}
	store := &memStore{}
	m := New(cfg, gate, store, nil)

	seats := make([]model.Seat, 0, 7)
	for id := uint64(1); id <= 6; id++ {
		seats = append(seats, model.Seat{ID: id, ZoneID: 1, ShowID: 1, Label: "A"})
	}
	seats = append(seats, model.Seat{ID: 7, ZoneID: 2, ShowID: 1, Label: "VIP"})
	zones := []model.Zone{
		{ID: 1, ShowID: 1, Name: "stalls"},
		{ID: 2, ShowID: 1, Name: "vip", OpensAt: now.Add(time.Hour)},
	}
	m.LoadShow(1, seats, zones)
	return m, gate, store, now
}

func TestSelectRequiresEligibility(t *testing.T) {
	m, _, _, now := newTestManager(Config{})

	res := m.Select(99, 1, 1, now)
	assert.False(t, res.OK)
	assert.Equal(t, model.CodeNoSession, res.Code)
}

func TestSelectHoldsSeat(t *testing.T) {
	m, _, _, now := newTestManager(Config{HoldTTL: 120 * time.Second})

	res := m.Select(10, 1, 1, now)
	require.True(t, res.OK)

	l, ok := m.Lease(1, 1)
	require.True(t, ok)
	assert.Equal(t, model.SeatHeld, l.Status)
	assert.Equal(t, uint64(10), l.HolderID)
	assert.Equal(t, now.Add(120*time.Second), l.TTLDeadline)
}

func TestSelectSingleHolder(t *testing.T) {
	m, _, _, now := newTestManager(Config{})

	require.True(t, m.Select(10, 1, 1, now).OK)
	res := m.Select(11, 1, 1, now)
	assert.False(t, res.OK)
	assert.Equal(t, model.CodeUnavailable, res.Code)
}

func TestSelectConcurrentSingleWinner(t *testing.T) {
	m, gate, _, now := newTestManager(Config{})
	const clients = 16
	gate.mu.Lock()
	for c := uint64(100); c < 100+clients; c++ {
		gate.eligible[[2]uint64{c, 1}] = "tck"
	}
	gate.mu.Unlock()

	var wins int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	for c := uint64(100); c < 100+clients; c++ {
		wg.Add(1)
		go func(clientID uint64) {
			defer wg.Done()
			if m.Select(clientID, 1, 3, now).OK {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(c)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}

func TestSelectUnknownSeat(t *testing.T) {
	m, _, _, now := newTestManager(Config{})
	res := m.Select(10, 1, 999, now)
	assert.Equal(t, model.CodeInvalidSeat, res.Code)

	res = m.Select(10, 42, 1, now)
	assert.Equal(t, model.CodeNoSession, res.Code)
}

func TestSelectHoldCap(t *testing.T) {
	m, _, _, now := newTestManager(Config{MaxSeats: 4})

	for seat := uint64(1); seat <= 4; seat++ {
		require.True(t, m.Select(10, 1, seat, now).OK)
	}
	res := m.Select(10, 1, 5, now)
	assert.False(t, res.OK)
	assert.Equal(t, model.CodeLimitExceeded, res.Code)

	// Releasing one frees headroom for another.
	require.True(t, m.Release(10, 1, 1, now).OK)
	assert.True(t, m.Select(10, 1, 5, now).OK)
}

func TestSelectRestrictedZone(t *testing.T) {
	m, _, _, now := newTestManager(Config{})

	res := m.Select(10, 1, 7, now)
	assert.Equal(t, model.CodeRestricted, res.Code)

	// Once the zone opens the same seat is fair game.
	assert.True(t, m.Select(10, 1, 7, now.Add(time.Hour)).OK)
}

func TestSelectUnlockLead(t *testing.T) {
	m, _, _, now := newTestManager(Config{UnlockLead: 10 * time.Minute})

	assert.Equal(t, model.CodeRestricted, m.Select(10, 1, 7, now.Add(49*time.Minute)).Code)
	assert.True(t, m.Select(10, 1, 7, now.Add(50*time.Minute)).OK)
}

func TestReleaseOnlyByHolder(t *testing.T) {
	m, _, _, now := newTestManager(Config{})
	require.True(t, m.Select(10, 1, 1, now).OK)

	res := m.Release(11, 1, 1, now)
	assert.False(t, res.OK)
	assert.Equal(t, model.CodeUnavailable, res.Code)

	require.True(t, m.Release(10, 1, 1, now).OK)
	l, _ := m.Lease(1, 1)
	assert.Equal(t, model.SeatAvailable, l.Status)

	// Releasing an already-released seat is a no-op failure.
	res = m.Release(10, 1, 1, now)
	assert.False(t, res.OK)
}

func TestHoldExpiry(t *testing.T) {
	m, _, _, now := newTestManager(Config{HoldTTL: 120 * time.Second})
	require.True(t, m.Select(10, 1, 1, now).OK)

	// Just inside the TTL the rival is still shut out.
	assert.Equal(t, model.CodeUnavailable, m.Select(11, 1, 1, now.Add(119*time.Second)).Code)

	// At the TTL the hold lapses in place, no sweep needed.
	assert.True(t, m.Select(11, 1, 1, now.Add(120*time.Second)).OK)
	l, _ := m.Lease(1, 1)
	assert.Equal(t, uint64(11), l.HolderID)
}

func TestExpireHoldsSweep(t *testing.T) {
	m, _, _, now := newTestManager(Config{HoldTTL: 120 * time.Second})
	require.True(t, m.Select(10, 1, 1, now).OK)
	require.True(t, m.Select(10, 1, 2, now.Add(time.Minute)).OK)

	assert.Equal(t, 0, m.ExpireHolds(now.Add(119*time.Second)))
	assert.Equal(t, 1, m.ExpireHolds(now.Add(2*time.Minute)))
	assert.Equal(t, 1, m.ExpireHolds(now.Add(3*time.Minute)))
	assert.Equal(t, 0, m.ExpireHolds(now.Add(4*time.Minute)))
}

func TestConfirmCommitsReservation(t *testing.T) {
	m, gate, store, now := newTestManager(Config{})
	require.True(t, m.Select(10, 1, 1, now).OK)
	require.True(t, m.Select(10, 1, 2, now).OK)

	resID, res, err := m.Confirm(context.Background(), 10, 1, []uint64{1, 2}, now.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, res.OK)
	require.NotEmpty(t, resID)

	store.mu.Lock()
	require.Len(t, store.created, 1)
	assert.Equal(t, resID, store.created[0].ID)
	assert.ElementsMatch(t, []uint64{1, 2}, store.created[0].SeatIDs)
	store.mu.Unlock()

	for _, seat := range []uint64{1, 2} {
		l, _ := m.Lease(1, seat)
		assert.Equal(t, model.SeatSold, l.Status)
	}

	// The admission ticket is retired exactly once.
	gate.mu.Lock()
	assert.Equal(t, []string{"tck-10"}, gate.completed)
	gate.mu.Unlock()

	// A booked client cannot start another hold for the show.
	assert.Equal(t, model.CodeAlreadyBooked, m.Select(10, 1, 3, now.Add(time.Minute)).Code)
}

func TestConfirmStaleWhenAnyHoldLapsed(t *testing.T) {
	m, gate, store, now := newTestManager(Config{HoldTTL: 120 * time.Second})
	require.True(t, m.Select(10, 1, 1, now).OK)
	require.True(t, m.Select(10, 1, 2, now.Add(time.Minute)).OK)

	// Seat 1 lapsed, seat 2 is still live: the whole confirm aborts.
	late := now.Add(121 * time.Second)
	resID, res, err := m.Confirm(context.Background(), 10, 1, []uint64{1, 2}, late)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, model.CodeStaleHold, res.Code)
	assert.Empty(t, resID)

	store.mu.Lock()
	assert.Empty(t, store.created)
	store.mu.Unlock()
	gate.mu.Lock()
	assert.Empty(t, gate.completed)
	gate.mu.Unlock()

	// The surviving hold is untouched.
	l, _ := m.Lease(1, 2)
	assert.Equal(t, model.SeatHeld, l.Status)
	assert.Equal(t, uint64(10), l.HolderID)
}

func TestConfirmStoreFailureKeepsHolds(t *testing.T) {
	m, gate, store, now := newTestManager(Config{})
	require.True(t, m.Select(10, 1, 1, now).OK)
	store.mu.Lock()
	store.fail = true
	store.mu.Unlock()

	_, res, err := m.Confirm(context.Background(), 10, 1, []uint64{1}, now)
	require.Error(t, err)
	assert.False(t, res.OK)

	l, _ := m.Lease(1, 1)
	assert.Equal(t, model.SeatHeld, l.Status)
	gate.mu.Lock()
	assert.Empty(t, gate.completed)
	gate.mu.Unlock()

	// Retry succeeds once the store recovers.
	store.mu.Lock()
	store.fail = false
	store.mu.Unlock()
	_, res, err = m.Confirm(context.Background(), 10, 1, []uint64{1}, now)
	require.NoError(t, err)
	assert.True(t, res.OK)
}

func TestConfirmRequiresEligibility(t *testing.T) {
	m, _, _, now := newTestManager(Config{})
	_, res, err := m.Confirm(context.Background(), 99, 1, []uint64{1}, now)
	require.NoError(t, err)
	assert.Equal(t, model.CodeNoSession, res.Code)
}

func TestStatusBatchProjection(t *testing.T) {
	m, _, _, now := newTestManager(Config{})
	require.True(t, m.Select(10, 1, 1, now).OK)
	require.True(t, m.Select(11, 1, 2, now).OK)

	got, err := m.StatusBatch(10, 1, []uint64{1, 2, 3, 7, 999}, now)
	require.NoError(t, err)
	assert.Equal(t, model.SeatHeldByMe, got[1])
	assert.Equal(t, model.SeatHeld, got[2])
	assert.Equal(t, model.SeatAvailable, got[3])
	assert.Equal(t, model.SeatBlocked, got[7])
	_, present := got[999]
	assert.False(t, present)
}

func TestStatusBatchUnloadedShow(t *testing.T) {
	m, _, _, now := newTestManager(Config{})
	_, err := m.StatusBatch(10, 42, []uint64{1}, now)
	assert.ErrorIs(t, err, ErrShowNotLoaded)
}

func TestHasActiveWork(t *testing.T) {
	m, _, _, now := newTestManager(Config{HoldTTL: 120 * time.Second})
	assert.False(t, m.HasActiveWork(10, 1, now))

	require.True(t, m.Select(10, 1, 1, now).OK)
	assert.True(t, m.HasActiveWork(10, 1, now))
	assert.False(t, m.HasActiveWork(10, 1, now.Add(2*time.Minute)))

	// A committed reservation counts as active work indefinitely.
	require.True(t, m.Select(10, 1, 2, now).OK)
	_, res, err := m.Confirm(context.Background(), 10, 1, []uint64{2}, now)
	require.NoError(t, err)
	require.True(t, res.OK)
	assert.True(t, m.HasActiveWork(10, 1, now.Add(time.Hour)))
}

func TestReleaseAll(t *testing.T) {
	m, _, _, now := newTestManager(Config{})
	require.True(t, m.Select(10, 1, 1, now).OK)
	require.True(t, m.Select(10, 1, 2, now).OK)
	require.True(t, m.Select(11, 1, 3, now).OK)

	assert.Equal(t, 2, m.ReleaseAll(10, 1, now))
	assert.Equal(t, 0, m.ReleaseAll(10, 1, now))

	// The rival's hold survives.
	l, _ := m.Lease(1, 3)
	assert.Equal(t, model.SeatHeld, l.Status)
}

func TestRestoreReplaysReservation(t *testing.T) {
	m, _, _, now := newTestManager(Config{})
	m.Restore(model.Reservation{
		ID: "res-1", ClientID: 10, ShowID: 1, SeatIDs: []uint64{1, 2}, ConfirmedAt: now,
	})

	l, _ := m.Lease(1, 1)
	assert.Equal(t, model.SeatSold, l.Status)
	assert.Equal(t, model.CodeAlreadyBooked, m.Select(10, 1, 3, now).Code)
	assert.True(t, m.HasActiveWork(10, 1, now))
}

// TestConfirmAfterReadyWindowWithLiveHolds wires the real admission
// queue to the manager: a hold taken late in the ready window keeps the
// ticket alive past its deadline, and that ticket must still be able to
// confirm.
func TestConfirmAfterReadyWindowWithLiveHolds(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	q := admission.New(admission.Config{
		Permits:     1,
		ReadyWindow: time.Minute,
		Grace:       10 * time.Minute,
	}, nil)
	q.RegisterShow(1)
	store := &memStore{}
	m := New(Config{HoldTTL: 120 * time.Second}, q, store, nil)
	q.SetHoldChecker(m)
	m.LoadShow(1,
		[]model.Seat{{ID: 1, ZoneID: 1, ShowID: 1, Label: "A1"}},
		[]model.Zone{{ID: 1, ShowID: 1, Name: "stalls"}})

	tk, err := q.Enqueue(10, 1, now)
	require.NoError(t, err)
	require.Equal(t, model.TicketReady, tk.State)
	require.NoError(t, q.MarkVerified(tk.ID, now))

	// Hold taken one second before the window closes.
	require.True(t, m.Select(10, 1, 1, now.Add(59*time.Second)).OK)

	// The window lapses; the sweep leaves the ticket READY because of
	// the live hold.
	late := now.Add(61 * time.Second)
	q.Expire(late)
	st, err := q.Status(tk.ID, late)
	require.NoError(t, err)
	require.Equal(t, model.TicketReady, st.State)

	// Checkout completes for the surviving ticket.
	resID, res, err := m.Confirm(context.Background(), 10, 1, []uint64{1}, late)
	require.NoError(t, err)
	require.True(t, res.OK)
	require.NotEmpty(t, resID)

	l, _ := m.Lease(1, 1)
	assert.Equal(t, model.SeatSold, l.Status)

	// Confirm retired the ticket and returned the permit.
	st, err = q.Status(tk.ID, late)
	require.NoError(t, err)
	assert.Equal(t, model.TicketLeft, st.State)
	_, permits, served, err := q.QueueStatus(1, late)
	require.NoError(t, err)
	assert.Equal(t, 1, permits)
	assert.Equal(t, uint64(1), served)
}
