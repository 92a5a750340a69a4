package checkoutclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer is a minimal scripted checkout backend.  Each handler
// reads the current scripted answer under the mutex so tests can steer
// the flow mid-session.
type fakeServer struct {
	mu sync.Mutex

	ticketState string
	ready       bool
	ttlSec      int64
	reason      string

	verifyResult  VerifyResult
	verifyRequeue bool

	selectOK   bool
	selectCode Code

	confirmOK   bool
	confirmCode Code

	leaveCalls  int
	leftTickets []string
}

func (f *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/queue/shows/7", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"queued": true, "ticket_id": "tck-1", "ready": f.ready, "waiting": 3,
		})
	})
	mux.HandleFunc("GET /v1/queue/tickets/tck-1", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		resp := map[string]interface{}{
			"ready": f.ready, "state": f.ticketState,
		}
		if f.ready {
			resp["ttl_sec"] = f.ttlSec
		} else {
			resp["position"] = 2
		}
		if f.reason != "" {
			resp["reason"] = f.reason
		}
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("POST /v1/queue/leave", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			TicketID string `json:"ticket_id"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.leaveCalls++
		f.leftTickets = append(f.leftTickets, body.TicketID)
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /v1/captcha/new", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"token": "cap-1", "image": []byte{0x89, 0x50}, "expires_at": "2026-01-01T00:00:00Z",
		})
	})
	mux.HandleFunc("POST /v1/captcha/verify", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]interface{}{
			"result": f.verifyResult, "ok": f.verifyResult == VerifyOK, "requeue": f.verifyRequeue,
		})
	})
	mux.HandleFunc("POST /v1/shows/7/seats/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]interface{}{"ok": f.selectOK, "code": f.selectCode})
	})
	mux.HandleFunc("POST /v1/shows/7/confirm", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.confirmOK {
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"ok": true, "code": CodeOK, "reservation_id": "res-9",
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"ok": false, "code": f.confirmCode})
	})
	return mux
}

func newTestSession(t *testing.T, f *fakeServer) (*Session, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	api := New(srv.URL, "test-token")
	return NewSession(api, 7), srv
}

func TestSessionHappyPath(t *testing.T) {
	f := &fakeServer{
		ticketState: "WAITING",
		verifyResult: VerifyOK,
		selectOK:     true, selectCode: CodeOK,
		confirmOK: true,
	}
	s, _ := newTestSession(t, f)
	ctx := context.Background()

	require.Equal(t, StateIdle, s.State())
	require.NoError(t, s.Join(ctx))
	assert.Equal(t, StateQueued, s.State())
	assert.Equal(t, "tck-1", s.TicketID())

	// Still waiting: challenge requests are premature.
	_, err := s.SubmitAnswer(ctx, "123456")
	assert.ErrorIs(t, err, ErrWrongState)

	f.mu.Lock()
	f.ready = true
	f.ticketState = "READY"
	f.ttlSec = 300
	f.mu.Unlock()

	require.NoError(t, s.Poll(ctx))
	assert.Equal(t, StateReady, s.State())
	assert.Equal(t, int64(300), int64(s.TTL().Seconds()))

	ch, err := s.BeginVerification(ctx)
	require.NoError(t, err)
	assert.Equal(t, "cap-1", ch.Token)
	assert.Equal(t, StateVerifying, s.State())

	result, err := s.SubmitAnswer(ctx, "123456")
	require.NoError(t, err)
	assert.Equal(t, VerifyOK, result)
	assert.Equal(t, StateVerified, s.State())

	ok, code, err := s.SelectSeat(ctx, 41)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, CodeOK, code)
	assert.Equal(t, StateSelecting, s.State())
	assert.Equal(t, []uint64{41}, s.Holds())

	resID, code, err := s.Confirm(ctx)
	require.NoError(t, err)
	assert.Equal(t, CodeOK, code)
	assert.Equal(t, "res-9", resID)
	assert.Equal(t, StateConfirmed, s.State())
	assert.Empty(t, s.Holds())
}

func TestSessionImmediateAdmission(t *testing.T) {
	f := &fakeServer{ticketState: "READY", ready: true}
	s, _ := newTestSession(t, f)

	require.NoError(t, s.Join(context.Background()))
	assert.Equal(t, StateReady, s.State())
}

func TestSessionRequeueOnExpiredTicket(t *testing.T) {
	f := &fakeServer{
		ticketState: "WAITING",
		verifyResult: VerifyOK,
		selectOK:     true, selectCode: CodeOK,
	}
	s, _ := newTestSession(t, f)
	ctx := context.Background()

	require.NoError(t, s.Join(ctx))
	f.mu.Lock()
	f.ready = true
	f.ticketState = "READY"
	f.ttlSec = 120
	f.mu.Unlock()
	require.NoError(t, s.Poll(ctx))

	_, err := s.BeginVerification(ctx)
	require.NoError(t, err)
	_, err = s.SubmitAnswer(ctx, "123456")
	require.NoError(t, err)
	_, _, err = s.SelectSeat(ctx, 41)
	require.NoError(t, err)
	require.Equal(t, StateSelecting, s.State())

	// Ready window lapses server side; the next poll tears everything
	// down locally.
	f.mu.Lock()
	f.ready = false
	f.ticketState = "EXPIRED"
	f.reason = "expired"
	f.mu.Unlock()

	err = s.Poll(ctx)
	assert.ErrorIs(t, err, ErrRequeued)
	assert.Equal(t, StateIdle, s.State())
	assert.Empty(t, s.TicketID())
	assert.Empty(t, s.Holds())
	assert.Equal(t, "expired", s.RequeueReason())

	// IDLE again, so a fresh Join is legal.
	f.mu.Lock()
	f.ticketState = "READY"
	f.reason = ""
	f.mu.Unlock()
	require.NoError(t, s.Join(ctx))
}

func TestSessionVerifyMismatchStaysVerifying(t *testing.T) {
	f := &fakeServer{ticketState: "READY", ready: true, verifyResult: VerifyMismatch}
	s, _ := newTestSession(t, f)
	ctx := context.Background()

	require.NoError(t, s.Join(ctx))
	_, err := s.BeginVerification(ctx)
	require.NoError(t, err)

	result, err := s.SubmitAnswer(ctx, "000000")
	require.NoError(t, err)
	assert.Equal(t, VerifyMismatch, result)
	assert.Equal(t, StateVerifying, s.State())

	// The spent token cannot be replayed; a new challenge is required.
	_, err = s.SubmitAnswer(ctx, "000000")
	assert.ErrorIs(t, err, ErrWrongState)
	_, err = s.BeginVerification(ctx)
	assert.NoError(t, err)
}

func TestSessionVerifyRequeue(t *testing.T) {
	f := &fakeServer{
		ticketState: "READY", ready: true,
		verifyResult: VerifyExpired, verifyRequeue: true,
	}
	s, _ := newTestSession(t, f)
	ctx := context.Background()

	require.NoError(t, s.Join(ctx))
	_, err := s.BeginVerification(ctx)
	require.NoError(t, err)

	_, err = s.SubmitAnswer(ctx, "123456")
	assert.ErrorIs(t, err, ErrRequeued)
	assert.Equal(t, StateIdle, s.State())
}

func TestSessionConfirmStaleHold(t *testing.T) {
	f := &fakeServer{
		ticketState: "READY", ready: true,
		verifyResult: VerifyOK,
		selectOK:     true, selectCode: CodeOK,
		confirmOK: false, confirmCode: CodeStaleHold,
	}
	s, _ := newTestSession(t, f)
	ctx := context.Background()

	require.NoError(t, s.Join(ctx))
	_, err := s.BeginVerification(ctx)
	require.NoError(t, err)
	_, err = s.SubmitAnswer(ctx, "123456")
	require.NoError(t, err)
	_, _, err = s.SelectSeat(ctx, 41)
	require.NoError(t, err)

	resID, code, err := s.Confirm(ctx)
	require.NoError(t, err)
	assert.Empty(t, resID)
	assert.Equal(t, CodeStaleHold, code)
	assert.Equal(t, StateVerified, s.State())
	assert.Empty(t, s.Holds())
}

func TestSessionLeaveBeacon(t *testing.T) {
	f := &fakeServer{ticketState: "WAITING"}
	s, _ := newTestSession(t, f)

	require.NoError(t, s.Join(context.Background()))
	s.Leave()

	assert.Equal(t, StateIdle, s.State())
	f.mu.Lock()
	assert.Equal(t, 1, f.leaveCalls)
	assert.Equal(t, []string{"tck-1"}, f.leftTickets)
	f.mu.Unlock()

	// Leaving twice must not send a second beacon; there is no ticket.
	s.Leave()
	f.mu.Lock()
	assert.Equal(t, 1, f.leaveCalls)
	f.mu.Unlock()
}
