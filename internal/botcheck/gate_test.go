package botcheck

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/showgate/showgate/internal/model"
	"github.com/showgate/showgate/internal/utils"
)

// stubSource scripts the admission queue's view of tickets.
type stubSource struct {
	states    map[string]model.TicketState
	verified  map[string]bool
	verifyErr error
}

func newStubSource() *stubSource {
	return &stubSource{
		states:   make(map[string]model.TicketState),
		verified: make(map[string]bool),
	}
}

func (s *stubSource) TicketState(ticketID string, _ time.Time) (model.TicketState, error) {
	st, ok := s.states[ticketID]
	if !ok {
		return "", errors.New("ticket not found")
	}
	return st, nil
}

func (s *stubSource) MarkVerified(ticketID string, _ time.Time) error {
	if s.verifyErr != nil {
		return s.verifyErr
	}
	s.verified[ticketID] = true
	return nil
}

// seedChallenge plants a challenge with a known answer, since real
// issued answers exist only as bcrypt digests.
func seedChallenge(g *Gate, ticketID, token, answer string, now time.Time, ttl time.Duration) {
	digest, err := utils.HashAnswer(answer, 4)
	if err != nil {
		panic(err)
	}
	g.mu.Lock()
	g.byToken[token] = &model.CaptchaChallenge{
		Token:        token,
		TicketID:     ticketID,
		AnswerDigest: digest,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
	}
	g.byTicket[ticketID] = token
	g.mu.Unlock()
}

func testNow() time.Time {
	return time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
}

func TestIssueRequiresReadyTicket(t *testing.T) {
	src := newStubSource()
	src.states["tck-wait"] = model.TicketWaiting
	g := New(Config{DigestCost: 4}, src, nil)
	now := testNow()

	_, err := g.Issue("tck-wait", now)
	assert.ErrorIs(t, err, ErrNotReady)

	_, err = g.Issue("tck-unknown", now)
	assert.ErrorIs(t, err, ErrTicketGone)
}

func TestIssueProducesRenderedChallenge(t *testing.T) {
	src := newStubSource()
	src.states["tck-1"] = model.TicketReady
	g := New(Config{TTL: 90 * time.Second, Digits: 6, DigestCost: 4}, src, nil)
	now := testNow()

	ch, err := g.Issue("tck-1", now)
	require.NoError(t, err)
	assert.NotEmpty(t, ch.Token)
	assert.NotEmpty(t, ch.ImagePNG)
	assert.NotEmpty(t, ch.AnswerDigest)
	assert.Equal(t, now.Add(90*time.Second), ch.ExpiresAt)

	// The digest never matches a wrong answer.
	assert.False(t, utils.CheckAnswer(ch.AnswerDigest, "not-the-answer"))
}

func TestIssueInvalidatesPriorChallenge(t *testing.T) {
	src := newStubSource()
	src.states["tck-1"] = model.TicketReady
	g := New(Config{DigestCost: 4}, src, nil)
	now := testNow()

	seedChallenge(g, "tck-1", "tok-old", "111111", now, time.Minute)
	_, err := g.Issue("tck-1", now)
	require.NoError(t, err)

	// The displaced token is spent even with the right answer.
	out := g.Verify("tok-old", "111111", now)
	assert.Equal(t, model.VerifyExpired, out.Result)
	assert.False(t, out.Requeue)
}

func TestVerifyCorrectAnswer(t *testing.T) {
	src := newStubSource()
	src.states["tck-1"] = model.TicketReady
	g := New(Config{}, src, nil)
	now := testNow()
	seedChallenge(g, "tck-1", "tok-1", "483920", now, time.Minute)

	out := g.Verify("tok-1", "483920", now.Add(10*time.Second))
	assert.Equal(t, model.VerifyOK, out.Result)
	assert.False(t, out.Requeue)
	assert.True(t, src.verified["tck-1"])
}

func TestVerifyIsSingleUse(t *testing.T) {
	src := newStubSource()
	src.states["tck-1"] = model.TicketReady
	g := New(Config{}, src, nil)
	now := testNow()
	seedChallenge(g, "tck-1", "tok-1", "483920", now, time.Minute)

	first := g.Verify("tok-1", "483920", now)
	require.Equal(t, model.VerifyOK, first.Result)

	second := g.Verify("tok-1", "483920", now)
	assert.Equal(t, model.VerifyExpired, second.Result)
	assert.False(t, second.Requeue)
}

func TestVerifyMismatchConsumesToken(t *testing.T) {
	src := newStubSource()
	src.states["tck-1"] = model.TicketReady
	g := New(Config{}, src, nil)
	now := testNow()
	seedChallenge(g, "tck-1", "tok-1", "483920", now, time.Minute)

	out := g.Verify("tok-1", "000000", now)
	assert.Equal(t, model.VerifyMismatch, out.Result)
	assert.False(t, out.Requeue)
	assert.False(t, src.verified["tck-1"])

	// Retrying the spent token reads as expired.
	out = g.Verify("tok-1", "483920", now)
	assert.Equal(t, model.VerifyExpired, out.Result)
}

func TestRepeatedMismatchesLeaveTicketAlive(t *testing.T) {
	src := newStubSource()
	src.states["tck-1"] = model.TicketReady
	g := New(Config{}, src, nil)
	now := testNow()

	// Three failed rounds, each with a fresh challenge.
	for i := 0; i < 3; i++ {
		seedChallenge(g, "tck-1", "tok-1", "483920", now, time.Minute)
		out := g.Verify("tok-1", "999999", now)
		require.Equal(t, model.VerifyMismatch, out.Result)
		require.False(t, out.Requeue)
	}

	// The ticket is untouched; a correct answer still passes.
	seedChallenge(g, "tck-1", "tok-1", "483920", now, time.Minute)
	out := g.Verify("tok-1", "483920", now)
	assert.Equal(t, model.VerifyOK, out.Result)
}

func TestVerifyExpiredChallenge(t *testing.T) {
	src := newStubSource()
	src.states["tck-1"] = model.TicketReady
	g := New(Config{}, src, nil)
	now := testNow()
	seedChallenge(g, "tck-1", "tok-1", "483920", now, time.Minute)

	out := g.Verify("tok-1", "483920", now.Add(time.Minute))
	assert.Equal(t, model.VerifyExpired, out.Result)
	assert.False(t, out.Requeue)
	assert.False(t, src.verified["tck-1"])
}

func TestVerifyExpiredTicketSignalsRequeue(t *testing.T) {
	src := newStubSource()
	src.states["tck-1"] = model.TicketExpired
	g := New(Config{}, src, nil)
	now := testNow()
	seedChallenge(g, "tck-1", "tok-1", "483920", now, time.Minute)

	// A late pass cannot extend the lapsed ready window.
	out := g.Verify("tok-1", "483920", now)
	assert.Equal(t, model.VerifyExpired, out.Result)
	assert.True(t, out.Requeue)
	assert.False(t, src.verified["tck-1"])
}

func TestVerifyRequeueWhenMarkFails(t *testing.T) {
	src := newStubSource()
	src.states["tck-1"] = model.TicketReady
	src.verifyErr = errors.New("ticket lapsed")
	g := New(Config{}, src, nil)
	now := testNow()
	seedChallenge(g, "tck-1", "tok-1", "483920", now, time.Minute)

	out := g.Verify("tok-1", "483920", now)
	assert.Equal(t, model.VerifyExpired, out.Result)
	assert.True(t, out.Requeue)
}

func TestSweepDropsExpiredState(t *testing.T) {
	src := newStubSource()
	src.states["tck-live"] = model.TicketReady
	g := New(Config{}, src, nil)
	now := testNow()

	seedChallenge(g, "tck-live", "tok-live", "111111", now, time.Minute)
	seedChallenge(g, "tck-gone", "tok-stale", "222222", now, time.Second)
	g.mu.Lock()
	g.attempts["tck-live"] = 1
	g.attempts["tck-gone"] = 2
	g.mu.Unlock()

	g.Sweep(now.Add(30 * time.Second))

	g.mu.Lock()
	_, liveKept := g.byToken["tok-live"]
	_, staleKept := g.byToken["tok-stale"]
	_, liveAttempts := g.attempts["tck-live"]
	_, goneAttempts := g.attempts["tck-gone"]
	g.mu.Unlock()
	assert.True(t, liveKept)
	assert.False(t, staleKept)
	assert.True(t, liveAttempts)
	assert.False(t, goneAttempts)
}
