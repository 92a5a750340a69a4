// Package botcheck implements the bot-verification gate that sits
// between the admission queue and the seat pool.  A READY ticket must
// solve a visual challenge before any seat operation is accepted.
// Challenges are bound to the ticket, not the client, so a solved
// puzzle cannot be replayed across queue positions: failing repeatedly
// burns the ticket's own ready window, not the queue's throughput.
package botcheck

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"github.com/dchest/captcha"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/showgate/showgate/internal/model"
	"github.com/showgate/showgate/internal/utils"
)

var (
	// ErrNotReady is returned when a challenge is requested for a
	// ticket that is not currently in its ready window.
	ErrNotReady = errors.New("ticket is not ready for verification")
	// ErrTicketGone is returned when the ticket is unknown to the
	// admission queue (purged or never issued).
	ErrTicketGone = errors.New("ticket not found")
)

// TicketSource is the slice of the admission queue the gate needs: the
// current state of a ticket, and the ability to mark it verified.
type TicketSource interface {
	TicketState(ticketID string, now time.Time) (model.TicketState, error)
	MarkVerified(ticketID string, now time.Time) error
}

// Config carries challenge generation knobs.
type Config struct {
	TTL        time.Duration // challenge lifetime
	Digits     int           // answer length
	Width      int           // image width in pixels
	Height     int           // image height in pixels
	DigestCost int           // bcrypt cost for answer digests
}

// Outcome is the full result of a verification attempt.  Requeue is set
// when the underlying ticket has already expired: a late captcha pass
// cannot extend the ready window, so the client must re-enqueue.
type Outcome struct {
	Result  model.VerifyResult
	Requeue bool
}

// Gate owns all live challenges.  State is in-memory and guarded by a
// mutex, matching the rest of the admission-phase state.
type Gate struct {
	mu       sync.Mutex
	cfg      Config
	src      TicketSource
	byToken  map[string]*model.CaptchaChallenge
	byTicket map[string]string // ticket id -> live challenge token
	attempts map[string]int    // ticket id -> attempts used this window
	log      *zap.Logger
}

// New constructs a gate over the given ticket source.
func New(cfg Config, src TicketSource, log *zap.Logger) *Gate {
	if cfg.TTL <= 0 {
		cfg.TTL = 90 * time.Second
	}
	if cfg.Digits <= 0 {
		cfg.Digits = 6
	}
	if cfg.Width <= 0 {
		cfg.Width = captcha.StdWidth
	}
	if cfg.Height <= 0 {
		cfg.Height = captcha.StdHeight
	}
	if cfg.DigestCost <= 0 {
		cfg.DigestCost = 6
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{
		cfg:      cfg,
		src:      src,
		byToken:  make(map[string]*model.CaptchaChallenge),
		byTicket: make(map[string]string),
		attempts: make(map[string]int),
		log:      log,
	}
}

// Issue generates a fresh challenge for a READY ticket, invalidating
// any prior live challenge for the same ticket.  The rendered PNG and
// the token are returned to the client; the answer is kept only as a
// bcrypt digest.
func (g *Gate) Issue(ticketID string, now time.Time) (model.CaptchaChallenge, error) {
	state, err := g.src.TicketState(ticketID, now)
	if err != nil {
		return model.CaptchaChallenge{}, ErrTicketGone
	}
	if state != model.TicketReady {
		return model.CaptchaChallenge{}, ErrNotReady
	}

	digits := captcha.RandomDigits(g.cfg.Digits)
	answer := digitsToAnswer(digits)
	digest, err := utils.HashAnswer(answer, g.cfg.DigestCost)
	if err != nil {
		return model.CaptchaChallenge{}, err
	}

	token := uuid.NewString()
	var img bytes.Buffer
	if _, err := captcha.NewImage(token, digits, g.cfg.Width, g.cfg.Height).WriteTo(&img); err != nil {
		return model.CaptchaChallenge{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if old, ok := g.byTicket[ticketID]; ok {
		delete(g.byToken, old)
	}
	ch := &model.CaptchaChallenge{
		Token:        token,
		TicketID:     ticketID,
		ImagePNG:     img.Bytes(),
		AnswerDigest: digest,
		CreatedAt:    now,
		ExpiresAt:    now.Add(g.cfg.TTL),
		AttemptsUsed: g.attempts[ticketID],
	}
	g.byToken[token] = ch
	g.byTicket[ticketID] = token
	return *ch, nil
}

// Verify consumes the challenge identified by token, whatever the
// outcome.  OK marks the ticket eligible for seat operations for the
// remainder of its ready window; MISMATCH and EXPIRED both require the
// client to request a new challenge and differ only in messaging.
func (g *Gate) Verify(token, answer string, now time.Time) Outcome {
	g.mu.Lock()
	ch, ok := g.byToken[token]
	if ok {
		delete(g.byToken, token)
		if g.byTicket[ch.TicketID] == token {
			delete(g.byTicket, ch.TicketID)
		}
	}
	g.mu.Unlock()
	if !ok {
		// Unknown or already-consumed token; indistinguishable from an
		// expired challenge as far as the client is concerned.
		return Outcome{Result: model.VerifyExpired}
	}

	state, err := g.src.TicketState(ch.TicketID, now)
	if err != nil || state.Terminal() {
		// The ready window is gone; signal the orchestrator to requeue.
		return Outcome{Result: model.VerifyExpired, Requeue: true}
	}
	if !now.Before(ch.ExpiresAt) {
		return Outcome{Result: model.VerifyExpired}
	}

	g.mu.Lock()
	g.attempts[ch.TicketID]++
	g.mu.Unlock()

	if !utils.CheckAnswer(ch.AnswerDigest, answer) {
		return Outcome{Result: model.VerifyMismatch}
	}
	if err := g.src.MarkVerified(ch.TicketID, now); err != nil {
		return Outcome{Result: model.VerifyExpired, Requeue: true}
	}
	g.log.Debug("bot-check passed", zap.String("ticket_id", ch.TicketID))
	return Outcome{Result: model.VerifyOK}
}

// Sweep drops challenges whose expiry has passed and attempt counters
// for tickets that no longer exist.  Expiry of a challenge is a state
// transition, not an error; nothing is logged per entry.
func (g *Gate) Sweep(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for token, ch := range g.byToken {
		if !now.Before(ch.ExpiresAt) {
			delete(g.byToken, token)
			if g.byTicket[ch.TicketID] == token {
				delete(g.byTicket, ch.TicketID)
			}
		}
	}
	for ticketID := range g.attempts {
		if _, err := g.src.TicketState(ticketID, now); err != nil {
			delete(g.attempts, ticketID)
		}
	}
}

// digitsToAnswer renders the digit bytes produced by the captcha
// library ("\x04\x08\x03") as the string a human would type ("483").
func digitsToAnswer(digits []byte) string {
	out := make([]byte, len(digits))
	for i, d := range digits {
		out[i] = '0' + d
	}
	return string(out)
}
