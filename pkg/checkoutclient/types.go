package checkoutclient

import "time"

// State is the client-side checkout state machine position.
type State string

const (
	StateIdle      State = "IDLE"      // no ticket
	StateQueued    State = "QUEUED"    // waiting for admission
	StateReady     State = "READY"     // admitted, ready window running
	StateVerifying State = "VERIFYING" // challenge issued, awaiting answer
	StateVerified  State = "VERIFIED"  // bot-check passed
	StateSelecting State = "SELECTING" // at least one seat held
	StateConfirmed State = "CONFIRMED" // reservation committed, terminal
)

// Code mirrors the server's seat-operation result codes so callers can
// branch without string literals.
type Code string

const (
	CodeOK            Code = "OK"
	CodeNoSession     Code = "NO_SESSION"
	CodeAlreadyBooked Code = "ALREADY_BOOKED"
	CodeUnavailable   Code = "UNAVAILABLE"
	CodeLimitExceeded Code = "LIMIT_EXCEEDED"
	CodeInvalidSeat   Code = "INVALID_SEAT"
	CodeRestricted    Code = "RESTRICTED"
	CodeStaleHold     Code = "STALE_HOLD"
)

// VerifyResult mirrors the captcha verification outcomes.
type VerifyResult string

const (
	VerifyOK       VerifyResult = "OK"
	VerifyMismatch VerifyResult = "MISMATCH"
	VerifyExpired  VerifyResult = "EXPIRED"
)

// ---- Wire format ----

type enqueueResp struct {
	Queued   bool   `json:"queued"`
	TicketID string `json:"ticket_id"`
	Ready    bool   `json:"ready"`
	Waiting  int    `json:"waiting"`
}

type ticketStatusResp struct {
	Ready    bool   `json:"ready"`
	State    string `json:"state"`
	Position *int   `json:"position"`
	TTLSec   *int64 `json:"ttl_sec"`
	Reason   string `json:"reason,omitempty"`
}

type queueStatusResp struct {
	Waiting          int    `json:"waiting"`
	AvailablePermits int    `json:"available_permits"`
	Served           uint64 `json:"served"`
}

type captchaNewResp struct {
	Token     string `json:"token"`
	Image     []byte `json:"image"`
	ExpiresAt string `json:"expires_at"`
}

type captchaVerifyResp struct {
	Result  VerifyResult `json:"result"`
	OK      bool         `json:"ok"`
	Requeue bool         `json:"requeue"`
}

type seatResultResp struct {
	OK            bool   `json:"ok"`
	Code          Code   `json:"code"`
	ReservationID string `json:"reservation_id,omitempty"`
}

type seatStatusResp struct {
	StatusBySeatID map[uint64]string `json:"status_by_seat_id"`
}

// Challenge is the client view of an issued captcha.
type Challenge struct {
	Token    string
	ImagePNG []byte
	Expires  time.Time
}

// TicketStatus is the reconciled polling view.  TTL is the
// server-reported remaining ready window; local countdowns are only a
// rendering aid and are overwritten by every poll.
type TicketStatus struct {
	Ready    bool
	State    string
	Position *int
	TTL      time.Duration
	Reason   string
}
