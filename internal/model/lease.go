package model

import "time"

// SeatStatus is the authoritative state of one seat within one show.
type SeatStatus string

const (
	SeatAvailable SeatStatus = "AVAILABLE" // free to hold
	SeatHeld      SeatStatus = "HELD"      // time-boxed exclusive hold
	SeatSold      SeatStatus = "SOLD"      // confirmed, terminal
	SeatBlocked   SeatStatus = "BLOCKED"   // unsellable until its zone opens
)

// SeatHeldByMe is a projection-only status used in seat status batches:
// the seat is HELD and the holder is the requesting client.  It never
// appears in stored state.
const SeatHeldByMe SeatStatus = "HELD_BY_ME"

// SeatLease tracks the hold state of one seat within one show.
//
// Invariant: Status == HELD exactly when HolderID is non-zero and the
// TTL deadline has not passed; at most one holder at a time.
//
// Fields:
//  SeatID      – seat identifier from the catalog.
//  ShowID      – show the lease belongs to.
//  Status      – AVAILABLE | HELD | SOLD | BLOCKED.
//  HolderID    – client holding the seat; zero when not HELD.
//  AcquiredAt  – when the current hold was taken; zero when not HELD.
//  TTLDeadline – authoritative expiry of the current hold.
type SeatLease struct {
	SeatID      uint64     // catalog seat id
	ShowID      uint64     // owning show
	Status      SeatStatus // current status
	HolderID    uint64     // current holder, 0 when none
	AcquiredAt  time.Time  // hold start
	TTLDeadline time.Time  // hold expiry deadline
}

// SelectCode classifies the outcome of a seat operation.  These are
// expected, user-recoverable results and are returned as values rather
// than errors so the client state machine can branch deterministically.
type SelectCode string

const (
	CodeOK            SelectCode = "OK"             // operation succeeded
	CodeNoSession     SelectCode = "NO_SESSION"     // no ready, bot-verified ticket
	CodeAlreadyBooked SelectCode = "ALREADY_BOOKED" // client already confirmed this show
	CodeUnavailable   SelectCode = "UNAVAILABLE"    // seat not AVAILABLE
	CodeLimitExceeded SelectCode = "LIMIT_EXCEEDED" // per-client hold cap reached
	CodeInvalidSeat   SelectCode = "INVALID_SEAT"   // seat unknown to the show
	CodeRestricted    SelectCode = "RESTRICTED"     // seat BLOCKED by eligibility window
	CodeStaleHold     SelectCode = "STALE_HOLD"     // confirm found a seat not held by caller
)

// SelectResult is the typed outcome of select/release/confirm calls.
type SelectResult struct {
	OK   bool       // true only when Code is OK
	Code SelectCode // outcome classification
}

// selectOK is the shared success result.
var selectOK = SelectResult{OK: true, Code: CodeOK}

// ResultOK returns the success result.
func ResultOK() SelectResult { return selectOK }

// ResultFail builds a failure result for the given code.
func ResultFail(code SelectCode) SelectResult { return SelectResult{OK: false, Code: code} }
