package model

import "time"

// TicketState enumerates the lifecycle of a queue ticket.  A ticket is
// WAITING from the moment it is enqueued until the admission queue
// promotes it, READY while its holder may attempt checkout, and
// terminal (EXPIRED or LEFT) afterwards.
type TicketState string

const (
	TicketWaiting TicketState = "WAITING" // queued, not yet admitted
	TicketReady   TicketState = "READY"   // admitted, ready window running
	TicketExpired TicketState = "EXPIRED" // ready window elapsed unused
	TicketLeft    TicketState = "LEFT"    // left voluntarily or checkout completed
)

// Terminal reports whether the state can no longer change.
func (s TicketState) Terminal() bool {
	return s == TicketExpired || s == TicketLeft
}

// QueueTicket identifies one (client, show) pair waiting for admission.
// At most one non-terminal ticket may exist per (client, show).
//
// Fields:
//  ID            – opaque ticket identifier returned to the client.
//  ClientID      – authenticated client owning the ticket.
//  ShowID        – show the client is queueing for.
//  State         – current lifecycle state.
//  EnqueuedAt    – when the ticket entered the queue; FIFO order key.
//  ReadyDeadline – end of the ready window; zero unless State is READY.
//  Verified      – true once the bot-check gate has been passed during
//                  the current ready window.
type QueueTicket struct {
	ID            string      // ticket identifier (UUID)
	ClientID      uint64      // owner client
	ShowID        uint64      // show being queued for
	State         TicketState // WAITING | READY | EXPIRED | LEFT
	EnqueuedAt    time.Time   // arrival time, UTC
	ReadyDeadline time.Time   // readyDeadline; set only while READY
	Verified      bool        // bot-check passed in this ready window
}
