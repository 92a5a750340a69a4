package model

import "time"

// Reservation records the committed outcome of confirming one or more
// seat leases.  It is created atomically from a non-empty set of seats
// all HELD by the same client; partial creation is forbidden.
//
// Fields:
//  ID          – reservation identifier (UUID).
//  ClientID    – client the reservation belongs to.
//  ShowID      – show the seats belong to.
//  SeatIDs     – seats flipped HELD→SOLD by this reservation.
//  ConfirmedAt – commit time, UTC.
type Reservation struct {
	ID          string    // reservations.id
	ClientID    uint64    // reservations.client_id
	ShowID      uint64    // reservations.show_id
	SeatIDs     []uint64  // reservation_seats.seat_id rows
	ConfirmedAt time.Time // reservations.confirmed_at
}
