// Package queue defines message payloads exchanged over the message
// broker and the background consumer that processes them.
package queue

// ReservationConfirmedEvent is published when a confirm call commits.
// It carries enough for downstream consumers (notification delivery,
// analytics) to act without querying the primary database.
type ReservationConfirmedEvent struct {
	ReservationID string   `json:"reservation_id"`
	ClientID      uint64   `json:"client_id"`
	ShowID        uint64   `json:"show_id"`
	SeatIDs       []uint64 `json:"seat_ids"`
	ConfirmedAt   string   `json:"confirmed_at"`
}
