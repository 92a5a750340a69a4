// Package repository provides MySQL data access for the catalog
// (shows, zones, seats) and for committed reservations.  Sentinel
// errors defined here let handlers map failure scenarios onto HTTP
// status codes with errors.Is instead of string matching.
package repository

import "errors"

// ErrShowNotFound is returned when a show id does not exist in the
// catalog.  Handlers translate this into a 404 response; for enqueue
// it is fatal to the caller per the admission protocol.
var ErrShowNotFound = errors.New("show not found")

// ErrZoneNotFound is returned when a zone id does not exist.
var ErrZoneNotFound = errors.New("zone not found")

// ErrReservationNotFound is returned when a reservation does not exist
// or is not visible to the requesting client.
var ErrReservationNotFound = errors.New("reservation not found")

// ErrSeatConflict is returned when the durable store rejects a
// reservation because one of its seats is already sold.  This is the
// database-level backstop behind the in-memory single-holder check.
var ErrSeatConflict = errors.New("seat already sold")
