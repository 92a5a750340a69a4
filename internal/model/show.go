package model

import "time"

// Show is the catalog entry for a single performance whose seats are
// managed by the lease pool.
//
// Fields:
//  ID       – primary key identifier.
//  Title    – display title.
//  StartsAt – performance start time, UTC.
//  OnSale   – false while the show is not accepting queue entries.
type Show struct {
	ID       uint64    // shows.id
	Title    string    // shows.title
	StartsAt time.Time // shows.starts_at
	OnSale   bool      // shows.on_sale
}

// Zone is a group of seats sold together, optionally time-gated.  A
// zone whose OpensAt lies in the future keeps all of its seats in the
// BLOCKED status; the exact unlock lead is a product policy parameter
// applied by the lease manager, not a protocol constant.
//
// Fields:
//  ID      – primary key identifier.
//  ShowID  – owning show.
//  Name    – display name (e.g. "Balcony").
//  OpensAt – when the zone becomes holdable; zero means open from setup.
type Zone struct {
	ID      uint64    // zones.id
	ShowID  uint64    // zones.show_id
	Name    string    // zones.name
	OpensAt time.Time // zones.opens_at; zero value = always open
}

// Seat is one physical seat in the catalog.
//
// Fields:
//  ID     – primary key identifier.
//  ZoneID – zone the seat belongs to.
//  ShowID – owning show (denormalised for lease-pool loading).
//  Label  – human-readable label such as "B12".
type Seat struct {
	ID     uint64 // seats.id
	ZoneID uint64 // seats.zone_id
	ShowID uint64 // seats.show_id
	Label  string // seats.label
}
