package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/showgate/showgate/internal/model"
)

// ShowRepo provides read access to the show catalog: shows, their
// zones and their seats.  The catalog is written by back-office
// tooling outside this service; here it is only read, at startup to
// load lease pools and at request time for browse endpoints.
type ShowRepo struct {
	db *sql.DB
}

// NewShowRepo returns a ShowRepo bound to the provided database.
func NewShowRepo(db *sql.DB) *ShowRepo { return &ShowRepo{db: db} }

// DB exposes the underlying handle so callers can open transactions
// that span repositories.
func (r *ShowRepo) DB() *sql.DB { return r.db }

// GetByID loads one show.  Returns ErrShowNotFound when absent.
func (r *ShowRepo) GetByID(ctx context.Context, showID uint64) (*model.Show, error) {
	const q = `SELECT id, title, starts_at, on_sale FROM shows WHERE id = ?`
	var s model.Show
	err := r.db.QueryRowContext(ctx, q, showID).Scan(&s.ID, &s.Title, &s.StartsAt, &s.OnSale)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrShowNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListOnSale returns every show currently accepting queue entries.
// Used at startup to decide which lease pools to load.
func (r *ShowRepo) ListOnSale(ctx context.Context) ([]model.Show, error) {
	const q = `SELECT id, title, starts_at, on_sale FROM shows WHERE on_sale = 1 ORDER BY starts_at`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Show
	for rows.Next() {
		var s model.Show
		if err := rows.Scan(&s.ID, &s.Title, &s.StartsAt, &s.OnSale); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListZones returns the zones of a show with their opens_at gates.  A
// NULL opens_at scans as the zero time, meaning open from setup.
func (r *ShowRepo) ListZones(ctx context.Context, showID uint64) ([]model.Zone, error) {
	const q = `SELECT id, show_id, name, COALESCE(opens_at, '0001-01-01') FROM zones WHERE show_id = ? ORDER BY id`
	rows, err := r.db.QueryContext(ctx, q, showID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Zone
	for rows.Next() {
		var z model.Zone
		if err := rows.Scan(&z.ID, &z.ShowID, &z.Name, &z.OpensAt); err != nil {
			return nil, err
		}
		out = append(out, z)
	}
	return out, rows.Err()
}

// ListSeats returns every seat of a show, across all zones.
func (r *ShowRepo) ListSeats(ctx context.Context, showID uint64) ([]model.Seat, error) {
	const q = `SELECT id, zone_id, show_id, label FROM seats WHERE show_id = ? ORDER BY id`
	return r.scanSeats(r.db.QueryContext(ctx, q, showID))
}

// ListSeatsByZone returns the seats of one zone, for the browse
// endpoint that renders a zone's seating map.  Returns ErrZoneNotFound
// when the zone does not exist, distinguishing it from an empty zone.
func (r *ShowRepo) ListSeatsByZone(ctx context.Context, zoneID uint64) ([]model.Seat, error) {
	var exists int
	if err := r.db.QueryRowContext(ctx, `SELECT 1 FROM zones WHERE id = ?`, zoneID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrZoneNotFound
		}
		return nil, err
	}
	const q = `SELECT id, zone_id, show_id, label FROM seats WHERE zone_id = ? ORDER BY id`
	return r.scanSeats(r.db.QueryContext(ctx, q, zoneID))
}

func (r *ShowRepo) scanSeats(rows *sql.Rows, err error) ([]model.Seat, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Seat
	for rows.Next() {
		var s model.Seat
		if err := rows.Scan(&s.ID, &s.ZoneID, &s.ShowID, &s.Label); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
