package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"

	"github.com/showgate/showgate/internal/model"
)

// mysqlDupEntry is the MySQL error number for a unique-key violation.
const mysqlDupEntry = 1062

// ReservationRepo persists committed reservations.  The
// reservation_seats table carries a unique key on (show_id, seat_id),
// so even if two processes ever raced on the same seat the database
// would reject the second commit; the in-memory lease pool makes that
// race unreachable in a single process.
type ReservationRepo struct {
	db *sql.DB
}

// NewReservationRepo returns a ReservationRepo bound to the database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

// Create writes the reservation and all of its seats in one
// transaction.  Partial success is impossible: any failure rolls the
// whole reservation back and the caller's holds remain authoritative.
// A unique-key violation surfaces as ErrSeatConflict.
func (r *ReservationRepo) Create(ctx context.Context, res *model.Reservation) error {
	if len(res.SeatIDs) == 0 {
		return errors.New("reservation must cover at least one seat")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	const ins = `INSERT INTO reservations (id, client_id, show_id, confirmed_at) VALUES (?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, ins, res.ID, res.ClientID, res.ShowID, res.ConfirmedAt.UTC()); err != nil {
		return wrapDup(err)
	}

	query := `INSERT INTO reservation_seats (reservation_id, show_id, seat_id) VALUES `
	args := make([]interface{}, 0, len(res.SeatIDs)*3)
	for i, sid := range res.SeatIDs {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?)"
		args = append(args, res.ID, res.ShowID, sid)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return wrapDup(err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// GetByIDForClient loads a reservation owned by the given client.
// Reservations of other clients are indistinguishable from missing
// ones, so ownership is enforced in the query itself.
func (r *ReservationRepo) GetByIDForClient(ctx context.Context, id string, clientID uint64) (*model.Reservation, error) {
	const q = `SELECT id, client_id, show_id, confirmed_at FROM reservations WHERE id = ? AND client_id = ?`
	var res model.Reservation
	err := r.db.QueryRowContext(ctx, q, id, clientID).Scan(&res.ID, &res.ClientID, &res.ShowID, &res.ConfirmedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReservationNotFound
	}
	if err != nil {
		return nil, err
	}
	const qs = `SELECT seat_id FROM reservation_seats WHERE reservation_id = ? ORDER BY seat_id`
	rows, err := r.db.QueryContext(ctx, qs, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var sid uint64
		if err := rows.Scan(&sid); err != nil {
			return nil, err
		}
		res.SeatIDs = append(res.SeatIDs, sid)
	}
	return &res, rows.Err()
}

// ListByShow loads every reservation of a show, used at startup to
// replay SOLD seats into the freshly loaded lease pool.
func (r *ReservationRepo) ListByShow(ctx context.Context, showID uint64) ([]model.Reservation, error) {
	const q = `SELECT r.id, r.client_id, r.show_id, r.confirmed_at, rs.seat_id
			   FROM reservations r
			   JOIN reservation_seats rs ON rs.reservation_id = r.id
			   WHERE r.show_id = ?
			   ORDER BY r.id, rs.seat_id`
	rows, err := r.db.QueryContext(ctx, q, showID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Reservation
	byID := make(map[string]int)
	for rows.Next() {
		var (
			res model.Reservation
			sid uint64
		)
		if err := rows.Scan(&res.ID, &res.ClientID, &res.ShowID, &res.ConfirmedAt, &sid); err != nil {
			return nil, err
		}
		if i, ok := byID[res.ID]; ok {
			out[i].SeatIDs = append(out[i].SeatIDs, sid)
			continue
		}
		res.SeatIDs = []uint64{sid}
		byID[res.ID] = len(out)
		out = append(out, res)
	}
	return out, rows.Err()
}

// wrapDup maps MySQL duplicate-key errors onto ErrSeatConflict.
func wrapDup(err error) error {
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == mysqlDupEntry {
		return ErrSeatConflict
	}
	return err
}
