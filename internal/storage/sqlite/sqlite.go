// Package sqlite implements the Inventory Store on SQLite.
//
// The handle must be opened with _txlock=immediate (see database.SQLiteDSN):
// the booking protocol relies on BEGIN IMMEDIATE taking the write lock up front.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/ticket-inventory/internal/model"
	"github.com/Shivanand-hulikatti/ticket-inventory/internal/storage"
	"github.com/mattn/go-sqlite3"
)

type Storage struct {
	db *sql.DB
}

func New(db *sql.DB) *Storage {
	return &Storage{db: db}
}

const eventColumns = "id, name, date, capacity, remaining, created_at"

func (s *Storage) CreateEvent(ctx context.Context, ev storage.NewEvent) (*model.Event, error) {
	const op = "storage.sqlite.CreateEvent"

	event := &model.Event{
		Name:      ev.Name,
		Date:      ev.Date.UTC(),
		Capacity:  ev.Capacity,
		Remaining: ev.Capacity,
		CreatedAt: time.Now().UTC(),
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events (name, date, capacity, remaining, created_at) VALUES (?, ?, ?, ?, ?)`,
		event.Name, event.Date, event.Capacity, event.Remaining, event.CreatedAt,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrEventExists)
		}
		return nil, wrap(op, err)
	}
	if event.ID, err = res.LastInsertId(); err != nil {
		return nil, wrap(op, err)
	}
	return event, nil
}

func (s *Storage) Event(ctx context.Context, id int64) (*model.Event, error) {
	const op = "storage.sqlite.Event"

	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	event, err := scanEvent(row)
	if err != nil {
		return nil, wrap(op, err)
	}
	return event, nil
}

func (s *Storage) EventByName(ctx context.Context, name string) (*model.Event, error) {
	const op = "storage.sqlite.EventByName"

	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE LOWER(name) = LOWER(?)`, name)
	event, err := scanEvent(row)
	if err != nil {
		return nil, wrap(op, err)
	}
	return event, nil
}

func (s *Storage) ListEvents(ctx context.Context) ([]model.Event, error) {
	const op = "storage.sqlite.ListEvents"

	rows, err := s.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM events ORDER BY date ASC, id ASC`)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, wrap(op, err)
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return events, nil
}

func (s *Storage) Remaining(ctx context.Context, eventID int64) (int, error) {
	const op = "storage.sqlite.Remaining"
	return remaining(ctx, s.db, op, eventID)
}

func (s *Storage) CreateReservation(ctx context.Context, eventID int64, tickets int) (*model.Reservation, error) {
	const op = "storage.sqlite.CreateReservation"

	r := &model.Reservation{
		EventID:   eventID,
		Tickets:   tickets,
		CreatedAt: time.Now().UTC(),
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reservations (event_id, tickets, created_at) VALUES (?, ?, ?)`,
		r.EventID, r.Tickets, r.CreatedAt,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}
		return nil, wrap(op, err)
	}
	if r.ID, err = res.LastInsertId(); err != nil {
		return nil, wrap(op, err)
	}
	return r, nil
}

func (s *Storage) Reservation(ctx context.Context, id int64) (*model.Reservation, error) {
	const op = "storage.sqlite.Reservation"
	return reservation(ctx, s.db, op, id)
}

func (s *Storage) DeleteReservation(ctx context.Context, id int64) error {
	const op = "storage.sqlite.DeleteReservation"

	n, err := deleteReservation(ctx, s.db, op, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	return nil
}

func (s *Storage) ListBookings(ctx context.Context, eventID int64) ([]model.Booking, error) {
	const op = "storage.sqlite.ListBookings"

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, reference, event_id, tickets, created_at
		 FROM bookings
		 WHERE event_id = ?
		 ORDER BY id ASC`,
		eventID,
	)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()

	var bookings []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, wrap(op, err)
		}
		bookings = append(bookings, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return bookings, nil
}

func (s *Storage) BeginImmediate(ctx context.Context) (storage.Tx, error) {
	const op = "storage.sqlite.BeginImmediate"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrap(op, err)
	}
	return &Tx{tx: tx}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

// Tx is a single BEGIN IMMEDIATE transaction.
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) Remaining(ctx context.Context, eventID int64) (int, error) {
	const op = "storage.sqlite.Tx.Remaining"
	return remaining(ctx, t.tx, op, eventID)
}

func (t *Tx) DecrementRemaining(ctx context.Context, eventID int64, n int) (int64, error) {
	const op = "storage.sqlite.Tx.DecrementRemaining"

	res, err := t.tx.ExecContext(ctx,
		`UPDATE events SET remaining = remaining - ? WHERE id = ? AND remaining >= ?`,
		n, eventID, n,
	)
	if err != nil {
		return 0, wrap(op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, wrap(op, err)
	}
	return affected, nil
}

func (t *Tx) InsertBooking(ctx context.Context, eventID int64, tickets int, reference string) (int64, error) {
	const op = "storage.sqlite.Tx.InsertBooking"

	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO bookings (reference, event_id, tickets, created_at) VALUES (?, ?, ?, ?)`,
		reference, eventID, tickets, time.Now().UTC(),
	)
	if err != nil {
		return 0, wrap(op, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, wrap(op, err)
	}
	return id, nil
}

func (t *Tx) Booking(ctx context.Context, id int64) (*model.Booking, error) {
	const op = "storage.sqlite.Tx.Booking"

	row := t.tx.QueryRowContext(ctx,
		`SELECT id, reference, event_id, tickets, created_at FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row)
	if err != nil {
		return nil, wrap(op, err)
	}
	return b, nil
}

func (t *Tx) Reservation(ctx context.Context, id int64) (*model.Reservation, error) {
	const op = "storage.sqlite.Tx.Reservation"
	return reservation(ctx, t.tx, op, id)
}

func (t *Tx) DeleteReservation(ctx context.Context, id int64) (int64, error) {
	const op = "storage.sqlite.Tx.DeleteReservation"
	return deleteReservation(ctx, t.tx, op, id)
}

func (t *Tx) Commit(_ context.Context) error {
	const op = "storage.sqlite.Tx.Commit"

	if err := t.tx.Commit(); err != nil {
		return wrap(op, err)
	}
	return nil
}

func (t *Tx) Rollback(_ context.Context) error {
	const op = "storage.sqlite.Tx.Rollback"

	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return wrap(op, err)
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func remaining(ctx context.Context, q querier, op string, eventID int64) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT remaining FROM events WHERE id = ?`, eventID).Scan(&n); err != nil {
		return 0, wrap(op, err)
	}
	return n, nil
}

func reservation(ctx context.Context, q querier, op string, id int64) (*model.Reservation, error) {
	var r model.Reservation
	err := q.QueryRowContext(ctx,
		`SELECT id, event_id, tickets, created_at FROM reservations WHERE id = ?`, id,
	).Scan(&r.ID, &r.EventID, &r.Tickets, &r.CreatedAt)
	if err != nil {
		return nil, wrap(op, err)
	}
	return &r, nil
}

func deleteReservation(ctx context.Context, q querier, op string, id int64) (int64, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM reservations WHERE id = ?`, id)
	if err != nil {
		return 0, wrap(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrap(op, err)
	}
	return n, nil
}

func scanEvent(row scanner) (*model.Event, error) {
	var e model.Event
	if err := row.Scan(&e.ID, &e.Name, &e.Date, &e.Capacity, &e.Remaining, &e.CreatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func scanBooking(row scanner) (*model.Booking, error) {
	var b model.Booking
	if err := row.Scan(&b.ID, &b.Reference, &b.EventID, &b.Tickets, &b.CreatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

// wrap maps sql.ErrNoRows to storage.ErrNotFound and SQLITE_BUSY/SQLITE_LOCKED
// to storage.ErrWriteConflict.
func wrap(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	if isBusy(err) {
		return fmt.Errorf("%s: %w: %w", op, storage.ErrWriteConflict, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}
