// Package postgres implements the Inventory Store on PostgreSQL using pgx
// directly (no ORM).
//
// Booking transactions run at SERIALIZABLE and lock the event row with
// SELECT ... FOR UPDATE before reading the counter. Serialization failures,
// deadlocks and lock timeouts are reported as storage.ErrWriteConflict.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/ticket-inventory/internal/model"
	"github.com/Shivanand-hulikatti/ticket-inventory/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SQLSTATE codes.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
)

type Storage struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// New wraps pool. A positive lockTimeout bounds how long a booking
// transaction waits for the event row lock before reporting a conflict.
func New(pool *pgxpool.Pool, lockTimeout time.Duration) *Storage {
	return &Storage{pool: pool, lockTimeout: lockTimeout}
}

const eventColumns = "id, name, date, capacity, remaining, created_at"

func (s *Storage) CreateEvent(ctx context.Context, ev storage.NewEvent) (*model.Event, error) {
	const op = "storage.postgres.CreateEvent"

	event := &model.Event{
		Name:      ev.Name,
		Date:      ev.Date.UTC(),
		Capacity:  ev.Capacity,
		Remaining: ev.Capacity,
		CreatedAt: time.Now().UTC(),
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO events (name, date, capacity, remaining, created_at)
		 VALUES (@name, @date, @capacity, @remaining, @createdAt)
		 RETURNING id`,
		pgx.NamedArgs{
			"name":      event.Name,
			"date":      event.Date,
			"capacity":  event.Capacity,
			"remaining": event.Remaining,
			"createdAt": event.CreatedAt,
		},
	).Scan(&event.ID)
	if err != nil {
		if pgCode(err) == codeUniqueViolation {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrEventExists)
		}
		return nil, wrap(op, err)
	}
	return event, nil
}

func (s *Storage) Event(ctx context.Context, id int64) (*model.Event, error) {
	const op = "storage.postgres.Event"

	event, err := scanEvent(s.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	if err != nil {
		return nil, wrap(op, err)
	}
	return event, nil
}

func (s *Storage) EventByName(ctx context.Context, name string) (*model.Event, error) {
	const op = "storage.postgres.EventByName"

	event, err := scanEvent(s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE LOWER(name) = LOWER($1)`, name))
	if err != nil {
		return nil, wrap(op, err)
	}
	return event, nil
}

func (s *Storage) ListEvents(ctx context.Context) ([]model.Event, error) {
	const op = "storage.postgres.ListEvents"

	rows, err := s.pool.Query(ctx, `SELECT `+eventColumns+` FROM events ORDER BY date ASC, id ASC`)
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
	const op = "storage.postgres.Remaining"

	var n int
	if err := s.pool.QueryRow(ctx, `SELECT remaining FROM events WHERE id = $1`, eventID).Scan(&n); err != nil {
		return 0, wrap(op, err)
	}
	return n, nil
}

func (s *Storage) CreateReservation(ctx context.Context, eventID int64, tickets int) (*model.Reservation, error) {
	const op = "storage.postgres.CreateReservation"

	r := &model.Reservation{
		EventID:   eventID,
		Tickets:   tickets,
		CreatedAt: time.Now().UTC(),
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO reservations (event_id, tickets, created_at) VALUES ($1, $2, $3) RETURNING id`,
		r.EventID, r.Tickets, r.CreatedAt,
	).Scan(&r.ID)
	if err != nil {
		if pgCode(err) == codeForeignKeyViolation {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}
		return nil, wrap(op, err)
	}
	return r, nil
}

func (s *Storage) Reservation(ctx context.Context, id int64) (*model.Reservation, error) {
	const op = "storage.postgres.Reservation"
	return reservation(ctx, s.pool, op, id, false)
}

func (s *Storage) DeleteReservation(ctx context.Context, id int64) error {
	const op = "storage.postgres.DeleteReservation"

	tag, err := s.pool.Exec(ctx, `DELETE FROM reservations WHERE id = $1`, id)
	if err != nil {
		return wrap(op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	return nil
}

func (s *Storage) ListBookings(ctx context.Context, eventID int64) ([]model.Booking, error) {
	const op = "storage.postgres.ListBookings"

	rows, err := s.pool.Query(ctx,
		`SELECT id, reference::text, event_id, tickets, created_at
		 FROM bookings
		 WHERE event_id = $1
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
	const op = "storage.postgres.BeginImmediate"

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, wrap(op, err)
	}
	if s.lockTimeout > 0 {
		// SET does not take bind parameters.
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = %d", s.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			_ = tx.Rollback(ctx)
			return nil, wrap(op, err)
		}
	}
	return &Tx{tx: tx}, nil
}

func (s *Storage) Close() error {
	s.pool.Close()
	return nil
}

// Tx is a single SERIALIZABLE booking transaction.
type Tx struct {
	tx pgx.Tx
}

// Remaining locks the event row so that concurrent bookings for the same
// event queue behind this transaction or fail with a conflict.
func (t *Tx) Remaining(ctx context.Context, eventID int64) (int, error) {
	const op = "storage.postgres.Tx.Remaining"

	var n int
	err := t.tx.QueryRow(ctx, `SELECT remaining FROM events WHERE id = $1 FOR UPDATE`, eventID).Scan(&n)
	if err != nil {
		return 0, wrap(op, err)
	}
	return n, nil
}

func (t *Tx) DecrementRemaining(ctx context.Context, eventID int64, n int) (int64, error) {
	const op = "storage.postgres.Tx.DecrementRemaining"

	tag, err := t.tx.Exec(ctx,
		`UPDATE events SET remaining = remaining - $1 WHERE id = $2 AND remaining >= $1`,
		n, eventID,
	)
	if err != nil {
		return 0, wrap(op, err)
	}
	return tag.RowsAffected(), nil
}

func (t *Tx) InsertBooking(ctx context.Context, eventID int64, tickets int, reference string) (int64, error) {
	const op = "storage.postgres.Tx.InsertBooking"

	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO bookings (reference, event_id, tickets, created_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		reference, eventID, tickets, time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		return 0, wrap(op, err)
	}
	return id, nil
}

func (t *Tx) Booking(ctx context.Context, id int64) (*model.Booking, error) {
	const op = "storage.postgres.Tx.Booking"

	b, err := scanBooking(t.tx.QueryRow(ctx,
		`SELECT id, reference::text, event_id, tickets, created_at FROM bookings WHERE id = $1`, id))
	if err != nil {
		return nil, wrap(op, err)
	}
	return b, nil
}

// Reservation locks the reservation row so that two confirmations of the
// same reservation cannot both proceed.
func (t *Tx) Reservation(ctx context.Context, id int64) (*model.Reservation, error) {
	const op = "storage.postgres.Tx.Reservation"
	return reservation(ctx, t.tx, op, id, true)
}

func (t *Tx) DeleteReservation(ctx context.Context, id int64) (int64, error) {
	const op = "storage.postgres.Tx.DeleteReservation"

	tag, err := t.tx.Exec(ctx, `DELETE FROM reservations WHERE id = $1`, id)
	if err != nil {
		return 0, wrap(op, err)
	}
	return tag.RowsAffected(), nil
}

func (t *Tx) Commit(ctx context.Context) error {
	const op = "storage.postgres.Tx.Commit"

	if err := t.tx.Commit(ctx); err != nil {
		return wrap(op, err)
	}
	return nil
}

func (t *Tx) Rollback(ctx context.Context) error {
	const op = "storage.postgres.Tx.Rollback"

	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return wrap(op, err)
	}
	return nil
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func reservation(ctx context.Context, q rowQuerier, op string, id int64, lock bool) (*model.Reservation, error) {
	query := `SELECT id, event_id, tickets, created_at FROM reservations WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	var r model.Reservation
	if err := q.QueryRow(ctx, query, id).Scan(&r.ID, &r.EventID, &r.Tickets, &r.CreatedAt); err != nil {
		return nil, wrap(op, err)
	}
	return &r, nil
}

func scanEvent(row pgx.Row) (*model.Event, error) {
	var e model.Event
	if err := row.Scan(&e.ID, &e.Name, &e.Date, &e.Capacity, &e.Remaining, &e.CreatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func scanBooking(row pgx.Row) (*model.Booking, error) {
	var b model.Booking
	if err := row.Scan(&b.ID, &b.Reference, &b.EventID, &b.Tickets, &b.CreatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

// wrap maps pgx.ErrNoRows to storage.ErrNotFound and contention SQLSTATEs to
// storage.ErrWriteConflict.
func wrap(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	if isConflict(err) {
		return fmt.Errorf("%s: %w: %w", op, storage.ErrWriteConflict, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isConflict(err error) bool {
	switch pgCode(err) {
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
		return true
	}
	return false
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
