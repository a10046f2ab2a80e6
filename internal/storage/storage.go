// Package storage defines the Inventory Store contract shared by the
// PostgreSQL and SQLite backends.
//
// The store surfaces failures but never retries them. A failure caused by
// concurrent writers is wrapped with ErrWriteConflict so callers can tell
// contention apart from every other storage fault.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/Shivanand-hulikatti/ticket-inventory/internal/model"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrEventExists   = errors.New("event already exists")
	ErrWriteConflict = errors.New("write conflict")
)

// NewEvent holds the fields of an event about to be created.
type NewEvent struct {
	Name     string
	Date     time.Time
	Capacity int
}

// Store is the durable inventory of events, reservations and bookings.
//
// Methods outside of a Tx are single statements; only a Tx may change
// an event's remaining counter.
type Store interface {
	CreateEvent(ctx context.Context, ev NewEvent) (*model.Event, error)
	Event(ctx context.Context, id int64) (*model.Event, error)
	// EventByName matches names case-insensitively.
	EventByName(ctx context.Context, name string) (*model.Event, error)
	ListEvents(ctx context.Context) ([]model.Event, error)
	Remaining(ctx context.Context, eventID int64) (int, error)

	CreateReservation(ctx context.Context, eventID int64, tickets int) (*model.Reservation, error)
	Reservation(ctx context.Context, id int64) (*model.Reservation, error)
	DeleteReservation(ctx context.Context, id int64) error

	ListBookings(ctx context.Context, eventID int64) ([]model.Booking, error)

	// BeginImmediate opens a transaction that has declared write intent, so
	// contention shows up at the first statement rather than at commit.
	BeginImmediate(ctx context.Context) (Tx, error)

	Close() error
}

// Tx is one attempt of the booking protocol.
type Tx interface {
	Remaining(ctx context.Context, eventID int64) (int, error)
	// DecrementRemaining lowers remaining by n only if remaining >= n and
	// reports the number of rows affected (0 or 1).
	DecrementRemaining(ctx context.Context, eventID int64, n int) (int64, error)
	InsertBooking(ctx context.Context, eventID int64, tickets int, reference string) (int64, error)
	Booking(ctx context.Context, id int64) (*model.Booking, error)
	Reservation(ctx context.Context, id int64) (*model.Reservation, error)
	DeleteReservation(ctx context.Context, id int64) (int64, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// IsWriteConflict reports whether err was caused by concurrent writers.
func IsWriteConflict(err error) bool {
	return errors.Is(err, ErrWriteConflict)
}
