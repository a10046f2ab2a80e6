package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Shivanand-hulikatti/ticket-inventory/internal/metrics"
	"github.com/Shivanand-hulikatti/ticket-inventory/internal/model"
	"github.com/Shivanand-hulikatti/ticket-inventory/internal/storage"
	"github.com/rs/zerolog"
)

const opReserve = "reserve"

// ReservationManager records intent to buy. A reservation never touches an
// event's remaining count; the availability check in Create is advisory and
// races with every other reservation and booking. Overcommitment is only
// detected when the reservation is confirmed.
//
// Reservations do not expire. They live until confirmed or deleted.
type ReservationManager struct {
	store    storage.Store
	log      zerolog.Logger
	observer ResultObserver
}

func NewReservationManager(store storage.Store, log zerolog.Logger, observer ResultObserver) *ReservationManager {
	if observer == nil {
		observer = nopResultObserver{}
	}
	return &ReservationManager{store: store, log: log, observer: observer}
}

// Create returns nil without an error when the event does not exist or
// currently has fewer than tickets remaining.
func (m *ReservationManager) Create(ctx context.Context, eventName string, tickets int) (*model.Reservation, error) {
	eventName = strings.TrimSpace(eventName)
	if err := validateTicketRequest(eventName, tickets); err != nil {
		return nil, err
	}

	log := m.log.With().Str("op", opReserve).Str("event", eventName).Int("tickets", tickets).Logger()

	event, err := m.store.EventByName(ctx, eventName)
	if errors.Is(err, storage.ErrNotFound) {
		log.Debug().Msg("no such event")
		m.observer.ObserveResult(opReserve, metrics.ResultUnavailable)
		return nil, nil
	}
	if err != nil {
		m.observer.ObserveResult(opReserve, metrics.ResultError)
		return nil, fmt.Errorf("reserve: %w", err)
	}

	if event.Remaining < tickets {
		log.Debug().Int("remaining", event.Remaining).Msg("not enough tickets to reserve")
		m.observer.ObserveResult(opReserve, metrics.ResultUnavailable)
		return nil, nil
	}

	r, err := m.store.CreateReservation(ctx, event.ID, tickets)
	if errors.Is(err, storage.ErrNotFound) {
		// The event disappeared between lookup and insert.
		m.observer.ObserveResult(opReserve, metrics.ResultUnavailable)
		return nil, nil
	}
	if err != nil {
		m.observer.ObserveResult(opReserve, metrics.ResultError)
		return nil, fmt.Errorf("reserve: %w", err)
	}

	log.Info().Int64("reservation_id", r.ID).Msg("reservation created")
	m.observer.ObserveResult(opReserve, metrics.ResultReserved)
	return r, nil
}

// Get returns a reservation or an error wrapping storage.ErrNotFound.
func (m *ReservationManager) Get(ctx context.Context, id int64) (*model.Reservation, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: reservation id must be positive", ErrInvalidRequest)
	}
	return m.store.Reservation(ctx, id)
}

// Delete abandons a reservation. It returns an error wrapping
// storage.ErrNotFound if the reservation was already confirmed or deleted.
func (m *ReservationManager) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: reservation id must be positive", ErrInvalidRequest)
	}
	if err := m.store.DeleteReservation(ctx, id); err != nil {
		return err
	}
	m.log.Info().Int64("reservation_id", id).Msg("reservation deleted")
	return nil
}

func validateTicketRequest(eventName string, tickets int) error {
	if eventName == "" {
		return fmt.Errorf("%w: event is required", ErrInvalidRequest)
	}
	if tickets <= 0 {
		return fmt.Errorf("%w: tickets must be a positive integer", ErrInvalidRequest)
	}
	return nil
}
