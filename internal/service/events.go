// Package service implements the ticket inventory engine on top of the
// Inventory Store: the event catalogue, the Reservation Manager and the
// Booking Engine.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Shivanand-hulikatti/ticket-inventory/internal/model"
	"github.com/Shivanand-hulikatti/ticket-inventory/internal/storage"
)

// ErrInvalidRequest wraps every validation failure.
var ErrInvalidRequest = errors.New("invalid request")

const maxCapacity = 100_000

// EventService manages the event catalogue.
type EventService struct {
	store storage.Store
}

func NewEventService(store storage.Store) *EventService {
	return &EventService{store: store}
}

// Create validates the request and inserts an event whose remaining count
// starts at its capacity.
func (s *EventService) Create(ctx context.Context, req model.CreateEventRequest) (*model.Event, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, fmt.Errorf("%w: event name is required", ErrInvalidRequest)
	}
	if req.Date.IsZero() {
		return nil, fmt.Errorf("%w: event date is required", ErrInvalidRequest)
	}
	if req.Capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity must be a positive integer", ErrInvalidRequest)
	}
	if req.Capacity > maxCapacity {
		return nil, fmt.Errorf("%w: capacity cannot exceed 100,000", ErrInvalidRequest)
	}

	event, err := s.store.CreateEvent(ctx, storage.NewEvent{
		Name:     req.Name,
		Date:     req.Date,
		Capacity: req.Capacity,
	})
	if err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	return event, nil
}

func (s *EventService) List(ctx context.Context) ([]model.Event, error) {
	return s.store.ListEvents(ctx)
}

// Get returns one event or an error wrapping storage.ErrNotFound.
func (s *EventService) Get(ctx context.Context, id int64) (*model.Event, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: event id must be positive", ErrInvalidRequest)
	}
	return s.store.Event(ctx, id)
}

// Bookings returns the booking ledger of an event.
func (s *EventService) Bookings(ctx context.Context, eventID int64) ([]model.Booking, error) {
	if _, err := s.Get(ctx, eventID); err != nil {
		return nil, err
	}
	return s.store.ListBookings(ctx, eventID)
}
