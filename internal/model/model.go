// Package model defines the core domain types for the ticket inventory engine.
package model

import "time"

// Event is a sellable occasion with a finite ticket capacity.
//
// Capacity never changes after creation. Remaining is the live count of unsold
// tickets and is only ever lowered by a committed booking.
type Event struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Date      time.Time `json:"date"`
	Capacity  int       `json:"capacity"`
	Remaining int       `json:"remaining"`
	CreatedAt time.Time `json:"created_at"`
}

// Sold returns the number of tickets already booked.
func (e *Event) Sold() int {
	return e.Capacity - e.Remaining
}

// SoldOut returns true when no tickets remain.
func (e *Event) SoldOut() bool {
	return e.Remaining <= 0
}

// Reservation is a non-binding hold expressing intent to buy. It is never
// deducted from inventory.
type Reservation struct {
	ID        int64     `json:"id"`
	EventID   int64     `json:"event_id"`
	Tickets   int       `json:"tickets"`
	CreatedAt time.Time `json:"created_at"`
}

// Booking is an immutable record of tickets deducted from inventory.
type Booking struct {
	ID        int64     `json:"id"`
	Reference string    `json:"reference"`
	EventID   int64     `json:"event_id"`
	Tickets   int       `json:"tickets"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateEventRequest is the payload for creating a new event.
type CreateEventRequest struct {
	Name     string    `json:"name" validate:"required"`
	Date     time.Time `json:"date"`
	Capacity int       `json:"capacity" validate:"required,gt=0"`
}

// TicketRequest is the payload for booking directly or creating a reservation.
type TicketRequest struct {
	Event   string `json:"event" validate:"required"`
	Tickets int    `json:"tickets" validate:"required,gt=0"`
}

// BookingRequest accepts either a direct booking or a reservation to confirm.
type BookingRequest struct {
	Event         string `json:"event"`
	Tickets       int    `json:"tickets" validate:"omitempty,gt=0"`
	ReservationID int64  `json:"reservationId" validate:"omitempty,gt=0"`
}

// PurchaseRequest is the optional body of a purchase by event id. Tickets
// defaults to one.
type PurchaseRequest struct {
	Tickets int `json:"tickets" validate:"omitempty,gt=0"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
