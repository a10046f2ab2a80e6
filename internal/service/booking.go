package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Shivanand-hulikatti/ticket-inventory/internal/contention"
	"github.com/Shivanand-hulikatti/ticket-inventory/internal/metrics"
	"github.com/Shivanand-hulikatti/ticket-inventory/internal/model"
	"github.com/Shivanand-hulikatti/ticket-inventory/internal/notify"
	"github.com/Shivanand-hulikatti/ticket-inventory/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	opBook     = "book"
	opPurchase = "purchase"
	opConfirm  = "confirm"
)

// ResultObserver counts the final result of each engine call.
type ResultObserver interface {
	ObserveResult(op, result string)
}

type nopResultObserver struct{}

func (nopResultObserver) ObserveResult(string, string) {}

// Reasons an attempt ends without a booking. They never leave this package.
var (
	errNoSuchEvent       = errors.New("no such event")
	errNoSuchReservation = errors.New("no such reservation")
	errNotEnoughTickets  = errors.New("not enough tickets")
)

// BookingEngine is the only writer of an event's remaining count. Direct
// bookings and reservation confirmations share one transaction protocol and
// every attempt runs under the contention controller.
type BookingEngine struct {
	store     storage.Store
	ctrl      *contention.Controller
	log       zerolog.Logger
	publisher notify.Publisher
	observer  ResultObserver
	reference func() string
}

type BookingOption func(*BookingEngine)

func WithPublisher(p notify.Publisher) BookingOption {
	return func(e *BookingEngine) {
		e.publisher = p
	}
}

func WithResultObserver(o ResultObserver) BookingOption {
	return func(e *BookingEngine) {
		e.observer = o
	}
}

func NewBookingEngine(store storage.Store, ctrl *contention.Controller, log zerolog.Logger, opts ...BookingOption) *BookingEngine {
	e := &BookingEngine{
		store:     store,
		ctrl:      ctrl,
		log:       log,
		publisher: notify.Nop{},
		observer:  nopResultObserver{},
		reference: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// BookByName books tickets for the event called eventName (case-insensitive).
// It returns nil without an error when the event does not exist or has
// fewer than tickets remaining at commit time.
func (e *BookingEngine) BookByName(ctx context.Context, eventName string, tickets int) (*model.Booking, error) {
	eventName = strings.TrimSpace(eventName)
	if err := validateTicketRequest(eventName, tickets); err != nil {
		return nil, err
	}

	log := e.log.With().Str("op", opBook).Str("event", eventName).Int("tickets", tickets).Logger()

	// Read-only lookup; the transaction re-reads the counter.
	event, err := e.store.EventByName(ctx, eventName)
	if errors.Is(err, storage.ErrNotFound) {
		log.Debug().Msg("booking unavailable: no such event")
		e.observer.ObserveResult(opBook, metrics.ResultUnavailable)
		return nil, nil
	}
	if err != nil {
		e.observer.ObserveResult(opBook, metrics.ResultError)
		return nil, fmt.Errorf("book: %w", err)
	}

	return e.run(ctx, opBook, target{eventID: event.ID, tickets: tickets}, log)
}

// BookByID books tickets for the event with the given id. The event is only
// read inside the transaction, so an unknown id returns nil without an error.
func (e *BookingEngine) BookByID(ctx context.Context, eventID int64, tickets int) (*model.Booking, error) {
	if eventID <= 0 {
		return nil, fmt.Errorf("%w: event id must be positive", ErrInvalidRequest)
	}
	if tickets <= 0 {
		return nil, fmt.Errorf("%w: tickets must be a positive integer", ErrInvalidRequest)
	}

	log := e.log.With().Str("op", opPurchase).Int64("event_id", eventID).Int("tickets", tickets).Logger()
	return e.run(ctx, opPurchase, target{eventID: eventID, tickets: tickets}, log)
}

// ConfirmReservation turns a reservation into a booking and deletes the
// reservation in the same transaction. It returns nil without an error when
// the reservation does not exist (including when it was already confirmed)
// or its event no longer has enough tickets.
func (e *BookingEngine) ConfirmReservation(ctx context.Context, reservationID int64) (*model.Booking, error) {
	if reservationID <= 0 {
		return nil, fmt.Errorf("%w: reservation id must be positive", ErrInvalidRequest)
	}

	log := e.log.With().Str("op", opConfirm).Int64("reservation_id", reservationID).Logger()
	return e.run(ctx, opConfirm, target{reservationID: reservationID}, log)
}

// target is what one booking transaction acts on. When reservationID is set
// the event and ticket count are read from the reservation inside the
// transaction.
type target struct {
	eventID       int64
	tickets       int
	reservationID int64
}

func (e *BookingEngine) run(ctx context.Context, op string, t target, log zerolog.Logger) (*model.Booking, error) {
	var (
		booking *model.Booking
		reason  error
	)

	outcome, err := e.ctrl.Do(ctx, op, func(ctx context.Context, attempt int) (contention.Outcome, error) {
		b, err := e.attempt(ctx, t)
		switch {
		case err == nil:
			booking = b
			return contention.Committed, nil
		case errors.Is(err, errNoSuchEvent),
			errors.Is(err, errNoSuchReservation),
			errors.Is(err, errNotEnoughTickets):
			reason = err
			return contention.Unavailable, nil
		default:
			return contention.Classify(err), err
		}
	})

	switch outcome {
	case contention.Committed:
		log.Info().
			Int64("booking_id", booking.ID).
			Str("reference", booking.Reference).
			Int64("event_id", booking.EventID).
			Int("tickets", booking.Tickets).
			Msg("booking committed")
		e.observer.ObserveResult(op, metrics.ResultBooked)
		e.publish(ctx, booking, t.reservationID, log)
		return booking, nil
	case contention.Unavailable:
		log.Debug().Str("reason", reason.Error()).Msg("booking unavailable")
		e.observer.ObserveResult(op, metrics.ResultUnavailable)
		return nil, nil
	default:
		log.Error().Err(err).Str("outcome", outcome.String()).Msg("booking failed")
		e.observer.ObserveResult(op, metrics.ResultError)
		return nil, err
	}
}

// attempt runs the booking protocol once inside a fresh transaction:
// check availability, conditionally decrement, insert the booking, delete the
// reservation if confirming one, commit. Anything short of a commit is
// rolled back.
func (e *BookingEngine) attempt(ctx context.Context, t target) (*model.Booking, error) {
	tx, err := e.store.BeginImmediate(ctx)
	if err != nil {
		return nil, err
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			e.log.Warn().Err(rbErr).Msg("rollback failed")
		}
	}()

	eventID, tickets := t.eventID, t.tickets
	if t.reservationID != 0 {
		r, err := tx.Reservation(ctx, t.reservationID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errNoSuchReservation
		}
		if err != nil {
			return nil, err
		}
		eventID, tickets = r.EventID, r.Tickets
	}

	remaining, err := tx.Remaining(ctx, eventID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, errNoSuchEvent
	}
	if err != nil {
		return nil, err
	}
	if remaining < tickets {
		return nil, errNotEnoughTickets
	}

	affected, err := tx.DecrementRemaining(ctx, eventID, tickets)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, errNotEnoughTickets
	}

	bookingID, err := tx.InsertBooking(ctx, eventID, tickets, e.reference())
	if err != nil {
		return nil, err
	}

	if t.reservationID != 0 {
		deleted, err := tx.DeleteReservation(ctx, t.reservationID)
		if err != nil {
			return nil, err
		}
		if deleted == 0 {
			return nil, errNoSuchReservation
		}
	}

	booking, err := tx.Booking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	committed = true
	return booking, nil
}

// publish announces a committed booking. Failures are logged only; the
// booking stands regardless.
func (e *BookingEngine) publish(ctx context.Context, b *model.Booking, reservationID int64, log zerolog.Logger) {
	if err := e.publisher.BookingConfirmed(context.WithoutCancel(ctx), b, reservationID); err != nil {
		log.Warn().Err(err).Int64("booking_id", b.ID).Msg("failed to publish booking notification")
	}
}
