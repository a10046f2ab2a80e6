// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the ticket inventory engine.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/Shivanand-hulikatti/ticket-inventory/internal/model"
	"github.com/Shivanand-hulikatti/ticket-inventory/internal/service"
	"github.com/Shivanand-hulikatti/ticket-inventory/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// EventCatalog is the event side of the API.
type EventCatalog interface {
	Create(ctx context.Context, req model.CreateEventRequest) (*model.Event, error)
	List(ctx context.Context) ([]model.Event, error)
	Get(ctx context.Context, id int64) (*model.Event, error)
	Bookings(ctx context.Context, eventID int64) ([]model.Booking, error)
}

// Booker commits bookings. A nil booking with a nil error means the tickets
// were not available.
type Booker interface {
	BookByName(ctx context.Context, eventName string, tickets int) (*model.Booking, error)
	BookByID(ctx context.Context, eventID int64, tickets int) (*model.Booking, error)
	ConfirmReservation(ctx context.Context, reservationID int64) (*model.Booking, error)
}

// Reserver manages non-binding reservations.
type Reserver interface {
	Create(ctx context.Context, eventName string, tickets int) (*model.Reservation, error)
	Get(ctx context.Context, id int64) (*model.Reservation, error)
	Delete(ctx context.Context, id int64) error
}

const (
	msgBookingUnavailable     = "not enough tickets or event not found"
	msgConfirmUnavailable     = "reservation not found or not enough tickets"
	msgReservationUnavailable = "not enough tickets or event not found"
)

// API holds all HTTP handlers for the ticketing API.
type API struct {
	events       EventCatalog
	bookings     Booker
	reservations Reserver
	validate     *validator.Validate
	log          zerolog.Logger
}

func NewAPI(events EventCatalog, bookings Booker, reservations Reserver, log zerolog.Logger) *API {
	return &API{
		events:       events,
		bookings:     bookings,
		reservations: reservations,
		validate:     validator.New(),
		log:          log,
	}
}

// Routes mounts the API under r.
func (h *API) Routes(r chi.Router) {
	r.Route("/events", func(r chi.Router) {
		r.Post("/", h.CreateEvent)
		r.Get("/", h.ListEvents)
		r.Get("/{id}", h.GetEvent)
		r.Get("/{id}/bookings", h.ListBookings)
		r.Post("/{id}/purchase", h.Purchase)
	})
	r.Post("/bookings", h.Book)
	r.Route("/reservations", func(r chi.Router) {
		r.Post("/", h.Reserve)
		r.Get("/{id}", h.GetReservation)
		r.Delete("/{id}", h.DeleteReservation)
		r.Post("/{id}/confirm", h.ConfirmReservation)
	})
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func idParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// writeServiceError maps engine errors to status codes. Unexpected errors
// are logged and hidden from the client.
func (h *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error, notFound string) {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, notFound)
	case errors.Is(err, storage.ErrEventExists):
		writeError(w, http.StatusConflict, "an event with this name already exists")
	default:
		h.log.Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// ─── Events ───────────────────────────────────────────────────────────────────

// CreateEvent handles POST /events
func (h *API) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req model.CreateEventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	event, err := h.events.Create(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err, "event not found")
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

// ListEvents handles GET /events
func (h *API) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.events.List(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err, "event not found")
		return
	}

	// Return an empty array rather than null for better client compatibility.
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// GetEvent handles GET /events/{id}
func (h *API) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}

	event, err := h.events.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err, "event not found")
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// ListBookings handles GET /events/{id}/bookings
func (h *API) ListBookings(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}

	bookings, err := h.events.Bookings(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err, "event not found")
		return
	}
	if bookings == nil {
		bookings = []model.Booking{}
	}
	writeJSON(w, http.StatusOK, bookings)
}

// ─── Bookings & reservations ──────────────────────────────────────────────────

// Book handles POST /bookings
// The body is either {event, tickets} for a direct booking or
// {reservationId} to confirm a reservation.
func (h *API) Book(w http.ResponseWriter, r *http.Request) {
	var req model.BookingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.ReservationID != 0 {
		if req.Event != "" || req.Tickets != 0 {
			writeError(w, http.StatusBadRequest, "send either event/tickets or reservationId, not both")
			return
		}
		h.confirm(w, r, req.ReservationID)
		return
	}
	if req.Event == "" || req.Tickets == 0 {
		writeError(w, http.StatusBadRequest, "missing event/tickets or reservationId")
		return
	}

	booking, err := h.bookings.BookByName(r.Context(), req.Event, req.Tickets)
	if err != nil {
		h.writeServiceError(w, r, err, msgBookingUnavailable)
		return
	}
	if booking == nil {
		writeError(w, http.StatusConflict, msgBookingUnavailable)
		return
	}
	writeJSON(w, http.StatusCreated, booking)
}

// Purchase handles POST /events/{id}/purchase
// The body is optional; without one a single ticket is bought.
func (h *API) Purchase(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}

	req := model.PurchaseRequest{}
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Tickets == 0 {
		req.Tickets = 1
	}

	booking, err := h.bookings.BookByID(r.Context(), id, req.Tickets)
	if err != nil {
		h.writeServiceError(w, r, err, msgBookingUnavailable)
		return
	}
	if booking == nil {
		writeError(w, http.StatusConflict, msgBookingUnavailable)
		return
	}
	writeJSON(w, http.StatusCreated, booking)
}

// Reserve handles POST /reservations
func (h *API) Reserve(w http.ResponseWriter, r *http.Request) {
	var req model.TicketRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	reservation, err := h.reservations.Create(r.Context(), req.Event, req.Tickets)
	if err != nil {
		h.writeServiceError(w, r, err, msgReservationUnavailable)
		return
	}
	if reservation == nil {
		writeError(w, http.StatusConflict, msgReservationUnavailable)
		return
	}
	writeJSON(w, http.StatusCreated, reservation)
}

// GetReservation handles GET /reservations/{id}
func (h *API) GetReservation(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid reservation id")
		return
	}

	reservation, err := h.reservations.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err, "reservation not found")
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

// DeleteReservation handles DELETE /reservations/{id}
func (h *API) DeleteReservation(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid reservation id")
		return
	}

	if err := h.reservations.Delete(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err, "reservation not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ConfirmReservation handles POST /reservations/{id}/confirm
func (h *API) ConfirmReservation(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid reservation id")
		return
	}
	h.confirm(w, r, id)
}

func (h *API) confirm(w http.ResponseWriter, r *http.Request, reservationID int64) {
	booking, err := h.bookings.ConfirmReservation(r.Context(), reservationID)
	if err != nil {
		h.writeServiceError(w, r, err, msgConfirmUnavailable)
		return
	}
	if booking == nil {
		writeError(w, http.StatusConflict, msgConfirmUnavailable)
		return
	}
	writeJSON(w, http.StatusCreated, booking)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
