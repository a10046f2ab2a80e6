package service_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/ticket-inventory/internal/contention"
	"github.com/Shivanand-hulikatti/ticket-inventory/internal/database"
	"github.com/Shivanand-hulikatti/ticket-inventory/internal/model"
	"github.com/Shivanand-hulikatti/ticket-inventory/internal/service"
	"github.com/Shivanand-hulikatti/ticket-inventory/internal/storage"
	"github.com/Shivanand-hulikatti/ticket-inventory/internal/storage/sqlite"
	"github.com/brianvoe/gofakeit/v7"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newStore returns a migrated SQLite store. busyTimeout lets concurrent
// tests queue on the write lock instead of burning through retries.
func newStore(t *testing.T, busyTimeout time.Duration) storage.Store {
	t.Helper()

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "tickets.db"), busyTimeout)
	require.NoError(t, err)
	require.NoError(t, database.MigrateSQLite(db))

	s := sqlite.New(db)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func noWait(context.Context, time.Duration) error { return nil }

func newEngine(store storage.Store, opts ...service.BookingOption) *service.BookingEngine {
	ctrl := contention.New(contention.DefaultPolicy(), zerolog.Nop(), contention.WithWait(noWait))
	return service.NewBookingEngine(store, ctrl, zerolog.Nop(), opts...)
}

func createEvent(t *testing.T, store storage.Store, name string, capacity int) *model.Event {
	t.Helper()

	ev, err := service.NewEventService(store).Create(context.Background(), model.CreateEventRequest{
		Name:     name,
		Date:     time.Now().Add(30 * 24 * time.Hour),
		Capacity: capacity,
	})
	require.NoError(t, err)
	return ev
}

func requireLedgerBalanced(t *testing.T, store storage.Store, ev *model.Event) {
	t.Helper()
	ctx := context.Background()

	current, err := store.Event(ctx, ev.ID)
	require.NoError(t, err)
	require.GreaterOrEqual(t, current.Remaining, 0)
	require.Equal(t, ev.Capacity, current.Capacity)

	bookings, err := store.ListBookings(ctx, ev.ID)
	require.NoError(t, err)

	booked := 0
	for _, b := range bookings {
		booked += b.Tickets
	}
	require.Equal(t, booked, current.Sold(), "remaining + booked must equal capacity")
	require.Equal(t, current.Remaining == 0, current.SoldOut())
}

func TestBookByName_LastTicketRace(t *testing.T) {
	store := newStore(t, 5*time.Second)
	engine := newEngine(store)
	ev := createEvent(t, store, "Concert A", 1)

	var (
		wg       sync.WaitGroup
		results  [2]*model.Booking
		failures [2]error
	)
	for i := range 2 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], failures[i] = engine.BookByName(context.Background(), "Concert A", 1)
		}(i)
	}
	wg.Wait()

	require.NoError(t, failures[0])
	require.NoError(t, failures[1])

	var booked []*model.Booking
	for _, b := range results {
		if b != nil {
			booked = append(booked, b)
		}
	}
	require.Len(t, booked, 1, "exactly one of two racing bookings wins")
	assert.Equal(t, 1, booked[0].Tickets)
	assert.Equal(t, ev.ID, booked[0].EventID)

	remaining, err := store.Remaining(context.Background(), ev.ID)
	require.NoError(t, err)
	assert.Zero(t, remaining)
	requireLedgerBalanced(t, store, ev)
}

func TestBookByName_NoOversell(t *testing.T) {
	const (
		attempts = 20
		capacity = 7
	)
	store := newStore(t, 5*time.Second)
	engine := newEngine(store)
	ev := createEvent(t, store, gofakeit.Name()+" Tour", capacity)

	var (
		wg          sync.WaitGroup
		booked      atomic.Int32
		unavailable atomic.Int32
		errs        = make(chan error, attempts)
	)
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := engine.BookByName(context.Background(), ev.Name, 1)
			switch {
			case err != nil:
				errs <- err
			case b == nil:
				unavailable.Add(1)
			default:
				booked.Add(1)
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.EqualValues(t, capacity, booked.Load())
	assert.EqualValues(t, attempts-capacity, unavailable.Load())

	remaining, err := store.Remaining(context.Background(), ev.ID)
	require.NoError(t, err)
	assert.Zero(t, remaining)
	requireLedgerBalanced(t, store, ev)
}

func TestBookByName_Unavailable(t *testing.T) {
	store := newStore(t, 0)
	engine := newEngine(store)
	ev := createEvent(t, store, "Concert A", 2)
	ctx := context.Background()

	b, err := engine.BookByName(ctx, "No Such Show", 1)
	require.NoError(t, err)
	assert.Nil(t, b)

	b, err = engine.BookByName(ctx, "Concert A", 3)
	require.NoError(t, err)
	assert.Nil(t, b, "more tickets than remain")

	b, err = engine.BookByName(ctx, "  concert a ", 2)
	require.NoError(t, err)
	require.NotNil(t, b, "name match ignores case and surrounding space")
	assert.NotEmpty(t, b.Reference)

	requireLedgerBalanced(t, store, ev)
}

func TestBookByName_InvalidRequest(t *testing.T) {
	engine := newEngine(newStore(t, 0))
	ctx := context.Background()

	_, err := engine.BookByName(ctx, "Concert A", 0)
	assert.ErrorIs(t, err, service.ErrInvalidRequest)

	_, err = engine.BookByName(ctx, "   ", 1)
	assert.ErrorIs(t, err, service.ErrInvalidRequest)

	_, err = engine.ConfirmReservation(ctx, 0)
	assert.ErrorIs(t, err, service.ErrInvalidRequest)
}

func TestBookByID(t *testing.T) {
	store := newStore(t, 0)
	obs := &recordingObserver{}
	engine := newEngine(store, service.WithResultObserver(obs))
	ev := createEvent(t, store, "Concert A", 2)
	ctx := context.Background()

	b, err := engine.BookByID(ctx, ev.ID, 2)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, ev.ID, b.EventID)
	assert.Equal(t, 2, b.Tickets)

	b, err = engine.BookByID(ctx, ev.ID, 1)
	require.NoError(t, err)
	assert.Nil(t, b, "sold out")

	b, err = engine.BookByID(ctx, ev.ID+100, 1)
	require.NoError(t, err)
	assert.Nil(t, b, "unknown event id")

	_, err = engine.BookByID(ctx, 0, 1)
	assert.ErrorIs(t, err, service.ErrInvalidRequest)
	_, err = engine.BookByID(ctx, ev.ID, 0)
	assert.ErrorIs(t, err, service.ErrInvalidRequest)

	assert.Equal(t, 1, obs.results["purchase/booked"])
	assert.Equal(t, 2, obs.results["purchase/unavailable"])
	requireLedgerBalanced(t, store, ev)
}

func TestBookByID_NoOversell(t *testing.T) {
	const (
		attempts = 12
		capacity = 5
	)
	store := newStore(t, 5*time.Second)
	engine := newEngine(store)
	ev := createEvent(t, store, gofakeit.Name()+" Matinee", capacity)

	var (
		wg     sync.WaitGroup
		booked atomic.Int32
	)
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := engine.BookByID(context.Background(), ev.ID, 1)
			assert.NoError(t, err)
			if b != nil {
				booked.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, capacity, booked.Load())
	requireLedgerBalanced(t, store, ev)
}

func TestReserveThenConfirm(t *testing.T) {
	store := newStore(t, 0)
	engine := newEngine(store)
	reservations := service.NewReservationManager(store, zerolog.Nop(), nil)
	ev := createEvent(t, store, "Concert A", 1)
	ctx := context.Background()

	r, err := reservations.Create(ctx, "Concert A", 1)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, ev.ID, r.EventID)

	remaining, err := store.Remaining(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, remaining, "reserving does not deduct inventory")

	b, err := engine.ConfirmReservation(ctx, r.ID)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, 1, b.Tickets)

	remaining, err = store.Remaining(ctx, ev.ID)
	require.NoError(t, err)
	assert.Zero(t, remaining)

	_, err = reservations.Get(ctx, r.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound, "confirmation consumes the reservation")
	requireLedgerBalanced(t, store, ev)
}

func TestConfirmReservation_Twice(t *testing.T) {
	store := newStore(t, 0)
	engine := newEngine(store)
	reservations := service.NewReservationManager(store, zerolog.Nop(), nil)
	ev := createEvent(t, store, "Concert A", 10)
	ctx := context.Background()

	r, err := reservations.Create(ctx, "Concert A", 2)
	require.NoError(t, err)

	first, err := engine.ConfirmReservation(ctx, r.ID)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := engine.ConfirmReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Nil(t, second)

	bookings, err := store.ListBookings(ctx, ev.ID)
	require.NoError(t, err)
	assert.Len(t, bookings, 1, "never double-book")
	requireLedgerBalanced(t, store, ev)
}

func TestConfirmReservation_ConcurrentConfirmsBookOnce(t *testing.T) {
	store := newStore(t, 5*time.Second)
	engine := newEngine(store)
	reservations := service.NewReservationManager(store, zerolog.Nop(), nil)
	ev := createEvent(t, store, "Concert A", 10)
	ctx := context.Background()

	r, err := reservations.Create(ctx, "Concert A", 3)
	require.NoError(t, err)

	var (
		wg     sync.WaitGroup
		booked atomic.Int32
	)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := engine.ConfirmReservation(ctx, r.ID)
			assert.NoError(t, err)
			if b != nil {
				booked.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, booked.Load())
	remaining, err := store.Remaining(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, remaining)
	requireLedgerBalanced(t, store, ev)
}

func TestReservationIsNonBinding(t *testing.T) {
	store := newStore(t, 0)
	engine := newEngine(store)
	reservations := service.NewReservationManager(store, zerolog.Nop(), nil)
	ev := createEvent(t, store, "Concert A", 2)
	ctx := context.Background()

	r, err := reservations.Create(ctx, "Concert A", 2)
	require.NoError(t, err)
	require.NotNil(t, r)

	remaining, err := store.Remaining(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, remaining)

	b, err := engine.BookByName(ctx, "Concert A", 1)
	require.NoError(t, err)
	require.NotNil(t, b, "a reservation does not hold capacity")

	confirmed, err := engine.ConfirmReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Nil(t, confirmed, "overcommitment surfaces at confirmation")

	// The failed confirmation rolled back, so the reservation is still there.
	still, err := reservations.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, still.ID)
	requireLedgerBalanced(t, store, ev)
}

func TestReservationManager_Create(t *testing.T) {
	store := newStore(t, 0)
	reservations := service.NewReservationManager(store, zerolog.Nop(), nil)
	createEvent(t, store, "Concert A", 2)
	ctx := context.Background()

	r, err := reservations.Create(ctx, "Concert B", 1)
	require.NoError(t, err)
	assert.Nil(t, r, "unknown event")

	r, err = reservations.Create(ctx, "Concert A", 3)
	require.NoError(t, err)
	assert.Nil(t, r, "more than currently remaining")

	// Reservations may collectively exceed what remains.
	for range 3 {
		r, err = reservations.Create(ctx, "concert a", 2)
		require.NoError(t, err)
		require.NotNil(t, r)
	}

	_, err = reservations.Create(ctx, "Concert A", -1)
	assert.ErrorIs(t, err, service.ErrInvalidRequest)
}

func TestReservationManager_Delete(t *testing.T) {
	store := newStore(t, 0)
	engine := newEngine(store)
	reservations := service.NewReservationManager(store, zerolog.Nop(), nil)
	createEvent(t, store, "Concert A", 2)
	ctx := context.Background()

	r, err := reservations.Create(ctx, "Concert A", 1)
	require.NoError(t, err)

	require.NoError(t, reservations.Delete(ctx, r.ID))
	assert.ErrorIs(t, reservations.Delete(ctx, r.ID), storage.ErrNotFound)

	b, err := engine.ConfirmReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Nil(t, b)
}

// flakyStore injects failures into an otherwise real store.
type flakyStore struct {
	storage.Store

	beginConflicts int32
	begins         atomic.Int32
	wrapTx         func(attempt int32, tx storage.Tx) storage.Tx
}

func (s *flakyStore) BeginImmediate(ctx context.Context) (storage.Tx, error) {
	n := s.begins.Add(1)
	if n <= s.beginConflicts {
		return nil, fmt.Errorf("flaky: %w: database is locked", storage.ErrWriteConflict)
	}
	tx, err := s.Store.BeginImmediate(ctx)
	if err != nil || s.wrapTx == nil {
		return tx, err
	}
	return s.wrapTx(n, tx), nil
}

type conflictOnDecrementTx struct {
	storage.Tx
}

func (conflictOnDecrementTx) DecrementRemaining(context.Context, int64, int) (int64, error) {
	return 0, fmt.Errorf("flaky: %w", storage.ErrWriteConflict)
}

type failingInsertTx struct {
	storage.Tx
}

func (failingInsertTx) InsertBooking(context.Context, int64, int, string) (int64, error) {
	return 0, errors.New("disk I/O error")
}

func TestBooking_RetriesWholeProtocolOnConflict(t *testing.T) {
	base := newStore(t, 0)
	ev := createEvent(t, base, "Concert A", 3)
	store := &flakyStore{
		Store:          base,
		beginConflicts: 2,
		wrapTx: func(attempt int32, tx storage.Tx) storage.Tx {
			if attempt == 3 {
				return conflictOnDecrementTx{tx}
			}
			return tx
		},
	}
	engine := newEngine(store)

	b, err := engine.BookByName(context.Background(), "Concert A", 2)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.EqualValues(t, 4, store.begins.Load(), "each retry starts a fresh transaction")

	remaining, err := base.Remaining(context.Background(), ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)
	requireLedgerBalanced(t, base, ev)
}

func TestBooking_PersistentConflictSurfacesAfterMaxAttempts(t *testing.T) {
	base := newStore(t, 0)
	ev := createEvent(t, base, "Concert A", 3)
	store := &flakyStore{Store: base, beginConflicts: 1000}
	engine := newEngine(store)

	b, err := engine.BookByName(context.Background(), "Concert A", 1)
	assert.Nil(t, b)
	require.Error(t, err)
	assert.ErrorIs(t, err, contention.ErrAttemptsExhausted)
	assert.ErrorIs(t, err, storage.ErrWriteConflict)
	assert.EqualValues(t, contention.DefaultMaxAttempts, store.begins.Load())

	remaining, err := base.Remaining(context.Background(), ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, remaining)
}

func TestBooking_StorageFaultRollsBackWithoutRetry(t *testing.T) {
	base := newStore(t, 0)
	ev := createEvent(t, base, "Concert A", 3)
	reservations := service.NewReservationManager(base, zerolog.Nop(), nil)
	r, err := reservations.Create(context.Background(), "Concert A", 2)
	require.NoError(t, err)

	store := &flakyStore{
		Store: base,
		wrapTx: func(_ int32, tx storage.Tx) storage.Tx {
			return failingInsertTx{tx}
		},
	}
	engine := newEngine(store)

	b, err := engine.ConfirmReservation(context.Background(), r.ID)
	assert.Nil(t, b)
	require.Error(t, err)
	assert.NotErrorIs(t, err, storage.ErrWriteConflict)
	assert.EqualValues(t, 1, store.begins.Load())

	remaining, err := base.Remaining(context.Background(), ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, remaining, "decrement rolled back")

	_, err = reservations.Get(context.Background(), r.ID)
	assert.NoError(t, err, "reservation survives the failed attempt")
}

type recordingPublisher struct {
	mu       sync.Mutex
	bookings []*model.Booking
	resIDs   []int64
	err      error
}

func (p *recordingPublisher) BookingConfirmed(_ context.Context, b *model.Booking, reservationID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bookings = append(p.bookings, b)
	p.resIDs = append(p.resIDs, reservationID)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

type recordingObserver struct {
	mu      sync.Mutex
	results map[string]int
}

func (o *recordingObserver) ObserveResult(op, result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.results == nil {
		o.results = map[string]int{}
	}
	o.results[op+"/"+result]++
}

func TestBooking_PublishesCommittedBookings(t *testing.T) {
	store := newStore(t, 0)
	pub := &recordingPublisher{err: errors.New("broker down")}
	obs := &recordingObserver{}
	engine := newEngine(store, service.WithPublisher(pub), service.WithResultObserver(obs))
	reservations := service.NewReservationManager(store, zerolog.Nop(), nil)
	createEvent(t, store, "Concert A", 3)
	ctx := context.Background()

	direct, err := engine.BookByName(ctx, "Concert A", 1)
	require.NoError(t, err, "publish failures never fail a committed booking")
	require.NotNil(t, direct)

	r, err := reservations.Create(ctx, "Concert A", 1)
	require.NoError(t, err)
	confirmed, err := engine.ConfirmReservation(ctx, r.ID)
	require.NoError(t, err)
	require.NotNil(t, confirmed)

	unavailable, err := engine.BookByName(ctx, "Concert A", 5)
	require.NoError(t, err)
	require.Nil(t, unavailable)

	require.Len(t, pub.bookings, 2)
	assert.Equal(t, direct.ID, pub.bookings[0].ID)
	assert.Equal(t, []int64{0, r.ID}, pub.resIDs)

	assert.Equal(t, 1, obs.results["book/booked"])
	assert.Equal(t, 1, obs.results["book/unavailable"])
	assert.Equal(t, 1, obs.results["confirm/booked"])
}

func TestEventService(t *testing.T) {
	store := newStore(t, 0)
	events := service.NewEventService(store)
	ctx := context.Background()
	date := time.Date(2026, 11, 5, 19, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		req  model.CreateEventRequest
	}{
		{"empty name", model.CreateEventRequest{Name: "  ", Date: date, Capacity: 10}},
		{"missing date", model.CreateEventRequest{Name: "Show", Capacity: 10}},
		{"zero capacity", model.CreateEventRequest{Name: "Show", Date: date}},
		{"capacity too large", model.CreateEventRequest{Name: "Show", Date: date, Capacity: 100_001}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := events.Create(ctx, tt.req)
			assert.ErrorIs(t, err, service.ErrInvalidRequest)
		})
	}

	ev, err := events.Create(ctx, model.CreateEventRequest{Name: " Show ", Date: date, Capacity: 10})
	require.NoError(t, err)
	assert.Equal(t, "Show", ev.Name)
	assert.Equal(t, 10, ev.Remaining)

	_, err = events.Create(ctx, model.CreateEventRequest{Name: "show", Date: date, Capacity: 1})
	assert.ErrorIs(t, err, storage.ErrEventExists)

	got, err := events.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, ev.ID, got.ID)

	_, err = events.Get(ctx, ev.ID+100)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = events.Bookings(ctx, ev.ID+100)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	list, err := events.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
