// Package app wires the store, the engine and the HTTP adapter together.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Shivanand-hulikatti/ticket-inventory/internal/config"
	"github.com/Shivanand-hulikatti/ticket-inventory/internal/contention"
	"github.com/Shivanand-hulikatti/ticket-inventory/internal/database"
	"github.com/Shivanand-hulikatti/ticket-inventory/internal/handler"
	"github.com/Shivanand-hulikatti/ticket-inventory/internal/log"
	"github.com/Shivanand-hulikatti/ticket-inventory/internal/metrics"
	"github.com/Shivanand-hulikatti/ticket-inventory/internal/notify"
	"github.com/Shivanand-hulikatti/ticket-inventory/internal/service"
	"github.com/Shivanand-hulikatti/ticket-inventory/internal/storage"
	"github.com/Shivanand-hulikatti/ticket-inventory/internal/storage/postgres"
	"github.com/Shivanand-hulikatti/ticket-inventory/internal/storage/sqlite"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

type App struct {
	Store        storage.Store
	Events       *service.EventService
	Bookings     *service.BookingEngine
	Reservations *service.ReservationManager
	Metrics      *metrics.Registry

	publisher notify.Publisher
}

// New opens the configured store, applies migrations when migrate is set and
// builds the engine on top of it.
func New(ctx context.Context, cfg *config.Config, migrate bool) (*App, error) {
	store, err := OpenStore(ctx, cfg.Database, migrate)
	if err != nil {
		return nil, err
	}

	var publisher notify.Publisher = notify.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = notify.NewKafkaProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	}

	return Build(store, cfg.Booking, publisher), nil
}

// Build assembles the engine around an already opened store.
func Build(store storage.Store, booking config.BookingConfig, publisher notify.Publisher) *App {
	reg := metrics.New()

	ctrl := contention.New(
		contention.Policy{MaxAttempts: booking.MaxAttempts, BaseDelay: booking.BaseDelay},
		log.WithComponent("contention"),
		contention.WithObserver(reg),
	)

	return &App{
		Store:  store,
		Events: service.NewEventService(store),
		Bookings: service.NewBookingEngine(store, ctrl, log.WithComponent("booking"),
			service.WithPublisher(publisher),
			service.WithResultObserver(reg),
		),
		Reservations: service.NewReservationManager(store, log.WithComponent("reservation"), reg),
		Metrics:      reg,
		publisher:    publisher,
	}
}

// OpenStore connects to the configured backend.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig, migrate bool) (storage.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		if migrate {
			if err := database.MigratePostgres(cfg.PostgresURL()); err != nil {
				return nil, err
			}
		}
		pool, err := database.NewPool(ctx, cfg, log.WithComponent("database"))
		if err != nil {
			return nil, err
		}
		return postgres.New(pool, cfg.LockTimeout), nil

	case config.DriverSQLite:
		db, err := database.OpenSQLite(cfg.SQLitePath, cfg.BusyTimeout)
		if err != nil {
			return nil, err
		}
		if migrate {
			if err := database.MigrateSQLite(db); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
		return sqlite.New(db), nil
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}

// Router builds the HTTP handler tree.
func (a *App) Router() http.Handler {
	api := handler.NewAPI(a.Events, a.Bookings, a.Reservations, log.WithComponent("http"))

	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(handler.Logger(log.WithComponent("access")))
	r.Use(handler.CORS)

	r.Get("/health", handler.HealthCheck)
	r.Method(http.MethodGet, "/metrics", a.Metrics.Handler())
	r.Route("/api", api.Routes)

	return r
}

func (a *App) Close() error {
	pubErr := a.publisher.Close()
	if err := a.Store.Close(); err != nil {
		return err
	}
	return pubErr
}
