// cmd/main.go is the ticketd entry point: the HTTP server plus a few
// operational commands, all sharing the same configuration.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Shivanand-hulikatti/ticket-inventory/internal/app"
	"github.com/Shivanand-hulikatti/ticket-inventory/internal/config"
	"github.com/Shivanand-hulikatti/ticket-inventory/internal/database"
	"github.com/Shivanand-hulikatti/ticket-inventory/internal/log"
	"github.com/Shivanand-hulikatti/ticket-inventory/internal/model"
	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfg *config.Config

	root := &cobra.Command{
		Use:          "ticketd",
		Short:        "Ticket inventory service",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg, err = config.Load(); err != nil {
				return err
			}
			log.Init(log.Config{Level: cfg.Log.Level, JSONOutput: cfg.Log.JSON})
			return nil
		},
	}

	root.AddCommand(
		newServeCmd(&cfg),
		newMigrateCmd(&cfg),
		newEventCmd(&cfg),
	)
	return root
}

func newServeCmd(cfg **config.Config) *cobra.Command {
	var migrateOnStart bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), *cfg, migrateOnStart)
		},
	}
	cmd.Flags().BoolVar(&migrateOnStart, "migrate", true, "apply pending migrations before serving")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, migrateOnStart bool) error {
	logger := log.WithComponent("server")

	// ── 1. Open the store and build the engine ───────────────────────────
	application, err := app.New(ctx, cfg, migrateOnStart)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer func() {
		if err := application.Close(); err != nil {
			logger.Error().Err(err).Msg("close")
		}
	}()
	logger.Info().Str("driver", cfg.Database.Driver).Msg("connected to database")

	// ── 2. Start server with graceful shutdown ───────────────────────────
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      application.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newMigrateCmd(cfg **config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or revert schema migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newMigrator((*cfg).Database)
			if err != nil {
				return err
			}
			defer m.Close()

			if args[0] == "down" {
				err = database.Down(m)
			} else {
				err = database.Up(m)
			}
			if err != nil {
				return err
			}
			log.Logger.Info().Str("direction", args[0]).Msg("migrations applied")
			return nil
		},
	}
	return cmd
}

func newMigrator(cfg config.DatabaseConfig) (*migrate.Migrate, error) {
	if cfg.Driver == config.DriverSQLite {
		db, err := database.OpenSQLite(cfg.SQLitePath, cfg.BusyTimeout)
		if err != nil {
			return nil, err
		}
		return database.NewSQLiteMigrator(db)
	}
	return database.NewPostgresMigrator(cfg.PostgresURL())
}

func newEventCmd(cfg **config.Config) *cobra.Command {
	var (
		name     string
		date     string
		capacity int
	)

	create := &cobra.Command{
		Use:   "create",
		Short: "Create an event with a fixed ticket capacity",
		RunE: func(cmd *cobra.Command, args []string) error {
			when, err := time.Parse(time.RFC3339, date)
			if err != nil {
				return fmt.Errorf("--date must be RFC3339: %w", err)
			}

			application, err := app.New(cmd.Context(), *cfg, true)
			if err != nil {
				return err
			}
			defer application.Close()

			event, err := application.Events.Create(cmd.Context(), model.CreateEventRequest{
				Name:     name,
				Date:     when,
				Capacity: capacity,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created event %d %q with %d tickets\n", event.ID, event.Name, event.Capacity)
			return nil
		},
	}
	create.Flags().StringVar(&name, "name", "", "event name (unique, case-insensitive)")
	create.Flags().StringVar(&date, "date", "", "event date, RFC3339")
	create.Flags().IntVar(&capacity, "capacity", 0, "number of tickets")
	_ = create.MarkFlagRequired("name")
	_ = create.MarkFlagRequired("date")
	_ = create.MarkFlagRequired("capacity")

	cmd := &cobra.Command{
		Use:   "event",
		Short: "Manage events",
	}
	cmd.AddCommand(create)
	return cmd
}
