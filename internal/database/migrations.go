package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFiles embed.FS

// NewPostgresMigrator returns a migrator for the database at url.
func NewPostgresMigrator(url string) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFiles, "migrations/postgres")
	if err != nil {
		return nil, fmt.Errorf("load postgres migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, url)
	if err != nil {
		return nil, fmt.Errorf("init postgres migrator: %w", err)
	}
	return m, nil
}

// NewSQLiteMigrator returns a migrator bound to an open SQLite handle.
// Closing the migrator closes db as well.
func NewSQLiteMigrator(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFiles, "migrations/sqlite")
	if err != nil {
		return nil, fmt.Errorf("load sqlite migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("init sqlite migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("init sqlite migrator: %w", err)
	}
	return m, nil
}

// Up applies all pending migrations. Having nothing to apply is not an error.
func Up(m *migrate.Migrate) error {
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// Down reverts every applied migration.
func Down(m *migrate.Migrate) error {
	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate down: %w", err)
	}
	return nil
}

// MigrateSQLite brings the schema of an open SQLite database up to date
// without closing it.
func MigrateSQLite(db *sql.DB) error {
	m, err := NewSQLiteMigrator(db)
	if err != nil {
		return err
	}
	return Up(m)
}

// MigratePostgres brings the schema of the database at url up to date.
func MigratePostgres(url string) error {
	m, err := NewPostgresMigrator(url)
	if err != nil {
		return err
	}
	defer m.Close()
	return Up(m)
}
