// Package config loads service settings from the environment.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Booking  BookingConfig
	Log      LogConfig
	Kafka    KafkaConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

// DatabaseConfig holds connection settings for either backend.
type DatabaseConfig struct {
	Driver   string
	URL      string // full postgres URL, overrides the fields below
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string

	SQLitePath  string
	BusyTimeout time.Duration
	LockTimeout time.Duration
}

// BookingConfig is the contention policy applied to every booking transaction.
type BookingConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

type LogConfig struct {
	Level string
	JSON  bool
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// Load reads .env files when present and then the process environment,
// falling back to local-development defaults.
func Load() (*Config, error) {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			Driver:      getEnv("DB_DRIVER", DriverPostgres),
			URL:         getEnv("DATABASE_URL", ""),
			Host:        getEnv("DB_HOST", "localhost"),
			Port:        getEnvAsInt("DB_PORT", 5432),
			User:        getEnv("DB_USER", "postgres"),
			Password:    getEnv("DB_PASSWORD", "postgres"),
			DBName:      getEnv("DB_NAME", "tickets"),
			SSLMode:     getEnv("DB_SSLMODE", "disable"),
			SQLitePath:  getEnv("SQLITE_PATH", "data/tickets.db"),
			BusyTimeout: getEnvAsDuration("SQLITE_BUSY_TIMEOUT", 0),
			LockTimeout: getEnvAsDuration("DB_LOCK_TIMEOUT", 2*time.Second),
		},
		Booking: BookingConfig{
			MaxAttempts: getEnvAsInt("BOOKING_MAX_ATTEMPTS", 5),
			BaseDelay:   getEnvAsDuration("BOOKING_BASE_DELAY", 50*time.Millisecond),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
			JSON:  getEnvAsBool("LOG_JSON", false),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvAsSlice("KAFKA_BROKERS", nil),
			Topic:   getEnv("KAFKA_TOPIC", "bookings"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("config: unknown DB_DRIVER %q", c.Database.Driver)
	}
	if c.Booking.MaxAttempts < 1 {
		return fmt.Errorf("config: BOOKING_MAX_ATTEMPTS must be at least 1, got %d", c.Booking.MaxAttempts)
	}
	if c.Booking.BaseDelay < 0 {
		return fmt.Errorf("config: BOOKING_BASE_DELAY must not be negative, got %s", c.Booking.BaseDelay)
	}
	return nil
}

// PostgresURL builds a postgres:// URL usable by both pgx and golang-migrate.
func (d DatabaseConfig) PostgresURL() string {
	if d.URL != "" {
		return d.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     d.DBName,
		RawQuery: url.Values{"sslmode": {d.SSLMode}}.Encode(),
	}
	return u.String()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}

// getEnvAsDuration accepts Go durations ("250ms") or a bare number of milliseconds.
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

func getEnvAsSlice(key string, fallback []string) []string {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
