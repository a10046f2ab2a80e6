package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "DB_DRIVER", "DATABASE_URL", "SQLITE_BUSY_TIMEOUT", "DB_LOCK_TIMEOUT",
		"BOOKING_MAX_ATTEMPTS", "BOOKING_BASE_DELAY", "KAFKA_BROKERS", "KAFKA_TOPIC",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Zero(t, cfg.Database.BusyTimeout)
	assert.Equal(t, 2*time.Second, cfg.Database.LockTimeout)
	assert.Equal(t, 5, cfg.Booking.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, cfg.Booking.BaseDelay)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, "bookings", cfg.Kafka.Topic)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", "/tmp/x.db")
	t.Setenv("SQLITE_BUSY_TIMEOUT", "250")
	t.Setenv("BOOKING_MAX_ATTEMPTS", "8")
	t.Setenv("BOOKING_BASE_DELAY", "20ms")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("LOG_JSON", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "/tmp/x.db", cfg.Database.SQLitePath)
	assert.Equal(t, 250*time.Millisecond, cfg.Database.BusyTimeout)
	assert.Equal(t, 8, cfg.Booking.MaxAttempts)
	assert.Equal(t, 20*time.Millisecond, cfg.Booking.BaseDelay)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Log.JSON)
}

func TestLoad_RejectsInvalidSettings(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"unknown driver", "DB_DRIVER", "mysql"},
		{"zero attempts", "BOOKING_MAX_ATTEMPTS", "0"},
		{"negative delay", "BOOKING_BASE_DELAY", "-1s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestGetEnvAsDuration(t *testing.T) {
	t.Setenv("X_DURATION", "1.5s")
	assert.Equal(t, 1500*time.Millisecond, getEnvAsDuration("X_DURATION", 0))

	t.Setenv("X_DURATION", "75")
	assert.Equal(t, 75*time.Millisecond, getEnvAsDuration("X_DURATION", 0))

	t.Setenv("X_DURATION", "soon")
	assert.Equal(t, time.Second, getEnvAsDuration("X_DURATION", time.Second))
}

func TestPostgresURL(t *testing.T) {
	d := DatabaseConfig{
		Host:     "db",
		Port:     5433,
		User:     "tickets",
		Password: "p@ss",
		DBName:   "inventory",
		SSLMode:  "disable",
	}
	assert.Equal(t, "postgres://tickets:p%40ss@db:5433/inventory?sslmode=disable", d.PostgresURL())

	d.URL = "postgres://override"
	assert.Equal(t, "postgres://override", d.PostgresURL())
}
