package database

import (
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteDSN(t *testing.T) {
	dsn := SQLiteDSN("/var/lib/tickets.db", 1500*time.Millisecond)

	require.True(t, strings.HasPrefix(dsn, "file:/var/lib/tickets.db?"))
	q, err := url.ParseQuery(dsn[strings.Index(dsn, "?")+1:])
	require.NoError(t, err)

	assert.Equal(t, "immediate", q.Get("_txlock"))
	assert.Equal(t, "on", q.Get("_foreign_keys"))
	assert.Equal(t, "WAL", q.Get("_journal_mode"))
	assert.Equal(t, "1500", q.Get("_busy_timeout"))
}

func TestSQLiteDSN_ZeroBusyTimeoutIsExplicit(t *testing.T) {
	q, err := url.ParseQuery(strings.SplitN(SQLiteDSN("x.db", 0), "?", 2)[1])
	require.NoError(t, err)
	assert.Equal(t, "0", q.Get("_busy_timeout"))
}

func TestMigrateSQLite_Idempotent(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "tickets.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, MigrateSQLite(db))
	require.NoError(t, MigrateSQLite(db))

	for _, table := range []string{"events", "reservations", "bookings"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, table)
	}

	_, err = db.Exec(`INSERT INTO events (name, date, capacity, remaining, created_at) VALUES ('x', ?, 1, 2, ?)`,
		time.Now(), time.Now())
	assert.Error(t, err, "remaining may not exceed capacity")
}
