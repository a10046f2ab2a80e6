package metrics

import (
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/ticket-inventory/internal/contention"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_CountsAttemptsAndResults(t *testing.T) {
	r := New()

	r.ObserveAttempt("book", 1, contention.Conflict)
	r.ObserveAttempt("book", 2, contention.Committed)
	r.ObserveBackoff("book", 50*time.Millisecond)
	r.ObserveResult("book", ResultBooked)
	r.ObserveResult("reserve", ResultUnavailable)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.attempts.WithLabelValues("book", "1", "conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.attempts.WithLabelValues("book", "2", "committed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.results.WithLabelValues("book", ResultBooked)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.results.WithLabelValues("reserve", ResultUnavailable)))
	assert.Equal(t, 1, testutil.CollectAndCount(r.backoff, "ticketing_booking_backoff_seconds"))
}

func TestRegistry_IsolatedPerInstance(t *testing.T) {
	a, b := New(), New()
	a.ObserveResult("book", ResultBooked)

	assert.Zero(t, testutil.ToFloat64(b.results.WithLabelValues("book", ResultBooked)))

	families, err := a.Gatherer().Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "ticketing_booking_results_total")
	assert.Contains(t, names, "go_goroutines")
}
