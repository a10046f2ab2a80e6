package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/ticket-inventory/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage(t *testing.T) {
	created := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	b := &model.Booking{ID: 4, Reference: "2b0f", EventID: 9, Tickets: 3, CreatedAt: created}

	raw, err := json.Marshal(NewMessage(b, 0))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "booking.confirmed",
		"booking_id": 4,
		"reference": "2b0f",
		"event_id": 9,
		"tickets": 3,
		"created_at": "2026-10-01T12:00:00Z"
	}`, string(raw))

	msg := NewMessage(b, 12)
	assert.EqualValues(t, 12, msg.ReservationID)
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.BookingConfirmed(context.Background(), &model.Booking{}, 0))
	assert.NoError(t, p.Close())
}

func TestNewKafkaProducer(t *testing.T) {
	p := NewKafkaProducer([]string{"localhost:9092"}, "bookings")
	assert.Equal(t, "bookings", p.writer.Topic)
	assert.NoError(t, p.Close())
}
