// Package notify announces committed bookings to downstream consumers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/Shivanand-hulikatti/ticket-inventory/internal/model"
	"github.com/segmentio/kafka-go"
)

// EventBookingConfirmed is the type of every message published for a booking.
const EventBookingConfirmed = "booking.confirmed"

// Publisher is told about every booking after it has been committed.
type Publisher interface {
	BookingConfirmed(ctx context.Context, b *model.Booking, reservationID int64) error
	Close() error
}

// Message is the JSON body of a booking notification.
type Message struct {
	Type          string    `json:"type"`
	BookingID     int64     `json:"booking_id"`
	Reference     string    `json:"reference"`
	EventID       int64     `json:"event_id"`
	Tickets       int       `json:"tickets"`
	ReservationID int64     `json:"reservation_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewMessage builds the notification body for b.
func NewMessage(b *model.Booking, reservationID int64) Message {
	return Message{
		Type:          EventBookingConfirmed,
		BookingID:     b.ID,
		Reference:     b.Reference,
		EventID:       b.EventID,
		Tickets:       b.Tickets,
		ReservationID: reservationID,
		CreatedAt:     b.CreatedAt,
	}
}

// Producer publishes booking notifications to a Kafka topic, keyed by event
// id so that one event's bookings stay ordered within a partition.
type Producer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (p *Producer) BookingConfirmed(ctx context.Context, b *model.Booking, reservationID int64) error {
	const op = "notify.kafka.BookingConfirmed"

	value, err := json.Marshal(NewMessage(b, reservationID))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(b.EventID, 10)),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// Nop discards every notification.
type Nop struct{}

func (Nop) BookingConfirmed(context.Context, *model.Booking, int64) error { return nil }
func (Nop) Close() error                                                  { return nil }
