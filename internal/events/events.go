package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

const (
	TypeTicketSettled  = "ticket.settled"
	TypeTicketRefunded = "ticket.refunded"
)

// Envelope wraps every domain event written to the topic.
type Envelope struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurredAt"`
	Data       any       `json:"data"`

	// Key is the partition key; events of one user stay ordered.
	Key string `json:"-"`
}

type TicketSettled struct {
	SessionID       string          `json:"sessionId"`
	PaymentIntentID string          `json:"paymentIntentId"`
	UserID          string          `json:"userId"`
	EventID         string          `json:"eventId"`
	TicketIDs       []string        `json:"ticketIds"`
	FinalAmount     decimal.Decimal `json:"finalAmount"`
	PointsEarned    int             `json:"pointsEarned"`
}

type TicketRefunded struct {
	TicketID        string          `json:"ticketId"`
	UserID          string          `json:"userId"`
	EventID         string          `json:"eventId"`
	PaymentIntentID string          `json:"paymentIntentId"`
	RefundID        string          `json:"refundId"`
	Amount          decimal.Decimal `json:"amount"`
	SiblingsMarked  int             `json:"siblingsMarked"`
}

func NewEnvelope(typ, key string, data any) Envelope {
	return Envelope{
		ID:         uuid.NewString(),
		Type:       typ,
		OccurredAt: time.Now().UTC(),
		Data:       data,
		Key:        key,
	}
}

type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer  messageWriter
	timeout time.Duration
}

func NewKafkaPublisher(brokers []string, topic string, timeout time.Duration) *KafkaPublisher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			WriteTimeout:           timeout,
			AllowAutoTopicCreation: true,
		},
		timeout: timeout,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, env Envelope) error {
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("events: json.Marshal %s: %w", env.Type, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(env.Key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(env.Type)},
		},
		Time: env.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("events: write %s: %w", env.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher is used when no broker is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, env Envelope) error {
	slog.Debug("events: no broker configured", "type", env.Type, "id", env.ID, "key", env.Key)
	return nil
}

func (LogPublisher) Close() error { return nil }
