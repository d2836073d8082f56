package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Entry is a webhook event whose settlement failed and needs a replay or
// a manual refund.
type Entry struct {
	ID        string          `json:"id"`
	Provider  string          `json:"provider"`
	EventID   string          `json:"eventId"`
	EventType string          `json:"eventType"`
	Reason    string          `json:"reason"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	FailedAt  time.Time       `json:"failedAt"`
}

func NewEntry(provider, eventID, eventType, kind string, reason error, payload []byte) *Entry {
	return &Entry{
		ID:        uuid.NewString(),
		Provider:  provider,
		EventID:   eventID,
		EventType: eventType,
		Reason:    reason.Error(),
		Kind:      kind,
		Payload:   json.RawMessage(payload),
		Attempts:  1,
		FailedAt:  time.Now().UTC(),
	}
}

type Queue interface {
	Publish(ctx context.Context, e *Entry) error
	Close() error
}

type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Get(queue string, autoAck bool) (amqp.Delivery, bool, error)
	Close() error
}

const DefaultMaxAttempts = 5

type RabbitQueue struct {
	conn        *amqp.Connection
	ch          channel
	queue       string
	parked      string
	maxAttempts int
	timeout     time.Duration
}

type Option func(*RabbitQueue)

// WithMaxAttempts sets how many failed runs an entry gets before replay parks it.
func WithMaxAttempts(n int) Option {
	return func(q *RabbitQueue) {
		if n > 0 {
			q.maxAttempts = n
		}
	}
}

// WithParkingQueue names the queue that holds entries replay gave up on.
func WithParkingQueue(name string) Option {
	return func(q *RabbitQueue) {
		if name != "" {
			q.parked = name
		}
	}
}

func Dial(url, queue string, timeout time.Duration, opts ...Option) (*RabbitQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("deadletter: amqp.Dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("deadletter: conn.Channel: %w", err)
	}

	q, err := newRabbitQueue(ch, queue, timeout, opts...)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	q.conn = conn
	return q, nil
}

func newRabbitQueue(ch channel, queue string, timeout time.Duration, opts ...Option) (*RabbitQueue, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	q := &RabbitQueue{
		ch:          ch,
		queue:       queue,
		parked:      queue + ".parked",
		maxAttempts: DefaultMaxAttempts,
		timeout:     timeout,
	}
	for _, opt := range opts {
		opt(q)
	}

	for _, name := range []string{q.queue, q.parked} {
		_, err := ch.QueueDeclare(
			name,  // name
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			return nil, fmt.Errorf("deadletter: declare %s: %w", name, err)
		}
	}
	return q, nil
}

func (q *RabbitQueue) Publish(ctx context.Context, e *Entry) error {
	return q.publish(ctx, q.queue, e)
}

func (q *RabbitQueue) publish(ctx context.Context, queue string, e *Entry) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("deadletter: json.Marshal: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	err = q.ch.PublishWithContext(ctx,
		"",    // exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    e.ID,
			Timestamp:    e.FailedAt,
			Type:         e.EventType,
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("deadletter: publish %s to %s: %w", e.EventID, queue, err)
	}
	return nil
}

// ReplayFunc re-runs one dead-lettered event.
type ReplayFunc func(ctx context.Context, e *Entry) error

type ReplayResult struct {
	Replayed  int
	Requeued  int
	Parked    int
	Malformed int
}

// Replay drains the messages present when it starts. Entries that fail again
// are published back with their attempt count bumped, or moved to the parking
// queue once they reach the attempt limit.
func (q *RabbitQueue) Replay(ctx context.Context, fn ReplayFunc) (ReplayResult, error) {
	var res ReplayResult

	info, err := q.ch.QueueDeclare(q.queue, true, false, false, false, nil)
	if err != nil {
		return res, fmt.Errorf("deadletter: inspect %s: %w", q.queue, err)
	}

	for i := 0; i < info.Messages; i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		d, ok, err := q.ch.Get(q.queue, false)
		if err != nil {
			return res, fmt.Errorf("deadletter: get: %w", err)
		}
		if !ok {
			break
		}

		var e Entry
		if err := json.Unmarshal(d.Body, &e); err != nil {
			slog.Error("deadletter: drop malformed entry", "messageId", d.MessageId, "error", err)
			res.Malformed++
			_ = d.Nack(false, false)
			continue
		}

		if err := fn(ctx, &e); err != nil {
			e.Attempts++
			e.Reason = err.Error()

			target := q.queue
			if e.Attempts >= q.maxAttempts {
				target = q.parked
				slog.Error("deadletter: parking entry", "eventId", e.EventID, "kind", e.Kind, "attempts", e.Attempts, "error", err)
			} else {
				slog.Warn("deadletter: replay failed", "eventId", e.EventID, "attempts", e.Attempts, "error", err)
			}

			if perr := q.publish(ctx, target, &e); perr != nil {
				_ = d.Nack(false, true)
				return res, perr
			}
			if target == q.parked {
				res.Parked++
			} else {
				res.Requeued++
			}
		} else {
			res.Replayed++
		}

		if err := d.Ack(false); err != nil {
			return res, fmt.Errorf("deadletter: ack: %w", err)
		}
	}
	return res, nil
}

func (q *RabbitQueue) Close() error {
	err := q.ch.Close()
	if q.conn != nil {
		if cerr := q.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// LogQueue records failures in the log only; used when no broker is configured.
type LogQueue struct{}

func (LogQueue) Publish(_ context.Context, e *Entry) error {
	slog.Error("deadletter: settlement needs manual reconciliation",
		"eventId", e.EventID,
		"eventType", e.EventType,
		"kind", e.Kind,
		"reason", e.Reason,
	)
	return nil
}

func (LogQueue) Close() error { return nil }
