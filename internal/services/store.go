package services

import (
	"context"
	"time"

	"eventix/internal/alerts"
	"eventix/internal/deadletter"
	"eventix/internal/events"
	"eventix/internal/mailer"
	"eventix/internal/services/fraud"
	"eventix/models"

	"github.com/shopspring/decimal"
)

// Store is the persistence the pipeline runs on. Lookups of missing rows
// return an error matching status.ErrNotFound. Methods returning a bool
// report whether a conditional update matched a row.
type Store interface {
	// RunInTx runs fn against a transactional view; any error rolls back.
	RunInTx(ctx context.Context, fn func(tx Store) error) error

	GetUser(ctx context.Context, id string) (*models.User, error)
	ClearWelcomeGift(ctx context.Context, userID string) (bool, error)

	GetEvent(ctx context.Context, id string) (*models.Event, error)
	GetTier(ctx context.Context, id string) (*models.PricingTier, error)
	DecrementCapacity(ctx context.Context, tierID string, n int) (bool, error)

	CreateTicket(ctx context.Context, t *models.Ticket) error
	GetTicket(ctx context.Context, id string) (*models.Ticket, error)
	FindTicketByUUID(ctx context.Context, ticketUUID string) (*models.Ticket, error)
	FindTicketsBySession(ctx context.Context, sessionID, userID string) ([]*models.Ticket, error)
	FindTicketsByUser(ctx context.Context, userID string) ([]*models.Ticket, error)
	FindTicketsByPayment(ctx context.Context, paymentIntentID string) ([]*models.Ticket, error)
	LastTicketTime(ctx context.Context, userID string) (*time.Time, error)
	MarkTicketRefunded(ctx context.Context, ticketID string, amount decimal.Decimal, refundID string, at time.Time) (bool, error)
	MarkSiblingsPartialRefund(ctx context.Context, paymentIntentID, excludeTicketID string) (int, error)

	CreateFailedAttempt(ctx context.Context, a *models.FailedPaymentAttempt) error
	CountFailedAttempts(ctx context.Context, userID string, since time.Time) (int, error)

	GetUserPoints(ctx context.Context, userID string) (*models.UserPoints, error)
	ListUserPoints(ctx context.Context) ([]*models.UserPoints, error)
	CreditPoints(ctx context.Context, userID string, points int) error
	DebitPoints(ctx context.Context, userID string, points int) (bool, error)
	AddDiscount(ctx context.Context, userID string, amount decimal.Decimal) error
	ConsumeDiscount(ctx context.Context, userID string, amount decimal.Decimal) error
	AppendPointsHistory(ctx context.Context, h *models.PointsHistory) error
	ListPointsHistory(ctx context.Context, userID string, action models.PointsAction, limit, offset int) ([]*models.PointsHistory, int, error)
	SumPointsHistory(ctx context.Context, userID string) (available, earned int, err error)

	// RecordWebhookEvent inserts the processor event id and reports false
	// when it was already recorded.
	RecordWebhookEvent(ctx context.Context, e *models.WebhookEvent) (bool, error)
	CreateNotification(ctx context.Context, n *models.Notification) error
	CreateSecurityAudit(ctx context.Context, a *models.SecurityAudit) error
}

type FraudScreener interface {
	Screen(ctx context.Context, f fraud.Features) (fraud.Verdict, error)
}

type Mailer interface {
	SendSettlement(ctx context.Context, m *mailer.Settlement) error
	SendSuspiciousActivity(ctx context.Context, m *mailer.SuspiciousActivity) error
	SendRefund(ctx context.Context, m *mailer.Refund) error
}

type AlertSender interface {
	Send(ctx context.Context, userID string, msg alerts.Message) error
}

type EventPublisher interface {
	Publish(ctx context.Context, env events.Envelope) error
}

type DeadLetterQueue interface {
	Publish(ctx context.Context, e *deadletter.Entry) error
}

type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context), ok bool, err error)
}
