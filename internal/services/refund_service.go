package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"eventix/internal/alerts"
	"eventix/internal/events"
	"eventix/internal/mailer"
	"eventix/internal/services/processor"
	"eventix/internal/status"
	"eventix/models"
	"eventix/monitoring"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

const refundAlreadyProcessed = "Refund already processed or requested"

type RefundConfig struct {
	LockTTL time.Duration
}

type RefundResult struct {
	Success        bool              `json:"success"`
	Refund         *processor.Refund `json:"refund"`
	AmountRefunded decimal.Decimal   `json:"amountRefunded"`
}

type RefundService struct {
	store     Store
	processor processor.Processor
	mail      Mailer
	alerts    AlertSender
	events    EventPublisher
	locker    Locker
	monitor   *monitoring.Monitor
	cfg       RefundConfig
	now       func() time.Time
}

func NewRefundService(
	store Store,
	proc processor.Processor,
	mail Mailer,
	alertSender AlertSender,
	publisher EventPublisher,
	locker Locker,
	monitor *monitoring.Monitor,
	cfg RefundConfig,
) *RefundService {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = time.Minute
	}
	return &RefundService{
		store:     store,
		processor: proc,
		mail:      mail,
		alerts:    alertSender,
		events:    publisher,
		locker:    locker,
		monitor:   monitor,
		cfg:       cfg,
		now:       time.Now,
	}
}

// RefundMessage is the in-app notification text for a processed refund.
func RefundMessage(tierName, eventTitle string, amount decimal.Decimal) string {
	return fmt.Sprintf("Your refund for ticket (%s) to %q has been processed. Amount refunded: $%s.",
		tierName, eventTitle, amount.StringFixed(2))
}

// Refund moves a ticket from NONE to PROCESSED and every other NONE ticket
// on the same payment to PARTIAL_REFUND.
func (s *RefundService) Refund(ctx context.Context, userID, ticketID string) (res *RefundResult, err error) {
	ctx, span := tracer.Start(ctx, "refund.Refund")
	span.SetAttributes(attribute.String("ticket.id", ticketID), attribute.String("user.id", userID))
	outcome := "error"
	var amount decimal.Decimal
	defer func() {
		switch {
		case err == nil:
			outcome = "processed"
		case status.Is(err, status.KindPolicy):
			outcome = "rejected"
		case status.Is(err, status.KindAlreadyProcessed):
			outcome = "duplicate"
		case status.Is(err, status.KindProcessor):
			outcome = "processor_error"
		}
		s.monitor.TrackRefund(outcome, amount.InexactFloat64())
		endSpan(span, err)
	}()

	release, ok, err := s.locker.Acquire(ctx, "refund:"+ticketID, s.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("s.locker.Acquire: %w", err)
	}
	if !ok {
		return nil, &status.Error{Kind: status.KindAlreadyProcessed, Message: refundAlreadyProcessed, Err: status.ErrRefundLocked}
	}
	defer release(context.WithoutCancel(ctx))

	ticket, tier, err := s.eligible(ctx, userID, ticketID)
	if err != nil {
		return nil, err
	}
	requested := tier.RefundAmount()

	refund, err := s.reverseFunds(ctx, ticket, requested)
	if err != nil {
		return nil, err
	}

	refunded := processor.FromMinorUnits(refund.Amount)
	siblings := 0
	err = s.store.RunInTx(ctx, func(tx Store) error {
		ok, err := tx.MarkTicketRefunded(ctx, ticket.ID, refunded, refund.ID, s.now())
		if err != nil {
			return fmt.Errorf("tx.MarkTicketRefunded: %w", err)
		}
		if !ok {
			return status.AlreadyProcessed(refundAlreadyProcessed)
		}
		siblings, err = tx.MarkSiblingsPartialRefund(ctx, ticket.PaymentIntentID, ticket.ID)
		if err != nil {
			return fmt.Errorf("tx.MarkSiblingsPartialRefund: %w", err)
		}
		return nil
	})
	if err != nil {
		// The processor has already moved the money; this needs an operator.
		slog.Error("refund recorded at processor but not locally",
			"ticketId", ticket.ID,
			"refundId", refund.ID,
			"amount", refunded,
			"error", err,
		)
		return nil, err
	}
	amount = refunded

	slog.Info("refund processed",
		"ticketId", ticket.ID,
		"userId", userID,
		"refundId", refund.ID,
		"amount", refunded,
		"siblingsMarked", siblings,
	)

	s.afterRefund(ctx, ticket, tier, refund, refunded, siblings)
	return &RefundResult{Success: true, Refund: refund, AmountRefunded: refunded}, nil
}

// eligible applies the refund guards in order; the first failing guard wins.
func (s *RefundService) eligible(ctx context.Context, userID, ticketID string) (*models.Ticket, *models.PricingTier, error) {
	ticket, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, nil, notFoundOr(err, "Ticket not found")
	}
	if ticket.UserID != userID {
		return nil, nil, status.NotFound("Ticket not found")
	}
	if !ticket.Refundable() {
		return nil, nil, status.AlreadyProcessed(refundAlreadyProcessed)
	}

	now := s.now()
	if !now.Before(ticket.Date) {
		return nil, nil, status.Policy("Event already occurred")
	}

	tier, err := s.store.GetTier(ctx, ticket.TierID)
	if err != nil {
		return nil, nil, notFoundOr(err, "Pricing tier not found")
	}
	if tier.RefundPolicy == models.NoRefund {
		return nil, nil, status.Policy("Refunds not allowed for this ticket")
	}

	deadline := tier.RefundDeadline(ticket.Date)
	if !now.Before(deadline) {
		return nil, nil, status.Policy("Refund deadline passed (%s)", deadline.Format(time.DateOnly)).
			With("deadline", deadline)
	}
	return ticket, tier, nil
}

// reverseFunds asks the processor for the refund after checking the charge
// still has enough headroom. Nothing local is touched on failure.
func (s *RefundService) reverseFunds(ctx context.Context, ticket *models.Ticket, amount decimal.Decimal) (*processor.Refund, error) {
	pi, err := s.processor.GetPaymentIntent(ctx, ticket.PaymentIntentID)
	if err != nil {
		slog.Error("s.processor.GetPaymentIntent()", "paymentIntentId", ticket.PaymentIntentID, "error", err)
		return nil, status.Processor(err, "Payment processing failed: %s", err.Error())
	}
	if pi.LatestChargeID == "" {
		return nil, status.Processor(nil, "Payment processing failed: payment %s has no charge", pi.ID)
	}

	charge, err := s.processor.GetCharge(ctx, pi.LatestChargeID)
	if err != nil {
		slog.Error("s.processor.GetCharge()", "chargeId", pi.LatestChargeID, "error", err)
		return nil, status.Processor(err, "Payment processing failed: %s", err.Error())
	}

	headroom := max(pi.Amount-charge.Refunded(), 0)
	requested := processor.ToMinorUnits(amount)
	if requested > headroom {
		available := processor.FromMinorUnits(headroom)
		return nil, status.Processor(nil, "Only $%s available for refund", available.StringFixed(2)).
			With("available", available)
	}

	refund, err := s.processor.CreateRefund(ctx, &processor.RefundRequest{
		ChargeID: charge.ID,
		Amount:   requested,
		Metadata: map[string]string{"ticketId": ticket.ID, "eventId": ticket.EventID},
	})
	if err != nil {
		slog.Error("s.processor.CreateRefund()", "ticketId", ticket.ID, "chargeId", charge.ID, "error", err)
		return nil, status.Processor(err, "Payment processing failed: %s", err.Error())
	}
	return refund, nil
}

// afterRefund notifies the user. None of it affects the refund outcome.
func (s *RefundService) afterRefund(ctx context.Context, ticket *models.Ticket, tier *models.PricingTier, refund *processor.Refund, amount decimal.Decimal, siblings int) {
	ctx = context.WithoutCancel(ctx)

	title := ""
	if event, err := s.store.GetEvent(ctx, ticket.EventID); err != nil {
		slog.Warn("s.store.GetEvent()", "eventId", ticket.EventID, "error", err)
	} else {
		title = event.Title
	}
	message := RefundMessage(tier.Name, title, amount)

	if err := s.store.CreateNotification(ctx, &models.Notification{
		UserID:  ticket.UserID,
		Type:    models.NotificationRefund,
		Message: message,
	}); err != nil {
		slog.Error("s.store.CreateNotification()", "ticketId", ticket.ID, "error", err)
	}

	err := s.alerts.Send(ctx, ticket.UserID, alerts.Message{
		Type:    alerts.TypeRefund,
		Message: message,
		Data:    map[string]any{"ticketId": ticket.ID, "amount": amount.StringFixed(2)},
	})
	if err != nil && !errors.Is(err, status.ErrNotConnected) {
		slog.Error("s.alerts.Send()", "userId", ticket.UserID, "error", err)
	}

	if user, err := s.store.GetUser(ctx, ticket.UserID); err != nil {
		slog.Warn("s.store.GetUser()", "userId", ticket.UserID, "error", err)
	} else if err := s.mail.SendRefund(ctx, &mailer.Refund{
		To:               user.Email,
		Name:             user.DisplayName(),
		EventTitle:       title,
		TicketType:       tier.Name,
		Amount:           amount,
		Policy:           tier.RefundPolicy,
		RemainingTickets: siblings,
	}); err != nil {
		slog.Error("s.mail.SendRefund()", "ticketId", ticket.ID, "error", err)
	}

	env := events.NewEnvelope(events.TypeTicketRefunded, ticket.UserID, events.TicketRefunded{
		TicketID:        ticket.ID,
		UserID:          ticket.UserID,
		EventID:         ticket.EventID,
		PaymentIntentID: ticket.PaymentIntentID,
		RefundID:        refund.ID,
		Amount:          amount,
		SiblingsMarked:  siblings,
	})
	if err := s.events.Publish(ctx, env); err != nil {
		slog.Error("s.events.Publish()", "type", env.Type, "ticketId", ticket.ID, "error", err)
	}
}
