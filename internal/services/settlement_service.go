package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"eventix/internal/deadletter"
	"eventix/internal/events"
	"eventix/internal/intent"
	"eventix/internal/mailer"
	"eventix/internal/services/processor"
	"eventix/internal/status"
	"eventix/internal/ticketart"
	"eventix/models"
	"eventix/monitoring"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

type SettlementConfig struct {
	PointsPerTicket int
	LockTTL         time.Duration
}

type SettlementService struct {
	store      Store
	inventory  *InventoryService
	points     *PointsService
	processor  processor.Processor
	mail       Mailer
	events     EventPublisher
	deadLetter DeadLetterQueue
	locker     Locker
	monitor    *monitoring.Monitor
	cfg        SettlementConfig
	now        func() time.Time
}

func NewSettlementService(
	store Store,
	inventory *InventoryService,
	points *PointsService,
	proc processor.Processor,
	mail Mailer,
	publisher EventPublisher,
	deadLetter DeadLetterQueue,
	locker Locker,
	monitor *monitoring.Monitor,
	cfg SettlementConfig,
) *SettlementService {
	if cfg.PointsPerTicket <= 0 {
		cfg.PointsPerTicket = 10
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	return &SettlementService{
		store:      store,
		inventory:  inventory,
		points:     points,
		processor:  proc,
		mail:       mail,
		events:     publisher,
		deadLetter: deadLetter,
		locker:     locker,
		monitor:    monitor,
		cfg:        cfg,
		now:        time.Now,
	}
}

// HandleWebhook verifies a processor delivery and processes it. Only a bad
// signature is returned to the caller; processing failures are logged and
// dead-lettered so the processor is always acknowledged.
func (s *SettlementService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	evt, err := s.processor.ParseWebhook(payload, signature)
	if err != nil {
		s.monitor.TrackWebhook("unverified", "bad_signature")
		slog.Warn("s.processor.ParseWebhook()", "error", err)
		return status.Signature(err)
	}

	err = s.Dispatch(ctx, evt)
	switch {
	case err == nil:
	case errors.Is(err, status.ErrSettlementLocked):
		slog.Info("webhook event already in flight", "eventId", evt.ID)
	default:
		slog.Error("s.Dispatch()", "eventId", evt.ID, "type", evt.RawType, "error", err)
		s.sendToDeadLetter(ctx, evt, err)
	}
	return nil
}

// Replay re-runs a dead-lettered delivery. Its signature was verified when
// it first arrived.
func (s *SettlementService) Replay(ctx context.Context, e *deadletter.Entry) error {
	evt, err := s.processor.DecodeEvent(e.Payload)
	if err != nil {
		return fmt.Errorf("s.processor.DecodeEvent: %w", err)
	}
	return s.Dispatch(ctx, evt)
}

func (s *SettlementService) sendToDeadLetter(ctx context.Context, evt *processor.Event, cause error) {
	kind := status.KindOf(cause).String()
	s.monitor.TrackDeadLetter(kind)

	entry := deadletter.NewEntry(string(evt.Provider), evt.ID, evt.RawType, kind, cause, evt.Payload)
	if err := s.deadLetter.Publish(context.WithoutCancel(ctx), entry); err != nil {
		slog.Error("s.deadLetter.Publish()", "eventId", evt.ID, "cause", cause, "error", err)
	}
}

// Dispatch routes a verified event. Unknown types are acknowledged and ignored.
func (s *SettlementService) Dispatch(ctx context.Context, evt *processor.Event) error {
	var err error
	switch evt.Type {
	case processor.EventPaymentFailed:
		err = s.recordFailedPayment(ctx, evt)
	case processor.EventCheckoutCompleted:
		err = s.settle(ctx, evt)
	default:
		s.monitor.TrackWebhook("unhandled", "ignored")
		slog.Debug("ignoring webhook event", "eventId", evt.ID, "type", evt.RawType)
		return nil
	}

	if err != nil && !errors.Is(err, status.ErrSettlementLocked) {
		s.monitor.TrackWebhook(string(evt.Type), "failed")
	}
	return err
}

// recordFailedPayment appends an attempt row. Redelivery appends again; the
// rows only feed a time windowed count.
func (s *SettlementService) recordFailedPayment(ctx context.Context, evt *processor.Event) error {
	pi := evt.PaymentIntent
	if pi == nil {
		return status.Validation("payment failed event %s has no payment intent", evt.ID)
	}

	userID := pi.Metadata[intent.MetadataUserID]
	if userID == "" {
		s.monitor.TrackWebhook(string(evt.Type), "ignored")
		slog.Info("payment failure without user metadata", "paymentIntentId", pi.ID)
		return nil
	}

	if err := s.store.CreateFailedAttempt(ctx, &models.FailedPaymentAttempt{
		UserID:    userID,
		EventID:   pi.Metadata[intent.MetadataEventID],
		SessionID: pi.ID,
		Reason:    pi.FailureReason,
	}); err != nil {
		return fmt.Errorf("s.store.CreateFailedAttempt: %w", err)
	}

	s.monitor.TrackWebhook(string(evt.Type), "recorded")
	return nil
}

type issuedTicket struct {
	ticket *models.Ticket
	qr     *ticketart.QR
}

type issuedGroup struct {
	tier    *models.PricingTier
	tickets []issuedTicket
}

type settlement struct {
	user    *models.User
	event   *models.Event
	date    time.Time
	groups  []*issuedGroup
	totals  Totals
	points  int
	tickets int
}

func (s *SettlementService) settle(ctx context.Context, evt *processor.Event) (err error) {
	ctx, span := tracer.Start(ctx, "settlement.Settle")
	span.SetAttributes(attribute.String("webhook.event_id", evt.ID))
	defer func() { endSpan(span, err) }()

	sess := evt.Session
	if sess == nil {
		return status.Validation("checkout event %s has no session", evt.ID)
	}
	if sess.PaymentStatus != processor.PaymentStatusPaid {
		s.monitor.TrackWebhook(string(evt.Type), "unpaid")
		slog.Info("checkout completed without payment", "sessionId", sess.ID, "paymentStatus", sess.PaymentStatus)
		return nil
	}

	purchase, err := intent.Decode(sess.Metadata)
	if err != nil {
		return status.Validation("session %s: %v", sess.ID, err)
	}
	span.SetAttributes(attribute.String("session.id", sess.ID), attribute.String("user.id", purchase.UserID))

	release, ok, err := s.locker.Acquire(ctx, "settlement:"+evt.ID, s.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("s.locker.Acquire: %w", err)
	}
	if !ok {
		return status.ErrSettlementLocked
	}
	defer release(context.WithoutCancel(ctx))

	start := s.now()
	var result *settlement
	err = s.store.RunInTx(ctx, func(tx Store) error {
		var err error
		result, err = s.materialize(ctx, tx, evt, sess, purchase)
		return err
	})
	if errors.Is(err, status.ErrAlreadySettled) {
		s.monitor.TrackWebhook(string(evt.Type), "duplicate")
		slog.Info("webhook event already settled", "eventId", evt.ID, "sessionId", sess.ID)
		return nil
	}
	if err != nil {
		return err
	}

	s.monitor.TrackWebhook(string(evt.Type), "settled")
	s.monitor.TrackSettlement(purchase.EventID, result.tickets, s.now().Sub(start))
	s.monitor.TrackPoints(string(models.PointsEarned), result.points)
	s.points.Invalidate(ctx, purchase.UserID)

	slog.Info("settlement committed",
		"eventId", evt.ID,
		"sessionId", sess.ID,
		"userId", purchase.UserID,
		"tickets", result.tickets,
		"finalAmount", result.totals.Final,
	)

	s.afterCommit(ctx, sess, result)
	return nil
}

// materialize performs every write of one settlement against tx.
func (s *SettlementService) materialize(ctx context.Context, tx Store, evt *processor.Event, sess *processor.CheckoutSession, p *intent.Purchase) (*settlement, error) {
	fresh, err := tx.RecordWebhookEvent(ctx, &models.WebhookEvent{
		Provider:  string(evt.Provider),
		EventID:   evt.ID,
		EventType: evt.RawType,
	})
	if err != nil {
		return nil, fmt.Errorf("tx.RecordWebhookEvent: %w", err)
	}
	if !fresh {
		return nil, status.ErrAlreadySettled
	}

	user, err := tx.GetUser(ctx, p.UserID)
	if err != nil {
		return nil, notFoundOr(err, "User not found")
	}
	event, err := tx.GetEvent(ctx, p.EventID)
	if err != nil {
		return nil, notFoundOr(err, "Event not found")
	}

	res := &settlement{user: user, event: event, date: p.Date}
	lines := make([]PriceLine, 0, len(p.Tiers))

	for _, tq := range p.Tiers {
		tier, err := s.inventory.Take(ctx, tx, tq.TierID, tq.Quantity)
		if err != nil {
			return nil, err
		}
		lines = append(lines, PriceLine{Price: tier.Price, Quantity: tq.Quantity})

		ticketDate := p.Date
		if scheduled, ok := event.DateByID(tier.EventDateID); ok {
			ticketDate = scheduled.Date
		}
		if len(res.groups) == 0 {
			res.date = ticketDate
		}

		group := &issuedGroup{tier: tier}
		for i := 0; i < tq.Quantity; i++ {
			ticketUUID := uuid.NewString()
			qr, err := ticketart.RenderQR(ticketUUID)
			if err != nil {
				return nil, fmt.Errorf("ticketart.RenderQR: %w", err)
			}

			t := &models.Ticket{
				EventID:         p.EventID,
				TierID:          tier.ID,
				UserID:          p.UserID,
				Date:            ticketDate,
				SessionID:       sess.ID,
				PaymentIntentID: sess.PaymentIntentID,
				TicketUUID:      ticketUUID,
				QRCode:          qr.DataURL(),
				RefundStatus:    models.RefundNone,
			}
			if err := tx.CreateTicket(ctx, t); err != nil {
				return nil, fmt.Errorf("tx.CreateTicket: %w", err)
			}
			group.tickets = append(group.tickets, issuedTicket{ticket: t, qr: qr})
			res.tickets++
		}
		res.groups = append(res.groups, group)
	}

	firstTicketID := ""
	if len(res.groups) > 0 && len(res.groups[0].tickets) > 0 {
		firstTicketID = res.groups[0].tickets[0].ticket.ID
	}
	res.points = res.tickets * s.cfg.PointsPerTicket
	if err := s.points.Earn(ctx, tx, p.UserID, res.points, p.EventID, firstTicketID); err != nil {
		return nil, err
	}

	res.totals = ComputeTotals(lines, p.WelcomeDiscount, p.PointsDiscount)
	if res.totals.PointsDiscount.IsPositive() {
		if err := tx.ConsumeDiscount(ctx, p.UserID, res.totals.PointsDiscount); err != nil {
			return nil, fmt.Errorf("tx.ConsumeDiscount: %w", err)
		}
	}

	if p.WelcomeDiscount {
		if _, err := tx.ClearWelcomeGift(ctx, p.UserID); err != nil {
			return nil, fmt.Errorf("tx.ClearWelcomeGift: %w", err)
		}
	}

	return res, nil
}

// afterCommit sends the receipt and the domain event. Failures here do not
// undo the settlement.
func (s *SettlementService) afterCommit(ctx context.Context, sess *processor.CheckoutSession, res *settlement) {
	ctx = context.WithoutCancel(ctx)
	location := res.event.PrimaryDate().Location
	if len(res.groups) > 0 {
		location = locationFor(res.event, res.groups[0].tier)
	}

	ticketIDs := make([]string, 0, res.tickets)
	msg := &mailer.Settlement{
		To:              res.user.Email,
		Name:            res.user.DisplayName(),
		OrderID:         sess.ID,
		EventTitle:      res.event.Title,
		Location:        location,
		Date:            res.date,
		OriginalTotal:   res.totals.Original,
		WelcomeDiscount: res.totals.WelcomeDiscount,
		PointsDiscount:  res.totals.PointsDiscount,
		FinalAmount:     res.totals.Final,
		PointsEarned:    res.points,
	}
	if msg.To == "" {
		msg.To = sess.CustomerEmail
	}

	for _, g := range res.groups {
		mg := mailer.TierGroup{TierName: g.tier.Name, UnitPrice: g.tier.Price}
		for _, it := range g.tickets {
			ticketIDs = append(ticketIDs, it.ticket.ID)

			pdf, err := ticketart.RenderPDF(&ticketart.Ticket{
				OrderID:     sess.ID,
				TicketUUID:  it.ticket.TicketUUID,
				EventTitle:  res.event.Title,
				Location:    location,
				Date:        res.date,
				TierName:    g.tier.Name,
				Price:       g.tier.Price,
				HolderName:  res.user.DisplayName(),
				HolderEmail: msg.To,
			})
			if err != nil {
				slog.Error("ticketart.RenderPDF()", "ticketId", it.ticket.ID, "error", err)
			}
			mg.Tickets = append(mg.Tickets, mailer.TicketArtifact{
				UUID:    it.ticket.TicketUUID,
				QRPNG:   it.qr.PNG,
				QRASCII: it.qr.ASCII,
				PDF:     pdf,
			})
		}
		msg.Groups = append(msg.Groups, mg)
	}

	if err := s.mail.SendSettlement(ctx, msg); err != nil {
		slog.Error("s.mail.SendSettlement()", "sessionId", sess.ID, "to", msg.To, "error", err)
	}

	env := events.NewEnvelope(events.TypeTicketSettled, res.user.ID, events.TicketSettled{
		SessionID:       sess.ID,
		PaymentIntentID: sess.PaymentIntentID,
		UserID:          res.user.ID,
		EventID:         res.event.ID,
		TicketIDs:       ticketIDs,
		FinalAmount:     res.totals.Final,
		PointsEarned:    res.points,
	})
	if err := s.events.Publish(ctx, env); err != nil {
		slog.Error("s.events.Publish()", "type", env.Type, "sessionId", sess.ID, "error", err)
	}
}
