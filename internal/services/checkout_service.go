package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"eventix/internal/alerts"
	"eventix/internal/intent"
	"eventix/internal/mailer"
	"eventix/internal/services/fraud"
	"eventix/internal/services/processor"
	"eventix/internal/status"
	"eventix/models"
	"eventix/monitoring"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

const (
	fraudAlertMessage = "Transaction blocked due to suspicious activity"

	lineItemDateLayout = "1/2/2006"
)

type CheckoutRequest struct {
	EventID        string                `json:"eventId" validate:"required"`
	Date           string                `json:"date" validate:"required"`
	TierQuantities []models.TierQuantity `json:"tierQuantities" validate:"required,min=1,max=15,unique=TierID,dive"`
}

func (r *CheckoutRequest) parseDate() (time.Time, error) {
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if d, err := time.Parse(layout, r.Date); err == nil {
			return d, nil
		}
	}
	return time.Time{}, status.Validation("Invalid date: %q", r.Date).With("field", "date")
}

type CheckoutResult struct {
	URL       string `json:"url"`
	SessionID string `json:"sessionId"`
}

type CheckoutConfig struct {
	Currency            string
	FrontendURL         string
	FailedAttemptWindow time.Duration
}

type CheckoutService struct {
	store     Store
	inventory *InventoryService
	processor processor.Processor
	fraud     FraudScreener
	mail      Mailer
	alerts    AlertSender
	monitor   *monitoring.Monitor
	cfg       CheckoutConfig
	now       func() time.Time
}

func NewCheckoutService(
	store Store,
	inventory *InventoryService,
	proc processor.Processor,
	screener FraudScreener,
	mail Mailer,
	alertSender AlertSender,
	monitor *monitoring.Monitor,
	cfg CheckoutConfig,
) *CheckoutService {
	if cfg.FailedAttemptWindow <= 0 {
		cfg.FailedAttemptWindow = 24 * time.Hour
	}
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	return &CheckoutService{
		store:     store,
		inventory: inventory,
		processor: proc,
		fraud:     screener,
		mail:      mail,
		alerts:    alertSender,
		monitor:   monitor,
		cfg:       cfg,
		now:       time.Now,
	}
}

// CreateSession validates a purchase, screens it for fraud and opens a
// processor hosted payment page. No tickets or reservations are created.
func (s *CheckoutService) CreateSession(ctx context.Context, userID string, req *CheckoutRequest) (res *CheckoutResult, err error) {
	ctx, span := tracer.Start(ctx, "checkout.CreateSession")
	span.SetAttributes(attribute.String("user.id", userID), attribute.String("event.id", req.EventID))
	outcome := "error"
	defer func() {
		s.monitor.TrackCheckout(outcome)
		endSpan(span, err)
	}()

	if err := validateRequest(req); err != nil {
		outcome = "invalid"
		return nil, err
	}
	date, err := req.parseDate()
	if err != nil {
		outcome = "invalid"
		return nil, err
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, notFoundOr(err, "User not found")
	}
	event, err := s.store.GetEvent(ctx, req.EventID)
	if err != nil {
		return nil, notFoundOr(err, "Event not found")
	}

	lines, err := s.inventory.CheckAvailability(ctx, event, date, req.TierQuantities)
	if err != nil {
		switch status.KindOf(err) {
		case status.KindAvailability:
			outcome = "unavailable"
		case status.KindValidation:
			outcome = "invalid"
		}
		return nil, err
	}
	date = lines[0].Date.Date

	now := s.now()
	welcome := user.WelcomeDiscountEligible(now)

	credit := decimal.Zero
	up, err := s.store.GetUserPoints(ctx, userID)
	switch {
	case err == nil:
		credit = up.AvailableDiscountAmount
	case !errors.Is(err, status.ErrNotFound):
		return nil, fmt.Errorf("s.store.GetUserPoints: %w", err)
	}

	priceLines := make([]PriceLine, len(lines))
	totalQty := 0
	for i, l := range lines {
		priceLines[i] = PriceLine{Price: l.Tier.Price, Quantity: l.Quantity}
		totalQty += l.Quantity
	}
	totals := ComputeTotals(priceLines, welcome, credit)

	features, err := s.features(ctx, userID, totals.AfterWelcome(), totalQty, now)
	if err != nil {
		return nil, err
	}

	verdict, err := s.fraud.Screen(ctx, features)
	if err != nil {
		slog.Error("s.fraud.Screen()", "userId", userID, "error", err)
		return nil, status.Internal(err, "Unable to verify transaction, please try again later")
	}
	s.monitor.TrackFraudVerdict(verdict.String())
	if verdict == fraud.VerdictBlock {
		outcome = "fraud_blocked"
		s.blockCheckout(ctx, user, event, lines, date, features)
		return nil, status.FraudBlocked()
	}

	purchase := &intent.Purchase{
		UserID:          userID,
		EventID:         req.EventID,
		Date:            date,
		Tiers:           req.TierQuantities,
		WelcomeDiscount: welcome,
		PointsDiscount:  totals.PointsDiscount,
	}
	metadata, err := purchase.Metadata()
	if err != nil {
		if errors.Is(err, intent.ErrTooLarge) {
			outcome = "invalid"
			return nil, status.Validation("Too many tiers in one order")
		}
		return nil, status.Internal(err, "Unable to encode purchase")
	}

	sessionReq := &processor.SessionRequest{
		Currency:      s.cfg.Currency,
		LineItems:     make([]processor.LineItem, 0, len(lines)),
		SuccessURL:    s.cfg.FrontendURL + "/purchase/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     s.cfg.FrontendURL + "/purchase/cancel",
		CustomerEmail: user.Email,
		Metadata:      metadata,
	}
	for _, l := range lines {
		sessionReq.LineItems = append(sessionReq.LineItems, processor.LineItem{
			Name:       fmt.Sprintf("%s Ticket - %s", l.Tier.Name, date.Format(lineItemDateLayout)),
			UnitAmount: UnitPrice(l.Tier.Price, welcome),
			Quantity:   l.Quantity,
		})
	}

	if totals.PointsDiscount.IsPositive() {
		couponID, err := s.processor.CreateCoupon(ctx, &processor.CouponRequest{
			AmountOff: totals.PointsDiscount,
			Currency:  s.cfg.Currency,
		})
		if err != nil {
			slog.Error("s.processor.CreateCoupon()", "userId", userID, "amount", totals.PointsDiscount, "error", err)
			return nil, status.Processor(err, "Payment processing failed: %s", err.Error())
		}
		sessionReq.CouponID = couponID
	}

	session, err := s.processor.CreateCheckoutSession(ctx, sessionReq)
	if err != nil {
		slog.Error("s.processor.CreateCheckoutSession()", "userId", userID, "eventId", req.EventID, "error", err)
		return nil, status.Processor(err, "Payment processing failed: %s", err.Error())
	}

	outcome = "created"
	slog.Info("checkout session created",
		"sessionId", session.ID,
		"userId", userID,
		"eventId", req.EventID,
		"tickets", totalQty,
		"welcomeDiscount", welcome,
		"pointsDiscount", totals.PointsDiscount,
	)
	return &CheckoutResult{URL: session.URL, SessionID: session.ID}, nil
}

func (s *CheckoutService) features(ctx context.Context, userID string, amount decimal.Decimal, qty int, now time.Time) (fraud.Features, error) {
	last, err := s.store.LastTicketTime(ctx, userID)
	if err != nil && !errors.Is(err, status.ErrNotFound) {
		return fraud.Features{}, fmt.Errorf("s.store.LastTicketTime: %w", err)
	}
	failed, err := s.store.CountFailedAttempts(ctx, userID, now.Add(-s.cfg.FailedAttemptWindow))
	if err != nil {
		return fraud.Features{}, fmt.Errorf("s.store.CountFailedAttempts: %w", err)
	}

	return fraud.Features{
		TotalAmount:            amount,
		TotalQuantity:          qty,
		HoursSinceLastPurchase: fraud.HoursSince(last, now),
		FailedAttempts:         failed,
	}, nil
}

// SuspiciousActivityMessage is the in-app and email text for a blocked checkout.
func SuspiciousActivityMessage(tierNames []string, date time.Time) string {
	return fmt.Sprintf("We noticed something unusual with your transaction for %s tickets on %s and couldn't complete it. "+
		"If you believe this was a mistake, please ignore this and try again. "+
		"If not, we recommend securing your account and checking your credit card activity immediately.",
		strings.Join(tierNames, ", "), date.Format(lineItemDateLayout))
}

// blockCheckout runs the side effects of a fraud block. Each one is best
// effort; the checkout is rejected regardless.
func (s *CheckoutService) blockCheckout(ctx context.Context, user *models.User, event *models.Event, lines []TierLine, date time.Time, f fraud.Features) {
	names := make([]string, len(lines))
	for i, l := range lines {
		names[i] = l.Tier.Name
	}
	message := SuspiciousActivityMessage(names, date)

	slog.Warn("checkout blocked by fraud screen", "userId", user.ID, "eventId", event.ID, "features", f.Vector())

	if user.Email != "" {
		if err := s.mail.SendSuspiciousActivity(ctx, &mailer.SuspiciousActivity{
			To:      user.Email,
			Name:    user.DisplayName(),
			Message: message,
		}); err != nil {
			slog.Error("s.mail.SendSuspiciousActivity()", "userId", user.ID, "error", err)
		}
	}

	err := s.alerts.Send(ctx, user.ID, alerts.Message{Type: alerts.TypeFraudAlert, Message: fraudAlertMessage})
	switch {
	case errors.Is(err, status.ErrNotConnected):
		slog.Debug("fraud alert not pushed, user offline", "userId", user.ID)
	case err != nil:
		slog.Error("s.alerts.Send()", "userId", user.ID, "error", err)
	}

	if err := s.store.CreateNotification(ctx, &models.Notification{
		UserID:  user.ID,
		Type:    models.NotificationSecurity,
		Message: message,
	}); err != nil {
		slog.Error("s.store.CreateNotification()", "userId", user.ID, "error", err)
	}

	if err := s.store.CreateSecurityAudit(ctx, &models.SecurityAudit{
		UserID:   user.ID,
		EventID:  event.ID,
		Reason:   "fraud screen verdict: block",
		Features: f.Vector(),
	}); err != nil {
		slog.Error("s.store.CreateSecurityAudit()", "userId", user.ID, "error", err)
	}
}

// notFoundOr maps a missing row to a NotFoundError with msg.
func notFoundOr(err error, msg string) error {
	if errors.Is(err, status.ErrNotFound) {
		return status.NotFound("%s", msg)
	}
	return fmt.Errorf("%s: %w", strings.ToLower(msg), err)
}
