package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"eventix/internal/alerts"
	"eventix/internal/intent"
	"eventix/internal/mailer"
	"eventix/internal/services/fraud"
	"eventix/internal/services/processor"
	"eventix/internal/status"
	"eventix/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func checkoutReq(tiers ...models.TierQuantity) *CheckoutRequest {
	return &CheckoutRequest{EventID: "event_1", Date: "2026-12-20", TierQuantities: tiers}
}

func manyTiers(n int) []models.TierQuantity {
	tiers := make([]models.TierQuantity, n)
	for i := range tiers {
		tiers[i] = models.TierQuantity{TierID: fmt.Sprintf("tier_%02d", i), Quantity: 1}
	}
	return tiers
}

func TestCheckout_SettleThenSoldOut(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.screener.On("Screen", mock.Anything, mock.Anything).Return(fraud.VerdictAllow, nil)

	var sent *processor.SessionRequest
	h.proc.On("CreateCheckoutSession", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(1).(*processor.SessionRequest) }).
		Return(&processor.Session{ID: "cs_1", URL: "https://pay.example.com/cs_1"}, nil).
		Once()

	res, err := h.checkout().CreateSession(ctx, "user_1", checkoutReq(general(2)))
	require.NoError(t, err)
	assert.Equal(t, "cs_1", res.SessionID)
	assert.Equal(t, "https://pay.example.com/cs_1", res.URL)

	// Checkout reserves nothing.
	tier, err := h.store.GetTier(ctx, "tier_general")
	require.NoError(t, err)
	assert.Equal(t, 2, tier.Capacity)

	evt := &processor.Event{
		ID:       "evt_1",
		Type:     processor.EventCheckoutCompleted,
		RawType:  string(processor.EventCheckoutCompleted),
		Provider: processor.ProviderStripe,
		Session: &processor.CheckoutSession{
			ID:              "cs_1",
			PaymentIntentID: "pi_1",
			PaymentStatus:   processor.PaymentStatusPaid,
			Metadata:        sent.Metadata,
		},
	}
	require.NoError(t, h.settlement().Dispatch(ctx, evt))

	tier, err = h.store.GetTier(ctx, "tier_general")
	require.NoError(t, err)
	assert.Equal(t, 0, tier.Capacity)

	tickets, err := h.store.FindTicketsBySession(ctx, "cs_1", "user_1")
	require.NoError(t, err)
	assert.Len(t, tickets, 2)

	up, err := h.store.GetUserPoints(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, 20, up.AvailablePoints)
	assert.Equal(t, 20, up.TotalPointsEarned)

	_, err = h.checkout().CreateSession(ctx, "user_1", checkoutReq(general(1)))
	require.Error(t, err)
	assert.Equal(t, status.KindAvailability, status.KindOf(err))
	assert.Contains(t, err.Error(), "0 tickets available for tier General")

	h.screener.AssertNumberOfCalls(t, "Screen", 1)
	h.proc.AssertNumberOfCalls(t, "CreateCheckoutSession", 1)
}

func TestCreateSession_WelcomeAndPointsDiscount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.store.putUser(models.User{
		ID:                "user_1",
		Email:             "ada@example.com",
		FirstLoginGift:    true,
		WelcomeGiftExpiry: testNow.Add(24 * time.Hour),
	})
	h.store.putPoints(models.UserPoints{UserID: "user_1", AvailableDiscountAmount: decimal.NewFromInt(5)})

	h.screener.On("Screen", mock.Anything, mock.MatchedBy(func(f fraud.Features) bool {
		return f.TotalAmount.Equal(decimal.NewFromInt(80)) && f.TotalQuantity == 2
	})).Return(fraud.VerdictAllow, nil)
	h.proc.On("CreateCoupon", mock.Anything, mock.MatchedBy(func(r *processor.CouponRequest) bool {
		return r.AmountOff.Equal(decimal.NewFromInt(5)) && r.Currency == "usd"
	})).Return("coupon_1", nil).Once()

	var sent *processor.SessionRequest
	h.proc.On("CreateCheckoutSession", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(1).(*processor.SessionRequest) }).
		Return(&processor.Session{ID: "cs_1", URL: "https://pay.example.com/cs_1"}, nil)

	_, err := h.checkout().CreateSession(ctx, "user_1", checkoutReq(general(2)))
	require.NoError(t, err)

	require.Len(t, sent.LineItems, 1)
	assert.Equal(t, "General Ticket - 12/20/2026", sent.LineItems[0].Name)
	assert.True(t, decimal.NewFromInt(40).Equal(sent.LineItems[0].UnitAmount))
	assert.Equal(t, 2, sent.LineItems[0].Quantity)
	assert.Equal(t, "coupon_1", sent.CouponID)
	assert.Equal(t, "ada@example.com", sent.CustomerEmail)
	assert.Equal(t, "https://tickets.example.com/purchase/success?session_id={CHECKOUT_SESSION_ID}", sent.SuccessURL)

	p, err := intent.Decode(sent.Metadata)
	require.NoError(t, err)
	assert.True(t, p.WelcomeDiscount)
	assert.True(t, decimal.NewFromInt(5).Equal(p.PointsDiscount))
	assert.Equal(t, "user_1", sent.Metadata[intent.MetadataUserID])

	// The gift and the credit are only consumed by settlement.
	user, err := h.store.GetUser(ctx, "user_1")
	require.NoError(t, err)
	assert.True(t, user.FirstLoginGift)
	up, err := h.store.GetUserPoints(ctx, "user_1")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(5).Equal(up.AvailableDiscountAmount))
}

func TestCreateSession_PointsDiscountCappedAtSubtotal(t *testing.T) {
	h := newHarness(t)
	h.store.putPoints(models.UserPoints{UserID: "user_1", AvailableDiscountAmount: decimal.NewFromInt(500)})

	h.screener.On("Screen", mock.Anything, mock.Anything).Return(fraud.VerdictAllow, nil)
	h.proc.On("CreateCoupon", mock.Anything, mock.MatchedBy(func(r *processor.CouponRequest) bool {
		return r.AmountOff.Equal(decimal.NewFromInt(50))
	})).Return("coupon_1", nil).Once()
	h.proc.On("CreateCheckoutSession", mock.Anything, mock.Anything).
		Return(&processor.Session{ID: "cs_1", URL: "u"}, nil)

	_, err := h.checkout().CreateSession(context.Background(), "user_1", checkoutReq(general(1)))
	require.NoError(t, err)
	h.proc.AssertExpectations(t)
}

func TestCreateSession_FeaturesIncludeRecentHistory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.store.putTicket(models.Ticket{ID: "old", UserID: "user_1", CreatedAt: testNow.Add(-6 * time.Hour)})
	for _, at := range []time.Time{testNow.Add(-time.Hour), testNow.Add(-23 * time.Hour), testNow.Add(-25 * time.Hour)} {
		require.NoError(t, h.store.CreateFailedAttempt(ctx, &models.FailedPaymentAttempt{UserID: "user_1", CreatedAt: at}))
	}

	h.screener.On("Screen", mock.Anything, mock.MatchedBy(func(f fraud.Features) bool {
		return f.TotalAmount.Equal(decimal.NewFromInt(50)) &&
			f.TotalQuantity == 1 &&
			f.HoursSinceLastPurchase == 6 &&
			f.FailedAttempts == 2
	})).Return(fraud.VerdictAllow, nil).Once()
	h.proc.On("CreateCheckoutSession", mock.Anything, mock.Anything).
		Return(&processor.Session{ID: "cs_1", URL: "u"}, nil)

	_, err := h.checkout().CreateSession(ctx, "user_1", checkoutReq(general(1)))
	require.NoError(t, err)
	h.screener.AssertExpectations(t)
}

func TestCreateSession_FirstPurchaseUsesSentinelHours(t *testing.T) {
	h := newHarness(t)

	h.screener.On("Screen", mock.Anything, mock.MatchedBy(func(f fraud.Features) bool {
		return f.HoursSinceLastPurchase == fraud.NoPriorPurchaseHours && f.FailedAttempts == 0
	})).Return(fraud.VerdictAllow, nil).Once()
	h.proc.On("CreateCheckoutSession", mock.Anything, mock.Anything).
		Return(&processor.Session{ID: "cs_1", URL: "u"}, nil)

	_, err := h.checkout().CreateSession(context.Background(), "user_1", checkoutReq(general(1)))
	require.NoError(t, err)
	h.screener.AssertExpectations(t)
}

func TestCreateSession_FraudBlock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.screener.On("Screen", mock.Anything, mock.Anything).Return(fraud.VerdictBlock, nil)

	_, err := h.checkout().CreateSession(ctx, "user_1", checkoutReq(general(1)))
	require.Error(t, err)
	assert.Equal(t, status.KindFraudBlocked, status.KindOf(err))
	assert.Equal(t, "Suspicious activity detected. Transaction blocked. Please contact support.", err.Error())

	h.proc.AssertNotCalled(t, "CreateCheckoutSession", mock.Anything, mock.Anything)
	h.proc.AssertNotCalled(t, "CreateCoupon", mock.Anything, mock.Anything)

	expected := SuspiciousActivityMessage([]string{"General"}, testEventDate)
	h.mail.AssertCalled(t, "SendSuspiciousActivity", mock.Anything, &mailer.SuspiciousActivity{
		To:      "ada@example.com",
		Name:    "Ada",
		Message: expected,
	})
	h.alerts.AssertCalled(t, "Send", mock.Anything, "user_1", alerts.Message{
		Type:    alerts.TypeFraudAlert,
		Message: "Transaction blocked due to suspicious activity",
	})

	data := h.store.snapshot()
	require.Len(t, data.notifications, 1)
	assert.Equal(t, models.NotificationSecurity, data.notifications[0].Type)
	assert.Equal(t, expected, data.notifications[0].Message)
	require.Len(t, data.audits, 1)
	assert.Equal(t, []float64{50, 1, fraud.NoPriorPurchaseHours, 0}, data.audits[0].Features)
}

func TestCreateSession_FraudBlockSurvivesSideEffectFailures(t *testing.T) {
	h := newHarness(t)
	h.mail = &MockMailer{}
	h.alerts = &MockAlerts{}
	h.mail.On("SendSuspiciousActivity", mock.Anything, mock.Anything).Return(errors.New("smtp down"))
	h.alerts.On("Send", mock.Anything, mock.Anything, mock.Anything).Return(status.ErrNotConnected)
	h.screener.On("Screen", mock.Anything, mock.Anything).Return(fraud.VerdictBlock, nil)

	_, err := h.checkout().CreateSession(context.Background(), "user_1", checkoutReq(general(1)))
	assert.Equal(t, status.KindFraudBlocked, status.KindOf(err))
	assert.Len(t, h.store.snapshot().notifications, 1)
}

func TestCreateSession_FraudScreenUnavailableFailsClosed(t *testing.T) {
	h := newHarness(t)
	h.screener.On("Screen", mock.Anything, mock.Anything).Return(fraud.VerdictBlock, errors.New("dial tcp: connection refused"))

	_, err := h.checkout().CreateSession(context.Background(), "user_1", checkoutReq(general(1)))
	require.Error(t, err)
	assert.Equal(t, status.KindInternal, status.KindOf(err))
	assert.Contains(t, err.Error(), "Unable to verify transaction")
	h.proc.AssertNotCalled(t, "CreateCheckoutSession", mock.Anything, mock.Anything)
}

func TestCreateSession_ProcessorFailure(t *testing.T) {
	h := newHarness(t)
	h.screener.On("Screen", mock.Anything, mock.Anything).Return(fraud.VerdictAllow, nil)
	h.proc.On("CreateCheckoutSession", mock.Anything, mock.Anything).Return(nil, errors.New("stripe: 503"))

	_, err := h.checkout().CreateSession(context.Background(), "user_1", checkoutReq(general(1)))
	require.Error(t, err)
	assert.Equal(t, status.KindProcessor, status.KindOf(err))
	assert.Contains(t, err.Error(), "Payment processing failed: stripe: 503")
}

func TestCreateSession_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		userID  string
		req     *CheckoutRequest
		kind    status.Kind
		message string
	}{
		{
			name:    "no tiers",
			userID:  "user_1",
			req:     checkoutReq(),
			kind:    status.KindValidation,
			message: "tierQuantities",
		},
		{
			name:    "missing event id",
			userID:  "user_1",
			req:     &CheckoutRequest{Date: "2026-12-20", TierQuantities: []models.TierQuantity{general(1)}},
			kind:    status.KindValidation,
			message: "eventId",
		},
		{
			name:    "zero quantity",
			userID:  "user_1",
			req:     checkoutReq(general(0)),
			kind:    status.KindValidation,
			message: "quantity",
		},
		{
			name:    "duplicate tiers",
			userID:  "user_1",
			req:     checkoutReq(general(1), general(1)),
			kind:    status.KindValidation,
			message: "duplicates",
		},
		{
			name:    "more tiers than an intent carries",
			userID:  "user_1",
			req:     checkoutReq(manyTiers(16)...),
			kind:    status.KindValidation,
			message: "tierQuantities",
		},
		{
			name:    "unparseable date",
			userID:  "user_1",
			req:     &CheckoutRequest{EventID: "event_1", Date: "next friday", TierQuantities: []models.TierQuantity{general(1)}},
			kind:    status.KindValidation,
			message: "Invalid date",
		},
		{
			name:    "unknown user",
			userID:  "ghost",
			req:     checkoutReq(general(1)),
			kind:    status.KindNotFound,
			message: "User not found",
		},
		{
			name:    "unknown event",
			userID:  "user_1",
			req:     &CheckoutRequest{EventID: "nope", Date: "2026-12-20", TierQuantities: []models.TierQuantity{general(1)}},
			kind:    status.KindNotFound,
			message: "Event not found",
		},
		{
			name:    "unknown tier",
			userID:  "user_1",
			req:     checkoutReq(models.TierQuantity{TierID: "tier_missing", Quantity: 1}),
			kind:    status.KindNotFound,
			message: "Pricing tier not found",
		},
		{
			name:    "tier of another event",
			userID:  "user_1",
			req:     checkoutReq(models.TierQuantity{TierID: "tier_other", Quantity: 1}),
			kind:    status.KindValidation,
			message: "does not belong to this event",
		},
		{
			name:    "date the tier is not scheduled for",
			userID:  "user_1",
			req:     &CheckoutRequest{EventID: "event_1", Date: "2099-01-01", TierQuantities: []models.TierQuantity{general(1)}},
			kind:    status.KindValidation,
			message: "Tier General is not on sale for 2099-01-01",
		},
		{
			name:    "more than remaining",
			userID:  "user_1",
			req:     checkoutReq(general(3)),
			kind:    status.KindAvailability,
			message: "Only 2 tickets available for tier General",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.store.putTier(models.PricingTier{ID: "tier_other", EventID: "event_2", Name: "Other", Price: decimal.NewFromInt(10), Capacity: 10})

			_, err := h.checkout().CreateSession(context.Background(), tt.userID, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, status.KindOf(err), err.Error())
			assert.Contains(t, err.Error(), tt.message)

			h.screener.AssertNotCalled(t, "Screen", mock.Anything, mock.Anything)
			h.proc.AssertNotCalled(t, "CreateCheckoutSession", mock.Anything, mock.Anything)
		})
	}
}

func TestCreateSession_IntentCarriesScheduledDate(t *testing.T) {
	h := newHarness(t)
	h.screener.On("Screen", mock.Anything, mock.Anything).Return(fraud.VerdictAllow, nil)

	var sent *processor.SessionRequest
	h.proc.On("CreateCheckoutSession", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(1).(*processor.SessionRequest) }).
		Return(&processor.Session{ID: "cs_1", URL: "https://pay.example.com/cs_1"}, nil)

	_, err := h.checkout().CreateSession(context.Background(), "user_1", checkoutReq(general(1)))
	require.NoError(t, err)

	p, err := intent.Decode(sent.Metadata)
	require.NoError(t, err)
	assert.True(t, p.Date.Equal(testEventDate), "got %s", p.Date)
}
