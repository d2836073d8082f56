package services

import (
	"context"
	"testing"
	"time"

	"eventix/internal/intent"
	"eventix/internal/services/processor"
	"eventix/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	testEventDate = time.Date(2026, 12, 20, 19, 0, 0, 0, time.UTC)
	testDay       = time.Date(2026, 12, 20, 0, 0, 0, 0, time.UTC)
	testNow       = time.Date(2026, 11, 1, 10, 0, 0, 0, time.UTC)
)

type harness struct {
	store    *memStore
	proc     *MockProcessor
	screener *MockScreener
	mail     *MockMailer
	alerts   *MockAlerts
	pub      *MockEventPublisher
	dlq      *MockDeadLetter
	locker   *memLocker
	now      time.Time
}

// newHarness seeds one user, one event and a "General" tier of capacity 2
// priced at 50.
func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		store:    newMemStore(),
		proc:     &MockProcessor{},
		screener: &MockScreener{},
		mail:     &MockMailer{},
		alerts:   &MockAlerts{},
		pub:      &MockEventPublisher{},
		dlq:      &MockDeadLetter{},
		locker:   newMemLocker(),
		now:      testNow,
	}
	h.store.now = func() time.Time { return h.now }

	h.mail.On("SendSettlement", mock.Anything, mock.Anything).Return(nil).Maybe()
	h.mail.On("SendSuspiciousActivity", mock.Anything, mock.Anything).Return(nil).Maybe()
	h.mail.On("SendRefund", mock.Anything, mock.Anything).Return(nil).Maybe()
	h.alerts.On("Send", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	h.pub.On("Publish", mock.Anything, mock.Anything).Return(nil).Maybe()
	h.dlq.On("Publish", mock.Anything, mock.Anything).Return(nil).Maybe()

	h.store.putUser(models.User{ID: "user_1", Email: "ada@example.com", Name: "Ada"})
	h.store.putEvent(models.Event{
		ID:    "event_1",
		Title: "Winter Jazz Night",
		Dates: []models.EventDate{{ID: "date_1", EventID: "event_1", Date: testEventDate, Location: "Hall A"}},
	})
	h.store.putTier(models.PricingTier{
		ID:           "tier_general",
		EventID:      "event_1",
		EventDateID:  "date_1",
		Name:         "General",
		Price:        decimal.NewFromInt(50),
		Capacity:     2,
		RefundPolicy: models.FullRefund,
		RefundDays:   14,
	})
	return h
}

func (h *harness) clock() time.Time { return h.now }

func harnessEvent(t *testing.T, h *harness) *models.Event {
	t.Helper()
	event, err := h.store.GetEvent(context.Background(), "event_1")
	require.NoError(t, err)
	return event
}

func (h *harness) inventory() *InventoryService {
	return NewInventoryService(h.store)
}

func (h *harness) checkout() *CheckoutService {
	s := NewCheckoutService(h.store, h.inventory(), h.proc, h.screener, h.mail, h.alerts, nil, CheckoutConfig{
		Currency:    "usd",
		FrontendURL: "https://tickets.example.com",
	})
	s.now = h.clock
	return s
}

func (h *harness) points() *PointsService {
	s := NewPointsService(h.store, nil, time.Minute, nil)
	s.now = h.clock
	return s
}

func (h *harness) settlement() *SettlementService {
	s := NewSettlementService(h.store, h.inventory(), h.points(), h.proc, h.mail, h.pub, h.dlq, h.locker, nil, SettlementConfig{})
	s.now = h.clock
	return s
}

func (h *harness) refunds() *RefundService {
	s := NewRefundService(h.store, h.proc, h.mail, h.alerts, h.pub, h.locker, nil, RefundConfig{})
	s.now = h.clock
	return s
}

// completedEvent builds a paid checkout completion carrying p as its intent.
func completedEvent(t *testing.T, id, sessionID string, p *intent.Purchase) *processor.Event {
	t.Helper()

	md, err := p.Metadata()
	require.NoError(t, err)

	return &processor.Event{
		ID:       id,
		Type:     processor.EventCheckoutCompleted,
		RawType:  string(processor.EventCheckoutCompleted),
		Provider: processor.ProviderStripe,
		Session: &processor.CheckoutSession{
			ID:              sessionID,
			PaymentIntentID: "pi_" + sessionID,
			PaymentStatus:   processor.PaymentStatusPaid,
			CustomerEmail:   "ada@example.com",
			Metadata:        md,
		},
		Payload: []byte(`{"id":"` + id + `"}`),
	}
}

func purchase(tiers ...models.TierQuantity) *intent.Purchase {
	return &intent.Purchase{
		UserID:  "user_1",
		EventID: "event_1",
		Date:    testEventDate,
		Tiers:   tiers,
	}
}

func general(qty int) models.TierQuantity {
	return models.TierQuantity{TierID: "tier_general", Quantity: qty}
}
