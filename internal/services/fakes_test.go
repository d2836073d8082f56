package services

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"eventix/internal/alerts"
	"eventix/internal/deadletter"
	"eventix/internal/events"
	"eventix/internal/mailer"
	"eventix/internal/services/fraud"
	"eventix/internal/services/processor"
	"eventix/internal/status"
	"eventix/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

type memData struct {
	users         map[string]models.User
	events        map[string]models.Event
	tiers         map[string]models.PricingTier
	tickets       []models.Ticket
	failed        []models.FailedPaymentAttempt
	points        map[string]models.UserPoints
	history       []models.PointsHistory
	webhooks      map[string]bool
	notifications []models.Notification
	audits        []models.SecurityAudit
	seq           int
}

func (d *memData) clone() *memData {
	out := &memData{
		users:         make(map[string]models.User, len(d.users)),
		events:        make(map[string]models.Event, len(d.events)),
		tiers:         make(map[string]models.PricingTier, len(d.tiers)),
		tickets:       slices.Clone(d.tickets),
		failed:        slices.Clone(d.failed),
		points:        make(map[string]models.UserPoints, len(d.points)),
		history:       slices.Clone(d.history),
		webhooks:      make(map[string]bool, len(d.webhooks)),
		notifications: slices.Clone(d.notifications),
		audits:        slices.Clone(d.audits),
		seq:           d.seq,
	}
	for k, v := range d.users {
		out.users[k] = v
	}
	for k, v := range d.events {
		out.events[k] = v
	}
	for k, v := range d.tiers {
		out.tiers[k] = v
	}
	for k, v := range d.points {
		out.points[k] = v
	}
	for k, v := range d.webhooks {
		out.webhooks[k] = v
	}
	return out
}

// memStore is an in-memory Store. Transactions run on a copy of the data
// that replaces the original only when fn succeeds.
type memStore struct {
	mu   *sync.Mutex
	txMu *sync.Mutex
	data *memData
	now  func() time.Time

	// fail, when set, is consulted before every write; a non-nil error aborts it.
	fail func(op string) error
}

func newMemStore() *memStore {
	return &memStore{
		mu:   &sync.Mutex{},
		txMu: &sync.Mutex{},
		data: &memData{
			users:    map[string]models.User{},
			events:   map[string]models.Event{},
			tiers:    map[string]models.PricingTier{},
			points:   map[string]models.UserPoints{},
			webhooks: map[string]bool{},
		},
		now: time.Now,
	}
}

func (m *memStore) check(op string) error {
	if m.fail != nil {
		return m.fail(op)
	}
	return nil
}

func (m *memStore) nextID(prefix string) string {
	m.data.seq++
	return fmt.Sprintf("%s_%d", prefix, m.data.seq)
}

func (m *memStore) RunInTx(ctx context.Context, fn func(tx Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	tx := &memStore{mu: m.mu, txMu: &sync.Mutex{}, data: m.data.clone(), now: m.now, fail: m.fail}
	m.mu.Unlock()

	if err := fn(tx); err != nil {
		return err
	}

	m.mu.Lock()
	m.data = tx.data
	m.mu.Unlock()
	return nil
}

// seeding helpers

func (m *memStore) putUser(u models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.users[u.ID] = u
}

func (m *memStore) putEvent(e models.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.events[e.ID] = e
}

func (m *memStore) putTier(t models.PricingTier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.tiers[t.ID] = t
}

func (m *memStore) putPoints(up models.UserPoints) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.points[up.UserID] = up
}

func (m *memStore) putTicket(t models.Ticket) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = m.now()
	}
	m.data.tickets = append(m.data.tickets, t)
}

func (m *memStore) snapshot() *memData {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.clone()
}

// Store implementation

func (m *memStore) GetUser(_ context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.data.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, status.ErrNotFound)
	}
	return &u, nil
}

func (m *memStore) ClearWelcomeGift(_ context.Context, userID string) (bool, error) {
	if err := m.check("ClearWelcomeGift"); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.data.users[userID]
	if !ok || !u.FirstLoginGift {
		return false, nil
	}
	u.FirstLoginGift = false
	m.data.users[userID] = u
	return true, nil
}

func (m *memStore) GetEvent(_ context.Context, id string) (*models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data.events[id]
	if !ok {
		return nil, fmt.Errorf("event %s: %w", id, status.ErrNotFound)
	}
	return &e, nil
}

func (m *memStore) GetTier(_ context.Context, id string) (*models.PricingTier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.data.tiers[id]
	if !ok {
		return nil, fmt.Errorf("tier %s: %w", id, status.ErrNotFound)
	}
	return &t, nil
}

func (m *memStore) DecrementCapacity(_ context.Context, tierID string, n int) (bool, error) {
	if err := m.check("DecrementCapacity"); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.data.tiers[tierID]
	if !ok || t.Capacity < n {
		return false, nil
	}
	t.Capacity -= n
	m.data.tiers[tierID] = t
	return true, nil
}

func (m *memStore) CreateTicket(_ context.Context, t *models.Ticket) error {
	if err := m.check("CreateTicket"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = m.nextID("tkt")
	t.CreatedAt = m.now()
	m.data.tickets = append(m.data.tickets, *t)
	return nil
}

func (m *memStore) GetTicket(_ context.Context, id string) (*models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.data.tickets {
		if t.ID == id {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("ticket %s: %w", id, status.ErrNotFound)
}

func (m *memStore) FindTicketByUUID(_ context.Context, ticketUUID string) (*models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.data.tickets {
		if t.TicketUUID == ticketUUID {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("ticket %s: %w", ticketUUID, status.ErrNotFound)
}

func (m *memStore) filterTickets(keep func(models.Ticket) bool) []*models.Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Ticket
	for _, t := range m.data.tickets {
		if keep(t) {
			out = append(out, &t)
		}
	}
	return out
}

func (m *memStore) FindTicketsBySession(_ context.Context, sessionID, userID string) ([]*models.Ticket, error) {
	return m.filterTickets(func(t models.Ticket) bool { return t.SessionID == sessionID && t.UserID == userID }), nil
}

func (m *memStore) FindTicketsByUser(_ context.Context, userID string) ([]*models.Ticket, error) {
	return m.filterTickets(func(t models.Ticket) bool { return t.UserID == userID }), nil
}

func (m *memStore) FindTicketsByPayment(_ context.Context, paymentIntentID string) ([]*models.Ticket, error) {
	return m.filterTickets(func(t models.Ticket) bool { return t.PaymentIntentID == paymentIntentID }), nil
}

func (m *memStore) LastTicketTime(_ context.Context, userID string) (*time.Time, error) {
	var last *time.Time
	for _, t := range m.filterTickets(func(t models.Ticket) bool { return t.UserID == userID }) {
		if last == nil || t.CreatedAt.After(*last) {
			at := t.CreatedAt
			last = &at
		}
	}
	return last, nil
}

func (m *memStore) MarkTicketRefunded(_ context.Context, ticketID string, amount decimal.Decimal, refundID string, at time.Time) (bool, error) {
	if err := m.check("MarkTicketRefunded"); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, t := range m.data.tickets {
		if t.ID != ticketID || !t.Refundable() {
			continue
		}
		t.RefundStatus = models.RefundProcessed
		t.RefundAmount = amount
		t.RefundID = refundID
		t.RefundProcessedAt = &at
		m.data.tickets[i] = t
		return true, nil
	}
	return false, nil
}

func (m *memStore) MarkSiblingsPartialRefund(_ context.Context, paymentIntentID, excludeTicketID string) (int, error) {
	if err := m.check("MarkSiblingsPartialRefund"); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for i, t := range m.data.tickets {
		if t.PaymentIntentID != paymentIntentID || t.ID == excludeTicketID || !t.Refundable() {
			continue
		}
		t.RefundStatus = models.RefundPartial
		m.data.tickets[i] = t
		n++
	}
	return n, nil
}

func (m *memStore) CreateFailedAttempt(_ context.Context, a *models.FailedPaymentAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = m.nextID("fpa")
	if a.CreatedAt.IsZero() {
		a.CreatedAt = m.now()
	}
	m.data.failed = append(m.data.failed, *a)
	return nil
}

func (m *memStore) CountFailedAttempts(_ context.Context, userID string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.data.failed {
		if a.UserID == userID && !a.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *memStore) GetUserPoints(_ context.Context, userID string) (*models.UserPoints, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	up, ok := m.data.points[userID]
	if !ok {
		return nil, fmt.Errorf("points %s: %w", userID, status.ErrNotFound)
	}
	return &up, nil
}

func (m *memStore) ListUserPoints(_ context.Context) ([]*models.UserPoints, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.UserPoints
	for _, up := range m.data.points {
		out = append(out, &up)
	}
	slices.SortFunc(out, func(a, b *models.UserPoints) int {
		if a.UserID < b.UserID {
			return -1
		}
		return 1
	})
	return out, nil
}

func (m *memStore) CreditPoints(_ context.Context, userID string, points int) error {
	if err := m.check("CreditPoints"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	up := m.data.points[userID]
	up.UserID = userID
	up.AvailablePoints += points
	up.TotalPointsEarned += points
	m.data.points[userID] = up
	return nil
}

func (m *memStore) DebitPoints(_ context.Context, userID string, points int) (bool, error) {
	if err := m.check("DebitPoints"); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	up, ok := m.data.points[userID]
	if !ok || up.AvailablePoints < points {
		return false, nil
	}
	up.AvailablePoints -= points
	m.data.points[userID] = up
	return true, nil
}

func (m *memStore) AddDiscount(_ context.Context, userID string, amount decimal.Decimal) error {
	if err := m.check("AddDiscount"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	up := m.data.points[userID]
	up.UserID = userID
	up.AvailableDiscountAmount = up.AvailableDiscountAmount.Add(amount)
	m.data.points[userID] = up
	return nil
}

func (m *memStore) ConsumeDiscount(_ context.Context, userID string, amount decimal.Decimal) error {
	if err := m.check("ConsumeDiscount"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	up, ok := m.data.points[userID]
	if !ok {
		return nil
	}
	up.AvailableDiscountAmount = decimal.Max(decimal.Zero, up.AvailableDiscountAmount.Sub(amount))
	m.data.points[userID] = up
	return nil
}

func (m *memStore) AppendPointsHistory(_ context.Context, h *models.PointsHistory) error {
	if err := m.check("AppendPointsHistory"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	h.ID = m.nextID("ph")
	h.CreatedAt = m.now()
	m.data.history = append(m.data.history, *h)
	return nil
}

func (m *memStore) ListPointsHistory(_ context.Context, userID string, action models.PointsAction, limit, offset int) ([]*models.PointsHistory, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*models.PointsHistory
	for i := len(m.data.history) - 1; i >= 0; i-- {
		h := m.data.history[i]
		if h.UserID != userID || (action != "" && h.Action != action) {
			continue
		}
		all = append(all, &h)
	}
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	return all[offset:min(offset+limit, total)], total, nil
}

func (m *memStore) SumPointsHistory(_ context.Context, userID string) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	available, earned := 0, 0
	for _, h := range m.data.history {
		if h.UserID != userID {
			continue
		}
		available += h.Points
		if h.Action == models.PointsEarned {
			earned += h.Points
		}
	}
	return available, earned, nil
}

func (m *memStore) RecordWebhookEvent(_ context.Context, e *models.WebhookEvent) (bool, error) {
	if err := m.check("RecordWebhookEvent"); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := e.Provider + ":" + e.EventID
	if m.data.webhooks[key] {
		return false, nil
	}
	m.data.webhooks[key] = true
	return true, nil
}

func (m *memStore) CreateNotification(_ context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n.ID = m.nextID("ntf")
	m.data.notifications = append(m.data.notifications, *n)
	return nil
}

func (m *memStore) CreateSecurityAudit(_ context.Context, a *models.SecurityAudit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = m.nextID("aud")
	m.data.audits = append(m.data.audits, *a)
	return nil
}

// memLocker is an in-process Locker.
type memLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemLocker() *memLocker {
	return &memLocker{held: map[string]bool{}}
}

func (l *memLocker) Acquire(_ context.Context, key string, _ time.Duration) (func(context.Context), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return func(context.Context) {}, false, nil
	}
	l.held[key] = true
	return func(context.Context) {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, true, nil
}

// MockProcessor is a mock implementation of processor.Processor
type MockProcessor struct {
	mock.Mock
}

func (m *MockProcessor) GetProvider() processor.Provider {
	return processor.ProviderStripe
}

func (m *MockProcessor) CreateCoupon(ctx context.Context, req *processor.CouponRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockProcessor) CreateCheckoutSession(ctx context.Context, req *processor.SessionRequest) (*processor.Session, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*processor.Session), args.Error(1)
}

func (m *MockProcessor) GetCheckoutSession(ctx context.Context, id string) (*processor.CheckoutSession, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*processor.CheckoutSession), args.Error(1)
}

func (m *MockProcessor) GetPaymentIntent(ctx context.Context, id string) (*processor.PaymentIntent, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*processor.PaymentIntent), args.Error(1)
}

func (m *MockProcessor) GetCharge(ctx context.Context, id string) (*processor.Charge, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*processor.Charge), args.Error(1)
}

func (m *MockProcessor) CreateRefund(ctx context.Context, req *processor.RefundRequest) (*processor.Refund, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*processor.Refund), args.Error(1)
}

func (m *MockProcessor) ParseWebhook(payload []byte, signature string) (*processor.Event, error) {
	args := m.Called(payload, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*processor.Event), args.Error(1)
}

func (m *MockProcessor) DecodeEvent(payload []byte) (*processor.Event, error) {
	args := m.Called(payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*processor.Event), args.Error(1)
}

func (m *MockProcessor) Close(ctx context.Context) error {
	return nil
}

type MockScreener struct {
	mock.Mock
}

func (m *MockScreener) Screen(ctx context.Context, f fraud.Features) (fraud.Verdict, error) {
	args := m.Called(ctx, f)
	return args.Get(0).(fraud.Verdict), args.Error(1)
}

type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) SendSettlement(ctx context.Context, msg *mailer.Settlement) error {
	return m.Called(ctx, msg).Error(0)
}

func (m *MockMailer) SendSuspiciousActivity(ctx context.Context, msg *mailer.SuspiciousActivity) error {
	return m.Called(ctx, msg).Error(0)
}

func (m *MockMailer) SendRefund(ctx context.Context, msg *mailer.Refund) error {
	return m.Called(ctx, msg).Error(0)
}

type MockAlerts struct {
	mock.Mock
}

func (m *MockAlerts) Send(ctx context.Context, userID string, msg alerts.Message) error {
	return m.Called(ctx, userID, msg).Error(0)
}

type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(ctx context.Context, env events.Envelope) error {
	return m.Called(ctx, env).Error(0)
}

type MockDeadLetter struct {
	mock.Mock
}

func (m *MockDeadLetter) Publish(ctx context.Context, e *deadletter.Entry) error {
	return m.Called(ctx, e).Error(0)
}
