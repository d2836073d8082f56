package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"eventix/internal/alerts"
	"eventix/internal/services"
	"eventix/models"

	"github.com/pocketbase/pocketbase/core"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockCheckout struct{ mock.Mock }

func (m *MockCheckout) CreateSession(ctx context.Context, userID string, req *services.CheckoutRequest) (*services.CheckoutResult, error) {
	args := m.Called(ctx, userID, req)
	res, _ := args.Get(0).(*services.CheckoutResult)
	return res, args.Error(1)
}

type MockOrders struct{ mock.Mock }

func (m *MockOrders) OrderDetails(ctx context.Context, userID, email, sessionID string) (*services.Order, error) {
	args := m.Called(ctx, userID, email, sessionID)
	res, _ := args.Get(0).(*services.Order)
	return res, args.Error(1)
}

func (m *MockOrders) TicketsByYear(ctx context.Context, userID string) ([]services.TicketYear, error) {
	args := m.Called(ctx, userID)
	res, _ := args.Get(0).([]services.TicketYear)
	return res, args.Error(1)
}

func (m *MockOrders) TicketPDF(ctx context.Context, userID, ticketUUID string) ([]byte, error) {
	args := m.Called(ctx, userID, ticketUUID)
	res, _ := args.Get(0).([]byte)
	return res, args.Error(1)
}

type MockRefunder struct{ mock.Mock }

func (m *MockRefunder) Refund(ctx context.Context, userID, ticketID string) (*services.RefundResult, error) {
	args := m.Called(ctx, userID, ticketID)
	res, _ := args.Get(0).(*services.RefundResult)
	return res, args.Error(1)
}

type MockWebhook struct{ mock.Mock }

func (m *MockWebhook) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	return m.Called(ctx, payload, signature).Error(0)
}

type MockPoints struct{ mock.Mock }

func (m *MockPoints) Balance(ctx context.Context, userID string) (*models.UserPoints, error) {
	args := m.Called(ctx, userID)
	res, _ := args.Get(0).(*models.UserPoints)
	return res, args.Error(1)
}

func (m *MockPoints) History(ctx context.Context, userID, action string, skip, limit int) (*services.HistoryPage, error) {
	args := m.Called(ctx, userID, action, skip, limit)
	res, _ := args.Get(0).(*services.HistoryPage)
	return res, args.Error(1)
}

func (m *MockPoints) Rewards() []models.Reward {
	return m.Called().Get(0).([]models.Reward)
}

func (m *MockPoints) Redeem(ctx context.Context, userID, rewardID string) (*services.RedeemResult, error) {
	args := m.Called(ctx, userID, rewardID)
	res, _ := args.Get(0).(*services.RedeemResult)
	return res, args.Error(1)
}

func (m *MockPoints) Level(ctx context.Context, userID string) (*models.UserLevel, error) {
	args := m.Called(ctx, userID)
	res, _ := args.Get(0).(*models.UserLevel)
	return res, args.Error(1)
}

func (m *MockPoints) ScratchCardEligibility(ctx context.Context, userID string) (*services.ScratchCard, error) {
	args := m.Called(ctx, userID)
	res, _ := args.Get(0).(*services.ScratchCard)
	return res, args.Error(1)
}

type MockRegistry struct{ mock.Mock }

func (m *MockRegistry) Register(userID string) (*alerts.Connection, error) {
	args := m.Called(userID)
	res, _ := args.Get(0).(*alerts.Connection)
	return res, args.Error(1)
}

func (m *MockRegistry) Heartbeat(connID, userID string) error {
	return m.Called(connID, userID).Error(0)
}

func (m *MockRegistry) Unregister(connID, userID string) error {
	return m.Called(connID, userID).Error(0)
}

// newEvent builds a request event as the router would hand it to a handler.
// An empty userID leaves the request unauthenticated.
func newEvent(method, target string, body io.Reader, userID string) (*core.RequestEvent, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	e := &core.RequestEvent{}
	e.Request = req
	e.Response = rec

	if userID != "" {
		auth := core.NewRecord(core.NewAuthCollection("users"))
		auth.Id = userID
		auth.SetEmail("ada@example.com")
		e.Auth = auth
	}
	return e, rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}
