// Package store persists the ticketing pipeline in the app's pocketbase
// collections. Every balance and capacity mutation is a single conditional
// SQL statement so concurrent writers cannot lose updates.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"eventix/internal/services"
	"eventix/internal/status"
	"eventix/models"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/security"
	"github.com/pocketbase/pocketbase/tools/types"
	"github.com/shopspring/decimal"
)

const (
	CollectionUsers          = "users"
	CollectionEvents         = "events"
	CollectionEventDates     = "event_dates"
	CollectionPricingTiers   = "pricing_tiers"
	CollectionTickets        = "tickets"
	CollectionFailedPayments = "failed_payment_attempts"
	CollectionUserPoints     = "user_points"
	CollectionPointsHistory  = "points_history"
	CollectionWebhookEvents  = "processed_webhook_events"
	CollectionNotifications  = "notifications"
	CollectionSecurityAudits = "security_audits"

	idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	idLength   = 15
)

type Store struct {
	app core.App
}

var _ services.Store = (*Store)(nil)

func New(app core.App) *Store {
	return &Store{app: app}
}

func (s *Store) RunInTx(ctx context.Context, fn func(tx services.Store) error) error {
	return s.app.RunInTransaction(func(txApp core.App) error {
		return fn(&Store{app: txApp})
	})
}

func newID() string {
	return security.RandomStringWithAlphabet(idLength, idAlphabet)
}

func dbTime(t time.Time) string {
	return t.UTC().Format(types.DefaultDateLayout)
}

func lookupErr(err error, what, key string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, key, status.ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", what, key, err)
}

// exec runs a write and reports how many rows it touched.
func (s *Store) exec(ctx context.Context, query string, params dbx.Params) (int64, error) {
	res, err := s.app.DB().NewQuery(query).WithContext(ctx).Bind(params).Execute()
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) save(ctx context.Context, collection string, fill func(r *core.Record)) (*core.Record, error) {
	col, err := s.app.FindCachedCollectionByNameOrId(collection)
	if err != nil {
		return nil, fmt.Errorf("collection %s: %w", collection, err)
	}
	r := core.NewRecord(col)
	fill(r)
	if err := s.app.SaveWithContext(ctx, r); err != nil {
		return nil, fmt.Errorf("save %s: %w", collection, err)
	}
	return r, nil
}

// users

func (s *Store) GetUser(_ context.Context, id string) (*models.User, error) {
	r, err := s.app.FindRecordById(CollectionUsers, id)
	if err != nil {
		return nil, lookupErr(err, "user", id)
	}
	return userFromRecord(r), nil
}

func (s *Store) ClearWelcomeGift(ctx context.Context, userID string) (bool, error) {
	n, err := s.exec(ctx, `UPDATE users SET first_login_gift = FALSE WHERE id = {:id} AND first_login_gift = TRUE`,
		dbx.Params{"id": userID})
	return n == 1, err
}

// StartWelcomeGift opens the welcome discount window on a user's first
// sign-in. Users who already claimed the gift or whose window is set are left alone.
func (s *Store) StartWelcomeGift(ctx context.Context, userID string, expiry time.Time) (bool, error) {
	n, err := s.exec(ctx, `UPDATE users SET welcome_gift_expiry = {:expiry}
		WHERE id = {:id} AND first_login_gift = TRUE AND (welcome_gift_expiry IS NULL OR welcome_gift_expiry = '')`,
		dbx.Params{"id": userID, "expiry": dbTime(expiry)})
	return n == 1, err
}

// events and tiers

func (s *Store) GetEvent(_ context.Context, id string) (*models.Event, error) {
	r, err := s.app.FindRecordById(CollectionEvents, id)
	if err != nil {
		return nil, lookupErr(err, "event", id)
	}
	dates, err := s.app.FindRecordsByFilter(CollectionEventDates, "event_id = {:event}", "date", 0, 0, dbx.Params{"event": id})
	if err != nil {
		return nil, fmt.Errorf("event %s dates: %w", id, err)
	}
	return eventFromRecords(r, dates), nil
}

func (s *Store) GetTier(_ context.Context, id string) (*models.PricingTier, error) {
	r, err := s.app.FindRecordById(CollectionPricingTiers, id)
	if err != nil {
		return nil, lookupErr(err, "pricing tier", id)
	}
	return tierFromRecord(r), nil
}

func (s *Store) DecrementCapacity(ctx context.Context, tierID string, n int) (bool, error) {
	rows, err := s.exec(ctx, `UPDATE pricing_tiers SET capacity = capacity - {:n}, updated = {:now}
		WHERE id = {:id} AND capacity >= {:n}`,
		dbx.Params{"id": tierID, "n": n, "now": dbTime(time.Now())})
	return rows == 1, err
}

// tickets

func (s *Store) CreateTicket(ctx context.Context, t *models.Ticket) error {
	r, err := s.save(ctx, CollectionTickets, func(r *core.Record) { fillTicket(r, t) })
	if err != nil {
		return err
	}
	t.ID = r.Id
	t.CreatedAt = r.GetDateTime("created").Time()
	return nil
}

func (s *Store) GetTicket(_ context.Context, id string) (*models.Ticket, error) {
	r, err := s.app.FindRecordById(CollectionTickets, id)
	if err != nil {
		return nil, lookupErr(err, "ticket", id)
	}
	return ticketFromRecord(r), nil
}

func (s *Store) FindTicketByUUID(_ context.Context, ticketUUID string) (*models.Ticket, error) {
	r, err := s.app.FindFirstRecordByFilter(CollectionTickets, "ticket_uuid = {:uuid}", dbx.Params{"uuid": ticketUUID})
	if err != nil {
		return nil, lookupErr(err, "ticket", ticketUUID)
	}
	return ticketFromRecord(r), nil
}

func (s *Store) findTickets(filter string, params dbx.Params) ([]*models.Ticket, error) {
	records, err := s.app.FindRecordsByFilter(CollectionTickets, filter, "created", 0, 0, params)
	if err != nil {
		return nil, fmt.Errorf("find tickets: %w", err)
	}
	out := make([]*models.Ticket, len(records))
	for i, r := range records {
		out[i] = ticketFromRecord(r)
	}
	return out, nil
}

func (s *Store) FindTicketsBySession(_ context.Context, sessionID, userID string) ([]*models.Ticket, error) {
	return s.findTickets("session_id = {:session} && user_id = {:user}", dbx.Params{"session": sessionID, "user": userID})
}

func (s *Store) FindTicketsByUser(_ context.Context, userID string) ([]*models.Ticket, error) {
	return s.findTickets("user_id = {:user}", dbx.Params{"user": userID})
}

func (s *Store) FindTicketsByPayment(_ context.Context, paymentIntentID string) ([]*models.Ticket, error) {
	return s.findTickets("payment_intent_id = {:pi}", dbx.Params{"pi": paymentIntentID})
}

func (s *Store) LastTicketTime(_ context.Context, userID string) (*time.Time, error) {
	records, err := s.app.FindRecordsByFilter(CollectionTickets, "user_id = {:user}", "-created", 1, 0, dbx.Params{"user": userID})
	if err != nil {
		return nil, fmt.Errorf("last ticket: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	at := records[0].GetDateTime("created").Time()
	return &at, nil
}

func (s *Store) MarkTicketRefunded(ctx context.Context, ticketID string, amount decimal.Decimal, refundID string, at time.Time) (bool, error) {
	n, err := s.exec(ctx, `UPDATE tickets
		SET refund_status = {:processed}, refund_amount = {:amount}, refund_id = {:refund}, refund_processed_at = {:at}, updated = {:at}
		WHERE id = {:id} AND refund_status IN ({:none}, '')`,
		dbx.Params{
			"id":        ticketID,
			"amount":    amount.InexactFloat64(),
			"refund":    refundID,
			"at":        dbTime(at),
			"processed": string(models.RefundProcessed),
			"none":      string(models.RefundNone),
		})
	return n == 1, err
}

func (s *Store) MarkSiblingsPartialRefund(ctx context.Context, paymentIntentID, excludeTicketID string) (int, error) {
	n, err := s.exec(ctx, `UPDATE tickets SET refund_status = {:partial}, updated = {:now}
		WHERE payment_intent_id = {:pi} AND id != {:exclude} AND refund_status IN ({:none}, '')`,
		dbx.Params{
			"pi":      paymentIntentID,
			"exclude": excludeTicketID,
			"partial": string(models.RefundPartial),
			"none":    string(models.RefundNone),
			"now":     dbTime(time.Now()),
		})
	return int(n), err
}

// failed payments

func (s *Store) CreateFailedAttempt(ctx context.Context, a *models.FailedPaymentAttempt) error {
	r, err := s.save(ctx, CollectionFailedPayments, func(r *core.Record) {
		r.Set("user_id", a.UserID)
		r.Set("event_id", a.EventID)
		r.Set("session_id", a.SessionID)
		r.Set("reason", a.Reason)
	})
	if err != nil {
		return err
	}
	a.ID = r.Id
	a.CreatedAt = r.GetDateTime("created").Time()
	return nil
}

func (s *Store) CountFailedAttempts(_ context.Context, userID string, since time.Time) (int, error) {
	n, err := s.app.CountRecords(CollectionFailedPayments,
		dbx.HashExp{"user_id": userID},
		dbx.NewExp("created >= {:since}", dbx.Params{"since": dbTime(since)}),
	)
	return int(n), err
}

// points

func (s *Store) GetUserPoints(_ context.Context, userID string) (*models.UserPoints, error) {
	r, err := s.app.FindFirstRecordByFilter(CollectionUserPoints, "user_id = {:user}", dbx.Params{"user": userID})
	if err != nil {
		return nil, lookupErr(err, "user points", userID)
	}
	return pointsFromRecord(r), nil
}

func (s *Store) ListUserPoints(_ context.Context) ([]*models.UserPoints, error) {
	records, err := s.app.FindAllRecords(CollectionUserPoints)
	if err != nil {
		return nil, err
	}
	out := make([]*models.UserPoints, len(records))
	for i, r := range records {
		out[i] = pointsFromRecord(r)
	}
	return out, nil
}

func (s *Store) CreditPoints(ctx context.Context, userID string, points int) error {
	now := dbTime(time.Now())
	_, err := s.exec(ctx, `INSERT INTO user_points
		(id, user_id, available_points, total_points_earned, available_discount_amount, created, updated)
		VALUES ({:id}, {:user}, {:points}, {:points}, 0, {:now}, {:now})
		ON CONFLICT(user_id) DO UPDATE SET
			available_points = available_points + excluded.available_points,
			total_points_earned = total_points_earned + excluded.total_points_earned,
			updated = excluded.updated`,
		dbx.Params{"id": newID(), "user": userID, "points": points, "now": now})
	return err
}

func (s *Store) DebitPoints(ctx context.Context, userID string, points int) (bool, error) {
	n, err := s.exec(ctx, `UPDATE user_points SET available_points = available_points - {:points}, updated = {:now}
		WHERE user_id = {:user} AND available_points >= {:points}`,
		dbx.Params{"user": userID, "points": points, "now": dbTime(time.Now())})
	return n == 1, err
}

func (s *Store) AddDiscount(ctx context.Context, userID string, amount decimal.Decimal) error {
	now := dbTime(time.Now())
	_, err := s.exec(ctx, `INSERT INTO user_points
		(id, user_id, available_points, total_points_earned, available_discount_amount, created, updated)
		VALUES ({:id}, {:user}, 0, 0, {:amount}, {:now}, {:now})
		ON CONFLICT(user_id) DO UPDATE SET
			available_discount_amount = ROUND(available_discount_amount + excluded.available_discount_amount, 2),
			updated = excluded.updated`,
		dbx.Params{"id": newID(), "user": userID, "amount": amount.InexactFloat64(), "now": now})
	return err
}

func (s *Store) ConsumeDiscount(ctx context.Context, userID string, amount decimal.Decimal) error {
	_, err := s.exec(ctx, `UPDATE user_points
		SET available_discount_amount = MAX(0, ROUND(available_discount_amount - {:amount}, 2)), updated = {:now}
		WHERE user_id = {:user}`,
		dbx.Params{"user": userID, "amount": amount.InexactFloat64(), "now": dbTime(time.Now())})
	return err
}

func (s *Store) AppendPointsHistory(ctx context.Context, h *models.PointsHistory) error {
	r, err := s.save(ctx, CollectionPointsHistory, func(r *core.Record) {
		r.Set("user_id", h.UserID)
		r.Set("action", string(h.Action))
		r.Set("points", h.Points)
		r.Set("event_id", h.EventID)
		r.Set("ticket_id", h.TicketID)
	})
	if err != nil {
		return err
	}
	h.ID = r.Id
	h.CreatedAt = r.GetDateTime("created").Time()
	return nil
}

func (s *Store) ListPointsHistory(_ context.Context, userID string, action models.PointsAction, limit, offset int) ([]*models.PointsHistory, int, error) {
	filter := "user_id = {:user}"
	params := dbx.Params{"user": userID}
	where := dbx.HashExp{"user_id": userID}
	if action != "" {
		filter += " && action = {:action}"
		params["action"] = string(action)
		where["action"] = string(action)
	}

	records, err := s.app.FindRecordsByFilter(CollectionPointsHistory, filter, "-created", limit, offset, params)
	if err != nil {
		return nil, 0, fmt.Errorf("points history: %w", err)
	}
	total, err := s.app.CountRecords(CollectionPointsHistory, where)
	if err != nil {
		return nil, 0, fmt.Errorf("points history count: %w", err)
	}

	out := make([]*models.PointsHistory, len(records))
	for i, r := range records {
		out[i] = historyFromRecord(r)
	}
	return out, int(total), nil
}

func (s *Store) SumPointsHistory(ctx context.Context, userID string) (int, int, error) {
	var row struct {
		Available int `db:"available"`
		Earned    int `db:"earned"`
	}
	err := s.app.DB().NewQuery(`SELECT
			COALESCE(SUM(points), 0) AS available,
			COALESCE(SUM(CASE WHEN action = {:earned} THEN points ELSE 0 END), 0) AS earned
		FROM points_history WHERE user_id = {:user}`).
		WithContext(ctx).
		Bind(dbx.Params{"user": userID, "earned": string(models.PointsEarned)}).
		One(&row)
	if err != nil {
		return 0, 0, err
	}
	return row.Available, row.Earned, nil
}

// webhook events, notifications, audits

func (s *Store) RecordWebhookEvent(ctx context.Context, e *models.WebhookEvent) (bool, error) {
	now := dbTime(time.Now())
	n, err := s.exec(ctx, `INSERT INTO processed_webhook_events (id, provider, event_id, event_type, created, updated)
		VALUES ({:id}, {:provider}, {:event}, {:type}, {:now}, {:now})
		ON CONFLICT(provider, event_id) DO NOTHING`,
		dbx.Params{"id": newID(), "provider": e.Provider, "event": e.EventID, "type": e.EventType, "now": now})
	return n == 1, err
}

func (s *Store) CreateNotification(ctx context.Context, n *models.Notification) error {
	r, err := s.save(ctx, CollectionNotifications, func(r *core.Record) {
		r.Set("user_id", n.UserID)
		r.Set("type", string(n.Type))
		r.Set("message", n.Message)
		r.Set("read", n.Read)
	})
	if err != nil {
		return err
	}
	n.ID = r.Id
	n.CreatedAt = r.GetDateTime("created").Time()
	return nil
}

func (s *Store) CreateSecurityAudit(ctx context.Context, a *models.SecurityAudit) error {
	r, err := s.save(ctx, CollectionSecurityAudits, func(r *core.Record) {
		r.Set("user_id", a.UserID)
		r.Set("event_id", a.EventID)
		r.Set("reason", a.Reason)
		r.Set("features", a.Features)
	})
	if err != nil {
		return err
	}
	a.ID = r.Id
	a.CreatedAt = r.GetDateTime("created").Time()
	return nil
}
