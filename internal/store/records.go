package store

import (
	"eventix/models"

	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"
)

func money(r *core.Record, field string) decimal.Decimal {
	return decimal.NewFromFloat(r.GetFloat(field)).Round(2)
}

func userFromRecord(r *core.Record) *models.User {
	return &models.User{
		ID:                r.Id,
		Email:             r.GetString("email"),
		Name:              r.GetString("name"),
		FirstLoginGift:    r.GetBool("first_login_gift"),
		WelcomeGiftExpiry: r.GetDateTime("welcome_gift_expiry").Time(),
	}
}

func eventFromRecords(r *core.Record, dates []*core.Record) *models.Event {
	e := &models.Event{
		ID:          r.Id,
		Title:       r.GetString("title"),
		Description: r.GetString("description"),
		Image:       r.GetString("image"),
	}
	for _, d := range dates {
		e.Dates = append(e.Dates, models.EventDate{
			ID:       d.Id,
			EventID:  d.GetString("event_id"),
			Date:     d.GetDateTime("date").Time(),
			Location: d.GetString("location"),
		})
	}
	return e
}

func tierFromRecord(r *core.Record) *models.PricingTier {
	return &models.PricingTier{
		ID:               r.Id,
		EventID:          r.GetString("event_id"),
		EventDateID:      r.GetString("event_date_id"),
		Name:             r.GetString("name"),
		Price:            money(r, "price"),
		Capacity:         r.GetInt("capacity"),
		RefundPolicy:     models.RefundPolicy(r.GetString("refund_policy")),
		RefundDays:       r.GetInt("refund_days"),
		RefundPercentage: decimal.NewFromFloat(r.GetFloat("refund_percentage")),
	}
}

func fillTicket(r *core.Record, t *models.Ticket) {
	refundStatus := t.RefundStatus
	if refundStatus == "" {
		refundStatus = models.RefundNone
	}
	r.Set("event_id", t.EventID)
	r.Set("tier_id", t.TierID)
	r.Set("user_id", t.UserID)
	r.Set("date", t.Date)
	r.Set("session_id", t.SessionID)
	r.Set("payment_intent_id", t.PaymentIntentID)
	r.Set("ticket_uuid", t.TicketUUID)
	r.Set("qr_code", t.QRCode)
	r.Set("refund_status", string(refundStatus))
	r.Set("refund_amount", t.RefundAmount.InexactFloat64())
	r.Set("refund_id", t.RefundID)
	if t.RefundProcessedAt != nil {
		r.Set("refund_processed_at", *t.RefundProcessedAt)
	}
}

func ticketFromRecord(r *core.Record) *models.Ticket {
	t := &models.Ticket{
		ID:              r.Id,
		EventID:         r.GetString("event_id"),
		TierID:          r.GetString("tier_id"),
		UserID:          r.GetString("user_id"),
		Date:            r.GetDateTime("date").Time(),
		SessionID:       r.GetString("session_id"),
		PaymentIntentID: r.GetString("payment_intent_id"),
		TicketUUID:      r.GetString("ticket_uuid"),
		QRCode:          r.GetString("qr_code"),
		RefundStatus:    models.RefundStatus(r.GetString("refund_status")),
		RefundAmount:    money(r, "refund_amount"),
		RefundID:        r.GetString("refund_id"),
		CreatedAt:       r.GetDateTime("created").Time(),
	}
	if at := r.GetDateTime("refund_processed_at"); !at.IsZero() {
		processed := at.Time()
		t.RefundProcessedAt = &processed
	}
	return t
}

func pointsFromRecord(r *core.Record) *models.UserPoints {
	return &models.UserPoints{
		UserID:                  r.GetString("user_id"),
		AvailablePoints:         r.GetInt("available_points"),
		TotalPointsEarned:       r.GetInt("total_points_earned"),
		AvailableDiscountAmount: money(r, "available_discount_amount"),
	}
}

func historyFromRecord(r *core.Record) *models.PointsHistory {
	return &models.PointsHistory{
		ID:        r.Id,
		UserID:    r.GetString("user_id"),
		Action:    models.PointsAction(r.GetString("action")),
		Points:    r.GetInt("points"),
		EventID:   r.GetString("event_id"),
		TicketID:  r.GetString("ticket_id"),
		CreatedAt: r.GetDateTime("created").Time(),
	}
}
