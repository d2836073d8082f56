package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type RefundStatus string

const (
	RefundNone      RefundStatus = "NONE"
	RefundProcessed RefundStatus = "PROCESSED"
	RefundPartial   RefundStatus = "PARTIAL_REFUND"
)

// Ticket is one issued seat. It is created by settlement and only mutated by refunds.
type Ticket struct {
	ID                string          `json:"id"`
	EventID           string          `json:"eventId"`
	TierID            string          `json:"tierId"`
	UserID            string          `json:"userId"`
	Date              time.Time       `json:"date"`
	SessionID         string          `json:"sessionId"`
	PaymentIntentID   string          `json:"paymentIntentId"`
	TicketUUID        string          `json:"ticketUuid"`
	QRCode            string          `json:"qrCode"`
	RefundStatus      RefundStatus    `json:"refundStatus"`
	RefundAmount      decimal.Decimal `json:"refundAmount"`
	RefundID          string          `json:"refundId,omitempty"`
	RefundProcessedAt *time.Time      `json:"refundProcessedAt,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
}

func (t *Ticket) Refundable() bool {
	return t.RefundStatus == RefundNone || t.RefundStatus == ""
}
