package models

import (
	"time"
)

type TierQuantity struct {
	TierID   string `json:"tierId" validate:"required"`
	Quantity int    `json:"quantity" validate:"gte=1,lte=50"`
}

type FailedPaymentAttempt struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	EventID   string    `json:"eventId"`
	SessionID string    `json:"sessionId"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"createdAt"`
}

// WebhookEvent records a processor event id that has been settled.
type WebhookEvent struct {
	Provider  string    `json:"provider"`
	EventID   string    `json:"eventId"`
	EventType string    `json:"eventType"`
	CreatedAt time.Time `json:"createdAt"`
}
