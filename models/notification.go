package models

import "time"

type NotificationType string

const (
	NotificationSecurity NotificationType = "SECURITY"
	NotificationRefund   NotificationType = "REFUND"
)

type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"userId"`
	Type      NotificationType `json:"type"`
	Message   string           `json:"message"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"createdAt"`
}

// SecurityAudit is written whenever the fraud screen blocks a checkout.
type SecurityAudit struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	EventID   string    `json:"eventId"`
	Reason    string    `json:"reason"`
	Features  []float64 `json:"features"`
	CreatedAt time.Time `json:"createdAt"`
}
