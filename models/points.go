package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PointsAction string

const (
	PointsEarned PointsAction = "EARNED"
	PointsSpent  PointsAction = "SPENT"
)

type UserPoints struct {
	UserID                  string          `json:"userId"`
	AvailablePoints         int             `json:"availablePoints"`
	TotalPointsEarned       int             `json:"totalPointsEarned"`
	AvailableDiscountAmount decimal.Decimal `json:"availableDiscountAmount"`
}

type PointsHistory struct {
	ID        string       `json:"id"`
	UserID    string       `json:"userId"`
	Action    PointsAction `json:"action"`
	Points    int          `json:"points"`
	EventID   string       `json:"eventId,omitempty"`
	TicketID  string       `json:"ticketId,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
}

// Reward is a redeemable catalog entry turning points into discount credit.
type Reward struct {
	ID             string          `json:"id"`
	Title          string          `json:"title"`
	PointsCost     int             `json:"pointsCost"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
}

type UserLevel struct {
	Level             string `json:"level"`
	TotalPointsEarned int    `json:"totalPointsEarned"`
	NextLevel         string `json:"nextLevel,omitempty"`
	PointsToNextLevel int    `json:"pointsToNextLevel"`
}
