package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Event struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Image       string      `json:"image"`
	Dates       []EventDate `json:"dates"`
}

type EventDate struct {
	ID       string    `json:"id"`
	EventID  string    `json:"eventId"`
	Date     time.Time `json:"date"`
	Location string    `json:"location"`
}

// PrimaryDate returns the first scheduled date, or a zero value when the event has none.
func (e *Event) PrimaryDate() EventDate {
	if len(e.Dates) == 0 {
		return EventDate{}
	}
	return e.Dates[0]
}

// DateByID looks up one of the event's scheduled dates.
func (e *Event) DateByID(id string) (EventDate, bool) {
	for _, d := range e.Dates {
		if d.ID == id {
			return d, true
		}
	}
	return EventDate{}, false
}

// SameDay reports whether the date falls on the calendar day of day, read in day's location.
func (d EventDate) SameDay(day time.Time) bool {
	y1, m1, d1 := d.Date.In(day.Location()).Date()
	y2, m2, d2 := day.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

type RefundPolicy string

const (
	NoRefund      RefundPolicy = "NO_REFUND"
	FullRefund    RefundPolicy = "FULL_REFUND"
	PartialRefund RefundPolicy = "PARTIAL_REFUND"
)

func (p RefundPolicy) Valid() bool {
	switch p {
	case NoRefund, FullRefund, PartialRefund:
		return true
	}
	return false
}

// PricingTier is a priced ticket category scoped to one event date.
// Capacity holds the remaining sellable seats.
type PricingTier struct {
	ID               string          `json:"id"`
	EventID          string          `json:"eventId"`
	EventDateID      string          `json:"eventDateId"`
	Name             string          `json:"name"`
	Price            decimal.Decimal `json:"price"`
	Capacity         int             `json:"capacity"`
	RefundPolicy     RefundPolicy    `json:"refundPolicy"`
	RefundDays       int             `json:"refundDays"`
	RefundPercentage decimal.Decimal `json:"refundPercentage"`
}

// RefundAmount is the amount a single ticket of this tier is refunded for.
func (t *PricingTier) RefundAmount() decimal.Decimal {
	switch t.RefundPolicy {
	case FullRefund:
		return t.Price
	case PartialRefund:
		return t.Price.Mul(t.RefundPercentage).Div(decimal.NewFromInt(100)).Round(2)
	default:
		return decimal.Zero
	}
}

// RefundDeadline is the last instant a refund can be requested for a ticket on eventDate.
func (t *PricingTier) RefundDeadline(eventDate time.Time) time.Time {
	return eventDate.AddDate(0, 0, -t.RefundDays)
}
