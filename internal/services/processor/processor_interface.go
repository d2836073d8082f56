package processor

import (
	"context"

	"github.com/shopspring/decimal"
)

// Provider identifies a payment processor implementation
type Provider string

const (
	ProviderStripe Provider = "stripe"
)

// EventType is the closed set of processor events the pipeline reacts to
type EventType string

const (
	EventCheckoutCompleted EventType = "checkout.session.completed"
	EventPaymentFailed     EventType = "payment_intent.payment_failed"
	EventUnhandled         EventType = ""
)

// ParseEventType maps a raw processor event type onto the closed set.
// Anything else becomes EventUnhandled.
func ParseEventType(raw string) EventType {
	switch EventType(raw) {
	case EventCheckoutCompleted, EventPaymentFailed:
		return EventType(raw)
	default:
		return EventUnhandled
	}
}

const PaymentStatusPaid = "paid"

// LineItem is one priced row on the hosted payment page
type LineItem struct {
	Name       string          `json:"name"`
	UnitAmount decimal.Decimal `json:"unit_amount"`
	Quantity   int             `json:"quantity"`
}

// SessionRequest represents a generic hosted checkout request
type SessionRequest struct {
	Currency      string            `json:"currency"`
	LineItems     []LineItem        `json:"line_items"`
	SuccessURL    string            `json:"success_url"`
	CancelURL     string            `json:"cancel_url"`
	CustomerEmail string            `json:"customer_email,omitempty"`
	CouponID      string            `json:"coupon_id,omitempty"`
	Metadata      map[string]string `json:"metadata"`
}

type Session struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CouponRequest is a one-shot fixed amount discount
type CouponRequest struct {
	AmountOff decimal.Decimal `json:"amount_off"`
	Currency  string          `json:"currency"`
}

type PaymentIntent struct {
	ID             string            `json:"id"`
	Amount         int64             `json:"amount"`
	Currency       string            `json:"currency"`
	LatestChargeID string            `json:"latest_charge"`
	Metadata       map[string]string `json:"metadata"`
	FailureReason  string            `json:"failure_reason,omitempty"`
}

type Charge struct {
	ID             string   `json:"id"`
	Amount         int64    `json:"amount"`
	AmountRefunded int64    `json:"amount_refunded"`
	Refunds        []Refund `json:"refunds"`
}

// Refunded sums the refunds recorded against the charge.
func (c *Charge) Refunded() int64 {
	var total int64
	for _, r := range c.Refunds {
		if r.Status == "failed" || r.Status == "canceled" {
			continue
		}
		total += r.Amount
	}
	if c.AmountRefunded > total {
		return c.AmountRefunded
	}
	return total
}

type RefundRequest struct {
	ChargeID string            `json:"charge"`
	Amount   int64             `json:"amount"`
	Metadata map[string]string `json:"metadata"`
}

type Refund struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
	Status string `json:"status"`
}

// CheckoutSession is the settled session carried by a completion event
type CheckoutSession struct {
	ID              string            `json:"id"`
	PaymentIntentID string            `json:"payment_intent"`
	PaymentStatus   string            `json:"payment_status"`
	AmountTotal     int64             `json:"amount_total"`
	CustomerEmail   string            `json:"customer_email"`
	Metadata        map[string]string `json:"metadata"`
}

// Event is a verified webhook delivery. Exactly one of the object fields is
// set, according to Type.
type Event struct {
	ID            string           `json:"id"`
	Type          EventType        `json:"type"`
	RawType       string           `json:"raw_type"`
	Provider      Provider         `json:"provider"`
	Session       *CheckoutSession `json:"session,omitempty"`
	PaymentIntent *PaymentIntent   `json:"payment_intent,omitempty"`
	Payload       []byte           `json:"-"`
}

// Processor defines the common interface for all payment processors
type Processor interface {
	// GetProvider returns the processor type
	GetProvider() Provider

	// CreateCoupon creates a single-use fixed amount discount
	CreateCoupon(ctx context.Context, req *CouponRequest) (string, error)

	// CreateCheckoutSession opens a hosted payment page
	CreateCheckoutSession(ctx context.Context, req *SessionRequest) (*Session, error)

	// GetCheckoutSession loads a checkout session with its metadata
	GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error)

	// GetPaymentIntent loads a payment intent by id
	GetPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error)

	// GetCharge loads a charge with its refunds
	GetCharge(ctx context.Context, id string) (*Charge, error)

	// CreateRefund reverses funds on a charge
	CreateRefund(ctx context.Context, req *RefundRequest) (*Refund, error)

	// ParseWebhook verifies a delivery signature and decodes the event
	ParseWebhook(payload []byte, signature string) (*Event, error)

	// DecodeEvent decodes an already verified payload, used when replaying
	DecodeEvent(payload []byte) (*Event, error)

	// Close gracefully closes any connections
	Close(ctx context.Context) error
}

// ProcessorFactory creates processors based on provider type
type ProcessorFactory interface {
	CreateProcessor(ctx context.Context, provider Provider, config interface{}) (Processor, error)
	GetSupportedProviders() []Provider
}

// ToMinorUnits converts a major unit amount into cents.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// FromMinorUnits converts cents into a major unit amount.
func FromMinorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}
