package processor

import (
	"context"
	"encoding/json"
	"fmt"

	"eventix/internal/services/processor/stripe"
	"eventix/utils"

	stripego "github.com/stripe/stripe-go/v82"
)

// StripeAdapter wraps the Stripe client to conform to Processor
type StripeAdapter struct {
	client  *stripe.Stripe
	breaker *utils.CircuitBreaker
}

// NewStripeAdapter creates a new Stripe adapter
func NewStripeAdapter(_ context.Context, config *stripe.Config) (*StripeAdapter, error) {
	client, err := stripe.New(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Stripe client: %w", err)
	}

	return &StripeAdapter{
		client:  client,
		breaker: utils.NewCircuitBreaker("stripe"),
	}, nil
}

// GetProvider returns the processor type
func (s *StripeAdapter) GetProvider() Provider {
	return ProviderStripe
}

// call runs fn through the breaker. Client errors such as a declined refund
// do not count against Stripe's health.
func call[T any](ctx context.Context, s *StripeAdapter, fn func() (T, error)) (T, error) {
	var zero T
	var clientErr error

	res, err := s.breaker.Execute(ctx, func() (interface{}, error) {
		v, err := fn()
		if err != nil && !stripe.IsRetryable(err) {
			clientErr = err
			return v, nil
		}
		return v, err
	})
	if clientErr != nil {
		return zero, clientErr
	}
	if err != nil {
		return zero, err
	}
	return res.(T), nil
}

// CreateCoupon creates a single-use fixed amount discount
func (s *StripeAdapter) CreateCoupon(ctx context.Context, req *CouponRequest) (string, error) {
	return call(ctx, s, func() (string, error) {
		return s.client.CreateCoupon(ctx, ToMinorUnits(req.AmountOff), req.Currency)
	})
}

// CreateCheckoutSession opens a hosted payment page
func (s *StripeAdapter) CreateCheckoutSession(ctx context.Context, req *SessionRequest) (*Session, error) {
	params := &stripe.SessionParams{
		Currency:      req.Currency,
		SuccessURL:    req.SuccessURL,
		CancelURL:     req.CancelURL,
		CustomerEmail: req.CustomerEmail,
		CouponID:      req.CouponID,
		Metadata:      req.Metadata,
	}
	for _, item := range req.LineItems {
		params.LineItems = append(params.LineItems, stripe.LineItem{
			Name:       item.Name,
			UnitAmount: ToMinorUnits(item.UnitAmount),
			Quantity:   item.Quantity,
		})
	}

	cs, err := call(ctx, s, func() (*stripego.CheckoutSession, error) {
		return s.client.CreateCheckoutSession(ctx, params)
	})
	if err != nil {
		return nil, err
	}
	return &Session{ID: cs.ID, URL: cs.URL}, nil
}

// GetCheckoutSession loads a checkout session with its metadata
func (s *StripeAdapter) GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error) {
	cs, err := call(ctx, s, func() (*stripego.CheckoutSession, error) {
		return s.client.GetCheckoutSession(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return toCheckoutSession(cs), nil
}

// GetPaymentIntent loads a payment intent by id
func (s *StripeAdapter) GetPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	pi, err := call(ctx, s, func() (*stripego.PaymentIntent, error) {
		return s.client.GetPaymentIntent(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return toPaymentIntent(pi), nil
}

// GetCharge loads a charge with its refunds
func (s *StripeAdapter) GetCharge(ctx context.Context, id string) (*Charge, error) {
	ch, err := call(ctx, s, func() (*stripego.Charge, error) {
		return s.client.GetCharge(ctx, id)
	})
	if err != nil {
		return nil, err
	}

	charge := &Charge{ID: ch.ID, Amount: ch.Amount, AmountRefunded: ch.AmountRefunded}
	if ch.Refunds != nil {
		for _, r := range ch.Refunds.Data {
			charge.Refunds = append(charge.Refunds, toRefund(r))
		}
	}
	return charge, nil
}

// CreateRefund reverses funds on a charge. The ticket id in the metadata
// doubles as the idempotency key so a retried call cannot refund twice.
func (s *StripeAdapter) CreateRefund(ctx context.Context, req *RefundRequest) (*Refund, error) {
	params := &stripe.RefundParams{
		Charge:   req.ChargeID,
		Amount:   req.Amount,
		Metadata: req.Metadata,
	}
	if id := req.Metadata["ticketId"]; id != "" {
		params.IdempotencyKey = "refund-" + id
	}

	r, err := call(ctx, s, func() (*stripego.Refund, error) {
		return s.client.CreateRefund(ctx, params)
	})
	if err != nil {
		return nil, err
	}
	refund := toRefund(r)
	return &refund, nil
}

// ParseWebhook verifies a delivery signature and decodes the event
func (s *StripeAdapter) ParseWebhook(payload []byte, signature string) (*Event, error) {
	evt, err := s.client.ConstructEvent(payload, signature)
	if err != nil {
		return nil, err
	}
	return toEvent(evt, payload)
}

// DecodeEvent decodes an already verified payload
func (s *StripeAdapter) DecodeEvent(payload []byte) (*Event, error) {
	evt, err := stripe.ParseEvent(payload)
	if err != nil {
		return nil, err
	}
	return toEvent(evt, payload)
}

// Close gracefully closes any connections
func (s *StripeAdapter) Close(ctx context.Context) error {
	// Stripe is plain HTTP, nothing to release
	return nil
}

func toPaymentIntent(pi *stripego.PaymentIntent) *PaymentIntent {
	out := &PaymentIntent{
		ID:       pi.ID,
		Amount:   pi.Amount,
		Currency: string(pi.Currency),
		Metadata: pi.Metadata,
	}
	if pi.LatestCharge != nil {
		out.LatestChargeID = pi.LatestCharge.ID
	}
	if pi.LastPaymentError != nil {
		out.FailureReason = pi.LastPaymentError.Msg
	}
	return out
}

func toCheckoutSession(cs *stripego.CheckoutSession) *CheckoutSession {
	email := cs.CustomerEmail
	if email == "" && cs.CustomerDetails != nil {
		email = cs.CustomerDetails.Email
	}
	out := &CheckoutSession{
		ID:            cs.ID,
		PaymentStatus: string(cs.PaymentStatus),
		AmountTotal:   cs.AmountTotal,
		CustomerEmail: email,
		Metadata:      cs.Metadata,
	}
	if cs.PaymentIntent != nil {
		out.PaymentIntentID = cs.PaymentIntent.ID
	}
	return out
}

func toRefund(r *stripego.Refund) Refund {
	return Refund{ID: r.ID, Amount: r.Amount, Status: string(r.Status)}
}

func toEvent(evt *stripego.Event, payload []byte) (*Event, error) {
	out := &Event{
		ID:       evt.ID,
		Type:     ParseEventType(string(evt.Type)),
		RawType:  string(evt.Type),
		Provider: ProviderStripe,
		Payload:  payload,
	}

	switch out.Type {
	case EventCheckoutCompleted:
		var cs stripego.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &cs); err != nil {
			return nil, fmt.Errorf("stripe: decode checkout session: %w", err)
		}
		out.Session = toCheckoutSession(&cs)
	case EventPaymentFailed:
		var pi stripego.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("stripe: decode payment intent: %w", err)
		}
		out.PaymentIntent = toPaymentIntent(&pi)
	}

	return out, nil
}
