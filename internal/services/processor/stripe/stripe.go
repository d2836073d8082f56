package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	stripego "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Config struct {
	BaseURL           string        `json:"baseUrl" mapstructure:"base_url"`
	SecretKey         string        `json:"secretKey" mapstructure:"secret_key"`
	WebhookSecret     string        `json:"webhookSecret" mapstructure:"webhook_secret"`
	WebhookTolerance  time.Duration `json:"webhookTolerance" mapstructure:"webhook_tolerance"`
	Timeout           time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxNetworkRetries int64         `json:"maxNetworkRetries" mapstructure:"max_network_retries"`
}

type Stripe struct {
	api           *client.API
	webhookSecret string
	tolerance     time.Duration
}

type (
	LineItem struct {
		Name       string
		UnitAmount int64
		Quantity   int
	}

	SessionParams struct {
		Currency      string
		LineItems     []LineItem
		SuccessURL    string
		CancelURL     string
		CustomerEmail string
		CouponID      string
		Metadata      map[string]string
	}

	RefundParams struct {
		Charge         string
		Amount         int64
		Metadata       map[string]string
		IdempotencyKey string
	}
)

// New returns a new Stripe instance.
func New(cfg *Config) (*Stripe, error) {
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("stripe: secret key is required")
	}
	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("stripe: webhook secret is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	tolerance := cfg.WebhookTolerance
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	backend := &stripego.BackendConfig{
		// set http client with timeout.
		HTTPClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		MaxNetworkRetries: stripego.Int64(cfg.MaxNetworkRetries),
		LeveledLogger:     slogLogger{},
	}
	if cfg.BaseURL != "" {
		backend.URL = stripego.String(cfg.BaseURL)
	}

	return &Stripe{
		api: client.New(cfg.SecretKey, &stripego.Backends{
			API:     stripego.GetBackendWithConfig(stripego.APIBackend, backend),
			Connect: stripego.GetBackendWithConfig(stripego.ConnectBackend, backend),
			Uploads: stripego.GetBackendWithConfig(stripego.UploadsBackend, backend),
		}),
		webhookSecret: cfg.WebhookSecret,
		tolerance:     tolerance,
	}, nil
}

// CreateCoupon creates a once-only amount_off coupon.
func (s *Stripe) CreateCoupon(ctx context.Context, amountOff int64, currency string) (string, error) {
	params := &stripego.CouponParams{
		AmountOff: stripego.Int64(amountOff),
		Currency:  stripego.String(currency),
		Duration:  stripego.String(string(stripego.CouponDurationOnce)),
	}
	params.Context = ctx

	c, err := s.api.Coupons.New(params)
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

// CreateCheckoutSession opens a hosted payment page in payment mode. The
// metadata is copied onto the underlying payment intent as well.
func (s *Stripe) CreateCheckoutSession(ctx context.Context, p *SessionParams) (*stripego.CheckoutSession, error) {
	params := &stripego.CheckoutSessionParams{
		Mode:               stripego.String(string(stripego.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripego.StringSlice([]string{"card"}),
		SuccessURL:         stripego.String(p.SuccessURL),
		CancelURL:          stripego.String(p.CancelURL),
		PaymentIntentData:  &stripego.CheckoutSessionPaymentIntentDataParams{Metadata: p.Metadata},
	}
	params.Context = ctx
	if p.CustomerEmail != "" {
		params.CustomerEmail = stripego.String(p.CustomerEmail)
	}

	for _, item := range p.LineItems {
		params.LineItems = append(params.LineItems, &stripego.CheckoutSessionLineItemParams{
			PriceData: &stripego.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripego.String(p.Currency),
				ProductData: &stripego.CheckoutSessionLineItemPriceDataProductDataParams{Name: stripego.String(item.Name)},
				UnitAmount:  stripego.Int64(item.UnitAmount),
			},
			Quantity: stripego.Int64(int64(item.Quantity)),
		})
	}

	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}

	if p.CouponID != "" {
		params.Discounts = []*stripego.CheckoutSessionDiscountParams{{Coupon: stripego.String(p.CouponID)}}
	}

	return s.api.CheckoutSessions.New(params)
}

func (s *Stripe) GetPaymentIntent(ctx context.Context, id string) (*stripego.PaymentIntent, error) {
	params := &stripego.PaymentIntentParams{}
	params.Context = ctx
	return s.api.PaymentIntents.Get(id, params)
}

// GetCheckoutSession loads a checkout session by id.
func (s *Stripe) GetCheckoutSession(ctx context.Context, id string) (*stripego.CheckoutSession, error) {
	params := &stripego.CheckoutSessionParams{}
	params.Context = ctx
	return s.api.CheckoutSessions.Get(id, params)
}

// GetCharge loads a charge with its refunds expanded.
func (s *Stripe) GetCharge(ctx context.Context, id string) (*stripego.Charge, error) {
	params := &stripego.ChargeParams{}
	params.Context = ctx
	params.AddExpand("refunds")
	return s.api.Charges.Get(id, params)
}

func (s *Stripe) CreateRefund(ctx context.Context, p *RefundParams) (*stripego.Refund, error) {
	params := &stripego.RefundParams{
		Charge: stripego.String(p.Charge),
		Amount: stripego.Int64(p.Amount),
	}
	params.Context = ctx
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}

	return s.api.Refunds.New(params)
}

// IsRetryable reports whether err came from a transient Stripe condition.
func IsRetryable(err error) bool {
	var stripeErr *stripego.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.HTTPStatusCode == http.StatusTooManyRequests || stripeErr.HTTPStatusCode >= 500
	}
	return true
}
