package stripe

import (
	"encoding/json"
	"fmt"
	"time"

	stripego "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const DefaultTolerance = webhook.DefaultTolerance

var (
	ErrInvalidHeader    = webhook.ErrInvalidHeader
	ErrNoValidSignature = webhook.ErrNoValidSignature
	ErrNotSigned        = webhook.ErrNotSigned
	ErrTooOld           = webhook.ErrTooOld
)

// ConstructEvent verifies the Stripe-Signature header and decodes the event.
// Events pinned to another API version are accepted; only the fields the
// pipeline reads are decoded.
func (s *Stripe) ConstructEvent(payload []byte, header string) (*stripego.Event, error) {
	evt, err := webhook.ConstructEventWithOptions(payload, header, s.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                s.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, err
	}
	if evt.ID == "" || evt.Type == "" || evt.Data == nil {
		return nil, fmt.Errorf("stripe: event is missing id, type or data")
	}
	return &evt, nil
}

// ParseEvent decodes an event envelope without checking its signature.
func ParseEvent(payload []byte) (*stripego.Event, error) {
	var evt stripego.Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, fmt.Errorf("stripe: decode event: %w", err)
	}
	if evt.ID == "" || evt.Type == "" || evt.Data == nil {
		return nil, fmt.Errorf("stripe: event is missing id, type or data")
	}
	return &evt, nil
}

// SignatureHeader builds a v1 header for payload signed at t, used by tests
// and local tooling.
func SignatureHeader(secret string, t time.Time, payload []byte) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: t,
	}).Header
}
