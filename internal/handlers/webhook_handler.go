package handlers

import (
	"context"
	"io"
	"net/http"

	"eventix/internal/status"

	"github.com/pocketbase/pocketbase/core"
)

// maxWebhookBytes bounds the payload read before signature verification.
const maxWebhookBytes = 1 << 20

type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

type WebhookHandler struct {
	settlement WebhookProcessor
}

func NewWebhookHandler(settlement WebhookProcessor) *WebhookHandler {
	return &WebhookHandler{settlement: settlement}
}

// HandleStripeWebhook - POST /api/v1/payments/webhook
//
// The raw body is passed through untouched; signature verification runs
// over the exact bytes the processor signed.
func (h *WebhookHandler) HandleStripeWebhook(e *core.RequestEvent) error {
	payload, err := io.ReadAll(io.LimitReader(e.Request.Body, maxWebhookBytes))
	if err != nil {
		return renderError(e, "io.ReadAll()", status.Validation("Unable to read webhook body"))
	}

	signature := e.Request.Header.Get("Stripe-Signature")
	if err := h.settlement.HandleWebhook(e.Request.Context(), payload, signature); err != nil {
		return renderError(e, "h.settlement.HandleWebhook()", err)
	}
	return e.JSON(http.StatusOK, map[string]bool{"received": true})
}
