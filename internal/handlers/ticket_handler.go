package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"eventix/internal/services"
	"eventix/internal/status"

	"github.com/pocketbase/pocketbase/core"
)

type CheckoutCreator interface {
	CreateSession(ctx context.Context, userID string, req *services.CheckoutRequest) (*services.CheckoutResult, error)
}

type OrderReader interface {
	OrderDetails(ctx context.Context, userID, email, sessionID string) (*services.Order, error)
	TicketsByYear(ctx context.Context, userID string) ([]services.TicketYear, error)
	TicketPDF(ctx context.Context, userID, ticketUUID string) ([]byte, error)
}

type Refunder interface {
	Refund(ctx context.Context, userID, ticketID string) (*services.RefundResult, error)
}

type TicketHandler struct {
	checkout CheckoutCreator
	orders   OrderReader
	refunds  Refunder
}

func NewTicketHandler(checkout CheckoutCreator, orders OrderReader, refunds Refunder) *TicketHandler {
	return &TicketHandler{
		checkout: checkout,
		orders:   orders,
		refunds:  refunds,
	}
}

// CreateCheckoutSession - POST /api/v1/tickets/checkout-session
func (h *TicketHandler) CreateCheckoutSession(e *core.RequestEvent) error {
	auth, err := requireAuth(e)
	if err != nil {
		return err
	}

	var req services.CheckoutRequest
	if err := e.BindBody(&req); err != nil {
		return renderError(e, "e.BindBody()", status.Validation("Invalid request body"))
	}

	res, err := h.checkout.CreateSession(e.Request.Context(), auth.Id, &req)
	if err != nil {
		return renderError(e, "h.checkout.CreateSession()", err)
	}
	return e.JSON(http.StatusOK, res)
}

// OrderDetails - GET /api/v1/tickets/orders/{sessionId}
func (h *TicketHandler) OrderDetails(e *core.RequestEvent) error {
	auth, err := requireAuth(e)
	if err != nil {
		return err
	}

	sessionID := e.Request.PathValue("sessionId")
	order, err := h.orders.OrderDetails(e.Request.Context(), auth.Id, auth.GetString("email"), sessionID)
	if err != nil {
		return renderError(e, "h.orders.OrderDetails()", err)
	}
	return e.JSON(http.StatusOK, order)
}

// MyTickets - GET /api/v1/tickets/mine
func (h *TicketHandler) MyTickets(e *core.RequestEvent) error {
	auth, err := requireAuth(e)
	if err != nil {
		return err
	}

	years, err := h.orders.TicketsByYear(e.Request.Context(), auth.Id)
	if err != nil {
		return renderError(e, "h.orders.TicketsByYear()", err)
	}
	if years == nil {
		years = []services.TicketYear{}
	}
	return e.JSON(http.StatusOK, years)
}

// TicketPDF - GET /api/v1/tickets/{ticketUuid}/pdf
func (h *TicketHandler) TicketPDF(e *core.RequestEvent) error {
	auth, err := requireAuth(e)
	if err != nil {
		return err
	}

	ticketUUID := e.Request.PathValue("ticketUuid")
	pdf, err := h.orders.TicketPDF(e.Request.Context(), auth.Id, ticketUUID)
	if err != nil {
		return renderError(e, "h.orders.TicketPDF()", err)
	}

	e.Response.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "ticket-"+ticketUUID+".pdf"))
	return e.Blob(http.StatusOK, "application/pdf", pdf)
}

type refundFailure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

// Refund - POST /api/v1/tickets/refund/{ticketId}
func (h *TicketHandler) Refund(e *core.RequestEvent) error {
	auth, err := requireAuth(e)
	if err != nil {
		return err
	}

	res, err := h.refunds.Refund(e.Request.Context(), auth.Id, e.Request.PathValue("ticketId"))
	if err != nil {
		code, body := errorResponse(err)
		if code >= http.StatusInternalServerError {
			slog.Error("h.refunds.Refund()", "userId", auth.Id, "error", err)
		}
		return e.JSON(code, refundFailure{Error: body.Error, Code: body.Code})
	}
	return e.JSON(http.StatusOK, res)
}
