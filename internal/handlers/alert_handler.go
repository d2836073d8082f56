package handlers

import (
	"net/http"

	"eventix/internal/alerts"

	"github.com/pocketbase/pocketbase/core"
)

type ConnectionRegistry interface {
	Register(userID string) (*alerts.Connection, error)
	Heartbeat(connID, userID string) error
	Unregister(connID, userID string) error
}

type AlertHandler struct {
	registry ConnectionRegistry
}

func NewAlertHandler(registry ConnectionRegistry) *AlertHandler {
	return &AlertHandler{registry: registry}
}

// Connect - POST /api/v1/alerts/connections
// The client subscribes to the returned channel for fraud and refund alerts.
func (h *AlertHandler) Connect(e *core.RequestEvent) error {
	auth, err := requireAuth(e)
	if err != nil {
		return err
	}

	conn, err := h.registry.Register(auth.Id)
	if err != nil {
		return renderError(e, "h.registry.Register()", err)
	}
	return e.JSON(http.StatusCreated, conn)
}

// Heartbeat - POST /api/v1/alerts/connections/{connId}/heartbeat
func (h *AlertHandler) Heartbeat(e *core.RequestEvent) error {
	auth, err := requireAuth(e)
	if err != nil {
		return err
	}

	if err := h.registry.Heartbeat(e.Request.PathValue("connId"), auth.Id); err != nil {
		return renderError(e, "h.registry.Heartbeat()", err)
	}
	return e.NoContent(http.StatusNoContent)
}

// Disconnect - DELETE /api/v1/alerts/connections/{connId}
func (h *AlertHandler) Disconnect(e *core.RequestEvent) error {
	auth, err := requireAuth(e)
	if err != nil {
		return err
	}

	if err := h.registry.Unregister(e.Request.PathValue("connId"), auth.Id); err != nil {
		return renderError(e, "h.registry.Unregister()", err)
	}
	return e.NoContent(http.StatusNoContent)
}
