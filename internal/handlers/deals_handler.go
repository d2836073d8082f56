package handlers

import (
	"context"
	"net/http"

	"eventix/internal/services"
	"eventix/models"

	"github.com/pocketbase/pocketbase/core"
)

type PointsLedger interface {
	Balance(ctx context.Context, userID string) (*models.UserPoints, error)
	History(ctx context.Context, userID, action string, skip, limit int) (*services.HistoryPage, error)
	Rewards() []models.Reward
	Redeem(ctx context.Context, userID, rewardID string) (*services.RedeemResult, error)
	Level(ctx context.Context, userID string) (*models.UserLevel, error)
	ScratchCardEligibility(ctx context.Context, userID string) (*services.ScratchCard, error)
}

type DealsHandler struct {
	points PointsLedger
}

func NewDealsHandler(points PointsLedger) *DealsHandler {
	return &DealsHandler{points: points}
}

// Balance - GET /api/v1/deals/balance
func (h *DealsHandler) Balance(e *core.RequestEvent) error {
	auth, err := requireAuth(e)
	if err != nil {
		return err
	}

	up, err := h.points.Balance(e.Request.Context(), auth.Id)
	if err != nil {
		return renderError(e, "h.points.Balance()", err)
	}
	return e.JSON(http.StatusOK, up)
}

// History - GET /api/v1/deals/history?skip=&limit=&action=
func (h *DealsHandler) History(e *core.RequestEvent) error {
	auth, err := requireAuth(e)
	if err != nil {
		return err
	}

	q := e.Request.URL.Query()
	page, err := h.points.History(e.Request.Context(), auth.Id, q.Get("action"), queryInt(e, "skip", 0), queryInt(e, "limit", 0))
	if err != nil {
		return renderError(e, "h.points.History()", err)
	}
	return e.JSON(http.StatusOK, page)
}

func (h *DealsHandler) Rewards(e *core.RequestEvent) error {
	if _, err := requireAuth(e); err != nil {
		return err
	}
	return e.JSON(http.StatusOK, h.points.Rewards())
}

// Redeem - POST /api/v1/deals/redeem/{rewardId}
func (h *DealsHandler) Redeem(e *core.RequestEvent) error {
	auth, err := requireAuth(e)
	if err != nil {
		return err
	}

	res, err := h.points.Redeem(e.Request.Context(), auth.Id, e.Request.PathValue("rewardId"))
	if err != nil {
		return renderError(e, "h.points.Redeem()", err)
	}
	return e.JSON(http.StatusOK, map[string]any{
		"message":    "Points redeemed successfully",
		"reward":     res.Reward,
		"userPoints": res.UserPoints,
	})
}

func (h *DealsHandler) UserLevel(e *core.RequestEvent) error {
	auth, err := requireAuth(e)
	if err != nil {
		return err
	}

	level, err := h.points.Level(e.Request.Context(), auth.Id)
	if err != nil {
		return renderError(e, "h.points.Level()", err)
	}
	return e.JSON(http.StatusOK, level)
}

func (h *DealsHandler) ScratchCardEligibility(e *core.RequestEvent) error {
	auth, err := requireAuth(e)
	if err != nil {
		return err
	}

	card, err := h.points.ScratchCardEligibility(e.Request.Context(), auth.Id)
	if err != nil {
		return renderError(e, "h.points.ScratchCardEligibility()", err)
	}
	return e.JSON(http.StatusOK, card)
}
