package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"eventix/internal/status"
	"eventix/models"
	"eventix/monitoring"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100
)

var rewardCatalog = []models.Reward{
	{ID: "1", Title: "$5 off your next purchase", PointsCost: 100, DiscountAmount: decimal.NewFromInt(5)},
	{ID: "2", Title: "$12 off your next purchase", PointsCost: 200, DiscountAmount: decimal.NewFromInt(12)},
	{ID: "3", Title: "$35 off your next purchase", PointsCost: 500, DiscountAmount: decimal.NewFromInt(35)},
}

type loyaltyLevel struct {
	name string
	min  int
}

// levels is ordered by threshold; a user holds the highest level reached.
var levels = []loyaltyLevel{
	{"Bronze", 0},
	{"Silver", 500},
	{"Gold", 1500},
	{"Platinum", 5000},
}

type PointsService struct {
	store    Store
	cache    redis.Cmdable
	cacheTTL time.Duration
	monitor  *monitoring.Monitor
	now      func() time.Time
}

// NewPointsService builds the ledger service. cache may be nil.
func NewPointsService(store Store, cache redis.Cmdable, cacheTTL time.Duration, monitor *monitoring.Monitor) *PointsService {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &PointsService{
		store:    store,
		cache:    cache,
		cacheTTL: cacheTTL,
		monitor:  monitor,
		now:      time.Now,
	}
}

func balanceKey(userID string) string {
	return "points:balance:" + userID
}

// Balance returns the user's points, served from cache when possible.
// Users who never earned anything get a zero balance.
func (s *PointsService) Balance(ctx context.Context, userID string) (*models.UserPoints, error) {
	if s.cache != nil {
		raw, err := s.cache.Get(ctx, balanceKey(userID)).Bytes()
		switch {
		case err == nil:
			var up models.UserPoints
			if err := json.Unmarshal(raw, &up); err == nil {
				return &up, nil
			}
		case !errors.Is(err, redis.Nil):
			slog.Warn("s.cache.Get()", "key", balanceKey(userID), "error", err)
		}
	}

	up, err := s.store.GetUserPoints(ctx, userID)
	if err != nil {
		if !errors.Is(err, status.ErrNotFound) {
			return nil, fmt.Errorf("s.store.GetUserPoints: %w", err)
		}
		up = &models.UserPoints{UserID: userID, AvailableDiscountAmount: decimal.Zero}
	}

	if s.cache != nil {
		if raw, err := json.Marshal(up); err == nil {
			if err := s.cache.Set(ctx, balanceKey(userID), raw, s.cacheTTL).Err(); err != nil {
				slog.Warn("s.cache.Set()", "key", balanceKey(userID), "error", err)
			}
		}
	}
	return up, nil
}

// Invalidate drops the cached balance; called after every ledger mutation.
func (s *PointsService) Invalidate(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, balanceKey(userID)).Err(); err != nil {
		slog.Warn("s.cache.Del()", "key", balanceKey(userID), "error", err)
	}
}

type HistoryPage struct {
	History []*models.PointsHistory `json:"history"`
	Total   int                     `json:"total"`
	Skip    int                     `json:"skip"`
	Limit   int                     `json:"limit"`
}

// History lists ledger rows newest first. An action other than EARNED or
// SPENT is ignored and all rows are returned.
func (s *PointsService) History(ctx context.Context, userID, action string, skip, limit int) (*HistoryPage, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)
	skip = max(skip, 0)

	filter := models.PointsAction(action)
	if filter != models.PointsEarned && filter != models.PointsSpent {
		filter = ""
	}

	rows, total, err := s.store.ListPointsHistory(ctx, userID, filter, limit, skip)
	if err != nil {
		return nil, fmt.Errorf("s.store.ListPointsHistory: %w", err)
	}
	return &HistoryPage{History: rows, Total: total, Skip: skip, Limit: limit}, nil
}

func (s *PointsService) Rewards() []models.Reward {
	out := make([]models.Reward, len(rewardCatalog))
	copy(out, rewardCatalog)
	return out
}

type RedeemResult struct {
	Reward     models.Reward      `json:"reward"`
	UserPoints *models.UserPoints `json:"userPoints"`
}

// Redeem trades points for discount credit. The debit is conditional on the
// balance covering the cost, so concurrent redemptions cannot overdraw.
func (s *PointsService) Redeem(ctx context.Context, userID, rewardID string) (*RedeemResult, error) {
	var reward *models.Reward
	for i := range rewardCatalog {
		if rewardCatalog[i].ID == rewardID {
			reward = &rewardCatalog[i]
			break
		}
	}
	if reward == nil {
		return nil, status.NotFound("Reward not found")
	}

	err := s.store.RunInTx(ctx, func(tx Store) error {
		if _, err := tx.GetUserPoints(ctx, userID); err != nil {
			return notFoundOr(err, "User points record not found")
		}

		ok, err := tx.DebitPoints(ctx, userID, reward.PointsCost)
		if err != nil {
			return fmt.Errorf("tx.DebitPoints: %w", err)
		}
		if !ok {
			return status.Validation("Insufficient points").With("required", reward.PointsCost)
		}

		if err := tx.AppendPointsHistory(ctx, &models.PointsHistory{
			UserID: userID,
			Action: models.PointsSpent,
			Points: -reward.PointsCost,
		}); err != nil {
			return fmt.Errorf("tx.AppendPointsHistory: %w", err)
		}

		if err := tx.AddDiscount(ctx, userID, reward.DiscountAmount); err != nil {
			return fmt.Errorf("tx.AddDiscount: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Invalidate(ctx, userID)
	s.monitor.TrackPoints(string(models.PointsSpent), reward.PointsCost)

	up, err := s.store.GetUserPoints(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("s.store.GetUserPoints: %w", err)
	}

	slog.Info("points redeemed", "userId", userID, "rewardId", reward.ID, "points", reward.PointsCost)
	return &RedeemResult{Reward: *reward, UserPoints: up}, nil
}

// Earn credits points inside a settlement transaction.
func (s *PointsService) Earn(ctx context.Context, tx Store, userID string, points int, eventID, ticketID string) error {
	if points <= 0 {
		return nil
	}
	if err := tx.CreditPoints(ctx, userID, points); err != nil {
		return fmt.Errorf("tx.CreditPoints: %w", err)
	}
	if err := tx.AppendPointsHistory(ctx, &models.PointsHistory{
		UserID:   userID,
		Action:   models.PointsEarned,
		Points:   points,
		EventID:  eventID,
		TicketID: ticketID,
	}); err != nil {
		return fmt.Errorf("tx.AppendPointsHistory: %w", err)
	}
	return nil
}

func levelFor(totalEarned int) models.UserLevel {
	i := 0
	for j, l := range levels {
		if totalEarned >= l.min {
			i = j
		}
	}

	out := models.UserLevel{Level: levels[i].name, TotalPointsEarned: totalEarned}
	if i+1 < len(levels) {
		out.NextLevel = levels[i+1].name
		out.PointsToNextLevel = levels[i+1].min - totalEarned
	}
	return out
}

func (s *PointsService) Level(ctx context.Context, userID string) (*models.UserLevel, error) {
	up, err := s.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}
	lvl := levelFor(up.TotalPointsEarned)
	return &lvl, nil
}

type ScratchCard struct {
	Eligible          bool       `json:"eligible"`
	WelcomeGiftExpiry *time.Time `json:"welcome_gift_expiry"`
	Message           string     `json:"message"`
}

func (s *PointsService) ScratchCardEligibility(ctx context.Context, userID string) (*ScratchCard, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, notFoundOr(err, "User not found")
	}

	out := &ScratchCard{Eligible: user.WelcomeDiscountEligible(s.now())}
	if !user.WelcomeGiftExpiry.IsZero() {
		expiry := user.WelcomeGiftExpiry
		out.WelcomeGiftExpiry = &expiry
	}
	switch {
	case out.Eligible:
		out.Message = "User is eligible for welcome gift"
	case user.FirstLoginGift:
		out.Message = "Welcome gift has expired"
	default:
		out.Message = "User has already claimed welcome gift"
	}
	return out, nil
}

// Mismatch is a user whose balances disagree with their ledger rows.
type Mismatch struct {
	UserID            string `json:"userId"`
	AvailablePoints   int    `json:"availablePoints"`
	LedgerAvailable   int    `json:"ledgerAvailable"`
	TotalPointsEarned int    `json:"totalPointsEarned"`
	LedgerEarned      int    `json:"ledgerEarned"`
}

// Reconcile checks every balance against the sum of its history rows.
func (s *PointsService) Reconcile(ctx context.Context) ([]Mismatch, error) {
	all, err := s.store.ListUserPoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("s.store.ListUserPoints: %w", err)
	}

	var out []Mismatch
	for _, up := range all {
		available, earned, err := s.store.SumPointsHistory(ctx, up.UserID)
		if err != nil {
			return nil, fmt.Errorf("s.store.SumPointsHistory(%s): %w", up.UserID, err)
		}
		if available != up.AvailablePoints || earned != up.TotalPointsEarned {
			out = append(out, Mismatch{
				UserID:            up.UserID,
				AvailablePoints:   up.AvailablePoints,
				LedgerAvailable:   available,
				TotalPointsEarned: up.TotalPointsEarned,
				LedgerEarned:      earned,
			})
		}
	}
	return out, nil
}
