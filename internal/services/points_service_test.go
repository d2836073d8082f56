package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"eventix/internal/status"
	"eventix/models"

	"github.com/go-redis/redismock/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedeem_TradesPointsForCredit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.putPoints(models.UserPoints{UserID: "user_1", AvailablePoints: 150, TotalPointsEarned: 150})

	res, err := h.points().Redeem(ctx, "user_1", "1")
	require.NoError(t, err)
	assert.Equal(t, 100, res.Reward.PointsCost)
	assert.Equal(t, 50, res.UserPoints.AvailablePoints)
	assert.Equal(t, 150, res.UserPoints.TotalPointsEarned)
	assert.True(t, decimal.NewFromInt(5).Equal(res.UserPoints.AvailableDiscountAmount))

	data := h.store.snapshot()
	require.Len(t, data.history, 1)
	assert.Equal(t, models.PointsSpent, data.history[0].Action)
	assert.Equal(t, -100, data.history[0].Points)
}

func TestRedeem_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		points   *models.UserPoints
		rewardID string
		kind     status.Kind
		message  string
	}{
		{"unknown reward", &models.UserPoints{UserID: "user_1", AvailablePoints: 1000}, "9", status.KindNotFound, "Reward not found"},
		{"no points record", nil, "1", status.KindNotFound, "User points record not found"},
		{"insufficient points", &models.UserPoints{UserID: "user_1", AvailablePoints: 199}, "2", status.KindValidation, "Insufficient points"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			if tt.points != nil {
				h.store.putPoints(*tt.points)
			}

			_, err := h.points().Redeem(context.Background(), "user_1", tt.rewardID)
			var se *status.Error
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.kind, se.Kind)
			assert.Equal(t, tt.message, se.Message)
			assert.Empty(t, h.store.snapshot().history)
		})
	}
}

func TestRedeem_ConcurrentRedemptionsCannotOverdraw(t *testing.T) {
	h := newHarness(t)
	h.store.putPoints(models.UserPoints{UserID: "user_1", AvailablePoints: 250, TotalPointsEarned: 250})
	s := h.points()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Redeem(context.Background(), "user_1", "1"); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	data := h.store.snapshot()
	assert.Equal(t, 2, succeeded)
	assert.Equal(t, 50, data.points["user_1"].AvailablePoints)
	assert.True(t, decimal.NewFromInt(10).Equal(data.points["user_1"].AvailableDiscountAmount))
	assert.Len(t, data.history, 2)
}

func TestPoints_LedgerReconcilesAfterSettlementAndRedeem(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.putTier(models.PricingTier{ID: "tier_general", EventID: "event_1", Name: "General", Price: decimal.NewFromInt(5), Capacity: 100})

	s := h.settlement()
	for i, id := range []string{"evt_1", "evt_2"} {
		require.NoError(t, s.Dispatch(ctx, completedEvent(t, id, "cs_"+id, purchase(general(5+i)))))
	}
	_, err := h.points().Redeem(ctx, "user_1", "1")
	require.NoError(t, err)

	up, err := h.store.GetUserPoints(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, 10, up.AvailablePoints)
	assert.Equal(t, 110, up.TotalPointsEarned)

	mismatches, err := h.points().Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, mismatches)
}

func TestReconcile_ReportsDrift(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.putPoints(models.UserPoints{UserID: "user_1", AvailablePoints: 40, TotalPointsEarned: 40})
	require.NoError(t, h.store.AppendPointsHistory(ctx, &models.PointsHistory{UserID: "user_1", Action: models.PointsEarned, Points: 30}))

	mismatches, err := h.points().Reconcile(ctx)
	require.NoError(t, err)
	require.Len(t, mismatches, 1)
	assert.Equal(t, Mismatch{UserID: "user_1", AvailablePoints: 40, LedgerAvailable: 30, TotalPointsEarned: 40, LedgerEarned: 30}, mismatches[0])
}

func TestHistory_PaginatesAndFilters(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 0; i < 12; i++ {
		require.NoError(t, h.store.AppendPointsHistory(ctx, &models.PointsHistory{UserID: "user_1", Action: models.PointsEarned, Points: i + 1}))
	}
	require.NoError(t, h.store.AppendPointsHistory(ctx, &models.PointsHistory{UserID: "user_1", Action: models.PointsSpent, Points: -100}))
	require.NoError(t, h.store.AppendPointsHistory(ctx, &models.PointsHistory{UserID: "user_2", Action: models.PointsEarned, Points: 10}))

	s := h.points()

	page, err := s.History(ctx, "user_1", "", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 13, page.Total)
	assert.Equal(t, 10, page.Limit)
	require.Len(t, page.History, 10)
	assert.Equal(t, models.PointsSpent, page.History[0].Action, "newest first")

	page, err = s.History(ctx, "user_1", "EARNED", 10, 10)
	require.NoError(t, err)
	assert.Equal(t, 12, page.Total)
	require.Len(t, page.History, 2)
	assert.Equal(t, 1, page.History[1].Points)

	page, err = s.History(ctx, "user_1", "BOGUS", 0, 500)
	require.NoError(t, err)
	assert.Equal(t, 13, page.Total)
	assert.Equal(t, 100, page.Limit)
}

func TestBalance_CacheAside(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	up := models.UserPoints{UserID: "user_1", AvailablePoints: 70, TotalPointsEarned: 90, AvailableDiscountAmount: decimal.NewFromInt(5)}
	h.store.putPoints(up)

	db, mock := redismock.NewClientMock()
	s := NewPointsService(h.store, db, time.Minute, nil)

	raw, err := json.Marshal(&up)
	require.NoError(t, err)
	mock.ExpectGet("points:balance:user_1").RedisNil()
	mock.ExpectSet("points:balance:user_1", raw, time.Minute).SetVal("OK")

	got, err := s.Balance(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, 70, got.AvailablePoints)

	mock.ExpectGet("points:balance:user_1").SetVal(string(raw))
	got, err = s.Balance(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, 90, got.TotalPointsEarned)

	mock.ExpectDel("points:balance:user_1").SetVal(1)
	s.Invalidate(ctx, "user_1")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBalance_CacheOutageFallsBackToStore(t *testing.T) {
	h := newHarness(t)
	h.store.putPoints(models.UserPoints{UserID: "user_1", AvailablePoints: 12})

	db, mock := redismock.NewClientMock()
	s := NewPointsService(h.store, db, time.Minute, nil)
	mock.ExpectGet("points:balance:user_1").SetErr(assert.AnError)

	got, err := s.Balance(context.Background(), "user_1")
	require.NoError(t, err)
	assert.Equal(t, 12, got.AvailablePoints)
}

func TestBalance_NoRecordIsZero(t *testing.T) {
	h := newHarness(t)

	got, err := h.points().Balance(context.Background(), "user_1")
	require.NoError(t, err)
	assert.Equal(t, "user_1", got.UserID)
	assert.Zero(t, got.AvailablePoints)
	assert.True(t, got.AvailableDiscountAmount.IsZero())
}

func TestLevelFor(t *testing.T) {
	tests := []struct {
		earned int
		level  string
		next   string
		toNext int
	}{
		{0, "Bronze", "Silver", 500},
		{499, "Bronze", "Silver", 1},
		{500, "Silver", "Gold", 1000},
		{1499, "Silver", "Gold", 1},
		{1500, "Gold", "Platinum", 3500},
		{5000, "Platinum", "", 0},
		{12000, "Platinum", "", 0},
	}

	for _, tt := range tests {
		lvl := levelFor(tt.earned)
		assert.Equal(t, tt.level, lvl.Level, "earned %d", tt.earned)
		assert.Equal(t, tt.next, lvl.NextLevel, "earned %d", tt.earned)
		assert.Equal(t, tt.toNext, lvl.PointsToNextLevel, "earned %d", tt.earned)
	}
}

func TestScratchCardEligibility(t *testing.T) {
	tests := []struct {
		name     string
		user     models.User
		eligible bool
		message  string
	}{
		{"unclaimed", models.User{ID: "user_1", FirstLoginGift: true, WelcomeGiftExpiry: testNow.Add(time.Hour)}, true, "User is eligible for welcome gift"},
		{"expired", models.User{ID: "user_1", FirstLoginGift: true, WelcomeGiftExpiry: testNow.Add(-time.Hour)}, false, "Welcome gift has expired"},
		{"claimed", models.User{ID: "user_1", WelcomeGiftExpiry: testNow.Add(time.Hour)}, false, "User has already claimed welcome gift"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.store.putUser(tt.user)

			card, err := h.points().ScratchCardEligibility(context.Background(), "user_1")
			require.NoError(t, err)
			assert.Equal(t, tt.eligible, card.Eligible)
			assert.Equal(t, tt.message, card.Message)
			require.NotNil(t, card.WelcomeGiftExpiry)
		})
	}
}

func TestRewards_ReturnsCopy(t *testing.T) {
	s := newHarness(t).points()
	rewards := s.Rewards()
	require.Len(t, rewards, 3)
	rewards[0].PointsCost = 1

	assert.Equal(t, 100, s.Rewards()[0].PointsCost)
}
