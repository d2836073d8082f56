package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"eventix/internal/status"
	"eventix/models"

	"golang.org/x/sync/errgroup"
)

type InventoryService struct {
	store Store
}

func NewInventoryService(store Store) *InventoryService {
	return &InventoryService{store: store}
}

// TierLine is a requested quantity of one resolved tier and the date it is scheduled for.
type TierLine struct {
	Tier     *models.PricingTier
	Quantity int
	Date     models.EventDate
}

// CheckAvailability resolves every requested tier concurrently and fails the
// whole request if any of them cannot cover its quantity. Every tier must be
// scheduled on day. Nothing is reserved.
func (s *InventoryService) CheckAvailability(ctx context.Context, event *models.Event, day time.Time, reqs []models.TierQuantity) ([]TierLine, error) {
	lines := make([]TierLine, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	for i, r := range reqs {
		g.Go(func() error {
			tier, err := s.store.GetTier(gctx, r.TierID)
			if err != nil {
				if errors.Is(err, status.ErrNotFound) {
					return status.NotFound("Pricing tier not found").With("tierId", r.TierID)
				}
				return fmt.Errorf("s.store.GetTier(%s): %w", r.TierID, err)
			}
			if tier.EventID != event.ID {
				return status.Validation("Tier %s does not belong to this event", tier.Name).With("tierId", r.TierID)
			}
			scheduled, ok := event.DateByID(tier.EventDateID)
			if !ok || !scheduled.SameDay(day) {
				return status.Validation("Tier %s is not on sale for %s", tier.Name, day.Format(time.DateOnly)).
					With("tierId", r.TierID).
					With("date", day.Format(time.DateOnly))
			}

			available := max(tier.Capacity, 0)
			if r.Quantity > available {
				return status.Availability(tier.Name, available)
			}

			lines[i] = TierLine{Tier: tier, Quantity: r.Quantity, Date: scheduled}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, l := range lines {
		if l.Date.ID != lines[0].Date.ID {
			return nil, status.Validation("All tiers in one order must share a date").With("tierId", l.Tier.ID)
		}
	}
	return lines, nil
}

// Take decrements a tier by n inside tx. A tier that can no longer cover n
// leaves capacity untouched and yields an OversoldError.
func (s *InventoryService) Take(ctx context.Context, tx Store, tierID string, n int) (*models.PricingTier, error) {
	tier, err := tx.GetTier(ctx, tierID)
	if err != nil {
		if errors.Is(err, status.ErrNotFound) {
			return nil, status.NotFound("Pricing tier not found").With("tierId", tierID)
		}
		return nil, fmt.Errorf("tx.GetTier(%s): %w", tierID, err)
	}

	ok, err := tx.DecrementCapacity(ctx, tierID, n)
	if err != nil {
		return nil, fmt.Errorf("tx.DecrementCapacity(%s): %w", tierID, err)
	}
	if !ok {
		return nil, status.Oversold(tier.Name, n)
	}
	return tier, nil
}
