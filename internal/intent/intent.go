// Package intent encodes the purchase intent carried in processor session
// metadata between checkout and settlement.
package intent

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"eventix/models"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

const (
	// Version is the only payload version this build can settle.
	Version = 1

	MetadataKey      = "intent"
	MetadataUserID   = "userId"
	MetadataEventID  = "eventId"
	maxMetadataValue = 500

	// MaxTiers is the most tier lines a payload is guaranteed to fit.
	MaxTiers = 15
)

var (
	ErrMissing  = errors.New("intent: metadata has no purchase intent")
	ErrVersion  = errors.New("intent: unsupported payload version")
	ErrTooLarge = errors.New("intent: payload exceeds metadata value limit")
	ErrInvalid  = errors.New("intent: payload failed schema validation")

	validate = validator.New(validator.WithRequiredStructEnabled())
)

// Purchase is everything settlement needs to rebuild an order without
// consulting mutable local state.
type Purchase struct {
	Version         int                   `json:"v" validate:"required"`
	UserID          string                `json:"u" validate:"required"`
	EventID         string                `json:"e" validate:"required"`
	Date            time.Time             `json:"d" validate:"required"`
	Tiers           []models.TierQuantity `json:"-" validate:"required,min=1,dive"`
	WelcomeDiscount bool                  `json:"w"`
	PointsDiscount  decimal.Decimal       `json:"p"`
}

type purchaseAlias Purchase

// tierPair is a TierQuantity written as ["tierId", quantity].
type tierPair models.TierQuantity

func (t tierPair) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{t.TierID, t.Quantity})
}

func (t *tierPair) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return fmt.Errorf("tier entry has %d elements", len(raw))
	}
	if err := json.Unmarshal(raw[0], &t.TierID); err != nil {
		return err
	}
	return json.Unmarshal(raw[1], &t.Quantity)
}

func (p Purchase) MarshalJSON() ([]byte, error) {
	pairs := make([]tierPair, len(p.Tiers))
	for i, t := range p.Tiers {
		pairs[i] = tierPair(t)
	}
	return json.Marshal(struct {
		purchaseAlias
		Tiers []tierPair `json:"t"`
	}{purchaseAlias(p), pairs})
}

func (p *Purchase) UnmarshalJSON(b []byte) error {
	w := struct {
		*purchaseAlias
		Tiers []tierPair `json:"t"`
	}{purchaseAlias: (*purchaseAlias)(p)}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}

	p.Tiers = make([]models.TierQuantity, len(w.Tiers))
	for i, t := range w.Tiers {
		p.Tiers[i] = models.TierQuantity(t)
	}
	return nil
}

func (p *Purchase) TotalQuantity() int {
	total := 0
	for _, t := range p.Tiers {
		total += t.Quantity
	}
	return total
}

func (p *Purchase) validate() error {
	if p.Version != Version {
		return fmt.Errorf("%w: %d", ErrVersion, p.Version)
	}
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if p.PointsDiscount.IsNegative() {
		return fmt.Errorf("%w: negative points discount", ErrInvalid)
	}
	return nil
}

// Metadata renders the payload as processor metadata. The flat user and
// event keys are kept for consumers that only see the payment intent.
func (p *Purchase) Metadata() (map[string]string, error) {
	if p.Version == 0 {
		p.Version = Version
	}
	if err := p.validate(); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	if len(raw) > maxMetadataValue {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(raw))
	}

	return map[string]string{
		MetadataKey:     string(raw),
		MetadataUserID:  p.UserID,
		MetadataEventID: p.EventID,
	}, nil
}

// Decode reads and schema-checks the payload from processor metadata.
func Decode(metadata map[string]string) (*Purchase, error) {
	raw, ok := metadata[MetadataKey]
	if !ok || raw == "" {
		return nil, ErrMissing
	}

	var p Purchase
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}
