package services

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestComputeTotals(t *testing.T) {
	d := decimal.RequireFromString
	lines := []PriceLine{{Price: d("50"), Quantity: 2}, {Price: d("19.99"), Quantity: 1}}

	tests := []struct {
		name     string
		welcome  bool
		discount string
		welcomeD string
		points   string
		final    string
	}{
		{"plain", false, "0", "0", "0", "119.99"},
		{"welcome rounds per unit", true, "0", "24", "0", "95.99"},
		{"points", false, "10", "0", "10", "109.99"},
		{"points capped at subtotal", true, "500", "24", "95.99", "0"},
		{"negative points ignored", false, "-3", "0", "0", "119.99"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeTotals(lines, tt.welcome, d(tt.discount))

			assert.True(t, d("119.99").Equal(got.Original), "original %s", got.Original)
			assert.True(t, d(tt.welcomeD).Equal(got.WelcomeDiscount), "welcome %s", got.WelcomeDiscount)
			assert.True(t, d(tt.points).Equal(got.PointsDiscount), "points %s", got.PointsDiscount)
			assert.True(t, d(tt.final).Equal(got.Final), "final %s", got.Final)
			assert.False(t, got.Final.IsNegative())
		})
	}
}

func TestUnitPrice(t *testing.T) {
	assert.Equal(t, "15.99", UnitPrice(decimal.RequireFromString("19.99"), true).String())
	assert.Equal(t, "19.99", UnitPrice(decimal.RequireFromString("19.99"), false).String())
}
