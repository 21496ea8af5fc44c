package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/types"
)

func records() []types.Instrument {
	return []types.Instrument{
		{InstrumentID: "id-b", Symbol: "MSFT", Name: "Microsoft"},
		{InstrumentID: "id-a", Symbol: "AAPL", Name: "Apple"},
		types.NewPlaceholder("id-c"),
	}
}

func TestJoinWithEmptyMapsKeepsEveryRow(t *testing.T) {
	rows := Join(records(), nil, nil, nil)
	require.Len(t, rows, 3)
	assert.Equal(t, "MSFT", rows[0].Symbol)
	assert.Equal(t, "AAPL", rows[1].Symbol)
	assert.Equal(t, types.Placeholder, rows[2].Symbol)

	for _, row := range rows {
		assert.Zero(t, row.TotalRatings)
		assert.Equal(t, NA, row.BuyReasons)
		assert.Equal(t, NA, row.SellReasons)
		assert.Equal(t, NA, row.LastTradePrice)
		assert.Equal(t, NA, row.PotentialPercent)

		rec := row.Record()
		require.Len(t, rec, len(Columns))
		for i, v := range rec {
			assert.NotNil(t, v, Columns[i].Header)
			if s, ok := v.(string); ok {
				assert.NotEmpty(t, s, Columns[i].Header)
			}
		}
	}
}

func TestJoinTotalsAndReasons(t *testing.T) {
	ratings := map[string]types.RatingsSummary{
		"id-a": {
			InstrumentID: "id-a",
			Summary:      &types.RatingCounts{NumBuyRatings: 3, NumHoldRatings: 2, NumSellRatings: 1},
			Ratings: []types.RatingEntry{
				{Type: types.RatingBuy, Text: "A"},
				{Type: types.RatingBuy, Text: "B"},
				{Type: types.RatingHold, Text: "H"},
				{Type: types.RatingSell, Text: "C"},
			},
		},
		"id-b": {InstrumentID: "id-b", Ratings: []types.RatingEntry{{Type: types.RatingBuy, Text: "only"}}},
	}
	rows := Join(records(), ratings, nil, nil)

	assert.Equal(t, 6, rows[1].TotalRatings)
	assert.Equal(t, 3, rows[1].BuyRatings)
	assert.Equal(t, "A | B", rows[1].BuyReasons)
	assert.Equal(t, "C", rows[1].SellReasons)

	assert.Zero(t, rows[0].TotalRatings)
	assert.Equal(t, "only", rows[0].BuyReasons)
	assert.Equal(t, NA, rows[0].SellReasons)
}

func TestJoinFairValueAndQuote(t *testing.T) {
	fair := map[string]*types.FairValueReport{
		"id-a": {
			FairValue:    &types.Money{Value: "250.00", CurrencyCode: "USD"},
			StarRating:   "3",
			EconomicMoat: "wide",
			Uncertainty:  "medium",
			Stewardship:  "exemplary",
		},
		"id-b": nil,
	}
	quotes := map[string]*types.Quote{
		"id-a": {LastTradePrice: "200.00", TradingHalted: "false"},
	}
	rows := Join(records(), nil, fair, quotes)

	a := rows[1]
	assert.Equal(t, "250.00", a.FairValue)
	assert.Equal(t, "USD", a.FairValueCurrency)
	assert.Equal(t, "wide", a.EconomicMoat)
	assert.Equal(t, "200.00", a.LastTradePrice)
	assert.Equal(t, "false", a.TradingHalted)
	assert.Equal(t, "25.00", a.PotentialPercent)
	assert.Equal(t, NA, a.ReportTitle)

	b := rows[0]
	for _, v := range []string{b.FairValue, b.StarRating, b.EconomicMoat, b.Uncertainty, b.Stewardship} {
		assert.Equal(t, NA, v)
	}
}

func TestPotentialPercent(t *testing.T) {
	tests := []struct {
		fair, last, want string
	}{
		{"110", "100", "10.00"},
		{"90", "100", "-10.00"},
		{"1", "3", "-66.67"},
		{NA, "100", NA},
		{"100", NA, NA},
		{"100", "0", NA},
		{"100", "0.0000", NA},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PotentialPercent(tt.fair, tt.last), "%s vs %s", tt.fair, tt.last)
	}
}

func TestHeadersMatchColumns(t *testing.T) {
	h := Headers()
	assert.Equal(t, "Symbol", h[0])
	assert.Equal(t, "Total Ratings", h[6])
	assert.Equal(t, "Sell Rating Reasons", h[len(h)-1])
	assert.Len(t, h, len(Columns))
}
