package spreadsheet

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/report"
	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/types"
)

func TestFileName(t *testing.T) {
	ts := time.Date(2026, 3, 7, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, "robinhood_stock_ratings_2026-03-07.xlsx", FileName(ts))
}

func TestEncodeWritesHeaderAndRows(t *testing.T) {
	rows := report.Join([]types.Instrument{
		{InstrumentID: "id-a", Symbol: "AAPL", Name: "Apple"},
		types.NewPlaceholder("id-b"),
	}, map[string]types.RatingsSummary{
		"id-a": {Summary: &types.RatingCounts{NumBuyRatings: 4}},
	}, nil, nil)

	data, err := Encode(rows)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetName}, f.GetSheetList())
	got, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, report.Headers(), got[0])
	assert.Equal(t, "AAPL", got[1][0])
	assert.Equal(t, "4", got[1][3])
	assert.Equal(t, "4", got[1][6])
	assert.Equal(t, types.Placeholder, got[2][0])
	assert.Equal(t, report.NA, got[2][len(report.Columns)-1])
}

func TestEncodeEmpty(t *testing.T) {
	data, err := Encode(nil)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()
	got, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, got, 1)
}
