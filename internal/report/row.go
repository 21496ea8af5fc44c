// Package report joins registry records with upstream lookups into flat,
// uniformly shaped export rows.
package report

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/types"
)

// NA stands in for every absent string value.
const NA = "N/A"

const reasonSeparator = " | "

// Row is one export record. Every field is always populated: counts default
// to zero and strings to NA.
type Row struct {
	Symbol       string
	CompanyName  string
	InstrumentID string

	BuyRatings   int
	HoldRatings  int
	SellRatings  int
	TotalRatings int

	FairValue         string
	FairValueCurrency string
	StarRating        string
	EconomicMoat      string
	Uncertainty       string
	Stewardship       string
	ReportTitle       string
	ReportPublished   string
	ReportUpdated     string

	LastTradePrice string
	PreviousClose  string
	BidPrice       string
	AskPrice       string
	TradingHalted  string
	QuoteUpdatedAt string

	PotentialPercent string

	BuyReasons  string
	SellReasons string
}

// Join builds one row per record in input order. Missing map entries and nil
// values degrade the affected fields; no record is ever dropped.
func Join(
	records []types.Instrument,
	ratings map[string]types.RatingsSummary,
	fairValues map[string]*types.FairValueReport,
	quotes map[string]*types.Quote,
) []Row {
	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		var (
			summary *types.RatingsSummary
			fv      *types.FairValueReport
			quote   *types.Quote
		)
		if rec.InstrumentID != "" {
			if r, ok := ratings[rec.InstrumentID]; ok {
				summary = &r
			}
			fv = fairValues[rec.InstrumentID]
			quote = quotes[rec.InstrumentID]
		}
		rows = append(rows, buildRow(rec, summary, fv, quote))
	}
	return rows
}

func buildRow(rec types.Instrument, summary *types.RatingsSummary, fv *types.FairValueReport, quote *types.Quote) Row {
	row := Row{
		Symbol:       orNA(rec.Symbol),
		CompanyName:  orNA(rec.Name),
		InstrumentID: orNA(rec.InstrumentID),
		BuyReasons:   NA,
		SellReasons:  NA,
	}

	if summary != nil {
		if c := summary.Summary; c != nil {
			row.BuyRatings = c.NumBuyRatings
			row.HoldRatings = c.NumHoldRatings
			row.SellRatings = c.NumSellRatings
		}
		row.BuyReasons = reasons(summary.Ratings, types.RatingBuy)
		row.SellReasons = reasons(summary.Ratings, types.RatingSell)
	}
	row.TotalRatings = row.BuyRatings + row.HoldRatings + row.SellRatings

	var report types.FairValueReport
	if fv != nil {
		report = *fv
	}
	var money types.Money
	if report.FairValue != nil {
		money = *report.FairValue
	}
	row.FairValue = money.Value.Or(NA)
	row.FairValueCurrency = money.CurrencyCode.Or(NA)
	row.StarRating = report.StarRating.Or(NA)
	row.EconomicMoat = report.EconomicMoat.Or(NA)
	row.Uncertainty = report.Uncertainty.Or(NA)
	row.Stewardship = report.Stewardship.Or(NA)
	row.ReportTitle = report.ReportTitle.Or(NA)
	row.ReportPublished = report.ReportPublishedAt.Or(NA)
	row.ReportUpdated = report.ReportUpdatedAt.Or(NA)

	var q types.Quote
	if quote != nil {
		q = *quote
	}
	row.LastTradePrice = q.LastTradePrice.Or(NA)
	row.PreviousClose = q.PreviousClose.Or(NA)
	row.BidPrice = q.BidPrice.Or(NA)
	row.AskPrice = q.AskPrice.Or(NA)
	row.TradingHalted = q.TradingHalted.Or(NA)
	row.QuoteUpdatedAt = q.UpdatedAt.Or(NA)

	row.PotentialPercent = PotentialPercent(row.FairValue, row.LastTradePrice)
	return row
}

// reasons joins the texts of entries of the given type, or NA when there are none.
func reasons(entries []types.RatingEntry, kind types.RatingType) string {
	var texts []string
	for _, e := range entries {
		if e.Type == kind {
			texts = append(texts, e.Text)
		}
	}
	if len(texts) == 0 {
		return NA
	}
	return strings.Join(texts, reasonSeparator)
}

// PotentialPercent is the distance from last trade to fair value as a
// percentage of last trade, rounded to two places.
func PotentialPercent(fairValue, lastTrade string) string {
	fv, err := decimal.NewFromString(strings.TrimSpace(fairValue))
	if err != nil {
		return NA
	}
	last, err := decimal.NewFromString(strings.TrimSpace(lastTrade))
	if err != nil || last.IsZero() {
		return NA
	}
	return fv.Sub(last).Div(last).Mul(decimal.NewFromInt(100)).StringFixed(2)
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return NA
	}
	return s
}
