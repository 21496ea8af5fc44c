package report

// Column is one export field: its header text, preferred width in
// characters, and how to read it from a row.
type Column struct {
	Header string
	Width  float64
	Value  func(Row) any
}

// Columns lists the export fields in output order.
var Columns = []Column{
	{"Symbol", 10, func(r Row) any { return r.Symbol }},
	{"Company Name", 32, func(r Row) any { return r.CompanyName }},
	{"Instrument ID", 38, func(r Row) any { return r.InstrumentID }},
	{"Buy Ratings", 11, func(r Row) any { return r.BuyRatings }},
	{"Hold Ratings", 12, func(r Row) any { return r.HoldRatings }},
	{"Sell Ratings", 11, func(r Row) any { return r.SellRatings }},
	{"Total Ratings", 13, func(r Row) any { return r.TotalRatings }},
	{"Fair Value", 12, func(r Row) any { return r.FairValue }},
	{"Fair Value Currency", 10, func(r Row) any { return r.FairValueCurrency }},
	{"Star Rating", 11, func(r Row) any { return r.StarRating }},
	{"Economic Moat", 14, func(r Row) any { return r.EconomicMoat }},
	{"Uncertainty", 13, func(r Row) any { return r.Uncertainty }},
	{"Stewardship", 14, func(r Row) any { return r.Stewardship }},
	{"Report Title", 40, func(r Row) any { return r.ReportTitle }},
	{"Report Published", 22, func(r Row) any { return r.ReportPublished }},
	{"Report Updated", 22, func(r Row) any { return r.ReportUpdated }},
	{"Quote Last Trade Price", 14, func(r Row) any { return r.LastTradePrice }},
	{"Quote Previous Close", 14, func(r Row) any { return r.PreviousClose }},
	{"Quote Bid Price", 12, func(r Row) any { return r.BidPrice }},
	{"Quote Ask Price", 12, func(r Row) any { return r.AskPrice }},
	{"Quote Trading Halted", 10, func(r Row) any { return r.TradingHalted }},
	{"Quote Updated At", 22, func(r Row) any { return r.QuoteUpdatedAt }},
	{"Potential Profit/Loss %", 12, func(r Row) any { return r.PotentialPercent }},
	{"Buy Rating Reasons", 60, func(r Row) any { return r.BuyReasons }},
	{"Sell Rating Reasons", 60, func(r Row) any { return r.SellReasons }},
}

// Headers returns the column headers in order.
func Headers() []string {
	out := make([]string, len(Columns))
	for i, c := range Columns {
		out[i] = c.Header
	}
	return out
}

// Record flattens a row into column order.
func (r Row) Record() []any {
	out := make([]any, len(Columns))
	for i, c := range Columns {
		out[i] = c.Value(r)
	}
	return out
}
