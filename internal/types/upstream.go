package types

// RatingType is the recommendation bucket of a single analyst rating.
type RatingType string

const (
	RatingBuy  RatingType = "buy"
	RatingHold RatingType = "hold"
	RatingSell RatingType = "sell"
)

// RatingsSummary is one entry of the batched ratings endpoint.
type RatingsSummary struct {
	InstrumentID string        `json:"instrument_id"`
	Summary      *RatingCounts `json:"summary"`
	Ratings      []RatingEntry `json:"ratings"`
}

// RatingCounts holds the per-bucket recommendation counts.
type RatingCounts struct {
	NumBuyRatings  int `json:"num_buy_ratings"`
	NumHoldRatings int `json:"num_hold_ratings"`
	NumSellRatings int `json:"num_sell_ratings"`
}

// RatingEntry is one analyst's rating with its reasoning text.
type RatingEntry struct {
	Type        RatingType `json:"type"`
	Text        string     `json:"text"`
	PublishedAt string     `json:"published_at,omitempty"`
}

// Money is an amount with its currency as returned by the overview endpoint.
type Money struct {
	Value        Field `json:"value"`
	CurrencyCode Field `json:"currency_code"`
}

// FairValueReport is the per-instrument analyst overview.
type FairValueReport struct {
	FairValue         *Money `json:"fair_value"`
	StarRating        Field  `json:"star_rating"`
	EconomicMoat      Field  `json:"economic_moat"`
	Uncertainty       Field  `json:"uncertainty"`
	Stewardship       Field  `json:"stewardship"`
	ReportTitle       Field  `json:"report_title"`
	ReportPublishedAt Field  `json:"report_published_at"`
	ReportUpdatedAt   Field  `json:"report_updated_at"`
}

// Quote is a per-instrument pricing snapshot.
type Quote struct {
	InstrumentID                string `json:"instrument_id"`
	Symbol                      string `json:"symbol"`
	AskPrice                    Field  `json:"ask_price"`
	AskSize                     Field  `json:"ask_size"`
	BidPrice                    Field  `json:"bid_price"`
	BidSize                     Field  `json:"bid_size"`
	LastTradePrice              Field  `json:"last_trade_price"`
	LastExtendedHoursTradePrice Field  `json:"last_extended_hours_trade_price"`
	PreviousClose               Field  `json:"previous_close"`
	AdjustedPreviousClose       Field  `json:"adjusted_previous_close"`
	PreviousCloseDate           Field  `json:"previous_close_date"`
	TradingHalted               Field  `json:"trading_halted"`
	HasTraded                   Field  `json:"has_traded"`
	UpdatedAt                   Field  `json:"updated_at"`
	State                       Field  `json:"state"`
}

// InstrumentDetail is the subset of the instrument resource used for naming.
type InstrumentDetail struct {
	ID         string `json:"id"`
	Symbol     string `json:"symbol"`
	Name       string `json:"name"`
	SimpleName string `json:"simple_name"`
}

// DisplayName prefers the full name, then the simple name, then fallback.
func (d InstrumentDetail) DisplayName(fallback string) string {
	switch {
	case d.Name != "":
		return d.Name
	case d.SimpleName != "":
		return d.SimpleName
	default:
		return fallback
	}
}
