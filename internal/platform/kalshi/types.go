package kalshi

import "time"

// Market statuses reported by the trade API.
const (
	StatusActive    = "active"
	StatusClosed    = "closed"
	StatusSettled   = "settled"
	StatusFinalized = "finalized"
)

// Settlement results reported on a finalized market.
const (
	ResultYes  = "yes"
	ResultNo   = "no"
	ResultVoid = "void"
)

// Event is an exchange event, a container for one or more markets. Events
// holding a single market map onto one mirrorable question; multi-market
// events are series and are skipped when so configured.
type Event struct {
	EventTicker  string   `json:"event_ticker"`
	SeriesTicker string   `json:"series_ticker"`
	Title        string   `json:"title"`
	Markets      []Market `json:"markets"`
}

// Market is one tradable contract inside an event.
type Market struct {
	Ticker         string    `json:"ticker"`
	EventTicker    string    `json:"event_ticker"`
	Title          string    `json:"title"`
	Status         string    `json:"status"`
	Result         string    `json:"result"`
	OpenTime       time.Time `json:"open_time"`
	CloseTime      time.Time `json:"close_time"`
	ExpirationTime time.Time `json:"expiration_time"`
	YesBid         int64     `json:"yes_bid"`
	YesAsk         int64     `json:"yes_ask"`
	Liquidity      int64     `json:"liquidity"`
	Volume         int64     `json:"volume"`
	Volume24H      int64     `json:"volume_24h"`
	OpenInterest   int64     `json:"open_interest"`

	// Dollar-denominated counters, in cents. Absent on some endpoints.
	DollarVolume       int64  `json:"dollar_volume"`
	DollarRecentVolume int64  `json:"dollar_recent_volume"`
	DollarOpenInterest int64  `json:"dollar_open_interest"`
	RulesPrimary       string `json:"rules_primary"`
	RulesSecondary     string `json:"rules_secondary"`
}

// IsResolved reports whether the market has settled.
func (m Market) IsResolved() bool {
	return m.Status == StatusSettled || m.Status == StatusFinalized
}

// errorResponse is the trade API's error body shape.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
