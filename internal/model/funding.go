package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Exchange is a reference entity for one tracked venue. Created once,
// rarely mutated.
type Exchange struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
	APIURL   string `json:"api_url,omitempty"`
}

// Ticker is one symbol as listed on one exchange. Symbol is the canonical
// cross-exchange spelling ("BTC"); OriginalSymbol keeps the exchange-native
// spelling ("BTC-USD-PERP") required by further API calls.
// (Exchange, Symbol) is unique.
type Ticker struct {
	ID             int64           `json:"id"`
	Exchange       string          `json:"exchange"`
	Symbol         string          `json:"symbol"`
	OriginalSymbol string          `json:"original_symbol"`
	LastPrice      decimal.Decimal `json:"last_price"`
}

// FundingRate is one observed funding event for one ticker.
// (TickerID, Timestamp) is unique and acts as the dedup key across
// re-ingestion. APR is derived at write time, never supplied independently.
type FundingRate struct {
	TickerID    int64           `json:"ticker_id"`
	Timestamp   time.Time       `json:"timestamp"`
	Rate        decimal.Decimal `json:"rate"`
	PeriodHours int             `json:"period_hours"`
	APR         decimal.Decimal `json:"apr"`
}

// TickerRecord is the scanner output for one listed market before
// persistence.
type TickerRecord struct {
	Symbol         string
	OriginalSymbol string
	Price          decimal.Decimal
}

// FundingRecord is the scanner output for one funding event before APR
// derivation.
type FundingRecord struct {
	Timestamp   time.Time
	Rate        decimal.Decimal
	PeriodHours int
}

var (
	hoursPerDay = decimal.NewFromInt(24)
	daysPerYear = decimal.NewFromInt(365)
	hundred     = decimal.NewFromInt(100)
)

// AnnualizedRate computes apr = rate * (24 / period_hours) * 365 * 100 in
// exact decimal arithmetic. A non-positive period is treated as hourly to
// avoid division by zero.
func AnnualizedRate(rate decimal.Decimal, periodHours int) decimal.Decimal {
	if periodHours <= 0 {
		periodHours = 1
	}
	perDay := hoursPerDay.Div(decimal.NewFromInt(int64(periodHours)))
	return rate.Mul(perDay).Mul(daysPerYear).Mul(hundred)
}
