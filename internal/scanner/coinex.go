package scanner

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"fundingflow/internal/httpx"
	"fundingflow/internal/model"
	"fundingflow/logger"
)

const coinexBaseURL = "https://api.coinex.com/v2"

const coinexPeriodHours = 8

// Coinex scans USDT-margined futures on CoinEx v2.
type Coinex struct {
	baseURL string
	http    *httpx.Client
	log     *logger.Log
}

func NewCoinex(opts Options) Client {
	base := opts.BaseURL
	if base == "" {
		base = coinexBaseURL
	}
	return &Coinex{baseURL: base, http: opts.HTTP, log: logger.GetLogger()}
}

func (c *Coinex) Name() string { return "coinex" }

type coinexTicker struct {
	Market string `json:"market"`
	Last   string `json:"last"`
}

type coinexTickersResponse struct {
	Code int            `json:"code"`
	Data []coinexTicker `json:"data"`
}

func (c *Coinex) FetchTickers(ctx context.Context) ([]model.TickerRecord, error) {
	body, err := c.http.Get(ctx, c.baseURL+"/futures/ticker", nil)
	if err != nil {
		return nil, err
	}
	if httpx.LooksLikeHTML(body) {
		c.log.WithComponent("coinex_scanner").Warn("tickers returned HTML challenge page")
		return nil, nil
	}

	var resp coinexTickersResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Code != 0 || resp.Data == nil {
		return nil, nil
	}

	records := make([]model.TickerRecord, 0, len(resp.Data))
	for _, item := range resp.Data {
		price, err := decimal.NewFromString(item.Last)
		if err != nil {
			continue
		}
		records = append(records, model.TickerRecord{
			Symbol:         CanonicalSymbol(item.Market),
			OriginalSymbol: item.Market,
			Price:          price,
		})
	}
	return records, nil
}

type coinexFundingEvent struct {
	FundingTime       int64  `json:"funding_time"`
	ActualFundingRate string `json:"actual_funding_rate"`
}

// The v2 API has shipped both a bare list and a {"list": [...]} wrapper for
// this endpoint; accept either.
type coinexFundingData struct {
	List []coinexFundingEvent
}

func (d *coinexFundingData) UnmarshalJSON(raw []byte) error {
	var direct []coinexFundingEvent
	if err := json.Unmarshal(raw, &direct); err == nil {
		d.List = direct
		return nil
	}
	var wrapped struct {
		List []coinexFundingEvent `json:"list"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return err
	}
	d.List = wrapped.List
	return nil
}

type coinexFundingResponse struct {
	Code int               `json:"code"`
	Data coinexFundingData `json:"data"`
}

func (c *Coinex) FetchFundingHistory(ctx context.Context, originalSymbol string, lookbackDays int) ([]model.FundingRecord, error) {
	if err := sleepCtx(ctx, 100*time.Millisecond); err != nil {
		return nil, err
	}

	query := url.Values{
		"market": []string{originalSymbol},
		"limit":  []string{strconv.Itoa(100)},
	}
	body, err := c.http.Get(ctx, c.baseURL+"/futures/funding-rate-history", query)
	if err != nil {
		return nil, err
	}
	if httpx.LooksLikeHTML(body) {
		return nil, nil
	}

	var resp coinexFundingResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Code != 0 {
		return nil, nil
	}

	start := lookbackStart(lookbackDays)
	seen := make(map[int64]struct{})
	history := make([]model.FundingRecord, 0, len(resp.Data.List))
	for _, ev := range resp.Data.List {
		if ev.FundingTime == 0 || ev.ActualFundingRate == "" {
			continue
		}
		ts := time.UnixMilli(ev.FundingTime).UTC()
		if ts.Before(start) {
			continue
		}
		rate, err := decimal.NewFromString(ev.ActualFundingRate)
		if err != nil {
			continue
		}
		hour := floorHour(ts)
		if _, dup := seen[hour]; dup {
			continue
		}
		seen[hour] = struct{}{}
		history = append(history, model.FundingRecord{
			Timestamp:   ts,
			Rate:        rate,
			PeriodHours: coinexPeriodHours,
		})
	}
	return history, nil
}
