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

const bitgetBaseURL = "https://api.bitget.com"

const bitgetPeriodHours = 8

// Bitget scans USDT-margined futures on Bitget v2.
type Bitget struct {
	baseURL string
	http    *httpx.Client
	log     *logger.Log
}

func NewBitget(opts Options) Client {
	base := opts.BaseURL
	if base == "" {
		base = bitgetBaseURL
	}
	return &Bitget{baseURL: base, http: opts.HTTP, log: logger.GetLogger()}
}

func (b *Bitget) Name() string { return "bitget" }

type bitgetTicker struct {
	Symbol string `json:"symbol"`
	LastPr string `json:"lastPr"`
}

type bitgetTickersResponse struct {
	Data []bitgetTicker `json:"data"`
}

func (b *Bitget) FetchTickers(ctx context.Context) ([]model.TickerRecord, error) {
	query := url.Values{"productType": []string{"USDT-FUTURES"}}
	body, err := b.http.Get(ctx, b.baseURL+"/api/v2/mix/market/tickers", query)
	if err != nil {
		return nil, err
	}
	if httpx.LooksLikeHTML(body) {
		b.log.WithComponent("bitget_scanner").Warn("tickers returned HTML challenge page")
		return nil, nil
	}

	var resp bitgetTickersResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Data == nil {
		return nil, nil
	}

	records := make([]model.TickerRecord, 0, len(resp.Data))
	for _, item := range resp.Data {
		price, err := decimal.NewFromString(item.LastPr)
		if err != nil {
			continue
		}
		records = append(records, model.TickerRecord{
			Symbol:         CanonicalSymbol(item.Symbol),
			OriginalSymbol: item.Symbol,
			Price:          price,
		})
	}
	return records, nil
}

type bitgetFundingEvent struct {
	FundingTime string `json:"fundingTime"`
	FundingRate string `json:"fundingRate"`
}

type bitgetFundingResponse struct {
	Data []bitgetFundingEvent `json:"data"`
}

// FetchFundingHistory reads the most recent page of the history endpoint.
// Bitget serves the newest records first; a null or missing data key means
// no data, not an error.
func (b *Bitget) FetchFundingHistory(ctx context.Context, originalSymbol string, lookbackDays int) ([]model.FundingRecord, error) {
	query := url.Values{
		"symbol": []string{originalSymbol},
		"limit":  []string{"100"},
	}
	body, err := b.http.Get(ctx, b.baseURL+"/api/v2/mix/market/history-fund-rate", query)
	if err != nil {
		return nil, err
	}
	if httpx.LooksLikeHTML(body) {
		return nil, nil
	}

	var resp bitgetFundingResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Data == nil {
		return nil, nil
	}

	start := lookbackStart(lookbackDays)
	seen := make(map[int64]struct{})
	history := make([]model.FundingRecord, 0, len(resp.Data))
	for _, item := range resp.Data {
		ms, err := strconv.ParseInt(item.FundingTime, 10, 64)
		if err != nil {
			continue
		}
		ts := time.UnixMilli(ms).UTC()
		if ts.Before(start) {
			continue
		}
		rate, err := decimal.NewFromString(item.FundingRate)
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
			PeriodHours: bitgetPeriodHours,
		})
	}
	return history, nil
}
