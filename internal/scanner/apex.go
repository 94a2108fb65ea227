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

const apexBaseURL = "https://pro.apex.exchange"

// ApeX settles funding hourly.
const apexPeriodHours = 1

const apexPageLimit = 200

// Apex scans ApeX Pro perpetuals.
type Apex struct {
	baseURL  string
	http     *httpx.Client
	maxPages int
	log      *logger.Log
}

func NewApex(opts Options) Client {
	base := opts.BaseURL
	if base == "" {
		base = apexBaseURL
	}
	return &Apex{baseURL: base, http: opts.HTTP, maxPages: opts.maxPages(), log: logger.GetLogger()}
}

func (a *Apex) Name() string { return "apex" }

type apexSymbol struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
}

type apexSymbolsResponse struct {
	Code string       `json:"code"`
	Data []apexSymbol `json:"data"`
}

func (a *Apex) FetchTickers(ctx context.Context) ([]model.TickerRecord, error) {
	body, err := a.http.Get(ctx, a.baseURL+"/api/v1/symbols", nil)
	if err != nil {
		return nil, err
	}
	if httpx.LooksLikeHTML(body) {
		a.log.WithComponent("apex_scanner").Warn("symbols returned HTML challenge page")
		return nil, nil
	}

	var resp apexSymbolsResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Code != "0" {
		return nil, nil
	}

	records := make([]model.TickerRecord, 0, len(resp.Data))
	for _, item := range resp.Data {
		price, err := decimal.NewFromString(item.LastPrice)
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

type apexFundingEvent struct {
	FundingTime json.Number `json:"fundingTime"`
	FundingRate string      `json:"fundingRate"`
}

type apexFundingResponse struct {
	Code string `json:"code"`
	Data struct {
		List []apexFundingEvent `json:"list"`
	} `json:"data"`
}

// FetchFundingHistory walks page numbers until the window start, a short
// page, or the page bound.
func (a *Apex) FetchFundingHistory(ctx context.Context, originalSymbol string, lookbackDays int) ([]model.FundingRecord, error) {
	start := lookbackStart(lookbackDays)

	var history []model.FundingRecord
	seen := make(map[int64]struct{})

	for page := 0; page < a.maxPages; page++ {
		if err := sleepCtx(ctx, 120*time.Millisecond); err != nil {
			return history, err
		}

		query := url.Values{
			"symbol": []string{originalSymbol},
			"limit":  []string{strconv.Itoa(apexPageLimit)},
			"page":   []string{strconv.Itoa(page)},
		}
		body, err := a.http.Get(ctx, a.baseURL+"/api/v1/funding-rate-history", query)
		if err != nil {
			return history, err
		}
		if httpx.LooksLikeHTML(body) {
			break
		}

		var resp apexFundingResponse
		if err := json.Unmarshal(body, &resp); err != nil || resp.Code != "0" || len(resp.Data.List) == 0 {
			break
		}

		reachedStart := false
		for _, ev := range resp.Data.List {
			ms, err := ev.FundingTime.Int64()
			if err != nil {
				continue
			}
			ts := time.UnixMilli(ms).UTC()
			if ts.Before(start) {
				reachedStart = true
				continue
			}
			rate, err := decimal.NewFromString(ev.FundingRate)
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
				PeriodHours: apexPeriodHours,
			})
		}

		if reachedStart || len(resp.Data.List) < apexPageLimit {
			break
		}
	}

	return history, nil
}
