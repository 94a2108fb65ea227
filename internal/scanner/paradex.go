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

const paradexBaseURL = "https://api.prod.paradex.trade/v1"

// Paradex settles hourly but reports funding_rate as an 8h-equivalent
// value; the stored per-period rate is the reported rate divided by 8.
const paradexPeriodHours = 1

var paradexRateDivisor = decimal.NewFromInt(8)

const paradexPageSize = 100

// Paradex scans perpetual markets on Paradex.
type Paradex struct {
	baseURL  string
	http     *httpx.Client
	maxPages int
	log      *logger.Log
}

func NewParadex(opts Options) Client {
	base := opts.BaseURL
	if base == "" {
		base = paradexBaseURL
	}
	return &Paradex{baseURL: base, http: opts.HTTP, maxPages: opts.maxPages(), log: logger.GetLogger()}
}

func (p *Paradex) Name() string { return "paradex" }

type paradexMarket struct {
	Symbol    string `json:"symbol"`
	AssetKind string `json:"asset_kind"`
}

type paradexMarketsResponse struct {
	Results []paradexMarket `json:"results"`
}

type paradexSummary struct {
	Symbol    string `json:"symbol"`
	MarkPrice string `json:"mark_price"`
}

type paradexSummaryResponse struct {
	Results []paradexSummary `json:"results"`
}

func (p *Paradex) FetchTickers(ctx context.Context) ([]model.TickerRecord, error) {
	body, err := p.http.Get(ctx, p.baseURL+"/markets", nil)
	if err != nil {
		return nil, err
	}
	if httpx.LooksLikeHTML(body) {
		p.log.WithComponent("paradex_scanner").Warn("markets returned HTML challenge page")
		return nil, nil
	}

	var markets paradexMarketsResponse
	if err := json.Unmarshal(body, &markets); err != nil || len(markets.Results) == 0 {
		return nil, nil
	}

	prices := make(map[string]decimal.Decimal)
	if summaryBody, err := p.http.Get(ctx, p.baseURL+"/markets/summary", url.Values{"market": []string{"ALL"}}); err == nil {
		var summary paradexSummaryResponse
		if err := json.Unmarshal(summaryBody, &summary); err == nil {
			for _, s := range summary.Results {
				if price, err := decimal.NewFromString(s.MarkPrice); err == nil {
					prices[s.Symbol] = price
				}
			}
		}
	}

	records := make([]model.TickerRecord, 0, len(markets.Results))
	for _, m := range markets.Results {
		if m.AssetKind != "PERP" {
			continue
		}
		records = append(records, model.TickerRecord{
			Symbol:         CanonicalSymbol(m.Symbol),
			OriginalSymbol: m.Symbol,
			Price:          prices[m.Symbol],
		})
	}
	return records, nil
}

type paradexFundingEvent struct {
	Timestamp   int64  `json:"timestamp"`
	FundingRate string `json:"funding_rate"`
}

type paradexFundingResponse struct {
	Results []paradexFundingEvent `json:"results"`
	Next    string                `json:"next"`
}

// FetchFundingHistory walks the cursor returned in each response until the
// cursor runs out, repeats, or the page bound is hit.
func (p *Paradex) FetchFundingHistory(ctx context.Context, originalSymbol string, lookbackDays int) ([]model.FundingRecord, error) {
	endAt := time.Now().UTC().UnixMilli()
	startAt := lookbackStart(lookbackDays).UnixMilli()

	var history []model.FundingRecord
	seen := make(map[int64]struct{})
	cursor := ""

	for page := 0; page < p.maxPages; page++ {
		if err := sleepCtx(ctx, 120*time.Millisecond); err != nil {
			return history, err
		}

		query := url.Values{
			"market":    []string{originalSymbol},
			"start_at":  []string{strconv.FormatInt(startAt, 10)},
			"end_at":    []string{strconv.FormatInt(endAt, 10)},
			"page_size": []string{strconv.Itoa(paradexPageSize)},
		}
		if cursor != "" {
			query.Set("cursor", cursor)
		}
		body, err := p.http.Get(ctx, p.baseURL+"/funding/history", query)
		if err != nil {
			return history, err
		}
		if httpx.LooksLikeHTML(body) {
			break
		}

		var resp paradexFundingResponse
		if err := json.Unmarshal(body, &resp); err != nil || len(resp.Results) == 0 {
			break
		}

		for _, ev := range resp.Results {
			ts := time.UnixMilli(ev.Timestamp).UTC()
			reported, err := decimal.NewFromString(ev.FundingRate)
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
				Rate:        reported.Div(paradexRateDivisor),
				PeriodHours: paradexPeriodHours,
			})
		}

		if resp.Next == "" || resp.Next == cursor {
			break
		}
		cursor = resp.Next
	}

	return history, nil
}
