package scanner

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"fundingflow/internal/httpx"
	"fundingflow/internal/model"
	"fundingflow/logger"
)

const hyperliquidBaseURL = "https://api.hyperliquid.xyz/info"

// Hyperliquid settles funding hourly.
const hyperliquidPeriodHours = 1

// Hyperliquid scans the Hyperliquid info endpoint. All queries are POSTs
// against a single URL; the payload type selects the dataset.
type Hyperliquid struct {
	baseURL string
	http    *httpx.Client
	log     *logger.Log
}

func NewHyperliquid(opts Options) Client {
	base := opts.BaseURL
	if base == "" {
		base = hyperliquidBaseURL
	}
	return &Hyperliquid{baseURL: base, http: opts.HTTP, log: logger.GetLogger()}
}

func (h *Hyperliquid) Name() string { return "hyperliquid" }

type hyperliquidMeta struct {
	Universe []struct {
		Name string `json:"name"`
	} `json:"universe"`
}

// FetchTickers joins the asset universe with the current mid prices.
func (h *Hyperliquid) FetchTickers(ctx context.Context) ([]model.TickerRecord, error) {
	if err := sleepCtx(ctx, 200*time.Millisecond); err != nil {
		return nil, err
	}
	metaBody, err := h.http.PostJSON(ctx, h.baseURL, map[string]string{"type": "meta"})
	if err != nil {
		return nil, err
	}
	var meta hyperliquidMeta
	if err := json.Unmarshal(metaBody, &meta); err != nil || len(meta.Universe) == 0 {
		return nil, nil
	}

	if err := sleepCtx(ctx, 200*time.Millisecond); err != nil {
		return nil, err
	}
	midsBody, err := h.http.PostJSON(ctx, h.baseURL, map[string]string{"type": "allMids"})
	if err != nil {
		return nil, err
	}
	var mids map[string]string
	if err := json.Unmarshal(midsBody, &mids); err != nil || len(mids) == 0 {
		return nil, nil
	}

	records := make([]model.TickerRecord, 0, len(meta.Universe))
	for _, asset := range meta.Universe {
		mid, ok := mids[asset.Name]
		if !ok {
			continue
		}
		price, err := decimal.NewFromString(mid)
		if err != nil {
			continue
		}
		// Hyperliquid names assets by base symbol already.
		records = append(records, model.TickerRecord{
			Symbol:         CanonicalSymbol(asset.Name),
			OriginalSymbol: asset.Name,
			Price:          price,
		})
	}
	return records, nil
}

type hyperliquidFundingEvent struct {
	Time        int64  `json:"time"`
	FundingRate string `json:"fundingRate"`
}

// FetchFundingHistory requests the whole window in one call; the API caps
// the response internally, which is acceptable for the incremental window.
func (h *Hyperliquid) FetchFundingHistory(ctx context.Context, originalSymbol string, lookbackDays int) ([]model.FundingRecord, error) {
	if err := sleepCtx(ctx, 200*time.Millisecond); err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"type":      "fundingHistory",
		"coin":      originalSymbol,
		"startTime": lookbackStart(lookbackDays).UnixMilli(),
		"endTime":   time.Now().UTC().UnixMilli(),
	}
	body, err := h.http.PostJSON(ctx, h.baseURL, payload)
	if err != nil {
		return nil, err
	}
	if httpx.LooksLikeHTML(body) {
		return nil, nil
	}

	var events []hyperliquidFundingEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, nil
	}

	seen := make(map[int64]struct{})
	history := make([]model.FundingRecord, 0, len(events))
	for _, ev := range events {
		ts := time.UnixMilli(ev.Time).UTC()
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
			PeriodHours: hyperliquidPeriodHours,
		})
	}
	return history, nil
}
