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

const binanceBaseURL = "https://fapi.binance.com"

// Binance settles USDT-margined perpetual funding every 8 hours.
const binancePeriodHours = 8

const binancePageLimit = 1000

// Binance scans USDT-margined perpetual futures on Binance.
type Binance struct {
	baseURL  string
	http     *httpx.Client
	maxPages int
	log      *logger.Log
}

func NewBinance(opts Options) Client {
	base := opts.BaseURL
	if base == "" {
		base = binanceBaseURL
	}
	return &Binance{baseURL: base, http: opts.HTTP, maxPages: opts.maxPages(), log: logger.GetLogger()}
}

func (b *Binance) Name() string { return "binance" }

type binancePremiumIndex struct {
	Symbol    string `json:"symbol"`
	MarkPrice string `json:"markPrice"`
}

func (b *Binance) FetchTickers(ctx context.Context) ([]model.TickerRecord, error) {
	body, err := b.http.Get(ctx, b.baseURL+"/fapi/v1/premiumIndex", nil)
	if err != nil {
		return nil, err
	}
	if httpx.LooksLikeHTML(body) {
		b.log.WithComponent("binance_scanner").Warn("premium index returned HTML challenge page")
		return nil, nil
	}

	var items []binancePremiumIndex
	if err := json.Unmarshal(body, &items); err != nil {
		b.log.WithComponent("binance_scanner").WithError(err).Debug("unexpected premium index payload")
		return nil, nil
	}

	records := make([]model.TickerRecord, 0, len(items))
	for _, item := range items {
		// Delivery contracts carry an expiry suffix ("BTCUSDT_251226");
		// only perpetuals are tracked.
		if containsUnderscore(item.Symbol) {
			continue
		}
		price, err := decimal.NewFromString(item.MarkPrice)
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

type binanceFundingEvent struct {
	FundingTime int64  `json:"fundingTime"`
	FundingRate string `json:"fundingRate"`
}

// FetchFundingHistory walks the funding endpoint forward from the window
// start, advancing startTime past the last seen event until a short page,
// the present, or the page bound.
func (b *Binance) FetchFundingHistory(ctx context.Context, originalSymbol string, lookbackDays int) ([]model.FundingRecord, error) {
	startMs := lookbackStart(lookbackDays).UnixMilli()

	var history []model.FundingRecord
	seen := make(map[int64]struct{})

	for page := 0; page < b.maxPages; page++ {
		if err := sleepCtx(ctx, 100*time.Millisecond); err != nil {
			return history, err
		}

		query := url.Values{
			"symbol":    []string{originalSymbol},
			"startTime": []string{strconv.FormatInt(startMs, 10)},
			"limit":     []string{strconv.Itoa(binancePageLimit)},
		}
		body, err := b.http.Get(ctx, b.baseURL+"/fapi/v1/fundingRate", query)
		if err != nil {
			return history, err
		}

		var events []binanceFundingEvent
		if err := json.Unmarshal(body, &events); err != nil || len(events) == 0 {
			break
		}

		lastTs := startMs
		for _, ev := range events {
			ts := time.UnixMilli(ev.FundingTime).UTC()
			lastTs = ev.FundingTime
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
				PeriodHours: binancePeriodHours,
			})
		}

		if len(events) < binancePageLimit {
			break
		}
		next := lastTs + 1
		if next <= startMs {
			// Cursor failed to advance; stop rather than loop.
			b.log.WithComponent("binance_scanner").WithFields(logger.Fields{
				"symbol": originalSymbol,
			}).Warn("funding pagination stalled")
			break
		}
		startMs = next
	}

	return history, nil
}

func containsUnderscore(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '_' {
			return true
		}
	}
	return false
}

// sleepCtx pauses between paginated requests while staying cancellable.
// These pauses throttle outbound request rate and are load-bearing against
// exchange rate limits.
func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
