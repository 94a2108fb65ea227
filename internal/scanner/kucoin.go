package scanner

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fundingflow/internal/httpx"
	"fundingflow/internal/model"
	"fundingflow/logger"
)

const kucoinBaseURL = "https://api-futures.kucoin.com"

const kucoinPeriodHours = 8

const kucoinPageLimit = 100

// Kucoin scans USDT-margined futures contracts on KuCoin.
type Kucoin struct {
	baseURL  string
	http     *httpx.Client
	maxPages int
	log      *logger.Log
}

func NewKucoin(opts Options) Client {
	base := opts.BaseURL
	if base == "" {
		base = kucoinBaseURL
	}
	return &Kucoin{baseURL: base, http: opts.HTTP, maxPages: opts.maxPages(), log: logger.GetLogger()}
}

func (k *Kucoin) Name() string { return "kucoin" }

type kucoinContract struct {
	Symbol       string      `json:"symbol"`
	BaseCurrency string      `json:"baseCurrency"`
	MarkPrice    json.Number `json:"markPrice"`
}

type kucoinContractsResponse struct {
	Data []kucoinContract `json:"data"`
}

func (k *Kucoin) FetchTickers(ctx context.Context) ([]model.TickerRecord, error) {
	body, err := k.http.Get(ctx, k.baseURL+"/api/v1/contracts/active", nil)
	if err != nil {
		return nil, err
	}
	if httpx.LooksLikeHTML(body) {
		k.log.WithComponent("kucoin_scanner").Warn("contracts returned HTML challenge page")
		return nil, nil
	}

	var resp kucoinContractsResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Data == nil {
		return nil, nil
	}

	records := make([]model.TickerRecord, 0, len(resp.Data))
	for _, item := range resp.Data {
		if !strings.HasSuffix(item.Symbol, "USDTM") {
			continue
		}
		price, err := decimal.NewFromString(item.MarkPrice.String())
		if err != nil {
			continue
		}
		// baseCurrency carries KuCoin's XBT alias for BTC.
		records = append(records, model.TickerRecord{
			Symbol:         CanonicalSymbol(item.BaseCurrency),
			OriginalSymbol: item.Symbol,
			Price:          price,
		})
	}
	return records, nil
}

type kucoinFundingEvent struct {
	Timepoint   int64       `json:"timepoint"`
	FundingRate json.Number `json:"fundingRate"`
}

type kucoinFundingResponse struct {
	Data []kucoinFundingEvent `json:"data"`
}

// FetchFundingHistory walks backward from now, moving the `to` cursor just
// below the oldest timestamp of each page until the window start, a short
// page, or the page bound.
func (k *Kucoin) FetchFundingHistory(ctx context.Context, originalSymbol string, lookbackDays int) ([]model.FundingRecord, error) {
	startMs := lookbackStart(lookbackDays).UnixMilli()
	currentTo := time.Now().UTC().UnixMilli()

	var history []model.FundingRecord
	seen := make(map[int64]struct{})

	for page := 0; page < k.maxPages; page++ {
		if err := sleepCtx(ctx, 150*time.Millisecond); err != nil {
			return history, err
		}

		query := url.Values{
			"symbol": []string{originalSymbol},
			"from":   []string{strconv.FormatInt(startMs, 10)},
			"to":     []string{strconv.FormatInt(currentTo, 10)},
			"limit":  []string{strconv.Itoa(kucoinPageLimit)},
		}
		body, err := k.http.Get(ctx, k.baseURL+"/api/v1/contract/funding-rates", query)
		if err != nil {
			return history, err
		}

		var resp kucoinFundingResponse
		if err := json.Unmarshal(body, &resp); err != nil || len(resp.Data) == 0 {
			break
		}

		minTs := currentTo
		for _, ev := range resp.Data {
			if ev.Timepoint < minTs {
				minTs = ev.Timepoint
			}
			ts := time.UnixMilli(ev.Timepoint).UTC()
			rate, err := decimal.NewFromString(ev.FundingRate.String())
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
				PeriodHours: kucoinPeriodHours,
			})
		}

		if len(resp.Data) < kucoinPageLimit {
			break
		}
		if minTs <= startMs {
			break
		}
		next := minTs - 1
		if next >= currentTo {
			k.log.WithComponent("kucoin_scanner").WithFields(logger.Fields{
				"symbol": originalSymbol,
			}).Warn("funding pagination stalled")
			break
		}
		currentTo = next
	}

	return history, nil
}
