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

const edgexBaseURL = "https://pro.edgex.exchange"

const edgexDefaultPeriodHours = 8

const edgexPageSize = 100

// EdgeX scans EdgeX perpetual contracts. Contracts are addressed by numeric
// contractId rather than by symbol, so the contractId becomes the
// original_symbol for follow-up calls. EdgeX sits behind Cloudflare and is
// the main reason scanners treat HTML payloads as "no data".
type EdgeX struct {
	baseURL  string
	http     *httpx.Client
	maxPages int
	log      *logger.Log
}

func NewEdgeX(opts Options) Client {
	base := opts.BaseURL
	if base == "" {
		base = edgexBaseURL
	}
	return &EdgeX{baseURL: base, http: opts.HTTP, maxPages: opts.maxPages(), log: logger.GetLogger()}
}

func (e *EdgeX) Name() string { return "edgex" }

type edgexContract struct {
	ContractID   json.Number `json:"contractId"`
	ContractName string      `json:"contractName"`
}

type edgexMetaResponse struct {
	Data struct {
		ContractList []edgexContract `json:"contractList"`
	} `json:"data"`
}

type edgexLatestFunding struct {
	ContractID  json.Number `json:"contractId"`
	IndexPrice  string      `json:"indexPrice"`
	OraclePrice string      `json:"oraclePrice"`
}

type edgexLatestFundingResponse struct {
	Data []edgexLatestFunding `json:"data"`
}

// FetchTickers joins the contract list with the bulk latest-funding
// response for prices. Contracts missing from the bulk response are
// skipped; fetching them one by one trips the rate limit.
func (e *EdgeX) FetchTickers(ctx context.Context) ([]model.TickerRecord, error) {
	metaBody, err := e.http.Get(ctx, e.baseURL+"/api/v1/public/meta/getMetaData", nil)
	if err != nil {
		return nil, err
	}
	if httpx.LooksLikeHTML(metaBody) {
		e.log.WithComponent("edgex_scanner").Warn("metadata returned HTML challenge page")
		return nil, nil
	}

	var meta edgexMetaResponse
	if err := json.Unmarshal(metaBody, &meta); err != nil || len(meta.Data.ContractList) == 0 {
		return nil, nil
	}

	prices := make(map[string]decimal.Decimal)
	if err := sleepCtx(ctx, 80*time.Millisecond); err != nil {
		return nil, err
	}
	if latestBody, err := e.http.Get(ctx, e.baseURL+"/api/v1/public/funding/getLatestFundingRate", nil); err == nil && !httpx.LooksLikeHTML(latestBody) {
		var latest edgexLatestFundingResponse
		if err := json.Unmarshal(latestBody, &latest); err == nil {
			for _, item := range latest.Data {
				raw := item.IndexPrice
				if raw == "" {
					raw = item.OraclePrice
				}
				if price, err := decimal.NewFromString(raw); err == nil {
					prices[item.ContractID.String()] = price
				}
			}
		}
	}

	records := make([]model.TickerRecord, 0, len(meta.Data.ContractList))
	for _, c := range meta.Data.ContractList {
		id := c.ContractID.String()
		if id == "" || c.ContractName == "" {
			continue
		}
		price, ok := prices[id]
		if !ok {
			continue
		}
		records = append(records, model.TickerRecord{
			Symbol:         CanonicalSymbol(c.ContractName),
			OriginalSymbol: id,
			Price:          price,
		})
	}
	return records, nil
}

type edgexFundingEvent struct {
	FundingTimestamp       json.Number `json:"fundingTimestamp"`
	FundingRate            string      `json:"fundingRate"`
	FundingRateIntervalMin json.Number `json:"fundingRateIntervalMin"`
}

type edgexFundingPageResponse struct {
	Data struct {
		DataList           []edgexFundingEvent `json:"dataList"`
		NextPageOffsetData string              `json:"nextPageOffsetData"`
	} `json:"data"`
}

// FetchFundingHistory pages through the funding endpoint with the opaque
// offsetData cursor. The time filter is only accepted on the first page;
// termination relies on the cursor running out, repeating, or the page
// bound.
func (e *EdgeX) FetchFundingHistory(ctx context.Context, originalSymbol string, lookbackDays int) ([]model.FundingRecord, error) {
	nowMs := time.Now().UTC().UnixMilli()
	startMs := lookbackStart(lookbackDays).UnixMilli()

	var history []model.FundingRecord
	seen := make(map[int64]struct{})
	offset := ""

	for page := 0; page < e.maxPages; page++ {
		if err := sleepCtx(ctx, 180*time.Millisecond); err != nil {
			return history, err
		}

		query := url.Values{
			"contractId": []string{originalSymbol},
			"size":       []string{strconv.Itoa(edgexPageSize)},
		}
		if offset != "" {
			query.Set("offsetData", offset)
		} else {
			query.Set("filterBeginTimeInclusive", strconv.FormatInt(startMs, 10))
			query.Set("filterEndTimeExclusive", strconv.FormatInt(nowMs, 10))
		}

		body, err := e.http.Get(ctx, e.baseURL+"/api/v1/public/funding/getFundingRatePage", query)
		if err != nil {
			return history, err
		}
		if httpx.LooksLikeHTML(body) {
			e.log.WithComponent("edgex_scanner").WithFields(logger.Fields{
				"contract_id": originalSymbol,
			}).Warn("funding page returned HTML challenge page, aborting history fetch")
			break
		}

		var resp edgexFundingPageResponse
		if err := json.Unmarshal(body, &resp); err != nil || len(resp.Data.DataList) == 0 {
			break
		}

		for _, ev := range resp.Data.DataList {
			ms, err := ev.FundingTimestamp.Int64()
			if err != nil {
				continue
			}
			ts := time.UnixMilli(ms).UTC()
			rate, err := decimal.NewFromString(ev.FundingRate)
			if err != nil {
				continue
			}
			periodHours := edgexDefaultPeriodHours
			if mins, err := ev.FundingRateIntervalMin.Int64(); err == nil && mins > 0 {
				periodHours = int(mins / 60)
				if periodHours == 0 {
					periodHours = 1
				}
			}
			hour := floorHour(ts)
			if _, dup := seen[hour]; dup {
				continue
			}
			seen[hour] = struct{}{}
			history = append(history, model.FundingRecord{
				Timestamp:   ts,
				Rate:        rate,
				PeriodHours: periodHours,
			})
		}

		next := resp.Data.NextPageOffsetData
		if next == "" || next == offset {
			break
		}
		offset = next
	}

	if len(history) == 0 {
		return history, nil
	}
	// Oldest first; page order is newest first.
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}
	return history, nil
}
