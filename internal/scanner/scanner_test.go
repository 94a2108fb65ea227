package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"fundingflow/config"
	"fundingflow/internal/httpx"
)

func testHTTP(t *testing.T) *httpx.Client {
	t.Helper()
	return httpx.New("test", config.HTTPConfig{
		Timeout:     5 * time.Second,
		MaxAttempts: 1,
		BackoffMin:  time.Millisecond,
		BackoffMax:  2 * time.Millisecond,
	})
}

func TestBitgetNullHistoryIsEmptyNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":"00000","msg":"success","data":null}`)
	}))
	defer srv.Close()

	c := NewBitget(Options{BaseURL: srv.URL, HTTP: testHTTP(t)})
	history, err := c.FetchFundingHistory(context.Background(), "BTCUSDT", 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %d records", len(history))
	}
}

func TestBitgetHTMLChallengeIsEmptyNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<!DOCTYPE html><html><head><title>Just a moment...</title></head></html>")
	}))
	defer srv.Close()

	c := NewBitget(Options{BaseURL: srv.URL, HTTP: testHTTP(t)})
	history, err := c.FetchFundingHistory(context.Background(), "BTCUSDT", 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %d records", len(history))
	}
}

func TestBitgetHistoryDedupsHourJitter(t *testing.T) {
	base := time.Now().UTC().Truncate(time.Hour).Add(-2 * time.Hour)
	events := []map[string]string{
		{"fundingTime": strconv.FormatInt(base.UnixMilli(), 10), "fundingRate": "0.0001"},
		// Same hour, 37s of jitter; must collapse into one record.
		{"fundingTime": strconv.FormatInt(base.Add(37*time.Second).UnixMilli(), 10), "fundingRate": "0.0001"},
		{"fundingTime": strconv.FormatInt(base.Add(time.Hour).UnixMilli(), 10), "fundingRate": "0.0002"},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"code": "00000", "data": events})
	}))
	defer srv.Close()

	c := NewBitget(Options{BaseURL: srv.URL, HTTP: testHTTP(t)})
	history, err := c.FetchFundingHistory(context.Background(), "BTCUSDT", 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 deduped records, got %d", len(history))
	}
}

func TestBinanceTransportErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewBinance(Options{BaseURL: srv.URL, HTTP: testHTTP(t), MaxPages: 2})
	if _, err := c.FetchFundingHistory(context.Background(), "BTCUSDT", 1); err == nil {
		t.Fatal("expected transport error to propagate")
	}
}

func TestBinancePaginationStopsAtPageBound(t *testing.T) {
	// Serve full pages forever; the page bound must terminate the walk.
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		startMs, _ := strconv.ParseInt(r.URL.Query().Get("startTime"), 10, 64)
		events := make([]map[string]interface{}, binancePageLimit)
		for i := range events {
			events[i] = map[string]interface{}{
				"fundingTime": startMs + int64(i)*time.Hour.Milliseconds(),
				"fundingRate": "0.0001",
			}
		}
		json.NewEncoder(w).Encode(events)
	}))
	defer srv.Close()

	c := NewBinance(Options{BaseURL: srv.URL, HTTP: testHTTP(t), MaxPages: 3})
	history, err := c.FetchFundingHistory(context.Background(), "BTCUSDT", 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if requests != 3 {
		t.Fatalf("expected exactly 3 requests, got %d", requests)
	}
	if len(history) == 0 {
		t.Fatal("expected records from the bounded walk")
	}
}

func TestKucoinBackwardWalkStopsAtWindowStart(t *testing.T) {
	// Every page is full, but its contents step back one hour per event;
	// the walk must stop once the cursor crosses the window start, not at
	// the page bound.
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		to, _ := strconv.ParseInt(r.URL.Query().Get("to"), 10, 64)
		events := make([]map[string]interface{}, kucoinPageLimit)
		for i := range events {
			events[i] = map[string]interface{}{
				"timepoint":   to - int64(i)*time.Hour.Milliseconds(),
				"fundingRate": 0.0001,
			}
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"data": events})
	}))
	defer srv.Close()

	c := NewKucoin(Options{BaseURL: srv.URL, HTTP: testHTTP(t), MaxPages: 50})
	history, err := c.FetchFundingHistory(context.Background(), "XBTUSDTM", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 1 day at 100 events/hour-stepped page: the first page already covers
	// the window, so the second request at most confirms the boundary.
	if requests > 2 {
		t.Fatalf("expected the walk to stop at the window start, got %d requests", requests)
	}
	if len(history) == 0 {
		t.Fatal("expected records inside the window")
	}
}

func TestParadexRateStoredAsHourlyEquivalent(t *testing.T) {
	now := time.Now().UTC().UnixMilli()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/funding/history" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, `{"results":[{"timestamp":%d,"funding_rate":"0.0008"}],"next":""}`, now)
	}))
	defer srv.Close()

	c := NewParadex(Options{BaseURL: srv.URL, HTTP: testHTTP(t)})
	history, err := c.FetchFundingHistory(context.Background(), "BTC-USD-PERP", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 record, got %d", len(history))
	}
	if got := history[0].Rate.String(); got != "0.0001" {
		t.Errorf("rate = %s, want 0.0001 (reported 8h value divided by 8)", got)
	}
	if history[0].PeriodHours != 1 {
		t.Errorf("period hours = %d, want 1", history[0].PeriodHours)
	}
}

func TestEdgeXCursorRepeatTerminates(t *testing.T) {
	// A server that keeps handing back the same cursor must not loop.
	now := time.Now().UTC().UnixMilli()
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		fmt.Fprintf(w, `{"data":{"dataList":[{"fundingTimestamp":%d,"fundingRate":"0.0001","fundingRateIntervalMin":240}],"nextPageOffsetData":"same-cursor"}}`, now)
	}))
	defer srv.Close()

	c := NewEdgeX(Options{BaseURL: srv.URL, HTTP: testHTTP(t), MaxPages: 50})
	history, err := c.FetchFundingHistory(context.Background(), "10000001", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if requests != 2 {
		t.Fatalf("expected 2 requests (cursor repeat on the second), got %d", requests)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 record, got %d", len(history))
	}
	if history[0].PeriodHours != 4 {
		t.Errorf("period hours = %d, want 4 from a 240 minute interval", history[0].PeriodHours)
	}
}

func TestCoinexHistoryAcceptsBothPayloadShapes(t *testing.T) {
	now := time.Now().UTC().UnixMilli()
	shapes := map[string]string{
		"bare_list": fmt.Sprintf(`{"code":0,"data":[{"funding_time":%d,"actual_funding_rate":"0.0001"}]}`, now),
		"wrapped":   fmt.Sprintf(`{"code":0,"data":{"list":[{"funding_time":%d,"actual_funding_rate":"0.0001"}]}}`, now),
	}
	for name, payload := range shapes {
		payload := payload
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, payload)
			}))
			defer srv.Close()

			c := NewCoinex(Options{BaseURL: srv.URL, HTTP: testHTTP(t)})
			history, err := c.FetchFundingHistory(context.Background(), "BTCUSDT", 1)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(history) != 1 {
				t.Fatalf("expected 1 record, got %d", len(history))
			}
		})
	}
}

func TestBinanceTickersSkipDeliveryContracts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"symbol":"BTCUSDT","markPrice":"65000.1"},
			{"symbol":"BTCUSDT_251226","markPrice":"66000.0"},
			{"symbol":"ETHUSDT","markPrice":"3200.5"}
		]`)
	}))
	defer srv.Close()

	c := NewBinance(Options{BaseURL: srv.URL, HTTP: testHTTP(t)})
	records, err := c.FetchTickers(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 perpetuals, got %d", len(records))
	}
	for _, rec := range records {
		if rec.Symbol != "BTC" && rec.Symbol != "ETH" {
			t.Errorf("unexpected canonical symbol %q", rec.Symbol)
		}
	}
}
