package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"fundingflow/config"
	"fundingflow/internal/model"
	"fundingflow/internal/scanner"
	"fundingflow/internal/store"
)

// fakeClient records the lookback it was asked for and serves canned data.
type fakeClient struct {
	name          string
	tickers       []model.TickerRecord
	history       []model.FundingRecord
	historyErr    error
	lookbacksSeen []int
}

func (f *fakeClient) Name() string { return f.name }

func (f *fakeClient) FetchTickers(context.Context) ([]model.TickerRecord, error) {
	return f.tickers, nil
}

func (f *fakeClient) FetchFundingHistory(_ context.Context, _ string, lookbackDays int) ([]model.FundingRecord, error) {
	f.lookbacksSeen = append(f.lookbacksSeen, lookbackDays)
	return f.history, f.historyErr
}

func testIngestionConfig() config.IngestionConfig {
	return config.IngestionConfig{
		ScanInterval:      time.Hour,
		BackfillDays:      30,
		IncrementalDays:   1,
		MaxPages:          50,
		RequestsPerSecond: 1000,
		MaxAbsAPR:         "2000",
		RetentionDays:     90,
		PruneInterval:     24 * time.Hour,
	}
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestIngestor(client scanner.Client) (*Ingestor, *store.MemoryStore) {
	st := store.NewMemory()
	clients := map[string]scanner.Client{client.Name(): client}
	return NewIngestor(st, clients, testIngestionConfig()), st
}

func TestScanExchangeInsertsNormalizedRates(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Hour)
	client := &fakeClient{
		name:    "binance",
		tickers: []model.TickerRecord{{Symbol: "BTC", OriginalSymbol: "BTCUSDT", Price: dec("65000")}},
		history: []model.FundingRecord{
			{Timestamp: now.Add(-8 * time.Hour), Rate: dec("0.0001"), PeriodHours: 8},
			{Timestamp: now, Rate: dec("0.0002"), PeriodHours: 8},
		},
	}
	in, st := newTestIngestor(client)

	res := in.ScanExchange(context.Background(), "binance")
	if res.Tickers != 1 || res.RatesInserted != 2 || res.TickerErrors != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}

	tickers, _ := st.Tickers(context.Background(), "binance")
	if len(tickers) != 1 {
		t.Fatalf("expected 1 ticker, got %d", len(tickers))
	}
	rows, _ := st.FundingRates(context.Background(), tickers[0].ID)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	// 0.0002 at 8h: 0.0002 * 3 * 365 * 100 = 21.9
	if got := rows[0].APR.String(); got != "21.9" {
		t.Errorf("APR = %s, want 21.9", got)
	}
}

func TestScanExchangeIsIdempotent(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Hour)
	client := &fakeClient{
		name:    "binance",
		tickers: []model.TickerRecord{{Symbol: "BTC", OriginalSymbol: "BTCUSDT", Price: dec("65000")}},
		history: []model.FundingRecord{
			{Timestamp: now, Rate: dec("0.0001"), PeriodHours: 8},
		},
	}
	in, _ := newTestIngestor(client)

	first := in.ScanExchange(context.Background(), "binance")
	second := in.ScanExchange(context.Background(), "binance")
	if first.RatesInserted != 1 {
		t.Fatalf("first scan inserted %d, want 1", first.RatesInserted)
	}
	if second.RatesInserted != 0 {
		t.Fatalf("second scan inserted %d, want 0", second.RatesInserted)
	}
}

func TestLookbackShrinksOnceHistoryExists(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Hour)
	client := &fakeClient{
		name:    "binance",
		tickers: []model.TickerRecord{{Symbol: "BTC", OriginalSymbol: "BTCUSDT", Price: dec("65000")}},
		history: []model.FundingRecord{
			{Timestamp: now, Rate: dec("0.0001"), PeriodHours: 8},
		},
	}
	in, _ := newTestIngestor(client)

	in.ScanExchange(context.Background(), "binance")
	in.ScanExchange(context.Background(), "binance")

	if len(client.lookbacksSeen) != 2 {
		t.Fatalf("expected 2 history fetches, got %d", len(client.lookbacksSeen))
	}
	if client.lookbacksSeen[0] != 30 {
		t.Errorf("first lookback = %d days, want 30 (backfill)", client.lookbacksSeen[0])
	}
	if client.lookbacksSeen[1] != 1 {
		t.Errorf("second lookback = %d days, want 1 (incremental)", client.lookbacksSeen[1])
	}
}

func TestImplausibleRatesAreDiscarded(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Hour)
	client := &fakeClient{
		name:    "binance",
		tickers: []model.TickerRecord{{Symbol: "BTC", OriginalSymbol: "BTCUSDT", Price: dec("65000")}},
		history: []model.FundingRecord{
			// 0.05 at 8h annualizes to 5475 percent; over the bound.
			{Timestamp: now.Add(-time.Hour), Rate: dec("0.05"), PeriodHours: 8},
			// 0.0001 hourly annualizes to 87.6 percent; kept.
			{Timestamp: now, Rate: dec("0.0001"), PeriodHours: 1},
		},
	}
	in, st := newTestIngestor(client)

	res := in.ScanExchange(context.Background(), "binance")
	if res.RatesInserted != 1 {
		t.Fatalf("inserted %d, want 1", res.RatesInserted)
	}
	if res.RatesDiscarded != 1 {
		t.Fatalf("discarded %d, want 1", res.RatesDiscarded)
	}

	tickers, _ := st.Tickers(context.Background(), "binance")
	rows, _ := st.FundingRates(context.Background(), tickers[0].ID)
	if len(rows) != 1 {
		t.Fatalf("expected 1 stored row, got %d", len(rows))
	}
	if got := rows[0].APR.String(); got != "87.6" {
		t.Errorf("APR = %s, want 87.6", got)
	}
}

func TestHistoryErrorCountsButDoesNotAbortScan(t *testing.T) {
	client := &fakeClient{
		name: "binance",
		tickers: []model.TickerRecord{
			{Symbol: "BTC", OriginalSymbol: "BTCUSDT", Price: dec("65000")},
			{Symbol: "ETH", OriginalSymbol: "ETHUSDT", Price: dec("3200")},
		},
		historyErr: errors.New("boom"),
	}
	in, _ := newTestIngestor(client)

	res := in.ScanExchange(context.Background(), "binance")
	if res.Tickers != 2 {
		t.Fatalf("tickers = %d, want 2 (scan must continue past failures)", res.Tickers)
	}
	if res.TickerErrors != 2 {
		t.Fatalf("ticker errors = %d, want 2", res.TickerErrors)
	}
}

func TestPrunerRemovesExpiredRows(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	ticker, _ := st.UpsertTicker(ctx, model.Ticker{Exchange: "binance", Symbol: "BTC", OriginalSymbol: "BTCUSDT"})

	old := time.Now().UTC().AddDate(0, 0, -120)
	fresh := time.Now().UTC().Truncate(time.Hour)
	st.InsertFundingRates(ctx, []model.FundingRate{
		{TickerID: ticker.ID, Timestamp: old, Rate: dec("0.0001"), PeriodHours: 8, APR: dec("10.95")},
		{TickerID: ticker.ID, Timestamp: fresh, Rate: dec("0.0001"), PeriodHours: 8, APR: dec("10.95")},
	})

	p := NewPruner(st, testIngestionConfig())
	if removed := p.PruneOnce(ctx); removed != 1 {
		t.Fatalf("removed %d, want 1", removed)
	}
	rows, _ := st.FundingRates(ctx, ticker.ID)
	if len(rows) != 1 || !rows[0].Timestamp.Equal(fresh) {
		t.Fatalf("expected only the fresh row to survive, got %d rows", len(rows))
	}
}

func TestGapFillerBackfillsStaleTickers(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Hour)
	client := &fakeClient{
		name:    "binance",
		tickers: []model.TickerRecord{{Symbol: "BTC", OriginalSymbol: "BTCUSDT", Price: dec("65000")}},
		history: []model.FundingRecord{
			{Timestamp: now, Rate: dec("0.0001"), PeriodHours: 8},
		},
	}
	in, st := newTestIngestor(client)

	ticker, _ := st.UpsertTicker(ctx, model.Ticker{Exchange: "binance", Symbol: "BTC", OriginalSymbol: "BTCUSDT"})
	// Newest stored record is five days old; well past the staleness bound.
	st.InsertFundingRates(ctx, []model.FundingRate{
		{TickerID: ticker.ID, Timestamp: now.AddDate(0, 0, -5), Rate: dec("0.0001"), PeriodHours: 8, APR: dec("10.95")},
	})

	g := NewGapFiller(in)
	if recovered := g.Fill(ctx); recovered != 1 {
		t.Fatalf("recovered %d, want 1", recovered)
	}
	if len(client.lookbacksSeen) != 1 || client.lookbacksSeen[0] != 30 {
		t.Fatalf("expected one backfill fetch of 30 days, got %v", client.lookbacksSeen)
	}
}
