package scanner

import (
	"context"
	"time"

	"fundingflow/config"
	"fundingflow/internal/httpx"
	"fundingflow/internal/model"
)

// Client is one exchange's REST scanner. Implementations own the exchange's
// symbol spelling, pagination scheme and funding-period conventions, and
// emit normalized records only.
//
// Error policy: malformed or empty responses (missing data keys, null
// payloads, HTML challenge pages) yield an empty slice and a nil error.
// Transport errors that survive the retry budget propagate so the caller can
// skip the ticker and move on.
type Client interface {
	Name() string
	FetchTickers(ctx context.Context) ([]model.TickerRecord, error)
	FetchFundingHistory(ctx context.Context, originalSymbol string, lookbackDays int) ([]model.FundingRecord, error)
}

// Options carries the dependencies every scanner receives at construction.
// BaseURL overrides the exchange default so tests can point a scanner at a
// local server.
type Options struct {
	BaseURL  string
	HTTP     *httpx.Client
	MaxPages int
}

func (o Options) maxPages() int {
	if o.MaxPages <= 0 {
		return 50
	}
	return o.MaxPages
}

// Constructor builds one scanner from its options.
type Constructor func(Options) Client

// Constructors maps exchange names to scanner constructors. The map itself
// is data; callers build concrete registries via NewRegistry so no scanner
// state lives at package level.
func Constructors() map[string]Constructor {
	return map[string]Constructor{
		"binance":     NewBinance,
		"bitget":      NewBitget,
		"kucoin":      NewKucoin,
		"hyperliquid": NewHyperliquid,
		"apex":        NewApex,
		"paradex":     NewParadex,
		"edgex":       NewEdgeX,
		"coinex":      NewCoinex,
	}
}

// NewRegistry constructs one scanner per enabled exchange, each with its own
// HTTP client (and therefore its own connection pool).
func NewRegistry(cfg *config.Config) map[string]Client {
	clients := make(map[string]Client)
	for name, ctor := range Constructors() {
		exCfg, ok := cfg.Exchanges[name]
		if !ok || !exCfg.Enabled {
			continue
		}
		clients[name] = ctor(Options{
			BaseURL:  exCfg.BaseURL,
			HTTP:     httpx.New(name, cfg.HTTP),
			MaxPages: cfg.Ingestion.MaxPages,
		})
	}
	return clients
}

// lookbackStart returns the UTC start boundary for a lookback window.
func lookbackStart(lookbackDays int) time.Time {
	return time.Now().UTC().AddDate(0, 0, -lookbackDays)
}

// floorHour floors a UTC instant to the hour, as epoch seconds. Some
// exchanges emit sub-minute jitter in an otherwise hourly series; scanners
// dedup page contents on this key.
func floorHour(t time.Time) int64 {
	return t.UTC().Truncate(time.Hour).Unix()
}
