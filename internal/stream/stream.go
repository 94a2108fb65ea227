package stream

import (
	"context"
	"strings"

	"github.com/gorilla/websocket"

	"fundingflow/config"
	"fundingflow/internal/model"
	"fundingflow/logger"
)

// Publisher receives normalized book snapshots from adapters. The hub's
// broadcaster implements it.
type Publisher interface {
	Publish(model.BookSnapshot)
}

// Adapter streams one exchange's order-book data. Run owns a single
// connection lifecycle: it dials, subscribes, forwards snapshots until the
// context is cancelled or the connection dies, and then returns. Adapters
// never reconnect on their own; restart policy belongs to the caller.
type Adapter interface {
	Exchange() string
	Run(ctx context.Context, symbol string) error
}

// Options carries the shared adapter dependencies. URL overrides the
// exchange endpoint so tests can point an adapter at a local server.
type Options struct {
	URL string
	Pub Publisher
	Cfg config.StreamConfig
}

// Constructor builds one adapter from its options.
type Constructor func(Options) Adapter

func Constructors() map[string]Constructor {
	return map[string]Constructor{
		"binance":     NewBinance,
		"bybit":       NewBybit,
		"bitget":      NewBitget,
		"coinex":      NewCoinex,
		"hyperliquid": NewHyperliquid,
		"paradex":     NewParadex,
		"kucoin":      NewKucoin,
	}
}

// NewRegistry constructs every adapter, applying per-exchange URL overrides
// from the stream config.
func NewRegistry(cfg config.StreamConfig, pub Publisher) map[string]Adapter {
	adapters := make(map[string]Adapter)
	for name, ctor := range Constructors() {
		adapters[name] = ctor(Options{
			URL: cfg.URLs[name],
			Pub: pub,
			Cfg: cfg,
		})
	}
	return adapters
}

// Runner adapts the registry to the hub's task interface: one hub stream
// task runs one adapter until cancellation.
func Runner(adapters map[string]Adapter) func(ctx context.Context, key model.StreamKey) {
	log := logger.GetLogger().WithComponent("stream_runner")
	return func(ctx context.Context, key model.StreamKey) {
		adapter, ok := adapters[key.Exchange]
		if !ok {
			log.WithFields(logger.Fields{"exchange": key.Exchange}).Warn("no stream adapter for exchange")
			return
		}
		if err := adapter.Run(ctx, key.Symbol); err != nil && ctx.Err() == nil {
			log.WithError(err).WithFields(logger.Fields{
				"exchange": key.Exchange,
				"symbol":   key.Symbol,
			}).Warn("stream adapter exited")
		}
	}
}

// dial opens a websocket connection honoring the configured handshake
// timeout and the context.
func dial(ctx context.Context, url string, cfg config.StreamConfig) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: cfg.DialTimeout}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

// closeOnCancel force-closes the connection when the context is cancelled,
// unblocking any pending ReadMessage. The returned stop function releases
// the watcher once the read loop exits on its own.
func closeOnCancel(ctx context.Context, conn *websocket.Conn) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// toLevels converts [price, size] pairs to price levels, skipping malformed
// entries.
func toLevels(pairs [][]string) []model.PriceLevel {
	levels := make([]model.PriceLevel, 0, len(pairs))
	for _, p := range pairs {
		if len(p) < 2 {
			continue
		}
		levels = append(levels, model.PriceLevel{Price: p[0], Size: p[1]})
	}
	return levels
}

// baseAsset strips the common quote suffixes off a stream symbol
// ("btcusdt" -> "BTC").
func baseAsset(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	for _, quote := range []string{"USDTM", "USDT", "USDC", "USD"} {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return strings.TrimSuffix(s, quote)
		}
	}
	return s
}
