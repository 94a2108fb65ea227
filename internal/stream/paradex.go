package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"fundingflow/config"
	"fundingflow/internal/model"
	"fundingflow/logger"
)

const paradexStreamURL = "wss://ws.api.prod.paradex.trade/v1"

// Paradex streams the jsonrpc order_book channel. Subscribers use pair
// spellings like "btcusdt"; Paradex markets are "BTC-USD-PERP", so the
// adapter rewrites the symbol before subscribing.
type Paradex struct {
	url string
	pub Publisher
	cfg config.StreamConfig
	log *logger.Log
}

func NewParadex(opts Options) Adapter {
	url := opts.URL
	if url == "" {
		url = paradexStreamURL
	}
	return &Paradex{url: url, pub: opts.Pub, cfg: opts.Cfg, log: logger.GetLogger()}
}

func (p *Paradex) Exchange() string { return "paradex" }

// paradexMarket rewrites a pair spelling into Paradex's market name.
// Symbols already in dashed form pass through unchanged.
func paradexMarket(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if strings.Contains(s, "-") {
		return s
	}
	return baseAsset(s) + "-USD-PERP"
}

type paradexBookMessage struct {
	Params struct {
		Channel string `json:"channel"`
		Data    struct {
			Market  string     `json:"market"`
			Inserts []struct { // snapshot rows
				Side  string `json:"side"`
				Price string `json:"price"`
				Size  string `json:"size"`
			} `json:"inserts"`
		} `json:"data"`
	} `json:"params"`
}

func (p *Paradex) Run(ctx context.Context, symbol string) error {
	conn, err := dial(ctx, p.url, p.cfg)
	if err != nil {
		return fmt.Errorf("dial paradex stream: %w", err)
	}
	defer conn.Close()
	defer closeOnCancel(ctx, conn)()

	market := paradexMarket(symbol)
	channel := fmt.Sprintf("order_book.%s.snapshot@15@100ms", market)
	sub := map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "subscribe",
		"params":  map[string]string{"channel": channel},
		"id":      1,
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe paradex stream: %w", err)
	}
	p.log.WithComponent("paradex_stream").WithFields(logger.Fields{"channel": channel}).Info("order book stream connected")

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read paradex stream: %w", err)
		}

		var evt paradexBookMessage
		if err := json.Unmarshal(msg, &evt); err != nil || evt.Params.Channel != channel {
			continue
		}
		if len(evt.Params.Data.Inserts) == 0 {
			continue
		}

		var bids, asks []model.PriceLevel
		for _, row := range evt.Params.Data.Inserts {
			level := model.PriceLevel{Price: row.Price, Size: row.Size}
			switch strings.ToUpper(row.Side) {
			case "BUY":
				bids = append(bids, level)
			case "SELL":
				asks = append(asks, level)
			}
		}
		p.pub.Publish(model.BookSnapshot{
			Exchange: "paradex",
			Symbol:   strings.ToUpper(symbol),
			Bids:     bids,
			Asks:     asks,
		})
	}
}
