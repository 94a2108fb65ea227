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

const binanceStreamURL = "wss://fstream.binance.com/ws"

// Binance streams the partial depth channel. The stream name encodes the
// subscription, so no subscribe message is needed after the dial.
type Binance struct {
	url string
	pub Publisher
	cfg config.StreamConfig
	log *logger.Log
}

func NewBinance(opts Options) Adapter {
	url := opts.URL
	if url == "" {
		url = binanceStreamURL
	}
	return &Binance{url: url, pub: opts.Pub, cfg: opts.Cfg, log: logger.GetLogger()}
}

func (b *Binance) Exchange() string { return "binance" }

type binanceDepthEvent struct {
	Bids [][]string `json:"b"`
	Asks [][]string `json:"a"`
}

func (b *Binance) Run(ctx context.Context, symbol string) error {
	endpoint := fmt.Sprintf("%s/%s@depth20@100ms", b.url, strings.ToLower(symbol))
	conn, err := dial(ctx, endpoint, b.cfg)
	if err != nil {
		return fmt.Errorf("dial binance stream: %w", err)
	}
	defer conn.Close()
	defer closeOnCancel(ctx, conn)()

	b.log.WithComponent("binance_stream").WithFields(logger.Fields{"symbol": symbol}).Info("depth stream connected")

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read binance stream: %w", err)
		}

		var evt binanceDepthEvent
		if err := json.Unmarshal(msg, &evt); err != nil {
			continue
		}
		if len(evt.Bids) == 0 && len(evt.Asks) == 0 {
			continue
		}
		b.pub.Publish(model.BookSnapshot{
			Exchange: "binance",
			Symbol:   strings.ToUpper(symbol),
			Bids:     toLevels(evt.Bids),
			Asks:     toLevels(evt.Asks),
		})
	}
}
