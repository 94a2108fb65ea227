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

const coinexStreamURL = "wss://socket.coinex.com/v2/futures"

// Coinex streams full depth snapshots over the v2 futures socket.
type Coinex struct {
	url string
	pub Publisher
	cfg config.StreamConfig
	log *logger.Log
}

func NewCoinex(opts Options) Adapter {
	url := opts.URL
	if url == "" {
		url = coinexStreamURL
	}
	return &Coinex{url: url, pub: opts.Pub, cfg: opts.Cfg, log: logger.GetLogger()}
}

func (c *Coinex) Exchange() string { return "coinex" }

type coinexDepthMessage struct {
	Method string `json:"method"`
	Data   struct {
		Market string `json:"market"`
		Depth  struct {
			Bids [][]string `json:"bids"`
			Asks [][]string `json:"asks"`
		} `json:"depth"`
	} `json:"data"`
}

func (c *Coinex) Run(ctx context.Context, symbol string) error {
	conn, err := dial(ctx, c.url, c.cfg)
	if err != nil {
		return fmt.Errorf("dial coinex stream: %w", err)
	}
	defer conn.Close()
	defer closeOnCancel(ctx, conn)()

	market := strings.ToUpper(symbol)
	sub := map[string]interface{}{
		"method": "depth.subscribe",
		"params": map[string]interface{}{
			// market, depth limit, merge interval, full snapshots
			"market_list": [][]interface{}{{market, 20, "0", true}},
		},
		"id": 1,
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe coinex stream: %w", err)
	}
	c.log.WithComponent("coinex_stream").WithFields(logger.Fields{"market": market}).Info("depth stream connected")

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read coinex stream: %w", err)
		}

		var evt coinexDepthMessage
		if err := json.Unmarshal(msg, &evt); err != nil || evt.Method != "depth.update" {
			continue
		}
		c.pub.Publish(model.BookSnapshot{
			Exchange: "coinex",
			Symbol:   market,
			Bids:     toLevels(evt.Data.Depth.Bids),
			Asks:     toLevels(evt.Data.Depth.Asks),
		})
	}
}
