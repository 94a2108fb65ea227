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

const hyperliquidStreamURL = "wss://api.hyperliquid.xyz/ws"

// Hyperliquid streams the l2Book subscription. Coins are addressed by base
// asset, not by pair.
type Hyperliquid struct {
	url string
	pub Publisher
	cfg config.StreamConfig
	log *logger.Log
}

func NewHyperliquid(opts Options) Adapter {
	url := opts.URL
	if url == "" {
		url = hyperliquidStreamURL
	}
	return &Hyperliquid{url: url, pub: opts.Pub, cfg: opts.Cfg, log: logger.GetLogger()}
}

func (h *Hyperliquid) Exchange() string { return "hyperliquid" }

type hyperliquidLevel struct {
	Px string `json:"px"`
	Sz string `json:"sz"`
}

type hyperliquidBookMessage struct {
	Channel string `json:"channel"`
	Data    struct {
		Coin   string               `json:"coin"`
		Levels [][]hyperliquidLevel `json:"levels"`
	} `json:"data"`
}

func (h *Hyperliquid) Run(ctx context.Context, symbol string) error {
	conn, err := dial(ctx, h.url, h.cfg)
	if err != nil {
		return fmt.Errorf("dial hyperliquid stream: %w", err)
	}
	defer conn.Close()
	defer closeOnCancel(ctx, conn)()

	coin := baseAsset(symbol)
	sub := map[string]interface{}{
		"method": "subscribe",
		"subscription": map[string]string{
			"type": "l2Book",
			"coin": coin,
		},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe hyperliquid stream: %w", err)
	}
	h.log.WithComponent("hyperliquid_stream").WithFields(logger.Fields{"coin": coin}).Info("l2Book stream connected")

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read hyperliquid stream: %w", err)
		}

		var evt hyperliquidBookMessage
		if err := json.Unmarshal(msg, &evt); err != nil || evt.Channel != "l2Book" {
			continue
		}
		if len(evt.Data.Levels) < 2 {
			continue
		}
		h.pub.Publish(model.BookSnapshot{
			Exchange: "hyperliquid",
			Symbol:   strings.ToUpper(symbol),
			Bids:     hyperliquidLevels(evt.Data.Levels[0]),
			Asks:     hyperliquidLevels(evt.Data.Levels[1]),
		})
	}
}

func hyperliquidLevels(side []hyperliquidLevel) []model.PriceLevel {
	levels := make([]model.PriceLevel, 0, len(side))
	for _, l := range side {
		levels = append(levels, model.PriceLevel{Price: l.Px, Size: l.Sz})
	}
	return levels
}
