package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"fundingflow/config"
	"fundingflow/internal/model"
	"fundingflow/logger"
)

const bybitStreamURL = "wss://stream.bybit.com/v5/public/linear"

// Bybit streams the v5 orderbook channel. Bybit sends one full snapshot and
// then deltas, so the adapter maintains a local book and republishes the
// merged state on every update.
type Bybit struct {
	url string
	pub Publisher
	cfg config.StreamConfig
	log *logger.Log
}

func NewBybit(opts Options) Adapter {
	url := opts.URL
	if url == "" {
		url = bybitStreamURL
	}
	return &Bybit{url: url, pub: opts.Pub, cfg: opts.Cfg, log: logger.GetLogger()}
}

func (b *Bybit) Exchange() string { return "bybit" }

type bybitBookMessage struct {
	Topic string `json:"topic"`
	Type  string `json:"type"`
	Data  struct {
		Bids [][]string `json:"b"`
		Asks [][]string `json:"a"`
	} `json:"data"`
}

func (b *Bybit) Run(ctx context.Context, symbol string) error {
	conn, err := dial(ctx, b.url, b.cfg)
	if err != nil {
		return fmt.Errorf("dial bybit stream: %w", err)
	}
	defer conn.Close()
	defer closeOnCancel(ctx, conn)()

	topic := "orderbook.50." + strings.ToUpper(symbol)
	sub := map[string]interface{}{"op": "subscribe", "args": []string{topic}}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe bybit stream: %w", err)
	}
	b.log.WithComponent("bybit_stream").WithFields(logger.Fields{"topic": topic}).Info("orderbook stream connected")

	bids := make(map[string]string)
	asks := make(map[string]string)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read bybit stream: %w", err)
		}

		var evt bybitBookMessage
		if err := json.Unmarshal(msg, &evt); err != nil || evt.Topic != topic {
			continue
		}

		switch evt.Type {
		case "snapshot":
			bids = make(map[string]string)
			asks = make(map[string]string)
			applyBybitSide(bids, evt.Data.Bids)
			applyBybitSide(asks, evt.Data.Asks)
		case "delta":
			applyBybitSide(bids, evt.Data.Bids)
			applyBybitSide(asks, evt.Data.Asks)
		default:
			continue
		}

		b.pub.Publish(model.BookSnapshot{
			Exchange: "bybit",
			Symbol:   strings.ToUpper(symbol),
			Bids:     sortedLevels(bids, true),
			Asks:     sortedLevels(asks, false),
		})
	}
}

// applyBybitSide merges delta entries into a side; a zero size removes the
// level.
func applyBybitSide(side map[string]string, entries [][]string) {
	for _, e := range entries {
		if len(e) < 2 {
			continue
		}
		if size, err := strconv.ParseFloat(e[1], 64); err == nil && size == 0 {
			delete(side, e[0])
			continue
		}
		side[e[0]] = e[1]
	}
}

// sortedLevels orders a book side best-first: bids descending, asks
// ascending.
func sortedLevels(side map[string]string, descending bool) []model.PriceLevel {
	levels := make([]model.PriceLevel, 0, len(side))
	for price, size := range side {
		levels = append(levels, model.PriceLevel{Price: price, Size: size})
	}
	sort.Slice(levels, func(i, j int) bool {
		pi, _ := strconv.ParseFloat(levels[i].Price, 64)
		pj, _ := strconv.ParseFloat(levels[j].Price, 64)
		if descending {
			return pi > pj
		}
		return pi < pj
	})
	return levels
}
