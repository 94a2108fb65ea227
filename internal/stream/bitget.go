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

const bitgetStreamURL = "wss://ws.bitget.com/v2/ws/public"

// Bitget streams the books15 channel, which carries full 15-level snapshots
// on every tick.
type Bitget struct {
	url string
	pub Publisher
	cfg config.StreamConfig
	log *logger.Log
}

func NewBitget(opts Options) Adapter {
	url := opts.URL
	if url == "" {
		url = bitgetStreamURL
	}
	return &Bitget{url: url, pub: opts.Pub, cfg: opts.Cfg, log: logger.GetLogger()}
}

func (b *Bitget) Exchange() string { return "bitget" }

type bitgetBookMessage struct {
	Data []struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
	} `json:"data"`
}

func (b *Bitget) Run(ctx context.Context, symbol string) error {
	conn, err := dial(ctx, b.url, b.cfg)
	if err != nil {
		return fmt.Errorf("dial bitget stream: %w", err)
	}
	defer conn.Close()
	defer closeOnCancel(ctx, conn)()

	instID := strings.ToUpper(symbol)
	sub := map[string]interface{}{
		"op": "subscribe",
		"args": []map[string]string{{
			"instType": "USDT-FUTURES",
			"channel":  "books15",
			"instId":   instID,
		}},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe bitget stream: %w", err)
	}
	b.log.WithComponent("bitget_stream").WithFields(logger.Fields{"inst_id": instID}).Info("books15 stream connected")

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read bitget stream: %w", err)
		}
		if string(msg) == "pong" {
			continue
		}

		var evt bitgetBookMessage
		if err := json.Unmarshal(msg, &evt); err != nil || len(evt.Data) == 0 {
			continue
		}
		book := evt.Data[0]
		b.pub.Publish(model.BookSnapshot{
			Exchange: "bitget",
			Symbol:   instID,
			Bids:     toLevels(book.Bids),
			Asks:     toLevels(book.Asks),
		})
	}
}
