package model

import (
	"fmt"
	"strings"
)

// StreamKey identifies one upstream order-book stream and one broadcast
// group. Lower-cased so that "Binance"/"binance" subscribers share a single
// upstream connection. In-memory only, never persisted.
type StreamKey struct {
	Exchange string
	Symbol   string
}

// NewStreamKey builds the canonical lower-case key.
func NewStreamKey(exchange, symbol string) StreamKey {
	return StreamKey{
		Exchange: strings.ToLower(strings.TrimSpace(exchange)),
		Symbol:   strings.ToLower(strings.TrimSpace(symbol)),
	}
}

func (k StreamKey) String() string {
	return fmt.Sprintf("%s:%s", k.Exchange, k.Symbol)
}

// PriceLevel is one side entry of an order book: price and size as the
// exchange reported them. Values stay as strings end to end; the stream
// core forwards quotes, it does not do arithmetic on them.
type PriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// BookSnapshot is the normalized order-book state fanned out to
// subscribers, truncated to the top levels of each side.
type BookSnapshot struct {
	Exchange string       `json:"exchange"`
	Symbol   string       `json:"symbol"`
	Bids     []PriceLevel `json:"bids"`
	Asks     []PriceLevel `json:"asks"`
}
