package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fundingflow/config"
	"fundingflow/internal/model"
	"fundingflow/logger"
)

const kucoinRestURL = "https://api-futures.kucoin.com"

// Kucoin streams the level2 depth channel. KuCoin requires a REST
// bullet-public handshake first: the response carries the websocket
// endpoint, a connect token and the server's ping interval. For this
// adapter Options.URL overrides the REST base, not the websocket endpoint.
type Kucoin struct {
	restURL string
	pub     Publisher
	cfg     config.StreamConfig
	log     *logger.Log
}

func NewKucoin(opts Options) Adapter {
	restURL := opts.URL
	if restURL == "" {
		restURL = kucoinRestURL
	}
	return &Kucoin{restURL: restURL, pub: opts.Pub, cfg: opts.Cfg, log: logger.GetLogger()}
}

func (k *Kucoin) Exchange() string { return "kucoin" }

// kucoinContractSymbol rewrites a pair spelling into KuCoin's futures
// contract name ("btcusdt" -> "XBTUSDTM").
func kucoinContractSymbol(symbol string) string {
	base := baseAsset(symbol)
	if base == "BTC" {
		base = "XBT"
	}
	return base + "USDTM"
}

type kucoinBulletResponse struct {
	Data struct {
		Token           string `json:"token"`
		InstanceServers []struct {
			Endpoint     string `json:"endpoint"`
			PingInterval int64  `json:"pingInterval"` // milliseconds
		} `json:"instanceServers"`
	} `json:"data"`
}

func (k *Kucoin) bullet(ctx context.Context) (endpoint, token string, ping time.Duration, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.restURL+"/api/v1/bullet-public", bytes.NewReader(nil))
	if err != nil {
		return "", "", 0, err
	}
	hc := &http.Client{Timeout: k.cfg.DialTimeout}
	resp, err := hc.Do(req)
	if err != nil {
		return "", "", 0, fmt.Errorf("bullet-public request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", 0, err
	}

	var bullet kucoinBulletResponse
	if err := json.Unmarshal(body, &bullet); err != nil {
		return "", "", 0, fmt.Errorf("decode bullet-public response: %w", err)
	}
	if bullet.Data.Token == "" || len(bullet.Data.InstanceServers) == 0 {
		return "", "", 0, fmt.Errorf("bullet-public response missing token or servers")
	}

	srv := bullet.Data.InstanceServers[0]
	ping = time.Duration(srv.PingInterval) * time.Millisecond
	if ping <= 0 {
		ping = k.cfg.PingInterval
	}
	return srv.Endpoint, bullet.Data.Token, ping, nil
}

type kucoinBookMessage struct {
	Type string `json:"type"`
	Data struct {
		Bids [][]json.Number `json:"bids"`
		Asks [][]json.Number `json:"asks"`
	} `json:"data"`
}

func (k *Kucoin) Run(ctx context.Context, symbol string) error {
	endpoint, token, pingEvery, err := k.bullet(ctx)
	if err != nil {
		return err
	}

	conn, err := dial(ctx, endpoint+"?token="+token, k.cfg)
	if err != nil {
		return fmt.Errorf("dial kucoin stream: %w", err)
	}
	defer conn.Close()
	defer closeOnCancel(ctx, conn)()

	contract := kucoinContractSymbol(symbol)
	sub := map[string]interface{}{
		"id":       time.Now().UnixNano(),
		"type":     "subscribe",
		"topic":    "/contractMarket/level2Depth15:" + contract,
		"response": true,
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe kucoin stream: %w", err)
	}
	k.log.WithComponent("kucoin_stream").WithFields(logger.Fields{
		"contract":      contract,
		"ping_interval": pingEvery.String(),
	}).Info("level2 depth stream connected")

	// Ping cadence is measured from the previous ping, not from connect.
	lastPing := time.Now()
	pinger := time.NewTicker(time.Second)
	defer pinger.Stop()
	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		for {
			select {
			case <-pingDone:
				return
			case <-pinger.C:
				if time.Since(lastPing) < pingEvery {
					continue
				}
				lastPing = time.Now()
				ping := map[string]interface{}{"id": lastPing.UnixNano(), "type": "ping"}
				if err := conn.WriteJSON(ping); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read kucoin stream: %w", err)
		}

		var evt kucoinBookMessage
		if err := json.Unmarshal(msg, &evt); err != nil || evt.Type != "message" {
			continue
		}
		k.pub.Publish(model.BookSnapshot{
			Exchange: "kucoin",
			Symbol:   strings.ToUpper(symbol),
			Bids:     kucoinLevels(evt.Data.Bids),
			Asks:     kucoinLevels(evt.Data.Asks),
		})
	}
}

func kucoinLevels(side [][]json.Number) []model.PriceLevel {
	levels := make([]model.PriceLevel, 0, len(side))
	for _, pair := range side {
		if len(pair) < 2 {
			continue
		}
		levels = append(levels, model.PriceLevel{Price: pair[0].String(), Size: pair[1].String()})
	}
	return levels
}
