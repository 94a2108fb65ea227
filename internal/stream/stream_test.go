package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"fundingflow/config"
	"fundingflow/internal/model"
)

type capturePub struct {
	snapshots chan model.BookSnapshot
}

func newCapturePub() *capturePub {
	return &capturePub{snapshots: make(chan model.BookSnapshot, 16)}
}

func (p *capturePub) Publish(s model.BookSnapshot) {
	select {
	case p.snapshots <- s:
	default:
	}
}

func streamTestConfig() config.StreamConfig {
	return config.StreamConfig{
		DepthLevels:      15,
		CacheTTL:         5 * time.Second,
		SubscriberBuffer: 16,
		DialTimeout:      5 * time.Second,
		PingInterval:     15 * time.Second,
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

var testUpgrader = websocket.Upgrader{}

func TestBinanceAdapterPublishesSnapshots(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(
			`{"b":[["65000.1","2.5"],["65000.0","1.0"]],"a":[["65000.2","0.7"]]}`))
		// Hold the connection open until the client hangs up.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	pub := newCapturePub()
	adapter := NewBinance(Options{URL: wsURL(srv), Pub: pub, Cfg: streamTestConfig()})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- adapter.Run(ctx, "btcusdt") }()

	select {
	case snap := <-pub.snapshots:
		if snap.Exchange != "binance" || snap.Symbol != "BTCUSDT" {
			t.Errorf("unexpected identity: %s %s", snap.Exchange, snap.Symbol)
		}
		if len(snap.Bids) != 2 || snap.Bids[0].Price != "65000.1" {
			t.Errorf("unexpected bids: %+v", snap.Bids)
		}
		if len(snap.Asks) != 1 || snap.Asks[0].Size != "0.7" {
			t.Errorf("unexpected asks: %+v", snap.Asks)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot published")
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run returned %v after cancellation, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestBybitAdapterMergesDeltas(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Consume the subscribe request first.
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(
			`{"topic":"orderbook.50.BTCUSDT","type":"snapshot","data":{"b":[["65000","1"],["64999","2"]],"a":[["65001","1"]]}}`))
		// Delta: remove 64999, update 65000, add a new ask.
		conn.WriteMessage(websocket.TextMessage, []byte(
			`{"topic":"orderbook.50.BTCUSDT","type":"delta","data":{"b":[["64999","0"],["65000","3"]],"a":[["65002","5"]]}}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	pub := newCapturePub()
	adapter := NewBybit(Options{URL: wsURL(srv), Pub: pub, Cfg: streamTestConfig()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go adapter.Run(ctx, "btcusdt")

	var last model.BookSnapshot
	for i := 0; i < 2; i++ {
		select {
		case last = <-pub.snapshots:
		case <-time.After(2 * time.Second):
			t.Fatalf("expected 2 snapshots, got %d", i)
		}
	}

	if len(last.Bids) != 1 {
		t.Fatalf("bids after delta = %+v, want the zero-size level removed", last.Bids)
	}
	if last.Bids[0].Price != "65000" || last.Bids[0].Size != "3" {
		t.Errorf("bid after delta = %+v, want 65000/3", last.Bids[0])
	}
	if len(last.Asks) != 2 || last.Asks[0].Price != "65001" {
		t.Errorf("asks after delta = %+v, want ascending from 65001", last.Asks)
	}
}

func TestParadexMarketRewriting(t *testing.T) {
	cases := map[string]string{
		"btcusdt":      "BTC-USD-PERP",
		"ETHUSDT":      "ETH-USD-PERP",
		"BTC-USD-PERP": "BTC-USD-PERP",
	}
	for in, want := range cases {
		if got := paradexMarket(in); got != want {
			t.Errorf("paradexMarket(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestKucoinContractSymbolRewriting(t *testing.T) {
	cases := map[string]string{
		"btcusdt": "XBTUSDTM",
		"ethusdt": "ETHUSDTM",
		"solusdc": "SOLUSDTM",
	}
	for in, want := range cases {
		if got := kucoinContractSymbol(in); got != want {
			t.Errorf("kucoinContractSymbol(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRunnerRoutesByExchange(t *testing.T) {
	ran := make(chan string, 1)
	adapters := map[string]Adapter{
		"binance": adapterFunc{name: "binance", run: func(ctx context.Context, symbol string) error {
			ran <- symbol
			<-ctx.Done()
			return nil
		}},
	}

	run := Runner(adapters)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go run(ctx, model.NewStreamKey("binance", "btcusdt"))

	select {
	case symbol := <-ran:
		if symbol != "btcusdt" {
			t.Errorf("adapter got symbol %q, want btcusdt", symbol)
		}
	case <-time.After(time.Second):
		t.Fatal("runner never invoked the adapter")
	}

	// Unknown exchanges must return instead of panicking.
	run(context.Background(), model.NewStreamKey("nosuch", "btcusdt"))
}

type adapterFunc struct {
	name string
	run  func(ctx context.Context, symbol string) error
}

func (a adapterFunc) Exchange() string { return a.name }

func (a adapterFunc) Run(ctx context.Context, symbol string) error { return a.run(ctx, symbol) }
