package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"fundingflow/config"
	"fundingflow/internal/hub"
	"fundingflow/internal/model"
	"fundingflow/logger"
)

// command is one client request on the gateway socket.
type command struct {
	Action   string `json:"action"`
	Exchange string `json:"exchange"`
	Symbol   string `json:"symbol"`
}

// outbound wraps every message the gateway writes to a client.
type outbound struct {
	Type     string       `json:"type"`
	Exchange string       `json:"exchange,omitempty"`
	Symbol   string       `json:"symbol,omitempty"`
	Bids     []model.PriceLevel `json:"bids,omitempty"`
	Asks     []model.PriceLevel `json:"asks,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// Server exposes the order-book streams over a websocket endpoint. Each
// connection gets one broadcaster subscriber; subscribe commands wire the
// connection into the hub, and a disconnect drops every stream it held.
type Server struct {
	hub         *hub.Hub
	broadcaster *hub.Broadcaster
	addr        string
	upgrader    websocket.Upgrader
	httpServer  *http.Server
	log         *logger.Log
}

func New(h *hub.Hub, b *hub.Broadcaster, cfg config.GatewayConfig) *Server {
	return &Server{
		hub:         h,
		broadcaster: b,
		addr:        cfg.Address,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: logger.GetLogger(),
	}
}

// Start serves until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/orderbook", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	s.httpServer = &http.Server{Addr: s.addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.ListenAndServe() }()

	s.log.WithComponent("gateway").WithFields(logger.Fields{"address": s.addr}).Info("gateway listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Handler exposes the websocket endpoint for tests.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleWS)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithComponent("gateway").WithError(err).Warn("websocket upgrade failed")
		return
	}

	sub := s.broadcaster.Register()
	log := s.log.WithComponent("gateway").WithFields(logger.Fields{"subscriber": sub.ID})
	log.Info("client connected")

	var writeMu sync.Mutex
	writeJSON := func(v interface{}) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case snap := <-sub.C:
				msg := outbound{
					Type:     "orderbook",
					Exchange: snap.Exchange,
					Symbol:   snap.Symbol,
					Bids:     snap.Bids,
					Asks:     snap.Asks,
				}
				if err := writeJSON(msg); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var cmd command
		if err := json.Unmarshal(raw, &cmd); err != nil {
			writeJSON(outbound{Type: "error", Error: "invalid command"})
			continue
		}
		s.handleCommand(sub, cmd, writeJSON, log)
	}

	close(done)
	conn.Close()
	s.hub.DropSubscriber(sub.ID)
	s.broadcaster.Unregister(sub.ID)
	log.Info("client disconnected")
}

func (s *Server) handleCommand(sub *hub.Subscriber, cmd command, writeJSON func(interface{}) error, log *logger.Entry) {
	if cmd.Exchange == "" || cmd.Symbol == "" {
		writeJSON(outbound{Type: "error", Error: "exchange and symbol are required"})
		return
	}
	key := model.NewStreamKey(cmd.Exchange, cmd.Symbol)

	switch cmd.Action {
	case "subscribe":
		s.hub.Subscribe(sub.ID, key)
		cached, ok := s.broadcaster.AddInterest(sub.ID, key)
		writeJSON(outbound{Type: "subscribed", Exchange: key.Exchange, Symbol: key.Symbol})
		if ok {
			// Replay the latest known book so the client does not wait for
			// the next upstream tick.
			writeJSON(outbound{
				Type:     "orderbook",
				Exchange: cached.Exchange,
				Symbol:   cached.Symbol,
				Bids:     cached.Bids,
				Asks:     cached.Asks,
			})
		}
		log.WithFields(logger.Fields{"stream": key.String()}).Info("subscribed")
	case "unsubscribe":
		s.hub.Unsubscribe(sub.ID, key)
		s.broadcaster.RemoveInterest(sub.ID, key)
		writeJSON(outbound{Type: "unsubscribed", Exchange: key.Exchange, Symbol: key.Symbol})
		log.WithFields(logger.Fields{"stream": key.String()}).Info("unsubscribed")
	default:
		writeJSON(outbound{Type: "error", Error: "unknown action"})
	}
}
