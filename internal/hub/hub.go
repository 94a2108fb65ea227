package hub

import (
	"context"
	"sync"

	"fundingflow/internal/model"
	"fundingflow/logger"
)

// Runner is the upstream work behind one stream, typically a websocket
// adapter loop. Run blocks until the context is cancelled or the connection
// dies; the hub owns restarts, the runner never restarts itself.
type Runner interface {
	Run(ctx context.Context, key model.StreamKey)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, key model.StreamKey)

func (f RunnerFunc) Run(ctx context.Context, key model.StreamKey) { f(ctx, key) }

type streamState struct {
	subscribers map[string]struct{}
	cancel      context.CancelFunc
	done        chan struct{}
}

// Hub reference-counts subscriber interest per stream and holds exactly one
// running task per active stream. The first subscriber starts the task, the
// last one stops it. A task that died on its own is detected through its
// done channel and restarted on the next subscribe.
type Hub struct {
	mu      sync.Mutex
	ctx     context.Context
	runner  Runner
	streams map[model.StreamKey]*streamState
	log     *logger.Log
}

// New builds a hub whose stream tasks live under ctx; cancelling it stops
// every running task.
func New(ctx context.Context, runner Runner) *Hub {
	return &Hub{
		ctx:     ctx,
		runner:  runner,
		streams: make(map[model.StreamKey]*streamState),
		log:     logger.GetLogger(),
	}
}

// Subscribe registers one subscriber's interest in a stream. Subscribing
// twice to the same stream is a no-op. Returns true when this call started
// (or restarted) the stream task.
func (h *Hub) Subscribe(subscriberID string, key model.StreamKey) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	state, ok := h.streams[key]
	if ok {
		dead := false
		select {
		case <-state.done:
			dead = true
		default:
		}
		if !dead {
			state.subscribers[subscriberID] = struct{}{}
			return false
		}
		// The task exited while subscribers remained; carry them over and
		// start a fresh one.
		h.log.WithComponent("stream_hub").WithFields(logger.Fields{
			"exchange": key.Exchange,
			"symbol":   key.Symbol,
		}).Warn("stream task died, restarting")
		state.cancel()
		subscribers := state.subscribers
		state = h.start(key)
		state.subscribers = subscribers
		state.subscribers[subscriberID] = struct{}{}
		h.streams[key] = state
		return true
	}

	state = h.start(key)
	state.subscribers[subscriberID] = struct{}{}
	h.streams[key] = state
	h.log.WithComponent("stream_hub").WithFields(logger.Fields{
		"exchange": key.Exchange,
		"symbol":   key.Symbol,
	}).Info("stream task started")
	return true
}

// start launches the runner for a key. Caller holds the lock.
func (h *Hub) start(key model.StreamKey) *streamState {
	taskCtx, cancel := context.WithCancel(h.ctx)
	state := &streamState{
		subscribers: make(map[string]struct{}),
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	go func() {
		defer close(state.done)
		h.runner.Run(taskCtx, key)
	}()
	return state
}

// Unsubscribe removes one subscriber's interest. The stream task is
// cancelled when the last subscriber leaves. Unknown subscribers and
// unknown streams are no-ops, so counts never go negative.
func (h *Hub) Unsubscribe(subscriberID string, key model.StreamKey) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drop(subscriberID, key)
}

// DropSubscriber removes a subscriber from every stream it joined,
// stopping any streams left without subscribers. Called when a client
// disconnects.
func (h *Hub) DropSubscriber(subscriberID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for key, state := range h.streams {
		if _, ok := state.subscribers[subscriberID]; ok {
			h.drop(subscriberID, key)
		}
	}
}

// drop removes one (subscriber, stream) edge. Caller holds the lock.
func (h *Hub) drop(subscriberID string, key model.StreamKey) {
	state, ok := h.streams[key]
	if !ok {
		return
	}
	if _, ok := state.subscribers[subscriberID]; !ok {
		return
	}
	delete(state.subscribers, subscriberID)
	if len(state.subscribers) > 0 {
		return
	}
	state.cancel()
	delete(h.streams, key)
	h.log.WithComponent("stream_hub").WithFields(logger.Fields{
		"exchange": key.Exchange,
		"symbol":   key.Symbol,
	}).Info("stream task stopped, no subscribers left")
}

// Subscribers reports the current subscriber count for a stream.
func (h *Hub) Subscribers(key model.StreamKey) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	state, ok := h.streams[key]
	if !ok {
		return 0
	}
	return len(state.subscribers)
}

// ActiveStreams reports how many stream tasks are currently held open.
func (h *Hub) ActiveStreams() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.streams)
}
