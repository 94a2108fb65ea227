package hub

import (
	"sync"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"fundingflow/config"
	"fundingflow/internal/model"
	"fundingflow/logger"
)

// Subscriber is one downstream consumer of broadcast snapshots. C is
// buffered; a consumer that stops draining loses snapshots rather than
// stalling the broadcast path.
type Subscriber struct {
	ID string
	C  chan model.BookSnapshot
}

type subscriberState struct {
	sub      *Subscriber
	interest map[model.StreamKey]struct{}
}

// Broadcaster fans normalized book snapshots out to subscribers. The most
// recent snapshot per stream is kept in a short-TTL cache so a fresh
// subscriber gets immediate state instead of waiting for the next upstream
// tick.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[string]*subscriberState
	cache  *gocache.Cache
	depth  int
	buffer int
	log    *logger.Log
}

func NewBroadcaster(cfg config.StreamConfig) *Broadcaster {
	return &Broadcaster{
		subs:   make(map[string]*subscriberState),
		cache:  gocache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
		depth:  cfg.DepthLevels,
		buffer: cfg.SubscriberBuffer,
		log:    logger.GetLogger(),
	}
}

// Register creates a subscriber with a fresh ID and its own delivery
// channel.
func (b *Broadcaster) Register() *Subscriber {
	sub := &Subscriber{
		ID: uuid.NewString(),
		C:  make(chan model.BookSnapshot, b.buffer),
	}
	b.mu.Lock()
	b.subs[sub.ID] = &subscriberState{
		sub:      sub,
		interest: make(map[model.StreamKey]struct{}),
	}
	b.mu.Unlock()
	return sub
}

// Unregister removes a subscriber entirely.
func (b *Broadcaster) Unregister(subscriberID string) {
	b.mu.Lock()
	delete(b.subs, subscriberID)
	b.mu.Unlock()
}

// AddInterest subscribes one consumer to one stream and returns the cached
// snapshot, if a fresh one exists, for immediate replay.
func (b *Broadcaster) AddInterest(subscriberID string, key model.StreamKey) (model.BookSnapshot, bool) {
	b.mu.Lock()
	if state, ok := b.subs[subscriberID]; ok {
		state.interest[key] = struct{}{}
	}
	b.mu.Unlock()

	if cached, ok := b.cache.Get(key.String()); ok {
		return cached.(model.BookSnapshot), true
	}
	return model.BookSnapshot{}, false
}

// RemoveInterest unsubscribes one consumer from one stream.
func (b *Broadcaster) RemoveInterest(subscriberID string, key model.StreamKey) {
	b.mu.Lock()
	if state, ok := b.subs[subscriberID]; ok {
		delete(state.interest, key)
	}
	b.mu.Unlock()
}

// Publish truncates a snapshot to the configured depth, caches it, and
// delivers it to every interested subscriber. Delivery is non-blocking; a
// full subscriber buffer drops the snapshot for that subscriber only.
func (b *Broadcaster) Publish(snapshot model.BookSnapshot) {
	if len(snapshot.Bids) > b.depth {
		snapshot.Bids = snapshot.Bids[:b.depth]
	}
	if len(snapshot.Asks) > b.depth {
		snapshot.Asks = snapshot.Asks[:b.depth]
	}

	key := model.NewStreamKey(snapshot.Exchange, snapshot.Symbol)
	b.cache.SetDefault(key.String(), snapshot)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, state := range b.subs {
		if _, ok := state.interest[key]; !ok {
			continue
		}
		select {
		case state.sub.C <- snapshot:
		default:
			b.log.WithComponent("broadcaster").WithFields(logger.Fields{
				"subscriber": state.sub.ID,
				"stream":     key.String(),
			}).Debug("subscriber buffer full, dropping snapshot")
		}
	}
}

// Cached returns the latest fresh snapshot for a stream.
func (b *Broadcaster) Cached(key model.StreamKey) (model.BookSnapshot, bool) {
	if cached, ok := b.cache.Get(key.String()); ok {
		return cached.(model.BookSnapshot), true
	}
	return model.BookSnapshot{}, false
}
