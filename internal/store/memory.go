package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"fundingflow/internal/model"
)

// MemoryStore is the in-process Store implementation. It backs tests and
// single-node deployments that do not need a relational engine.
type MemoryStore struct {
	mu       sync.RWMutex
	nextID   int64
	tickers  map[string]*model.Ticker         // (exchange|symbol) -> ticker
	byID     map[int64]*model.Ticker          // id -> ticker
	funding  map[int64]map[int64]model.FundingRate // ticker id -> unix sec -> row
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		nextID:  1,
		tickers: make(map[string]*model.Ticker),
		byID:    make(map[int64]*model.Ticker),
		funding: make(map[int64]map[int64]model.FundingRate),
	}
}

func tickerKey(exchange, symbol string) string {
	return strings.ToLower(exchange) + "|" + strings.ToUpper(symbol)
}

func (s *MemoryStore) UpsertTicker(_ context.Context, t model.Ticker) (model.Ticker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tickerKey(t.Exchange, t.Symbol)
	if existing, ok := s.tickers[key]; ok {
		existing.LastPrice = t.LastPrice
		if t.OriginalSymbol != "" {
			existing.OriginalSymbol = t.OriginalSymbol
		}
		return *existing, nil
	}

	t.ID = s.nextID
	s.nextID++
	stored := t
	s.tickers[key] = &stored
	s.byID[t.ID] = &stored
	return stored, nil
}

func (s *MemoryStore) Tickers(_ context.Context, exchange string) ([]model.Ticker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Ticker, 0)
	for _, t := range s.tickers {
		if strings.EqualFold(t.Exchange, exchange) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (s *MemoryStore) LatestFundingTime(_ context.Context, tickerID int64) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, ok := s.funding[tickerID]
	if !ok || len(rows) == 0 {
		return time.Time{}, false, nil
	}
	var latest int64
	for ts := range rows {
		if ts > latest {
			latest = ts
		}
	}
	return time.Unix(latest, 0).UTC(), true, nil
}

func (s *MemoryStore) FundingTimesBetween(_ context.Context, tickerID int64, from, to time.Time) (map[int64]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[int64]struct{})
	for ts := range s.funding[tickerID] {
		if ts >= from.Unix() && ts <= to.Unix() {
			out[ts] = struct{}{}
		}
	}
	return out, nil
}

func (s *MemoryStore) InsertFundingRates(_ context.Context, rows []model.FundingRate) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for _, row := range rows {
		byTime, ok := s.funding[row.TickerID]
		if !ok {
			byTime = make(map[int64]model.FundingRate)
			s.funding[row.TickerID] = byTime
		}
		ts := row.Timestamp.UTC().Unix()
		if _, exists := byTime[ts]; exists {
			continue
		}
		row.Timestamp = row.Timestamp.UTC()
		byTime[ts] = row
		inserted++
	}
	return inserted, nil
}

func (s *MemoryStore) FundingRates(_ context.Context, tickerID int64) ([]model.FundingRate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]model.FundingRate, 0, len(s.funding[tickerID]))
	for _, row := range s.funding[tickerID] {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Timestamp.After(rows[j].Timestamp) })
	return rows, nil
}

func (s *MemoryStore) PruneFundingBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	limit := cutoff.UTC().Unix()
	for _, byTime := range s.funding {
		for ts := range byTime {
			if ts < limit {
				delete(byTime, ts)
				removed++
			}
		}
	}
	return removed, nil
}
