package store

import (
	"context"
	"time"

	"fundingflow/internal/model"
)

// Store is the persistence collaborator of the ingestion pipeline. The
// relational engine behind it is external to this service; the pipeline only
// relies on the semantics below:
//
//   - UpsertTicker: insert-or-update keyed by (exchange, symbol)
//   - InsertFundingRates: insert-or-ignore on the (ticker, timestamp) key,
//     first writer wins
//   - FundingTimesBetween: bulk existence check within a window, not one
//     query per record
type Store interface {
	// UpsertTicker creates the ticker or refreshes last price and original
	// symbol, and returns the stored row including its ID.
	UpsertTicker(ctx context.Context, t model.Ticker) (model.Ticker, error)

	// Tickers lists all tickers of one exchange.
	Tickers(ctx context.Context, exchange string) ([]model.Ticker, error)

	// LatestFundingTime returns the newest funding timestamp recorded for
	// the ticker, and whether any record exists at all.
	LatestFundingTime(ctx context.Context, tickerID int64) (time.Time, bool, error)

	// FundingTimesBetween returns the set of funding timestamps (epoch
	// seconds) already stored for the ticker within [from, to].
	FundingTimesBetween(ctx context.Context, tickerID int64, from, to time.Time) (map[int64]struct{}, error)

	// InsertFundingRates bulk-inserts rows, silently skipping rows whose
	// (ticker, timestamp) already exists, and returns the number actually
	// inserted.
	InsertFundingRates(ctx context.Context, rows []model.FundingRate) (int, error)

	// FundingRates returns all stored rows for a ticker, newest first.
	FundingRates(ctx context.Context, tickerID int64) ([]model.FundingRate, error)

	// PruneFundingBefore deletes rows older than the cutoff and returns the
	// number removed.
	PruneFundingBefore(ctx context.Context, cutoff time.Time) (int, error)
}
