package pipeline

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"fundingflow/config"
	"fundingflow/internal/model"
	"fundingflow/internal/scanner"
	"fundingflow/internal/store"
	"fundingflow/logger"
)

// Result summarizes one exchange scan. Ticker-level failures are counted,
// not propagated; a scan never aborts an exchange because one symbol
// misbehaved.
type Result struct {
	Exchange       string
	Tickers        int
	RatesInserted  int
	RatesDiscarded int
	TickerErrors   int
}

// Ingestor runs the funding-rate scan cycle: tickers first, then per-ticker
// history with a lookback window chosen from what is already stored. A
// shared rate limiter throttles the per-ticker history calls so a scan with
// hundreds of tickers stays inside exchange limits.
type Ingestor struct {
	store    store.Store
	clients  map[string]scanner.Client
	cfg      config.IngestionConfig
	limiter  *rate.Limiter
	maxAPR   decimal.Decimal
	interval time.Duration
	archive  func(context.Context, model.Ticker, []model.FundingRate)
	log      *logger.Log
}

func NewIngestor(st store.Store, clients map[string]scanner.Client, cfg config.IngestionConfig) *Ingestor {
	maxAPR, err := decimal.NewFromString(cfg.MaxAbsAPR)
	if err != nil || maxAPR.Sign() <= 0 {
		maxAPR = decimal.NewFromInt(2000)
	}
	return &Ingestor{
		store:    st,
		clients:  clients,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		maxAPR:   maxAPR,
		interval: cfg.ScanInterval,
		log:      logger.GetLogger(),
	}
}

// SetArchive installs an optional sink invoked with each freshly inserted
// batch, used for the S3 parquet archive.
func (in *Ingestor) SetArchive(fn func(context.Context, model.Ticker, []model.FundingRate)) {
	in.archive = fn
}

// Run scans every enabled exchange immediately and then on each tick until
// the context is cancelled.
func (in *Ingestor) Run(ctx context.Context) {
	in.ScanAll(ctx)

	ticker := time.NewTicker(in.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			in.ScanAll(ctx)
		}
	}
}

// ScanAll scans the enabled exchanges sequentially. Sequential is
// deliberate; the shared limiter already defines total outbound rate and
// parallel exchange scans would only interleave log output.
func (in *Ingestor) ScanAll(ctx context.Context) []Result {
	results := make([]Result, 0, len(in.clients))
	for name := range in.clients {
		if ctx.Err() != nil {
			break
		}
		res := in.ScanExchange(ctx, name)
		results = append(results, res)
	}
	return results
}

// ScanExchange runs one full scan of one exchange.
func (in *Ingestor) ScanExchange(ctx context.Context, exchange string) Result {
	res := Result{Exchange: exchange}
	log := in.log.WithComponent("ingestor").WithFields(logger.Fields{"exchange": exchange})

	client, ok := in.clients[exchange]
	if !ok {
		log.Warn("no scanner registered")
		return res
	}

	started := time.Now()
	records, err := client.FetchTickers(ctx)
	if err != nil {
		log.WithError(err).Error("ticker fetch failed, skipping scan")
		return res
	}
	if len(records) == 0 {
		log.Warn("exchange returned no tickers")
		return res
	}

	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}
		if rec.Symbol == "" || rec.OriginalSymbol == "" {
			continue
		}
		ticker, err := in.store.UpsertTicker(ctx, model.Ticker{
			Exchange:       exchange,
			Symbol:         rec.Symbol,
			OriginalSymbol: rec.OriginalSymbol,
			LastPrice:      rec.Price,
		})
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{"symbol": rec.Symbol}).Error("ticker upsert failed")
			res.TickerErrors++
			continue
		}
		res.Tickers++

		if err := in.limiter.Wait(ctx); err != nil {
			break
		}

		inserted, discarded, err := in.ingestTicker(ctx, client, ticker)
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{
				"symbol":          ticker.Symbol,
				"original_symbol": ticker.OriginalSymbol,
			}).Error("funding history ingest failed")
			res.TickerErrors++
			continue
		}
		res.RatesInserted += inserted
		res.RatesDiscarded += discarded
	}

	log.WithFields(logger.Fields{
		"tickers":   res.Tickers,
		"inserted":  res.RatesInserted,
		"discarded": res.RatesDiscarded,
		"errors":    res.TickerErrors,
		"duration":  time.Since(started).String(),
	}).Info("exchange scan complete")
	return res
}

// ingestTicker fetches and stores one ticker's funding history. The
// lookback shrinks to the incremental window once any history exists; a
// fresh ticker gets the full backfill.
func (in *Ingestor) ingestTicker(ctx context.Context, client scanner.Client, ticker model.Ticker) (inserted, discarded int, err error) {
	lookbackDays := in.cfg.BackfillDays
	if _, exists, err := in.store.LatestFundingTime(ctx, ticker.ID); err == nil && exists {
		lookbackDays = in.cfg.IncrementalDays
	}

	history, err := client.FetchFundingHistory(ctx, ticker.OriginalSymbol, lookbackDays)
	if err != nil {
		return 0, 0, err
	}
	return in.storeHistory(ctx, ticker, history)
}

// storeHistory derives APRs, drops implausible rates, skips rows whose
// timestamp is already stored, and bulk-inserts the rest.
func (in *Ingestor) storeHistory(ctx context.Context, ticker model.Ticker, history []model.FundingRecord) (inserted, discarded int, err error) {
	if len(history) == 0 {
		return 0, 0, nil
	}

	from, to := history[0].Timestamp, history[0].Timestamp
	for _, rec := range history[1:] {
		if rec.Timestamp.Before(from) {
			from = rec.Timestamp
		}
		if rec.Timestamp.After(to) {
			to = rec.Timestamp
		}
	}
	existing, err := in.store.FundingTimesBetween(ctx, ticker.ID, from, to)
	if err != nil {
		return 0, 0, err
	}

	rows := make([]model.FundingRate, 0, len(history))
	for _, rec := range history {
		if _, ok := existing[rec.Timestamp.Unix()]; ok {
			continue
		}
		apr := model.AnnualizedRate(rec.Rate, rec.PeriodHours)
		if apr.Abs().GreaterThan(in.maxAPR) {
			// Known-bad exchange data; drop without ceremony.
			in.log.WithComponent("ingestor").WithFields(logger.Fields{
				"exchange": ticker.Exchange,
				"symbol":   ticker.Symbol,
				"apr":      apr.String(),
			}).Debug("discarding implausible funding rate")
			discarded++
			continue
		}
		rows = append(rows, model.FundingRate{
			TickerID:    ticker.ID,
			Timestamp:   rec.Timestamp,
			Rate:        rec.Rate,
			PeriodHours: rec.PeriodHours,
			APR:         apr,
		})
	}
	if len(rows) == 0 {
		return 0, discarded, nil
	}

	inserted, err = in.store.InsertFundingRates(ctx, rows)
	if err != nil {
		return 0, discarded, err
	}
	if inserted > 0 && in.archive != nil {
		in.archive(ctx, ticker, rows)
	}
	return inserted, discarded, nil
}
