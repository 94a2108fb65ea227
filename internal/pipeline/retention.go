package pipeline

import (
	"context"
	"time"

	"fundingflow/config"
	"fundingflow/internal/store"
	"fundingflow/logger"
)

// Pruner deletes funding rows older than the retention window on a fixed
// schedule.
type Pruner struct {
	store    store.Store
	retain   time.Duration
	interval time.Duration
	log      *logger.Log
}

func NewPruner(st store.Store, cfg config.IngestionConfig) *Pruner {
	return &Pruner{
		store:    st,
		retain:   time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		interval: cfg.PruneInterval,
		log:      logger.GetLogger(),
	}
}

// Run prunes once immediately and then on each tick until the context is
// cancelled.
func (p *Pruner) Run(ctx context.Context) {
	p.PruneOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PruneOnce(ctx)
		}
	}
}

func (p *Pruner) PruneOnce(ctx context.Context) int {
	cutoff := time.Now().UTC().Add(-p.retain)
	removed, err := p.store.PruneFundingBefore(ctx, cutoff)
	if err != nil {
		p.log.WithComponent("pruner").WithError(err).Error("prune failed")
		return 0
	}
	if removed > 0 {
		p.log.WithComponent("pruner").WithFields(logger.Fields{
			"removed": removed,
			"cutoff":  cutoff.Format(time.RFC3339),
		}).Info("pruned expired funding rates")
	}
	return removed
}

// GapFiller re-runs the full backfill window for tickers whose stored
// history has gone stale, typically after an exchange outage or a long
// service stop. The incremental scan only looks back one day, so anything
// older than that needs an explicit backfill pass.
type GapFiller struct {
	ingestor *Ingestor
	staleAge time.Duration
	log      *logger.Log
}

func NewGapFiller(in *Ingestor) *GapFiller {
	// Stale means the newest stored record is older than two incremental
	// windows; one window of lag is normal between scans.
	staleAge := time.Duration(in.cfg.IncrementalDays) * 48 * time.Hour
	return &GapFiller{ingestor: in, staleAge: staleAge, log: logger.GetLogger()}
}

// Run fills gaps on each tick until the context is cancelled. The first
// pass waits one interval; startup already runs a full scan.
func (g *GapFiller) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Fill(ctx)
		}
	}
}

// Fill backfills stale tickers across all exchanges and returns the number
// of rows recovered.
func (g *GapFiller) Fill(ctx context.Context) int {
	recovered := 0
	for exchange, client := range g.ingestor.clients {
		tickers, err := g.ingestor.store.Tickers(ctx, exchange)
		if err != nil {
			g.log.WithComponent("gap_filler").WithError(err).Error("ticker listing failed")
			continue
		}
		for _, ticker := range tickers {
			if ctx.Err() != nil {
				return recovered
			}
			latest, exists, err := g.ingestor.store.LatestFundingTime(ctx, ticker.ID)
			if err != nil || !exists {
				continue
			}
			if time.Since(latest) < g.staleAge {
				continue
			}
			if err := g.ingestor.limiter.Wait(ctx); err != nil {
				return recovered
			}

			history, err := client.FetchFundingHistory(ctx, ticker.OriginalSymbol, g.ingestor.cfg.BackfillDays)
			if err != nil {
				g.log.WithComponent("gap_filler").WithError(err).WithFields(logger.Fields{
					"exchange": exchange,
					"symbol":   ticker.Symbol,
				}).Warn("backfill fetch failed")
				continue
			}
			inserted, _, err := g.ingestor.storeHistory(ctx, ticker, history)
			if err != nil {
				continue
			}
			if inserted > 0 {
				g.log.WithComponent("gap_filler").WithFields(logger.Fields{
					"exchange": exchange,
					"symbol":   ticker.Symbol,
					"inserted": inserted,
				}).Info("recovered funding history gap")
			}
			recovered += inserted
		}
	}
	return recovered
}
