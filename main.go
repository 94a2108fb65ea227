package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"fundingflow/config"
	"fundingflow/internal/archive"
	"fundingflow/internal/gateway"
	"fundingflow/internal/hub"
	"fundingflow/internal/model"
	"fundingflow/internal/pipeline"
	"fundingflow/internal/scanner"
	"fundingflow/internal/store"
	"fundingflow/internal/stream"
	"fundingflow/logger"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Fundingflow.Name,
		"version": cfg.Fundingflow.Version,
	}).Info("starting fundingflow")

	if cfg.Metrics.CloudWatch {
		logger.InitCloudWatch(cfg.Metrics.Region, cfg.Metrics.Namespace)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := store.NewMemory()
	clients := scanner.NewRegistry(cfg)
	if len(clients) == 0 {
		log.Error("no exchanges enabled in configuration")
		os.Exit(1)
	}

	ingestor := pipeline.NewIngestor(st, clients, cfg.Ingestion)
	pruner := pipeline.NewPruner(st, cfg.Ingestion)

	if cfg.Storage.S3.Enabled {
		archiver, err := archive.NewArchiver(cfg.Storage.S3)
		if err != nil {
			log.WithError(err).Error("Failed to initialize S3 archiver")
			os.Exit(1)
		}
		ingestor.SetArchive(func(ctx context.Context, ticker model.Ticker, rows []model.FundingRate) {
			records := make([]archive.Record, 0, len(rows))
			for _, row := range rows {
				records = append(records, archive.Record{
					Exchange:    ticker.Exchange,
					Symbol:      ticker.Symbol,
					Timestamp:   row.Timestamp,
					Rate:        row.Rate.String(),
					PeriodHours: row.PeriodHours,
					APR:         row.APR.String(),
				})
			}
			if err := archiver.Archive(ctx, ticker.Exchange, records); err != nil {
				log.WithError(err).WithFields(logger.Fields{
					"exchange": ticker.Exchange,
					"symbol":   ticker.Symbol,
				}).Warn("funding archive upload failed")
			}
		})
	}

	broadcaster := hub.NewBroadcaster(cfg.Stream)
	adapters := stream.NewRegistry(cfg.Stream, broadcaster)
	streamHub := hub.New(ctx, hub.RunnerFunc(stream.Runner(adapters)))

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		ingestor.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		pruner.Run(ctx)
	}()

	gapFiller := pipeline.NewGapFiller(ingestor)
	wg.Add(1)
	go func() {
		defer wg.Done()
		gapFiller.Run(ctx, cfg.Ingestion.PruneInterval)
	}()

	if cfg.Gateway.Enabled {
		server := gateway.New(streamHub, broadcaster, cfg.Gateway)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Start(ctx); err != nil {
				log.WithError(err).Error("gateway stopped with error")
			}
		}()
	} else {
		log.WithComponent("main").Info("gateway disabled")
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("fundingflow stopped")
}
