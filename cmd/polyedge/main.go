package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rewired-gh/polyedge/internal/cache"
	"github.com/rewired-gh/polyedge/internal/config"
	"github.com/rewired-gh/polyedge/internal/engine"
	"github.com/rewired-gh/polyedge/internal/logger"
	"github.com/rewired-gh/polyedge/internal/monitor"
	"github.com/rewired-gh/polyedge/internal/server"
	"github.com/rewired-gh/polyedge/internal/snapshot"
	"github.com/rewired-gh/polyedge/internal/storage"
	"github.com/rewired-gh/polyedge/internal/supplier"
	"github.com/rewired-gh/polyedge/internal/telegram"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	store, err := storage.New(
		cfg.Storage.MaxEvents,
		cfg.Storage.DBPath,
	)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source, closeCache := buildSupplier(ctx, cfg)
	defer closeCache()

	monitorConfig := monitor.Config{
		TopK:               cfg.Monitor.TopK,
		CooldownMultiplier: cfg.Monitor.CooldownMultiplier,
		RefreshInterval:    cfg.Supplier.RefreshInterval,
		RefreshTimeout:     cfg.Monitor.RefreshTimeout,
		MinArbPercent:      cfg.Monitor.MinArbPercent,
		MinAlphaEdge:       cfg.Monitor.MinAlphaEdge,
		EdgeWidening:       cfg.Monitor.EdgeWidening,
	}
	eng := engine.New(cfg.EngineSettings())
	mon := monitor.New(store, source, eng, snapshot.New(), monitorConfig)

	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		telegramClient.SetStatusFunc(mon.StatusText)
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		mon.Shutdown()
		cancel()
	}()

	if telegramClient != nil {
		telegramClient.ListenForCommands(ctx)
	}

	serverDone := make(chan struct{})
	if cfg.Server.Enabled {
		srv := server.New(server.Config{
			Addr:         cfg.Server.Addr,
			Mode:         cfg.Server.Mode,
			Pprof:        cfg.Server.Pprof,
			AllowOrigins: cfg.Server.AllowOrigins,
		}, mon.Store(), eng, mon, store)
		mon.SetPublisher(srv.Hub())

		go func() {
			defer close(serverDone)
			if err := srv.Run(ctx); err != nil {
				logger.Error("HTTP server stopped: %v", err)
				cancel()
			}
		}()
	} else {
		close(serverDone)
	}

	logger.Info("Starting refresh loop (interval: %v, categories: %v, reference venue: %s, top_k: %d)",
		cfg.Supplier.RefreshInterval,
		cfg.Supplier.Categories,
		cfg.Engine.ReferenceVenue,
		cfg.Monitor.TopK,
	)

	ticker := time.NewTicker(cfg.Supplier.RefreshInterval)
	defer ticker.Stop()

	consecutiveFailures := 0

	handleCycleResult := func(err error) {
		if err != nil {
			consecutiveFailures++
			logger.Error("Refresh cycle failed: %v", err)
			if consecutiveFailures == 1 && telegramClient != nil {
				if sendErr := telegramClient.SendError(err); sendErr != nil {
					logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
				}
			}
		} else {
			if consecutiveFailures > 0 && telegramClient != nil {
				if sendErr := telegramClient.SendRecovery(consecutiveFailures); sendErr != nil {
					logger.Warn("Failed to send recovery notification to Telegram: %v", sendErr)
				}
			}
			consecutiveFailures = 0
		}
	}

	logger.Debug("Running initial refresh cycle")
	handleCycleResult(runRefreshCycle(ctx, mon, telegramClient, cfg.Supplier.Categories))

	for {
		select {
		case <-ctx.Done():
			<-serverDone
			logger.Info("Service stopped")
			return

		case <-ticker.C:
			logger.Debug("Starting scheduled refresh cycle")
			handleCycleResult(runRefreshCycle(ctx, mon, telegramClient, cfg.Supplier.Categories))
			if err := store.RotateEvents(); err != nil {
				logger.Warn("Failed to rotate events: %v", err)
			}
		}
	}
}

// buildSupplier assembles the configured quote sources, wrapping them in the
// Redis fallback cache when it is enabled.
func buildSupplier(ctx context.Context, cfg *config.Config) (supplier.Supplier, func()) {
	var members []supplier.Supplier
	if cfg.Supplier.FeedURL != "" {
		members = append(members, supplier.NewFeed(
			cfg.Supplier.FeedURL,
			cfg.Supplier.Timeout,
			cfg.Supplier.MaxRetries,
			cfg.Supplier.RetryDelay,
		))
	}
	if cfg.Polymarket.Enabled {
		members = append(members, supplier.NewPolymarket(
			cfg.Polymarket.GammaAPIURL,
			cfg.Polymarket.EventBaseURL,
			cfg.Polymarket.Limit,
			cfg.Polymarket.Volume24hrMin,
			cfg.Supplier.Timeout,
			cfg.Supplier.MaxRetries,
			cfg.Supplier.RetryDelay,
		))
	}

	var source supplier.Supplier
	if len(members) == 1 {
		source = members[0]
	} else {
		multi := supplier.NewMulti(members...)
		if cfg.Matcher.Enabled {
			multi.WithMatcher(engine.NewMatcher(cfg.MatchSettings()))
		}
		source = multi
	}

	if !cfg.Cache.Enabled {
		return source, func() {}
	}

	bc, err := cache.New(ctx, cache.Config{
		Addr:      cfg.Cache.Addr,
		Password:  cfg.Cache.Password,
		DB:        cfg.Cache.DB,
		PoolSize:  cfg.Cache.PoolSize,
		KeyPrefix: cfg.Cache.KeyPrefix,
		TTL:       cfg.Cache.TTL,
	})
	if err != nil {
		logger.Warn("Redis cache unavailable, continuing without fallback: %v", err)
		return source, func() {}
	}
	logger.Info("Redis fallback cache connected at %s", cfg.Cache.Addr)
	return supplier.NewCached(source, bc), func() {
		if err := bc.Close(); err != nil {
			logger.Warn("Failed to close Redis cache: %v", err)
		}
	}
}

func runRefreshCycle(
	ctx context.Context,
	mon *monitor.Monitor,
	telegramClient *telegram.Client,
	categories []string,
) error {
	startTime := time.Now()
	logger.Info("Starting refresh cycle")

	var failed []string
	var firstErr error
	for _, category := range categories {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		digest, err := mon.RefreshCategory(ctx, category)
		if err != nil {
			failed = append(failed, category)
			if firstErr == nil {
				firstErr = err
			}
			logger.WithFields(logger.Fields{"category": category}).Warn("Refresh failed: %v", err)
			continue
		}

		if digest.Empty() {
			logger.Debug("No new opportunities for %s", category)
			continue
		}
		logger.Info("Post-processed %s: %d arbitrage, %d alpha", category, len(digest.Arbitrage), len(digest.Alpha))

		if telegramClient == nil {
			logger.Debug("Opportunities detected but Telegram notifications disabled")
			continue
		}
		if err := telegramClient.Send(digest); err != nil {
			logger.Error("Failed to send Telegram notification: %v", err)
			continue
		}
		logger.Info("Sent Telegram notification for %s", category)
		mon.RecordNotified(digest)
	}

	logger.Info("Refresh cycle completed in %v", time.Since(startTime))

	if firstErr != nil {
		return fmt.Errorf("%d of %d categories failed (%v): %w", len(failed), len(categories), failed, firstErr)
	}
	return nil
}
