// Optionpipe - automated options signal pipeline
//
// Receives webhook alerts from charting platforms, normalizes them across
// dialects, scores entries against gamma-exposure and market-regime
// context, synthesizes option orders, and runs them through paper or live
// execution with continuous position monitoring.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tradeforge/optionpipe/internal/api"
	"github.com/tradeforge/optionpipe/internal/audit"
	"github.com/tradeforge/optionpipe/internal/broker"
	"github.com/tradeforge/optionpipe/internal/cache"
	"github.com/tradeforge/optionpipe/internal/config"
	"github.com/tradeforge/optionpipe/internal/decision"
	"github.com/tradeforge/optionpipe/internal/marketdata"
	"github.com/tradeforge/optionpipe/internal/models"
	"github.com/tradeforge/optionpipe/internal/notify"
	"github.com/tradeforge/optionpipe/internal/observability"
	"github.com/tradeforge/optionpipe/internal/parsers"
	"github.com/tradeforge/optionpipe/internal/pipeline"
	"github.com/tradeforge/optionpipe/internal/ratelimit"
	"github.com/tradeforge/optionpipe/internal/store"
	"github.com/tradeforge/optionpipe/internal/workers"
)

const version = "1.0.0"

func main() {
	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load environment
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().
		Str("version", version).
		Str("mode", string(cfg.Mode)).
		Str("broker", cfg.Broker).
		Strs("symbols", cfg.TrackedSymbols).
		Msg("Starting optionpipe")

	// Storage.
	db, err := store.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	seedRiskLimits(db, cfg)

	// Observability.
	tracker := observability.NewDegradedModeTracker()
	metrics := observability.NewMetricsService()
	health := observability.NewHealthCheckService(tracker, metrics, db, string(cfg.Mode))

	// Notifications.
	notifier, err := notify.New(cfg.TelegramToken, cfg.TelegramChatID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect Telegram")
	}
	tracker.OnChange(notifier.ComponentChanged)

	// Market data: provider chain ends at the demo provider so quotes
	// never fail outright.
	quoteCache := cache.New()
	limits := ratelimit.NewManager()
	providers := buildProviders(cfg)
	market := marketdata.NewService(providers, quoteCache, limits, tracker, cfg.QuoteTTL, cfg.MarketHoursTTL)

	var stream *marketdata.Stream
	if cfg.StreamEnabled && cfg.TradierAPIKey != "" {
		stream = marketdata.NewStream(cfg.TradierStreamURL, cfg.TradierAPIKey, cfg.TrackedSymbols, market)
		stream.Start()
	}

	// Pipeline.
	auditLog := audit.NewLogger(db)
	dedupCache := cache.New()
	registry := parsers.NewRegistry()
	pipe := pipeline.New(registry, db, metrics, auditLog, dedupCache,
		cfg.MaxSignalAge, cfg.DedupTTL, cfg.DedupWindow)

	// Decision + workers.
	orch := decision.New()
	exitMonitor := workers.NewExitMonitor(db, orch, cfg.Mode, cfg.ExitMonitorInterval)
	pool := workers.NewPool(buildWorkers(cfg, db, market, orch, auditLog, notifier, tracker, metrics, exitMonitor)...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	pool.Start(ctx)

	// HTTP surface.
	server := api.NewServer(
		fmt.Sprintf(":%d", cfg.HTTPPort),
		pipe, db, health, metrics, quoteCache, limits, exitMonitor,
		audit.NewQueryService(db), cfg.Mode, cfg.WebhookSecret, cfg.JWTSecret,
	)
	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("HTTP server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown failed")
	}
	pool.Stop()
	if stream != nil {
		stream.Stop()
	}
	limits.Shutdown()
	quoteCache.Stop()
	dedupCache.Stop()
	log.Info().Msg("Shutdown complete")
}

// buildProviders orders the quote providers: the configured primary first,
// the demo provider always last.
func buildProviders(cfg *config.Config) []marketdata.Provider {
	var tradier, alpaca marketdata.Provider
	if cfg.TradierAPIKey != "" {
		tradier = marketdata.NewTradierProvider(cfg.TradierBaseURL, cfg.TradierAPIKey, cfg.ProviderTimeout)
	}
	if cfg.AlpacaAPIKey != "" && cfg.AlpacaAPISecret != "" {
		alpaca = marketdata.NewAlpacaProvider(cfg.AlpacaBaseURL, cfg.AlpacaAPIKey, cfg.AlpacaAPISecret, cfg.ProviderTimeout)
	}

	var providers []marketdata.Provider
	ordered := []marketdata.Provider{tradier, alpaca}
	if cfg.MarketDataProvider == "alpaca" {
		ordered = []marketdata.Provider{alpaca, tradier}
	}
	for _, p := range ordered {
		if p != nil {
			providers = append(providers, p)
		}
	}
	providers = append(providers, marketdata.NewDemoProvider())
	return providers
}

// buildWorkers assembles the background loops for the configured mode.
func buildWorkers(cfg *config.Config, db *store.Store, market *marketdata.Service, orch *decision.Orchestrator, auditLog *audit.Logger, notifier *notify.Notifier, tracker *observability.DegradedModeTracker, metrics *observability.MetricsService, exitMonitor *workers.ExitMonitor) []workers.Worker {
	ws := []workers.Worker{
		workers.NewSignalProcessor(db, market, orch, auditLog, metrics, cfg.Mode, cfg.SignalProcessorInterval, cfg.WorkerBatchSize),
		workers.NewOrderCreator(db, cfg.Mode, cfg.OrderCreatorInterval, cfg.WorkerBatchSize),
		workers.NewPositionRefresher(db, market, cfg.PositionRefresherInterval),
		exitMonitor,
		workers.NewGEXRefresher(db, market, tracker, cfg.TrackedSymbols, cfg.GEXRefreshInterval),
	}

	if cfg.Mode == models.ModeLive {
		tradier := broker.NewTradier(cfg.TradierBaseURL, cfg.TradierAPIKey, cfg.TradierAccountID, cfg.ProviderTimeout)
		alpaca := broker.NewAlpaca(cfg.AlpacaBaseURL, cfg.AlpacaAPIKey, cfg.AlpacaAPISecret, cfg.ProviderTimeout)
		b, err := broker.Select(cfg.Broker, tradier, alpaca)
		if err != nil {
			log.Fatal().Err(err).Msg("Broker selection failed")
		}
		ws = append(ws, workers.NewOrderPoller(db, b, auditLog, notifier, metrics, cfg.OrderPollerInterval, cfg.WorkerBatchSize))
	} else {
		ws = append(ws, workers.NewPaperExecutor(db, market, auditLog, notifier, metrics, cfg.PaperExecutorInterval, cfg.WorkerBatchSize))
	}
	return ws
}

// seedRiskLimits writes the configured defaults when no active row exists
// for the mode.
func seedRiskLimits(db *store.Store, cfg *config.Config) {
	if _, err := db.GetRiskLimits(cfg.Mode); err == nil {
		return
	}
	_, err := db.UpsertRiskLimits(cfg.Mode, func(rl *models.RiskLimits) {
		rl.MaxOpenPositions = cfg.MaxOpenPositions
		rl.MaxDailyLoss = cfg.MaxDailyLoss
		rl.MaxPositionSize = cfg.MaxPositionSize
		rl.MinPositionSize = cfg.MinPositionSize
		rl.BaseQuantity = cfg.BaseQuantity
		rl.MaxVixForEntry = cfg.MaxVixForEntry
		rl.VixSizeReduction = cfg.VixSizeReduction
		rl.VixHardReject = cfg.VixHardReject
		rl.Active = true
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to seed risk limits")
	}
}
