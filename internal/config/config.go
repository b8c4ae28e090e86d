// Package config loads all runtime configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradeforge/optionpipe/internal/models"
)

// Config holds all configuration for the pipeline.
type Config struct {
	// Mode
	Mode               models.TradeMode // PAPER or LIVE
	LiveTradingEnabled bool
	Debug              bool

	// HTTP
	HTTPPort      int
	WebhookSecret string // HMAC shared secret; empty disables verification
	JWTSecret     string

	// Database
	DatabasePath string // sqlite path or postgres:// URL

	// Market data
	MarketDataProvider string // primary provider name
	TradierAPIKey      string
	TradierBaseURL     string
	TradierAccountID   string
	AlpacaAPIKey       string
	AlpacaAPISecret    string
	AlpacaBaseURL      string
	StreamEnabled      bool
	TradierStreamURL   string
	QuoteTTL           time.Duration
	MarketHoursTTL     time.Duration
	ProviderTimeout    time.Duration

	// Broker
	Broker string // paper, tradier, alpaca

	// Pipeline
	MaxSignalAge time.Duration
	DedupTTL     time.Duration
	DedupWindow  time.Duration // timestamp bucketing granularity

	// Workers
	SignalProcessorInterval   time.Duration
	OrderCreatorInterval      time.Duration
	PaperExecutorInterval     time.Duration
	PositionRefresherInterval time.Duration
	ExitMonitorInterval       time.Duration
	OrderPollerInterval       time.Duration
	GEXRefreshInterval        time.Duration
	WorkerBatchSize           int

	// Tracked symbols for the GEX refresher
	TrackedSymbols []string

	// Risk defaults (seed the risk_limits row when none exists)
	MaxOpenPositions int
	MaxDailyLoss     decimal.Decimal
	MaxVixForEntry   float64
	VixSizeReduction float64
	VixHardReject    bool
	BaseQuantity     int
	MinPositionSize  int
	MaxPositionSize  int

	// Notifications
	TelegramToken  string
	TelegramChatID int64
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Mode:               models.TradeMode(strings.ToUpper(getEnv("APP_MODE", "PAPER"))),
		LiveTradingEnabled: getEnvBool("LIVE_TRADING_ENABLED", false),
		Debug:              getEnvBool("DEBUG", false),

		HTTPPort:      getEnvInt("HTTP_PORT", 8080),
		WebhookSecret: os.Getenv("WEBHOOK_SECRET"),
		JWTSecret:     os.Getenv("JWT_SECRET"),

		DatabasePath: getEnv("DATABASE_PATH", "data/optionpipe.db"),

		MarketDataProvider: strings.ToLower(getEnv("MARKET_DATA_PROVIDER", "tradier")),
		TradierAPIKey:      os.Getenv("TRADIER_API_KEY"),
		TradierBaseURL:     getEnv("TRADIER_BASE_URL", "https://api.tradier.com/v1"),
		TradierAccountID:   os.Getenv("TRADIER_ACCOUNT_ID"),
		AlpacaAPIKey:       os.Getenv("ALPACA_API_KEY"),
		AlpacaAPISecret:    os.Getenv("ALPACA_API_SECRET"),
		AlpacaBaseURL:      getEnv("ALPACA_BASE_URL", "https://data.alpaca.markets/v2"),
		StreamEnabled:      getEnvBool("STREAM_ENABLED", false),
		TradierStreamURL:   getEnv("TRADIER_STREAM_URL", "wss://ws.tradier.com/v1/markets/events"),
		QuoteTTL:           getEnvDuration("QUOTE_TTL", 30*time.Second),
		MarketHoursTTL:     getEnvDuration("MARKET_HOURS_TTL", 300*time.Second),
		ProviderTimeout:    getEnvDuration("PROVIDER_TIMEOUT", 10*time.Second),

		Broker: strings.ToLower(getEnv("BROKER", "paper")),

		MaxSignalAge: getEnvDuration("MAX_SIGNAL_AGE", 15*time.Minute),
		DedupTTL:     getEnvDuration("DEDUP_TTL", 60*time.Second),
		DedupWindow:  getEnvDuration("DEDUP_WINDOW", 60*time.Second),

		SignalProcessorInterval:   getEnvDuration("SIGNAL_PROCESSOR_INTERVAL", 30*time.Second),
		OrderCreatorInterval:      getEnvDuration("ORDER_CREATOR_INTERVAL", 30*time.Second),
		PaperExecutorInterval:     getEnvDuration("PAPER_EXECUTOR_INTERVAL", 10*time.Second),
		PositionRefresherInterval: getEnvDuration("POSITION_REFRESHER_INTERVAL", 60*time.Second),
		ExitMonitorInterval:       getEnvDuration("EXIT_MONITOR_INTERVAL", 60*time.Second),
		OrderPollerInterval:       getEnvDuration("ORDER_POLLER_INTERVAL", 30*time.Second),
		GEXRefreshInterval:        getEnvDuration("GEX_REFRESH_INTERVAL", 15*time.Minute),
		WorkerBatchSize:           getEnvInt("WORKER_BATCH_SIZE", 100),

		TrackedSymbols: getEnvList("TRACKED_SYMBOLS", []string{"SPY", "QQQ", "IWM"}),

		MaxOpenPositions: getEnvInt("MAX_OPEN_POSITIONS", 5),
		MaxDailyLoss:     getEnvDecimal("MAX_DAILY_LOSS", decimal.NewFromInt(1000)),
		MaxVixForEntry:   getEnvFloat("MAX_VIX_FOR_ENTRY", 30),
		VixSizeReduction: getEnvFloat("VIX_SIZE_REDUCTION", 0.5),
		VixHardReject:    getEnvBool("VIX_HARD_REJECT", false),
		BaseQuantity:     getEnvInt("BASE_QUANTITY", 2),
		MinPositionSize:  getEnvInt("MIN_POSITION_SIZE", 1),
		MaxPositionSize:  getEnvInt("MAX_POSITION_SIZE", 10),

		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
	}

	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	if cfg.Mode != models.ModePaper && cfg.Mode != models.ModeLive {
		return nil, fmt.Errorf("APP_MODE must be PAPER or LIVE, got %q", cfg.Mode)
	}
	if cfg.Mode == models.ModeLive && !cfg.LiveTradingEnabled {
		return nil, fmt.Errorf("APP_MODE=LIVE requires LIVE_TRADING_ENABLED=true")
	}
	if cfg.Mode == models.ModeLive && cfg.Broker == "paper" {
		return nil, fmt.Errorf("APP_MODE=LIVE requires a live broker (BROKER=tradier|alpaca)")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	switch cfg.Broker {
	case "paper", "tradier", "alpaca":
	default:
		return nil, fmt.Errorf("BROKER must be one of paper, tradier, alpaca; got %q", cfg.Broker)
	}
	if cfg.WorkerBatchSize <= 0 || cfg.WorkerBatchSize > 1000 {
		return nil, fmt.Errorf("WORKER_BATCH_SIZE out of range: %d", cfg.WorkerBatchSize)
	}

	return cfg, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				out = append(out, strings.ToUpper(s))
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
