package config

import (
	"os"
	"strconv"
	"time"

	"github.com/avivsh/polystrat/pkg/ratelimit"
	"github.com/avivsh/polystrat/pkg/types"
)

// Config holds all engine configuration. Values come from the process
// environment; credentials come from per-account files (see Credentials).
type Config struct {
	// Application
	LogLevel    string
	LogRotation string // "size" or "time"; recorded for operators, rotation is external
	HTTPPort    string
	DryRun      bool

	// Venue endpoints
	CLOBBaseURL     string
	CatalogBaseURL  string
	StreamURL       string
	KalshiBaseURL   string
	PolygonRPCURL   string
	CatalogMaxPages int

	// Strategy runtime
	ScanInterval    time.Duration
	MonitorInterval time.Duration
	StatsInterval   time.Duration
	ErrorBackoff    time.Duration

	// Extreme-price detector
	BuyThreshold       float64
	SellMultiplier     float64
	MinHoursUntilClose float64
	PortfolioPercent   float64
	MinPositionUSD     float64
	MinPositionSize    float64

	// Pair detectors (calendar + cross-platform)
	MinProfitThreshold  float64
	EstimatedFee        float64
	MinAnnualizedROI    float64
	EarlyExitThreshold  float64
	MaxLossTolerance    float64
	PairSize            float64
	MaxPairs            int
	MaxLLMMatches       int
	SimilarityThreshold float64

	// Spread-capture detector
	SpreadMaxPrice     float64
	SpreadMinSpread    float64
	SpreadTargetProfit float64
	SpreadEntryOffset  float64
	SpreadTimeout      time.Duration
	SpreadTimeoutStep  float64
	SpreadMinVolume    float64
	SpreadOrderSize    float64

	// Event-arbitrage detector
	ArbMinProfitPct       float64
	ArbMaxHoursUntilClose float64

	// Semantic matcher
	LLMBaseURL string
	LLMModel   string

	// Streamer
	StreamDialTimeout  time.Duration
	StreamMaxSilence   time.Duration
	StreamMaxRetries   int
	StreamMaxReconnect time.Duration
	SubscribeBatchSize int

	// Venue client
	HTTPTimeout    time.Duration
	BalanceTimeout time.Duration
	BalanceTTL     time.Duration
	RateTiers      []ratelimit.Tier

	// Risk guard
	RiskGuardEnabled    bool
	RiskCheckInterval   time.Duration
	RiskTradeMultiplier float64
	RiskMinAbsolute     float64
	RiskHysteresisRatio float64

	// Analytics sink
	StorageMode  string // "postgres" or "console"
	PostgresHost string
	PostgresPort string
	PostgresUser string
	PostgresPass string
	PostgresDB   string
	PostgresSSL  string

	// Position store
	DataDir string
}

// LoadFromEnv loads configuration from environment variables with defaults.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		LogLevel:    getEnvOrDefault("LOG_LEVEL", "info"),
		LogRotation: getEnvOrDefault("LOG_ROTATION", "size"),
		HTTPPort:    getEnvOrDefault("HTTP_PORT", "8080"),

		CLOBBaseURL:     getEnvOrDefault("CLOB_URL", "https://clob.polymarket.com"),
		CatalogBaseURL:  getEnvOrDefault("CATALOG_URL", "https://gamma-api.polymarket.com"),
		StreamURL:       getEnvOrDefault("STREAM_URL", "wss://ws-subscriptions-clob.polymarket.com/ws/market"),
		KalshiBaseURL:   getEnvOrDefault("KALSHI_API_URL", "https://api.kalshi.com/trade-api/v2"),
		PolygonRPCURL:   getEnvOrDefault("POLYGON_RPC_URL", "https://polygon-rpc.com"),
		CatalogMaxPages: getIntOrDefault("CATALOG_MAX_PAGES", 50),

		ScanInterval:    getDurationOrDefault("SCAN_INTERVAL", 300*time.Second),
		MonitorInterval: getDurationOrDefault("MONITOR_INTERVAL", 30*time.Second),
		StatsInterval:   getDurationOrDefault("STATS_INTERVAL", 600*time.Second),
		ErrorBackoff:    getDurationOrDefault("ERROR_BACKOFF", 60*time.Second),

		BuyThreshold:       getFloat64OrDefault("BUY_THRESHOLD", 0.004),
		SellMultiplier:     getFloat64OrDefault("SELL_MULTIPLIER", 2.0),
		MinHoursUntilClose: getFloat64OrDefault("MIN_HOURS_UNTIL_CLOSE", 1.0),
		PortfolioPercent:   getFloat64OrDefault("PORTFOLIO_PERCENT", 0.005),
		MinPositionUSD:     getFloat64OrDefault("MIN_POSITION_USD", 1.0),
		MinPositionSize:    getFloat64OrDefault("MIN_POSITION_SIZE", 5.0),

		MinProfitThreshold:  getFloat64OrDefault("MIN_PROFIT_THRESHOLD", 0.02),
		EstimatedFee:        getFloat64OrDefault("DEFAULT_SLIPPAGE", 0.01),
		MinAnnualizedROI:    getFloat64OrDefault("MIN_ANNUALIZED_ROI", 0.10),
		EarlyExitThreshold:  getFloat64OrDefault("EARLY_EXIT_THRESHOLD", 0.01),
		MaxLossTolerance:    getFloat64OrDefault("MAX_LOSS_TOLERANCE", 0.02),
		PairSize:            getFloat64OrDefault("PAIR_SIZE", 10.0),
		MaxPairs:            getIntOrDefault("MAX_PAIRS", 1000),
		MaxLLMMatches:       getIntOrDefault("MAX_LLM_MATCHES", 50),
		SimilarityThreshold: getFloat64OrDefault("SIMILARITY_THRESHOLD", 0.85),

		SpreadMaxPrice:     getFloat64OrDefault("SPREAD_MAX_PRICE", 0.30),
		SpreadMinSpread:    getFloat64OrDefault("SPREAD_MIN_SPREAD", 0.40),
		SpreadTargetProfit: getFloat64OrDefault("SPREAD_TARGET_PROFIT", 0.20),
		SpreadEntryOffset:  getFloat64OrDefault("SPREAD_ENTRY_OFFSET", 0.01),
		SpreadTimeout:      getDurationOrDefault("SPREAD_TIMEOUT", 60*time.Minute),
		SpreadTimeoutStep:  getFloat64OrDefault("SPREAD_TIMEOUT_PRICE_STEP", 0.05),
		SpreadMinVolume:    getFloat64OrDefault("SPREAD_MIN_VOLUME", 100.0),
		SpreadOrderSize:    getFloat64OrDefault("SPREAD_ORDER_SIZE", 100.0),

		ArbMinProfitPct:       getFloat64OrDefault("ARB_MIN_PROFIT_PCT", 0.02),
		ArbMaxHoursUntilClose: getFloat64OrDefault("ARB_MAX_HOURS_UNTIL_CLOSE", 24.0),

		LLMBaseURL: getEnvOrDefault("OPENAI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta/openai/"),
		LLMModel:   getEnvOrDefault("LLM_MODEL", "gemini-2.0-flash"),

		StreamDialTimeout:  getDurationOrDefault("STREAM_DIAL_TIMEOUT", 15*time.Second),
		StreamMaxSilence:   getDurationOrDefault("STREAM_MAX_SILENCE", 90*time.Second),
		StreamMaxRetries:   getIntOrDefault("STREAM_MAX_RETRIES", 10),
		StreamMaxReconnect: getDurationOrDefault("STREAM_MAX_RECONNECT_DELAY", 30*time.Second),
		SubscribeBatchSize: getIntOrDefault("SUBSCRIBE_BATCH_SIZE", 100),

		HTTPTimeout:    getDurationOrDefault("HTTP_TIMEOUT", 30*time.Second),
		BalanceTimeout: getDurationOrDefault("BALANCE_TIMEOUT", 10*time.Second),
		BalanceTTL:     getDurationOrDefault("BALANCE_TTL", 60*time.Second),
		RateTiers:      ratelimit.DefaultTiers(),

		RiskGuardEnabled:    getBoolOrDefault("RISK_GUARD_ENABLED", true),
		RiskCheckInterval:   getDurationOrDefault("RISK_CHECK_INTERVAL", 60*time.Second),
		RiskTradeMultiplier: getFloat64OrDefault("RISK_TRADE_MULTIPLIER", 2.0),
		RiskMinAbsolute:     getFloat64OrDefault("RISK_MIN_ABSOLUTE", 10.0),
		RiskHysteresisRatio: getFloat64OrDefault("RISK_HYSTERESIS_RATIO", 1.2),

		StorageMode:  getEnvOrDefault("STORAGE_MODE", "console"),
		PostgresHost: getEnvOrDefault("POSTGRES_HOST", "localhost"),
		PostgresPort: getEnvOrDefault("POSTGRES_PORT", "5432"),
		PostgresUser: getEnvOrDefault("POSTGRES_USER", "polystrat"),
		PostgresPass: getEnvOrDefault("POSTGRES_PASSWORD", ""),
		PostgresDB:   getEnvOrDefault("POSTGRES_DB", "polystrat"),
		PostgresSSL:  getEnvOrDefault("POSTGRES_SSLMODE", "disable"),

		DataDir: getEnvOrDefault("DATA_DIR", "data"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that configuration values are coherent.
func (c *Config) Validate() error {
	if c.HTTPPort == "" {
		return &types.ConfigurationError{Field: "HTTP_PORT", Reason: "cannot be empty"}
	}
	if c.BuyThreshold <= 0 || c.BuyThreshold >= 1 {
		return &types.ConfigurationError{Field: "BUY_THRESHOLD", Reason: "must be in (0,1)"}
	}
	if c.SellMultiplier <= 1 {
		return &types.ConfigurationError{Field: "SELL_MULTIPLIER", Reason: "must exceed 1"}
	}
	if c.MinProfitThreshold <= 0 || c.MinProfitThreshold >= 1 {
		return &types.ConfigurationError{Field: "MIN_PROFIT_THRESHOLD", Reason: "must be in (0,1)"}
	}
	if c.EstimatedFee < 0 || c.EstimatedFee >= 0.5 {
		return &types.ConfigurationError{Field: "DEFAULT_SLIPPAGE", Reason: "must be in [0,0.5)"}
	}
	if c.SpreadMinSpread <= c.SpreadTargetProfit {
		return &types.ConfigurationError{Field: "SPREAD_MIN_SPREAD", Reason: "must exceed SPREAD_TARGET_PROFIT"}
	}
	if c.ArbMinProfitPct <= 0 || c.ArbMinProfitPct >= 1 {
		return &types.ConfigurationError{Field: "ARB_MIN_PROFIT_PCT", Reason: "must be in (0,1)"}
	}
	if c.LogRotation != "size" && c.LogRotation != "time" {
		return &types.ConfigurationError{Field: "LOG_ROTATION", Reason: "must be 'size' or 'time'"}
	}
	if c.StorageMode != "console" && c.StorageMode != "postgres" {
		return &types.ConfigurationError{Field: "STORAGE_MODE", Reason: "must be 'console' or 'postgres'"}
	}
	return nil
}

func getEnvOrDefault(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getFloat64OrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatVal, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}

	return floatVal
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}

	return boolVal
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}

	return duration
}
