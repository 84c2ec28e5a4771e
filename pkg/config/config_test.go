package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avivsh/polystrat/pkg/types"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "https://clob.polymarket.com", cfg.CLOBBaseURL)
	assert.Equal(t, 300*time.Second, cfg.ScanInterval)
	assert.InDelta(t, 0.004, cfg.BuyThreshold, 1e-9)
	assert.InDelta(t, 2.0, cfg.SellMultiplier, 1e-9)
	assert.InDelta(t, 0.02, cfg.MinProfitThreshold, 1e-9)
	assert.InDelta(t, 0.30, cfg.SpreadMaxPrice, 1e-9)
	assert.InDelta(t, 0.40, cfg.SpreadMinSpread, 1e-9)
	assert.InDelta(t, 0.20, cfg.SpreadTargetProfit, 1e-9)
	assert.Equal(t, 60*time.Minute, cfg.SpreadTimeout)
	assert.InDelta(t, 100.0, cfg.SpreadMinVolume, 1e-9)
	assert.InDelta(t, 0.02, cfg.ArbMinProfitPct, 1e-9)
	assert.InDelta(t, 24.0, cfg.ArbMaxHoursUntilClose, 1e-9)
	assert.Equal(t, "console", cfg.StorageMode)
	assert.NotEmpty(t, cfg.RateTiers)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("BUY_THRESHOLD", "0.002")
	t.Setenv("SCAN_INTERVAL", "45s")
	t.Setenv("MAX_PAIRS", "250")
	t.Setenv("RISK_GUARD_ENABLED", "false")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.InDelta(t, 0.002, cfg.BuyThreshold, 1e-9)
	assert.Equal(t, 45*time.Second, cfg.ScanInterval)
	assert.Equal(t, 250, cfg.MaxPairs)
	assert.False(t, cfg.RiskGuardEnabled)
}

func TestLoadFromEnv_UnparseableFallsBackToDefault(t *testing.T) {
	t.Setenv("BUY_THRESHOLD", "not-a-number")
	t.Setenv("SCAN_INTERVAL", "soon")
	t.Setenv("MAX_PAIRS", "many")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.InDelta(t, 0.004, cfg.BuyThreshold, 1e-9)
	assert.Equal(t, 300*time.Second, cfg.ScanInterval)
	assert.Equal(t, 1000, cfg.MaxPairs)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() *Config {
		return &Config{
			HTTPPort:           "8080",
			LogRotation:        "size",
			BuyThreshold:       0.004,
			SellMultiplier:     2.0,
			MinProfitThreshold: 0.02,
			EstimatedFee:       0.01,
			SpreadMinSpread:    0.40,
			SpreadTargetProfit: 0.20,
			ArbMinProfitPct:    0.02,
			StorageMode:        "console",
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{
			name:      "empty-port",
			mutate:    func(c *Config) { c.HTTPPort = "" },
			wantField: "HTTP_PORT",
		},
		{
			name:      "buy-threshold-too-high",
			mutate:    func(c *Config) { c.BuyThreshold = 1.0 },
			wantField: "BUY_THRESHOLD",
		},
		{
			name:      "sell-multiplier-below-break-even",
			mutate:    func(c *Config) { c.SellMultiplier = 1.0 },
			wantField: "SELL_MULTIPLIER",
		},
		{
			name:      "profit-threshold-zero",
			mutate:    func(c *Config) { c.MinProfitThreshold = 0 },
			wantField: "MIN_PROFIT_THRESHOLD",
		},
		{
			name:      "fee-too-large",
			mutate:    func(c *Config) { c.EstimatedFee = 0.5 },
			wantField: "DEFAULT_SLIPPAGE",
		},
		{
			name:      "spread-narrower-than-target",
			mutate:    func(c *Config) { c.SpreadMinSpread = 0.15 },
			wantField: "SPREAD_MIN_SPREAD",
		},
		{
			name:      "arb-profit-pct-zero",
			mutate:    func(c *Config) { c.ArbMinProfitPct = 0 },
			wantField: "ARB_MIN_PROFIT_PCT",
		},
		{
			name:      "unknown-rotation",
			mutate:    func(c *Config) { c.LogRotation = "daily" },
			wantField: "LOG_ROTATION",
		},
		{
			name:      "unknown-storage-mode",
			mutate:    func(c *Config) { c.StorageMode = "sqlite" },
			wantField: "STORAGE_MODE",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var cfgErr *types.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.wantField, cfgErr.Field)
		})
	}
}

func writeCredsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "account.env")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadCredentials(t *testing.T) {
	t.Parallel()

	path := writeCredsFile(t, `
PRIVATE_KEY=0xdeadbeef
API_KEY=key-1
API_SECRET=sec-1
FUNDER_ADDRESS=0xfunder
OPENAI_API_KEY=llm-key
CHAIN_ID=80002
DEFAULT_SLIPPAGE=0.02
`)

	creds, err := LoadCredentials(path)
	require.NoError(t, err)

	assert.Equal(t, "0xdeadbeef", creds.PrivateKey)
	assert.Equal(t, "key-1", creds.APIKey)
	assert.True(t, creds.ProxyMode())
	assert.Equal(t, "llm-key", creds.LLMKey())
	assert.Equal(t, int64(80002), creds.ChainID)
	assert.InDelta(t, 0.02, creds.DefaultSlippage, 1e-9)
	assert.Equal(t, path, creds.Path)
}

func TestLoadCredentials_Defaults(t *testing.T) {
	t.Parallel()

	path := writeCredsFile(t, "PRIVATE_KEY=0xdeadbeef\nGEMINI_API_KEY=gem-key\n")

	creds, err := LoadCredentials(path)
	require.NoError(t, err)

	assert.Equal(t, int64(137), creds.ChainID)
	assert.InDelta(t, 0.01, creds.DefaultSlippage, 1e-9)
	assert.False(t, creds.ProxyMode())
	assert.Equal(t, "gem-key", creds.LLMKey(), "gemini key used when no openai key")
}

func TestLoadCredentials_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		content   string
		wantField string
	}{
		{
			name:      "missing-private-key",
			content:   "API_KEY=key-1\n",
			wantField: "PRIVATE_KEY",
		},
		{
			name:      "bad-chain-id",
			content:   "PRIVATE_KEY=0xdeadbeef\nCHAIN_ID=polygon\n",
			wantField: "CHAIN_ID",
		},
		{
			name:      "bad-slippage",
			content:   "PRIVATE_KEY=0xdeadbeef\nDEFAULT_SLIPPAGE=lots\n",
			wantField: "DEFAULT_SLIPPAGE",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := LoadCredentials(writeCredsFile(t, tt.content))
			require.Error(t, err)

			var cfgErr *types.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.wantField, cfgErr.Field)
		})
	}
}

func TestLoadCredentials_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadCredentials(filepath.Join(t.TempDir(), "nope.env"))
	require.Error(t, err)
}
