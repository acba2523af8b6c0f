package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Default()
	cfg.Binance.APIKey = "key"
	cfg.Binance.APISecret = "secret"
	return cfg
}

func TestValidateConfigRejectsInvalidValues(t *testing.T) {
	cases := map[string]func(*Config){
		"missing keys":        func(c *Config) { c.Binance.APIKey = "" },
		"unknown exchange":    func(c *Config) { c.Exchange = "kraken" },
		"windows reversed":    func(c *Config) { c.Averages.ShortWindow = 500 },
		"zero interval":       func(c *Config) { c.Timing.LoopInterval = 0 },
		"bad shard":           func(c *Config) { c.Universe.Shard = "third" },
		"journal without dsn": func(c *Config) { c.Journal.Driver = "sqlite" },
		"bad log format":      func(c *Config) { c.Log.Format = "xml" },
		"bad multiplier":      func(c *Config) { c.Trading.SellPriceMultiplier = "abc" },
		"allocation too big":  func(c *Config) { c.Symbols = map[string]SymbolConfig{"BTCUSDT": {AllocatePercent: "150"}} },
		"alpaca without keys": func(c *Config) { c.Exchange = ExchangeAlpaca },
		"alpaca quote mismatch": func(c *Config) {
			c.Exchange = ExchangeAlpaca
			c.Alpaca.APIKey = "key"
			c.Alpaca.APISecret = "secret"
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(&cfg)
			assert.Error(t, validate(cfg))
		})
	}
}

func TestValidateConfigAcceptsValidConfig(t *testing.T) {
	assert.NoError(t, validate(validConfig()))
}

func TestLoadAlpacaDerivesQuoteAsset(t *testing.T) {
	t.Setenv("APCA_API_KEY_ID", "k")
	t.Setenv("APCA_API_SECRET_KEY", "s")
	configPath := filepath.Join(t.TempDir(), "bot.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("exchange: alpaca\n"), 0o600))

	cfg, err := Load(configPath, nil)
	require.NoError(t, err)
	assert.Equal(t, "USD", cfg.QuoteAsset)
	assert.Equal(t, []string{"*USD"}, cfg.Universe.Include)

	p, err := cfg.Params()
	require.NoError(t, err)
	assert.Equal(t, "USD", p.QuoteAsset)
}

func TestLoadAlpacaKeepsExplicitUniverse(t *testing.T) {
	t.Setenv("APCA_API_KEY_ID", "k")
	t.Setenv("APCA_API_SECRET_KEY", "s")
	configPath := filepath.Join(t.TempDir(), "bot.yaml")
	contents := "exchange: alpaca\nalpaca:\n  quote: usdc\nuniverse:\n  include: [\"BTC*\"]\n"
	require.NoError(t, os.WriteFile(configPath, []byte(contents), 0o600))

	cfg, err := Load(configPath, nil)
	require.NoError(t, err)
	assert.Equal(t, "USDC", cfg.QuoteAsset)
	assert.Equal(t, []string{"BTC*"}, cfg.Universe.Include)
}

func TestParamsFromTradingSection(t *testing.T) {
	cfg := validConfig()
	cfg.Trading.SellPriceMultiplier = "1.05"
	cfg.Trading.MarketBuyMaxOrderAge = 48 * time.Hour
	cfg.Symbols = map[string]SymbolConfig{"ethusdt": {AllocatePercent: "5"}}
	cfg.DevelopmentMode = true

	p, err := cfg.Params()
	require.NoError(t, err)
	assert.True(t, p.SellPriceMultiplier.Equal(decimal.RequireFromString("1.05")))
	assert.True(t, p.BuyBackAfterThisPercentage.Equal(decimal.RequireFromString("0.990")))
	assert.Equal(t, 48*time.Hour, p.MarketBuyMaxOrderAge)
	assert.True(t, p.DevelopmentMode)
	assert.Equal(t, "USDT", p.QuoteAsset)

	pct, ok := p.AllocationPercent("ETHUSDT")
	require.True(t, ok)
	assert.True(t, pct.Equal(decimal.NewFromInt(5)))
	_, ok = p.AllocationPercent("BTCUSDT")
	assert.False(t, ok)
}

func TestAlpacaConstraints(t *testing.T) {
	cfg := validConfig()
	cfg.Alpaca.Constraints = map[string]ConstraintsConfig{
		"*": {MinPrice: "0.01", MinQty: "0.0001", MinNotional: "1"},
	}
	cons, err := cfg.AlpacaConstraints()
	require.NoError(t, err)
	require.Contains(t, cons, "*")
	assert.True(t, cons["*"].MinNotional.Equal(decimal.NewFromInt(1)))
	assert.True(t, cons["*"].TickSize.IsZero())
}

func TestLoadConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "bot.yaml")
	contents := `
exchange: binance
binance:
  apiKey: file-key
  apiSecret: file-secret
developmentMode: false
universe:
  shard: first
timing:
  loopInterval: 45m
trading:
  sellPriceMultiplier: 1.02
symbols:
  BTCUSDT:
    allocatePercent: 3
log:
  level: debug
`
	require.NoError(t, os.WriteFile(configPath, []byte(contents), 0o600))

	t.Setenv("BINANCE_API_KEY", "env-key")
	t.Setenv("SPOTBOT_DEVELOPMENT_MODE", "true")
	t.Setenv("TELEGRAM_BOT_TOKEN", "tok")
	t.Setenv("TELEGRAM_CHAT_ID", "42")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--config", configPath, "--shard", "second", "--symbols", "ETHUSDT,BTCUSDT"}))

	cfg, err := Load("", fs)
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.Binance.APIKey)
	assert.Equal(t, "file-secret", cfg.Binance.APISecret)
	assert.True(t, cfg.DevelopmentMode)
	assert.Equal(t, "second", cfg.Universe.Shard)
	assert.Equal(t, []string{"ETHUSDT", "BTCUSDT"}, cfg.Universe.Symbols)
	assert.Equal(t, 45*time.Minute, cfg.Timing.LoopInterval)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "42", cfg.Telegram.Routes["ALTCOIN"].ChatID)

	p, err := cfg.Params()
	require.NoError(t, err)
	assert.True(t, p.SellPriceMultiplier.Equal(decimal.RequireFromString("1.02")))
	pct, ok := p.AllocationPercent("BTCUSDT")
	require.True(t, ok)
	assert.True(t, pct.Equal(decimal.NewFromInt(3)))
}

func TestLoadMissingExplicitFile(t *testing.T) {
	t.Setenv("BINANCE_API_KEY", "k")
	t.Setenv("BINANCE_API_SECRET", "s")
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	t.Setenv("BINANCE_API_KEY", "k")
	t.Setenv("BINANCE_API_SECRET", "s")
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, 7*24, cfg.Averages.ShortWindow)
	assert.Equal(t, 20*24, cfg.Averages.LongWindow)
	assert.Equal(t, 30*time.Minute, cfg.Timing.FillTimeout)
	assert.Equal(t, []string{"BNBUSDT"}, cfg.Universe.Exclude)
}
