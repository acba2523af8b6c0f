package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"spotbot/internal/broker"
	"spotbot/internal/notify"
	"spotbot/internal/strategy"
)

const DefaultPath = "spotbot.yaml"

const (
	ExchangeBinance = "binance"
	ExchangeAlpaca  = "alpaca"
)

const defaultQuoteAsset = "USDT"

type Credentials struct {
	BaseURL   string `yaml:"baseUrl"`
	APIKey    string `yaml:"apiKey"`
	APISecret string `yaml:"apiSecret"`
}

// ConstraintsConfig is a hand-maintained symbol filter set for exchanges
// that do not publish one.
type ConstraintsConfig struct {
	MinPrice    string `yaml:"minPrice"`
	TickSize    string `yaml:"tickSize"`
	MinQty      string `yaml:"minQty"`
	StepSize    string `yaml:"stepSize"`
	MinNotional string `yaml:"minNotional"`
}

type AlpacaConfig struct {
	Credentials `yaml:",inline"`
	Quote       string                       `yaml:"quote"`
	Constraints map[string]ConstraintsConfig `yaml:"constraints"`
}

// TradingConfig carries the trading constants as decimal strings. Empty
// values keep the defaults.
type TradingConfig struct {
	SellPriceMultiplier        string        `yaml:"sellPriceMultiplier"`
	BuyBackAfterThisPercentage string        `yaml:"buyBackAfterThisPercentage"`
	DefaultAllocatePercent     string        `yaml:"defaultAllocatePercent"`
	StopLossRatio              string        `yaml:"stopLossRatio"`
	MarketBuyMarginPct         string        `yaml:"marketBuyMarginPct"`
	MarketBuyMaxOrderAge       time.Duration `yaml:"marketBuyMaxOrderAge"`
	MarketBuyFallbackQuote     string        `yaml:"marketBuyFallbackQuote"`
	MinSellQty                 string        `yaml:"minSellQty"`
}

type SymbolConfig struct {
	AllocatePercent string `yaml:"allocatePercent"`
}

type UniverseConfig struct {
	Symbols []string `yaml:"symbols"`
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
	Shard   string   `yaml:"shard"`
}

type AveragesConfig struct {
	Strategy    string `yaml:"strategy"`
	ShortWindow int    `yaml:"shortWindow"`
	LongWindow  int    `yaml:"longWindow"`
	Interval    string `yaml:"interval"`
	Months      int    `yaml:"months"`
}

type TimingConfig struct {
	LoopInterval      time.Duration `yaml:"loopInterval"`
	CallDelay         time.Duration `yaml:"callDelay"`
	FillPollInterval  time.Duration `yaml:"fillPollInterval"`
	FillTimeout       time.Duration `yaml:"fillTimeout"`
	SettleDelay       time.Duration `yaml:"settleDelay"`
	MarketSettleDelay time.Duration `yaml:"marketSettleDelay"`
	CandlePause       time.Duration `yaml:"candlePause"`
	CandleBackoff     time.Duration `yaml:"candleBackoff"`
}

type TelegramConfig struct {
	BaseURL string                  `yaml:"baseUrl"`
	Routes  map[string]notify.Route `yaml:"routes"`
}

type NATSConfig struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix"`
}

type JournalConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	Exchange        string                  `yaml:"exchange"`
	QuoteAsset      string                  `yaml:"quoteAsset"`
	DevelopmentMode bool                    `yaml:"developmentMode"`
	Binance         Credentials             `yaml:"binance"`
	Alpaca          AlpacaConfig            `yaml:"alpaca"`
	Trading         TradingConfig           `yaml:"trading"`
	Symbols         map[string]SymbolConfig `yaml:"symbols"`
	Universe        UniverseConfig          `yaml:"universe"`
	Averages        AveragesConfig          `yaml:"averages"`
	Timing          TimingConfig            `yaml:"timing"`
	Telegram        TelegramConfig          `yaml:"telegram"`
	NATS            NATSConfig              `yaml:"nats"`
	Journal         JournalConfig           `yaml:"journal"`
	Log             LogConfig               `yaml:"log"`
	ListenAddr      string                  `yaml:"listenAddr"`
	DecisionsPath   string                  `yaml:"decisionsPath"`
	StatePath       string                  `yaml:"statePath"`
}

func Default() Config {
	return Config{
		Exchange:   ExchangeBinance,
		QuoteAsset: defaultQuoteAsset,
		Alpaca: AlpacaConfig{
			Credentials: Credentials{BaseURL: "https://paper-api.alpaca.markets"},
			Quote:       "USD",
		},
		Universe: UniverseConfig{
			Include: []string{"*" + defaultQuoteAsset},
			Exclude: []string{"BNBUSDT"},
		},
		Averages: AveragesConfig{
			Strategy:    "SMA",
			ShortWindow: 7 * 24,
			LongWindow:  20 * 24,
			Interval:    "1h",
			Months:      12,
		},
		Timing: TimingConfig{
			LoopInterval:      30 * time.Minute,
			CallDelay:         500 * time.Millisecond,
			FillPollInterval:  3 * time.Second,
			FillTimeout:       30 * time.Minute,
			SettleDelay:       3 * time.Second,
			MarketSettleDelay: 15 * time.Second,
			CandlePause:       500 * time.Millisecond,
			CandleBackoff:     2 * time.Minute,
		},
		NATS:          NATSConfig{Prefix: "spotbot"},
		Log:           LogConfig{Level: "info", Format: "text"},
		ListenAddr:    ":8080",
		DecisionsPath: "decisions.ndjson",
		StatePath:     "state.json",
	}
}

// RegisterFlags defines the command-line overrides understood by Load.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", DefaultPath, "path to YAML config file")
	fs.String("exchange", "", "exchange: binance or alpaca")
	fs.StringSlice("symbols", nil, "explicit symbol list (overrides exchange listing)")
	fs.String("shard", "", "universe half: first or second")
	fs.Bool("dev", false, "development mode: never submit orders")
	fs.String("log-level", "", "log level: debug, info, warn, error")
	fs.String("log-format", "", "log format: text or json")
	fs.String("listen", "", "status server address, empty string disables it")
	fs.String("journal-driver", "", "decision journal driver: sqlite or postgres")
	fs.String("journal-dsn", "", "decision journal DSN")
	fs.Duration("interval", 0, "time between passes")
	fs.String("decisions-path", "", "path to decisions log")
	fs.String("state-path", "", "path to state checkpoint")
}

// Load builds the configuration from defaults, .env, the YAML file at path,
// the environment and finally flags that were explicitly set. A missing file
// at the default path is not an error.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	cfg := Default()
	loadDotEnvIfPresent(".env")

	if flags != nil && flags.Changed("config") {
		path, _ = flags.GetString("config")
	}
	if path == "" {
		path = DefaultPath
	}
	if err := loadFile(path, &cfg); err != nil {
		if !errors.Is(err, os.ErrNotExist) || path != DefaultPath {
			return cfg, err
		}
	}

	applyEnv(&cfg)
	if flags != nil {
		if err := applyFlags(flags, &cfg); err != nil {
			return cfg, err
		}
	}
	applyExchangeQuote(&cfg)

	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	envString("BINANCE_API_KEY", &cfg.Binance.APIKey)
	envString("BINANCE_API_SECRET", &cfg.Binance.APISecret)
	envString("APCA_API_KEY_ID", &cfg.Alpaca.APIKey)
	envString("APCA_API_SECRET_KEY", &cfg.Alpaca.APISecret)
	envString("NATS_URL", &cfg.NATS.URL)

	token, chat := os.Getenv("TELEGRAM_BOT_TOKEN"), os.Getenv("TELEGRAM_CHAT_ID")
	if token != "" && chat != "" {
		if cfg.Telegram.Routes == nil {
			cfg.Telegram.Routes = map[string]notify.Route{}
		}
		cfg.Telegram.Routes[notify.DefaultRoute] = notify.Route{Token: token, ChatID: chat}
	}

	if v := os.Getenv("SPOTBOT_DEVELOPMENT_MODE"); v != "" {
		if dev, err := strconv.ParseBool(v); err == nil {
			cfg.DevelopmentMode = dev
		}
	}
}

func applyFlags(fs *pflag.FlagSet, cfg *Config) error {
	str := func(name string, dst *string) {
		if fs.Changed(name) {
			*dst, _ = fs.GetString(name)
		}
	}
	str("exchange", &cfg.Exchange)
	str("shard", &cfg.Universe.Shard)
	str("log-level", &cfg.Log.Level)
	str("log-format", &cfg.Log.Format)
	str("listen", &cfg.ListenAddr)
	str("journal-driver", &cfg.Journal.Driver)
	str("journal-dsn", &cfg.Journal.DSN)
	str("decisions-path", &cfg.DecisionsPath)
	str("state-path", &cfg.StatePath)

	if fs.Changed("symbols") {
		symbols, err := fs.GetStringSlice("symbols")
		if err != nil {
			return fmt.Errorf("symbols flag: %w", err)
		}
		cfg.Universe.Symbols = symbols
	}
	if fs.Changed("dev") {
		cfg.DevelopmentMode, _ = fs.GetBool("dev")
	}
	if fs.Changed("interval") {
		cfg.Timing.LoopInterval, _ = fs.GetDuration("interval")
	}
	return nil
}

// applyExchangeQuote carries the Alpaca quote currency into QuoteAsset and
// the default universe pattern when they were left at the Binance defaults.
func applyExchangeQuote(cfg *Config) {
	if cfg.Exchange != ExchangeAlpaca || cfg.Alpaca.Quote == "" {
		return
	}
	quote := strings.ToUpper(cfg.Alpaca.Quote)
	cfg.Alpaca.Quote = quote
	if cfg.QuoteAsset == defaultQuoteAsset {
		cfg.QuoteAsset = quote
	}
	if len(cfg.Universe.Include) == 1 && cfg.Universe.Include[0] == "*"+defaultQuoteAsset {
		cfg.Universe.Include = []string{"*" + quote}
	}
}

func validate(cfg Config) error {
	switch cfg.Exchange {
	case ExchangeBinance:
		if cfg.Binance.APIKey == "" || cfg.Binance.APISecret == "" {
			return fmt.Errorf("BINANCE_API_KEY and BINANCE_API_SECRET are required for exchange %s", cfg.Exchange)
		}
	case ExchangeAlpaca:
		if cfg.Alpaca.APIKey == "" || cfg.Alpaca.APISecret == "" {
			return fmt.Errorf("APCA_API_KEY_ID and APCA_API_SECRET_KEY are required for exchange %s", cfg.Exchange)
		}
		if !strings.EqualFold(cfg.QuoteAsset, cfg.Alpaca.Quote) {
			return fmt.Errorf("quoteAsset %q must match alpaca.quote %q", cfg.QuoteAsset, cfg.Alpaca.Quote)
		}
	default:
		return fmt.Errorf("invalid exchange: %q", cfg.Exchange)
	}
	if cfg.QuoteAsset == "" {
		return fmt.Errorf("quoteAsset must be set")
	}
	if cfg.Averages.ShortWindow <= 0 || cfg.Averages.LongWindow <= 0 {
		return fmt.Errorf("averaging windows must be > 0")
	}
	if cfg.Averages.ShortWindow >= cfg.Averages.LongWindow {
		return fmt.Errorf("shortWindow must be < longWindow")
	}
	if cfg.Averages.Months <= 0 {
		return fmt.Errorf("averages.months must be > 0")
	}
	if cfg.Timing.LoopInterval <= 0 {
		return fmt.Errorf("timing.loopInterval must be > 0")
	}
	if cfg.Timing.FillTimeout <= 0 || cfg.Timing.FillPollInterval <= 0 {
		return fmt.Errorf("fill timing must be > 0")
	}
	if cfg.Timing.CallDelay < 0 {
		return fmt.Errorf("timing.callDelay must be >= 0")
	}
	switch cfg.Universe.Shard {
	case "", "first", "second":
	default:
		return fmt.Errorf("invalid shard: %q", cfg.Universe.Shard)
	}
	switch cfg.Journal.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("invalid journal driver: %q", cfg.Journal.Driver)
	}
	if cfg.Journal.Driver != "" && cfg.Journal.DSN == "" {
		return fmt.Errorf("journal.dsn is required when journal.driver is set")
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %q", cfg.Log.Format)
	}
	if _, err := cfg.Params(); err != nil {
		return err
	}
	if _, err := cfg.AlpacaConstraints(); err != nil {
		return err
	}
	return nil
}

// Params converts the trading section into the immutable strategy.Params.
func (c Config) Params() (strategy.Params, error) {
	p := strategy.DefaultParams()
	fields := []struct {
		name  string
		value string
		dst   *decimal.Decimal
	}{
		{"sellPriceMultiplier", c.Trading.SellPriceMultiplier, &p.SellPriceMultiplier},
		{"buyBackAfterThisPercentage", c.Trading.BuyBackAfterThisPercentage, &p.BuyBackAfterThisPercentage},
		{"defaultAllocatePercent", c.Trading.DefaultAllocatePercent, &p.DefaultAllocatePercent},
		{"stopLossRatio", c.Trading.StopLossRatio, &p.StopLossRatio},
		{"marketBuyMarginPct", c.Trading.MarketBuyMarginPct, &p.MarketBuyMarginPct},
		{"marketBuyFallbackQuote", c.Trading.MarketBuyFallbackQuote, &p.MarketBuyFallbackQuote},
		{"minSellQty", c.Trading.MinSellQty, &p.MinSellQty},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		v, err := decimal.NewFromString(f.value)
		if err != nil {
			return p, fmt.Errorf("trading.%s: %w", f.name, err)
		}
		if !v.IsPositive() {
			return p, fmt.Errorf("trading.%s must be > 0", f.name)
		}
		*f.dst = v
	}
	if c.Trading.MarketBuyMaxOrderAge > 0 {
		p.MarketBuyMaxOrderAge = c.Trading.MarketBuyMaxOrderAge
	}

	hundred := decimal.NewFromInt(100)
	if p.DefaultAllocatePercent.GreaterThan(hundred) {
		return p, fmt.Errorf("trading.defaultAllocatePercent must be <= 100")
	}
	p.AllocatePercent = make(map[string]decimal.Decimal, len(c.Symbols))
	for symbol, sc := range c.Symbols {
		if sc.AllocatePercent == "" {
			continue
		}
		pct, err := decimal.NewFromString(sc.AllocatePercent)
		if err != nil {
			return p, fmt.Errorf("symbols.%s.allocatePercent: %w", symbol, err)
		}
		if !pct.IsPositive() || pct.GreaterThan(hundred) {
			return p, fmt.Errorf("symbols.%s.allocatePercent must be in (0, 100]", symbol)
		}
		p.AllocatePercent[strings.ToUpper(symbol)] = pct
	}
	p.QuoteAsset = c.QuoteAsset
	p.DevelopmentMode = c.DevelopmentMode
	return p, nil
}

// AlpacaConstraints parses the configured symbol filters. The "*" entry
// applies to symbols without their own.
func (c Config) AlpacaConstraints() (map[string]broker.Constraints, error) {
	out := make(map[string]broker.Constraints, len(c.Alpaca.Constraints))
	for symbol, cc := range c.Alpaca.Constraints {
		var cons broker.Constraints
		fields := []struct {
			value string
			dst   *decimal.Decimal
		}{
			{cc.MinPrice, &cons.MinPrice},
			{cc.TickSize, &cons.TickSize},
			{cc.MinQty, &cons.MinQty},
			{cc.StepSize, &cons.StepSize},
			{cc.MinNotional, &cons.MinNotional},
		}
		for _, f := range fields {
			if f.value == "" {
				continue
			}
			v, err := decimal.NewFromString(f.value)
			if err != nil {
				return nil, fmt.Errorf("alpaca.constraints.%s: %w", symbol, err)
			}
			*f.dst = v
		}
		out[strings.ToUpper(symbol)] = cons
	}
	return out, nil
}
