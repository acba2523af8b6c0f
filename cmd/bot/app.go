package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"spotbot/internal/broker"
	"spotbot/internal/broker/alpacacrypto"
	"spotbot/internal/broker/binance"
	"spotbot/internal/config"
	"spotbot/internal/engine"
	"spotbot/internal/journal"
	"spotbot/internal/md"
	"spotbot/internal/notify"
	"spotbot/internal/runner"
	"spotbot/internal/server"
	"spotbot/internal/state"
	"spotbot/internal/strategy"
)

type app struct {
	runID   string
	gateway broker.Gateway
	engine  *engine.Engine
	runner  *runner.Runner
	server  *server.Server
	closers []func() error
}

func newGateway(cfg config.Config) (broker.Gateway, error) {
	var gateway broker.Gateway
	switch cfg.Exchange {
	case config.ExchangeBinance:
		gateway = binance.New(cfg.Binance.APIKey, cfg.Binance.APISecret, cfg.Binance.BaseURL)
	case config.ExchangeAlpaca:
		cons, err := cfg.AlpacaConstraints()
		if err != nil {
			return nil, err
		}
		gateway = alpacacrypto.New(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL, cfg.Alpaca.Quote, cons)
	default:
		return nil, fmt.Errorf("unsupported exchange %q", cfg.Exchange)
	}
	return broker.NewPaced(gateway, cfg.Timing.CallDelay), nil
}

func newEngine(gateway broker.Gateway, params strategy.Params, cfg config.Config, opts *engine.Options) *engine.Engine {
	o := engine.Options{}
	if opts != nil {
		o = *opts
	}
	o.Timing = engine.Timing{
		FillPollInterval:  cfg.Timing.FillPollInterval,
		FillTimeout:       cfg.Timing.FillTimeout,
		SettleDelay:       cfg.Timing.SettleDelay,
		MarketSettleDelay: cfg.Timing.MarketSettleDelay,
	}
	return engine.New(gateway, params, o)
}

func newApp(cfg config.Config) (*app, error) {
	a := &app{runID: generateRunID()}
	params, err := cfg.Params()
	if err != nil {
		return nil, err
	}
	a.gateway, err = newGateway(cfg)
	if err != nil {
		return nil, err
	}

	sinks := notify.Multi{notify.Log{}}
	var recorders []engine.Recorder

	if len(cfg.Telegram.Routes) > 0 {
		sinks = append(sinks, notify.NewTelegram(cfg.Telegram.BaseURL, cfg.Telegram.Routes))
	}
	if cfg.NATS.URL != "" {
		publisher, conn, err := notify.ConnectNATS(cfg.NATS.URL, cfg.NATS.Prefix)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() error { conn.Close(); return nil })
		sinks = append(sinks, publisher)
		recorders = append(recorders, publisher)
	}
	if cfg.DecisionsPath != "" {
		decisions, err := engine.NewDecisionLogger(cfg.DecisionsPath)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("decision logger: %w", err)
		}
		a.closers = append(a.closers, decisions.Close)
		recorders = append(recorders, decisions)
	}
	var cycles server.CycleLister
	if cfg.Journal.Driver != "" {
		j, err := journal.Open(cfg.Journal.Driver, cfg.Journal.DSN)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, j.Close)
		recorders = append(recorders, j)
		cycles = j
	}

	store := state.NewStore()
	if cfg.StatePath != "" {
		if err := store.Load(cfg.StatePath); err == nil {
			slog.Info("loaded checkpoint", "path", cfg.StatePath)
		}
	}

	a.engine = newEngine(a.gateway, params, cfg, &engine.Options{
		Notifier:  sinks,
		Recorders: recorders,
		State:     store,
		RunID:     a.runID,
	})

	gatherer := md.NewGatherer(a.gateway)
	gatherer.Interval = cfg.Averages.Interval
	gatherer.Months = cfg.Averages.Months
	gatherer.Pause = cfg.Timing.CandlePause
	gatherer.Backoff = cfg.Timing.CandleBackoff
	if period, err := time.ParseDuration(cfg.Averages.Interval); err == nil {
		gatherer.Period = period
	}

	a.runner = runner.New(runner.Config{
		Universe: runner.Universe{
			Symbols: cfg.Universe.Symbols,
			Include: cfg.Universe.Include,
			Exclude: cfg.Universe.Exclude,
			Shard:   runner.Shard(cfg.Universe.Shard),
		},
		Interval:    cfg.Timing.LoopInterval,
		ShortWindow: cfg.Averages.ShortWindow,
		LongWindow:  cfg.Averages.LongWindow,
		Average:     cfg.Averages.Strategy,
		StatePath:   cfg.StatePath,
	}, a.gateway, gatherer, strategy.NewClassifier(params), a.engine, sinks, store)

	if cfg.ListenAddr != "" {
		a.server = server.New(cfg.ListenAddr, server.Deps{
			Gateway:    a.gateway,
			Valuer:     a.engine.Executor(),
			State:      store,
			Journal:    cycles,
			QuoteAsset: cfg.QuoteAsset,
			Debug:      cfg.Log.Level == "debug",
		})
	}
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Error("close failed", "error", err)
		}
	}
	a.closers = nil
}

func generateRunID() string {
	return time.Now().UTC().Format("20060102T150405") + "-" + uuid.NewString()[:8]
}
