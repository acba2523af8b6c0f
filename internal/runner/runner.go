package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"spotbot/internal/broker"
	"spotbot/internal/engine"
	"spotbot/internal/md"
	"spotbot/internal/metrics"
	"spotbot/internal/state"
	"spotbot/internal/strategy"
)

// ErrFatal marks failures that stop the scheduling loop.
var ErrFatal = errors.New("fatal")

type Config struct {
	Universe    Universe
	Interval    time.Duration
	ShortWindow int
	LongWindow  int
	Average     string
	// StatusSymbol routes run-level notifications.
	StatusSymbol string
	StatePath    string
}

type Runner struct {
	cfg        Config
	gateway    broker.Gateway
	gatherer   *md.Gatherer
	classifier strategy.Classifier
	engine     *engine.Engine
	notifier   engine.Notifier
	state      *state.Store
	now        func() time.Time
}

func New(cfg Config, gateway broker.Gateway, gatherer *md.Gatherer, classifier strategy.Classifier, eng *engine.Engine, notifier engine.Notifier, store *state.Store) *Runner {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Minute
	}
	if cfg.Average == "" {
		cfg.Average = md.StrategySMA
	}
	if cfg.StatusSymbol == "" {
		cfg.StatusSymbol = "BTCUSDT"
	}
	if store == nil {
		store = state.NewStore()
	}
	if notifier == nil {
		notifier = silent{}
	}
	return &Runner{
		cfg:        cfg,
		gateway:    gateway,
		gatherer:   gatherer,
		classifier: classifier,
		engine:     eng,
		notifier:   notifier,
		state:      store,
		now:        time.Now,
	}
}

type silent struct{}

func (silent) Notify(context.Context, string, string) {}

type Report struct {
	Symbols   int
	Evaluated int
	Skipped   int
	Failed    int
	Duration  time.Duration
}

// Evaluate gathers candles for symbol and classifies them. Insufficient
// history is returned as md.ErrInsufficientData.
func (r *Runner) Evaluate(ctx context.Context, symbol string) (strategy.Evaluation, error) {
	candles := r.gatherer.Gather(ctx, symbol)
	if len(candles) == 0 {
		return strategy.Evaluation{}, fmt.Errorf("%s: %w", symbol, md.ErrInsufficientData)
	}
	short, long, live, err := md.MovingAverages(candles, r.cfg.ShortWindow, r.cfg.LongWindow, r.cfg.Average)
	if err != nil {
		return strategy.Evaluation{}, fmt.Errorf("%s: %w", symbol, err)
	}
	return r.classifier.Classify(symbol, short, long, live), nil
}

// RunSymbol runs one full cycle for a single symbol.
func (r *Runner) RunSymbol(ctx context.Context, symbol string) (engine.Decision, error) {
	slog.Info("ticker", "symbol", symbol)
	eval, err := r.Evaluate(ctx, symbol)
	if err != nil {
		return engine.Decision{}, err
	}
	return r.engine.RunCycle(ctx, eval)
}

// RunOnce walks the universe sequentially. Per-symbol failures are logged
// and counted; only a universe failure is returned, wrapped in ErrFatal.
func (r *Runner) RunOnce(ctx context.Context) (Report, error) {
	start := r.now()
	var report Report
	symbols, err := r.cfg.Universe.Select(ctx, r.gateway)
	if err != nil {
		metrics.PassesTotal.WithLabelValues("fatal").Inc()
		return report, fmt.Errorf("%w: %v", ErrFatal, err)
	}
	report.Symbols = len(symbols)

	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		_, err := r.RunSymbol(ctx, symbol)
		switch {
		case err == nil:
			report.Evaluated++
		case errors.Is(err, md.ErrInsufficientData):
			report.Skipped++
			slog.Info("skipping symbol", "symbol", symbol, "reason", err)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return report, err
		default:
			report.Failed++
			slog.Error("symbol cycle failed", "symbol", symbol, "error", err)
		}
	}

	report.Duration = r.now().Sub(start)
	r.state.SetLastRun(r.engine.RunID(), r.now().UTC())
	if r.cfg.StatePath != "" {
		if err := r.state.Save(r.cfg.StatePath); err != nil {
			slog.Error("save state failed", "path", r.cfg.StatePath, "error", err)
		}
	}
	metrics.PassesTotal.WithLabelValues("ok").Inc()
	metrics.LastPassTimestamp.SetToCurrentTime()
	slog.Info("pass complete", "symbols", report.Symbols, "evaluated", report.Evaluated, "skipped", report.Skipped, "failed", report.Failed, "duration", report.Duration)
	return report, nil
}

// Run executes a pass immediately and then every Interval until ctx ends.
// A fatal error or a panic inside a pass stops the loop after a FATAL
// notification.
func (r *Runner) Run(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: panic: %v", ErrFatal, p)
		}
		if err != nil && errors.Is(err, ErrFatal) {
			slog.Error("main loop stopped", "error", err)
			r.notifier.Notify(context.WithoutCancel(ctx), r.cfg.StatusSymbol, "FATAL.... Main loop stopped. Bot not running. "+err.Error())
		}
	}()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		r.notifier.Notify(ctx, r.cfg.StatusSymbol, fmt.Sprintf("Run started @ %s", r.now().UTC().Format(time.RFC3339)))
		if _, err := r.RunOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
