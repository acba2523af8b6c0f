package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"spotbot/internal/broker"
	"spotbot/internal/metrics"
	"spotbot/internal/state"
	"spotbot/internal/strategy"
)

type Phase string

const (
	PhaseIdle      Phase = "IDLE"
	PhaseEvaluate  Phase = "EVALUATE"
	PhaseMarketBuy Phase = "MARKET_BUY"
	PhaseSell      Phase = "SELL_PHASE"
	PhaseBuy       Phase = "BUY_PHASE"
	PhaseSkipBuy   Phase = "SKIP_BUY"
	PhaseDone      Phase = "DONE"
	PhaseFailed    Phase = "FAILED"
)

type Engine struct {
	gateway   broker.Gateway
	exec      *Executor
	params    strategy.Params
	notifier  Notifier
	recorders []Recorder
	state     *state.Store
	runID     string
	now       func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

type Options struct {
	Timing    Timing
	Notifier  Notifier
	Recorders []Recorder
	State     *state.Store
	RunID     string
}

func New(gateway broker.Gateway, params strategy.Params, opts Options) *Engine {
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	if opts.State == nil {
		opts.State = state.NewStore()
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	return &Engine{
		gateway:   gateway,
		exec:      NewExecutor(gateway, params, opts.Timing, opts.Notifier),
		params:    params,
		notifier:  opts.Notifier,
		recorders: opts.Recorders,
		state:     opts.State,
		runID:     opts.RunID,
		now:       time.Now,
		locks:     map[string]*sync.Mutex{},
	}
}

func (e *Engine) Executor() *Executor {
	return e.exec
}

func (e *Engine) RunID() string {
	return e.runID
}

// lock serialises cycles per symbol so cancel-before-place cannot
// interleave with another cycle on the same symbol.
func (e *Engine) lock(symbol string) func() {
	e.mu.Lock()
	l, ok := e.locks[symbol]
	if !ok {
		l = &sync.Mutex{}
		e.locks[symbol] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

type cycle struct {
	e        *Engine
	decision Decision
	started  time.Time
}

func (c *cycle) enter(phase Phase) {
	slog.Info("cycle phase", "symbol", c.decision.Symbol, "phase", phase, "from", c.decision.Phase)
	c.decision.Phase = phase
}

// RunCycle executes one trading cycle for the evaluated symbol and returns
// the recorded decision. Errors are returned after the cycle has been
// logged, notified and recorded as failed.
func (e *Engine) RunCycle(ctx context.Context, eval strategy.Evaluation) (Decision, error) {
	unlock := e.lock(eval.Symbol)
	defer unlock()

	c := &cycle{e: e, started: e.now()}
	c.decision = Decision{
		RunID:     e.runID,
		CycleID:   uuid.NewString(),
		Timestamp: c.started.UTC(),
		BarTime:   eval.At,
		Symbol:    eval.Symbol,
		Signal:    eval.Signal,
		Note:      eval.Note,
		ShortMA:   eval.ShortMA,
		LongMA:    eval.LongMA,
		Current:   eval.Current,
		Phase:     PhaseIdle,
		DryRun:    e.params.DevelopmentMode,
	}
	metrics.SignalsTotal.WithLabelValues(eval.Symbol, string(eval.Signal)).Inc()
	if e.params.DevelopmentMode {
		slog.Debug("development mode, order actions are not submitted", "symbol", eval.Symbol)
	}

	err := c.run(ctx, eval)
	// the outcome is reported even when the cycle was cut short by shutdown
	final := context.WithoutCancel(ctx)
	if err != nil {
		c.enter(PhaseFailed)
		c.decision.Error = err.Error()
		slog.Error("cycle failed", "symbol", eval.Symbol, "error", err)
		e.notifier.Notify(final, eval.Symbol, "Error at sell and buy back. error message - "+err.Error())
		err = fmt.Errorf("cycle %s: %w", eval.Symbol, err)
	} else {
		c.enter(PhaseDone)
	}
	e.finish(final, c)
	return c.decision, err
}

func (c *cycle) run(ctx context.Context, eval strategy.Evaluation) error {
	e := c.e
	d := &c.decision
	c.enter(PhaseEvaluate)

	if eval.Signal == strategy.DoNothing {
		d.Result = "no_action"
		return nil
	}
	open, err := e.gateway.OpenOrders(ctx, eval.Symbol)
	if err != nil {
		return fmt.Errorf("fetch open orders: %w", err)
	}
	plan := Decide(eval, open, e.now(), e.params)
	d.TargetPrice = plan.Snapshot.TargetPrice
	d.BuyBackPrice = plan.Snapshot.BuyBackPrice
	d.Reason = plan.Reason
	if plan.Order != nil {
		slog.Debug("open order found", "symbol", eval.Symbol, "count", len(open), "margin_pct", plan.MarginPct, "age", plan.OrderAge)
	}

	cons, err := e.gateway.SymbolConstraints(ctx, eval.Symbol)
	if err != nil {
		return fmt.Errorf("fetch constraints: %w", err)
	}

	if plan.Escalate {
		c.enter(PhaseMarketBuy)
		msg := fmt.Sprintf("Deciding to submit a market buy back at %s margin %s%% open order age %s and signal %s",
			eval.Current, plan.MarginPct, plan.OrderAge.Round(time.Hour), eval.Signal)
		slog.Info("market buy back", "symbol", eval.Symbol, "margin_pct", plan.MarginPct, "age", plan.OrderAge, "signal", eval.Signal)
		e.notifier.Notify(ctx, eval.Symbol, msg)

		out, err := e.exec.MarketBuyBack(ctx, plan.Snapshot, cons)
		d.Actions = append(d.Actions, out.Actions...)
		if err != nil {
			return err
		}
		if out.Bought {
			d.Result = "market_buy"
			e.notifier.Notify(ctx, eval.Symbol, "market bought. So skipping SellAndBuyBack action")
			return nil
		}
		d.Reason = "market_buy_aborted: " + out.Reason
	}

	slog.Info("sell and buy back", "symbol", eval.Symbol, "current", eval.Current, "target", plan.Snapshot.TargetPrice, "buy_back", plan.Snapshot.BuyBackPrice)
	c.enter(PhaseSell)
	sell, err := e.exec.SellPhase(ctx, plan.Snapshot, cons)
	d.Actions = append(d.Actions, sell.Actions...)
	d.StopLoss = sell.Decision.StopLoss
	d.Fill = sell.Fill
	if err != nil {
		return err
	}

	if eval.Signal == strategy.Sell || eval.Signal == strategy.RiskBuy || sell.Decision.StopLoss {
		c.enter(PhaseSkipBuy)
		d.Result = "buy_skipped"
		slog.Info("skipping buy back", "symbol", eval.Symbol, "signal", eval.Signal, "stop_loss", sell.Decision.StopLoss)
		return nil
	}

	c.enter(PhaseBuy)
	buy, err := e.exec.BuyPhase(ctx, plan.Snapshot, cons)
	d.Actions = append(d.Actions, buy.Actions...)
	if err != nil {
		return err
	}
	if buy.Skipped {
		d.Result = "buy_rejected"
		d.Reason = buy.Reason
		return nil
	}
	d.Result = "buy_placed"
	return nil
}

func (e *Engine) finish(ctx context.Context, c *cycle) {
	d := c.decision
	metrics.CyclesTotal.WithLabelValues(d.Symbol, string(d.Phase)).Inc()
	metrics.CycleDuration.WithLabelValues(d.Symbol).Observe(e.now().Sub(c.started).Seconds())

	e.state.Update(state.SymbolState{
		Symbol:       d.Symbol,
		LastCycle:    d.Timestamp,
		Signal:       string(d.Signal),
		Phase:        string(d.Phase),
		Result:       d.Result,
		TargetPrice:  d.TargetPrice,
		BuyBackPrice: d.BuyBackPrice,
		Current:      d.Current,
		LastError:    d.Error,
	})
	for _, r := range e.recorders {
		if err := r.Record(ctx, d); err != nil {
			slog.Error("record decision failed", "symbol", d.Symbol, "error", err)
		}
	}
}
