package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"spotbot/internal/strategy"
)

type Decision struct {
	RunID        string          `json:"run_id"`
	CycleID      string          `json:"cycle_id"`
	Timestamp    time.Time       `json:"timestamp"`
	BarTime      time.Time       `json:"bar_time"`
	Symbol       string          `json:"symbol"`
	Signal       strategy.Signal `json:"signal"`
	Note         string          `json:"note,omitempty"`
	ShortMA      decimal.Decimal `json:"short_ma"`
	LongMA       decimal.Decimal `json:"long_ma"`
	Current      decimal.Decimal `json:"current"`
	TargetPrice  decimal.Decimal `json:"target_price"`
	BuyBackPrice decimal.Decimal `json:"buy_back_price"`
	StopLoss     bool            `json:"stop_loss"`
	Fill         FillStatus      `json:"fill,omitempty"`
	Phase        Phase           `json:"phase"`
	Result       string          `json:"result"`
	Reason       string          `json:"reason,omitempty"`
	Error        string          `json:"error,omitempty"`
	DryRun       bool            `json:"dry_run"`
	Actions      []Action        `json:"actions,omitempty"`
}

// Recorder persists cycle decisions.
type Recorder interface {
	Record(ctx context.Context, d Decision) error
}

// DecisionLogger appends decisions to a newline-delimited JSON file.
type DecisionLogger struct {
	file   *os.File
	writer *bufio.Writer
	mu     sync.Mutex
}

func NewDecisionLogger(path string) (*DecisionLogger, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open decision log: %w", err)
	}
	return &DecisionLogger{
		file:   file,
		writer: bufio.NewWriter(file),
	}, nil
}

func (d *DecisionLogger) Record(_ context.Context, decision Decision) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	payload, err := json.Marshal(decision)
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}
	if _, err := d.writer.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("write decision: %w", err)
	}
	if err := d.writer.Flush(); err != nil {
		return fmt.Errorf("flush decision log: %w", err)
	}
	return nil
}

func (d *DecisionLogger) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.writer.Flush(); err != nil {
		_ = d.file.Close()
		return err
	}
	return d.file.Close()
}
