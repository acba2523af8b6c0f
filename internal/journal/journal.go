package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"spotbot/internal/engine"
	"spotbot/internal/strategy"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store keeps every cycle decision and its order actions in SQL.
type Store struct {
	db     *sql.DB
	driver string
}

func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported journal driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s journal: %w", driver, err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
			slog.Warn("failed to set WAL mode", "error", err)
		}
	}
	s := &Store{db: db, driver: driver}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS cycles (
		cycle_id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		ts BIGINT NOT NULL,
		signal TEXT NOT NULL,
		note TEXT,
		phase TEXT NOT NULL,
		result TEXT,
		reason TEXT,
		error TEXT,
		short_ma TEXT,
		long_ma TEXT,
		current_price TEXT,
		target_price TEXT,
		buy_back_price TEXT,
		stop_loss INTEGER NOT NULL DEFAULT 0,
		fill TEXT,
		dry_run INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS cycles_symbol_ts ON cycles (symbol, ts)`,
	`CREATE TABLE IF NOT EXISTS cycle_actions (
		cycle_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		kind TEXT NOT NULL,
		side TEXT,
		quantity TEXT,
		price TEXT,
		order_id TEXT,
		result TEXT,
		reason TEXT,
		PRIMARY KEY (cycle_id, seq)
	)`,
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate journal: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

// Record implements engine.Recorder.
func (s *Store) Record(ctx context.Context, d engine.Decision) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO cycles
		(cycle_id, run_id, symbol, ts, signal, note, phase, result, reason, error,
		 short_ma, long_ma, current_price, target_price, buy_back_price, stop_loss, fill, dry_run)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		d.CycleID, d.RunID, d.Symbol, d.Timestamp.UnixNano(), string(d.Signal), d.Note, string(d.Phase), d.Result, d.Reason, d.Error,
		d.ShortMA.String(), d.LongMA.String(), d.Current.String(), d.TargetPrice.String(), d.BuyBackPrice.String(),
		boolInt(d.StopLoss), string(d.Fill), boolInt(d.DryRun))
	if err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}
	for i, a := range d.Actions {
		_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO cycle_actions
			(cycle_id, seq, kind, side, quantity, price, order_id, result, reason)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			d.CycleID, i, string(a.Kind), string(a.Side), a.Quantity.String(), a.Price.String(), a.OrderID, a.Result, a.Reason)
		if err != nil {
			return fmt.Errorf("insert action: %w", err)
		}
	}
	return tx.Commit()
}

type Cycle struct {
	CycleID      string          `json:"cycle_id"`
	RunID        string          `json:"run_id"`
	Symbol       string          `json:"symbol"`
	Timestamp    time.Time       `json:"timestamp"`
	Signal       strategy.Signal `json:"signal"`
	Phase        string          `json:"phase"`
	Result       string          `json:"result"`
	Reason       string          `json:"reason,omitempty"`
	Error        string          `json:"error,omitempty"`
	Current      decimal.Decimal `json:"current"`
	TargetPrice  decimal.Decimal `json:"target_price"`
	BuyBackPrice decimal.Decimal `json:"buy_back_price"`
	DryRun       bool            `json:"dry_run"`
	Actions      int             `json:"actions"`
}

// Recent lists the newest cycles first. An empty symbol lists all symbols.
func (s *Store) Recent(ctx context.Context, symbol string, limit int) ([]Cycle, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT c.cycle_id, c.run_id, c.symbol, c.ts, c.signal, c.phase,
		COALESCE(c.result, ''), COALESCE(c.reason, ''), COALESCE(c.error, ''),
		COALESCE(c.current_price, '0'), COALESCE(c.target_price, '0'), COALESCE(c.buy_back_price, '0'), c.dry_run,
		(SELECT COUNT(*) FROM cycle_actions a WHERE a.cycle_id = c.cycle_id)
		FROM cycles c`
	args := []any{}
	if symbol != "" {
		query += ` WHERE c.symbol = ?`
		args = append(args, symbol)
	}
	query += ` ORDER BY c.ts DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query cycles: %w", err)
	}
	defer rows.Close()

	var out []Cycle
	for rows.Next() {
		var (
			c                        Cycle
			ts                       int64
			signal                   string
			current, target, buyBack string
			dryRun                   int
		)
		if err := rows.Scan(&c.CycleID, &c.RunID, &c.Symbol, &ts, &signal, &c.Phase, &c.Result, &c.Reason, &c.Error,
			&current, &target, &buyBack, &dryRun, &c.Actions); err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		c.Timestamp = time.Unix(0, ts).UTC()
		c.Signal = strategy.Signal(signal)
		c.Current = parseDecimal(current)
		c.TargetPrice = parseDecimal(target)
		c.BuyBackPrice = parseDecimal(buyBack)
		c.DryRun = dryRun != 0
		out = append(out, c)
	}
	return out, rows.Err()
}

func parseDecimal(v string) decimal.Decimal {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero
	}
	return d
}
