package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"spotbot/internal/config"
	"spotbot/internal/runner"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "spotbot",
		Short:         "Moving-average spot trading bot",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(runCmd(), onceCmd(), balancesCmd(), historyCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(config.DefaultPath, cmd.Flags())
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	setupLogging(cfg.Log)
	return cfg, nil
}

func setupLogging(cfg config.LogConfig) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Trade the universe every loop interval until stopped",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.server != nil {
				go func() {
					if err := a.server.Start(); err != nil {
						slog.Error("status server stopped", "error", err)
					}
				}()
				defer func() {
					shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
					defer done()
					_ = a.server.Shutdown(shutdownCtx)
				}()
			}

			slog.Info("starting bot", "run_id", a.runID, "exchange", cfg.Exchange, "dev", cfg.DevelopmentMode, "interval", cfg.Timing.LoopInterval)
			err = a.runner.Run(ctx)
			if errors.Is(err, runner.ErrFatal) {
				return err
			}
			slog.Info("bot shutdown complete")
			return err
		},
	}
}

func onceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "once [symbol...]",
		Short: "Run a single pass over the universe or the given symbols",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if len(args) > 0 {
				for _, symbol := range args {
					d, err := a.runner.RunSymbol(ctx, strings.ToUpper(symbol))
					if err != nil {
						slog.Error("cycle failed", "symbol", symbol, "error", err)
						continue
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s signal=%s phase=%s result=%s\n", d.Symbol, d.Signal, d.Phase, d.Result)
				}
				return nil
			}
			report, err := a.runner.RunOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "symbols=%d evaluated=%d skipped=%d failed=%d duration=%s\n",
				report.Symbols, report.Evaluated, report.Skipped, report.Failed, report.Duration.Round(time.Millisecond))
			return nil
		},
	}
}

func balancesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balances",
		Short: "Print non-zero balances and their total quote value",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			gateway, err := newGateway(cfg)
			if err != nil {
				return err
			}
			balances, err := gateway.Balances(ctx)
			if err != nil {
				return fmt.Errorf("balances: %w", err)
			}
			out := cmd.OutOrStdout()
			for asset, b := range balances {
				if b.Total().IsZero() {
					continue
				}
				fmt.Fprintf(out, "%-8s free=%s locked=%s\n", asset, b.Free, b.Locked)
			}
			params, err := cfg.Params()
			if err != nil {
				return err
			}
			total, err := newEngine(gateway, params, cfg, nil).Executor().TotalQuoteValue(ctx, balances)
			if err != nil {
				return fmt.Errorf("total value: %w", err)
			}
			fmt.Fprintf(out, "total %s=%s\n", cfg.QuoteAsset, total)
			return nil
		},
	}
}

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <symbol>",
		Short: "Print recent trades and open orders for a symbol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			gateway, err := newGateway(cfg)
			if err != nil {
				return err
			}
			symbol := strings.ToUpper(args[0])
			trades, err := gateway.RecentTrades(ctx, symbol, limit)
			if err != nil {
				return fmt.Errorf("trades: %w", err)
			}
			out := cmd.OutOrStdout()
			for _, t := range trades {
				side := "SELL"
				if t.IsBuyer {
					side = "BUY"
				}
				fmt.Fprintf(out, "%s %-4s qty=%s price=%s order=%s\n", t.Time.UTC().Format(time.RFC3339), side, t.Quantity, t.Price, t.OrderID)
			}
			open, err := gateway.OpenOrders(ctx, symbol)
			if err != nil {
				return fmt.Errorf("open orders: %w", err)
			}
			for _, o := range open {
				fmt.Fprintf(out, "open %s %s qty=%s price=%s id=%s\n", o.Side, o.Type, o.Quantity, o.Price, o.ID)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of trades")
	return cmd
}
