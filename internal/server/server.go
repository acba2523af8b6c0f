package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"spotbot/internal/broker"
	"spotbot/internal/journal"
	"spotbot/internal/state"
)

// Valuer prices a set of balances in the quote asset.
type Valuer interface {
	TotalQuoteValue(ctx context.Context, balances broker.Balances) (decimal.Decimal, error)
}

// CycleLister reads the decision journal.
type CycleLister interface {
	Recent(ctx context.Context, symbol string, limit int) ([]journal.Cycle, error)
}

type Deps struct {
	Gateway    broker.Gateway
	Valuer     Valuer
	State      *state.Store
	Journal    CycleLister
	QuoteAsset string
	Debug      bool
}

type Server struct {
	deps   Deps
	engine *gin.Engine
	http   *http.Server
}

func New(addr string, deps Deps) *Server {
	if !deps.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{deps: deps, engine: gin.New()}
	s.engine.Use(gin.Recovery(), requestLogger())
	s.setupRoutes()
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", s.getHealth)
	s.engine.GET("/status", s.getStatus)
	s.engine.GET("/orders/:symbol", s.getOrders)
	s.engine.GET("/cycles", s.getCycles)
	s.engine.GET("/cycles/:symbol", s.getCycles)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) Start() error {
	slog.Info("status server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("http request", "method", c.Request.Method, "path", c.FullPath(), "status", c.Writer.Status(), "duration", time.Since(start))
	}
}

func (s *Server) getHealth(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if s.deps.State != nil {
		snap := s.deps.State.Snapshot()
		body["run_id"] = snap.RunID
		body["last_run"] = snap.LastRun
	}
	c.JSON(http.StatusOK, body)
}

type balanceView struct {
	Free   decimal.Decimal `json:"free"`
	Locked decimal.Decimal `json:"locked"`
}

func (s *Server) getStatus(c *gin.Context) {
	ctx := c.Request.Context()
	balances, err := s.deps.Gateway.Balances(ctx)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	view := make(map[string]balanceView)
	for asset, b := range balances {
		if b.Total().IsZero() {
			continue
		}
		view[asset] = balanceView{Free: b.Free, Locked: b.Locked}
	}
	body := gin.H{"balances": view, "quote_asset": s.deps.QuoteAsset}
	if s.deps.Valuer != nil {
		total, err := s.deps.Valuer.TotalQuoteValue(ctx, balances)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		body["total"] = total
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) getOrders(c *gin.Context) {
	symbol := c.Param("symbol")
	limit := queryInt(c, "limit", 20)
	trades, err := s.deps.Gateway.RecentTrades(c.Request.Context(), symbol, limit)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	open, err := s.deps.Gateway.OpenOrders(c.Request.Context(), symbol)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "trades": trades, "open_orders": open})
}

func (s *Server) getCycles(c *gin.Context) {
	symbol := c.Param("symbol")
	if s.deps.Journal != nil {
		cycles, err := s.deps.Journal.Recent(c.Request.Context(), symbol, queryInt(c, "limit", 50))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"cycles": cycles})
		return
	}
	if s.deps.State == nil {
		c.JSON(http.StatusOK, gin.H{"cycles": []state.SymbolState{}})
		return
	}
	if symbol != "" {
		st, ok := s.deps.State.Symbol(symbol)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no cycle recorded for " + symbol})
			return
		}
		c.JSON(http.StatusOK, gin.H{"cycles": []state.SymbolState{st}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cycles": s.deps.State.List()})
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
