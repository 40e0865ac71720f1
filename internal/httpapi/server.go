package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"broker-governor/internal/logger"
	"broker-governor/internal/ratelimit"
	"broker-governor/internal/subscription"
	"broker-governor/internal/trades"
	"broker-governor/internal/types"

	"github.com/gin-gonic/gin"
)

// Source is the read-only view of the governor served over HTTP.
type Source interface {
	Quota() ratelimit.Usage
	Sessions() []subscription.SessionInfo
	GetRecentTrades(instrumentID string) []types.TradeRecord
	GetTradeRuns(instrumentID string) []types.TradeRun
	GetTradeStats(instrumentID string) (trades.TradeStats, bool)
	TradedInstruments() []string
}

type Handler struct {
	src Source
}

func NewHandler(src Source) *Handler {
	return &Handler{src: src}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) Quota(c *gin.Context) {
	c.JSON(http.StatusOK, h.src.Quota())
}

func (h *Handler) Sessions(c *gin.Context) {
	c.JSON(http.StatusOK, h.src.Sessions())
}

func (h *Handler) Instruments(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"instruments": h.src.TradedInstruments()})
}

func (h *Handler) RecentTrades(c *gin.Context) {
	id := c.Param("instrument")
	recent := h.src.GetRecentTrades(id)
	if recent == nil {
		recent = []types.TradeRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"instrument_id": id, "trades": recent})
}

func (h *Handler) Runs(c *gin.Context) {
	id := c.Param("instrument")
	runs := h.src.GetTradeRuns(id)
	if runs == nil {
		runs = []types.TradeRun{}
	}
	c.JSON(http.StatusOK, gin.H{"instrument_id": id, "runs": runs})
}

func (h *Handler) Stats(c *gin.Context) {
	id := c.Param("instrument")
	st, ok := h.src.GetTradeStats(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no trades for instrument", "instrument_id": id})
		return
	}
	c.JSON(http.StatusOK, st)
}

func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", h.Health)
	router.GET("/quota", h.Quota)
	router.GET("/sessions", h.Sessions)

	tr := router.Group("/trades")
	tr.GET("", h.Instruments)
	tr.GET("/:instrument", h.RecentTrades)
	tr.GET("/:instrument/runs", h.Runs)
	tr.GET("/:instrument/stats", h.Stats)

	return router
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug(c.Request.Context(), "HTTP request served",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start).String())
	}
}

// Server runs the status API until Shutdown.
type Server struct {
	srv *http.Server
}

func NewServer(addr string, src Source) *Server {
	if !logger.IsDebugEnabled() {
		gin.SetMode(gin.ReleaseMode)
	}
	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           NewRouter(NewHandler(src)),
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

// ListenAndServe blocks until the server stops. A clean Shutdown returns nil.
func (s *Server) ListenAndServe(ctx context.Context) error {
	logger.Info(ctx, "Status API listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
