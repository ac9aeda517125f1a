// Package api is the operator surface: REST endpoints over gin, the
// websocket activity stream and the prometheus scrape route.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/aurictrade/auric/internal/bus"
	"github.com/aurictrade/auric/internal/config"
	"github.com/aurictrade/auric/internal/db"
	"github.com/aurictrade/auric/internal/dxy"
	"github.com/aurictrade/auric/internal/executor"
	"github.com/aurictrade/auric/internal/governance"
	"github.com/aurictrade/auric/internal/metrics"
	"github.com/aurictrade/auric/internal/settings"
)

// Store is the database surface the handlers read
type Store interface {
	Health(ctx context.Context) error
	GetLatestSignals(ctx context.Context, since time.Time, limit int) ([]*db.TradingSignal, error)
	GetRecentExecutionEvents(ctx context.Context, limit int) ([]*db.ExecutionEvent, error)
	GetPositionSnapshots(ctx context.Context, accountID string) ([]*db.PositionSnapshot, error)
	GetAllSettings(ctx context.Context) ([]db.AppSetting, error)
}

// DXYReader serves the cached dollar-index context
type DXYReader interface {
	Context(ctx context.Context) (*dxy.Context, error)
}

// OrderExecutor dispatches manual orders
type OrderExecutor interface {
	Execute(ctx context.Context, req executor.Request) (*executor.Result, error)
}

// Governor gates manual orders
type Governor interface {
	Decide(ctx context.Context, source string, bridgeConnected, isAutomation bool) governance.Decision
}

// BridgeStatus reports broker connectivity
type BridgeStatus interface {
	Connected() bool
}

// Deps wires the server to the rest of the system. Bus may be nil when
// the activity stream is disabled.
type Deps struct {
	Store    Store
	Settings *settings.Service
	DXY      DXYReader
	Executor OrderExecutor
	Governor Governor
	Bridge   BridgeStatus
	Bus      *bus.Bus
}

// Server is the REST and websocket front end
type Server struct {
	router *gin.Engine
	deps   Deps
	addr   string
	server *http.Server
	logger zerolog.Logger
}

// NewServer builds the router and handlers
func NewServer(cfg config.APIConfig, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	s := &Server{
		router: router,
		deps:   deps,
		addr:   cfg.GetAPIAddr(),
		logger: config.NewLogger("api"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/api")
	{
		api.GET("/signals", s.handleSignals)
		api.GET("/executions", s.handleExecutions)
		api.GET("/positions", s.handlePositions)
		api.GET("/settings", s.handleGetSettings)
		api.PUT("/settings", s.handlePutSettings)
		api.GET("/dxy", s.handleDXY)
		api.POST("/execute", s.handleExecute)
	}

	s.router.GET("/ws/activity", s.handleActivityStream)
}

// Handler exposes the router for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Stop is called
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", s.addr).Msg("Starting API server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info().Msg("Stopping API server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api shutdown failed: %w", err)
	}
	return nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		metrics.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, route).Observe(latency.Seconds())

		event := log.Info()
		if status >= http.StatusInternalServerError {
			event = log.Error()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP()).
			Msg("API request")
	}
}
