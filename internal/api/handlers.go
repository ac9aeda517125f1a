package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aurictrade/auric/internal/db"
	"github.com/aurictrade/auric/internal/executor"
)

const (
	defaultSignalWindow = time.Hour
	defaultListLimit    = 50
	maxListLimit        = 500
)

// fail writes the uniform failure shape
func fail(c *gin.Context, status int, code string) {
	c.JSON(status, gin.H{"ok": false, "error": code})
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.deps.Store.Health(c.Request.Context()); err != nil {
		fail(c, http.StatusServiceUnavailable, "database_unavailable")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":               true,
		"bridge_connected": s.deps.Bridge.Connected(),
	})
}

func (s *Server) handleSignals(c *gin.Context) {
	limit := listLimit(c)
	since := time.Now().Add(-defaultSignalWindow)
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			fail(c, http.StatusBadRequest, "invalid_since")
			return
		}
		since = parsed
	}

	signals, err := s.deps.Store.GetLatestSignals(c.Request.Context(), since, limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Signal listing failed")
		fail(c, http.StatusInternalServerError, "query_failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "signals": signals})
}

func (s *Server) handleExecutions(c *gin.Context) {
	events, err := s.deps.Store.GetRecentExecutionEvents(c.Request.Context(), listLimit(c))
	if err != nil {
		s.logger.Error().Err(err).Msg("Execution listing failed")
		fail(c, http.StatusInternalServerError, "query_failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "executions": events})
}

func (s *Server) handlePositions(c *gin.Context) {
	positions, err := s.deps.Store.GetPositionSnapshots(c.Request.Context(), c.Query("account_id"))
	if err != nil {
		s.logger.Error().Err(err).Msg("Position listing failed")
		fail(c, http.StatusInternalServerError, "query_failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "positions": positions})
}

func (s *Server) handleGetSettings(c *gin.Context) {
	all, err := s.deps.Store.GetAllSettings(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Settings listing failed")
		fail(c, http.StatusInternalServerError, "query_failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "settings": all})
}

func (s *Server) handlePutSettings(c *gin.Context) {
	var body map[string]string
	if err := c.ShouldBindJSON(&body); err != nil || len(body) == 0 {
		fail(c, http.StatusBadRequest, "invalid_body")
		return
	}

	if err := s.deps.Settings.SetMany(c.Request.Context(), body); err != nil {
		s.logger.Error().Err(err).Msg("Settings update failed")
		fail(c, http.StatusInternalServerError, "update_failed")
		return
	}
	s.logger.Info().Int("keys", len(body)).Msg("Settings updated via API")
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleDXY(c *gin.Context) {
	snapshot, err := s.deps.DXY.Context(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("DXY context read failed")
		fail(c, http.StatusInternalServerError, "query_failed")
		return
	}
	if snapshot == nil {
		fail(c, http.StatusNotFound, "no_context")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "dxy": snapshot})
}

type executeRequest struct {
	Symbol string   `json:"symbol" binding:"required"`
	Side   string   `json:"side" binding:"required"`
	Volume float64  `json:"volume" binding:"required,gt=0"`
	Price  float64  `json:"price" binding:"required,gt=0"`
	SL     *float64 `json:"sl"`
	TP     *float64 `json:"tp"`
}

// handleExecute places a manual order. Manual flow still passes the
// governance gate, with automation checks skipped.
func (s *Server) handleExecute(c *gin.Context) {
	var body executeRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "invalid_body")
		return
	}

	var side db.OrderSide
	switch body.Side {
	case string(db.OrderSideBuy):
		side = db.OrderSideBuy
	case string(db.OrderSideSell):
		side = db.OrderSideSell
	default:
		fail(c, http.StatusBadRequest, "invalid_side")
		return
	}

	decision := s.deps.Governor.Decide(c.Request.Context(), "manual", s.deps.Bridge.Connected(), false)
	if !decision.Allow {
		c.JSON(http.StatusForbidden, gin.H{"ok": false, "error": "governance_denied", "reason": decision.Reason})
		return
	}

	result, err := s.deps.Executor.Execute(c.Request.Context(), executor.Request{
		Source:         "manual",
		Symbol:         body.Symbol,
		Side:           side,
		Volume:         body.Volume,
		RequestedPrice: body.Price,
		SL:             body.SL,
		TP:             body.TP,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("symbol", body.Symbol).Msg("Manual execution failed")
		fail(c, http.StatusInternalServerError, "execution_failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":     true,
		"status": result.Status,
		"event":  result.Event,
	})
}

func listLimit(c *gin.Context) int {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit
}
