package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/alexgutscher26/ClawTrace-sub001/internal/monitoring"
)

// CronHandler serves scheduler-triggered maintenance endpoints.
type CronHandler struct {
	detector *monitoring.Detector
	logger   zerolog.Logger
}

// NewCronHandler creates a cron handler.
func NewCronHandler(detector *monitoring.Detector, logger zerolog.Logger) *CronHandler {
	return &CronHandler{
		detector: detector,
		logger:   logger.With().Str("component", "cron_handler").Logger(),
	}
}

// CheckStale handles POST /api/v1/cron/check-stale. It runs a single stale
// agent sweep and reports which agents were transitioned to offline.
func (h *CronHandler) CheckStale(c *gin.Context) {
	resp, err := h.detector.Sweep(c.Request.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("stale sweep failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Sweep failed",
		})
		return
	}

	c.JSON(http.StatusOK, resp)
}
