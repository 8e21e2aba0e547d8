package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/alexgutscher26/ClawTrace-sub001/internal/auth"
	"github.com/alexgutscher26/ClawTrace-sub001/internal/gateway"
	"github.com/alexgutscher26/ClawTrace-sub001/internal/models"
	"github.com/alexgutscher26/ClawTrace-sub001/internal/ratelimit"
)

// AgentHandler serves the agent-facing handshake and heartbeat endpoints.
type AgentHandler struct {
	handshaker *auth.Handshaker
	gateway    *gateway.Gateway
	limiter    *ratelimit.Limiter
	logger     zerolog.Logger
}

// NewAgentHandler creates an agent handler.
func NewAgentHandler(handshaker *auth.Handshaker, gw *gateway.Gateway, limiter *ratelimit.Limiter, logger zerolog.Logger) *AgentHandler {
	return &AgentHandler{
		handshaker: handshaker,
		gateway:    gw,
		limiter:    limiter,
		logger:     logger.With().Str("component", "agent_handler").Logger(),
	}
}

// Handshake handles POST /api/v1/agents/handshake.
func (h *AgentHandler) Handshake(c *gin.Context) {
	if !h.checkGlobalLimit(c) {
		return
	}

	var req models.HandshakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
		return
	}

	resp, err := h.handshaker.Handshake(c.Request.Context(), &req)
	if err != nil {
		h.writeHandshakeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *AgentHandler) writeHandshakeError(c *gin.Context, err error) {
	var limited *ratelimit.LimitedError
	switch {
	case errors.As(err, &limited):
		writeRateLimited(c, limited)
	case errors.Is(err, auth.ErrAgentNotFound),
		errors.Is(err, auth.ErrTimestampOutOfWindow),
		errors.Is(err, auth.ErrSignatureMismatch),
		errors.Is(err, auth.ErrLegacySecretMismatch):
		// One status and body for every credential failure, unknown agent
		// included, so callers cannot probe which part of the handshake was
		// wrong or enumerate agent IDs.
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication failed"})
	default:
		h.logger.Error().Err(err).Msg("handshake failed")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Internal server error"})
	}
}

// Heartbeat handles POST /api/v1/agents/heartbeat.
func (h *AgentHandler) Heartbeat(c *gin.Context) {
	if !h.checkGlobalLimit(c) {
		return
	}

	var req models.HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
		return
	}

	token := bearerToken(c)
	if token == "" {
		token = req.Token
	}
	if token == "" {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "Missing token"})
		return
	}

	agentID, err := h.gateway.Authenticate(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "Invalid token"})
		return
	}

	ack, err := h.gateway.HandleHeartbeat(c.Request.Context(), agentID, req.Status, req.Metrics)
	if err != nil {
		var limited *ratelimit.LimitedError
		switch {
		case errors.As(err, &limited):
			writeRateLimited(c, limited)
		case errors.Is(err, gateway.ErrInvalidStatus):
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid status"})
		default:
			h.logger.Error().Err(err).Msg("heartbeat failed")
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Internal server error"})
		}
		return
	}

	c.JSON(http.StatusOK, ack)
}

// checkGlobalLimit charges the per-IP global bucket. Unauthenticated callers
// always get free-tier limits; tier-aware buckets are charged downstream once
// the caller is identified.
func (h *AgentHandler) checkGlobalLimit(c *gin.Context) bool {
	result := h.limiter.Check(c.Request.Context(), c.ClientIP(), ratelimit.RouteGlobal, models.TierFree)
	if result.Allowed {
		return true
	}

	var limited *ratelimit.LimitedError
	if errors.As(result.DeniedError(), &limited) {
		writeRateLimited(c, limited)
	}
	return false
}

func writeRateLimited(c *gin.Context, limited *ratelimit.LimitedError) {
	c.JSON(http.StatusTooManyRequests, models.RateLimitedResponse{
		Error:      "Too many requests",
		Type:       string(limited.Route),
		RetryAfter: int64(limited.RetryAfter),
	})
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}
	return token
}
