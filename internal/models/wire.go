package models

import "github.com/google/uuid"

// Wire types for the agent-facing protocol: handshake, heartbeat, sweep.

// HandshakeRequest is the body of a handshake call. Signature-based callers
// send Timestamp and Signature; legacy callers send the plaintext AgentSecret.
type HandshakeRequest struct {
	AgentID     uuid.UUID `json:"agent_id" binding:"required"`
	Timestamp   int64     `json:"timestamp,omitempty"`
	Signature   string    `json:"signature,omitempty"`
	AgentSecret string    `json:"agent_secret,omitempty"`
}

// HandshakeResponse is returned on a successful handshake.
type HandshakeResponse struct {
	Token      string         `json:"token"`
	ExpiresIn  int64          `json:"expires_in"`
	GatewayURL string         `json:"gateway_url,omitempty"`
	Policy     *PolicyProfile `json:"policy"`
}

// HeartbeatRequest is a single heartbeat message. Over HTTP the credential
// travels in the Authorization header; over the WebSocket stream it is the
// Token field.
type HeartbeatRequest struct {
	AgentID uuid.UUID     `json:"agent_id"`
	Token   string        `json:"token,omitempty"`
	Status  AgentStatus   `json:"status,omitempty"`
	Metrics *AgentMetrics `json:"metrics,omitempty"`
}

// HeartbeatAck acknowledges a heartbeat.
type HeartbeatAck struct {
	Ack       bool    `json:"ack"`
	LatencyMS float64 `json:"latency_ms"`
}

// ErrorResponse is the uniform agent-facing error body. It never carries
// store-internal detail.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RateLimitedResponse is returned with HTTP 429 when a token bucket is empty.
type RateLimitedResponse struct {
	Error      string `json:"error"`
	Type       string `json:"type"`
	RetryAfter int64  `json:"retry_after"`
}

// SweptAgent describes one agent transitioned to offline by a sweep.
type SweptAgent struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	LastHeartbeat string    `json:"last_heartbeat"`
}

// SweepResponse is returned by the stale-agent sweep endpoint.
type SweepResponse struct {
	Success       bool         `json:"success"`
	UpdatedCount  int          `json:"updated_count"`
	UpdatedAgents []SweptAgent `json:"updated_agents"`
}
