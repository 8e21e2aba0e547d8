// Package auth implements the agent handshake and session token lifecycle.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/alexgutscher26/ClawTrace-sub001/internal/crypto"
	"github.com/alexgutscher26/ClawTrace-sub001/internal/metrics"
	"github.com/alexgutscher26/ClawTrace-sub001/internal/models"
	"github.com/alexgutscher26/ClawTrace-sub001/internal/policy"
	"github.com/alexgutscher26/ClawTrace-sub001/internal/ratelimit"
)

// ReplayWindow bounds how far a handshake timestamp may drift from server
// time, in either direction.
const ReplayWindow = 5 * time.Minute

var (
	// ErrAgentNotFound indicates the handshake referenced an unknown agent.
	ErrAgentNotFound = errors.New("agent not found")
	// ErrTimestampOutOfWindow indicates a handshake timestamp outside the
	// anti-replay window.
	ErrTimestampOutOfWindow = errors.New("handshake timestamp outside replay window")
	// ErrSignatureMismatch indicates an HMAC signature that does not match.
	ErrSignatureMismatch = errors.New("handshake signature mismatch")
	// ErrLegacySecretMismatch indicates a plaintext secret that does not match.
	ErrLegacySecretMismatch = errors.New("legacy agent secret mismatch")
)

// AuthMethod tags which credential form a handshake used.
type AuthMethod string

const (
	MethodSignature AuthMethod = "signature"
	MethodLegacy    AuthMethod = "legacy"
)

// Store is the persistence surface the handshake needs. The handshake only
// reads; it has no persistent side effects.
type Store interface {
	GetAgentAuth(ctx context.Context, agentID uuid.UUID) (*models.AgentAuth, error)
	// GetCustomPolicy returns the fleet's custom policy with the given name,
	// or nil when none exists.
	GetCustomPolicy(ctx context.Context, fleetID uuid.UUID, name string) (*models.CustomPolicy, error)
}

// Handshaker authenticates agents and mints session tokens.
type Handshaker struct {
	store    Store
	keys     *crypto.KeyManager
	issuer   *TokenIssuer
	limiter  *ratelimit.Limiter
	registry *metrics.Registry
	logger   zerolog.Logger
	now      func() time.Time
}

// NewHandshaker creates a Handshaker. The limiter charges the tier-scoped
// handshake bucket once the target agent is known; nil disables that check.
func NewHandshaker(store Store, keys *crypto.KeyManager, issuer *TokenIssuer, limiter *ratelimit.Limiter, registry *metrics.Registry, logger zerolog.Logger) *Handshaker {
	return &Handshaker{
		store:    store,
		keys:     keys,
		issuer:   issuer,
		limiter:  limiter,
		registry: registry,
		logger:   logger.With().Str("component", "handshake").Logger(),
		now:      time.Now,
	}
}

// Handshake verifies an agent's credentials and returns a session token plus
// the agent's resolved, tier-clamped policy. Signature verification is
// preferred; the plaintext secret path is kept only for agents that have not
// yet upgraded.
func (h *Handshaker) Handshake(ctx context.Context, req *models.HandshakeRequest) (*models.HandshakeResponse, error) {
	agent, err := h.store.GetAgentAuth(ctx, req.AgentID)
	if err != nil {
		if errors.Is(err, ErrAgentNotFound) {
			h.count(methodOf(req), "unknown_agent")
			return nil, err
		}
		return nil, fmt.Errorf("load agent auth: %w", err)
	}

	// The handshake bucket is charged per agent at the fleet's tier, before
	// credential verification so failed attempts burn tokens too.
	if h.limiter != nil {
		result := h.limiter.Check(ctx, agent.ID.String(), ratelimit.RouteHandshake, agent.Tier)
		if err := result.DeniedError(); err != nil {
			return nil, err
		}
	}

	secret, err := h.keys.DecryptString(agent.EncryptedSecret)
	if err != nil {
		return nil, fmt.Errorf("decrypt agent secret: %w", err)
	}

	method := methodOf(req)
	if err := h.verify(method, req, agent.ID, secret); err != nil {
		h.count(method, "rejected")
		h.logger.Warn().Err(err).
			Str("agent_id", agent.ID.String()).
			Str("method", string(method)).
			Msg("handshake rejected")
		return nil, err
	}
	if method == MethodLegacy {
		h.logger.Warn().
			Str("agent_id", agent.ID.String()).
			Msg("agent authenticated with deprecated plaintext secret")
	}
	h.count(method, "accepted")

	token, err := h.issuer.Issue(agent.ID, agent.FleetID)
	if err != nil {
		return nil, err
	}

	resolved := h.resolvePolicy(ctx, agent)

	return &models.HandshakeResponse{
		Token:      token,
		ExpiresIn:  int64(h.issuer.TTL().Seconds()),
		GatewayURL: agent.GatewayURL,
		Policy:     &resolved,
	}, nil
}

func (h *Handshaker) verify(method AuthMethod, req *models.HandshakeRequest, agentID uuid.UUID, secret string) error {
	if method == MethodSignature {
		now := h.now().Unix()
		if req.Timestamp <= 0 || absDiff(now, req.Timestamp) > int64(ReplayWindow.Seconds()) {
			return ErrTimestampOutOfWindow
		}

		expected := Sign(secret, agentID, req.Timestamp)
		got, err := hex.DecodeString(req.Signature)
		if err != nil {
			return ErrSignatureMismatch
		}
		want, _ := hex.DecodeString(expected)
		if !hmac.Equal(want, got) {
			return ErrSignatureMismatch
		}
		return nil
	}

	if subtle.ConstantTimeCompare([]byte(secret), []byte(req.AgentSecret)) != 1 {
		return ErrLegacySecretMismatch
	}
	return nil
}

// resolvePolicy resolves the agent's policy profile and applies the tier
// floor. A custom-policy lookup failure degrades to the built-in profile
// rather than failing the handshake.
func (h *Handshaker) resolvePolicy(ctx context.Context, agent *models.AgentAuth) models.PolicyProfile {
	name := agent.PolicyProfile
	if name == "" {
		name = policy.DefaultProfile
	}

	custom, err := h.store.GetCustomPolicy(ctx, agent.FleetID, name)
	if err != nil {
		h.logger.Warn().Err(err).
			Str("fleet_id", agent.FleetID.String()).
			Msg("custom policy lookup failed, using built-in profile")
		custom = nil
	}

	resolved := policy.Resolve(name, custom)
	resolved.HeartbeatInterval = policy.ClampInterval(agent.Tier, resolved.HeartbeatInterval)
	return resolved
}

func (h *Handshaker) count(method AuthMethod, outcome string) {
	h.registry.HandshakeAttempts.WithLabelValues(string(method), outcome).Inc()
}

func methodOf(req *models.HandshakeRequest) AuthMethod {
	if req.Signature != "" {
		return MethodSignature
	}
	return MethodLegacy
}

// Sign computes the handshake signature: hex-encoded
// HMAC-SHA256(secret, agentID || timestamp). Shared with the agent client.
func Sign(secret string, agentID uuid.UUID, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(agentID.String() + strconv.FormatInt(timestamp, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
