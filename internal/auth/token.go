package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTokenTTL is how long a session token stays valid.
const DefaultTokenTTL = 24 * time.Hour

// ErrInvalidToken indicates a session token that failed verification for any
// reason: bad signature, expired, malformed claims.
var ErrInvalidToken = errors.New("invalid session token")

// SessionClaims are the claims carried by an agent session token.
type SessionClaims struct {
	AgentID string `json:"agent_id"`
	FleetID string `json:"fleet_id"`
	jwt.RegisteredClaims
}

// AgentUUID parses the agent_id claim.
func (c *SessionClaims) AgentUUID() (uuid.UUID, error) {
	return uuid.Parse(c.AgentID)
}

// TokenIssuer mints and verifies HS256 session tokens. Verification is
// stateless; the heartbeat hot path never touches the database.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenIssuer creates a TokenIssuer signing with secret. A non-positive
// ttl falls back to DefaultTokenTTL.
func NewTokenIssuer(secret []byte, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenIssuer{secret: secret, ttl: ttl}
}

// TTL returns the configured token lifetime.
func (t *TokenIssuer) TTL() time.Duration {
	return t.ttl
}

// Issue mints a session token for an agent.
func (t *TokenIssuer) Issue(agentID, fleetID uuid.UUID) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		AgentID: agentID.String(),
		FleetID: fleetID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a session token.
func (t *TokenIssuer) Verify(token string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
