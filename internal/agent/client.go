// Package agent provides the ClawTrace agent: metric collection, an HTTP
// client for the control plane, and an offline heartbeat spool.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/alexgutscher26/ClawTrace-sub001/internal/auth"
	"github.com/alexgutscher26/ClawTrace-sub001/internal/httpclient"
	"github.com/alexgutscher26/ClawTrace-sub001/internal/models"
)

// ErrUnauthorized indicates the session token was rejected and a new
// handshake is required.
var ErrUnauthorized = errors.New("unauthorized")

// RateLimitedError indicates the server asked the agent to back off.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// Client is an HTTP client for communicating with the ClawTrace server.
type Client struct {
	serverURL  string
	agentID    uuid.UUID
	secret     string
	httpClient *http.Client

	token  string
	policy *models.PolicyProfile
}

// NewClient creates a new agent API client.
func NewClient(serverURL string, agentID uuid.UUID, secret string) *Client {
	client, _ := httpclient.New(httpclient.Options{})
	return &Client{
		serverURL:  serverURL,
		agentID:    agentID,
		secret:     secret,
		httpClient: client,
	}
}

// SetHTTPClient replaces the underlying HTTP client, e.g. to route traffic
// through a configured proxy.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Policy returns the policy profile from the last successful handshake, or
// nil before the first handshake.
func (c *Client) Policy() *models.PolicyProfile {
	return c.policy
}

// Handshake authenticates with the server using a signed timestamp and stores
// the resulting session token for subsequent heartbeats.
func (c *Client) Handshake(ctx context.Context) error {
	ts := time.Now().Unix()
	req := models.HandshakeRequest{
		AgentID:   c.agentID,
		Timestamp: ts,
		Signature: auth.Sign(c.secret, c.agentID, ts),
	}

	var resp models.HandshakeResponse
	if err := c.post(ctx, "/api/v1/agents/handshake", req, &resp); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	c.token = resp.Token
	c.policy = resp.Policy
	return nil
}

// SendHeartbeat delivers one heartbeat. ErrUnauthorized means the caller
// should re-handshake and retry.
func (c *Client) SendHeartbeat(ctx context.Context, status models.AgentStatus, m *models.AgentMetrics) (*models.HeartbeatAck, error) {
	if c.token == "" {
		return nil, ErrUnauthorized
	}

	req := models.HeartbeatRequest{
		Status:  status,
		Metrics: m,
	}

	var ack models.HeartbeatAck
	if err := c.postAuthed(ctx, "/api/v1/agents/heartbeat", req, &ack); err != nil {
		return nil, fmt.Errorf("send heartbeat: %w", err)
	}
	return &ack, nil
}

func (c *Client) post(ctx context.Context, path string, payload, result any) error {
	return c.do(ctx, path, payload, result, "")
}

func (c *Client) postAuthed(ctx context.Context, path string, payload, result any) error {
	return c.do(ctx, path, payload, result, c.token)
}

func (c *Client) do(ctx context.Context, path string, payload, result any, token string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		if result != nil {
			return json.Unmarshal(body, result)
		}
		return nil
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusTooManyRequests:
		var limited models.RateLimitedResponse
		retryAfter := time.Minute
		if err := json.Unmarshal(body, &limited); err == nil && limited.RetryAfter > 0 {
			retryAfter = time.Duration(limited.RetryAfter) * time.Second
		}
		return &RateLimitedError{RetryAfter: retryAfter}
	default:
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}
}
