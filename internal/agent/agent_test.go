package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/alexgutscher26/ClawTrace-sub001/internal/models"
)

func TestSpool(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spool.db")
	logger := zerolog.Nop()

	spool, err := NewSpool(path, logger)
	if err != nil {
		t.Fatalf("create spool: %v", err)
	}
	defer spool.Close()

	ctx := context.Background()
	recordedAt := time.Now().Truncate(time.Second)

	m := &models.AgentMetrics{CPUUsage: 42.5, MemoryUsage: 61.2}
	if err := spool.Enqueue(ctx, models.AgentStatusHealthy, m, recordedAt); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := spool.Enqueue(ctx, models.AgentStatusError, nil, recordedAt.Add(time.Minute)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	n, err := spool.Len(ctx)
	if err != nil {
		t.Fatalf("len: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 spooled heartbeats, got %d", n)
	}

	pending, err := spool.Pending(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(pending))
	}
	if pending[0].Status != models.AgentStatusHealthy {
		t.Errorf("expected oldest first, got status %q", pending[0].Status)
	}
	if pending[0].Metrics == nil || pending[0].Metrics.CPUUsage != 42.5 {
		t.Errorf("metrics not round-tripped: %+v", pending[0].Metrics)
	}
	if pending[1].Metrics != nil {
		t.Errorf("expected nil metrics, got %+v", pending[1].Metrics)
	}

	if err := spool.Delete(ctx, pending[0].ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	n, err = spool.Len(ctx)
	if err != nil {
		t.Fatalf("len: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 remaining, got %d", n)
	}
}

func TestClientHandshake(t *testing.T) {
	agentID := uuid.New()

	var gotReq models.HandshakeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/agents/handshake" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(models.HandshakeResponse{
			Token:     "session-token",
			ExpiresIn: 86400,
			Policy:    &models.PolicyProfile{Name: "ops", HeartbeatInterval: 120},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, agentID, "agent-secret")
	if err := client.Handshake(context.Background()); err != nil {
		t.Fatalf("handshake: %v", err)
	}

	if gotReq.AgentID != agentID {
		t.Errorf("expected agent ID %s, got %s", agentID, gotReq.AgentID)
	}
	if gotReq.Signature == "" || gotReq.Timestamp == 0 {
		t.Errorf("expected signed request, got %+v", gotReq)
	}
	if client.token != "session-token" {
		t.Errorf("token not stored: %q", client.token)
	}
	if p := client.Policy(); p == nil || p.Interval() != 2*time.Minute {
		t.Errorf("policy not stored: %+v", p)
	}
}

func TestClientSendHeartbeat(t *testing.T) {
	newServer := func(status int, body any) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got := r.Header.Get("Authorization"); got != "Bearer session-token" {
				t.Errorf("unexpected authorization header %q", got)
			}
			w.WriteHeader(status)
			json.NewEncoder(w).Encode(body)
		}))
	}

	newClient := func(serverURL string) *Client {
		c := NewClient(serverURL, uuid.New(), "agent-secret")
		c.token = "session-token"
		return c
	}

	t.Run("acked heartbeat", func(t *testing.T) {
		srv := newServer(http.StatusOK, models.HeartbeatAck{Ack: true, LatencyMS: 1.5})
		defer srv.Close()

		ack, err := newClient(srv.URL).SendHeartbeat(context.Background(), models.AgentStatusHealthy, &models.AgentMetrics{CPUUsage: 10})
		if err != nil {
			t.Fatalf("send heartbeat: %v", err)
		}
		if !ack.Ack {
			t.Error("expected ack")
		}
	})

	t.Run("expired token", func(t *testing.T) {
		srv := newServer(http.StatusUnauthorized, models.ErrorResponse{Error: "Invalid token"})
		defer srv.Close()

		_, err := newClient(srv.URL).SendHeartbeat(context.Background(), models.AgentStatusHealthy, nil)
		if !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("rate limited", func(t *testing.T) {
		srv := newServer(http.StatusTooManyRequests, models.RateLimitedResponse{
			Error: "Too many requests", Type: "heartbeat", RetryAfter: 15,
		})
		defer srv.Close()

		_, err := newClient(srv.URL).SendHeartbeat(context.Background(), models.AgentStatusHealthy, nil)
		var limited *RateLimitedError
		if !errors.As(err, &limited) {
			t.Fatalf("expected RateLimitedError, got %v", err)
		}
		if limited.RetryAfter != 15*time.Second {
			t.Errorf("expected 15s retry, got %v", limited.RetryAfter)
		}
	})

	t.Run("no token requires handshake", func(t *testing.T) {
		c := NewClient("http://unused", uuid.New(), "agent-secret")
		if _, err := c.SendHeartbeat(context.Background(), models.AgentStatusHealthy, nil); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
	})
}
