// Package notifications delivers triggered alerts to external channels.
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/alexgutscher26/ClawTrace-sub001/internal/httpclient"
	"github.com/alexgutscher26/ClawTrace-sub001/internal/models"
)

// Service sends alert notifications over HTTP. It implements the alert
// engine's ChannelSender.
type Service struct {
	client *http.Client
	logger zerolog.Logger
}

// NewService creates a notification Service.
func NewService(timeout time.Duration, logger zerolog.Logger) *Service {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client, _ := httpclient.New(httpclient.Options{Timeout: timeout})
	return &Service{
		client: client,
		logger: logger.With().Str("component", "notifications").Logger(),
	}
}

// Send delivers the alert on the channel's configured transport.
func (s *Service) Send(ctx context.Context, channel *models.AlertChannel, alert *models.Alert, m *models.AgentMetrics) error {
	if channel.WebhookURL == "" {
		return nil
	}

	var (
		body []byte
		err  error
	)
	switch channel.Type {
	case models.ChannelTypeSlack:
		body, err = slackPayload(alert, m)
	case models.ChannelTypeDiscord:
		body, err = discordPayload(alert, m)
	case models.ChannelTypeWebhook:
		return s.sendWebhook(ctx, channel, alert, m)
	default:
		return fmt.Errorf("unknown channel type %q", channel.Type)
	}
	if err != nil {
		return fmt.Errorf("build %s payload: %w", channel.Type, err)
	}

	return s.post(ctx, channel.WebhookURL, body, nil)
}

func (s *Service) post(ctx context.Context, url string, body []byte, headers map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "ClawTrace-Notifier/1.0")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post notification: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// alertBody is the common notification envelope for generic webhooks.
type alertBody struct {
	Title     string               `json:"title"`
	Message   string               `json:"message"`
	AgentID   string               `json:"agent_id"`
	AlertType string               `json:"type"`
	Metrics   *models.AgentMetrics `json:"metrics,omitempty"`
	Timestamp string               `json:"timestamp"`
}

func newAlertBody(alert *models.Alert, m *models.AgentMetrics) alertBody {
	return alertBody{
		Title:     fmt.Sprintf("⚡ Fleet Alert: %s", alert.AgentName),
		Message:   alert.Message,
		AgentID:   alert.AgentID.String(),
		AlertType: string(alert.Type),
		Metrics:   m,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

func metricOrZero(m *models.AgentMetrics) models.AgentMetrics {
	if m == nil {
		return models.AgentMetrics{}
	}
	return *m
}

func marshalPayload(v any) ([]byte, error) {
	return json.Marshal(v)
}
