package notifications

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/alexgutscher26/ClawTrace-sub001/internal/models"
)

// sendWebhook posts the generic JSON envelope. When the channel carries a
// secret the payload is HMAC-signed so receivers can authenticate it.
func (s *Service) sendWebhook(ctx context.Context, channel *models.AlertChannel, alert *models.Alert, m *models.AgentMetrics) error {
	payload, err := marshalPayload(newAlertBody(alert, m))
	if err != nil {
		return fmt.Errorf("build webhook payload: %w", err)
	}

	headers := map[string]string{
		"X-ClawTrace-Event":     string(alert.Type),
		"X-ClawTrace-Timestamp": strconv.FormatInt(time.Now().Unix(), 10),
	}
	if channel.Secret != "" {
		headers["X-ClawTrace-Signature-256"] = signPayload(payload, channel.Secret)
	}

	return s.post(ctx, channel.WebhookURL, payload, headers)
}

func signPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
