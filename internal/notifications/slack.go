package notifications

import (
	"fmt"

	"github.com/alexgutscher26/ClawTrace-sub001/internal/models"
)

type slackMessage struct {
	Text string `json:"text"`
}

func slackPayload(alert *models.Alert, m *models.AgentMetrics) ([]byte, error) {
	body := newAlertBody(alert, m)
	snapshot := metricOrZero(m)

	return marshalPayload(slackMessage{
		Text: fmt.Sprintf("*%s*\n%s\n_Metric snapshot: CPU %.0f%%, MEM %.0f%%, LAT %.0fms_",
			body.Title, body.Message, snapshot.CPUUsage, snapshot.MemoryUsage, snapshot.LatencyMS),
	})
}
