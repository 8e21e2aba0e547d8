package notifications

import (
	"fmt"

	"github.com/alexgutscher26/ClawTrace-sub001/internal/models"
)

const discordAlertColor = 0xff0000

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordFooter struct {
	Text string `json:"text"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields"`
	Footer      discordFooter  `json:"footer"`
}

type discordMessage struct {
	Embeds []discordEmbed `json:"embeds"`
}

func discordPayload(alert *models.Alert, m *models.AgentMetrics) ([]byte, error) {
	body := newAlertBody(alert, m)
	snapshot := metricOrZero(m)

	return marshalPayload(discordMessage{
		Embeds: []discordEmbed{{
			Title:       body.Title,
			Description: body.Message,
			Color:       discordAlertColor,
			Fields: []discordField{
				{Name: "CPU", Value: fmt.Sprintf("%.0f%%", snapshot.CPUUsage), Inline: true},
				{Name: "Memory", Value: fmt.Sprintf("%.0f%%", snapshot.MemoryUsage), Inline: true},
				{Name: "Latency", Value: fmt.Sprintf("%.0fms", snapshot.LatencyMS), Inline: true},
			},
			Footer: discordFooter{Text: "ClawTrace Monitor"},
		}},
	})
}
