package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/perfwatch/perfwatch/internal/monitoring/model"
)

// DiscordChannel posts alerts to a Discord webhook as an embed.
type DiscordChannel struct {
	*BaseChannel
	webhookURL string
	client     *http.Client
}

func NewDiscordChannel(name, webhookURL string, minSev, maxSev model.Severity, rateLimit time.Duration) *DiscordChannel {
	return &DiscordChannel{
		BaseChannel: NewBaseChannel(name, minSev, maxSev, rateLimit),
		webhookURL:  webhookURL,
		client:      &http.Client{Timeout: defaultSendTimeout},
	}
}

func severityColor(s model.Severity) int {
	switch s {
	case model.SeverityEmergency:
		return 0x8b0000
	case model.SeverityCritical:
		return 0xff0000
	case model.SeverityWarning:
		return 0xffa500
	default:
		return 0x3498db
	}
}

func (c *DiscordChannel) Send(ctx context.Context, alert *model.Alert) bool {
	payload := map[string]any{
		"embeds": []map[string]any{
			{
				"title":       fmt.Sprintf("[%s] %s", alert.Severity, alert.RuleName),
				"description": alert.Message,
				"color":       severityColor(alert.Severity),
				"fields": []map[string]any{
					{"name": "Metric", "value": alert.MetricName, "inline": true},
					{"name": "Value", "value": fmt.Sprintf("%.2f", alert.CurrentValue), "inline": true},
					{"name": "Threshold", "value": fmt.Sprintf("%.2f", alert.Threshold), "inline": true},
				},
			},
		},
	}
	if err := postJSON(ctx, c.client, c.webhookURL, payload); err != nil {
		log.Error().Err(err).Str("channel", c.Name()).Str("alert_id", alert.ID).Msg("discord send failed")
		return false
	}
	return true
}
