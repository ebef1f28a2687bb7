package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/perfwatch/perfwatch/internal/monitoring/model"
)

// SlackChannel posts alerts to a Slack incoming webhook.
type SlackChannel struct {
	*BaseChannel
	webhookURL string
	client     *http.Client
}

func NewSlackChannel(name, webhookURL string, minSev, maxSev model.Severity, rateLimit time.Duration) *SlackChannel {
	return &SlackChannel{
		BaseChannel: NewBaseChannel(name, minSev, maxSev, rateLimit),
		webhookURL:  webhookURL,
		client:      &http.Client{Timeout: defaultSendTimeout},
	}
}

func severityEmoji(s model.Severity) string {
	switch s {
	case model.SeverityEmergency:
		return ":rotating_light:"
	case model.SeverityCritical:
		return ":red_circle:"
	case model.SeverityWarning:
		return ":warning:"
	default:
		return ":information_source:"
	}
}

func (c *SlackChannel) Send(ctx context.Context, alert *model.Alert) bool {
	payload := map[string]any{
		"text": fmt.Sprintf("%s *[%s]* %s", severityEmoji(alert.Severity), alert.Severity, alert.Message),
		"attachments": []map[string]any{
			{
				"fields": []map[string]any{
					{"title": "Rule", "value": alert.RuleName, "short": true},
					{"title": "Metric", "value": alert.MetricName, "short": true},
					{"title": "Value", "value": fmt.Sprintf("%.2f", alert.CurrentValue), "short": true},
					{"title": "Threshold", "value": fmt.Sprintf("%.2f", alert.Threshold), "short": true},
				},
			},
		},
	}
	if err := postJSON(ctx, c.client, c.webhookURL, payload); err != nil {
		log.Error().Err(err).Str("channel", c.Name()).Str("alert_id", alert.ID).Msg("slack send failed")
		return false
	}
	return true
}
