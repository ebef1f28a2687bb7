package dispatch

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/perfwatch/perfwatch/internal/monitoring/model"
)

const pagerdutyEventsURL = "https://events.pagerduty.com/v2/enqueue"

// PagerDutyChannel triggers incidents through the PagerDuty Events API v2.
type PagerDutyChannel struct {
	*BaseChannel
	routingKey string
	apiURL     string
	source     string
	client     *http.Client
}

func NewPagerDutyChannel(name, routingKey, source string, minSev, maxSev model.Severity, rateLimit time.Duration) *PagerDutyChannel {
	if source == "" {
		source = "perfwatch"
	}
	return &PagerDutyChannel{
		BaseChannel: NewBaseChannel(name, minSev, maxSev, rateLimit),
		routingKey:  routingKey,
		apiURL:      pagerdutyEventsURL,
		source:      source,
		client:      &http.Client{Timeout: defaultSendTimeout},
	}
}

// pagerdutySeverity maps to the four values the Events API accepts.
func pagerdutySeverity(s model.Severity) string {
	switch s {
	case model.SeverityEmergency, model.SeverityCritical:
		return "critical"
	case model.SeverityWarning:
		return "warning"
	default:
		return "info"
	}
}

func (c *PagerDutyChannel) Send(ctx context.Context, alert *model.Alert) bool {
	payload := map[string]any{
		"routing_key":  c.routingKey,
		"event_action": "trigger",
		"dedup_key":    alert.ID,
		"payload": map[string]any{
			"summary":  alert.Message,
			"source":   c.source,
			"severity": pagerdutySeverity(alert.Severity),
			"custom_details": map[string]any{
				"rule_name":     alert.RuleName,
				"metric_name":   alert.MetricName,
				"current_value": alert.CurrentValue,
				"threshold":     alert.Threshold,
				"tags":          alert.Tags,
			},
		},
	}
	if err := postJSON(ctx, c.client, c.apiURL, payload); err != nil {
		log.Error().Err(err).Str("channel", c.Name()).Str("alert_id", alert.ID).Msg("pagerduty send failed")
		return false
	}
	return true
}
