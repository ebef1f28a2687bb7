package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/perfwatch/perfwatch/internal/monitoring/model"
)

// postJSON marshals the payload and POSTs it, treating any non-2xx status as
// an error. Shared by all HTTP-based adapters.
func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	if client == nil {
		client = http.DefaultClient
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// WebhookChannel POSTs the raw alert JSON to a configured endpoint.
type WebhookChannel struct {
	*BaseChannel
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhookChannel creates a generic HTTP webhook adapter.
func NewWebhookChannel(name, url string, headers map[string]string, minSev, maxSev model.Severity, rateLimit time.Duration) *WebhookChannel {
	return &WebhookChannel{
		BaseChannel: NewBaseChannel(name, minSev, maxSev, rateLimit),
		url:         url,
		headers:     headers,
		client:      &http.Client{Timeout: defaultSendTimeout},
	}
}

func (c *WebhookChannel) Send(ctx context.Context, alert *model.Alert) bool {
	body, err := json.Marshal(map[string]any{
		"type":  "alert",
		"alert": alert,
	})
	if err != nil {
		log.Error().Err(err).Str("channel", c.Name()).Msg("webhook payload marshal failed")
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		log.Error().Err(err).Str("channel", c.Name()).Msg("webhook request build failed")
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		log.Error().Err(err).Str("channel", c.Name()).Msg("webhook post failed")
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Error().Int("status", resp.StatusCode).Str("channel", c.Name()).Msg("webhook rejected alert")
		return false
	}
	return true
}
