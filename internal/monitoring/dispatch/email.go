package dispatch

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/perfwatch/perfwatch/internal/monitoring/model"
)

// EmailChannel delivers alerts over SMTP.
type EmailChannel struct {
	*BaseChannel
	host     string
	port     int
	username string
	password string
	from     string
	to       []string

	// sendMail allows overriding for tests
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmailChannel(name, host string, port int, username, password, from string, to []string, minSev, maxSev model.Severity, rateLimit time.Duration) *EmailChannel {
	return &EmailChannel{
		BaseChannel: NewBaseChannel(name, minSev, maxSev, rateLimit),
		host:        host,
		port:        port,
		username:    username,
		password:    password,
		from:        from,
		to:          to,
		sendMail:    smtp.SendMail,
	}
}

func (c *EmailChannel) Send(ctx context.Context, alert *model.Alert) bool {
	if len(c.to) == 0 {
		log.Warn().Str("channel", c.Name()).Msg("email channel has no recipients")
		return false
	}
	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(alert.Severity.String()), alert.RuleName)
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", c.from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(c.to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	fmt.Fprintf(&b, "%s\r\n\r\n", alert.Message)
	fmt.Fprintf(&b, "Metric:    %s\r\n", alert.MetricName)
	fmt.Fprintf(&b, "Value:     %.2f\r\n", alert.CurrentValue)
	fmt.Fprintf(&b, "Threshold: %.2f\r\n", alert.Threshold)
	fmt.Fprintf(&b, "Fired at:  %s\r\n", model.TimeOf(alert.Timestamp).UTC().Format(time.RFC3339))
	for k, v := range alert.Tags {
		fmt.Fprintf(&b, "Tag %s=%s\r\n", k, v)
	}

	// smtp.SendMail has no context support; the dispatcher's timeout still
	// bounds the caller via the goroutine it runs us in.
	var auth smtp.Auth
	if c.username != "" {
		auth = smtp.PlainAuth("", c.username, c.password, c.host)
	}
	addr := fmt.Sprintf("%s:%d", c.host, c.port)
	if err := c.sendMail(addr, auth, c.from, c.to, []byte(b.String())); err != nil {
		log.Error().Err(err).Str("channel", c.Name()).Str("alert_id", alert.ID).Msg("email send failed")
		return false
	}
	return true
}
