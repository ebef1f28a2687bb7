// Package dispatch fans alerts out to notification channels with per-channel
// rate limiting, timeouts and failure isolation.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/perfwatch/perfwatch/internal/monitoring/model"
)

// Channel is a notification adapter capable of delivering an alert
// externally. Send performs the network call and reports success; it must
// convert its own failures to false rather than panicking or returning an
// error, so the dispatcher only branches on the boolean.
type Channel interface {
	Name() string
	// ShouldSend reports whether the channel would accept this alert right
	// now: enabled, severity within range, and outside the rate-limit window
	// for this rule+metric pair.
	ShouldSend(alert *model.Alert) bool
	Send(ctx context.Context, alert *model.Alert) bool
}

// attemptMarker is implemented by channels whose rate-limit clock advances on
// every attempted send, successful or not. This bounds the outbound call rate
// even to a consistently failing endpoint.
type attemptMarker interface {
	MarkAttempt(alert *model.Alert)
}

// BaseChannel carries the policy state shared by all adapters: enablement,
// accepted severity range and the per rule+metric rate-limit ledger.
type BaseChannel struct {
	name        string
	enabled     bool
	minSeverity model.Severity
	maxSeverity model.Severity
	rateLimit   time.Duration

	mu       sync.Mutex
	lastSend map[string]time.Time

	// nowFn allows overriding for tests
	nowFn func() time.Time
}

// NewBaseChannel builds the shared channel state. The severity range is
// inclusive on both ends.
func NewBaseChannel(name string, minSev, maxSev model.Severity, rateLimit time.Duration) *BaseChannel {
	return &BaseChannel{
		name:        name,
		enabled:     true,
		minSeverity: minSev,
		maxSeverity: maxSev,
		rateLimit:   rateLimit,
		lastSend:    make(map[string]time.Time),
		nowFn:       time.Now,
	}
}

func (b *BaseChannel) Name() string { return b.name }

// SetEnabled toggles the channel.
func (b *BaseChannel) SetEnabled(enabled bool) {
	b.mu.Lock()
	b.enabled = enabled
	b.mu.Unlock()
}

func rateKey(alert *model.Alert) string {
	return alert.RuleName + "|" + alert.MetricName
}

// ShouldSend implements the channel admission policy.
func (b *BaseChannel) ShouldSend(alert *model.Alert) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.enabled {
		return false
	}
	if alert.Severity < b.minSeverity || alert.Severity > b.maxSeverity {
		return false
	}
	if b.rateLimit > 0 {
		if last, ok := b.lastSend[rateKey(alert)]; ok && b.nowFn().Sub(last) < b.rateLimit {
			return false
		}
	}
	return true
}

// MarkAttempt records a send attempt for rate limiting, independent of the
// eventual outcome.
func (b *BaseChannel) MarkAttempt(alert *model.Alert) {
	b.mu.Lock()
	b.lastSend[rateKey(alert)] = b.nowFn()
	b.mu.Unlock()
}
