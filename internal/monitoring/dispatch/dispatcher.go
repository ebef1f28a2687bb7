package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/perfwatch/perfwatch/internal/monitoring/metrics"
	"github.com/perfwatch/perfwatch/internal/monitoring/model"
)

const (
	defaultSendTimeout = 10 * time.Second
	maxHistory         = 1000
)

// ErrDuplicateChannel indicates a channel with the same name already exists.
var ErrDuplicateChannel = errors.New("duplicate channel name")

// RuleChannelsFunc resolves the channel names configured on a rule. Returning
// an empty slice means the rule targets all registered channels.
type RuleChannelsFunc func(ruleName string) []string

// Dispatcher fans an alert out to its target channels concurrently. One slow
// or failing channel is bounded by its own timeout and cannot stall siblings.
type Dispatcher struct {
	mu       sync.RWMutex
	channels map[string]Channel

	historyMu sync.Mutex
	history   []model.Alert

	ruleChannels RuleChannelsFunc
	timeout      time.Duration
	metrics      *metrics.Metrics
}

// NewDispatcher creates a dispatcher with no channels registered.
func NewDispatcher(m *metrics.Metrics) *Dispatcher {
	if m == nil {
		m = metrics.Nop()
	}
	return &Dispatcher{
		channels: make(map[string]Channel),
		timeout:  defaultSendTimeout,
		metrics:  m,
	}
}

// WithRuleResolver injects the lookup used when SendAlert is called without
// explicit channel names.
func (d *Dispatcher) WithRuleResolver(fn RuleChannelsFunc) *Dispatcher {
	d.ruleChannels = fn
	return d
}

// WithTimeout overrides the per-channel send timeout.
func (d *Dispatcher) WithTimeout(timeout time.Duration) *Dispatcher {
	if timeout > 0 {
		d.timeout = timeout
	}
	return d
}

// Register adds a channel. Duplicate names are rejected synchronously.
func (d *Dispatcher) Register(ch Channel) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.channels[ch.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateChannel, ch.Name())
	}
	d.channels[ch.Name()] = ch
	log.Info().Str("channel", ch.Name()).Msg("notification channel registered")
	return nil
}

// ChannelNames returns all registered channel names.
func (d *Dispatcher) ChannelNames() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.channels))
	for name := range d.channels {
		out = append(out, name)
	}
	return out
}

// SendAlert dispatches the alert to each resolved channel concurrently and
// returns one boolean per targeted channel. The target set is the explicit
// names when given, otherwise the rule's configured channels, otherwise every
// registered channel. The alert is appended to the dispatch history
// regardless of any channel outcome.
func (d *Dispatcher) SendAlert(ctx context.Context, alert model.Alert, channelNames ...string) map[string]bool {
	d.appendHistory(alert)

	targets := d.resolveTargets(alert.RuleName, channelNames)
	results := make(map[string]bool, len(targets))
	if len(targets) == 0 {
		return results
	}

	var wg sync.WaitGroup
	var resMu sync.Mutex
	for _, name := range targets {
		d.mu.RLock()
		ch, ok := d.channels[name]
		d.mu.RUnlock()
		if !ok {
			log.Warn().Str("channel", name).Str("alert_id", alert.ID).Msg("unknown channel requested")
			resMu.Lock()
			results[name] = false
			resMu.Unlock()
			continue
		}
		wg.Add(1)
		go func(name string, ch Channel) {
			defer wg.Done()
			ok := d.dispatchOne(ctx, ch, &alert)
			resMu.Lock()
			results[name] = ok
			resMu.Unlock()
		}(name, ch)
	}
	wg.Wait()
	return results
}

func (d *Dispatcher) resolveTargets(ruleName string, explicit []string) []string {
	if len(explicit) > 0 {
		return explicit
	}
	if d.ruleChannels != nil {
		if names := d.ruleChannels(ruleName); len(names) > 0 {
			return names
		}
	}
	return d.ChannelNames()
}

// dispatchOne runs one channel send under its own timeout with panic
// isolation. The rate-limit clock advances on every attempt, so a channel
// that keeps failing is still rate limited.
func (d *Dispatcher) dispatchOne(ctx context.Context, ch Channel, alert *model.Alert) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Any("panic", r).Str("channel", ch.Name()).Str("alert_id", alert.ID).
				Msg("channel send panicked")
			ok = false
		}
		if ok {
			d.metrics.NotificationsSent.WithLabelValues(ch.Name()).Inc()
		} else {
			d.metrics.NotifyErrors.WithLabelValues(ch.Name()).Inc()
		}
	}()

	if !ch.ShouldSend(alert) {
		log.Debug().Str("channel", ch.Name()).Str("alert_id", alert.ID).Msg("channel declined alert")
		return false
	}
	if m, isMarker := ch.(attemptMarker); isMarker {
		m.MarkAttempt(alert)
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	done := make(chan bool, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Any("panic", r).Str("channel", ch.Name()).Msg("channel send panicked")
				done <- false
			}
		}()
		done <- ch.Send(sendCtx, alert)
	}()

	select {
	case ok = <-done:
	case <-sendCtx.Done():
		// Timeout is treated identically to a send failure. The in-flight
		// call observes sendCtx and unwinds on its own.
		log.Warn().Str("channel", ch.Name()).Str("alert_id", alert.ID).Msg("channel send timed out")
		ok = false
	}
	if !ok {
		log.Warn().Str("channel", ch.Name()).Str("alert_id", alert.ID).Msg("channel send failed")
	}
	return ok
}

func (d *Dispatcher) appendHistory(alert model.Alert) {
	d.historyMu.Lock()
	d.history = append(d.history, alert)
	if len(d.history) > maxHistory {
		d.history = append(d.history[:0], d.history[len(d.history)-maxHistory:]...)
	}
	d.historyMu.Unlock()
}

// History returns a snapshot of dispatched alerts, oldest first.
func (d *Dispatcher) History() []model.Alert {
	d.historyMu.Lock()
	defer d.historyMu.Unlock()
	out := make([]model.Alert, len(d.history))
	copy(out, d.history)
	return out
}
