// Package alerting evaluates metric points against configured rules and
// tracks the lifecycle of the alerts they produce.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/perfwatch/perfwatch/internal/monitoring/metrics"
	"github.com/perfwatch/perfwatch/internal/monitoring/model"
)

const maxHistory = 1000

var (
	// ErrDuplicateRule indicates a rule with the same name already exists.
	ErrDuplicateRule = errors.New("duplicate rule name")
	// ErrInvalidRule indicates a rule failed validation at registration time.
	ErrInvalidRule = errors.New("invalid alert rule")
	// ErrRuleNotFound indicates an unknown rule name.
	ErrRuleNotFound = errors.New("rule not found")
	// ErrAlertNotActive indicates the alert id is not in the active set.
	ErrAlertNotActive = errors.New("alert not active")
)

// AlertObserver receives every newly fired alert. Observers run synchronously
// on the evaluating goroutine; a panicking observer is isolated.
type AlertObserver func(model.Alert)

// Engine holds the rule set, per-rule cooldown state, the active alert set
// and a bounded history. Evaluate may be called concurrently from the
// collection loop and any direct push API.
type Engine struct {
	mu    sync.RWMutex
	rules map[string]*model.AlertRule

	cooldownMu sync.Mutex
	lastFired  map[string]time.Time // keyed rule name + canonical metric name

	stateMu sync.Mutex
	active  map[string]*model.Alert
	history []model.Alert

	obsMu     sync.RWMutex
	observers map[int]AlertObserver
	nextObsID int

	cache   Cache
	archive Archive
	metrics *metrics.Metrics

	// nowFn allows overriding for tests
	nowFn func() time.Time
}

// NewEngine creates an engine with no rules. cache and archive may be nil;
// both degrade to no-ops.
func NewEngine(m *metrics.Metrics) *Engine {
	if m == nil {
		m = metrics.Nop()
	}
	return &Engine{
		rules:     make(map[string]*model.AlertRule),
		lastFired: make(map[string]time.Time),
		active:    make(map[string]*model.Alert),
		observers: make(map[int]AlertObserver),
		cache:     NoopCache{},
		archive:   NoopArchive{},
		metrics:   m,
		nowFn:     time.Now,
	}
}

// WithCache injects a write-through alert cache.
func (e *Engine) WithCache(c Cache) *Engine {
	if c != nil {
		e.cache = c
	}
	return e
}

// WithArchive injects a durable alert archive.
func (e *Engine) WithArchive(a Archive) *Engine {
	if a != nil {
		e.archive = a
	}
	return e
}

// AddRule registers a rule. Duplicate names and malformed rules (empty name
// or metric, unknown condition, negative cooldown) are rejected here so that
// evaluation never sees an invalid rule.
func (e *Engine) AddRule(rule model.AlertRule) error {
	if rule.Name == "" || rule.MetricName == "" {
		return fmt.Errorf("%w: name and metric_name are required", ErrInvalidRule)
	}
	if !rule.Condition.Valid() {
		return fmt.Errorf("%w: unknown condition %q", ErrInvalidRule, rule.Condition)
	}
	if rule.Cooldown < 0 {
		return fmt.Errorf("%w: negative cooldown", ErrInvalidRule)
	}
	rule.TagsFilter = model.NormalizeTags(rule.TagsFilter)
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.rules[rule.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateRule, rule.Name)
	}
	e.rules[rule.Name] = &rule
	log.Info().Str("rule", rule.Name).Str("metric", rule.MetricName).
		Str("condition", string(rule.Condition)).Float64("threshold", rule.Threshold).
		Msg("alert rule registered")
	return nil
}

// SetRuleEnabled toggles a rule. Rules are never deleted at runtime.
func (e *Engine) SetRuleEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.rules[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, name)
	}
	r.Enabled = enabled
	return nil
}

// Rule returns a copy of the named rule.
func (e *Engine) Rule(name string) (model.AlertRule, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.rules[name]
	if !ok {
		return model.AlertRule{}, fmt.Errorf("%w: %s", ErrRuleNotFound, name)
	}
	return *r, nil
}

// Rules returns a snapshot of all registered rules.
func (e *Engine) Rules() []model.AlertRule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]model.AlertRule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, *r)
	}
	return out
}

// Subscribe registers an observer for newly fired alerts.
func (e *Engine) Subscribe(fn AlertObserver) int {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	e.nextObsID++
	id := e.nextObsID
	e.observers[id] = fn
	return id
}

// Unsubscribe removes an alert observer.
func (e *Engine) Unsubscribe(id int) {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	delete(e.observers, id)
}

// Evaluate checks the point against every enabled rule for its metric and
// returns the alerts that fired. Independent rules on the same metric may
// each fire in the same evaluation; a rule inside its cooldown window is
// skipped silently.
func (e *Engine) Evaluate(point model.MetricPoint) []model.Alert {
	started := e.nowFn()
	defer func() {
		e.metrics.EvaluationDuration.Observe(e.nowFn().Sub(started).Seconds())
	}()

	e.mu.RLock()
	candidates := make([]*model.AlertRule, 0, 4)
	for _, r := range e.rules {
		if r.Enabled && r.MetricName == point.Name {
			candidates = append(candidates, r)
		}
	}
	e.mu.RUnlock()
	if len(candidates) == 0 {
		return nil
	}

	tags := model.NormalizeTags(point.Tags)
	now := e.nowFn()
	var fired []model.Alert
	for _, r := range candidates {
		if !r.MatchesTags(tags) {
			continue
		}
		if !r.Condition.Eval(point.Value, r.Threshold) {
			continue
		}
		key := r.Name + "|" + point.Name
		e.cooldownMu.Lock()
		if last, ok := e.lastFired[key]; ok && now.Sub(last) < r.Cooldown {
			e.cooldownMu.Unlock()
			continue
		}
		e.lastFired[key] = now
		e.cooldownMu.Unlock()

		alert := e.fire(r, point, now)
		fired = append(fired, alert)
	}
	return fired
}

func (e *Engine) fire(r *model.AlertRule, point model.MetricPoint, now time.Time) model.Alert {
	alert := model.Alert{
		ID:           uuid.NewString(),
		RuleName:     r.Name,
		MetricName:   point.Name,
		CurrentValue: point.Value,
		Threshold:    r.Threshold,
		Severity:     r.Severity,
		Message:      formatMessage(r, point),
		Timestamp:    model.UnixSeconds(now),
		Tags:         point.Tags,
	}

	e.stateMu.Lock()
	e.active[alert.ID] = &alert
	e.history = append(e.history, alert)
	if len(e.history) > maxHistory {
		e.history = append(e.history[:0], e.history[len(e.history)-maxHistory:]...)
	}
	e.stateMu.Unlock()

	e.metrics.AlertsFired.WithLabelValues(r.Name).Inc()
	log.Warn().Str("alert_id", alert.ID).Str("rule", r.Name).Str("metric", point.Name).
		Float64("value", point.Value).Float64("threshold", r.Threshold).
		Str("severity", alert.Severity.String()).Msg("alert fired")

	// Write-through to cache and archive. Errors are logged, never surfaced.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.cache.WriteAlert(ctx, &alert); err != nil {
		log.Error().Err(err).Str("alert_id", alert.ID).Msg("alert cache write failed")
	}
	if err := e.archive.InsertAlert(ctx, &alert); err != nil {
		log.Error().Err(err).Str("alert_id", alert.ID).Msg("alert archive insert failed")
	}

	e.notify(alert)
	return alert
}

func formatMessage(r *model.AlertRule, point model.MetricPoint) string {
	desc := r.Description
	if desc == "" {
		desc = r.Name
	}
	return fmt.Sprintf("%s: %s is %.2f (threshold %s %.2f)",
		desc, point.Name, point.Value, r.Condition, r.Threshold)
}

func (e *Engine) notify(alert model.Alert) {
	e.obsMu.RLock()
	observers := make([]AlertObserver, 0, len(e.observers))
	for _, fn := range e.observers {
		observers = append(observers, fn)
	}
	e.obsMu.RUnlock()
	for _, fn := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Any("panic", r).Str("alert_id", alert.ID).Msg("alert observer panicked")
				}
			}()
			fn(alert)
		}()
	}
}

// Resolve marks the alert resolved, removes it from the active set and keeps
// the resolved copy visible in history.
func (e *Engine) Resolve(alertID string) error {
	now := model.UnixSeconds(e.nowFn())
	e.stateMu.Lock()
	alert, ok := e.active[alertID]
	if !ok {
		e.stateMu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlertNotActive, alertID)
	}
	alert.Resolved = true
	alert.ResolvedAt = &now
	delete(e.active, alertID)
	for i := range e.history {
		if e.history[i].ID == alertID {
			e.history[i] = *alert
			break
		}
	}
	resolved := *alert
	e.stateMu.Unlock()

	e.metrics.AlertsResolved.Inc()
	log.Info().Str("alert_id", alertID).Msg("alert resolved")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.cache.MarkResolved(ctx, &resolved); err != nil {
		log.Error().Err(err).Str("alert_id", alertID).Msg("alert cache resolve failed")
	}
	if err := e.archive.MarkResolved(ctx, &resolved); err != nil {
		log.Error().Err(err).Str("alert_id", alertID).Msg("alert archive resolve failed")
	}
	return nil
}

// ActiveAlerts returns a snapshot of currently unresolved alerts.
func (e *Engine) ActiveAlerts() []model.Alert {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	out := make([]model.Alert, 0, len(e.active))
	for _, a := range e.active {
		out = append(out, *a)
	}
	return out
}

// History returns up to limit most recent alerts, newest last. limit <= 0
// returns the full bounded history.
func (e *Engine) History(limit int) []model.Alert {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	n := len(e.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]model.Alert, n)
	copy(out, e.history[len(e.history)-n:])
	return out
}
