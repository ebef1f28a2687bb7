package alerting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfwatch/perfwatch/internal/monitoring/model"
)

func gtRule(name, metric string, threshold float64, cooldown time.Duration) model.AlertRule {
	return model.AlertRule{
		Name:       name,
		MetricName: metric,
		Condition:  model.CondGT,
		Threshold:  threshold,
		Severity:   model.SeverityWarning,
		Cooldown:   cooldown,
		Enabled:    true,
	}
}

func pointAt(name string, value float64, at time.Time) model.MetricPoint {
	return model.MetricPoint{Name: name, Type: model.MetricGauge, Value: value, Timestamp: model.UnixSeconds(at)}
}

func TestAddRuleValidation(t *testing.T) {
	e := NewEngine(nil)
	require.NoError(t, e.AddRule(gtRule("high_cpu", "cpu_usage", 80, 0)))

	err := e.AddRule(gtRule("high_cpu", "cpu_usage", 90, 0))
	assert.ErrorIs(t, err, ErrDuplicateRule)

	bad := gtRule("bad_cond", "cpu_usage", 80, 0)
	bad.Condition = "between"
	assert.ErrorIs(t, e.AddRule(bad), ErrInvalidRule)

	assert.ErrorIs(t, e.AddRule(gtRule("", "cpu_usage", 80, 0)), ErrInvalidRule)
	assert.ErrorIs(t, e.AddRule(gtRule("no_metric", "", 80, 0)), ErrInvalidRule)
}

func TestEvaluateCooldown(t *testing.T) {
	e := NewEngine(nil)
	base := time.Unix(1_700_000_000, 0)
	now := base
	e.nowFn = func() time.Time { return now }

	require.NoError(t, e.AddRule(gtRule("high_cpu", "cpu_usage", 80, 300*time.Second)))

	fired := e.Evaluate(pointAt("cpu_usage", 85, now))
	require.Len(t, fired, 1, "first breach fires")

	now = base.Add(100 * time.Second)
	fired = e.Evaluate(pointAt("cpu_usage", 85, now))
	require.Len(t, fired, 0, "breach inside cooldown is skipped")

	now = base.Add(301 * time.Second)
	fired = e.Evaluate(pointAt("cpu_usage", 85, now))
	require.Len(t, fired, 1, "breach after cooldown fires again")
}

func TestEvaluateTagsFilter(t *testing.T) {
	e := NewEngine(nil)
	rule := gtRule("web1_cpu", "cpu_usage", 80, 0)
	rule.TagsFilter = map[string]string{"host": "web1"}
	require.NoError(t, e.AddRule(rule))

	p := pointAt("cpu_usage", 90, time.Now())
	p.Tags = map[string]string{"host": "web2"}
	assert.Len(t, e.Evaluate(p), 0, "differing tag value must not fire")

	p.Tags = map[string]string{"host": "web1", "region": "us"}
	assert.Len(t, e.Evaluate(p), 1, "superset of the filter must fire")
}

func TestEvaluateMultipleRulesSameMetric(t *testing.T) {
	e := NewEngine(nil)
	require.NoError(t, e.AddRule(gtRule("warn_cpu", "cpu_usage", 70, 0)))
	require.NoError(t, e.AddRule(gtRule("crit_cpu", "cpu_usage", 85, 0)))

	disabled := gtRule("off_cpu", "cpu_usage", 10, 0)
	disabled.Enabled = false
	require.NoError(t, e.AddRule(disabled))

	fired := e.Evaluate(pointAt("cpu_usage", 90, time.Now()))
	require.Len(t, fired, 2, "independent rules may each fire in one evaluation")
}

func TestResolve(t *testing.T) {
	e := NewEngine(nil)
	require.NoError(t, e.AddRule(gtRule("high_cpu", "cpu_usage", 80, 0)))

	fired := e.Evaluate(pointAt("cpu_usage", 85, time.Now()))
	require.Len(t, fired, 1)
	alertID := fired[0].ID

	require.Len(t, e.ActiveAlerts(), 1)
	require.NoError(t, e.Resolve(alertID))
	assert.Len(t, e.ActiveAlerts(), 0, "resolve removes from active set")

	history := e.History(0)
	require.Len(t, history, 1, "resolved alert remains in history")
	assert.True(t, history[0].Resolved)
	require.NotNil(t, history[0].ResolvedAt)

	err := e.Resolve(alertID)
	assert.ErrorIs(t, err, ErrAlertNotActive, "second resolve of same id errors")
}

func TestSetRuleEnabled(t *testing.T) {
	e := NewEngine(nil)
	require.NoError(t, e.AddRule(gtRule("high_cpu", "cpu_usage", 80, 0)))

	require.NoError(t, e.SetRuleEnabled("high_cpu", false))
	assert.Len(t, e.Evaluate(pointAt("cpu_usage", 85, time.Now())), 0)

	require.NoError(t, e.SetRuleEnabled("high_cpu", true))
	assert.Len(t, e.Evaluate(pointAt("cpu_usage", 85, time.Now())), 1)

	assert.ErrorIs(t, e.SetRuleEnabled("ghost", true), ErrRuleNotFound)
}

func TestAlertObserverIsolation(t *testing.T) {
	e := NewEngine(nil)
	require.NoError(t, e.AddRule(gtRule("high_cpu", "cpu_usage", 80, 0)))

	var received []model.Alert
	e.Subscribe(func(a model.Alert) { panic("observer blew up") })
	e.Subscribe(func(a model.Alert) { received = append(received, a) })

	e.Evaluate(pointAt("cpu_usage", 85, time.Now()))
	require.Len(t, received, 1, "panicking observer must not drop delivery to others")
	assert.Equal(t, "high_cpu", received[0].RuleName)
}

func TestHistoryBounded(t *testing.T) {
	e := NewEngine(nil)
	require.NoError(t, e.AddRule(gtRule("noisy", "cpu_usage", 0, 0)))
	for i := 0; i < maxHistory+50; i++ {
		require.Len(t, e.Evaluate(pointAt("cpu_usage", 1, time.Now())), 1)
	}
	assert.Len(t, e.History(0), maxHistory)
	assert.Len(t, e.History(10), 10)
}

func TestMessageFormat(t *testing.T) {
	e := NewEngine(nil)
	rule := gtRule("high_cpu", "cpu_usage", 80, 0)
	rule.Description = "CPU usage too high"
	require.NoError(t, e.AddRule(rule))

	fired := e.Evaluate(pointAt("cpu_usage", 92.5, time.Now()))
	require.Len(t, fired, 1)
	assert.Contains(t, fired[0].Message, "CPU usage too high")
	assert.Contains(t, fired[0].Message, "cpu_usage")
	assert.Contains(t, fired[0].Message, "92.50")
	assert.Contains(t, fired[0].Message, "80.00")
}
