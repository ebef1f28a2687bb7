package dispatch

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfwatch/perfwatch/internal/monitoring/model"
)

type fakeChannel struct {
	*BaseChannel
	sendFn func(ctx context.Context, alert *model.Alert) bool
	sent   atomic.Int32
}

func newFake(name string, sendFn func(ctx context.Context, alert *model.Alert) bool) *fakeChannel {
	if sendFn == nil {
		sendFn = func(context.Context, *model.Alert) bool { return true }
	}
	return &fakeChannel{
		BaseChannel: NewBaseChannel(name, model.SeverityInfo, model.SeverityEmergency, 0),
		sendFn:      sendFn,
	}
}

func (f *fakeChannel) Send(ctx context.Context, alert *model.Alert) bool {
	f.sent.Add(1)
	return f.sendFn(ctx, alert)
}

func testAlert() model.Alert {
	return model.Alert{
		ID:           "a-1",
		RuleName:     "high_cpu",
		MetricName:   "cpu_usage",
		Severity:     model.SeverityWarning,
		Message:      "high_cpu: cpu_usage is 92.00 (threshold gt 90.00)",
		CurrentValue: 92,
		Threshold:    90,
		Timestamp:    model.UnixSeconds(time.Now()),
	}
}

func TestRegisterDuplicateChannel(t *testing.T) {
	d := NewDispatcher(nil)
	require.NoError(t, d.Register(newFake("slack", nil)))
	err := d.Register(newFake("slack", nil))
	assert.ErrorIs(t, err, ErrDuplicateChannel)
	assert.Len(t, d.ChannelNames(), 1)
}

func TestSendAlertOneResultPerTarget(t *testing.T) {
	d := NewDispatcher(nil)
	good1 := newFake("email", nil)
	good2 := newFake("webhook", nil)
	bad := newFake("slack", func(context.Context, *model.Alert) bool {
		panic("boom")
	})
	require.NoError(t, d.Register(good1))
	require.NoError(t, d.Register(good2))
	require.NoError(t, d.Register(bad))

	results := d.SendAlert(context.Background(), testAlert())

	require.Len(t, results, 3, "every targeted channel reports an outcome")
	assert.True(t, results["email"])
	assert.True(t, results["webhook"])
	assert.False(t, results["slack"], "panicking channel reports failure")
	assert.EqualValues(t, 1, good1.sent.Load())
	assert.EqualValues(t, 1, good2.sent.Load())
}

func TestSendAlertUnknownChannel(t *testing.T) {
	d := NewDispatcher(nil)
	require.NoError(t, d.Register(newFake("email", nil)))

	results := d.SendAlert(context.Background(), testAlert(), "email", "pager")

	require.Len(t, results, 2)
	assert.True(t, results["email"])
	assert.False(t, results["pager"], "unregistered channel counts as failed")
}

func TestSendAlertTargetResolution(t *testing.T) {
	d := NewDispatcher(nil)
	email := newFake("email", nil)
	slack := newFake("slack", nil)
	require.NoError(t, d.Register(email))
	require.NoError(t, d.Register(slack))
	d.WithRuleResolver(func(ruleName string) []string {
		if ruleName == "high_cpu" {
			return []string{"slack"}
		}
		return nil
	})

	// Explicit names win over the rule's channels.
	results := d.SendAlert(context.Background(), testAlert(), "email")
	assert.Equal(t, map[string]bool{"email": true}, results)

	// No explicit names: the rule's configured channels.
	results = d.SendAlert(context.Background(), testAlert())
	assert.Equal(t, map[string]bool{"slack": true}, results)

	// Rule without configured channels falls back to all registered.
	alert := testAlert()
	alert.RuleName = "high_mem"
	results = d.SendAlert(context.Background(), alert)
	assert.Len(t, results, 2)
}

func TestSendAlertTimeout(t *testing.T) {
	d := NewDispatcher(nil).WithTimeout(50 * time.Millisecond)
	slow := newFake("slow", func(ctx context.Context, _ *model.Alert) bool {
		<-ctx.Done()
		return true
	})
	fast := newFake("fast", nil)
	require.NoError(t, d.Register(slow))
	require.NoError(t, d.Register(fast))

	start := time.Now()
	results := d.SendAlert(context.Background(), testAlert())

	assert.False(t, results["slow"], "timed-out send counts as failed")
	assert.True(t, results["fast"], "slow channel does not stall siblings")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRateLimitAdvancesOnFailedAttempt(t *testing.T) {
	now := time.Now()
	failing := &fakeChannel{
		BaseChannel: NewBaseChannel("flaky", model.SeverityInfo, model.SeverityEmergency, time.Minute),
		sendFn:      func(context.Context, *model.Alert) bool { return false },
	}
	failing.nowFn = func() time.Time { return now }

	d := NewDispatcher(nil)
	require.NoError(t, d.Register(failing))

	results := d.SendAlert(context.Background(), testAlert())
	assert.False(t, results["flaky"])
	assert.EqualValues(t, 1, failing.sent.Load())

	// Inside the rate-limit window the channel declines even though the
	// previous attempt failed.
	now = now.Add(30 * time.Second)
	d.SendAlert(context.Background(), testAlert())
	assert.EqualValues(t, 1, failing.sent.Load(), "failed attempt still consumes the window")

	now = now.Add(45 * time.Second)
	d.SendAlert(context.Background(), testAlert())
	assert.EqualValues(t, 2, failing.sent.Load())
}

func TestHistoryRecordsEveryDispatch(t *testing.T) {
	d := NewDispatcher(nil)
	declining := newFake("off", nil)
	declining.SetEnabled(false)
	require.NoError(t, d.Register(declining))

	alert := testAlert()
	results := d.SendAlert(context.Background(), alert)
	assert.False(t, results["off"])
	assert.EqualValues(t, 0, declining.sent.Load())

	history := d.History()
	require.Len(t, history, 1, "history grows even when no channel accepts")
	assert.Equal(t, alert.ID, history[0].ID)
}
