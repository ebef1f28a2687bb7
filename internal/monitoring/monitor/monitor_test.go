package monitor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfwatch/perfwatch/internal/monitoring/alerting"
	"github.com/perfwatch/perfwatch/internal/monitoring/collector"
	"github.com/perfwatch/perfwatch/internal/monitoring/dispatch"
	"github.com/perfwatch/perfwatch/internal/monitoring/model"
	"github.com/perfwatch/perfwatch/internal/monitoring/store"
)

type stubCollector struct {
	name   string
	points []model.MetricPoint
	err    error
	calls  atomic.Int32
}

func (s *stubCollector) Name() string        { return s.name }
func (s *stubCollector) Description() string { return "stub collector" }

func (s *stubCollector) Collect(context.Context) ([]model.MetricPoint, error) {
	s.calls.Add(1)
	return s.points, s.err
}

type panicCollector struct{}

func (panicCollector) Name() string        { return "panicker" }
func (panicCollector) Description() string { return "always panics" }
func (panicCollector) Collect(context.Context) ([]model.MetricPoint, error) {
	panic("collector exploded")
}

func newTestMonitor(t *testing.T, collectors ...collector.Collector) (*Monitor, *store.Store, *alerting.Engine) {
	t.Helper()
	reg := collector.NewRegistry()
	for _, c := range collectors {
		require.NoError(t, reg.Register(c))
	}
	st := store.New(100, nil)
	eng := alerting.NewEngine(nil)
	m := New(Deps{
		Registry:           reg,
		Store:              st,
		Engine:             eng,
		Dispatcher:         dispatch.NewDispatcher(nil),
		CollectionInterval: time.Hour, // ticks never fire during tests
		CleanupInterval:    time.Hour,
	})
	return m, st, eng
}

func TestStartStopIdempotent(t *testing.T) {
	m, _, _ := newTestMonitor(t)
	assert.False(t, m.Running())

	m.Start(context.Background())
	assert.True(t, m.Running())
	m.Start(context.Background()) // second start is a no-op
	assert.True(t, m.Running())

	m.Stop()
	assert.False(t, m.Running())
	m.Stop() // second stop is a no-op
	assert.False(t, m.Running())

	// A stopped monitor can start again.
	m.Start(context.Background())
	assert.True(t, m.Running())
	m.Stop()
}

func TestCollectorFailureIsolation(t *testing.T) {
	good := &stubCollector{
		name:   "good",
		points: []model.MetricPoint{model.NewPoint("cpu_usage", 42, nil)},
	}
	bad := &stubCollector{name: "bad", err: errors.New("probe unavailable")}
	m, st, _ := newTestMonitor(t, bad, good)

	m.collectOnce(context.Background())

	points, err := st.Query("cpu_usage", nil, nil)
	require.NoError(t, err)
	assert.Len(t, points, 1, "healthy collector still stored despite sibling failure")
	assert.EqualValues(t, 1, bad.calls.Load())
}

func TestCollectOnceDispatchesAlerts(t *testing.T) {
	hit := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hit <- struct{}{}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := &stubCollector{
		name:   "cpu",
		points: []model.MetricPoint{model.NewPoint("cpu_usage", 95, nil)},
	}
	m, st, eng := newTestMonitor(t, c)
	require.NoError(t, eng.AddRule(model.AlertRule{
		Name:       "high_cpu",
		MetricName: "cpu_usage",
		Condition:  model.CondGT,
		Threshold:  90,
		Severity:   model.SeverityCritical,
		Cooldown:   5 * time.Minute,
		Enabled:    true,
	}))
	require.NoError(t, m.deps.Dispatcher.Register(dispatch.NewWebhookChannel(
		"webhook", srv.URL, nil, model.SeverityInfo, model.SeverityEmergency, 0)))

	m.collectOnce(context.Background())

	select {
	case <-hit:
	case <-time.After(3 * time.Second):
		t.Fatal("alert never reached the webhook channel")
	}

	points, err := st.Query("cpu_usage", nil, nil)
	require.NoError(t, err)
	assert.Len(t, points, 1)
	assert.Len(t, eng.ActiveAlerts(), 1)
}

func TestCollectorPanicDoesNotAbortTick(t *testing.T) {
	good := &stubCollector{
		name:   "good",
		points: []model.MetricPoint{model.NewPoint("cpu_usage", 42, nil)},
	}
	m, st, _ := newTestMonitor(t, panicCollector{}, good)

	var slept atomic.Int64
	m.sleepFn = func(d time.Duration) { slept.Add(int64(d)) }

	m.runProtected(context.Background(), "collection", m.collectOnce)

	points, err := st.Query("cpu_usage", nil, nil)
	require.NoError(t, err)
	assert.Len(t, points, 1, "collectors after the panicking one still run")
	assert.Zero(t, slept.Load(), "a per-collector panic does not trip the loop backoff")
}

func TestLoopPanicBacksOffAndContinues(t *testing.T) {
	m, _, _ := newTestMonitor(t)

	var slept atomic.Int64
	m.sleepFn = func(d time.Duration) { slept.Add(int64(d)) }

	// A panicking iteration must not propagate.
	m.runProtected(context.Background(), "cleanup", func(context.Context) {
		panic("iteration exploded")
	})
	assert.EqualValues(t, panicBackoff, slept.Load())

	// And the next iteration still runs.
	m.runProtected(context.Background(), "cleanup", m.collectOnce)
	assert.EqualValues(t, panicBackoff, slept.Load())
}

func TestCleanupLoopUsesRetention(t *testing.T) {
	m, st, _ := newTestMonitor(t)
	old := model.NewPoint("cpu_usage", 10, nil)
	old.Timestamp = model.UnixSeconds(time.Now().Add(-48 * time.Hour))
	st.Record(old)
	st.Record(model.NewPoint("cpu_usage", 20, nil))

	removed := st.Cleanup(m.deps.RetentionPeriod)
	assert.Equal(t, 1, removed)
}
