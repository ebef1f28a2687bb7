// Package monitor owns the collection and cleanup schedules driving the
// metrics pipeline.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/perfwatch/perfwatch/internal/monitoring/alerting"
	"github.com/perfwatch/perfwatch/internal/monitoring/collector"
	"github.com/perfwatch/perfwatch/internal/monitoring/dispatch"
	"github.com/perfwatch/perfwatch/internal/monitoring/metrics"
	"github.com/perfwatch/perfwatch/internal/monitoring/model"
	"github.com/perfwatch/perfwatch/internal/monitoring/store"
)

const (
	defaultCollectionInterval = 60 * time.Second
	defaultCleanupInterval    = time.Hour
	panicBackoff              = 5 * time.Second
	stopGracePeriod           = 15 * time.Second
)

// Deps holds the injected pipeline components.
type Deps struct {
	Registry   *collector.Registry
	Store      *store.Store
	Engine     *alerting.Engine
	Dispatcher *dispatch.Dispatcher
	Metrics    *metrics.Metrics

	CollectionInterval time.Duration
	CleanupInterval    time.Duration
	RetentionPeriod    time.Duration
}

// Monitor runs the collection loop and the retention cleanup loop. It is a
// Stopped/Running state machine; Start and Stop are idempotent.
type Monitor struct {
	deps Deps

	runningMu sync.Mutex
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	// sleepFn allows overriding the panic backoff for tests
	sleepFn func(time.Duration)
}

// New creates a monitor in the Stopped state.
func New(deps Deps) *Monitor {
	if deps.CollectionInterval <= 0 {
		deps.CollectionInterval = defaultCollectionInterval
	}
	if deps.CleanupInterval <= 0 {
		deps.CleanupInterval = defaultCleanupInterval
	}
	if deps.RetentionPeriod <= 0 {
		deps.RetentionPeriod = 24 * time.Hour
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop()
	}
	return &Monitor{deps: deps, sleepFn: time.Sleep}
}

// Start launches both loops. Calling Start while Running is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.runningMu.Lock()
	defer m.runningMu.Unlock()
	if m.running {
		log.Debug().Msg("monitor already running")
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	m.wg.Add(2)
	go m.collectionLoop(ctx)
	go m.cleanupLoop(ctx)

	log.Info().Dur("collection_interval", m.deps.CollectionInterval).
		Dur("cleanup_interval", m.deps.CleanupInterval).
		Dur("retention", m.deps.RetentionPeriod).
		Msg("monitor started")
}

// Stop cancels both loops and waits for in-flight iterations up to a bounded
// grace period. Calling Stop while Stopped is a no-op.
func (m *Monitor) Stop() {
	m.runningMu.Lock()
	defer m.runningMu.Unlock()
	if !m.running {
		return
	}
	m.cancel()
	m.running = false

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("monitor stopped")
	case <-time.After(stopGracePeriod):
		log.Warn().Msg("monitor stop grace period expired with iterations still in flight")
	}
}

// Running reports the current state.
func (m *Monitor) Running() bool {
	m.runningMu.Lock()
	defer m.runningMu.Unlock()
	return m.running
}

func (m *Monitor) collectionLoop(ctx context.Context) {
	defer m.wg.Done()
	t := time.NewTicker(m.deps.CollectionInterval)
	defer t.Stop()

	// Run once immediately on startup
	m.runProtected(ctx, "collection", m.collectOnce)

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.runProtected(ctx, "collection", m.collectOnce)
		}
	}
}

func (m *Monitor) cleanupLoop(ctx context.Context) {
	defer m.wg.Done()
	t := time.NewTicker(m.deps.CleanupInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.runProtected(ctx, "cleanup", func(context.Context) {
				m.deps.Store.Cleanup(m.deps.RetentionPeriod)
			})
		}
	}
}

// runProtected isolates a loop body: a panic is logged and followed by a
// backoff instead of terminating the loop or the process.
func (m *Monitor) runProtected(ctx context.Context, loop string, fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Any("panic", r).Str("loop", loop).Msg("monitor loop iteration panicked, backing off")
			m.sleepFn(panicBackoff)
		}
	}()
	fn(ctx)
}

// collectGuarded converts a collector panic into a plain error so the caller
// branches on one failure path for both.
func collectGuarded(ctx context.Context, c collector.Collector) (points []model.MetricPoint, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("collector panicked: %v", r)
		}
	}()
	return c.Collect(ctx)
}

// collectOnce polls every enabled collector sequentially. A failing or
// panicking collector is logged and skipped for this tick only; its points
// never reach the store and its siblings still run. Alerts produced by
// evaluation are dispatched fire-and-forget so dispatch latency cannot block
// the next tick.
func (m *Monitor) collectOnce(ctx context.Context) {
	for _, c := range m.deps.Registry.Enabled() {
		points, err := collectGuarded(ctx, c)
		if err != nil {
			log.Error().Err(err).Str("collector", c.Name()).Msg("collector failed, skipping this tick")
			m.deps.Metrics.CollectorErrors.WithLabelValues(c.Name()).Inc()
			continue
		}
		for _, point := range points {
			m.deps.Store.Record(point)
			alerts := m.deps.Engine.Evaluate(point)
			for _, alert := range alerts {
				alert := alert
				go func() {
					m.deps.Dispatcher.SendAlert(context.Background(), alert)
				}()
			}
		}
	}
}
