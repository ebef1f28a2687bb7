// Package store implements the bounded, concurrent-safe time-series storage
// backing the monitoring pipeline. All history lives in memory and is lost on
// restart by design.
package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/perfwatch/perfwatch/internal/monitoring/metrics"
	"github.com/perfwatch/perfwatch/internal/monitoring/model"
)

var (
	// ErrSeriesNotFound indicates the metric name was never recorded. This is
	// distinct from an existing series whose range filter excludes all points.
	ErrSeriesNotFound = errors.New("metric series not found")
	// ErrNoData indicates an aggregation over an empty filtered set.
	ErrNoData = errors.New("no data points in range")
	// ErrUnknownAggregation indicates an unsupported aggregation function.
	ErrUnknownAggregation = errors.New("unknown aggregation function")
)

// Aggregation names accepted by Aggregate.
const (
	AggAvg   = "avg"
	AggMax   = "max"
	AggMin   = "min"
	AggSum   = "sum"
	AggCount = "count"
)

// PointObserver receives every recorded point. Observers run synchronously on
// the recording goroutine and must not block.
type PointObserver func(model.MetricPoint)

// Store holds one bounded series per metric name. Reads take the read lock;
// Record and Cleanup take the write lock.
type Store struct {
	mu            sync.RWMutex
	series        map[string]*model.MetricSeries
	maxDataPoints int

	obsMu     sync.RWMutex
	observers map[int]PointObserver
	nextObsID int

	metrics *metrics.Metrics
}

// New creates a store capping every series at maxDataPoints.
func New(maxDataPoints int, m *metrics.Metrics) *Store {
	if maxDataPoints <= 0 {
		maxDataPoints = 1000
	}
	if m == nil {
		m = metrics.Nop()
	}
	return &Store{
		series:        make(map[string]*model.MetricSeries),
		maxDataPoints: maxDataPoints,
		observers:     make(map[int]PointObserver),
		metrics:       m,
	}
}

// Subscribe registers an observer for every future Record call and returns a
// token for Unsubscribe.
func (s *Store) Subscribe(fn PointObserver) int {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.nextObsID++
	id := s.nextObsID
	s.observers[id] = fn
	return id
}

// Unsubscribe removes a previously registered observer. Unknown tokens are
// ignored.
func (s *Store) Unsubscribe(id int) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	delete(s.observers, id)
}

// Record appends the point to its series, creating the series on first sight.
// When the series exceeds the capacity the oldest point is dropped. After the
// write completes, all registered observers are invoked with the point; a
// panicking observer is logged and does not affect the others.
func (s *Store) Record(point model.MetricPoint) {
	s.mu.Lock()
	sr, ok := s.series[point.Name]
	if !ok {
		sr = &model.MetricSeries{
			Name:        point.Name,
			Type:        point.Type,
			Tags:        point.Tags,
			Unit:        point.Unit,
			Description: point.Description,
			DataPoints:  make([]model.MetricPoint, 0, 16),
		}
		s.series[point.Name] = sr
	}
	sr.DataPoints = append(sr.DataPoints, point)
	if len(sr.DataPoints) > s.maxDataPoints {
		evicted := len(sr.DataPoints) - s.maxDataPoints
		sr.DataPoints = append(sr.DataPoints[:0], sr.DataPoints[evicted:]...)
		s.metrics.PointsEvicted.Add(float64(evicted))
	}
	s.mu.Unlock()

	s.metrics.PointsRecorded.WithLabelValues(point.Name).Inc()
	s.notify(point)
}

func (s *Store) notify(point model.MetricPoint) {
	s.obsMu.RLock()
	observers := make([]PointObserver, 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	s.obsMu.RUnlock()
	for _, fn := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Any("panic", r).Str("metric", point.Name).Msg("point observer panicked")
				}
			}()
			fn(point)
		}()
	}
}

// Query returns an independent snapshot of the series filtered to
// [start, end] (inclusive; nil bound = unbounded). It returns
// ErrSeriesNotFound when the series never existed; an existing series whose
// range excludes all points yields an empty snapshot and no error.
func (s *Store) Query(name string, start, end *float64) ([]model.MetricPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sr, ok := s.series[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSeriesNotFound, name)
	}
	out := make([]model.MetricPoint, 0, len(sr.DataPoints))
	for _, p := range sr.DataPoints {
		if start != nil && p.Timestamp < *start {
			continue
		}
		if end != nil && p.Timestamp > *end {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// Series returns a snapshot of the series metadata plus filtered points, for
// the dashboard get_metrics request. Same not-found semantics as Query.
func (s *Store) Series(name string, start, end *float64) (*model.MetricSeries, error) {
	points, err := s.Query(name, start, end)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	sr := s.series[name]
	out := &model.MetricSeries{
		Name:        sr.Name,
		Type:        sr.Type,
		Tags:        sr.Tags,
		Unit:        sr.Unit,
		Description: sr.Description,
		DataPoints:  points,
	}
	s.mu.RUnlock()
	return out, nil
}

// Names returns all known metric names.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.series))
	for name := range s.series {
		out = append(out, name)
	}
	return out
}

// Aggregate computes a scalar summary over the filtered series. An unknown
// function is rejected before the series lookup; an empty filtered set yields
// ErrNoData.
func (s *Store) Aggregate(name, fn string, start, end *float64) (float64, error) {
	switch fn {
	case AggAvg, AggMax, AggMin, AggSum, AggCount:
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnknownAggregation, fn)
	}
	points, err := s.Query(name, start, end)
	if err != nil {
		return 0, err
	}
	if len(points) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrNoData, name)
	}
	switch fn {
	case AggCount:
		return float64(len(points)), nil
	case AggSum, AggAvg:
		sum := 0.0
		for _, p := range points {
			sum += p.Value
		}
		if fn == AggSum {
			return sum, nil
		}
		return sum / float64(len(points)), nil
	case AggMax:
		max := points[0].Value
		for _, p := range points[1:] {
			if p.Value > max {
				max = p.Value
			}
		}
		return max, nil
	default: // AggMin
		min := points[0].Value
		for _, p := range points[1:] {
			if p.Value < min {
				min = p.Value
			}
		}
		return min, nil
	}
}

// Cleanup drops every point older than the retention window across all
// series. Safe to call concurrently with writers.
func (s *Store) Cleanup(retention time.Duration) int {
	cutoff := model.UnixSeconds(time.Now().Add(-retention))
	removed := 0
	s.mu.Lock()
	for _, sr := range s.series {
		i := 0
		for i < len(sr.DataPoints) && sr.DataPoints[i].Timestamp < cutoff {
			i++
		}
		if i > 0 {
			removed += i
			sr.DataPoints = append(sr.DataPoints[:0], sr.DataPoints[i:]...)
		}
	}
	s.mu.Unlock()
	if removed > 0 {
		s.metrics.PointsEvicted.Add(float64(removed))
		log.Debug().Int("removed", removed).Dur("retention", retention).Msg("store cleanup completed")
	}
	return removed
}
