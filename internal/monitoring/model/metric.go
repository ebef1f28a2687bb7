package model

import "time"

// MetricType classifies how a metric's values should be interpreted.
type MetricType string

const (
	MetricGauge     MetricType = "gauge"
	MetricCounter   MetricType = "counter"
	MetricHistogram MetricType = "histogram"
	MetricTimer     MetricType = "timer"
	MetricSet       MetricType = "set"
)

// MetricPoint is a single timestamped metric observation. Points are
// immutable once created; Tags must not be mutated after construction.
type MetricPoint struct {
	Name        string            `json:"metric_name"`
	Type        MetricType        `json:"metric_type"`
	Value       float64           `json:"value"`
	Timestamp   float64           `json:"timestamp"` // unix seconds
	Tags        map[string]string `json:"tags,omitempty"`
	Unit        string            `json:"unit,omitempty"`
	Description string            `json:"description,omitempty"`
}

// MetricSeries is the bounded, time-ordered history of points for one metric
// name. DataPoints are kept in insertion order, which equals time order.
type MetricSeries struct {
	Name        string            `json:"metric_name"`
	Type        MetricType        `json:"metric_type"`
	Tags        map[string]string `json:"tags,omitempty"`
	Unit        string            `json:"unit,omitempty"`
	Description string            `json:"description,omitempty"`
	DataPoints  []MetricPoint     `json:"data_points"`
}

// UnixSeconds converts a time.Time to the wire timestamp format.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// TimeOf converts a wire timestamp back to time.Time.
func TimeOf(ts float64) time.Time {
	return time.Unix(0, int64(ts*float64(time.Second)))
}

// NewPoint builds a gauge point stamped with the current time.
func NewPoint(name string, value float64, tags map[string]string) MetricPoint {
	return MetricPoint{
		Name:      name,
		Type:      MetricGauge,
		Value:     value,
		Timestamp: UnixSeconds(time.Now()),
		Tags:      tags,
	}
}
