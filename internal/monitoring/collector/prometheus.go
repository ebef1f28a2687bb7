package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	promModel "github.com/prometheus/common/model"
	"github.com/rs/zerolog/log"

	"github.com/perfwatch/perfwatch/internal/monitoring/model"
)

// PromQuery pairs a local metric name with the PromQL expression that
// produces it.
type PromQuery struct {
	MetricName string
	Expr       string
}

// prometheusCollector runs instant PromQL queries against a remote
// Prometheus and converts each vector sample into a metric point tagged with
// the sample's labels.
type prometheusCollector struct {
	api     v1.API
	queries []PromQuery
}

// NewPrometheusCollector creates the remote collector.
func NewPrometheusCollector(address string, queries []PromQuery) (Collector, error) {
	client, err := api.NewClient(api.Config{Address: address})
	if err != nil {
		return nil, fmt.Errorf("create prometheus client: %w", err)
	}
	return &prometheusCollector{api: v1.NewAPI(client), queries: queries}, nil
}

func (c *prometheusCollector) Name() string { return "prometheus" }
func (c *prometheusCollector) Description() string {
	return "Metrics pulled from a remote Prometheus via instant PromQL queries"
}

func (c *prometheusCollector) Collect(ctx context.Context) ([]model.MetricPoint, error) {
	var points []model.MetricPoint
	for _, q := range c.queries {
		result, warnings, err := c.api.Query(ctx, q.Expr, time.Now())
		if err != nil {
			return nil, fmt.Errorf("query prometheus %q: %w", q.Expr, err)
		}
		if len(warnings) > 0 {
			log.Warn().Strs("warnings", warnings).Str("expr", q.Expr).Msg("prometheus query warnings")
		}
		vector, ok := result.(promModel.Vector)
		if !ok {
			return nil, fmt.Errorf("unexpected result type %T for %q", result, q.Expr)
		}
		for _, sample := range vector {
			tags := make(map[string]string, len(sample.Metric))
			for k, v := range sample.Metric {
				if k == promModel.MetricNameLabel {
					continue
				}
				tags[string(k)] = string(v)
			}
			points = append(points, model.MetricPoint{
				Name:      q.MetricName,
				Type:      model.MetricGauge,
				Value:     float64(sample.Value),
				Timestamp: model.UnixSeconds(sample.Timestamp.Time()),
				Tags:      tags,
			})
		}
	}
	return points, nil
}
