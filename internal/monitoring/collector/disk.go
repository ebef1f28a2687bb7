package collector

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/disk"

	"github.com/perfwatch/perfwatch/internal/monitoring/model"
)

type diskCollector struct {
	paths []string
}

// NewDiskCollector reports filesystem usage for the given mount points.
// Defaults to "/" when none are configured.
func NewDiskCollector(paths []string) Collector {
	if len(paths) == 0 {
		paths = []string{"/"}
	}
	return &diskCollector{paths: paths}
}

func (c *diskCollector) Name() string        { return "disk" }
func (c *diskCollector) Description() string { return "Filesystem usage per mount point" }

func (c *diskCollector) Collect(ctx context.Context) ([]model.MetricPoint, error) {
	now := model.UnixSeconds(time.Now())
	var points []model.MetricPoint
	for _, path := range c.paths {
		usage, err := disk.UsageWithContext(ctx, path)
		if err != nil {
			continue
		}
		tags := map[string]string{"path": path}
		points = append(points,
			taggedGauge(now, "disk_usage", usage.UsedPercent, "percent", tags),
			taggedGauge(now, "disk_used", float64(usage.Used), "bytes", tags),
			taggedGauge(now, "disk_free", float64(usage.Free), "bytes", tags),
		)
	}
	return points, nil
}

func taggedGauge(ts float64, name string, value float64, unit string, tags map[string]string) model.MetricPoint {
	p := gauge(ts, name, value, unit)
	p.Tags = tags
	return p
}
