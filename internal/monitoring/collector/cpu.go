package collector

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"

	"github.com/perfwatch/perfwatch/internal/monitoring/model"
)

type cpuCollector struct {
	prevTimes *cpu.TimesStat // previous cumulative CPU times for delta calculation
}

// NewCPUCollector reports total CPU usage percentages and load averages.
func NewCPUCollector() Collector { return &cpuCollector{} }

func (c *cpuCollector) Name() string        { return "cpu" }
func (c *cpuCollector) Description() string { return "CPU usage percentages and load averages" }

func (c *cpuCollector) Collect(ctx context.Context) ([]model.MetricPoint, error) {
	now := model.UnixSeconds(time.Now())
	var points []model.MetricPoint

	times, err := cpu.TimesWithContext(ctx, false)
	if err == nil && len(times) > 0 {
		cur := times[0]
		if c.prevTimes != nil {
			dUser := cur.User - c.prevTimes.User
			dSystem := cur.System - c.prevTimes.System
			dIdle := cur.Idle - c.prevTimes.Idle
			dIowait := cur.Iowait - c.prevTimes.Iowait
			dSteal := cur.Steal - c.prevTimes.Steal
			dNice := cur.Nice - c.prevTimes.Nice
			dIrq := cur.Irq - c.prevTimes.Irq
			dSoftirq := cur.Softirq - c.prevTimes.Softirq
			dTotal := dUser + dSystem + dIdle + dIowait + dSteal + dNice + dIrq + dSoftirq
			if dTotal > 0 {
				points = append(points,
					gauge(now, "cpu_usage", (dTotal-dIdle)/dTotal*100, "percent"),
					gauge(now, "cpu_user", dUser/dTotal*100, "percent"),
					gauge(now, "cpu_system", dSystem/dTotal*100, "percent"),
					gauge(now, "cpu_iowait", dIowait/dTotal*100, "percent"),
				)
			}
		}
		c.prevTimes = &cur
	}

	avg, err := load.AvgWithContext(ctx)
	if err == nil {
		points = append(points,
			gauge(now, "load_1", avg.Load1, ""),
			gauge(now, "load_5", avg.Load5, ""),
			gauge(now, "load_15", avg.Load15, ""),
		)
	}

	return points, nil
}

func gauge(ts float64, name string, value float64, unit string) model.MetricPoint {
	return model.MetricPoint{
		Name:      name,
		Type:      model.MetricGauge,
		Value:     value,
		Timestamp: ts,
		Unit:      unit,
	}
}
