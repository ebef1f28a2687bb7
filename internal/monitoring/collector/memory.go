package collector

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/mem"

	"github.com/perfwatch/perfwatch/internal/monitoring/model"
)

type memoryCollector struct{}

// NewMemoryCollector reports virtual memory and swap usage.
func NewMemoryCollector() Collector { return &memoryCollector{} }

func (c *memoryCollector) Name() string        { return "memory" }
func (c *memoryCollector) Description() string { return "Virtual memory and swap usage" }

func (c *memoryCollector) Collect(ctx context.Context) ([]model.MetricPoint, error) {
	now := model.UnixSeconds(time.Now())
	var points []model.MetricPoint

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err == nil {
		points = append(points,
			gauge(now, "memory_usage", vm.UsedPercent, "percent"),
			gauge(now, "memory_used", float64(vm.Used), "bytes"),
			gauge(now, "memory_available", float64(vm.Available), "bytes"),
			gauge(now, "memory_total", float64(vm.Total), "bytes"),
		)
	}

	sw, err := mem.SwapMemoryWithContext(ctx)
	if err == nil {
		points = append(points,
			gauge(now, "swap_usage", sw.UsedPercent, "percent"),
			gauge(now, "swap_used", float64(sw.Used), "bytes"),
		)
	}

	return points, nil
}
