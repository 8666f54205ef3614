package adapter

import (
	"context"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostMetrics is machine-wide context attached to application samples.
// A nil field means the platform could not report it.
type HostMetrics struct {
	CPUUsagePercent    *float64
	MemoryUsagePercent *float64
	LoadAvg1m          *float64
}

type HostSampler interface {
	Sample(ctx context.Context) HostMetrics
}

// GopsutilSampler reads host metrics through gopsutil
type GopsutilSampler struct{}

func (GopsutilSampler) Sample(ctx context.Context) HostMetrics {
	m := HostMetrics{}

	// CPU usage since the previous call
	cpuPercent, err := cpu.PercentWithContext(ctx, 0, false)
	if err == nil && len(cpuPercent) > 0 {
		m.CPUUsagePercent = &cpuPercent[0]
	}

	memStats, err := mem.VirtualMemoryWithContext(ctx)
	if err == nil {
		m.MemoryUsagePercent = &memStats.UsedPercent
	}

	// Not available on Windows
	loadStats, err := load.AvgWithContext(ctx)
	if err == nil {
		m.LoadAvg1m = &loadStats.Load1
	}

	return m
}
