package adapter

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/models"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/normaliser"
	"go.uber.org/zap"
)

const (
	// MemoryPressureRatio is the used/total ratio above which the sample is flagged
	MemoryPressureRatio = 0.8
	MemoryPressureScore = 0.7
)

// MemoryReader returns in-process used and total memory in bytes
type MemoryReader func() (used, total uint64)

// ApplicationAdapter samples this process's own memory once per cycle
type ApplicationAdapter struct {
	readMemory MemoryReader
	sampler    HostSampler
	normaliser *normaliser.MetricsNormaliser
	clock      func() time.Time
	logger     *zap.Logger
}

func NewApplicationAdapter(sampler HostSampler, host models.HostIdentity, clock func() time.Time, logger *zap.Logger) *ApplicationAdapter {
	return &ApplicationAdapter{
		readMemory: RuntimeMemory,
		sampler:    sampler,
		normaliser: &normaliser.MetricsNormaliser{Host: host},
		clock:      clock,
		logger:     logger,
	}
}

// WithMemoryReader swaps the memory source
func (a *ApplicationAdapter) WithMemoryReader(reader MemoryReader) *ApplicationAdapter {
	a.readMemory = reader
	return a
}

func (a *ApplicationAdapter) Name() string {
	return "application-metrics"
}

func (a *ApplicationAdapter) Source() models.SourceSystem {
	return models.SourceApplication
}

func (a *ApplicationAdapter) Collect(ctx context.Context) ([]*models.Event, error) {
	used, total := a.readMemory()

	sample := normaliser.MetricsSample{
		Timestamp:  a.clock(),
		UsedBytes:  used,
		TotalBytes: total,
		Goroutines: runtime.NumGoroutine(),
	}

	if a.sampler != nil {
		host := a.sampler.Sample(ctx)
		sample.HostCPUPercent = host.CPUUsagePercent
		sample.HostMemPercent = host.MemoryUsagePercent
		sample.Load1 = host.LoadAvg1m
	}

	event := a.normaliser.Normalise(sample, "")

	if ratio := sample.UsageRatio(); ratio > MemoryPressureRatio {
		event.Flag(MemoryPressureScore, fmt.Sprintf("memory-pressure(%.2f)", ratio))
		event.Severity = models.SeverityWarn

		a.logger.Warn("High in-process memory usage",
			zap.Float64("ratio", ratio),
			zap.Uint64("used_bytes", used),
			zap.Uint64("total_bytes", total),
		)
	}

	return []*models.Event{event}, nil
}

// RuntimeMemory reports heap in use against the soft memory limit, or against the
// heap reserved from the OS when no limit is set
func RuntimeMemory() (used, total uint64) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	used = m.HeapAlloc
	total = m.HeapSys

	if limit := debug.SetMemoryLimit(-1); limit > 0 && limit != math.MaxInt64 {
		total = uint64(limit)
	}

	return used, total
}
