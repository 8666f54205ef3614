package normaliser

import (
	"fmt"
	"time"

	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/models"
)

// MetricsSample is one in-process memory reading plus optional host context
type MetricsSample struct {
	Timestamp  time.Time
	UsedBytes  uint64
	TotalBytes uint64
	Goroutines int
	NumGC      uint32

	// Host context, nil when unavailable
	HostCPUPercent *float64
	HostMemPercent *float64
	Load1          *float64
}

// UsageRatio is used/total, 0 when total is unknown
func (s MetricsSample) UsageRatio() float64 {
	if s.TotalBytes == 0 {
		return 0
	}
	return float64(s.UsedBytes) / float64(s.TotalBytes)
}

type MetricsNormaliser struct {
	Host models.HostIdentity
}

func (n *MetricsNormaliser) Normalise(sample MetricsSample, raw string) *models.Event {
	ratio := sample.UsageRatio()

	event := models.NewEvent(models.SourceApplication, models.EventApplicationMetrics, sample.Timestamp)
	event.Category = "PERFORMANCE"
	event.Host = n.Host
	event.NormalizedMessage = fmt.Sprintf("memory usage %.1f%% (%d of %d bytes)", ratio*100, sample.UsedBytes, sample.TotalBytes)
	event.RawMessage = raw
	if event.RawMessage == "" {
		event.RawMessage = event.NormalizedMessage
	}

	event.EventData["memory_used_bytes"] = sample.UsedBytes
	event.EventData["memory_total_bytes"] = sample.TotalBytes
	event.EventData["memory_usage_ratio"] = ratio
	event.EventData["goroutines"] = sample.Goroutines
	event.EventData["gc_cycles"] = sample.NumGC

	if sample.HostCPUPercent != nil {
		event.EventData["host_cpu_percent"] = *sample.HostCPUPercent
	}
	if sample.HostMemPercent != nil {
		event.EventData["host_memory_percent"] = *sample.HostMemPercent
	}
	if sample.Load1 != nil {
		event.EventData["host_load_1"] = *sample.Load1
	}

	return event
}
