package orchestrator

import (
	"sync"
	"time"

	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/models"
)

const defaultHistorySize = 288

// history keeps the most recent reports, oldest first
type history struct {
	mu      sync.Mutex
	size    int
	reports []*CycleReport
	skips   []time.Time
}

func newHistory(size int) *history {
	if size <= 0 {
		size = defaultHistorySize
	}
	return &history{size: size}
}

func (h *history) add(r *CycleReport) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.reports = append(h.reports, r)
	if over := len(h.reports) - h.size; over > 0 {
		h.reports = append(h.reports[:0], h.reports[over:]...)
	}
}

func (h *history) skipped(at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.skips = append(h.skips, at)
	if over := len(h.skips) - h.size; over > 0 {
		h.skips = append(h.skips[:0], h.skips[over:]...)
	}
}

// SourceStatistics aggregates one source over a time range
type SourceStatistics struct {
	Runs          int   `json:"runs"`
	Events        int   `json:"events"`
	Anomalies     int   `json:"anomalies"`
	Errors        int   `json:"errors"`
	PublishErrors int   `json:"publish_errors"`
	AvgDurationMs int64 `json:"avg_duration_ms"`

	totalDurationMs int64
}

// CollectionStatistics aggregates the retained reports that started within a time range
type CollectionStatistics struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`

	Cycles        int        `json:"cycles"`
	ManualRuns    int        `json:"manual_runs"`
	SkippedCycles int        `json:"skipped_cycles"`
	Events        int        `json:"events"`
	Anomalies     int        `json:"anomalies"`
	Errors        int        `json:"errors"`
	AvgCycleMs    int64      `json:"avg_cycle_ms"`
	LastCycleAt   *time.Time `json:"last_cycle_at,omitempty"`

	Sources      map[string]*SourceStatistics `json:"sources"`
	ThreatLevels map[models.ThreatLevel]int   `json:"threat_levels"`
}

// GetCollectionStatistics aggregates retained history with from <= start <= to.
// A zero bound is open.
func (o *Orchestrator) GetCollectionStatistics(from, to time.Time) CollectionStatistics {
	return o.history.statistics(from, to)
}

// LastReport returns the most recent report, if any
func (o *Orchestrator) LastReport() *CycleReport {
	o.history.mu.Lock()
	defer o.history.mu.Unlock()

	if len(o.history.reports) == 0 {
		return nil
	}
	return o.history.reports[len(o.history.reports)-1]
}

func (h *history) statistics(from, to time.Time) CollectionStatistics {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := CollectionStatistics{
		From:         from,
		To:           to,
		Sources:      make(map[string]*SourceStatistics),
		ThreatLevels: make(map[models.ThreatLevel]int),
	}

	var cycleTotalMs int64

	for _, r := range h.reports {
		if !inRange(r.StartedAt, from, to) {
			continue
		}

		if r.Manual {
			stats.ManualRuns++
		} else {
			stats.Cycles++
			cycleTotalMs += r.DurationMs
			started := r.StartedAt
			stats.LastCycleAt = &started
		}

		stats.Events += r.Events
		stats.Anomalies += r.Anomalies
		stats.Errors += r.Errors

		for _, s := range r.Sources {
			src, ok := stats.Sources[s.Source]
			if !ok {
				src = &SourceStatistics{}
				stats.Sources[s.Source] = src
			}

			src.Runs++
			src.Events += s.Events
			src.Anomalies += s.Anomalies
			src.PublishErrors += s.PublishErrors
			src.totalDurationMs += s.DurationMs
			if s.Error != "" {
				src.Errors++
			}

			for level, n := range s.ThreatLevels {
				stats.ThreatLevels[level] += n
			}
		}
	}

	for _, at := range h.skips {
		if inRange(at, from, to) {
			stats.SkippedCycles++
		}
	}

	if stats.Cycles > 0 {
		stats.AvgCycleMs = cycleTotalMs / int64(stats.Cycles)
	}

	for _, src := range stats.Sources {
		src.AvgDurationMs = src.totalDurationMs / int64(src.Runs)
	}

	return stats
}

func inRange(at, from, to time.Time) bool {
	if !from.IsZero() && at.Before(from) {
		return false
	}
	if !to.IsZero() && at.After(to) {
		return false
	}
	return true
}
