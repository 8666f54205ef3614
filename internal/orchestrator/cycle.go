package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/adapter"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SourceReport is what one adapter produced in one run
type SourceReport struct {
	Source        string                     `json:"source"`
	Adapter       string                     `json:"adapter"`
	Events        int                        `json:"events"`
	Anomalies     int                        `json:"anomalies"`
	Error         string                     `json:"error,omitempty"`
	StoreErrors   int                        `json:"store_errors,omitempty"`
	PublishErrors int                        `json:"publish_errors,omitempty"`
	ThreatLevels  map[models.ThreatLevel]int `json:"threat_levels,omitempty"`
	DurationMs    int64                      `json:"duration_ms"`
}

// CycleReport summarises one cycle, or one manual single-source collection
type CycleReport struct {
	CycleID    string         `json:"cycle_id"`
	Manual     bool           `json:"manual"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	DurationMs int64          `json:"duration_ms"`
	Sources    []SourceReport `json:"sources"`

	Events    int `json:"events"`
	Anomalies int `json:"anomalies"`
	Errors    int `json:"errors"`
}

func (r *CycleReport) finish(at time.Time) {
	r.FinishedAt = at
	r.DurationMs = at.Sub(r.StartedAt).Milliseconds()

	for _, s := range r.Sources {
		r.Events += s.Events
		r.Anomalies += s.Anomalies
		if s.Error != "" {
			r.Errors++
		}
	}
}

// RunCycle runs every registered adapter once, concurrently, bounded by ADAPTER_WORKERS.
// One adapter failing never affects the others.
func (o *Orchestrator) RunCycle(ctx context.Context) (*CycleReport, error) {
	if !o.running.CompareAndSwap(false, true) {
		o.logger.Warn("Skipping collection trigger, previous cycle still running")
		o.deps.Metrics.IncrementCyclesSkipped()
		o.history.skipped(o.clock())
		return nil, ErrCycleInProgress
	}
	defer o.running.Store(false)

	adapters := o.snapshotAdapters()
	report := &CycleReport{
		CycleID:   uuid.NewString(),
		StartedAt: o.clock(),
		Sources:   make([]SourceReport, len(adapters)),
	}

	o.logger.Debug("Collection cycle starting",
		zap.String("cycle_id", report.CycleID),
		zap.Int("adapters", len(adapters)),
	)

	var g errgroup.Group
	g.SetLimit(o.workers())

	for i, entry := range adapters {
		i, entry := i, entry
		g.Go(func() error {
			report.Sources[i] = o.runAdapter(ctx, entry)
			return nil
		})
	}

	// Adapter goroutines never return errors
	_ = g.Wait()

	report.finish(o.clock())
	o.history.add(report)
	o.deps.Metrics.ObserveCycle(time.Duration(report.DurationMs) * time.Millisecond)

	return report, nil
}

// Collect runs a single source through the same score, record, publish path.
// Sources not enabled at Start are built on demand.
func (o *Orchestrator) Collect(ctx context.Context, source adapter.SourceType) (*CycleReport, error) {
	entry, ok := o.lookup(source)
	if !ok {
		a, err := o.buildAdapter(source)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s adapter: %w", source, err)
		}
		entry = registeredAdapter{source: source, adapter: a}
	}

	report := &CycleReport{
		CycleID:   uuid.NewString(),
		Manual:    true,
		StartedAt: o.clock(),
	}
	report.Sources = []SourceReport{o.runAdapter(ctx, entry)}
	report.finish(o.clock())

	o.history.add(report)
	return report, nil
}

func (o *Orchestrator) lookup(source adapter.SourceType) (registeredAdapter, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	for _, entry := range o.adapters {
		if entry.source == source {
			return entry, true
		}
	}
	return registeredAdapter{}, false
}

func (o *Orchestrator) workers() int {
	if o.config.AdapterWorkers < 1 {
		return 1
	}
	return o.config.AdapterWorkers
}

// runAdapter collects, then scores, records and publishes each event in source order
func (o *Orchestrator) runAdapter(ctx context.Context, entry registeredAdapter) SourceReport {
	a := entry.adapter
	started := o.clock()

	rep := SourceReport{
		Source:       entry.source.String(),
		Adapter:      a.Name(),
		ThreatLevels: make(map[models.ThreatLevel]int),
	}

	events, err := safeCollect(ctx, a)
	if err != nil {
		o.logger.Warn("Adapter failed, emitting collector error event",
			zap.String("adapter", a.Name()),
			zap.Error(err),
		)
		o.deps.Metrics.IncrementCollectorErrors(rep.Source)
		rep.Error = err.Error()
		events = []*models.Event{models.NewCollectorErrorEvent(a.Source(), a.Name(), err)}
	}

	for _, event := range events {
		if event == nil {
			continue
		}
		o.process(ctx, event, &rep)
	}

	o.deps.Metrics.ObserveEvents(rep.Source, rep.Events)
	rep.DurationMs = o.clock().Sub(started).Milliseconds()

	return rep
}

// safeCollect turns an adapter panic into an error
func safeCollect(ctx context.Context, a adapter.Adapter) (events []*models.Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			events = nil
			err = fmt.Errorf("adapter %s panicked: %v", a.Name(), r)
		}
	}()

	return a.Collect(ctx)
}

func (o *Orchestrator) process(ctx context.Context, event *models.Event, rep *SourceReport) {
	verdict := o.deps.Engine.Evaluate(ctx, event)

	rep.Events++
	if verdict.IsAnomaly {
		rep.Anomalies++
		rep.ThreatLevels[verdict.ThreatLevel]++
		o.deps.Metrics.IncrementAnomalies(string(verdict.ThreatLevel))
	}

	if o.deps.Store != nil {
		if err := o.deps.Store.Record(ctx, event); err != nil {
			rep.StoreErrors++
			o.deps.Metrics.IncrementStoreErrors()
			o.logger.Warn("Failed to record event", zap.String("event_id", event.ID), zap.Error(err))
		}
	}

	if o.sink == nil {
		return
	}

	if err := o.sink.PublishEvent(event); err != nil {
		rep.PublishErrors++
		o.deps.Metrics.IncrementPublishErrors()
		o.logger.Warn("Failed to publish event", zap.String("event_id", event.ID), zap.Error(err))
	}
}
