package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/adapter"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/config"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/engine"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/eventbus"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/eventstore"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/metrics"
	"go.uber.org/zap"
)

// ErrCycleInProgress is returned when a cycle is triggered while another is still running
var ErrCycleInProgress = errors.New("orchestrator: collection cycle already in progress")

// Dependencies are built once by the caller and shared with the task executor
type Dependencies struct {
	Engine  *engine.Engine
	Store   eventstore.Store
	Threats *config.Threats
	Metrics *metrics.Metrics
	Logger  *zap.Logger

	// Sink overrides the NATS publisher. When nil and publishing is enabled, Start connects one.
	Sink eventbus.Sink

	// AdapterOptions are passed to the adapter factory; Threats and Logger are filled in
	AdapterOptions adapter.Options
}

type registeredAdapter struct {
	source  adapter.SourceType
	adapter adapter.Adapter
}

// Orchestrator manages the collection lifecycle: it runs every enabled adapter on a
// fixed schedule, scores what they produce and hands the scored events to the sink.
//
// Lifecycle:
//  1. Start() - builds the enabled adapters and connects NATS
//  2. Run() - ticks every COLLECTION_INTERVAL until the context ends
//  3. Stop() - waits for in-flight cycles and closes connections
//
// Only one cycle runs at a time. A trigger that arrives while a cycle is running is
// skipped and counted, never queued.
type Orchestrator struct {
	config *config.Config
	deps   Dependencies
	logger *zap.Logger

	mu       sync.RWMutex
	adapters []registeredAdapter

	sink       eventbus.Sink
	publisher  *eventbus.Publisher
	subscriber *eventbus.Subscriber

	running atomic.Bool
	history *history

	loopMu   sync.Mutex
	loopDone chan struct{}
	stopped  bool

	wg    sync.WaitGroup
	clock func() time.Time
}

func NewOrchestrator(cfg *config.Config, deps Dependencies) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	return &Orchestrator{
		config:  cfg,
		deps:    deps,
		logger:  deps.Logger.Named("orchestrator"),
		sink:    deps.Sink,
		history: newHistory(cfg.StatsHistorySize),
		clock:   time.Now,
	}
}

// Start builds the configured adapters and connects to NATS.
// Adapters that cannot run on this platform are logged and left out.
func (o *Orchestrator) Start() error {
	o.logger.Info("Starting collection orchestrator",
		zap.Strings("sources", o.config.EnabledSources),
		zap.Duration("interval", o.config.CollectionInterval),
	)

	for _, name := range o.config.EnabledSources {
		source, err := adapter.ParseSourceType(name)
		if err != nil {
			return err
		}

		a, err := o.buildAdapter(source)
		if errors.Is(err, adapter.ErrPlatformUnsupported) {
			o.logger.Warn("Skipping adapter not supported on this platform", zap.Stringer("source", source))
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to create %s adapter: %w", source, err)
		}

		o.RegisterAdapter(source, a)
	}

	if len(o.Adapters()) == 0 {
		o.logger.Warn("No adapters enabled, cycles will produce nothing")
	}

	o.connectNATS()

	o.logger.Info("Collection orchestrator started", zap.Strings("adapters", o.Adapters()))
	return nil
}

func (o *Orchestrator) buildAdapter(source adapter.SourceType) (adapter.Adapter, error) {
	opts := o.deps.AdapterOptions
	if opts.Threats == nil {
		opts.Threats = o.deps.Threats
	}
	if opts.Logger == nil {
		opts.Logger = o.deps.Logger
	}
	if opts.Window <= 0 {
		opts.Window = o.config.CollectionWindow
	}
	if len(opts.SyslogFiles) == 0 {
		opts.SyslogFiles = o.config.SyslogFiles
	}
	if opts.TailLines <= 0 {
		opts.TailLines = o.config.SyslogTailLines
	}

	return adapter.NewAdapter(source, opts)
}

// connectNATS is optional: without it events are scored and recorded but not published
func (o *Orchestrator) connectNATS() {
	if !o.config.EnablePublishing || o.config.NatsURL == "" {
		o.logger.Info("Publishing disabled, scored events stay local")
		return
	}

	if o.sink == nil {
		publisher, err := eventbus.NewPublisher(o.config.NatsURL, o.deps.Logger)
		if err != nil {
			o.logger.Warn("Failed to connect NATS publisher, events will not be published", zap.Error(err))
		} else {
			o.publisher = publisher
			o.sink = publisher
		}
	}

	subscriber, err := eventbus.NewSubscriber(o.config.NatsURL, o.handleTrigger, o.deps.Logger)
	if err != nil {
		o.logger.Warn("Failed to connect NATS subscriber, manual triggers unavailable", zap.Error(err))
		return
	}

	if err := subscriber.Start(); err != nil {
		o.logger.Warn("Failed to start NATS subscriber", zap.Error(err))
		subscriber.Close()
		return
	}

	o.subscriber = subscriber
}

// RegisterAdapter adds or replaces the adapter for a source
func (o *Orchestrator) RegisterAdapter(source adapter.SourceType, a adapter.Adapter) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for i, existing := range o.adapters {
		if existing.source == source {
			o.adapters[i].adapter = a
			return
		}
	}
	o.adapters = append(o.adapters, registeredAdapter{source: source, adapter: a})
}

// Adapters returns the registered adapter names in collection order
func (o *Orchestrator) Adapters() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()

	names := make([]string, len(o.adapters))
	for i, entry := range o.adapters {
		names[i] = entry.adapter.Name()
	}
	return names
}

func (o *Orchestrator) snapshotAdapters() []registeredAdapter {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]registeredAdapter(nil), o.adapters...)
}

// Run runs one cycle immediately and then one per tick until ctx is done.
// Each tick starts its cycle in the background so a slow cycle shows up as skipped ticks.
func (o *Orchestrator) Run(ctx context.Context) error {
	done, ok := o.beginLoop()
	if !ok {
		return nil
	}
	defer close(done)

	ticker := time.NewTicker(o.config.CollectionInterval)
	defer ticker.Stop()

	o.triggerCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("Collection loop stopping")
			return ctx.Err()
		case <-ticker.C:
			o.triggerCycle(ctx)
		}
	}
}

// beginLoop registers a running loop, or reports false once Stop has been called
func (o *Orchestrator) beginLoop() (chan struct{}, bool) {
	o.loopMu.Lock()
	defer o.loopMu.Unlock()

	if o.stopped {
		return nil, false
	}
	o.loopDone = make(chan struct{})
	return o.loopDone, true
}

func (o *Orchestrator) triggerCycle(ctx context.Context) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()

		report, err := o.RunCycle(ctx)
		if errors.Is(err, ErrCycleInProgress) {
			return
		}
		if err != nil {
			o.logger.Error("Collection cycle failed", zap.Error(err))
			return
		}

		o.logger.Info("Collection cycle complete",
			zap.String("cycle_id", report.CycleID),
			zap.Int("events", report.Events),
			zap.Int("anomalies", report.Anomalies),
			zap.Int("errors", report.Errors),
			zap.Int64("duration_ms", report.DurationMs),
		)
	}()
}

// handleTrigger serves collector.trigger requests from NATS
func (o *Orchestrator) handleTrigger(req eventbus.TriggerRequest) (interface{}, error) {
	ctx, cancel := context.WithTimeout(context.Background(), o.config.CollectionInterval)
	defer cancel()

	if req.Source == "" {
		return o.RunCycle(ctx)
	}

	source, err := adapter.ParseSourceType(req.Source)
	if err != nil {
		return nil, err
	}
	return o.Collect(ctx, source)
}

// Stop waits for the collection loop and in-flight cycles, then closes NATS connections.
// Cancel the context passed to Run before calling Stop.
func (o *Orchestrator) Stop() error {
	o.logger.Info("Stopping collection orchestrator")

	o.loopMu.Lock()
	o.stopped = true
	done := o.loopDone
	o.loopMu.Unlock()

	if done != nil {
		<-done
	}

	if o.subscriber != nil {
		o.subscriber.Close()
	}

	o.wg.Wait()

	if o.publisher != nil {
		if err := o.publisher.Flush(2 * time.Second); err != nil {
			o.logger.Warn("Failed to flush publisher", zap.Error(err))
		}
		o.publisher.Close()
	}

	o.logger.Info("Collection orchestrator stopped")
	return nil
}

// IsRunning reports whether a cycle is in flight
func (o *Orchestrator) IsRunning() bool {
	return o.running.Load()
}

// IsPublishing reports whether a sink is attached
func (o *Orchestrator) IsPublishing() bool {
	if o.publisher != nil {
		return o.publisher.IsConnected()
	}
	return o.sink != nil
}
