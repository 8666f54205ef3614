package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/adapter"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/config"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/engine"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/eventbus"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/eventstore"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/metrics"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/models"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/remote"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Pool names
const (
	PoolConnectionTest = "connection-test"
	PoolCollection     = "collection"
	PoolBatch          = "batch"
)

const rawDataLimit = 4096

// HostRegistry resolves a task's target host
type HostRegistry interface {
	GetHost(ctx context.Context, hostID string) (*models.Host, error)
}

// RemoteClient runs one command on a host and returns its stdout
type RemoteClient interface {
	Run(ctx context.Context, host *models.Host, command string) ([]byte, error)
}

// ResultStore persists one CollectionResult per terminal attempt
type ResultStore interface {
	Save(ctx context.Context, result *models.CollectionResult) error
}

// Dependencies are the collaborators an Executor needs. Events, Sink and Metrics are optional.
type Dependencies struct {
	Hosts   HostRegistry
	Client  RemoteClient
	Results ResultStore
	Engine  *engine.Engine
	Events  eventstore.Store
	Sink    eventbus.Sink
	Threats *config.Threats
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// TaskExecutionStatus is what GetTaskExecutionStatus reports
type TaskExecutionStatus struct {
	Task       models.CollectionTask     `json:"task"`
	Terminal   bool                      `json:"terminal"`
	LastResult *models.CollectionResult  `json:"last_result,omitempty"`
	Host       *models.HostStatsSnapshot `json:"host,omitempty"`
}

// Executor schedules collection tasks onto worker pools by workload class
type Executor struct {
	config *config.Config
	deps   Dependencies
	logger *zap.Logger

	tasks    *TaskStore
	policies map[string]RetryPolicy
	pools    map[string]*Pool

	resultsMu   sync.RWMutex
	lastResults map[string]*models.CollectionResult

	// loopMu guards loopDone and stopped
	loopMu   sync.Mutex
	loopDone chan struct{}
	stopped  bool

	wg    sync.WaitGroup
	clock func() time.Time
}

// outcome is one finished attempt, before it is folded into the task
type outcome struct {
	status   models.ResultStatus
	err      error
	attempts int
	result   *models.CollectionResult
}

func NewExecutor(cfg *config.Config, deps Dependencies) *Executor {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Threats == nil {
		deps.Threats = config.DefaultThreats()
	}

	e := &Executor{
		config:      cfg,
		deps:        deps,
		logger:      logger.Named("executor"),
		tasks:       NewTaskStore(),
		policies:    DefaultPolicies(),
		lastResults: make(map[string]*models.CollectionResult),
		clock:       time.Now,
	}

	e.pools = map[string]*Pool{
		PoolConnectionTest: NewPool(PoolConnectionTest, cfg.ConnectionTestPool.Workers, cfg.ConnectionTestPool.QueueSize, DiscardOldest, deps.Metrics, e.logger),
		PoolCollection:     NewPool(PoolCollection, cfg.CollectionPool.Workers, cfg.CollectionPool.QueueSize, CallerRuns, deps.Metrics, e.logger),
		PoolBatch:          NewPool(PoolBatch, cfg.BatchPool.Workers, cfg.BatchPool.QueueSize, CallerRuns, deps.Metrics, e.logger),
	}

	return e
}

// LoadTasks registers tasks, filling defaults for status, priority and first run time.
// MaxRetryCount is taken as given; zero disables task-level retries.
func (e *Executor) LoadTasks(tasks []*models.CollectionTask) error {
	now := e.clock()

	for _, task := range tasks {
		t := *task

		if t.TaskID == "" {
			t.TaskID = uuid.NewString()
		}
		if t.Status == "" {
			t.Status = models.TaskPending
		}
		if t.Priority == "" {
			t.Priority = models.PriorityNormal
		}
		if t.MaxRetryCount < 0 {
			return fmt.Errorf("task %s: max retry count must not be negative", t.TaskID)
		}
		if t.RetryPolicy == "" {
			t.RetryPolicy = defaultPolicyFor(t.CollectionClass)
		}
		if _, ok := e.policies[t.RetryPolicy]; !ok {
			return fmt.Errorf("task %s: unknown retry policy %q", t.TaskID, t.RetryPolicy)
		}
		if t.NextCollectionTime.IsZero() {
			t.NextCollectionTime = now
		}

		if err := e.tasks.Add(t); err != nil {
			return err
		}
	}

	e.logger.Info("Collection tasks loaded", zap.Int("count", len(tasks)), zap.Int("total", e.tasks.Len()))
	return nil
}

func defaultPolicyFor(class string) string {
	switch class {
	case models.ClassConnectionTest:
		return PolicyQuick
	case models.ClassBatchSyslog:
		return PolicyLong
	default:
		return PolicyDefault
	}
}

// route picks the pool and policy for a task's workload class
func (e *Executor) route(task models.CollectionTask) (*Pool, RetryPolicy) {
	switch task.CollectionClass {
	case models.ClassConnectionTest:
		return e.pools[PoolConnectionTest], e.policies[PolicyQuick]
	case models.ClassBatchSyslog:
		return e.pools[PoolBatch], e.policies[PolicyLong]
	}

	policy, ok := e.policies[task.RetryPolicy]
	if !ok {
		policy = e.policies[PolicyDefault]
	}
	return e.pools[PoolCollection], policy
}

// Run ticks the scheduler until ctx is cancelled
func (e *Executor) Run(ctx context.Context) error {
	interval := e.config.SchedulerInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	done, ok := e.beginLoop()
	if !ok {
		return nil
	}
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info("Task scheduler started", zap.Duration("interval", interval), zap.Int("tasks", e.tasks.Len()))

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Task scheduler stopping")
			return ctx.Err()
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

func (e *Executor) beginLoop() (chan struct{}, bool) {
	e.loopMu.Lock()
	defer e.loopMu.Unlock()

	if e.stopped {
		return nil, false
	}
	e.loopDone = make(chan struct{})
	return e.loopDone, true
}

// Tick claims every due task and hands it to its pool. It returns how many were dispatched.
func (e *Executor) Tick(ctx context.Context) int {
	dispatched := 0

	for _, due := range e.tasks.Due(e.clock()) {
		claimed, err := e.tasks.Update(due.TaskID, func(t *models.CollectionTask) error {
			// re-check under the task lock, a cancel may have landed since Due
			if t.Status != models.TaskPending && t.Status != models.TaskRetrying {
				return fmt.Errorf("%w: %s no longer due (%s)", ErrIllegalTransition, t.TaskID, t.Status)
			}
			return Transition(t, models.TaskRunning)
		})
		if err != nil {
			e.logger.Debug("Task not claimed", zap.String("task_id", due.TaskID), zap.Error(err))
			continue
		}

		pool, policy := e.route(claimed)
		taskID := claimed.TaskID

		future := pool.Submit(func() error {
			return e.execute(ctx, taskID, policy)
		})

		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := future.Wait(ctx); errors.Is(err, ErrDiscarded) || errors.Is(err, ErrPoolClosed) {
				e.abandon(taskID, err)
			}
		}()

		dispatched++
	}

	return dispatched
}

// execute runs one claimed task and folds the outcome back into it
func (e *Executor) execute(ctx context.Context, taskID string, policy RetryPolicy) error {
	task, err := e.tasks.Get(taskID)
	if err != nil {
		return err
	}

	out := e.attempt(ctx, task, policy)
	e.finish(taskID, policy, out)
	e.record(ctx, out.result)

	return out.err
}

// attempt resolves the host, runs the class command under the retry policy, then scores
// whatever the output decodes to
func (e *Executor) attempt(ctx context.Context, task models.CollectionTask, policy RetryPolicy) outcome {
	started := e.clock()
	logger := e.logger.With(zap.String("task_id", task.TaskID), zap.String("host", task.TargetHost))

	fail := func(status models.ResultStatus, err error, attempts int) outcome {
		result := models.NewCollectionResult(&task, status, started)
		result.ErrorMessage = err.Error()
		result.RetryCount = max(attempts-1, 0)
		result.DurationMs = e.clock().Sub(started).Milliseconds()
		return outcome{status: status, err: err, attempts: attempts, result: result}
	}

	host, err := e.deps.Hosts.GetHost(ctx, task.TargetHost)
	if err != nil {
		logger.Warn("Target host unavailable", zap.Error(err))
		return fail(models.ResultFailed, err, 0)
	}
	if !host.Enabled {
		return fail(models.ResultFailed, fmt.Errorf("host %s is disabled", host.HostID), 0)
	}

	cmd, err := remote.CommandFor(task.CollectionClass, host.OS)
	if err != nil {
		return fail(models.ResultFailed, err, 0)
	}

	var output []byte
	attempts, runErr := policy.Execute(ctx, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, e.commandTimeout())
		defer cancel()

		out, err := e.deps.Client.Run(attemptCtx, host, cmd.Line)
		if err != nil {
			logger.Debug("Remote attempt failed", zap.String("class", task.CollectionClass), zap.Error(err))
			return err
		}
		output = out
		return nil
	}, func(err error) bool {
		return remote.Retryable(remote.Classify(err))
	})

	for i := 1; i < attempts; i++ {
		e.deps.Metrics.IncrementTaskRetries()
	}

	if host.Stats != nil {
		host.Stats.Record(runErr == nil, e.clock())
	}

	if runErr != nil {
		status := remote.Classify(runErr)
		logger.Warn("Remote collection failed",
			zap.String("class", task.CollectionClass),
			zap.String("status", string(status)),
			zap.Int("attempts", attempts),
			zap.Error(runErr),
		)
		return fail(status, runErr, attempts)
	}

	if !cmd.Decode {
		if !strings.Contains(string(output), "ok") {
			return fail(models.ResultDataError, fmt.Errorf("%w: unexpected connection test reply %q", remote.ErrInvalidOutput, truncate(string(output), 64)), attempts)
		}

		result := models.NewCollectionResult(&task, models.ResultSuccess, started)
		result.RetryCount = attempts - 1
		result.RawData = truncate(string(output), rawDataLimit)
		result.DurationMs = e.clock().Sub(started).Milliseconds()
		return outcome{status: models.ResultSuccess, attempts: attempts, result: result}
	}

	decoded, err := adapter.DecodeOutput(cmd.Source, output, adapter.DecodeOptions{
		GOOS:      host.OS,
		Host:      models.HostIdentity{IP: host.IPAddress, Name: host.Hostname},
		Collected: e.clock(),
		Threats:   e.deps.Threats,
		Logger:    logger,
	})
	if err != nil {
		return fail(models.ResultDataError, fmt.Errorf("%w: %v", remote.ErrInvalidOutput, err), attempts)
	}

	status := models.ResultSuccess
	if decoded.Skipped > 0 {
		status = models.ResultPartial
	}

	result := models.NewCollectionResult(&task, status, started)
	result.RetryCount = attempts - 1
	result.RecordsCollected = len(decoded.Events)
	result.RecordsSkipped = decoded.Skipped

	anomalies := 0
	for _, event := range decoded.Events {
		verdict := e.score(ctx, event)
		if !verdict.IsAnomaly {
			continue
		}

		anomalies++
		if verdict.Score > result.AnomalyScore {
			result.IsAnomaly = true
			result.AnomalyScore = verdict.Score
			result.AnomalyReason = verdict.Reason
			result.ThreatLevel = verdict.ThreatLevel
		}
	}

	result.ProcessedData = map[string]interface{}{
		"source":    cmd.Source.String(),
		"attempts":  attempts,
		"events":    len(decoded.Events),
		"flagged":   decoded.Flagged,
		"anomalies": anomalies,
	}
	result.DurationMs = e.clock().Sub(started).Milliseconds()

	logger.Info("Remote collection complete",
		zap.String("class", task.CollectionClass),
		zap.Int("events", len(decoded.Events)),
		zap.Int("skipped", decoded.Skipped),
		zap.Int("anomalies", anomalies),
	)

	return outcome{status: status, attempts: attempts, result: result}
}

// score runs one remote event through the engine, the event store and the sink
func (e *Executor) score(ctx context.Context, event *models.Event) engine.Verdict {
	verdict := e.deps.Engine.Evaluate(ctx, event)

	if verdict.IsAnomaly {
		e.deps.Metrics.IncrementAnomalies(string(verdict.ThreatLevel))
	}

	if e.deps.Events != nil {
		if err := e.deps.Events.Record(ctx, event); err != nil {
			e.deps.Metrics.IncrementStoreErrors()
			e.logger.Warn("Failed to record remote event", zap.String("event_id", event.ID), zap.Error(err))
		}
	}

	if e.deps.Sink != nil {
		if err := e.deps.Sink.PublishEvent(event); err != nil {
			e.deps.Metrics.IncrementPublishErrors()
			e.logger.Warn("Failed to publish remote event", zap.String("event_id", event.ID), zap.Error(err))
		}
	}

	return verdict
}

// finish applies success or failure bookkeeping under the task lock
func (e *Executor) finish(taskID string, policy RetryPolicy, out outcome) {
	now := e.clock()

	updated, err := e.tasks.Update(taskID, func(t *models.CollectionTask) error {
		t.TotalCollections++
		t.LastCollectionTime = &now

		if out.status.Succeeded() {
			t.SuccessfulCollections++
			t.CurrentRetryCount = 0
			t.LastSuccessTime = &now
		} else {
			t.FailedCollections++
			t.LastErrorTime = &now
			t.LastErrorMessage = out.err.Error()
		}
		t.RecomputeSuccessRate()

		// cancelled while in flight, keep the counters but not the transition
		if t.Status != models.TaskRunning {
			return nil
		}

		if out.status.Succeeded() {
			if err := Transition(t, models.TaskSuccess); err != nil {
				return err
			}
			if t.CollectionInterval > 0 {
				t.NextCollectionTime = now.Add(t.CollectionInterval)
				return Transition(t, models.TaskPending)
			}
			return nil
		}

		if err := Transition(t, models.TaskFailed); err != nil {
			return err
		}
		if t.CanRetry() {
			if err := Transition(t, models.TaskRetrying); err != nil {
				return err
			}
			t.CurrentRetryCount++
			t.NextCollectionTime = now.Add(policy.Delay(t.CurrentRetryCount))
		}
		return nil
	})
	if err != nil {
		e.logger.Error("Failed to update task after attempt", zap.String("task_id", taskID), zap.Error(err))
		return
	}

	e.deps.Metrics.IncrementTaskAttempts(updated.CollectionClass, string(out.status))

	e.logger.Debug("Task attempt recorded",
		zap.String("task_id", taskID),
		zap.String("status", string(updated.Status)),
		zap.String("result", string(out.status)),
		zap.Float64("success_rate", updated.SuccessRate),
	)
}

// record stores and publishes a result; neither failure is fatal
func (e *Executor) record(ctx context.Context, result *models.CollectionResult) {
	if result == nil {
		return
	}

	e.resultsMu.Lock()
	e.lastResults[result.TaskID] = result
	e.resultsMu.Unlock()

	if e.deps.Results != nil {
		if err := e.deps.Results.Save(ctx, result); err != nil {
			e.deps.Metrics.IncrementStoreErrors()
			e.logger.Warn("Failed to save collection result", zap.String("result_id", result.ResultID), zap.Error(err))
		}
	}

	if e.deps.Sink != nil {
		if err := e.deps.Sink.PublishResult(result); err != nil {
			e.deps.Metrics.IncrementPublishErrors()
			e.logger.Warn("Failed to publish collection result", zap.String("result_id", result.ResultID), zap.Error(err))
		}
	}
}

// abandon releases a claimed task whose job never ran
func (e *Executor) abandon(taskID string, cause error) {
	now := e.clock()

	_, err := e.tasks.Update(taskID, func(t *models.CollectionTask) error {
		if t.Status != models.TaskRunning {
			return nil
		}
		if err := Transition(t, models.TaskFailed); err != nil {
			return err
		}
		t.LastErrorTime = &now
		t.LastErrorMessage = cause.Error()
		if t.CanRetry() {
			t.CurrentRetryCount++
			t.NextCollectionTime = now
			return Transition(t, models.TaskRetrying)
		}
		return nil
	})
	if err != nil {
		e.logger.Error("Failed to release dropped task", zap.String("task_id", taskID), zap.Error(err))
		return
	}

	e.logger.Warn("Task dropped before running", zap.String("task_id", taskID), zap.Error(cause))
}

// Cancel moves a non-terminal task to CANCELLED. An in-flight attempt is not interrupted.
func (e *Executor) Cancel(taskID string) error {
	_, err := e.tasks.Update(taskID, func(t *models.CollectionTask) error {
		return Transition(t, models.TaskCancelled)
	})
	if err != nil {
		return err
	}

	e.logger.Info("Task cancelled", zap.String("task_id", taskID))
	return nil
}

// Disable puts a PENDING task on administrative hold
func (e *Executor) Disable(taskID string) error {
	_, err := e.tasks.Update(taskID, func(t *models.CollectionTask) error {
		if err := Transition(t, models.TaskDisabled); err != nil {
			return err
		}
		t.Enabled = false
		return nil
	})
	if err != nil {
		return err
	}

	e.logger.Info("Task disabled", zap.String("task_id", taskID))
	return nil
}

// TestConnection runs an ad-hoc connection test on the interactive pool and waits for it.
// The result is saved and published like any other.
func (e *Executor) TestConnection(ctx context.Context, hostID string) (*models.CollectionResult, error) {
	task := models.CollectionTask{
		TaskID:          "connection-test-" + uuid.NewString(),
		TargetHost:      hostID,
		CollectionClass: models.ClassConnectionTest,
		Status:          models.TaskRunning,
		Priority:        models.PriorityHigh,
		Enabled:         true,
		RetryPolicy:     PolicyQuick,
	}

	var result *models.CollectionResult
	future := e.pools[PoolConnectionTest].Submit(func() error {
		out := e.attempt(ctx, task, e.policies[PolicyQuick])
		e.deps.Metrics.IncrementTaskAttempts(task.CollectionClass, string(out.status))
		e.record(ctx, out.result)
		result = out.result
		return nil
	})

	if err := future.Wait(ctx); err != nil {
		return nil, fmt.Errorf("connection test for %s: %w", hostID, err)
	}
	return result, nil
}

// GetTaskExecutionStatus reports a task with its last result and host statistics
func (e *Executor) GetTaskExecutionStatus(ctx context.Context, taskID string) (*TaskExecutionStatus, error) {
	task, err := e.tasks.Get(taskID)
	if err != nil {
		return nil, err
	}

	status := &TaskExecutionStatus{
		Task:     task,
		Terminal: IsTerminal(&task),
	}

	e.resultsMu.RLock()
	status.LastResult = e.lastResults[taskID]
	e.resultsMu.RUnlock()

	if host, err := e.deps.Hosts.GetHost(ctx, task.TargetHost); err == nil && host.Stats != nil {
		snapshot := host.Stats.Snapshot()
		status.Host = &snapshot
	}

	return status, nil
}

// Tasks returns a copy of every registered task
func (e *Executor) Tasks() []models.CollectionTask {
	return e.tasks.List()
}

func (e *Executor) PoolStats() []PoolStats {
	return []PoolStats{
		e.pools[PoolConnectionTest].Stats(),
		e.pools[PoolCollection].Stats(),
		e.pools[PoolBatch].Stats(),
	}
}

// Stop drains the pools and waits for dispatched tasks to settle.
// If Run was started its context must be cancelled first; Stop waits for the loop to exit.
func (e *Executor) Stop() {
	e.logger.Info("Stopping executor")

	e.loopMu.Lock()
	e.stopped = true
	done := e.loopDone
	e.loopMu.Unlock()

	if done != nil {
		<-done
	}

	for _, name := range []string{PoolConnectionTest, PoolCollection, PoolBatch} {
		e.pools[name].Close()
	}
	e.wg.Wait()

	e.logger.Info("Executor stopped")
}

func (e *Executor) commandTimeout() time.Duration {
	if e.config.CommandTimeout > 0 {
		return e.config.CommandTimeout
	}
	return 30 * time.Second
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
