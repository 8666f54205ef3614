package executor

import (
	"context"
	"fmt"
	"net"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/config"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/engine"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/eventstore"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/metrics"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/models"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/registry"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/remote"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const psOutput = "USER PID %CPU %MEM VSZ RSS TTY STAT START TIME COMMAND\n" +
	"root 1 0.0 0.1 167000 11000 ? Ss 09:00 0:02 /sbin/init\n" +
	"root 4242 99.0 2.0 123456 40960 ? Sl 10:01 5:00 /tmp/xmrig --donate-level 1\n"

type fakeHosts map[string]*models.Host

func (f fakeHosts) GetHost(ctx context.Context, hostID string) (*models.Host, error) {
	host, ok := f[hostID]
	if !ok {
		return nil, fmt.Errorf("host %s not registered", hostID)
	}
	return host, nil
}

type fakeClient struct {
	mu       sync.Mutex
	commands []string
	run      func(call int, command string) ([]byte, error)
}

func (c *fakeClient) Run(ctx context.Context, host *models.Host, command string) ([]byte, error) {
	c.mu.Lock()
	c.commands = append(c.commands, command)
	call := len(c.commands)
	c.mu.Unlock()

	return c.run(call, command)
}

func (c *fakeClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.commands)
}

type fakeResults struct {
	mu      sync.Mutex
	results []*models.CollectionResult
}

func (r *fakeResults) Save(ctx context.Context, result *models.CollectionResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
	return nil
}

func (r *fakeResults) all() []*models.CollectionResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.CollectionResult(nil), r.results...)
}

type fakeSink struct {
	mu      sync.Mutex
	events  []*models.Event
	results []*models.CollectionResult
}

func (s *fakeSink) PublishEvent(event *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *fakeSink) PublishResult(result *models.CollectionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)
	return nil
}

type testRig struct {
	executor *Executor
	client   *fakeClient
	hosts    fakeHosts
	results  *fakeResults
	sink     *fakeSink
	metrics  *metrics.Metrics
}

func refused() error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
}

// fastPolicies keeps the attempt budgets but shrinks every delay
func fastPolicies() map[string]RetryPolicy {
	policies := DefaultPolicies()
	for name, p := range policies {
		p.InitialDelay = time.Millisecond
		p.MaxDelay = time.Millisecond
		policies[name] = p
	}
	return policies
}

func newTestRig(t *testing.T, run func(call int, command string) ([]byte, error)) *testRig {
	t.Helper()

	cfg := &config.Config{
		SchedulerInterval:  time.Second,
		CommandTimeout:     time.Second,
		ConnectionTestPool: config.PoolConfig{Workers: 1, QueueSize: 2},
		CollectionPool:     config.PoolConfig{Workers: 2, QueueSize: 8},
		BatchPool:          config.PoolConfig{Workers: 1, QueueSize: 2},
	}

	store, err := eventstore.NewMemoryStore(1000, 0)
	require.NoError(t, err)

	threats := config.DefaultThreats()
	m := metrics.NewMetrics()

	rig := &testRig{
		client: &fakeClient{run: run},
		hosts: fakeHosts{
			"web-01": {HostID: "web-01", Hostname: "web-01", IPAddress: "10.0.0.21", Enabled: true, Stats: &models.HostStats{}},
			"win-01": {HostID: "win-01", Hostname: "win-01", IPAddress: "10.0.0.30", OS: "windows", Enabled: true, Stats: &models.HostStats{}},
			"off-01": {HostID: "off-01", IPAddress: "10.0.0.99", Enabled: false},
		},
		results: &fakeResults{},
		sink:    &fakeSink{},
		metrics: m,
	}

	rig.executor = NewExecutor(cfg, Dependencies{
		Hosts:   rig.hosts,
		Client:  rig.client,
		Results: rig.results,
		Engine:  engine.NewDefaultEngine(threats, store, zap.NewNop()),
		Events:  store,
		Sink:    rig.sink,
		Threats: threats,
		Metrics: m,
		Logger:  zap.NewNop(),
	})
	rig.executor.policies = fastPolicies()
	t.Cleanup(rig.executor.Stop)

	return rig
}

// tick dispatches due tasks and waits for them to settle
func (r *testRig) tick(t *testing.T) int {
	t.Helper()
	n := r.executor.Tick(context.Background())
	r.executor.wg.Wait()
	return n
}

func (r *testRig) task(t *testing.T, id string) models.CollectionTask {
	t.Helper()
	task, err := r.executor.tasks.Get(id)
	require.NoError(t, err)
	return task
}

func TestExecutor_SuccessfulProcessCollection(t *testing.T) {
	rig := newTestRig(t, func(int, string) ([]byte, error) { return []byte(psOutput), nil })

	require.NoError(t, rig.executor.LoadTasks([]*models.CollectionTask{{
		TaskID:             "ps-web",
		TargetHost:         "web-01",
		CollectionClass:    models.ClassProcess,
		Enabled:            true,
		CollectionInterval: 5 * time.Minute,
	}}))

	before := time.Now()
	assert.Equal(t, 1, rig.tick(t))

	task := rig.task(t, "ps-web")
	assert.Equal(t, models.TaskPending, task.Status)
	assert.Equal(t, int64(1), task.TotalCollections)
	assert.Equal(t, int64(1), task.SuccessfulCollections)
	assert.Equal(t, 1.0, task.SuccessRate)
	assert.Equal(t, 0, task.CurrentRetryCount)
	require.NotNil(t, task.LastSuccessTime)
	assert.True(t, task.NextCollectionTime.After(before.Add(4*time.Minute)))

	results := rig.results.all()
	require.Len(t, results, 1)
	result := results[0]
	assert.Equal(t, models.ResultSuccess, result.Status)
	assert.Equal(t, 2, result.RecordsCollected)
	assert.Equal(t, 0, result.RetryCount)
	assert.True(t, result.IsAnomaly)
	assert.Equal(t, 0.9, result.AnomalyScore)
	assert.Equal(t, models.ThreatHigh, result.ThreatLevel)
	assert.Contains(t, result.AnomalyReason, "source(0.90)")
	assert.Equal(t, 1, result.ProcessedData["anomalies"])

	assert.Len(t, rig.sink.events, 2)
	assert.Len(t, rig.sink.results, 1)
	assert.Equal(t, "ps aux", rig.client.commands[0])

	snap := rig.hosts["web-01"].Stats.Snapshot()
	assert.Equal(t, int64(1), snap.ConnectionCount)
	assert.Equal(t, int64(1), snap.SuccessCount)

	assert.Equal(t, 1.0, testutil.ToFloat64(rig.metrics.TaskAttempts.WithLabelValues(models.ClassProcess, "SUCCESS")))
}

func TestExecutor_FailureRetriesThenExhausts(t *testing.T) {
	rig := newTestRig(t, func(int, string) ([]byte, error) { return nil, refused() })

	require.NoError(t, rig.executor.LoadTasks([]*models.CollectionTask{{
		TaskID:          "net-web",
		TargetHost:      "web-01",
		CollectionClass: models.ClassNetwork,
		Enabled:         true,
		MaxRetryCount:   1,
	}}))

	rig.tick(t)

	task := rig.task(t, "net-web")
	assert.Equal(t, models.TaskRetrying, task.Status)
	assert.Equal(t, 1, task.CurrentRetryCount)
	assert.Equal(t, int64(1), task.FailedCollections)
	assert.Contains(t, task.LastErrorMessage, "connection refused")
	assert.Equal(t, 3, rig.client.calls(), "default policy makes three attempts")

	results := rig.results.all()
	require.Len(t, results, 1)
	assert.Equal(t, models.ResultConnectionError, results[0].Status)
	assert.Equal(t, 2, results[0].RetryCount)

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, rig.tick(t))

	task = rig.task(t, "net-web")
	assert.Equal(t, models.TaskFailed, task.Status)
	assert.True(t, IsTerminal(&task))
	assert.Equal(t, int64(2), task.TotalCollections)
	assert.Equal(t, 0.0, task.SuccessRate)
	assert.Equal(t, 6, rig.client.calls())
	assert.Len(t, rig.results.all(), 2)

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 0, rig.tick(t), "exhausted task is never scheduled again")

	snap := rig.hosts["web-01"].Stats.Snapshot()
	assert.Equal(t, int64(2), snap.ErrorCount)
	assert.Equal(t, 4.0, testutil.ToFloat64(rig.metrics.TaskRetries))
}

func TestExecutor_RoutesPolicyByClass(t *testing.T) {
	tests := []struct {
		name   string
		class  string
		policy string
		calls  int
	}{
		{"connection test uses quick", models.ClassConnectionTest, "", 2},
		{"batch uses long", models.ClassBatchSyslog, "", 10},
		{"collection uses its own policy", models.ClassSyslog, PolicyExponential, 5},
		{"collection defaults", models.ClassProcess, "", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rig := newTestRig(t, func(int, string) ([]byte, error) { return nil, refused() })

			require.NoError(t, rig.executor.LoadTasks([]*models.CollectionTask{{
				TaskID:          "task",
				TargetHost:      "web-01",
				CollectionClass: tt.class,
				RetryPolicy:     tt.policy,
				Enabled:         true,
			}}))

			rig.tick(t)

			assert.Equal(t, tt.calls, rig.client.calls())
		})
	}
}

func TestExecutor_NonRetryableErrorStopsEarly(t *testing.T) {
	rig := newTestRig(t, func(int, string) ([]byte, error) {
		return nil, fmt.Errorf("%w: sentinel@web-01", remote.ErrAuthentication)
	})

	require.NoError(t, rig.executor.LoadTasks([]*models.CollectionTask{{
		TaskID: "auth", TargetHost: "web-01", CollectionClass: models.ClassSyslog, Enabled: true,
	}}))

	rig.tick(t)

	assert.Equal(t, 1, rig.client.calls())
	results := rig.results.all()
	require.Len(t, results, 1)
	assert.Equal(t, models.ResultAuthenticationError, results[0].Status)
}

func TestExecutor_HostAndClassProblems(t *testing.T) {
	rig := newTestRig(t, func(int, string) ([]byte, error) { return []byte("ok\n"), nil })

	require.NoError(t, rig.executor.LoadTasks([]*models.CollectionTask{
		{TaskID: "ghost", TargetHost: "nowhere", CollectionClass: models.ClassProcess, Enabled: true},
		{TaskID: "off", TargetHost: "off-01", CollectionClass: models.ClassProcess, Enabled: true},
		{TaskID: "winevent-linux", TargetHost: "web-01", CollectionClass: models.ClassWindowsEvent, Enabled: true},
	}))

	assert.Equal(t, 3, rig.tick(t))
	assert.Equal(t, 0, rig.client.calls())

	for _, id := range []string{"ghost", "off", "winevent-linux"} {
		task := rig.task(t, id)
		assert.Equal(t, models.TaskFailed, task.Status, id)
	}

	byTask := map[string]*models.CollectionResult{}
	for _, r := range rig.results.all() {
		byTask[r.TaskID] = r
	}
	require.Len(t, byTask, 3)
	assert.Equal(t, models.ResultFailed, byTask["ghost"].Status)
	assert.Contains(t, byTask["off"].ErrorMessage, "disabled")
	assert.Contains(t, byTask["winevent-linux"].ErrorMessage, "unsupported collection class")
}

func TestExecutor_CancelAndDisable(t *testing.T) {
	rig := newTestRig(t, func(int, string) ([]byte, error) { return []byte(psOutput), nil })

	require.NoError(t, rig.executor.LoadTasks([]*models.CollectionTask{
		{TaskID: "a", TargetHost: "web-01", CollectionClass: models.ClassProcess, Enabled: true},
		{TaskID: "b", TargetHost: "web-01", CollectionClass: models.ClassProcess, Enabled: true},
	}))

	require.NoError(t, rig.executor.Cancel("a"))
	assert.ErrorIs(t, rig.executor.Cancel("a"), ErrIllegalTransition)
	assert.ErrorIs(t, rig.executor.Cancel("zzz"), ErrTaskNotFound)

	require.NoError(t, rig.executor.Disable("b"))
	assert.ErrorIs(t, rig.executor.Disable("b"), ErrIllegalTransition)
	assert.False(t, rig.task(t, "b").Enabled)

	assert.Equal(t, 0, rig.tick(t))
	assert.Equal(t, 0, rig.client.calls())
}

func TestExecutor_CancelWhileRunning(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})

	rig := newTestRig(t, func(int, string) ([]byte, error) {
		close(entered)
		<-release
		return []byte(psOutput), nil
	})

	require.NoError(t, rig.executor.LoadTasks([]*models.CollectionTask{{
		TaskID: "slow", TargetHost: "web-01", CollectionClass: models.ClassProcess, Enabled: true,
	}}))

	require.Equal(t, 1, rig.executor.Tick(context.Background()))
	<-entered

	require.NoError(t, rig.executor.Cancel("slow"))
	close(release)
	rig.executor.wg.Wait()

	task := rig.task(t, "slow")
	assert.Equal(t, models.TaskCancelled, task.Status)
	assert.Equal(t, int64(1), task.TotalCollections)
	assert.Len(t, rig.results.all(), 1)
}

func TestExecutor_TestConnection(t *testing.T) {
	t.Run("healthy host", func(t *testing.T) {
		rig := newTestRig(t, func(int, string) ([]byte, error) { return []byte("ok\n"), nil })

		result, err := rig.executor.TestConnection(context.Background(), "web-01")
		require.NoError(t, err)

		assert.Equal(t, models.ResultSuccess, result.Status)
		assert.Equal(t, models.ClassConnectionTest, result.CollectionClass)
		assert.Equal(t, "ok\n", result.RawData)
		assert.Equal(t, []string{"echo ok"}, rig.client.commands)
		assert.Len(t, rig.results.all(), 1)
	})

	t.Run("unexpected reply", func(t *testing.T) {
		rig := newTestRig(t, func(int, string) ([]byte, error) { return []byte("motd\n"), nil })

		result, err := rig.executor.TestConnection(context.Background(), "web-01")
		require.NoError(t, err)
		assert.Equal(t, models.ResultDataError, result.Status)
	})

	t.Run("unreachable host", func(t *testing.T) {
		rig := newTestRig(t, func(int, string) ([]byte, error) { return nil, refused() })

		result, err := rig.executor.TestConnection(context.Background(), "web-01")
		require.NoError(t, err)
		assert.Equal(t, models.ResultConnectionError, result.Status)
		assert.Equal(t, 2, rig.client.calls())
		assert.Equal(t, 1, result.RetryCount)
	})
}

func TestExecutor_GetTaskExecutionStatus(t *testing.T) {
	rig := newTestRig(t, func(int, string) ([]byte, error) { return []byte(psOutput), nil })

	require.NoError(t, rig.executor.LoadTasks([]*models.CollectionTask{{
		TaskID: "ps", TargetHost: "web-01", CollectionClass: models.ClassProcess, Enabled: true,
	}}))

	status, err := rig.executor.GetTaskExecutionStatus(context.Background(), "ps")
	require.NoError(t, err)
	assert.Nil(t, status.LastResult)

	rig.tick(t)

	status, err = rig.executor.GetTaskExecutionStatus(context.Background(), "ps")
	require.NoError(t, err)
	require.NotNil(t, status.LastResult)
	assert.Equal(t, models.ResultSuccess, status.LastResult.Status)
	require.NotNil(t, status.Host)
	assert.Equal(t, int64(1), status.Host.ConnectionCount)
	assert.Equal(t, models.TaskSuccess, status.Task.Status, "no interval means the task stays finished")
	assert.False(t, status.Terminal)

	_, err = rig.executor.GetTaskExecutionStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestExecutor_LoadTasksDefaults(t *testing.T) {
	rig := newTestRig(t, func(int, string) ([]byte, error) { return nil, nil })

	require.NoError(t, rig.executor.LoadTasks([]*models.CollectionTask{
		{TaskID: "conn", TargetHost: "web-01", CollectionClass: models.ClassConnectionTest, Enabled: true},
		{TaskID: "batch", TargetHost: "web-01", CollectionClass: models.ClassBatchSyslog, Enabled: true},
		{TaskID: "proc", TargetHost: "web-01", CollectionClass: models.ClassProcess, Enabled: true},
	}))

	conn := rig.task(t, "conn")
	assert.Equal(t, models.TaskPending, conn.Status)
	assert.Equal(t, PolicyQuick, conn.RetryPolicy)
	assert.Equal(t, models.PriorityNormal, conn.Priority)
	assert.Zero(t, conn.MaxRetryCount)
	assert.False(t, conn.NextCollectionTime.IsZero())

	assert.Equal(t, PolicyLong, rig.task(t, "batch").RetryPolicy)
	assert.Equal(t, PolicyDefault, rig.task(t, "proc").RetryPolicy)

	err := rig.executor.LoadTasks([]*models.CollectionTask{{TaskID: "conn"}})
	assert.ErrorIs(t, err, ErrDuplicateTask)

	err = rig.executor.LoadTasks([]*models.CollectionTask{{TaskID: "x", RetryPolicy: "forever"}})
	assert.Error(t, err)

	err = rig.executor.LoadTasks([]*models.CollectionTask{{TaskID: "y", MaxRetryCount: -1}})
	assert.Error(t, err)
}

func TestExecutor_ZeroRetryBudgetFailsImmediately(t *testing.T) {
	rig := newTestRig(t, func(int, string) ([]byte, error) { return nil, refused() })

	tasks, err := registry.ParseTasks([]byte(`
tasks:
  - task_id: net-once
    target_host: web-01
    collection_class: NETWORK
    max_retry_count: 0
`))
	require.NoError(t, err)
	require.NoError(t, rig.executor.LoadTasks(tasks))

	rig.tick(t)

	task := rig.task(t, "net-once")
	assert.Equal(t, 0, task.MaxRetryCount)
	assert.Equal(t, models.TaskFailed, task.Status)
	assert.True(t, IsTerminal(&task))
	assert.Equal(t, 0, task.CurrentRetryCount)

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 0, rig.tick(t), "a task without retry budget is never rescheduled")
	assert.Equal(t, 3, rig.client.calls(), "only the policy attempts of the single run")
}

func TestExecutor_AbandonReleasesDroppedTask(t *testing.T) {
	rig := newTestRig(t, func(int, string) ([]byte, error) { return nil, nil })

	require.NoError(t, rig.executor.LoadTasks([]*models.CollectionTask{{
		TaskID: "dropped", TargetHost: "web-01", CollectionClass: models.ClassConnectionTest, Enabled: true, MaxRetryCount: 1,
	}}))

	_, err := rig.executor.tasks.Update("dropped", func(task *models.CollectionTask) error {
		return Transition(task, models.TaskRunning)
	})
	require.NoError(t, err)

	rig.executor.abandon("dropped", ErrDiscarded)

	task := rig.task(t, "dropped")
	assert.Equal(t, models.TaskRetrying, task.Status)
	assert.Equal(t, 1, task.CurrentRetryCount)
	assert.Contains(t, task.LastErrorMessage, "discarded")
}

func TestExecutor_PoolStats(t *testing.T) {
	rig := newTestRig(t, func(int, string) ([]byte, error) { return nil, nil })

	stats := rig.executor.PoolStats()
	require.Len(t, stats, 3)
	assert.Equal(t, PoolConnectionTest, stats[0].Name)
	assert.Equal(t, "discard-oldest", stats[0].Policy)
	assert.Equal(t, "caller-runs", stats[1].Policy)
	assert.Equal(t, 8, stats[1].QueueSize)
}

func TestExecutor_StopWaitsForSchedulerExit(t *testing.T) {
	rig := newTestRig(t, func(int, string) ([]byte, error) { return []byte(psOutput), nil })
	rig.executor.config.SchedulerInterval = time.Millisecond

	require.NoError(t, rig.executor.LoadTasks([]*models.CollectionTask{{
		TaskID:             "ps-web",
		TargetHost:         "web-01",
		CollectionClass:    models.ClassProcess,
		Enabled:            true,
		CollectionInterval: time.Millisecond,
	}}))

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- rig.executor.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(rig.results.all()) >= 2
	}, time.Second, time.Millisecond)

	cancel()
	rig.executor.Stop()

	select {
	case err := <-runErr:
		assert.ErrorIs(t, err, context.Canceled)
	default:
		t.Fatal("Stop returned before the scheduler exited")
	}
}

func TestExecutor_RunAfterStopDispatchesNothing(t *testing.T) {
	rig := newTestRig(t, func(int, string) ([]byte, error) { return []byte(psOutput), nil })
	rig.executor.config.SchedulerInterval = time.Millisecond

	require.NoError(t, rig.executor.LoadTasks([]*models.CollectionTask{{
		TaskID: "ps-web", TargetHost: "web-01", CollectionClass: models.ClassProcess, Enabled: true,
	}}))

	rig.executor.Stop()

	assert.NoError(t, rig.executor.Run(context.Background()))
	assert.Zero(t, rig.client.calls())
}
