package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/config"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/engine"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/eventbus"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/eventstore"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/executor"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/health"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/logger"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/metrics"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/models"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/orchestrator"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/registry"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/remote"
	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/results"
	"go.uber.org/zap"
)

var errNoHostRegistry = errors.New("no host registry configured: set POSTGRES_URL or HOSTS_FILE")

// app holds the components shared by every command
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	threats *config.Threats
	metrics *metrics.Metrics

	events    eventstore.Store
	redis     *eventstore.RedisStore
	engine    *engine.Engine
	publisher *eventbus.Publisher
	orch      *orchestrator.Orchestrator

	postgres *registry.PostgresRegistry
	exec     *executor.Executor

	closers []func()
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.Init(cfg.Environment, cfg.LogLevel, cfg.LogFormat)

	log.Info("Configuration loaded",
		zap.String("environment", cfg.Environment),
		zap.String("health_port", cfg.HealthPort),
		zap.String("nats_url", cfg.NatsURL),
		zap.Bool("collector", cfg.EnableCollector),
		zap.Bool("executor", cfg.EnableExecutor),
		zap.Bool("publishing", cfg.EnablePublishing),
	)

	threats, err := config.LoadThreats(cfg.ThreatConfigPath)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		logger:  log,
		threats: threats,
		metrics: metrics.NewMetrics(),
	}

	if err := a.openEventStore(); err != nil {
		a.close()
		return nil, err
	}

	a.engine = engine.NewDefaultEngine(threats, a.events, log)
	a.connectPublisher()

	a.orch = orchestrator.NewOrchestrator(cfg, orchestrator.Dependencies{
		Engine:  a.engine,
		Store:   a.events,
		Threats: threats,
		Metrics: a.metrics,
		Logger:  log,
		Sink:    a.sink(),
	})

	return a, nil
}

func (a *app) openEventStore() error {
	if a.cfg.RedisAddr == "" {
		store, err := eventstore.NewMemoryStore(a.cfg.EventStoreMaxKeys, a.cfg.EventRetention)
		if err != nil {
			return err
		}
		a.events = store
		a.logger.Info("Using in-memory event store", zap.Int("max_keys", a.cfg.EventStoreMaxKeys))
		return nil
	}

	store, err := eventstore.NewRedisStore(a.cfg.RedisAddr, a.cfg.RedisPassword, a.cfg.RedisDB, a.cfg.EventRetention, a.logger)
	if err != nil {
		return err
	}

	a.redis = store
	a.events = store
	a.onClose(func() {
		if err := store.Close(); err != nil {
			a.logger.Warn("Failed to close Redis event store", zap.Error(err))
		}
	})
	return nil
}

// connectPublisher shares one NATS connection between collection and the executor
func (a *app) connectPublisher() {
	if !a.cfg.EnablePublishing || a.cfg.NatsURL == "" {
		return
	}

	publisher, err := eventbus.NewPublisher(a.cfg.NatsURL, a.logger)
	if err != nil {
		a.logger.Warn("Failed to connect NATS publisher, events will not be published", zap.Error(err))
		return
	}

	a.publisher = publisher
	a.onClose(func() {
		if err := publisher.Flush(2 * time.Second); err != nil {
			a.logger.Warn("Failed to flush publisher", zap.Error(err))
		}
		publisher.Close()
	})
}

func (a *app) sink() eventbus.Sink {
	if a.publisher == nil {
		return nil
	}
	return a.publisher
}

// buildExecutor opens the host registry and result store and loads every configured task
func (a *app) buildExecutor(ctx context.Context) error {
	hosts, tasks, err := a.openRegistry(ctx)
	if err != nil {
		return err
	}

	store, err := a.openResults(ctx)
	if err != nil {
		return err
	}

	client, err := a.sshClient()
	if err != nil {
		return err
	}

	a.exec = executor.NewExecutor(a.cfg, executor.Dependencies{
		Hosts:   hosts,
		Client:  client,
		Results: store,
		Engine:  a.engine,
		Events:  a.events,
		Sink:    a.sink(),
		Threats: a.threats,
		Metrics: a.metrics,
		Logger:  a.logger,
	})

	if err := a.exec.LoadTasks(tasks); err != nil {
		return err
	}

	a.logger.Info("Executor ready", zap.Int("tasks", len(tasks)))
	return nil
}

func (a *app) openRegistry(ctx context.Context) (executor.HostRegistry, []*models.CollectionTask, error) {
	var tasks []*models.CollectionTask

	if a.cfg.TasksFile != "" {
		fileTasks, err := registry.LoadTasksFile(a.cfg.TasksFile)
		if err != nil {
			return nil, nil, err
		}
		tasks = append(tasks, fileTasks...)
	}

	if a.cfg.PostgresURL != "" {
		pg, err := a.openPostgres(ctx)
		if err != nil {
			return nil, nil, err
		}

		dbTasks, err := pg.LoadTasks(ctx)
		if err != nil {
			return nil, nil, err
		}
		return pg, append(tasks, dbTasks...), nil
	}

	if a.cfg.HostsFile == "" {
		return nil, nil, errNoHostRegistry
	}

	fileHosts, err := registry.LoadHostsFile(a.cfg.HostsFile)
	if err != nil {
		return nil, nil, err
	}

	a.logger.Info("Loaded host registry", zap.String("path", a.cfg.HostsFile), zap.Int("hosts", len(fileHosts.Hosts())))
	return fileHosts, tasks, nil
}

func (a *app) openPostgres(ctx context.Context) (*registry.PostgresRegistry, error) {
	if a.postgres != nil {
		return a.postgres, nil
	}

	pg, err := registry.NewPostgresRegistry(ctx, a.cfg.PostgresURL, a.logger)
	if err != nil {
		return nil, err
	}

	if err := pg.EnsureSchema(ctx); err != nil {
		pg.Close()
		return nil, err
	}

	a.postgres = pg
	a.onClose(pg.Close)
	return pg, nil
}

func (a *app) openResults(ctx context.Context) (executor.ResultStore, error) {
	if a.cfg.MongoURI == "" {
		return results.NewMemoryStore(a.cfg.ResultsCapacity), nil
	}

	store, err := results.NewMongoStore(ctx, a.cfg.MongoURI, a.cfg.MongoDB, a.logger)
	if err != nil {
		return nil, err
	}

	a.onClose(func() {
		if err := store.Close(); err != nil {
			a.logger.Warn("Failed to disconnect from MongoDB", zap.Error(err))
		}
	})
	return store, nil
}

func (a *app) sshClient() (*remote.SSHClient, error) {
	sshCfg := remote.SSHConfig{
		DefaultUser: a.cfg.SSHUser,
		DialTimeout: a.cfg.CommandTimeout,
	}

	if a.cfg.KnownHostsFile != "" {
		callback, err := remote.KnownHostsCallback(a.cfg.KnownHostsFile)
		if err != nil {
			return nil, err
		}
		sshCfg.HostKeyCallback = callback
	}

	return remote.NewSSHClient(sshCfg, remote.FileCredentials{Dir: a.cfg.SSHKeyDir}, a.logger), nil
}

func (a *app) healthOptions() health.Options {
	opts := health.Options{
		Service: "sentinel",
		Metrics: a.metrics,
		Stats: func(from, to time.Time) interface{} {
			return a.orch.GetCollectionStatistics(from, to)
		},
		Checks: make(map[string]func() bool),
	}

	if a.exec != nil {
		opts.TaskStatus = func(taskID string) (interface{}, error) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			status, err := a.exec.GetTaskExecutionStatus(ctx, taskID)
			if err != nil {
				return nil, err
			}
			return status, nil
		}
	}

	if a.cfg.EnablePublishing {
		opts.Checks["nats"] = a.orch.IsPublishing
	}

	if a.redis != nil {
		opts.Checks["redis"] = func() bool {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return a.redis.Ping(ctx) == nil
		}
	}

	return opts
}

func (a *app) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// close releases backends in reverse order of opening
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	logger.Sync()
}
