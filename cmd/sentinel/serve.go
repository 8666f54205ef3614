package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/health"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const statsFlushInterval = time.Minute

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the collection loop, the task executor and the health server",
		Long: `Run Sentinel as a long-lived service.

Lifecycle:
  1. Load configuration from environment variables and .env file
  2. Build the enabled adapters and connect NATS
  3. Load hosts and tasks and start the executor scheduler
  4. Start the health server (/health, /metrics, /stats, /tasks/{id})
  5. Listen for shutdown signals (SIGINT, SIGTERM)
  6. Drain in-flight work and close all connections`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	log := a.logger
	log.Info("Sentinel starting")

	// Listen for shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	if a.cfg.EnableCollector {
		if err := a.orch.Start(); err != nil {
			return err
		}

		go func() {
			if err := a.orch.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("Collection loop error", zap.Error(err))
			}
		}()
	}

	if a.cfg.EnableExecutor {
		if err := a.buildExecutor(ctx); err != nil {
			return err
		}

		go func() {
			if err := a.exec.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("Executor loop error", zap.Error(err))
			}
		}()

		if a.postgres != nil {
			go a.flushHostStats(ctx)
		}
	}

	server := health.NewServer(a.healthOptions(), log)
	server.Start(a.cfg.HealthPort)

	// Block until shutdown
	select {
	case sig := <-sigChan:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}

	cancel()

	if err := server.Stop(); err != nil {
		log.Warn("Error stopping health server", zap.Error(err))
	}

	if a.exec != nil {
		a.exec.Stop()
	}

	if a.cfg.EnableCollector {
		if err := a.orch.Stop(); err != nil {
			log.Warn("Error stopping orchestrator", zap.Error(err))
		}
	}

	if a.postgres != nil {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := a.postgres.FlushStats(flushCtx); err != nil {
			log.Warn("Failed to flush host statistics", zap.Error(err))
		}
	}

	log.Info("Sentinel stopped")
	return nil
}

// flushHostStats writes per-host counters to Postgres until ctx ends
func (a *app) flushHostStats(ctx context.Context) {
	ticker := time.NewTicker(statsFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.postgres.FlushStats(ctx); err != nil {
				a.logger.Warn("Failed to flush host statistics", zap.Error(err))
			}
		}
	}
}
