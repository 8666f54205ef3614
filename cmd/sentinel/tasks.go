package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/config"
	"github.com/spf13/cobra"
)

func newTestConnectionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "test-connection <host-id>",
		Short: "Run an SSH connection test against a registered host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.buildExecutor(ctx); err != nil {
				return err
			}
			defer a.exec.Stop()

			result, err := a.exec.TestConnection(ctx, args[0])
			if err != nil {
				return err
			}

			if err := printJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}

			if !result.Status.Succeeded() {
				return fmt.Errorf("connection test for %s failed: %s", args[0], result.Status)
			}
			return nil
		},
	}
}

func newTaskStatusCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "task-status <task-id>",
		Short: "Ask a running Sentinel service for a task's execution status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				addr = "http://localhost:" + cfg.HealthPort
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr+"/tasks/"+args[0], nil)
			if err != nil {
				return err
			}

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("failed to reach sentinel at %s: %w", addr, err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("task %s: %s: %s", args[0], resp.Status, body)
			}

			_, err = cmd.OutOrStdout().Write(body)
			return err
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "base URL of the health server (default http://localhost:$HEALTH_PORT)")
	return cmd
}
