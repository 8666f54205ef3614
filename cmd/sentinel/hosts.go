package main

import (
	"errors"
	"fmt"

	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/registry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRegisterHostsCommand() *cobra.Command {
	var hostsPath, tasksPath string

	cmd := &cobra.Command{
		Use:   "register-hosts",
		Short: "Import hosts and collection tasks from YAML into the Postgres registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if a.cfg.PostgresURL == "" {
				return errors.New("POSTGRES_URL is required to register hosts")
			}

			if hostsPath == "" {
				hostsPath = a.cfg.HostsFile
			}
			if tasksPath == "" {
				tasksPath = a.cfg.TasksFile
			}
			if hostsPath == "" && tasksPath == "" {
				return errors.New("nothing to register: pass --hosts or --tasks")
			}

			pg, err := a.openPostgres(ctx)
			if err != nil {
				return err
			}

			if hostsPath != "" {
				fileHosts, err := registry.LoadHostsFile(hostsPath)
				if err != nil {
					return err
				}
				for _, h := range fileHosts.Hosts() {
					if err := pg.UpsertHost(ctx, h); err != nil {
						return err
					}
				}
				a.logger.Info("Registered hosts", zap.String("path", hostsPath), zap.Int("count", len(fileHosts.Hosts())))
			}

			if tasksPath != "" {
				tasks, err := registry.LoadTasksFile(tasksPath)
				if err != nil {
					return err
				}
				for _, t := range tasks {
					if err := pg.UpsertTask(ctx, t); err != nil {
						return fmt.Errorf("failed to register task %s: %w", t.TaskID, err)
					}
				}
				a.logger.Info("Registered tasks", zap.String("path", tasksPath), zap.Int("count", len(tasks)))
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&hostsPath, "hosts", "", "hosts YAML file (default $HOSTS_FILE)")
	cmd.Flags().StringVar(&tasksPath, "tasks", "", "tasks YAML file (default $TASKS_FILE)")
	return cmd
}
