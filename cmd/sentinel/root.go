package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "sentinel",
		Short: "Security event collection and anomaly detection",
		Long: `Sentinel collects security events from local sources and remote hosts,
scores them for anomalies and publishes the results.

Configuration is read from the environment and an optional .env file.

Examples:
  sentinel serve                      # Run collection, executor and health server
  sentinel cycle                      # Run one collection cycle and print the report
  sentinel collect network            # Collect a single source
  sentinel test-connection web-01     # Check SSH reachability of a host
  sentinel task-status web-01-syslog  # Ask a running service for a task's status
  sentinel register-hosts             # Import hosts and tasks YAML into Postgres`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newServeCommand(),
		newCycleCommand(),
		newCollectCommand(),
		newTestConnectionCommand(),
		newTaskStatusCommand(),
		newRegisterHostsCommand(),
	)

	return root
}
