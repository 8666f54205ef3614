package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/adapter"
	"github.com/spf13/cobra"
)

func newCycleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cycle",
		Short: "Run one collection cycle across every enabled source and print the report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.orch.Start(); err != nil {
				return err
			}
			defer a.orch.Stop()

			report, err := a.orch.RunCycle(ctx)
			if err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), report)
		},
	}
}

func newCollectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "collect <source>",
		Short: "Collect a single source once and print the report",
		Long: `Collect a single source once and print the report.

Sources:
  windows      - Windows Event Log (Windows only)
  syslog       - local syslog files
  application  - host CPU, memory and disk metrics
  network      - listening sockets and connections
  process      - running processes`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			source, err := adapter.ParseSourceType(args[0])
			if err != nil {
				return err
			}

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.orch.Collect(ctx, source)
			if err != nil {
				return err
			}

			if report.Errors > 0 {
				if err := printJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
				return fmt.Errorf("collection of %s failed: %s", source, report.Sources[0].Error)
			}

			return printJSON(cmd.OutOrStdout(), report)
		},
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
