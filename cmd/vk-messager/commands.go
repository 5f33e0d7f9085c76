// commands.go contains the cobra command definitions. Each builder creates a
// command and wires it to its handler in handlers.go.
package main

import (
	"github.com/spf13/cobra"
)

func buildRunCmd() *cobra.Command {
	var (
		configPath  string
		sessionName string
		debug       bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bridge for a stored session",
		Long: `Run the long-poll event loop for one stored account session.

The bridge will:
1. Load the session record (credentials, persona, counters)
2. Resolve the account identity against the VK API
3. Poll for inbound messages and answer each admitted conversation
4. Settle usage into the session, dossier, and report ledgers

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Run with defaults
  vk-messager run --session shop

  # Run with a config file and debug logging
  vk-messager run --session shop --config /etc/vkm/config.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBridge(cmd.Context(), configPath, sessionName, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVarP(&sessionName, "session", "s", "", "Stored session name (required)")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	_ = cmd.MarkFlagRequired("session")

	return cmd
}

func buildSessionsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect stored account sessions",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored session names",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsList(cmd, configPath)
		},
	}

	showCmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Show one session record with credentials redacted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsShow(cmd, configPath, args[0])
		},
	}

	cmd.AddCommand(listCmd, showCmd)
	return cmd
}

func buildReportCmd() *cobra.Command {
	var (
		configPath string
		tail       int
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the usage report",
		Example: `  # Print the whole report
  vk-messager report

  # Print the last 20 rows
  vk-messager report --tail 20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, configPath, tail)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().IntVarP(&tail, "tail", "t", 0, "Print only the last N rows (0 prints all)")

	return cmd
}
