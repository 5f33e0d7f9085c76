// Package main provides the CLI entry point for the VK messenger bridge.
//
// The bridge answers inbound VK messages with OpenAI completions on behalf of
// a configured account, keeping per-account and per-partner usage ledgers.
//
// # Basic Usage
//
// Run the bridge for a stored session:
//
//	vk-messager run --session shop
//
// Inspect stored sessions:
//
//	vk-messager sessions list
//	vk-messager sessions show shop
//
// Tail the usage report:
//
//	vk-messager report --tail 20
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "vk-messager",
		Short: "VK to OpenAI conversation bridge",
		Long: `vk-messager answers inbound VK messages with OpenAI completions on
behalf of a stored account session, and keeps usage ledgers per account,
per conversation partner, and as an append-only CSV report.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildRunCmd(),
		buildSessionsCmd(),
		buildReportCmd(),
	)

	return rootCmd
}
