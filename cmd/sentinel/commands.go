// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/SentinelOps/cmd/sentinel/config"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/actions"
	"github.com/AleutianAI/SentinelOps/pkg/logging"
	"github.com/AleutianAI/SentinelOps/pkg/ux"
	"github.com/AleutianAI/SentinelOps/pkg/validation"
	"github.com/spf13/cobra"
)

var (
	configPath       string
	serverFlag       string
	personalityLevel string
	logLevel         string

	assumeYes     bool
	followLogs    bool
	logLimit      int
	anomalyLastN  int
	showTrend     bool
	chatContext   bool
	historyRemote bool
	historyLimit  int
	historyAll    bool
	snapshotJSON  bool
	watchListen   string

	rootCmd = &cobra.Command{
		Use:   "sentinel",
		Short: "Operator console for SentinelOps-managed servers",
		Long: `sentinel is the operator console for servers managed by a SentinelOps backend.

It shows live telemetry (CPU, memory, disks, containers, Postgres, nginx),
anomalies and disk trends, tails the USSD gateway log, and runs commands
through the backend's risk gate: every command is analyzed first and only
executed after an explicit confirmation.

Run 'sentinel console' for the interactive dashboard.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: loadSettings,
	}

	consoleCmd = &cobra.Command{
		Use:   "console",
		Short: "Open the interactive dashboard",
		Long: `Opens the full-screen dashboard for one server.

Keys: r refresh, l reload logs, a cycle auto-refresh, p pick a server,
c open the command modal, S/T/R start/stop/restart the highlighted
container, q quit.`,
		Args: cobra.NoArgs,
		RunE: runConsole, // Defined in cmd_console.go
	}

	execCmd = &cobra.Command{
		Use:   "exec <command...>",
		Short: "Analyze a shell command and execute it after confirmation",
		Long: `Sends the command to the backend for risk analysis, shows the verdict,
and executes it on the selected server only after you confirm.

The exit status is 0 only when the command ran and exited 0.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runExec, // Defined in cmd_exec.go
	}

	containerCmd = &cobra.Command{
		Use:       "container <start|stop|restart> <name>",
		Short:     "Start, stop or restart a docker container through the risk gate",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{string(actions.VerbStart), string(actions.VerbStop), string(actions.VerbRestart)},
		RunE:      runContainer, // Defined in cmd_container.go
	}

	snapshotCmd = &cobra.Command{
		Use:   "snapshot",
		Short: "Print the current telemetry snapshot",
		Args:  cobra.NoArgs,
		RunE:  runSnapshot, // Defined in cmd_snapshot.go
	}

	serversCmd = &cobra.Command{
		Use:   "servers",
		Short: "List the servers registered with the backend",
		Args:  cobra.NoArgs,
		RunE:  runServers, // Defined in cmd_servers.go
	}

	serversHealthCmd = &cobra.Command{
		Use:   "health <server-id>",
		Short: "Run the backend health check for one server",
		Args:  cobra.ExactArgs(1),
		RunE:  runServersHealth, // Defined in cmd_servers.go
	}

	anomaliesCmd = &cobra.Command{
		Use:   "anomalies",
		Short: "Print recent anomalies and, optionally, the disk trend",
		Args:  cobra.NoArgs,
		RunE:  runAnomalies, // Defined in cmd_anomalies.go
	}

	logsCmd = &cobra.Command{
		Use:   "logs",
		Short: "Print the nginx USSD log tail",
		Args:  cobra.NoArgs,
		RunE:  runLogs, // Defined in cmd_logs.go
	}

	chatCmd = &cobra.Command{
		Use:   "chat [message...]",
		Short: "Ask the operations assistant; with no message, print the chat mode",
		RunE:  runChat, // Defined in cmd_chat.go
	}

	chatModeCmd = &cobra.Command{
		Use:   "mode",
		Short: "Print the assistant mode (OPENAI, LOCAL or UNKNOWN)",
		Args:  cobra.NoArgs,
		RunE:  runChatMode, // Defined in cmd_chat.go
	}

	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "List analyzed and executed commands",
		Long: `Lists commands from the local journal, newest first.

With --remote the backend's command log is printed instead.`,
		Args: cobra.NoArgs,
		RunE: runHistory, // Defined in cmd_history.go
	}

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Run the console headless and serve its state over HTTP",
		Long: `Runs the polling console without a terminal and serves:

  GET /health   liveness
  GET /state    the current selection, snapshot, analytics and log tail
  GET /metrics  Prometheus metrics

The config file is watched; auto_refresh changes apply without a restart.`,
		Args: cobra.NoArgs,
		RunE: runWatch, // Defined in cmd_watch.go
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow, // Defined in cmd_config.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to the config file (default ~/.sentinel/sentinel.yaml)")
	rootCmd.PersistentFlags().StringVarP(&serverFlag, "server", "s", "",
		"Server id to operate on (default: console.server, then the backend default)")
	rootCmd.PersistentFlags().StringVar(&personalityLevel, "personality", "",
		"Output style: full, standard, minimal, or machine (scripting)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level: debug, info, warn or error (default from config)")

	rootCmd.AddCommand(consoleCmd)

	rootCmd.AddCommand(execCmd)
	execCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Execute without prompting after analysis")

	rootCmd.AddCommand(containerCmd)
	containerCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false,
		"Approve regardless of actions.max_auto_approve")

	rootCmd.AddCommand(snapshotCmd)
	snapshotCmd.Flags().BoolVar(&snapshotJSON, "json", false, "Print the raw snapshot as JSON")

	rootCmd.AddCommand(serversCmd)
	serversCmd.AddCommand(serversHealthCmd)

	rootCmd.AddCommand(anomaliesCmd)
	anomaliesCmd.Flags().IntVarP(&anomalyLastN, "last", "n", 0, "Number of anomalies (default console.anomalies_last_n)")
	anomaliesCmd.Flags().BoolVar(&showTrend, "trend", false, "Also print the disk usage trend per mount")

	rootCmd.AddCommand(logsCmd)
	logsCmd.Flags().BoolVarP(&followLogs, "follow", "f", false, "Keep polling and print new lines")
	logsCmd.Flags().IntVarP(&logLimit, "limit", "n", 0, "Number of lines, 1-500 (default console.log_tail_limit)")

	rootCmd.AddCommand(chatCmd)
	chatCmd.AddCommand(chatModeCmd)
	chatCmd.Flags().BoolVar(&chatContext, "context", false, "Include the selected server's telemetry in the question")

	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().BoolVar(&historyRemote, "remote", false, "Print the backend's command log instead of the local journal")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 0, "Maximum number of entries")
	historyCmd.Flags().BoolVar(&historyAll, "all", false, "Include commands that were analyzed but never executed")

	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&watchListen, "listen", "", "Listen address (default watch.listen)")

	rootCmd.AddCommand(configCmd)
}

// loadSettings runs before every command: it loads the config file and
// resolves the output personality.
func loadSettings(cmd *cobra.Command, _ []string) error {
	if err := config.Load(configPath); err != nil {
		return err
	}
	if logLevel != "" {
		if _, err := logging.ParseLevel(logLevel); err != nil {
			return fmt.Errorf("--log-level: %w", err)
		}
	}
	id, err := validation.SanitizeServerID(serverFlag)
	if err != nil {
		return fmt.Errorf("--server: %w", err)
	}
	serverFlag = id
	switch strings.ToLower(personalityLevel) {
	case "", "full", "standard", "minimal", "machine":
	default:
		return fmt.Errorf("--personality: unknown level %q", personalityLevel)
	}
	ux.InitPersonality(personalityLevel, config.Global.Personality)
	return nil
}

// targetServer is the --server flag, falling back to console.server.
func targetServer(cfg config.SentinelConfig) string {
	if serverFlag != "" {
		return serverFlag
	}
	return cfg.Console.Server
}
