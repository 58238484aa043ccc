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
	"context"
	"errors"
	"fmt"

	"github.com/AleutianAI/SentinelOps/cmd/sentinel/config"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/actions"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/console"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/tui"
	"github.com/AleutianAI/SentinelOps/pkg/ux"
	"github.com/spf13/cobra"
)

// runConsole opens the full-screen dashboard.
//
// # Description
//
// Console logging is silenced (records still go to the log file) so the
// dashboard owns the terminal. Quick actions inside the dashboard cannot
// prompt, so actions.max_auto_approve decides them. The config file is
// watched and a changed auto_refresh is applied live.
func runConsole(cmd *cobra.Command, _ []string) error {
	if !ux.IsInteractive() {
		return errors.New("the console needs a terminal; use 'sentinel watch' for headless runs")
	}
	ctx := cmd.Context()
	rt, err := openRuntime(ctx, runtimeOptions{quiet: true})
	if err != nil {
		return err
	}
	defer rt.close()

	ctl := rt.newController(console.WithApprover(actions.ApproveUpTo(rt.cfg.Actions.MaxAutoApproveLevel())))
	defer ctl.Close()
	if err := ctl.Start(ctx); err != nil {
		return err
	}

	stopWatch := watchConfig(ctx, rt, ctl)
	defer stopWatch()

	if err := tui.Run(ctx, ctl); err != nil {
		return fmt.Errorf("console: %w", err)
	}
	return nil
}

// watchConfig applies auto_refresh changes from the config file to ctl.
// Returns the function that stops the watcher. A file that cannot be
// watched only disables live reload.
func watchConfig(ctx context.Context, rt *runtime, ctl *console.Controller) func() {
	path := configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return func() {}
		}
		path = p
	}
	current := rt.cfg.Console.AutoRefresh
	w, err := config.NewWatcher(path, config.DefaultReloadDebounce, rt.logger, func(next config.SentinelConfig) {
		if next.Console.AutoRefresh == current {
			return
		}
		if err := ctl.SetAutoRefresh(next.Console.AutoRefresh); err != nil {
			rt.logger.Warn("config reload: auto_refresh not applied", "error", err)
			return
		}
		current = next.Console.AutoRefresh
		rt.logger.Info("config reload: auto_refresh applied", "interval", next.Console.AutoRefresh.String())
	})
	if err != nil {
		rt.logger.Warn("config watch disabled", "path", path, "error", err)
		return func() {}
	}
	w.Start(ctx)
	return func() { _ = w.Close() }
}
