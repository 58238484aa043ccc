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
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/poller"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/statusapi"
	"github.com/AleutianAI/SentinelOps/pkg/ux"
	"github.com/spf13/cobra"
)

// runWatch runs the controller without a terminal and serves its state
// until interrupted.
func runWatch(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	rt, err := openRuntime(ctx, runtimeOptions{})
	if err != nil {
		return err
	}
	defer rt.close()

	addr := watchListen
	if addr == "" {
		addr = rt.cfg.Watch.Listen
	}

	ctl := rt.newController()
	defer ctl.Close()
	if err := ctl.Start(ctx); err != nil {
		return err
	}
	stopWatch := watchConfig(ctx, rt, ctl)
	defer stopWatch()

	view := ctl.View()
	ux.Success("Watching " + serverLabel(view.Selection.ServerID))
	ux.Field("Listen", addr)
	ux.Field("Routes", "/healthz /state /metrics /events")
	ux.Field("Auto-refresh", poller.FormatInterval(view.AutoRefresh))
	rt.logger.Info("status api starting", "addr", addr, "server_id", view.Selection.ServerID)

	return statusapi.New(ctl, rt.registry, rt.logger).Run(ctx, addr)
}
