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
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/models"
	"github.com/AleutianAI/SentinelOps/pkg/ux"
	"github.com/spf13/cobra"
)

func runServers(cmd *cobra.Command, _ []string) error {
	rt, err := openRuntime(cmd.Context(), runtimeOptions{})
	if err != nil {
		return err
	}
	defer rt.close()

	servers, err := rt.client.ListServers(cmd.Context())
	if err != nil {
		return err
	}
	ux.Title("Servers")
	printServers(servers, targetServer(rt.cfg))
	ux.Hint("Check one with 'sentinel servers health <id>'.")
	return nil
}

func runServersHealth(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd.Context(), runtimeOptions{})
	if err != nil {
		return err
	}
	defer rt.close()

	id := args[0]
	spin := ux.NewSpinner("Checking " + id + "...").WithType(ux.SpinnerPulse)
	spin.Start()
	if err := rt.client.CheckHealth(cmd.Context(), id); err != nil {
		spin.Stop()
		return err
	}

	// The check stores its result on the server record; re-read it so the
	// reported health is the backend's, not an assumption.
	spin.UpdateMessage("Reading health of " + id + "...")
	servers, err := rt.client.ListServers(cmd.Context())
	if err != nil {
		spin.Stop()
		return err
	}
	srv, ok := models.FindServer(servers, id)
	if !ok || srv.Health == "" {
		spin.StopWithSuccess(id + " is reachable")
		return nil
	}
	spin.StopWithSuccess(id + " is " + srv.Health)
	return nil
}
