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
	"encoding/json"
	"errors"
	"os"

	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/models"
	"github.com/AleutianAI/SentinelOps/pkg/ux"
	"github.com/spf13/cobra"
)

func runSnapshot(cmd *cobra.Command, _ []string) error {
	rt, err := openRuntime(cmd.Context(), runtimeOptions{})
	if err != nil {
		return err
	}
	defer rt.close()

	serverID := targetServer(rt.cfg)
	var snap models.Snapshot
	err = ux.WithSpinner("Collecting snapshot...", func() error {
		var err error
		snap, err = rt.client.Snapshot(cmd.Context(), serverID)
		return err
	})
	if err != nil {
		return err
	}

	if snapshotJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	ux.Title("Snapshot of " + serverLabel(serverID))
	printSnapshot(snap)
	if snap.Error != "" {
		return errors.New(snap.Error)
	}
	return nil
}
