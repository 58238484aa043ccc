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
	"golang.org/x/sync/errgroup"
)

// runAnomalies prints the anomaly feed and, with --trend, the disk trend.
// Both are fetched concurrently.
func runAnomalies(cmd *cobra.Command, _ []string) error {
	rt, err := openRuntime(cmd.Context(), runtimeOptions{})
	if err != nil {
		return err
	}
	defer rt.close()

	serverID := targetServer(rt.cfg)
	lastN := anomalyLastN
	if lastN <= 0 {
		lastN = rt.cfg.Console.AnomaliesLastN
	}

	var (
		anomalies []models.Anomaly
		trend     models.DiskTrend
	)
	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error {
		var err error
		anomalies, err = rt.client.Anomalies(ctx, serverID, lastN)
		return err
	})
	if showTrend {
		g.Go(func() error {
			var err error
			trend, err = rt.client.DiskTrend(ctx, serverID, rt.cfg.Console.DiskTrendLimit)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	ux.Title("Anomalies on " + serverLabel(serverID))
	printAnomalies(anomalies)
	if showTrend {
		ux.Title("Disk trend")
		printDiskTrend(trend)
	}
	return nil
}
