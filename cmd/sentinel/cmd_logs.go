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
	"fmt"
	"io"
	"os"
	"time"

	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/api"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/store"
	"github.com/AleutianAI/SentinelOps/pkg/logging"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
)

func runLogs(cmd *cobra.Command, _ []string) error {
	rt, err := openRuntime(cmd.Context(), runtimeOptions{})
	if err != nil {
		return err
	}
	defer rt.close()

	limit := logLimit
	if limit <= 0 {
		limit = rt.cfg.Console.LogTailLimit
	}
	f := logFollower{
		client:   rt.client,
		serverID: targetServer(rt.cfg),
		limit:    store.ClampLogLimit(limit),
		out:      os.Stdout,
		logger:   rt.logger,
	}
	if !followLogs {
		return f.once(cmd.Context())
	}
	return f.follow(cmd.Context(), clockwork.NewRealClock(), rt.cfg.Console.LogTailInterval)
}

// logFollower prints the log tail and, when following, only the lines
// that appeared since the previous fetch.
type logFollower struct {
	client   store.LogFetcher
	serverID string
	limit    int
	out      io.Writer
	logger   *logging.Logger

	last []string
}

func (f *logFollower) once(ctx context.Context) error {
	tail, err := f.client.NginxLogs(ctx, f.serverID, f.limit)
	if err != nil {
		return err
	}
	f.print(tail.Lines)
	return nil
}

// follow polls every interval until ctx ends. A failed poll is logged and
// retried on the next tick; the window is kept.
func (f *logFollower) follow(ctx context.Context, clock clockwork.Clock, interval time.Duration) error {
	if err := f.once(ctx); err != nil {
		return err
	}
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			tail, err := f.client.NginxLogs(ctx, f.serverID, f.limit)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				f.logger.Warn("log tail reload failed", "server_id", f.serverID, "error", api.Message(err))
				continue
			}
			f.print(newLines(f.last, tail.Lines))
			f.last = tail.Lines
		}
	}
}

func (f *logFollower) print(lines []string) {
	if f.last == nil {
		f.last = lines
	}
	for _, l := range lines {
		fmt.Fprintln(f.out, l)
	}
}

// newLines returns the lines of cur that follow the longest suffix of prev
// that cur starts with. With no overlap the whole window is new.
func newLines(prev, cur []string) []string {
	for start := 0; start < len(prev); start++ {
		overlap := len(prev) - start
		if overlap > len(cur) {
			continue
		}
		match := true
		for i := 0; i < overlap; i++ {
			if prev[start+i] != cur[i] {
				match = false
				break
			}
		}
		if match {
			return cur[overlap:]
		}
	}
	return cur
}
