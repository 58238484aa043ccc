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
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/journal"
	"github.com/AleutianAI/SentinelOps/pkg/ux"
	"github.com/spf13/cobra"
)

func runHistory(cmd *cobra.Command, _ []string) error {
	rt, err := openRuntime(cmd.Context(), runtimeOptions{})
	if err != nil {
		return err
	}
	defer rt.close()

	if historyRemote {
		entries, err := rt.client.CommandHistory(cmd.Context())
		if err != nil {
			return err
		}
		if historyLimit > 0 && len(entries) > historyLimit {
			entries = entries[:historyLimit]
		}
		ux.Title("Backend command log")
		printLogEntries(entries)
		return nil
	}

	if rt.journal == nil {
		return errors.New("the local journal is disabled (journal.enabled) or unavailable; try --remote")
	}
	entries, err := rt.journal.List(cmd.Context(), journal.Query{
		ServerID:    serverFlag,
		Limit:       historyLimit,
		SettledOnly: !historyAll,
	})
	if err != nil {
		return err
	}
	ux.Title("Local journal")
	printJournal(entries)
	return nil
}

// printJournal lists journal entries. Sessions that were analyzed but
// never executed show as pending.
func printJournal(entries []journal.Entry) {
	if len(entries) == 0 {
		ux.Muted("No commands recorded.")
		return
	}
	for _, e := range entries {
		log := e.LogEntry()
		detail := fmt.Sprintf("%s, %s, risk %s", e.AnalyzedAt.Local().Format(time.DateTime), serverLabel(e.ServerID), log.RiskLevel.Label())
		switch {
		case !e.Settled():
			ux.StatusLine(ux.IconPending, e.Command, detail+", not executed")
		case !e.Result.Executed:
			ux.StatusLine(ux.IconError, e.Command, detail+", rejected: "+e.Result.RejectionReason)
		case log.Success:
			ux.StatusLine(ux.IconSuccess, e.Command, detail)
		default:
			ux.StatusLine(ux.IconWarning, e.Command, fmt.Sprintf("%s, exit %d", detail, log.ExitCode))
		}
	}
}
