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
	"strings"

	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/models"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/riskgate"
	"github.com/AleutianAI/SentinelOps/pkg/ux"
	"github.com/spf13/cobra"
)

// runExec is the entry point of 'sentinel exec'.
func runExec(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd.Context(), runtimeOptions{})
	if err != nil {
		return err
	}
	defer rt.close()

	_, err = executeCommand(cmd.Context(), rt, strings.Join(args, " "), targetServer(rt.cfg), newPrompter(assumeYes))
	return err
}

// executeCommand drives one analyze, confirm, execute session.
//
// # Description
//
// The command is analyzed first and the verdict printed. Execution only
// happens after prompter confirms; the confirmed risk is exactly the
// analyzed level. A backend rejection, a non-zero exit code or a declined
// prompt are returned as *CommandError so the process exit status
// reflects them.
//
// # Inputs
//
//   - serverID: target server, "" for the backend default.
//
// # Outputs
//
//   - models.ExecutionResult: zero when nothing was executed.
//   - error: *CommandError, riskgate.ErrNoCommand, or a prompter error.
func executeCommand(ctx context.Context, rt *runtime, command, serverID string, prompter UserPrompter) (models.ExecutionResult, error) {
	gate := rt.newGate(riskgate.SourceManual)
	if err := gate.SubmitCommand(command); err != nil {
		return models.ExecutionResult{}, err
	}
	command = gate.Session().Command

	var analysis models.CommandAnalysis
	err := ux.WithSpinner("Analyzing command...", func() error {
		var err error
		analysis, err = gate.Analyze(ctx)
		return err
	})
	if err != nil {
		return models.ExecutionResult{}, err
	}
	printAnalysis(command, analysis)

	prompt := fmt.Sprintf("Execute on %s? (risk %s)", serverLabel(serverID), analysis.RiskLevel.Label())
	ok, err := prompter.Confirm(ctx, prompt)
	if err != nil {
		return models.ExecutionResult{}, err
	}
	if !ok {
		return models.ExecutionResult{}, &CommandError{Command: command, ExitCode: -1, Declined: true}
	}

	var result models.ExecutionResult
	err = ux.WithSpinner("Executing...", func() error {
		var err error
		result, err = gate.ConfirmExecute(ctx, serverID)
		return err
	})
	if err != nil {
		return result, err
	}
	printResult(result)
	return result, resultError(command, result)
}

// resultError is nil only for a command that ran and exited 0.
func resultError(command string, r models.ExecutionResult) error {
	if r.Succeeded() {
		return nil
	}
	if !r.Executed {
		return NewCommandError(command, -1, "rejected: "+r.RejectionReason, nil)
	}
	return NewCommandError(command, *r.ExitCode, r.Stderr, nil)
}

func serverLabel(serverID string) string {
	if serverID == "" {
		return "the default server"
	}
	return serverID
}

// printAnalysis shows the risk verdict.
func printAnalysis(command string, a models.CommandAnalysis) {
	ux.Title("Risk analysis")
	ux.Field("Command", command)
	ux.Field("Risk", ux.RiskBadge(string(a.RiskLevel), a.RiskLevel.Label()))
	if a.Reason != "" {
		ux.Field("Reason", a.Reason)
	}
	if a.RollbackSuggestion != "" {
		ux.Field("Rollback", a.RollbackSuggestion)
	}
	if strings.HasPrefix(a.Reason, riskgate.AnalysisFailedPrefix) {
		ux.Warning("The backend could not analyze this command; review it yourself before executing.")
	}
}

// printResult shows an execution result.
func printResult(r models.ExecutionResult) {
	if !r.Executed {
		ux.Error("Rejected: " + r.RejectionReason)
		if r.RollbackSuggestion != "" {
			ux.Field("Rollback", r.RollbackSuggestion)
		}
		return
	}
	code := 0
	if r.ExitCode != nil {
		code = *r.ExitCode
	}
	if code == 0 {
		ux.Success("Executed (exit code 0)")
	} else {
		ux.Warning(fmt.Sprintf("Executed with exit code %d", code))
	}
	if out := strings.TrimRight(r.Stdout, "\n"); out != "" {
		ux.Box("stdout", out)
	}
	if errOut := strings.TrimRight(r.Stderr, "\n"); errOut != "" {
		ux.WarningBox("stderr", errOut)
	}
	if r.RollbackSuggestion != "" {
		ux.Field("Rollback", r.RollbackSuggestion)
	}
	ux.Hint("Run 'sentinel history' to see this command in the journal.")
}
