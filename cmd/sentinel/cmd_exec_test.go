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
	"net/http"
	"strings"
	"testing"

	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/actions"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/journal"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/models"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/riskgate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int { return &n }

func TestExecuteCommand_ConfirmedRunsWithAnalyzedRisk(t *testing.T) {
	backend := &fakeBackend{
		risk:   models.RiskMedium,
		result: models.ExecutionResult{Executed: true, ExitCode: intPtr(0), Stdout: "ok\n"},
	}
	rt := newTestRuntime(t, backend.handler(t))
	prompter := &mockPrompter{answer: true}

	result, err := executeCommand(context.Background(), rt, "  systemctl reload nginx ", "srv-1", prompter)
	require.NoError(t, err)
	assert.True(t, result.Executed)

	execs := backend.executions()
	require.Len(t, execs, 1)
	assert.Equal(t, "systemctl reload nginx", execs[0].Command)
	assert.Equal(t, models.RiskMedium, execs[0].ConfirmedRiskLevel)
	require.NotNil(t, execs[0].ServerID)
	assert.Equal(t, "srv-1", *execs[0].ServerID)

	require.Len(t, prompter.prompts, 1)
	assert.Contains(t, prompter.prompts[0], "risk Medium")

	entries, err := rt.journal.List(context.Background(), journal.Query{SettledOnly: true})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "systemctl reload nginx", entries[0].Command)
	assert.Equal(t, "srv-1", entries[0].ServerID)
}

func TestExecuteCommand_DefaultServerSendsNull(t *testing.T) {
	backend := &fakeBackend{risk: models.RiskLow, result: models.ExecutionResult{Executed: true}}
	rt := newTestRuntime(t, backend.handler(t))

	_, err := executeCommand(context.Background(), rt, "uptime", "", NewAutoApprovePrompter())
	require.NoError(t, err)
	execs := backend.executions()
	require.Len(t, execs, 1)
	assert.Nil(t, execs[0].ServerID)
}

func TestExecuteCommand_DeclinedNeverExecutes(t *testing.T) {
	backend := &fakeBackend{risk: models.RiskHigh}
	rt := newTestRuntime(t, backend.handler(t))

	_, err := executeCommand(context.Background(), rt, "rm -rf /var/log/nginx", "srv-1", &mockPrompter{answer: false})
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.True(t, cmdErr.Declined)
	assert.Equal(t, ExitDeclined, exitCode(err))
	assert.Empty(t, backend.executions())

	// The analysis is still journaled.
	entries, err := rt.journal.List(context.Background(), journal.Query{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Settled())
}

func TestExecuteCommand_NonInteractiveWithoutYes(t *testing.T) {
	backend := &fakeBackend{risk: models.RiskLow}
	rt := newTestRuntime(t, backend.handler(t))

	_, err := executeCommand(context.Background(), rt, "df -h", "", NewNonInteractivePrompter())
	assert.ErrorIs(t, err, ErrNonInteractive)
	assert.Empty(t, backend.executions())
}

func TestExecuteCommand_NonZeroExit(t *testing.T) {
	backend := &fakeBackend{
		risk:   models.RiskLow,
		result: models.ExecutionResult{Executed: true, ExitCode: intPtr(3), Stderr: "unit not found\n"},
	}
	rt := newTestRuntime(t, backend.handler(t))

	_, err := executeCommand(context.Background(), rt, "systemctl status foo", "", NewAutoApprovePrompter())
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, 3, cmdErr.ExitCode)
	assert.Equal(t, "systemctl status foo (exit 3): unit not found", cmdErr.Error())
	assert.Equal(t, ExitFailure, exitCode(err))
}

func TestExecuteCommand_Rejected(t *testing.T) {
	backend := &fakeBackend{
		risk:   models.RiskLow,
		result: models.ExecutionResult{Executed: false, RejectionReason: "risk mismatch"},
	}
	rt := newTestRuntime(t, backend.handler(t))

	_, err := executeCommand(context.Background(), rt, "reboot", "", NewAutoApprovePrompter())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected: risk mismatch")
}

func TestExecuteCommand_AnalysisFailureIsFailSafeLow(t *testing.T) {
	rt := newTestRuntime(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "analyzer offline", http.StatusBadGateway)
	}))
	prompter := &mockPrompter{answer: false}

	_, err := executeCommand(context.Background(), rt, "ls", "", prompter)
	require.Error(t, err)
	require.Len(t, prompter.prompts, 1)
	assert.Contains(t, prompter.prompts[0], "risk Low")

	entries, err := rt.journal.List(context.Background(), journal.Query{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].Analysis)
	assert.True(t, strings.HasPrefix(entries[0].Analysis.Reason, riskgate.AnalysisFailedPrefix))
}

func TestExecuteCommand_BlankCommand(t *testing.T) {
	rt := newTestRuntime(t, (&fakeBackend{}).handler(t))
	_, err := executeCommand(context.Background(), rt, "   ", "", NewAutoApprovePrompter())
	assert.ErrorIs(t, err, riskgate.ErrNoCommand)
}

func TestRunContainerAction(t *testing.T) {
	tests := []struct {
		name     string
		risk     models.RiskLevel
		prompter UserPrompter
		wantExec bool
		wantErr  bool
	}{
		{"low is auto-approved", models.RiskLow, NewNonInteractivePrompter(), true, false},
		{"medium at the ceiling", models.RiskMedium, NewNonInteractivePrompter(), true, false},
		{"high without a terminal is declined", models.RiskHigh, NewNonInteractivePrompter(), false, true},
		{"high confirmed by the operator", models.RiskHigh, &mockPrompter{answer: true}, true, false},
		{"high with --yes", models.RiskHigh, NewAutoApprovePrompter(), true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{risk: tt.risk, result: models.ExecutionResult{Executed: true, ExitCode: intPtr(0)}}
			rt := newTestRuntime(t, backend.handler(t))
			approver := policyApprover(models.RiskMedium, tt.prompter, rt.logger)

			out, err := runContainerAction(context.Background(), rt, actions.VerbRestart, "web-1", "srv-1", approver)
			if tt.wantErr {
				var cmdErr *CommandError
				require.ErrorAs(t, err, &cmdErr)
				assert.True(t, cmdErr.Declined)
				assert.Contains(t, cmdErr.Error(), "not approved (risk High)")
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, "docker restart web-1", out.Command)
			assert.Equal(t, tt.wantExec, out.Executed())
			if tt.wantExec {
				execs := backend.executions()
				require.Len(t, execs, 1)
				assert.Equal(t, tt.risk, execs[0].ConfirmedRiskLevel)
			}
		})
	}
}

func TestRunContainerAction_InvalidTarget(t *testing.T) {
	rt := newTestRuntime(t, (&fakeBackend{}).handler(t))
	_, err := runContainerAction(context.Background(), rt, actions.VerbStop, "web;rm -rf /", "", actions.ApproveAll)
	assert.True(t, errors.Is(err, actions.ErrInvalidTarget))
}
