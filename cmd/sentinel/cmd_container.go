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

	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/actions"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/models"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/riskgate"
	"github.com/AleutianAI/SentinelOps/pkg/logging"
	"github.com/AleutianAI/SentinelOps/pkg/ux"
	"github.com/spf13/cobra"
)

// runContainer is the entry point of 'sentinel container <verb> <name>'.
func runContainer(cmd *cobra.Command, args []string) error {
	verb, err := actions.ParseVerb(args[0])
	if err != nil {
		return err
	}
	rt, err := openRuntime(cmd.Context(), runtimeOptions{})
	if err != nil {
		return err
	}
	defer rt.close()

	approver := policyApprover(rt.cfg.Actions.MaxAutoApproveLevel(), newPrompter(assumeYes), rt.logger)
	_, err = runContainerAction(cmd.Context(), rt, verb, args[1], targetServer(rt.cfg), approver)
	return err
}

// runContainerAction runs one quick action through the bridge and prints
// the outcome.
func runContainerAction(ctx context.Context, rt *runtime, verb actions.Verb, target, serverID string, approver actions.Approver) (actions.Outcome, error) {
	bridge := actions.New(rt.client,
		actions.WithApprover(approver),
		actions.WithLogger(rt.logger),
		actions.WithPendingObserver(rt.metrics.PendingChanged),
		actions.WithGateOptions(riskgate.WithHook(rt.gateHook())),
	)

	ux.Muted(fmt.Sprintf("Analyzing docker %s %s on %s...", verb, target, serverLabel(serverID)))
	out, err := bridge.Run(ctx, verb, target, serverID)
	if err != nil {
		return out, err
	}

	if !out.Approved {
		level := models.RiskLevel("")
		if out.Session.Analysis != nil {
			level = out.Session.Analysis.RiskLevel
		}
		return out, &CommandError{Command: out.Command, ExitCode: -1, Declined: true,
			Wrapped: fmt.Errorf("not approved (risk %s)", level.Label())}
	}
	result := *out.Session.Result
	if result.Succeeded() {
		ux.Success(fmt.Sprintf("%s %s: done", verb, target))
		return out, nil
	}
	printResult(result)
	return out, resultError(out.Command, result)
}

// policyApprover approves anything at or below max without asking and
// prompts for the rest. A prompt that cannot be answered is a no.
func policyApprover(max models.RiskLevel, prompter UserPrompter, logger *logging.Logger) actions.Approver {
	auto := actions.ApproveUpTo(max)
	return func(ctx context.Context, s riskgate.Session) bool {
		if auto(ctx, s) {
			return true
		}
		if s.Analysis == nil {
			return false
		}
		printAnalysis(s.Command, *s.Analysis)
		ok, err := prompter.Confirm(ctx, fmt.Sprintf("Risk %s is above the auto-approve ceiling (%s). Execute?",
			s.Analysis.RiskLevel.Label(), max.Label()))
		if err != nil {
			logger.Warn("quick-action confirmation unavailable", "command", s.Command, "error", err)
			return false
		}
		return ok
	}
}
