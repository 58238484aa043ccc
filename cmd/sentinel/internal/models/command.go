// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package models

import "strings"

// RiskLevel is the backend's classification of a shell command.
//
// The set is open: levels the console does not know are carried through
// verbatim so they can be echoed back on execution.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Label renders "HIGH" as "High".
func (r RiskLevel) Label() string {
	s := string(r)
	if s == "" {
		return ""
	}
	return s[:1] + strings.ToLower(s[1:])
}

// Severity orders known levels (LOW=1 .. HIGH=3). Unknown levels rank
// above HIGH so that anything unrecognised is treated as the most severe.
func (r RiskLevel) Severity() int {
	switch RiskLevel(strings.ToUpper(string(r))) {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	default:
		return 4
	}
}

// CommandAnalysis is the risk classification of one command string.
type CommandAnalysis struct {
	RiskLevel          RiskLevel `json:"riskLevel"`
	Reason             string    `json:"reason"`
	RollbackSuggestion string    `json:"rollbackSuggestion,omitempty"`
}

// AnalyzeRequest is the body of POST /commands/analyze.
type AnalyzeRequest struct {
	Command string `json:"command"`
}

// ExecuteRequest is the body of POST /commands/execute.
//
// ConfirmedRiskLevel echoes exactly what the operator was shown; the
// backend recomputes the level and rejects the request on mismatch.
type ExecuteRequest struct {
	Command            string    `json:"command"`
	ConfirmedRiskLevel RiskLevel `json:"confirmedRiskLevel"`
	ServerID           *string   `json:"serverId"`
}

// ExecutionResult is the outcome of POST /commands/execute.
//
// When Executed is true the exit code and output fields are meaningful;
// otherwise only RejectionReason is.
type ExecutionResult struct {
	Executed           bool   `json:"executed"`
	ExitCode           *int   `json:"exitCode,omitempty"`
	Stdout             string `json:"stdout,omitempty"`
	Stderr             string `json:"stderr,omitempty"`
	RollbackSuggestion string `json:"rollbackSuggestion,omitempty"`
	RejectionReason    string `json:"rejectionReason,omitempty"`
}

// Succeeded reports whether the command ran and exited zero.
func (r ExecutionResult) Succeeded() bool {
	return r.Executed && (r.ExitCode == nil || *r.ExitCode == 0)
}

// CommandLogEntry is one record from GET /commands/history.
type CommandLogEntry struct {
	ID                 string    `json:"id"`
	Timestamp          *Instant  `json:"timestamp,omitempty"`
	Command            string    `json:"command"`
	RiskLevel          RiskLevel `json:"riskLevel,omitempty"`
	Success            bool      `json:"success"`
	ExitCode           int       `json:"exitCode"`
	Stdout             string    `json:"stdout,omitempty"`
	Stderr             string    `json:"stderr,omitempty"`
	RollbackSuggestion string    `json:"rollbackSuggestion,omitempty"`
}

// OptionalID converts an empty server id to nil so it serialises as JSON
// null, which the backend reads as "use the configured default server".
func OptionalID(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}
