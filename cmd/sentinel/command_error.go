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
	"strings"

	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/api"
	"github.com/AleutianAI/SentinelOps/pkg/ux"
)

// Exit codes
const (
	ExitSuccess  = 0
	ExitFailure  = 1
	ExitDeclined = 2
)

// CommandError reports a remote command that did not succeed: it was
// rejected by the backend, declined by the operator, or exited non-zero.
//
// # Example
//
//	err := NewCommandError("systemctl restart nginx", 3, "unit not found", nil)
//	fmt.Println(err.Error()) // "systemctl restart nginx (exit 3): unit not found"
type CommandError struct {
	// Command is the command that was submitted.
	Command string

	// ExitCode is the remote exit code, -1 when the command never ran.
	ExitCode int

	// Stderr is the remote stderr or the rejection reason.
	Stderr string

	// Declined is set when the operator answered no.
	Declined bool

	// Wrapped is the underlying error.
	Wrapped error
}

// Error returns a formatted error message.
func (e *CommandError) Error() string {
	switch {
	case e.Declined && e.Wrapped != nil:
		return fmt.Sprintf("%s: not executed, %v", e.Command, e.Wrapped)
	case e.Declined:
		return fmt.Sprintf("%s: not executed", e.Command)
	case e.Stderr != "":
		return fmt.Sprintf("%s (exit %d): %s", e.Command, e.ExitCode, e.Stderr)
	case e.Wrapped != nil:
		return fmt.Sprintf("%s (exit %d): %v", e.Command, e.ExitCode, e.Wrapped)
	default:
		return fmt.Sprintf("%s (exit %d)", e.Command, e.ExitCode)
	}
}

// Unwrap returns the underlying error.
func (e *CommandError) Unwrap() error {
	return e.Wrapped
}

// NewCommandError creates a CommandError. Stderr is trimmed of
// surrounding whitespace.
func NewCommandError(command string, exitCode int, stderr string, wrapped error) *CommandError {
	return &CommandError{
		Command:  command,
		ExitCode: exitCode,
		Stderr:   strings.TrimSpace(stderr),
		Wrapped:  wrapped,
	}
}

// exitCode reports err and maps it to the process exit status.
//
// Declined commands exit 2 so scripts can tell "the operator said no"
// from a failure. Everything else exits 1.
func exitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		if cmdErr.Declined {
			ux.Warning(cmdErr.Error())
			return ExitDeclined
		}
		ux.Error(cmdErr.Error())
		return ExitFailure
	}
	ux.Error(api.Message(err))
	return ExitFailure
}
