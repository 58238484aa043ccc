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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/AleutianAI/SentinelOps/pkg/ux"
	"github.com/charmbracelet/huh"
)

// ErrNonInteractive is returned when a confirmation is needed but nobody
// can answer it.
var ErrNonInteractive = errors.New("confirmation required but stdin is not a terminal (use --yes)")

// UserPrompter asks the operator yes/no questions.
type UserPrompter interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
	IsInteractive() bool
}

// newPrompter picks the prompter for this process: auto-approve with
// --yes, a form on a terminal, otherwise a prompter that refuses.
func newPrompter(yes bool) UserPrompter {
	switch {
	case yes:
		return NewAutoApprovePrompter()
	case ux.IsInteractive() && ux.GetPersonality().Level != ux.PersonalityMachine:
		return NewFormPrompter()
	case ux.IsInteractive():
		return NewInteractivePrompter()
	default:
		return NewNonInteractivePrompter()
	}
}

// -----------------------------------------------------------------------------
// FormPrompter
// -----------------------------------------------------------------------------

// FormPrompter renders a huh confirm field.
type FormPrompter struct{}

// NewFormPrompter creates a FormPrompter.
func NewFormPrompter() *FormPrompter { return &FormPrompter{} }

// Confirm shows the prompt with "No" preselected.
func (p *FormPrompter) Confirm(ctx context.Context, prompt string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var ok bool
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(prompt).
			Affirmative("Execute").
			Negative("Cancel").
			Value(&ok),
	))
	err := form.RunWithContext(ctx)
	if errors.Is(err, huh.ErrUserAborted) {
		return false, nil
	}
	return ok, err
}

// IsInteractive returns true.
func (p *FormPrompter) IsInteractive() bool { return true }

// -----------------------------------------------------------------------------
// InteractivePrompter
// -----------------------------------------------------------------------------

// InteractivePrompter reads a y/N answer from a line-oriented reader.
type InteractivePrompter struct {
	reader *bufio.Reader
	writer io.Writer
}

// NewInteractivePrompter reads from stdin and writes to stdout.
func NewInteractivePrompter() *InteractivePrompter {
	return NewInteractivePrompterWithIO(os.Stdin, os.Stdout)
}

// NewInteractivePrompterWithIO is used by tests.
func NewInteractivePrompterWithIO(r io.Reader, w io.Writer) *InteractivePrompter {
	return &InteractivePrompter{reader: bufio.NewReader(r), writer: w}
}

// Confirm accepts y or yes in any case. EOF and anything else mean no.
func (p *InteractivePrompter) Confirm(ctx context.Context, prompt string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	fmt.Fprintf(p.writer, "%s [y/N]: ", prompt)

	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := p.reader.ReadString('\n')
		ch <- answer{line, err}
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case a := <-ch:
		if a.err != nil && !errors.Is(a.err, io.EOF) {
			return false, a.err
		}
		switch strings.ToLower(strings.TrimSpace(a.line)) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	}
}

// IsInteractive returns true.
func (p *InteractivePrompter) IsInteractive() bool { return true }

// -----------------------------------------------------------------------------
// NonInteractivePrompter / AutoApprovePrompter
// -----------------------------------------------------------------------------

// NonInteractivePrompter fails every prompt with ErrNonInteractive.
type NonInteractivePrompter struct{}

// NewNonInteractivePrompter creates a NonInteractivePrompter.
func NewNonInteractivePrompter() *NonInteractivePrompter { return &NonInteractivePrompter{} }

// Confirm returns ErrNonInteractive.
func (p *NonInteractivePrompter) Confirm(context.Context, string) (bool, error) {
	return false, ErrNonInteractive
}

// IsInteractive returns false.
func (p *NonInteractivePrompter) IsInteractive() bool { return false }

// AutoApprovePrompter answers yes to everything (--yes).
type AutoApprovePrompter struct{}

// NewAutoApprovePrompter creates an AutoApprovePrompter.
func NewAutoApprovePrompter() *AutoApprovePrompter { return &AutoApprovePrompter{} }

// Confirm returns true.
func (p *AutoApprovePrompter) Confirm(context.Context, string) (bool, error) { return true, nil }

// IsInteractive returns false.
func (p *AutoApprovePrompter) IsInteractive() bool { return false }
