// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package actions turns container quick-actions into gated commands.
//
// A quick-action never talks to the execution backend directly. It
// synthesizes a docker command and drives a fresh riskgate.Gate through
// the same analyze → confirm → execute steps as a typed command, with the
// operator modal replaced by an Approver policy.
package actions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/models"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/riskgate"
	"github.com/AleutianAI/SentinelOps/pkg/logging"
	"github.com/AleutianAI/SentinelOps/pkg/validation"
)

var (
	// ErrActionPending is returned for a second action on a container
	// whose previous action has not settled.
	ErrActionPending = errors.New("actions: an action is already pending for this container")

	// ErrInvalidTarget is returned for container names docker would not
	// accept, which also keeps shell metacharacters out of the command.
	ErrInvalidTarget = errors.New("actions: invalid container name")

	// ErrInvalidVerb is returned for verbs other than start, stop, restart.
	ErrInvalidVerb = errors.New("actions: unsupported action")
)

// Verb is a container action.
type Verb string

const (
	VerbStart   Verb = "start"
	VerbStop    Verb = "stop"
	VerbRestart Verb = "restart"
)

// Verbs lists the supported actions in display order.
var Verbs = []Verb{VerbStart, VerbStop, VerbRestart}

// ParseVerb accepts a verb case-insensitively.
func ParseVerb(s string) (Verb, error) {
	v := Verb(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Verbs {
		if v == known {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidVerb, s)
}

// Synthesize builds the command for verb on target, e.g.
// Synthesize(VerbRestart, "web-1") == "docker restart web-1".
func Synthesize(verb Verb, target string) (string, error) {
	if _, err := ParseVerb(string(verb)); err != nil {
		return "", err
	}
	if err := validation.ValidateContainerName(target); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	return fmt.Sprintf("docker %s %s", verb, target), nil
}

// Approver is the programmatic confirmation step. It sees the analyzed
// session and decides whether to execute.
type Approver func(ctx context.Context, s riskgate.Session) bool

// ApproveAll confirms every analysis, matching a one-click action.
func ApproveAll(context.Context, riskgate.Session) bool { return true }

// ApproveUpTo confirms analyses whose risk is at most max. Unknown levels
// rank above HIGH and are never approved by this policy unless max itself
// is unknown.
func ApproveUpTo(max models.RiskLevel) Approver {
	limit := max.Severity()
	return func(_ context.Context, s riskgate.Session) bool {
		return s.Analysis != nil && s.Analysis.RiskLevel.Severity() <= limit
	}
}

// Outcome is the result of one quick-action.
type Outcome struct {
	Verb     Verb
	Target   string
	Command  string
	Approved bool

	// Session holds the analysis, and the result when Approved.
	Session riskgate.Session
}

// Executed reports whether the backend ran the command.
func (o Outcome) Executed() bool {
	return o.Session.Result != nil && o.Session.Result.Executed
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithApprover replaces ApproveAll.
func WithApprover(a Approver) Option {
	return func(b *Bridge) { b.approver = a }
}

// WithGateOptions are passed to every Gate the bridge creates (hooks,
// logger, clock).
func WithGateOptions(opts ...riskgate.Option) Option {
	return func(b *Bridge) { b.gateOpts = append(b.gateOpts, opts...) }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// WithPendingObserver is told whenever a target becomes pending or settles.
func WithPendingObserver(fn func(serverID, target string, pending bool)) Option {
	return func(b *Bridge) { b.observer = fn }
}

// Bridge runs quick-actions, serialized per (server, container).
type Bridge struct {
	backend  riskgate.Backend
	approver Approver
	gateOpts []riskgate.Option
	logger   *logging.Logger
	observer func(serverID, target string, pending bool)

	mu      sync.Mutex
	pending map[string]struct{}
}

// New creates a Bridge.
func New(backend riskgate.Backend, opts ...Option) *Bridge {
	b := &Bridge{
		backend:  backend,
		approver: ApproveAll,
		pending:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = logging.Discard()
	}
	return b
}

func pendingKey(serverID, target string) string {
	return serverID + "\x00" + target
}

// Pending reports whether an action for target on serverID is running, so
// surfaces can render the control disabled.
func (b *Bridge) Pending(serverID, target string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.pending[pendingKey(serverID, target)]
	return ok
}

// PendingTargets lists the pending containers of serverID, sorted.
func (b *Bridge) PendingTargets(serverID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	prefix := serverID + "\x00"
	var out []string
	for k := range b.pending {
		if strings.HasPrefix(k, prefix) {
			out = append(out, strings.TrimPrefix(k, prefix))
		}
	}
	sort.Strings(out)
	return out
}

// Run performs verb on target.
//
// # Description
//
// Synthesizes the command, then analyzes it through a fresh Gate. Analysis
// failures follow the Gate's fail-safe rule, so a failed analysis is a LOW
// analysis that the Approver still sees. When approved, the command is
// executed with the analyzed risk level echoed back; execution failures
// are an Outcome with Executed() == false, not an error.
//
// # Outputs
//
//   - Outcome: the settled (or unapproved) session.
//   - error: ErrInvalidVerb, ErrInvalidTarget, ErrActionPending, or a
//     riskgate error if the gate was misused.
func (b *Bridge) Run(ctx context.Context, verb Verb, target, serverID string) (Outcome, error) {
	command, err := Synthesize(verb, target)
	if err != nil {
		return Outcome{}, err
	}
	if !b.acquire(serverID, target) {
		return Outcome{}, ErrActionPending
	}
	defer b.release(serverID, target)

	opts := append([]riskgate.Option{riskgate.WithSource(riskgate.SourceQuickAction), riskgate.WithLogger(b.logger)}, b.gateOpts...)
	gate := riskgate.New(b.backend, opts...)

	out := Outcome{Verb: verb, Target: target, Command: command}
	if err := gate.SubmitCommand(command); err != nil {
		return out, err
	}
	if _, err := gate.Analyze(ctx); err != nil {
		return out, err
	}
	out.Session = gate.Session()

	if !b.approver(ctx, out.Session) {
		b.logger.Info("quick-action not approved",
			"verb", string(verb),
			"target", target,
			"risk", string(out.Session.Analysis.RiskLevel),
		)
		return out, nil
	}
	out.Approved = true
	if _, err := gate.ConfirmExecute(ctx, serverID); err != nil {
		return out, err
	}
	out.Session = gate.Session()
	return out, nil
}

func (b *Bridge) acquire(serverID, target string) bool {
	b.mu.Lock()
	key := pendingKey(serverID, target)
	if _, busy := b.pending[key]; busy {
		b.mu.Unlock()
		return false
	}
	b.pending[key] = struct{}{}
	b.mu.Unlock()
	if b.observer != nil {
		b.observer(serverID, target, true)
	}
	return true
}

func (b *Bridge) release(serverID, target string) {
	b.mu.Lock()
	delete(b.pending, pendingKey(serverID, target))
	b.mu.Unlock()
	if b.observer != nil {
		b.observer(serverID, target, false)
	}
}
