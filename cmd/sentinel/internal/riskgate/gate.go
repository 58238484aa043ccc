// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package riskgate implements risk-gated command execution.
//
// # Description
//
// A Gate holds exactly one command session. A command cannot reach the
// execution backend until it has been analyzed and the analysis has been
// shown to the operator; ConfirmExecute is only accepted from the Analyzed
// state. Both backend calls fail soft: a failed analysis still yields a
// renderable CommandAnalysis (risk LOW, reason "Analysis failed: ..."), and
// a failed execution yields an ExecutionResult with Executed=false and a
// rejection reason.
//
// # State Machine
//
//	          SubmitCommand
//	  Idle ──────────────────┐
//	   │ Analyze             │
//	   ▼                     │
//	Analyzing ──► Analyzed ◄─┼──── Back
//	   ▲     re-analyze │    │
//	   └────────────────┤    │
//	                    │ ConfirmExecute
//	                    ▼
//	              Executing ──► Settled
//
// Reset returns to Idle from any state and starts a new session.
//
// # Thread Safety
//
// All methods are safe for concurrent use. At most one backend call is in
// flight per Gate; overlapping calls are rejected with ErrBusy rather than
// queued.
package riskgate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/api"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/models"
	"github.com/AleutianAI/SentinelOps/pkg/logging"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// AnalysisFailedPrefix starts the reason of every fail-safe analysis.
const AnalysisFailedPrefix = "Analysis failed: "

var (
	// ErrBusy is returned while an analyze or execute call is in flight.
	ErrBusy = errors.New("riskgate: request already in flight")

	// ErrNotAnalyzed is returned by ConfirmExecute when no analysis is
	// present for the current command.
	ErrNotAnalyzed = errors.New("riskgate: command has not been analyzed")

	// ErrNoCommand is returned for blank commands.
	ErrNoCommand = errors.New("riskgate: no command")

	// ErrSessionClosed is returned when Reset ran while a call was in
	// flight; the late outcome is returned but not stored.
	ErrSessionClosed = errors.New("riskgate: session closed")
)

// =============================================================================
// Types
// =============================================================================

// State is a Gate's position in the analyze/confirm/execute workflow.
type State int

const (
	StateIdle State = iota
	StateAnalyzing
	StateAnalyzed
	StateExecuting
	StateSettled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAnalyzing:
		return "analyzing"
	case StateAnalyzed:
		return "analyzed"
	case StateExecuting:
		return "executing"
	case StateSettled:
		return "settled"
	default:
		return "unknown"
	}
}

// InFlight reports whether a backend call is running.
func (s State) InFlight() bool {
	return s == StateAnalyzing || s == StateExecuting
}

// Source records where a command came from.
type Source string

const (
	SourceManual      Source = "manual"
	SourceQuickAction Source = "quick-action"
)

// Backend is the risk-analysis and execution collaborator. *api.Client
// satisfies it.
type Backend interface {
	AnalyzeCommand(ctx context.Context, command string) (models.CommandAnalysis, error)
	ExecuteCommand(ctx context.Context, req models.ExecuteRequest) (models.ExecutionResult, error)
}

// Session is an immutable view of a Gate. Pointers inside are never mutated
// after the Session is published.
type Session struct {
	ID         string
	State      State
	Source     Source
	Command    string
	ServerID   string
	Analysis   *models.CommandAnalysis
	Result     *models.ExecutionResult
	AnalyzedAt time.Time
	SettledAt  time.Time
}

// EventKind identifies a Hook notification.
type EventKind int

const (
	EventAnalyzed EventKind = iota
	EventSettled
)

// Event is delivered to hooks after a backend call completes.
type Event struct {
	Kind    EventKind
	Session Session
	Elapsed time.Duration
}

// Hook observes completed analyze and execute calls. Hooks run on the
// caller's goroutine after the Gate's lock is released.
type Hook func(Event)

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// WithHook adds an observer.
func WithHook(h Hook) Option {
	return func(g *Gate) { g.hooks = append(g.hooks, h) }
}

// WithClock injects the clock used for session timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(g *Gate) { g.clock = c }
}

// WithSource marks every session of this Gate with src.
func WithSource(src Source) Option {
	return func(g *Gate) { g.source = src }
}

// WithTracer overrides the global otel tracer.
func WithTracer(t trace.Tracer) Option {
	return func(g *Gate) { g.tracer = t }
}

// =============================================================================
// Gate
// =============================================================================

// Gate is the risk-gated execution state machine for one command session.
type Gate struct {
	backend Backend
	logger  *logging.Logger
	clock   clockwork.Clock
	tracer  trace.Tracer
	hooks   []Hook
	source  Source

	mu  sync.Mutex
	cur Session
	gen uint64
}

// New creates a Gate in the Idle state.
func New(backend Backend, opts ...Option) *Gate {
	g := &Gate{
		backend: backend,
		source:  SourceManual,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = logging.Discard()
	}
	if g.clock == nil {
		g.clock = clockwork.NewRealClock()
	}
	if g.tracer == nil {
		g.tracer = otel.Tracer("github.com/AleutianAI/SentinelOps/riskgate")
	}
	g.cur = Session{ID: uuid.NewString(), State: StateIdle, Source: g.source}
	return g
}

// Session returns the current state.
func (g *Gate) Session() Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cur
}

// SubmitCommand sets the command text for this session.
//
// # Description
//
// Blank text and calls made while a request is in flight leave the Gate
// untouched. Submitting text that differs from the current command discards
// any analysis and result and returns the Gate to Idle, so a stale analysis
// can never be confirmed for a different command. Resubmitting the same
// text is a no-op.
//
// # Outputs
//
//   - error: ErrNoCommand for blank text, ErrBusy while in flight.
func (g *Gate) SubmitCommand(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrNoCommand
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cur.State.InFlight() {
		return ErrBusy
	}
	if text == g.cur.Command {
		return nil
	}
	next := g.cur
	next.Command = text
	next.State = StateIdle
	next.Analysis = nil
	next.Result = nil
	next.AnalyzedAt = time.Time{}
	next.SettledAt = time.Time{}
	g.cur = next
	return nil
}

// Analyze classifies the current command.
//
// # Description
//
// Allowed from Idle, Analyzed (re-analyze) and Settled. Any previous
// analysis and result are discarded when the call starts. A backend failure
// of any kind produces a LOW analysis whose reason starts with
// AnalysisFailedPrefix, so the operator is never silently blocked nor
// silently shown HIGH on error.
//
// # Outputs
//
//   - models.CommandAnalysis: the stored analysis.
//   - error: ErrNoCommand, ErrBusy, or ErrSessionClosed if Reset ran
//     during the call. Backend failures are not errors.
func (g *Gate) Analyze(ctx context.Context) (models.CommandAnalysis, error) {
	g.mu.Lock()
	if g.cur.State.InFlight() {
		g.mu.Unlock()
		return models.CommandAnalysis{}, ErrBusy
	}
	if g.cur.Command == "" {
		g.mu.Unlock()
		return models.CommandAnalysis{}, ErrNoCommand
	}
	next := g.cur
	next.State = StateAnalyzing
	next.Analysis = nil
	next.Result = nil
	g.cur = next
	gen, command := g.gen, next.Command
	g.mu.Unlock()

	start := g.clock.Now()
	ctx, span := g.tracer.Start(ctx, "riskgate.Analyze", trace.WithAttributes(
		attribute.String("session.id", next.ID),
		attribute.String("command.source", string(next.Source)),
		attribute.Int("command.length", len(command)),
	))
	analysis, err := g.backend.AnalyzeCommand(ctx, command)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, api.Message(err))
		analysis = FailSafeAnalysis(err)
		g.logger.Warn("command analysis failed, falling back to LOW",
			"session_id", next.ID,
			"error_kind", string(api.KindOf(err)),
			"error", api.Message(err),
		)
	}
	span.SetAttributes(attribute.String("risk.level", string(analysis.RiskLevel)))
	span.End()

	g.mu.Lock()
	if gen != g.gen {
		g.mu.Unlock()
		return analysis, ErrSessionClosed
	}
	settled := g.cur
	settled.State = StateAnalyzed
	settled.Analysis = &analysis
	settled.AnalyzedAt = g.clock.Now()
	g.cur = settled
	g.mu.Unlock()

	g.logger.Debug("command analyzed",
		"session_id", settled.ID,
		"risk", string(analysis.RiskLevel),
	)
	g.emit(Event{Kind: EventAnalyzed, Session: settled, Elapsed: g.clock.Since(start)})
	return analysis, nil
}

// ConfirmExecute runs the analyzed command after operator confirmation.
//
// # Description
//
// Only valid from Analyzed with an analysis present. The confirmed risk
// level sent to the backend is exactly the analyzed level; the backend is
// expected to recompute risk and reject a mismatch. Backend failures become
// a result with Executed=false and a non-empty RejectionReason.
//
// # Inputs
//
//   - serverID: target server; "" sends serverId=null (backend default).
//
// # Outputs
//
//   - models.ExecutionResult: the stored result.
//   - error: ErrNotAnalyzed, ErrBusy or ErrSessionClosed.
func (g *Gate) ConfirmExecute(ctx context.Context, serverID string) (models.ExecutionResult, error) {
	g.mu.Lock()
	if g.cur.State.InFlight() {
		g.mu.Unlock()
		return models.ExecutionResult{}, ErrBusy
	}
	if g.cur.State != StateAnalyzed || g.cur.Analysis == nil {
		g.mu.Unlock()
		return models.ExecutionResult{}, ErrNotAnalyzed
	}
	next := g.cur
	next.State = StateExecuting
	next.ServerID = serverID
	g.cur = next
	gen := g.gen
	g.mu.Unlock()

	req := models.ExecuteRequest{
		Command:            next.Command,
		ConfirmedRiskLevel: next.Analysis.RiskLevel,
		ServerID:           models.OptionalID(serverID),
	}

	start := g.clock.Now()
	ctx, span := g.tracer.Start(ctx, "riskgate.ConfirmExecute", trace.WithAttributes(
		attribute.String("session.id", next.ID),
		attribute.String("risk.confirmed", string(req.ConfirmedRiskLevel)),
		attribute.String("server.id", serverID),
	))
	result, err := g.backend.ExecuteCommand(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, api.Message(err))
		result = FailedExecution(err)
		g.logger.Warn("command execution failed",
			"session_id", next.ID,
			"server_id", serverID,
			"error_kind", string(api.KindOf(err)),
			"error", api.Message(err),
		)
	}
	span.SetAttributes(attribute.Bool("executed", result.Executed))
	span.End()

	g.mu.Lock()
	if gen != g.gen {
		g.mu.Unlock()
		return result, ErrSessionClosed
	}
	settled := g.cur
	settled.State = StateSettled
	settled.Result = &result
	settled.SettledAt = g.clock.Now()
	g.cur = settled
	g.mu.Unlock()

	g.logger.Info("command settled",
		"session_id", settled.ID,
		"server_id", serverID,
		"risk", string(req.ConfirmedRiskLevel),
		"executed", result.Executed,
	)
	g.emit(Event{Kind: EventSettled, Session: settled, Elapsed: g.clock.Since(start)})
	return result, nil
}

// Back discards the execution result and keeps the analysis, returning to
// Analyzed. Valid from Analyzed and Settled.
func (g *Gate) Back() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch g.cur.State {
	case StateAnalyzed, StateSettled:
	case StateAnalyzing, StateExecuting:
		return ErrBusy
	default:
		return ErrNotAnalyzed
	}
	if g.cur.Analysis == nil {
		return ErrNotAnalyzed
	}
	next := g.cur
	next.State = StateAnalyzed
	next.Result = nil
	next.SettledAt = time.Time{}
	g.cur = next
	return nil
}

// Reset closes the session: command, analysis and result are cleared and a
// new session id is issued. An in-flight call finishes but its outcome is
// dropped.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gen++
	g.cur = Session{ID: uuid.NewString(), State: StateIdle, Source: g.source}
}

func (g *Gate) emit(ev Event) {
	for _, h := range g.hooks {
		h(ev)
	}
}

// =============================================================================
// Fail-safe outcomes
// =============================================================================

// FailSafeAnalysis converts any analyze failure into a renderable LOW
// analysis.
func FailSafeAnalysis(err error) models.CommandAnalysis {
	return models.CommandAnalysis{
		RiskLevel: models.RiskLow,
		Reason:    AnalysisFailedPrefix + failureMessage(err),
	}
}

// FailedExecution converts any execute failure into a rejected result.
func FailedExecution(err error) models.ExecutionResult {
	return models.ExecutionResult{
		Executed:        false,
		RejectionReason: failureMessage(err),
	}
}

func failureMessage(err error) string {
	if msg := strings.TrimSpace(api.Message(err)); msg != "" {
		return msg
	}
	return "Request failed"
}
