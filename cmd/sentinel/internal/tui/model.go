// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tui is the interactive operator console.
//
// The model never owns state: every frame is drawn from console.View, and
// every action goes through the Controller. Controller topics arrive as
// tea messages, so a snapshot landing from a poll loop redraws the screen
// without the model polling anything itself.
package tui

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/actions"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/console"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/models"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/poller"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/riskgate"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/store"
	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// Console is the part of *console.Controller the TUI drives.
type Console interface {
	View() console.View
	Subscribe(buffer int) (<-chan store.Topic, func())
	Select(ctx context.Context, id string)
	Refresh(ctx context.Context)
	ReloadLogsNow(ctx context.Context)
	CycleAutoRefresh() time.Duration
	AnalyzeCommand(ctx context.Context, text string) (models.CommandAnalysis, error)
	ConfirmExecute(ctx context.Context) (models.ExecutionResult, error)
	BackToAnalysis() error
	CloseCommand()
	RunAction(ctx context.Context, verb actions.Verb, target string) (actions.Outcome, error)
	ActionPending(target string) bool
}

// Mode is which layer has the keyboard.
type Mode int

const (
	ModeDashboard Mode = iota
	ModeCommand
	ModePicker
)

// =============================================================================
// Messages
// =============================================================================

type topicMsg store.Topic

type analyzeDoneMsg struct {
	analysis models.CommandAnalysis
	err      error
}

type executeDoneMsg struct {
	result models.ExecutionResult
	err    error
}

type actionDoneMsg struct {
	outcome actions.Outcome
	err     error
}

type selectDoneMsg struct{}

type refreshDoneMsg struct{}

// =============================================================================
// Model
// =============================================================================

// Model is the bubbletea model of the console.
type Model struct {
	ctx     context.Context
	console Console
	topics  <-chan store.Topic

	view  console.View
	mode  Mode
	flash string

	// Terminal dimensions
	width  int
	height int

	input      textinput.Model
	containers table.Model
	spin       spinner.Model

	// containerRows mirrors the table rows, for action targets.
	containerRows []models.ContainerInfo
	pickerCursor  int
	quitting      bool
}

// New builds the model and subscribes to the controller. The returned
// cancel func unsubscribes and must be called after the program exits.
func New(ctx context.Context, c Console) (Model, func()) {
	topics, unsubscribe := c.Subscribe(32)

	ti := textinput.New()
	ti.Placeholder = "df -h /var"
	ti.Prompt = "$ "
	ti.CharLimit = 1024
	ti.Width = 64
	ti.Cursor.SetMode(cursor.CursorStatic)

	tbl := table.New(
		table.WithColumns(containerColumns()),
		table.WithHeight(6),
		table.WithFocused(true),
	)
	tbl.SetStyles(tableStyles())

	m := Model{
		ctx:        ctx,
		console:    c,
		topics:     topics,
		input:      ti,
		containers: tbl,
		spin:       spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(styles.accent)),
	}
	m = m.reload()
	return m, unsubscribe
}

// Init starts the topic listener and the spinner.
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForTopic(m.topics), m.spin.Tick)
}

func waitForTopic(ch <-chan store.Topic) tea.Cmd {
	return func() tea.Msg {
		t, ok := <-ch
		if !ok {
			return nil
		}
		return topicMsg(t)
	}
}

// reload pulls a fresh View and rebuilds the derived widgets.
func (m Model) reload() Model {
	m.view = m.console.View()
	m.containerRows = containersOf(m.view.Snapshot.Snapshot)
	m.containers.SetRows(containerTableRows(m.containerRows, m.view.Pending))
	if n := len(m.containerRows); m.containers.Cursor() >= n {
		m.containers.SetCursor(max(n-1, 0))
	}
	if n := len(m.view.Servers.Servers); m.pickerCursor >= n {
		m.pickerCursor = max(n-1, 0)
	}
	return m
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case topicMsg:
		return m.reload(), waitForTopic(m.topics)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case analyzeDoneMsg:
		m = m.reload()
		if msg.err != nil && !errors.Is(msg.err, riskgate.ErrSessionClosed) {
			m.flash = "Analyze: " + msg.err.Error()
		}
		return m, nil

	case executeDoneMsg:
		m = m.reload()
		if msg.err != nil && !errors.Is(msg.err, riskgate.ErrSessionClosed) {
			m.flash = "Execute: " + msg.err.Error()
		}
		return m, nil

	case actionDoneMsg:
		m = m.reload()
		m.flash = describeOutcome(msg.outcome, msg.err)
		return m, nil

	case selectDoneMsg, refreshDoneMsg:
		return m.reload(), nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.quitting = true
			return m, tea.Quit
		}
		switch m.mode {
		case ModeCommand:
			return m.updateCommand(msg)
		case ModePicker:
			return m.updatePicker(msg)
		default:
			return m.updateDashboard(msg)
		}
	}
	return m, nil
}

func (m Model) updateDashboard(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.flash = ""
	switch msg.String() {
	case "q":
		m.quitting = true
		return m, tea.Quit

	case "r":
		ctx, c := m.ctx, m.console
		m.flash = "Refreshing…"
		return m, func() tea.Msg {
			c.Refresh(ctx)
			c.ReloadLogsNow(ctx)
			return refreshDoneMsg{}
		}

	case "l":
		if !m.view.Selection.LogBearing {
			m.flash = "No log tail for this server"
			return m, nil
		}
		ctx, c := m.ctx, m.console
		return m, func() tea.Msg {
			c.ReloadLogsNow(ctx)
			return refreshDoneMsg{}
		}

	case "a":
		next := m.console.CycleAutoRefresh()
		m.flash = "Auto-refresh: " + poller.FormatInterval(next)
		return m.reload(), nil

	case "c", ":":
		m.mode = ModeCommand
		m.input.SetValue(m.view.Command.Command)
		return m, m.input.Focus()

	case "p":
		m.mode = ModePicker
		if i := serverIndex(m.view.Servers.Servers, m.view.Selection.ServerID); i >= 0 {
			m.pickerCursor = i
		}
		return m, nil

	case "S", "T", "R":
		return m.runAction(verbForKey(msg.String()))
	}

	var cmd tea.Cmd
	m.containers, cmd = m.containers.Update(msg)
	return m, cmd
}

func verbForKey(key string) actions.Verb {
	switch key {
	case "S":
		return actions.VerbStart
	case "T":
		return actions.VerbStop
	default:
		return actions.VerbRestart
	}
}

func (m Model) runAction(verb actions.Verb) (tea.Model, tea.Cmd) {
	i := m.containers.Cursor()
	if i < 0 || i >= len(m.containerRows) {
		m.flash = "No container selected"
		return m, nil
	}
	target := m.containerRows[i].Target()
	if m.console.ActionPending(target) {
		m.flash = fmt.Sprintf("%s: an action is already pending", target)
		return m, nil
	}
	ctx, c := m.ctx, m.console
	m.flash = fmt.Sprintf("%s %s…", verb, target)
	return m, func() tea.Msg {
		out, err := c.RunAction(ctx, verb, target)
		return actionDoneMsg{outcome: out, err: err}
	}
}

func describeOutcome(out actions.Outcome, err error) string {
	switch {
	case errors.Is(err, actions.ErrActionPending):
		return fmt.Sprintf("%s: an action is already pending", out.Target)
	case err != nil:
		return "Action failed: " + err.Error()
	case !out.Approved:
		return fmt.Sprintf("%s %s not approved (risk %s)", out.Verb, out.Target, riskOf(out.Session))
	case out.Executed():
		return fmt.Sprintf("%s %s: done", out.Verb, out.Target)
	case out.Session.Result != nil && out.Session.Result.RejectionReason != "":
		return fmt.Sprintf("%s %s rejected: %s", out.Verb, out.Target, out.Session.Result.RejectionReason)
	default:
		return fmt.Sprintf("%s %s: not executed", out.Verb, out.Target)
	}
}

func riskOf(s riskgate.Session) string {
	if s.Analysis == nil {
		return "unknown"
	}
	return s.Analysis.RiskLevel.Label()
}

func (m Model) updateCommand(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	session := m.view.Command
	key := msg.String()

	if key == "esc" {
		m.console.CloseCommand()
		m.input.Reset()
		m.input.Blur()
		m.mode = ModeDashboard
		return m.reload(), nil
	}
	if session.State.InFlight() {
		return m, nil
	}

	if m.input.Focused() {
		if key == "enter" {
			text := m.input.Value()
			m.input.Blur()
			ctx, c := m.ctx, m.console
			return m, func() tea.Msg {
				a, err := c.AnalyzeCommand(ctx, text)
				return analyzeDoneMsg{analysis: a, err: err}
			}
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	switch key {
	case "y":
		if session.State != riskgate.StateAnalyzed {
			return m, nil
		}
		ctx, c := m.ctx, m.console
		return m, func() tea.Msg {
			r, err := c.ConfirmExecute(ctx)
			return executeDoneMsg{result: r, err: err}
		}
	case "b":
		if err := m.console.BackToAnalysis(); err != nil {
			m.flash = err.Error()
		}
		return m.reload(), nil
	case "e":
		return m, m.input.Focus()
	}
	return m, nil
}

func (m Model) updatePicker(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	servers := m.view.Servers.Servers
	switch msg.String() {
	case "esc", "p":
		m.mode = ModeDashboard
	case "up", "k":
		if m.pickerCursor > 0 {
			m.pickerCursor--
		}
	case "down", "j":
		if m.pickerCursor < len(servers)-1 {
			m.pickerCursor++
		}
	case "enter":
		m.mode = ModeDashboard
		if m.pickerCursor < 0 || m.pickerCursor >= len(servers) {
			return m, nil
		}
		id := servers[m.pickerCursor].ID
		ctx, c := m.ctx, m.console
		return m, func() tea.Msg {
			c.Select(ctx, id)
			return selectDoneMsg{}
		}
	}
	return m, nil
}

func serverIndex(servers []models.Server, id string) int {
	for i, s := range servers {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// Run starts the full-screen console and blocks until the operator quits
// or ctx is cancelled.
func Run(ctx context.Context, c Console) error {
	m, unsubscribe := New(ctx, c)
	defer unsubscribe()
	_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
