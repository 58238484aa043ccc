// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tui

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/actions"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/console"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/models"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/poller"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/riskgate"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/selection"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/store"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConsole records calls and serves a mutable View.
type fakeConsole struct {
	mu      sync.Mutex
	view    console.View
	topics  chan store.Topic
	pending map[string]bool

	selected    []string
	refreshes   int
	logReloads  int
	analyzed    []string
	executes    int
	backs       int
	closes      int
	actionCalls []string
	autoRefresh time.Duration
}

func newFakeConsole() *fakeConsole {
	edge := models.Server{ID: "edge", Name: "nginx-edge", Host: "10.0.0.9"}
	app := models.Server{ID: "app", Name: "app-01", Host: "10.0.0.5"}
	return &fakeConsole{
		topics:  make(chan store.Topic, 8),
		pending: map[string]bool{},
		view: console.View{
			Selection: selection.State{ServerID: "edge", Server: &edge, LogBearing: true, Epoch: 1},
			Servers:   store.RegistryState{Servers: []models.Server{app, edge}},
			Snapshot: store.SnapshotState{Snapshot: &models.Snapshot{
				Docker: &models.DockerSnapshot{Containers: []models.ContainerInfo{
					{Name: "nginx", State: "running", Status: "Up 3 hours"},
					{Name: "ussd-gw", State: "exited", Status: "Exited (1)"},
				}},
				Nginx: &models.NginxSnapshot{Running: true, ResponseCodeCounts: map[string]int64{"200": 12, "502": 1}},
			}},
			Analytics: store.AnalyticsState{Anomalies: []models.Anomaly{
				{Type: "DISK", Message: "/var grew 8% in 1h", Severity: "HIGH"},
			}},
			Logs: store.LogTailState{Lines: []string{"GET /ussd 200", "GET /ussd 502"}},
		},
	}
}

func (f *fakeConsole) View() console.View {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.view
}

func (f *fakeConsole) Subscribe(int) (<-chan store.Topic, func()) {
	return f.topics, func() {}
}

func (f *fakeConsole) Select(_ context.Context, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selected = append(f.selected, id)
	f.view.Selection.ServerID = id
}

func (f *fakeConsole) Refresh(context.Context) {
	f.mu.Lock()
	f.refreshes++
	f.mu.Unlock()
}

func (f *fakeConsole) ReloadLogsNow(context.Context) {
	f.mu.Lock()
	f.logReloads++
	f.mu.Unlock()
}

func (f *fakeConsole) CycleAutoRefresh() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.autoRefresh = poller.NextInterval(f.autoRefresh)
	f.view.AutoRefresh = f.autoRefresh
	return f.autoRefresh
}

func (f *fakeConsole) AnalyzeCommand(_ context.Context, text string) (models.CommandAnalysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analyzed = append(f.analyzed, text)
	a := models.CommandAnalysis{RiskLevel: models.RiskHigh, Reason: "restarts a service", RollbackSuggestion: "systemctl start nginx"}
	f.view.Command = riskgate.Session{State: riskgate.StateAnalyzed, Command: text, Analysis: &a}
	return a, nil
}

func (f *fakeConsole) ConfirmExecute(context.Context) (models.ExecutionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executes++
	code := 0
	r := models.ExecutionResult{Executed: true, ExitCode: &code, Stdout: "ok"}
	f.view.Command.State = riskgate.StateSettled
	f.view.Command.Result = &r
	return r, nil
}

func (f *fakeConsole) BackToAnalysis() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backs++
	f.view.Command.State = riskgate.StateAnalyzed
	f.view.Command.Result = nil
	return nil
}

func (f *fakeConsole) CloseCommand() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.view.Command = riskgate.Session{}
}

func (f *fakeConsole) RunAction(_ context.Context, verb actions.Verb, target string) (actions.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actionCalls = append(f.actionCalls, string(verb)+" "+target)
	r := models.ExecutionResult{Executed: true}
	return actions.Outcome{
		Verb: verb, Target: target, Approved: true,
		Session: riskgate.Session{Result: &r},
	}, nil
}

func (f *fakeConsole) ActionPending(target string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending[target]
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// press sends a key and, when the model returns a command, runs it and
// feeds its message back, as the tea runtime would.
func press(t *testing.T, m Model, key tea.KeyMsg) Model {
	t.Helper()
	next, cmd := m.Update(key)
	m = next.(Model)
	if cmd == nil {
		return m
	}
	if msg := cmd(); msg != nil {
		if _, isBatch := msg.(tea.BatchMsg); !isBatch {
			next, _ = m.Update(msg)
			m = next.(Model)
		}
	}
	return m
}

func newModel(t *testing.T, f *fakeConsole) Model {
	t.Helper()
	m, cancel := New(context.Background(), f)
	t.Cleanup(cancel)
	return m
}

func TestDashboardRendersPanels(t *testing.T) {
	m := newModel(t, newFakeConsole())
	out := m.View()

	assert.Contains(t, out, "nginx-edge")
	assert.Contains(t, out, "auto-refresh off")
	assert.Contains(t, out, "/var grew 8% in 1h")
	assert.Contains(t, out, "200:12 502:1")
	assert.Contains(t, out, "Nginx log tail")
	assert.Contains(t, out, "GET /ussd 502")
	assert.Contains(t, out, "ussd-gw")
}

func TestDashboardHidesLogsForOtherServers(t *testing.T) {
	f := newFakeConsole()
	f.view.Selection.LogBearing = false
	m := newModel(t, f)

	assert.NotContains(t, m.View(), "Nginx log tail")

	m = press(t, m, runes("l"))
	assert.Equal(t, "No log tail for this server", m.flash)
	assert.Equal(t, 0, f.logReloads)
}

func TestCycleAutoRefresh(t *testing.T) {
	f := newFakeConsole()
	m := newModel(t, f)

	m = press(t, m, runes("a"))
	assert.Equal(t, "Auto-refresh: 10s", m.flash)
	assert.Contains(t, m.View(), "auto-refresh 10s")
}

func TestRefreshReloadsSnapshotAndLogs(t *testing.T) {
	f := newFakeConsole()
	m := newModel(t, f)

	press(t, m, runes("r"))
	assert.Equal(t, 1, f.refreshes)
	assert.Equal(t, 1, f.logReloads)
}

func TestCommandFlow_AnalyzeApproveBackClose(t *testing.T) {
	f := newFakeConsole()
	m := newModel(t, f)

	m = press(t, m, runes("c"))
	require.Equal(t, ModeCommand, m.mode)
	require.True(t, m.input.Focused())

	for _, r := range "systemctl restart nginx" {
		m = press(t, m, runes(string(r)))
	}
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.Equal(t, []string{"systemctl restart nginx"}, f.analyzed)
	assert.False(t, m.input.Focused())

	out := m.View()
	assert.Contains(t, out, "Risk: High")
	assert.Contains(t, out, "restarts a service")
	assert.Contains(t, out, "y approve & run")

	m = press(t, m, runes("y"))
	assert.Equal(t, 1, f.executes)
	assert.Contains(t, m.View(), "Exit code 0")

	m = press(t, m, runes("b"))
	assert.Equal(t, 1, f.backs)
	assert.NotContains(t, m.View(), "Exit code 0")

	m = press(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, ModeDashboard, m.mode)
	assert.Equal(t, 1, f.closes)
}

func TestCommandFlow_YWithoutAnalysisDoesNothing(t *testing.T) {
	f := newFakeConsole()
	m := newModel(t, f)

	m = press(t, m, runes("c"))
	m.input.Blur()
	m = press(t, m, runes("y"))
	assert.Equal(t, 0, f.executes)
}

func TestCommandFlow_TypingYWhileEditingIsText(t *testing.T) {
	f := newFakeConsole()
	m := newModel(t, f)

	m = press(t, m, runes("c"))
	m = press(t, m, runes("y"))
	assert.Equal(t, "y", m.input.Value())
	assert.Equal(t, 0, f.executes)
}

func TestQuickAction_RunsOnSelectedContainer(t *testing.T) {
	f := newFakeConsole()
	m := newModel(t, f)

	m = press(t, m, tea.KeyMsg{Type: tea.KeyDown})
	m = press(t, m, runes("R"))
	assert.Equal(t, []string{"restart ussd-gw"}, f.actionCalls)
	assert.Equal(t, "restart ussd-gw: done", m.flash)
}

func TestQuickAction_DisabledWhilePending(t *testing.T) {
	f := newFakeConsole()
	f.pending["nginx"] = true
	m := newModel(t, f)

	m = press(t, m, runes("T"))
	assert.Empty(t, f.actionCalls)
	assert.Equal(t, "nginx: an action is already pending", m.flash)
}

func TestServerPicker(t *testing.T) {
	f := newFakeConsole()
	m := newModel(t, f)

	m = press(t, m, runes("p"))
	require.Equal(t, ModePicker, m.mode)
	assert.Equal(t, 1, m.pickerCursor, "cursor starts on the active server")
	assert.Contains(t, m.View(), "(active)")

	m = press(t, m, runes("k"))
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, ModeDashboard, m.mode)
	assert.Equal(t, []string{"app"}, f.selected)
}

func TestTopicMessageReloadsView(t *testing.T) {
	f := newFakeConsole()
	m := newModel(t, f)

	f.mu.Lock()
	f.view.Analytics.Anomalies = nil
	f.view.Analytics.Err = "Bad Gateway"
	f.mu.Unlock()

	next, cmd := m.Update(topicMsg(store.TopicAnalytics))
	m = next.(Model)
	assert.NotNil(t, cmd, "listener is re-armed")
	assert.True(t, strings.Contains(m.View(), "Bad Gateway"))
}

func TestDescribeOutcome(t *testing.T) {
	high := models.CommandAnalysis{RiskLevel: models.RiskHigh}
	declined := actions.Outcome{Verb: actions.VerbStop, Target: "db", Session: riskgate.Session{Analysis: &high}}
	assert.Equal(t, "stop db not approved (risk High)", describeOutcome(declined, nil))

	rejected := actions.Outcome{
		Verb: actions.VerbStart, Target: "db", Approved: true,
		Session: riskgate.Session{Result: &models.ExecutionResult{RejectionReason: "risk mismatch"}},
	}
	assert.Equal(t, "start db rejected: risk mismatch", describeOutcome(rejected, nil))
	assert.Equal(t, "db: an action is already pending",
		describeOutcome(actions.Outcome{Target: "db"}, actions.ErrActionPending))
}

func TestLastLinesAndTruncate(t *testing.T) {
	assert.Equal(t, "a\nb\nc", lastLines("a\nb\nc\n", 5))
	assert.Equal(t, "… 2 lines hidden\nc\nd", lastLines("a\nb\nc\nd", 2))
	assert.Equal(t, "abc…", truncate("abcdef", 4))
	assert.Equal(t, "abc", truncate("abc", 4))
}
