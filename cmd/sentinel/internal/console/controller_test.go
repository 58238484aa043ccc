// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package console

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/actions"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/models"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/observability"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/poller"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/riskgate"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/store"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Fake backend
// =============================================================================

type fakeBackend struct {
	mu sync.Mutex

	servers      []models.Server
	snapshotHold map[string]chan struct{}
	snapshotIn   map[string]chan struct{}
	snapshots    map[string]int
	health       []string
	listCalls    int
	logCalls     int
	anomalyCalls int

	analysis models.CommandAnalysis
	result   models.ExecutionResult
	executed []models.ExecuteRequest
	chats    []models.ChatRequest
}

func newFakeBackend(servers ...models.Server) *fakeBackend {
	return &fakeBackend{
		servers:      servers,
		snapshotHold: make(map[string]chan struct{}),
		snapshotIn:   make(map[string]chan struct{}),
		snapshots:    make(map[string]int),
		analysis:     models.CommandAnalysis{RiskLevel: models.RiskMedium, Reason: "restart"},
		result:       models.ExecutionResult{Executed: true},
	}
}

// hold makes the next snapshot fetches for id block until the returned
// release func is called. entered is closed when the first one starts.
func (f *fakeBackend) hold(id string) (entered <-chan struct{}, release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	in := make(chan struct{})
	f.snapshotHold[id] = gate
	f.snapshotIn[id] = in
	var once sync.Once
	return in, func() { once.Do(func() { close(gate) }) }
}

func (f *fakeBackend) snapshotCalls(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshots[id]
}

func (f *fakeBackend) setServers(servers ...models.Server) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.servers = servers
}

func (f *fakeBackend) ListServers(context.Context) ([]models.Server, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return append([]models.Server(nil), f.servers...), nil
}

func (f *fakeBackend) CheckHealth(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.health = append(f.health, id)
	return nil
}

func (f *fakeBackend) Snapshot(ctx context.Context, id string) (models.Snapshot, error) {
	f.mu.Lock()
	f.snapshots[id]++
	gate, in := f.snapshotHold[id], f.snapshotIn[id]
	delete(f.snapshotIn, id)
	f.mu.Unlock()
	if in != nil {
		close(in)
	}
	if gate != nil {
		<-gate
	}
	return models.Snapshot{Linux: &models.LinuxSnapshot{Uptime: &models.UptimeInfo{UptimeString: "up " + id}}}, nil
}

func (f *fakeBackend) Anomalies(context.Context, string, int) ([]models.Anomaly, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.anomalyCalls++
	return []models.Anomaly{{Type: "DISK", Message: "high"}}, nil
}

func (f *fakeBackend) DiskTrend(context.Context, string, int) (models.DiskTrend, error) {
	return models.DiskTrend{}, nil
}

func (f *fakeBackend) NginxLogs(context.Context, string, int) (models.LogTail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logCalls++
	return models.LogTail{Lines: []string{"GET /ussd 200"}}, nil
}

func (f *fakeBackend) AnalyzeCommand(context.Context, string) (models.CommandAnalysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.analysis, nil
}

func (f *fakeBackend) ExecuteCommand(_ context.Context, req models.ExecuteRequest) (models.ExecutionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, req)
	return f.result, nil
}

func (f *fakeBackend) ChatMode(context.Context) (string, error) {
	return models.ChatModeLocal, nil
}

func (f *fakeBackend) Chat(_ context.Context, req models.ChatRequest) (models.ChatReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats = append(f.chats, req)
	return models.ChatReply{Response: "ok"}, nil
}

var (
	appServer   = models.Server{ID: "app", Name: "app-01", Host: "10.0.0.5"}
	nginxServer = models.Server{ID: "edge", Name: "nginx-edge", Host: "10.0.0.9"}
)

func newTestController(t *testing.T, backend *fakeBackend, cfg Config, opts ...Option) (*Controller, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	opts = append([]Option{WithClock(clock)}, opts...)
	c := New(backend, cfg, opts...)
	t.Cleanup(c.Close)
	return c, clock
}

// =============================================================================
// Tests
// =============================================================================

func TestStart_LoadsConfiguredServer(t *testing.T) {
	backend := newFakeBackend(appServer, nginxServer)
	c, _ := newTestController(t, backend, Config{Server: "app"})

	require.NoError(t, c.Start(context.Background()))

	v := c.View()
	assert.Equal(t, "app", v.Selection.ServerID)
	require.NotNil(t, v.Selection.Server)
	assert.Equal(t, "app-01", v.Selection.Server.Name)
	require.NotNil(t, v.Snapshot.Snapshot)
	assert.Equal(t, "up app", v.Snapshot.Snapshot.Linux.Uptime.UptimeString)
	assert.Len(t, v.Analytics.Anomalies, 1)
	assert.Equal(t, models.ChatModeLocal, v.Chat.Mode)
	assert.Empty(t, v.Polling, "auto-refresh is off and app is not log-bearing")

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Equal(t, []string{"app"}, backend.health)
	assert.Equal(t, 2, backend.listCalls, "registry is refetched after the health check")
}

func TestStart_NoServerUsesBackendDefault(t *testing.T) {
	backend := newFakeBackend(appServer)
	c, _ := newTestController(t, backend, Config{})

	require.NoError(t, c.Start(context.Background()))

	v := c.View()
	assert.False(t, v.Selection.Selected())
	require.NotNil(t, v.Snapshot.Snapshot)
	assert.Equal(t, 1, backend.snapshotCalls(""))
	assert.Empty(t, v.Analytics.Anomalies, "analytics need a selected server")

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Empty(t, backend.health)
	assert.Zero(t, backend.anomalyCalls)
}

func TestSelect_StaleSnapshotIsDiscarded(t *testing.T) {
	backend := newFakeBackend(appServer, nginxServer)
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	c, _ := newTestController(t, backend, Config{}, WithMetrics(metrics))
	require.NoError(t, c.Start(context.Background()))

	entered, release := backend.hold("app")
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Select(context.Background(), "app")
	}()
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("snapshot for app never started")
	}

	c.Select(context.Background(), "edge")
	v := c.View()
	assert.Equal(t, "edge", v.Selection.ServerID)
	require.NotNil(t, v.Snapshot.Snapshot)
	assert.Equal(t, "up edge", v.Snapshot.Snapshot.Linux.Uptime.UptimeString)

	release()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("superseded selection never returned")
	}

	v = c.View()
	assert.Equal(t, "edge", v.Selection.ServerID)
	assert.Equal(t, "up edge", v.Snapshot.Snapshot.Linux.Uptime.UptimeString, "late app snapshot must not overwrite edge")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StaleDiscardedTotal.WithLabelValues(string(store.TopicSnapshot))))
}

func TestSelect_SameServerIsNoop(t *testing.T) {
	backend := newFakeBackend(appServer)
	c, _ := newTestController(t, backend, Config{Server: "app"})
	require.NoError(t, c.Start(context.Background()))

	epoch := c.View().Selection.Epoch
	c.Select(context.Background(), "app")
	assert.Equal(t, epoch, c.View().Selection.Epoch)
	assert.Equal(t, 1, backend.snapshotCalls("app"))
}

func TestSelect_LogBearingServerStartsTail(t *testing.T) {
	backend := newFakeBackend(appServer, nginxServer)
	c, clock := newTestController(t, backend, Config{LogTailInterval: 5 * time.Second})
	require.NoError(t, c.Start(context.Background()))

	c.Select(context.Background(), "edge")
	assert.Equal(t, []poller.Concern{poller.ConcernLogTail}, c.View().Polling)
	assert.Eventually(t, func() bool {
		return len(c.View().Logs.Lines) == 1
	}, 2*time.Second, 10*time.Millisecond)

	clock.Advance(5 * time.Second)
	assert.Eventually(t, func() bool {
		backend.mu.Lock()
		defer backend.mu.Unlock()
		return backend.logCalls >= 2
	}, 2*time.Second, 10*time.Millisecond)

	c.Select(context.Background(), "app")
	assert.Empty(t, c.View().Polling, "switching to a plain host cancels the tail")
	assert.Nil(t, c.View().Logs.Lines)
}

func TestAutoRefresh_FiresOnInterval(t *testing.T) {
	backend := newFakeBackend(appServer)
	c, clock := newTestController(t, backend, Config{Server: "app"})
	require.NoError(t, c.Start(context.Background()))
	require.Equal(t, 1, backend.snapshotCalls("app"))

	require.NoError(t, c.SetAutoRefresh(10*time.Second))
	assert.Equal(t, []poller.Concern{poller.ConcernSnapshot}, c.View().Polling)

	clock.Advance(10 * time.Second)
	assert.Eventually(t, func() bool { return backend.snapshotCalls("app") == 2 },
		2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 20*time.Second, c.CycleAutoRefresh())
	assert.Error(t, c.SetAutoRefresh(7*time.Second))
	assert.Equal(t, 20*time.Second, c.View().AutoRefresh)
}

func TestSetAutoRefresh_InFlightTickKeepsSnapshot(t *testing.T) {
	backend := newFakeBackend(appServer)
	c, clock := newTestController(t, backend, Config{Server: "app", AutoRefresh: 10 * time.Second})
	require.NoError(t, c.Start(context.Background()))
	require.NotNil(t, c.View().Snapshot.Snapshot)

	entered, release := backend.hold("app")
	t.Cleanup(release)
	clock.Advance(10 * time.Second)
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("tick never fetched")
	}

	require.NoError(t, c.SetAutoRefresh(20*time.Second))

	v := c.View()
	require.NotNil(t, v.Snapshot.Snapshot, "changing the interval is not a fetch failure")
	assert.Equal(t, "up app", v.Snapshot.Snapshot.Linux.Uptime.UptimeString)
	assert.Empty(t, v.Snapshot.Err)
	assert.False(t, v.Snapshot.Loading)
	assert.Equal(t, 20*time.Second, v.AutoRefresh)
	assert.Equal(t, []poller.Concern{poller.ConcernSnapshot}, v.Polling)
}

func TestSetAutoRefresh_OffWinsOverConcurrentSelect(t *testing.T) {
	backend := newFakeBackend(appServer, nginxServer)
	c, _ := newTestController(t, backend, Config{AutoRefresh: 30 * time.Second})
	require.NoError(t, c.Start(context.Background()))

	targets := []string{"app", "edge"}
	for i := 0; i < 20; i++ {
		var wg sync.WaitGroup
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			c.Select(context.Background(), id)
		}(targets[i%2])
		require.NoError(t, c.SetAutoRefresh(0))
		wg.Wait()

		v := c.View()
		assert.Zero(t, v.AutoRefresh)
		assert.NotContains(t, v.Polling, poller.ConcernSnapshot, "iteration %d: off must leave no snapshot timer", i)

		require.NoError(t, c.SetAutoRefresh(30*time.Second))
	}
}

func TestRefreshServers_SelectedServerDisappears(t *testing.T) {
	backend := newFakeBackend(appServer, nginxServer)
	c, _ := newTestController(t, backend, Config{Server: "edge"})
	require.NoError(t, c.Start(context.Background()))
	before := c.View().Selection.Epoch

	backend.setServers(appServer)
	c.RefreshServers(context.Background())

	v := c.View()
	assert.False(t, v.Selection.Selected())
	assert.Greater(t, v.Selection.Epoch, before)
	assert.Empty(t, v.Polling)
	assert.Equal(t, 1, backend.snapshotCalls(""), "fallback fetches the default server")
}

func TestConfirmExecute_ExecutedRefreshesSnapshot(t *testing.T) {
	backend := newFakeBackend(appServer)
	c, _ := newTestController(t, backend, Config{Server: "app"})
	require.NoError(t, c.Start(context.Background()))

	analysis, err := c.AnalyzeCommand(context.Background(), "systemctl restart nginx")
	require.NoError(t, err)
	assert.Equal(t, models.RiskMedium, analysis.RiskLevel)

	result, err := c.ConfirmExecute(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Executed)
	c.bg.Wait()

	assert.Equal(t, 2, backend.snapshotCalls("app"))
	backend.mu.Lock()
	require.Len(t, backend.executed, 1)
	assert.Equal(t, models.RiskMedium, backend.executed[0].ConfirmedRiskLevel)
	require.NotNil(t, backend.executed[0].ServerID)
	assert.Equal(t, "app", *backend.executed[0].ServerID)
	backend.mu.Unlock()

	require.NoError(t, c.BackToAnalysis())
	assert.Equal(t, riskgate.StateAnalyzed, c.View().Command.State)
	c.CloseCommand()
	assert.Equal(t, riskgate.StateIdle, c.View().Command.State)
	assert.Empty(t, c.View().Command.Command)
}

func TestConfirmExecute_RejectedDoesNotRefresh(t *testing.T) {
	backend := newFakeBackend(appServer)
	backend.result = models.ExecutionResult{Executed: false, RejectionReason: "risk mismatch"}
	c, _ := newTestController(t, backend, Config{Server: "app"})
	require.NoError(t, c.Start(context.Background()))

	_, err := c.AnalyzeCommand(context.Background(), "rm -rf /data")
	require.NoError(t, err)
	result, err := c.ConfirmExecute(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Executed)
	c.bg.Wait()

	assert.Equal(t, 1, backend.snapshotCalls("app"))
}

func TestConfirmExecute_RequiresAnalysis(t *testing.T) {
	backend := newFakeBackend(appServer)
	c, _ := newTestController(t, backend, Config{})
	require.NoError(t, c.Start(context.Background()))

	_, err := c.ConfirmExecute(context.Background())
	assert.ErrorIs(t, err, riskgate.ErrNotAnalyzed)
	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Empty(t, backend.executed)
}

func TestRunAction_UsesSelectedServerAndJournalHook(t *testing.T) {
	backend := newFakeBackend(appServer)
	var mu sync.Mutex
	var sessions []riskgate.Session
	hook := func(ev riskgate.Event) {
		if ev.Kind == riskgate.EventSettled {
			mu.Lock()
			sessions = append(sessions, ev.Session)
			mu.Unlock()
		}
	}
	c, _ := newTestController(t, backend, Config{Server: "app"}, WithGateHook(hook))
	require.NoError(t, c.Start(context.Background()))

	out, err := c.RunAction(context.Background(), actions.VerbRestart, "web-1")
	require.NoError(t, err)
	assert.True(t, out.Executed())
	c.bg.Wait()

	assert.False(t, c.ActionPending("web-1"))
	assert.Equal(t, 2, backend.snapshotCalls("app"), "executed quick-action refreshes the snapshot")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, sessions, 1)
	assert.Equal(t, riskgate.SourceQuickAction, sessions[0].Source)
	assert.Equal(t, "docker restart web-1", sessions[0].Command)
	assert.Equal(t, "app", sessions[0].ServerID)
}

func TestSendChat_ScopedToSelection(t *testing.T) {
	backend := newFakeBackend(appServer)
	c, _ := newTestController(t, backend, Config{Server: "app"})
	require.NoError(t, c.Start(context.Background()))

	reply, err := c.SendChat(context.Background(), "why is disk full?", true)
	require.NoError(t, err)
	assert.Equal(t, "ok", reply.Content)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	require.Len(t, backend.chats, 1)
	require.NotNil(t, backend.chats[0].ServerID)
	assert.Equal(t, "app", *backend.chats[0].ServerID)
	assert.True(t, backend.chats[0].IncludeSystemContext)
}

func TestSubscribe(t *testing.T) {
	backend := newFakeBackend(appServer)
	c, _ := newTestController(t, backend, Config{})
	events, unsubscribe := c.Subscribe(64)

	require.NoError(t, c.Start(context.Background()))

	seen := map[store.Topic]bool{}
	for len(events) > 0 {
		seen[<-events] = true
	}
	assert.True(t, seen[store.TopicServers])
	assert.True(t, seen[store.TopicSnapshot])
	assert.True(t, seen[TopicSelection])
	assert.True(t, seen[TopicChat])

	unsubscribe()
	_, open := <-events
	assert.False(t, open)
	assert.NotPanics(t, unsubscribe)
}
