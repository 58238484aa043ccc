// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package console owns the live state of one operator console.
//
// # Description
//
// The Controller is the single owner of every store, the server selection,
// the polling orchestrator, the operator's command gate and the quick-action
// bridge. Surfaces (the terminal console, the watch command's status API)
// read its View and subscribe to change topics; they never mutate stores
// directly.
//
// Selecting a server runs, in order:
//
//  1. bump the selection epoch and cancel the previous epoch's context
//  2. reset the per-server stores and re-plan the poll timers
//  3. in parallel: snapshot then analytics, and health then registry
//
// Every fetch is tagged with the selection it was started for, so a late
// response for a previous server is discarded instead of overwriting the
// current view.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use.
package console

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/actions"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/api"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/chat"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/models"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/observability"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/poller"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/riskgate"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/selection"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/store"
	"github.com/AleutianAI/SentinelOps/pkg/logging"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

// Topics published by the controller in addition to the store topics.
const (
	TopicSelection store.Topic = "selection"
	TopicCommand   store.Topic = "command"
	TopicActions   store.Topic = "actions"
	TopicChat      store.Topic = "chat"
	TopicPolling   store.Topic = "polling"
)

// Backend is everything the console needs from the collaborator.
// *api.Client implements it.
type Backend interface {
	store.ServerLister
	store.SnapshotFetcher
	store.AnalyticsFetcher
	store.LogFetcher
	riskgate.Backend
	chat.Backend
	CheckHealth(ctx context.Context, serverID string) error
}

// Config tunes a Controller. Zero values select the defaults.
type Config struct {
	// Server is selected by Start. Empty means the backend default.
	Server string

	// AutoRefresh is the initial snapshot interval; zero is off.
	AutoRefresh time.Duration

	LogTailInterval time.Duration
	LogTailLimit    int
	AnomaliesLastN  int
	DiskTrendLimit  int

	// LogHostPatterns decide which servers get a log tail.
	LogHostPatterns []string

	// FetchTimeout bounds refreshes shared between the timers and manual
	// refreshes.
	FetchTimeout time.Duration
}

// View is a consistent read of every panel.
type View struct {
	Selection   selection.State
	Servers     store.RegistryState
	Snapshot    store.SnapshotState
	Analytics   store.AnalyticsState
	Logs        store.LogTailState
	AutoRefresh time.Duration
	Polling     []poller.Concern
	Command     riskgate.Session
	Pending     []string
	Chat        chat.State
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock injects the clock used by timers and timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(ctl *Controller) { ctl.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(ctl *Controller) { ctl.logger = l }
}

// WithMetrics records console metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(ctl *Controller) { ctl.metrics = m }
}

// WithGateHook observes every gate session, typed or quick-action. The
// journal registers here.
func WithGateHook(h riskgate.Hook) Option {
	return func(ctl *Controller) { ctl.gateHooks = append(ctl.gateHooks, h) }
}

// WithApprover sets the quick-action confirmation policy.
func WithApprover(a actions.Approver) Option {
	return func(ctl *Controller) { ctl.approver = a }
}

// Controller is the explicit owner of the console state.
type Controller struct {
	backend   Backend
	cfg       Config
	clock     clockwork.Clock
	logger    *logging.Logger
	metrics   *observability.Metrics
	gateHooks []riskgate.Hook
	approver  actions.Approver

	sel       *selection.Selection
	registry  *store.ServerRegistry
	snapshots *store.SnapshotStore
	analytics *store.AnalyticsFeed
	logs      *store.LogTailStore
	poller    *poller.Orchestrator
	gate      *riskgate.Gate
	bridge    *actions.Bridge
	chat      *chat.Session

	autoRefresh atomic.Int64

	root       context.Context
	rootCancel context.CancelFunc

	// actMu serializes activations. Poll loops never take it, so holding it
	// across poller.Start (which joins those loops) cannot deadlock.
	actMu       sync.Mutex
	activated   bool
	activeEpoch uint64

	mu          sync.Mutex
	epochCtx    context.Context
	epochCancel context.CancelFunc

	subMu  sync.RWMutex
	subs   map[int]chan store.Topic
	nextID int

	bg sync.WaitGroup
}

// New wires a Controller. Call Start to load the initial state and Close
// to stop its timers.
func New(backend Backend, cfg Config, opts ...Option) *Controller {
	c := &Controller{
		backend: backend,
		cfg:     cfg,
		subs:    make(map[int]chan store.Topic),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.logger == nil {
		c.logger = logging.Discard()
	}
	if !poller.ValidInterval(cfg.AutoRefresh) {
		c.logger.Warn("ignoring unsupported auto-refresh interval", "interval", cfg.AutoRefresh.String())
		c.cfg.AutoRefresh = 0
	}
	c.autoRefresh.Store(int64(c.cfg.AutoRefresh))
	c.root, c.rootCancel = context.WithCancel(context.Background())
	c.epochCtx, c.epochCancel = context.WithCancel(c.root)

	c.sel = selection.New(selection.NewClassifier(cfg.LogHostPatterns))

	storeOpts := store.Options{Clock: c.clock, Logger: c.logger, Notify: c.publish, FetchTimeout: cfg.FetchTimeout}
	if c.metrics != nil {
		storeOpts.Discard = c.metrics.Discarded
	}
	c.registry = store.NewServerRegistry(backend, storeOpts)
	c.snapshots = store.NewSnapshotStore(backend, c.sel, storeOpts)
	c.analytics = store.NewAnalyticsFeed(backend, c.sel, cfg.AnomaliesLastN, cfg.DiskTrendLimit, storeOpts)
	c.logs = store.NewLogTailStore(backend, c.sel, cfg.LogTailLimit, storeOpts)

	pollOpts := []poller.Option{
		poller.WithClock(c.clock),
		poller.WithLogger(c.logger),
		poller.WithLogTailInterval(cfg.LogTailInterval),
		poller.WithObserver(c.handleObserver()),
	}
	c.poller = poller.New(c, pollOpts...)

	gateOpts := []riskgate.Option{riskgate.WithClock(c.clock), riskgate.WithLogger(c.logger)}
	if c.metrics != nil {
		gateOpts = append(gateOpts, riskgate.WithHook(c.metrics.GateHook()))
	}
	for _, h := range c.gateHooks {
		gateOpts = append(gateOpts, riskgate.WithHook(h))
	}
	gateOpts = append(gateOpts, riskgate.WithHook(c.onGateEvent))
	c.gate = riskgate.New(backend, gateOpts...)

	bridgeOpts := []actions.Option{
		actions.WithGateOptions(gateOpts...),
		actions.WithLogger(c.logger),
		actions.WithPendingObserver(c.pendingObserver()),
	}
	if c.approver != nil {
		bridgeOpts = append(bridgeOpts, actions.WithApprover(c.approver))
	}
	c.bridge = actions.New(backend, bridgeOpts...)

	c.chat = chat.NewSession(backend, c.logger, func() { c.publish(TopicChat) })
	return c
}

// =============================================================================
// Lifecycle
// =============================================================================

// Start loads the server list and chat mode, then activates the configured
// server (or the backend default). It returns once the initial fetches
// settled; their failures are part of the View, not errors.
func (c *Controller) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, _ = c.registry.Refresh(gctx)
		return nil
	})
	g.Go(func() error {
		c.chat.RefreshMode(gctx)
		return nil
	})
	_ = g.Wait()

	if c.cfg.Server != "" {
		c.sel.Select(c.cfg.Server, c.registry.Current().Servers)
	}
	c.switchTo(ctx, c.sel.Current())
	return nil
}

// Close stops all timers, cancels in-flight fetches and waits for
// background refreshes.
func (c *Controller) Close() {
	c.rootCancel()
	c.poller.Stop()
	c.bg.Wait()
	c.subMu.Lock()
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
	c.subMu.Unlock()
}

// =============================================================================
// Selection
// =============================================================================

// Select makes id the active server ("" for the backend default) and
// blocks until its snapshot, analytics and health settled or a newer
// selection superseded them. Selecting the active server is a no-op.
func (c *Controller) Select(ctx context.Context, id string) {
	st, changed := c.sel.Select(id, c.registry.Current().Servers)
	if !changed {
		return
	}
	c.switchTo(ctx, st)
}

func (c *Controller) switchTo(ctx context.Context, st selection.State) {
	epochCtx := c.activate(st)
	if epochCtx == nil {
		return
	}
	c.loadSelection(ctx, epochCtx, st.Tag())
}

// activate installs st as the active epoch: cancels the previous epoch,
// resets the stores and re-plans the timers. It returns the epoch context,
// or nil when st was superseded before it could be activated.
func (c *Controller) activate(st selection.State) context.Context {
	c.actMu.Lock()
	defer c.actMu.Unlock()

	if c.activated && st.Epoch <= c.activeEpoch {
		return nil
	}
	if !c.sel.IsCurrent(st.Tag()) {
		return nil
	}
	c.activated = true
	c.activeEpoch = st.Epoch

	c.mu.Lock()
	c.epochCancel()
	c.epochCtx, c.epochCancel = context.WithCancel(c.root)
	epochCtx := c.epochCtx
	c.mu.Unlock()

	tag := st.Tag()
	c.snapshots.Reset(tag)
	c.analytics.Reset(tag)
	c.logs.Reset(tag)
	if c.metrics != nil {
		c.metrics.SelectionChanged()
	}

	plan := poller.Plan{
		Tag:         tag,
		AutoRefresh: time.Duration(c.autoRefresh.Load()),
		LogTail:     st.Selected() && st.LogBearing,
	}
	if _, err := c.poller.Start(plan); err != nil {
		c.logger.Warn("poll plan rejected", "error", err.Error())
	}
	c.logger.Info("server selected",
		"server_id", st.ServerID,
		"epoch", st.Epoch,
		"log_tail", plan.LogTail,
	)
	c.publish(TopicSelection)
	return epochCtx
}

// loadSelection runs the fetches of a freshly activated selection.
func (c *Controller) loadSelection(ctx, epochCtx context.Context, tag selection.Tag) {
	ctx, cancel := mergeCancel(ctx, epochCtx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c.RefreshSnapshot(gctx, tag)
		return nil
	})
	if tag.ServerID != "" {
		g.Go(func() error {
			c.checkHealth(gctx, tag.ServerID)
			return nil
		})
	}
	_ = g.Wait()
}

// checkHealth asks the backend to health-check serverID, then refetches the
// registry so the new health shows up, and reconciles the selection.
func (c *Controller) checkHealth(ctx context.Context, serverID string) {
	if err := c.backend.CheckHealth(ctx, serverID); err != nil {
		if api.KindOf(err) == api.KindTransport {
			c.logger.Debug("health check unreachable", "server_id", serverID, "error", api.Message(err))
			return
		}
		c.logger.Debug("health check failed", "server_id", serverID, "error", api.Message(err))
	}
	if ctx.Err() != nil {
		return
	}
	c.RefreshServers(ctx)
}

// RefreshServers refetches the registry and reconciles the selection. If
// the selected server disappeared or changed classification, the
// selection is re-activated.
func (c *Controller) RefreshServers(ctx context.Context) {
	if _, err := c.registry.Refresh(ctx); err != nil {
		return
	}
	st, changed := c.sel.Reconcile(c.registry.Current().Servers)
	if changed {
		c.switchTo(ctx, st)
		return
	}
	c.publish(TopicSelection)
}

// =============================================================================
// Refresh (poller.Refresher)
// =============================================================================

// RefreshSnapshot fetches the snapshot for tag, then the analytics that
// depend on it.
func (c *Controller) RefreshSnapshot(ctx context.Context, tag selection.Tag) {
	if _, applied := c.snapshots.Refresh(ctx, tag); !applied {
		return
	}
	if tag.ServerID != "" {
		c.analytics.Refresh(ctx, tag)
	}
}

// ReloadLogs fetches the log tail for tag.
func (c *Controller) ReloadLogs(ctx context.Context, tag selection.Tag, silent bool) {
	c.logs.Reload(ctx, tag, silent)
}

// Refresh is the manual refresh of the active selection.
func (c *Controller) Refresh(ctx context.Context) {
	c.RefreshSnapshot(ctx, c.sel.Current().Tag())
}

// ReloadLogsNow is the manual log reload of the active selection.
func (c *Controller) ReloadLogsNow(ctx context.Context) {
	st := c.sel.Current()
	if !st.LogBearing {
		return
	}
	c.logs.Reload(ctx, st.Tag(), false)
}

// SetAutoRefresh changes the snapshot interval without touching the log
// tail. It is serialized with activations, so a concurrent selection
// change re-arms the timer with d and never with the previous interval.
func (c *Controller) SetAutoRefresh(d time.Duration) error {
	if !poller.ValidInterval(d) {
		return fmt.Errorf("auto-refresh interval %s not allowed", d)
	}
	c.actMu.Lock()
	c.autoRefresh.Store(int64(d))
	err := c.poller.SetAutoRefresh(d)
	c.actMu.Unlock()
	if err != nil {
		return err
	}
	c.publish(TopicPolling)
	return nil
}

// CycleAutoRefresh advances to the next allowed interval.
func (c *Controller) CycleAutoRefresh() time.Duration {
	next := poller.NextInterval(time.Duration(c.autoRefresh.Load()))
	if err := c.SetAutoRefresh(next); err != nil {
		c.logger.Warn("auto-refresh change rejected", "error", err.Error())
	}
	return next
}

// =============================================================================
// Commands
// =============================================================================

// AnalyzeCommand submits text to the operator gate and analyzes it.
func (c *Controller) AnalyzeCommand(ctx context.Context, text string) (models.CommandAnalysis, error) {
	if err := c.gate.SubmitCommand(text); err != nil {
		return models.CommandAnalysis{}, err
	}
	c.publish(TopicCommand)
	return c.gate.Analyze(ctx)
}

// ConfirmExecute runs the analyzed command on the active server. An
// executed command triggers a snapshot refresh in the background.
func (c *Controller) ConfirmExecute(ctx context.Context) (models.ExecutionResult, error) {
	c.publish(TopicCommand)
	return c.gate.ConfirmExecute(ctx, c.sel.Current().ServerID)
}

// BackToAnalysis discards the execution result and keeps the analysis.
func (c *Controller) BackToAnalysis() error {
	err := c.gate.Back()
	c.publish(TopicCommand)
	return err
}

// CloseCommand closes the command modal: input, analysis and result are
// cleared.
func (c *Controller) CloseCommand() {
	c.gate.Reset()
	c.publish(TopicCommand)
}

// RunAction runs a container quick-action on the active server.
func (c *Controller) RunAction(ctx context.Context, verb actions.Verb, target string) (actions.Outcome, error) {
	return c.bridge.Run(ctx, verb, target, c.sel.Current().ServerID)
}

// SendChat sends a chat message scoped to the active server.
func (c *Controller) SendChat(ctx context.Context, text string, includeContext bool) (chat.Message, error) {
	return c.chat.Send(ctx, text, includeContext, c.sel.Current().ServerID)
}

// Chat returns the chat session.
func (c *Controller) Chat() *chat.Session {
	return c.chat
}

func (c *Controller) onGateEvent(ev riskgate.Event) {
	if ev.Session.Source == riskgate.SourceQuickAction {
		c.publish(TopicActions)
	} else {
		c.publish(TopicCommand)
	}
	if ev.Kind != riskgate.EventSettled || ev.Session.Result == nil || !ev.Session.Result.Executed {
		return
	}
	tag := c.sel.Current().Tag()
	ctx := c.epochContext()
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		c.RefreshSnapshot(ctx, tag)
	}()
}

func (c *Controller) epochContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epochCtx
}

// =============================================================================
// View & subscriptions
// =============================================================================

// View returns the current state of every panel.
func (c *Controller) View() View {
	st := c.sel.Current()
	return View{
		Selection:   st,
		Servers:     c.registry.Current(),
		Snapshot:    c.snapshots.Current(),
		Analytics:   c.analytics.Current(),
		Logs:        c.logs.Current(),
		AutoRefresh: time.Duration(c.autoRefresh.Load()),
		Polling:     c.poller.Active(),
		Command:     c.gate.Session(),
		Pending:     c.bridge.PendingTargets(st.ServerID),
		Chat:        c.chat.State(),
	}
}

// ActionPending reports whether a quick-action on target is running.
func (c *Controller) ActionPending(target string) bool {
	return c.bridge.Pending(c.sel.Current().ServerID, target)
}

// Subscribe returns a channel of change topics. Topics are dropped when
// the buffer is full; subscribers re-read View anyway. The returned func
// unsubscribes.
func (c *Controller) Subscribe(buffer int) (<-chan store.Topic, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan store.Topic, buffer)
	c.subMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = ch
	c.subMu.Unlock()

	return ch, func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		if _, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(ch)
		}
	}
}

func (c *Controller) publish(t store.Topic) {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	for _, ch := range c.subs {
		select {
		case ch <- t:
		default:
		}
	}
}

func (c *Controller) handleObserver() poller.Observer {
	var metrics poller.Observer
	if c.metrics != nil {
		metrics = c.metrics.HandleObserver()
	}
	return func(concern poller.Concern, active bool) {
		if metrics != nil {
			metrics(concern, active)
		}
		c.publish(TopicPolling)
	}
}

func (c *Controller) pendingObserver() func(serverID, target string, pending bool) {
	return func(serverID, target string, pending bool) {
		if c.metrics != nil {
			c.metrics.PendingChanged(serverID, target, pending)
		}
		c.publish(TopicActions)
	}
}

// mergeCancel returns a context cancelled when either parent is.
func mergeCancel(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
