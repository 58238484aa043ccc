// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package poller owns every recurring refresh timer of the console.
//
// # Description
//
// The Orchestrator keeps a table of live handles keyed by Concern. Each
// handle is one goroutine driven by a ticker and bound to the selection Tag
// it was armed for. Start replaces the whole table: every existing handle
// is cancelled and its goroutine joined before any new handle is armed, so
// two timers for the same concern never coexist and no timer outlives the
// selection it was created for.
//
// # Thread Safety
//
// All methods are safe for concurrent use. A Refresher must not call back
// into the Orchestrator; Start and Stop wait for running ticks to return.
package poller

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/selection"
	"github.com/AleutianAI/SentinelOps/pkg/logging"
	"github.com/jonboulle/clockwork"
)

// Concern names a class of recurring refresh.
type Concern string

const (
	ConcernSnapshot Concern = "snapshot-auto-refresh"
	ConcernLogTail  Concern = "log-tail"
)

// DefaultLogTailInterval is the silent reload period of the log tail.
const DefaultLogTailInterval = 5 * time.Second

// AllowedIntervals are the auto-refresh settings; 0 means off.
var AllowedIntervals = []time.Duration{
	0,
	10 * time.Second,
	20 * time.Second,
	30 * time.Second,
	60 * time.Second,
	180 * time.Second,
}

// ValidInterval reports whether d is one of AllowedIntervals.
func ValidInterval(d time.Duration) bool {
	for _, a := range AllowedIntervals {
		if d == a {
			return true
		}
	}
	return false
}

// NextInterval returns the setting after d, wrapping to off.
func NextInterval(d time.Duration) time.Duration {
	for i, a := range AllowedIntervals {
		if a == d {
			return AllowedIntervals[(i+1)%len(AllowedIntervals)]
		}
	}
	return AllowedIntervals[0]
}

// FormatInterval renders an interval the way config files spell it.
func FormatInterval(d time.Duration) string {
	if d <= 0 {
		return "off"
	}
	return d.String()
}

// Refresher performs the fetches driven by the timers.
type Refresher interface {
	RefreshSnapshot(ctx context.Context, tag selection.Tag)

	// ReloadLogs fetches the log tail. silent reloads must not toggle the
	// loading indicator.
	ReloadLogs(ctx context.Context, tag selection.Tag, silent bool)
}

// Plan is the desired handle table for one selection.
type Plan struct {
	Tag         selection.Tag
	AutoRefresh time.Duration
	LogTail     bool
}

// Observer is told about every armed and cancelled handle.
type Observer func(c Concern, active bool)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock injects the clock; tests pass a clockwork fake.
func WithClock(c clockwork.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithLogTailInterval overrides DefaultLogTailInterval.
func WithLogTailInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.logInterval = d
		}
	}
}

// WithObserver registers a handle observer.
func WithObserver(fn Observer) Option {
	return func(o *Orchestrator) { o.observer = fn }
}

type handle struct {
	concern Concern
	tag     selection.Tag
	cancel  context.CancelFunc
	done    chan struct{}
}

// Orchestrator owns the refresh timers.
type Orchestrator struct {
	refresher   Refresher
	clock       clockwork.Clock
	logger      *logging.Logger
	logInterval time.Duration
	observer    Observer

	mu      sync.Mutex
	handles map[Concern]*handle
	plan    Plan
	running bool
}

// New creates an idle Orchestrator.
func New(r Refresher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		refresher:   r,
		logInterval: DefaultLogTailInterval,
		handles:     make(map[Concern]*handle),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}
	if o.logger == nil {
		o.logger = logging.Discard()
	}
	return o
}

// Start replaces the handle table with the one described by p.
//
// # Description
//
// Cancels and joins every live handle, then arms the snapshot timer when
// p.AutoRefresh is non-zero and the log tail when p.LogTail is set. The log
// tail performs its first, non-silent load immediately. A plan for an older
// selection epoch than the current plan is ignored, which protects against
// a slow caller re-arming timers for a server that is no longer selected.
//
// # Outputs
//
//   - bool: false when the plan was stale and ignored.
//   - error: for an interval outside AllowedIntervals.
func (o *Orchestrator) Start(p Plan) (bool, error) {
	if !ValidInterval(p.AutoRefresh) {
		return false, fmt.Errorf("auto-refresh interval %s not allowed", p.AutoRefresh)
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running && p.Tag.Epoch < o.plan.Tag.Epoch {
		o.logger.Debug("ignoring stale poll plan",
			"plan_epoch", p.Tag.Epoch,
			"current_epoch", o.plan.Tag.Epoch,
		)
		return false, nil
	}
	o.cancelAllLocked()
	o.plan = p
	o.running = true

	if p.AutoRefresh > 0 {
		o.armLocked(ConcernSnapshot, p.Tag, p.AutoRefresh, o.snapshotLoop)
	}
	if p.LogTail {
		o.armLocked(ConcernLogTail, p.Tag, o.logInterval, o.logTailLoop)
	}
	o.logger.Debug("poll plan started",
		"server_id", p.Tag.ServerID,
		"epoch", p.Tag.Epoch,
		"auto_refresh", FormatInterval(p.AutoRefresh),
		"log_tail", p.LogTail,
	)
	return true, nil
}

// SetAutoRefresh changes the snapshot interval in place. The previous
// snapshot handle is cancelled before a new one is armed; the log tail is
// left alone. Before Start the value is only remembered.
func (o *Orchestrator) SetAutoRefresh(d time.Duration) error {
	if !ValidInterval(d) {
		return fmt.Errorf("auto-refresh interval %s not allowed", d)
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	o.plan.AutoRefresh = d
	if !o.running {
		return nil
	}
	o.cancelLocked(ConcernSnapshot)
	if d > 0 {
		o.armLocked(ConcernSnapshot, o.plan.Tag, d, o.snapshotLoop)
	}
	return nil
}

// Stop cancels every handle and waits for the goroutines to exit.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancelAllLocked()
	o.running = false
}

// Plan returns the current plan.
func (o *Orchestrator) Plan() Plan {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.plan
}

// Active lists the concerns with a live handle, sorted.
func (o *Orchestrator) Active() []Concern {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Concern, 0, len(o.handles))
	for c := range o.handles {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (o *Orchestrator) armLocked(c Concern, tag selection.Tag, every time.Duration, loop func(context.Context, selection.Tag, clockwork.Ticker)) {
	ctx, cancel := context.WithCancel(context.Background())
	h := &handle{concern: c, tag: tag, cancel: cancel, done: make(chan struct{})}
	ticker := o.clock.NewTicker(every)
	o.handles[c] = h

	go func() {
		defer close(h.done)
		defer ticker.Stop()
		loop(ctx, tag, ticker)
	}()

	if o.observer != nil {
		o.observer(c, true)
	}
}

func (o *Orchestrator) cancelLocked(c Concern) {
	h, ok := o.handles[c]
	if !ok {
		return
	}
	h.cancel()
	<-h.done
	delete(o.handles, c)
	if o.observer != nil {
		o.observer(c, false)
	}
}

func (o *Orchestrator) cancelAllLocked() {
	for _, c := range []Concern{ConcernSnapshot, ConcernLogTail} {
		o.cancelLocked(c)
	}
}

func (o *Orchestrator) snapshotLoop(ctx context.Context, tag selection.Tag, ticker clockwork.Ticker) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if ctx.Err() != nil {
				return
			}
			o.refresher.RefreshSnapshot(ctx, tag)
		}
	}
}

func (o *Orchestrator) logTailLoop(ctx context.Context, tag selection.Tag, ticker clockwork.Ticker) {
	o.refresher.ReloadLogs(ctx, tag, false)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if ctx.Err() != nil {
				return
			}
			o.refresher.ReloadLogs(ctx, tag, true)
		}
	}
}
