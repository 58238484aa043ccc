// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/api"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/models"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/selection"
	"github.com/AleutianAI/SentinelOps/pkg/logging"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

// Options are shared by every store constructor.
type Options struct {
	Clock   clockwork.Clock
	Logger  *logging.Logger
	Notify  Notifier
	Discard DiscardFunc

	// FetchTimeout bounds shared fetches. Zero selects DefaultFetchTimeout.
	FetchTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Logger == nil {
		o.Logger = logging.Discard()
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = DefaultFetchTimeout
	}
	return o
}

// SnapshotFetcher fetches telemetry. *api.Client implements it.
type SnapshotFetcher interface {
	Snapshot(ctx context.Context, serverID string) (models.Snapshot, error)
}

// SnapshotState is the published snapshot view.
type SnapshotState struct {
	Tag       selection.Tag
	Snapshot  *models.Snapshot
	Err       string
	Loading   bool
	FetchedAt time.Time
}

// SnapshotStore caches the latest snapshot of the active server.
type SnapshotStore struct {
	fetcher SnapshotFetcher
	gate    Gate
	opts    Options
	hooks   hooks
	group   singleflight.Group
	slot    *slot[SnapshotState]
}

// NewSnapshotStore creates an empty store.
func NewSnapshotStore(fetcher SnapshotFetcher, gate Gate, opts Options) *SnapshotStore {
	opts = opts.withDefaults()
	return &SnapshotStore{
		fetcher: fetcher,
		gate:    gate,
		opts:    opts,
		hooks:   hooks{notify: opts.Notify, discard: opts.Discard},
		slot:    newSlot(SnapshotState{}),
	}
}

// Current returns the published state.
func (s *SnapshotStore) Current() SnapshotState {
	return s.slot.load()
}

// Reset clears the store for a newly selected server.
func (s *SnapshotStore) Reset(tag selection.Tag) {
	s.slot.reset(tag, SnapshotState{Tag: tag})
	s.hooks.changed(TopicSnapshot)
}

// Refresh fetches a fresh snapshot for tag and publishes it.
//
// # Description
//
// Concurrent refreshes for the same tag share one request. On failure the
// cached snapshot is cleared and Err is set; there is no stale-data
// fallback. A 2xx response that is an error document ({"error": ...}) is a
// failure too. Results for a tag that is no longer current are discarded.
// A refresh whose ctx ends first publishes nothing: the previous snapshot
// stays and only the loading flag is cleared.
//
// # Outputs
//
//   - SnapshotState: the published state after the call.
//   - bool: false when the result was discarded as stale.
func (s *SnapshotStore) Refresh(ctx context.Context, tag selection.Tag) (SnapshotState, bool) {
	if !s.setLoading(tag) {
		s.hooks.dropped(TopicSnapshot, tag)
		return s.Current(), false
	}

	key := fmt.Sprintf("%s#%d", tag.ServerID, tag.Epoch)
	snap, err := shared(ctx, &s.group, key, s.opts.FetchTimeout, func(fctx context.Context) (models.Snapshot, error) {
		return s.fetcher.Snapshot(fctx, tag.ServerID)
	})
	if ctx.Err() != nil {
		return s.abandon(tag)
	}

	now := s.opts.Clock.Now()
	next := SnapshotState{Tag: tag, FetchedAt: now}
	switch {
	case err != nil:
		next.Err = api.Message(err)
	default:
		if snap.Error != "" {
			next.Err = snap.Error
		} else {
			next.Snapshot = &snap
		}
	}

	applied := s.slot.apply(s.gate, tag, func(SnapshotState) SnapshotState { return next })
	if !applied {
		s.opts.Logger.Debug("discarding stale snapshot",
			"server_id", tag.ServerID,
			"epoch", tag.Epoch,
		)
		s.hooks.dropped(TopicSnapshot, tag)
		return s.Current(), false
	}
	if next.Err != "" {
		s.opts.Logger.Warn("snapshot refresh failed",
			"server_id", tag.ServerID,
			"error", next.Err,
		)
	}
	s.hooks.changed(TopicSnapshot)
	return next, true
}

func (s *SnapshotStore) setLoading(tag selection.Tag) bool {
	ok := s.slot.apply(s.gate, tag, func(prev SnapshotState) SnapshotState {
		prev.Tag = tag
		prev.Loading = true
		prev.Err = ""
		return prev
	})
	if ok {
		s.hooks.changed(TopicSnapshot)
	}
	return ok
}

// abandon settles a refresh whose caller went away before the fetch did.
func (s *SnapshotStore) abandon(tag selection.Tag) (SnapshotState, bool) {
	if !s.gate.IsCurrent(tag) {
		s.opts.Logger.Debug("discarding stale snapshot",
			"server_id", tag.ServerID,
			"epoch", tag.Epoch,
		)
		s.hooks.dropped(TopicSnapshot, tag)
		return s.Current(), false
	}
	s.opts.Logger.Debug("snapshot refresh cancelled", "server_id", tag.ServerID)
	if s.slot.apply(s.gate, tag, func(prev SnapshotState) SnapshotState {
		prev.Loading = false
		return prev
	}) {
		s.hooks.changed(TopicSnapshot)
	}
	return s.Current(), false
}
