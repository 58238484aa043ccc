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
	"time"

	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/api"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/models"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/selection"
)

// Log tail limits, matching what the backend accepts.
const (
	DefaultLogTailLimit = 80
	MinLogTailLimit     = 1
	MaxLogTailLimit     = 500
)

// ClampLogLimit forces n into [MinLogTailLimit, MaxLogTailLimit]; zero or
// negative values select the default.
func ClampLogLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultLogTailLimit
	case n > MaxLogTailLimit:
		return MaxLogTailLimit
	default:
		return n
	}
}

// LogFetcher fetches the nginx USSD log tail.
type LogFetcher interface {
	NginxLogs(ctx context.Context, serverID string, limit int) (models.LogTail, error)
}

// LogTailState is the published log view.
type LogTailState struct {
	Tag       selection.Tag
	Lines     []string
	FetchedAt time.Time
	Loading   bool
	Err       string
}

// LogTailStore caches the log tail of the active server.
type LogTailStore struct {
	fetcher LogFetcher
	gate    Gate
	opts    Options
	hooks   hooks
	limit   int
	slot    *slot[LogTailState]
}

// NewLogTailStore creates an empty store.
func NewLogTailStore(fetcher LogFetcher, gate Gate, limit int, opts Options) *LogTailStore {
	opts = opts.withDefaults()
	return &LogTailStore{
		fetcher: fetcher,
		gate:    gate,
		opts:    opts,
		hooks:   hooks{notify: opts.Notify, discard: opts.Discard},
		limit:   ClampLogLimit(limit),
		slot:    newSlot(LogTailState{}),
	}
}

// Limit returns the effective line limit.
func (s *LogTailStore) Limit() int {
	return s.limit
}

// Current returns the published state.
func (s *LogTailStore) Current() LogTailState {
	return s.slot.load()
}

// Reset clears the store for a newly selected server.
func (s *LogTailStore) Reset(tag selection.Tag) {
	s.slot.reset(tag, LogTailState{Tag: tag})
	s.hooks.changed(TopicLogs)
}

// Reload fetches the tail.
//
// # Inputs
//
//   - silent: keep-alive reloads leave Loading untouched so the panel does
//     not flicker; the first load of a tail sets it.
//
// # Outputs
//
//   - LogTailState: the published state.
//   - bool: false when skipped (no server), stale, or cancelled. A
//     cancelled reload keeps the previous lines.
func (s *LogTailStore) Reload(ctx context.Context, tag selection.Tag, silent bool) (LogTailState, bool) {
	if tag.ServerID == "" {
		return s.Current(), false
	}
	if !silent {
		if s.slot.apply(s.gate, tag, func(prev LogTailState) LogTailState {
			prev.Tag = tag
			prev.Loading = true
			return prev
		}) {
			s.hooks.changed(TopicLogs)
		}
	}

	tail, err := s.fetcher.NginxLogs(ctx, tag.ServerID, s.limit)
	if ctx.Err() != nil {
		if !s.gate.IsCurrent(tag) {
			s.hooks.dropped(TopicLogs, tag)
			return s.Current(), false
		}
		if !silent && s.slot.apply(s.gate, tag, func(prev LogTailState) LogTailState {
			prev.Loading = false
			return prev
		}) {
			s.hooks.changed(TopicLogs)
		}
		return s.Current(), false
	}
	now := s.opts.Clock.Now()

	applied := s.slot.apply(s.gate, tag, func(prev LogTailState) LogTailState {
		next := LogTailState{Tag: tag, Loading: false}
		if err != nil {
			next.Err = api.Message(err)
			return next
		}
		next.Lines = tail.Lines
		if next.Lines == nil {
			next.Lines = []string{}
		}
		next.FetchedAt = now
		if tail.FetchedAt != nil && !tail.FetchedAt.IsZero() {
			next.FetchedAt = tail.FetchedAt.Time
		}
		return next
	})
	if !applied {
		s.hooks.dropped(TopicLogs, tag)
		return s.Current(), false
	}
	if err != nil && !silent {
		s.opts.Logger.Warn("log tail load failed",
			"server_id", tag.ServerID,
			"error", api.Message(err),
		)
	}
	s.hooks.changed(TopicLogs)
	return s.Current(), true
}
