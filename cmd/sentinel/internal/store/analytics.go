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
	"golang.org/x/sync/errgroup"
)

const (
	DefaultAnomaliesLastN = 20
	DefaultDiskTrendLimit = 30
)

// AnalyticsFetcher fetches anomaly and disk trend analytics.
type AnalyticsFetcher interface {
	Anomalies(ctx context.Context, serverID string, lastN int) ([]models.Anomaly, error)
	DiskTrend(ctx context.Context, serverID string, limit int) (models.DiskTrend, error)
}

// AnalyticsState is the published analytics view. Anomalies is never nil.
type AnalyticsState struct {
	Tag       selection.Tag
	Anomalies []models.Anomaly
	DiskTrend *models.DiskTrend
	Err       string
	FetchedAt time.Time
}

// AnalyticsFeed caches anomalies and disk trend of the active server.
type AnalyticsFeed struct {
	fetcher AnalyticsFetcher
	gate    Gate
	opts    Options
	hooks   hooks
	lastN   int
	limit   int
	slot    *slot[AnalyticsState]
}

// NewAnalyticsFeed creates an empty feed. Non-positive lastN and limit
// select the defaults.
func NewAnalyticsFeed(fetcher AnalyticsFetcher, gate Gate, lastN, limit int, opts Options) *AnalyticsFeed {
	opts = opts.withDefaults()
	if lastN <= 0 {
		lastN = DefaultAnomaliesLastN
	}
	if limit <= 0 {
		limit = DefaultDiskTrendLimit
	}
	return &AnalyticsFeed{
		fetcher: fetcher,
		gate:    gate,
		opts:    opts,
		hooks:   hooks{notify: opts.Notify, discard: opts.Discard},
		lastN:   lastN,
		limit:   limit,
		slot:    newSlot(AnalyticsState{Anomalies: []models.Anomaly{}}),
	}
}

// Current returns the published state.
func (f *AnalyticsFeed) Current() AnalyticsState {
	return f.slot.load()
}

// Reset clears the feed for a newly selected server.
func (f *AnalyticsFeed) Reset(tag selection.Tag) {
	f.slot.reset(tag, AnalyticsState{Tag: tag, Anomalies: []models.Anomaly{}})
	f.hooks.changed(TopicAnalytics)
}

// Refresh fetches anomalies and disk trend in parallel.
//
// # Description
//
// Analytics are per server; with no server selected the feed is reset to
// empty and nothing is fetched. Each half fails independently: a failed
// anomaly fetch yields an empty sequence, a failed trend fetch a nil trend.
// Err carries the first failure message for display.
//
// # Outputs
//
//   - AnalyticsState: the published state.
//   - bool: false when nothing was fetched, the result was stale, or ctx
//     ended first (the previous state is kept).
func (f *AnalyticsFeed) Refresh(ctx context.Context, tag selection.Tag) (AnalyticsState, bool) {
	if tag.ServerID == "" {
		f.slot.apply(f.gate, tag, func(AnalyticsState) AnalyticsState {
			return AnalyticsState{Tag: tag, Anomalies: []models.Anomaly{}}
		})
		return f.Current(), false
	}

	var (
		anomalies         []models.Anomaly
		trend             models.DiskTrend
		anomErr, trendErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		anomalies, anomErr = f.fetcher.Anomalies(gctx, tag.ServerID, f.lastN)
		return nil
	})
	g.Go(func() error {
		trend, trendErr = f.fetcher.DiskTrend(gctx, tag.ServerID, f.limit)
		return nil
	})
	_ = g.Wait()
	if ctx.Err() != nil {
		if !f.gate.IsCurrent(tag) {
			f.hooks.dropped(TopicAnalytics, tag)
		}
		return f.Current(), false
	}

	next := AnalyticsState{Tag: tag, Anomalies: []models.Anomaly{}, FetchedAt: f.opts.Clock.Now()}
	if anomErr == nil && anomalies != nil {
		next.Anomalies = anomalies
	}
	if trendErr == nil {
		next.DiskTrend = &trend
	}
	for _, err := range []error{anomErr, trendErr} {
		if err != nil {
			next.Err = api.Message(err)
			break
		}
	}

	if !f.slot.apply(f.gate, tag, func(AnalyticsState) AnalyticsState { return next }) {
		f.hooks.dropped(TopicAnalytics, tag)
		return f.Current(), false
	}
	if next.Err != "" {
		f.opts.Logger.Warn("analytics refresh failed",
			"server_id", tag.ServerID,
			"error", next.Err,
		)
	}
	f.hooks.changed(TopicAnalytics)
	return next, true
}
