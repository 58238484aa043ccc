// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store holds the fetched console state for the active server.
//
// # Description
//
// Each store is a fetch-and-replace cache. Its state is an immutable value
// swapped atomically, so readers (terminal UI, status API) never observe a
// partially applied refresh. Writes carry the selection Tag the fetch was
// issued for and are dropped when that tag is no longer current:
//
//	Refresh(tag) ──► fetch ──► IsCurrent(tag)? ──yes──► replace state
//	                                           └─no───► discard
//
// Stores never return backend failures as errors. A failure is part of the
// state (Err) so every panel can degrade on its own.
package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/selection"
	"golang.org/x/sync/singleflight"
)

// DefaultFetchTimeout bounds a shared fetch once it no longer follows the
// context of the caller that started it.
const DefaultFetchTimeout = 30 * time.Second

// Topic names the store whose state changed.
type Topic string

const (
	TopicServers   Topic = "servers"
	TopicSnapshot  Topic = "snapshot"
	TopicAnalytics Topic = "analytics"
	TopicLogs      Topic = "logs"
)

// Notifier is called after a store replaced its state. It runs outside the
// store's lock.
type Notifier func(Topic)

// Gate answers whether results for a tag may still be applied.
// *selection.Selection implements it.
type Gate interface {
	IsCurrent(tag selection.Tag) bool
}

// DiscardFunc is told about every dropped stale result.
type DiscardFunc func(Topic, selection.Tag)

// slot is a tag-guarded atomic value shared by the per-server stores.
type slot[T any] struct {
	mu    sync.Mutex
	tag   selection.Tag
	value atomic.Pointer[T]
}

func newSlot[T any](zero T) *slot[T] {
	s := &slot[T]{}
	s.value.Store(&zero)
	return s
}

func (s *slot[T]) load() T {
	return *s.value.Load()
}

// reset unconditionally replaces the state for a new selection.
func (s *slot[T]) reset(tag selection.Tag, v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tag = tag
	s.value.Store(&v)
}

// apply replaces the state with fn(prev) when tag is current and not older
// than the tag the slot was last written for.
func (s *slot[T]) apply(gate Gate, tag selection.Tag, fn func(prev T) T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !gate.IsCurrent(tag) || tag.Epoch < s.tag.Epoch {
		return false
	}
	if tag != s.tag {
		var zero T
		s.value.Store(&zero)
		s.tag = tag
	}
	next := fn(*s.value.Load())
	s.value.Store(&next)
	return true
}

type hooks struct {
	notify  Notifier
	discard DiscardFunc
}

func (h hooks) changed(t Topic) {
	if h.notify != nil {
		h.notify(t)
	}
}

func (h hooks) dropped(t Topic, tag selection.Tag) {
	if h.discard != nil {
		h.discard(t, tag)
	}
}

// shared runs fn once per key for all concurrent callers.
//
// # Description
//
// The call runs on a context detached from the caller that started it and
// bounded by timeout, so one caller giving up does not fail the others.
// Each caller still returns as soon as its own ctx is done, with ctx.Err().
func shared[T any](ctx context.Context, g *singleflight.Group, key string, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ch := g.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		return fn(fctx)
	})
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return zero, r.Err
		}
		return r.Val.(T), nil
	}
}
