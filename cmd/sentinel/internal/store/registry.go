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
	"sync/atomic"
	"time"

	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/api"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/models"
)

// ServerLister fetches the server registry.
type ServerLister interface {
	ListServers(ctx context.Context) ([]models.Server, error)
}

// RegistryState is the published server list.
type RegistryState struct {
	Servers   []models.Server
	Err       string
	FetchedAt time.Time
}

// ServerRegistry caches the server list. It is not per-server state, so it
// is not tag-guarded, and a failed refresh keeps the previous list.
type ServerRegistry struct {
	lister ServerLister
	opts   Options
	hooks  hooks
	state  atomic.Pointer[RegistryState]
}

// NewServerRegistry creates an empty registry.
func NewServerRegistry(lister ServerLister, opts Options) *ServerRegistry {
	opts = opts.withDefaults()
	r := &ServerRegistry{
		lister: lister,
		opts:   opts,
		hooks:  hooks{notify: opts.Notify},
	}
	r.state.Store(&RegistryState{Servers: []models.Server{}})
	return r
}

// Current returns the published list.
func (r *ServerRegistry) Current() RegistryState {
	return *r.state.Load()
}

// Refresh refetches the list. The returned error is informational; the
// state already reflects it.
func (r *ServerRegistry) Refresh(ctx context.Context) (RegistryState, error) {
	servers, err := r.lister.ListServers(ctx)
	prev := r.Current()
	next := RegistryState{Servers: prev.Servers, FetchedAt: prev.FetchedAt}
	if err != nil {
		next.Err = api.Message(err)
		r.opts.Logger.Warn("server registry refresh failed", "error", next.Err)
	} else {
		if servers == nil {
			servers = []models.Server{}
		}
		next.Servers = servers
		next.FetchedAt = r.opts.Clock.Now()
	}
	r.state.Store(&next)
	r.hooks.changed(TopicServers)
	return next, err
}
