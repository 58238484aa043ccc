// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package selection tracks the active target server.
//
// Every change of the active server bumps an epoch. Fetches are issued with
// the Tag (server id + epoch) that was current when they started, and their
// results are applied only while IsCurrent(tag) still holds. Comparing the
// epoch rather than just the id also discards results from an A → B → A
// switch that began under the first A.
package selection

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/models"
)

// DefaultLogHostPatterns classify a server as log-bearing when its name or
// host contains one of them.
var DefaultLogHostPatterns = []string{"nginx", "ussd"}

// Tag identifies the selection a request was issued for.
type Tag struct {
	ServerID string
	Epoch    uint64
}

// State is an immutable view of the selection.
type State struct {
	// ServerID is "" when nothing is selected; requests then target the
	// backend's default server.
	ServerID string

	// Server is a cached copy from the registry, nil when unknown.
	Server *models.Server

	// LogBearing gates the log-tail concern.
	LogBearing bool

	Epoch uint64
}

// Tag returns the request tag for this state.
func (s State) Tag() Tag {
	return Tag{ServerID: s.ServerID, Epoch: s.Epoch}
}

// Selected reports whether a specific server is selected.
func (s State) Selected() bool {
	return s.ServerID != ""
}

// Classifier decides which servers carry an nginx/USSD access log.
type Classifier struct {
	patterns []string
}

// NewClassifier builds a case-insensitive substring classifier. An empty
// pattern list selects DefaultLogHostPatterns.
func NewClassifier(patterns []string) Classifier {
	if len(patterns) == 0 {
		patterns = DefaultLogHostPatterns
	}
	lowered := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			lowered = append(lowered, p)
		}
	}
	return Classifier{patterns: lowered}
}

// LogBearing reports whether s matches any pattern by name or host.
func (c Classifier) LogBearing(s models.Server) bool {
	name := strings.ToLower(s.Name)
	host := strings.ToLower(s.Host)
	for _, p := range c.patterns {
		if strings.Contains(name, p) || strings.Contains(host, p) {
			return true
		}
	}
	return false
}

// Selection holds the active server. Readers never block; writers are
// serialized.
type Selection struct {
	classifier Classifier

	mu    sync.Mutex
	state atomic.Pointer[State]
}

// New creates an empty selection (epoch 0, no server).
func New(c Classifier) *Selection {
	s := &Selection{classifier: c}
	s.state.Store(&State{})
	return s
}

// Current returns the active state.
func (s *Selection) Current() State {
	return *s.state.Load()
}

// IsCurrent reports whether results tagged with tag may still be applied.
func (s *Selection) IsCurrent(tag Tag) bool {
	cur := s.state.Load()
	return cur.Epoch == tag.Epoch && cur.ServerID == tag.ServerID
}

// Select makes id the active server.
//
// # Inputs
//
//   - id: server id, "" for no selection.
//   - registry: the latest server list, used for the cached copy and
//     classification. The id does not have to be present; a selection made
//     before the registry loads is filled in by Reconcile.
//
// # Outputs
//
//   - State: the new state.
//   - bool: false when id was already selected (epoch unchanged).
func (s *Selection) Select(id string, registry []models.Server) (State, bool) {
	id = strings.TrimSpace(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.state.Load()
	if cur.ServerID == id {
		return *cur, false
	}
	next := s.derive(id, registry)
	next.Epoch = cur.Epoch + 1
	s.state.Store(&next)
	return next, true
}

// Reconcile refreshes the cached server copy from a new registry.
//
// # Description
//
// If the selected server disappeared, the selection falls back to "no
// selection". If its classification changed, the epoch is bumped so the
// orchestrator re-plans. Otherwise only the cached copy is replaced and
// in-flight requests stay valid.
//
// # Outputs
//
//   - State: the new state.
//   - bool: true when the epoch changed.
func (s *Selection) Reconcile(registry []models.Server) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.state.Load()
	if cur.ServerID == "" {
		return *cur, false
	}
	if _, ok := models.FindServer(registry, cur.ServerID); !ok {
		next := State{Epoch: cur.Epoch + 1}
		s.state.Store(&next)
		return next, true
	}
	next := s.derive(cur.ServerID, registry)
	if next.LogBearing != cur.LogBearing {
		next.Epoch = cur.Epoch + 1
		s.state.Store(&next)
		return next, true
	}
	next.Epoch = cur.Epoch
	s.state.Store(&next)
	return next, false
}

func (s *Selection) derive(id string, registry []models.Server) State {
	next := State{ServerID: id}
	if id == "" {
		return next
	}
	if srv, ok := models.FindServer(registry, id); ok {
		next.Server = &srv
		next.LogBearing = s.classifier.LogBearing(srv)
	}
	return next
}
