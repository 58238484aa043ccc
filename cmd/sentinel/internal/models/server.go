// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package models holds the wire types exchanged with the SentinelOps backend.
//
// # Description
//
// Every type here mirrors a JSON document served by the backend. Values are
// treated as immutable once decoded: the console replaces them wholesale on
// each fetch and never edits them in place.
package models

import "strings"

// AuthType is how the backend authenticates to a managed host.
type AuthType string

const (
	AuthPassword   AuthType = "PASSWORD"
	AuthPrivateKey AuthType = "PRIVATE_KEY"
)

// Health values reported by the backend after a health check.
const (
	HealthOK      = "OK"
	HealthFail    = "FAIL"
	HealthUnknown = "unknown"
)

// Server is a managed host as listed by GET /servers.
//
// Credentials never leave the backend; only connection metadata is exposed.
type Server struct {
	ID       string   `json:"id"`
	Name     string   `json:"name,omitempty"`
	Host     string   `json:"host,omitempty"`
	Port     int      `json:"port,omitempty"`
	Username string   `json:"username,omitempty"`
	AuthType AuthType `json:"authType,omitempty"`
	Health   string   `json:"health,omitempty"`
}

// Label is the human-facing name of the server: its name, or its host when
// unnamed, followed by the last health result when known.
func (s Server) Label() string {
	label := s.Name
	if strings.TrimSpace(label) == "" {
		label = s.Host
	}
	if s.Health != "" {
		label += " (" + s.Health + ")"
	}
	return label
}

// FindServer returns the server with the given id from a registry listing.
func FindServer(servers []Server, id string) (Server, bool) {
	for _, s := range servers {
		if s.ID == id {
			return s, true
		}
	}
	return Server{}, false
}
