// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateContainerName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "nginx", false},
		{"compose style", "stack_web_1", false},
		{"dots and hyphens", "api.v2-blue", false},
		{"digit first", "1password", false},
		{"max length", strings.Repeat("a", 128), false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", 129), true},
		{"leading hyphen", "-web", true},
		{"leading dot", ".web", true},
		{"space", "web 1", true},
		{"semicolon injection", "web;rm -rf /", true},
		{"command substitution", "$(reboot)", true},
		{"pipe", "web|cat", true},
		{"slash", "web/1", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateContainerName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateContainerName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateContainerName_EmptyIsErrEmpty(t *testing.T) {
	if err := ValidateContainerName(""); !errors.Is(err, ErrEmpty) {
		t.Errorf("ValidateContainerName(\"\") = %v, want ErrEmpty", err)
	}
}

func TestValidateServerID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"default server", "", false},
		{"numeric", "42", false},
		{"slug", "edge-eu-1", false},
		{"space", "edge 1", true},
		{"newline", "edge\n1", true},
		{"tab", "edge\t1", true},
		{"too long", strings.Repeat("x", 257), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateServerID(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateServerID(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeServerID(t *testing.T) {
	got, err := SanitizeServerID("  edge-1 ")
	if err != nil {
		t.Fatalf("SanitizeServerID() unexpected error: %v", err)
	}
	if got != "edge-1" {
		t.Errorf("SanitizeServerID() = %q, want %q", got, "edge-1")
	}

	if _, err := SanitizeServerID(" edge 1 "); err == nil {
		t.Error("SanitizeServerID() expected error for inner space")
	}
}
