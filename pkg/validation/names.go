// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation for values that end up
// inside commands sent to a managed server.
//
// Container names are interpolated into synthesized docker commands, so
// anything outside docker's own naming rules is refused before the
// command is built. Server IDs travel as JSON fields and only need to be
// free of whitespace and control characters.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// ErrEmpty is returned for blank input.
var ErrEmpty = errors.New("value cannot be empty")

// containerPattern matches docker container names.
// Allows: letters, digits, underscore, dot, hyphen; must start alphanumeric.
// Max length: 128 characters.
var containerPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// ValidateContainerName validates a container name before it is placed
// in a docker command line.
//
// Valid names:
//   - 1-128 characters
//   - Letters, digits, '_', '.', '-'
//   - First character is a letter or digit
//
// Example:
//
//	if err := validation.ValidateContainerName(name); err != nil {
//	    return "", fmt.Errorf("%w: %v", ErrInvalidTarget, err)
//	}
//	// Safe to interpolate
func ValidateContainerName(name string) error {
	if name == "" {
		return ErrEmpty
	}
	if !containerPattern.MatchString(name) {
		return fmt.Errorf("invalid container name %q (letters, digits, '_', '.', '-'; up to 128 chars)", name)
	}
	return nil
}

// ValidateServerID validates a server identifier taken from a flag or
// config file. The empty string is valid and means the default server.
func ValidateServerID(id string) error {
	if id == "" {
		return nil
	}
	if len(id) > 256 {
		return fmt.Errorf("server id too long (%d chars, max 256)", len(id))
	}
	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("invalid server id %q: contains whitespace or control characters", id)
		}
	}
	return nil
}

// SanitizeServerID trims surrounding whitespace and validates the result.
func SanitizeServerID(id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if err := ValidateServerID(trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}
