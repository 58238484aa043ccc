// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package models

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Anomaly is one detected anomaly (disk growth, restart loop, memory trend).
type Anomaly struct {
	Type       string   `json:"type"`
	Message    string   `json:"message"`
	Severity   string   `json:"severity"`
	Detail     string   `json:"detail,omitempty"`
	DetectedAt *Instant `json:"detectedAt,omitempty"`
}

// DiskPoint is a single usage sample of one mount.
type DiskPoint struct {
	Timestamp  string `json:"timestamp"`
	UsePercent int    `json:"usePercent"`
}

// DiskTrend is GET /analytics/disk: usage samples grouped by mount.
type DiskTrend struct {
	ByMount map[string][]DiskPoint `json:"byMount"`
}

// LogTail is GET /nginx/ussd-logs.
type LogTail struct {
	Lines     []string `json:"lines"`
	FetchedAt *Instant `json:"fetchedAt,omitempty"`
}

// Instant is a backend timestamp. The backend serialises instants either
// as RFC 3339 strings or as epoch seconds depending on its Jackson setup,
// so both forms are accepted.
type Instant struct {
	time.Time
}

// UnmarshalJSON accepts an RFC 3339 string, a number of epoch seconds
// (with optional fraction), or null.
func (i *Instant) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" || raw == "" {
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return err
		}
		i.Time = t
		return nil
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return err
	}
	whole := int64(secs)
	i.Time = time.Unix(whole, int64((secs-float64(whole))*1e9)).UTC()
	return nil
}

// MarshalJSON writes the instant as an RFC 3339 string.
func (i Instant) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.Time.Format(time.RFC3339Nano))
}
