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
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Snapshot is one point-in-time telemetry read across all monitored
// subsystems of a server.
//
// Every section is optional. A section that could not be collected is
// present with its Error field set rather than omitted.
type Snapshot struct {
	Timestamp *Instant          `json:"timestamp,omitempty"`
	Linux     *LinuxSnapshot    `json:"linux,omitempty"`
	Docker    *DockerSnapshot   `json:"docker,omitempty"`
	Postgres  *PostgresSnapshot `json:"postgres,omitempty"`
	Nginx     *NginxSnapshot    `json:"nginx,omitempty"`

	// Error is set when the backend answered with an error document.
	Error string `json:"error,omitempty"`
}

// IsEmpty reports whether no section carries any data.
func (s Snapshot) IsEmpty() bool {
	return s.Linux == nil && s.Docker == nil && s.Postgres == nil && s.Nginx == nil
}

// LinuxSnapshot is parsed from df, free, uptime and /proc/stat.
type LinuxSnapshot struct {
	DiskUsage       []DiskUsage `json:"diskUsage,omitempty"`
	Memory          *MemoryInfo `json:"memory,omitempty"`
	Uptime          *UptimeInfo `json:"uptime,omitempty"`
	CPUUsagePercent *float64    `json:"cpuUsagePercent,omitempty"`
	Error           string      `json:"error,omitempty"`
}

// DiskUsage is one line of df -h.
type DiskUsage struct {
	Filesystem string `json:"filesystem,omitempty"`
	Size       string `json:"size,omitempty"`
	Used       string `json:"used,omitempty"`
	Avail      string `json:"avail,omitempty"`
	UsePercent string `json:"usePercent,omitempty"`
	MountedOn  string `json:"mountedOn,omitempty"`
}

// Mount is the mount point, or the filesystem when the mount is unknown.
func (d DiskUsage) Mount() string {
	if d.MountedOn != "" {
		return d.MountedOn
	}
	return d.Filesystem
}

// Percent parses UsePercent ("87%") into an integer; 0 when unparseable.
func (d DiskUsage) Percent() int {
	n, err := strconv.Atoi(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(d.UsePercent), "%")))
	if err != nil {
		return 0
	}
	return n
}

// MemoryInfo is parsed from free -m.
type MemoryInfo struct {
	MemTotalMb     int64 `json:"memTotalMb"`
	MemUsedMb      int64 `json:"memUsedMb"`
	MemFreeMb      int64 `json:"memFreeMb"`
	MemAvailableMb int64 `json:"memAvailableMb"`
	SwapTotalMb    int64 `json:"swapTotalMb"`
	SwapUsedMb     int64 `json:"swapUsedMb"`
	SwapFreeMb     int64 `json:"swapFreeMb"`
}

// UsedPercent is memory used over total, clamped to [0, 100].
func (m MemoryInfo) UsedPercent() float64 {
	if m.MemTotalMb <= 0 {
		return 0
	}
	return math.Min(100, 100*float64(m.MemUsedMb)/float64(m.MemTotalMb))
}

// UptimeInfo carries the raw uptime string and load averages.
type UptimeInfo struct {
	UptimeString string `json:"uptimeString,omitempty"`
	Load1        string `json:"load1,omitempty"`
	Load5        string `json:"load5,omitempty"`
	Load15       string `json:"load15,omitempty"`
}

// DockerSnapshot lists containers from docker ps / docker stats.
type DockerSnapshot struct {
	Containers []ContainerInfo `json:"containers,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// ContainerInfo is one container row.
type ContainerInfo struct {
	ID           string `json:"id,omitempty"`
	Name         string `json:"name,omitempty"`
	Image        string `json:"image,omitempty"`
	State        string `json:"state,omitempty"`
	Status       string `json:"status,omitempty"`
	Uptime       string `json:"uptime,omitempty"`
	RestartCount int64  `json:"restartCount,omitempty"`
	CPUPercent   string `json:"cpuPercent,omitempty"`
	MemUsage     string `json:"memUsage,omitempty"`
	MemPercent   string `json:"memPercent,omitempty"`
}

// Target is the identifier used for container actions: the name when set,
// otherwise the id.
func (c ContainerInfo) Target() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// Running reports whether docker considers the container running.
func (c ContainerInfo) Running() bool {
	return strings.EqualFold(c.State, "running")
}

// PostgresSnapshot summarises pg_stat_activity and database sizes.
type PostgresSnapshot struct {
	ActiveConnections  int            `json:"activeConnections"`
	DatabaseSizes      []DatabaseSize `json:"databaseSizes,omitempty"`
	SlowQueriesSummary string         `json:"slowQueriesSummary,omitempty"`
	LocksSummary       string         `json:"locksSummary,omitempty"`
	Error              string         `json:"error,omitempty"`
}

// DatabaseSize is one row of pg_database_size.
type DatabaseSize struct {
	Name string `json:"name"`
	Size string `json:"size"`
}

// NginxSnapshot is the nginx service state plus access-log aggregates.
type NginxSnapshot struct {
	ServiceStatus      string           `json:"serviceStatus,omitempty"`
	Running            bool             `json:"running"`
	LocalHTTPCode      string           `json:"localHttpCode,omitempty"`
	ResponseCodeCounts map[string]int64 `json:"responseCodeCounts,omitempty"`
	UssdLogLines       []string         `json:"ussdLogLines,omitempty"`
	Error              string           `json:"error,omitempty"`
}

// Usage thresholds used when colouring disk, memory and CPU bars.
const (
	UsageWarnPercent = 75
	UsageHighPercent = 90
)

// UsageLevel classifies a percentage as "ok", "warn" or "high".
func UsageLevel(pct float64) string {
	switch {
	case pct >= UsageHighPercent:
		return "high"
	case pct >= UsageWarnPercent:
		return "warn"
	default:
		return "ok"
	}
}

// MBToGB converts megabytes to gigabytes (1024 based).
func MBToGB(mb int64) float64 {
	return float64(mb) / 1024
}

var sizePattern = regexp.MustCompile(`^([0-9]*\.?[0-9]+)\s*([kKmMgGtTpP]?)i?[bB]?$`)

// ParseSizeToGB parses a df style size ("512M", "1.5G", "20Gi") into
// gigabytes. The second result is false when the text is not a size.
func ParseSizeToGB(value string) (float64, bool) {
	m := sizePattern.FindStringSubmatch(strings.TrimSpace(value))
	if m == nil {
		return 0, false
	}
	num, err := strconv.ParseFloat(m[1], 64)
	if err != nil || math.IsInf(num, 0) || math.IsNaN(num) {
		return 0, false
	}
	factors := map[string]float64{
		"":  1 / math.Pow(1024, 3),
		"K": 1 / math.Pow(1024, 2),
		"M": 1.0 / 1024,
		"G": 1,
		"T": 1024,
		"P": 1024 * 1024,
	}
	return num * factors[strings.ToUpper(m[2])], true
}
