// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/models"
	"github.com/AleutianAI/SentinelOps/pkg/ux"
)

const usageBarWidth = 20

// =============================================================================
// Snapshot
// =============================================================================

// printSnapshot renders every section present in s. Missing sections are
// skipped; section errors are shown in place.
func printSnapshot(s models.Snapshot) {
	if s.Error != "" {
		ux.Error("Snapshot: " + s.Error)
	}
	if s.Timestamp != nil {
		ux.Muted("Taken " + s.Timestamp.Local().Format(time.DateTime))
	}
	if s.IsEmpty() && s.Error == "" {
		ux.Warning("The backend returned an empty snapshot.")
		return
	}
	if s.Linux != nil {
		printLinux(*s.Linux)
	}
	if s.Docker != nil {
		printDocker(*s.Docker)
	}
	if s.Postgres != nil {
		printPostgres(*s.Postgres)
	}
	if s.Nginx != nil {
		printNginx(*s.Nginx)
	}
}

func printLinux(l models.LinuxSnapshot) {
	ux.Title("System")
	if l.Error != "" {
		ux.Error(l.Error)
	}
	if l.CPUUsagePercent != nil {
		ux.Field("CPU", ux.UsageBar(*l.CPUUsagePercent, usageBarWidth))
	}
	if m := l.Memory; m != nil {
		ux.Field("Memory", fmt.Sprintf("%s  %.1f / %.1f GB",
			ux.UsageBar(m.UsedPercent(), usageBarWidth), models.MBToGB(m.MemUsedMb), models.MBToGB(m.MemTotalMb)))
		if m.SwapTotalMb > 0 {
			ux.Field("Swap", fmt.Sprintf("%.1f / %.1f GB", models.MBToGB(m.SwapUsedMb), models.MBToGB(m.SwapTotalMb)))
		}
	}
	if u := l.Uptime; u != nil {
		ux.Field("Uptime", u.UptimeString)
		if u.Load1 != "" {
			ux.Field("Load", strings.Join([]string{u.Load1, u.Load5, u.Load15}, " "))
		}
	}
	for _, d := range l.DiskUsage {
		ux.Field("Disk "+d.Mount(), fmt.Sprintf("%s  %s of %s", ux.UsageBar(float64(d.Percent()), usageBarWidth), d.Used, d.Size))
	}
}

func printDocker(d models.DockerSnapshot) {
	ux.Title("Containers")
	if d.Error != "" {
		ux.Error(d.Error)
	}
	if len(d.Containers) == 0 && d.Error == "" {
		ux.Muted("No containers.")
	}
	for _, c := range d.Containers {
		icon := ux.IconPending
		if c.Running() {
			icon = ux.IconRunning
		}
		detail := c.Status
		if c.CPUPercent != "" || c.MemUsage != "" {
			detail = fmt.Sprintf("%s, cpu %s, mem %s", c.Status, c.CPUPercent, c.MemUsage)
		}
		if c.RestartCount > 0 {
			detail += fmt.Sprintf(", %d restarts", c.RestartCount)
		}
		ux.StatusLine(icon, c.Target(), detail)
	}
}

func printPostgres(p models.PostgresSnapshot) {
	ux.Title("Postgres")
	if p.Error != "" {
		ux.Error(p.Error)
		return
	}
	ux.Field("Connections", strconv.Itoa(p.ActiveConnections))
	for _, db := range p.DatabaseSizes {
		ux.Field("DB "+db.Name, db.Size)
	}
	if p.SlowQueriesSummary != "" {
		ux.Field("Slow queries", p.SlowQueriesSummary)
	}
	if p.LocksSummary != "" {
		ux.Field("Locks", p.LocksSummary)
	}
}

func printNginx(n models.NginxSnapshot) {
	ux.Title("Nginx")
	if n.Error != "" {
		ux.Error(n.Error)
	}
	status := n.ServiceStatus
	if status == "" {
		status = "stopped"
		if n.Running {
			status = "running"
		}
	}
	ux.Field("Service", status)
	if n.LocalHTTPCode != "" {
		ux.Field("Local HTTP", n.LocalHTTPCode)
	}
	if len(n.ResponseCodeCounts) > 0 {
		ux.Field("Responses", formatCodeCounts(n.ResponseCodeCounts))
	}
}

// formatCodeCounts renders {"502":1,"200":12} as "200:12 502:1".
func formatCodeCounts(counts map[string]int64) string {
	codes := make([]string, 0, len(counts))
	for code := range counts {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	parts := make([]string, len(codes))
	for i, code := range codes {
		parts[i] = fmt.Sprintf("%s:%d", code, counts[code])
	}
	return strings.Join(parts, " ")
}

// =============================================================================
// Servers and analytics
// =============================================================================

func printServers(servers []models.Server, active string) {
	if len(servers) == 0 {
		ux.Warning("No servers registered.")
		return
	}
	for _, s := range servers {
		icon := ux.IconPending
		switch s.Health {
		case models.HealthOK:
			icon = ux.IconSuccess
		case models.HealthFail:
			icon = ux.IconError
		}
		detail := fmt.Sprintf("%s@%s:%d", s.Username, s.Host, s.Port)
		if s.ID == active {
			detail += ", selected"
		}
		ux.StatusLine(icon, s.ID+" "+s.Label(), detail)
	}
}

func printAnomalies(anomalies []models.Anomaly) {
	if len(anomalies) == 0 {
		ux.Success("No anomalies detected.")
		return
	}
	for _, a := range anomalies {
		icon := ux.IconWarning
		if strings.EqualFold(a.Severity, "HIGH") || strings.EqualFold(a.Severity, "CRITICAL") {
			icon = ux.IconError
		}
		detail := a.Type
		if a.DetectedAt != nil {
			detail += ", " + a.DetectedAt.Local().Format(time.DateTime)
		}
		ux.StatusLine(icon, a.Message, detail)
		if a.Detail != "" {
			ux.Muted("    " + a.Detail)
		}
	}
}

// printDiskTrend prints first, last and delta per mount, mounts sorted.
func printDiskTrend(t models.DiskTrend) {
	if len(t.ByMount) == 0 {
		ux.Muted("No disk trend data.")
		return
	}
	mounts := make([]string, 0, len(t.ByMount))
	for m := range t.ByMount {
		mounts = append(mounts, m)
	}
	sort.Strings(mounts)
	for _, m := range mounts {
		points := t.ByMount[m]
		if len(points) == 0 {
			continue
		}
		first, last := points[0], points[len(points)-1]
		ux.Field(m, fmt.Sprintf("%d%% -> %d%% (%+d) over %d samples",
			first.UsePercent, last.UsePercent, last.UsePercent-first.UsePercent, len(points)))
	}
}

// =============================================================================
// History
// =============================================================================

func printLogEntries(entries []models.CommandLogEntry) {
	if len(entries) == 0 {
		ux.Muted("No commands recorded.")
		return
	}
	for _, e := range entries {
		icon := ux.IconError
		if e.Success {
			icon = ux.IconSuccess
		}
		when := ""
		if e.Timestamp != nil {
			when = e.Timestamp.Local().Format(time.DateTime)
		}
		detail := fmt.Sprintf("%s, risk %s, exit %d", when, e.RiskLevel.Label(), e.ExitCode)
		ux.StatusLine(icon, e.Command, detail)
	}
}
