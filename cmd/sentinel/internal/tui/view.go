// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tui

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/models"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/poller"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/riskgate"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/store"
	"github.com/AleutianAI/SentinelOps/pkg/ux"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

const (
	maxAnomalies   = 6
	maxOutputLines = 12
	minLogLines    = 5
)

var styles = struct {
	header  lipgloss.Style
	panel   lipgloss.Style
	title   lipgloss.Style
	accent  lipgloss.Style
	muted   lipgloss.Style
	warn    lipgloss.Style
	err     lipgloss.Style
	ok      lipgloss.Style
	modal   lipgloss.Style
	flash   lipgloss.Style
	keyHelp lipgloss.Style
}{
	header:  lipgloss.NewStyle().Bold(true).Foreground(ux.ColorTealBright),
	panel:   lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(ux.ColorTealDeep).Padding(0, 1),
	title:   lipgloss.NewStyle().Bold(true).Foreground(ux.ColorTealPrimary),
	accent:  lipgloss.NewStyle().Foreground(ux.ColorTealBright),
	muted:   lipgloss.NewStyle().Foreground(ux.ColorMuted),
	warn:    lipgloss.NewStyle().Foreground(ux.ColorWarning),
	err:     lipgloss.NewStyle().Foreground(ux.ColorError),
	ok:      lipgloss.NewStyle().Foreground(ux.ColorSuccess),
	modal:   lipgloss.NewStyle().Border(lipgloss.DoubleBorder()).BorderForeground(ux.ColorTealPrimary).Padding(1, 2),
	flash:   lipgloss.NewStyle().Foreground(ux.ColorWarning).Bold(true),
	keyHelp: lipgloss.NewStyle().Foreground(ux.ColorMuted),
}

func containerColumns() []table.Column {
	return []table.Column{
		{Title: "Container", Width: 22},
		{Title: "State", Width: 10},
		{Title: "Status", Width: 20},
		{Title: "CPU", Width: 7},
		{Title: "Mem", Width: 7},
		{Title: "", Width: 8},
	}
}

func tableStyles() table.Styles {
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(ux.ColorTealDeep).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.Foreground(ux.ColorDarkText).Background(ux.ColorTealPrimary)
	return s
}

func containersOf(s *models.Snapshot) []models.ContainerInfo {
	if s == nil || s.Docker == nil {
		return nil
	}
	return s.Docker.Containers
}

func containerTableRows(cs []models.ContainerInfo, pending []string) []table.Row {
	rows := make([]table.Row, 0, len(cs))
	for _, c := range cs {
		mark := ""
		if slices.Contains(pending, c.Target()) {
			mark = "pending"
		}
		rows = append(rows, table.Row{c.Target(), c.State, c.Status, c.CPUPercent, c.MemPercent, mark})
	}
	return rows
}

// View renders the screen.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")

	switch m.mode {
	case ModeCommand:
		b.WriteString(m.renderCommand())
	case ModePicker:
		b.WriteString(m.renderPicker())
	default:
		b.WriteString(m.renderDashboard())
	}

	b.WriteString("\n")
	if m.flash != "" {
		b.WriteString(styles.flash.Render(m.flash))
		b.WriteString("\n")
	}
	b.WriteString(styles.keyHelp.Render(m.keyHelp()))
	return b.String()
}

func (m Model) renderHeader() string {
	v := m.view
	server := "default server"
	if v.Selection.Server != nil {
		server = v.Selection.Server.Label()
	} else if v.Selection.ServerID != "" {
		server = v.Selection.ServerID
	}
	parts := []string{
		styles.header.Render("SentinelOps"),
		styles.accent.Render("▸ " + server),
		styles.muted.Render("auto-refresh " + poller.FormatInterval(v.AutoRefresh)),
	}
	if v.Snapshot.Loading {
		parts = append(parts, m.spin.View())
	}
	if v.Servers.Err != "" {
		parts = append(parts, styles.err.Render("servers: "+v.Servers.Err))
	}
	return strings.Join(parts, "  ")
}

func (m Model) renderDashboard() string {
	left := lipgloss.JoinVertical(lipgloss.Left,
		styles.panel.Render(renderSnapshot(m.view.Snapshot)),
		styles.panel.Render(styles.title.Render("Containers")+"\n"+m.renderContainers()),
	)
	right := styles.panel.Render(renderAnalytics(m.view.Analytics))
	body := lipgloss.JoinHorizontal(lipgloss.Top, left, right)

	if m.view.Selection.LogBearing {
		body = lipgloss.JoinVertical(lipgloss.Left, body,
			styles.panel.Render(renderLogs(m.view.Logs, m.logLines())))
	}
	return body
}

func (m Model) renderContainers() string {
	if len(m.containerRows) == 0 {
		return styles.muted.Render("no containers reported")
	}
	return m.containers.View()
}

func (m Model) logLines() int {
	if m.height <= 0 {
		return minLogLines * 2
	}
	return max(minLogLines, m.height-30)
}

func renderSnapshot(st store.SnapshotState) string {
	var b strings.Builder
	b.WriteString(styles.title.Render("Snapshot"))
	if !st.FetchedAt.IsZero() {
		b.WriteString(styles.muted.Render("  " + st.FetchedAt.Local().Format("15:04:05")))
	}
	b.WriteString("\n")
	if st.Err != "" {
		b.WriteString(styles.err.Render("✗ "+st.Err) + "\n")
	}
	s := st.Snapshot
	if s == nil {
		if st.Loading {
			b.WriteString(styles.muted.Render("loading…"))
		} else if st.Err == "" {
			b.WriteString(styles.muted.Render("no snapshot yet"))
		}
		return b.String()
	}

	if l := s.Linux; l != nil {
		if l.Error != "" {
			b.WriteString(styles.err.Render("linux: "+l.Error) + "\n")
		}
		if l.CPUUsagePercent != nil {
			fmt.Fprintf(&b, "%-8s %s\n", "CPU", ux.UsageBar(*l.CPUUsagePercent, 20))
		}
		if mem := l.Memory; mem != nil {
			fmt.Fprintf(&b, "%-8s %s %s\n", "Memory", ux.UsageBar(mem.UsedPercent(), 20),
				styles.muted.Render(fmt.Sprintf("%.1f/%.1f GB", models.MBToGB(mem.MemUsedMb), models.MBToGB(mem.MemTotalMb))))
		}
		if up := l.Uptime; up != nil {
			fmt.Fprintf(&b, "%-8s %s  load %s %s %s\n", "Uptime", up.UptimeString, up.Load1, up.Load5, up.Load15)
		}
		for _, d := range l.DiskUsage {
			fmt.Fprintf(&b, "%-8s %s %s\n", truncate(d.Mount(), 8), ux.UsageBar(float64(d.Percent()), 20),
				styles.muted.Render(d.Used+"/"+d.Size))
		}
	}
	if p := s.Postgres; p != nil {
		if p.Error != "" {
			b.WriteString(styles.err.Render("postgres: "+p.Error) + "\n")
		} else {
			fmt.Fprintf(&b, "%-8s %d active connections\n", "Postgres", p.ActiveConnections)
			for _, db := range p.DatabaseSizes {
				fmt.Fprintf(&b, "         %s %s\n", db.Name, styles.muted.Render(db.Size))
			}
		}
	}
	if n := s.Nginx; n != nil {
		if n.Error != "" {
			b.WriteString(styles.err.Render("nginx: "+n.Error) + "\n")
		} else {
			state := styles.err.Render("down")
			if n.Running {
				state = styles.ok.Render("running")
			}
			fmt.Fprintf(&b, "%-8s %s %s\n", "Nginx", state, styles.muted.Render(responseCodes(n.ResponseCodeCounts)))
		}
	}
	if s.Docker != nil && s.Docker.Error != "" {
		b.WriteString(styles.err.Render("docker: "+s.Docker.Error) + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func responseCodes(counts map[string]int64) string {
	if len(counts) == 0 {
		return ""
	}
	codes := make([]string, 0, len(counts))
	for code := range counts {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	parts := make([]string, 0, len(codes))
	for _, code := range codes {
		parts = append(parts, code+":"+strconv.FormatInt(counts[code], 10))
	}
	return strings.Join(parts, " ")
}

func renderAnalytics(st store.AnalyticsState) string {
	var b strings.Builder
	b.WriteString(styles.title.Render("Anomalies") + "\n")
	if st.Err != "" {
		b.WriteString(styles.err.Render("✗ "+st.Err) + "\n")
	}
	if len(st.Anomalies) == 0 && st.Err == "" {
		b.WriteString(styles.ok.Render("none detected") + "\n")
	}
	for i, a := range st.Anomalies {
		if i == maxAnomalies {
			fmt.Fprintf(&b, "%s\n", styles.muted.Render(fmt.Sprintf("+%d more", len(st.Anomalies)-maxAnomalies)))
			break
		}
		fmt.Fprintf(&b, "%s %s\n", severityStyle(a.Severity).Render(fmt.Sprintf("[%s]", a.Severity)), truncate(a.Message, 44))
	}

	if st.DiskTrend != nil && len(st.DiskTrend.ByMount) > 0 {
		b.WriteString("\n" + styles.title.Render("Disk trend") + "\n")
		mounts := make([]string, 0, len(st.DiskTrend.ByMount))
		for mount := range st.DiskTrend.ByMount {
			mounts = append(mounts, mount)
		}
		slices.Sort(mounts)
		for _, mount := range mounts {
			b.WriteString(trendLine(mount, st.DiskTrend.ByMount[mount]) + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func trendLine(mount string, points []models.DiskPoint) string {
	if len(points) == 0 {
		return fmt.Sprintf("%-10s %s", truncate(mount, 10), styles.muted.Render("no samples"))
	}
	first, last := points[0].UsePercent, points[len(points)-1].UsePercent
	delta := last - first
	deltaText := styles.muted.Render("±0")
	switch {
	case delta > 0:
		deltaText = styles.warn.Render(fmt.Sprintf("+%d", delta))
	case delta < 0:
		deltaText = styles.ok.Render(strconv.Itoa(delta))
	}
	return fmt.Sprintf("%-10s %3d%% %s", truncate(mount, 10), last, deltaText)
}

func severityStyle(sev string) lipgloss.Style {
	switch strings.ToUpper(sev) {
	case "HIGH", "CRITICAL":
		return styles.err
	case "MEDIUM", "WARN", "WARNING":
		return styles.warn
	default:
		return styles.muted
	}
}

func renderLogs(st store.LogTailState, limit int) string {
	var b strings.Builder
	b.WriteString(styles.title.Render("Nginx log tail"))
	if !st.FetchedAt.IsZero() {
		b.WriteString(styles.muted.Render("  " + st.FetchedAt.Local().Format("15:04:05")))
	}
	b.WriteString("\n")
	switch {
	case st.Err != "":
		b.WriteString(styles.err.Render("✗ " + st.Err))
	case st.Loading && len(st.Lines) == 0:
		b.WriteString(styles.muted.Render("loading…"))
	case len(st.Lines) == 0:
		b.WriteString(styles.muted.Render("no lines"))
	default:
		lines := st.Lines
		if len(lines) > limit {
			lines = lines[len(lines)-limit:]
		}
		b.WriteString(strings.Join(lines, "\n"))
	}
	return b.String()
}

func (m Model) renderCommand() string {
	s := m.view.Command
	server := "the default server"
	if m.view.Selection.Server != nil {
		server = m.view.Selection.Server.Label()
	}

	var b strings.Builder
	b.WriteString(styles.title.Render("Run command on "+server) + "\n\n")
	b.WriteString(m.input.View() + "\n\n")

	switch s.State {
	case riskgate.StateAnalyzing:
		b.WriteString(m.spin.View() + " Analyzing…")
	case riskgate.StateExecuting:
		b.WriteString(renderAnalysis(s.Analysis) + "\n\n")
		b.WriteString(m.spin.View() + " Executing…")
	case riskgate.StateAnalyzed:
		b.WriteString(renderAnalysis(s.Analysis))
	case riskgate.StateSettled:
		b.WriteString(renderAnalysis(s.Analysis) + "\n\n")
		b.WriteString(renderResult(s.Result))
	default:
		b.WriteString(styles.muted.Render("Press enter to analyze the command's risk."))
	}
	return styles.modal.Render(b.String())
}

func renderAnalysis(a *models.CommandAnalysis) string {
	if a == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Risk: %s\n", ux.RiskBadge(string(a.RiskLevel), a.RiskLevel.Label()))
	if a.Reason != "" {
		fmt.Fprintf(&b, "%s\n", a.Reason)
	}
	if a.RollbackSuggestion != "" {
		fmt.Fprintf(&b, "%s %s\n", styles.muted.Render("Rollback:"), a.RollbackSuggestion)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderResult(r *models.ExecutionResult) string {
	if r == nil {
		return ""
	}
	if !r.Executed {
		return styles.err.Render("Rejected: " + r.RejectionReason)
	}
	var b strings.Builder
	code := 0
	if r.ExitCode != nil {
		code = *r.ExitCode
	}
	if code == 0 {
		b.WriteString(styles.ok.Render("Exit code 0") + "\n")
	} else {
		b.WriteString(styles.err.Render("Exit code "+strconv.Itoa(code)) + "\n")
	}
	if out := lastLines(r.Stdout, maxOutputLines); out != "" {
		b.WriteString(out + "\n")
	}
	if errOut := lastLines(r.Stderr, maxOutputLines); errOut != "" {
		b.WriteString(styles.err.Render(errOut) + "\n")
	}
	if r.RollbackSuggestion != "" {
		fmt.Fprintf(&b, "%s %s\n", styles.muted.Render("Rollback:"), r.RollbackSuggestion)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderPicker() string {
	servers := m.view.Servers.Servers
	var b strings.Builder
	b.WriteString(styles.title.Render("Select server") + "\n\n")
	if len(servers) == 0 {
		b.WriteString(styles.muted.Render("no servers registered"))
	}
	for i, s := range servers {
		cursor := "  "
		if i == m.pickerCursor {
			cursor = styles.accent.Render("▸ ")
		}
		line := s.Label()
		if s.Host != "" {
			line += styles.muted.Render("  " + s.Host)
		}
		if s.ID == m.view.Selection.ServerID {
			line += styles.ok.Render("  (active)")
		}
		b.WriteString(cursor + line + "\n")
	}
	return styles.modal.Render(strings.TrimRight(b.String(), "\n"))
}

func (m Model) keyHelp() string {
	switch m.mode {
	case ModeCommand:
		switch {
		case m.input.Focused():
			return "enter analyze • esc close"
		case m.view.Command.State == riskgate.StateAnalyzed:
			return "y approve & run • e edit • esc close"
		case m.view.Command.State == riskgate.StateSettled:
			return "b back • e edit • esc close"
		default:
			return "esc close"
		}
	case ModePicker:
		return "↑/↓ move • enter select • esc close"
	default:
		return "c command • p servers • r refresh • a auto-refresh • l logs • S/T/R start/stop/restart • q quit"
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}

func lastLines(s string, n int) string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = append([]string{fmt.Sprintf("… %d lines hidden", len(lines)-n)}, lines[len(lines)-n:]...)
	}
	return strings.Join(lines, "\n")
}
