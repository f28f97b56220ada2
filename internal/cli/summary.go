// Copyright (C) 2025-2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/noldarim/edumesh/internal/agent"
	"github.com/noldarim/edumesh/internal/orchestrator"
	"github.com/noldarim/edumesh/internal/protocol"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cast"
)

type styles struct {
	dim     lipgloss.Style
	label   lipgloss.Style
	value   lipgloss.Style
	success lipgloss.Style
	fail    lipgloss.Style
	accent  lipgloss.Style
}

func newStyles(noColor bool) styles {
	if noColor {
		plain := lipgloss.NewStyle()
		return styles{dim: plain, label: plain, value: plain, success: plain, fail: plain, accent: plain}
	}
	return styles{
		dim:     lipgloss.NewStyle().Foreground(lipgloss.Color("239")),
		label:   lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		value:   lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		success: lipgloss.NewStyle().Foreground(lipgloss.Color("35")),
		fail:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		accent:  lipgloss.NewStyle().Foreground(lipgloss.Color("75")),
	}
}

// renderEvent renders one progress line, or "" for events not shown.
func renderEvent(event protocol.Event, st styles) string {
	switch e := event.(type) {
	case protocol.WorkflowStartedEvent:
		return fmt.Sprintf("%s %s %s", st.accent.Render("◦"), st.value.Render("Running "+e.Workflow), st.dim.Render(e.CorrelationID))
	case protocol.StageStartedEvent:
		return fmt.Sprintf("  %s %s %s", st.label.Render("○"), st.value.Render(e.AgentID), st.dim.Render(e.MessageType))
	case protocol.StageCompletedEvent:
		return fmt.Sprintf("  %s %s %s", st.success.Render("✓"), st.value.Render(e.AgentID),
			st.dim.Render(formatDuration(time.Duration(e.ExecutionTime*float64(time.Second)))))
	case protocol.StageFailedEvent:
		reason := e.Error
		if e.TimedOut {
			reason = "timed out"
		}
		return fmt.Sprintf("  %s %s %s", st.fail.Render("✗"), st.value.Render(e.AgentID), st.fail.Render(reason))
	default:
		return ""
	}
}

// renderResult renders the workflow outcome.
func renderResult(res *orchestrator.Result, stages []string, st styles) string {
	var lines []string

	lines = append(lines, renderStatus(res.Status, st))
	lines = append(lines, fmt.Sprintf("%s %s", st.label.Render("Workflow:"), st.value.Render(res.Workflow)))
	lines = append(lines, fmt.Sprintf("%s %s", st.label.Render("Correlation:"), st.dim.Render(res.CorrelationID)))

	if !res.FinishedAt.IsZero() {
		lines = append(lines, fmt.Sprintf("%s %s", st.label.Render("Duration:"),
			st.value.Render(formatDuration(res.FinishedAt.Sub(res.StartedAt)))))
	}

	stageInfo := fmt.Sprintf("%d/%d", len(res.Outputs), len(stages))
	if res.FailedStage != "" {
		stageInfo += st.fail.Render(fmt.Sprintf(" (%s failed)", res.FailedStage))
	}
	lines = append(lines, fmt.Sprintf("%s %s", st.label.Render("Stages:"), st.value.Render(stageInfo)))

	if report, ok := res.Output(orchestrator.KeyReportResult); ok {
		lines = append(lines, fmt.Sprintf("%s %s %s", st.label.Render("Report:"),
			st.value.Render(cast.ToString(report["title"])), st.dim.Render(cast.ToString(report["format"]))))
	}
	if export, ok := res.Output(orchestrator.KeyExportResult); ok {
		target := cast.ToString(export["path"])
		if target == "" {
			target = cast.ToString(export["target_system"])
		}
		lines = append(lines, fmt.Sprintf("%s %s %s", st.label.Render("Export:"),
			st.accent.Render(target), st.dim.Render(fmt.Sprintf("(%d records)", cast.ToInt(export["record_count"])))))
	}

	// Error
	if res.Error != "" && res.Status == protocol.WorkflowStatusFailed {
		lines = append(lines, st.fail.Render("Error: "+res.Error))
	}

	return strings.Join(lines, "\n")
}

func renderStatus(s protocol.WorkflowStatus, st styles) string {
	switch s {
	case protocol.WorkflowStatusCompleted:
		return st.success.Render("✓") + " " + st.success.Bold(true).Render("Completed")
	case protocol.WorkflowStatusFailed:
		return st.fail.Render("✗") + " " + st.fail.Bold(true).Render("Failed")
	default:
		return st.accent.Render("◦") + " " + st.accent.Bold(true).Render("Running")
	}
}

// renderAgents renders one line of counters per agent.
func renderAgents(statuses []agent.Status, st styles) string {
	lines := []string{st.label.Render("Agents:")}
	width := 0
	for _, s := range statuses {
		width = max(width, len(s.AgentID))
	}
	for _, s := range statuses {
		m := s.Metrics
		line := fmt.Sprintf("  %-*s %s %s %s",
			width, s.AgentID,
			st.value.Render(fmt.Sprintf("%d requests", m.TotalRequests)),
			rateStyle(s.SuccessRate, m.TotalRequests, st).Render(fmt.Sprintf("%.0f%% ok", s.SuccessRate*100)),
			st.dim.Render("avg "+formatDuration(time.Duration(m.AverageResponseTime*float64(time.Second)))))
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func rateStyle(rate float64, total int64, st styles) lipgloss.Style {
	switch {
	case total == 0:
		return st.dim
	case rate < 1:
		return st.fail
	default:
		return st.success
	}
}

// renderWorkflows lists workflows by name with their stages.
func renderWorkflows(workflows []orchestrator.Workflow, def string, st styles) string {
	sort.Slice(workflows, func(i, j int) bool { return workflows[i].Name < workflows[j].Name })
	var lines []string
	for _, wf := range workflows {
		name := st.value.Render(wf.Name)
		if wf.Name == def {
			name += st.dim.Render(" (default)")
		}
		lines = append(lines, name)
		lines = append(lines, "  "+st.label.Render(strings.Join(wf.Stages, " → ")))
	}
	return strings.Join(lines, "\n")
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
