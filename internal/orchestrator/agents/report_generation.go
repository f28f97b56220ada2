// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"
	"github.com/noldarim/edumesh/internal/agent"
	"github.com/noldarim/edumesh/internal/logger"
	"github.com/noldarim/edumesh/internal/orchestrator/services"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/spf13/cast"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Report output formats.
const (
	ReportHTML     = "html"
	ReportMarkdown = "markdown"
	ReportJSON     = "json"
)

// Report section keys, selectable by custom reports.
const (
	SectionPerformance = "performance"
	SectionBehavior    = "behavior"
	SectionKnowledge   = "knowledge_mastery"
	SectionTrend       = "trend"
	SectionStudents    = "students"
	SectionInsights    = "insights"
)

var defaultSections = map[string][]string{
	"individual": {SectionPerformance, SectionKnowledge, SectionTrend, SectionInsights},
	"class":      {SectionPerformance, SectionBehavior, SectionKnowledge, SectionStudents, SectionInsights},
	"subject":    {SectionPerformance, SectionKnowledge, SectionTrend, SectionInsights},
	"overall":    {SectionPerformance, SectionBehavior, SectionKnowledge, SectionTrend, SectionInsights},
	"custom":     {SectionPerformance, SectionInsights},
}

// ErrMissingAnalysis is returned when a report request carries no analysis data.
var ErrMissingAnalysis = errors.New("analysis_data is required")

// Metric is a single headline figure.
type Metric struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Section is a titled list of findings.
type Section struct {
	Key   string   `json:"key"`
	Title string   `json:"title"`
	Items []string `json:"items"`
}

// Report is the rendered-format-independent report structure.
type Report struct {
	ID               string    `json:"report_id"`
	Type             string    `json:"report_type"`
	Title            string    `json:"title"`
	Scope            string    `json:"scope"`
	Audience         string    `json:"target_audience"`
	GeneratedAt      time.Time `json:"generated_at"`
	ExecutiveSummary string    `json:"executive_summary"`
	Metrics          []Metric  `json:"metrics"`
	Sections         []Section `json:"sections"`
	Recommendations  []string  `json:"recommendations"`
}

var markdownTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}).Parse(`# {{.Title}}

_Audience: {{.Audience}} · Scope: {{.Scope}} · Generated {{.GeneratedAt.Format "2006-01-02 15:04 MST"}}_

## Executive summary

{{.ExecutiveSummary}}
{{if .Metrics}}
## Key metrics

| Metric | Value |
|---|---|
{{range .Metrics}}| {{.Name}} | {{.Value}} |
{{end}}{{end}}{{range .Sections}}
## {{.Title}}

{{range .Items}}- {{.}}
{{else}}_No data._
{{end}}{{end}}{{if .Recommendations}}
## Recommendations

{{range $i, $r := .Recommendations}}{{inc $i}}. {{$r}}
{{end}}{{end}}`))

// ReportGenerationAgent turns analysis output into reports.
type ReportGenerationAgent struct {
	*agent.Dispatcher
	gen           services.Generator
	defaultFormat string
	markdown      goldmark.Markdown
	log           zerolog.Logger
}

// NewReportGenerationAgent creates the agent. gen may be nil.
func NewReportGenerationAgent(gen services.Generator, defaultFormat string) *ReportGenerationAgent {
	if defaultFormat == "" {
		defaultFormat = ReportHTML
	}
	a := &ReportGenerationAgent{
		Dispatcher:    agent.NewDispatcher(ReportGenerationID),
		gen:           gen,
		defaultFormat: defaultFormat,
		markdown: goldmark.New(
			goldmark.WithExtensions(
				extension.Strikethrough,
				extension.Table,
			),
		),
		log: logger.ForAgent(ReportGenerationID),
	}
	a.On(MsgGenerateIndividualReport, a.handler("individual")).
		On(MsgGenerateClassReport, a.handler("class")).
		On(MsgGenerateSubjectReport, a.handler("subject")).
		On(MsgGenerateOverallReport, a.handler("overall")).
		On(MsgGenerateCustomReport, a.handler("custom"))
	return a
}

// Identity describes the agent for status reporting.
func (a *ReportGenerationAgent) Identity() agent.Identity {
	return agent.Identity{
		ID:          ReportGenerationID,
		Name:        "Report Generation Agent",
		Description: "Builds individual, class, subject and overall learning reports",
	}
}

func (a *ReportGenerationAgent) handler(reportType string) agent.HandlerFunc {
	return func(ctx context.Context, msg agent.Message) (map[string]any, error) {
		return a.generate(ctx, reportType, msg)
	}
}

func (a *ReportGenerationAgent) generate(ctx context.Context, reportType string, msg agent.Message) (map[string]any, error) {
	c := msg.Content
	format := strings.ToLower(c.String("format", a.defaultFormat))
	if !lo.Contains([]string{ReportHTML, ReportMarkdown, ReportJSON}, format) {
		return nil, fmt.Errorf("unsupported report format %q", format)
	}

	analysisOutput := c.Map("analysis_data")
	if len(analysisOutput) == 0 {
		return nil, ErrMissingAnalysis
	}
	analysis := analysisOutput
	if inner := cast.ToStringMap(analysisOutput["analysis_data"]); len(inner) > 0 {
		analysis = inner
	}
	insights := cast.ToSlice(analysisOutput["insights"])

	scope, err := reportScope(reportType, c)
	if err != nil {
		return nil, err
	}

	sections := defaultSections[reportType]
	if reportType == "custom" {
		if requested := c.Strings("sections"); len(requested) > 0 {
			sections = requested
		}
	}

	studentIDs := c.Ints("student_ids")
	if reportType == "individual" {
		studentIDs = studentIDs[:1]
	}

	report := &Report{
		ID:          fmt.Sprintf("%s_%s", reportType, uuid.NewString()),
		Type:        reportType,
		Title:       reportTitle(reportType, scope),
		Scope:       scope,
		Audience:    c.String("target_audience", "teacher"),
		GeneratedAt: time.Now().UTC(),
		Metrics:     headlineMetrics(analysis),
	}
	for _, key := range sections {
		if s, ok := buildSection(key, analysis, insights, studentIDs); ok {
			report.Sections = append(report.Sections, s)
		}
	}
	report.Recommendations = recommendations(insights, report.Audience)
	report.ExecutiveSummary = a.executiveSummary(ctx, report, analysis)

	content, err := a.render(report, format)
	if err != nil {
		return nil, err
	}

	structure, err := structToMap(report)
	if err != nil {
		return nil, err
	}

	a.log.Info().
		Str("correlation_id", msg.CorrelationID).
		Str("report_id", report.ID).
		Str("format", format).
		Int("sections", len(report.Sections)).
		Msg("Report generated")

	return map[string]any{
		"report_id":       report.ID,
		"report_type":     reportType,
		"format":          format,
		"title":           report.Title,
		"target_audience": report.Audience,
		"content":         content,
		"structure":       structure,
		"timestamp":       report.GeneratedAt.Format(time.RFC3339),
	}, nil
}

func reportScope(reportType string, c *agent.Content) (string, error) {
	switch reportType {
	case "individual":
		ids := c.Ints("student_ids")
		if len(ids) == 0 {
			return "", errors.New("individual report requires student_ids")
		}
		return fmt.Sprintf("student %d", ids[0]), nil
	case "class":
		return c.String("class_name", "all classes"), nil
	case "subject":
		return c.String("subject", "all subjects"), nil
	default:
		return c.String("scope", "all students"), nil
	}
}

func reportTitle(reportType, scope string) string {
	switch reportType {
	case "individual":
		return "Individual Learning Report: " + scope
	case "class":
		return "Class Report: " + scope
	case "subject":
		return "Subject Report: " + scope
	case "custom":
		return "Custom Learning Report"
	default:
		return "Overall Learning Report"
	}
}

func headlineMetrics(analysis map[string]any) []Metric {
	var out []Metric
	perf := cast.ToStringMap(analysis["performance"])
	if len(perf) > 0 {
		out = append(out,
			Metric{"Students analysed", cast.ToString(perf["students_analyzed"])},
			Metric{"Attempts", cast.ToString(perf["records"])},
			Metric{"Average score", fmt.Sprintf("%.1f%%", cast.ToFloat64(perf["average_score"]))},
			Metric{"Pass rate", fmt.Sprintf("%.0f%%", cast.ToFloat64(perf["pass_rate"])*100)},
		)
	}
	if behavior := cast.ToStringMap(analysis["behavior"]); len(behavior) > 0 {
		out = append(out, Metric{"Engagement score", fmt.Sprintf("%.1f", cast.ToFloat64(behavior["engagement_score"]))})
	}
	if trend := cast.ToStringMap(analysis["performance_trend"]); len(trend) > 0 {
		out = append(out, Metric{"Trend", cast.ToString(trend["direction"])})
	}
	return out
}

func buildSection(key string, analysis map[string]any, insights []any, studentIDs []int) (Section, bool) {
	switch key {
	case SectionPerformance:
		perf := cast.ToStringMap(analysis["performance"])
		if len(perf) == 0 {
			return Section{}, false
		}
		items := []string{
			fmt.Sprintf("Average score %.1f%% (median %.1f%%, std dev %.1f)",
				cast.ToFloat64(perf["average_score"]), cast.ToFloat64(perf["median_score"]), cast.ToFloat64(perf["std_dev"])),
			fmt.Sprintf("Pass rate %.0f%% over %d attempts", cast.ToFloat64(perf["pass_rate"])*100, cast.ToInt(perf["records"])),
		}
		grades := cast.ToStringMap(perf["grade_distribution"])
		if len(grades) > 0 {
			letters := lo.Keys(grades)
			sort.Strings(letters)
			items = append(items, "Grades: "+strings.Join(lo.Map(letters, func(g string, _ int) string {
				return fmt.Sprintf("%s=%d", g, cast.ToInt(grades[g]))
			}), ", "))
		}
		return Section{Key: key, Title: "Performance overview", Items: items}, true

	case SectionBehavior:
		b := cast.ToStringMap(analysis["behavior"])
		if len(b) == 0 {
			return Section{}, false
		}
		hours := lo.Map(cast.ToIntSlice(b["peak_activity_hours"]), func(h int, _ int) string { return fmt.Sprintf("%02d:00", h) })
		items := []string{
			fmt.Sprintf("%d operations by %d students over %d active days",
				cast.ToInt(b["total_operations"]), cast.ToInt(b["unique_students"]), cast.ToInt(b["active_days"])),
			fmt.Sprintf("Operation success rate %.0f%%", cast.ToFloat64(b["success_rate"])*100),
			fmt.Sprintf("Engagement score %.1f / 100", cast.ToFloat64(b["engagement_score"])),
		}
		if len(hours) > 0 {
			items = append(items, "Peak activity at "+strings.Join(hours, ", "))
		}
		return Section{Key: key, Title: "Learning behaviour", Items: items}, true

	case SectionKnowledge:
		km := cast.ToStringMap(analysis["knowledge_mastery"])
		if len(km) == 0 {
			return Section{}, false
		}
		var items []string
		if strong := cast.ToStringSlice(km["strong_areas"]); len(strong) > 0 {
			items = append(items, "Strong areas: "+strings.Join(strong, ", "))
		}
		if weak := cast.ToStringSlice(km["weak_areas"]); len(weak) > 0 {
			items = append(items, "Weak areas: "+strings.Join(weak, ", "))
		}
		for _, kp := range cast.ToSlice(km["knowledge_points"]) {
			p := cast.ToStringMap(kp)
			items = append(items, fmt.Sprintf("%s: %.1f%% (%s)", cast.ToString(p["knowledge_point"]), cast.ToFloat64(p["average"]), cast.ToString(p["level"])))
		}
		return Section{Key: key, Title: "Knowledge mastery", Items: items}, true

	case SectionTrend:
		tr := cast.ToStringMap(analysis["performance_trend"])
		if len(tr) == 0 {
			return Section{}, false
		}
		return Section{Key: key, Title: "Performance trend", Items: []string{
			fmt.Sprintf("Scores are %s (%.2f points per day over %d days)",
				cast.ToString(tr["direction"]), cast.ToFloat64(tr["slope"]), cast.ToInt(tr["periods"])),
		}}, true

	case SectionStudents:
		perf := cast.ToStringMap(analysis["performance"])
		rows := cast.ToSlice(perf["per_student"])
		if len(rows) == 0 {
			return Section{}, false
		}
		var items []string
		for _, r := range rows {
			row := cast.ToStringMap(r)
			id := cast.ToInt(row["student_id"])
			if len(studentIDs) > 0 && !lo.Contains(studentIDs, id) {
				continue
			}
			name := cast.ToString(row["name"])
			if name == "" {
				name = fmt.Sprintf("student %d", id)
			}
			items = append(items, fmt.Sprintf("%s: average %.1f%%, %d attempts, pass rate %.0f%%",
				name, cast.ToFloat64(row["average"]), cast.ToInt(row["attempts"]), cast.ToFloat64(row["pass_rate"])*100))
		}
		return Section{Key: key, Title: "Students", Items: items}, true

	case SectionInsights:
		items := lo.FilterMap(insights, func(i any, _ int) (string, bool) {
			d := cast.ToString(cast.ToStringMap(i)["description"])
			return d, d != ""
		})
		return Section{Key: key, Title: "Insights", Items: items}, true
	}
	return Section{}, false
}

func recommendations(insights []any, audience string) []string {
	out := lo.Uniq(lo.FilterMap(insights, func(i any, _ int) (string, bool) {
		r := cast.ToString(cast.ToStringMap(i)["recommendation"])
		return r, r != ""
	}))
	if len(out) > 0 {
		return out
	}
	switch audience {
	case "student":
		return []string{"Keep practising regularly and revisit cases you did not pass."}
	case "administrator":
		return []string{"Continue monitoring pass rates across classes each term."}
	default:
		return []string{"Keep the current pace and revisit the weakest knowledge points in class."}
	}
}

func (a *ReportGenerationAgent) executiveSummary(ctx context.Context, r *Report, analysis map[string]any) string {
	perf := cast.ToStringMap(analysis["performance"])
	direction := cast.ToString(cast.ToStringMap(analysis["performance_trend"])["direction"])
	if direction == "" {
		direction = "not yet measurable"
	}
	fallback := fmt.Sprintf("This %s report covers %d students with an average score of %.1f%% and a pass rate of %.0f%%. The performance trend is %s.",
		r.Type, cast.ToInt(perf["students_analyzed"]), cast.ToFloat64(perf["average_score"]), cast.ToFloat64(perf["pass_rate"])*100, direction)

	if a.gen == nil {
		return fallback
	}

	metrics := strings.Join(lo.Map(r.Metrics, func(m Metric, _ int) string { return m.Name + ": " + m.Value }), "\n")
	var findings []string
	for _, s := range r.Sections {
		findings = append(findings, s.Items...)
	}
	prompt, err := RenderPrompt(summaryPrompt, map[string]any{
		"ReportType": r.Type,
		"Audience":   r.Audience,
		"Metrics":    metrics,
		"Findings":   findings,
	})
	if err != nil {
		return fallback
	}

	text, err := a.gen.Generate(ctx, prompt, summarySystemPrompt)
	if err != nil || strings.TrimSpace(text) == "" {
		a.log.Warn().Err(err).Str("report_id", r.ID).Msg("Executive summary generation failed, using template")
		return fallback
	}
	return text
}

func (a *ReportGenerationAgent) render(r *Report, format string) (string, error) {
	if format == ReportJSON {
		b, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to encode report: %w", err)
		}
		return string(b), nil
	}

	var md bytes.Buffer
	if err := markdownTemplate.Execute(&md, r); err != nil {
		return "", fmt.Errorf("failed to render report: %w", err)
	}
	if format == ReportMarkdown {
		return md.String(), nil
	}

	var body bytes.Buffer
	if err := a.markdown.Convert(md.Bytes(), &body); err != nil {
		return "", fmt.Errorf("failed to convert report to html: %w", err)
	}
	return fmt.Sprintf("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>%s</title>\n</head>\n<body>\n%s</body>\n</html>\n",
		html.EscapeString(r.Title), body.String()), nil
}

func structToMap(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
