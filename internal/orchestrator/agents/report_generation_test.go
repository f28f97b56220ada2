// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package agents

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/noldarim/edumesh/internal/agent"
	"github.com/noldarim/edumesh/test/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seededAnalysis runs a comprehensive analysis over the sample school and
// returns its output, the way the orchestrator hands it to the report stage.
func seededAnalysis(t *testing.T) (map[string]any, *testutil.School) {
	t.Helper()
	svc := testutil.NewServices(t)
	school := testutil.SeedSchool(t, svc.DB)

	out, err := NewDataAnalysisAgent(svc.Data, nil).Handle(context.Background(), analysisMessage(MsgComprehensiveAnalysis, nil))
	require.NoError(t, err)
	return out, school
}

func reportMessage(msgType string, content *agent.Content) agent.Message {
	return agent.NewMessage(ReportGenerationID, msgType, content, "corr-report")
}

func TestReportGenerationAgent_Markdown(t *testing.T) {
	analysis, _ := seededAnalysis(t)
	a := NewReportGenerationAgent(nil, ReportHTML)

	content := agent.NewContent().
		Set("analysis_data", analysis).
		Set("format", "markdown")
	out, err := a.Handle(context.Background(), reportMessage(MsgGenerateOverallReport, content))
	require.NoError(t, err)

	assert.Equal(t, "overall", out["report_type"])
	assert.Equal(t, ReportMarkdown, out["format"])
	assert.Equal(t, "teacher", out["target_audience"])
	assert.True(t, strings.HasPrefix(out["report_id"].(string), "overall_"))

	md := out["content"].(string)
	for _, want := range []string{
		"# Overall Learning Report",
		"| Average score | 74.2% |",
		"| Pass rate | 78% |",
		"| Trend | declining |",
		"## Knowledge mastery",
		"- Weak areas: joins, sql",
		"## Recommendations",
		"1. ",
		"covers 3 students with an average score of 74.2%",
	} {
		assert.Contains(t, md, want)
	}
}

func TestReportGenerationAgent_HTMLDefault(t *testing.T) {
	analysis, _ := seededAnalysis(t)
	a := NewReportGenerationAgent(nil, "")

	content := agent.NewContent().Set("analysis_data", analysis).Set("class_name", "CS-1")
	out, err := a.Handle(context.Background(), reportMessage(MsgGenerateClassReport, content))
	require.NoError(t, err)

	assert.Equal(t, ReportHTML, out["format"])
	html := out["content"].(string)
	assert.True(t, strings.HasPrefix(html, "<!DOCTYPE html>"))
	assert.Contains(t, html, "<title>Class Report: CS-1</title>")
	assert.Contains(t, html, "<h1>Class Report: CS-1</h1>")
	assert.Contains(t, html, "<table>")
	assert.Contains(t, html, "Ada Lovelace: average 75.0%")
}

func TestReportGenerationAgent_JSONStructure(t *testing.T) {
	analysis, school := seededAnalysis(t)
	a := NewReportGenerationAgent(nil, ReportHTML)

	content := agent.NewContent().
		Set("analysis_data", analysis).
		Set("format", "json").
		Set("student_ids", []int{int(school.Students[1].ID)}).
		Set("target_audience", "student")
	out, err := a.Handle(context.Background(), reportMessage(MsgGenerateIndividualReport, content))
	require.NoError(t, err)

	var decoded Report
	require.NoError(t, json.Unmarshal([]byte(out["content"].(string)), &decoded))
	assert.Equal(t, "individual", decoded.Type)
	assert.Equal(t, "student", decoded.Audience)

	structure := out["structure"].(map[string]any)
	assert.Equal(t, out["report_id"], structure["report_id"])
	assert.NotEmpty(t, structure["sections"])
}

func TestReportGenerationAgent_CustomSections(t *testing.T) {
	analysis, _ := seededAnalysis(t)
	a := NewReportGenerationAgent(nil, ReportHTML)

	content := agent.NewContent().
		Set("analysis_data", analysis).
		Set("format", "json").
		Set("sections", []string{SectionTrend, "nonexistent"})
	out, err := a.Handle(context.Background(), reportMessage(MsgGenerateCustomReport, content))
	require.NoError(t, err)

	sections := out["structure"].(map[string]any)["sections"].([]any)
	require.Len(t, sections, 1)
	assert.Equal(t, SectionTrend, sections[0].(map[string]any)["key"])
}

func TestReportGenerationAgent_ExecutiveSummaryFromGenerator(t *testing.T) {
	analysis, _ := seededAnalysis(t)
	gen := &testutil.StaticGenerator{Reply: "A solid term with gaps in SQL."}
	a := NewReportGenerationAgent(gen, ReportJSON)

	content := agent.NewContent().Set("analysis_data", analysis)
	out, err := a.Handle(context.Background(), reportMessage(MsgGenerateSubjectReport, content))
	require.NoError(t, err)

	assert.Equal(t, 1, gen.Calls())
	structure := out["structure"].(map[string]any)
	assert.Equal(t, "A solid term with gaps in SQL.", structure["executive_summary"])
}

func TestReportGenerationAgent_Errors(t *testing.T) {
	analysis, _ := seededAnalysis(t)
	a := NewReportGenerationAgent(nil, ReportHTML)
	ctx := context.Background()

	tests := []struct {
		name    string
		msgType string
		content *agent.Content
		check   func(t *testing.T, err error)
	}{
		{
			name:    "missing analysis",
			msgType: MsgGenerateOverallReport,
			content: agent.NewContent(),
			check: func(t *testing.T, err error) {
				assert.True(t, errors.Is(err, ErrMissingAnalysis))
			},
		},
		{
			name:    "individual without student",
			msgType: MsgGenerateIndividualReport,
			content: agent.NewContent().Set("analysis_data", analysis),
			check: func(t *testing.T, err error) {
				assert.Contains(t, err.Error(), "requires student_ids")
			},
		},
		{
			name:    "unsupported format",
			msgType: MsgGenerateOverallReport,
			content: agent.NewContent().Set("analysis_data", analysis).Set("format", "pdf"),
			check: func(t *testing.T, err error) {
				assert.Contains(t, err.Error(), "unsupported report format")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Handle(ctx, reportMessage(tt.msgType, tt.content))
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}
