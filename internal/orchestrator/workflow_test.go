// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/noldarim/edumesh/internal/orchestrator/agents"
	"github.com/noldarim/edumesh/internal/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequest_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		workflow string
		params   map[string]any
	}{
		{
			name:     "workflow key",
			input:    `{"workflow":"report_only","student_ids":[1,2]}`,
			workflow: WorkflowReportOnly,
			params:   map[string]any{"student_ids": []any{float64(1), float64(2)}},
		},
		{
			name:     "type key",
			input:    `{"type":"data_export","export_format":"csv"}`,
			workflow: WorkflowDataExport,
			params:   map[string]any{"export_format": "csv"},
		},
		{
			name:     "workflow wins over type",
			input:    `{"workflow":"report_only","type":"data_export"}`,
			workflow: WorkflowReportOnly,
			params:   map[string]any{},
		},
		{
			name:   "no workflow",
			input:  `{}`,
			params: map[string]any{},
		},
		{
			name:   "null",
			input:  `null`,
			params: map[string]any{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req Request
			require.NoError(t, json.Unmarshal([]byte(tt.input), &req))
			assert.Equal(t, tt.workflow, req.Workflow)
			assert.Equal(t, tt.params, req.Params)
		})
	}

	var req Request
	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &req))
}

func TestResult_MarshalJSON(t *testing.T) {
	start := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	res := Result{
		CorrelationID: "corr-1",
		Workflow:      WorkflowReportOnly,
		Status:        protocol.WorkflowStatusFailed,
		Error:         "boom",
		FailedStage:   agents.ReportGenerationID,
		Outputs:       map[string]map[string]any{KeyAnalysisResult: {"analysis_type": "comprehensive"}},
		StartedAt:     start,
		FinishedAt:    start.Add(time.Second),
	}

	raw, err := json.Marshal(res)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "corr-1", decoded["correlation_id"])
	assert.Equal(t, WorkflowReportOnly, decoded["workflow"])
	assert.Equal(t, string(protocol.WorkflowStatusFailed), decoded["status"])
	assert.Equal(t, "boom", decoded["error"])
	assert.Equal(t, agents.ReportGenerationID, decoded["failed_stage"])
	assert.Equal(t, map[string]any{"analysis_type": "comprehensive"}, decoded[KeyAnalysisResult])
	assert.Equal(t, "2024-03-04T09:00:01Z", decoded["finished_at"])

	res.Error = ""
	raw, err = json.Marshal(&res)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "failed_stage")
}

func TestBuildAnalysisStage(t *testing.T) {
	req := NewRequest(WorkflowCompleteAnalysis, map[string]any{
		"student_ids":   []int{1, 2},
		"time_range":    map[string]any{"start": "2024-03-01"},
		"report_format": "markdown",
		"case_ids":      nil,
	})

	msgType, content := buildAnalysisStage(req, nil)
	assert.Equal(t, agents.MsgComprehensiveAnalysis, msgType)
	assert.Equal(t, []string{"student_ids", "time_range"}, content.Keys())
	assert.Equal(t, []int{1, 2}, content.Ints("student_ids"))
}

func TestBuildReportStage(t *testing.T) {
	analysis := map[string]any{"analysis_type": "comprehensive"}
	prior := []stageOutput{{key: KeyAnalysisResult, data: analysis}}

	t.Run("defaults", func(t *testing.T) {
		msgType, content := buildReportStage(NewRequest("", nil), prior)
		assert.Equal(t, agents.MsgGenerateOverallReport, msgType)
		assert.Equal(t, "overall", content.String("report_type", ""))
		assert.Equal(t, "teacher", content.String("target_audience", ""))
		assert.Equal(t, agents.ReportHTML, content.String("format", ""))
		assert.Equal(t, analysis, content.Map("analysis_data"))
		assert.Equal(t, map[string]any{KeyAnalysisResult: analysis}, content.Map("prior_results"))
		assert.False(t, content.Has("student_ids"))
	})

	t.Run("class report", func(t *testing.T) {
		req := NewRequest("", map[string]any{
			"report_type":     "class",
			"report_format":   "markdown",
			"target_audience": "administrator",
			"class_name":      "CS-1",
		})
		msgType, content := buildReportStage(req, prior)
		assert.Equal(t, agents.MsgGenerateClassReport, msgType)
		assert.Equal(t, "markdown", content.String("format", ""))
		assert.Equal(t, "administrator", content.String("target_audience", ""))
		assert.Equal(t, "CS-1", content.String("class_name", ""))
	})
}

func TestBuildExportStage(t *testing.T) {
	analysis := map[string]any{"a": 1}
	report := map[string]any{"r": 2}
	prior := []stageOutput{{key: KeyAnalysisResult, data: analysis}, {key: KeyReportResult, data: report}}

	msgType, content := buildExportStage(NewRequest("", map[string]any{"export_format": "csv", "target_system": "lms"}), prior)
	assert.Equal(t, agents.MsgExportData, msgType)

	data, ok := content.Value("data")
	require.True(t, ok)
	assert.Equal(t, []any{analysis, report}, data)
	assert.Equal(t, "csv", content.String("format", ""))
	assert.Equal(t, "analysis_result", content.String("data_type", ""))
	assert.Equal(t, "lms", content.String("target_system", ""))

	_, content = buildExportStage(NewRequest("", nil), nil)
	assert.Equal(t, "json", content.String("format", ""))
	assert.False(t, content.Has("target_system"))
}

func TestDefaultWorkflows_HaveStageSpecs(t *testing.T) {
	for _, wf := range DefaultWorkflows() {
		assert.Equal(t, agents.DataAnalysisID, wf.Stages[0], wf.Name)
		for _, stage := range wf.Stages {
			_, ok := stageSpecs[stage]
			assert.True(t, ok, "%s: %s", wf.Name, stage)
		}
	}
}
