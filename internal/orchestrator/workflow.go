// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/noldarim/edumesh/internal/agent"
	"github.com/noldarim/edumesh/internal/orchestrator/agents"
	"github.com/noldarim/edumesh/internal/protocol"
	"github.com/spf13/cast"
)

// Workflow names.
const (
	WorkflowCompleteAnalysis = "complete_analysis"
	WorkflowDataExport       = "data_export"
	WorkflowReportOnly       = "report_only"
)

// Result keys, one per stage agent.
const (
	KeyAnalysisResult = "analysis_result"
	KeyReportResult   = "report_result"
	KeyExportResult   = "export_result"
)

// Workflow is a named, ordered list of stage agents.
type Workflow struct {
	Name   string   `json:"name"`
	Stages []string `json:"stages"`
}

// DefaultWorkflows returns the built-in workflow table.
func DefaultWorkflows() []Workflow {
	return []Workflow{
		{Name: WorkflowCompleteAnalysis, Stages: []string{agents.DataAnalysisID, agents.ReportGenerationID, agents.InterfaceManagementID}},
		{Name: WorkflowDataExport, Stages: []string{agents.DataAnalysisID, agents.InterfaceManagementID}},
		{Name: WorkflowReportOnly, Stages: []string{agents.DataAnalysisID, agents.ReportGenerationID}},
	}
}

// Request selects a workflow and carries its stage parameters (student_ids,
// case_ids, time_range, report_type, report_format, export_format, ...).
type Request struct {
	Workflow string
	Params   map[string]any
}

// NewRequest builds a request for workflow. An empty workflow selects the
// configured default.
func NewRequest(workflow string, params map[string]any) Request {
	if params == nil {
		params = map[string]any{}
	}
	return Request{Workflow: workflow, Params: params}
}

// UnmarshalJSON reads a flat object. The workflow is taken from "workflow",
// or "type" for older clients; every other key is a parameter.
func (r *Request) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		raw = map[string]any{}
	}
	r.Workflow = cast.ToString(raw["workflow"])
	if r.Workflow == "" {
		r.Workflow = cast.ToString(raw["type"])
	}
	delete(raw, "workflow")
	delete(raw, "type")
	r.Params = raw
	return nil
}

func (r Request) param(key string) (any, bool) {
	v, ok := r.Params[key]
	return v, ok && v != nil
}

func (r Request) stringParam(key, def string) string {
	if s := cast.ToString(r.Params[key]); s != "" {
		return s
	}
	return def
}

// Result is the outcome of one workflow execution. Outputs holds each
// completed stage's data under its result key.
type Result struct {
	CorrelationID string
	Workflow      string
	Status        protocol.WorkflowStatus
	Error         string
	FailedStage   string
	Outputs       map[string]map[string]any
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Output returns the data stored under a result key.
func (r *Result) Output(key string) (map[string]any, bool) {
	out, ok := r.Outputs[key]
	return out, ok
}

// MarshalJSON renders the flat result record: stage outputs sit next to the
// status fields.
func (r Result) MarshalJSON() ([]byte, error) {
	m := map[string]any{
		"correlation_id": r.CorrelationID,
		"workflow":       r.Workflow,
		"status":         r.Status,
		"started_at":     r.StartedAt,
		"finished_at":    r.FinishedAt,
	}
	if r.Error != "" {
		m["error"] = r.Error
		m["failed_stage"] = r.FailedStage
	}
	for k, v := range r.Outputs {
		m[k] = v
	}
	return json.Marshal(m)
}

type stageOutput struct {
	key  string
	data map[string]any
}

// stageSpec describes how a workflow drives one agent.
type stageSpec struct {
	resultKey string
	build     func(req Request, prior []stageOutput) (string, *agent.Content)
}

var stageSpecs = map[string]stageSpec{
	agents.DataAnalysisID:        {resultKey: KeyAnalysisResult, build: buildAnalysisStage},
	agents.ReportGenerationID:    {resultKey: KeyReportResult, build: buildReportStage},
	agents.InterfaceManagementID: {resultKey: KeyExportResult, build: buildExportStage},
}

// copyParams copies the listed request parameters that are present.
func copyParams(c *agent.Content, req Request, keys ...string) {
	for _, k := range keys {
		if v, ok := req.param(k); ok {
			c.Set(k, v)
		}
	}
}

func priorOutput(prior []stageOutput, key string) map[string]any {
	for _, p := range prior {
		if p.key == key {
			return p.data
		}
	}
	return nil
}

func buildAnalysisStage(req Request, _ []stageOutput) (string, *agent.Content) {
	c := agent.NewContent()
	copyParams(c, req, "student_ids", "case_ids", "time_range", "analysis_types", "subject")
	return agents.MsgComprehensiveAnalysis, c
}

func buildReportStage(req Request, prior []stageOutput) (string, *agent.Content) {
	reportType := req.stringParam("report_type", "overall")
	c := agent.NewContent().
		Set("report_type", reportType).
		Set("analysis_data", priorOutput(prior, KeyAnalysisResult)).
		Set("target_audience", req.stringParam("target_audience", "teacher")).
		Set("format", req.stringParam("report_format", agents.ReportHTML))
	copyParams(c, req, "student_ids", "class_name", "subject", "sections")

	results := make(map[string]any, len(prior))
	for _, p := range prior {
		results[p.key] = p.data
	}
	c.Set("prior_results", results)
	return fmt.Sprintf("generate_%s_report", reportType), c
}

func buildExportStage(req Request, prior []stageOutput) (string, *agent.Content) {
	data := make([]any, 0, len(prior))
	for _, p := range prior {
		data = append(data, p.data)
	}
	c := agent.NewContent().
		Set("data", data).
		Set("format", req.stringParam("export_format", "json")).
		Set("data_type", "analysis_result")
	copyParams(c, req, "target_system")
	return agents.MsgExportData, c
}
