// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package agents

import (
	"time"

	"github.com/noldarim/edumesh/internal/agent"
	"github.com/noldarim/edumesh/internal/orchestrator/database"
	"github.com/samber/lo"
	"github.com/spf13/cast"
)

// Agent ids, in registration order.
const (
	DataAnalysisID        = "data_analysis"
	ReportGenerationID    = "report_generation"
	InterfaceManagementID = "interface_management"
)

// Data analysis message types.
const (
	MsgAnalyzeStudentBehavior  = "analyze_student_behavior"
	MsgAnalyzeLearningPattern  = "analyze_learning_pattern"
	MsgAnalyzeKnowledgeMastery = "analyze_knowledge_mastery"
	MsgAnalyzePerformanceTrend = "analyze_performance_trend"
	MsgAnalyzeChoicePattern    = "analyze_choice_pattern"
	MsgComprehensiveAnalysis   = "comprehensive_analysis"
)

// Report generation message types.
const (
	MsgGenerateIndividualReport = "generate_individual_report"
	MsgGenerateClassReport      = "generate_class_report"
	MsgGenerateSubjectReport    = "generate_subject_report"
	MsgGenerateOverallReport    = "generate_overall_report"
	MsgGenerateCustomReport     = "generate_custom_report"
)

// Interface management message types.
const (
	MsgExportData             = "export_data"
	MsgImportData             = "import_data"
	MsgConvertFormat          = "convert_format"
	MsgValidateData           = "validate_data"
	MsgRegisterExternalSystem = "register_external_system"
	MsgSyncWithExternal       = "sync_with_external"
)

// recordQuery reads the common scoping parameters from message content:
// student_ids, case_ids, subject and time_range {start, end}.
func recordQuery(c *agent.Content) database.RecordQuery {
	q := database.RecordQuery{
		StudentIDs: toUints(c.Ints("student_ids")),
		CaseIDs:    toUints(c.Ints("case_ids")),
		Subject:    c.String("subject", ""),
	}
	if tr := c.Map("time_range"); tr != nil {
		q.Since = parseTime(tr["start"])
		q.Until = parseTime(tr["end"])
	}
	return q
}

func toUints(ids []int) []uint {
	return lo.FilterMap(ids, func(id int, _ int) (uint, bool) { return uint(id), id > 0 })
}

func parseTime(v any) time.Time {
	if v == nil {
		return time.Time{}
	}
	t, err := cast.ToTimeE(v)
	if err != nil {
		return time.Time{}
	}
	return t
}
