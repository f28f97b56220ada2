// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/noldarim/edumesh/internal/config"
	"github.com/noldarim/edumesh/internal/orchestrator"
	"github.com/noldarim/edumesh/internal/orchestrator/agents"
	"github.com/noldarim/edumesh/internal/orchestrator/models"
	"github.com/noldarim/edumesh/internal/orchestrator/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRosterServer(t *testing.T, manager Manager) (http.Handler, *services.DataService) {
	t.Helper()
	store := services.WithDataService(t).Service
	s := New(&config.ServerConfig{Host: "127.0.0.1"}, nil, manager, store)
	return s.Handler(), store
}

func doList(t *testing.T, h http.Handler, path string) []any {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var list []any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	return list
}

func TestStudentRoutes(t *testing.T) {
	h, _ := newRosterServer(t, readyManager(t))

	rec, body := do(t, h, http.MethodPost, "/api/v1/students", `{"student_no":"2024001","name":"Ada Lovelace","class_name":"CS-1","grade":"2024"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, true, body["is_active"])
	ada := fmt.Sprint(body["id"])

	rec, body = do(t, h, http.MethodGet, "/api/v1/students/"+ada, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Ada Lovelace", body["name"])

	rec, body = do(t, h, http.MethodGet, "/api/v1/students/student-no/2024001", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ada, fmt.Sprint(body["id"]))

	rec, body = do(t, h, http.MethodPut, "/api/v1/students/"+ada, `{"class_name":"CS-2"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "CS-2", body["class_name"])
	assert.Equal(t, "2024", body["grade"])

	rec, body = do(t, h, http.MethodPost, "/api/v1/students/batch",
		`[{"student_no":"2024001","name":"Again"},{"student_no":"2024002","name":"Alan Turing","class_name":"CS-1","grade":"2024"}]`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["created_count"])
	assert.EqualValues(t, 1, body["skipped_count"])
	assert.EqualValues(t, 0, body["error_count"])

	rec, body = do(t, h, http.MethodGet, "/api/v1/students?class_name=CS-2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["total"])
	assert.EqualValues(t, 1, body["total_pages"])
	assert.EqualValues(t, services.DefaultPageSize, body["page_size"])

	rec, body = do(t, h, http.MethodGet, "/api/v1/students?page=2&page_size=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["total"])
	page := body["students"].([]any)
	require.Len(t, page, 1)
	assert.Equal(t, "2024002", page[0].(map[string]any)["student_no"])

	class := doList(t, h, "/api/v1/students/class/CS-1/students")
	require.Len(t, class, 1)
	assert.Equal(t, "Alan Turing", class[0].(map[string]any)["name"])

	rec, body = do(t, h, http.MethodDelete, "/api/v1/students/"+ada, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "student deactivated", body["message"])

	rec, body = do(t, h, http.MethodGet, "/api/v1/students/statistics/overview", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["total_students"])
	assert.EqualValues(t, 1, body["active_students"])
	assert.EqualValues(t, 1, body["inactive_students"])
	assert.Equal(t, map[string]any{"CS-1": float64(1)}, body["class_distribution"])

	rec, body = do(t, h, http.MethodGet, "/api/v1/students?is_active=false", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["total"])
}

func TestStudentRoutes_Errors(t *testing.T) {
	h, store := newRosterServer(t, readyManager(t))
	s := &models.Student{StudentNo: "2024001", Name: "Ada Lovelace"}
	require.NoError(t, store.CreateStudent(context.Background(), s))
	id := fmt.Sprint(s.ID)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"duplicate number", http.MethodPost, "/api/v1/students", `{"student_no":"2024001","name":"Other"}`, http.StatusConflict},
		{"missing number", http.MethodPost, "/api/v1/students", `{"name":"Nobody"}`, http.StatusBadRequest},
		{"invalid json", http.MethodPost, "/api/v1/students", `{`, http.StatusBadRequest},
		{"batch not an array", http.MethodPost, "/api/v1/students/batch", `{"student_no":"x"}`, http.StatusBadRequest},
		{"unknown id", http.MethodGet, "/api/v1/students/9999", "", http.StatusNotFound},
		{"bad id", http.MethodGet, "/api/v1/students/abc", "", http.StatusBadRequest},
		{"unknown number", http.MethodGet, "/api/v1/students/student-no/nope", "", http.StatusNotFound},
		{"immutable field", http.MethodPut, "/api/v1/students/" + id, `{"student_no":"X"}`, http.StatusBadRequest},
		{"update unknown", http.MethodPut, "/api/v1/students/9999", `{"grade":"2025"}`, http.StatusNotFound},
		{"delete unknown", http.MethodDelete, "/api/v1/students/9999", "", http.StatusNotFound},
		{"page size too large", http.MethodGet, "/api/v1/students?page_size=1000", "", http.StatusBadRequest},
		{"page zero", http.MethodGet, "/api/v1/students?page=0", "", http.StatusBadRequest},
		{"bad is_active", http.MethodGet, "/api/v1/students?is_active=maybe", "", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := do(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.NotEmpty(t, body["error"], "%v", body)
		})
	}
}

func TestStudentRoutes_NotMountedWithoutStore(t *testing.T) {
	h := newTestServer(t, readyManager(t))

	for _, path := range []string{"/api/v1/students", "/api/v1/analysis/class/CS-1/performance"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

// stageContent returns what the stub agent received for a stage.
func stageContent(t *testing.T, body map[string]any, key string) (string, map[string]any) {
	t.Helper()
	out, ok := body[key].(map[string]any)
	require.True(t, ok, "missing %s in %v", key, body)
	return out["message_type"].(string), out["received"].(map[string]any)
}

func TestAnalysisShortcuts(t *testing.T) {
	stubs := orchestrator.StubAgents()
	stubs[agents.ReportGenerationID].
		On(agents.MsgGenerateIndividualReport, orchestrator.EchoHandler(agents.ReportGenerationID)).
		On(agents.MsgGenerateSubjectReport, orchestrator.EchoHandler(agents.ReportGenerationID))
	o := orchestrator.WithOrchestrator(t, orchestrator.TestConfig(), orchestrator.StubBuilder(stubs), nil)
	h, store := newRosterServer(t, o)

	ctx := context.Background()
	roster := []models.Student{
		{StudentNo: "2024001", Name: "Ada Lovelace", ClassName: "CS-1"},
		{StudentNo: "2024002", Name: "Alan Turing", ClassName: "CS-1"},
		{StudentNo: "2024003", Name: "Grace Hopper", ClassName: "CS-2"},
	}
	for i := range roster {
		require.NoError(t, store.CreateStudent(ctx, &roster[i]))
	}

	t.Run("student behavior", func(t *testing.T) {
		rec, body := do(t, h, http.MethodGet, fmt.Sprintf("/api/v1/analysis/student/%d/behavior?days=7", roster[0].ID), "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "completed", body["status"])
		assert.Equal(t, orchestrator.WorkflowReportOnly, body["workflow"])

		msgType, received := stageContent(t, body, orchestrator.KeyAnalysisResult)
		assert.Equal(t, agents.MsgComprehensiveAnalysis, msgType)
		assert.Equal(t, []any{float64(roster[0].ID)}, received["student_ids"])
		assert.Equal(t, []any{agents.AnalysisBehavior, agents.AnalysisLearningPattern}, received["analysis_types"])
		assert.NotEmpty(t, received["time_range"].(map[string]any)["start"])

		msgType, received = stageContent(t, body, orchestrator.KeyReportResult)
		assert.Equal(t, agents.MsgGenerateIndividualReport, msgType)
		assert.Equal(t, agents.ReportJSON, received["format"])
	})

	t.Run("class performance", func(t *testing.T) {
		rec, body := do(t, h, http.MethodGet, "/api/v1/analysis/class/CS-1/performance?subject=programming", "")
		require.Equal(t, http.StatusOK, rec.Code)

		_, received := stageContent(t, body, orchestrator.KeyAnalysisResult)
		assert.Equal(t, []any{float64(roster[0].ID), float64(roster[1].ID)}, received["student_ids"])
		assert.Equal(t, "programming", received["subject"])

		msgType, received := stageContent(t, body, orchestrator.KeyReportResult)
		assert.Equal(t, agents.MsgGenerateClassReport, msgType)
		assert.Equal(t, "CS-1", received["class_name"])
	})

	t.Run("knowledge mastery", func(t *testing.T) {
		rec, body := do(t, h, http.MethodGet,
			fmt.Sprintf("/api/v1/analysis/knowledge-points/databases/mastery?student_ids=%d,%d&student_ids=%d", roster[2].ID, roster[0].ID, roster[2].ID), "")
		require.Equal(t, http.StatusOK, rec.Code)

		_, received := stageContent(t, body, orchestrator.KeyAnalysisResult)
		assert.Equal(t, "databases", received["subject"])
		assert.Equal(t, []any{float64(roster[2].ID), float64(roster[0].ID)}, received["student_ids"])
		assert.Equal(t, []any{agents.AnalysisKnowledgeMastery}, received["analysis_types"])

		msgType, _ := stageContent(t, body, orchestrator.KeyReportResult)
		assert.Equal(t, agents.MsgGenerateSubjectReport, msgType)
	})

	t.Run("choice patterns", func(t *testing.T) {
		rec, body := do(t, h, http.MethodGet, "/api/v1/analysis/choice-patterns", "")
		require.Equal(t, http.StatusOK, rec.Code)

		_, received := stageContent(t, body, orchestrator.KeyAnalysisResult)
		assert.Equal(t, []any{agents.AnalysisChoicePattern}, received["analysis_types"])
		assert.NotContains(t, received, "student_ids")

		msgType, _ := stageContent(t, body, orchestrator.KeyReportResult)
		assert.Equal(t, agents.MsgGenerateOverallReport, msgType)
	})

	t.Run("learning trends", func(t *testing.T) {
		rec, body := do(t, h, http.MethodGet, "/api/v1/analysis/trends/learning?days=30", "")
		require.Equal(t, http.StatusOK, rec.Code)

		_, received := stageContent(t, body, orchestrator.KeyAnalysisResult)
		assert.Equal(t, []any{agents.AnalysisPerformanceTrend, agents.AnalysisLearningPattern}, received["analysis_types"])
	})

	errorCases := []struct {
		name   string
		path   string
		status int
	}{
		{"unknown student", "/api/v1/analysis/student/9999/behavior", http.StatusNotFound},
		{"bad days", fmt.Sprintf("/api/v1/analysis/student/%d/behavior?days=0", roster[0].ID), http.StatusBadRequest},
		{"empty class", "/api/v1/analysis/class/CS-9/performance", http.StatusNotFound},
		{"bad student ids", "/api/v1/analysis/knowledge-points/databases/mastery?student_ids=abc", http.StatusBadRequest},
		{"negative student id", "/api/v1/analysis/choice-patterns?student_ids=-1", http.StatusBadRequest},
	}
	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := do(t, h, http.MethodGet, tt.path, "")
			assert.Equal(t, tt.status, rec.Code)
			assert.NotEmpty(t, body["error"])
		})
	}
}
