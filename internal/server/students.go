// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/noldarim/edumesh/internal/orchestrator"
	"github.com/noldarim/edumesh/internal/orchestrator/agents"
	"github.com/noldarim/edumesh/internal/orchestrator/models"
	"github.com/noldarim/edumesh/internal/orchestrator/services"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"
	"github.com/spf13/cast"
)

// StudentStore is the roster surface behind /api/v1/students.
type StudentStore interface {
	CreateStudent(ctx context.Context, s *models.Student) error
	Student(ctx context.Context, id uint) (*models.Student, error)
	StudentByNo(ctx context.Context, studentNo string) (*models.Student, error)
	UpdateStudent(ctx context.Context, id uint, updates map[string]any) (*models.Student, error)
	DeleteStudent(ctx context.Context, id uint) error
	ListStudents(ctx context.Context, q services.StudentQuery) (*services.StudentPage, error)
	ClassStudents(ctx context.Context, className string) ([]models.Student, error)
	BatchCreateStudents(ctx context.Context, students []models.Student) (*services.BatchResult, error)
	StudentStatistics(ctx context.Context) (*services.StudentStatistics, error)
}

var _ StudentStore = (*services.DataService)(nil)

// studentStatus maps roster errors to HTTP status codes.
func studentStatus(err error) int {
	switch {
	case errors.Is(err, services.ErrStudentNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrDuplicateStudent):
		return http.StatusConflict
	case errors.Is(err, services.ErrInvalidStudent):
		return http.StatusBadRequest
	default:
		return statusFor(err)
	}
}

func writeStudentError(w http.ResponseWriter, err error) {
	writeJSON(w, studentStatus(err), map[string]string{"error": err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func studentID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		badRequest(w, "student id must be a positive integer")
		return 0, false
	}
	return uint(id), true
}

// positiveQuery reads an optional positive integer query parameter.
func positiveQuery(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%s must be a positive integer", key)
	}
	return n, nil
}

// idsQuery reads student_ids given as a comma list, repeated keys, or both.
func idsQuery(r *http.Request, key string) ([]int, error) {
	var ids []int
	for _, v := range r.URL.Query()[key] {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part == "" {
				continue
			}
			id, err := cast.ToIntE(part)
			if err != nil || id < 1 {
				return nil, fmt.Errorf("%s must be positive integers", key)
			}
			ids = append(ids, id)
		}
	}
	return lo.Uniq(ids), nil
}

// --- roster handlers ---

// CreateStudent handles POST /api/v1/students
func (h *Handlers) CreateStudent(w http.ResponseWriter, r *http.Request) {
	var s models.Student
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		badRequest(w, "Invalid JSON body")
		return
	}
	if err := h.students.CreateStudent(r.Context(), &s); err != nil {
		writeStudentError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

// GetStudent handles GET /api/v1/students/{id}
func (h *Handlers) GetStudent(w http.ResponseWriter, r *http.Request) {
	id, ok := studentID(w, r)
	if !ok {
		return
	}
	s, err := h.students.Student(r.Context(), id)
	if err != nil {
		writeStudentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// GetStudentByNo handles GET /api/v1/students/student-no/{studentNo}
func (h *Handlers) GetStudentByNo(w http.ResponseWriter, r *http.Request) {
	s, err := h.students.StudentByNo(r.Context(), chi.URLParam(r, "studentNo"))
	if err != nil {
		writeStudentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// UpdateStudent handles PUT /api/v1/students/{id}. Only the fields present
// in the body change.
func (h *Handlers) UpdateStudent(w http.ResponseWriter, r *http.Request) {
	id, ok := studentID(w, r)
	if !ok {
		return
	}
	var updates map[string]any
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		badRequest(w, "Invalid JSON body")
		return
	}
	s, err := h.students.UpdateStudent(r.Context(), id, updates)
	if err != nil {
		writeStudentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// DeleteStudent handles DELETE /api/v1/students/{id}. Students are
// deactivated, not removed.
func (h *Handlers) DeleteStudent(w http.ResponseWriter, r *http.Request) {
	id, ok := studentID(w, r)
	if !ok {
		return
	}
	if err := h.students.DeleteStudent(r.Context(), id); err != nil {
		writeStudentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "student deactivated", "id": id})
}

// ListStudents handles GET /api/v1/students. Filters: student_no, name,
// class_name, grade, major, is_active; paging: page, page_size (max 100).
func (h *Handlers) ListStudents(w http.ResponseWriter, r *http.Request) {
	qs := r.URL.Query()
	q := services.StudentQuery{
		StudentNo: qs.Get("student_no"),
		Name:      qs.Get("name"),
		ClassName: qs.Get("class_name"),
		Grade:     qs.Get("grade"),
		Major:     qs.Get("major"),
	}
	if raw := qs.Get("is_active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(w, "is_active must be true or false")
			return
		}
		q.IsActive = &active
	}

	var err error
	if q.Page, err = positiveQuery(r, "page", 1); err != nil {
		badRequest(w, err.Error())
		return
	}
	if q.PageSize, err = positiveQuery(r, "page_size", services.DefaultPageSize); err != nil {
		badRequest(w, err.Error())
		return
	}
	if q.PageSize > services.MaxPageSize {
		badRequest(w, fmt.Sprintf("page_size must not exceed %d", services.MaxPageSize))
		return
	}

	page, err := h.students.ListStudents(r.Context(), q)
	if err != nil {
		writeStudentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// ClassStudents handles GET /api/v1/students/class/{className}/students
func (h *Handlers) ClassStudents(w http.ResponseWriter, r *http.Request) {
	students, err := h.students.ClassStudents(r.Context(), chi.URLParam(r, "className"))
	if err != nil {
		writeStudentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, students)
}

// BatchCreateStudents handles POST /api/v1/students/batch
func (h *Handlers) BatchCreateStudents(w http.ResponseWriter, r *http.Request) {
	var students []models.Student
	if err := json.NewDecoder(r.Body).Decode(&students); err != nil {
		badRequest(w, "Invalid JSON body, expected an array of students")
		return
	}
	res, err := h.students.BatchCreateStudents(r.Context(), students)
	if err != nil {
		writeStudentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// StudentStatistics handles GET /api/v1/students/statistics/overview
func (h *Handlers) StudentStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.students.StudentStatistics(r.Context())
	if err != nil {
		writeStudentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// --- analysis shortcuts ---
//
// Each shortcut runs the report_only workflow with a narrowed set of
// analysis sections and a JSON report, and answers with the workflow result.

func since(days int) map[string]any {
	return map[string]any{"start": time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour).Format(time.RFC3339)}
}

func (h *Handlers) runShortcut(w http.ResponseWriter, r *http.Request, params map[string]any) {
	params["report_format"] = agents.ReportJSON
	result, err := h.manager.Execute(r.Context(), orchestrator.NewRequest(orchestrator.WorkflowReportOnly, params))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// AnalyzeStudentBehavior handles GET /api/v1/analysis/student/{id}/behavior?days=30
func (h *Handlers) AnalyzeStudentBehavior(w http.ResponseWriter, r *http.Request) {
	id, ok := studentID(w, r)
	if !ok {
		return
	}
	days, err := positiveQuery(r, "days", 30)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if h.students != nil {
		if _, err := h.students.Student(r.Context(), id); err != nil {
			writeStudentError(w, err)
			return
		}
	}

	h.runShortcut(w, r, map[string]any{
		"student_ids":    []int{int(id)},
		"analysis_types": []string{agents.AnalysisBehavior, agents.AnalysisLearningPattern},
		"time_range":     since(days),
		"report_type":    "individual",
	})
}

// AnalyzeClassPerformance handles GET /api/v1/analysis/class/{className}/performance?subject=
func (h *Handlers) AnalyzeClassPerformance(w http.ResponseWriter, r *http.Request) {
	className := chi.URLParam(r, "className")
	students, err := h.students.ClassStudents(r.Context(), className)
	if err != nil {
		writeStudentError(w, err)
		return
	}
	if len(students) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("class %q has no active students", className)})
		return
	}

	params := map[string]any{
		"student_ids":    lo.Map(students, func(s models.Student, _ int) int { return int(s.ID) }),
		"class_name":     className,
		"analysis_types": []string{agents.AnalysisPerformanceTrend, agents.AnalysisKnowledgeMastery},
		"report_type":    "class",
	}
	if subject := r.URL.Query().Get("subject"); subject != "" {
		params["subject"] = subject
	}
	h.runShortcut(w, r, params)
}

// AnalyzeKnowledgeMastery handles GET /api/v1/analysis/knowledge-points/{subject}/mastery?student_ids=1,2
func (h *Handlers) AnalyzeKnowledgeMastery(w http.ResponseWriter, r *http.Request) {
	ids, err := idsQuery(r, "student_ids")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	params := map[string]any{
		"subject":        chi.URLParam(r, "subject"),
		"analysis_types": []string{agents.AnalysisKnowledgeMastery},
		"report_type":    "subject",
	}
	if len(ids) > 0 {
		params["student_ids"] = ids
	}
	h.runShortcut(w, r, params)
}

// AnalyzeChoicePatterns handles GET /api/v1/analysis/choice-patterns?student_ids=&days=90
func (h *Handlers) AnalyzeChoicePatterns(w http.ResponseWriter, r *http.Request) {
	h.windowedShortcut(w, r, 90, agents.AnalysisChoicePattern)
}

// AnalyzeLearningTrends handles GET /api/v1/analysis/trends/learning?student_ids=&days=180
func (h *Handlers) AnalyzeLearningTrends(w http.ResponseWriter, r *http.Request) {
	h.windowedShortcut(w, r, 180, agents.AnalysisPerformanceTrend, agents.AnalysisLearningPattern)
}

func (h *Handlers) windowedShortcut(w http.ResponseWriter, r *http.Request, defaultDays int, sections ...string) {
	ids, err := idsQuery(r, "student_ids")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	days, err := positiveQuery(r, "days", defaultDays)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	params := map[string]any{
		"analysis_types": sections,
		"time_range":     since(days),
		"report_type":    "overall",
	}
	if len(ids) > 0 {
		params["student_ids"] = ids
	}
	h.runShortcut(w, r, params)
}
