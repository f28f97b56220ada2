// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/noldarim/edumesh/internal/orchestrator/database"
	"github.com/noldarim/edumesh/internal/orchestrator/models"

	"github.com/samber/lo"
	"gorm.io/gorm"
)

var (
	// ErrStudentNotFound is returned when no student matches an id or number.
	ErrStudentNotFound = errors.New("student not found")
	// ErrDuplicateStudent is returned when a student number is already taken.
	ErrDuplicateStudent = errors.New("student number already exists")
	// ErrInvalidStudent is returned for students missing required fields.
	ErrInvalidStudent = errors.New("invalid student")
)

// Page size bounds for student listings.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// updatableStudentFields are the columns UpdateStudent accepts.
var updatableStudentFields = []string{"name", "class_name", "grade", "major", "email", "gender", "is_active", "notes"}

// StudentQuery selects a page of students.
type StudentQuery struct {
	StudentNo     string
	Name          string
	ClassName     string
	Grade         string
	Major         string
	IsActive      *bool
	CreatedAfter  time.Time
	CreatedBefore time.Time
	Page          int
	PageSize      int
}

// StudentPage is one page of a student listing.
type StudentPage struct {
	Students   []models.Student `json:"students"`
	Total      int64            `json:"total"`
	Page       int              `json:"page"`
	PageSize   int              `json:"page_size"`
	TotalPages int              `json:"total_pages"`
}

// BatchResult reports a batch create. Students whose number already exists
// are skipped rather than failing the batch.
type BatchResult struct {
	Created    int      `json:"created_count"`
	Skipped    int      `json:"skipped_count"`
	ErrorCount int      `json:"error_count"`
	Errors     []string `json:"errors"`
}

// StudentStatistics summarises the roster. Distributions count active
// students only.
type StudentStatistics struct {
	Total             int64            `json:"total_students"`
	Active            int64            `json:"active_students"`
	Inactive          int64            `json:"inactive_students"`
	ClassDistribution map[string]int64 `json:"class_distribution"`
	GradeDistribution map[string]int64 `json:"grade_distribution"`
	MajorDistribution map[string]int64 `json:"major_distribution"`
}

func validateStudent(s *models.Student) error {
	s.StudentNo = strings.TrimSpace(s.StudentNo)
	s.Name = strings.TrimSpace(s.Name)
	switch {
	case s.StudentNo == "":
		return fmt.Errorf("%w: student_no is required", ErrInvalidStudent)
	case s.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidStudent)
	}
	return nil
}

func studentErr(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrStudentNotFound
	}
	return fmt.Errorf("%w: %s: %v", ErrDataAccess, what, err)
}

// CreateStudent validates and inserts a student. New students are active.
func (ds *DataService) CreateStudent(ctx context.Context, s *models.Student) error {
	if err := validateStudent(s); err != nil {
		return err
	}
	if _, err := ds.db.GetStudentByNo(ctx, s.StudentNo); err == nil {
		return fmt.Errorf("%w: %s", ErrDuplicateStudent, s.StudentNo)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return studentErr(err, "checking student number")
	}

	s.ID = 0
	s.IsActive = true
	if err := ds.db.CreateStudent(ctx, s); err != nil {
		return studentErr(err, "creating student")
	}
	getDataLog().Info().Uint("student_id", s.ID).Str("student_no", s.StudentNo).Msg("Student created")
	return nil
}

// Student returns the student with id.
func (ds *DataService) Student(ctx context.Context, id uint) (*models.Student, error) {
	s, err := ds.db.GetStudent(ctx, id)
	if err != nil {
		return nil, studentErr(err, "loading student")
	}
	return s, nil
}

// StudentByNo returns the student with the given student number.
func (ds *DataService) StudentByNo(ctx context.Context, studentNo string) (*models.Student, error) {
	s, err := ds.db.GetStudentByNo(ctx, studentNo)
	if err != nil {
		return nil, studentErr(err, "loading student")
	}
	return s, nil
}

// UpdateStudent applies the updatable fields present in updates. Unknown
// fields, the id and the student number are rejected.
func (ds *DataService) UpdateStudent(ctx context.Context, id uint, updates map[string]any) (*models.Student, error) {
	for field, v := range updates {
		if !lo.Contains(updatableStudentFields, field) {
			return nil, fmt.Errorf("%w: field %q cannot be updated", ErrInvalidStudent, field)
		}
		if field == "name" {
			if name, _ := v.(string); strings.TrimSpace(name) == "" {
				return nil, fmt.Errorf("%w: name is required", ErrInvalidStudent)
			}
		}
	}

	s, err := ds.db.UpdateStudent(ctx, id, updates)
	if err != nil {
		return nil, studentErr(err, "updating student")
	}
	getDataLog().Info().Uint("student_id", id).Int("fields", len(updates)).Msg("Student updated")
	return s, nil
}

// DeleteStudent deactivates the student; scores and logs stay intact.
func (ds *DataService) DeleteStudent(ctx context.Context, id uint) error {
	if _, err := ds.db.UpdateStudent(ctx, id, map[string]any{"is_active": false}); err != nil {
		return studentErr(err, "deactivating student")
	}
	getDataLog().Info().Uint("student_id", id).Msg("Student deactivated")
	return nil
}

// ListStudents returns one page of students matching q.
func (ds *DataService) ListStudents(ctx context.Context, q StudentQuery) (*StudentPage, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = DefaultPageSize
	}
	q.PageSize = min(q.PageSize, MaxPageSize)

	students, total, err := ds.db.QueryStudents(ctx, database.StudentFilter{
		StudentNo:     q.StudentNo,
		Name:          q.Name,
		ClassName:     q.ClassName,
		Grade:         q.Grade,
		Major:         q.Major,
		IsActive:      q.IsActive,
		CreatedAfter:  q.CreatedAfter,
		CreatedBefore: q.CreatedBefore,
		Offset:        (q.Page - 1) * q.PageSize,
		Limit:         q.PageSize,
	})
	if err != nil {
		return nil, studentErr(err, "listing students")
	}
	if students == nil {
		students = []models.Student{}
	}

	return &StudentPage{
		Students:   students,
		Total:      total,
		Page:       q.Page,
		PageSize:   q.PageSize,
		TotalPages: int((total + int64(q.PageSize) - 1) / int64(q.PageSize)),
	}, nil
}

// ClassStudents returns the active students of a class.
func (ds *DataService) ClassStudents(ctx context.Context, className string) ([]models.Student, error) {
	active := true
	students, _, err := ds.db.QueryStudents(ctx, database.StudentFilter{ClassName: className, IsActive: &active})
	if err != nil {
		return nil, studentErr(err, "listing class students")
	}
	if students == nil {
		students = []models.Student{}
	}
	return students, nil
}

// BatchCreateStudents inserts each valid student whose number is not yet
// taken. Invalid entries are reported in the result instead of aborting.
func (ds *DataService) BatchCreateStudents(ctx context.Context, students []models.Student) (*BatchResult, error) {
	res := &BatchResult{Errors: []string{}}
	seen := map[string]bool{}

	for i := range students {
		s := students[i]
		if err := validateStudent(&s); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("entry %d: %v", i, err))
			continue
		}
		if seen[s.StudentNo] {
			res.Skipped++
			continue
		}
		seen[s.StudentNo] = true

		err := ds.CreateStudent(ctx, &s)
		switch {
		case errors.Is(err, ErrDuplicateStudent):
			res.Skipped++
		case errors.Is(err, ErrDataAccess):
			return nil, err
		case err != nil:
			res.Errors = append(res.Errors, fmt.Sprintf("student %s: %v", s.StudentNo, err))
		default:
			res.Created++
		}
	}

	res.ErrorCount = len(res.Errors)
	getDataLog().Info().
		Int("created", res.Created).
		Int("skipped", res.Skipped).
		Int("errors", res.ErrorCount).
		Msg("Student batch processed")
	return res, nil
}

// StudentStatistics counts students overall and per class, grade and major.
func (ds *DataService) StudentStatistics(ctx context.Context) (*StudentStatistics, error) {
	total, err := ds.db.CountStudents(ctx, false)
	if err != nil {
		return nil, studentErr(err, "counting students")
	}
	active, err := ds.db.CountStudents(ctx, true)
	if err != nil {
		return nil, studentErr(err, "counting active students")
	}

	stats := &StudentStatistics{Total: total, Active: active, Inactive: total - active}
	for column, dst := range map[string]*map[string]int64{
		"class_name": &stats.ClassDistribution,
		"grade":      &stats.GradeDistribution,
		"major":      &stats.MajorDistribution,
	} {
		counts, err := ds.db.CountActiveStudentsBy(ctx, column)
		if err != nil {
			return nil, studentErr(err, "grouping students")
		}
		*dst = counts
	}
	return stats, nil
}
