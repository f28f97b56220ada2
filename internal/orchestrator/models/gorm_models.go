// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
)

// StringList is a JSON array column.
type StringList []string

// Scan implements the sql.Scanner interface
func (l *StringList) Scan(value any) error {
	if value == nil {
		*l = StringList{}
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return errors.New("cannot scan StringList from non-string/[]byte value")
	}
}

// Value implements the driver.Valuer interface
func (l StringList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// IntList is a JSON array column of ids.
type IntList []int

// Scan implements the sql.Scanner interface
func (l *IntList) Scan(value any) error {
	if value == nil {
		*l = IntList{}
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return errors.New("cannot scan IntList from non-string/[]byte value")
	}
}

// Value implements the driver.Valuer interface
func (l IntList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// JSONMap is a JSON object column.
type JSONMap map[string]any

// Scan implements the sql.Scanner interface
func (m *JSONMap) Scan(value any) error {
	if value == nil {
		*m = JSONMap{}
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return errors.New("cannot scan JSONMap from non-string/[]byte value")
	}
}

// Value implements the driver.Valuer interface
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Student is a learner whose activity is analysed.
type Student struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	StudentNo string    `gorm:"type:text;uniqueIndex;not null" json:"student_no"`
	Name      string    `gorm:"type:text;not null" json:"name"`
	ClassName string    `gorm:"type:text;index" json:"class_name"`
	Grade     string    `gorm:"type:text" json:"grade"`
	Major     string    `gorm:"type:text" json:"major"`
	Email     string    `gorm:"type:text" json:"email"`
	Gender    string    `gorm:"type:text" json:"gender"`
	IsActive  bool      `gorm:"default:true" json:"is_active"`
	Notes     string    `gorm:"type:text" json:"notes"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for Student
func (Student) TableName() string {
	return "students"
}

// Case is an exercise or scenario students attempt.
type Case struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	CaseNo          string     `gorm:"type:text;uniqueIndex;not null" json:"case_no"`
	Title           string     `gorm:"type:text;not null" json:"title"`
	Description     string     `gorm:"type:text" json:"description"`
	CaseType        string     `gorm:"type:text;index" json:"case_type"`
	Difficulty      string     `gorm:"type:text" json:"difficulty"` // easy, medium, hard
	Subject         string     `gorm:"type:text;index" json:"subject"`
	Chapter         string     `gorm:"type:text" json:"chapter"`
	KnowledgePoints StringList `gorm:"type:text" json:"knowledge_points"`
	TimeLimit       int        `json:"time_limit"` // minutes
	MaxAttempts     int        `gorm:"default:3" json:"max_attempts"`
	PassingScore    float64    `gorm:"default:60" json:"passing_score"`
	IsActive        bool       `gorm:"default:true" json:"is_active"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for Case
func (Case) TableName() string {
	return "cases"
}

// BeforeCreate is a GORM hook that runs before creating a record
func (c *Case) BeforeCreate(tx *gorm.DB) error {
	if c.KnowledgePoints == nil {
		c.KnowledgePoints = StringList{}
	}
	return nil
}

// Score is one graded attempt of a case by a student.
type Score struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	StudentID     uint       `gorm:"index;not null" json:"student_id"`
	CaseID        uint       `gorm:"index;not null" json:"case_id"`
	TotalScore    float64    `json:"total_score"`
	ObtainedScore float64    `json:"obtained_score"`
	Percentage    float64    `json:"percentage"`
	Grade         string     `gorm:"type:text" json:"grade"` // A-F
	AttemptNumber int        `gorm:"default:1" json:"attempt_number"`
	IsPassed      bool       `json:"is_passed"`
	StartTime     time.Time  `gorm:"index" json:"start_time"`
	SubmitTime    *time.Time `json:"submit_time,omitempty"`
	Duration      int        `json:"duration"` // seconds
	Status        string     `gorm:"type:text;default:completed" json:"status"`
	AIFeedback    string     `gorm:"type:text" json:"ai_feedback"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`

	Student *Student `gorm:"foreignKey:StudentID;constraint:OnDelete:CASCADE" json:"student,omitempty"`
	Case    *Case    `gorm:"foreignKey:CaseID;constraint:OnDelete:CASCADE" json:"case,omitempty"`
}

// TableName returns the table name for Score
func (Score) TableName() string {
	return "scores"
}

// BeforeCreate derives the percentage and grade when they were left unset.
func (s *Score) BeforeCreate(tx *gorm.DB) error {
	if s.Percentage == 0 && s.TotalScore > 0 {
		s.Percentage = s.ObtainedScore / s.TotalScore * 100
	}
	if s.Grade == "" {
		s.Grade = GradeFor(s.Percentage)
	}
	return nil
}

// GradeFor maps a percentage to a letter grade.
func GradeFor(percentage float64) string {
	switch {
	case percentage >= 90:
		return "A"
	case percentage >= 80:
		return "B"
	case percentage >= 70:
		return "C"
	case percentage >= 60:
		return "D"
	default:
		return "F"
	}
}

// Question types recorded on QuestionAnswer.
const (
	QuestionSingleChoice = "single_choice"
	QuestionMultiChoice  = "multi_choice"
	QuestionTrueFalse    = "true_false"
	QuestionFillBlank    = "fill_blank"
	QuestionShortAnswer  = "short_answer"
	QuestionEssay        = "essay"
	QuestionPractical    = "practical"
)

// ChoiceQuestionTypes are the question types with a fixed option set.
var ChoiceQuestionTypes = []string{QuestionSingleChoice, QuestionMultiChoice, QuestionTrueFalse}

// QuestionAnswer is a student's answer to one question within a scored attempt.
type QuestionAnswer struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	ScoreID         *uint      `gorm:"index" json:"score_id,omitempty"`
	StudentID       uint       `gorm:"index;not null" json:"student_id"`
	CaseID          uint       `gorm:"index;not null" json:"case_id"`
	QuestionID      string     `gorm:"type:text;not null" json:"question_id"`
	QuestionType    string     `gorm:"type:text;index" json:"question_type"`
	StudentAnswer   string     `gorm:"type:text" json:"student_answer"`
	CorrectAnswer   string     `gorm:"type:text" json:"correct_answer"`
	IsCorrect       bool       `json:"is_correct"`
	Score           float64    `json:"score"`
	MaxScore        float64    `json:"max_score"`
	TimeSpent       int        `json:"time_spent"` // seconds
	KnowledgePoints StringList `gorm:"type:text" json:"knowledge_points"`
	AnsweredAt      time.Time  `gorm:"index;not null" json:"answered_at"`
}

// TableName returns the table name for QuestionAnswer
func (QuestionAnswer) TableName() string {
	return "question_answers"
}

// BeforeCreate is a GORM hook that runs before creating a record
func (q *QuestionAnswer) BeforeCreate(tx *gorm.DB) error {
	if q.KnowledgePoints == nil {
		q.KnowledgePoints = StringList{}
	}
	if q.AnsweredAt.IsZero() {
		q.AnsweredAt = time.Now()
	}
	return nil
}

// OperationLog records a single student interaction with the platform.
type OperationLog struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	StudentID    uint      `gorm:"index;not null" json:"student_id"`
	CaseID       *uint     `gorm:"index" json:"case_id,omitempty"`
	LogType      string    `gorm:"type:text;index" json:"log_type"` // login, case_start, answer, submit, ...
	Action       string    `gorm:"type:text" json:"action"`
	Description  string    `gorm:"type:text" json:"description"`
	Success      bool      `gorm:"default:true" json:"success"`
	ErrorMessage string    `gorm:"type:text" json:"error_message"`
	Data         JSONMap   `gorm:"type:text" json:"operation_data"`
	Duration     int       `json:"duration"` // milliseconds
	Timestamp    time.Time `gorm:"index;not null" json:"timestamp"`
	SessionID    string    `gorm:"type:text;index" json:"session_id"`
}

// TableName returns the table name for OperationLog
func (OperationLog) TableName() string {
	return "operation_logs"
}

// BeforeCreate is a GORM hook that runs before creating a record
func (l *OperationLog) BeforeCreate(tx *gorm.DB) error {
	if l.Timestamp.IsZero() {
		l.Timestamp = time.Now()
	}
	return nil
}

// AnalysisRecord persists a completed analysis for later retrieval.
type AnalysisRecord struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	CorrelationID string    `gorm:"type:text;index" json:"correlation_id"`
	AnalysisType  string    `gorm:"type:text;index;not null" json:"analysis_type"`
	StudentIDs    IntList   `gorm:"type:text" json:"student_ids"`
	CaseIDs       IntList   `gorm:"type:text" json:"case_ids"`
	Result        JSONMap   `gorm:"type:text" json:"result"`
	Status        string    `gorm:"type:text;default:completed" json:"status"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// TableName returns the table name for AnalysisRecord
func (AnalysisRecord) TableName() string {
	return "analysis_records"
}

// ExportRecord tracks a file written by the export service.
type ExportRecord struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	CorrelationID string    `gorm:"type:text;index" json:"correlation_id"`
	Format        string    `gorm:"type:text;not null" json:"format"`
	DataType      string    `gorm:"type:text" json:"data_type"`
	TargetSystem  string    `gorm:"type:text" json:"target_system"`
	Path          string    `gorm:"type:text" json:"path"`
	RecordCount   int       `json:"record_count"`
	SizeBytes     int64     `json:"size_bytes"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for ExportRecord
func (ExportRecord) TableName() string {
	return "export_records"
}

// All returns every model for migration.
func All() []any {
	return []any{
		&Student{},
		&Case{},
		&Score{},
		&OperationLog{},
		&QuestionAnswer{},
		&AnalysisRecord{},
		&ExportRecord{},
	}
}
