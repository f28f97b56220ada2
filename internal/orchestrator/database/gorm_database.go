// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/noldarim/edumesh/internal/config"
	"github.com/noldarim/edumesh/internal/orchestrator/models"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormDB wraps the GORM database connection
type GormDB struct {
	db *gorm.DB
}

// RecordQuery scopes score and operation log lookups. Zero values mean
// "no restriction".
type RecordQuery struct {
	StudentIDs []uint
	CaseIDs    []uint
	Since      time.Time
	Until      time.Time
	Subject    string
	Limit      int
}

// NewGormDB creates a new GORM database connection
func NewGormDB(cfg *config.DatabaseConfig) (*GormDB, error) {
	var dialector gorm.Dialector

	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.GetDSN())
	case "postgres":
		dialector = postgres.Open(cfg.GetDSN())
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Driver == "sqlite" {
		// SQLite allows a single writer; one connection also keeps shared
		// in-memory databases alive for the life of the handle.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access sql handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	return &GormDB{db: db}, nil
}

// AutoMigrate runs database migrations
func (db *GormDB) AutoMigrate() error {
	return db.db.AutoMigrate(models.All()...)
}

// ValidateSchema checks if GORM models match the database schema
func (db *GormDB) ValidateSchema() error {
	migrator := db.db.Migrator()

	tables := []struct {
		model   any
		name    string
		columns []string
	}{
		{&models.Student{}, "students", []string{"id", "student_no", "name", "class_name", "is_active"}},
		{&models.Case{}, "cases", []string{"id", "case_no", "title", "subject", "knowledge_points", "passing_score"}},
		{&models.Score{}, "scores", []string{"id", "student_id", "case_id", "percentage", "grade", "is_passed", "start_time"}},
		{&models.OperationLog{}, "operation_logs", []string{"id", "student_id", "log_type", "success", "timestamp", "session_id"}},
		{&models.QuestionAnswer{}, "question_answers", []string{"id", "student_id", "case_id", "question_type", "student_answer", "is_correct", "answered_at"}},
		{&models.AnalysisRecord{}, "analysis_records", []string{"id", "correlation_id", "analysis_type", "result"}},
		{&models.ExportRecord{}, "export_records", []string{"id", "correlation_id", "format", "path"}},
	}

	var missingTables, missingColumns []string
	for _, tbl := range tables {
		if !migrator.HasTable(tbl.model) {
			missingTables = append(missingTables, tbl.name)
			continue
		}
		for _, col := range tbl.columns {
			if !migrator.HasColumn(tbl.model, col) {
				missingColumns = append(missingColumns, fmt.Sprintf("%s.%s", tbl.name, col))
			}
		}
	}

	if len(missingTables) > 0 {
		return fmt.Errorf("missing tables: %v\n\n💡 Run 'edumesh-migrate' to create the required tables", missingTables)
	}
	if len(missingColumns) > 0 {
		return fmt.Errorf("missing columns: %v\n\n💡 Run 'edumesh-migrate' to add the required columns", missingColumns)
	}
	return nil
}

// Close closes the database connection
func (db *GormDB) Close() error {
	sqlDB, err := db.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateStudents inserts students in batches.
func (db *GormDB) CreateStudents(ctx context.Context, students []models.Student) error {
	if len(students) == 0 {
		return nil
	}
	return db.db.WithContext(ctx).CreateInBatches(students, 100).Error
}

// GetStudentsByIDs returns the students with the given ids, ordered by id.
// An empty id list returns every active student.
func (db *GormDB) GetStudentsByIDs(ctx context.Context, ids []uint) ([]models.Student, error) {
	var students []models.Student
	q := db.db.WithContext(ctx).Order("id ASC")
	if len(ids) > 0 {
		q = q.Where("id IN ?", ids)
	} else {
		q = q.Where("is_active = ?", true)
	}
	if err := q.Find(&students).Error; err != nil {
		return nil, err
	}
	return students, nil
}

// ListStudents returns students of a class, or all students when className is empty.
func (db *GormDB) ListStudents(ctx context.Context, className string) ([]models.Student, error) {
	var students []models.Student
	q := db.db.WithContext(ctx).Order("student_no ASC")
	if className != "" {
		q = q.Where("class_name = ?", className)
	}
	if err := q.Find(&students).Error; err != nil {
		return nil, err
	}
	return students, nil
}

// CreateCases inserts cases.
func (db *GormDB) CreateCases(ctx context.Context, cases []models.Case) error {
	if len(cases) == 0 {
		return nil
	}
	return db.db.WithContext(ctx).Create(&cases).Error
}

// GetCasesByIDs returns the cases with the given ids; all cases when ids is empty.
func (db *GormDB) GetCasesByIDs(ctx context.Context, ids []uint) ([]models.Case, error) {
	var cases []models.Case
	q := db.db.WithContext(ctx).Order("id ASC")
	if len(ids) > 0 {
		q = q.Where("id IN ?", ids)
	}
	if err := q.Find(&cases).Error; err != nil {
		return nil, err
	}
	return cases, nil
}

// CreateScores inserts scores in batches.
func (db *GormDB) CreateScores(ctx context.Context, scores []models.Score) error {
	if len(scores) == 0 {
		return nil
	}
	return db.db.WithContext(ctx).CreateInBatches(scores, 200).Error
}

// GetScores returns scores matching q, oldest first, with their case loaded.
func (db *GormDB) GetScores(ctx context.Context, q RecordQuery) ([]models.Score, error) {
	var scores []models.Score
	tx := db.db.WithContext(ctx).Model(&models.Score{}).Preload("Case")

	if len(q.StudentIDs) > 0 {
		tx = tx.Where("scores.student_id IN ?", q.StudentIDs)
	}
	if len(q.CaseIDs) > 0 {
		tx = tx.Where("scores.case_id IN ?", q.CaseIDs)
	}
	if !q.Since.IsZero() {
		tx = tx.Where("scores.start_time >= ?", q.Since)
	}
	if !q.Until.IsZero() {
		tx = tx.Where("scores.start_time <= ?", q.Until)
	}
	if q.Subject != "" {
		tx = tx.Joins("JOIN cases ON cases.id = scores.case_id").Where("cases.subject = ?", q.Subject)
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	if err := tx.Order("scores.start_time ASC").Order("scores.id ASC").Find(&scores).Error; err != nil {
		return nil, err
	}
	return scores, nil
}

// CreateOperationLogs inserts operation logs in batches.
func (db *GormDB) CreateOperationLogs(ctx context.Context, logs []models.OperationLog) error {
	if len(logs) == 0 {
		return nil
	}
	return db.db.WithContext(ctx).CreateInBatches(logs, 500).Error
}

// GetOperationLogs returns operation logs matching q, oldest first.
func (db *GormDB) GetOperationLogs(ctx context.Context, q RecordQuery) ([]models.OperationLog, error) {
	var logs []models.OperationLog
	tx := db.db.WithContext(ctx).Model(&models.OperationLog{})

	if len(q.StudentIDs) > 0 {
		tx = tx.Where("student_id IN ?", q.StudentIDs)
	}
	if len(q.CaseIDs) > 0 {
		tx = tx.Where("case_id IN ?", q.CaseIDs)
	}
	if !q.Since.IsZero() {
		tx = tx.Where("timestamp >= ?", q.Since)
	}
	if !q.Until.IsZero() {
		tx = tx.Where("timestamp <= ?", q.Until)
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	if err := tx.Order("timestamp ASC").Order("id ASC").Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

// CreateQuestionAnswers inserts question answers in batches.
func (db *GormDB) CreateQuestionAnswers(ctx context.Context, answers []models.QuestionAnswer) error {
	if len(answers) == 0 {
		return nil
	}
	return db.db.WithContext(ctx).CreateInBatches(answers, 500).Error
}

// GetQuestionAnswers returns answers matching q, oldest first. A non-empty
// types list restricts the question types returned.
func (db *GormDB) GetQuestionAnswers(ctx context.Context, q RecordQuery, types []string) ([]models.QuestionAnswer, error) {
	var answers []models.QuestionAnswer
	tx := db.db.WithContext(ctx).Model(&models.QuestionAnswer{})

	if len(q.StudentIDs) > 0 {
		tx = tx.Where("question_answers.student_id IN ?", q.StudentIDs)
	}
	if len(q.CaseIDs) > 0 {
		tx = tx.Where("question_answers.case_id IN ?", q.CaseIDs)
	}
	if len(types) > 0 {
		tx = tx.Where("question_answers.question_type IN ?", types)
	}
	if !q.Since.IsZero() {
		tx = tx.Where("question_answers.answered_at >= ?", q.Since)
	}
	if !q.Until.IsZero() {
		tx = tx.Where("question_answers.answered_at <= ?", q.Until)
	}
	if q.Subject != "" {
		tx = tx.Joins("JOIN cases ON cases.id = question_answers.case_id").Where("cases.subject = ?", q.Subject)
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	if err := tx.Order("question_answers.answered_at ASC").Order("question_answers.id ASC").Find(&answers).Error; err != nil {
		return nil, err
	}
	return answers, nil
}

// SaveAnalysisRecord stores a completed analysis.
func (db *GormDB) SaveAnalysisRecord(ctx context.Context, record *models.AnalysisRecord) error {
	return db.db.WithContext(ctx).Create(record).Error
}

// GetAnalysisRecords returns analyses produced under a correlation id.
func (db *GormDB) GetAnalysisRecords(ctx context.Context, correlationID string) ([]models.AnalysisRecord, error) {
	var records []models.AnalysisRecord
	err := db.db.WithContext(ctx).
		Where("correlation_id = ?", correlationID).
		Order("created_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// SaveExportRecord stores metadata about a written export.
func (db *GormDB) SaveExportRecord(ctx context.Context, record *models.ExportRecord) error {
	return db.db.WithContext(ctx).Create(record).Error
}

// GetExportRecords returns the most recent exports, newest first.
func (db *GormDB) GetExportRecords(ctx context.Context, limit int) ([]models.ExportRecord, error) {
	var records []models.ExportRecord
	q := db.db.WithContext(ctx).Order("created_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
