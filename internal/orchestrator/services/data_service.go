// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/noldarim/edumesh/internal/config"
	"github.com/noldarim/edumesh/internal/logger"
	"github.com/noldarim/edumesh/internal/orchestrator/database"
	"github.com/noldarim/edumesh/internal/orchestrator/models"

	"github.com/rs/zerolog"
)

var (
	dataLog     *zerolog.Logger
	dataLogOnce sync.Once
)

func getDataLog() *zerolog.Logger {
	dataLogOnce.Do(func() {
		l := logger.GetDatabaseLogger().With().Str("component", "service").Logger()
		dataLog = &l
	})
	return dataLog
}

// DataService is the DataAccess implementation backed by GORM.
type DataService struct {
	db *database.GormDB
}

// NewDataService opens the configured database and validates its schema.
func NewDataService(cfg *config.AppConfig) (*DataService, error) {
	getDataLog().Debug().Str("driver", cfg.Database.Driver).Msg("Initializing data service")

	db, err := database.NewGormDB(&cfg.Database)
	if err != nil {
		getDataLog().Error().Err(err).Msg("Failed to initialize database")
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := db.ValidateSchema(); err != nil {
		getDataLog().Error().Err(err).Msg("Database schema validation failed")
		db.Close()
		return nil, fmt.Errorf("database schema validation failed: %w", err)
	}

	getDataLog().Info().Msg("Data service initialized successfully")
	return &DataService{db: db}, nil
}

// NewDataServiceWithDB wraps an already opened database.
func NewDataServiceWithDB(db *database.GormDB) *DataService {
	return &DataService{db: db}
}

// DB exposes the underlying database for seeding and maintenance commands.
func (ds *DataService) DB() *database.GormDB {
	return ds.db
}

// Close closes the underlying database.
func (ds *DataService) Close() error {
	return ds.db.Close()
}

// Students returns the students with the given ids, or all active students.
func (ds *DataService) Students(ctx context.Context, ids []uint) ([]models.Student, error) {
	students, err := ds.db.GetStudentsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: loading students: %v", ErrDataAccess, err)
	}
	return students, nil
}

// Cases returns the cases with the given ids, or all cases.
func (ds *DataService) Cases(ctx context.Context, ids []uint) ([]models.Case, error) {
	cases, err := ds.db.GetCasesByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: loading cases: %v", ErrDataAccess, err)
	}
	return cases, nil
}

// Scores returns scores matching q.
func (ds *DataService) Scores(ctx context.Context, q database.RecordQuery) ([]models.Score, error) {
	scores, err := ds.db.GetScores(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%w: loading scores: %v", ErrDataAccess, err)
	}
	return scores, nil
}

// OperationLogs returns operation logs matching q.
func (ds *DataService) OperationLogs(ctx context.Context, q database.RecordQuery) ([]models.OperationLog, error) {
	logs, err := ds.db.GetOperationLogs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%w: loading operation logs: %v", ErrDataAccess, err)
	}
	return logs, nil
}

// ChoiceAnswers returns answers to choice questions matching q.
func (ds *DataService) ChoiceAnswers(ctx context.Context, q database.RecordQuery) ([]models.QuestionAnswer, error) {
	answers, err := ds.db.GetQuestionAnswers(ctx, q, models.ChoiceQuestionTypes)
	if err != nil {
		return nil, fmt.Errorf("%w: loading question answers: %v", ErrDataAccess, err)
	}
	return answers, nil
}

// SaveAnalysis stores an analysis record.
func (ds *DataService) SaveAnalysis(ctx context.Context, record *models.AnalysisRecord) error {
	if err := ds.db.SaveAnalysisRecord(ctx, record); err != nil {
		return fmt.Errorf("%w: saving analysis: %v", ErrDataAccess, err)
	}
	getDataLog().Debug().
		Str("correlation_id", record.CorrelationID).
		Str("analysis_type", record.AnalysisType).
		Uint("record_id", record.ID).
		Msg("Analysis record saved")
	return nil
}

// ImportStudents inserts students and returns how many were written.
func (ds *DataService) ImportStudents(ctx context.Context, students []models.Student) (int, error) {
	if err := ds.db.CreateStudents(ctx, students); err != nil {
		return 0, fmt.Errorf("%w: importing students: %v", ErrDataAccess, err)
	}
	getDataLog().Info().Int("count", len(students)).Msg("Students imported")
	return len(students), nil
}

// SaveExport stores export metadata.
func (ds *DataService) SaveExport(ctx context.Context, record *models.ExportRecord) error {
	if err := ds.db.SaveExportRecord(ctx, record); err != nil {
		return fmt.Errorf("%w: saving export record: %v", ErrDataAccess, err)
	}
	return nil
}

var (
	_ DataAccess     = (*DataService)(nil)
	_ ExportRecorder = (*DataService)(nil)
)
