// Copyright (C) 2025-2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package services

import (
	"context"
	"errors"

	"github.com/noldarim/edumesh/internal/orchestrator/database"
	"github.com/noldarim/edumesh/internal/orchestrator/models"
)

var (
	// ErrDataAccess wraps failures reading or writing the store.
	ErrDataAccess = errors.New("data access failed")
	// ErrGeneration wraps failures of the text-generation backend.
	ErrGeneration = errors.New("text generation failed")
	// ErrExport wraps failures converting or persisting exports.
	ErrExport = errors.New("export failed")
)

// DataAccess is the read/write surface the agents use. Owned by the services
// package so agents and tests depend on the interface rather than the store.
type DataAccess interface {
	Students(ctx context.Context, ids []uint) ([]models.Student, error)
	Cases(ctx context.Context, ids []uint) ([]models.Case, error)
	Scores(ctx context.Context, q database.RecordQuery) ([]models.Score, error)
	OperationLogs(ctx context.Context, q database.RecordQuery) ([]models.OperationLog, error)
	ChoiceAnswers(ctx context.Context, q database.RecordQuery) ([]models.QuestionAnswer, error)
	SaveAnalysis(ctx context.Context, record *models.AnalysisRecord) error
	ImportStudents(ctx context.Context, students []models.Student) (int, error)
}

// Generator produces free text from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt, systemPrompt string) (string, error)
}

// Exporter converts records between formats and writes export files.
type Exporter interface {
	SupportedFormats() []string
	Convert(records []map[string]any, format string) ([]byte, error)
	Parse(data []byte, format string) ([]map[string]any, error)
	Export(ctx context.Context, req ExportRequest) (*ExportResult, error)
}

// ExportRecorder persists export metadata.
type ExportRecorder interface {
	SaveExport(ctx context.Context, record *models.ExportRecord) error
}
