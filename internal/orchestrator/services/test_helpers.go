// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package services

import (
	"testing"

	"github.com/noldarim/edumesh/internal/config"
	"github.com/noldarim/edumesh/internal/orchestrator/database"
)

// DataServiceFixture represents a data service setup with cleanup
type DataServiceFixture struct {
	Service *DataService
	DB      *database.GormDB
}

// WithDataService creates a data service over a fresh in-memory database.
func WithDataService(t *testing.T) *DataServiceFixture {
	db := database.UseFreshInMemoryDatabase(t).DB
	return &DataServiceFixture{
		Service: NewDataServiceWithDB(db),
		DB:      db,
	}
}

// WithExportService creates an export service writing into a temp directory.
func WithExportService(t *testing.T, recorder ExportRecorder) *ExportService {
	return NewExportService(config.ExportConfig{
		Dir:     t.TempDir(),
		MaxRows: 100,
	}, recorder)
}
