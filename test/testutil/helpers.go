// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package testutil

import (
	"testing"

	"github.com/noldarim/edumesh/internal/config"
	"github.com/noldarim/edumesh/internal/orchestrator/database"
	"github.com/noldarim/edumesh/internal/orchestrator/services"
)

// Services bundles the collaborators the concrete agents run against.
type Services struct {
	DB       *database.GormDB
	Data     *services.DataService
	Exporter *services.ExportService
	Config   *config.AppConfig
}

// NewServices builds data and export services over a fresh in-memory
// database with temporary export and import directories.
func NewServices(t *testing.T) *Services {
	t.Helper()
	db := database.UseFreshInMemoryDatabase(t).DB
	data := services.NewDataServiceWithDB(db)

	cfg := config.Default()
	cfg.Export.Dir = t.TempDir()
	cfg.Integration.ImportDir = t.TempDir()

	return &Services{
		DB:       db,
		Data:     data,
		Exporter: services.NewExportService(cfg.Export, data),
		Config:   cfg,
	}
}
