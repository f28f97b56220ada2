// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"github.com/noldarim/edumesh/internal/config"
	"github.com/noldarim/edumesh/internal/orchestrator/agents"
	"github.com/noldarim/edumesh/internal/orchestrator/services"
	"github.com/noldarim/edumesh/internal/protocol"
)

// NewFromConfig wires the concrete agents over data and returns an
// uninitialized orchestrator. The generator is only attached when the LLM
// backend is enabled; agent responses are published on eventChan when it
// is not nil.
func NewFromConfig(cfg *config.AppConfig, data *services.DataService, eventChan chan<- protocol.Event) *Orchestrator {
	deps := agents.Deps{
		Data:     data,
		Exporter: services.NewExportService(cfg.Export, data),
	}
	if cfg.LLM.Enabled {
		deps.Generator = services.NewGenerationService(cfg.LLM)
	}
	if eventChan != nil {
		deps.OnResponse = ResponseObserver(eventChan)
	}
	return New(cfg.Orchestrator, AgentBuilder(agents.NewBuilder(deps, cfg)), eventChan)
}
