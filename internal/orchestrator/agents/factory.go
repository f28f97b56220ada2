// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package agents

import (
	"errors"
	"net/http"

	"github.com/noldarim/edumesh/internal/agent"
	"github.com/noldarim/edumesh/internal/config"
	"github.com/noldarim/edumesh/internal/orchestrator/services"
)

// Deps are the collaborators the concrete agents need. Generator and
// HTTPClient may be nil.
type Deps struct {
	Data       services.DataAccess
	Generator  services.Generator
	Exporter   services.Exporter
	HTTPClient *http.Client
	// OnResponse observes every agent response (see agent.Config).
	OnResponse func(agent.Response)
}

// Agent is a behaviour that can describe itself.
type Agent interface {
	agent.Behavior
	Identity() agent.Identity
}

// NewBuilder returns a function building the three runtimes in registration
// order: data_analysis, report_generation, interface_management.
func NewBuilder(deps Deps, cfg *config.AppConfig) func() ([]*agent.Runtime, error) {
	return func() ([]*agent.Runtime, error) {
		if deps.Data == nil {
			return nil, errors.New("agents: data access is required")
		}
		if deps.Exporter == nil {
			return nil, errors.New("agents: exporter is required")
		}

		behaviors := []Agent{
			NewDataAnalysisAgent(deps.Data, deps.Generator),
			NewReportGenerationAgent(deps.Generator, cfg.Report.DefaultFormat),
			NewInterfaceManagementAgent(deps.Data, deps.Exporter, deps.HTTPClient, cfg.Integration),
		}

		rtCfg := agent.Config{
			InboxCapacity: cfg.Agents.InboxCapacity,
			PollInterval:  cfg.Agents.PollInterval,
			OnResponse:    deps.OnResponse,
		}
		runtimes := make([]*agent.Runtime, 0, len(behaviors))
		for _, b := range behaviors {
			runtimes = append(runtimes, agent.New(b.Identity(), b, rtCfg))
		}
		return runtimes, nil
	}
}
