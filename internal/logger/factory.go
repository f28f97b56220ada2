// Copyright (C) 2025-2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package logger

import (
	"github.com/rs/zerolog"
)

// Static logger getters that map directly to config.yaml log.levels
// These ensure consistent logger names across the codebase

// GetOrchestratorLogger returns a logger for the agent manager
func GetOrchestratorLogger() zerolog.Logger {
	return GetLogger("orchestrator")
}

// GetAgentLogger returns a logger for agent runtimes and behaviours
func GetAgentLogger() zerolog.Logger {
	return GetLogger("agent")
}

// GetDatabaseLogger returns a logger for database operations
func GetDatabaseLogger() zerolog.Logger {
	return GetLogger("database")
}

// GetAPILogger returns a logger for API operations
func GetAPILogger() zerolog.Logger {
	return GetLogger("api")
}

// GetLLMLogger returns a logger for text-generation calls
func GetLLMLogger() zerolog.Logger {
	return GetLogger("llm")
}

// GetExportLogger returns a logger for export and format conversion
func GetExportLogger() zerolog.Logger {
	return GetLogger("export")
}

// ForAgent returns the agent logger tagged with an agent id.
func ForAgent(agentID string) zerolog.Logger {
	return GetAgentLogger().With().Str("agent_id", agentID).Logger()
}
