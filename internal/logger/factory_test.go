// Copyright (C) 2025-2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticLoggerGetters_Uninitialized(t *testing.T) {
	if globalManager != nil {
		t.Skip("global manager already initialized by another test")
	}

	// Discard loggers must be usable without panicking
	for _, get := range []func() zerolog.Logger{
		GetOrchestratorLogger, GetAgentLogger, GetDatabaseLogger,
		GetAPILogger, GetLLMLogger, GetExportLogger,
	} {
		l := get()
		l.Info().Msg("discarded")
	}
}

func TestStaticLoggerGetters_PackageNames(t *testing.T) {
	m, err := NewManager(jsonConsoleConfig("debug", map[string]string{"llm": "warn"}))
	require.NoError(t, err)
	defer m.Close()

	previous := globalManager
	globalManager = m
	defer func() { globalManager = previous }()

	tests := []struct {
		getter func() zerolog.Logger
		pkg    string
	}{
		{GetOrchestratorLogger, "orchestrator"},
		{GetAgentLogger, "agent"},
		{GetDatabaseLogger, "database"},
		{GetAPILogger, "api"},
		{GetLLMLogger, "llm"},
		{GetExportLogger, "export"},
	}

	for _, tt := range tests {
		t.Run(tt.pkg, func(t *testing.T) {
			var buf bytes.Buffer
			l := tt.getter().Output(&buf)
			l.Error().Msg("probe")

			var entry map[string]interface{}
			require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
			assert.Equal(t, tt.pkg, entry["pkg"])
		})
	}

	assert.Equal(t, zerolog.WarnLevel, GetLLMLogger().GetLevel())
}

func TestForAgent(t *testing.T) {
	m, err := NewManager(jsonConsoleConfig("debug", nil))
	require.NoError(t, err)
	defer m.Close()

	previous := globalManager
	globalManager = m
	defer func() { globalManager = previous }()

	var buf bytes.Buffer
	l := ForAgent("data_analysis").Output(&buf)
	l.Info().Msg("started")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "data_analysis", entry["agent_id"])
	assert.Equal(t, "agent", entry["pkg"])
}
