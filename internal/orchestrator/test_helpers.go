// Copyright (C) 2025-2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/noldarim/edumesh/internal/agent"
	"github.com/noldarim/edumesh/internal/config"
	"github.com/noldarim/edumesh/internal/orchestrator/agents"
	"github.com/noldarim/edumesh/internal/protocol"

	"github.com/stretchr/testify/require"
)

// StubAgent is a behaviour with configurable handlers, used to drive
// workflows without the concrete agents and their collaborators.
type StubAgent struct {
	*agent.Dispatcher
	ID string
}

// NewStubAgent creates a stub with no handlers.
func NewStubAgent(id string) *StubAgent {
	return &StubAgent{Dispatcher: agent.NewDispatcher(id), ID: id}
}

// On registers a handler and returns the stub for chaining.
func (s *StubAgent) On(messageType string, fn agent.HandlerFunc) *StubAgent {
	s.Dispatcher.On(messageType, fn)
	return s
}

// EchoHandler answers with the agent id, the message type and the received
// content.
func EchoHandler(agentID string) agent.HandlerFunc {
	return func(_ context.Context, msg agent.Message) (map[string]any, error) {
		return map[string]any{
			"agent":        agentID,
			"message_type": msg.MessageType,
			"received":     msg.Content.ToMap(),
		}, nil
	}
}

// StubAgents returns echoing stubs for the three stage agents, answering the
// messages the default workflows send.
func StubAgents() map[string]*StubAgent {
	return map[string]*StubAgent{
		agents.DataAnalysisID: NewStubAgent(agents.DataAnalysisID).
			On(agents.MsgComprehensiveAnalysis, EchoHandler(agents.DataAnalysisID)),
		agents.ReportGenerationID: NewStubAgent(agents.ReportGenerationID).
			On(agents.MsgGenerateOverallReport, EchoHandler(agents.ReportGenerationID)).
			On(agents.MsgGenerateClassReport, EchoHandler(agents.ReportGenerationID)),
		agents.InterfaceManagementID: NewStubAgent(agents.InterfaceManagementID).
			On(agents.MsgExportData, EchoHandler(agents.InterfaceManagementID)).
			On("ping", EchoHandler(agents.InterfaceManagementID)),
	}
}

// StubBuilder builds a fresh runtime per stub on every call, in the
// registration order of the concrete agents. Stubs missing from the map are
// skipped.
func StubBuilder(stubs map[string]*StubAgent) AgentBuilder {
	return func() ([]*agent.Runtime, error) {
		var out []*agent.Runtime
		for _, id := range []string{agents.DataAnalysisID, agents.ReportGenerationID, agents.InterfaceManagementID} {
			s, ok := stubs[id]
			if !ok {
				continue
			}
			out = append(out, agent.New(agent.Identity{ID: id, Name: "Stub " + id}, s, agent.Config{
				PollInterval: 10 * time.Millisecond,
			}))
		}
		return out, nil
	}
}

// TestConfig returns orchestrator settings suited to tests.
func TestConfig() config.OrchestratorConfig {
	return config.OrchestratorConfig{
		StageTimeout:    2 * time.Second,
		HistorySize:     100,
		DefaultWorkflow: WorkflowCompleteAnalysis,
	}
}

// WithOrchestrator creates and initializes an orchestrator, shutting it down
// when the test ends. events may be nil.
func WithOrchestrator(t *testing.T, cfg config.OrchestratorConfig, build AgentBuilder, events chan<- protocol.Event) *Orchestrator {
	t.Helper()
	o := New(cfg, build, events)
	require.NoError(t, o.Initialize(context.Background()), "Failed to initialize orchestrator")

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.Shutdown(ctx)
	})
	return o
}
