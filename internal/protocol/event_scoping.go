// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

// GetWorkflow / GetAgentID methods allow the API server's WebSocket filter
// to match events without maintaining an exhaustive type switch.

func (e WorkflowStartedEvent) GetWorkflow() string   { return e.Workflow }
func (e StageStartedEvent) GetWorkflow() string      { return e.Workflow }
func (e StageStartedEvent) GetAgentID() string       { return e.AgentID }
func (e StageCompletedEvent) GetWorkflow() string    { return e.Workflow }
func (e StageCompletedEvent) GetAgentID() string     { return e.AgentID }
func (e StageFailedEvent) GetWorkflow() string       { return e.Workflow }
func (e StageFailedEvent) GetAgentID() string        { return e.AgentID }
func (e WorkflowCompletedEvent) GetWorkflow() string { return e.Workflow }
func (e WorkflowFailedEvent) GetWorkflow() string    { return e.Workflow }
func (e AgentResponseEvent) GetAgentID() string      { return e.AgentID }
